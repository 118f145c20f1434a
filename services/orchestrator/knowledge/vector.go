// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/SehatAI/SehatOSS/services/orchestrator/datatypes"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"golang.org/x/mod/semver"
)

var tracer = otel.Tracer("sehat.orchestrator.knowledge")

// MinWeaviateVersion is the oldest server version the passage search
// is tested against. Older servers log a warning but still serve.
const MinWeaviateVersion = "v1.25.0"

// DefaultPassageTopK is the nearVector result cap.
const DefaultPassageTopK = 4

// VectorSearcher retrieves passages semantically similar to a query.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type VectorSearcher interface {
	// SearchPassages embeds the query and returns the top-k nearest
	// passages with certainty scores.
	SearchPassages(ctx context.Context, query string, topK int) ([]Passage, error)
}

// WeaviatePassageSearcher implements VectorSearcher against the
// HealthPassage class.
//
// # Description
//
// Embeds the (already rewritten) query through the external embedding
// service, then runs a nearVector search. Certainty is surfaced as
// the passage score.
//
// # Example
//
//	searcher := NewWeaviatePassageSearcher(client, embedder)
//	passages, err := searcher.SearchPassages(ctx, rewritten, DefaultPassageTopK)
type WeaviatePassageSearcher struct {
	client   *weaviate.Client
	embedder datatypes.Embedder
}

// Compile-time interface compliance check.
var _ VectorSearcher = (*WeaviatePassageSearcher)(nil)

// NewWeaviatePassageSearcher creates a passage searcher.
func NewWeaviatePassageSearcher(client *weaviate.Client, embedder datatypes.Embedder) *WeaviatePassageSearcher {
	if client == nil {
		panic("knowledge: weaviate client must not be nil")
	}
	if embedder == nil {
		panic("knowledge: embedder must not be nil")
	}
	return &WeaviatePassageSearcher{client: client, embedder: embedder}
}

// CheckServerVersion fetches the Weaviate server version and warns
// when it is below MinWeaviateVersion. Called once at startup; never
// aborts, since an old server usually still answers queries.
func CheckServerVersion(ctx context.Context, client *weaviate.Client) {
	meta, err := client.Misc().MetaGetter().Do(ctx)
	if err != nil {
		slog.Warn("Could not fetch Weaviate server meta", "error", err)
		return
	}

	version := meta.Version
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}
	if !semver.IsValid(version) {
		slog.Warn("Weaviate reported a non-semver version", "version", meta.Version)
		return
	}
	if semver.Compare(version, MinWeaviateVersion) < 0 {
		slog.Warn("Weaviate server version is below the tested minimum",
			"version", meta.Version, "minimum", MinWeaviateVersion)
		return
	}
	slog.Info("Weaviate server version verified", "version", meta.Version)
}

// SearchPassages embeds the query and returns the top-k nearest
// passages.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - query: The rewritten user query.
//   - topK: Result cap; non-positive values use DefaultPassageTopK.
//
// # Outputs
//
//   - []Passage: Hits ordered by certainty, highest first. Empty when
//     nothing matches.
//   - error: Non-nil on embedding or search failure.
func (s *WeaviatePassageSearcher) SearchPassages(ctx context.Context, query string, topK int) ([]Passage, error) {
	ctx, span := tracer.Start(ctx, "SearchPassages")
	defer span.End()

	if topK <= 0 {
		topK = DefaultPassageTopK
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	result, err := s.client.GraphQL().Get().
		WithClassName("HealthPassage").
		WithFields(
			graphql.Field{Name: "text"},
			graphql.Field{Name: "source"},
			graphql.Field{Name: "topic"},
			graphql.Field{Name: "_additional", Fields: []graphql.Field{
				{Name: "id"},
				{Name: "certainty"},
			}},
		).
		WithNearVector(nearVector).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("passage search failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.PassageQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse passage results: %w", err)
	}

	passages := make([]Passage, 0, len(parsed.Get.HealthPassage))
	for _, hit := range parsed.Get.HealthPassage {
		var score float64
		if hit.Additional.Certainty != nil {
			score = float64(*hit.Additional.Certainty)
		}
		passages = append(passages, Passage{
			ID:     hit.Additional.ID,
			Text:   hit.Text,
			Source: hit.Source,
			Topic:  hit.Topic,
			Score:  score,
		})
	}

	slog.Debug("Passage search complete", "hits", len(passages))
	return passages, nil
}
