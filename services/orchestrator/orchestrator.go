// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrator assembles and runs the Sehat query service.
//
// The package wires every component of the ask pipeline: the Weaviate
// store, the LLM backend, the embedding client, the safety scanner,
// conversation routing and rewriting, dual-lane retrieval, the cache
// layer, and the HTTP surface. Hosted deployments inject custom auth,
// audit, and filtering implementations through
// extensions.ServiceOptions; the open-source build runs on no-op
// defaults.
//
// # Usage
//
//	cfg := orchestrator.ConfigFromEnv()
//	svc, err := orchestrator.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/SehatAI/SehatOSS/pkg/extensions"
	"github.com/SehatAI/SehatOSS/services/llm"
	"github.com/SehatAI/SehatOSS/services/orchestrator/cache"
	"github.com/SehatAI/SehatOSS/services/orchestrator/conversation"
	"github.com/SehatAI/SehatOSS/services/orchestrator/datatypes"
	"github.com/SehatAI/SehatOSS/services/orchestrator/handlers"
	"github.com/SehatAI/SehatOSS/services/orchestrator/knowledge"
	"github.com/SehatAI/SehatOSS/services/orchestrator/middleware"
	"github.com/SehatAI/SehatOSS/services/orchestrator/observability"
	"github.com/SehatAI/SehatOSS/services/orchestrator/retrieval"
	"github.com/SehatAI/SehatOSS/services/orchestrator/routes"
	"github.com/SehatAI/SehatOSS/services/orchestrator/safety"
	"github.com/SehatAI/SehatOSS/services/orchestrator/ttl"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the orchestrator lifecycle contract.
//
// # Thread Safety
//
// Implementations are safe for concurrent use. Run blocks and is
// called at most once per instance; Shutdown may be called from any
// goroutine.
type Service interface {
	// Run starts the HTTP server and blocks until Shutdown is called
	// or the listener fails.
	Run() error

	// Shutdown stops accepting new requests and drains in-flight ones
	// until ctx expires.
	Shutdown(ctx context.Context) error

	// Router returns the underlying gin engine for integration tests.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds orchestrator configuration. Zero values take defaults
// in New; ConfigFromEnv populates it from SEHAT_* variables.
type Config struct {
	// Port is the HTTP server port. Default: 12210.
	Port int

	// WeaviateURL is the Weaviate store URL.
	// Default: "http://localhost:8080".
	WeaviateURL string

	// EmbedURL is the embedding service URL. Empty defers to
	// SEHAT_EMBED_URL inside the embedder client.
	EmbedURL string

	// OTelEndpoint is the OTLP gRPC collector endpoint. Empty disables
	// trace export (or uses stdout when OTelDebug is set).
	OTelEndpoint string

	// OTelDebug dumps spans to stdout when no collector is configured.
	OTelDebug bool

	// GinMode sets the gin framework mode ("debug", "release", "test").
	// Empty defers to the GIN_MODE environment variable.
	GinMode string

	// LaneTimeout bounds each retrieval lane. Default:
	// retrieval.DefaultLaneTimeout.
	LaneTimeout time.Duration

	// SweepInterval is the cache-maintenance cadence for the memory
	// driver. Default: ttl.DefaultSweeperConfig().Interval.
	SweepInterval time.Duration

	// SweepAuditPath is where the sweeper's hash-chained audit log is
	// written. Empty disables the audit file (sweeps still log via
	// slog).
	SweepAuditPath string
}

// ConfigFromEnv builds a Config from SEHAT_* environment variables.
func ConfigFromEnv() Config {
	return Config{
		Port:           getEnvInt("SEHAT_PORT", 12210),
		WeaviateURL:    getEnvString("SEHAT_WEAVIATE_URL", "http://localhost:8080"),
		EmbedURL:       getEnvString("SEHAT_EMBED_URL", ""),
		OTelEndpoint:   getEnvString("SEHAT_OTEL_ENDPOINT", ""),
		OTelDebug:      getEnvBool("SEHAT_OTEL_DEBUG", false),
		GinMode:        getEnvString("GIN_MODE", ""),
		LaneTimeout:    getEnvDuration("SEHAT_LANE_TIMEOUT_SECONDS", 0),
		SweepInterval:  getEnvDuration("SEHAT_SWEEP_INTERVAL_SECONDS", 0),
		SweepAuditPath: getEnvString("SEHAT_SWEEP_AUDIT_LOG", "./logs/cache_sweeps.jsonl"),
	}
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12210
	}
	if cfg.WeaviateURL == "" {
		cfg.WeaviateURL = "http://localhost:8080"
	}
	if cfg.LaneTimeout <= 0 {
		cfg.LaneTimeout = retrieval.DefaultLaneTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = ttl.DefaultSweeperConfig().Interval
	}
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

// service is the production Service implementation.
//
// All fields are set during New and read-only afterwards, except
// httpServer which Run installs before listening.
type service struct {
	config         Config
	opts           extensions.ServiceOptions
	router         *gin.Engine
	httpServer     *http.Server
	llmClient      llm.LLMClient
	weaviateClient *weaviate.Client
	cacheLayer     *cache.Cache
	timeseries     *observability.TimeseriesRecorder
	sweeper        *ttl.Sweeper
	sweepAudit     *ttl.AuditLog
	tracerCleanup  func(context.Context)
}

var _ Service = (*service)(nil)

// =============================================================================
// Constructor
// =============================================================================

// New creates a ready-to-run orchestrator.
//
// # Description
//
// Initialization order matters: tracing and metrics first so every
// later component can record; then the stores (Weaviate, cache); then
// the pipeline stages (LLM, embedder, scanner, router, rewriter,
// history, retrieval engine); finally the HTTP surface. A nil opts
// uses extensions.DefaultOptions (no-op auth, audit, and filtering).
//
// # Outputs
//
//   - Service: fully wired service, not yet listening.
//   - error: non-nil when a required component fails to initialize.
//
// # Limitations
//
//   - Weaviate client construction does not dial; an unreachable
//     store surfaces later through /readyz and degraded retrieval.
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	if opts != nil {
		s.opts = *opts
	} else {
		s.opts = extensions.DefaultOptions()
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	observability.InitMetrics()
	s.timeseries = observability.NewTimeseriesRecorder()

	if err := s.initWeaviate(); err != nil {
		s.cleanup()
		return nil, err
	}

	ctx := context.Background()
	s.cacheLayer = cache.NewFromEnv(ctx)
	s.initSweeper(ctx)

	s.llmClient, err = llm.NewFromEnv()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	askHandler, err := s.buildAskHandler()
	if err != nil {
		s.cleanup()
		return nil, err
	}

	s.initRouter(askHandler)

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until Shutdown or a listener
// error. Resources are released when Run returns.
func (s *service) Run() error {
	defer s.cleanup()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting orchestrator server", "port", s.config.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires. Safe to call
// before Run; it is then a no-op.
func (s *service) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router returns the configured gin engine for integration tests.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization
// =============================================================================

// initTracer installs the OpenTelemetry trace provider.
//
// Three modes: OTLP gRPC export when an endpoint is configured,
// stdout spans for local debugging, or no exporter at all. Package
// tracers still work in the last mode; spans are simply dropped.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	var exporter sdktrace.SpanExporter
	switch {
	case s.config.OTelEndpoint != "":
		conn, err := grpc.NewClient(s.config.OTelEndpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		slog.Info("Trace export enabled", "endpoint", s.config.OTelEndpoint)

	case s.config.OTelDebug:
		var err error
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}
		slog.Info("Trace export to stdout (debug)")

	default:
		slog.Info("Trace export disabled; no OTel endpoint configured")
		return func(context.Context) {}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("orchestrator-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(exporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := exporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown trace exporter", "error", err)
		}
	}, nil
}

// initWeaviate creates the Weaviate client and ensures the schema.
//
// The store is a hard dependency: the pipeline persists every turn
// and retrieval's vector lane reads from it. Client construction does
// not dial, so a down server passes here and shows up in /readyz.
func (s *service) initWeaviate() error {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid Weaviate URL: %q", weaviateURL)
	}

	s.weaviateClient, err = weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	if err := datatypes.EnsureWeaviateSchema(s.weaviateClient); err != nil {
		slog.Warn("Weaviate schema check failed; continuing", "error", err)
	}
	knowledge.CheckServerVersion(context.Background(), s.weaviateClient)

	slog.Info("Weaviate client initialized", "url", weaviateURL)
	return nil
}

// initSweeper starts background expiry maintenance when the cache
// runs on the memory driver. Redis and badger expire natively.
func (s *service) initSweeper(ctx context.Context) {
	store, ok := s.cacheLayer.Underlying().(ttl.Sweepable)
	if !ok {
		slog.Info("Cache driver expires natively, sweeper not started",
			"driver", s.cacheLayer.Driver())
		return
	}

	if s.config.SweepAuditPath != "" {
		auditLog, err := ttl.NewAuditLog(s.config.SweepAuditPath)
		if err != nil {
			slog.Warn("Sweep audit log unavailable, sweeping without audit",
				"path", s.config.SweepAuditPath, "error", err)
		} else {
			s.sweepAudit = auditLog
		}
	}

	config := ttl.DefaultSweeperConfig()
	config.Interval = s.config.SweepInterval

	s.sweeper = ttl.NewSweeper(store, s.sweepAudit, config)
	if err := s.sweeper.Start(ctx); err != nil {
		slog.Warn("Cache sweeper failed to start", "error", err)
		s.sweeper = nil
	}
}

// buildAskHandler wires the full ask pipeline.
func (s *service) buildAskHandler() (handlers.AskHandler, error) {
	embedder := datatypes.NewHTTPEmbedder(s.config.EmbedURL)

	scanner, err := safety.NewScanner()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize safety scanner: %w", err)
	}

	queryRouter := conversation.NewRouter()
	rewriter := conversation.NewRewriter(conversation.DefaultRewriteConfig())
	history := conversation.NewWeaviateHistorySearcher(
		s.weaviateClient, embedder, conversation.DefaultSearchConfig())

	vector := knowledge.NewWeaviatePassageSearcher(s.weaviateClient, embedder)
	graph := knowledge.NewWeaviateGraphSearcher(s.weaviateClient, knowledge.NewFallbackDataset())
	engine := retrieval.NewEngine(vector, graph, s.config.LaneTimeout)

	return handlers.NewAskHandler(
		s.weaviateClient,
		s.llmClient,
		embedder,
		scanner,
		queryRouter,
		rewriter,
		history,
		engine,
		s.cacheLayer,
		s.timeseries,
		s.opts,
	), nil
}

// initRouter builds the gin engine and registers the route table.
func (s *service) initRouter(askHandler handlers.AskHandler) {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("orchestrator-service"))

	routes.SetupRoutes(s.router, routes.Deps{
		WeaviateClient: s.weaviateClient,
		LLMClient:      s.llmClient,
		AskHandler:     askHandler,
		Cache:          s.cacheLayer,
		Options:        s.opts,
		RateLimit:      middleware.RateLimitConfigFromEnv(),
	})
}

// cleanup releases resources on Run exit or failed construction.
// Secure accumulator purge runs last so no token buffer outlives the
// server.
func (s *service) cleanup() {
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	s.timeseries.Close()
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
	handlers.PurgeAllSecureMemory()
}

// =============================================================================
// Environment Helpers
// =============================================================================

func getEnvString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("Invalid integer environment value, using default",
			"key", key, "value", raw, "default", fallback)
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		slog.Warn("Invalid boolean environment value, using default",
			"key", key, "value", raw, "default", fallback)
		return fallback
	}
	return v
}

// getEnvDuration reads a whole-seconds value. Zero or invalid input
// returns fallback; callers treat zero as "use the package default".
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	seconds := getEnvInt(key, 0)
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}
