// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// =============================================================================
// Hash Chain Verification
// =============================================================================

// ChainVerifier validates the integrity chain of one stream.
//
// # Description
//
// Every event the service emits carries a Hash over its content and a
// PrevHash linking to the previous event. Feeding events to Verify in
// arrival order detects tampering, reordering, and dropped events. A
// fresh verifier accepts any PrevHash on its first event, then locks
// onto the chain.
//
// # Thread Safety
//
// Not safe for concurrent use; one verifier per stream.
type ChainVerifier struct {
	prevHash string
	count    int
}

// Verified returns how many events passed verification.
func (v *ChainVerifier) Verified() int {
	return v.count
}

// Verify checks one event against the chain and advances it.
func (v *ChainVerifier) Verify(event Event) error {
	if event.Hash == "" {
		return fmt.Errorf("event %s: missing integrity hash", event.ID)
	}

	if v.count > 0 && event.PrevHash != v.prevHash {
		return fmt.Errorf("event %s: chain broken, prev_hash does not match previous event", event.ID)
	}

	if computed := ComputeEventHash(event); computed != event.Hash {
		return fmt.Errorf("event %s: content hash mismatch", event.ID)
	}

	v.prevHash = event.Hash
	v.count++
	return nil
}

// ComputeEventHash recomputes the server's content hash for an event.
// The field order and marshaling must stay in lockstep with the
// service's SSE writer or every stream verifies as tampered.
func ComputeEventHash(event Event) string {
	citationsJSON := marshalOrEmpty(event.Citations, len(event.Citations) > 0)
	factsJSON := marshalOrEmpty(event.Facts, len(event.Facts) > 0)
	safetyJSON := marshalOrEmpty(event.Safety, event.Safety != nil)
	metadataJSON := marshalOrEmpty(event.Metadata, event.Metadata != nil)

	hashInput := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s|%s|%s|%s|%s",
		event.ID,
		event.Type,
		event.CreatedAt,
		event.PrevHash,
		event.Content,
		event.Message,
		event.Error,
		event.Answer,
		citationsJSON,
		factsJSON,
		safetyJSON,
		metadataJSON,
	)

	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

func marshalOrEmpty(v any, present bool) string {
	if !present {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
