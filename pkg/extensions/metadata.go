// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import "time"

// =============================================================================
// Metadata Type
// =============================================================================

// Metadata stores arbitrary key-value pairs for context and logging.
//
// Using a defined type rather than map[string]any provides clearer
// intent in function signatures, methods for type-safe access, and a
// compile-time distinction from arbitrary maps.
//
// # Common Keys
//
//   - "session_id": conversation session identifier
//   - "request_id": request correlation ID
//   - "user_id": user performing the action
//   - "turn_number": conversation turn count
//   - "language": reply language for the session
//   - "degraded": whether retrieval ran degraded
//   - "duration_ms": operation duration
//
// # Thread Safety
//
// Metadata is NOT thread-safe. Do not share a single Metadata instance
// across goroutines without external synchronization.
//
// Example:
//
//	meta := extensions.NewMetadata().
//	    Set("session_id", sessionID).
//	    Set("turn_number", 3)
//
//	if sessionID, ok := meta.GetString("session_id"); ok {
//	    log.Info("session", "id", sessionID)
//	}
type Metadata map[string]any

// NewMetadata creates an empty Metadata instance ready for use.
func NewMetadata() Metadata {
	return make(Metadata)
}

// Set stores a value and returns the Metadata for chaining.
//
// A nil receiver is tolerated: a fresh map is allocated and returned,
// so chained initialization from a nil field is safe.
func (m Metadata) Set(key string, value any) Metadata {
	if m == nil {
		m = make(Metadata)
	}
	m[key] = value
	return m
}

// Get retrieves a value by key.
//
// The second return reports whether the key was present.
func (m Metadata) Get(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

// GetString retrieves a string value by key.
//
// Returns ("", false) when the key is absent or holds a non-string.
func (m Metadata) GetString(key string) (string, bool) {
	v, ok := m.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetInt retrieves an int value by key.
//
// Accepts int, int64, and float64 storage (JSON round-trips numbers as
// float64). Returns (0, false) for other types.
func (m Metadata) GetInt(key string) (int, bool) {
	v, ok := m.Get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// GetInt64 retrieves an int64 value by key.
//
// Accepts int, int64, and float64 storage.
func (m Metadata) GetInt64(key string) (int64, bool) {
	v, ok := m.Get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// GetFloat64 retrieves a float64 value by key.
//
// Accepts float64, int, and int64 storage.
func (m Metadata) GetFloat64(key string) (float64, bool) {
	v, ok := m.Get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// GetBool retrieves a bool value by key.
func (m Metadata) GetBool(key string) (bool, bool) {
	v, ok := m.Get(key)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// GetTime retrieves a time.Time value by key.
//
// Accepts time.Time storage or an RFC3339 string.
func (m Metadata) GetTime(key string) (time.Time, bool) {
	v, ok := m.Get(key)
	if !ok {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}

// Has reports whether the key is present.
func (m Metadata) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Delete removes a key and returns the Metadata for chaining.
func (m Metadata) Delete(key string) Metadata {
	if m != nil {
		delete(m, key)
	}
	return m
}

// Clone returns a shallow copy of the Metadata.
//
// Values are copied by reference; mutating a stored slice or map is
// visible through both copies.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	clone := make(Metadata, len(m))
	for k, v := range m {
		clone[k] = v
	}
	return clone
}

// Merge copies all entries from other into m, overwriting existing keys,
// and returns m for chaining.
func (m Metadata) Merge(other Metadata) Metadata {
	if m == nil {
		m = make(Metadata, len(other))
	}
	for k, v := range other {
		m[k] = v
	}
	return m
}

// Keys returns the keys in unspecified order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of entries.
func (m Metadata) Len() int {
	return len(m)
}
