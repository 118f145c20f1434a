// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ttl

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuditLog(t *testing.T) (*AuditLog, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sweeps.jsonl")
	log, err := NewAuditLog(path)
	require.NoError(t, err)
	return log, path
}

func TestAuditLog_AppendChainsRecords(t *testing.T) {
	log, _ := newTestAuditLog(t)

	first, err := log.Append(3, 10)
	require.NoError(t, err)
	second, err := log.Append(0, 10)
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.Sequence)
	assert.Equal(t, GenesisHash, first.PrevHash)
	assert.Equal(t, int64(2), second.Sequence)
	assert.Equal(t, first.EntryHash, second.PrevHash)
	assert.Equal(t, computeRecordHash(second), second.EntryHash)
}

func TestAuditLog_VerifyCleanChain(t *testing.T) {
	log, _ := newTestAuditLog(t)

	for i := 0; i < 5; i++ {
		_, err := log.Append(i, 100-i)
		require.NoError(t, err)
	}

	count, err := log.Verify()
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestAuditLog_VerifyDetectsTampering(t *testing.T) {
	log, path := newTestAuditLog(t)

	_, err := log.Append(7, 50)
	require.NoError(t, err)
	_, err = log.Append(2, 48)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(raw), `"swept":7`, `"swept":9`, 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o600))

	valid, err := log.Verify()
	require.Error(t, err)
	assert.Equal(t, 0, valid, "tampering the first record invalidates the chain from the start")
}

func TestAuditLog_ResumesExistingChain(t *testing.T) {
	log, path := newTestAuditLog(t)

	first, err := log.Append(1, 9)
	require.NoError(t, err)

	reopened, err := NewAuditLog(path)
	require.NoError(t, err)
	second, err := reopened.Append(4, 5)
	require.NoError(t, err)

	assert.Equal(t, int64(2), second.Sequence)
	assert.Equal(t, first.EntryHash, second.PrevHash, "reopened log continues the chain")

	count, err := reopened.Verify()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestAuditLog_EmptyFileVerifies(t *testing.T) {
	log, _ := newTestAuditLog(t)
	count, err := log.Verify()
	require.NoError(t, err)
	assert.Zero(t, count)
}
