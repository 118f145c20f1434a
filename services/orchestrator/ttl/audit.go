// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ttl runs background expiry maintenance for the in-process
// cache driver and keeps a tamper-evident record of every sweep.
package ttl

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// GenesisHash anchors the first record in the chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// SweepRecord is one audit entry. Records form a hash chain: each
// entry's PrevHash is the previous entry's EntryHash, so any
// after-the-fact edit breaks verification from that point on.
type SweepRecord struct {
	// Sequence is 1-based and strictly increasing.
	Sequence int64 `json:"sequence"`

	// Timestamp is when the sweep finished, Unix milliseconds.
	Timestamp int64 `json:"timestamp"`

	// Swept is how many expired entries this cycle removed.
	Swept int `json:"swept"`

	// Remaining is the store's entry count after the sweep.
	Remaining int `json:"remaining"`

	// PrevHash chains to the previous record's EntryHash.
	PrevHash string `json:"prev_hash"`

	// EntryHash covers every other field of this record.
	EntryHash string `json:"entry_hash"`
}

// AuditLog is an append-only JSONL file of hash-chained sweep records.
//
// # Thread Safety
//
// Safe for concurrent use; appends are serialized.
type AuditLog struct {
	mu       sync.Mutex
	path     string
	sequence int64
	prevHash string
}

// NewAuditLog opens (or creates) the audit log at path. An existing
// log is replayed so the chain continues from its last record rather
// than restarting at genesis.
func NewAuditLog(path string) (*AuditLog, error) {
	log := &AuditLog{path: path, prevHash: GenesisHash}

	records, err := readRecords(path)
	if err != nil {
		return nil, err
	}
	if n := len(records); n > 0 {
		log.sequence = records[n-1].Sequence
		log.prevHash = records[n-1].EntryHash
	}
	return log, nil
}

// Append writes one sweep result to the chain and returns the record.
func (l *AuditLog) Append(swept, remaining int) (SweepRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record := SweepRecord{
		Sequence:  l.sequence + 1,
		Timestamp: time.Now().UnixMilli(),
		Swept:     swept,
		Remaining: remaining,
		PrevHash:  l.prevHash,
	}
	record.EntryHash = computeRecordHash(record)

	line, err := json.Marshal(record)
	if err != nil {
		return SweepRecord{}, fmt.Errorf("marshal sweep record: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return SweepRecord{}, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return SweepRecord{}, fmt.Errorf("append audit log: %w", err)
	}

	l.sequence = record.Sequence
	l.prevHash = record.EntryHash
	return record, nil
}

// Verify replays the whole log and checks every link. Returns the
// number of valid records; a non-nil error names the first broken
// record.
func (l *AuditLog) Verify() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := readRecords(l.path)
	if err != nil {
		return 0, err
	}

	prevHash := GenesisHash
	for i, record := range records {
		if record.PrevHash != prevHash {
			return i, fmt.Errorf("record %d: chain broken, prev_hash mismatch", record.Sequence)
		}
		if computeRecordHash(record) != record.EntryHash {
			return i, fmt.Errorf("record %d: entry hash does not verify", record.Sequence)
		}
		prevHash = record.EntryHash
	}
	return len(records), nil
}

func readRecords(path string) ([]SweepRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var records []SweepRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record SweepRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, fmt.Errorf("corrupt audit log line %d: %w", len(records)+1, err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return records, nil
}

// computeRecordHash covers every field except EntryHash itself.
func computeRecordHash(record SweepRecord) string {
	input := fmt.Sprintf("%d|%d|%d|%d|%s",
		record.Sequence, record.Timestamp, record.Swept, record.Remaining, record.PrevHash)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
