// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mcts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents an action type in the audit log.
type AuditAction string

const (
	AuditActionSelect   AuditAction = "select"
	AuditActionExpand   AuditAction = "expand"
	AuditActionEvaluate AuditAction = "evaluate"
	AuditActionBackprop AuditAction = "backprop"
	AuditActionAmplify  AuditAction = "amplify"
	AuditActionReset    AuditAction = "reset"
)

// String returns the string representation.
func (a AuditAction) String() string {
	return string(a)
}

// AuditEntry records one search step.
//
// Each entry is immutable once recorded. The chain hash covers the entry
// and every entry before it.
type AuditEntry struct {
	// ID is a unique entry id.
	ID string `json:"id"`

	// Timestamp when this entry was created (Unix milliseconds UTC).
	Timestamp int64 `json:"timestamp"`

	// Action is the type of operation performed.
	Action AuditAction `json:"action"`

	// Node identifies the affected node.
	Node NodeID `json:"node"`

	// Depth is the improvement depth the step belongs to.
	Depth int `json:"depth"`

	// Score is the reward or factor associated with this step.
	Score float64 `json:"score,omitempty"`

	// Details contains additional action-specific information.
	Details string `json:"details,omitempty"`

	// ChainHash is the running hash at this entry (set by Record).
	ChainHash string `json:"chain_hash,omitempty"`
}

// NewAuditEntry creates a new audit entry with id and timestamp set.
func NewAuditEntry(action AuditAction, node NodeID, depth int) AuditEntry {
	return AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		Action:    action,
		Node:      node,
		Depth:     depth,
	}
}

// WithScore sets the score.
func (e AuditEntry) WithScore(score float64) AuditEntry {
	e.Score = score
	return e
}

// WithDetails sets the details.
func (e AuditEntry) WithDetails(details string) AuditEntry {
	e.Details = details
	return e
}

const genesisHash = "genesis"

// AuditLog is an append-only, hash-chained record of search steps.
//
// Thread Safety: Safe for concurrent use.
type AuditLog struct {
	mu         sync.RWMutex
	entries    []AuditEntry
	hash       string
	maxEntries int
	dropped    int
}

// NewAuditLog creates an audit log.
//
// Inputs:
//   - maxEntries: Retention cap. 0 keeps everything. Entries past the cap
//     are counted as dropped.
func NewAuditLog(maxEntries int) *AuditLog {
	return &AuditLog{
		entries:    make([]AuditEntry, 0),
		hash:       genesisHash,
		maxEntries: maxEntries,
	}
}

func chain(prev string, entry AuditEntry) string {
	entry.ChainHash = ""
	h := sha256.New()
	h.Write([]byte(prev))
	data, _ := json.Marshal(entry)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Record appends an entry and advances the chain hash.
func (l *AuditLog) Record(entry AuditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().UnixMilli()
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if l.maxEntries > 0 && len(l.entries) >= l.maxEntries {
		l.dropped++
		return
	}
	l.hash = chain(l.hash, entry)
	entry.ChainHash = l.hash
	l.entries = append(l.entries, entry)
}

// Verify recomputes the chain from genesis.
//
// Outputs:
//   - bool: False if any stored entry was altered.
func (l *AuditLog) Verify() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	hash := genesisHash
	for _, entry := range l.entries {
		hash = chain(hash, entry)
		if entry.ChainHash != hash {
			return false
		}
	}
	return hash == l.hash
}

// Entries returns a copy of all stored entries.
func (l *AuditLog) Entries() []AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	result := make([]AuditEntry, len(l.entries))
	copy(result, l.entries)
	return result
}

// Len returns the number of stored entries.
func (l *AuditLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// EntriesByNode returns entries for one node.
func (l *AuditLog) EntriesByNode(node NodeID) []AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	result := make([]AuditEntry, 0)
	for _, entry := range l.entries {
		if entry.Node == node {
			result = append(result, entry)
		}
	}
	return result
}

// AuditSummary contains summary statistics for the audit log.
type AuditSummary struct {
	TotalEntries int                 `json:"total_entries"`
	Dropped      int                 `json:"dropped"`
	ActionCounts map[AuditAction]int `json:"action_counts"`
	Hash         string              `json:"hash"`
}

// Summary returns a summary of the audit log.
func (l *AuditLog) Summary() AuditSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := AuditSummary{
		TotalEntries: len(l.entries),
		Dropped:      l.dropped,
		ActionCounts: make(map[AuditAction]int),
		Hash:         l.hash,
	}
	for _, entry := range l.entries {
		s.ActionCounts[entry.Action]++
	}
	return s
}
