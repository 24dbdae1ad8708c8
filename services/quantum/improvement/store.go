// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package improvement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	qbadger "github.com/AleutianAI/qmcts/services/quantum/storage/badger"
)

// ResultStore persists finished runs.
type ResultStore interface {
	// Save stores result under its RunID. Saving the same id twice
	// overwrites.
	Save(ctx context.Context, result *ImprovementResult) error

	// Get returns one run or ErrRunNotFound.
	Get(ctx context.Context, runID string) (*ImprovementResult, error)

	// List returns up to limit runs, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]*ImprovementResult, error)
}

const (
	runPrefix = "run/"
	idPrefix  = "id/"
)

// BadgerStore is a ResultStore on BadgerDB.
//
// Keys:
//
//	run/<started_at unix nanos, zero padded>/<run id> -> result JSON
//	id/<run id>                                      -> run key
//
// The padded timestamp makes a reverse prefix scan list newest first.
//
// Thread Safety: Safe for concurrent use.
type BadgerStore struct {
	db *qbadger.DB
}

// NewBadgerStore wraps an open database. The caller owns db.
func NewBadgerStore(db *qbadger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func runKey(r *ImprovementResult) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", runPrefix, r.StartedAt.UnixNano(), r.RunID))
}

func idKey(runID string) []byte {
	return []byte(idPrefix + runID)
}

// Save implements ResultStore.
func (s *BadgerStore) Save(ctx context.Context, result *ImprovementResult) error {
	if result == nil || result.RunID == "" {
		return errors.New("save run: result has no run id")
	}
	key := runKey(result)
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		// A re-save with a different start time must not leave the old key.
		if item, err := txn.Get(idKey(result.RunID)); err == nil {
			old, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if string(old) != string(key) {
				if err := txn.Delete(old); err != nil {
					return err
				}
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := qbadger.PutJSON(txn, key, result); err != nil {
			return err
		}
		return txn.Set(idKey(result.RunID), key)
	})
}

// Get implements ResultStore.
func (s *BadgerStore) Get(ctx context.Context, runID string) (*ImprovementResult, error) {
	var result ImprovementResult
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(runID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%s: %w", runID, ErrRunNotFound)
		}
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := qbadger.GetJSON(txn, key, &result); err != nil {
			if errors.Is(err, qbadger.ErrNotFound) {
				return fmt.Errorf("%s: %w", runID, ErrRunNotFound)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// List implements ResultStore.
func (s *BadgerStore) List(ctx context.Context, limit int) ([]*ImprovementResult, error) {
	var (
		out       []*ImprovementResult
		decodeErr error
	)
	err := s.db.ScanPrefix(ctx, []byte(runPrefix), true, limit, func(key, value []byte) bool {
		var r ImprovementResult
		if err := json.Unmarshal(value, &r); err != nil {
			decodeErr = fmt.Errorf("decode %s: %w", key, err)
			return false
		}
		out = append(out, &r)
		return true
	})
	if err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return out, decodeErr
	}
	return out, nil
}
