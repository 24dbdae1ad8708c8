// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package committee

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// decisionCache memoizes decisions for identical (action, context) pairs.
//
// Thread Safety: Safe for concurrent use.
type decisionCache struct {
	cache *ristretto.Cache[string, ConsensusDecision]
	ttl   time.Duration
}

func newDecisionCache(maxEntries int64, ttl time.Duration) (*decisionCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, ConsensusDecision]{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create decision cache: %w", err)
	}
	return &decisionCache{cache: c, ttl: ttl}, nil
}

// cacheKey is the hex sha256 of action and detail.
func cacheKey(action, detail string) string {
	h := sha256.New()
	h.Write([]byte(action))
	h.Write([]byte{0})
	h.Write([]byte(detail))
	return hex.EncodeToString(h.Sum(nil))
}

// get returns a copy the caller may modify.
func (c *decisionCache) get(key string) (ConsensusDecision, bool) {
	d, ok := c.cache.Get(key)
	if !ok {
		return ConsensusDecision{}, false
	}
	return d.clone(), true
}

// put stores d and waits for the write buffer so the next get sees it.
func (c *decisionCache) put(key string, d ConsensusDecision) {
	c.cache.SetWithTTL(key, d.clone(), 1, c.ttl)
	c.cache.Wait()
}

func (c *decisionCache) clear() {
	c.cache.Clear()
}

func (c *decisionCache) close() {
	c.cache.Close()
}
