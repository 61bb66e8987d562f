// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package classifier

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// CacheStats is a snapshot of EmbeddingCache counters.
type CacheStats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// EmbeddingCache memoizes text→vector for the life of the process.
// Concurrent misses for one text share a single computation. Returned
// slices are shared and must not be modified.
type EmbeddingCache struct {
	mu      sync.RWMutex
	entries map[string][]float32
	group   singleflight.Group
	hits    atomic.Int64
	misses  atomic.Int64
}

func NewEmbeddingCache() *EmbeddingCache {
	return &EmbeddingCache{entries: make(map[string][]float32)}
}

// Get returns the cached vector for text, if any.
func (c *EmbeddingCache) Get(text string) ([]float32, bool) {
	c.mu.RLock()
	v, ok := c.entries[text]
	c.mu.RUnlock()
	return v, ok
}

// GetOrCompute returns the cached vector or computes, stores and returns it.
// Failed computations are not cached. The shared computation is detached
// from any one caller's cancellation; each caller still stops waiting when
// its own ctx ends.
func (c *EmbeddingCache) GetOrCompute(ctx context.Context, text string, compute func(context.Context) ([]float32, error)) ([]float32, error) {
	if v, ok := c.Get(text); ok {
		c.hits.Add(1)
		return v, nil
	}
	c.misses.Add(1)

	ch := c.group.DoChan(text, func() (any, error) {
		if v, ok := c.Get(text); ok {
			return v, nil
		}
		v, err := compute(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if existing, ok := c.entries[text]; ok {
			v = existing
		} else {
			c.entries[text] = v
		}
		c.mu.Unlock()
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]float32), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *EmbeddingCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *EmbeddingCache) Stats() CacheStats {
	return CacheStats{Entries: c.Len(), Hits: c.hits.Load(), Misses: c.misses.Load()}
}
