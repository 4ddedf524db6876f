// The MIT License (MIT)

// Copyright (c) 2017-2020 Uber Technologies Inc.

// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package cache stores the most recent successful result per operation key,
// with a time-to-live derived from the operation's current admission interval.
// Frequently-refreshed operations get short-lived entries, rarely-refreshed
// ones long-lived entries, without per-operation cache configuration.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/uber-go/tally"
	"golang.org/x/sync/singleflight"

	"github.com/uber/netresilience/clock"
	"github.com/uber/netresilience/config"
	"github.com/uber/netresilience/log"
	"github.com/uber/netresilience/log/tag"
)

// ttlIntervalFactor multiplies an operation's base interval to derive the
// TTL of its cache entry.
const ttlIntervalFactor = 10

type (
	// IntervalResolver resolves an operation's current base admission
	// interval; the admission controller implements it.
	IntervalResolver interface {
		BaseInterval(key string) time.Duration
	}

	// SuccessRecorder is notified on every cache write: a cache write and a
	// success report are a single concept, "this operation just succeeded".
	// The admission controller implements it.
	SuccessRecorder interface {
		RecordSuccess(key string)
	}

	// Entry is a stored payload with its write time, exported for hosts that
	// persist cache contents across launches.
	Entry struct {
		Data      interface{}
		Timestamp time.Time
	}

	// ResponseCache holds at most one live entry per operation key.
	ResponseCache struct {
		cfg        config.Provider
		intervals  IntervalResolver
		recorder   SuccessRecorder
		timeSource clock.TimeSource
		logger     log.Logger
		scope      tally.Scope

		mu      sync.RWMutex
		entries map[string]Entry

		group singleflight.Group
	}
)

// NewResponseCache creates a response cache. The recorder may be nil when
// success tracking is wired elsewhere.
func NewResponseCache(
	cfg config.Provider,
	intervals IntervalResolver,
	recorder SuccessRecorder,
	timeSource clock.TimeSource,
	logger log.Logger,
	scope tally.Scope,
) *ResponseCache {
	return &ResponseCache{
		cfg:        cfg,
		intervals:  intervals,
		recorder:   recorder,
		timeSource: timeSource,
		logger:     logger.WithTags(tag.Component("response-cache")),
		scope:      scope.SubScope("cache"),
		entries:    make(map[string]Entry),
	}
}

// Put stores data for the key, replacing any prior entry, and reports the
// operation's success to the recorder.
func (c *ResponseCache) Put(key string, data interface{}) {
	now := c.timeSource.Now()

	c.mu.Lock()
	c.entries[key] = Entry{Data: data, Timestamp: now}
	c.mu.Unlock()

	c.scope.Counter("put").Inc(1)
	if c.recorder != nil {
		c.recorder.RecordSuccess(key)
	}
}

// Get returns the stored payload if the entry is still within its derived
// TTL. Expired entries are not deleted on read; Sweep reclaims them.
func (c *ResponseCache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.scope.Counter("miss").Inc(1)
		return nil, false
	}

	age := c.timeSource.Since(entry.Timestamp)
	ttl := c.ttl(key)
	if age >= ttl {
		c.scope.Counter("expired").Inc(1)
		c.logger.Debug("cache entry expired",
			tag.OperationKey(key),
			tag.CacheAge(age),
			tag.CacheTTL(ttl),
		)
		return nil, false
	}

	c.scope.Counter("hit").Inc(1)
	return entry.Data, true
}

// GetOrLoad returns the cached payload if live, otherwise runs the loader and
// caches its result. Concurrent loads for the same key are collapsed into one
// loader call.
func (c *ResponseCache) GetOrLoad(
	ctx context.Context,
	key string,
	loader func(ctx context.Context) (interface{}, error),
) (interface{}, error) {
	if data, ok := c.Get(key); ok {
		return data, nil
	}

	data, err, _ := c.group.Do(key, func() (interface{}, error) {
		// another caller may have loaded while this one waited on the group
		if data, ok := c.Get(key); ok {
			return data, nil
		}
		data, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(key, data)
		return data, nil
	})
	return data, err
}

// Sweep removes entries older than the configured maximum age, regardless of
// per-key TTL, and returns the number removed. Safe to call at any time.
func (c *ResponseCache) Sweep() int {
	maxAge := c.cfg.CacheMaxAge()
	now := c.timeSource.Now()

	c.mu.Lock()
	removed := 0
	for key, entry := range c.entries {
		if now.Sub(entry.Timestamp) >= maxAge {
			delete(c.entries, key)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.scope.Counter("swept").Inc(int64(removed))
		c.logger.Info("swept expired cache entries", tag.SweptEntries(removed))
	}
	return removed
}

// Size returns the number of stored entries, live or expired.
func (c *ResponseCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear removes all entries.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry)
}

// Snapshot exports all entries for hosts that persist cache contents.
func (c *ResponseCache) Snapshot() map[string]Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries := make(map[string]Entry, len(c.entries))
	for k, v := range c.entries {
		entries[k] = v
	}
	return entries
}

// Restore replaces the cache contents with previously exported entries.
func (c *ResponseCache) Restore(entries map[string]Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry, len(entries))
	for k, v := range entries {
		c.entries[k] = v
	}
}

func (c *ResponseCache) ttl(key string) time.Duration {
	ttl := time.Duration(ttlIntervalFactor) * c.intervals.BaseInterval(key)
	if maxAge := c.cfg.CacheMaxAge(); maxAge > 0 && ttl > maxAge {
		ttl = maxAge
	}
	return ttl
}
