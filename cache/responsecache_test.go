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

package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"

	"github.com/uber/netresilience/clock"
	"github.com/uber/netresilience/config"
	"github.com/uber/netresilience/log/testlogger"
)

type staticIntervals map[string]time.Duration

func (s staticIntervals) BaseInterval(key string) time.Duration {
	if d, ok := s[key]; ok {
		return d
	}
	return 5 * time.Second
}

type recordedSuccesses struct {
	mu   sync.Mutex
	keys []string
}

func (r *recordedSuccesses) RecordSuccess(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
}

func newTestCache(t *testing.T, ts clock.TimeSource, intervals IntervalResolver, recorder SuccessRecorder) *ResponseCache {
	cfg := config.Default()
	cfg.CacheMaxAge = 24 * time.Hour
	return NewResponseCache(config.NewInMemoryProvider(cfg), intervals, recorder, ts, testlogger.New(t), tally.NoopScope)
}

func TestTTLDerivedFromInterval(t *testing.T) {
	ts := clock.NewMockedTimeSource()
	c := newTestCache(t, ts, staticIntervals{"k": time.Second}, nil)

	c.Put("k", "v")

	// TTL = 1000ms x 10
	ts.Advance(9999 * time.Millisecond)
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	ts.Advance(2 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok, "entry expired at 10001ms")
}

func TestTTLCappedByMaxAge(t *testing.T) {
	ts := clock.NewMockedTimeSource()
	cfg := config.Default()
	cfg.CacheMaxAge = 30 * time.Second
	c := NewResponseCache(config.NewInMemoryProvider(cfg), staticIntervals{"k": time.Minute}, nil, ts, testlogger.New(t), tally.NoopScope)

	c.Put("k", "v")

	// interval x 10 would be 10min, but maxAge caps the TTL at 30s
	ts.Advance(29 * time.Second)
	_, ok := c.Get("k")
	require.True(t, ok)

	ts.Advance(2 * time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestPutReplacesEntry(t *testing.T) {
	ts := clock.NewMockedTimeSource()
	c := newTestCache(t, ts, staticIntervals{}, nil)

	c.Put("k", "old")
	ts.Advance(time.Second)
	c.Put("k", "new")

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "new", got)
	assert.Equal(t, 1, c.Size(), "at most one entry per key")
}

func TestPutReportsSuccess(t *testing.T) {
	ts := clock.NewMockedTimeSource()
	recorder := &recordedSuccesses{}
	c := newTestCache(t, ts, staticIntervals{}, recorder)

	c.Put("a", 1)
	c.Put("b", 2)

	assert.Equal(t, []string{"a", "b"}, recorder.keys)
}

func TestLazyExpiryKeepsEntryUntilSweep(t *testing.T) {
	ts := clock.NewMockedTimeSource()
	c := newTestCache(t, ts, staticIntervals{"k": time.Second}, nil)

	c.Put("k", "v")
	ts.Advance(time.Minute)

	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Size(), "expired entry is not deleted on read")
}

func TestSweepRemovesOnlyOldEntries(t *testing.T) {
	ts := clock.NewMockedTimeSource()
	cfg := config.Default()
	cfg.CacheMaxAge = time.Hour
	c := NewResponseCache(config.NewInMemoryProvider(cfg), staticIntervals{}, nil, ts, testlogger.New(t), tally.NoopScope)

	c.Put("old", 1)
	ts.Advance(2 * time.Hour)
	c.Put("fresh", 2)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Size())

	_, ok := c.Snapshot()["fresh"]
	assert.True(t, ok)
}

func TestGetOrLoadCachesLoaderResult(t *testing.T) {
	ts := clock.NewMockedTimeSource()
	c := newTestCache(t, ts, staticIntervals{}, nil)

	calls := 0
	loader := func(ctx context.Context) (interface{}, error) {
		calls++
		return "loaded", nil
	}

	got, err := c.GetOrLoad(context.Background(), "k", loader)
	require.NoError(t, err)
	assert.Equal(t, "loaded", got)

	got, err = c.GetOrLoad(context.Background(), "k", loader)
	require.NoError(t, err)
	assert.Equal(t, "loaded", got)
	assert.Equal(t, 1, calls, "second call served from cache")
}

func TestGetOrLoadPropagatesLoaderError(t *testing.T) {
	ts := clock.NewMockedTimeSource()
	c := newTestCache(t, ts, staticIntervals{}, nil)

	boom := errors.New("boom")
	_, err := c.GetOrLoad(context.Background(), "k", func(ctx context.Context) (interface{}, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	_, ok := c.Get("k")
	assert.False(t, ok, "failed loads are not cached")
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	ts := clock.NewMockedTimeSource()
	c := newTestCache(t, ts, staticIntervals{}, nil)

	c.Put("k", "v")
	snapshot := c.Snapshot()

	restored := newTestCache(t, ts, staticIntervals{}, nil)
	restored.Restore(snapshot)

	got, ok := restored.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)
}
