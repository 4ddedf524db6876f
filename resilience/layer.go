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

// Package resilience governs outbound calls to a remote service under
// unreliable connectivity and server-side rate limits. It composes per-key
// admission control, response caching with interval-derived expiry, a
// windowed per-key request counter, an outbound rate cap, and a retry queue
// that drains when connectivity is restored.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/uber-go/tally"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/uber/netresilience/cache"
	"github.com/uber/netresilience/clock"
	"github.com/uber/netresilience/config"
	"github.com/uber/netresilience/connectivity"
	"github.com/uber/netresilience/log"
	"github.com/uber/netresilience/log/loggerimpl"
	"github.com/uber/netresilience/log/tag"
	"github.com/uber/netresilience/quotas"
	"github.com/uber/netresilience/retryqueue"
)

// ErrAdmissionDenied is returned by Execute when an operation is throttled
// and no cached result is available. Denial is normal control flow, not a
// remote failure.
var ErrAdmissionDenied = errors.New("admission denied")

const (
	statusInitialized int32 = iota
	statusStarted
	statusStopped
)

type (
	// Params groups the dependencies of a Layer. ConfigProvider and Monitor
	// are required; the rest default to production implementations.
	Params struct {
		ConfigProvider config.Provider
		Monitor        connectivity.Monitor
		TimeSource     clock.TimeSource
		Logger         log.Logger
		MetricsScope   tally.Scope

		// RetryJitterMax and RetryFollowUpDelay tune the retry queue;
		// zero values use the queue's defaults.
		RetryJitterMax     time.Duration
		RetryFollowUpDelay time.Duration
	}

	// Snapshot is an export of all per-key state, for hosts that persist the
	// layer across launches. The layer prescribes no serialization format.
	Snapshot struct {
		LastCall        map[string]quotas.CallRecord
		ErrorStats      map[string]quotas.ErrorStats
		RaisedIntervals map[string]time.Duration
		CacheEntries    map[string]cache.Entry
	}

	// Layer owns all resilience state for one client process. All methods
	// are safe for concurrent use.
	Layer struct {
		cfg        config.Provider
		timeSource clock.TimeSource
		logger     log.Logger
		scope      tally.Scope

		admission *quotas.AdmissionController
		cache     *cache.ResponseCache
		counters  *quotas.CounterCollection
		outbound  clock.Ratelimiter
		queue     *retryqueue.Manager

		status     atomic.Int32
		shutdownCh chan struct{}
		shutdownWG sync.WaitGroup
	}
)

// NewLayer assembles a resilience layer from its dependencies.
func NewLayer(params Params) *Layer {
	timeSource := params.TimeSource
	if timeSource == nil {
		timeSource = clock.NewRealTimeSource()
	}
	logger := params.Logger
	if logger == nil {
		logger = loggerimpl.NewNopLogger()
	}
	scope := params.MetricsScope
	if scope == nil {
		scope = tally.NoopScope
	}
	cfg := params.ConfigProvider

	admission := quotas.NewAdmissionController(cfg, timeSource, logger, scope)
	responseCache := cache.NewResponseCache(cfg, admission, admission, timeSource, logger, scope)

	var outbound clock.Ratelimiter
	if rps, burst := cfg.OutboundLimit(); rps > 0 {
		outbound = clock.NewRatelimiter(rate.Limit(rps), burst)
	}

	queue := retryqueue.NewManager(retryqueue.Params{
		Monitor:       params.Monitor,
		TimeSource:    timeSource,
		Logger:        logger,
		Scope:         scope,
		DefaultConfig: defaultRetryConfig(cfg),
		JitterMax:     params.RetryJitterMax,
		FollowUpDelay: params.RetryFollowUpDelay,
	})

	return &Layer{
		cfg:        cfg,
		timeSource: timeSource,
		logger:     logger.WithTags(tag.Component("resilience-layer")),
		scope:      scope,
		admission:  admission,
		cache:      responseCache,
		counters:   quotas.NewCounterCollection(timeSource, cfg.RateWindow),
		outbound:   outbound,
		queue:      queue,
		shutdownCh: make(chan struct{}),
	}
}

// Start brings up the retry queue and the periodic cache sweep.
func (l *Layer) Start() {
	if !l.status.CompareAndSwap(statusInitialized, statusStarted) {
		return
	}
	l.queue.Start()

	l.shutdownWG.Add(1)
	go l.sweepLoop()
	l.logger.Info("resilience layer started", tag.Lifecycle("started"))
}

// Stop shuts down the retry queue and the sweep loop. Idempotent.
func (l *Layer) Stop() {
	if !l.status.CompareAndSwap(statusStarted, statusStopped) {
		return
	}
	close(l.shutdownCh)
	l.queue.Stop()
	l.shutdownWG.Wait()
	l.logger.Info("resilience layer stopped", tag.Lifecycle("stopped"))
}

// IsAdmitted reports whether an attempt of the operation may proceed now.
// The windowed per-key counter and the process-wide outbound cap are checked
// before the per-key interval; a denied check leaves per-key admission state
// untouched.
func (l *Layer) IsAdmitted(key string) bool {
	if max := l.cfg.MaxRequestsPerWindow(); max > 0 {
		if l.counters.For(key).IsLimitExceeded(max) {
			l.scope.Counter("window_limit_exceeded").Inc(1)
			l.logger.Debug("request window limit reached", tag.OperationKey(key))
			return false
		}
	}
	if l.outbound != nil && !l.outbound.Allow() {
		l.scope.Counter("outbound_limit_exceeded").Inc(1)
		return false
	}
	if !l.admission.IsAdmitted(key) {
		return false
	}
	l.counters.For(key).Increment()
	return true
}

// RecordSuccess reports a successful outcome for the operation.
func (l *Layer) RecordSuccess(key string) {
	l.admission.RecordSuccess(key)
}

// RecordError reports a failed outcome for the operation.
func (l *Layer) RecordError(key string, err error) {
	l.admission.RecordError(key, err)
}

// CachePut stores a successful result for the key and clears its error
// streak.
func (l *Layer) CachePut(key string, data interface{}) {
	l.cache.Put(key, data)
}

// CacheGet returns the cached result for the key if it is still live.
func (l *Layer) CacheGet(key string) (interface{}, bool) {
	return l.cache.Get(key)
}

// EnqueueRetry submits a failed attempt for replay once connectivity
// returns. With no explicit config, the host's configured retry defaults
// apply and only connectivity-class failures are accepted.
func (l *Layer) EnqueueRetry(fn retryqueue.RetryFunc, cause error, cfg *retryqueue.Config) (string, error) {
	if cfg == nil {
		c := defaultRetryConfig(l.cfg)
		cfg = &c
	} else if cfg.RetryCondition == nil {
		c := *cfg
		c.RetryCondition = IsConnectivityError
		cfg = &c
	}
	return l.queue.Enqueue(fn, cause, cfg)
}

// QueueStats returns a point-in-time view of the retry queue.
func (l *Layer) QueueStats() retryqueue.QueueStats {
	return l.queue.Stats()
}

// ClearQueue discards all pending retry items and returns how many were
// removed. Safe to call at any time.
func (l *Layer) ClearQueue() int {
	return l.queue.Clear()
}

// ResetRateLimits discards all admission state: call records, error
// statistics, raised intervals and windowed counters.
func (l *Layer) ResetRateLimits() {
	l.admission.Reset()
	l.counters.Reset()
	l.logger.Info("rate limit state reset")
}

// SweepExpiredCache removes cache entries older than the configured maximum
// age and returns how many were removed.
func (l *Layer) SweepExpiredCache() int {
	return l.cache.Sweep()
}

// Execute runs one guarded attempt of the operation: admission check, the
// call itself, outcome reporting, cache write-back on success, retry
// queueing on connectivity loss, and a stale-cache fallback when the live
// path is unavailable. Callers that need finer control compose the
// individual methods instead.
func (l *Layer) Execute(
	ctx context.Context,
	key string,
	call func(ctx context.Context) (interface{}, error),
) (interface{}, error) {
	if !l.IsAdmitted(key) {
		if data, ok := l.CacheGet(key); ok {
			return data, nil
		}
		return nil, ErrAdmissionDenied
	}

	data, err := call(ctx)
	if err == nil {
		l.CachePut(key, data)
		return data, nil
	}

	l.RecordError(key, err)
	if IsConnectivityError(err) {
		// replay the whole guarded attempt later so the result lands in
		// the cache; the original caller already has the failure
		if _, enqueueErr := l.EnqueueRetry(func() error {
			replayed, replayErr := call(context.Background())
			if replayErr != nil {
				return replayErr
			}
			l.CachePut(key, replayed)
			return nil
		}, err, nil); enqueueErr != nil {
			l.logger.Warn("failed to queue retry", tag.OperationKey(key), tag.Error(enqueueErr))
		}
	}

	if data, ok := l.CacheGet(key); ok {
		return data, nil
	}
	return nil, err
}

// SnapshotState exports all per-key records. The result is a deep copy and
// safe to serialize.
func (l *Layer) SnapshotState() Snapshot {
	lastCall, stats, raised := l.admission.Snapshot()
	return Snapshot{
		LastCall:        lastCall,
		ErrorStats:      stats,
		RaisedIntervals: raised,
		CacheEntries:    l.cache.Snapshot(),
	}
}

// RestoreState replaces all per-key records with previously exported ones.
func (l *Layer) RestoreState(s Snapshot) {
	l.admission.Restore(s.LastCall, s.ErrorStats, s.RaisedIntervals)
	l.cache.Restore(s.CacheEntries)
}

func (l *Layer) sweepLoop() {
	defer l.shutdownWG.Done()

	interval := l.cfg.CacheSweepInterval()
	if interval <= 0 {
		return
	}
	ticker := l.timeSource.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ticker.Chan():
			l.cache.Sweep()
		}
	}
}

func defaultRetryConfig(cfg config.Provider) retryqueue.Config {
	c := retryqueue.ConfigFromDefaults(cfg.RetryDefaults())
	c.RetryCondition = IsConnectivityError
	return c
}
