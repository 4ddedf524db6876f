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

// Package retryqueue holds attempts that failed due to connectivity loss and
// replays them, with per-item exponential backoff and jitter, when the host's
// connectivity monitor reports a restored edge.
package retryqueue

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/uber/netresilience/clock"
	"github.com/uber/netresilience/connectivity"
	"github.com/uber/netresilience/log"
	"github.com/uber/netresilience/log/tag"
)

// ErrRetryConditionNotMet is returned by Enqueue when the supplied retry
// condition rejects the failure; nothing is queued.
var ErrRetryConditionNotMet = errors.New("retry condition not met")

const (
	// defaultJitterMax bounds the uniform random jitter added to each
	// computed retry delay, avoiding synchronized retry storms.
	defaultJitterMax = time.Second

	// defaultFollowUpDelay is how long after a drain pass the manager
	// schedules another one if items remain, instead of recursing.
	defaultFollowUpDelay = 5 * time.Second

	currentStateTimeout = 5 * time.Second
)

// daemon status, transitioned with CAS so Start/Stop are idempotent
const (
	statusInitialized int32 = iota
	statusStarted
	statusStopped
)

type (
	// RetryFunc performs the original attempt again.
	RetryFunc func() error

	// Params groups the dependencies of a Manager.
	Params struct {
		Monitor    connectivity.Monitor
		TimeSource clock.TimeSource
		Logger     log.Logger
		Scope      tally.Scope
		// DefaultConfig applies to enqueues without an explicit config.
		DefaultConfig Config
		// JitterMax overrides the jitter bound; tests set it low.
		JitterMax time.Duration
		// FollowUpDelay overrides the delay before a self-scheduled pass.
		FollowUpDelay time.Duration
	}

	// ItemStats describes one queued request for diagnostics.
	ItemStats struct {
		ID         string
		RetryCount int
		EnqueuedAt time.Time
		MaxRetries int
	}

	// QueueStats is a point-in-time view of the queue.
	QueueStats struct {
		Size       int
		IsDraining bool
		Items      []ItemStats
	}

	item struct {
		id            string
		fn            RetryFunc
		retryCount    int
		originalError error
		enqueuedAt    time.Time
		cfg           Config
	}

	// Manager is the retry queue. Create with NewManager, then Start; Stop
	// exactly once during shutdown.
	Manager struct {
		monitor       connectivity.Monitor
		timeSource    clock.TimeSource
		logger        log.Logger
		scope         tally.Scope
		defaultCfg    Config
		jitterMax     time.Duration
		followUpDelay time.Duration

		status   atomic.Int32
		draining atomic.Bool

		mu      sync.Mutex
		pending []*item

		edges       *connectivity.EdgeDetector
		unsubscribe connectivity.UnsubscribeFunc

		notifyCh   chan struct{}
		shutdownCh chan struct{}
		shutdownWG sync.WaitGroup
	}
)

// NewManager creates a retry queue manager. It does nothing until Start.
func NewManager(params Params) *Manager {
	jitterMax := params.JitterMax
	if jitterMax == 0 {
		jitterMax = defaultJitterMax
	}
	followUpDelay := params.FollowUpDelay
	if followUpDelay == 0 {
		followUpDelay = defaultFollowUpDelay
	}
	defaultCfg := params.DefaultConfig
	if defaultCfg.MaxRetries == 0 && defaultCfg.BaseDelay == 0 {
		defaultCfg = DefaultConfig()
	}
	return &Manager{
		monitor:       params.Monitor,
		timeSource:    params.TimeSource,
		logger:        params.Logger.WithTags(tag.Component("retry-queue")),
		scope:         params.Scope.SubScope("retryqueue"),
		defaultCfg:    defaultCfg,
		jitterMax:     jitterMax,
		followUpDelay: followUpDelay,
		edges:         connectivity.NewEdgeDetector(),
		notifyCh:      make(chan struct{}, 1),
		shutdownCh:    make(chan struct{}),
	}
}

// Start subscribes to the connectivity monitor and begins reacting to
// restored edges. Idempotent.
func (m *Manager) Start() {
	if !m.status.CompareAndSwap(statusInitialized, statusStarted) {
		return
	}

	m.logger.Info("retry queue starting", tag.Lifecycle("starting"))

	m.unsubscribe = m.monitor.Subscribe(m.onConnectivityChange)

	// seed the edge detector with the current state; if the process starts
	// online with a backlog, the first drain happens without an event
	ctx, cancel := context.WithTimeout(context.Background(), currentStateTimeout)
	state, err := m.monitor.CurrentState(ctx)
	cancel()
	if err != nil {
		m.logger.Warn("could not fetch initial connectivity state", tag.Error(err))
	} else {
		m.onConnectivityChange(state)
	}

	m.shutdownWG.Add(1)
	go m.drainLoop()

	m.logger.Info("retry queue started", tag.Lifecycle("started"))
}

// Stop unsubscribes from the monitor and stops the drain loop. In-flight
// attempts run to completion; items still waiting on their delay are returned
// to the queue unattempted. Idempotent.
func (m *Manager) Stop() {
	if !m.status.CompareAndSwap(statusStarted, statusStopped) {
		return
	}

	m.logger.Info("retry queue stopping", tag.Lifecycle("stopping"))

	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
	close(m.shutdownCh)
	m.shutdownWG.Wait()

	m.logger.Info("retry queue stopped", tag.Lifecycle("stopped"), tag.QueueSize(m.Size()))
}

// Enqueue submits a failed attempt for later replay and returns the queued
// request id. If the config's retry condition rejects the failure, nothing is
// queued and ErrRetryConditionNotMet is returned.
func (m *Manager) Enqueue(fn RetryFunc, cause error, cfg *Config) (string, error) {
	snapshot := m.defaultCfg
	if cfg != nil {
		snapshot = *cfg
	}
	if snapshot.RetryCondition != nil && !snapshot.RetryCondition(cause) {
		return "", ErrRetryConditionNotMet
	}

	it := &item{
		id:            uuid.New().String(),
		fn:            fn,
		originalError: cause,
		enqueuedAt:    m.timeSource.Now(),
		cfg:           snapshot,
	}

	m.mu.Lock()
	m.pending = append(m.pending, it)
	size := len(m.pending)
	m.mu.Unlock()

	m.scope.Counter("enqueued").Inc(1)
	m.logger.Debug("request queued for retry",
		tag.QueueItemID(it.id),
		tag.QueueSize(size),
		tag.MaxRetries(snapshot.MaxRetries),
		tag.Error(cause),
	)
	return it.id, nil
}

// Size returns the number of pending items.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Stats returns a point-in-time view of the queue for diagnostics.
func (m *Manager) Stats() QueueStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make([]ItemStats, 0, len(m.pending))
	for _, it := range m.pending {
		items = append(items, ItemStats{
			ID:         it.id,
			RetryCount: it.retryCount,
			EnqueuedAt: it.enqueuedAt,
			MaxRetries: it.cfg.MaxRetries,
		})
	}
	return QueueStats{
		Size:       len(items),
		IsDraining: m.draining.Load(),
		Items:      items,
	}
}

// Clear discards all pending items and returns how many were dropped.
// Items already handed to an active drain batch are unaffected.
func (m *Manager) Clear() int {
	m.mu.Lock()
	dropped := len(m.pending)
	m.pending = nil
	m.mu.Unlock()

	if dropped > 0 {
		m.logger.Info("retry queue cleared", tag.Dropped(dropped))
	}
	return dropped
}

// Notify requests a drain pass. Exposed for hosts that want to force a drain
// outside of connectivity edges; coalesces with pending requests.
func (m *Manager) Notify() {
	select {
	case m.notifyCh <- struct{}{}:
	default:
	}
}

func (m *Manager) onConnectivityChange(state connectivity.State) {
	restored := m.edges.Observe(state)
	m.logger.Debug("connectivity changed",
		tag.Connected(state.Connected),
		tag.InternetReachable(state.InternetReachable.String()),
	)
	if restored {
		m.scope.Counter("restored_edges").Inc(1)
		m.Notify()
	}
}

func (m *Manager) drainLoop() {
	defer m.shutdownWG.Done()
	for {
		select {
		case <-m.shutdownCh:
			return
		case <-m.notifyCh:
			m.drain()
		}
	}
}

type outcome struct {
	it      *item
	err     error // nil on success
	dropped bool
}

// drain processes the current queue contents as one batch. It is a no-op if
// a drain is already running or the queue is empty. Requests enqueued while
// the batch runs are not part of it; they wait for the next pass.
func (m *Manager) drain() {
	if !m.draining.CompareAndSwap(false, true) {
		m.logger.Debug("drain already in progress")
		return
	}
	defer m.draining.Store(false)

	m.mu.Lock()
	batch := m.pending
	m.pending = nil
	m.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	m.scope.Counter("drain_batches").Inc(1)
	m.logger.Info("draining retry queue", tag.BatchSize(len(batch)))
	started := m.timeSource.Now()

	outcomes := make(chan outcome, len(batch))
	var wg sync.WaitGroup
	for _, it := range batch {
		wg.Add(1)
		go func(it *item) {
			defer wg.Done()
			m.processItem(it, outcomes)
		}(it)
	}
	wg.Wait()
	close(outcomes)

	var succeeded, requeued, dropped int
	var dropErrs error
	for o := range outcomes {
		switch {
		case o.err == nil && !o.dropped:
			succeeded++
		case o.dropped:
			dropped++
			dropErrs = multierr.Append(dropErrs, o.err)
		default:
			requeued++
		}
	}

	m.scope.Counter("drain_succeeded").Inc(int64(succeeded))
	m.scope.Counter("drain_requeued").Inc(int64(requeued))
	m.scope.Counter("drain_dropped").Inc(int64(dropped))
	m.scope.Timer("drain_latency").Record(m.timeSource.Since(started))

	tags := []tag.Tag{
		tag.BatchSize(len(batch)),
		tag.Succeeded(succeeded),
		tag.Requeued(requeued),
		tag.Dropped(dropped),
	}
	if dropErrs != nil {
		tags = append(tags, tag.Error(dropErrs))
	}
	m.logger.Info("retry queue drain complete", tags...)

	// items may have accumulated from requeues or concurrent enqueues;
	// schedule one more pass after a short delay rather than recursing
	if m.Size() > 0 {
		m.timeSource.AfterFunc(m.followUpDelay, m.Notify)
	}
}

// processItem waits the item's backoff delay plus jitter, replays it once,
// and either discards it (success), requeues it, or drops it when its retry
// budget is spent. Failures never propagate: they become log records and
// counters only.
func (m *Manager) processItem(it *item, outcomes chan<- outcome) {
	delay := BackoffDelay(it.cfg, it.retryCount)
	if m.jitterMax > 0 {
		delay += time.Duration(rand.Int63n(int64(m.jitterMax)))
	}

	m.logger.Debug("retrying queued request",
		tag.QueueItemID(it.id),
		tag.RetryCount(it.retryCount),
		tag.AttemptDelay(delay),
	)

	timer := m.timeSource.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-m.shutdownCh:
		// shutting down: return the item unattempted
		m.requeue(it)
		outcomes <- outcome{it: it, err: it.originalError}
		return
	case <-timer.Chan():
	}

	err := m.invoke(it)
	if err == nil {
		outcomes <- outcome{it: it}
		return
	}

	it.retryCount++
	if it.retryCount >= it.cfg.MaxRetries {
		// terminal: budget spent, surface the original failure in the log
		m.logger.Error("retry budget exhausted, dropping queued request",
			tag.QueueItemID(it.id),
			tag.RetryCount(it.retryCount),
			tag.MaxRetries(it.cfg.MaxRetries),
			tag.Timestamp(it.enqueuedAt),
			tag.Dynamic("original-error", it.originalError),
			tag.Error(err),
		)
		outcomes <- outcome{it: it, err: err, dropped: true}
		return
	}

	m.requeue(it)
	outcomes <- outcome{it: it, err: err}
}

// invoke runs the retry function, converting a panic into an error so one
// bad closure cannot take down the drain.
func (m *Manager) invoke(it *item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
			m.logger.Error("queued retry function panicked",
				tag.QueueItemID(it.id),
				tag.Dynamic("panic-value", r),
			)
		}
	}()
	return it.fn()
}

func (m *Manager) requeue(it *item) {
	m.mu.Lock()
	m.pending = append(m.pending, it)
	m.mu.Unlock()
}

type panicError struct {
	value interface{}
}

func (e *panicError) Error() string {
	return "retry function panicked"
}
