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

package quotas

import (
	"math"
	"sync"
	"time"

	"github.com/uber-go/tally"

	"github.com/uber/netresilience/clock"
	"github.com/uber/netresilience/config"
	"github.com/uber/netresilience/log"
	"github.com/uber/netresilience/log/tag"
)

const (
	// backoffMultiplier scales the effective interval per consecutive error.
	// Intentionally gentler than the retry queue's doubling: this throttles
	// repeat attempts of the same logical call, not replays of one failed
	// attempt.
	backoffMultiplier = 1.5

	// dynamicRaiseFactor permanently raises a dynamic operation's base
	// interval once errors are sustained.
	dynamicRaiseFactor = 1.5

	// dynamicRaiseThreshold is the consecutive error count above which a
	// dynamic operation's base interval is raised.
	dynamicRaiseThreshold = 2
)

type (
	// ErrorStats is a snapshot of per-operation outcome counters.
	ErrorStats struct {
		Successes         int
		Errors            int
		ConsecutiveErrors int
		LastErrorTime     time.Time
	}

	// CallRecord is a snapshot of the last admission time for an operation.
	CallRecord struct {
		LastCallTime time.Time
	}

	// AdmissionController decides, per operation key, whether a new attempt
	// may proceed now. It never returns errors: decisions are booleans and
	// outcome reports only mutate internal counters.
	AdmissionController struct {
		cfg        config.Provider
		timeSource clock.TimeSource
		logger     log.Logger
		scope      tally.Scope

		mu       sync.Mutex
		lastCall map[string]time.Time
		stats    map[string]*ErrorStats
		// raised holds permanently-raised base intervals for operations
		// configured as dynamic. Raises never decay; see RecordError.
		raised map[string]time.Duration
	}
)

// NewAdmissionController creates an admission controller reading intervals
// from the given provider at decision time.
func NewAdmissionController(
	cfg config.Provider,
	timeSource clock.TimeSource,
	logger log.Logger,
	scope tally.Scope,
) *AdmissionController {
	return &AdmissionController{
		cfg:        cfg,
		timeSource: timeSource,
		logger:     logger.WithTags(tag.Component("admission-controller")),
		scope:      scope.SubScope("admission"),
		lastCall:   make(map[string]time.Time),
		stats:      make(map[string]*ErrorStats),
		raised:     make(map[string]time.Duration),
	}
}

// IsAdmitted reports whether an attempt of the operation may proceed now.
// When admitted, the operation's last-call time is updated; a denied check
// mutates nothing and is safe to poll.
func (a *AdmissionController) IsAdmitted(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.timeSource.Now()
	interval := a.effectiveIntervalLocked(key)
	last, called := a.lastCall[key]
	if called && now.Sub(last) < interval {
		a.scope.Counter("denied").Inc(1)
		a.logger.Debug("admission denied",
			tag.OperationKey(key),
			tag.Interval(interval),
			tag.SinceLastCall(now.Sub(last)),
		)
		return false
	}

	a.lastCall[key] = now
	a.scope.Counter("allowed").Inc(1)
	return true
}

// RecordSuccess resets the operation's consecutive error streak and counts
// the success.
func (a *AdmissionController) RecordSuccess(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := a.statsLocked(key)
	stats.Successes++
	stats.ConsecutiveErrors = 0
	a.scope.Counter("success").Inc(1)
}

// RecordError counts a tracked failure of the operation. Once errors are
// sustained past the raise threshold, a dynamic operation's configured base
// interval is permanently raised (bounded by the backoff ceiling): a service
// that keeps struggling is approached more conservatively from then on, and
// the raise never decays.
func (a *AdmissionController) RecordError(key string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.timeSource.Now()
	stats := a.statsLocked(key)
	stats.Errors++
	stats.ConsecutiveErrors++
	stats.LastErrorTime = now
	a.scope.Counter("error").Inc(1)

	_, dynamic := a.cfg.BaseInterval(key)
	if dynamic && stats.ConsecutiveErrors > dynamicRaiseThreshold {
		base := a.baseIntervalLocked(key)
		raisedTo := time.Duration(float64(base) * dynamicRaiseFactor)
		if ceiling := a.cfg.MaxBackoffInterval(); ceiling > 0 && raisedTo > ceiling {
			raisedTo = ceiling
		}
		if raisedTo > base {
			a.raised[key] = raisedTo
			a.scope.Counter("interval_raised").Inc(1)
			a.logger.Warn("operation interval raised after sustained errors",
				tag.OperationKey(key),
				tag.ConsecutiveErrors(stats.ConsecutiveErrors),
				tag.Interval(raisedTo),
				tag.Error(err),
			)
		}
	}

	a.logger.Debug("operation error recorded",
		tag.OperationKey(key),
		tag.ConsecutiveErrors(stats.ConsecutiveErrors),
		tag.Error(err),
	)
}

// BaseInterval resolves the operation's current base interval: the larger of
// its configured (possibly raised) interval or the default, floored by the
// global minimum. Error scaling is not applied; the response cache derives
// entry TTLs from this value.
func (a *AdmissionController) BaseInterval(key string) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.baseIntervalLocked(key)
}

// EffectiveInterval resolves the interval currently enforced between attempts
// of the operation, including error-driven scaling.
func (a *AdmissionController) EffectiveInterval(key string) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.effectiveIntervalLocked(key)
}

// Stats returns a snapshot of the operation's outcome counters.
func (a *AdmissionController) Stats(key string) ErrorStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	if stats, ok := a.stats[key]; ok {
		return *stats
	}
	return ErrorStats{}
}

// Reset discards all call records, error statistics and raised intervals.
func (a *AdmissionController) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastCall = make(map[string]time.Time)
	a.stats = make(map[string]*ErrorStats)
	a.raised = make(map[string]time.Duration)
}

// Snapshot exports the controller's per-key records for hosts that persist
// state across launches. The returned maps are copies.
func (a *AdmissionController) Snapshot() (lastCall map[string]CallRecord, stats map[string]ErrorStats, raised map[string]time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	lastCall = make(map[string]CallRecord, len(a.lastCall))
	for k, v := range a.lastCall {
		lastCall[k] = CallRecord{LastCallTime: v}
	}
	stats = make(map[string]ErrorStats, len(a.stats))
	for k, v := range a.stats {
		stats[k] = *v
	}
	raised = make(map[string]time.Duration, len(a.raised))
	for k, v := range a.raised {
		raised[k] = v
	}
	return lastCall, stats, raised
}

// Restore replaces the controller's per-key records with previously exported
// ones. Nil maps leave the corresponding records empty.
func (a *AdmissionController) Restore(lastCall map[string]CallRecord, stats map[string]ErrorStats, raised map[string]time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.lastCall = make(map[string]time.Time, len(lastCall))
	for k, v := range lastCall {
		a.lastCall[k] = v.LastCallTime
	}
	a.stats = make(map[string]*ErrorStats, len(stats))
	for k, v := range stats {
		s := v
		a.stats[k] = &s
	}
	a.raised = make(map[string]time.Duration, len(raised))
	for k, v := range raised {
		a.raised[k] = v
	}
}

func (a *AdmissionController) statsLocked(key string) *ErrorStats {
	stats, ok := a.stats[key]
	if !ok {
		stats = &ErrorStats{}
		a.stats[key] = stats
	}
	return stats
}

func (a *AdmissionController) baseIntervalLocked(key string) time.Duration {
	interval, _ := a.cfg.BaseInterval(key)
	if raised, ok := a.raised[key]; ok && raised > interval {
		interval = raised
	}
	if interval == 0 {
		interval = a.cfg.DefaultInterval()
	}
	if min := a.cfg.GlobalMinInterval(); interval < min {
		interval = min
	}
	return interval
}

func (a *AdmissionController) effectiveIntervalLocked(key string) time.Duration {
	interval := a.baseIntervalLocked(key)
	stats, ok := a.stats[key]
	if !ok || stats.ConsecutiveErrors == 0 {
		return interval
	}

	scaled := time.Duration(float64(interval) * math.Pow(backoffMultiplier, float64(stats.ConsecutiveErrors-1)))
	if ceiling := a.cfg.MaxBackoffInterval(); ceiling > 0 && scaled > ceiling {
		scaled = ceiling
	}
	return scaled
}
