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

package clock

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type (
	// Ratelimiter is a test-friendly wrapper around [golang.org/x/time/rate.Limiter]
	// that can be backed by any TimeSource. Time is never allowed to rewind, so
	// mocked time and real time behave the same way with respect to the
	// limiter's internal bookkeeping.
	//
	// Only the Allow-style surface is exposed; this library never waits on a
	// limiter, it either proceeds or falls back.
	Ratelimiter interface {
		// Allow returns true if an event can be performed now, consuming a
		// token if so.
		Allow() bool
		// Burst returns the maximum burst size.
		Burst() int
		// Limit returns the maximum overall rate of allowed events.
		Limit() rate.Limit
		// SetBurst sets the Burst value.
		SetBurst(newBurst int)
		// SetLimit sets the Limit value.
		SetLimit(newLimit rate.Limit)
		// Tokens returns the number of immediately-allowable events.
		// Only suitable for monitoring or tests.
		Tokens() float64
	}

	ratelimiter struct {
		timesource TimeSource
		// latestNow only moves forward. Reading Now() and feeding it to the
		// limiter both happen under the mutex so a goroutine that waited on
		// the lock cannot hand the limiter an older timestamp.
		latestNow time.Time
		limiter   *rate.Limiter
		mut       sync.Mutex
	}
)

var _ Ratelimiter = (*ratelimiter)(nil)

// NewRatelimiter returns a Ratelimiter backed by the wall clock.
func NewRatelimiter(lim rate.Limit, burst int) Ratelimiter {
	return &ratelimiter{
		timesource: NewRealTimeSource(),
		limiter:    rate.NewLimiter(lim, burst),
	}
}

// NewMockRatelimiter returns a Ratelimiter backed by the given TimeSource,
// for tests that advance time by hand.
func NewMockRatelimiter(ts TimeSource, lim rate.Limit, burst int) Ratelimiter {
	return &ratelimiter{
		timesource: ts,
		limiter:    rate.NewLimiter(lim, burst),
	}
}

// lockNow takes the mutex and returns a monotonic "now". Callers keep the
// lock until every time-accepting call on the wrapped limiter is done;
// releasing it earlier would let another caller rewind the limiter's
// internal clock.
func (r *ratelimiter) lockNow() (now time.Time, unlock func()) {
	r.mut.Lock()
	newNow := r.timesource.Now()
	if newNow.After(r.latestNow) {
		r.latestNow = newNow
	}
	return r.latestNow, r.mut.Unlock
}

func (r *ratelimiter) Allow() bool {
	now, unlock := r.lockNow()
	defer unlock()
	return r.limiter.AllowN(now, 1)
}

func (r *ratelimiter) Burst() int {
	// does not consume time, safe without the lock
	return r.limiter.Burst()
}

func (r *ratelimiter) Limit() rate.Limit {
	// does not consume time, safe without the lock
	return r.limiter.Limit()
}

func (r *ratelimiter) SetBurst(newBurst int) {
	now, unlock := r.lockNow()
	defer unlock()
	r.limiter.SetBurstAt(now, newBurst)
}

func (r *ratelimiter) SetLimit(newLimit rate.Limit) {
	now, unlock := r.lockNow()
	defer unlock()
	r.limiter.SetLimitAt(now, newLimit)
}

func (r *ratelimiter) Tokens() float64 {
	now, unlock := r.lockNow()
	defer unlock()
	return r.limiter.TokensAt(now)
}
