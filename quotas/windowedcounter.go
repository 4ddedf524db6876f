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

// Package quotas decides whether outbound attempts may proceed: fixed-window
// request counting per operation key and interval-based admission control
// with error-driven backoff.
package quotas

import (
	"sync"
	"time"

	"github.com/uber/netresilience/clock"
)

// WindowedCounter counts requests in fixed windows of a given duration.
// It is a passive counter: it has no opinion on what happens when a limit is
// exceeded, callers decide.
type WindowedCounter struct {
	timeSource clock.TimeSource
	window     time.Duration

	mu          sync.Mutex
	count       int
	windowStart time.Time
}

// NewWindowedCounter creates a counter with the given window duration.
func NewWindowedCounter(timeSource clock.TimeSource, window time.Duration) *WindowedCounter {
	return &WindowedCounter{
		timeSource:  timeSource,
		window:      window,
		windowStart: timeSource.Now(),
	}
}

// Increment records one request and returns the count for the current window,
// rolling the window forward first if it has elapsed.
func (c *WindowedCounter) Increment() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roll()
	c.count++
	return c.count
}

// IsLimitExceeded reports whether the current window's count has reached
// maxRequests. The check is read-only: it rolls an expired window forward but
// never increments.
func (c *WindowedCounter) IsLimitExceeded(maxRequests int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roll()
	return c.count >= maxRequests
}

// Reset clears the current window.
func (c *WindowedCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count = 0
	c.windowStart = c.timeSource.Now()
}

// roll resets the count and moves the window forward if it has elapsed.
// Callers must hold c.mu.
func (c *WindowedCounter) roll() {
	now := c.timeSource.Now()
	if now.Sub(c.windowStart) >= c.window {
		c.count = 0
		c.windowStart = now
	}
}
