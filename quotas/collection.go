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
	"sync"
	"time"

	"github.com/uber/netresilience/clock"
)

// CounterCollection stores a map of windowed counters by operation key.
type CounterCollection struct {
	timeSource clock.TimeSource
	window     func() time.Duration

	mu       sync.RWMutex
	counters map[string]*WindowedCounter
}

// NewCounterCollection creates a new counter collection. The window function
// is consulted when a new key's counter is created.
func NewCounterCollection(timeSource clock.TimeSource, window func() time.Duration) *CounterCollection {
	return &CounterCollection{
		timeSource: timeSource,
		window:     window,
		counters:   make(map[string]*WindowedCounter),
	}
}

// For retrieves the counter for a given key, creating it on first use.
func (c *CounterCollection) For(key string) *WindowedCounter {
	c.mu.RLock()
	counter, ok := c.counters[key]
	c.mu.RUnlock()

	if !ok {
		newCounter := NewWindowedCounter(c.timeSource, c.window())

		// verify that it is still needed and add to map
		c.mu.Lock()
		counter, ok = c.counters[key]
		if !ok {
			c.counters[key] = newCounter
			counter = newCounter
		}
		c.mu.Unlock()
	}

	return counter
}

// Reset discards all counters.
func (c *CounterCollection) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters = make(map[string]*WindowedCounter)
}
