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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/uber/netresilience/clock"
)

func TestWindowedCounterIncrement(t *testing.T) {
	ts := clock.NewMockedTimeSource()
	c := NewWindowedCounter(ts, time.Minute)

	assert.Equal(t, 1, c.Increment())
	assert.Equal(t, 2, c.Increment())
	assert.Equal(t, 3, c.Increment())
}

func TestWindowedCounterRollsForward(t *testing.T) {
	ts := clock.NewMockedTimeSource()
	c := NewWindowedCounter(ts, time.Minute)

	c.Increment()
	c.Increment()

	ts.Advance(59 * time.Second)
	assert.Equal(t, 3, c.Increment(), "window not yet elapsed")

	ts.Advance(time.Minute)
	assert.Equal(t, 1, c.Increment(), "count resets once the window elapses")
}

func TestIsLimitExceededDoesNotIncrement(t *testing.T) {
	ts := clock.NewMockedTimeSource()
	c := NewWindowedCounter(ts, time.Minute)

	c.Increment()
	c.Increment()

	assert.True(t, c.IsLimitExceeded(2))
	assert.True(t, c.IsLimitExceeded(2), "repeated checks must not change the count")
	assert.False(t, c.IsLimitExceeded(3))
	assert.Equal(t, 3, c.Increment())
}

func TestIsLimitExceededRollsExpiredWindow(t *testing.T) {
	ts := clock.NewMockedTimeSource()
	c := NewWindowedCounter(ts, time.Minute)

	c.Increment()
	c.Increment()
	assert.True(t, c.IsLimitExceeded(2))

	ts.Advance(time.Minute)
	assert.False(t, c.IsLimitExceeded(2), "expired window is rolled forward by a read-only check")
	assert.Equal(t, 1, c.Increment())
}

func TestWindowedCounterReset(t *testing.T) {
	ts := clock.NewMockedTimeSource()
	c := NewWindowedCounter(ts, time.Minute)

	c.Increment()
	c.Reset()
	assert.Equal(t, 1, c.Increment())
}

func TestCounterCollectionSharesPerKeyCounters(t *testing.T) {
	ts := clock.NewMockedTimeSource()
	coll := NewCounterCollection(ts, func() time.Duration { return time.Minute })

	coll.For("a").Increment()
	coll.For("a").Increment()
	coll.For("b").Increment()

	assert.Equal(t, 3, coll.For("a").Increment())
	assert.Equal(t, 2, coll.For("b").Increment())

	coll.Reset()
	assert.Equal(t, 1, coll.For("a").Increment())
}
