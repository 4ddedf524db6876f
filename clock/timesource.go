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
	"time"

	"github.com/jonboulle/clockwork"
)

type (
	// TimeSource is an interface to make it easier to test code that relies on
	// wall-clock time. Production code always uses NewRealTimeSource; tests use
	// NewMockedTimeSource and advance time by hand.
	TimeSource interface {
		Now() time.Time
		Since(t time.Time) time.Duration
		Sleep(d time.Duration)
		NewTimer(d time.Duration) Timer
		NewTicker(d time.Duration) Ticker
		AfterFunc(d time.Duration, f func()) Timer
	}

	// MockedTimeSource is a TimeSource with additional controls to move time
	// forward deterministically in tests.
	MockedTimeSource interface {
		TimeSource
		// Advance moves the mocked time forward, firing any timers or tickers
		// that become due.
		Advance(d time.Duration)
		// BlockUntil blocks until the mocked clock has the given number of
		// waiters (timers, tickers, sleeps). Use it to ensure a goroutine has
		// started waiting before Advance is called.
		BlockUntil(waiters int)
	}

	// Timer is a wrapper for clockwork.Timer, largely matching time.Timer but
	// with a Chan() accessor so it can be mocked.
	Timer interface {
		Chan() <-chan time.Time
		Reset(d time.Duration) bool
		Stop() bool
	}

	// Ticker is a wrapper for clockwork.Ticker.
	Ticker interface {
		Chan() <-chan time.Time
		Stop()
	}

	timeSource struct {
		clockwork.Clock
	}

	mockedTimeSource struct {
		clockwork.FakeClock
	}
)

var (
	_ TimeSource       = (*timeSource)(nil)
	_ MockedTimeSource = (*mockedTimeSource)(nil)
)

// NewRealTimeSource returns a TimeSource backed by the wall clock.
func NewRealTimeSource() TimeSource {
	return &timeSource{Clock: clockwork.NewRealClock()}
}

// NewMockedTimeSource returns a TimeSource whose time only moves when
// Advance is called.
func NewMockedTimeSource() MockedTimeSource {
	return &mockedTimeSource{FakeClock: clockwork.NewFakeClock()}
}

// NewMockedTimeSourceAt returns a mocked TimeSource starting at t.
func NewMockedTimeSourceAt(t time.Time) MockedTimeSource {
	return &mockedTimeSource{FakeClock: clockwork.NewFakeClockAt(t)}
}

func (ts *timeSource) NewTimer(d time.Duration) Timer {
	return ts.Clock.NewTimer(d)
}

func (ts *timeSource) NewTicker(d time.Duration) Ticker {
	return ts.Clock.NewTicker(d)
}

func (ts *timeSource) AfterFunc(d time.Duration, f func()) Timer {
	return ts.Clock.AfterFunc(d, f)
}

func (ts *mockedTimeSource) NewTimer(d time.Duration) Timer {
	return ts.FakeClock.NewTimer(d)
}

func (ts *mockedTimeSource) NewTicker(d time.Duration) Ticker {
	return ts.FakeClock.NewTicker(d)
}

func (ts *mockedTimeSource) AfterFunc(d time.Duration, f func()) Timer {
	return ts.FakeClock.AfterFunc(d, f)
}
