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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/uber-go/tally"

	"github.com/uber/netresilience/clock"
	"github.com/uber/netresilience/config"
	"github.com/uber/netresilience/log/testlogger"
)

type admissionSuite struct {
	suite.Suite

	timeSource clock.MockedTimeSource
	provider   *config.InMemoryProvider
	controller *AdmissionController
}

func TestAdmissionSuite(t *testing.T) {
	suite.Run(t, new(admissionSuite))
}

func (s *admissionSuite) SetupTest() {
	cfg := config.Default()
	cfg.GlobalMinInterval = time.Second
	cfg.DefaultInterval = 5 * time.Second
	cfg.MaxBackoffInterval = 5 * time.Minute

	s.timeSource = clock.NewMockedTimeSource()
	s.provider = config.NewInMemoryProvider(cfg)
	s.controller = NewAdmissionController(s.provider, s.timeSource, testlogger.New(s.T()), tally.NoopScope)
}

func (s *admissionSuite) TestFirstCallAdmitted() {
	s.True(s.controller.IsAdmitted("fetch-conversations"))
}

func (s *admissionSuite) TestIntervalEnforced() {
	key := "fetch-conversations"

	s.True(s.controller.IsAdmitted(key))

	s.timeSource.Advance(4 * time.Second)
	s.False(s.controller.IsAdmitted(key), "4s elapsed of a 5s interval")

	// start over: 5001ms apart admits both times
	s.controller.Reset()
	s.True(s.controller.IsAdmitted(key))
	s.timeSource.Advance(5001 * time.Millisecond)
	s.True(s.controller.IsAdmitted(key))
}

func (s *admissionSuite) TestDeniedCheckIsIdempotent() {
	key := "fetch-conversations"

	s.True(s.controller.IsAdmitted(key))
	s.timeSource.Advance(3 * time.Second)

	// polling a denied key must not push the admission time forward
	for i := 0; i < 10; i++ {
		s.False(s.controller.IsAdmitted(key))
	}
	s.timeSource.Advance(2 * time.Second)
	s.True(s.controller.IsAdmitted(key))
}

func (s *admissionSuite) TestGlobalFloorApplies() {
	s.provider.SetOperation("chatty", config.OperationConfig{Interval: 100 * time.Millisecond})
	s.provider.SetGlobalMinInterval(2 * time.Second)

	s.Equal(2*time.Second, s.controller.BaseInterval("chatty"))

	s.True(s.controller.IsAdmitted("chatty"))
	s.timeSource.Advance(time.Second)
	s.False(s.controller.IsAdmitted("chatty"))
	s.timeSource.Advance(time.Second)
	s.True(s.controller.IsAdmitted("chatty"))
}

func (s *admissionSuite) TestBackoffEscalation() {
	key := "fetch-conversations"
	cause := errors.New("rate limited")

	// 3 consecutive errors: effective interval is base * 1.5^2
	s.controller.RecordError(key, cause)
	s.controller.RecordError(key, cause)
	s.controller.RecordError(key, cause)

	want := time.Duration(float64(5*time.Second) * 1.5 * 1.5)
	s.Equal(want, s.controller.EffectiveInterval(key))

	// admission stays denied for the scaled duration and opens exactly after
	s.True(s.controller.IsAdmitted(key))
	s.timeSource.Advance(want - time.Millisecond)
	s.False(s.controller.IsAdmitted(key))
	s.timeSource.Advance(time.Millisecond)
	s.True(s.controller.IsAdmitted(key))
}

func (s *admissionSuite) TestSingleErrorDoesNotScale() {
	key := "fetch-conversations"
	s.controller.RecordError(key, errors.New("boom"))
	s.Equal(5*time.Second, s.controller.EffectiveInterval(key), "1.5^0 leaves the interval unchanged")
}

func (s *admissionSuite) TestBackoffCappedAtCeiling() {
	key := "fetch-conversations"
	for i := 0; i < 20; i++ {
		s.controller.RecordError(key, errors.New("boom"))
	}
	s.Equal(5*time.Minute, s.controller.EffectiveInterval(key))
}

func (s *admissionSuite) TestSuccessResetsStreak() {
	key := "fetch-conversations"

	s.controller.RecordError(key, errors.New("boom"))
	s.controller.RecordError(key, errors.New("boom"))
	s.Equal(2, s.controller.Stats(key).ConsecutiveErrors)

	s.controller.RecordSuccess(key)

	stats := s.controller.Stats(key)
	s.Equal(0, stats.ConsecutiveErrors)
	s.Equal(1, stats.Successes)
	s.Equal(2, stats.Errors)
	s.Equal(5*time.Second, s.controller.EffectiveInterval(key))
}

func (s *admissionSuite) TestStreakNotResetByTime() {
	key := "fetch-conversations"
	s.controller.RecordError(key, errors.New("boom"))
	s.controller.RecordError(key, errors.New("boom"))

	s.timeSource.Advance(24 * time.Hour)
	s.Equal(2, s.controller.Stats(key).ConsecutiveErrors, "only success resets the streak")
}

func (s *admissionSuite) TestDynamicIntervalRaisedOnSustainedErrors() {
	key := "flaky-op"
	s.provider.SetOperation(key, config.OperationConfig{Interval: 4 * time.Second, Dynamic: true})

	cause := errors.New("server struggling")
	s.controller.RecordError(key, cause)
	s.controller.RecordError(key, cause)
	s.Equal(4*time.Second, s.controller.BaseInterval(key), "no raise at the threshold")

	s.controller.RecordError(key, cause)
	s.Equal(6*time.Second, s.controller.BaseInterval(key), "raised by 50% past the threshold")

	s.controller.RecordError(key, cause)
	s.Equal(9*time.Second, s.controller.BaseInterval(key), "raises compound while errors continue")

	// the raise is permanent: success clears the streak but not the raise
	s.controller.RecordSuccess(key)
	s.Equal(9*time.Second, s.controller.BaseInterval(key))
}

func (s *admissionSuite) TestStaticIntervalNeverRaised() {
	key := "static-op"
	s.provider.SetOperation(key, config.OperationConfig{Interval: 4 * time.Second})

	for i := 0; i < 10; i++ {
		s.controller.RecordError(key, errors.New("boom"))
	}
	s.Equal(4*time.Second, s.controller.BaseInterval(key))
}

func (s *admissionSuite) TestSnapshotRestoreRoundTrip() {
	key := "fetch-conversations"
	s.True(s.controller.IsAdmitted(key))
	s.controller.RecordError(key, errors.New("boom"))

	lastCall, stats, raised := s.controller.Snapshot()

	restored := NewAdmissionController(s.provider, s.timeSource, testlogger.New(s.T()), tally.NoopScope)
	restored.Restore(lastCall, stats, raised)

	s.Equal(s.controller.Stats(key), restored.Stats(key))
	s.False(restored.IsAdmitted(key), "restored last-call time still throttles")
}

func TestAdmissionNeverPanicsOnNilError(t *testing.T) {
	ts := clock.NewMockedTimeSource()
	controller := NewAdmissionController(config.NewInMemoryProvider(config.Default()), ts, testlogger.New(t), tally.NoopScope)

	require.NotPanics(t, func() {
		controller.RecordError("k", nil)
		controller.RecordSuccess("k")
		controller.IsAdmitted("k")
	})
}
