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

package retryqueue

import (
	"time"

	"github.com/uber/netresilience/config"
)

type (
	// RetryCondition decides whether a failure is eligible for queueing.
	RetryCondition func(err error) bool

	// Config controls how one queued request is replayed. Queue items carry
	// an immutable snapshot taken at enqueue time, so later changes to the
	// defaults never alter in-flight items.
	Config struct {
		// MaxRetries is the total attempt budget; the MaxRetries-th failed
		// attempt drops the item.
		MaxRetries int
		// BaseDelay is the delay before the first attempt.
		BaseDelay time.Duration
		// MaxDelay caps the exponentially-grown delay.
		MaxDelay time.Duration
		// ExponentialBackoff doubles the delay per attempt already made;
		// when false every attempt waits BaseDelay.
		ExponentialBackoff bool
		// RetryCondition, if set, must accept the original failure for the
		// item to be queued at all.
		RetryCondition RetryCondition
	}
)

// DefaultConfig returns the package default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:         3,
		BaseDelay:          time.Second,
		MaxDelay:           30 * time.Second,
		ExponentialBackoff: true,
	}
}

// ConfigFromDefaults builds a Config from the host's configured retry
// defaults.
func ConfigFromDefaults(rc config.RetryConfig) Config {
	return Config{
		MaxRetries:         rc.MaxRetries,
		BaseDelay:          rc.BaseDelay,
		MaxDelay:           rc.MaxDelay,
		ExponentialBackoff: rc.ExponentialBackoff,
	}
}

// BackoffDelay computes the delay before an attempt, excluding jitter:
// min(BaseDelay x 2^retryCount, MaxDelay) when exponential, else BaseDelay.
func BackoffDelay(cfg Config, retryCount int) time.Duration {
	if !cfg.ExponentialBackoff {
		return cfg.BaseDelay
	}
	delay := cfg.BaseDelay
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if cfg.MaxDelay > 0 && delay >= cfg.MaxDelay {
			return cfg.MaxDelay
		}
	}
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}
