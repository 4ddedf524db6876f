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

// Package config holds the host-supplied configuration surface of the
// resilience layer: global and per-operation admission intervals, cache
// bounds, retry defaults and outbound rate caps.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/validator.v2"
	"gopkg.in/yaml.v2"
)

const (
	// DefaultGlobalMinInterval is the floor applied to every effective
	// admission interval.
	DefaultGlobalMinInterval = 1 * time.Second
	// DefaultInterval is the base admission interval for operations without
	// a configured one.
	DefaultInterval = 5 * time.Second
	// DefaultMaxBackoffInterval caps error-scaled admission intervals and
	// dynamically-raised base intervals.
	DefaultMaxBackoffInterval = 5 * time.Minute
	// DefaultCacheMaxAge bounds the derived TTL of cache entries and drives
	// the sweep of stale entries.
	DefaultCacheMaxAge = 24 * time.Hour
	// DefaultCacheSweepInterval is how often the layer reclaims entries older
	// than CacheMaxAge while started.
	DefaultCacheSweepInterval = 10 * time.Minute
	// DefaultRateWindow is the fixed window used by per-operation request
	// counters.
	DefaultRateWindow = 1 * time.Minute
)

type (
	// Config is the root configuration for the resilience layer.
	// All durations accept Go duration strings in YAML ("500ms", "5s", "24h").
	Config struct {
		// GlobalMinInterval is the minimum effective admission interval for
		// any operation, regardless of per-operation configuration.
		GlobalMinInterval time.Duration `yaml:"globalMinInterval"`
		// DefaultInterval is the base admission interval used for operations
		// that have no entry in Operations.
		DefaultInterval time.Duration `yaml:"defaultInterval"`
		// MaxBackoffInterval caps the error-scaled admission interval.
		MaxBackoffInterval time.Duration `yaml:"maxBackoffInterval"`
		// CacheMaxAge bounds the derived TTL of response cache entries.
		CacheMaxAge time.Duration `yaml:"cacheMaxAge"`
		// CacheSweepInterval is how often expired cache entries are reclaimed.
		// Zero disables the background sweep.
		CacheSweepInterval time.Duration `yaml:"cacheSweepInterval"`
		// RateWindow is the window duration of per-operation request counters.
		RateWindow time.Duration `yaml:"rateWindow"`
		// MaxRequestsPerWindow limits admitted calls per operation per
		// RateWindow. Zero disables the windowed limit.
		MaxRequestsPerWindow int `yaml:"maxRequestsPerWindow" validate:"min=0"`
		// OutboundRPS caps total outbound attempts across all operations.
		// Zero disables the cap.
		OutboundRPS float64 `yaml:"outboundRPS" validate:"min=0"`
		// OutboundBurst is the burst size of the outbound cap.
		OutboundBurst int `yaml:"outboundBurst" validate:"min=0"`
		// Operations holds per-operation-key overrides.
		Operations map[string]OperationConfig `yaml:"operations"`
		// Retry holds the default retry queue configuration.
		Retry RetryConfig `yaml:"retry"`
	}

	// OperationConfig overrides admission behavior for one operation key.
	OperationConfig struct {
		// Interval is the base admission interval for this operation.
		Interval time.Duration `yaml:"interval"`
		// Dynamic marks the operation's interval as adjustable: sustained
		// errors permanently raise it (bounded by MaxBackoffInterval).
		Dynamic bool `yaml:"dynamic"`
	}

	// RetryConfig is the default configuration for the retry queue; it can be
	// overridden per enqueue call.
	RetryConfig struct {
		MaxRetries         int           `yaml:"maxRetries" validate:"min=0"`
		BaseDelay          time.Duration `yaml:"baseDelay"`
		MaxDelay           time.Duration `yaml:"maxDelay"`
		ExponentialBackoff bool          `yaml:"exponentialBackoff"`
	}
)

// Load decodes a YAML config file, fills defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.FillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config with every field at its default.
func Default() *Config {
	var cfg Config
	cfg.FillDefaults()
	return &cfg
}

// FillDefaults populates zero-valued fields with package defaults.
func (c *Config) FillDefaults() {
	if c.GlobalMinInterval == 0 {
		c.GlobalMinInterval = DefaultGlobalMinInterval
	}
	if c.DefaultInterval == 0 {
		c.DefaultInterval = DefaultInterval
	}
	if c.MaxBackoffInterval == 0 {
		c.MaxBackoffInterval = DefaultMaxBackoffInterval
	}
	if c.CacheMaxAge == 0 {
		c.CacheMaxAge = DefaultCacheMaxAge
	}
	if c.CacheSweepInterval == 0 {
		c.CacheSweepInterval = DefaultCacheSweepInterval
	}
	if c.RateWindow == 0 {
		c.RateWindow = DefaultRateWindow
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = 3
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = time.Second
		c.Retry.ExponentialBackoff = true
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = 30 * time.Second
	}
}

// Validate checks field constraints and cross-field consistency.
func (c *Config) Validate() error {
	if err := validator.Validate(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if c.GlobalMinInterval < 0 || c.DefaultInterval < 0 || c.MaxBackoffInterval < 0 {
		return fmt.Errorf("validate config: intervals must not be negative")
	}
	if c.MaxBackoffInterval < c.GlobalMinInterval {
		return fmt.Errorf("validate config: maxBackoffInterval %v below globalMinInterval %v", c.MaxBackoffInterval, c.GlobalMinInterval)
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("validate config: retry maxDelay %v below baseDelay %v", c.Retry.MaxDelay, c.Retry.BaseDelay)
	}
	for key, op := range c.Operations {
		if op.Interval < 0 {
			return fmt.Errorf("validate config: operation %q has negative interval", key)
		}
	}
	return nil
}
