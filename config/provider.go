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

package config

import (
	"sync"
	"time"
)

type (
	// Provider supplies configuration values to the layer's components.
	// Values are read at decision time: a change takes effect on the next
	// admission or cache decision, never retroactively.
	Provider interface {
		GlobalMinInterval() time.Duration
		DefaultInterval() time.Duration
		MaxBackoffInterval() time.Duration
		// BaseInterval returns the configured base interval for an operation
		// key (zero if unset) and whether the interval is dynamic.
		BaseInterval(key string) (interval time.Duration, dynamic bool)
		CacheMaxAge() time.Duration
		CacheSweepInterval() time.Duration
		RateWindow() time.Duration
		MaxRequestsPerWindow() int
		// OutboundLimit returns the outbound attempts cap; rps 0 disables it.
		OutboundLimit() (rps float64, burst int)
		RetryDefaults() RetryConfig
	}

	staticProvider struct {
		cfg *Config
	}

	// InMemoryProvider is a settable Provider for tests and embedded hosts.
	InMemoryProvider struct {
		mu  sync.RWMutex
		cfg Config
	}
)

var (
	_ Provider = (*staticProvider)(nil)
	_ Provider = (*InMemoryProvider)(nil)
)

// NewStaticProvider returns a Provider over an immutable Config snapshot.
func NewStaticProvider(cfg *Config) Provider {
	snapshot := *cfg
	return &staticProvider{cfg: &snapshot}
}

func (p *staticProvider) GlobalMinInterval() time.Duration  { return p.cfg.GlobalMinInterval }
func (p *staticProvider) DefaultInterval() time.Duration    { return p.cfg.DefaultInterval }
func (p *staticProvider) MaxBackoffInterval() time.Duration { return p.cfg.MaxBackoffInterval }
func (p *staticProvider) CacheMaxAge() time.Duration        { return p.cfg.CacheMaxAge }
func (p *staticProvider) CacheSweepInterval() time.Duration { return p.cfg.CacheSweepInterval }
func (p *staticProvider) RateWindow() time.Duration         { return p.cfg.RateWindow }
func (p *staticProvider) MaxRequestsPerWindow() int         { return p.cfg.MaxRequestsPerWindow }
func (p *staticProvider) RetryDefaults() RetryConfig        { return p.cfg.Retry }

func (p *staticProvider) BaseInterval(key string) (time.Duration, bool) {
	op, ok := p.cfg.Operations[key]
	if !ok {
		return 0, false
	}
	return op.Interval, op.Dynamic
}

func (p *staticProvider) OutboundLimit() (float64, int) {
	return p.cfg.OutboundRPS, p.cfg.OutboundBurst
}

// NewInMemoryProvider returns a settable Provider seeded from cfg.
func NewInMemoryProvider(cfg *Config) *InMemoryProvider {
	return &InMemoryProvider{cfg: *cfg}
}

func (p *InMemoryProvider) GlobalMinInterval() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.GlobalMinInterval
}

func (p *InMemoryProvider) DefaultInterval() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.DefaultInterval
}

func (p *InMemoryProvider) MaxBackoffInterval() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.MaxBackoffInterval
}

func (p *InMemoryProvider) BaseInterval(key string) (time.Duration, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	op, ok := p.cfg.Operations[key]
	if !ok {
		return 0, false
	}
	return op.Interval, op.Dynamic
}

func (p *InMemoryProvider) CacheMaxAge() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.CacheMaxAge
}

func (p *InMemoryProvider) CacheSweepInterval() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.CacheSweepInterval
}

func (p *InMemoryProvider) RateWindow() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.RateWindow
}

func (p *InMemoryProvider) MaxRequestsPerWindow() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.MaxRequestsPerWindow
}

func (p *InMemoryProvider) OutboundLimit() (float64, int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.OutboundRPS, p.cfg.OutboundBurst
}

func (p *InMemoryProvider) RetryDefaults() RetryConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.Retry
}

// SetOperation sets or replaces the per-key override for an operation.
func (p *InMemoryProvider) SetOperation(key string, op OperationConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.Operations == nil {
		p.cfg.Operations = make(map[string]OperationConfig)
	}
	p.cfg.Operations[key] = op
}

// SetGlobalMinInterval updates the global interval floor.
func (p *InMemoryProvider) SetGlobalMinInterval(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.GlobalMinInterval = d
}

// SetCacheMaxAge updates the cache age bound.
func (p *InMemoryProvider) SetCacheMaxAge(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.CacheMaxAge = d
}

// SetMaxRequestsPerWindow updates the windowed request limit.
func (p *InMemoryProvider) SetMaxRequestsPerWindow(max int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.MaxRequestsPerWindow = max
}
