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

package connectivity

import (
	"context"
	"sync"
)

// FakeMonitor is an in-process Monitor for tests and simulations. Set drives
// the state; subscribers are notified synchronously from the Set call.
type FakeMonitor struct {
	mu     sync.Mutex
	state  State
	subs   map[int]func(State)
	nextID int
}

var _ Monitor = (*FakeMonitor)(nil)

// NewFakeMonitor creates a fake monitor with the given initial state.
func NewFakeMonitor(initial State) *FakeMonitor {
	return &FakeMonitor{
		state: initial,
		subs:  make(map[int]func(State)),
	}
}

// Set updates the state and notifies all subscribers.
func (m *FakeMonitor) Set(s State) {
	m.mu.Lock()
	m.state = s
	callbacks := make([]func(State), 0, len(m.subs))
	for _, cb := range m.subs {
		callbacks = append(callbacks, cb)
	}
	m.mu.Unlock()

	// notify outside the lock so callbacks may call back into the monitor
	for _, cb := range callbacks {
		cb(s)
	}
}

// SetOnline is shorthand for a fully-online or fully-offline state.
func (m *FakeMonitor) SetOnline(online bool) {
	if online {
		m.Set(State{Connected: true, InternetReachable: ReachabilityYes})
		return
	}
	m.Set(State{Connected: false, InternetReachable: ReachabilityNo})
}

// Subscribe registers a callback; the returned UnsubscribeFunc is idempotent.
func (m *FakeMonitor) Subscribe(callback func(State)) UnsubscribeFunc {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = callback
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// CurrentState returns the current state.
func (m *FakeMonitor) CurrentState(ctx context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

// SubscriberCount reports the number of live subscriptions, for leak checks.
func (m *FakeMonitor) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}
