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

// Package connectivity defines the boundary to the host's connectivity
// monitor. The layer never polls: it reacts to the monitor's event stream
// and drains the retry queue once per restored edge.
package connectivity

//go:generate mockgen -package connectivity -source interface.go -destination monitor_mock.go -self_package github.com/uber/netresilience/connectivity

import "context"

// Reachability is the tri-state answer to "is the internet reachable":
// monitors on some platforms cannot always tell.
type Reachability int

const (
	// ReachabilityUnknown means the monitor could not determine reachability.
	ReachabilityUnknown Reachability = iota
	// ReachabilityYes means the internet is reachable.
	ReachabilityYes
	// ReachabilityNo means the internet is known to be unreachable.
	ReachabilityNo
)

func (r Reachability) String() string {
	switch r {
	case ReachabilityYes:
		return "yes"
	case ReachabilityNo:
		return "no"
	default:
		return "unknown"
	}
}

// State is one connectivity observation.
type State struct {
	Connected         bool
	InternetReachable Reachability
}

// Online reports whether the state counts as usable connectivity: connected,
// and not known to be unreachable.
func (s State) Online() bool {
	return s.Connected && s.InternetReachable != ReachabilityNo
}

// UnsubscribeFunc cancels a subscription. It must be invoked exactly once
// during shutdown to avoid leaking the subscription.
type UnsubscribeFunc func()

// Monitor is the capability consumed from the host's connectivity collaborator.
type Monitor interface {
	// Subscribe registers a callback for connectivity-state change events.
	Subscribe(callback func(State)) UnsubscribeFunc
	// CurrentState fetches the current connectivity state once.
	CurrentState(ctx context.Context) (State, error)
}
