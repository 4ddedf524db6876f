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

import "sync"

// EdgeDetector turns a stream of connectivity observations into restored
// edges: transitions from offline to online. The detector starts offline, so
// an initially-online observation counts as an edge; monitors deliver the
// current state on subscription, and a freshly started layer with a backlog
// should drain it.
type EdgeDetector struct {
	mu     sync.Mutex
	online bool
}

// NewEdgeDetector creates a detector in the offline state.
func NewEdgeDetector() *EdgeDetector {
	return &EdgeDetector{}
}

// Observe records a state observation and reports whether it is a restored
// edge. Repeated online observations report an edge only once.
func (d *EdgeDetector) Observe(s State) (restored bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	online := s.Online()
	restored = online && !d.online
	d.online = online
	return restored
}

// Online reports the last observed state.
func (d *EdgeDetector) Online() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.online
}
