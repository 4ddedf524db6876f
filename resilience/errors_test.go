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

package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

type httpError struct {
	code int
}

func (e *httpError) Error() string   { return fmt.Sprintf("request failed with status code %d", e.code) }
func (e *httpError) StatusCode() int { return e.code }

func TestIsConnectivityError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrNetworkUnavailable, true},
		{"wrapped sentinel", fmt.Errorf("fetch conversations: %w", ErrNetworkUnavailable), true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"dns failure", &net.DNSError{Err: "no such host", Name: "api.example.com"}, true},
		{"op error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("unreachable")}, true},
		{"connection refused errno", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"connection reset errno", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"flattened message", errors.New("Post \"https://api\": connection refused"), true},
		{"timeout message", errors.New("request timed out after 30s"), true},
		{"server rejection", errors.New("validation failed: missing field"), false},
		{"rate limit", ErrRateLimited, false},
		{"http 500", &httpError{code: 500}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsConnectivityError(tc.err))
		})
	}
}

func TestIsRateLimitError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrRateLimited, true},
		{"wrapped sentinel", fmt.Errorf("fetch: %w", ErrRateLimited), true},
		{"http 429", &httpError{code: 429}, true},
		{"wrapped http 429", fmt.Errorf("call: %w", &httpError{code: 429}), true},
		{"message", errors.New("server says: Too Many Requests"), true},
		{"http 503", &httpError{code: 503}, false},
		{"connectivity", ErrNetworkUnavailable, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRateLimitError(tc.err))
		})
	}
}
