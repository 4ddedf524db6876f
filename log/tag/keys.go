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

package tag

import "time"

// All logging tags are defined in this file, grouped by the component they
// mostly belong to. Prefer reusing an existing tag over adding a near-duplicate.

/////////////////// Common tags ///////////////////

// Error returns tag for an error value
func Error(err error) Tag {
	return newErrorTag("error", err)
}

// Component returns tag for the component emitting the log line
func Component(component string) Tag {
	return newStringTag("component", component)
}

// Lifecycle returns tag for a lifecycle event (starting, started, stopping, stopped)
func Lifecycle(lifecycle string) Tag {
	return newStringTag("lifecycle", lifecycle)
}

// Timestamp returns tag for an arbitrary timestamp
func Timestamp(timestamp time.Time) Tag {
	return newTimeTag("timestamp", timestamp)
}

/////////////////// Admission tags ///////////////////

// OperationKey returns tag for the logical operation key
func OperationKey(key string) Tag {
	return newStringTag("operation-key", key)
}

// Interval returns tag for an admission interval
func Interval(interval time.Duration) Tag {
	return newDurationTag("interval", interval)
}

// ConsecutiveErrors returns tag for the consecutive error count of an operation
func ConsecutiveErrors(count int) Tag {
	return newIntTag("consecutive-errors", count)
}

// SinceLastCall returns tag for the time elapsed since an operation was last admitted
func SinceLastCall(elapsed time.Duration) Tag {
	return newDurationTag("since-last-call", elapsed)
}

/////////////////// Cache tags ///////////////////

// CacheTTL returns tag for the derived time-to-live of a cache entry
func CacheTTL(ttl time.Duration) Tag {
	return newDurationTag("cache-ttl", ttl)
}

// CacheAge returns tag for the age of a cache entry
func CacheAge(age time.Duration) Tag {
	return newDurationTag("cache-age", age)
}

// SweptEntries returns tag for the number of entries removed by a cache sweep
func SweptEntries(count int) Tag {
	return newIntTag("swept-entries", count)
}

/////////////////// Retry queue tags ///////////////////

// QueueItemID returns tag for a queued request id
func QueueItemID(id string) Tag {
	return newStringTag("queue-item-id", id)
}

// QueueSize returns tag for the number of pending queue items
func QueueSize(size int) Tag {
	return newIntTag("queue-size", size)
}

// BatchSize returns tag for the number of items in a drain batch
func BatchSize(size int) Tag {
	return newIntTag("batch-size", size)
}

// RetryCount returns tag for the attempts made so far for a queue item
func RetryCount(count int) Tag {
	return newIntTag("retry-count", count)
}

// MaxRetries returns tag for the retry budget of a queue item
func MaxRetries(max int) Tag {
	return newIntTag("max-retries", max)
}

// AttemptDelay returns tag for the computed delay before a retry attempt
func AttemptDelay(delay time.Duration) Tag {
	return newDurationTag("attempt-delay", delay)
}

// Succeeded returns tag for the number of successful items in a drain batch
func Succeeded(count int) Tag {
	return newIntTag("succeeded", count)
}

// Requeued returns tag for the number of requeued items in a drain batch
func Requeued(count int) Tag {
	return newIntTag("requeued", count)
}

// Dropped returns tag for the number of dropped items in a drain batch
func Dropped(count int) Tag {
	return newIntTag("dropped", count)
}

/////////////////// Connectivity tags ///////////////////

// Connected returns tag for the connectivity state
func Connected(connected bool) Tag {
	return newBoolTag("connected", connected)
}

// InternetReachable returns tag for the reachability state
func InternetReachable(reachable string) Tag {
	return newStringTag("internet-reachable", reachable)
}

/////////////////// Generic value tags ///////////////////

// Value returns tag for an arbitrary value, stringified with %+v when needed
func Value(v interface{}) Tag {
	return newObjectTag("value", v)
}

// Counter returns tag for an arbitrary counter value
func Counter(c int) Tag {
	return newIntTag("counter", c)
}

// Dynamic returns a tag with a caller-chosen key. Intended for rare one-off
// values; prefer a pre-defined tag.
func Dynamic(key string, v interface{}) Tag {
	return newObjectTag(key, v)
}
