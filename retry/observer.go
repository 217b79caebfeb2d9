// Copyright (c) 2026 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package retry

import "github.com/uber-go/tally"

// failureReason tags retry_failures: why a failed attempt was not retried.
type failureReason string

const (
	failureUnretryable failureReason = "unretryable"
	failureThrottled   failureReason = "throttled"
	failureCommitted   failureReason = "committed"
	failureMaxAttempts failureReason = "max_attempts"
	failurePushback    failureReason = "pushback"
	failureNoTime      failureReason = "no_time"
	failureCancelled   failureReason = "cancelled"
	failureTransport   failureReason = "transport"
)

var _failureReasons = []failureReason{
	failureUnretryable,
	failureThrottled,
	failureCommitted,
	failureMaxAttempts,
	failurePushback,
	failureNoTime,
	failureCancelled,
	failureTransport,
}

// commitReason tags retry_commits: what made a call give up on retries.
type commitReason string

const (
	commitResponse    commitReason = "response"
	commitFinalStatus commitReason = "final_status"
	commitBufferFull  commitReason = "buffer_full"
	commitRecvTimeout commitReason = "recv_timeout"
	commitCancelled   commitReason = "cancelled"
	commitTransport   commitReason = "transport"
)

var _commitReasons = []commitReason{
	commitResponse,
	commitFinalStatus,
	commitBufferFull,
	commitRecvTimeout,
	commitCancelled,
	commitTransport,
}

type observer struct {
	callCounter        tally.Counter
	attemptCounter     tally.Counter
	transparentCounter tally.Counter
	retryCounter       tally.Counter
	successCounter     tally.Counter
	fastPathCounter    tally.Counter
	failureCounters    map[failureReason]tally.Counter
	commitCounters     map[commitReason]tally.Counter
}

func newObserver(scope tally.Scope) *observer {
	o := &observer{
		callCounter:        scope.Counter("retry_calls"),
		attemptCounter:     scope.Counter("retry_attempts"),
		transparentCounter: scope.Counter("retry_transparent"),
		retryCounter:       scope.Counter("retry_scheduled"),
		successCounter:     scope.Counter("retry_successes"),
		fastPathCounter:    scope.Counter("retry_fast_path"),
		failureCounters:    make(map[failureReason]tally.Counter, len(_failureReasons)),
		commitCounters:     make(map[commitReason]tally.Counter, len(_commitReasons)),
	}
	for _, r := range _failureReasons {
		o.failureCounters[r] = scope.Tagged(map[string]string{"error": string(r)}).Counter("retry_failures")
	}
	for _, r := range _commitReasons {
		o.commitCounters[r] = scope.Tagged(map[string]string{"reason": string(r)}).Counter("retry_commits")
	}
	return o
}

func (o *observer) call() {
	o.callCounter.Inc(1)
}

func (o *observer) attempt(transparent bool) {
	o.attemptCounter.Inc(1)
	if transparent {
		o.transparentCounter.Inc(1)
	}
}

func (o *observer) retry() {
	o.retryCounter.Inc(1)
}

func (o *observer) success() {
	o.successCounter.Inc(1)
}

func (o *observer) fastPath() {
	o.fastPathCounter.Inc(1)
}

func (o *observer) failure(r failureReason) {
	o.failureCounters[r].Inc(1)
}

func (o *observer) commit(r commitReason) {
	o.commitCounters[r].Inc(1)
}
