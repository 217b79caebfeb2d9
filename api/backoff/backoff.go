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

// Package backoff defines the interfaces for the delays a call waits between
// retry attempts.
package backoff

import "time"

// Strategy is a factory for backoff algorithms.
// Each backoff instance captures its own state, typically a running delay
// and a random number generator, so every call gets its own instance.
type Strategy interface {
	Backoff() Backoff
}

// Backoff computes the delay before the next retry attempt of a single call.
//
// Instances are used from within a single call's serialized context and need
// not be safe for concurrent use.
type Backoff interface {
	// NextAttemptDelay returns the delay to wait before the next attempt.
	// Each call advances the sequence.
	NextAttemptDelay() time.Duration

	// Reset restores the sequence to its initial state so that the next
	// NextAttemptDelay returns the initial delay again.
	Reset()
}
