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

package throttle

import "sync"

// Registry maps destination names to their shared Throttle.
//
// A Registry is meant to be built once per process (or per group of
// channels that should share retry budgets) and handed to every outbound
// that talks to the same destinations.
type Registry struct {
	mu        sync.Mutex
	throttles map[string]*Throttle
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{throttles: make(map[string]*Throttle)}
}

// Get returns the Throttle for destination, creating it if needed.
//
// If a Throttle already exists for destination with different parameters,
// it is replaced by a new instance that inherits its fill fraction, and the
// new instance is returned.
func (r *Registry) Get(destination string, maxMilliTokens, milliTokenRatio int64) *Throttle {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.throttles[destination]
	if existing != nil {
		existing = existing.newest()
		if existing.maxMilliTokens == maxMilliTokens && existing.milliTokenRatio == milliTokenRatio {
			return existing
		}
	}
	t := New(maxMilliTokens, milliTokenRatio, existing)
	r.throttles[destination] = t
	return t
}

// Len returns the number of destinations with a Throttle.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.throttles)
}
