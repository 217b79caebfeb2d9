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

package clock

import (
	"container/heap"
	"sync"
	"time"
)

// FakeClock is a clock that only moves forward when told to.
//
// Callbacks scheduled with AfterFunc run synchronously on the goroutine that
// calls Add or Set, in deadline order, without the clock's lock held. A
// callback may schedule or stop other timers.
type FakeClock struct {
	mu     sync.Mutex
	addMu  sync.Mutex
	now    time.Time
	seq    uint64
	timers timers
}

var _ Clock = (*FakeClock)(nil)

// NewFake returns an instance of a fake clock.
// The current time of the fake clock on initialization is the Unix epoch.
func NewFake() *FakeClock {
	return &FakeClock{now: time.Unix(0, 0)}
}

// Add moves the current time of the fake clock forward by the duration,
// running every callback that comes due on the way.
func (fc *FakeClock) Add(d time.Duration) {
	fc.mu.Lock()
	end := fc.now.Add(d)
	fc.mu.Unlock()
	fc.Set(end)
}

// Set advances the current time of the fake clock to the given absolute time.
func (fc *FakeClock) Set(end time.Time) {
	fc.addMu.Lock()
	defer fc.addMu.Unlock()

	fc.mu.Lock()
	for len(fc.timers) > 0 && !fc.timers[0].when.After(end) {
		t := heap.Pop(&fc.timers).(*FakeTimer)
		if fc.now.Before(t.when) {
			fc.now = t.when
		}
		fc.mu.Unlock()
		t.f()
		fc.mu.Lock()
	}
	if fc.now.Before(end) {
		fc.now = end
	}
	fc.mu.Unlock()
}

// Now returns the current time on the fake clock.
func (fc *FakeClock) Now() time.Time {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.now
}

// AfterFunc schedules f to run once the clock has moved d past now.
func (fc *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	return fc.FakeAfterFunc(d, f)
}

// FakeAfterFunc is AfterFunc exposing the fake timer type.
func (fc *FakeClock) FakeAfterFunc(d time.Duration, f func()) *FakeTimer {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	fc.seq++
	t := &FakeTimer{
		clock: fc,
		when:  fc.now.Add(d),
		seq:   fc.seq,
		f:     f,
	}
	heap.Push(&fc.timers, t)
	return t
}

// Pending reports how many timers are scheduled and not yet fired or
// stopped.
func (fc *FakeClock) Pending() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return len(fc.timers)
}

// NextDeadline returns the time at which the earliest scheduled timer fires.
func (fc *FakeClock) NextDeadline() (time.Time, bool) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if len(fc.timers) == 0 {
		return time.Time{}, false
	}
	return fc.timers[0].when, true
}

// FakeTimer represents a single scheduled callback.
type FakeTimer struct {
	clock *FakeClock
	when  time.Time
	seq   uint64
	f     func()
	index int
}

// When returns the time the timer fires at.
func (t *FakeTimer) When() time.Time { return t.when }

// Stop removes the timer from the scheduled timers.
func (t *FakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.index < 0 {
		return false
	}
	heap.Remove(&t.clock.timers, t.index)
	return true
}
