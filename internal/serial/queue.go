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

// Package serial provides the per-call execution serializer used by the retry
// engine.
//
// Every piece of work that touches a call's state (caller operations,
// transport completions, timer expirations) is posted to the call's Queue.
// The Queue runs posted tasks one at a time, to completion, in the order
// they were posted. A goroutine that posts to an idle Queue runs the task
// itself and keeps draining until the Queue is empty; posts made while a
// task is running, including from inside that task, are appended and run by
// the draining goroutine.
package serial

import "sync"

// Queue is a non-reentrant execution serializer. The zero value is ready to
// use.
type Queue struct {
	mu      sync.Mutex
	tasks   []func()
	running bool
}

// Run posts task to the queue. If no other goroutine is draining the queue,
// Run drains it, including task, before returning.
func (q *Queue) Run(task func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	for len(q.tasks) > 0 {
		next := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()
		next()
		q.mu.Lock()
	}
	q.tasks = nil
	q.running = false
	q.mu.Unlock()
}

// ClosureList collects callbacks produced while a task holds the queue so
// that they run after the task's state changes are complete.
//
// A ClosureList belongs to a single Queue and must only be used from tasks
// running on it.
type ClosureList struct {
	fns []func()
}

// Add appends fn to the list. Nil functions are ignored.
func (l *ClosureList) Add(fn func()) {
	if fn != nil {
		l.fns = append(l.fns, fn)
	}
}

// Len returns the number of closures waiting to run.
func (l *ClosureList) Len() int { return len(l.fns) }

// Run runs and removes every closure in the order added. Closures added
// while Run is in progress also run before it returns.
func (l *ClosureList) Run() {
	for len(l.fns) > 0 {
		fns := l.fns
		l.fns = nil
		for _, fn := range fns {
			fn()
		}
	}
}
