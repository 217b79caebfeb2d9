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

// Package throttle implements the per-destination retry token bucket.
//
// Tokens are counted in thousandths so that fractional token ratios (0.1,
// 0.25) stay exact. Every call to a destination that fails with a retryable
// status spends one token; every success refunds the token ratio. Retries
// are allowed only while more than half of the bucket remains.
package throttle

import (
	"go.uber.org/atomic"
)

// MilliTokensPerToken is the number of thousandths making up one token.
const MilliTokensPerToken = 1000

// Throttle is the token bucket for one destination.
//
// A Throttle may be replaced by a newer instance when the destination's
// parameters change. Holders of the old instance keep working: every
// operation on a stale Throttle forwards to the newest one in the
// replacement chain.
type Throttle struct {
	maxMilliTokens  int64
	milliTokenRatio int64

	milliTokens atomic.Int64
	replacement atomic.Pointer[Throttle]
}

// New builds a Throttle holding maxMilliTokens/1000 tokens and refunding
// milliTokenRatio/1000 tokens per success.
//
// If previous is non-nil, the new Throttle starts at the same fraction of
// its capacity as previous currently holds, and previous is marked stale in
// favour of the new instance.
func New(maxMilliTokens, milliTokenRatio int64, previous *Throttle) *Throttle {
	t := &Throttle{
		maxMilliTokens:  maxMilliTokens,
		milliTokenRatio: milliTokenRatio,
	}
	initial := maxMilliTokens
	if previous != nil {
		previous = previous.newest()
		fraction := float64(previous.milliTokens.Load()) / float64(previous.maxMilliTokens)
		initial = int64(fraction * float64(maxMilliTokens))
		if initial < 0 {
			initial = 0
		}
		if initial > maxMilliTokens {
			initial = maxMilliTokens
		}
	}
	t.milliTokens.Store(initial)
	if previous != nil {
		previous.replacement.Store(t)
	}
	return t
}

// MaxMilliTokens returns the bucket capacity in thousandths of a token.
func (t *Throttle) MaxMilliTokens() int64 { return t.maxMilliTokens }

// MilliTokenRatio returns the per-success refund in thousandths of a token.
func (t *Throttle) MilliTokenRatio() int64 { return t.milliTokenRatio }

// MilliTokens returns the current token count of the newest instance in the
// replacement chain.
func (t *Throttle) MilliTokens() int64 {
	return t.newest().milliTokens.Load()
}

// Stale reports whether t has been replaced.
func (t *Throttle) Stale() bool {
	return t.replacement.Load() != nil
}

// RecordFailure spends one token and reports whether retries are still
// allowed, that is whether more than half of the bucket remains.
func (t *Throttle) RecordFailure() bool {
	cur := t.newest()
	remaining := cur.add(-MilliTokensPerToken)
	return remaining > cur.maxMilliTokens/2
}

// RecordSuccess refunds the token ratio.
func (t *Throttle) RecordSuccess() {
	cur := t.newest()
	cur.add(cur.milliTokenRatio)
}

func (t *Throttle) newest() *Throttle {
	cur := t
	for {
		next := cur.replacement.Load()
		if next == nil {
			return cur
		}
		cur = next
	}
}

// add adds delta to the token count, saturating at [0, max], and returns
// the new count.
func (t *Throttle) add(delta int64) int64 {
	for {
		old := t.milliTokens.Load()
		next := old + delta
		if next < 0 {
			next = 0
		}
		if next > t.maxMilliTokens {
			next = t.maxMilliTokens
		}
		if t.milliTokens.CompareAndSwap(old, next) {
			return next
		}
	}
}
