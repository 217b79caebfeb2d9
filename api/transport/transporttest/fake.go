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

package transporttest

import (
	"context"
	"sync"

	"go.uber.org/rpcretry/api/transport"
	"google.golang.org/grpc/metadata"
)

// FakeFactoryOption customizes a FakeFactory.
type FakeFactoryOption func(*FakeFactory)

// AutoCompleteSends makes every attempt complete send operations with a nil
// error as soon as they are submitted.
func AutoCompleteSends() FakeFactoryOption {
	return func(f *FakeFactory) { f.autoCompleteSends = true }
}

// FakeFactory is an AttemptCallFactory that hands out FakeAttemptCalls and
// remembers them so tests can drive each attempt by hand.
type FakeFactory struct {
	mu                sync.Mutex
	calls             []*FakeAttemptCall
	failures          []error
	autoCompleteSends bool
}

var _ transport.AttemptCallFactory = (*FakeFactory)(nil)

// NewFakeFactory builds a FakeFactory.
func NewFakeFactory(opts ...FakeFactoryOption) *FakeFactory {
	f := &FakeFactory{}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FailNext makes the next CreateAttemptCall return err.
func (f *FakeFactory) FailNext(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, err)
}

// CreateAttemptCall records and returns a new FakeAttemptCall.
func (f *FakeFactory) CreateAttemptCall(ctx context.Context, req *transport.AttemptRequest) (transport.AttemptCall, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return nil, err
	}
	c := &FakeAttemptCall{
		ctx:               ctx,
		req:               *req,
		autoCompleteSends: f.autoCompleteSends,
	}
	f.calls = append(f.calls, c)
	return c, nil
}

// Calls returns every attempt created so far.
func (f *FakeFactory) Calls() []*FakeAttemptCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeAttemptCall(nil), f.calls...)
}

// Len returns the number of attempts created so far.
func (f *FakeFactory) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// Call returns the i-th attempt created, starting at zero.
func (f *FakeFactory) Call(i int) *FakeAttemptCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

// Last returns the most recently created attempt, or nil.
func (f *FakeFactory) Last() *FakeAttemptCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

type fakeBatch struct {
	b            *transport.Batch
	initialDone  bool
	messageDone  bool
	trailingDone bool
	completeDone bool
}

func (fb *fakeBatch) recvDone() bool {
	return (fb.b.RecvInitialMetadata == nil || fb.initialDone) &&
		(fb.b.RecvMessage == nil || fb.messageDone) &&
		(fb.b.RecvTrailingMetadata == nil || fb.trailingDone)
}

// FakeAttemptCall is an in-memory AttemptCall. It records every batch and
// completes operations only when told to, except for cancellation: a
// cancelled FakeAttemptCall fails every outstanding operation, and every
// later one, with the cancellation error.
type FakeAttemptCall struct {
	ctx               context.Context
	req               transport.AttemptRequest
	autoCompleteSends bool

	mu           sync.Mutex
	batches      []*fakeBatch
	cancelled    bool
	cancelErr    error
	initial      metadata.MD
	sentInitial  bool
	messages     []*transport.Message
	halfClosed   bool
	committedRun bool
}

var _ transport.AttemptCall = (*FakeAttemptCall)(nil)

// Context returns the context the attempt was created with.
func (c *FakeAttemptCall) Context() context.Context { return c.ctx }

// Request returns the request the attempt was created with.
func (c *FakeAttemptCall) Request() transport.AttemptRequest { return c.req }

// Commit invokes the attempt's OnCommit hook, once.
func (c *FakeAttemptCall) Commit() {
	c.mu.Lock()
	run := !c.committedRun && c.req.OnCommit != nil
	c.committedRun = true
	c.mu.Unlock()
	if run {
		c.req.OnCommit()
	}
}

// SubmitBatch records b.
func (c *FakeAttemptCall) SubmitBatch(b *transport.Batch) {
	var fns []func()

	c.mu.Lock()
	fb := &fakeBatch{b: b}
	c.batches = append(c.batches, fb)
	if op := b.SendInitialMetadata; op != nil {
		c.initial = op.Metadata.Copy()
		c.sentInitial = true
	}
	if op := b.SendMessage; op != nil {
		c.messages = append(c.messages, op.Message.Clone())
	}
	if b.SendTrailingMetadata != nil {
		c.halfClosed = true
	}
	switch {
	case b.CancelStream != nil:
		if !c.cancelled {
			c.cancelled = true
			c.cancelErr = b.CancelStream.Err
			for _, other := range c.batches {
				if other != fb {
					fns = append(fns, c.failLocked(other, c.cancelErr)...)
				}
			}
		}
		fb.completeDone = true
		if b.OnComplete != nil {
			fns = append(fns, func() { b.OnComplete(nil) })
		}
	case c.cancelled:
		fns = c.failLocked(fb, c.cancelErr)
	case c.autoCompleteSends && b.HasSendOps():
		fns = c.completeLocked(fb, nil)
	}
	c.mu.Unlock()

	run(fns)
}

// Batches returns every batch submitted so far.
func (c *FakeAttemptCall) Batches() []*transport.Batch {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*transport.Batch, len(c.batches))
	for i, fb := range c.batches {
		out[i] = fb.b
	}
	return out
}

// Cancelled reports whether a cancel-stream operation was submitted, and
// with which error.
func (c *FakeAttemptCall) Cancelled() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled, c.cancelErr
}

// SentInitialMetadata returns the initial metadata sent on this attempt.
func (c *FakeAttemptCall) SentInitialMetadata() (metadata.MD, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initial, c.sentInitial
}

// SentPayloads returns the payloads of every message sent on this attempt.
func (c *FakeAttemptCall) SentPayloads() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.messages))
	for i, m := range c.messages {
		out[i] = string(m.Payload)
	}
	return out
}

// HalfClosed reports whether send-trailing-metadata was submitted.
func (c *FakeAttemptCall) HalfClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.halfClosed
}

// Outstanding returns the number of callbacks not yet invoked.
func (c *FakeAttemptCall) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, fb := range c.batches {
		b := fb.b
		if b.RecvInitialMetadata != nil && !fb.initialDone {
			n++
		}
		if b.RecvMessage != nil && !fb.messageDone {
			n++
		}
		if b.RecvTrailingMetadata != nil && !fb.trailingDone {
			n++
		}
		if b.OnComplete != nil && !fb.completeDone {
			n++
		}
	}
	return n
}

// CompleteSends completes every outstanding send batch with err and returns
// how many there were.
func (c *FakeAttemptCall) CompleteSends(err error) int {
	var (
		fns []func()
		n   int
	)
	c.mu.Lock()
	for _, fb := range c.batches {
		if fb.b.HasSendOps() && !fb.completeDone {
			fns = append(fns, c.completeLocked(fb, err)...)
			n++
		}
	}
	c.mu.Unlock()
	run(fns)
	return n
}

// DeliverInitialMetadata completes the outstanding receive-initial-metadata
// operation. It returns false if there is none.
func (c *FakeAttemptCall) DeliverInitialMetadata(res transport.InitialMetadataResult) bool {
	c.mu.Lock()
	var fns []func()
	for _, fb := range c.batches {
		if op := fb.b.RecvInitialMetadata; op != nil && !fb.initialDone {
			fb.initialDone = true
			fns = append(fns, func() { op.Ready(res) })
			fns = append(fns, c.maybeCompleteRecvOnlyLocked(fb)...)
			break
		}
	}
	c.mu.Unlock()
	run(fns)
	return len(fns) > 0
}

// DeliverMessage completes the outstanding receive-message operation. It
// returns false if there is none.
func (c *FakeAttemptCall) DeliverMessage(res transport.MessageResult) bool {
	c.mu.Lock()
	var fns []func()
	for _, fb := range c.batches {
		if op := fb.b.RecvMessage; op != nil && !fb.messageDone {
			fb.messageDone = true
			fns = append(fns, func() { op.Ready(res) })
			fns = append(fns, c.maybeCompleteRecvOnlyLocked(fb)...)
			break
		}
	}
	c.mu.Unlock()
	run(fns)
	return len(fns) > 0
}

// DeliverPayload delivers a message holding payload.
func (c *FakeAttemptCall) DeliverPayload(payload string) bool {
	return c.DeliverMessage(transport.MessageResult{Message: &transport.Message{Payload: []byte(payload)}})
}

// DeliverTrailingMetadata completes the outstanding
// receive-trailing-metadata operation. It returns false if there is none.
func (c *FakeAttemptCall) DeliverTrailingMetadata(res transport.TrailingMetadataResult) bool {
	c.mu.Lock()
	var fns []func()
	for _, fb := range c.batches {
		if op := fb.b.RecvTrailingMetadata; op != nil && !fb.trailingDone {
			fb.trailingDone = true
			fns = append(fns, func() { op.Ready(res) })
			fns = append(fns, c.maybeCompleteRecvOnlyLocked(fb)...)
			break
		}
	}
	c.mu.Unlock()
	run(fns)
	return len(fns) > 0
}

// Finish ends the attempt the way a server ending the stream with res
// would: outstanding receive-initial-metadata reports a trailers-only
// response, outstanding receive-message reports end of stream, outstanding
// sends complete, and receive-trailing-metadata gets res.
func (c *FakeAttemptCall) Finish(res transport.TrailingMetadataResult) {
	c.DeliverInitialMetadata(transport.InitialMetadataResult{TrailersOnly: true})
	c.DeliverMessage(transport.MessageResult{})
	c.CompleteSends(nil)
	c.DeliverTrailingMetadata(res)
}

// FinishWithError is Finish with the given status error.
func (c *FakeAttemptCall) FinishWithError(err error) {
	c.Finish(transport.TrailingMetadataResult{Err: err})
}

func (c *FakeAttemptCall) completeLocked(fb *fakeBatch, err error) []func() {
	if fb.completeDone {
		return nil
	}
	fb.completeDone = true
	if fb.b.OnComplete == nil {
		return nil
	}
	onComplete := fb.b.OnComplete
	return []func(){func() { onComplete(err) }}
}

func (c *FakeAttemptCall) maybeCompleteRecvOnlyLocked(fb *fakeBatch) []func() {
	if fb.b.HasSendOps() || fb.b.CancelStream != nil || !fb.recvDone() {
		return nil
	}
	return c.completeLocked(fb, nil)
}

func (c *FakeAttemptCall) failLocked(fb *fakeBatch, err error) []func() {
	var fns []func()
	b := fb.b
	if op := b.RecvInitialMetadata; op != nil && !fb.initialDone {
		fb.initialDone = true
		fns = append(fns, func() { op.Ready(transport.InitialMetadataResult{Err: err}) })
	}
	if op := b.RecvMessage; op != nil && !fb.messageDone {
		fb.messageDone = true
		fns = append(fns, func() { op.Ready(transport.MessageResult{Err: err}) })
	}
	if op := b.RecvTrailingMetadata; op != nil && !fb.trailingDone {
		fb.trailingDone = true
		fns = append(fns, func() { op.Ready(transport.TrailingMetadataResult{Err: err}) })
	}
	// Receive-only batches complete cleanly; their receives carry the error.
	completeErr := err
	if !b.HasSendOps() {
		completeErr = nil
	}
	return append(fns, c.completeLocked(fb, completeErr)...)
}

func run(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
