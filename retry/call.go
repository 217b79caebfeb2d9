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

import (
	"context"
	"time"

	"go.uber.org/rpcretry/api/backoff"
	"go.uber.org/rpcretry/api/transport"
	"go.uber.org/rpcretry/internal/clock"
	"go.uber.org/rpcretry/internal/serial"
	"go.uber.org/rpcretry/rpcerrors"
	"go.uber.org/zap"
	"google.golang.org/grpc/metadata"
)

// Call is a single logical RPC that may be carried out over several
// transport attempts.
//
// The caller drives a Call by starting batches on it exactly as it would on
// a transport.AttemptCall. Send operations are cached so that they can be
// replayed on a new attempt, and receive results are held back until the
// call commits to the attempt that produced them.
//
// All state is owned by a serial queue: batches started by the caller,
// transport callbacks and timers are all turned into tasks on that queue.
// Caller callbacks and transport submissions are collected while a task runs
// and invoked once it finishes.
type Call struct {
	ctx    context.Context
	req    Request
	out    *Outbound
	policy *Policy
	logger *zap.Logger

	// Only valid when policy is non-nil.
	backoff backoff.Backoff

	queue    serial.Queue
	closures serial.ClosureList

	pending                     [numPendingSlots]*pendingBatch
	pendingSendInitialMetadata  bool
	pendingSendMessage          bool
	pendingSendTrailingMetadata bool
	bytesBuffered               int

	retryCommitted       bool
	retryCodepathStarted bool
	onCommitInvoked      bool

	// Set once a transparent retry was used for an attempt that reached the
	// server's transport but not the application.
	sentTransparentRetryNotSeenByServer bool

	retryTimer              *callTimer
	transparentRetryPending bool

	seenSendInitialMetadata  bool
	sendInitialMetadata      metadata.MD
	sendMessages             []*transport.Message
	seenSendTrailingMetadata bool
	sendTrailingMetadata     metadata.MD

	attemptsStarted   int
	attemptsCompleted int

	attempt       *callAttempt
	committedCall transport.AttemptCall

	// Batches started after the call was cancelled or failed are failed
	// with this error.
	cancelErr error
}

type callTimer struct {
	timer clock.Timer
}

func (t *callTimer) stop() { t.timer.Stop() }

func newCall(ctx context.Context, out *Outbound, req *Request, pol *Policy) *Call {
	c := &Call{
		ctx:    ctx,
		req:    *req,
		out:    out,
		policy: pol,
		logger: out.opts.logger.With(
			zap.String("service", req.Service),
			zap.String("procedure", req.Procedure),
		),
	}
	if pol != nil {
		c.backoff = pol.newBackoff()
	}
	return c
}

// Context returns the context the call was created with.
func (c *Call) Context() context.Context { return c.ctx }

// Policy returns the retry policy applied to the call, if any.
func (c *Call) Policy() *Policy { return c.policy }

// StartBatch starts a batch of operations on the call. It never blocks on
// the transport; the batch's callbacks report the outcome.
//
// A batch carrying a CancelStream op cancels the call. Any other ops in the
// same batch are ignored.
func (c *Call) StartBatch(b *transport.Batch) {
	c.run(func() { c.startBatch(b) })
}

// Cancel cancels the call with err. A nil err cancels with a Cancelled
// status.
func (c *Call) Cancel(err error) {
	c.StartBatch(&transport.Batch{CancelStream: &transport.CancelStreamOp{Err: err}})
}

func (c *Call) run(task func()) {
	c.queue.Run(func() {
		task()
		c.closures.Run()
	})
}

// post schedules task to run on the queue after the current task and its
// closures.
func (c *Call) post(task func()) {
	c.closures.Add(func() { c.run(task) })
}

func (c *Call) startBatch(b *transport.Batch) {
	if call := c.committedCall; call != nil {
		c.closures.Add(func() { call.SubmitBatch(b) })
		return
	}
	if err := c.cancelErr; err != nil {
		c.closures.Add(func() { b.Fail(err) })
		return
	}
	if b.CancelStream != nil {
		c.cancelFromSurface(b)
		return
	}
	if b.Empty() {
		if b.OnComplete != nil {
			c.closures.Add(func() { b.OnComplete(nil) })
		}
		return
	}

	c.pendingAdd(b)
	if c.retryTimer != nil || c.transparentRetryPending {
		return
	}
	if c.attempt == nil {
		if !c.retryCodepathStarted && c.retryCommitted && !c.hasPerAttemptRecvTimeout() {
			c.startCommittedCall()
			return
		}
		c.retryCodepathStarted = true
		c.createCallAttempt(false)
		return
	}
	c.attempt.startRetriableBatches()
}

func (c *Call) hasPerAttemptRecvTimeout() bool {
	return c.policy != nil && c.policy.PerAttemptRecvTimeout() > 0
}

func (c *Call) cancelFromSurface(b *transport.Batch) {
	err := b.CancelStream.Err
	if err == nil {
		err = rpcerrors.CancelledErrorf("call cancelled")
	}
	c.cancelErr = err
	c.logger.Debug("retry: call cancelled", zap.Error(err))
	c.out.observer.failure(failureCancelled)
	c.pendingFail(err)

	if a := c.attempt; a != nil {
		c.retryCommit(a, commitCancelled)
		a.cancelFromSurface(b)
		return
	}
	if c.retryTimer != nil {
		c.retryTimer.stop()
		c.retryTimer = nil
		c.freeAllCachedSendOpData()
	}
	if b.OnComplete != nil {
		c.closures.Add(func() { b.OnComplete(nil) })
	}
}

// startCommittedCall skips the retry machinery entirely: the call committed
// before any attempt was made, so batches go straight to the transport.
func (c *Call) startCommittedCall() {
	c.attemptsStarted++
	call, err := c.out.factory.CreateAttemptCall(c.ctx, &transport.AttemptRequest{
		Service:   c.req.Service,
		Procedure: c.req.Procedure,
		OnCommit:  c.req.OnCommit,
		Attempt:   c.attemptsStarted,
	})
	if err != nil {
		c.fail(err)
		return
	}
	c.out.observer.attempt(false)
	c.logger.Debug("retry: starting committed call without retries")
	c.committedCall = call
	c.onCommitInvoked = true
	c.pendingResume()
}

func (c *Call) createCallAttempt(transparent bool) {
	a, err := newCallAttempt(c, transparent)
	if err != nil {
		c.fail(err)
		return
	}
	c.attempt = a
	a.startRetriableBatches()
}

// fail terminates the call after the transport refused to create an
// attempt.
func (c *Call) fail(err error) {
	err = rpcerrors.FromError(err)
	c.logger.Warn("retry: failed to create call attempt", zap.Error(err))
	c.out.observer.failure(failureTransport)
	if !c.retryCommitted {
		c.retryCommitted = true
		c.out.observer.commit(commitTransport)
	}
	c.cancelErr = err
	c.pendingFail(err)
	c.freeAllCachedSendOpData()
}

// retryCommit gives up on retries. a is the attempt the call commits to, if
// any.
func (c *Call) retryCommit(a *callAttempt, reason commitReason) {
	if c.retryCommitted {
		return
	}
	c.retryCommitted = true
	c.out.observer.commit(reason)
	c.logger.Debug("retry: committing call", zap.String("reason", string(reason)))
	if a == nil {
		return
	}
	a.commit()
	if a.transportCommitted {
		c.invokeOnCommit()
	}
	a.freeCachedSendOpDataAfterCommit()
}

func (c *Call) invokeOnCommit() {
	if c.onCommitInvoked || c.req.OnCommit == nil {
		return
	}
	c.onCommitInvoked = true
	c.closures.Add(c.req.OnCommit)
}

func (c *Call) startRetryTimer(delay time.Duration) {
	c.attempt = nil
	c.out.observer.retry()
	c.logger.Debug("retry: retrying call", zap.Duration("delay", delay), zap.Int("attempts", c.attemptsCompleted))
	t := &callTimer{}
	t.timer = c.out.opts.clock.AfterFunc(delay, func() {
		c.run(func() { c.onRetryTimer(t) })
	})
	c.retryTimer = t
}

func (c *Call) onRetryTimer(t *callTimer) {
	if c.retryTimer != t {
		return
	}
	c.retryTimer = nil
	c.createCallAttempt(false)
}

func (c *Call) startTransparentRetry() {
	c.attempt = nil
	c.transparentRetryPending = true
	c.logger.Debug("retry: retrying call transparently")
	c.post(func() {
		c.transparentRetryPending = false
		if c.cancelErr != nil {
			return
		}
		c.createCallAttempt(true)
	})
}

// shouldRetry decides whether a failed attempt is retried and, if so, after
// how long. code is nil when the attempt produced no status.
func (c *Call) shouldRetry(code *rpcerrors.Code, pushback time.Duration, hasPushback bool) (bool, time.Duration) {
	if c.policy == nil {
		return false, 0
	}
	if code != nil {
		if *code == rpcerrors.CodeOK {
			if c.out.throttle != nil {
				c.out.throttle.RecordSuccess()
			}
			c.out.observer.success()
			return false, 0
		}
		if !c.policy.RetryableCodes().Contains(*code) {
			c.out.observer.failure(failureUnretryable)
			c.logger.Debug("retry: status not retryable", zap.Stringer("code", *code))
			return false, 0
		}
	}
	if c.out.throttle != nil && !c.out.throttle.RecordFailure() {
		c.out.observer.failure(failureThrottled)
		c.out.throttleLog.Warn("retry: retries throttled",
			zap.String("service", c.req.Service),
			zap.String("procedure", c.req.Procedure),
		)
		return false, 0
	}
	if c.retryCommitted {
		c.out.observer.failure(failureCommitted)
		c.logger.Debug("retry: call already committed")
		return false, 0
	}
	c.attemptsCompleted++
	if c.attemptsCompleted >= c.policy.MaxAttempts() {
		c.out.observer.failure(failureMaxAttempts)
		c.logger.Debug("retry: exceeded max attempts", zap.Int("maxAttempts", c.policy.MaxAttempts()))
		return false, 0
	}

	var delay time.Duration
	if hasPushback {
		if pushback < 0 {
			c.out.observer.failure(failurePushback)
			c.logger.Debug("retry: server pushback says not to retry")
			return false, 0
		}
		delay = pushback
		c.backoff.Reset()
	} else {
		delay = c.backoff.NextAttemptDelay()
	}

	if deadline, ok := c.ctx.Deadline(); ok && !c.out.opts.clock.Now().Add(delay).Before(deadline) {
		c.out.observer.failure(failureNoTime)
		c.logger.Debug("retry: no time left for another attempt", zap.Duration("delay", delay))
		return false, 0
	}
	return true, delay
}

func (c *Call) freeCachedSendInitialMetadata() {
	c.sendInitialMetadata = nil
}

func (c *Call) freeCachedSendMessage(i int) {
	c.sendMessages[i] = nil
}

func (c *Call) freeCachedSendTrailingMetadata() {
	c.sendTrailingMetadata = nil
}

func (c *Call) freeAllCachedSendOpData() {
	c.freeCachedSendInitialMetadata()
	for i := range c.sendMessages {
		c.freeCachedSendMessage(i)
	}
	c.freeCachedSendTrailingMetadata()
}
