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
	"fmt"
	"strconv"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"go.uber.org/rpcretry/api/transport"
	"go.uber.org/rpcretry/rpcerrors"
	"go.uber.org/zap"
	"google.golang.org/grpc/metadata"
)

type attemptState int

const (
	attemptActive attemptState = iota
	attemptCommitted
	attemptAbandoned
	attemptCompleted
)

func (s attemptState) String() string {
	switch s {
	case attemptActive:
		return "active"
	case attemptCommitted:
		return "committed"
	case attemptAbandoned:
		return "abandoned"
	case attemptCompleted:
		return "completed"
	default:
		return fmt.Sprintf("attemptState(%d)", int(s))
	}
}

var _attemptTransitions = map[attemptState][]attemptState{
	attemptActive:    {attemptCommitted, attemptAbandoned, attemptCompleted},
	attemptCommitted: {attemptAbandoned, attemptCompleted},
}

// callAttempt is one transport attempt of a Call.
//
// An abandoned attempt is one the call no longer cares about: callbacks
// still arrive from the transport but their results are dropped.
type callAttempt struct {
	call          *Call
	number        int
	transparent   bool
	transportCall transport.AttemptCall
	state         attemptState
	span          opentracing.Span

	// Set once the transport reports it committed the attempt to a
	// destination.
	transportCommitted bool

	recvTimer *callTimer

	startedSendInitialMetadata    bool
	completedSendInitialMetadata  bool
	startedSendMessageCount       int
	completedSendMessageCount     int
	startedSendTrailingMetadata   bool
	completedSendTrailingMetadata bool
	startedRecvInitialMetadata    bool
	completedRecvInitialMetadata  bool
	startedRecvMessageCount       int
	completedRecvMessageCount     int
	startedRecvTrailingMetadata   bool
	completedRecvTrailingMetadata bool

	sentCancelStream bool

	// Set once the caller asked for the trailing metadata that this attempt
	// already requested on its own.
	seenRecvTrailingMetadataFromSurface bool

	// The receive-trailing-metadata batch started internally and not yet
	// claimed by the caller, and its result once it arrived.
	recvTrailingInternal *batchData
	recvTrailingResult   *transport.TrailingMetadataResult

	deferred deferredTable
}

func newCallAttempt(c *Call, transparent bool) (*callAttempt, error) {
	c.attemptsStarted++
	a := &callAttempt{
		call:        c,
		number:      c.attemptsStarted,
		transparent: transparent,
	}

	spanOpts := []opentracing.StartSpanOption{
		opentracing.Tags{
			"rpc.service":   c.req.Service,
			"rpc.procedure": c.req.Procedure,
			"retry.attempt": a.number,
		},
	}
	if transparent {
		spanOpts = append(spanOpts, opentracing.Tag{Key: "retry.transparent", Value: true})
	}
	if parent := opentracing.SpanFromContext(c.ctx); parent != nil {
		spanOpts = append(spanOpts, opentracing.ChildOf(parent.Context()))
	}
	a.span = c.out.opts.tracer.StartSpan("retry.attempt", spanOpts...)

	call, err := c.out.factory.CreateAttemptCall(opentracing.ContextWithSpan(c.ctx, a.span), &transport.AttemptRequest{
		Service:            c.req.Service,
		Procedure:          c.req.Procedure,
		OnCommit:           a.onTransportCommit,
		IsTransparentRetry: transparent,
		Attempt:            a.number,
	})
	if err != nil {
		ext.Error.Set(a.span, true)
		a.span.LogKV("event", "error", "message", err.Error())
		a.span.Finish()
		return nil, err
	}
	a.transportCall = call

	c.out.observer.attempt(transparent)
	c.logger.Debug("retry: starting call attempt", zap.Int("attempt", a.number), zap.Bool("transparent", transparent))

	if c.hasPerAttemptRecvTimeout() {
		t := &callTimer{}
		t.timer = c.out.opts.clock.AfterFunc(c.policy.PerAttemptRecvTimeout(), func() {
			c.run(func() { a.onPerAttemptRecvTimer(t) })
		})
		a.recvTimer = t
	}
	return a, nil
}

func (a *callAttempt) setState(to attemptState) {
	for _, allowed := range _attemptTransitions[a.state] {
		if allowed == to {
			a.state = to
			return
		}
	}
	panic(fmt.Sprintf("retry: invalid attempt state transition from %v to %v", a.state, to))
}

func (a *callAttempt) abandoned() bool { return a.state == attemptAbandoned }

func (a *callAttempt) commit() {
	if a.state == attemptActive {
		a.setState(attemptCommitted)
	}
}

// complete marks the final status of the attempt as delivered.
func (a *callAttempt) complete(err error) {
	a.setState(attemptCompleted)
	if code := rpcerrors.ErrorCode(err); code != rpcerrors.CodeOK {
		ext.Error.Set(a.span, true)
		a.span.SetTag("rpc.code", code.String())
	}
	a.span.Finish()
}

// abandon drops everything the attempt still holds for the caller.
func (a *callAttempt) abandon() {
	a.maybeCancelPerAttemptRecvTimer()
	a.setState(attemptAbandoned)
	if a.startedRecvTrailingMetadata && !a.seenRecvTrailingMetadataFromSurface {
		a.recvTrailingInternal = nil
	}
	a.recvTrailingResult = nil
	a.deferred.reset()
	a.span.SetTag("retry.abandoned", true)
	a.span.Finish()
	a.call.logger.Debug("retry: abandoned call attempt", zap.Int("attempt", a.number))
}

func (a *callAttempt) cancelFromSurface(b *transport.Batch) {
	a.maybeCancelPerAttemptRecvTimer()
	if a.state != attemptCompleted {
		a.abandon()
	}
	a.sentCancelStream = true
	a.submit(b)
}

func (a *callAttempt) onTransportCommit() {
	c := a.call
	c.run(func() {
		a.transportCommitted = true
		if c.retryCommitted && !a.abandoned() {
			c.invokeOnCommit()
		}
	})
}

func (a *callAttempt) maybeCancelPerAttemptRecvTimer() {
	if a.recvTimer != nil {
		a.recvTimer.stop()
		a.recvTimer = nil
	}
}

func (a *callAttempt) onPerAttemptRecvTimer(t *callTimer) {
	if a.recvTimer != t {
		return
	}
	a.recvTimer = nil
	c := a.call
	c.logger.Debug("retry: per-attempt receive timeout exceeded", zap.Int("attempt", a.number))
	a.maybeAddBatchForCancelOp(rpcerrors.CancelledErrorf("retry perAttemptRecvTimeout exceeded"))
	if retry, delay := c.shouldRetry(nil, 0, false); retry {
		a.abandon()
		c.startRetryTimer(delay)
		return
	}
	c.retryCommit(a, commitRecvTimeout)
	a.maybeSwitchToFastPath()
}

func (a *callAttempt) submit(b *transport.Batch) {
	call := a.transportCall
	a.call.closures.Add(func() { call.SubmitBatch(b) })
}

// startRetriableBatches submits the replay batch, if any, followed by
// batches for whatever the pending caller batches still need started.
func (a *callAttempt) startRetriableBatches() {
	if bd := a.maybeCreateBatchForReplay(); bd != nil {
		a.submit(&bd.batch)
	}
	a.addBatchesForPendingBatches()
}

// maybeCreateBatchForReplay builds a batch of cached send ops that this
// attempt has not sent yet and that no pending batch will send.
func (a *callAttempt) maybeCreateBatchForReplay() *batchData {
	c := a.call
	var bd *batchData
	if c.seenSendInitialMetadata && !a.startedSendInitialMetadata && !c.pendingSendInitialMetadata {
		bd = a.newBatch(true)
		bd.addSendInitialMetadataOp()
	}
	// Messages follow the initial metadata, one in flight at a time.
	if a.startedSendInitialMetadata &&
		a.startedSendMessageCount < len(c.sendMessages) &&
		a.startedSendMessageCount == a.completedSendMessageCount &&
		!c.pendingSendMessage {
		if bd == nil {
			bd = a.newBatch(true)
		}
		bd.addSendMessageOp()
	}
	if c.seenSendTrailingMetadata &&
		a.startedSendInitialMetadata &&
		a.startedSendMessageCount == len(c.sendMessages) &&
		!a.startedSendTrailingMetadata &&
		!c.pendingSendTrailingMetadata {
		if bd == nil {
			bd = a.newBatch(true)
		}
		bd.addSendTrailingMetadataOp()
	}
	return bd
}

func (a *callAttempt) addBatchesForPendingBatches() {
	c := a.call
	for _, pb := range c.pending {
		if pb == nil {
			continue
		}
		b := pb.batch

		// Skip ops already started on this attempt, and sends that have to
		// wait for earlier sends.
		hasSendOps := false
		if b.SendInitialMetadata != nil {
			if a.startedSendInitialMetadata {
				continue
			}
			hasSendOps = true
		}
		initialStarted := a.startedSendInitialMetadata || b.SendInitialMetadata != nil
		if b.SendMessage != nil {
			if !initialStarted || a.completedSendMessageCount < a.startedSendMessageCount {
				continue
			}
			hasSendOps = true
		}
		if b.SendTrailingMetadata != nil {
			sending := a.startedSendMessageCount
			if b.SendMessage != nil {
				sending++
			}
			if b.SendMessage == nil && c.pendingSendMessage {
				continue
			}
			if !initialStarted || sending < len(c.sendMessages) || a.startedSendTrailingMetadata {
				continue
			}
			hasSendOps = true
		}
		numCallbacks := 0
		if hasSendOps {
			numCallbacks++
		}
		if b.RecvInitialMetadata != nil {
			if a.startedRecvInitialMetadata {
				continue
			}
			numCallbacks++
		}
		if b.RecvMessage != nil {
			if a.completedRecvMessageCount < a.startedRecvMessageCount || a.deferred.has(deferRecvMessage) {
				continue
			}
			numCallbacks++
		}
		claimTrailing := false
		if b.RecvTrailingMetadata != nil {
			if a.startedRecvTrailingMetadata {
				claimTrailing = true
			} else {
				numCallbacks++
			}
		}
		if claimTrailing && (numCallbacks == 0 || a.completedRecvTrailingMetadata) {
			// The final status is known or is the only thing asked for.
			a.claimInternalRecvTrailingMetadata(pb)
			continue
		}
		if numCallbacks == 0 {
			continue
		}

		if c.retryCommitted && !pb.sendOpsCached &&
			(b.RecvTrailingMetadata == nil || !a.startedRecvTrailingMetadata) {
			pb.attempt = a
			a.submit(b)
			c.pendingClear(pb)
			continue
		}

		bd := a.newBatch(hasSendOps)
		c.maybeCacheSendOps(pb)
		if b.SendInitialMetadata != nil {
			bd.addSendInitialMetadataOp()
		}
		if b.SendMessage != nil {
			bd.addSendMessageOp()
		}
		if b.SendTrailingMetadata != nil {
			bd.addSendTrailingMetadataOp()
		}
		if b.RecvInitialMetadata != nil {
			bd.addRecvInitialMetadataOp()
		}
		if b.RecvMessage != nil {
			bd.addRecvMessageOp()
		}
		if b.RecvTrailingMetadata != nil && !claimTrailing {
			bd.addRecvTrailingMetadataOp()
		}
		pb.attempt = a
		a.submit(&bd.batch)
		if claimTrailing {
			a.claimInternalRecvTrailingMetadata(pb)
		}
	}
}

// claimInternalRecvTrailingMetadata hands the internally requested trailing
// metadata over to the caller's pending batch. Once the final status is in,
// the batch's other receives end with that status.
func (a *callAttempt) claimInternalRecvTrailingMetadata(pb *pendingBatch) {
	a.seenRecvTrailingMetadataFromSurface = true
	pb.attempt = a
	bd := a.recvTrailingInternal
	if bd == nil {
		return
	}
	if a.completedRecvTrailingMetadata {
		c := a.call
		res := *a.recvTrailingResult
		a.recvTrailingResult = nil
		c.post(func() {
			c.failOwedRecvCallbacks(pb, res.Err)
			bd.runClosuresForCompletedCall(res)
		})
	}
	a.recvTrailingInternal = nil
}

func (a *callAttempt) addBatchForInternalRecvTrailingMetadata() {
	a.call.logger.Debug("retry: requesting trailing metadata internally", zap.Int("attempt", a.number))
	bd := a.newBatch(false)
	bd.addRecvTrailingMetadataOp()
	a.recvTrailingInternal = bd
	a.submit(&bd.batch)
}

func (a *callAttempt) maybeAddBatchForCancelOp(err error) {
	if a.sentCancelStream {
		return
	}
	a.sentCancelStream = true
	a.submit(&transport.Batch{CancelStream: &transport.CancelStreamOp{Err: err}})
}

func (a *callAttempt) haveSendOpsToReplay() bool {
	c := a.call
	return a.startedSendMessageCount < len(c.sendMessages) ||
		(c.seenSendTrailingMetadata && !a.startedSendTrailingMetadata)
}

// maybeSwitchToFastPath hands the attempt's transport call to the Call once
// nothing is left for the retry machinery to do. Later batches bypass it.
func (a *callAttempt) maybeSwitchToFastPath() {
	c := a.call
	if !c.retryCommitted || c.committedCall != nil || c.attempt != a {
		return
	}
	if a.recvTimer != nil || a.haveSendOpsToReplay() || a.recvTrailingInternal != nil {
		return
	}
	c.logger.Debug("retry: switching to fast path", zap.Int("attempt", a.number))
	c.out.observer.fastPath()
	c.committedCall = a.transportCall
	c.attempt = nil
}

func (a *callAttempt) freeCachedSendOpDataAfterCommit() {
	c := a.call
	if a.completedSendInitialMetadata {
		c.freeCachedSendInitialMetadata()
	}
	for i := 0; i < a.completedSendMessageCount; i++ {
		c.freeCachedSendMessage(i)
	}
	if a.completedSendTrailingMetadata {
		c.freeCachedSendTrailingMetadata()
	}
}

// pendingBatchHasUnstartedSendOps reports whether pb owes OnComplete for a
// send op this attempt never started.
func (a *callAttempt) pendingBatchHasUnstartedSendOps(pb *pendingBatch) bool {
	if !pb.owesOnComplete {
		return false
	}
	c := a.call
	b := pb.batch
	if b.SendInitialMetadata != nil && !a.startedSendInitialMetadata {
		return true
	}
	if b.SendMessage != nil && (!pb.sendOpsCached || a.startedSendMessageCount < len(c.sendMessages)) {
		return true
	}
	if b.SendTrailingMetadata != nil && !a.startedSendTrailingMetadata {
		return true
	}
	return false
}

// failUnstartedPendingBatches completes what the final status leaves
// undeliverable. Sends never started on this attempt fail with sendErr.
// Receives of batches never started on it get recvErr, the final status of
// the call, so a nil recvErr reads as the end of the stream.
func (a *callAttempt) failUnstartedPendingBatches(sendErr, recvErr error) {
	c := a.call
	for _, pb := range c.pending {
		if pb == nil {
			continue
		}
		if a.pendingBatchHasUnstartedSendOps(pb) {
			pb.owesOnComplete = false
			if onComplete := pb.batch.OnComplete; onComplete != nil {
				c.closures.Add(func() { onComplete(sendErr) })
			}
		}
		if pb.attempt != a {
			c.failOwedRecvCallbacks(pb, recvErr)
		}
		c.maybeClearPendingBatch(pb)
	}
}

func (a *callAttempt) newBatch(setOnComplete bool) *batchData {
	bd := &batchData{attempt: a}
	if setOnComplete {
		c := a.call
		bd.batch.OnComplete = func(err error) {
			c.run(func() { bd.onComplete(err) })
		}
	}
	return bd
}

// previousAttemptsMetadata returns a copy of the cached initial metadata
// telling the server how many attempts came before this one.
func (a *callAttempt) previousAttemptsMetadata() metadata.MD {
	c := a.call
	md := c.sendInitialMetadata.Copy()
	if c.attemptsCompleted > 0 {
		md.Set(transport.PreviousAttemptsHeader, strconv.Itoa(c.attemptsCompleted))
	} else {
		md.Delete(transport.PreviousAttemptsHeader)
	}
	return md
}
