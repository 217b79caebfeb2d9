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

	"go.uber.org/rpcretry/api/transport"
	"go.uber.org/rpcretry/rpcerrors"
	"go.uber.org/zap"
)

// Results held back by an uncommitted attempt until its final status tells
// whether they go to the caller.
type deferredSlot int

const (
	deferRecvInitialMetadata deferredSlot = iota
	deferRecvMessage
	deferSendInitialMetadata
	deferSendMessage
	deferSendTrailingMetadata

	numDeferredSlots
)

type deferredTable struct {
	slots [numDeferredSlots]func()
}

func (t *deferredTable) put(s deferredSlot, deliver func()) {
	if t.slots[s] != nil {
		panic(fmt.Sprintf("retry: deferred slot %d already in use", s))
	}
	t.slots[s] = deliver
}

func (t *deferredTable) has(s deferredSlot) bool { return t.slots[s] != nil }

// drain returns the deferred deliveries, receives first, and empties the
// table.
func (t *deferredTable) drain() []func() {
	var fns []func()
	for i, fn := range t.slots {
		if fn != nil {
			fns = append(fns, fn)
			t.slots[i] = nil
		}
	}
	return fns
}

func (t *deferredTable) reset() { *t = deferredTable{} }

func sendDeferredSlot(b *transport.Batch) deferredSlot {
	switch {
	case b.SendInitialMetadata != nil:
		return deferSendInitialMetadata
	case b.SendMessage != nil:
		return deferSendMessage
	default:
		return deferSendTrailingMetadata
	}
}

// batchData is a batch submitted to the transport on behalf of an attempt.
// Its callbacks feed results back into the call.
type batchData struct {
	attempt *callAttempt
	batch   transport.Batch
}

func (bd *batchData) addSendInitialMetadataOp() {
	a := bd.attempt
	a.startedSendInitialMetadata = true
	bd.batch.SendInitialMetadata = &transport.SendInitialMetadataOp{Metadata: a.previousAttemptsMetadata()}
}

func (bd *batchData) addSendMessageOp() {
	a := bd.attempt
	msg := a.call.sendMessages[a.startedSendMessageCount]
	a.startedSendMessageCount++
	bd.batch.SendMessage = &transport.SendMessageOp{Message: msg}
}

func (bd *batchData) addSendTrailingMetadataOp() {
	a := bd.attempt
	a.startedSendTrailingMetadata = true
	bd.batch.SendTrailingMetadata = &transport.SendTrailingMetadataOp{Metadata: a.call.sendTrailingMetadata.Copy()}
}

func (bd *batchData) addRecvInitialMetadataOp() {
	a := bd.attempt
	c := a.call
	a.startedRecvInitialMetadata = true
	bd.batch.RecvInitialMetadata = &transport.RecvInitialMetadataOp{
		Ready: func(res transport.InitialMetadataResult) {
			c.run(func() { bd.recvInitialMetadataReady(res) })
		},
	}
}

func (bd *batchData) addRecvMessageOp() {
	a := bd.attempt
	c := a.call
	a.startedRecvMessageCount++
	bd.batch.RecvMessage = &transport.RecvMessageOp{
		Ready: func(res transport.MessageResult) {
			c.run(func() { bd.recvMessageReady(res) })
		},
	}
}

func (bd *batchData) addRecvTrailingMetadataOp() {
	a := bd.attempt
	c := a.call
	a.startedRecvTrailingMetadata = true
	bd.batch.RecvTrailingMetadata = &transport.RecvTrailingMetadataOp{
		Ready: func(res transport.TrailingMetadataResult) {
			c.run(func() { bd.recvTrailingMetadataReady(res) })
		},
	}
}

// holdForFinalStatus defers deliver until the attempt's final status is
// known. A failure cancels the attempt so that the status arrives promptly.
func (bd *batchData) holdForFinalStatus(s deferredSlot, err error, deliver func()) {
	a := bd.attempt
	a.deferred.put(s, deliver)
	if err != nil {
		a.maybeAddBatchForCancelOp(err)
	}
	if !a.startedRecvTrailingMetadata {
		a.addBatchForInternalRecvTrailingMetadata()
	}
}

func (bd *batchData) recvInitialMetadataReady(res transport.InitialMetadataResult) {
	a := bd.attempt
	c := a.call
	a.completedRecvInitialMetadata = true
	if a.abandoned() {
		return
	}
	a.maybeCancelPerAttemptRecvTimer()
	if !c.retryCommitted {
		// Headers that carry no response yet say nothing about whether the
		// attempt will succeed.
		if (res.TrailersOnly || res.Err != nil) && !a.completedRecvTrailingMetadata {
			bd.holdForFinalStatus(deferRecvInitialMetadata, res.Err, func() {
				bd.deliverRecvInitialMetadata(res)
			})
			return
		}
		c.retryCommit(a, commitResponse)
		a.maybeSwitchToFastPath()
	}
	bd.deliverRecvInitialMetadata(res)
}

func (bd *batchData) deliverRecvInitialMetadata(res transport.InitialMetadataResult) {
	c := bd.attempt.call
	pb := c.pendingFind(func(pb *pendingBatch) bool { return pb.owesRecvInitialMetadata })
	if pb == nil {
		return
	}
	pb.owesRecvInitialMetadata = false
	ready := pb.batch.RecvInitialMetadata.Ready
	c.closures.Add(func() { ready(res) })
	c.maybeClearPendingBatch(pb)
}

func (bd *batchData) recvMessageReady(res transport.MessageResult) {
	a := bd.attempt
	c := a.call
	a.completedRecvMessageCount++
	if a.abandoned() {
		return
	}
	a.maybeCancelPerAttemptRecvTimer()
	if !c.retryCommitted {
		if (res.Message == nil || res.Err != nil) && !a.completedRecvTrailingMetadata {
			bd.holdForFinalStatus(deferRecvMessage, res.Err, func() {
				bd.deliverRecvMessage(res)
			})
			return
		}
		c.retryCommit(a, commitResponse)
		a.maybeSwitchToFastPath()
	}
	bd.deliverRecvMessage(res)
}

func (bd *batchData) deliverRecvMessage(res transport.MessageResult) {
	c := bd.attempt.call
	pb := c.pendingFind(func(pb *pendingBatch) bool { return pb.owesRecvMessage })
	if pb == nil {
		return
	}
	pb.owesRecvMessage = false
	ready := pb.batch.RecvMessage.Ready
	c.closures.Add(func() { ready(res) })
	c.maybeClearPendingBatch(pb)
}

func (bd *batchData) recvTrailingMetadataReady(res transport.TrailingMetadataResult) {
	a := bd.attempt
	c := a.call
	a.completedRecvTrailingMetadata = true
	a.maybeCancelPerAttemptRecvTimer()
	if a.abandoned() {
		return
	}

	code := rpcerrors.ErrorCode(res.Err)
	c.logger.Debug("retry: call attempt finished",
		zap.Int("attempt", a.number),
		zap.Stringer("code", code),
		zap.Stringer("networkState", res.NetworkState),
	)

	if !c.retryCommitted && (res.NetworkState == transport.NetworkStateNotSentOnWire ||
		(res.NetworkState == transport.NetworkStateNotSeenByServer && !c.sentTransparentRetryNotSeenByServer)) {
		if res.NetworkState == transport.NetworkStateNotSeenByServer {
			c.sentTransparentRetryNotSeenByServer = true
		}
		a.maybeAddBatchForCancelOp(attemptError(res.Err))
		a.abandon()
		c.startTransparentRetry()
		return
	}

	pushback, hasPushback := parsePushback(res.Metadata)
	if retry, delay := c.shouldRetry(&code, pushback, hasPushback); retry {
		c.startRetryTimer(delay)
		a.maybeAddBatchForCancelOp(attemptError(res.Err))
		a.abandon()
		return
	}

	c.retryCommit(a, commitFinalStatus)
	a.maybeSwitchToFastPath()
	bd.runClosuresForCompletedCall(res)
	a.complete(res.Err)
}

// runClosuresForCompletedCall delivers everything the caller is owed once
// the attempt's final status is known: held back results first, then the
// status itself.
func (bd *batchData) runClosuresForCompletedCall(res transport.TrailingMetadataResult) {
	a := bd.attempt
	for _, deliver := range a.deferred.drain() {
		deliver()
	}
	bd.deliverRecvTrailingMetadata(res)
	sendErr := res.Err
	if sendErr == nil {
		sendErr = rpcerrors.UnavailableErrorf("call finished before the operation was started")
	}
	a.failUnstartedPendingBatches(sendErr, res.Err)
}

func (bd *batchData) deliverRecvTrailingMetadata(res transport.TrailingMetadataResult) {
	a := bd.attempt
	c := a.call
	pb := c.pendingFind(func(pb *pendingBatch) bool { return pb.owesRecvTrailingMetadata })
	if pb == nil {
		// Requested internally; held until the caller asks for it.
		a.recvTrailingResult = &res
		return
	}
	pb.owesRecvTrailingMetadata = false
	ready := pb.batch.RecvTrailingMetadata.Ready
	c.closures.Add(func() { ready(res) })
	c.maybeClearPendingBatch(pb)
}

func (bd *batchData) onComplete(err error) {
	a := bd.attempt
	c := a.call
	if a.abandoned() {
		return
	}
	b := &bd.batch
	if !c.retryCommitted && err != nil && !a.completedRecvTrailingMetadata {
		bd.holdForFinalStatus(sendDeferredSlot(b), err, func() { bd.onComplete(err) })
		return
	}

	if b.SendInitialMetadata != nil {
		a.completedSendInitialMetadata = true
	}
	if b.SendMessage != nil {
		a.completedSendMessageCount++
	}
	if b.SendTrailingMetadata != nil {
		a.completedSendTrailingMetadata = true
	}
	if c.retryCommitted {
		bd.freeCachedSendOpData()
	}

	bd.completePendingBatch(err)
	if !a.completedRecvTrailingMetadata {
		bd.replayOrStartPendingSendOps()
	}
	a.maybeSwitchToFastPath()
}

func (bd *batchData) freeCachedSendOpData() {
	a := bd.attempt
	c := a.call
	b := &bd.batch
	if b.SendInitialMetadata != nil {
		c.freeCachedSendInitialMetadata()
	}
	if b.SendMessage != nil {
		c.freeCachedSendMessage(a.completedSendMessageCount - 1)
	}
	if b.SendTrailingMetadata != nil {
		c.freeCachedSendTrailingMetadata()
	}
}

// completePendingBatch completes the caller batch holding the same send ops
// as bd.
func (bd *batchData) completePendingBatch(err error) {
	c := bd.attempt.call
	b := &bd.batch
	pb := c.pendingFind(func(pb *pendingBatch) bool {
		p := pb.batch
		return pb.owesOnComplete &&
			(p.SendInitialMetadata != nil) == (b.SendInitialMetadata != nil) &&
			(p.SendMessage != nil) == (b.SendMessage != nil) &&
			(p.SendTrailingMetadata != nil) == (b.SendTrailingMetadata != nil)
	})
	if pb == nil {
		return
	}
	pb.owesOnComplete = false
	if onComplete := pb.batch.OnComplete; onComplete != nil {
		c.closures.Add(func() { onComplete(err) })
	}
	c.maybeClearPendingBatch(pb)
}

func (bd *batchData) replayOrStartPendingSendOps() {
	a := bd.attempt
	c := a.call
	have := a.haveSendOpsToReplay()
	if !have {
		have = c.pendingFind(func(pb *pendingBatch) bool {
			return !pb.sendOpsCached && (pb.batch.SendMessage != nil || pb.batch.SendTrailingMetadata != nil)
		}) != nil
	}
	if have {
		a.startRetriableBatches()
	}
}

func attemptError(err error) error {
	if err != nil {
		return err
	}
	return rpcerrors.CancelledErrorf("call attempt failed")
}
