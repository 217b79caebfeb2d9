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
)

// Pending batches are stored in a fixed table indexed by the first op the
// batch carries. The caller never has more than one op of a kind
// outstanding, so two batches never compete for a slot.
const (
	slotSendInitialMetadata = iota
	slotSendMessage
	slotSendTrailingMetadata
	slotRecvInitialMetadata
	slotRecvMessage
	slotRecvTrailingMetadata

	numPendingSlots
)

func pendingSlot(b *transport.Batch) int {
	switch {
	case b.SendInitialMetadata != nil:
		return slotSendInitialMetadata
	case b.SendMessage != nil:
		return slotSendMessage
	case b.SendTrailingMetadata != nil:
		return slotSendTrailingMetadata
	case b.RecvInitialMetadata != nil:
		return slotRecvInitialMetadata
	case b.RecvMessage != nil:
		return slotRecvMessage
	case b.RecvTrailingMetadata != nil:
		return slotRecvTrailingMetadata
	default:
		panic(fmt.Sprintf("retry: batch %v has no ops", b))
	}
}

// pendingBatch is a caller batch that still owes the caller at least one
// callback.
type pendingBatch struct {
	batch *transport.Batch
	slot  int

	// Set once the send ops of the batch are copied into the call's cache.
	sendOpsCached bool

	// The attempt the batch was last started on.
	attempt *callAttempt

	owesOnComplete           bool
	owesRecvInitialMetadata  bool
	owesRecvMessage          bool
	owesRecvTrailingMetadata bool
}

func (pb *pendingBatch) owesCallbacks() bool {
	return pb.owesOnComplete || pb.owesRecvInitialMetadata || pb.owesRecvMessage || pb.owesRecvTrailingMetadata
}

func (c *Call) pendingAdd(b *transport.Batch) *pendingBatch {
	slot := pendingSlot(b)
	if c.pending[slot] != nil {
		panic(fmt.Sprintf("retry: batch %v started while %v is outstanding", b, c.pending[slot].batch))
	}
	pb := &pendingBatch{
		batch:                    b,
		slot:                     slot,
		owesOnComplete:           b.HasSendOps(),
		owesRecvInitialMetadata:  b.RecvInitialMetadata != nil,
		owesRecvMessage:          b.RecvMessage != nil,
		owesRecvTrailingMetadata: b.RecvTrailingMetadata != nil,
	}
	c.pending[slot] = pb

	if op := b.SendInitialMetadata; op != nil {
		c.pendingSendInitialMetadata = true
		c.bytesBuffered += transport.MetadataSize(op.Metadata)
	}
	if op := b.SendMessage; op != nil {
		c.pendingSendMessage = true
		c.bytesBuffered += op.Message.Len()
	}
	if op := b.SendTrailingMetadata; op != nil {
		c.pendingSendTrailingMetadata = true
		c.bytesBuffered += transport.MetadataSize(op.Metadata)
	}
	if c.bytesBuffered > c.out.opts.bufferSize {
		c.retryCommit(c.attempt, commitBufferFull)
	}
	return pb
}

func (c *Call) pendingClear(pb *pendingBatch) {
	b := pb.batch
	if b.SendInitialMetadata != nil {
		c.pendingSendInitialMetadata = false
	}
	if b.SendMessage != nil {
		c.pendingSendMessage = false
	}
	if b.SendTrailingMetadata != nil {
		c.pendingSendTrailingMetadata = false
	}
	c.pending[pb.slot] = nil
}

// maybeClearPendingBatch releases pb once every callback it owes has been
// scheduled. Receive-only batches learn that they are done through
// OnComplete after their last receive callback.
func (c *Call) maybeClearPendingBatch(pb *pendingBatch) {
	if pb.owesCallbacks() {
		return
	}
	if b := pb.batch; !b.HasSendOps() && b.OnComplete != nil {
		c.closures.Add(func() { b.OnComplete(nil) })
	}
	c.pendingClear(pb)
}

func (c *Call) pendingFind(match func(*pendingBatch) bool) *pendingBatch {
	for _, pb := range c.pending {
		if pb != nil && match(pb) {
			return pb
		}
	}
	return nil
}

// pendingFail fails every callback still owed by pending batches.
func (c *Call) pendingFail(err error) {
	for _, pb := range c.pending {
		if pb == nil {
			continue
		}
		c.failOwedRecvCallbacks(pb, err)
		if pb.owesRecvTrailingMetadata {
			pb.owesRecvTrailingMetadata = false
			ready := pb.batch.RecvTrailingMetadata.Ready
			c.closures.Add(func() { ready(transport.TrailingMetadataResult{Err: err}) })
		}
		if pb.owesOnComplete {
			pb.owesOnComplete = false
			if onComplete := pb.batch.OnComplete; onComplete != nil {
				c.closures.Add(func() { onComplete(err) })
			}
		}
		c.maybeClearPendingBatch(pb)
	}
}

// failOwedRecvCallbacks fails the receive-initial-metadata and
// receive-message callbacks pb still owes.
func (c *Call) failOwedRecvCallbacks(pb *pendingBatch, err error) {
	if pb.owesRecvInitialMetadata {
		pb.owesRecvInitialMetadata = false
		ready := pb.batch.RecvInitialMetadata.Ready
		c.closures.Add(func() { ready(transport.InitialMetadataResult{TrailersOnly: true, Err: err}) })
	}
	if pb.owesRecvMessage {
		pb.owesRecvMessage = false
		ready := pb.batch.RecvMessage.Ready
		c.closures.Add(func() { ready(transport.MessageResult{Err: err}) })
	}
}

// pendingResume hands every pending batch to the committed call unchanged.
func (c *Call) pendingResume() {
	call := c.committedCall
	for _, pb := range c.pending {
		if pb == nil {
			continue
		}
		b := pb.batch
		c.closures.Add(func() { call.SubmitBatch(b) })
		c.pendingClear(pb)
	}
}

// maybeCacheSendOps copies the send ops of pb so that they can be replayed
// on later attempts.
func (c *Call) maybeCacheSendOps(pb *pendingBatch) {
	if pb.sendOpsCached {
		return
	}
	pb.sendOpsCached = true
	b := pb.batch
	if op := b.SendInitialMetadata; op != nil {
		c.seenSendInitialMetadata = true
		c.sendInitialMetadata = op.Metadata.Copy()
	}
	if op := b.SendMessage; op != nil {
		c.sendMessages = append(c.sendMessages, op.Message.Clone())
	}
	if op := b.SendTrailingMetadata; op != nil {
		c.seenSendTrailingMetadata = true
		c.sendTrailingMetadata = op.Metadata.Copy()
	}
}
