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

package transport

import "google.golang.org/grpc/metadata"

// SendInitialMetadataOp opens the stream with the given request headers.
type SendInitialMetadataOp struct {
	Metadata metadata.MD
}

// SendMessageOp writes one message.
type SendMessageOp struct {
	Message *Message
}

// SendTrailingMetadataOp half-closes the stream.
type SendTrailingMetadataOp struct {
	Metadata metadata.MD
}

// RecvInitialMetadataOp waits for the response headers.
type RecvInitialMetadataOp struct {
	Ready func(InitialMetadataResult)
}

// InitialMetadataResult is delivered to RecvInitialMetadataOp.Ready.
type InitialMetadataResult struct {
	Metadata metadata.MD

	// TrailersOnly is set when the server ended the stream without sending
	// headers first; the response carries only a status.
	TrailersOnly bool

	Err error
}

// RecvMessageOp waits for the next message.
type RecvMessageOp struct {
	Ready func(MessageResult)
}

// MessageResult is delivered to RecvMessageOp.Ready. A nil Message with a
// nil Err means the stream ended.
type MessageResult struct {
	Message *Message
	Err     error
}

// RecvTrailingMetadataOp waits for the final status of the call.
type RecvTrailingMetadataOp struct {
	Ready func(TrailingMetadataResult)
}

// TrailingMetadataResult is delivered to RecvTrailingMetadataOp.Ready.
type TrailingMetadataResult struct {
	Metadata metadata.MD

	// Err is the final status of the call; nil means OK.
	Err error

	// NetworkState tells how far the call got; transports that cannot tell
	// leave it as NetworkStateUnknown.
	NetworkState NetworkState
}

// CancelStreamOp aborts the call with Err.
type CancelStreamOp struct {
	Err error
}

// Batch is a set of operations submitted to a call together.
type Batch struct {
	SendInitialMetadata  *SendInitialMetadataOp
	SendMessage          *SendMessageOp
	SendTrailingMetadata *SendTrailingMetadataOp
	RecvInitialMetadata  *RecvInitialMetadataOp
	RecvMessage          *RecvMessageOp
	RecvTrailingMetadata *RecvTrailingMetadataOp
	CancelStream         *CancelStreamOp

	OnComplete func(error)
}

// HasSendOps reports whether b holds any send operation.
func (b *Batch) HasSendOps() bool {
	return b.SendInitialMetadata != nil || b.SendMessage != nil || b.SendTrailingMetadata != nil
}

// HasRecvOps reports whether b holds any receive operation.
func (b *Batch) HasRecvOps() bool {
	return b.RecvInitialMetadata != nil || b.RecvMessage != nil || b.RecvTrailingMetadata != nil
}

// Empty reports whether b holds no operation at all.
func (b *Batch) Empty() bool {
	return !b.HasSendOps() && !b.HasRecvOps() && b.CancelStream == nil
}

// Fail completes every callback of b with err.
func (b *Batch) Fail(err error) {
	if op := b.RecvInitialMetadata; op != nil && op.Ready != nil {
		op.Ready(InitialMetadataResult{Err: err})
	}
	if op := b.RecvMessage; op != nil && op.Ready != nil {
		op.Ready(MessageResult{Err: err})
	}
	if op := b.RecvTrailingMetadata; op != nil && op.Ready != nil {
		op.Ready(TrailingMetadataResult{Err: err})
	}
	if b.OnComplete != nil {
		b.OnComplete(err)
	}
}

// String describes the operations in b, for logging.
func (b *Batch) String() string {
	s := "["
	add := func(name string) {
		if len(s) > 1 {
			s += " "
		}
		s += name
	}
	if b.SendInitialMetadata != nil {
		add("send_initial_metadata")
	}
	if b.SendMessage != nil {
		add("send_message")
	}
	if b.SendTrailingMetadata != nil {
		add("send_trailing_metadata")
	}
	if b.RecvInitialMetadata != nil {
		add("recv_initial_metadata")
	}
	if b.RecvMessage != nil {
		add("recv_message")
	}
	if b.RecvTrailingMetadata != nil {
		add("recv_trailing_metadata")
	}
	if b.CancelStream != nil {
		add("cancel_stream")
	}
	return s + "]"
}
