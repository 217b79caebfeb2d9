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

// Package transport defines the batch-oriented call interface shared by the
// retry engine, the transports underneath it, and the callers above it.
//
// A call is driven by submitting Batches. A Batch bundles any of six
// operation categories (send initial metadata, send message, send trailing
// metadata, receive initial metadata, receive message, receive trailing
// metadata) or a cancellation. At most one operation per category may be
// outstanding on a call at a time.
//
// Completion contract, for both transports and the retry engine:
//
//   - Every receive callback (Ready) is invoked exactly once.
//   - OnComplete, if set, is invoked exactly once. For batches holding send
//     operations it reports the outcome of those sends. For batches holding
//     only receive operations it is invoked with nil after the last receive
//     callback of the batch. For cancellation it is invoked once the
//     cancellation has been processed.
//   - Callbacks may be invoked from any goroutine, including inline from
//     SubmitBatch.
package transport

import "google.golang.org/grpc/metadata"

const (
	// PreviousAttemptsHeader is added to the initial metadata of every retry
	// attempt; its value is the number of attempts that preceded it.
	PreviousAttemptsHeader = "grpc-previous-rpc-attempts"

	// RetryPushbackHeader is read from the trailing metadata of a failed
	// attempt. It holds the number of milliseconds the server asks the
	// client to wait before retrying; a negative or malformed value asks the
	// client not to retry at all.
	RetryPushbackHeader = "grpc-retry-pushback-ms"
)

// Message is a single framed message on a stream.
type Message struct {
	Payload []byte
	Flags   uint32
}

// Len returns the payload size in bytes.
func (m *Message) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Payload)
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	payload := make([]byte, len(m.Payload))
	copy(payload, m.Payload)
	return &Message{Payload: payload, Flags: m.Flags}
}

// NetworkState tells how far a failed attempt got before it ended.
type NetworkState int

const (
	// NetworkStateUnknown means the request may have reached the server.
	NetworkStateUnknown NetworkState = iota
	// NetworkStateNotSentOnWire means no byte of the request left the
	// client.
	NetworkStateNotSentOnWire
	// NetworkStateNotSeenByServer means the request was sent but the server
	// never processed it, for example because the connection was refused at
	// the stream level.
	NetworkStateNotSeenByServer
)

func (s NetworkState) String() string {
	switch s {
	case NetworkStateNotSentOnWire:
		return "not-sent-on-wire"
	case NetworkStateNotSeenByServer:
		return "not-seen-by-server"
	default:
		return "unknown"
	}
}

// MetadataSize is the approximate number of bytes md occupies, counting keys
// and values.
func MetadataSize(md metadata.MD) int {
	n := 0
	for k, vs := range md {
		for _, v := range vs {
			n += len(k) + len(v)
		}
	}
	return n
}
