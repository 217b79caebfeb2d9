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

import "context"

// AttemptCall is one transport-level call. The retry engine creates one per
// attempt.
type AttemptCall interface {
	// SubmitBatch starts the operations in b. Completion is reported
	// through b's callbacks.
	SubmitBatch(b *Batch)
}

// AttemptRequest describes the attempt a factory is asked to create.
type AttemptRequest struct {
	Service   string
	Procedure string

	// OnCommit, if set, is invoked once the transport has committed the
	// attempt to a destination, for example after picking a connection.
	OnCommit func()

	// IsTransparentRetry is set for attempts replacing one that never
	// reached the server.
	IsTransparentRetry bool

	// Attempt is the 1-based number of this attempt within the logical
	// call, counting transparent retries.
	Attempt int
}

// AttemptCallFactory creates transport-level calls.
//
// The context carries the logical call's deadline and tracing span.
type AttemptCallFactory interface {
	CreateAttemptCall(ctx context.Context, req *AttemptRequest) (AttemptCall, error)
}

// AttemptCallFactoryFunc adapts a function into an AttemptCallFactory.
type AttemptCallFactoryFunc func(context.Context, *AttemptRequest) (AttemptCall, error)

// CreateAttemptCall calls f.
func (f AttemptCallFactoryFunc) CreateAttemptCall(ctx context.Context, req *AttemptRequest) (AttemptCall, error) {
	return f(ctx, req)
}
