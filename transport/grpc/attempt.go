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

package grpc

import (
	"context"
	"errors"
	"io"
	"sync"

	"go.uber.org/rpcretry/api/transport"
	"go.uber.org/rpcretry/internal/grpcerrorcodes"
	"go.uber.org/rpcretry/rpcerrors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// attemptCall runs the batches of one attempt against a gRPC stream.
//
// Sends run one batch at a time in submission order, as do receive-message
// operations. Every operation runs on its own goroutine so SubmitBatch
// never blocks. A single reader goroutine owns RecvMsg. It reads when a
// receive-message operation waits, and reads ahead until the stream ends
// once the final status is wanted. The final status is learned from the
// first of: a failed NewStream, a RecvMsg error, or cancellation.
type attemptCall struct {
	ctx     context.Context
	cancel  context.CancelFunc
	factory *Factory
	req     transport.AttemptRequest
	logger  *zap.Logger

	// ready is closed once the stream is open or can no longer be opened.
	ready chan struct{}
	// finished is closed once the final status is known.
	finished chan struct{}

	mu         sync.Mutex
	cond       *sync.Cond
	stream     grpc.ClientStream
	streamErr  error
	readyDone  bool
	cancelErr  error
	status     error
	trailer    metadata.MD
	finishDone bool
	lastSend   chan struct{}
	lastRecv   chan struct{}
	lastHeader chan struct{}

	// Owned by the reader goroutine, guarded by mu.
	readerStarted bool
	draining      bool
	recvWaiting   int
	received      [][]byte
}

var _ transport.AttemptCall = (*attemptCall)(nil)

func newAttemptCall(ctx context.Context, f *Factory, req *transport.AttemptRequest) *attemptCall {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	close(done)
	c := &attemptCall{
		ctx:     ctx,
		cancel:  cancel,
		factory: f,
		req:     *req,
		logger: f.logger.With(
			zap.String("service", req.Service),
			zap.String("procedure", req.Procedure),
			zap.Int("attempt", req.Attempt),
		),
		ready:      make(chan struct{}),
		finished:   make(chan struct{}),
		lastSend:   done,
		lastRecv:   done,
		lastHeader: done,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *attemptCall) SubmitBatch(b *transport.Batch) {
	if op := b.CancelStream; op != nil {
		c.cancelStream(op.Err)
		if b.OnComplete != nil {
			b.OnComplete(nil)
		}
		return
	}

	var recvs sync.WaitGroup
	track := func(fn func()) {
		recvs.Add(1)
		go func() {
			defer recvs.Done()
			fn()
		}()
	}

	if b.HasSendOps() {
		prev, done := c.chain(&c.lastSend)
		go func() {
			<-prev
			err := c.send(b)
			close(done)
			if b.OnComplete != nil {
				b.OnComplete(err)
			}
		}()
	}
	if op := b.RecvInitialMetadata; op != nil {
		_, done := c.chain(&c.lastHeader)
		track(func() {
			defer close(done)
			op.Ready(c.recvInitialMetadata())
		})
	}
	if op := b.RecvMessage; op != nil {
		prev, done := c.chain(&c.lastRecv)
		track(func() {
			defer close(done)
			<-prev
			op.Ready(c.recvMessage())
		})
	}
	if op := b.RecvTrailingMetadata; op != nil {
		track(func() { op.Ready(c.recvTrailingMetadata()) })
	}

	if !b.HasSendOps() && b.OnComplete != nil {
		go func() {
			recvs.Wait()
			b.OnComplete(nil)
		}()
	}
}

// chain appends a link to the operation chain at tail and returns the
// channel to wait on and the one to close when done.
func (c *attemptCall) chain(tail *chan struct{}) (prev <-chan struct{}, done chan struct{}) {
	done = make(chan struct{})
	c.mu.Lock()
	prev, *tail = *tail, done
	c.mu.Unlock()
	return prev, done
}

func (c *attemptCall) send(b *transport.Batch) error {
	if op := b.SendInitialMetadata; op != nil {
		if err := c.openStream(op.Metadata); err != nil {
			return err
		}
	}
	stream, err := c.waitStream()
	if err != nil {
		return err
	}
	if op := b.SendMessage; op != nil {
		// io.EOF means the stream ended; RecvMsg reports its status.
		if err := stream.SendMsg(op.Message.Payload); err != nil && !errors.Is(err, io.EOF) {
			return grpcerrorcodes.ErrorFromGRPC(err)
		}
	}
	if b.SendTrailingMetadata != nil {
		if err := stream.CloseSend(); err != nil {
			return grpcerrorcodes.ErrorFromGRPC(err)
		}
	}
	return nil
}

func (c *attemptCall) openStream(md metadata.MD) error {
	ctx := metadata.NewOutgoingContext(c.ctx, md)
	stream, err := c.factory.cc.NewStream(ctx, _streamDesc, procedureName(c.req.Service, c.req.Procedure), c.factory.callOptions...)

	c.mu.Lock()
	if c.readyDone {
		// Cancelled while opening.
		cancelErr := c.streamErr
		c.mu.Unlock()
		return cancelErr
	}
	c.readyDone = true
	c.stream = stream
	c.streamErr = grpcerrorcodes.ErrorFromGRPC(err)
	close(c.ready)
	c.mu.Unlock()

	if err != nil {
		c.logger.Debug("failed to open stream", zap.Error(err))
		c.finish(err, nil)
		return c.streamErr
	}
	if c.req.OnCommit != nil {
		c.req.OnCommit()
	}
	return nil
}

func (c *attemptCall) waitStream() (grpc.ClientStream, error) {
	<-c.ready
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream, c.streamErr
}

func (c *attemptCall) recvInitialMetadata() transport.InitialMetadataResult {
	stream, err := c.waitStream()
	if err != nil {
		return transport.InitialMetadataResult{Err: err}
	}
	md, err := stream.Header()
	if err != nil || md == nil {
		// The server ended the stream without sending headers. Neither
		// value says what the status is; RecvMsg does.
		c.mu.Lock()
		c.drainLocked(stream)
		c.mu.Unlock()
		return transport.InitialMetadataResult{TrailersOnly: true}
	}
	return transport.InitialMetadataResult{Metadata: md}
}

// recvMessage returns the next message, or an empty result once the stream
// has ended.
func (c *attemptCall) recvMessage() transport.MessageResult {
	stream, err := c.waitStream()
	if err != nil {
		return transport.MessageResult{Err: err}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startReaderLocked(stream)
	c.recvWaiting++
	c.cond.Broadcast()
	for len(c.received) == 0 && !c.finishDone {
		c.cond.Wait()
	}
	c.recvWaiting--
	if len(c.received) == 0 {
		return transport.MessageResult{}
	}
	payload := c.received[0]
	c.received = c.received[1:]
	return transport.MessageResult{Message: &transport.Message{Payload: payload}}
}

// recvTrailingMetadata waits for the receive operations already handed out
// to report, then reads the stream to its end. The status is always the last
// thing delivered.
func (c *attemptCall) recvTrailingMetadata() transport.TrailingMetadataResult {
	c.mu.Lock()
	header, recv := c.lastHeader, c.lastRecv
	c.mu.Unlock()
	<-header
	<-recv

	if stream, err := c.waitStream(); err == nil {
		c.mu.Lock()
		c.drainLocked(stream)
		c.mu.Unlock()
	}
	<-c.finished

	c.mu.Lock()
	defer c.mu.Unlock()
	return transport.TrailingMetadataResult{
		Metadata:     c.trailer,
		Err:          c.status,
		NetworkState: transport.NetworkStateUnknown,
	}
}

// drainLocked makes the reader read until the stream ends. Messages it reads
// are kept for later receive-message operations.
func (c *attemptCall) drainLocked(stream grpc.ClientStream) {
	c.draining = true
	c.startReaderLocked(stream)
	c.cond.Broadcast()
}

func (c *attemptCall) startReaderLocked(stream grpc.ClientStream) {
	if c.readerStarted {
		return
	}
	c.readerStarted = true
	stop := context.AfterFunc(c.ctx, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	go func() {
		defer stop()
		c.read(stream)
	}()
}

// read is the only caller of RecvMsg. It ends the attempt with the error
// that ends the stream; io.EOF is a clean end.
func (c *attemptCall) read(stream grpc.ClientStream) {
	for {
		c.mu.Lock()
		for !c.finishDone && !c.draining && c.recvWaiting <= len(c.received) && c.ctx.Err() == nil {
			c.cond.Wait()
		}
		finished := c.finishDone
		c.mu.Unlock()
		if finished {
			return
		}

		var payload []byte
		if err := stream.RecvMsg(&payload); err != nil {
			c.finish(err, stream.Trailer())
			return
		}
		c.mu.Lock()
		c.received = append(c.received, payload)
		c.cond.Broadcast()
		c.mu.Unlock()
	}
}

// finish records the final status of the stream. Only the first call has
// an effect.
func (c *attemptCall) finish(err error, trailer metadata.MD) {
	c.mu.Lock()
	if c.finishDone {
		c.mu.Unlock()
		return
	}
	c.finishDone = true
	if c.cancelErr != nil {
		c.status = c.cancelErr
	} else {
		c.status = grpcerrorcodes.ErrorFromGRPC(err)
	}
	c.trailer = trailer
	close(c.finished)
	c.cond.Broadcast()
	c.mu.Unlock()

	// Releases the stream's resources once it is over.
	c.cancel()
}

func (c *attemptCall) cancelStream(err error) {
	if err == nil {
		err = rpcerrors.CancelledErrorf("call attempt cancelled")
	}
	c.mu.Lock()
	c.cancelErr = err
	if !c.readyDone {
		c.readyDone = true
		c.streamErr = err
		close(c.ready)
	}
	c.mu.Unlock()

	c.cancel()
	c.finish(err, nil)
}
