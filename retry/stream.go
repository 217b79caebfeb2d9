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
	"io"
	"sync"

	"go.uber.org/rpcretry/api/transport"
	"go.uber.org/rpcretry/rpcerrors"
	"google.golang.org/grpc/metadata"
)

// ClientStream is a blocking view of a retrying streaming call.
//
// As with any stream, at most one SendMessage and one ReceiveMessage may be
// in progress at a time.
type ClientStream struct {
	call       *Call
	stopCancel func() bool

	headerReady chan struct{}
	header      metadata.MD
	headerErr   error

	done    chan struct{}
	trailer metadata.MD
	err     error
}

// NewStream starts a streaming call, sending md as its request headers.
// The call is cancelled when ctx is done.
func (o *Outbound) NewStream(ctx context.Context, req *Request, md metadata.MD) *ClientStream {
	call := o.NewCall(ctx, req)
	s := &ClientStream{
		call:        call,
		headerReady: make(chan struct{}),
		done:        make(chan struct{}),
	}
	s.stopCancel = context.AfterFunc(ctx, func() {
		call.Cancel(rpcerrors.FromError(ctx.Err()))
	})
	call.StartBatch(&transport.Batch{
		SendInitialMetadata: &transport.SendInitialMetadataOp{Metadata: md},
		RecvInitialMetadata: &transport.RecvInitialMetadataOp{Ready: s.onHeader},
	})
	call.StartBatch(&transport.Batch{
		RecvTrailingMetadata: &transport.RecvTrailingMetadataOp{Ready: s.onTrailer},
	})
	return s
}

func (s *ClientStream) onHeader(res transport.InitialMetadataResult) {
	s.header = res.Metadata
	s.headerErr = res.Err
	close(s.headerReady)
}

func (s *ClientStream) onTrailer(res transport.TrailingMetadataResult) {
	s.trailer = res.Metadata
	s.err = res.Err
	s.stopCancel()
	close(s.done)
}

// Call returns the underlying retrying call.
func (s *ClientStream) Call() *Call { return s.call }

// SendMessage sends one message and waits for the transport to accept it.
func (s *ClientStream) SendMessage(ctx context.Context, payload []byte) error {
	errc := make(chan error, 1)
	s.call.StartBatch(&transport.Batch{
		SendMessage: &transport.SendMessageOp{Message: &transport.Message{Payload: payload}},
		OnComplete:  func(err error) { errc <- err },
	})
	return s.wait(ctx, errc)
}

// CloseSend half-closes the stream.
func (s *ClientStream) CloseSend(ctx context.Context) error {
	errc := make(chan error, 1)
	s.call.StartBatch(&transport.Batch{
		SendTrailingMetadata: &transport.SendTrailingMetadataOp{},
		OnComplete:           func(err error) { errc <- err },
	})
	return s.wait(ctx, errc)
}

func (s *ClientStream) wait(ctx context.Context, errc <-chan error) error {
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		s.call.Cancel(rpcerrors.FromError(ctx.Err()))
		return <-errc
	}
}

// Header waits for the response headers. It returns nil headers if the
// server ended the call without sending any.
func (s *ClientStream) Header(ctx context.Context) (metadata.MD, error) {
	select {
	case <-s.headerReady:
	case <-ctx.Done():
		return nil, rpcerrors.FromError(ctx.Err())
	}
	if s.headerErr != nil {
		return nil, s.headerErr
	}
	return s.header, nil
}

// ReceiveMessage waits for the next message. It returns io.EOF once the
// stream ended with an OK status, and the final status otherwise.
func (s *ClientStream) ReceiveMessage(ctx context.Context) ([]byte, error) {
	resc := make(chan transport.MessageResult, 1)
	s.call.StartBatch(&transport.Batch{
		RecvMessage: &transport.RecvMessageOp{Ready: func(res transport.MessageResult) { resc <- res }},
	})

	var res transport.MessageResult
	select {
	case res = <-resc:
	case <-ctx.Done():
		s.call.Cancel(rpcerrors.FromError(ctx.Err()))
		res = <-resc
	}
	if res.Err == nil && res.Message != nil {
		return res.Message.Payload, nil
	}

	if err := s.Wait(ctx); err != nil {
		return nil, err
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return nil, io.EOF
}

// Wait waits for the call to finish and returns its final status.
func (s *ClientStream) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		s.call.Cancel(rpcerrors.FromError(ctx.Err()))
		<-s.done
		return s.err
	}
}

// Trailer returns the trailing metadata of a finished call, or nil if the
// call is still running.
func (s *ClientStream) Trailer() metadata.MD {
	select {
	case <-s.done:
		return s.trailer
	default:
		return nil
	}
}

// Cancel cancels the stream.
func (s *ClientStream) Cancel() {
	s.call.Cancel(nil)
}

// Response is the result of a unary call.
type Response struct {
	Header  metadata.MD
	Payload []byte
	Trailer metadata.MD
}

// Invoke makes a unary call, retrying it as its policy allows.
func (o *Outbound) Invoke(ctx context.Context, req *Request, md metadata.MD, payload []byte) (*Response, error) {
	call := o.NewCall(ctx, req)
	stop := context.AfterFunc(ctx, func() {
		call.Cancel(rpcerrors.FromError(ctx.Err()))
	})
	defer stop()

	var (
		wg     sync.WaitGroup
		resp   Response
		msg    transport.MessageResult
		status error
	)
	wg.Add(4)
	call.StartBatch(&transport.Batch{
		SendInitialMetadata:  &transport.SendInitialMetadataOp{Metadata: md},
		SendMessage:          &transport.SendMessageOp{Message: &transport.Message{Payload: payload}},
		SendTrailingMetadata: &transport.SendTrailingMetadataOp{},
		RecvInitialMetadata: &transport.RecvInitialMetadataOp{Ready: func(res transport.InitialMetadataResult) {
			resp.Header = res.Metadata
			wg.Done()
		}},
		RecvMessage: &transport.RecvMessageOp{Ready: func(res transport.MessageResult) {
			msg = res
			wg.Done()
		}},
		RecvTrailingMetadata: &transport.RecvTrailingMetadataOp{Ready: func(res transport.TrailingMetadataResult) {
			resp.Trailer = res.Metadata
			status = res.Err
			wg.Done()
		}},
		OnComplete: func(error) { wg.Done() },
	})
	wg.Wait()

	if status != nil {
		return nil, status
	}
	if msg.Err != nil {
		return nil, msg.Err
	}
	if msg.Message == nil {
		return nil, rpcerrors.InternalErrorf("unary call finished without a response message")
	}
	resp.Payload = msg.Message.Payload
	return &resp, nil
}
