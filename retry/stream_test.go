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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/rpcretry/api/transport"
	"go.uber.org/rpcretry/api/transport/transporttest"
	"go.uber.org/rpcretry/rpcerrors"
	"google.golang.org/grpc/metadata"
)

const (
	_waitFor = time.Second
	_tick    = time.Millisecond
)

type invokeResult struct {
	resp *Response
	err  error
}

func newStreamTest(t *testing.T) (*transporttest.FakeFactory, *Outbound) {
	factory := transporttest.NewFakeFactory(transporttest.AutoCompleteSends())
	pol := newTestPolicy(t)
	out := NewOutbound(factory, WithPolicyProvider(PolicyProviderFunc(func(context.Context, *Request) *Policy {
		return pol
	})))
	return factory, out
}

func invokeAsync(ctx context.Context, out *Outbound, payload string) <-chan invokeResult {
	results := make(chan invokeResult, 1)
	go func() {
		resp, err := out.Invoke(ctx, &Request{Service: "svc", Procedure: "proc"}, metadata.Pairs("x-req", "1"), []byte(payload))
		results <- invokeResult{resp, err}
	}()
	return results
}

// waitForAttempt waits until the i-th attempt has submitted its receive
// operations.
func waitForAttempt(t *testing.T, factory *transporttest.FakeFactory, i int) *transporttest.FakeAttemptCall {
	require.Eventually(t, func() bool {
		return factory.Len() > i && factory.Call(i).Outstanding() > 0
	}, _waitFor, _tick, "attempt %d was never started", i)
	return factory.Call(i)
}

func TestInvoke(t *testing.T) {
	defer goleak.VerifyNone(t)

	factory, out := newStreamTest(t)
	results := invokeAsync(context.Background(), out, "hello")

	attempt := waitForAttempt(t, factory, 0)
	assert.Equal(t, []string{"hello"}, attempt.SentPayloads())
	assert.True(t, attempt.HalfClosed())
	require.True(t, attempt.DeliverInitialMetadata(transport.InitialMetadataResult{Metadata: metadata.Pairs("rpc-header", "h")}))
	require.True(t, attempt.DeliverPayload("world"))
	attempt.Finish(transport.TrailingMetadataResult{Metadata: metadata.Pairs("rpc-trailer", "t")})

	res := <-results
	require.NoError(t, res.err)
	assert.Equal(t, "world", string(res.resp.Payload))
	assert.Equal(t, []string{"h"}, res.resp.Header.Get("rpc-header"))
	assert.Equal(t, []string{"t"}, res.resp.Trailer.Get("rpc-trailer"))
}

func TestInvokeRetries(t *testing.T) {
	defer goleak.VerifyNone(t)

	factory, out := newStreamTest(t)
	results := invokeAsync(context.Background(), out, "hello")

	waitForAttempt(t, factory, 0).FinishWithError(unavailable())

	attempt := waitForAttempt(t, factory, 1)
	assert.Equal(t, []string{"hello"}, attempt.SentPayloads())
	md, _ := attempt.SentInitialMetadata()
	assert.Equal(t, []string{"1"}, md.Get(transport.PreviousAttemptsHeader))
	require.True(t, attempt.DeliverPayload("world"))
	attempt.Finish(transport.TrailingMetadataResult{})

	res := <-results
	require.NoError(t, res.err)
	assert.Equal(t, "world", string(res.resp.Payload))
}

func TestInvokeErrors(t *testing.T) {
	tests := []struct {
		msg      string
		finish   func(*transporttest.FakeAttemptCall)
		wantCode rpcerrors.Code
	}{
		{
			msg:      "final status",
			finish:   func(a *transporttest.FakeAttemptCall) { a.FinishWithError(rpcerrors.InvalidArgumentErrorf("bad")) },
			wantCode: rpcerrors.CodeInvalidArgument,
		},
		{
			msg:      "no response message",
			finish:   func(a *transporttest.FakeAttemptCall) { a.Finish(transport.TrailingMetadataResult{}) },
			wantCode: rpcerrors.CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			defer goleak.VerifyNone(t)

			factory, out := newStreamTest(t)
			results := invokeAsync(context.Background(), out, "hello")
			tt.finish(waitForAttempt(t, factory, 0))

			res := <-results
			require.Error(t, res.err)
			assert.Equal(t, tt.wantCode, rpcerrors.ErrorCode(res.err))
			assert.Nil(t, res.resp)
		})
	}
}

func TestInvokeContextCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	factory, out := newStreamTest(t)
	ctx, cancel := context.WithCancel(context.Background())
	results := invokeAsync(ctx, out, "hello")

	attempt := waitForAttempt(t, factory, 0)
	cancel()

	res := <-results
	assert.Equal(t, rpcerrors.CodeCancelled, rpcerrors.ErrorCode(res.err))
	cancelled, _ := attempt.Cancelled()
	assert.True(t, cancelled, "the running attempt must be cancelled")
}

func TestClientStream(t *testing.T) {
	defer goleak.VerifyNone(t)

	factory, out := newStreamTest(t)
	ctx := context.Background()
	s := out.NewStream(ctx, &Request{Service: "svc", Procedure: "stream"}, metadata.Pairs("x-req", "1"))
	require.NotNil(t, s.Call())
	assert.Nil(t, s.Trailer(), "no trailer before the stream ends")

	require.NoError(t, s.SendMessage(ctx, []byte("a")))
	require.NoError(t, s.SendMessage(ctx, []byte("b")))
	require.NoError(t, s.CloseSend(ctx))

	attempt := factory.Call(0)
	assert.Equal(t, []string{"a", "b"}, attempt.SentPayloads())
	assert.True(t, attempt.HalfClosed())

	require.True(t, attempt.DeliverInitialMetadata(transport.InitialMetadataResult{Metadata: metadata.Pairs("h", "1")}))
	header, err := s.Header(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, header.Get("h"))

	received := make(chan []byte, 1)
	go func() {
		payload, err := s.ReceiveMessage(ctx)
		assert.NoError(t, err)
		received <- payload
	}()
	require.Eventually(t, func() bool { return attempt.DeliverPayload("c") }, _waitFor, _tick)
	assert.Equal(t, "c", string(<-received))

	eof := make(chan error, 1)
	go func() {
		_, err := s.ReceiveMessage(ctx)
		eof <- err
	}()
	require.Eventually(t, func() bool { return attempt.DeliverMessage(transport.MessageResult{}) }, _waitFor, _tick)
	require.True(t, attempt.DeliverTrailingMetadata(transport.TrailingMetadataResult{Metadata: metadata.Pairs("t", "2")}))

	assert.Equal(t, io.EOF, <-eof)
	assert.NoError(t, s.Wait(ctx))
	assert.Equal(t, []string{"2"}, s.Trailer().Get("t"))
}

func TestClientStreamReplaysAfterRetry(t *testing.T) {
	defer goleak.VerifyNone(t)

	factory, out := newStreamTest(t)
	ctx := context.Background()
	s := out.NewStream(ctx, &Request{Service: "svc", Procedure: "stream"}, nil)
	require.NoError(t, s.SendMessage(ctx, []byte("a")))

	factory.Call(0).FinishWithError(unavailable())

	attempt := waitForAttempt(t, factory, 1)
	require.Eventually(t, func() bool {
		return len(attempt.SentPayloads()) == 1
	}, _waitFor, _tick)
	assert.Equal(t, []string{"a"}, attempt.SentPayloads())

	s.Cancel()
	err := s.Wait(ctx)
	assert.Equal(t, rpcerrors.CodeCancelled, rpcerrors.ErrorCode(err))
	_, err = s.Header(ctx)
	assert.Equal(t, rpcerrors.CodeCancelled, rpcerrors.ErrorCode(err))
}

func TestClientStreamContextDone(t *testing.T) {
	defer goleak.VerifyNone(t)

	factory, out := newStreamTest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	s := out.NewStream(ctx, &Request{Service: "svc", Procedure: "stream"}, nil)

	err := s.Wait(context.Background())
	assert.Equal(t, rpcerrors.CodeDeadlineExceeded, rpcerrors.ErrorCode(err))
	cancelled, _ := factory.Call(0).Cancelled()
	assert.True(t, cancelled)
}
