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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/rpcretry/api/transport"
	"go.uber.org/rpcretry/rpcerrors"
	"google.golang.org/grpc/metadata"
)

func TestCancelDuringBackoff(t *testing.T) {
	ct := newCallTest(t, newTestPolicy(t))
	call := ct.newCall(context.Background())
	call.StartBatch(ct.rec.unaryBatch("a", "hello"))
	ct.factory.Call(0).FinishWithError(unavailable())
	require.Equal(t, 1, ct.clock.Pending(), "retry timer must be armed")

	call.Cancel(nil)
	assert.Zero(t, ct.clock.Pending(), "cancel must stop the retry timer")
	ct.clock.Add(time.Second)
	assert.Equal(t, 1, ct.factory.Len())

	call.StartBatch(ct.rec.sendMessageBatch("late", "x"))
	assert.Equal(t, []string{
		"a:complete:ok",
		"a:initial:cancelled",
		"a:message:cancelled",
		"a:trailing:cancelled",
		"late:complete:cancelled",
	}, ct.rec.Events())
	ct.assertCounters(t, map[string]int64{"retry_failures+error=cancelled": 1})
}

func TestCancelDuringAttempt(t *testing.T) {
	ct := newCallTest(t, newTestPolicy(t))
	call := ct.newCall(context.Background())
	call.StartBatch(ct.rec.unaryBatch("a", "hello"))

	cancelErr := rpcerrors.CancelledErrorf("caller went away")
	call.Cancel(cancelErr)

	cancelled, err := ct.factory.Call(0).Cancelled()
	assert.True(t, cancelled)
	assert.Equal(t, cancelErr, err)
	assert.Zero(t, ct.factory.Call(0).Outstanding())
	assert.Equal(t, []string{
		"a:initial:cancelled",
		"a:message:cancelled",
		"a:trailing:cancelled",
		"a:complete:cancelled",
	}, ct.rec.Events())
	ct.assertCounters(t, map[string]int64{"retry_commits+reason=cancelled": 1})
}

func TestPerAttemptRecvTimeout(t *testing.T) {
	t.Run("retried", func(t *testing.T) {
		ct := newCallTest(t, newTestPolicy(t, MaxAttempts(2), PerAttemptRecvTimeout(100*time.Millisecond)))
		call := ct.newCall(context.Background())
		call.StartBatch(ct.rec.unaryBatch("a", "hello"))
		require.Equal(t, 1, ct.clock.Pending())

		ct.clock.Add(100 * time.Millisecond)
		cancelled, err := ct.factory.Call(0).Cancelled()
		require.True(t, cancelled)
		assert.Equal(t, "retry perAttemptRecvTimeout exceeded", rpcerrors.FromError(err).Message())

		ct.clock.Add(10 * time.Millisecond)
		require.Equal(t, 2, ct.factory.Len())
		require.Equal(t, 1, ct.clock.Pending(), "each attempt gets its own timer")

		ct.factory.Call(1).DeliverInitialMetadata(transport.InitialMetadataResult{Metadata: metadata.Pairs("x-resp", "hi")})
		assert.Zero(t, ct.clock.Pending(), "a response stops the timer")
		assert.Equal(t, []string{"a:initial:[hi]"}, ct.rec.Events())
	})

	t.Run("no retries left", func(t *testing.T) {
		ct := newCallTest(t, newTestPolicy(t, MaxAttempts(1), PerAttemptRecvTimeout(100*time.Millisecond)))
		call := ct.newCall(context.Background())
		call.StartBatch(ct.rec.unaryBatch("a", "hello"))

		ct.clock.Add(100 * time.Millisecond)
		assert.Equal(t, 1, ct.factory.Len())
		assert.Equal(t, []string{
			"a:initial:cancelled",
			"a:message:cancelled",
			"a:trailing:cancelled",
			"a:complete:cancelled",
		}, ct.rec.Events())
		ct.assertCounters(t, map[string]int64{"retry_commits+reason=recv_timeout": 1})
	})
}

func TestNoTimeLeftForRetry(t *testing.T) {
	ct := newCallTest(t, newTestPolicy(t, InitialBackoff(100*time.Millisecond)))
	ctx, cancel := context.WithDeadline(context.Background(), ct.clock.Now().Add(50*time.Millisecond))
	defer cancel()

	call := ct.newCall(ctx)
	call.StartBatch(ct.rec.unaryBatch("a", "hello"))
	ct.factory.Call(0).FinishWithError(unavailable())

	ct.clock.Add(time.Second)
	assert.Equal(t, 1, ct.factory.Len())
	assert.Contains(t, ct.rec.Events(), "a:trailing:unavailable")
	ct.assertCounters(t, map[string]int64{"retry_failures+error=no_time": 1})
}

func TestRetryThrottling(t *testing.T) {
	ct := newCallTest(t, newTestPolicy(t, MaxAttempts(5)), WithThrottling(3000, 100))
	call := ct.newCall(context.Background())
	call.StartBatch(ct.rec.unaryBatch("a", "hello"))

	ct.factory.Call(0).FinishWithError(unavailable())
	ct.clock.Add(time.Second)
	require.Equal(t, 2, ct.factory.Len())

	ct.factory.Call(1).FinishWithError(unavailable())
	ct.clock.Add(time.Second)
	assert.Equal(t, 2, ct.factory.Len(), "retries must stop once the throttle drops to half")
	assert.Equal(t, int64(1000), ct.out.Throttle().MilliTokens())
	assert.Contains(t, ct.rec.Events(), "a:trailing:unavailable")
	ct.assertCounters(t, map[string]int64{"retry_failures+error=throttled": 1})

	call = ct.newCall(context.Background())
	call.StartBatch(ct.rec.unaryBatch("b", "hello"))
	ct.factory.Call(2).DeliverInitialMetadata(transport.InitialMetadataResult{})
	ct.factory.Call(2).DeliverPayload("ok")
	ct.factory.Call(2).CompleteSends(nil)
	ct.factory.Call(2).DeliverTrailingMetadata(transport.TrailingMetadataResult{})
	assert.Equal(t, int64(1100), ct.out.Throttle().MilliTokens(), "successes refill the throttle")
}

func TestOnCommit(t *testing.T) {
	tests := []struct {
		msg             string
		transportCommit bool
	}{
		{msg: "transport commits first", transportCommit: true},
		{msg: "call commits first"},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			var commits int
			ct := newCallTest(t, newTestPolicy(t))
			call := ct.out.NewCall(context.Background(), &Request{
				Service:   "svc",
				Procedure: "proc",
				OnCommit:  func() { commits++ },
			})
			call.StartBatch(ct.rec.unaryBatch("a", "hello"))
			attempt := ct.factory.Call(0)

			if tt.transportCommit {
				attempt.Commit()
				assert.Zero(t, commits, "OnCommit must wait for the call to commit")
			}
			attempt.DeliverInitialMetadata(transport.InitialMetadataResult{})
			if !tt.transportCommit {
				assert.Zero(t, commits, "OnCommit must wait for the transport to commit")
				attempt.Commit()
			}
			assert.Equal(t, 1, commits)

			attempt.DeliverPayload("world")
			attempt.CompleteSends(nil)
			attempt.DeliverTrailingMetadata(transport.TrailingMetadataResult{})
			assert.Equal(t, 1, commits)
		})
	}
}

func TestOnCommitSkippedForAbandonedAttempt(t *testing.T) {
	var commits int
	ct := newCallTest(t, newTestPolicy(t))
	call := ct.out.NewCall(context.Background(), &Request{
		Service:   "svc",
		Procedure: "proc",
		OnCommit:  func() { commits++ },
	})
	call.StartBatch(ct.rec.unaryBatch("a", "hello"))
	first := ct.factory.Call(0)
	first.FinishWithError(unavailable())
	ct.clock.Add(time.Second)

	second := ct.factory.Call(1)
	second.DeliverInitialMetadata(transport.InitialMetadataResult{})
	first.Commit()
	assert.Zero(t, commits)
	second.Commit()
	assert.Equal(t, 1, commits)
}

func TestAttemptCreationFails(t *testing.T) {
	tests := []struct {
		msg      string
		give     error
		wantCode string
	}{
		{msg: "plain error", give: errors.New("no peers"), wantCode: "unknown"},
		{msg: "status", give: rpcerrors.UnavailableErrorf("no peers"), wantCode: "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			ct := newCallTest(t, newTestPolicy(t))
			ct.factory.FailNext(tt.give)
			call := ct.newCall(context.Background())
			call.StartBatch(ct.rec.unaryBatch("a", "hello"))
			call.StartBatch(ct.rec.sendMessageBatch("b", "more"))

			assert.Zero(t, ct.factory.Len())
			assert.Equal(t, []string{
				"a:initial:" + tt.wantCode,
				"a:message:" + tt.wantCode,
				"a:trailing:" + tt.wantCode,
				"a:complete:" + tt.wantCode,
				"b:complete:" + tt.wantCode,
			}, ct.rec.Events())
			ct.assertCounters(t, map[string]int64{"retry_failures+error=transport": 1})
		})
	}
}

func TestInternalTrailingMetadataClaimedLater(t *testing.T) {
	ct := newCallTest(t, newTestPolicy(t))
	rec := ct.rec
	call := ct.newCall(context.Background())
	call.StartBatch(&transport.Batch{
		SendInitialMetadata: &transport.SendInitialMetadataOp{Metadata: metadata.Pairs("x-req", "stream")},
		RecvInitialMetadata: rec.recvInitial("a"),
		OnComplete:          rec.onComplete("a"),
	})
	attempt := ct.factory.Call(0)

	attempt.DeliverInitialMetadata(transport.InitialMetadataResult{TrailersOnly: true})
	require.Len(t, attempt.Batches(), 2, "a trailers-only response requests the status internally")
	assert.Empty(t, rec.Events())

	attempt.DeliverTrailingMetadata(transport.TrailingMetadataResult{Err: rpcerrors.InvalidArgumentErrorf("bad")})
	assert.Equal(t, []string{"a:initial:trailers-only"}, rec.Events())

	call.StartBatch(&transport.Batch{
		RecvTrailingMetadata: rec.recvTrailing("b"),
		OnComplete:           rec.onComplete("b"),
	})
	assert.Len(t, attempt.Batches(), 2, "the stored status is handed over without asking the transport")

	attempt.CompleteSends(nil)
	assert.Equal(t, []string{
		"a:initial:trailers-only",
		"b:trailing:invalid-argument",
		"b:complete:ok",
		"a:complete:ok",
	}, rec.Events())
}

func TestClaimedTrailingMetadataStartsOtherReceives(t *testing.T) {
	ct := newCallTest(t, newTestPolicy(t))
	rec := ct.rec
	call := ct.newCall(context.Background())
	call.StartBatch(&transport.Batch{
		SendInitialMetadata:  &transport.SendInitialMetadataOp{Metadata: metadata.Pairs("x-req", "stream")},
		SendMessage:          &transport.SendMessageOp{Message: &transport.Message{Payload: []byte("m1")}},
		SendTrailingMetadata: &transport.SendTrailingMetadataOp{},
		OnComplete:           rec.onComplete("a"),
	})
	call.StartBatch(&transport.Batch{RecvInitialMetadata: rec.recvInitial("b")})
	attempt := ct.factory.Call(0)
	require.Equal(t, 1, attempt.CompleteSends(nil))

	// The failed receive cancels the attempt, which fails the internally
	// requested status with the same error.
	attempt.DeliverInitialMetadata(transport.InitialMetadataResult{Err: rpcerrors.InternalErrorf("boom")})
	assert.Equal(t, []string{
		"a:complete:ok",
		"b:initial:internal",
	}, rec.Events())

	call.StartBatch(&transport.Batch{
		RecvMessage:          rec.recvMessage("c"),
		RecvTrailingMetadata: rec.recvTrailing("c"),
		OnComplete:           rec.onComplete("c"),
	})
	assert.Equal(t, []string{
		"a:complete:ok",
		"b:initial:internal",
		"c:message:internal",
		"c:trailing:internal",
		"c:complete:ok",
	}, rec.Events())

	assert.NotPanics(t, func() {
		call.StartBatch(&transport.Batch{RecvMessage: rec.recvMessage("d")})
	}, "the receive-message slot must be free again")
}

func TestClaimedTrailingMetadataWaitsForMessage(t *testing.T) {
	ct := newCallTest(t, newTestPolicy(t))
	rec := ct.rec
	call := ct.newCall(context.Background())
	call.StartBatch(&transport.Batch{
		SendInitialMetadata: &transport.SendInitialMetadataOp{Metadata: metadata.Pairs("x-req", "stream")},
		RecvInitialMetadata: rec.recvInitial("a"),
		OnComplete:          rec.onComplete("a"),
	})
	attempt := ct.factory.Call(0)
	require.Equal(t, 1, attempt.CompleteSends(nil))
	attempt.DeliverInitialMetadata(transport.InitialMetadataResult{TrailersOnly: true})
	require.Len(t, attempt.Batches(), 2, "a trailers-only response requests the status internally")

	call.StartBatch(&transport.Batch{
		RecvMessage:          rec.recvMessage("b"),
		RecvTrailingMetadata: rec.recvTrailing("b"),
		OnComplete:           rec.onComplete("b"),
	})
	batches := attempt.Batches()
	require.Len(t, batches, 3, "the receive-message op goes to the transport")
	last := batches[2]
	assert.NotNil(t, last.RecvMessage)
	assert.Nil(t, last.RecvTrailingMetadata, "the status is already requested")

	attempt.DeliverMessage(transport.MessageResult{})
	attempt.DeliverTrailingMetadata(transport.TrailingMetadataResult{Err: rpcerrors.InvalidArgumentErrorf("bad")})
	assert.Equal(t, []string{
		"a:complete:ok",
		"a:initial:trailers-only",
		"b:message:eos",
		"b:trailing:invalid-argument",
		"b:complete:ok",
	}, rec.Events())
}

func TestRetryHeldResultsDropped(t *testing.T) {
	ct := newCallTest(t, newTestPolicy(t))
	call := ct.newCall(context.Background())
	call.StartBatch(ct.rec.unaryBatch("a", "hello"))

	first := ct.factory.Call(0)
	first.DeliverInitialMetadata(transport.InitialMetadataResult{Err: unavailable()})
	cancelled, _ := first.Cancelled()
	assert.True(t, cancelled, "a failed receive cancels the attempt")
	assert.Empty(t, ct.rec.Events())

	ct.clock.Add(time.Second)
	require.Equal(t, 2, ct.factory.Len())
	second := ct.factory.Call(1)
	second.DeliverInitialMetadata(transport.InitialMetadataResult{Metadata: metadata.Pairs("x-resp", "hi")})
	assert.Equal(t, []string{"a:initial:[hi]"}, ct.rec.Events())
}

func TestBatchSlotReusePanics(t *testing.T) {
	ct := newCallTest(t, newTestPolicy(t))
	call := ct.newCall(context.Background())
	call.StartBatch(&transport.Batch{
		SendInitialMetadata: &transport.SendInitialMetadataOp{},
	})
	call.StartBatch(ct.rec.sendMessageBatch("a", "m1"))
	assert.Panics(t, func() {
		call.StartBatch(ct.rec.sendMessageBatch("b", "m2"))
	})
}
