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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"go.uber.org/rpcretry/api/transport"
	"go.uber.org/rpcretry/api/transport/transporttest"
	"go.uber.org/rpcretry/internal/clock"
	"go.uber.org/rpcretry/rpcerrors"
	"google.golang.org/grpc/metadata"
)

// recorder records the callbacks a caller receives, in order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func describeErr(err error) string {
	if err == nil {
		return "ok"
	}
	return rpcerrors.ErrorCode(err).String()
}

func (r *recorder) recvInitial(name string) *transport.RecvInitialMetadataOp {
	return &transport.RecvInitialMetadataOp{Ready: func(res transport.InitialMetadataResult) {
		switch {
		case res.Err != nil:
			r.add("%s:initial:%s", name, describeErr(res.Err))
		case res.TrailersOnly:
			r.add("%s:initial:trailers-only", name)
		default:
			r.add("%s:initial:%v", name, res.Metadata.Get("x-resp"))
		}
	}}
}

func (r *recorder) recvMessage(name string) *transport.RecvMessageOp {
	return &transport.RecvMessageOp{Ready: func(res transport.MessageResult) {
		switch {
		case res.Err != nil:
			r.add("%s:message:%s", name, describeErr(res.Err))
		case res.Message == nil:
			r.add("%s:message:eos", name)
		default:
			r.add("%s:message:%s", name, res.Message.Payload)
		}
	}}
}

func (r *recorder) recvTrailing(name string) *transport.RecvTrailingMetadataOp {
	return &transport.RecvTrailingMetadataOp{Ready: func(res transport.TrailingMetadataResult) {
		r.add("%s:trailing:%s", name, describeErr(res.Err))
	}}
}

func (r *recorder) onComplete(name string) func(error) {
	return func(err error) { r.add("%s:complete:%s", name, describeErr(err)) }
}

func (r *recorder) unaryBatch(name, payload string) *transport.Batch {
	return &transport.Batch{
		SendInitialMetadata:  &transport.SendInitialMetadataOp{Metadata: metadata.Pairs("x-req", name)},
		SendMessage:          &transport.SendMessageOp{Message: &transport.Message{Payload: []byte(payload)}},
		SendTrailingMetadata: &transport.SendTrailingMetadataOp{},
		RecvInitialMetadata:  r.recvInitial(name),
		RecvMessage:          r.recvMessage(name),
		RecvTrailingMetadata: r.recvTrailing(name),
		OnComplete:           r.onComplete(name),
	}
}

func (r *recorder) sendMessageBatch(name, payload string) *transport.Batch {
	return &transport.Batch{
		SendMessage: &transport.SendMessageOp{Message: &transport.Message{Payload: []byte(payload)}},
		OnComplete:  r.onComplete(name),
	}
}

type callTest struct {
	factory *transporttest.FakeFactory
	clock   *clock.FakeClock
	scope   tally.TestScope
	out     *Outbound
	rec     *recorder
}

func newCallTest(t *testing.T, pol *Policy, opts ...OutboundOption) *callTest {
	ct := &callTest{
		factory: transporttest.NewFakeFactory(),
		clock:   clock.NewFake(),
		scope:   tally.NewTestScope("", nil),
		rec:     &recorder{},
	}
	base := []OutboundOption{withClock(ct.clock), WithTally(ct.scope)}
	if pol != nil {
		base = append(base, WithPolicyProvider(PolicyProviderFunc(func(context.Context, *Request) *Policy {
			return pol
		})))
	}
	ct.out = NewOutbound(ct.factory, append(base, opts...)...)
	return ct
}

func (ct *callTest) newCall(ctx context.Context) *Call {
	return ct.out.NewCall(ctx, &Request{Service: "svc", Procedure: "proc"})
}

func (ct *callTest) assertCounters(t *testing.T, want map[string]int64) {
	counters := ct.scope.Snapshot().Counters()
	for nameAndTags, value := range want {
		if value == 0 {
			if c, ok := counters[nameAndTags]; ok {
				assert.Zero(t, c.Value(), "counter %s was not as expected", nameAndTags)
			}
			continue
		}
		require.Contains(t, counters, nameAndTags, "name+tag combo was not in the counters")
		assert.Equal(t, value, counters[nameAndTags].Value(), "counter %s was not as expected", nameAndTags)
	}
}

func newTestPolicy(t *testing.T, opts ...PolicyOption) *Policy {
	base := []PolicyOption{
		MaxAttempts(3),
		InitialBackoff(10 * time.Millisecond),
		MaxBackoff(100 * time.Millisecond),
		BackoffMultiplier(2),
		BackoffJitter(0),
		RetryableCodes(rpcerrors.CodeUnavailable),
	}
	pol, err := NewPolicy(append(base, opts...)...)
	require.NoError(t, err)
	return pol
}

func unavailable() error { return rpcerrors.UnavailableErrorf("server unavailable") }
