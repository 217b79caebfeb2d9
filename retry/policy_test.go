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
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/rpcretry/api/backoff"
	"go.uber.org/rpcretry/api/transport"
	"go.uber.org/rpcretry/api/transport/transporttest"
	"go.uber.org/rpcretry/rpcerrors"
)

func TestNewPolicy(t *testing.T) {
	tests := []struct {
		msg       string
		opts      []PolicyOption
		wantError []string
	}{
		{msg: "defaults"},
		{
			msg:  "valid",
			opts: []PolicyOption{MaxAttempts(5), InitialBackoff(time.Millisecond), MaxBackoff(time.Second), BackoffMultiplier(1.5)},
		},
		{
			msg:       "zero attempts",
			opts:      []PolicyOption{MaxAttempts(0)},
			wantError: []string{"max attempts must be at least 1"},
		},
		{
			msg:       "negative timeout",
			opts:      []PolicyOption{PerAttemptRecvTimeout(-time.Second)},
			wantError: []string{"per-attempt receive timeout must not be negative"},
		},
		{
			msg:  "bad backoff",
			opts: []PolicyOption{InitialBackoff(time.Second), MaxBackoff(time.Millisecond), BackoffMultiplier(0)},
			wantError: []string{
				"max backoff must be greater than or equal to initial backoff",
				"invalid backoff multiplier, need greater than zero",
			},
		},
		{
			msg:  "custom strategy skips exponential checks",
			opts: []PolicyOption{BackoffMultiplier(0), BackoffStrategy(constantStrategy(time.Second))},
		},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			pol, err := NewPolicy(tt.opts...)
			if len(tt.wantError) > 0 {
				require.Error(t, err)
				for _, want := range tt.wantError {
					assert.Contains(t, err.Error(), want)
				}
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, pol.newBackoff())
		})
	}
}

func TestPolicyDefaults(t *testing.T) {
	pol, err := NewPolicy()
	require.NoError(t, err)
	assert.Equal(t, 1, pol.MaxAttempts())
	assert.True(t, pol.RetryableCodes().Contains(rpcerrors.CodeUnavailable))
	assert.False(t, pol.RetryableCodes().Contains(rpcerrors.CodeInternal))
	assert.Zero(t, pol.PerAttemptRecvTimeout())
}

func TestPolicyBackoffIsPerCall(t *testing.T) {
	pol := newTestPolicy(t)
	first, second := pol.newBackoff(), pol.newBackoff()
	assert.Equal(t, 10*time.Millisecond, first.NextAttemptDelay())
	assert.Equal(t, 20*time.Millisecond, first.NextAttemptDelay())
	assert.Equal(t, 10*time.Millisecond, second.NextAttemptDelay())
}

type constantStrategy time.Duration

func (s constantStrategy) Backoff() backoff.Backoff { return s }

func (s constantStrategy) NextAttemptDelay() time.Duration { return time.Duration(s) }

func (constantStrategy) Reset() {}

func TestProcedurePolicyProvider(t *testing.T) {
	var (
		def        = newTestPolicy(t)
		svc        = newTestPolicy(t)
		proc       = newTestPolicy(t)
		svcAndProc = newTestPolicy(t)
	)
	provider := NewProcedurePolicyProvider()
	provider.SetDefault(def)
	provider.RegisterService("users", svc)
	provider.RegisterProcedure("get", proc)
	provider.RegisterServiceProcedure("users", "get", svcAndProc)

	tests := []struct {
		service, procedure string
		want               *Policy
	}{
		{"users", "get", svcAndProc},
		{"users", "list", svc},
		{"orders", "get", proc},
		{"orders", "list", def},
	}
	for _, tt := range tests {
		t.Run(tt.service+"::"+tt.procedure, func(t *testing.T) {
			got := provider.Policy(context.Background(), &Request{Service: tt.service, Procedure: tt.procedure})
			assert.Same(t, tt.want, got)
		})
	}
}

func TestOutboundCreatesAttempts(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	attempt := transporttest.NewMockAttemptCall(mockCtrl)
	factory := transporttest.NewMockAttemptCallFactory(mockCtrl)

	var submitted *transport.Batch
	factory.EXPECT().CreateAttemptCall(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req *transport.AttemptRequest) (transport.AttemptCall, error) {
			assert.Equal(t, "users", req.Service)
			assert.Equal(t, "get", req.Procedure)
			assert.Equal(t, 1, req.Attempt)
			assert.False(t, req.IsTransparentRetry)
			assert.NotNil(t, req.OnCommit)
			return attempt, nil
		})
	attempt.EXPECT().SubmitBatch(gomock.Any()).Do(func(b *transport.Batch) { submitted = b })

	out := NewOutbound(factory, WithPolicyProvider(PolicyProviderFunc(func(context.Context, *Request) *Policy {
		return newTestPolicy(t)
	})))
	call := out.NewCall(context.Background(), &Request{Service: "users", Procedure: "get"})
	assert.NotNil(t, call.Policy())

	rec := &recorder{}
	caller := rec.unaryBatch("a", "hello")
	call.StartBatch(caller)

	require.NotNil(t, submitted)
	assert.NotSame(t, caller, submitted, "uncommitted calls submit their own batches")
	assert.Equal(t, "[send_initial_metadata send_message send_trailing_metadata recv_initial_metadata recv_message recv_trailing_metadata]", submitted.String())
}

func TestOutboundWithoutPolicy(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	factory := transporttest.NewMockAttemptCallFactory(mockCtrl)
	factory.EXPECT().CreateAttemptCall(gomock.Any(), gomock.Any()).Return(nil, rpcerrors.UnavailableErrorf("no peers"))

	out := NewOutbound(factory)
	call := out.NewCall(context.Background(), &Request{Service: "users", Procedure: "get"})
	assert.Nil(t, call.Policy())

	rec := &recorder{}
	call.StartBatch(&transport.Batch{
		RecvTrailingMetadata: rec.recvTrailing("a"),
	})
	assert.Equal(t, []string{"a:trailing:unavailable"}, rec.Events())
}
