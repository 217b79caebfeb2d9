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

package grpcerrorcodes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/rpcretry/rpcerrors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestCodeMapsAreInverse(t *testing.T) {
	for c := rpcerrors.CodeOK; c <= rpcerrors.CodeUnauthenticated; c++ {
		assert.Equal(t, c, FromGRPC(ToGRPC(c)), c.String())
	}
	assert.Equal(t, codes.Unknown, ToGRPC(rpcerrors.Code(99)))
	assert.Equal(t, rpcerrors.CodeUnknown, FromGRPC(codes.Code(99)))
}

func TestErrorFromGRPC(t *testing.T) {
	already := rpcerrors.Newf(rpcerrors.CodeAborted, "aborted")

	tests := []struct {
		desc     string
		give     error
		wantNil  bool
		wantCode rpcerrors.Code
		wantMsg  string
	}{
		{desc: "nil", give: nil, wantNil: true},
		{desc: "eof", give: io.EOF, wantNil: true},
		{desc: "ok status", give: status.Error(codes.OK, ""), wantNil: true},
		{
			desc:     "unavailable",
			give:     status.Error(codes.Unavailable, "no backends"),
			wantCode: rpcerrors.CodeUnavailable,
			wantMsg:  "no backends",
		},
		{
			desc:     "percent in message",
			give:     status.Error(codes.Internal, "100% broken"),
			wantCode: rpcerrors.CodeInternal,
			wantMsg:  "100% broken",
		},
		{
			desc:     "already converted",
			give:     fmt.Errorf("wrapped: %w", already),
			wantCode: rpcerrors.CodeAborted,
			wantMsg:  "aborted",
		},
		{
			desc:     "context",
			give:     context.Canceled,
			wantCode: rpcerrors.CodeCancelled,
			wantMsg:  "context canceled",
		},
		{
			desc:     "plain",
			give:     errors.New("great sadness"),
			wantCode: rpcerrors.CodeUnknown,
			wantMsg:  "great sadness",
		},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			got := ErrorFromGRPC(tt.give)
			if tt.wantNil {
				assert.NoError(t, got)
				return
			}
			st := rpcerrors.FromError(got)
			assert.Equal(t, tt.wantCode, st.Code())
			assert.Equal(t, tt.wantMsg, st.Message())
		})
	}
}

func TestErrorToGRPC(t *testing.T) {
	assert.NoError(t, ErrorToGRPC(nil))

	err := ErrorToGRPC(rpcerrors.UnavailableErrorf("down"))
	st, ok := status.FromError(err)
	assert.True(t, ok)
	assert.Equal(t, codes.Unavailable, st.Code())
	assert.Equal(t, "down", st.Message())
}
