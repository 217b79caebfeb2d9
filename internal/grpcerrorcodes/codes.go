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

// Package grpcerrorcodes converts between gRPC statuses and rpcerrors.
package grpcerrorcodes

import (
	"errors"
	"io"

	"go.uber.org/rpcretry/rpcerrors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	_toGRPC = map[rpcerrors.Code]codes.Code{
		rpcerrors.CodeOK:                 codes.OK,
		rpcerrors.CodeCancelled:          codes.Canceled,
		rpcerrors.CodeUnknown:            codes.Unknown,
		rpcerrors.CodeInvalidArgument:    codes.InvalidArgument,
		rpcerrors.CodeDeadlineExceeded:   codes.DeadlineExceeded,
		rpcerrors.CodeNotFound:           codes.NotFound,
		rpcerrors.CodeAlreadyExists:      codes.AlreadyExists,
		rpcerrors.CodePermissionDenied:   codes.PermissionDenied,
		rpcerrors.CodeResourceExhausted:  codes.ResourceExhausted,
		rpcerrors.CodeFailedPrecondition: codes.FailedPrecondition,
		rpcerrors.CodeAborted:            codes.Aborted,
		rpcerrors.CodeOutOfRange:         codes.OutOfRange,
		rpcerrors.CodeUnimplemented:      codes.Unimplemented,
		rpcerrors.CodeInternal:           codes.Internal,
		rpcerrors.CodeUnavailable:        codes.Unavailable,
		rpcerrors.CodeDataLoss:           codes.DataLoss,
		rpcerrors.CodeUnauthenticated:    codes.Unauthenticated,
	}

	_fromGRPC = make(map[codes.Code]rpcerrors.Code, len(_toGRPC))
)

func init() {
	for c, g := range _toGRPC {
		_fromGRPC[g] = c
	}
}

// ToGRPC returns the gRPC code for c, or codes.Unknown.
func ToGRPC(c rpcerrors.Code) codes.Code {
	if g, ok := _toGRPC[c]; ok {
		return g
	}
	return codes.Unknown
}

// FromGRPC returns the rpcerrors code for g, or rpcerrors.CodeUnknown.
func FromGRPC(g codes.Code) rpcerrors.Code {
	if c, ok := _fromGRPC[g]; ok {
		return c
	}
	return rpcerrors.CodeUnknown
}

// ErrorFromGRPC converts an error returned by a gRPC client stream into an
// *rpcerrors.Status. Nil and io.EOF, which gRPC uses for a clean end of
// stream, convert to nil.
func ErrorFromGRPC(err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	if rpcerrors.IsStatus(err) {
		return err
	}
	st, ok := status.FromError(err)
	if !ok {
		return rpcerrors.FromError(err)
	}
	if st.Code() == codes.OK {
		return nil
	}
	return rpcerrors.Newf(FromGRPC(st.Code()), st.Message())
}

// ErrorToGRPC converts err into a gRPC status error.
func ErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}
	st := rpcerrors.FromError(err)
	return status.Error(ToGRPC(st.Code()), st.Message())
}
