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

	"go.uber.org/rpcretry/api/transport"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// FactoryOption customizes a Factory.
type FactoryOption func(*factoryOptions)

type factoryOptions struct {
	logger      *zap.Logger
	callOptions []grpc.CallOption
}

// Logger sets the logger for the Factory.
func Logger(logger *zap.Logger) FactoryOption {
	return func(opts *factoryOptions) {
		opts.logger = logger
	}
}

// CallOptions adds gRPC call options to every stream the Factory opens.
func CallOptions(callOptions ...grpc.CallOption) FactoryOption {
	return func(opts *factoryOptions) {
		opts.callOptions = append(opts.callOptions, callOptions...)
	}
}

var _streamDesc = &grpc.StreamDesc{
	StreamName:    "retry",
	ClientStreams: true,
	ServerStreams: true,
}

// Factory creates call attempts as gRPC streams over a client connection.
//
// Every attempt is a bidirectional stream carrying raw payloads; unary
// calls are streams that send and receive a single message. The stream is
// opened when the attempt sends its initial metadata.
type Factory struct {
	cc          grpc.ClientConnInterface
	logger      *zap.Logger
	callOptions []grpc.CallOption
}

var _ transport.AttemptCallFactory = (*Factory)(nil)

// NewFactory builds a new Factory on top of cc.
func NewFactory(cc grpc.ClientConnInterface, options ...FactoryOption) *Factory {
	opts := factoryOptions{logger: zap.NewNop()}
	for _, o := range options {
		o(&opts)
	}
	return &Factory{
		cc:          cc,
		logger:      opts.logger,
		callOptions: append(opts.callOptions, grpc.ForceCodec(passThroughCodec{})),
	}
}

// CreateAttemptCall creates an attempt for req. No network activity happens
// until the attempt's first batch is submitted.
func (f *Factory) CreateAttemptCall(ctx context.Context, req *transport.AttemptRequest) (transport.AttemptCall, error) {
	return newAttemptCall(ctx, f, req), nil
}

func procedureName(service, procedure string) string {
	return "/" + service + "/" + procedure
}
