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
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/uber-go/tally"
	"go.uber.org/rpcretry/api/transport"
	"go.uber.org/rpcretry/internal/clock"
	"go.uber.org/rpcretry/internal/sampledlogger"
	"go.uber.org/rpcretry/throttle"
	"go.uber.org/zap"
)

// DefaultPerRPCBufferSize is the number of payload and metadata bytes a call
// may hold for replay before it commits to its current attempt.
const DefaultPerRPCBufferSize = 256 << 10

const _throttleLogInterval = time.Minute

// OutboundOption customizes the behavior of an Outbound.
type OutboundOption interface {
	apply(*outboundOptions)
}

type outboundOptionFunc func(*outboundOptions)

func (f outboundOptionFunc) apply(opts *outboundOptions) { f(opts) }

type throttling struct {
	maxMilliTokens  int64
	milliTokenRatio int64
}

type outboundOptions struct {
	policyProvider PolicyProvider
	scope          tally.Scope
	logger         *zap.Logger
	tracer         opentracing.Tracer
	clock          clock.Clock
	registry       *throttle.Registry
	destination    string
	throttling     *throttling
	bufferSize     int
}

func defaultOutboundOptions() outboundOptions {
	return outboundOptions{
		scope:      tally.NoopScope,
		logger:     zap.NewNop(),
		tracer:     opentracing.NoopTracer{},
		clock:      clock.NewReal(),
		bufferSize: DefaultPerRPCBufferSize,
	}
}

// WithPolicyProvider sets the PolicyProvider consulted once per call. Calls
// for which no policy is provided are never retried, but may still be
// retried transparently when the server never saw them.
func WithPolicyProvider(provider PolicyProvider) OutboundOption {
	return outboundOptionFunc(func(opts *outboundOptions) {
		opts.policyProvider = provider
	})
}

// WithTally sets a Tally scope that will be used to record retry metrics.
func WithTally(scope tally.Scope) OutboundOption {
	return outboundOptionFunc(func(opts *outboundOptions) {
		opts.scope = scope
	})
}

// WithLogger sets a zap Logger that will be used to record retry logs.
func WithLogger(logger *zap.Logger) OutboundOption {
	return outboundOptionFunc(func(opts *outboundOptions) {
		opts.logger = logger
	})
}

// WithTracer sets the tracer used to record a span for every attempt.
func WithTracer(tracer opentracing.Tracer) OutboundOption {
	return outboundOptionFunc(func(opts *outboundOptions) {
		opts.tracer = tracer
	})
}

// WithThrottleRegistry shares retry throttles between Outbounds that talk to
// the same destination.
func WithThrottleRegistry(r *throttle.Registry) OutboundOption {
	return outboundOptionFunc(func(opts *outboundOptions) {
		opts.registry = r
	})
}

// WithDestination names the server the Outbound talks to. Throttles are
// shared per destination.
func WithDestination(name string) OutboundOption {
	return outboundOptionFunc(func(opts *outboundOptions) {
		opts.destination = name
	})
}

// WithThrottling enables retry throttling. Both values are in thousandths of
// a token; see the throttle package.
func WithThrottling(maxMilliTokens, milliTokenRatio int64) OutboundOption {
	return outboundOptionFunc(func(opts *outboundOptions) {
		opts.throttling = &throttling{
			maxMilliTokens:  maxMilliTokens,
			milliTokenRatio: milliTokenRatio,
		}
	})
}

// WithPerRPCBufferSize caps the bytes a call buffers for replay.
func WithPerRPCBufferSize(n int) OutboundOption {
	return outboundOptionFunc(func(opts *outboundOptions) {
		opts.bufferSize = n
	})
}

func withClock(c clock.Clock) OutboundOption {
	return outboundOptionFunc(func(opts *outboundOptions) {
		opts.clock = c
	})
}

// Outbound creates retrying calls on top of an AttemptCallFactory.
type Outbound struct {
	factory     transport.AttemptCallFactory
	opts        outboundOptions
	throttle    *throttle.Throttle
	observer    *observer
	throttleLog *sampledlogger.SampledLogger
}

// NewOutbound creates a new Outbound.
func NewOutbound(factory transport.AttemptCallFactory, opts ...OutboundOption) *Outbound {
	options := defaultOutboundOptions()
	for _, opt := range opts {
		opt.apply(&options)
	}
	if options.destination != "" {
		options.logger = options.logger.With(zap.String("destination", options.destination))
	}

	o := &Outbound{
		factory:     factory,
		opts:        options,
		observer:    newObserver(options.scope),
		throttleLog: sampledlogger.New(_throttleLogInterval, options.logger, options.clock),
	}
	if t := options.throttling; t != nil {
		if options.registry != nil {
			o.throttle = options.registry.Get(options.destination, t.maxMilliTokens, t.milliTokenRatio)
		} else {
			o.throttle = throttle.New(t.maxMilliTokens, t.milliTokenRatio, nil)
		}
	}
	return o
}

// Throttle returns the retry throttle used by the Outbound, or nil if
// throttling is disabled.
func (o *Outbound) Throttle() *throttle.Throttle { return o.throttle }

// NewCall starts a new retrying call. No attempt is made until the first
// batch is started on it.
func (o *Outbound) NewCall(ctx context.Context, req *Request) *Call {
	var pol *Policy
	if o.opts.policyProvider != nil {
		pol = o.opts.policyProvider.Policy(ctx, req)
	}
	o.observer.call()
	return newCall(ctx, o, req, pol)
}
