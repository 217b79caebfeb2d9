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
	"errors"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/rpcretry/api/backoff"
	ibackoff "go.uber.org/rpcretry/internal/backoff"
	"go.uber.org/rpcretry/rpcerrors"
)

// Policy defines how a call is retried.
//
// Policies are immutable and may be shared by any number of calls.
type Policy struct {
	opts policyOptions
}

// NewPolicy creates a new retry Policy.
func NewPolicy(opts ...PolicyOption) (*Policy, error) {
	policyOpts := defaultPolicyOpts
	for _, opt := range opts {
		opt.apply(&policyOpts)
	}
	if err := policyOpts.validate(); err != nil {
		return nil, err
	}
	if policyOpts.backoffStrategy == nil {
		strategy, err := ibackoff.NewExponential(
			ibackoff.InitialBackoff(policyOpts.initialBackoff),
			ibackoff.MaxBackoff(policyOpts.maxBackoff),
			ibackoff.Multiplier(policyOpts.backoffMultiplier),
			ibackoff.Jitter(policyOpts.jitter),
		)
		if err != nil {
			return nil, err
		}
		policyOpts.backoffStrategy = strategy
	}
	return &Policy{opts: policyOpts}, nil
}

var defaultPolicyOpts = policyOptions{
	maxAttempts:       1,
	initialBackoff:    100 * time.Millisecond,
	maxBackoff:        time.Second,
	backoffMultiplier: 2,
	jitter:            ibackoff.DefaultJitter,
	retryableCodes:    rpcerrors.NewCodeSet(rpcerrors.CodeUnavailable),
}

type policyOptions struct {
	// maxAttempts is the total number of attempts, including the first one.
	// Transparent retries do not count.
	maxAttempts int

	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
	jitter            float64

	// backoffStrategy overrides the exponential parameters above.
	backoffStrategy backoff.Strategy

	retryableCodes rpcerrors.CodeSet

	// perAttemptRecvTimeout bounds how long an attempt may go without
	// receiving anything before it is cancelled and considered for retry.
	// Zero disables the timer.
	perAttemptRecvTimeout time.Duration
}

func (o policyOptions) validate() (err error) {
	if o.maxAttempts < 1 {
		err = multierr.Append(err, errors.New("max attempts must be at least 1"))
	}
	if o.perAttemptRecvTimeout < 0 {
		err = multierr.Append(err, errors.New("per-attempt receive timeout must not be negative"))
	}
	return err
}

// PolicyOption customizes the behavior of a retry policy.
type PolicyOption interface {
	apply(*policyOptions)
}

type policyOptionFunc func(*policyOptions)

func (f policyOptionFunc) apply(opts *policyOptions) { f(opts) }

// MaxAttempts is the total number of attempts a call may make, counting the
// first one. Values of 1 disable retries.
//
// Defaults to 1.
func MaxAttempts(n int) PolicyOption {
	return policyOptionFunc(func(opts *policyOptions) {
		opts.maxAttempts = n
	})
}

// InitialBackoff is the delay before the first retry.
//
// Defaults to 100 milliseconds.
func InitialBackoff(d time.Duration) PolicyOption {
	return policyOptionFunc(func(opts *policyOptions) {
		opts.initialBackoff = d
	})
}

// MaxBackoff caps the delay between attempts.
//
// Defaults to 1 second.
func MaxBackoff(d time.Duration) PolicyOption {
	return policyOptionFunc(func(opts *policyOptions) {
		opts.maxBackoff = d
	})
}

// BackoffMultiplier is the factor the delay grows by after each retry.
//
// Defaults to 2.
func BackoffMultiplier(m float64) PolicyOption {
	return policyOptionFunc(func(opts *policyOptions) {
		opts.backoffMultiplier = m
	})
}

// BackoffJitter sets the multiplicative jitter applied to every delay.
//
// Defaults to 0.2.
func BackoffJitter(j float64) PolicyOption {
	return policyOptionFunc(func(opts *policyOptions) {
		opts.jitter = j
	})
}

// BackoffStrategy replaces the exponential backoff built from
// InitialBackoff, MaxBackoff, BackoffMultiplier and BackoffJitter.
func BackoffStrategy(strategy backoff.Strategy) PolicyOption {
	return policyOptionFunc(func(opts *policyOptions) {
		if strategy != nil {
			opts.backoffStrategy = strategy
		}
	})
}

// RetryableCodes sets the status codes that make an attempt eligible for
// retry.
//
// Defaults to CodeUnavailable.
func RetryableCodes(codes ...rpcerrors.Code) PolicyOption {
	return policyOptionFunc(func(opts *policyOptions) {
		opts.retryableCodes = rpcerrors.NewCodeSet(codes...)
	})
}

// PerAttemptRecvTimeout cancels an attempt that has received nothing within
// d of starting and considers it for retry.
//
// Disabled by default.
func PerAttemptRecvTimeout(d time.Duration) PolicyOption {
	return policyOptionFunc(func(opts *policyOptions) {
		opts.perAttemptRecvTimeout = d
	})
}

// MaxAttempts returns the total number of attempts allowed.
func (p *Policy) MaxAttempts() int { return p.opts.maxAttempts }

// RetryableCodes returns the codes eligible for retry.
func (p *Policy) RetryableCodes() rpcerrors.CodeSet { return p.opts.retryableCodes }

// PerAttemptRecvTimeout returns the per-attempt receive timeout, or zero.
func (p *Policy) PerAttemptRecvTimeout() time.Duration { return p.opts.perAttemptRecvTimeout }

func (p *Policy) newBackoff() backoff.Backoff {
	return p.opts.backoffStrategy.Backoff()
}
