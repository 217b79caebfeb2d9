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

package backoff

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/rpcretry/api/backoff"
)

// DefaultJitter is the multiplicative jitter applied to every delay; delays
// are scaled by a uniformly distributed factor in [1-jitter, 1+jitter].
const DefaultJitter = 0.2

// ExponentialOption defines options that can be applied to an
// exponential backoff strategy
type ExponentialOption func(*exponentialOptions)

// exponentialOptions are the configuration options for an exponential backoff
type exponentialOptions struct {
	initial, max time.Duration
	multiplier   float64
	jitter       float64
	newRand      func() *rand.Rand
}

func (e exponentialOptions) validate() (err error) {
	if e.initial <= 0 {
		err = multierr.Append(err, errors.New("invalid initial backoff, need greater than zero"))
	}
	if e.max <= 0 {
		err = multierr.Append(err, errors.New("invalid max backoff, need greater than zero"))
	}
	if e.max < e.initial {
		err = multierr.Append(err, errors.New("max backoff must be greater than or equal to initial backoff"))
	}
	if e.multiplier <= 0 {
		err = multierr.Append(err, errors.New("invalid backoff multiplier, need greater than zero"))
	}
	if e.jitter < 0 || e.jitter >= 1 {
		err = multierr.Append(err, errors.New("invalid backoff jitter, need a value in [0, 1)"))
	}
	return err
}

var (
	_seedMu   sync.Mutex
	_seedRand = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func newSeededRand() *rand.Rand {
	_seedMu.Lock()
	seed := _seedRand.Int63()
	_seedMu.Unlock()
	return rand.New(rand.NewSource(seed))
}

var defaultExponentialOpts = exponentialOptions{
	initial:    time.Second,
	max:        2 * time.Minute,
	multiplier: 1.6,
	jitter:     DefaultJitter,
	newRand:    newSeededRand,
}

// InitialBackoff sets the delay before the first retry.
func InitialBackoff(t time.Duration) ExponentialOption {
	return func(options *exponentialOptions) {
		options.initial = t
	}
}

// MaxBackoff sets the cap on the running delay, before jitter is applied.
func MaxBackoff(t time.Duration) ExponentialOption {
	return func(options *exponentialOptions) {
		options.max = t
	}
}

// Multiplier sets the factor the running delay grows by after each attempt.
func Multiplier(m float64) ExponentialOption {
	return func(options *exponentialOptions) {
		options.multiplier = m
	}
}

// Jitter overrides DefaultJitter.
func Jitter(j float64) ExponentialOption {
	return func(options *exponentialOptions) {
		options.jitter = j
	}
}

// randGenerator is an internal option for overriding the random number
// generator handed to every backoff instance.
func randGenerator(newRand func() *rand.Rand) ExponentialOption {
	return func(options *exponentialOptions) {
		options.newRand = newRand
	}
}

// Exponential is an exponential backoff strategy with multiplicative jitter.
// The first delay is the initial backoff; every following delay multiplies
// the running value, clamps it to the max, and scales the result by a random
// factor in [1-jitter, 1+jitter].
//
// The strategy itself is stateless and safe to use concurrently; each
// Backoff it returns is not.
type Exponential struct {
	opts exponentialOptions
}

var _ backoff.Strategy = (*Exponential)(nil)

// NewExponential returns a new Exponential Backoff Strategy.
func NewExponential(opts ...ExponentialOption) (*Exponential, error) {
	options := defaultExponentialOpts
	for _, opt := range opts {
		opt(&options)
	}

	if err := options.validate(); err != nil {
		return nil, err
	}

	return &Exponential{
		opts: options,
	}, nil
}

// Backoff returns a fresh backoff sequence.
func (e *Exponential) Backoff() backoff.Backoff {
	return &exponentialBackoff{
		opts:    e.opts,
		rand:    e.opts.newRand(),
		initial: true,
		current: e.opts.initial,
	}
}

type exponentialBackoff struct {
	opts    exponentialOptions
	rand    *rand.Rand
	initial bool
	current time.Duration
}

func (b *exponentialBackoff) NextAttemptDelay() time.Duration {
	if b.initial {
		b.initial = false
		return b.jittered(b.current)
	}
	// Compare before converting; the product may not fit in a Duration.
	next := float64(b.current) * b.opts.multiplier
	if next >= float64(b.opts.max) || next <= 0 {
		b.current = b.opts.max
	} else {
		b.current = time.Duration(next)
	}
	return b.jittered(b.current)
}

func (b *exponentialBackoff) Reset() {
	b.initial = true
	b.current = b.opts.initial
}

func (b *exponentialBackoff) jittered(d time.Duration) time.Duration {
	if b.opts.jitter == 0 {
		return d
	}
	lo := 1 - b.opts.jitter
	factor := lo + b.rand.Float64()*2*b.opts.jitter
	jittered := float64(d) * factor
	if jittered >= math.MaxInt64 {
		return math.MaxInt64
	}
	return time.Duration(jittered)
}
