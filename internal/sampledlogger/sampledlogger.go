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

// Package sampledlogger wraps a zap.Logger so that a message logged on a hot
// path is written at most once per interval.
package sampledlogger

import (
	"math"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/rpcretry/internal/clock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// SampledLogger drops log entries written less than an interval after the
// last one it let through.
type SampledLogger struct {
	logger   *zap.Logger
	clock    clock.Clock
	interval time.Duration
	last     atomic.Int64 // unix nanos of the last entry written
	dropped  atomic.Int64
}

// New creates a SampledLogger writing to logger at most once per interval.
func New(interval time.Duration, logger *zap.Logger, clk clock.Clock) *SampledLogger {
	if clk == nil {
		clk = clock.NewReal()
	}
	sl := &SampledLogger{
		logger:   logger,
		clock:    clk,
		interval: interval,
	}
	sl.last.Store(_never)
	return sl
}

const _never = math.MinInt64

// NewDefault creates a SampledLogger with zap.NewNop() and 5-minute interval.
func NewDefault() *SampledLogger {
	return New(5*time.Minute, zap.NewNop(), nil)
}

func (sl *SampledLogger) log(level zapcore.Level, msg string, fields ...zap.Field) {
	if !sl.logger.Core().Enabled(level) {
		return
	}
	now := sl.clock.Now().UnixNano()
	last := sl.last.Load()
	if last != _never && time.Duration(now-last) < sl.interval {
		sl.dropped.Inc()
		return
	}
	if !sl.last.CompareAndSwap(last, now) {
		// Another goroutine just logged.
		sl.dropped.Inc()
		return
	}
	if n := sl.dropped.Swap(0); n > 0 {
		fields = append(fields, zap.Int64("dropped", n))
	}
	if ce := sl.logger.Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

// Debug logs a debug-level message with rate limiting.
func (sl *SampledLogger) Debug(msg string, fields ...zap.Field) {
	sl.log(zapcore.DebugLevel, msg, fields...)
}

// Info logs an info-level message with rate limiting.
func (sl *SampledLogger) Info(msg string, fields ...zap.Field) {
	sl.log(zapcore.InfoLevel, msg, fields...)
}

// Warn logs a warn-level message with rate limiting.
func (sl *SampledLogger) Warn(msg string, fields ...zap.Field) {
	sl.log(zapcore.WarnLevel, msg, fields...)
}
