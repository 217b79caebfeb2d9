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

// Package retryfx provides a retrying Outbound to fx applications.
//
// The Outbound is configured from the "retry" key of the application's
// config.Provider, using the same layout as retry.Config. Applications
// supply the transport.AttemptCallFactory; a zap.Logger, tally.Scope and
// opentracing.Tracer are used when present in the container.
package retryfx

import (
	"github.com/opentracing/opentracing-go"
	"github.com/uber-go/tally"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/rpcretry/api/transport"
	iconfig "go.uber.org/rpcretry/internal/config"
	"go.uber.org/rpcretry/retry"
	"go.uber.org/rpcretry/throttle"
	"go.uber.org/zap"
)

const _configurationKey = "retry"

// Module produces a retry.Outbound and the throttle.Registry it shares
// with other outbounds of the process.
var Module = fx.Options(
	fx.Provide(NewConfig),
	fx.Provide(NewRegistry),
	fx.Provide(NewOutbound),
)

// ConfigParams defines the dependencies of NewConfig.
type ConfigParams struct {
	fx.In

	Provider config.Provider
}

// ConfigResult defines the values produced by NewConfig.
type ConfigResult struct {
	fx.Out

	Config retry.Config
}

// NewConfig reads a retry.Config from the "retry" key. A missing key
// yields the zero Config, which disables retries.
func NewConfig(p ConfigParams) (ConfigResult, error) {
	var raw map[string]interface{}
	if err := p.Provider.Get(_configurationKey).Populate(&raw); err != nil {
		return ConfigResult{}, err
	}
	var cfg retry.Config
	if len(raw) > 0 {
		if err := iconfig.DecodeInto(&cfg, raw); err != nil {
			return ConfigResult{}, err
		}
	}
	return ConfigResult{Config: cfg}, nil
}

// RegistryResult defines the values produced by NewRegistry.
type RegistryResult struct {
	fx.Out

	Registry *throttle.Registry
}

// NewRegistry produces the process-wide throttle.Registry.
func NewRegistry() RegistryResult {
	return RegistryResult{Registry: throttle.NewRegistry()}
}

// OutboundParams defines the dependencies of NewOutbound.
type OutboundParams struct {
	fx.In

	Config   retry.Config
	Factory  transport.AttemptCallFactory
	Registry *throttle.Registry

	Logger *zap.Logger        `optional:"true"`
	Scope  tally.Scope        `optional:"true"`
	Tracer opentracing.Tracer `optional:"true"`
}

// OutboundResult defines the values produced by NewOutbound.
type OutboundResult struct {
	fx.Out

	Outbound *retry.Outbound
}

// NewOutbound produces a retry.Outbound from the configuration.
func NewOutbound(p OutboundParams) (OutboundResult, error) {
	opts, err := p.Config.Options()
	if err != nil {
		return OutboundResult{}, err
	}
	opts = append(opts, retry.WithThrottleRegistry(p.Registry))
	if p.Logger != nil {
		opts = append(opts, retry.WithLogger(p.Logger.Named("retry")))
	}
	if p.Scope != nil {
		opts = append(opts, retry.WithTally(p.Scope))
	}
	if p.Tracer != nil {
		opts = append(opts, retry.WithTracer(p.Tracer))
	}
	return OutboundResult{Outbound: retry.NewOutbound(p.Factory, opts...)}, nil
}
