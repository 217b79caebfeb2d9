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
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/rpcretry/api/transport"
	iconfig "go.uber.org/rpcretry/internal/config"
	"go.uber.org/rpcretry/rpcerrors"
	"go.uber.org/rpcretry/throttle"
)

// MaxConfiguredAttempts caps maxAttempts read from configuration. Larger
// values are silently lowered.
const MaxConfiguredAttempts = 5

// PolicyConfig defines how to construct a retry Policy.
type PolicyConfig struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int `config:"maxAttempts"`

	InitialBackoff    time.Duration `config:"initialBackoff"`
	MaxBackoff        time.Duration `config:"maxBackoff"`
	BackoffMultiplier float64       `config:"backoffMultiplier"`

	// RetryableStatusCodes lists the status codes, by name, that may be
	// retried. It must not be empty.
	RetryableStatusCodes []string `config:"retryableStatusCodes"`

	// PerAttemptRecvTimeout bounds how long an attempt may wait for a
	// response. Zero disables the bound.
	PerAttemptRecvTimeout time.Duration `config:"perAttemptRecvTimeout"`
}

func (p PolicyConfig) policy() (*Policy, error) {
	if len(p.RetryableStatusCodes) == 0 {
		return nil, errors.New("retryableStatusCodes must not be empty")
	}
	codes, err := rpcerrors.ParseCodeSet(p.RetryableStatusCodes)
	if err != nil {
		return nil, err
	}

	maxAttempts := p.MaxAttempts
	if maxAttempts > MaxConfiguredAttempts {
		maxAttempts = MaxConfiguredAttempts
	}
	return NewPolicy(
		MaxAttempts(maxAttempts),
		InitialBackoff(p.InitialBackoff),
		MaxBackoff(p.MaxBackoff),
		BackoffMultiplier(p.BackoffMultiplier),
		RetryableCodes(codes.Codes()...),
		PerAttemptRecvTimeout(p.PerAttemptRecvTimeout),
	)
}

// PolicyOverrideConfig applies a named policy to a service, a procedure or
// both.
type PolicyOverrideConfig struct {
	Service   string `config:"service"`
	Procedure string `config:"procedure"`

	// WithPolicy names the policy to use. It MUST reference an existing
	// policy.
	WithPolicy string `config:"with"`
}

// ThrottlingConfig enables retry throttling for the destination.
type ThrottlingConfig struct {
	// MaxTokens is the size of the token bucket, in (0, 1000].
	MaxTokens float64 `config:"maxTokens"`

	// TokenRatio is the number of tokens a success puts back. Only three
	// decimal places are kept.
	TokenRatio float64 `config:"tokenRatio"`
}

func (t ThrottlingConfig) milliTokens() (maxMilliTokens, milliTokenRatio int64, err error) {
	if t.MaxTokens <= 0 || t.MaxTokens > 1000 {
		err = multierr.Append(err, fmt.Errorf("invalid retryThrottling maxTokens %v, need a value in (0, 1000]", t.MaxTokens))
	}
	if t.TokenRatio <= 0 {
		err = multierr.Append(err, fmt.Errorf("invalid retryThrottling tokenRatio %v, need greater than zero", t.TokenRatio))
	}
	if err != nil {
		return 0, 0, err
	}
	maxMilliTokens = int64(math.Round(t.MaxTokens * throttle.MilliTokensPerToken))
	milliTokenRatio = int64(math.Round(t.TokenRatio * throttle.MilliTokensPerToken))
	if milliTokenRatio == 0 {
		return 0, 0, fmt.Errorf("invalid retryThrottling tokenRatio %v, rounds to zero", t.TokenRatio)
	}
	return maxMilliTokens, milliTokenRatio, nil
}

// Config is a definition of how to create a retrying Outbound.
//
//	destination: users
//	policies:
//	  idempotent:
//	    maxAttempts: 4
//	    initialBackoff: 100ms
//	    maxBackoff: 1s
//	    backoffMultiplier: 2
//	    retryableStatusCodes: [unavailable, aborted]
//	default: idempotent
//	overrides:
//	  - service: users
//	    procedure: Users::create
//	    with: idempotent
//	retryThrottling:
//	  maxTokens: 10
//	  tokenRatio: 0.1
//	perRpcBufferSize: 262144
type Config struct {
	// Destination names the server. Throttles are shared per destination.
	Destination string `config:"destination"`

	// NameToPolicies is a map of names to policy configs which can be
	// referenced later.
	NameToPolicies map[string]PolicyConfig `config:"policies"`

	// Default is the name of the default policy that will be used.
	Default string `config:"default"`

	// PolicyOverrides allow changing the retry policies for requests matching
	// certain criteria.
	PolicyOverrides []PolicyOverrideConfig `config:"overrides"`

	RetryThrottling *ThrottlingConfig `config:"retryThrottling"`

	// PerRPCBufferSize overrides DefaultPerRPCBufferSize when positive.
	PerRPCBufferSize int `config:"perRpcBufferSize"`
}

// NewOutboundFromConfig decodes src into a Config and builds an Outbound
// from it. Options given explicitly take precedence over configured ones.
func NewOutboundFromConfig(factory transport.AttemptCallFactory, src interface{}, opts ...OutboundOption) (*Outbound, error) {
	var cfg Config
	if err := iconfig.DecodeInto(&cfg, src); err != nil {
		return nil, err
	}
	cfgOpts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	return NewOutbound(factory, append(cfgOpts, opts...)...), nil
}

// Options validates the Config and converts it into OutboundOptions.
func (cfg Config) Options() ([]OutboundOption, error) {
	nameToPolicy, err := cfg.getPolicies()
	if err != nil {
		return nil, err
	}
	provider, err := cfg.getPolicyProvider(nameToPolicy)
	if err != nil {
		return nil, err
	}

	opts := []OutboundOption{WithPolicyProvider(provider)}
	if cfg.Destination != "" {
		opts = append(opts, WithDestination(cfg.Destination))
	}
	if cfg.PerRPCBufferSize > 0 {
		opts = append(opts, WithPerRPCBufferSize(cfg.PerRPCBufferSize))
	}
	if t := cfg.RetryThrottling; t != nil {
		maxMilliTokens, milliTokenRatio, err := t.milliTokens()
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithThrottling(maxMilliTokens, milliTokenRatio))
	}
	return opts, nil
}

func (cfg Config) getPolicies() (map[string]*Policy, error) {
	var errs error
	nameToPolicyMap := make(map[string]*Policy, len(cfg.NameToPolicies))
	for name, policyConfig := range cfg.NameToPolicies {
		policy, err := policyConfig.policy()
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("invalid retry policy %q: %v", name, err))
			continue
		}
		nameToPolicyMap[name] = policy
	}
	return nameToPolicyMap, errs
}

func (cfg Config) getPolicyProvider(nameToPolicy map[string]*Policy) (*ProcedurePolicyProvider, error) {
	policyProvider := NewProcedurePolicyProvider()

	var errs error
	if cfg.Default != "" {
		if defaultPol, ok := nameToPolicy[cfg.Default]; ok {
			policyProvider.SetDefault(defaultPol)
		} else {
			errs = multierr.Append(errs, fmt.Errorf("invalid default retry policy: %q, possibilities are: %v", cfg.Default, policyNames(nameToPolicy)))
		}
	}

	for _, override := range cfg.PolicyOverrides {
		pol, ok := nameToPolicy[override.WithPolicy]
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("invalid retry policy: %q, possibilities are: %v", override.WithPolicy, policyNames(nameToPolicy)))
			continue
		}

		switch {
		case override.Service != "" && override.Procedure != "":
			policyProvider.RegisterServiceProcedure(override.Service, override.Procedure, pol)
		case override.Service != "":
			policyProvider.RegisterService(override.Service, pol)
		case override.Procedure != "":
			policyProvider.RegisterProcedure(override.Procedure, pol)
		default:
			errs = multierr.Append(errs, fmt.Errorf("did not specify a service or procedure for retry policy override: %q", override.WithPolicy))
		}
	}

	return policyProvider, errs
}

func policyNames(nameToPolicy map[string]*Policy) []string {
	ks := make([]string, 0, len(nameToPolicy))
	for k := range nameToPolicy {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}
