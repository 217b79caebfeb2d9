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

// Package retry retries client calls made over a batch-oriented transport.
//
// A Call looks like a transport call to its caller: operations are started
// in batches and complete through callbacks. Behind it, the Call creates one
// transport attempt at a time through a transport.AttemptCallFactory, caches
// what was sent so that a new attempt can replay it, and holds back results
// until it commits to the attempt that produced them.
//
// Usage
//
// Build an Outbound from a PolicyProvider, or from configuration:
//
//	var data map[string]interface{}
//	err := yaml.Unmarshal(myYAMLConfig, &data)
//	out, err := retry.NewOutboundFromConfig(factory, data)
//
// and use it to make calls:
//
//	resp, err := out.Invoke(ctx, &retry.Request{Service: "users", Procedure: "get"}, md, body)
//
// Streaming calls use NewStream. Callers that speak the batch API directly
// use NewCall.
//
// Commit
//
// A call commits, and stops retrying, once any of the following happens:
// the server sends headers or a message, the final status is not retried,
// the bytes buffered for replay exceed the per-call limit, an attempt times
// out without a retry, or the call is cancelled. After commit the call
// frees its cache and, when nothing is left to replay, hands batches
// straight to the transport.
//
// Transparent retries
//
// An attempt that never left the client, or never reached the server
// application, is retried right away without consulting the policy, as long
// as the call has not committed. The second case is retried only once per
// call.
//
// Configuration
//
// See Config for the accepted attributes.
package retry
