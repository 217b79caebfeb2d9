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
	"strconv"
	"strings"
	"time"

	"go.uber.org/rpcretry/api/transport"
	"google.golang.org/grpc/metadata"
)

// parsePushback reads the server's retry pushback from trailing metadata. A
// negative delay means the server asked not to be retried; anything that
// does not parse as a non-negative number of milliseconds counts as such.
func parsePushback(md metadata.MD) (time.Duration, bool) {
	vals := md.Get(transport.RetryPushbackHeader)
	if len(vals) == 0 {
		return 0, false
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(vals[0]), 10, 64)
	if err != nil || ms < 0 || ms > int64(time.Duration(1<<63-1)/time.Millisecond) {
		return -1, true
	}
	return time.Duration(ms) * time.Millisecond, true
}
