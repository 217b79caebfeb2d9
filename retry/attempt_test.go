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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/rpcretry/api/transport"
	"google.golang.org/grpc/metadata"
)

func TestAttemptStateTransitions(t *testing.T) {
	tests := []struct {
		from  attemptState
		to    attemptState
		valid bool
	}{
		{attemptActive, attemptCommitted, true},
		{attemptActive, attemptAbandoned, true},
		{attemptActive, attemptCompleted, true},
		{attemptCommitted, attemptAbandoned, true},
		{attemptCommitted, attemptCompleted, true},
		{attemptCommitted, attemptActive, false},
		{attemptAbandoned, attemptCommitted, false},
		{attemptAbandoned, attemptCompleted, false},
		{attemptCompleted, attemptAbandoned, false},
		{attemptCompleted, attemptCommitted, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			a := &callAttempt{state: tt.from}
			if !tt.valid {
				assert.Panics(t, func() { a.setState(tt.to) })
				return
			}
			a.setState(tt.to)
			assert.Equal(t, tt.to, a.state)
		})
	}
}

func TestDeferredTable(t *testing.T) {
	var (
		table deferredTable
		order []string
	)
	table.put(deferSendMessage, func() { order = append(order, "send") })
	table.put(deferRecvInitialMetadata, func() { order = append(order, "initial") })
	assert.True(t, table.has(deferSendMessage))
	assert.False(t, table.has(deferRecvMessage))
	assert.Panics(t, func() { table.put(deferSendMessage, func() {}) })

	for _, fn := range table.drain() {
		fn()
	}
	assert.Equal(t, []string{"initial", "send"}, order, "receives are delivered before send completions")
	assert.False(t, table.has(deferSendMessage))

	table.put(deferRecvMessage, func() {})
	table.reset()
	assert.Empty(t, table.drain())
}

func TestSendDeferredSlot(t *testing.T) {
	assert.Equal(t, deferSendInitialMetadata, sendDeferredSlot(&transport.Batch{
		SendInitialMetadata: &transport.SendInitialMetadataOp{},
		SendMessage:         &transport.SendMessageOp{},
	}))
	assert.Equal(t, deferSendMessage, sendDeferredSlot(&transport.Batch{SendMessage: &transport.SendMessageOp{}}))
	assert.Equal(t, deferSendTrailingMetadata, sendDeferredSlot(&transport.Batch{SendTrailingMetadata: &transport.SendTrailingMetadataOp{}}))
}

func TestPendingSlot(t *testing.T) {
	assert.Equal(t, slotSendInitialMetadata, pendingSlot(&transport.Batch{
		SendInitialMetadata:  &transport.SendInitialMetadataOp{},
		RecvTrailingMetadata: &transport.RecvTrailingMetadataOp{},
	}))
	assert.Equal(t, slotRecvMessage, pendingSlot(&transport.Batch{RecvMessage: &transport.RecvMessageOp{}}))
	assert.Panics(t, func() { pendingSlot(&transport.Batch{}) })
}

func TestParsePushback(t *testing.T) {
	tests := []struct {
		msg       string
		give      metadata.MD
		wantDelay time.Duration
		wantOK    bool
	}{
		{msg: "absent", give: metadata.MD{}},
		{msg: "nil metadata"},
		{msg: "milliseconds", give: metadata.Pairs(transport.RetryPushbackHeader, "250"), wantDelay: 250 * time.Millisecond, wantOK: true},
		{msg: "zero", give: metadata.Pairs(transport.RetryPushbackHeader, "0"), wantOK: true},
		{msg: "negative", give: metadata.Pairs(transport.RetryPushbackHeader, "-5"), wantDelay: -1, wantOK: true},
		{msg: "not a number", give: metadata.Pairs(transport.RetryPushbackHeader, "1s"), wantDelay: -1, wantOK: true},
		{msg: "overflow", give: metadata.Pairs(transport.RetryPushbackHeader, "99999999999999999"), wantDelay: -1, wantOK: true},
		{msg: "first value wins", give: metadata.Pairs(transport.RetryPushbackHeader, "10", transport.RetryPushbackHeader, "20"), wantDelay: 10 * time.Millisecond, wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			delay, ok := parsePushback(tt.give)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantDelay, delay)
		})
	}
}
