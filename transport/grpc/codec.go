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

import "fmt"

// passThroughCodec writes and reads message payloads as-is. It registers
// under the "proto" content subtype so that attempts can talk to any gRPC
// server without knowing its message types.
type passThroughCodec struct{}

func (passThroughCodec) Marshal(v interface{}) ([]byte, error) {
	switch bs := v.(type) {
	case []byte:
		return bs, nil
	case *[]byte:
		return *bs, nil
	default:
		return nil, fmt.Errorf("expected sender of type *[]byte but got %T", v)
	}
}

func (passThroughCodec) Unmarshal(data []byte, v interface{}) error {
	bs, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("expected receiver of type *[]byte but got %T", v)
	}
	*bs = data
	return nil
}

func (passThroughCodec) Name() string {
	return "proto"
}
