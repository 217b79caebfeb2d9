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

package rpcerrors

import (
	"sort"
	"strings"

	"go.uber.org/multierr"
)

// CodeSet is an immutable set of status codes.
type CodeSet struct {
	bits uint32
}

// NewCodeSet builds a CodeSet holding the given codes.
func NewCodeSet(codes ...Code) CodeSet {
	var s CodeSet
	for _, c := range codes {
		if c >= 0 && c < 32 {
			s.bits |= 1 << uint(c)
		}
	}
	return s
}

// ParseCodeSet builds a CodeSet from code names, reporting every name that
// could not be parsed.
func ParseCodeSet(names []string) (CodeSet, error) {
	var (
		codes []Code
		err   error
	)
	for _, name := range names {
		c, perr := ParseCode(name)
		if perr != nil {
			err = multierr.Append(err, perr)
			continue
		}
		codes = append(codes, c)
	}
	return NewCodeSet(codes...), err
}

// Contains reports whether c is in the set.
func (s CodeSet) Contains(c Code) bool {
	if c < 0 || c >= 32 {
		return false
	}
	return s.bits&(1<<uint(c)) != 0
}

// Empty reports whether the set holds no codes.
func (s CodeSet) Empty() bool { return s.bits == 0 }

// Codes returns the members of the set in ascending order.
func (s CodeSet) Codes() []Code {
	var codes []Code
	for c := Code(0); c < 32; c++ {
		if s.Contains(c) {
			codes = append(codes, c)
		}
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

func (s CodeSet) String() string {
	codes := s.Codes()
	names := make([]string, len(codes))
	for i, c := range codes {
		names[i] = c.String()
	}
	return "[" + strings.Join(names, " ") + "]"
}
