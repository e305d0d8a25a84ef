// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package coverage

// Sink is the shared counter region the harness writes into.
// Only the executor resets and reads it.
type Sink interface {
	// Len is fixed for the lifetime of a run.
	Len() int
	// Bytes returns the live counters. Callers must copy before the next Reset.
	Bytes() []byte
	Reset()
}

// TabSink exposes CoverTab.
type TabSink struct{}

func (TabSink) Len() int { return CoverSize }

func (TabSink) Bytes() []byte { return CoverTab[:] }

func (TabSink) Reset() { *CoverTab = [CoverSize]byte{} }

// SliceSink wraps a fixed counter slice owned by some other instrumentation.
type SliceSink struct {
	buf []byte
}

func NewSliceSink(size int) *SliceSink {
	return &SliceSink{buf: make([]byte, size)}
}

func (s *SliceSink) Len() int { return len(s.buf) }

func (s *SliceSink) Bytes() []byte { return s.buf }

func (s *SliceSink) Reset() {
	for i := range s.buf {
		s.buf[i] = 0
	}
}

// Hit increments counter idx, saturating at 255.
func (s *SliceSink) Hit(idx int) {
	idx %= len(s.buf)
	if s.buf[idx] != 255 {
		s.buf[idx]++
	}
}
