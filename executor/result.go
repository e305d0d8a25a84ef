// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package executor

import (
	"time"

	"github.com/bradleyjkemp/xfuzz/coverage"
)

type Status int

const (
	Normal Status = iota
	Crashed
	TimedOut
)

func (s Status) String() string {
	switch s {
	case Normal:
		return "normal"
	case Crashed:
		return "crashed"
	case TimedOut:
		return "timed out"
	}
	return "unknown"
}

// Result describes one harness execution.
type Result struct {
	Status Status
	// Res is the harness return value; meaningless unless Status is Normal.
	Res int
	// Cover is only valid until the next Execute call on the same executor.
	Cover coverage.Map
	// Tainted is set when an abandoned worker was still running during the
	// execution: it may have written to the sink, so Cover is not
	// attributable to this input alone.
	Tainted  bool
	Output   []byte
	Duration time.Duration
}
