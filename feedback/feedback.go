// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package feedback decides which executions are worth keeping.
package feedback

import (
	"github.com/golang/glog"

	"github.com/bradleyjkemp/xfuzz/coverage"
	"github.com/bradleyjkemp/xfuzz/executor"
)

// Feedback judges the coverage of a single execution.
type Feedback interface {
	IsInteresting(local coverage.Map) bool
}

// MaxMap keeps the element-wise maximum of every bucketed coverage map it
// has accepted. An execution is interesting iff it raises some element.
type MaxMap struct {
	global   coverage.Map
	points   *coverage.Points
	counters bool
	size     int
}

func New(size int, counters bool) *MaxMap {
	return &MaxMap{
		global:   coverage.NewMap(size),
		points:   coverage.NewPoints(size),
		counters: counters,
	}
}

// IsInteresting merges local into the global map when it carries new
// coverage. The global map never decreases.
func (f *MaxMap) IsInteresting(local coverage.Map) bool {
	if !coverage.HasNew(f.global, local, f.counters) {
		return false
	}
	f.size = coverage.Merge(f.global, local, f.counters)
	if n := f.points.Observe(local); n != 0 && glog.V(2) {
		glog.Infof("%v new cover points, total %v", n, f.size)
	}
	return true
}

// Size returns the number of points covered so far.
func (f *MaxMap) Size() int { return f.size }

// Global returns the accumulated map. Callers must not modify it.
func (f *MaxMap) Global() coverage.Map { return f.global }

func (f *MaxMap) Points() *coverage.Points { return f.points }

// Objective decides whether an execution is a crash.
type Objective struct {
	TimeoutsAsCrashes bool
}

func (o Objective) IsCrash(r executor.Result) bool {
	switch r.Status {
	case executor.Crashed:
		return true
	case executor.TimedOut:
		return o.TimeoutsAsCrashes
	}
	return false
}
