// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package harness adapts fuzz targets to the engine.
//
// A target sees only raw bytes. Faults are signalled by panicking (or by
// hanging); the executor turns them into results. Coverage is reported
// through the coverage package, never through return values.
package harness

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/bradleyjkemp/xfuzz/coverage"
)

// Func is the harness entry point. A negative result asks the engine
// not to add the input to the corpus.
type Func func(data []byte) int

// Target is a harness that reports its own errors (e.g. a mismatch
// against a reference model) instead of panicking.
type Target func(data []byte) error

// ErrorSink persists inputs for which the target reported an error.
// A failed save does not stop the harness; the sink must remember it.
type ErrorSink interface {
	SaveError(data []byte, err error) error
}

// Policy controls what happens to target-reported errors.
type Policy struct {
	ContinueOnErrors bool
	SaveErrors       bool
	Store            ErrorSink
}

// ReportedError is the panic value used when a reported error stops the input.
type ReportedError struct {
	Err error
}

func (e *ReportedError) Error() string {
	return fmt.Sprintf("harness reported error: %v", e.Err)
}

func (e *ReportedError) Unwrap() error { return e.Err }

// Checked turns a Target into a Func. Reported errors are saved when
// p.SaveErrors is set and become crashes unless p.ContinueOnErrors is set.
func Checked(t Target, p Policy) Func {
	return func(data []byte) int {
		err := t(data)
		if err == nil {
			return 0
		}
		if p.SaveErrors && p.Store != nil {
			if serr := p.Store.SaveError(data, err); serr != nil {
				glog.Errorf("failed to save errored input: %v", serr)
			}
		}
		if !p.ContinueOnErrors {
			panic(&ReportedError{Err: err})
		}
		glog.V(2).Infof("harness reported error, continuing: %v", err)
		return 0
	}
}

// RandomInput feeds fn fresh random bytes of the same length instead of the
// engine's candidate. The returned Func may run on several goroutines at
// once (an abandoned worker and its replacement).
func RandomInput(fn Func, r *rand.Rand) Func {
	var mu sync.Mutex
	return func(data []byte) int {
		buf := make([]byte, len(data))
		mu.Lock()
		r.Read(buf)
		mu.Unlock()
		return fn(buf)
	}
}

// StoreCoverPoints writes the cover points report to path, creating parent dirs.
func StoreCoverPoints(path string, points *coverage.Points) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "store cover points")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "store cover points")
	}
	if err := points.WriteCSV(f); err != nil {
		f.Close()
		return errors.Wrap(err, "store cover points")
	}
	return errors.Wrap(f.Close(), "store cover points")
}
