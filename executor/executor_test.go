// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package executor

import (
	"bytes"
	"runtime"
	"testing"
	"time"

	"github.com/bradleyjkemp/xfuzz/coverage"
)

func branchy(sink *coverage.SliceSink) func([]byte) int {
	return func(data []byte) int {
		sink.Hit(0)
		if len(data) > 0 && data[0] == 'F' {
			sink.Hit(1)
			if len(data) > 1 && data[1] == 'U' {
				sink.Hit(2)
				if len(data) > 2 && data[2] == 'Z' {
					panic("found it")
				}
			}
		}
		return 1
	}
}

func TestExecuteDeterministic(t *testing.T) {
	sink := coverage.NewSliceSink(16)
	e := New(branchy(sink), sink, 0)
	first := e.Execute([]byte("FU")).Cover.Clone()
	for i := 0; i < 5; i++ {
		r := e.Execute([]byte("FU"))
		if r.Status != Normal || r.Res != 1 {
			t.Fatalf("got status %v res %v", r.Status, r.Res)
		}
		if !bytes.Equal(r.Cover, first) {
			t.Fatalf("coverage differs between identical runs: %v vs %v", r.Cover, first)
		}
	}
	if first.Count() != 3 {
		t.Fatalf("expected 3 covered points, got %v", first.Count())
	}
}

func TestExecuteResetsCoverage(t *testing.T) {
	sink := coverage.NewSliceSink(16)
	e := New(branchy(sink), sink, 0)
	e.Execute([]byte("FU"))
	r := e.Execute([]byte("x"))
	if got := r.Cover.Count(); got != 1 {
		t.Fatalf("coverage leaked from previous run: %v points", got)
	}
}

func TestExecuteCrash(t *testing.T) {
	for _, timeout := range []time.Duration{0, time.Minute} {
		sink := coverage.NewSliceSink(16)
		e := New(branchy(sink), sink, timeout)
		r := e.Execute([]byte("FUZZ"))
		if r.Status != Crashed {
			t.Fatalf("timeout %v: got status %v", timeout, r.Status)
		}
		if !bytes.Contains(r.Output, []byte("found it")) {
			t.Fatalf("timeout %v: crash output lacks panic value:\n%s", timeout, r.Output)
		}
		if r.Cover.Count() != 3 {
			t.Fatalf("timeout %v: coverage before the crash was lost", timeout)
		}
		if r := e.Execute([]byte("F")); r.Status != Normal {
			t.Fatalf("timeout %v: executor unusable after crash: %v", timeout, r.Status)
		}
		e.Close()
	}
}

func TestExecuteTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	sink := coverage.NewSliceSink(8)
	e := New(func(data []byte) int {
		if len(data) == 1 && data[0] == 'h' {
			<-release
		}
		return 0
	}, sink, 50*time.Millisecond)
	defer e.Close()

	r := e.Execute([]byte("h"))
	if r.Status != TimedOut {
		t.Fatalf("got status %v, want timed out", r.Status)
	}
	if !bytes.HasPrefix(r.Output, []byte("program hanged")) {
		t.Fatalf("unexpected hang output:\n%s", r.Output)
	}
	if e.Hung != 1 {
		t.Fatalf("hung = %v", e.Hung)
	}
	if r := e.Execute([]byte("ok")); r.Status != Normal {
		t.Fatalf("executor did not recover after hang: %v", r.Status)
	}
	if e.Restarts != 2 {
		t.Fatalf("restarts = %v, want 2", e.Restarts)
	}
}

func TestExecuteGoexit(t *testing.T) {
	for _, timeout := range []time.Duration{0, time.Minute} {
		sink := coverage.NewSliceSink(8)
		e := New(func(data []byte) int {
			if len(data) != 0 {
				runtime.Goexit()
			}
			return 0
		}, sink, timeout)
		done := make(chan Result)
		go func() { done <- e.Execute([]byte("x")) }()
		select {
		case r := <-done:
			if r.Status != Crashed {
				t.Fatalf("timeout %v: got status %v", timeout, r.Status)
			}
		case <-time.After(10 * time.Second):
			t.Fatalf("timeout %v: Execute did not return after runtime.Goexit", timeout)
		}
		if r := e.Execute(nil); r.Status != Normal {
			t.Fatalf("timeout %v: got status %v", timeout, r.Status)
		}
		if e.Restarts != 2 {
			t.Fatalf("timeout %v: restarts = %v, want 2", timeout, e.Restarts)
		}
		e.Close()
	}
}

func TestExecuteTaintedByAbandonedWorker(t *testing.T) {
	wake := make(chan struct{})
	hit := make(chan struct{})
	release := make(chan struct{})
	sink := coverage.NewSliceSink(10)
	e := New(func(data []byte) int {
		if string(data) == "h" {
			<-wake
			sink.Hit(9)
			close(hit)
			<-release
			return 0
		}
		sink.Hit(0)
		return 0
	}, sink, 20*time.Millisecond)
	defer e.Close()

	if r := e.Execute([]byte("h")); r.Status != TimedOut || r.Tainted {
		t.Fatalf("got status %v tainted %v", r.Status, r.Tainted)
	}
	// The hung harness records coverage after it was abandoned.
	close(wake)
	<-hit
	r := e.Execute([]byte("x"))
	if r.Status != Normal {
		t.Fatalf("got status %v", r.Status)
	}
	if !r.Tainted {
		t.Fatalf("result not tainted while the hung harness is still running: %v", r.Cover)
	}

	close(release)
	deadline := time.Now().Add(10 * time.Second)
	for {
		r = e.Execute([]byte("x"))
		if !r.Tainted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("results still tainted after the hung harness returned")
		}
		time.Sleep(time.Millisecond)
	}
	if r.Cover[9] != 0 || r.Cover.Count() != 1 {
		t.Fatalf("coverage of the hung input leaked: %v", r.Cover)
	}
}

func TestProtectFault(t *testing.T) {
	_, out, crashed := Protect(func(data []byte) int {
		var p *int
		return *p
	}, nil)
	if !crashed || len(out) == 0 {
		t.Fatalf("nil dereference was not reported as a crash")
	}
}

func TestStatusString(t *testing.T) {
	for s, want := range map[Status]string{Normal: "normal", Crashed: "crashed", TimedOut: "timed out", Status(42): "unknown"} {
		if got := s.String(); got != want {
			t.Errorf("%d: got %q, want %q", int(s), got, want)
		}
	}
}
