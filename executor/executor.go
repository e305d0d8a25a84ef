// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package executor

import (
	"bytes"
	"fmt"
	"runtime/debug"
	"runtime/pprof"
	"time"

	"github.com/golang/glog"

	"github.com/bradleyjkemp/xfuzz/coverage"
	"github.com/bradleyjkemp/xfuzz/harness"
)

// Executor runs the harness once per call.
type Executor interface {
	Execute(data []byte) Result
}

// InProcess runs the harness inside the engine process.
//
// The harness always runs on a worker goroutine, so that a panic, a
// runtime.Goexit or a hang never takes the caller down. With a timeout, a
// worker that overruns is abandoned and replaced on the next call, since a
// goroutine cannot be killed. Until an abandoned worker's harness returns,
// every result is marked Tainted.
type InProcess struct {
	fn      harness.Func
	sink    coverage.Sink
	timeout time.Duration
	cover   coverage.Map

	w         *worker
	abandoned []*worker

	// Restarts counts worker starts, Hung counts abandoned workers.
	Restarts uint64
	Hung     uint64
}

func New(fn harness.Func, sink coverage.Sink, timeout time.Duration) *InProcess {
	return &InProcess{
		fn:      fn,
		sink:    sink,
		timeout: timeout,
		cover:   coverage.NewMap(sink.Len()),
	}
}

// Execute resets the coverage sink, runs the harness on data and
// returns the outcome together with the coverage it produced.
func (e *InProcess) Execute(data []byte) Result {
	e.reap()
	tainted := len(e.abandoned) != 0
	e.sink.Reset()
	start := time.Now()
	res, output, crashed, hanged := e.supervised(data)
	r := Result{
		Res:      res,
		Output:   output,
		Duration: time.Since(start),
		Cover:    e.cover,
		Tainted:  tainted,
	}
	copy(e.cover, e.sink.Bytes())
	switch {
	case hanged:
		r.Status = TimedOut
		r.Res = 0
	case crashed:
		r.Status = Crashed
		r.Res = 0
	default:
		r.Status = Normal
	}
	if glog.V(3) {
		glog.Infof("executed [%v] status=%v res=%v cover=%v tainted=%v in %v", len(data), r.Status, r.Res, r.Cover.Count(), r.Tainted, r.Duration)
	}
	return r
}

// reap forgets abandoned workers whose harness has returned.
func (e *InProcess) reap() {
	alive := e.abandoned[:0]
	for _, w := range e.abandoned {
		select {
		case <-w.out:
			glog.V(1).Infof("abandoned worker finished")
		default:
			alive = append(alive, w)
		}
	}
	for i := len(alive); i < len(e.abandoned); i++ {
		e.abandoned[i] = nil
	}
	e.abandoned = alive
}

// Close releases the worker goroutine, if any.
func (e *InProcess) Close() {
	if e.w != nil {
		close(e.w.in)
		e.w = nil
	}
}

// Protect runs fn on data and converts a panic, including a memory fault
// inside fn, into crash output.
func Protect(fn harness.Func, data []byte) (res int, output []byte, crashed bool) {
	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
	defer func() {
		if err := recover(); err != nil {
			crashed = true
			output = []byte(fmt.Sprintf("panic: %v\n\n%s", err, debug.Stack()))
		}
	}()
	res = fn(data[0:len(data):len(data)])
	return
}

type reply struct {
	res     int
	output  []byte
	crashed bool
	dead    bool // the harness called runtime.Goexit
}

type worker struct {
	in  chan []byte
	out chan reply
}

func startWorker(fn harness.Func) *worker {
	w := &worker{
		in:  make(chan []byte),
		out: make(chan reply, 1),
	}
	go w.loop(fn)
	return w
}

func (w *worker) loop(fn harness.Func) {
	exited := true
	defer func() {
		if exited {
			w.out <- reply{
				crashed: true,
				dead:    true,
				output:  []byte("fatal error: harness called runtime.Goexit\n\n" + string(debug.Stack())),
			}
		}
	}()
	for data := range w.in {
		res, output, crashed := Protect(fn, data)
		w.out <- reply{res: res, output: output, crashed: crashed}
	}
	exited = false
}

func (e *InProcess) supervised(data []byte) (res int, output []byte, crashed, hanged bool) {
	if e.w == nil {
		e.Restarts++
		e.w = startWorker(e.fn)
	}
	e.w.in <- data
	var expired <-chan time.Time
	if e.timeout > 0 {
		timer := time.NewTimer(e.timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case r := <-e.w.out:
		if r.dead {
			e.w = nil
		}
		return r.res, r.output, r.crashed, false
	case <-expired:
		// The worker keeps running; it replies once the harness returns.
		close(e.w.in)
		e.abandoned = append(e.abandoned, e.w)
		e.w = nil
		e.Hung++
		b := new(bytes.Buffer)
		fmt.Fprintf(b, "program hanged (timeout %v)\n\n", e.timeout)
		pprof.Lookup("goroutine").WriteTo(b, 2)
		return 0, b.Bytes(), true, true
	}
}
