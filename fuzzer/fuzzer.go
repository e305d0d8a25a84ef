// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package fuzzer drives the fuzzing loop: schedule, mutate, execute and
// judge, one input at a time.
package fuzzer

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/bradleyjkemp/xfuzz/config"
	"github.com/bradleyjkemp/xfuzz/corpus"
	"github.com/bradleyjkemp/xfuzz/coverage"
	"github.com/bradleyjkemp/xfuzz/executor"
	"github.com/bradleyjkemp/xfuzz/feedback"
	"github.com/bradleyjkemp/xfuzz/harness"
	"github.com/bradleyjkemp/xfuzz/monitor"
	"github.com/bradleyjkemp/xfuzz/mutator"
	"github.com/bradleyjkemp/xfuzz/scheduler"
	"github.com/bradleyjkemp/xfuzz/storage"
)

var (
	ErrStopOnCrash = errors.New("stopped on crash")
	ErrNoSeeds     = errors.New("initial corpus is empty")
)

// StopError is returned by Loop when a crash ends the run.
type StopError struct {
	Crash  *storage.Crash
	Status executor.Status
	// Added is false if the crash duplicated a stored one.
	Added bool
}

func (e *StopError) Error() string {
	return fmt.Sprintf("%v: %v on %v byte input", ErrStopOnCrash, e.Status, len(e.Crash.Data))
}

func (e *StopError) Unwrap() error { return ErrStopOnCrash }

// Target is the code under test.
type Target struct {
	Fn   harness.Func
	Sink coverage.Sink
	// Dict seeds the mutator dictionary, usually coverage.Literals.
	Dict []string
	// Errors, when set, is the store behind a checked harness. Its write
	// failures end the run.
	Errors *storage.ErrorStore
}

// State is everything a run owns. It is only touched by the fuzzing goroutine.
type State struct {
	Corpus   *corpus.Corpus
	Feedback *feedback.MaxMap
	Crashers *storage.CrashStore
	Rand     *rand.Rand

	// Execs counts fuzzing loop executions only.
	Execs            uint64
	CalibrationExecs uint64
	MinimizeExecs    uint64
	Crashes          uint64
	Timeouts         uint64

	StartTime    time.Time
	LastNewInput time.Time
}

type Fuzzer struct {
	State

	opts      config.Options
	exec      *executor.InProcess
	sched     scheduler.Scheduler
	mut       *mutator.Mutator
	objective feedback.Objective
	mon       monitor.Monitor
	errStore  *storage.ErrorStore

	random    atomic.Bool
	lastStats time.Time
}

func New(t Target, opts config.Options, mon monitor.Monitor) (*Fuzzer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	r := rand.New(rand.NewSource(seed))
	mut, err := mutator.New(r, opts.MaxInputSize, t.Dict)
	if err != nil {
		return nil, err
	}
	crashers, err := storage.OpenCrashStore(opts.Workdir, opts.Dup)
	if err != nil {
		return nil, err
	}
	if mon == nil {
		mon = monitor.Multi(nil)
	}
	now := time.Now()
	f := &Fuzzer{
		State: State{
			Corpus:       corpus.New(),
			Feedback:     feedback.New(t.Sink.Len(), opts.CoverCounters),
			Crashers:     crashers,
			Rand:         r,
			StartTime:    now,
			LastNewInput: now,
		},
		opts:      opts,
		sched:     scheduler.NewQueue(),
		mut:       mut,
		objective: feedback.Objective{TimeoutsAsCrashes: opts.TimeoutsAsCrashes},
		mon:       mon,
		errStore:  t.Errors,
		lastStats: now,
	}
	// Random inputs do not draw from the mutation generator.
	random := harness.RandomInput(t.Fn, rand.New(rand.NewSource(seed+1)))
	fn := t.Fn
	f.exec = executor.New(func(data []byte) int {
		if f.random.Load() {
			return random(data)
		}
		return fn(data)
	}, t.Sink, opts.Timeout)
	glog.Infof("fuzzer seed %v, %v coverage points, %v dictionary entries", seed, t.Sink.Len(), len(mut.Dict()))
	return f, nil
}

// Bootstrap fills the empty corpus with the seed directory contents or,
// without one, with random inputs. Seeds are executed once to calibrate
// the global coverage map and are inserted regardless of feedback.
func (f *Fuzzer) Bootstrap(ctx context.Context) error {
	var inputs [][]byte
	if f.opts.CorpusInput != "" {
		var err error
		inputs, err = corpus.LoadDir(ctx, f.opts.CorpusInput)
		if err != nil {
			return err
		}
	} else {
		for i := 0; i < f.opts.InitialSeeds; i++ {
			inputs = append(inputs, f.mut.Generate(f.opts.InitialSeedLen))
		}
	}
	for _, data := range inputs {
		if err := ctx.Err(); err != nil {
			return err
		}
		r := f.exec.Execute(data)
		f.CalibrationExecs++
		if err := f.storeErr(); err != nil {
			return err
		}
		if r.Status == executor.TimedOut {
			f.Timeouts++
		}
		if usableCover(r) {
			f.Feedback.IsInteresting(r.Cover)
		}
		if f.objective.IsCrash(r) {
			glog.Warningf("seed input [%v] %v", len(data), r.Status)
			if _, _, err := f.crash(data, r); err != nil {
				return err
			}
		}
		f.Corpus.Force(data)
	}
	if f.Corpus.Len() == 0 {
		return errors.Wrapf(ErrNoSeeds, "bootstrap from %q", f.opts.CorpusInput)
	}
	f.random.Store(f.opts.RandomInput)
	glog.Infof("bootstrapped corpus with %v inputs, cover %v", f.Corpus.Len(), f.Feedback.Size())
	return nil
}

// Loop runs maxIters iterations, or until ctx is done when maxIters is 0.
// Interruption is not an error.
func (f *Fuzzer) Loop(ctx context.Context, maxIters uint64) error {
	if maxIters == 0 {
		glog.Infof("running the fuzzer until interrupted")
	} else {
		glog.Infof("running the fuzzer for %v iterations", maxIters)
	}
	for i := uint64(0); maxIters == 0 || i < maxIters; i++ {
		select {
		case <-ctx.Done():
			glog.V(1).Infof("fuzzing loop interrupted after %v iterations", i)
			return nil
		default:
		}
		if err := f.FuzzOne(); err != nil {
			return err
		}
	}
	return nil
}

// FuzzOne performs a single iteration of the loop.
func (f *Fuzzer) FuzzOne() error {
	entry, err := f.sched.Next(f.Corpus)
	if err != nil {
		return err
	}
	candidate := f.mut.Mutate(entry.Data, f.Corpus)
	r := f.exec.Execute(candidate)
	f.Execs++
	if err := f.storeErr(); err != nil {
		return err
	}
	if r.Status == executor.TimedOut {
		f.Timeouts++
	}

	// Minimization reruns the harness, so judge coverage first.
	interesting := usableCover(r) && f.Feedback.IsInteresting(r.Cover)

	var stop error
	if f.objective.IsCrash(r) {
		c, added, err := f.crash(candidate, r)
		if err != nil {
			return err
		}
		if !f.opts.ContinueOnErrors {
			stop = &StopError{Crash: c, Status: r.Status, Added: added}
		}
	}
	if interesting {
		if e, added := f.Corpus.Add(candidate, entry.Depth+1); added {
			f.LastNewInput = time.Now()
			if glog.V(2) {
				glog.Infof("new input [%v] %v depth %v, cover %v", len(e.Data), e.Sig, e.Depth, f.Feedback.Size())
			}
			f.mon.Report(monitor.Event{Kind: monitor.EventNewInput, Stats: f.Stats(), Input: e.Data, Sig: e.Sig.String()})
		}
	}
	f.periodic()
	return stop
}

// usableCover reports whether r's coverage may feed back into the global map.
func usableCover(r executor.Result) bool {
	return r.Status != executor.TimedOut && !r.Tainted && r.Res >= 0
}

func (f *Fuzzer) storeErr() error {
	if f.errStore == nil {
		return nil
	}
	return f.errStore.Err()
}

// crash records an objective hit. Store failures are fatal.
func (f *Fuzzer) crash(data []byte, r executor.Result) (*storage.Crash, bool, error) {
	f.Crashes++
	c := &storage.Crash{
		Data:        append([]byte(nil), data...),
		Output:      r.Output,
		Suppression: executor.Suppression(r.Output),
		Hanging:     r.Status == executor.TimedOut,
		Exec:        f.Execs,
	}
	if f.Crashers.Suppressed(c.Suppression) {
		glog.V(2).Infof("suppressed %v [%v]", r.Status, len(data))
		return c, false, nil
	}
	// Under random input the harness ignores the candidate, so there is
	// nothing to minimize.
	if !c.Hanging && f.opts.Minimize > 0 && !f.random.Load() {
		f.minimizeCrash(c)
	}
	added, err := f.Crashers.Add(*c)
	if err != nil {
		return nil, false, err
	}
	if added {
		sig := storage.Hash(c.Data).String()
		glog.V(1).Infof("new crasher %v [%v] %v", sig, len(c.Data), r.Status)
		f.mon.Report(monitor.Event{Kind: monitor.EventCrash, Stats: f.Stats(), Input: c.Data, Sig: sig})
	}
	return c, added, nil
}

func (f *Fuzzer) periodic() {
	if time.Since(f.lastStats) < f.opts.StatsPeriod {
		return
	}
	f.lastStats = time.Now()
	if glog.V(1) {
		glog.Infof("execs=%v calibrate=%v minimize=%v hung=%v", f.Execs, f.CalibrationExecs, f.MinimizeExecs, f.exec.Hung)
	}
	f.mon.Report(monitor.Event{Kind: monitor.EventStats, Stats: f.Stats()})
}

func (f *Fuzzer) Stats() monitor.Stats {
	return monitor.Stats{
		Corpus:           uint64(f.Corpus.Len()),
		Crashers:         uint64(f.Crashers.Len()),
		Timeouts:         f.Timeouts,
		Restarts:         f.exec.Restarts,
		Execs:            f.Execs,
		Cover:            uint64(f.Feedback.Size()),
		StartTime:        f.StartTime,
		LastNewInputTime: f.LastNewInput,
		Now:              time.Now(),
	}
}

// Finish exports the corpus, writes the cover points report and emits the
// final stats. It returns the first persistence error.
func (f *Fuzzer) Finish() error {
	defer f.exec.Close()
	var first error
	if f.opts.CorpusOutput != "" {
		first = corpus.Export(f.Corpus, f.opts.CorpusOutput)
	}
	if f.opts.CoverPointsOutput != "" {
		glog.V(1).Infof("storing cover points to %v", f.opts.CoverPointsOutput)
		if err := harness.StoreCoverPoints(f.opts.CoverPointsOutput, f.Feedback.Points()); err != nil && first == nil {
			first = err
		}
	}
	f.mon.Report(monitor.Event{Kind: monitor.EventDone, Stats: f.Stats()})
	return first
}
