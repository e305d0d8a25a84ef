// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"

	"github.com/bradleyjkemp/xfuzz/config"
	"github.com/bradleyjkemp/xfuzz/coverage"
	"github.com/bradleyjkemp/xfuzz/executor"
	"github.com/bradleyjkemp/xfuzz/harness"
	"github.com/bradleyjkemp/xfuzz/monitor"
	"github.com/bradleyjkemp/xfuzz/storage"
)

func testOptions(t *testing.T) config.Options {
	o := config.Default()
	o.Workdir = t.TempDir()
	o.CoverPointsOutput = filepath.Join(o.Workdir, "tmp", "cover_points.csv")
	o.Seed = 1
	o.Timeout = 0
	o.Minimize = 0
	return o
}

func seedDir(t *testing.T, inputs ...string) string {
	t.Helper()
	dir := t.TempDir()
	for i, in := range inputs {
		name := filepath.Join(dir, string(rune('a'+i)))
		if err := ioutil.WriteFile(name, []byte(in), 0640); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

// zeroCrasher panics on inputs starting with a zero byte.
func zeroCrasher(sink *coverage.SliceSink) harness.Func {
	return func(data []byte) int {
		sink.Hit(0)
		if len(data) == 0 {
			return 0
		}
		sink.Hit(1 + int(data[0]%16))
		if data[0] == 0 {
			panic("zero byte")
		}
		return 0
	}
}

// shapes reports coverage depending on the first byte and the length.
func shapes(sink *coverage.SliceSink) harness.Func {
	return func(data []byte) int {
		sink.Hit(0)
		if len(data) > 0 {
			sink.Hit(1 + int(data[0]%32))
		}
		sink.Hit(40 + len(data)%16)
		return 0
	}
}

func newFuzzer(t *testing.T, fn func(*coverage.SliceSink) harness.Func, opts config.Options, mon monitor.Monitor) *Fuzzer {
	t.Helper()
	sink := coverage.NewSliceSink(64)
	f, err := New(Target{Fn: fn(sink), Sink: sink}, opts, mon)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestRandomSeeds(t *testing.T) {
	opts := testOptions(t)
	opts.RandomInput = true
	f := newFuzzer(t, shapes, opts, nil)
	if err := f.Bootstrap(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.Corpus.Len() != 32 {
		t.Fatalf("corpus has %v seeds, want 32", f.Corpus.Len())
	}
	for _, e := range f.Corpus.Entries() {
		if len(e.Data) < 1 || len(e.Data) > 16384 {
			t.Fatalf("seed of %v bytes", len(e.Data))
		}
		if !e.Seed {
			t.Fatalf("seed entry not marked")
		}
	}
	if f.CalibrationExecs != 32 || f.Execs != 0 {
		t.Fatalf("calibration %v, execs %v", f.CalibrationExecs, f.Execs)
	}
	if err := f.Loop(context.Background(), 50); err != nil {
		t.Fatal(err)
	}
}

func TestCrashContinue(t *testing.T) {
	opts := testOptions(t)
	opts.CorpusInput = seedDir(t, "\x01")
	opts.ContinueOnErrors = true
	f := newFuzzer(t, zeroCrasher, opts, nil)
	if err := f.Bootstrap(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := f.Loop(context.Background(), 3000); err != nil {
		t.Fatalf("loop stopped: %v", err)
	}
	if f.Execs != 3000 {
		t.Fatalf("execs %v", f.Execs)
	}
	if f.Crashers.Len() < 1 || f.Crashes < 1 {
		t.Fatalf("no crash recorded: stored %v, seen %v", f.Crashers.Len(), f.Crashes)
	}
	replay := zeroCrasher(coverage.NewSliceSink(64))
	for _, a := range f.Crashers.Crashers() {
		if _, _, crashed := executor.Protect(replay, a.Data); !crashed {
			t.Fatalf("stored crasher %q does not crash", a.Data)
		}
	}
}

func TestStopOnCrash(t *testing.T) {
	opts := testOptions(t)
	opts.CorpusInput = seedDir(t, "\x01")
	f := newFuzzer(t, zeroCrasher, opts, nil)
	if err := f.Bootstrap(context.Background()); err != nil {
		t.Fatal(err)
	}
	err := f.Loop(context.Background(), 100000)
	var stop *StopError
	if !errors.As(err, &stop) || !errors.Is(err, ErrStopOnCrash) {
		t.Fatalf("got %v, want stop error", err)
	}
	if stop.Status != executor.Crashed || !stop.Added || stop.Crash.Data[0] != 0 {
		t.Fatalf("unexpected stop %+v", stop)
	}
	if f.Crashers.Len() != 1 {
		t.Fatalf("stored %v crashers", f.Crashers.Len())
	}
	if f.Execs >= 100000 {
		t.Fatalf("loop did not stop")
	}
}

func TestExactBudget(t *testing.T) {
	f := newFuzzer(t, shapes, testOptions(t), nil)
	if err := f.Bootstrap(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := f.Loop(context.Background(), 100); err != nil {
		t.Fatal(err)
	}
	if f.Execs != 100 {
		t.Fatalf("execs %v, want 100", f.Execs)
	}
}

func TestSeedBypassesFeedback(t *testing.T) {
	opts := testOptions(t)
	opts.CorpusInput = seedDir(t, "\xde\xad\xbe\xef")
	f := newFuzzer(t, func(*coverage.SliceSink) harness.Func {
		return func([]byte) int { return 0 }
	}, opts, nil)
	if err := f.Bootstrap(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.Corpus.Len() != 1 || string(f.Corpus.At(0).Data) != "\xde\xad\xbe\xef" {
		t.Fatalf("seed missing from corpus: %q", f.Corpus.Data())
	}
	if f.Feedback.Size() != 0 {
		t.Fatalf("harness without coverage produced cover %v", f.Feedback.Size())
	}
}

func TestBootstrapErrors(t *testing.T) {
	opts := testOptions(t)
	opts.CorpusInput = filepath.Join(t.TempDir(), "missing")
	f := newFuzzer(t, shapes, opts, nil)
	if err := f.Bootstrap(context.Background()); err == nil || !strings.Contains(err.Error(), "load corpus dir") {
		t.Fatalf("got %v", err)
	}

	opts.CorpusInput = t.TempDir()
	f = newFuzzer(t, shapes, opts, nil)
	if err := f.Bootstrap(context.Background()); !errors.Is(err, ErrNoSeeds) {
		t.Fatalf("got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	out := filepath.Join(t.TempDir(), "corpus")
	opts := testOptions(t)
	opts.CorpusOutput = out
	f := newFuzzer(t, shapes, opts, nil)
	if err := f.Bootstrap(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := f.Loop(context.Background(), 500); err != nil {
		t.Fatal(err)
	}
	if err := f.Finish(); err != nil {
		t.Fatal(err)
	}

	opts2 := testOptions(t)
	opts2.CorpusInput = out
	g := newFuzzer(t, shapes, opts2, nil)
	if err := g.Bootstrap(context.Background()); err != nil {
		t.Fatal(err)
	}
	less := func(a, b []byte) bool { return bytes.Compare(a, b) < 0 }
	if diff := cmp.Diff(f.Corpus.Data(), g.Corpus.Data(), cmpopts.SortSlices(less), cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("corpus changed across export/import (-exported +imported):\n%s", diff)
	}

	points, err := ioutil.ReadFile(opts.CoverPointsOutput)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(points, []byte("Index,Covered\n0,1\n")) {
		t.Fatalf("unexpected cover points report:\n%.100s", points)
	}
}

func TestTimeouts(t *testing.T) {
	for _, asCrash := range []bool{false, true} {
		opts := testOptions(t)
		opts.CorpusInput = seedDir(t, "h", "ok")
		opts.Timeout = 20 * time.Millisecond
		opts.TimeoutsAsCrashes = asCrash
		f := newFuzzer(t, func(sink *coverage.SliceSink) harness.Func {
			return func(data []byte) int {
				if len(data) == 1 && data[0] == 'h' {
					time.Sleep(300 * time.Millisecond)
				}
				return 0
			}
		}, opts, nil)
		if err := f.Bootstrap(context.Background()); err != nil {
			t.Fatal(err)
		}
		if f.Timeouts != 1 {
			t.Fatalf("timeouts %v", f.Timeouts)
		}
		want := 0
		if asCrash {
			want = 1
		}
		if f.Crashers.Len() != want {
			t.Fatalf("timeouts as crashes %v: stored %v crashers", asCrash, f.Crashers.Len())
		}
		if f.Corpus.Len() != 2 {
			t.Fatalf("corpus %v", f.Corpus.Len())
		}
		f.Finish()
	}
}

func TestInterrupted(t *testing.T) {
	f := newFuzzer(t, shapes, testOptions(t), nil)
	if err := f.Bootstrap(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.Loop(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if f.Execs != 0 {
		t.Fatalf("execs %v after cancel", f.Execs)
	}
}

func TestMinimizeCrash(t *testing.T) {
	opts := testOptions(t)
	opts.Minimize = 10 * time.Second
	opts.ContinueOnErrors = true
	f := newFuzzer(t, func(sink *coverage.SliceSink) harness.Func {
		return func(data []byte) int {
			if bytes.Contains(data, []byte("bug")) {
				panic("bug")
			}
			return 0
		}
	}, opts, nil)
	data := []byte("xxxxbugyyyyyyy")
	c, added, err := f.crash(data, f.exec.Execute(data))
	if err != nil || !added {
		t.Fatalf("added %v, err %v", added, err)
	}
	if string(c.Data) != "bug" {
		t.Fatalf("minimized to %q", c.Data)
	}
	if f.MinimizeExecs == 0 || f.Execs != 0 {
		t.Fatalf("minimize execs %v, execs %v", f.MinimizeExecs, f.Execs)
	}
	if got := f.Crashers.Crashers(); len(got) != 1 || string(got[0].Data) != "bug" {
		t.Fatalf("stored %q", got)
	}
}

func TestRandomInputSkipsMinimization(t *testing.T) {
	opts := testOptions(t)
	opts.CorpusInput = seedDir(t, "ok")
	opts.Minimize = 10 * time.Second
	opts.ContinueOnErrors = true
	opts.RandomInput = true
	f := newFuzzer(t, func(sink *coverage.SliceSink) harness.Func {
		return func(data []byte) int {
			if len(data) >= 4 {
				panic("long input")
			}
			return 0
		}
	}, opts, nil)
	if err := f.Bootstrap(context.Background()); err != nil {
		t.Fatal(err)
	}
	data := []byte("xxxxxxxxxx")
	c, added, err := f.crash(data, f.exec.Execute(data))
	if err != nil || !added {
		t.Fatalf("added %v, err %v", added, err)
	}
	if string(c.Data) != string(data) || f.MinimizeExecs != 0 {
		t.Fatalf("crasher minimized to %q with %v runs", c.Data, f.MinimizeExecs)
	}
}

func TestErrorStoreFailureStopsRun(t *testing.T) {
	opts := testOptions(t)
	opts.CorpusInput = seedDir(t, "ok", "x")
	opts.ContinueOnErrors = true
	opts.SaveErrors = true
	store, err := storage.OpenErrorStore(opts.Workdir)
	if err != nil {
		t.Fatal(err)
	}
	// Occupy the path the errored input is written to.
	if err := os.Mkdir(filepath.Join(opts.Workdir, "errors", storage.Hash([]byte("x")).String()), 0700); err != nil {
		t.Fatal(err)
	}
	target := func(data []byte) error {
		if string(data) == "x" {
			return errors.New("mismatch")
		}
		return nil
	}
	sink := coverage.NewSliceSink(64)
	policy := harness.Policy{ContinueOnErrors: true, SaveErrors: true, Store: store}
	f, err := New(Target{Fn: harness.Checked(target, policy), Sink: sink, Errors: store}, opts, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Finish()
	err = f.Bootstrap(context.Background())
	if err == nil || !strings.Contains(err.Error(), "persist errored input") {
		t.Fatalf("bootstrap returned %v", err)
	}
}

func TestUsableCover(t *testing.T) {
	for _, tc := range []struct {
		r    executor.Result
		want bool
	}{
		{executor.Result{Status: executor.Normal}, true},
		{executor.Result{Status: executor.Crashed}, true},
		{executor.Result{Status: executor.Normal, Res: -1}, false},
		{executor.Result{Status: executor.TimedOut}, false},
		{executor.Result{Status: executor.Normal, Tainted: true}, false},
	} {
		if got := usableCover(tc.r); got != tc.want {
			t.Errorf("%+v: got %v, want %v", tc.r, got, tc.want)
		}
	}
}

type recorder map[monitor.Kind]int

func (r recorder) Report(e monitor.Event) { r[e.Kind]++ }

func TestMonitorEvents(t *testing.T) {
	opts := testOptions(t)
	opts.StatsPeriod = time.Nanosecond
	rec := recorder{}
	f := newFuzzer(t, shapes, opts, rec)
	if err := f.Bootstrap(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := f.Loop(context.Background(), 200); err != nil {
		t.Fatal(err)
	}
	if err := f.Finish(); err != nil {
		t.Fatal(err)
	}
	if rec[monitor.EventStats] == 0 || rec[monitor.EventNewInput] == 0 || rec[monitor.EventDone] != 1 {
		t.Fatalf("events %v", rec)
	}
}
