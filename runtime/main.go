// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Command runtime is the fuzzer main. The build tool compiles it together
// with the instrumented target packages, which register their fuzz
// functions in package coverage.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"runtime/debug"
	"sort"
	"syscall"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bradleyjkemp/xfuzz/config"
	"github.com/bradleyjkemp/xfuzz/coverage"
	"github.com/bradleyjkemp/xfuzz/fuzzer"
	"github.com/bradleyjkemp/xfuzz/harness"
	"github.com/bradleyjkemp/xfuzz/monitor"
	"github.com/bradleyjkemp/xfuzz/storage"
)

const exitStopped = 2

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var stop *fuzzer.StopError
		if errors.As(err, &stop) {
			os.Exit(exitStopped)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := config.Default()
	var configFile string
	cmd := &cobra.Command{
		Use:           filepath.Base(os.Args[0]),
		Short:         "Coverage guided fuzzer for the functions built into this binary",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// glog refuses to log before the standard flag set is parsed.
			flag.CommandLine.Parse(nil)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				merged, err := mergeConfig(configFile, cmd.Flags())
				if err != nil {
					return err
				}
				opts = merged
			}
			return run(cmd.Context(), opts)
		},
	}
	bindFlags(cmd.Flags(), &opts)
	cmd.Flags().StringVar(&configFile, "config", "", "TOML or YAML file with fuzzer options, flags take precedence")

	flag.Set("logtostderr", "true")
	cmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	return cmd
}

func bindFlags(fs *pflag.FlagSet, o *config.Options) {
	fs.Uint64Var(&o.MaxIters, "max-runs", o.MaxIters, "number of fuzzing iterations, 0 runs until interrupted")
	fs.StringVar(&o.CorpusInput, "corpus-input", o.CorpusInput, "dir with seed inputs, random seeds are generated if empty")
	fs.StringVar(&o.CorpusOutput, "corpus-output", o.CorpusOutput, "dir to export the corpus to on exit")
	fs.BoolVar(&o.RandomInput, "random-input", o.RandomInput, "feed the target random bytes instead of mutated inputs")
	fs.BoolVar(&o.ContinueOnErrors, "continue-on-errors", o.ContinueOnErrors, "keep fuzzing after crashes and target reported errors")
	fs.BoolVar(&o.SaveErrors, "save-errors", o.SaveErrors, "persist inputs for which the target reported an error")
	fs.StringVar(&o.Workdir, "workdir", o.Workdir, "dir with persistent work data")
	fs.StringVar(&o.CoverPointsOutput, "cover-points", o.CoverPointsOutput, "file to write the cover points report to on exit")
	fs.DurationVar(&o.Timeout, "timeout", o.Timeout, "time limit for a single execution, 0 disables")
	fs.BoolVar(&o.TimeoutsAsCrashes, "timeouts-as-crashes", o.TimeoutsAsCrashes, "store inputs that time out as crashers")
	fs.Int64Var(&o.Seed, "seed", o.Seed, "random seed, 0 uses the current time")
	fs.IntVar(&o.InitialSeeds, "initial-seeds", o.InitialSeeds, "number of random seeds without a corpus dir")
	fs.IntVar(&o.InitialSeedLen, "initial-seed-len", o.InitialSeedLen, "max length of random seeds")
	fs.IntVar(&o.MaxInputSize, "max-input-size", o.MaxInputSize, "max length of mutated inputs")
	fs.BoolVar(&o.CoverCounters, "cover-counters", o.CoverCounters, "treat hit count changes as new coverage")
	fs.BoolVar(&o.Dup, "dup", o.Dup, "collect duplicate crashers")
	fs.DurationVar(&o.Minimize, "minimize", o.Minimize, "time limit for crasher minimization, 0 disables")
	fs.DurationVar(&o.StatsPeriod, "stats-period", o.StatsPeriod, "interval between stats lines")
	fs.StringVar(&o.MetricsAddr, "metrics-addr", o.MetricsAddr, "serve prometheus metrics on this address")
	fs.StringVar(&o.Color, "color", o.Color, "colorize output (auto|on|off)")
	fs.StringVar(&o.Func, "func", o.Func, "which function to fuzz")
}

// mergeConfig loads file on top of the defaults and re-applies every flag
// set on the command line.
func mergeConfig(file string, flags *pflag.FlagSet) (config.Options, error) {
	merged := config.Default()
	if err := config.Load(file, &merged); err != nil {
		return config.Options{}, err
	}
	fs := pflag.NewFlagSet("merge", pflag.ContinueOnError)
	bindFlags(fs, &merged)
	var err error
	flags.Visit(func(f *pflag.Flag) {
		if fs.Lookup(f.Name) == nil || err != nil {
			return
		}
		err = fs.Set(f.Name, f.Value.String())
	})
	return merged, err
}

// expandHomeDir expands the tilde sign and replaces it
// with current users home directory and returns it.
func expandHomeDir(path string) string {
	if len(path) > 2 && path[:2] == "~/" {
		usr, _ := user.Current()
		path = filepath.Join(usr.HomeDir, path[2:])
	}
	return path
}

func colored(mode string) bool {
	switch mode {
	case "on":
		return true
	case "off":
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func availableFuncs() []string {
	var funcs []string
	for name := range coverage.FuzzFunctions {
		funcs = append(funcs, name)
	}
	for name := range coverage.CheckedFunctions {
		funcs = append(funcs, name)
	}
	sort.Strings(funcs)
	return funcs
}

// selectFunc picks the function to fuzz, defaulting to the first one by name.
func selectFunc(name string, policy harness.Policy) (harness.Func, string, error) {
	funcs := availableFuncs()
	if len(funcs) == 0 {
		return nil, "", errors.New("no functions available to fuzz")
	}
	if name == "" {
		glog.Infof("Functions available to fuzz: %v", funcs)
		name = funcs[0]
	}
	if fn, ok := coverage.FuzzFunctions[name]; ok {
		return fn, name, nil
	}
	if t, ok := coverage.CheckedFunctions[name]; ok {
		return harness.Checked(t, policy), name, nil
	}
	return nil, "", errors.Errorf("function %s not available to fuzz", name)
}

func run(ctx context.Context, opts config.Options) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		// A second signal kills the process.
		<-ctx.Done()
		stop()
	}()

	debug.SetGCPercent(50) // most memory is in large binary blobs

	opts.Workdir = expandHomeDir(opts.Workdir)
	opts.CorpusInput = expandHomeDir(opts.CorpusInput)
	opts.CorpusOutput = expandHomeDir(opts.CorpusOutput)
	if err := opts.Validate(); err != nil {
		return err
	}

	policy := harness.Policy{ContinueOnErrors: opts.ContinueOnErrors, SaveErrors: opts.SaveErrors}
	var errStore *storage.ErrorStore
	if opts.SaveErrors {
		var err error
		errStore, err = storage.OpenErrorStore(opts.Workdir)
		if err != nil {
			return err
		}
		policy.Store = errStore
	}
	fn, name, err := selectFunc(opts.Func, policy)
	if err != nil {
		return err
	}
	glog.Infof("Fuzzing function %s", name)

	mons := monitor.Multi{
		monitor.NewLog(os.Stdout, colored(opts.Color)),
		monitor.NewSummary(os.Stdout),
	}
	if opts.MetricsAddr != "" {
		prom := monitor.NewPrometheus()
		mons = append(mons, prom)
		mux := http.NewServeMux()
		mux.Handle("/metrics", prom.Handler())
		srv := &http.Server{Addr: opts.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				glog.Errorf("metrics server: %v", err)
			}
		}()
		defer srv.Close()
	}

	f, err := fuzzer.New(fuzzer.Target{
		Fn:     fn,
		Sink:   coverage.TabSink{},
		Dict:   coverage.Literals,
		Errors: errStore,
	}, opts, mons)
	if err != nil {
		return err
	}
	if err := f.Bootstrap(ctx); err != nil {
		return errors.Wrap(err, "bootstrap")
	}
	loopErr := f.Loop(ctx, opts.MaxIters)
	if err := f.Finish(); err != nil {
		glog.Errorf("finish: %v", err)
		if loopErr == nil {
			loopErr = err
		}
	}
	return loopErr
}
