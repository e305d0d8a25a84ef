// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package config holds the fuzzer runtime options.
package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/bradleyjkemp/xfuzz/coverage"
)

var ErrInvalid = errors.New("invalid configuration")

// Options are the fuzzer runtime options. Zero MaxIters means run until
// interrupted; empty paths disable the corresponding feature.
type Options struct {
	MaxIters         uint64 `toml:"max_runs" yaml:"max_runs"`
	CorpusInput      string `toml:"corpus_input" yaml:"corpus_input"`
	CorpusOutput     string `toml:"corpus_output" yaml:"corpus_output"`
	RandomInput      bool   `toml:"random_input" yaml:"random_input"`
	ContinueOnErrors bool   `toml:"continue_on_errors" yaml:"continue_on_errors"`
	SaveErrors       bool   `toml:"save_errors" yaml:"save_errors"`

	Workdir           string        `toml:"workdir" yaml:"workdir"`
	CoverPointsOutput string        `toml:"cover_points_output" yaml:"cover_points_output"`
	Timeout           time.Duration `toml:"timeout" yaml:"timeout"`
	TimeoutsAsCrashes bool          `toml:"timeouts_as_crashes" yaml:"timeouts_as_crashes"`
	Seed              int64         `toml:"seed" yaml:"seed"`
	InitialSeeds      int           `toml:"initial_seeds" yaml:"initial_seeds"`
	InitialSeedLen    int           `toml:"initial_seed_len" yaml:"initial_seed_len"`
	MaxInputSize      int           `toml:"max_input_size" yaml:"max_input_size"`
	CoverCounters     bool          `toml:"cover_counters" yaml:"cover_counters"`
	Dup               bool          `toml:"dup" yaml:"dup"`
	Minimize          time.Duration `toml:"minimize" yaml:"minimize"`
	StatsPeriod       time.Duration `toml:"stats_period" yaml:"stats_period"`
	MetricsAddr       string        `toml:"metrics_addr" yaml:"metrics_addr"`
	Color             string        `toml:"color" yaml:"color"`
	Func              string        `toml:"func" yaml:"func"`
}

func Default() Options {
	return Options{
		Workdir:           ".",
		CoverPointsOutput: filepath.Join(".", "tmp", "cover_points.csv"),
		Timeout:           10 * time.Second,
		InitialSeeds:      32,
		InitialSeedLen:    16384,
		MaxInputSize:      coverage.MaxInputSize,
		CoverCounters:     true,
		Minimize:          time.Minute,
		StatsPeriod:       3 * time.Second,
		Color:             "auto",
	}
}

// Load decodes a TOML or YAML file, chosen by extension, on top of o.
// Unknown keys are rejected.
func Load(path string, o *Options) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.DecodeFile(path, o)
		if err != nil {
			return errors.Wrapf(err, "%v: failed to parse TOML", path)
		}
		if undecoded := meta.Undecoded(); len(undecoded) != 0 {
			return errors.Wrapf(ErrInvalid, "%v: unknown keys %v", path, undecoded)
		}
	case ".yaml", ".yml":
		data, err := ioutil.ReadFile(path)
		if err != nil {
			return errors.Wrap(err, "read config")
		}
		if err := yaml.UnmarshalStrict(data, o); err != nil {
			return errors.Wrapf(err, "%v: failed to parse YAML", path)
		}
	default:
		return errors.Wrapf(ErrInvalid, "%v: unsupported config format", path)
	}
	return nil
}

// Validate rejects option combinations the fuzzer cannot run with.
func (o *Options) Validate() error {
	switch {
	case o.Timeout < 0:
		return errors.Wrapf(ErrInvalid, "negative timeout %v", o.Timeout)
	case o.Minimize < 0:
		return errors.Wrapf(ErrInvalid, "negative minimization budget %v", o.Minimize)
	case o.StatsPeriod <= 0:
		return errors.Wrapf(ErrInvalid, "stats period must be positive, got %v", o.StatsPeriod)
	case o.MaxInputSize <= 0:
		return errors.Wrapf(ErrInvalid, "max input size must be positive, got %v", o.MaxInputSize)
	case o.Workdir == "":
		return errors.Wrap(ErrInvalid, "empty workdir")
	}
	if o.CorpusInput == "" {
		if o.InitialSeeds < 1 {
			return errors.Wrapf(ErrInvalid, "need at least one initial seed, got %v", o.InitialSeeds)
		}
		if o.InitialSeedLen < 1 || o.InitialSeedLen > o.MaxInputSize {
			return errors.Wrapf(ErrInvalid, "initial seed length %v out of range [1, %v]", o.InitialSeedLen, o.MaxInputSize)
		}
	} else if fi, err := os.Stat(o.CorpusInput); err == nil && !fi.IsDir() {
		return errors.Wrapf(ErrInvalid, "corpus input %v is not a directory", o.CorpusInput)
	}
	switch o.Color {
	case "auto", "on", "off":
	default:
		return errors.Wrapf(ErrInvalid, "unknown color mode %q", o.Color)
	}
	return nil
}
