// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package coverage holds the counters written by instrumented code and
// the operations on coverage maps.
//
// This file is copied into the instrumented GOROOT as package "coverage"
// and must not import anything.
package coverage

const (
	CoverSize    = 64 << 10
	MaxInputSize = 1 << 20
)

// CoverTab holds code coverage.
// Instrumented code increments CoverTab[id] on every block it enters.
// It is initialized to a new array so that instrumentation
// executed during process initialization has somewhere to write to.
var CoverTab = new([CoverSize]byte)

// These are populated by an init() function generated during build.
var (
	Literals         []string
	FuzzFunctions    = map[string]func([]byte) int{}
	CheckedFunctions = map[string]func([]byte) error{}
)
