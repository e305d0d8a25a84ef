// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package monitor receives progress events from the fuzzing loop.
package monitor

import (
	"fmt"
	"time"
)

type Kind int

const (
	EventStats Kind = iota
	EventNewInput
	EventCrash
	EventDone
)

func (k Kind) String() string {
	switch k {
	case EventStats:
		return "stats"
	case EventNewInput:
		return "new input"
	case EventCrash:
		return "crash"
	case EventDone:
		return "done"
	}
	return "unknown"
}

// Event is a single report from the fuzzer. Input and Sig are set for
// new input and crash events.
type Event struct {
	Kind  Kind
	Stats Stats
	Input []byte
	Sig   string
}

type Monitor interface {
	Report(e Event)
}

// Stats is a snapshot of the fuzzer counters.
type Stats struct {
	Corpus   uint64
	Crashers uint64
	Timeouts uint64
	Restarts uint64
	Execs    uint64
	Cover    uint64

	StartTime        time.Time
	LastNewInputTime time.Time
	// Now is the time the snapshot was taken.
	Now time.Time
}

func (s Stats) now() time.Time {
	if s.Now.IsZero() {
		return time.Now()
	}
	return s.Now
}

func (s Stats) Uptime() time.Duration {
	return s.now().Sub(s.StartTime)
}

func (s Stats) ExecsPerSec() float64 {
	up := s.Uptime()
	if up <= 0 {
		return 0
	}
	return float64(s.Execs) * 1e9 / float64(up)
}

func (s Stats) String() string {
	return s.format(fmt.Sprint)
}

func (s Stats) format(num func(a ...interface{}) string) string {
	var restartsDenom uint64
	if s.Execs != 0 && s.Restarts != 0 {
		restartsDenom = s.Execs / s.Restarts
	}
	return fmt.Sprintf("corpus: %v (%v ago), crashers: %v,"+
		" restarts: 1/%v, execs: %v (%v/sec), cover: %v, uptime: %v",
		num(s.Corpus), s.now().Sub(s.LastNewInputTime).Truncate(time.Second),
		num(s.Crashers), restartsDenom, num(s.Execs), num(fmt.Sprintf("%.0f", s.ExecsPerSec())), num(s.Cover),
		s.Uptime().Truncate(time.Second),
	)
}

// Multi fans events out to several monitors.
type Multi []Monitor

func (m Multi) Report(e Event) {
	for _, mon := range m {
		mon.Report(e)
	}
}
