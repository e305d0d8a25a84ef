// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package monitor

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/golang/glog"
)

// Log prints the periodic stats line and crash notices.
type Log struct {
	w     io.Writer
	num   *color.Color
	crash *color.Color
}

func NewLog(w io.Writer, colored bool) *Log {
	l := &Log{
		w:     w,
		num:   color.New(color.FgCyan, color.Bold),
		crash: color.New(color.FgRed, color.Bold),
	}
	for _, c := range []*color.Color{l.num, l.crash} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return l
}

func (l *Log) Report(e Event) {
	switch e.Kind {
	case EventStats, EventDone:
		fmt.Fprintln(l.w, e.Stats.format(l.num.Sprint))
	case EventCrash:
		fmt.Fprintf(l.w, "%s [%v bytes] %v\n", l.crash.Sprint("crasher"), len(e.Input), e.Sig)
	case EventNewInput:
		if glog.V(2) {
			glog.Infof("new input [%v] %v", len(e.Input), e.Sig)
		}
	}
}
