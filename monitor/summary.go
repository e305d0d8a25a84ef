// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package monitor

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
)

type crashRow struct {
	sig  string
	size int
	exec uint64
}

// Summary renders an end of run report when it sees EventDone.
type Summary struct {
	w       io.Writer
	crashes []crashRow
}

func NewSummary(w io.Writer) *Summary {
	return &Summary{w: w}
}

func (s *Summary) Report(e Event) {
	switch e.Kind {
	case EventCrash:
		s.crashes = append(s.crashes, crashRow{e.Sig, len(e.Input), e.Stats.Execs})
	case EventDone:
		s.render(e.Stats)
	}
}

func (s *Summary) render(st Stats) {
	table := tablewriter.NewWriter(s.w)
	table.SetHeader([]string{"metric", "value"})
	table.Append([]string{"corpus", fmt.Sprintf("%d", st.Corpus)})
	table.Append([]string{"crashers", fmt.Sprintf("%d", st.Crashers)})
	table.Append([]string{"timeouts", fmt.Sprintf("%d", st.Timeouts)})
	table.Append([]string{"execs", fmt.Sprintf("%d", st.Execs)})
	table.Append([]string{"execs/sec", fmt.Sprintf("%.0f", st.ExecsPerSec())})
	table.Append([]string{"cover", fmt.Sprintf("%d", st.Cover)})
	table.Append([]string{"uptime", st.Uptime().Truncate(time.Second).String()})
	table.Render()

	if len(s.crashes) == 0 {
		return
	}
	table = tablewriter.NewWriter(s.w)
	table.SetHeader([]string{"crasher", "size", "exec"})
	for _, c := range s.crashes {
		table.Append([]string{c.sig, fmt.Sprintf("%d", c.size), fmt.Sprintf("%d", c.exec)})
	}
	table.Render()
}
