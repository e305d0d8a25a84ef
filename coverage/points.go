// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package coverage

import (
	"bufio"
	"fmt"
	"io"

	"fortio.org/safecast"
	"github.com/bits-and-blooms/bitset"
)

// Points records every coverage point that was ever hit during a run.
type Points struct {
	size int
	set  *bitset.BitSet
}

func NewPoints(size int) *Points {
	n, err := safecast.Conv[uint](size)
	if err != nil {
		panic(fmt.Sprintf("bad point count %v: %v", size, err))
	}
	return &Points{size: size, set: bitset.New(n)}
}

// Observe marks all non-zero points of m and returns how many were new.
func (p *Points) Observe(m Map) int {
	added := 0
	for i, v := range m {
		if v == 0 || i >= p.size {
			continue
		}
		idx := uint(i)
		if !p.set.Test(idx) {
			p.set.Set(idx)
			added++
		}
	}
	return added
}

func (p *Points) Covered(i int) bool {
	idx, err := safecast.Conv[uint](i)
	if err != nil {
		return false
	}
	return p.set.Test(idx)
}

func (p *Points) Count() int {
	return int(p.set.Count())
}

func (p *Points) Len() int {
	return p.size
}

// WriteCSV emits the cover points report: an Index,Covered header
// followed by one row per point.
func (p *Points) WriteCSV(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "Index,Covered\n")
	for i := 0; i < p.size; i++ {
		covered := 0
		if p.set.Test(uint(i)) {
			covered = 1
		}
		fmt.Fprintf(bw, "%d,%d\n", i, covered)
	}
	return bw.Flush()
}
