// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package coverage

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Map is a snapshot of coverage counters, one byte per point.
type Map []byte

func NewMap(size int) Map {
	return make(Map, size)
}

// Snapshot copies the live counters out of s.
func Snapshot(s Sink) Map {
	return append(Map{}, s.Bytes()...)
}

func (m Map) Clone() Map {
	return append(Map{}, m...)
}

// Count returns the number of points with a non-zero counter.
func (m Map) Count() int {
	n := 0
	for _, v := range m {
		if v != 0 {
			n++
		}
	}
	return n
}

// Fingerprint identifies the exact counter contents.
func (m Map) Fingerprint() uint64 {
	return xxhash.Sum64(m)
}

// Bucket quantizes the counters. Otherwise we get too inflated corpus.
// With counters disabled, any hit is treated as full presence.
func Bucket(x byte, counters bool) byte {
	if !counters && x > 0 {
		return 255
	}

	if x <= 5 {
		return x
	} else if x <= 8 {
		return 8
	} else if x <= 16 {
		return 16
	} else if x <= 32 {
		return 32
	} else if x <= 64 {
		return 64
	}
	return 255
}

// HasNew reports whether cur reaches a bucket that base has not seen.
func HasNew(base, cur Map, counters bool) bool {
	mustSameSize(base, cur)
	for i, v := range base {
		if Bucket(cur[i], counters) > v {
			return true
		}
	}
	return false
}

// Merge folds cur into base (element-wise max of bucketed counters)
// and returns the number of covered points in the result.
func Merge(base, cur Map, counters bool) int {
	mustSameSize(base, cur)
	cnt := 0
	for i, x := range cur {
		x = Bucket(x, counters)
		v := base[i]
		if v != 0 || x > 0 {
			cnt++
		}
		if v < x {
			base[i] = x
		}
	}
	return cnt
}

// FindNew returns the points where cover exceeds base.
func FindNew(base, cover Map, counters bool) (res Map, notEmpty bool) {
	mustSameSize(base, cover)
	res = NewMap(len(base))
	for i, b := range base {
		c := Bucket(cover[i], counters)
		if c > b {
			res[i] = c
			notEmpty = true
		}
	}
	return
}

// A size mismatch means the instrumentation changed under a running engine.
func mustSameSize(base, cur Map) {
	if len(base) != len(cur) {
		panic(fmt.Sprintf("bad cover table size (%v, %v)", len(base), len(cur)))
	}
}
