// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"time"

	"github.com/bradleyjkemp/xfuzz/storage"
)

// Entry is one retained input. Data is never modified once the entry
// is part of a corpus.
type Entry struct {
	Data  []byte
	Sig   storage.Sig
	Index int

	// Seed is set for bootstrap inputs that were inserted without feedback.
	Seed bool
	// Execs counts how many times the entry was picked as a mutation seed.
	Execs uint64
	Depth int
	Added time.Time
}

// Corpus is the ordered set of interesting inputs.
type Corpus struct {
	entries []*Entry
	sigs    map[storage.Sig]*Entry
}

func New() *Corpus {
	return &Corpus{sigs: make(map[storage.Sig]*Entry)}
}

// Add appends a copy of data. Duplicated content is not stored twice;
// the existing entry is returned with added == false.
func (c *Corpus) Add(data []byte, depth int) (e *Entry, added bool) {
	return c.add(data, depth, false)
}

// Force appends a bootstrap seed.
func (c *Corpus) Force(data []byte) (e *Entry, added bool) {
	return c.add(data, 0, true)
}

func (c *Corpus) add(data []byte, depth int, seed bool) (*Entry, bool) {
	sig := storage.Hash(data)
	if e, ok := c.sigs[sig]; ok {
		return e, false
	}
	e := &Entry{
		Data:  append([]byte{}, data...),
		Sig:   sig,
		Index: len(c.entries),
		Seed:  seed,
		Depth: depth,
		Added: time.Now(),
	}
	c.entries = append(c.entries, e)
	c.sigs[sig] = e
	return e, true
}

func (c *Corpus) Len() int {
	return len(c.entries)
}

func (c *Corpus) At(i int) *Entry {
	return c.entries[i]
}

func (c *Corpus) Contains(data []byte) bool {
	_, ok := c.sigs[storage.Hash(data)]
	return ok
}

// Entries returns the entries in insertion order. The slice must not be modified.
func (c *Corpus) Entries() []*Entry {
	return c.entries
}

// Data returns the raw inputs in insertion order.
func (c *Corpus) Data() [][]byte {
	res := make([][]byte, len(c.entries))
	for i, e := range c.entries {
		res[i] = e.Data
	}
	return res
}

// Input returns the data of the i-th entry.
func (c *Corpus) Input(i int) []byte {
	return c.entries[i].Data
}
