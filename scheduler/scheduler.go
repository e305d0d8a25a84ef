// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package scheduler

import (
	"errors"

	"github.com/bradleyjkemp/xfuzz/corpus"
)

var ErrEmptyCorpus = errors.New("scheduler: corpus is empty")

// Scheduler picks the next corpus entry to mutate.
type Scheduler interface {
	Next(c *corpus.Corpus) (*corpus.Entry, error)
}

// Queue visits entries in insertion order and wraps around after the
// last one. Entries added meanwhile are picked up when the cursor reaches them.
type Queue struct {
	pos int
	// Cycles counts completed passes over the corpus.
	Cycles uint64
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Next(c *corpus.Corpus) (*corpus.Entry, error) {
	if c.Len() == 0 {
		return nil, ErrEmptyCorpus
	}
	if q.pos >= c.Len() {
		q.pos = 0
		q.Cycles++
	}
	e := c.At(q.pos)
	q.pos++
	e.Execs++
	return e, nil
}
