// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package storage

import (
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// ErrorStore keeps inputs for which the harness itself reported an error.
// It is written from executor workers, so access is serialized.
type ErrorStore struct {
	mu  sync.Mutex
	set *PersistentSet
	err error // first write failure
}

func OpenErrorStore(workdir string) (*ErrorStore, error) {
	dir := ""
	if workdir != "" {
		dir = filepath.Join(workdir, "errors")
	}
	set, err := OpenPersistentSet(dir)
	if err != nil {
		return nil, errors.Wrap(err, "open errors")
	}
	return &ErrorStore{set: set}, nil
}

// SaveError stores data with the error text as its .output companion.
// The first failure is also kept for Err.
func (s *ErrorStore) SaveError(data []byte, reported error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.save(data, reported)
	if err != nil && s.err == nil {
		s.err = errors.Wrap(err, "persist errored input")
	}
	return err
}

func (s *ErrorStore) save(data []byte, reported error) error {
	added, err := s.set.Add(data)
	if err != nil || !added {
		return err
	}
	return s.set.AddDescription(data, []byte(reported.Error()+"\n"), "output")
}

// Err returns the first SaveError failure, if any.
func (s *ErrorStore) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *ErrorStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.Len()
}
