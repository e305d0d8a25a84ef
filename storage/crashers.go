// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package storage

import (
	"bytes"
	"fmt"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Crash is one input that satisfied the objective.
type Crash struct {
	Data        []byte
	Output      []byte
	Suppression []byte
	Hanging     bool
	Exec        uint64 // execution counter value when the crash was seen
}

// Record is the machine readable companion (<sig>.meta) of a stored crasher.
type Record struct {
	Sig         string    `msgpack:"sig"`
	Size        int       `msgpack:"size"`
	Hanging     bool      `msgpack:"hanging"`
	Exec        uint64    `msgpack:"exec"`
	Time        time.Time `msgpack:"time"`
	Suppression string    `msgpack:"suppression"`
}

// CrashStore persists crashers, deduplicated by stack signature unless dup is set.
type CrashStore struct {
	crashers     *PersistentSet
	suppressions *PersistentSet
	dup          bool
}

// OpenCrashStore opens <workdir>/crashers and <workdir>/suppressions.
// An empty workdir keeps everything in memory.
func OpenCrashStore(workdir string, dup bool) (*CrashStore, error) {
	sub := func(name string) string {
		if workdir == "" {
			return ""
		}
		return filepath.Join(workdir, name)
	}
	crashers, err := OpenPersistentSet(sub("crashers"))
	if err != nil {
		return nil, errors.Wrap(err, "open crashers")
	}
	suppressions, err := OpenPersistentSet(sub("suppressions"))
	if err != nil {
		return nil, errors.Wrap(err, "open suppressions")
	}
	return &CrashStore{crashers: crashers, suppressions: suppressions, dup: dup}, nil
}

// Suppressed reports whether a crash with this signature is already stored.
func (s *CrashStore) Suppressed(suppression []byte) bool {
	return !s.dup && s.suppressions.Contains(suppression)
}

// Add saves a new crasher. It reports false for duplicates.
func (s *CrashStore) Add(c Crash) (bool, error) {
	if s.Suppressed(c.Suppression) || s.crashers.Contains(c.Data) {
		return false, nil // Already have this.
	}
	if !s.dup {
		if _, err := s.suppressions.Add(c.Suppression); err != nil {
			return false, errors.Wrap(err, "persist suppression")
		}
	}
	if _, err := s.crashers.Add(c.Data); err != nil {
		return false, errors.Wrap(err, "persist crasher")
	}

	// Prepare quoted version of input to simplify creation of standalone reproducers.
	if err := s.crashers.AddDescription(c.Data, Quote(c.Data), "quoted"); err != nil {
		return true, errors.Wrap(err, "persist crasher")
	}
	if err := s.crashers.AddDescription(c.Data, c.Output, "output"); err != nil {
		return true, errors.Wrap(err, "persist crasher")
	}
	meta, err := msgpack.Marshal(&Record{
		Sig:         Hash(c.Data).String(),
		Size:        len(c.Data),
		Hanging:     c.Hanging,
		Exec:        c.Exec,
		Time:        time.Now(),
		Suppression: string(c.Suppression),
	})
	if err != nil {
		return true, errors.Wrap(err, "encode crasher record")
	}
	if err := s.crashers.AddDescription(c.Data, meta, "meta"); err != nil {
		return true, errors.Wrap(err, "persist crasher")
	}
	return true, nil
}

func (s *CrashStore) Len() int {
	return s.crashers.Len()
}

// Crashers returns the stored inputs.
func (s *CrashStore) Crashers() []Artifact {
	return s.crashers.Artifacts()
}

// Quote renders data as a Go string expression, 20 bytes per line.
func Quote(data []byte) []byte {
	var buf bytes.Buffer
	for i := 0; i < len(data); i += 20 {
		e := i + 20
		if e > len(data) {
			e = len(data)
		}
		fmt.Fprintf(&buf, "\t%q", data[i:e])
		if e != len(data) {
			fmt.Fprintf(&buf, " +")
		}
		fmt.Fprintf(&buf, "\n")
	}
	return buf.Bytes()
}

// ReadRecord decodes a <sig>.meta file.
func ReadRecord(data []byte) (Record, error) {
	var r Record
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return Record{}, errors.Wrap(err, "decode crasher record")
	}
	return r, nil
}
