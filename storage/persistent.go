// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package storage

import (
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Sig identifies an artifact by content.
type Sig [sha1.Size]byte

func Hash(data []byte) Sig {
	return Sig(sha1.Sum(data))
}

func (s Sig) String() string {
	return hex.EncodeToString(s[:])
}

type Artifact struct {
	Data []byte
	Sig  Sig
}

// PersistentSet is a set of binary blobs with a persistent mirror on disk.
// Every blob is stored in a file named after its Sig; descriptions are
// stored next to it as <sig>.<type>.
type PersistentSet struct {
	dir   string
	m     map[Sig]Artifact
	order []Sig
}

// OpenPersistentSet creates dir if needed and loads every artifact already in it.
func OpenPersistentSet(dir string) (*PersistentSet, error) {
	ps := &PersistentSet{
		dir: dir,
		m:   make(map[Sig]Artifact),
	}
	if dir == "" {
		return ps, nil
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrapf(err, "failed to create dir %v", dir)
	}
	if err := ps.readInDir(); err != nil {
		return nil, err
	}
	return ps, nil
}

func (ps *PersistentSet) readInDir() error {
	files, err := os.ReadDir(ps.dir)
	if err != nil {
		return errors.Wrapf(err, "failed to read dir %v", ps.dir)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })
	for _, f := range files {
		if f.IsDir() || strings.ContainsRune(f.Name(), '.') {
			continue
		}
		data, err := os.ReadFile(filepath.Join(ps.dir, f.Name()))
		if err != nil {
			return errors.Wrapf(err, "failed to read file %v", f.Name())
		}
		ps.insert(data)
	}
	return nil
}

func (ps *PersistentSet) insert(data []byte) (Artifact, bool) {
	sig := Hash(data)
	if a, ok := ps.m[sig]; ok {
		return a, false
	}
	a := Artifact{Data: append([]byte{}, data...), Sig: sig}
	ps.m[sig] = a
	ps.order = append(ps.order, sig)
	return a, true
}

// Add stores data unless an identical blob is already present.
// It reports whether data was new.
func (ps *PersistentSet) Add(data []byte) (bool, error) {
	a, added := ps.insert(data)
	if !added || ps.dir == "" {
		return added, nil
	}
	if err := writeFile(filepath.Join(ps.dir, a.Sig.String()), a.Data); err != nil {
		delete(ps.m, a.Sig)
		ps.order = ps.order[:len(ps.order)-1]
		return false, err
	}
	return true, nil
}

// AddDescription writes desc as the typ companion of data.
func (ps *PersistentSet) AddDescription(data, desc []byte, typ string) error {
	if ps.dir == "" {
		return nil
	}
	return writeFile(filepath.Join(ps.dir, Hash(data).String()+"."+typ), desc)
}

func (ps *PersistentSet) Contains(data []byte) bool {
	_, ok := ps.m[Hash(data)]
	return ok
}

func (ps *PersistentSet) Len() int {
	return len(ps.m)
}

func (ps *PersistentSet) Dir() string {
	return ps.dir
}

// Artifacts returns the blobs in insertion order (directory order for loaded ones).
func (ps *PersistentSet) Artifacts() []Artifact {
	res := make([]Artifact, 0, len(ps.order))
	for _, sig := range ps.order {
		res = append(res, ps.m[sig])
	}
	return res
}

// writeFile replaces name atomically.
func writeFile(name string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(name), ".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "failed to create temp file for %v", name)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "failed to write %v", name)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "failed to close %v", name)
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "failed to rename %v", name)
	}
	return nil
}
