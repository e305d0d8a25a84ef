// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPersistentSetReload(t *testing.T) {
	dir := t.TempDir()
	ps, err := OpenPersistentSet(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, data := range []string{"a", "bb", "a", ""} {
		if _, err := ps.Add([]byte(data)); err != nil {
			t.Fatal(err)
		}
	}
	if ps.Len() != 3 {
		t.Fatalf("Len = %v, want 3", ps.Len())
	}
	if err := ps.AddDescription([]byte("a"), []byte("desc"), "output"); err != nil {
		t.Fatal(err)
	}

	again, err := OpenPersistentSet(dir)
	if err != nil {
		t.Fatal(err)
	}
	if again.Len() != 3 {
		t.Fatalf("reloaded Len = %v, want 3 (descriptions must not load as artifacts)", again.Len())
	}
	for _, data := range []string{"a", "bb", ""} {
		if !again.Contains([]byte(data)) {
			t.Errorf("reloaded set lost %q", data)
		}
	}
	desc, err := os.ReadFile(filepath.Join(dir, Hash([]byte("a")).String()+".output"))
	if err != nil || string(desc) != "desc" {
		t.Fatalf("description = %q, %v", desc, err)
	}
}

func TestPersistentSetInMemory(t *testing.T) {
	ps, err := OpenPersistentSet("")
	if err != nil {
		t.Fatal(err)
	}
	added, err := ps.Add([]byte("x"))
	if err != nil || !added {
		t.Fatalf("Add = %v, %v", added, err)
	}
	if got := ps.Artifacts(); len(got) != 1 || string(got[0].Data) != "x" {
		t.Fatalf("Artifacts = %v", got)
	}
}

func TestCrashStoreDedup(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenCrashStore(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	first := Crash{Data: []byte{0}, Output: []byte("panic: boom"), Suppression: []byte("site A"), Exec: 7}
	if added, err := s.Add(first); err != nil || !added {
		t.Fatalf("first crash: %v, %v", added, err)
	}
	// Same stack signature, different input: suppressed.
	if added, _ := s.Add(Crash{Data: []byte{1}, Suppression: []byte("site A")}); added {
		t.Fatalf("duplicate signature stored")
	}
	// Different site: stored under its own name.
	if added, _ := s.Add(Crash{Data: []byte{2}, Suppression: []byte("site B")}); !added {
		t.Fatalf("distinct crash dropped")
	}
	if s.Len() != 2 {
		t.Fatalf("Len = %v, want 2", s.Len())
	}

	base := filepath.Join(dir, "crashers", Hash([]byte{0}).String())
	for _, suffix := range []string{"", ".quoted", ".output", ".meta"} {
		if _, err := os.Stat(base + suffix); err != nil {
			t.Errorf("missing %v: %v", suffix, err)
		}
	}
	meta, err := os.ReadFile(base + ".meta")
	if err != nil {
		t.Fatal(err)
	}
	rec, err := ReadRecord(meta)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Exec != 7 || rec.Size != 1 || rec.Suppression != "site A" || rec.Sig != Hash([]byte{0}).String() {
		t.Fatalf("bad record %+v", rec)
	}
}

func TestCrashStoreDup(t *testing.T) {
	s, err := OpenCrashStore("", true)
	if err != nil {
		t.Fatal(err)
	}
	s.Add(Crash{Data: []byte("a"), Suppression: []byte("same")})
	s.Add(Crash{Data: []byte("b"), Suppression: []byte("same")})
	s.Add(Crash{Data: []byte("b"), Suppression: []byte("same")})
	if s.Len() != 2 {
		t.Fatalf("Len = %v, want 2", s.Len())
	}
}

func TestQuote(t *testing.T) {
	got := string(Quote([]byte("0123456789abcdefghijXY")))
	want := "\t\"0123456789abcdefghij\" +\n\t\"XY\"\n"
	if got != want {
		t.Fatalf("Quote = %q, want %q", got, want)
	}
}

func TestErrorStore(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenErrorStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveError([]byte("in"), errors.New("mismatch at pc")); err != nil {
		t.Fatal(err)
	}
	out, err := os.ReadFile(filepath.Join(dir, "errors", Hash([]byte("in")).String()+".output"))
	if err != nil || !strings.Contains(string(out), "mismatch at pc") {
		t.Fatalf("output = %q, %v", out, err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %v", s.Len())
	}
}

func TestErrorStoreKeepsFirstFailure(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenErrorStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	// A directory where the input file belongs makes the final rename fail.
	if err := os.Mkdir(filepath.Join(dir, "errors", Hash([]byte("bad")).String()), 0700); err != nil {
		t.Fatal(err)
	}
	if s.Err() != nil {
		t.Fatalf("fresh store has error %v", s.Err())
	}
	if err := s.SaveError([]byte("bad"), errors.New("mismatch")); err == nil {
		t.Fatal("save into an occupied path succeeded")
	}
	if err := s.SaveError([]byte("good"), errors.New("mismatch")); err != nil {
		t.Fatal(err)
	}
	if err := s.Err(); err == nil || !strings.Contains(err.Error(), "persist errored input") {
		t.Fatalf("Err = %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %v", s.Len())
	}
}
