// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestAddKeepsOrderAndCopies(t *testing.T) {
	c := New()
	buf := []byte("abc")
	e, added := c.Force(buf)
	if !added || !e.Seed || e.Index != 0 {
		t.Fatalf("Force = %+v, %v", e, added)
	}
	buf[0] = 'X'
	if string(c.At(0).Data) != "abc" {
		t.Fatalf("corpus entry aliases caller buffer: %q", c.At(0).Data)
	}
	if _, added := c.Add([]byte("abc"), 1); added {
		t.Fatalf("duplicate content added")
	}
	e, added = c.Add([]byte("def"), 2)
	if !added || e.Seed || e.Index != 1 || e.Depth != 2 {
		t.Fatalf("Add = %+v, %v", e, added)
	}
	if diff := cmp.Diff([][]byte{[]byte("abc"), []byte("def")}, c.Data()); diff != "" {
		t.Fatalf("corpus data mismatch (-want +got):\n%s", diff)
	}
	if !c.Contains([]byte("def")) || c.Contains([]byte("zzz")) {
		t.Fatalf("Contains is wrong")
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	files := map[string][]byte{
		"b":     {1, 2, 3, 4},
		"a":     {},
		"c.bin": []byte("hello"),
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0700); err != nil {
		t.Fatal(err)
	}
	inputs, err := LoadDir(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	want := [][]byte{{}, {1, 2, 3, 4}, []byte("hello")}
	if diff := cmp.Diff(want, inputs, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("LoadDir mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadDirErrors(t *testing.T) {
	if _, err := LoadDir(context.Background(), filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("missing dir accepted")
	}
	f := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(f, nil, 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadDir(context.Background(), f); err == nil {
		t.Fatalf("regular file accepted as corpus dir")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	c := New()
	c.Force([]byte{0xde, 0xad})
	c.Add([]byte("second"), 1)
	c.Add([]byte{}, 1)

	dir := filepath.Join(t.TempDir(), "out")
	if err := Export(c, dir); err != nil {
		t.Fatal(err)
	}
	inputs, err := LoadDir(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	fresh := New()
	for _, in := range inputs {
		fresh.Force(in)
	}
	asSet := func(c *Corpus) []string {
		var res []string
		for _, d := range c.Data() {
			res = append(res, string(d))
		}
		sort.Strings(res)
		return res
	}
	if diff := cmp.Diff(asSet(c), asSet(fresh)); diff != "" {
		t.Fatalf("round trip mismatch (-exported +imported):\n%s", diff)
	}
}
