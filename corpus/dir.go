// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/bradleyjkemp/xfuzz/storage"
)

// LoadDir reads every regular file of dir as one input, in file name order.
// A missing or unreadable dir is an error; callers treat it as fatal.
func LoadDir(ctx context.Context, dir string) ([][]byte, error) {
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "load corpus dir %v", dir)
	}
	if !fi.IsDir() {
		return nil, errors.Errorf("load corpus dir %v: not a directory", dir)
	}
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "load corpus dir %v", dir)
	}
	var names []string
	for _, f := range files {
		if f.Type().IsRegular() {
			names = append(names, f.Name())
		}
	}
	sort.Strings(names)

	inputs := make([][]byte, len(names))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				return errors.Wrapf(err, "load corpus file %v", name)
			}
			inputs[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	glog.V(1).Infof("loaded %v inputs from %v", len(inputs), dir)
	return inputs, nil
}

// Export writes every entry of c into dir, one file per input named by content.
func Export(c *Corpus, dir string) error {
	set, err := storage.OpenPersistentSet(dir)
	if err != nil {
		return errors.Wrap(err, "export corpus")
	}
	for _, e := range c.Entries() {
		if _, err := set.Add(e.Data); err != nil {
			return errors.Wrap(err, "export corpus")
		}
	}
	glog.V(1).Infof("exported %v inputs to %v", c.Len(), dir)
	return nil
}
