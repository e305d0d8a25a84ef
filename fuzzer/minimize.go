// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"bytes"
	"time"

	"github.com/golang/glog"

	"github.com/bradleyjkemp/xfuzz/executor"
	"github.com/bradleyjkemp/xfuzz/storage"
)

// minimizeCrash shrinks c.Data while it keeps crashing at the same site.
func (f *Fuzzer) minimizeCrash(c *storage.Crash) {
	orig := len(c.Data)
	c.Data = f.minimize(c.Data, true, func(r executor.Result) bool {
		if r.Status != executor.Crashed {
			return false
		}
		if !bytes.Equal(executor.Suppression(r.Output), c.Suppression) {
			return false
		}
		c.Output = r.Output
		return true
	})
	glog.V(2).Infof("minimized crasher from %v to %v bytes", orig, len(c.Data))
}

// minimize applies series of minimizing transformations to data
// and asks pred whether the input is equivalent to the original one or not.
func (f *Fuzzer) minimize(data []byte, canonicalize bool, pred func(r executor.Result) bool) []byte {
	res := make([]byte, len(data))
	copy(res, data)
	start := time.Now()
	test := func(candidate []byte) bool {
		f.MinimizeExecs++
		return pred(f.exec.Execute(candidate))
	}

	// First, try to cut tail.
	for n := 1024; n != 0; n /= 2 {
		for len(res) > n {
			if time.Since(start) > f.opts.Minimize {
				return res
			}
			candidate := res[:len(res)-n]
			if !test(candidate) {
				break
			}
			res = candidate
		}
	}

	// Then, try to remove each individual byte.
	tmp := make([]byte, len(res))
	for i := 0; i < len(res); i++ {
		if time.Since(start) > f.opts.Minimize {
			return res
		}
		candidate := tmp[:len(res)-1]
		copy(candidate[:i], res[:i])
		copy(candidate[i:], res[i+1:])
		if !test(candidate) {
			continue
		}
		res = append([]byte(nil), candidate...)
		i--
	}

	// Then, try to remove each possible subset of bytes.
	for i := 0; i < len(res)-1; i++ {
		copy(tmp, res[:i])
		for j := len(res); j > i+1; j-- {
			if time.Since(start) > f.opts.Minimize {
				return res
			}
			candidate := tmp[:len(res)-j+i]
			copy(candidate[i:], res[j:])
			if !test(candidate) {
				continue
			}
			res = append([]byte(nil), candidate...)
			j = len(res)
		}
	}

	// Then, try to replace each individual byte with '0'.
	if canonicalize {
		for i := 0; i < len(res); i++ {
			if res[i] == '0' {
				continue
			}
			if time.Since(start) > f.opts.Minimize {
				return res
			}
			candidate := tmp[:len(res)]
			copy(candidate, res)
			candidate[i] = '0'
			if !test(candidate) {
				continue
			}
			res = append([]byte(nil), candidate...)
		}
	}

	return res
}
