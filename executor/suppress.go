// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package executor

import (
	"bufio"
	"bytes"
	"io/ioutil"
	"strings"

	"github.com/maruel/panicparse/stack"
)

const pkgPath = "github.com/bradleyjkemp/xfuzz/executor"

var hangPrefix = []byte("program hanged")

type frame struct {
	fn  string
	src string
}

// Suppression reduces crash output to a signature of the crash site: the
// source line of the innermost harness frame followed by the function
// names down to the executor. Crashes with equal signatures are the same
// bug. Output that carries no recognisable stack is its own signature.
func Suppression(out []byte) []byte {
	if bytes.HasPrefix(out, hangPrefix) {
		// Hang stacks are flaky.
		return append([]byte(nil), hangPrefix...)
	}
	fs, ok := parsedFrames(out)
	if !ok {
		fs = scannedFrames(out)
	}
	if supp := signature(fs); len(supp) != 0 {
		return supp
	}
	return out
}

func parsedFrames(out []byte) ([]frame, bool) {
	ctx, err := stack.ParseDump(bytes.NewReader(out), ioutil.Discard, false)
	if err != nil || ctx == nil {
		return nil, false
	}
	for _, gr := range ctx.Goroutines {
		if !gr.First {
			continue
		}
		var fs []frame
		for _, c := range gr.Stack.Calls {
			fs = append(fs, frame{fn: c.Func.Raw, src: c.FullSrcLine()})
		}
		return fs, len(fs) != 0
	}
	return nil, false
}

// scannedFrames reads the first goroutine of a textual traceback.
func scannedFrames(out []byte) []frame {
	var fs []frame
	inStack := false
	s := bufio.NewScanner(bytes.NewReader(out))
	s.Buffer(make([]byte, 0, 4096), len(out)+4096)
	for s.Scan() {
		line := s.Text()
		switch {
		case strings.HasPrefix(line, "goroutine "):
			if inStack {
				return fs
			}
			inStack = true
		case !inStack:
		case line == "":
			if len(fs) != 0 {
				return fs
			}
		case line[0] == '\t':
			if len(fs) != 0 && fs[len(fs)-1].src == "" {
				src := strings.TrimSpace(line)
				if idx := strings.LastIndex(src, " +0x"); idx != -1 {
					src = src[:idx]
				}
				fs[len(fs)-1].src = src
			}
		case strings.HasPrefix(line, "created by "):
			return fs
		default:
			if idx := strings.LastIndex(line, "("); idx > 0 {
				fs = append(fs, frame{fn: line[:idx]})
			}
		}
	}
	return fs
}

func isPanicking(fn string) bool {
	return fn == "panic" ||
		strings.HasPrefix(fn, "runtime.") ||
		strings.HasPrefix(fn, "runtime/debug.") ||
		strings.HasPrefix(fn, pkgPath+".Protect.") ||
		strings.HasPrefix(fn, pkgPath+".(*worker)")
}

func signature(fs []frame) []byte {
	i := 0
	for i < len(fs) && isPanicking(fs[i].fn) {
		i++
	}
	var supp []byte
	for j := i; j < len(fs); j++ {
		if fs[j].fn == pkgPath+".Protect" {
			break
		}
		if j == i {
			supp = append(supp, fs[j].src...)
			supp = append(supp, '\n')
		}
		supp = append(supp, fs[j].fn...)
		supp = append(supp, '\n')
	}
	return supp
}
