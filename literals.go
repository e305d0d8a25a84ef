// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"go/ast"
	"go/token"
	"sort"
	"strconv"

	"golang.org/x/tools/go/packages"
)

// gatherLiterals collects quoted string and integer literals from the
// instrumented packages. They seed the mutator's dictionary.
func (c *Context) gatherLiterals() []string {
	nolits := map[string]bool{
		"math":    true,
		"os":      true,
		"unicode": true,
	}

	lits := make(map[string]struct{})
	visit := func(pkg *packages.Package) {
		if c.isIgnored(pkg.PkgPath) || nolits[pkg.PkgPath] {
			return
		}
		for _, f := range pkg.Syntax {
			ast.Walk(&LiteralCollector{lits: lits, fail: c.failf}, f)
		}
	}

	packages.Visit(c.targetPackages, nil, visit)

	litsList := make([]string, 0, len(lits))
	for lit := range lits {
		litsList = append(litsList, lit)
	}
	sort.Strings(litsList)
	return litsList
}

type LiteralCollector struct {
	fail func(string, ...interface{})
	lits map[string]struct{}
}

func (lc *LiteralCollector) Visit(n ast.Node) (w ast.Visitor) {
	switch nn := n.(type) {
	default:
		return lc // recurse
	case *ast.ImportSpec:
		return nil
	case *ast.Field:
		return nil // ignore field tags
	case *ast.CallExpr:
		switch fn := nn.Fun.(type) {
		case *ast.Ident:
			if fn.Name == "panic" {
				return nil
			}
		case *ast.SelectorExpr:
			if id, ok := fn.X.(*ast.Ident); ok && (id.Name == "fmt" || id.Name == "errors") {
				return nil
			}
		}
		return lc
	case *ast.BasicLit:
		lit := nn.Value
		switch nn.Kind {
		case token.CHAR:
			// 'a' -> "a"
			r, _, _, err := strconv.UnquoteChar(lit[1:len(lit)-1], '\'')
			if err != nil {
				lc.fail("failed to parse char literal '%v': %v", lit, err)
				return nil
			}
			lc.lits[strconv.Quote(string(r))] = struct{}{}
		case token.STRING:
			s, err := strconv.Unquote(lit)
			if err != nil {
				lc.fail("failed to parse string literal '%v': %v", lit, err)
				return nil
			}
			// Raw strings are requoted so that every entry is a valid
			// interpreted literal in the generated file.
			lc.lits[strconv.Quote(s)] = struct{}{}
		case token.INT:
			if lit[0] < '0' || lit[0] > '9' {
				lc.fail("unsupported literal '%v'", lit)
				return nil
			}
			v, err := strconv.ParseInt(lit, 0, 64)
			if err != nil {
				u, err := strconv.ParseUint(lit, 0, 64)
				if err != nil {
					lc.fail("failed to parse int literal '%v': %v", lit, err)
					return nil
				}
				v = int64(u)
			}
			var val []byte
			if v >= -(1<<7) && v < 1<<8 {
				val = append(val, byte(v))
			} else if v >= -(1<<15) && v < 1<<16 {
				val = append(val, byte(v), byte(v>>8))
			} else if v >= -(1<<31) && v < 1<<32 {
				val = append(val, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
			} else {
				val = append(val, byte(v), byte(v>>8), byte(v>>16), byte(v>>24), byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
			}
			lc.lits[strconv.Quote(string(val))] = struct{}{}
		}
		return nil
	}
}
