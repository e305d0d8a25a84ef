// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"crypto/sha1"
	"fmt"
	"go/ast"
	"go/printer"
	"go/token"
	"io"
	"strconv"
	"strings"
)

const fuzzdepPkg = "_xfuzz_dep_"

// instrument adds coverage counters to f and prints the result to out.
// f.Comments should already be trimmed: counters shift positions and
// stale comments end up in the middle of statements.
func instrument(fset *token.FileSet, f *ast.File, out io.Writer) {
	addImport(f, "coverage", fuzzdepPkg, "CoverTab")
	ast.Inspect(f, instrumentAST)
	cfg := printer.Config{
		Mode:     printer.SourcePos,
		Tabwidth: 8,
	}
	cfg.Fprint(out, fset, f)
}

func instrumentAST(node ast.Node) bool {
	switch n := node.(type) {
	case *ast.IfStmt:
		instrumentIf(n)

	case *ast.FuncDecl:
		if n.Body == nil {
			// this is just a function declaration, it is implemented elsewhere
			return false
		}
		n.Body.List = append([]ast.Stmt{newCounter()}, n.Body.List...)

	case *ast.FuncLit:
		n.Body.List = append([]ast.Stmt{newCounter()}, n.Body.List...)

	case *ast.CaseClause:
		n.Body = append([]ast.Stmt{newCounter()}, n.Body...)

	case *ast.CommClause:
		n.Body = append([]ast.Stmt{newCounter()}, n.Body...)

	case *ast.ForStmt:
		n.Body.List = append([]ast.Stmt{newCounter()}, n.Body.List...)

	case *ast.RangeStmt:
		n.Body.List = append([]ast.Stmt{newCounter()}, n.Body.List...)
	}

	return true
}

func instrumentIf(n *ast.IfStmt) {
	n.Body.List = append([]ast.Stmt{newCounter()}, n.Body.List...)

	// The fallthrough path is a block of its own.
	if n.Else == nil {
		n.Else = &ast.BlockStmt{}
	}

	switch e := n.Else.(type) {
	case *ast.BlockStmt:
		e.List = append([]ast.Stmt{newCounter()}, e.List...)
	case *ast.IfStmt:
		// else-if chains are visited by ast.Inspect
	default:
		panic(fmt.Sprintf("unexpected else type %T", e))
	}
}

// trimComments keeps only the //go: directives that start a line.
func trimComments(file *ast.File, fset *token.FileSet) []*ast.CommentGroup {
	var comments []*ast.CommentGroup
	for _, group := range file.Comments {
		var list []*ast.Comment
		for _, comment := range group.List {
			if strings.HasPrefix(comment.Text, "//go:") && fset.Position(comment.Slash).Column == 1 {
				list = append(list, comment)
			}
		}
		if list != nil {
			comments = append(comments, &ast.CommentGroup{List: list})
		}
	}
	return comments
}

func addImport(f *ast.File, path, name, anyIdent string) {
	newImport := &ast.ImportSpec{
		Name: ast.NewIdent(name),
		Path: &ast.BasicLit{
			Kind:  token.STRING,
			Value: strconv.Quote(path),
		},
	}
	impDecl := &ast.GenDecl{
		Tok:   token.IMPORT,
		Specs: []ast.Spec{newImport},
	}
	// Make the new import the first Decl in the file.
	f.Decls = append([]ast.Decl{impDecl}, f.Decls...)
	f.Imports = append(f.Imports, newImport)

	// Refer to the package in case no counter ends up in this file:
	//	var _ = _xfuzz_dep_.CoverTab
	f.Decls = append(f.Decls, &ast.GenDecl{
		Tok: token.VAR,
		Specs: []ast.Spec{
			&ast.ValueSpec{
				Names: []*ast.Ident{ast.NewIdent("_")},
				Values: []ast.Expr{
					&ast.SelectorExpr{
						X:   ast.NewIdent(name),
						Sel: ast.NewIdent(anyIdent),
					},
				},
			},
		},
	})
}

var counterGen uint32

func genCounter() int {
	counterGen++
	id := counterGen
	buf := []byte{byte(id), byte(id >> 8), byte(id >> 16), byte(id >> 24)}
	hash := sha1.Sum(buf)
	return int(uint16(hash[0]) | uint16(hash[1])<<8)
}

func newCounter() ast.Stmt {
	counter := &ast.IndexExpr{
		X: &ast.SelectorExpr{
			X:   ast.NewIdent(fuzzdepPkg),
			Sel: ast.NewIdent("CoverTab"),
		},
		Index: &ast.BasicLit{
			Kind:  token.INT,
			Value: strconv.Itoa(genCounter()),
		},
	}
	return &ast.IncDecStmt{
		X:   counter,
		Tok: token.INC,
	}
}

// registerFuzzFuncs appends an init function to f registering every
// top-level FuzzXxx(data []byte) in f with the runtime. Functions returning
// int go to FuzzFunctions, functions returning error to CheckedFunctions.
func registerFuzzFuncs(pkg string, f *ast.File) bool {
	var regs []ast.Stmt
	for _, d := range f.Decls {
		funcDecl, ok := d.(*ast.FuncDecl)
		if !ok || funcDecl.Recv != nil || !isFuzzFuncName(funcDecl.Name.Name) {
			continue
		}
		if !hasByteSliceParam(funcDecl.Type) {
			continue
		}
		var registry string
		switch resultType(funcDecl.Type) {
		case "int":
			registry = "FuzzFunctions"
		case "error":
			registry = "CheckedFunctions"
		default:
			continue
		}

		// Generates: _xfuzz_dep_.<registry>["pkg.Name"] = Name
		regs = append(regs, &ast.AssignStmt{
			Lhs: []ast.Expr{
				&ast.IndexExpr{
					X: &ast.SelectorExpr{
						X:   ast.NewIdent(fuzzdepPkg),
						Sel: ast.NewIdent(registry),
					},
					Index: &ast.BasicLit{
						Kind:  token.STRING,
						Value: strconv.Quote(pkg + "." + funcDecl.Name.Name),
					},
				},
			},
			Tok: token.ASSIGN,
			Rhs: []ast.Expr{ast.NewIdent(funcDecl.Name.Name)},
		})
	}
	if len(regs) == 0 {
		return false
	}
	// Multiple init functions per file are fine.
	f.Decls = append(f.Decls, &ast.FuncDecl{
		Name: ast.NewIdent("init"),
		Type: &ast.FuncType{Params: &ast.FieldList{}},
		Body: &ast.BlockStmt{List: regs},
	})
	return true
}

func hasByteSliceParam(t *ast.FuncType) bool {
	params := t.Params.List
	if len(params) != 1 || len(params[0].Names) > 1 {
		return false
	}
	slice, ok := params[0].Type.(*ast.ArrayType)
	if !ok || slice.Len != nil {
		return false
	}
	elt, ok := slice.Elt.(*ast.Ident)
	return ok && elt.Name == "byte"
}

func resultType(t *ast.FuncType) string {
	if t.Results == nil || len(t.Results.List) != 1 || len(t.Results.List[0].Names) > 1 {
		return ""
	}
	id, ok := t.Results.List[0].Type.(*ast.Ident)
	if !ok {
		return ""
	}
	return id.Name
}
