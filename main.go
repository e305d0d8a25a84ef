// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Command xfuzz builds a fuzzing binary: it copies the target package and
// its dependencies into a temporary GOPATH, instruments them with coverage
// counters, registers their Fuzz functions and links them with the fuzzer
// runtime.
package main

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/ioutil"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"
	"unicode"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/tools/go/packages"
)

const (
	modulePath   = "github.com/bradleyjkemp/xfuzz"
	runtimePath  = modulePath + "/runtime"
	coveragePath = modulePath + "/coverage"
)

var (
	flagOut      string
	flagPreserve string
)

// basePackagesConfig returns a base golang.org/x/tools/go/packages.Config
// that clients can then modify and use for calls to go/packages.
func basePackagesConfig() *packages.Config {
	cfg := new(packages.Config)
	cfg.Env = os.Environ()
	return cfg
}

func main() {
	cmd := &cobra.Command{
		Use:   "xfuzz [pkg] [-- fuzzer flags]",
		Short: "Build an instrumented fuzzing binary for pkg and run it",
		Long: "xfuzz instruments pkg and its dependencies with coverage counters and links\n" +
			"them with the fuzzer. Without -o the binary is run right away with the flags\n" +
			"given after --.",
		Args: cobra.ArbitraryArgs,
		Run: func(cmd *cobra.Command, args []string) {
			pkgArgs, runArgs := args, []string(nil)
			if dash := cmd.ArgsLenAtDash(); dash >= 0 {
				pkgArgs, runArgs = args[:dash], args[dash:]
			}
			if len(pkgArgs) > 1 {
				(&Context{}).failf("usage: xfuzz [pkg] [-- fuzzer flags]")
			}
			pkg := "."
			if len(pkgArgs) == 1 {
				pkg = pkgArgs[0]
			}
			build(pkg, runArgs)
		},
	}
	cmd.Flags().StringVarP(&flagOut, "out", "o", "", "if set, output the fuzzer binary to this file instead of running it")
	cmd.Flags().StringVar(&flagPreserve, "preserve", "", "a comma-separated list of import paths not to instrument")
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// build copies the package with all dependent packages into a temp dir,
// instruments Go source files there, and builds setting GOROOT to the temp dir.
func build(pkg string, runArgs []string) {
	c := new(Context)
	c.loadPkg(pkg)                // load and typecheck pkg
	c.getEnv()                    // discover GOROOT, GOPATH
	c.loadStd()                   // load standard library
	c.calcIgnore()                // calculate set of packages to ignore
	c.makeWorkdir()               // create workdir
	defer os.RemoveAll(c.workdir) // delete workdir
	c.populateWorkdir()           // copy tools and packages to workdir as needed

	out, shouldRun := flagOut, false
	if out == "" {
		out = filepath.Join(os.TempDir(), c.targetPackages[0].Name+"-fuzz")
		shouldRun = true
	}

	// Gather literals, instrument, and compile.
	// Order matters here!
	// instrumentPackages modifies the AST, so we gather literals first,
	// while the AST is pristine.
	lits := c.gatherLiterals()
	fuzzPackages := c.instrumentPackages()
	if len(fuzzPackages) == 0 {
		c.failf("no Fuzz functions found in %v", pkg)
	}
	c.copyFuzzDep(fuzzPackages, lits)
	c.buildInstrumentedBinary(out)
	if !shouldRun {
		return
	}
	defer os.Remove(out)
	cmd := exec.Command(out, runArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		c.failf("failed to start fuzzer: %v", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	go func() {
		for sig := range sigs {
			cmd.Process.Signal(sig)
		}
	}()
	if err := cmd.Wait(); err != nil {
		if exit, ok := err.(*exec.ExitError); ok {
			os.RemoveAll(c.workdir)
			os.Remove(out)
			os.Exit(exit.ExitCode())
		}
		c.failf("fuzzer failed: %v", err)
	}
}

// Context holds state for an xfuzz build.
type Context struct {
	targetPackages []*packages.Package // typechecked root packages
	runtimePackage []*packages.Package // the fuzzer itself

	std    map[string]bool // set of packages in the standard library
	ignore map[string]bool // set of packages to ignore during instrumentation

	workdir string
	GOROOT  string
	GOPATH  string
}

func (c *Context) isIgnored(pkg string) bool {
	return strings.HasPrefix(pkg, "internal/") ||
		strings.HasPrefix(pkg, "runtime/") ||
		c.ignore[pkg]
}

// getEnv determines GOROOT and GOPATH and updates c accordingly.
func (c *Context) getEnv() {
	env := map[string]string{
		"GOROOT": "",
		"GOPATH": "",
	}
	for k := range env {
		v := os.Getenv(k)
		if v != "" {
			env[k] = v
			continue
		}
		out, err := exec.Command("go", "env", k).CombinedOutput()
		if err != nil || len(out) == 0 {
			c.failf("%s is not set and failed to locate it: 'go env %s' returned '%s' (%v)", k, k, out, err)
		}
		env[k] = strings.TrimSpace(string(out))
	}
	c.GOROOT = env["GOROOT"]
	c.GOPATH = env["GOPATH"]
}

// loadPkg loads, parses, and typechecks pkg (the package containing the Fuzz functions),
// the fuzzer runtime, and their dependencies.
func (c *Context) loadPkg(pkg string) {
	cfg := basePackagesConfig()
	cfg.Mode = packages.LoadAllSyntax
	// use custom ParseFile in order to get comments
	cfg.ParseFile = func(fset *token.FileSet, filename string, src []byte) (*ast.File, error) {
		return parser.ParseFile(fset, filename, src, parser.ParseComments)
	}
	var err error
	c.targetPackages, err = packages.Load(cfg, pkg)
	if err != nil {
		c.failf("could not load packages: %v", err)
	}

	// Stop if any package had errors.
	if packages.PrintErrors(c.targetPackages) > 0 {
		c.failf("typechecking of %v failed", pkg)
	}

	c.runtimePackage, err = packages.Load(cfg, runtimePath)
	if err != nil {
		c.failf("could not load runtime package: %v", err)
	}
	if packages.PrintErrors(c.runtimePackage) > 0 {
		c.failf("typechecking of %v failed", runtimePath)
	}
}

func isFuzzFuncName(name string) bool {
	return isTest(name, "Fuzz")
}

// isTest is copied verbatim, along with its name,
// from GOROOT/src/cmd/go/internal/load/test.go.
// isTest tells whether name looks like a test (or benchmark, according to prefix).
// It is a Test (say) if there is a character after Test that is not a lower-case letter.
// We don't want TesticularCancer.
func isTest(name, prefix string) bool {
	if !strings.HasPrefix(name, prefix) {
		return false
	}
	if len(name) == len(prefix) { // "Test" is ok
		return true
	}
	rune, _ := utf8.DecodeRuneInString(name[len(prefix):])
	return !unicode.IsLower(rune)
}

// loadStd finds the set of standard library package paths.
func (c *Context) loadStd() {
	cfg := basePackagesConfig()
	cfg.Mode = packages.NeedName
	stdpkgs, err := packages.Load(cfg, "std")
	if err != nil {
		c.failf("could not load standard library: %v", err)
	}
	c.std = make(map[string]bool, len(stdpkgs))
	for _, p := range stdpkgs {
		c.std[p.PkgPath] = true
	}
}

func (c *Context) makeWorkdir() {
	var err error
	c.workdir, err = ioutil.TempDir("", "xfuzz-build")
	if err != nil {
		c.failf("failed to create temp dir: %v", err)
	}
}

// populateWorkdir prepares workdir for builds.
func (c *Context) populateWorkdir() {
	c.copyDir(filepath.Join(c.GOROOT, "pkg", "tool"), filepath.Join(c.workdir, "goroot", "pkg", "tool"))
	if _, err := os.Stat(filepath.Join(c.GOROOT, "pkg", "include")); err == nil {
		c.copyDir(filepath.Join(c.GOROOT, "pkg", "include"), filepath.Join(c.workdir, "goroot", "pkg", "include"))
	} else {
		// Cross-compilation is not implemented.
		c.copyDir(filepath.Join(c.GOROOT, "pkg", runtime.GOOS+"_"+runtime.GOARCH), filepath.Join(c.workdir, "goroot", "pkg", runtime.GOOS+"_"+runtime.GOARCH))
	}

	// Clone the fuzzer runtime and all its dependencies.
	packages.Visit(c.runtimePackage, nil, func(p *packages.Package) {
		c.clonePackage(p)
	})
}

func (c *Context) buildInstrumentedBinary(out string) {
	cmd := exec.Command("go", "build", "-trimpath", "-o", out, runtimePath)
	cmd.Env = append(os.Environ(),
		"GOROOT="+filepath.Join(c.workdir, "goroot"),
		"GOPATH="+filepath.Join(c.workdir, "gopath"),
		"GO111MODULE=off", // we have constructed a non-module, GOPATH environment
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		c.failf("failed to execute go build: %v\n%v", err, string(out))
	}
}

func (c *Context) calcIgnore() {
	c.ignore = map[string]bool{}
	// These are either incredibly noisy or break when instrumented
	badPackages := c.packagesNamed(
		"os",
		"syscall",
		"bytes",
	)
	packages.Visit(badPackages, func(p *packages.Package) bool {
		c.ignore[p.PkgPath] = true
		return true
	}, nil)

	// The fuzzer's own non-standard dependencies must not report coverage.
	packages.Visit(c.runtimePackage, nil, func(p *packages.Package) {
		if !c.std[p.PkgPath] {
			c.ignore[p.PkgPath] = true
		}
	})

	// Ignore any packages requested explicitly by the user.
	for _, path := range strings.Split(flagPreserve, ",") {
		if path != "" {
			c.ignore[path] = true
		}
	}
}

// copyFuzzDep installs the coverage definitions as the standard package
// "coverage", so that instrumented standard packages can import it, and
// points the fuzzer's coverage package at it.
func (c *Context) copyFuzzDep(fuzzPackages []string, lits []string) {
	coverageDir := filepath.Join(c.workdir, "goroot", "src", "coverage")
	c.mkdirAll(coverageDir)
	defs := c.packageNamed(coveragePath)
	var defsFile string
	for _, f := range defs.GoFiles {
		if filepath.Base(f) == "coverage.go" {
			defsFile = f
		}
	}
	if defsFile == "" {
		c.failf("%v has no coverage.go", coveragePath)
	}
	c.writeFile(filepath.Join(coverageDir, "coverage.go"), c.readFile(defsFile))

	// Now write the generated file that will populate Literals.
	buf := &bytes.Buffer{}
	if err := literalsTmpl.Execute(buf, lits); err != nil {
		c.failf("failed to execute literals template: %v", err)
	}
	c.writeFile(filepath.Join(coverageDir, "literals.go"), buf.Bytes())

	bridgeDir := filepath.Join(c.workdir, "gopath", "src", coveragePath)
	if err := os.Remove(filepath.Join(bridgeDir, "coverage.go")); err != nil {
		c.failf("failed to remove cloned coverage definitions: %v", err)
	}
	c.writeFile(filepath.Join(bridgeDir, "bridge.go"), []byte(bridgeSrc))

	// Runtime also needs to import all packages containing a fuzz function.
	buf.Reset()
	if err := importsTmpl.Execute(buf, fuzzPackages); err != nil {
		c.failf("failed to execute imports template: %v", err)
	}
	c.writeFile(filepath.Join(c.workdir, "gopath", "src", runtimePath, "imports.go"), buf.Bytes())
}

func (c *Context) clonePackage(p *packages.Package) {
	root := "goroot"
	if !c.std[p.PkgPath] {
		root = "gopath"
	}
	newDir := filepath.Join(c.workdir, root, "src", p.PkgPath)
	c.mkdirAll(newDir)

	if p.PkgPath == "unsafe" {
		// Write a dummy file. go/packages explicitly returns an empty GoFiles for it,
		// for reasons that are unclear, but cmd/go wants there to be a Go file in the package.
		c.writeFile(filepath.Join(newDir, "unsafe.go"), []byte(`package unsafe`))
		return
	}

	// Use GoFiles instead of CompiledGoFiles here.
	// If we use CompiledGoFiles, we end up with code that cmd/go won't compile.
	// See https://golang.org/issue/30479 and Context.instrumentPackages.
	for _, f := range p.GoFiles {
		dst := filepath.Join(newDir, filepath.Base(f))
		c.copyFile(f, dst)
	}
	for _, f := range p.OtherFiles {
		dst := filepath.Join(newDir, filepath.Base(f))
		c.copyFile(f, dst)
	}
}

// packageNamed extracts the package listed in path.
func (c *Context) packageNamed(path string) (pkgs *packages.Package) {
	all := c.packagesNamed(path)
	if len(all) == 0 {
		c.failf("got no packages matching %v", path)
	}
	if len(all) > 1 {
		c.failf("got multiple packages, requested only %v", path)
	}
	return all[0]
}

// packagesNamed extracts the packages listed in paths.
func (c *Context) packagesNamed(paths ...string) (pkgs []*packages.Package) {
	pre := func(p *packages.Package) bool {
		for _, path := range paths {
			if p.PkgPath == path {
				pkgs = append(pkgs, p)
				break
			}
		}
		return len(pkgs) < len(paths) // continue only if we have not succeeded yet
	}
	packages.Visit(append(c.targetPackages, c.runtimePackage...), pre, nil)
	return pkgs
}

func (c *Context) instrumentPackages() []string {
	var fuzzTargets []string
	visit := func(pkg *packages.Package) {
		if c.isIgnored(pkg.PkgPath) {
			c.clonePackage(pkg)
			return
		}
		c.clonePackage(pkg) // non-Go files and cgo inputs
		root := "goroot"
		if !c.std[pkg.PkgPath] {
			root = "gopath"
		}
		path := filepath.Join(c.workdir, root, "src", pkg.PkgPath)

		registered := false
		for i, fullName := range pkg.CompiledGoFiles {
			fname := filepath.Base(fullName)
			if !strings.HasSuffix(fname, ".go") {
				// This is a cgo-generated file.
				// Instrumenting it currently does not work.
				// We copied the original Go file as part of clonePackage,
				// so we can just skip this one.
				// See https://golang.org/issue/30479.
				continue
			}
			f := pkg.Syntax[i]
			f.Comments = trimComments(f, pkg.Fset)
			if registerFuzzFuncs(pkg.PkgPath, f) {
				registered = true
			}
			buf := new(bytes.Buffer)
			instrument(pkg.Fset, f, buf)
			c.writeFile(filepath.Join(path, fname), buf.Bytes())
		}
		// Internal packages cannot be imported by the runtime.
		if registered && !strings.Contains(pkg.PkgPath, "/internal/") {
			fuzzTargets = append(fuzzTargets, pkg.PkgPath)
		}
	}

	packages.Visit(c.targetPackages, nil, visit)
	return fuzzTargets
}

func (c *Context) copyDir(dir, newDir string) {
	c.mkdirAll(newDir)
	files, err := ioutil.ReadDir(dir)
	if err != nil {
		c.failf("failed to scan dir '%v': %v", dir, err)
	}
	for _, f := range files {
		if f.IsDir() {
			c.copyDir(filepath.Join(dir, f.Name()), filepath.Join(newDir, f.Name()))
			continue
		}
		src := filepath.Join(dir, f.Name())
		dst := filepath.Join(newDir, f.Name())
		c.copyFile(src, dst)
	}
}

func (c *Context) copyFile(src, dst string) {
	contents, err := ioutil.ReadFile(src)
	if err != nil {
		c.failf("copyFile: could not read %v: %v", src, err)
	}
	if err := ioutil.WriteFile(dst, contents, 0700); err != nil {
		c.failf("copyFile: could not write %v: %v", dst, err)
	}
}

func (c *Context) failf(str string, args ...interface{}) {
	if c.workdir != "" {
		os.RemoveAll(c.workdir)
	}
	fmt.Fprintf(os.Stderr, "%s "+str+"\n", append([]interface{}{color.New(color.FgRed, color.Bold).Sprint("xfuzz:")}, args...)...)
	os.Exit(1)
}

func (c *Context) readFile(name string) []byte {
	data, err := ioutil.ReadFile(name)
	if err != nil {
		c.failf("failed to read temp file: %v", err)
	}
	return data
}

func (c *Context) writeFile(name string, data []byte) {
	if err := ioutil.WriteFile(name, data, 0700); err != nil {
		c.failf("failed to write temp file: %v", err)
	}
}

func (c *Context) mkdirAll(dir string) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		c.failf("failed to create temp dir: %v", err)
	}
}

var importsTmpl = template.Must(template.New("imports").Parse(`
package main

import (
{{range .}}	_ "{{.}}"
{{end}}
)
`))

var literalsTmpl = template.Must(template.New("main").Parse(`
package coverage

func init() {
	Literals = []string{
{{range .}}	{{.}},
{{end}}
	}
}
`))

// bridgeSrc replaces coverage.go in the cloned fuzzer coverage package.
const bridgeSrc = `
package coverage

import dep "coverage"

const (
	CoverSize    = dep.CoverSize
	MaxInputSize = dep.MaxInputSize
)

var (
	CoverTab         = dep.CoverTab
	Literals         = dep.Literals
	FuzzFunctions    = dep.FuzzFunctions
	CheckedFunctions = dep.CheckedFunctions
)
`
