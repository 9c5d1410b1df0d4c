// Package probe checks the external dependencies of the pipeline before any
// expensive work starts.
package probe

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/kamusis/cbdistill/internal/runner"
)

// ErrMissingDependency marks a required library or tool that is not installed.
var ErrMissingDependency = errors.New("missing dependency")

// installHints maps Python modules to the way they are installed.
var installHints = map[string]string{
	"fairseq":            "pip install fairseq (see https://github.com/pytorch/fairseq)",
	"multi_quantization": "pip install multi_quantization (or git+https://github.com/k2-fsa/multi_quantization.git)",
	"lhotse":             "pip install lhotse",
}

// Prober runs dependency checks through a Runner.
type Prober struct {
	Runner runner.Runner
	Python string
	// LookPath resolves executables; exec.LookPath when nil.
	LookPath func(file string) (string, error)
}

// HasPythonModule reports whether module is importable by the configured
// Python interpreter.
func (p *Prober) HasPythonModule(ctx context.Context, module string) (bool, error) {
	script := fmt.Sprintf("import importlib.util; print(importlib.util.find_spec(%q) is not None)", module)
	out, err := p.Runner.Output(ctx, runner.Command{Name: p.Python, Args: []string{"-c", script}})
	if err != nil {
		return false, fmt.Errorf("%w: cannot run %s: %v", ErrMissingDependency, p.Python, err)
	}
	return lastLine(out) == "True", nil
}

// RequirePythonModules fails with ErrMissingDependency naming every module
// that is not importable.
func (p *Prober) RequirePythonModules(ctx context.Context, modules ...string) error {
	var missing []string
	for _, m := range modules {
		ok, err := p.HasPythonModule(ctx, m)
		if err != nil {
			return err
		}
		if !ok {
			missing = append(missing, m)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "please install %s before running the following stages", strings.Join(missing, ", "))
	for _, m := range missing {
		if hint, ok := installHints[m]; ok {
			fmt.Fprintf(&b, "\n  %s: %s", m, hint)
		}
	}
	return fmt.Errorf("%w: %s", ErrMissingDependency, b.String())
}

// PythonModuleVersion returns module.__version__ as reported by Python.
func (p *Prober) PythonModuleVersion(ctx context.Context, module string) (string, error) {
	script := fmt.Sprintf("import %s; print(%s.__version__)", module, module)
	out, err := p.Runner.Output(ctx, runner.Command{Name: p.Python, Args: []string{"-c", script}})
	if err != nil {
		return "", fmt.Errorf("cannot determine %s version: %w", module, err)
	}
	v := lastLine(out)
	if v == "" {
		return "", fmt.Errorf("cannot determine %s version: empty output", module)
	}
	return v, nil
}

// RequireTool checks that an executable is on PATH.
func (p *Prober) RequireTool(name string) error {
	lookPath := p.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if _, err := lookPath(name); err != nil {
		return fmt.Errorf("%w: %s is not installed or not on PATH", ErrMissingDependency, name)
	}
	return nil
}

// RequireGitLFS checks that git and the git-lfs extension are available.
func (p *Prober) RequireGitLFS(ctx context.Context) error {
	if err := p.RequireTool("git"); err != nil {
		return err
	}
	if _, err := p.Runner.Output(ctx, runner.Command{Name: "git", Args: []string{"lfs", "version"}}); err != nil {
		return fmt.Errorf("%w: git-lfs not found; install it from https://git-lfs.github.com", ErrMissingDependency)
	}
	return nil
}

var versionCore = regexp.MustCompile(`^\d+(\.\d+){0,2}`)

// VersionAtLeast compares Python-style versions by their numeric core, so
// "1.16.0.dev0+git.1a2b" compares as 1.16.0.
func VersionAtLeast(have, want string) bool {
	h := toSemver(have)
	w := toSemver(want)
	if h == "" || w == "" {
		return false
	}
	return semver.Compare(h, w) >= 0
}

func toSemver(v string) string {
	core := versionCore.FindString(strings.TrimPrefix(strings.TrimSpace(v), "v"))
	if core == "" {
		return ""
	}
	s := "v" + core
	if !semver.IsValid(s) {
		return ""
	}
	return s
}

func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
