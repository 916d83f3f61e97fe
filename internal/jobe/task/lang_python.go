package task

import (
	"context"
	"regexp"
	"strings"
)

var pythonVersion = regexp.MustCompile(`Python ([0-9._]*)`)

type python3Variant struct {
	baseVariant
	interpreter string
}

// newPython3Variant accepts either a full interpreter path or a bare name
// resolved under /usr/bin.
func newPython3Variant(version string) *python3Variant {
	interp := version
	if !strings.Contains(interp, "/") {
		interp = "/usr/bin/" + interp
	}
	return &python3Variant{interpreter: interp}
}

func (v *python3Variant) ID() string { return "python3" }

func (v *python3Variant) DefaultFileName(string) (string, bool) { return "prog.py", true }

func (v *python3Variant) Defaults(p *Params) {
	p.MemoryLimit = 1000
	p.InterpreterArgs = []string{"-BE"}
}

// Compile only byte-compiles to surface syntax errors.
func (v *python3Variant) Compile(ctx context.Context, t *Task) error {
	t.Executable = t.SourceFileName
	stdout, stderr, err := t.runCompiler(ctx, []string{v.interpreter, "-m", "py_compile", t.SourceFileName})
	if err != nil {
		return err
	}
	if stderr != "" && stdout != "" {
		stderr = stdout + "\n" + stderr
	}
	t.CmpInfo += stderr
	return nil
}

func (v *python3Variant) RunCommand(t *Task) []string {
	argv := append([]string{v.interpreter}, t.Params.InterpreterArgs...)
	argv = append(argv, t.Executable)
	return append(argv, t.Params.RunArgs...)
}

func (v *python3Variant) MemoryLimitExceeded(_, stderr string) bool {
	return strings.Contains(stderr, "\nMemoryError")
}

func (v *python3Variant) VersionProbe() Probe {
	return Probe{Command: []string{v.interpreter, "--version"}, Pattern: pythonVersion}
}

type python2Variant struct {
	baseVariant
}

func newPython2Variant() *python2Variant { return &python2Variant{} }

func (v *python2Variant) ID() string { return "python2" }

func (v *python2Variant) DefaultFileName(string) (string, bool) { return "prog.py2", true }

func (v *python2Variant) Defaults(p *Params) {
	p.InterpreterArgs = []string{"-BESs"}
}

func (v *python2Variant) Compile(_ context.Context, t *Task) error {
	t.Executable = t.SourceFileName
	return nil
}

func (v *python2Variant) RunCommand(t *Task) []string {
	argv := append([]string{"/usr/bin/python2"}, t.Params.InterpreterArgs...)
	argv = append(argv, t.Executable)
	return append(argv, t.Params.RunArgs...)
}

func (v *python2Variant) VersionProbe() Probe {
	return Probe{Command: []string{"python2", "--version"}, Pattern: pythonVersion}
}
