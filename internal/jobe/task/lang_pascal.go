package task

import (
	"context"
	"os"
	"regexp"
)

type pascalVariant struct {
	baseVariant
}

func newPascalVariant() *pascalVariant { return &pascalVariant{} }

func (v *pascalVariant) ID() string { return "pascal" }

func (v *pascalVariant) DefaultFileName(string) (string, bool) { return "prog.pas", true }

func (v *pascalVariant) Defaults(p *Params) {
	// verbose errors and warnings, stop at the first error
	p.CompileArgs = []string{"-vew", "-Se"}
}

// Compile runs fpc. Its diagnostics go to an error file, which becomes the
// compile output only when no executable was built.
func (v *pascalVariant) Compile(ctx context.Context, t *Task) error {
	errFile := t.SourceFileName + ".err"
	exe := t.SourceFileName + ".exe"
	t.removeFile(exe)

	argv := append([]string{"fpc"}, t.Params.CompileArgs...)
	argv = append(argv, "-Fe"+errFile, "-o"+exe, t.SourceFileName)
	if _, _, err := t.runCompiler(ctx, argv); err != nil {
		return err
	}
	if t.fileExists(exe) {
		t.Executable = exe
		return nil
	}
	diag, err := os.ReadFile(t.path(errFile))
	if err != nil || len(diag) == 0 {
		t.CmpInfo += noExecutableMessage
		return nil
	}
	t.CmpInfo += string(diag)
	return nil
}

func (v *pascalVariant) RunCommand(t *Task) []string {
	return append([]string{"./" + t.Executable}, t.Params.RunArgs...)
}

func (v *pascalVariant) VersionProbe() Probe {
	return Probe{Command: []string{"fpc", "-iV"}, Pattern: regexp.MustCompile(`([0-9._]*)`)}
}
