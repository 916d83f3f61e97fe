package task

import (
	"context"
	"regexp"
)

const noExecutableMessage = "Compilation failed: no executable was produced"

// cFamilyVariant covers gcc-driven languages that build a native executable.
type cFamilyVariant struct {
	baseVariant
	id          string
	compiler    string
	sourceName  string
	compileArgs []string
	probe       Probe
}

func newCVariant() *cFamilyVariant {
	return &cFamilyVariant{
		id:          "c",
		compiler:    "gcc",
		sourceName:  "prog.c",
		compileArgs: []string{"-Wall", "-std=c99", "-x", "c"},
		probe: Probe{
			Command: []string{"gcc", "--version"},
			Pattern: regexp.MustCompile(`gcc \(.*\) ([0-9.]*)`),
		},
	}
}

func newCppVariant() *cFamilyVariant {
	return &cFamilyVariant{
		id:          "cpp",
		compiler:    "g++",
		sourceName:  "prog.cpp",
		compileArgs: []string{"-Wall", "-x", "c++"},
		probe: Probe{
			Command: []string{"g++", "--version"},
			Pattern: regexp.MustCompile(`g\+\+ \(.*\) ([0-9.]*)`),
		},
	}
}

func (v *cFamilyVariant) ID() string { return v.id }

func (v *cFamilyVariant) DefaultFileName(string) (string, bool) { return v.sourceName, true }

func (v *cFamilyVariant) Defaults(p *Params) {
	p.CompileArgs = append([]string(nil), v.compileArgs...)
	p.LinkArgs = []string{"-lm"}
}

func (v *cFamilyVariant) Compile(ctx context.Context, t *Task) error {
	exe := t.SourceFileName + ".exe"
	// A stale executable would hide a failed build.
	t.removeFile(exe)

	argv := []string{v.compiler}
	argv = append(argv, t.Params.CompileArgs...)
	argv = append(argv, "-o", exe, t.SourceFileName)
	argv = append(argv, t.Params.LinkArgs...)
	_, stderr, err := t.runCompiler(ctx, argv)
	if err != nil {
		return err
	}
	t.CmpInfo += stderr
	if !t.fileExists(exe) {
		if t.CmpInfo == "" {
			t.CmpInfo = noExecutableMessage
		}
		return nil
	}
	t.Executable = exe
	return nil
}

func (v *cFamilyVariant) RunCommand(t *Task) []string {
	return append([]string{"./" + t.Executable}, t.Params.RunArgs...)
}

func (v *cFamilyVariant) VersionProbe() Probe { return v.probe }
