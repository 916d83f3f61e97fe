package task

import (
	"context"
	"regexp"
	"strings"
)

type nodejsVariant struct {
	baseVariant
}

func newNodejsVariant() *nodejsVariant { return &nodejsVariant{} }

func (v *nodejsVariant) ID() string { return "nodejs" }

func (v *nodejsVariant) DefaultFileName(string) (string, bool) { return "prog.js", true }

func (v *nodejsVariant) Defaults(p *Params) {
	p.InterpreterArgs = []string{"--use_strict"}
}

// Compile makes sure node sees a .js file.
func (v *nodejsVariant) Compile(_ context.Context, t *Task) error {
	t.Executable = t.SourceFileName
	if !strings.HasSuffix(t.Executable, ".js") {
		t.Executable += ".js"
		return t.copyFile(t.SourceFileName, t.Executable)
	}
	return nil
}

func (v *nodejsVariant) RunCommand(t *Task) []string {
	argv := append([]string{"/usr/bin/nodejs"}, t.Params.InterpreterArgs...)
	argv = append(argv, t.Executable)
	return append(argv, t.Params.RunArgs...)
}

func (v *nodejsVariant) VersionProbe() Probe {
	return Probe{Command: []string{"nodejs", "--version"}, Pattern: regexp.MustCompile(`v([0-9._]*)`)}
}

type phpVariant struct {
	baseVariant
}

func newPHPVariant() *phpVariant { return &phpVariant{} }

func (v *phpVariant) ID() string { return "php" }

func (v *phpVariant) DefaultFileName(string) (string, bool) { return "prog.php", true }

func (v *phpVariant) Defaults(p *Params) {
	p.MemoryLimit = 400
	p.InterpreterArgs = []string{"--no-php-ini"}
}

// Compile runs php's lint mode.
func (v *phpVariant) Compile(ctx context.Context, t *Task) error {
	stdout, stderr, err := t.runCompiler(ctx, []string{"/usr/bin/php", "-l", t.SourceFileName})
	if err != nil {
		return err
	}
	if stderr == "" {
		t.Executable = t.SourceFileName
		return nil
	}
	if stdout != "" {
		stderr = stdout + "\n" + stderr
	}
	t.CmpInfo += stderr
	return nil
}

func (v *phpVariant) RunCommand(t *Task) []string {
	argv := append([]string{"/usr/bin/php"}, t.Params.InterpreterArgs...)
	argv = append(argv, t.Executable)
	return append(argv, t.Params.RunArgs...)
}

func (v *phpVariant) VersionProbe() Probe {
	return Probe{Command: []string{"php", "--version"}, Pattern: regexp.MustCompile(`PHP ([0-9._]*)`)}
}
