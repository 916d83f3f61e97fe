package task

import (
	"context"
	"regexp"
)

// vhdlTopEntity is the entity ghdl elaborates; submissions must name their
// test bench this way.
const vhdlTopEntity = "test_bench"

type vhdlVariant struct {
	baseVariant
}

func newVHDLVariant() *vhdlVariant { return &vhdlVariant{} }

func (v *vhdlVariant) ID() string { return "vhdl" }

func (v *vhdlVariant) DefaultFileName(string) (string, bool) { return "prog.vhd", true }

func (v *vhdlVariant) Defaults(p *Params) {
	// -C and --mb-comments accept UTF-8 in comments
	p.CompileArgs = []string{"--ieee=standard", "--mb-comments", "-C", "-fno-caret-diagnostics"}
}

// Compile analyses and elaborates the source in one ghdl-gcc call.
func (v *vhdlVariant) Compile(ctx context.Context, t *Task) error {
	exe := t.SourceFileName + ".exe"
	t.removeFile(exe)

	argv := append([]string{"ghdl-gcc", "-c"}, t.Params.CompileArgs...)
	argv = append(argv, "-o", exe, t.SourceFileName, "-e", vhdlTopEntity)
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

func (v *vhdlVariant) RunCommand(t *Task) []string {
	return append([]string{"./" + t.Executable}, t.Params.RunArgs...)
}

func (v *vhdlVariant) VersionProbe() Probe {
	return Probe{Command: []string{"ghdl-gcc", "--version"}, Pattern: regexp.MustCompile(`GHDL ([0-9.]*)`)}
}
