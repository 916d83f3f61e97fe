package task

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"
)

const matlabExec = "/usr/local/bin/matlab_exec_cli"

// ensureMFile gives the source an .m name, copying it when needed.
func ensureMFile(t *Task) error {
	t.Executable = t.SourceFileName
	if strings.HasSuffix(t.Executable, ".m") {
		return nil
	}
	t.Executable += ".m"
	return t.copyFile(t.SourceFileName, t.Executable)
}

type octaveVariant struct {
	baseVariant
}

func newOctaveVariant() *octaveVariant { return &octaveVariant{} }

func (v *octaveVariant) ID() string { return "octave" }

func (v *octaveVariant) DefaultFileName(string) (string, bool) { return "prog.m", true }

func (v *octaveVariant) Defaults(p *Params) {
	p.InterpreterArgs = []string{"--norc", "--no-window-system", "--silent", "-H"}
}

func (v *octaveVariant) Compile(_ context.Context, t *Task) error {
	return ensureMFile(t)
}

func (v *octaveVariant) RunCommand(t *Task) []string {
	argv := append([]string{"/usr/bin/octave"}, t.Params.InterpreterArgs...)
	argv = append(argv, t.Executable)
	return append(argv, t.Params.RunArgs...)
}

// FilterStderr drops carriage returns, trailing blank lines and the
// trailing noise octave prints after an error.
func (v *octaveVariant) FilterStderr(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r", ""), "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if n := len(lines); n > 0 && strings.HasPrefix(lines[n-1], "error: ignoring octave_execution_exception") {
		lines = lines[:n-1]
	}
	if n := len(lines); n > 0 && lines[n-1] == "error: No such file or directory" {
		lines = lines[:n-1]
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

func (v *octaveVariant) VersionProbe() Probe {
	return Probe{
		Command: []string{"octave", "--version", "--norc", "--no-window-system", "--silent"},
		Pattern: regexp.MustCompile(`GNU Octave, version ([0-9._]*)`),
	}
}

type matlabVariant struct {
	baseVariant
}

func newMatlabVariant() *matlabVariant { return &matlabVariant{} }

func (v *matlabVariant) ID() string { return "matlab" }

func (v *matlabVariant) DefaultFileName(string) (string, bool) { return "prog.m", true }

// Defaults disables the memory ceiling; matlab will not start under one.
func (v *matlabVariant) Defaults(p *Params) {
	p.MemoryLimit = 0
}

func (v *matlabVariant) Compile(_ context.Context, t *Task) error {
	return ensureMFile(t)
}

func (v *matlabVariant) RunCommand(t *Task) []string {
	script := strings.TrimSuffix(filepath.Base(t.Executable), ".m")
	return []string{matlabExec, "-nojvm", "-r", script}
}

// FilterStdout strips the startup banner and surrounding blank lines.
func (v *matlabVariant) FilterStdout(s string) string {
	var out []string
	headerEnded := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, " \t\r\n\v\x00")
		if headerEnded {
			out = append(out, line)
		}
		if strings.Contains(line, "For product information, visit www.mathworks.com.") {
			headerEnded = true
		}
	}
	for len(out) > 0 && out[0] == "" {
		out = out[1:]
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	if len(out) == 0 {
		return ""
	}
	return strings.Join(out, "\n") + "\n"
}

// FilterStderr drops bells and applies backspaces.
func (v *matlabVariant) FilterStderr(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\a':
		case '\b':
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

func (v *matlabVariant) VersionProbe() Probe {
	return Probe{
		Command: []string{matlabExec, "-version"},
		Pattern: regexp.MustCompile(`MATLAB version ([0-9._]*)`),
	}
}
