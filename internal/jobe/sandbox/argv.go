package sandbox

import (
	"strconv"
	"strings"
)

// BuildArgv returns the runguard command line for s, runguard path first.
// Sizes are passed in kB (1000 per MB).
func BuildArgv(runguard string, s RunSpec) []string {
	filesize := 1000 * s.Limits.DiskMB
	argv := []string{
		runguard,
		"--user=" + s.User,
	}
	if s.Group != "" {
		argv = append(argv, "--group="+s.Group)
	}
	argv = append(argv,
		"--time="+strconv.Itoa(s.Limits.CPUTimeSecs*WallFactor),
		"--cputime="+strconv.Itoa(s.Limits.CPUTimeSecs),
		"--filesize="+strconv.Itoa(filesize),
		"--nproc="+strconv.Itoa(s.Limits.NumProcs),
		"--no-core",
		"--streamsize="+strconv.Itoa(filesize),
	)
	if s.Limits.MemoryMB != 0 {
		argv = append(argv, "--memsize="+strconv.Itoa(1000*s.Limits.MemoryMB))
	}
	if s.CPU >= 0 {
		argv = append(argv, "--cpuset="+strconv.Itoa(s.CPU))
	}
	return append(argv, s.Cmd...)
}

// CommandLine renders argv with shell redirections, as recorded in prog.cmd.
func CommandLine(argv []string, s RunSpec) string {
	parts := make([]string, 0, len(argv)+3)
	for _, a := range argv {
		parts = append(parts, quote(a))
	}
	stdin := devNull
	if s.Stdin != "" {
		stdin = StdinFile
	}
	out := s.StdoutName
	if out == "" {
		out = StdoutFile
	}
	errName := s.StderrName
	if errName == "" {
		errName = StderrFile
	}
	parts = append(parts, ">"+out, "2>"+errName, "<"+stdin)
	return strings.Join(parts, " ")
}

func quote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, needsQuote) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("-_./=:,+@%", r)
}
