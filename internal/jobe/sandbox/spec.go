// Package sandbox invokes the external runguard executable with per-job limits.
package sandbox

import (
	"fmt"
	"path/filepath"
	"time"
)

const (
	StdinFile  = "prog.in"
	StdoutFile = "prog.out"
	StderrFile = "prog.err"
	CmdFile    = "prog.cmd"

	devNull = "/dev/null"

	// WallFactor scales the cpu-time limit into runguard's wall-clock limit.
	WallFactor = 3
)

// Limits are the resource ceilings applied to one sandboxed command.
type Limits struct {
	CPUTimeSecs int
	// MemoryMB of 0 disables the memory ceiling.
	MemoryMB int
	DiskMB   int
	NumProcs int
}

// WallTime is the wall-clock ceiling handed to runguard.
func (l Limits) WallTime() time.Duration {
	return time.Duration(l.CPUTimeSecs*WallFactor) * time.Second
}

// RunSpec describes one runguard invocation inside a job directory.
type RunSpec struct {
	JobID   string
	WorkDir string
	User    string
	Group   string
	// CPU is the pinned core, or -1.
	CPU    int
	Limits Limits
	Cmd    []string
	// Stdin is written to prog.in when non-empty; otherwise /dev/null is used.
	Stdin string
	// StdoutName and StderrName default to prog.out and prog.err.
	StdoutName string
	StderrName string
	// RecordCommand writes the full command line to prog.cmd.
	RecordCommand bool
}

func (s RunSpec) stdoutPath() string {
	name := s.StdoutName
	if name == "" {
		name = StdoutFile
	}
	return filepath.Join(s.WorkDir, name)
}

func (s RunSpec) stderrPath() string {
	name := s.StderrName
	if name == "" {
		name = StderrFile
	}
	return filepath.Join(s.WorkDir, name)
}

func (s RunSpec) stdinPath() string {
	if s.Stdin == "" {
		return devNull
	}
	return filepath.Join(s.WorkDir, StdinFile)
}

// Validate checks the fields every invocation needs.
func (s RunSpec) Validate() error {
	if s.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}
	if s.User == "" {
		return fmt.Errorf("run user is required")
	}
	if len(s.Cmd) == 0 {
		return fmt.Errorf("command is required")
	}
	if s.Limits.CPUTimeSecs <= 0 {
		return fmt.Errorf("cputime must be positive")
	}
	return nil
}
