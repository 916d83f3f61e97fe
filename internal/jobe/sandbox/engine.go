package sandbox

import (
	"context"
	"time"
)

const (
	defaultRunguardPath  = "/var/www/html/jobe/runguard/runguard"
	defaultOutputMaxSize = 8 * 1024 * 1024
	defaultWallGrace     = 5 * time.Second
)

// Config controls the runguard engine.
type Config struct {
	RunguardPath string `yaml:"runguardPath"`
	// OutputMaxBytes caps how much of prog.out / prog.err is read back.
	OutputMaxBytes int64 `yaml:"outputMaxBytes"`
	// WallGrace is added to runguard's own wall limit before the process
	// group is killed from here.
	WallGrace time.Duration `yaml:"wallGrace"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.RunguardPath == "" {
		c.RunguardPath = defaultRunguardPath
	}
	if c.OutputMaxBytes <= 0 {
		c.OutputMaxBytes = defaultOutputMaxSize
	}
	if c.WallGrace <= 0 {
		c.WallGrace = defaultWallGrace
	}
}

// RunResult is the raw evidence of one invocation.
type RunResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Elapsed  time.Duration
	// Killed is set when the wall guard had to kill the process group.
	Killed bool
}

// Engine executes a RunSpec through the sandbox.
type Engine interface {
	Run(ctx context.Context, s RunSpec) (RunResult, error)
}
