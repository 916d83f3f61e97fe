//go:build linux

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"jobe/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

type runguardEngine struct {
	cfg Config
}

// NewEngine creates the runguard engine.
func NewEngine(cfg Config) (Engine, error) {
	cfg.ApplyDefaults()
	return &runguardEngine{cfg: cfg}, nil
}

func (e *runguardEngine) Run(ctx context.Context, s RunSpec) (RunResult, error) {
	if err := s.Validate(); err != nil {
		return RunResult{}, err
	}
	argv := BuildArgv(e.cfg.RunguardPath, s)
	if s.RecordCommand {
		if err := os.WriteFile(filepath.Join(s.WorkDir, CmdFile), []byte(CommandLine(argv, s)), 0o644); err != nil {
			return RunResult{}, fmt.Errorf("write %s: %w", CmdFile, err)
		}
	}
	if s.Stdin != "" {
		if err := os.WriteFile(s.stdinPath(), []byte(s.Stdin), 0o644); err != nil {
			return RunResult{}, fmt.Errorf("write stdin: %w", err)
		}
	}

	stdin, err := os.Open(s.stdinPath())
	if err != nil {
		return RunResult{}, fmt.Errorf("open stdin: %w", err)
	}
	defer stdin.Close()
	stdout, err := os.Create(s.stdoutPath())
	if err != nil {
		return RunResult{}, fmt.Errorf("create stdout: %w", err)
	}
	defer stdout.Close()
	stderr, err := os.Create(s.stderrPath())
	if err != nil {
		return RunResult{}, fmt.Errorf("create stderr: %w", err)
	}
	defer stderr.Close()

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = s.WorkDir
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return RunResult{}, fmt.Errorf("start runguard: %w", err)
	}

	// Once started, the job only ends through runguard's limits or the wall
	// guard; request cancellation does not reach the process group.
	var killed atomic.Bool
	done := make(chan struct{})
	go func() {
		guard := time.NewTimer(s.Limits.WallTime() + e.cfg.WallGrace)
		defer guard.Stop()
		select {
		case <-guard.C:
			killed.Store(true)
			logger.Warn(ctx, "wall guard fired, killing runguard", zap.Int("pid", cmd.Process.Pid))
			killProcessGroup(cmd.Process.Pid)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)

	res := RunResult{
		ExitCode: exitCodeFromErr(waitErr, cmd.ProcessState),
		Stdout:   readLimitedFile(s.stdoutPath(), e.cfg.OutputMaxBytes),
		Stderr:   readLimitedFile(s.stderrPath(), e.cfg.OutputMaxBytes),
		Elapsed:  time.Since(start),
		Killed:   killed.Load(),
	}
	if res.Killed && res.ExitCode == 0 {
		res.ExitCode = -1
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return res, fmt.Errorf("wait runguard: %w", waitErr)
		}
	}
	return res, nil
}

func exitCodeFromErr(err error, state *os.ProcessState) int {
	if state != nil {
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func killProcessGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = unix.Kill(-pid, unix.SIGKILL)
}

func readLimitedFile(path string, limit int64) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return ""
	}
	return string(data)
}
