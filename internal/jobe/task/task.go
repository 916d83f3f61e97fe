// Package task drives one job through prepare, compile, execute and close
// using a language Variant.
package task

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"jobe/internal/jobe/sandbox"
	"jobe/internal/jobe/sandbox/result"
	"jobe/internal/jobe/slot"
	appErr "jobe/pkg/errors"
	"jobe/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	// LegacyJavaFileName is the placeholder older clients send for every job.
	LegacyJavaFileName = "prog.java"

	minCompileCPUTime = 10
	compileStdout     = "prog.compile.out"
	compileStderr     = "prog.compile.err"
	defaultFileMode   = 0o644
	workDirMode       = 0o771
	defaultWorkRoot   = "/home/jobe/runs"
	defaultRunGroup   = "jobe"
)

// State is the lifecycle position of a task.
type State int

const (
	StateCreated State = iota
	StateEnvironmentPrepared
	StateCompiled
	StateCompileFailed
	StateExecuted
	StateClosed
)

var stateNames = [...]string{"Created", "EnvironmentPrepared", "Compiled", "CompileFailed", "Executed", "Closed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// FileSpec names a cached file to copy into the job directory.
type FileSpec struct {
	ID   string
	Name string
	// Mode of 0 means 0644.
	Mode os.FileMode
}

// Job is a validated run request.
type Job struct {
	ID             string
	Language       string
	SourceCode     string
	SourceFileName string
	Input          string
	Overrides      Overrides
	Files          []FileSpec
	Debug          bool
}

// FileSource supplies cached file contents by id.
type FileSource interface {
	Read(ctx context.Context, id string) ([]byte, error)
}

// SlotReleaser hands a slot back to its pool.
type SlotReleaser interface {
	Release(ctx context.Context, s *slot.Slot)
}

// Config controls where and as whom tasks run.
type Config struct {
	WorkRoot string `yaml:"workRoot"`
	Group    string `yaml:"group"`
	// CleanUpPath lists world-writable directories swept of the slot
	// user's files when a task closes.
	CleanUpPath []string `yaml:"cleanUpPath"`
}

func (c *Config) ApplyDefaults() {
	if c.WorkRoot == "" {
		c.WorkRoot = defaultWorkRoot
	}
	if c.Group == "" {
		c.Group = defaultRunGroup
	}
}

// ParseCleanUpPath splits a semicolon-separated directory list.
func ParseCleanUpPath(s string) []string {
	var dirs []string
	for _, d := range strings.Split(s, ";") {
		if d = strings.TrimSpace(d); d != "" {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

// Factory creates tasks bound to shared collaborators.
type Factory struct {
	cfg      Config
	registry *Registry
	engine   sandbox.Engine
	files    FileSource
	slots    SlotReleaser
}

func NewFactory(cfg Config, registry *Registry, engine sandbox.Engine, files FileSource, slots SlotReleaser) *Factory {
	cfg.ApplyDefaults()
	return &Factory{cfg: cfg, registry: registry, engine: engine, files: files, slots: slots}
}

// Registry exposes the factory's language registry.
func (f *Factory) Registry() *Registry {
	return f.registry
}

// New creates a task for job holding slot s.
func (f *Factory) New(job Job, s *slot.Slot) (*Task, error) {
	v, err := f.registry.Lookup(job.Language)
	if err != nil {
		return nil, err
	}
	name := job.SourceFileName
	if name == LegacyJavaFileName {
		name = ""
	}
	return &Task{
		job:            job,
		variant:        v,
		factory:        f,
		slot:           s,
		Params:         ResolveParams(v, job.Overrides),
		SourceFileName: name,
		state:          StateCreated,
	}, nil
}

// Task is one job's working state.
type Task struct {
	job     Job
	variant Variant
	factory *Factory
	slot    *slot.Slot
	state   State

	WorkDir        string
	SourceFileName string
	Params         Params
	// Executable is the file the run command refers to; set by Compile.
	Executable string

	CmpInfo   string
	Stdout    string
	Stderr    string
	Signal    int
	Elapsed   time.Duration
	diagnosis result.Diagnosis
}

func (t *Task) State() State { return t.state }

func (t *Task) Variant() Variant { return t.variant }

// PrepareExecutionEnvironment creates the job directory, writes the source
// and copies in every requested cached file.
func (t *Task) PrepareExecutionEnvironment(ctx context.Context) error {
	if t.state != StateCreated {
		return t.stateError("prepare")
	}
	if err := os.MkdirAll(t.factory.cfg.WorkRoot, 0o755); err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceError, "create work root failed")
	}
	dir, err := os.MkdirTemp(t.factory.cfg.WorkRoot, "jobe_")
	if err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceError, "create job directory failed")
	}
	t.WorkDir = dir
	if err := os.Chmod(dir, workDirMode); err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceError, "chmod job directory failed")
	}
	t.shareWithGroup(ctx, dir)

	if t.SourceFileName == "" {
		name, ok := t.variant.DefaultFileName(t.job.SourceCode)
		if !ok {
			t.CmpInfo += fmt.Sprintf("WARNING: can't determine main class, so source file has been named '%s', which probably won't compile.", name)
		}
		t.SourceFileName = name
	}
	if err := os.WriteFile(t.path(t.SourceFileName), []byte(t.job.SourceCode), defaultFileMode); err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceError, "write source file failed")
	}

	for _, spec := range t.job.Files {
		data, err := t.factory.files.Read(ctx, spec.ID)
		if err != nil {
			return err
		}
		mode := spec.Mode
		if mode == 0 {
			mode = defaultFileMode
		}
		dest := t.path(spec.Name)
		if err := os.WriteFile(dest, data, mode); err != nil {
			return appErr.Wrapf(err, appErr.WorkspaceError, "write file %s failed", spec.Name)
		}
		// WriteFile's mode is filtered by umask.
		if err := os.Chmod(dest, mode); err != nil {
			return appErr.Wrapf(err, appErr.WorkspaceError, "chmod file %s failed", spec.Name)
		}
	}
	t.state = StateEnvironmentPrepared
	return nil
}

// Compile runs the variant's compile step. A non-empty CmpInfo afterwards
// means the task must not be executed.
func (t *Task) Compile(ctx context.Context) error {
	if t.state != StateEnvironmentPrepared {
		return t.stateError("compile")
	}
	if err := t.variant.Compile(ctx, t); err != nil {
		return err
	}
	if t.CmpInfo != "" {
		t.state = StateCompileFailed
	} else {
		t.state = StateCompiled
	}
	return nil
}

// Execute runs the compiled program and classifies the outcome.
func (t *Task) Execute(ctx context.Context) error {
	if t.state != StateCompiled {
		return t.stateError("execute")
	}
	res, err := t.factory.engine.Run(ctx, sandbox.RunSpec{
		JobID:         t.job.ID,
		WorkDir:       t.WorkDir,
		User:          t.slot.User,
		Group:         t.factory.cfg.Group,
		CPU:           t.slot.CPU,
		Limits:        t.runLimits(),
		Cmd:           t.variant.RunCommand(t),
		Stdin:         t.job.Input,
		RecordCommand: true,
	})
	if err != nil {
		return appErr.Wrapf(err, appErr.SandboxError, "run program failed")
	}
	t.Stdout = res.Stdout
	t.Stderr = res.Stderr
	t.Elapsed = res.Elapsed

	t.diagnosis = result.Classify(result.Evidence{
		CmpInfo:        t.CmpInfo,
		Stderr:         t.Stderr,
		FilteredStderr: t.variant.FilterStderr(t.Stderr),
	})
	t.Signal = t.diagnosis.Signal
	if d, ok := t.variant.(memoryLimitDetector); ok && t.diagnosis.Outcome == result.RuntimeError &&
		d.MemoryLimitExceeded(t.Stdout, t.Stderr) {
		t.diagnosis.Outcome = result.MemoryLimitExceeded
	}
	t.state = StateExecuted
	return nil
}

// Result reports the task's outcome with all text sanitized.
func (t *Task) Result() result.Result {
	r := result.Result{RunID: t.job.ID, CmpInfo: t.CmpInfo}
	switch {
	case t.CmpInfo != "":
		r.Outcome = result.CompilationError
	case t.state == StateExecuted:
		r.Outcome = t.diagnosis.Outcome
		r.Stdout = t.variant.FilterStdout(t.Stdout)
		r.Stderr = t.diagnosis.Stderr
	default:
		r.Outcome = result.InternalError
	}
	return r.Sanitized()
}

// Close releases the slot and, when deleteFiles is set, removes the job
// directory. It is safe to call more than once.
func (t *Task) Close(ctx context.Context, deleteFiles bool) {
	if t.state == StateClosed {
		return
	}
	if deleteFiles && t.WorkDir != "" {
		if err := os.RemoveAll(t.WorkDir); err != nil {
			logger.Warn(ctx, "remove job directory failed", zap.String("dir", t.WorkDir), zap.Error(err))
		}
	}
	if t.slot != nil {
		if n, err := sweepUserFiles(t.factory.cfg.CleanUpPath, t.slot.User); err != nil {
			logger.Warn(ctx, "clean up user files failed", zap.String("user", t.slot.User), zap.Error(err))
		} else if n > 0 {
			logger.Debug(ctx, "removed stray user files", zap.String("user", t.slot.User), zap.Int("count", n))
		}
		if t.factory.slots != nil {
			t.factory.slots.Release(ctx, t.slot)
		}
	}
	t.state = StateClosed
}

// runCompiler runs argv in the sandbox with the compile budget and returns
// its stdout and stderr.
func (t *Task) runCompiler(ctx context.Context, argv []string) (string, string, error) {
	res, err := t.factory.engine.Run(ctx, sandbox.RunSpec{
		JobID:      t.job.ID,
		WorkDir:    t.WorkDir,
		User:       t.slot.User,
		Group:      t.factory.cfg.Group,
		CPU:        t.slot.CPU,
		Limits:     t.compileLimits(),
		Cmd:        argv,
		StdoutName: compileStdout,
		StderrName: compileStderr,
	})
	if err != nil {
		return "", "", appErr.Wrapf(err, appErr.SandboxError, "run compiler failed")
	}
	return res.Stdout, res.Stderr, nil
}

func (t *Task) runLimits() sandbox.Limits {
	return sandbox.Limits{
		CPUTimeSecs: t.Params.CPUTime,
		MemoryMB:    t.Params.MemoryLimit,
		DiskMB:      t.Params.DiskLimit,
		NumProcs:    t.Params.NumProcs,
	}
}

func (t *Task) compileLimits() sandbox.Limits {
	l := t.runLimits()
	if l.CPUTimeSecs < minCompileCPUTime {
		l.CPUTimeSecs = minCompileCPUTime
	}
	return l
}

func (t *Task) path(name string) string {
	return filepath.Join(t.WorkDir, name)
}

func (t *Task) fileExists(name string) bool {
	info, err := os.Stat(t.path(name))
	return err == nil && info.Mode().IsRegular()
}

func (t *Task) copyFile(src, dst string) error {
	data, err := os.ReadFile(t.path(src))
	if err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceError, "read %s failed", src)
	}
	if err := os.WriteFile(t.path(dst), data, defaultFileMode); err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceError, "write %s failed", dst)
	}
	return nil
}

func (t *Task) removeFile(name string) {
	if err := os.Remove(t.path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn(context.Background(), "remove file failed", zap.String("file", name), zap.Error(err))
	}
}

func (t *Task) shareWithGroup(ctx context.Context, dir string) {
	grp, err := user.LookupGroup(t.factory.cfg.Group)
	if err != nil {
		logger.Debug(ctx, "run group not found", zap.String("group", t.factory.cfg.Group), zap.Error(err))
		return
	}
	gid, err := strconv.Atoi(grp.Gid)
	if err != nil {
		return
	}
	if err := os.Chown(dir, -1, gid); err != nil {
		logger.Debug(ctx, "chown job directory failed", zap.String("dir", dir), zap.Error(err))
	}
}

func (t *Task) stateError(op string) error {
	return appErr.Newf(appErr.InternalServerError, "cannot %s task in state %s", op, t.state)
}
