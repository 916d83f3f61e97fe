package task

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"jobe/internal/jobe/sandbox"
	"jobe/internal/jobe/sandbox/result"
	"jobe/internal/jobe/slot"
	appErr "jobe/pkg/errors"
)

type fakeEngine struct {
	mu     sync.Mutex
	specs  []sandbox.RunSpec
	handle func(s sandbox.RunSpec) sandbox.RunResult
}

func (e *fakeEngine) Run(_ context.Context, s sandbox.RunSpec) (sandbox.RunResult, error) {
	e.mu.Lock()
	e.specs = append(e.specs, s)
	e.mu.Unlock()
	if e.handle == nil {
		return sandbox.RunResult{}, nil
	}
	return e.handle(s), nil
}

func (e *fakeEngine) calls() []sandbox.RunSpec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]sandbox.RunSpec(nil), e.specs...)
}

type fakeFiles map[string][]byte

func (f fakeFiles) Read(_ context.Context, id string) ([]byte, error) {
	data, ok := f[id]
	if !ok {
		return nil, appErr.New(appErr.FileNotFound).WithDetail("file_id", id)
	}
	return data, nil
}

func isCompile(s sandbox.RunSpec) bool { return s.StdoutName == compileStdout }

// gccLike builds the executable named after -o unless the source contains
// "syntax error".
func gccLike(s sandbox.RunSpec) sandbox.RunResult {
	src := s.Cmd[len(s.Cmd)-2]
	data, _ := os.ReadFile(filepath.Join(s.WorkDir, src))
	if strings.Contains(string(data), "syntax error") {
		return sandbox.RunResult{ExitCode: 1, Stderr: src + ":1:1: error: expected ';'\n"}
	}
	for i, a := range s.Cmd {
		if a == "-o" {
			_ = os.WriteFile(filepath.Join(s.WorkDir, s.Cmd[i+1]), []byte("ELF"), 0o755)
		}
	}
	return sandbox.RunResult{}
}

type harness struct {
	factory *Factory
	engine  *fakeEngine
	pool    *slot.MemoryPool
	root    string
}

func newHarness(t *testing.T, files fakeFiles, handle func(sandbox.RunSpec) sandbox.RunResult) *harness {
	t.Helper()
	root := t.TempDir()
	eng := &fakeEngine{handle: handle}
	pool := slot.NewMemoryPool(slot.Config{MaxSlots: 2})
	f := NewFactory(Config{WorkRoot: root}, NewRegistry(VariantConfig{}), eng, files, pool)
	return &harness{factory: f, engine: eng, pool: pool, root: root}
}

func (h *harness) newTask(t *testing.T, job Job) *Task {
	t.Helper()
	s, err := h.pool.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("acquire slot: %v", err)
	}
	if job.ID == "" {
		job.ID = "run-1"
	}
	tk, err := h.factory.New(job, s)
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	return tk
}

func runAll(t *testing.T, tk *Task) result.Result {
	t.Helper()
	ctx := context.Background()
	if err := tk.PrepareExecutionEnvironment(ctx); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := tk.Compile(ctx); err != nil {
		t.Fatalf("compile: %v", err)
	}
	if tk.CmpInfo == "" {
		if err := tk.Execute(ctx); err != nil {
			t.Fatalf("execute: %v", err)
		}
	}
	return tk.Result()
}

func TestTaskCSuccess(t *testing.T) {
	h := newHarness(t, nil, func(s sandbox.RunSpec) sandbox.RunResult {
		if isCompile(s) {
			return gccLike(s)
		}
		return sandbox.RunResult{Stdout: "Hello " + s.Stdin}
	})
	tk := h.newTask(t, Job{Language: "c", SourceCode: "int main(){}", Input: "world"})
	res := runAll(t, tk)

	if res.Outcome != result.Success || res.Stdout != "Hello world" || res.CmpInfo != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if tk.SourceFileName != "prog.c" || tk.Executable != "prog.c.exe" {
		t.Fatalf("unexpected names: %s %s", tk.SourceFileName, tk.Executable)
	}
	calls := h.engine.calls()
	if len(calls) != 2 {
		t.Fatalf("expected compile and run, got %d calls", len(calls))
	}
	if calls[0].Limits.CPUTimeSecs != minCompileCPUTime {
		t.Fatalf("compile budget = %d", calls[0].Limits.CPUTimeSecs)
	}
	run := calls[1]
	if run.Cmd[0] != "./prog.c.exe" || !run.RecordCommand || run.User != "jobe00" || run.Group != defaultRunGroup {
		t.Fatalf("unexpected run spec: %+v", run)
	}
	if run.Limits != (sandbox.Limits{CPUTimeSecs: 5, MemoryMB: 200, DiskMB: 100, NumProcs: 20}) {
		t.Fatalf("unexpected run limits: %+v", run.Limits)
	}

	dir := tk.WorkDir
	tk.Close(context.Background(), true)
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("workdir not removed")
	}
	if h.pool.Busy() != 0 {
		t.Fatalf("slot not released")
	}
	tk.Close(context.Background(), true)
	if tk.State() != StateClosed {
		t.Fatalf("state = %s", tk.State())
	}
}

func TestTaskCCompileFailureSkipsExecute(t *testing.T) {
	h := newHarness(t, nil, func(s sandbox.RunSpec) sandbox.RunResult {
		if isCompile(s) {
			return gccLike(s)
		}
		t.Errorf("execute must not run after a failed compile")
		return sandbox.RunResult{}
	})
	tk := h.newTask(t, Job{Language: "c", SourceCode: "syntax error"})
	res := runAll(t, tk)
	defer tk.Close(context.Background(), true)

	if res.Outcome != result.CompilationError || !strings.Contains(res.CmpInfo, "expected ';'") {
		t.Fatalf("unexpected result: %+v", res)
	}
	if tk.State() != StateCompileFailed {
		t.Fatalf("state = %s", tk.State())
	}
	if err := tk.Execute(context.Background()); appErr.GetCode(err) != appErr.InternalServerError {
		t.Fatalf("execute after failed compile should be refused, got %v", err)
	}
}

func TestTaskCNoExecutableIsCompileError(t *testing.T) {
	h := newHarness(t, nil, func(s sandbox.RunSpec) sandbox.RunResult { return sandbox.RunResult{} })
	tk := h.newTask(t, Job{Language: "cpp", SourceCode: "int main(){}"})
	res := runAll(t, tk)
	defer tk.Close(context.Background(), true)
	if res.Outcome != result.CompilationError || res.CmpInfo != noExecutableMessage {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestTaskDebugKeepsWorkDir(t *testing.T) {
	h := newHarness(t, nil, func(s sandbox.RunSpec) sandbox.RunResult { return sandbox.RunResult{} })
	tk := h.newTask(t, Job{Language: "python3", SourceCode: "print(1)", Debug: true})
	runAll(t, tk)
	tk.Close(context.Background(), false)
	if _, err := os.Stat(filepath.Join(tk.WorkDir, "prog.py")); err != nil {
		t.Fatalf("debug run should keep its files: %v", err)
	}
	if h.pool.Busy() != 0 {
		t.Fatalf("slot not released")
	}
}

func TestTaskLoadsCachedFiles(t *testing.T) {
	files := fakeFiles{"abcdef0123": []byte("data\n")}
	h := newHarness(t, files, nil)
	tk := h.newTask(t, Job{
		Language:   "python3",
		SourceCode: "print(open('in.txt').read())",
		Files: []FileSpec{
			{ID: "abcdef0123", Name: "in.txt"},
			{ID: "abcdef0123", Name: "run.sh", Mode: 0o755},
		},
	})
	defer tk.Close(context.Background(), true)
	if err := tk.PrepareExecutionEnvironment(context.Background()); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(tk.WorkDir, "in.txt"))
	if err != nil || string(data) != "data\n" {
		t.Fatalf("in.txt = %q, %v", data, err)
	}
	info, err := os.Stat(filepath.Join(tk.WorkDir, "run.sh"))
	if err != nil || info.Mode().Perm() != 0o755 {
		t.Fatalf("run.sh mode = %v, %v", info.Mode().Perm(), err)
	}
}

func TestTaskMissingFileIsNotFound(t *testing.T) {
	h := newHarness(t, fakeFiles{}, nil)
	tk := h.newTask(t, Job{
		Language:   "c",
		SourceCode: "int main(){}",
		Files:      []FileSpec{{ID: "missing0001", Name: "x"}},
	})
	defer tk.Close(context.Background(), true)
	err := tk.PrepareExecutionEnvironment(context.Background())
	if appErr.GetCode(err) != appErr.FileNotFound {
		t.Fatalf("expected FileNotFound, got %v", err)
	}
	if appErr.FileNotFound.HTTPStatus() != 404 {
		t.Fatalf("missing file should map to 404")
	}
}

func TestTaskJavaWithoutMainClass(t *testing.T) {
	h := newHarness(t, nil, func(s sandbox.RunSpec) sandbox.RunResult {
		if isCompile(s) {
			return sandbox.RunResult{}
		}
		t.Errorf("execute must not run")
		return sandbox.RunResult{}
	})
	tk := h.newTask(t, Job{Language: "java", SourceCode: "class X {}", SourceFileName: LegacyJavaFileName})
	res := runAll(t, tk)
	defer tk.Close(context.Background(), true)
	if tk.SourceFileName != LegacyJavaFileName {
		t.Fatalf("source name = %s", tk.SourceFileName)
	}
	if res.Outcome != result.CompilationError || !strings.Contains(res.CmpInfo, "can't determine main class") {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestTaskJavaRunAndMemoryLimit(t *testing.T) {
	h := newHarness(t, nil, func(s sandbox.RunSpec) sandbox.RunResult {
		if isCompile(s) {
			return sandbox.RunResult{}
		}
		return sandbox.RunResult{Stderr: "Exception in thread \"main\" java.lang.OutOfMemoryError: Java heap space\n\tat Big.main(Big.java:4)\n"}
	})
	src := "public class Big {\n public static void main(String[] a) { }\n}"
	tk := h.newTask(t, Job{Language: "java", SourceCode: src})
	res := runAll(t, tk)
	defer tk.Close(context.Background(), true)

	if tk.SourceFileName != "Big.java" {
		t.Fatalf("source name = %s", tk.SourceFileName)
	}
	calls := h.engine.calls()
	run := calls[len(calls)-1]
	if run.Limits.MemoryMB != 0 || run.Limits.NumProcs != 256 {
		t.Fatalf("java limits = %+v", run.Limits)
	}
	if got := run.Cmd[len(run.Cmd)-1]; got != "Big" {
		t.Fatalf("main class = %s", got)
	}
	if res.Outcome != result.MemoryLimitExceeded {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if !strings.Contains(res.Stderr, "\n        at Big.main") {
		t.Fatalf("stderr not filtered: %q", res.Stderr)
	}
}

func TestTaskTimeLimit(t *testing.T) {
	h := newHarness(t, nil, func(s sandbox.RunSpec) sandbox.RunResult {
		if isCompile(s) {
			return sandbox.RunResult{}
		}
		return sandbox.RunResult{Stdout: "partial", Stderr: "warning: timelimit exceeded (CPU time): aborting command\n"}
	})
	tk := h.newTask(t, Job{Language: "python3", SourceCode: "while True: pass"})
	res := runAll(t, tk)
	defer tk.Close(context.Background(), true)
	if res.Outcome != result.TimeLimitExceeded || res.Stderr != "" || tk.Signal != 9 {
		t.Fatalf("unexpected result: %+v signal %d", res, tk.Signal)
	}
}

func TestTaskNodejsCopiesSource(t *testing.T) {
	h := newHarness(t, nil, nil)
	tk := h.newTask(t, Job{Language: "nodejs", SourceCode: "console.log(1)", SourceFileName: "main"})
	runAll(t, tk)
	defer tk.Close(context.Background(), true)
	if tk.Executable != "main.js" {
		t.Fatalf("executable = %s", tk.Executable)
	}
	if _, err := os.Stat(filepath.Join(tk.WorkDir, "main.js")); err != nil {
		t.Fatalf("main.js missing: %v", err)
	}
	calls := h.engine.calls()
	if len(calls) != 1 {
		t.Fatalf("nodejs has no sandboxed compile step, got %d calls", len(calls))
	}
	want := []string{"/usr/bin/nodejs", "--use_strict", "main.js"}
	if strings.Join(calls[0].Cmd, " ") != strings.Join(want, " ") {
		t.Fatalf("run cmd = %q", calls[0].Cmd)
	}
}

func TestTaskStateOrder(t *testing.T) {
	h := newHarness(t, nil, nil)
	tk := h.newTask(t, Job{Language: "c", SourceCode: "x"})
	defer tk.Close(context.Background(), true)
	if err := tk.Compile(context.Background()); err == nil {
		t.Fatalf("compile before prepare should fail")
	}
	if res := tk.Result(); res.Outcome != result.InternalError {
		t.Fatalf("unfinished task outcome = %s", res.Outcome)
	}
}

func TestTaskVHDLElaboratesTestBench(t *testing.T) {
	h := newHarness(t, nil, func(s sandbox.RunSpec) sandbox.RunResult {
		if !isCompile(s) {
			return sandbox.RunResult{Stdout: "simulation finished\n"}
		}
		for i, a := range s.Cmd {
			if a == "-o" {
				_ = os.WriteFile(filepath.Join(s.WorkDir, s.Cmd[i+1]), []byte("ELF"), 0o755)
			}
		}
		return sandbox.RunResult{}
	})
	tk := h.newTask(t, Job{Language: "vhdl", SourceCode: "entity test_bench is end;"})
	defer tk.Close(context.Background(), true)
	res := runAll(t, tk)

	if res.Outcome != result.Success || res.Stdout != "simulation finished\n" {
		t.Fatalf("unexpected result: %+v", res)
	}
	calls := h.engine.calls()
	want := []string{"ghdl-gcc", "-c", "--ieee=standard", "--mb-comments", "-C", "-fno-caret-diagnostics",
		"-o", "prog.vhd.exe", "prog.vhd", "-e", "test_bench"}
	if strings.Join(calls[0].Cmd, " ") != strings.Join(want, " ") {
		t.Fatalf("compile argv = %v", calls[0].Cmd)
	}
	if calls[1].Cmd[0] != "./prog.vhd.exe" {
		t.Fatalf("run argv = %v", calls[1].Cmd)
	}
}

func TestTaskVHDLNoExecutableIsCompileError(t *testing.T) {
	h := newHarness(t, nil, nil)
	tk := h.newTask(t, Job{Language: "vhdl", SourceCode: "entity tb is end;"})
	defer tk.Close(context.Background(), true)
	res := runAll(t, tk)
	if res.Outcome != result.CompilationError || res.CmpInfo != noExecutableMessage {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(h.engine.calls()) != 1 {
		t.Fatalf("execute must not run")
	}
}
