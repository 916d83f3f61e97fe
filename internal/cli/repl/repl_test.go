package repl

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"jobe/internal/cli/command"
	httpclient "jobe/internal/cli/http"
	"jobe/internal/cli/state"
)

// fakeJobe serves the REST surface from memory.
type fakeJobe struct {
	mu    sync.Mutex
	files map[string]string
	runs  []map[string]interface{}
	keys  []string
}

func (f *fakeJobe) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, r.Header.Get(httpclient.APIKeyHeader))
	path := strings.TrimPrefix(r.URL.Path, "/restapi")
	switch {
	case r.Method == http.MethodGet && path == "/languages":
		_, _ = w.Write([]byte(`[["c","13.2.0"],["python3","3.12.1"]]`))
	case r.Method == http.MethodPost && path == "/runs":
		var body map[string]map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.runs = append(f.runs, body["run_spec"])
		_, _ = w.Write([]byte(`{"run_id":"r1","outcome":15,"cmpinfo":"","stdout":"hi\n","stderr":""}`))
	case r.Method == http.MethodPut && strings.HasPrefix(path, "/files/"):
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.files[strings.TrimPrefix(path, "/files/")] = body["file_contents"]
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodHead && strings.HasPrefix(path, "/files/"):
		if _, ok := f.files[strings.TrimPrefix(path, "/files/")]; ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type harness struct {
	session   *Session
	out       *bytes.Buffer
	jobe      *fakeJobe
	files     *state.Files
	statePath string
	dir       string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	jobe := &fakeJobe{files: map[string]string{}}
	srv := httptest.NewServer(jobe)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	out := &bytes.Buffer{}
	files := &state.Files{}
	statePath := filepath.Join(dir, "state", "files.json")
	client := httpclient.New(srv.URL+"/restapi", time.Second, "k1")
	return &harness{
		session:   New(client, command.Registry(), files, statePath, false, out),
		out:       out,
		jobe:      jobe,
		files:     files,
		statePath: statePath,
		dir:       dir,
	}
}

func (h *harness) exec(t *testing.T, line string) string {
	t.Helper()
	h.out.Reset()
	quit, err := h.session.Execute(context.Background(), line)
	if err != nil {
		t.Fatalf("%q: unexpected error: %v", line, err)
	}
	if quit {
		t.Fatalf("%q: unexpected quit", line)
	}
	return h.out.String()
}

func (h *harness) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(h.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLanguages(t *testing.T) {
	h := newHarness(t)
	out := h.exec(t, "languages")
	if !strings.HasPrefix(out, "HTTP 200") || !strings.Contains(out, `["c","13.2.0"]`) {
		t.Fatalf("unexpected output: %s", out)
	}
	if h.jobe.keys[0] != "k1" {
		t.Fatalf("expected api key header, got %q", h.jobe.keys[0])
	}
}

func TestRun(t *testing.T) {
	h := newHarness(t)
	src := h.write(t, "hello world.c", "int main(){}")
	in := h.write(t, "in.txt", "5\n")

	out := h.exec(t, `run C "`+src+`" input=`+in+` debug=true`)
	if !strings.Contains(out, `"outcome":15`) {
		t.Fatalf("unexpected output: %s", out)
	}
	if len(h.jobe.runs) != 1 {
		t.Fatalf("expected one run, got %d", len(h.jobe.runs))
	}
	spec := h.jobe.runs[0]
	if spec["language_id"] != "c" || spec["sourcefilename"] != "hello world.c" || spec["input"] != "5\n" || spec["debug"] != true {
		t.Fatalf("unexpected run_spec: %v", spec)
	}
}

func TestPutAndCheck(t *testing.T) {
	h := newHarness(t)
	data := h.write(t, "data.txt", "hello")
	// md5("hello")
	const id = "5d41402abc4b2a76b9719d911017c592"

	out := h.exec(t, "put "+data)
	if !strings.Contains(out, "HTTP 204") || !strings.Contains(out, "file id: "+id) {
		t.Fatalf("unexpected put output: %s", out)
	}
	if _, ok := h.files.Uploads[id]; !ok {
		t.Fatalf("expected upload recorded, got %v", h.files.Uploads)
	}
	saved, err := state.Load(h.statePath)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if saved.Uploads[id].Path != data {
		t.Fatalf("expected saved upload for %s, got %v", data, saved.Uploads)
	}

	if out := h.exec(t, "check "+id); !strings.Contains(out, "HTTP 204") {
		t.Fatalf("unexpected check output: %s", out)
	}

	h.jobe.mu.Lock()
	delete(h.jobe.files, id)
	h.jobe.mu.Unlock()
	if out := h.exec(t, "check "+id); !strings.Contains(out, "HTTP 404") {
		t.Fatalf("unexpected check output: %s", out)
	}
	if _, ok := h.files.Uploads[id]; ok {
		t.Fatalf("expected vanished upload forgotten")
	}
	if out := h.exec(t, "show files"); !strings.Contains(out, "no uploaded files") {
		t.Fatalf("unexpected show output: %s", out)
	}
}

func TestSystemCommands(t *testing.T) {
	h := newHarness(t)

	if out := h.exec(t, "set timeout 5s"); !strings.Contains(out, "timeout set to 5s") {
		t.Fatalf("unexpected output: %s", out)
	}
	if out := h.exec(t, "set timeout soon"); !strings.Contains(out, "invalid duration") {
		t.Fatalf("unexpected output: %s", out)
	}
	if out := h.exec(t, "set base http://example.test/restapi/"); !strings.Contains(out, "base set to http://example.test/restapi\n") {
		t.Fatalf("unexpected output: %s", out)
	}
	out := h.exec(t, "show config")
	if !strings.Contains(out, "base: http://example.test/restapi") || !strings.Contains(out, "timeout: 5s") {
		t.Fatalf("unexpected output: %s", out)
	}
	if out := h.exec(t, "help"); !strings.Contains(out, "put <file> [id=<id>]") {
		t.Fatalf("unexpected help: %s", out)
	}
	if out := h.exec(t, "   "); out != "" {
		t.Fatalf("expected blank line ignored, got %q", out)
	}

	quit, err := h.session.Execute(context.Background(), "exit")
	if err != nil || !quit {
		t.Fatalf("expected exit to quit, got quit=%v err=%v", quit, err)
	}
}

func TestCommandErrors(t *testing.T) {
	h := newHarness(t)
	for _, line := range []string{
		"compile c x.c",
		"run c",
		`run c "unterminated`,
		"put " + filepath.Join(h.dir, "missing.txt"),
	} {
		t.Run(line, func(t *testing.T) {
			if _, err := h.session.Execute(context.Background(), line); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
	if len(h.jobe.keys) != 0 {
		t.Fatalf("expected no requests sent, got %d", len(h.jobe.keys))
	}
}

func TestRenderPretty(t *testing.T) {
	out := &bytes.Buffer{}
	s := New(nil, nil, &state.Files{}, "", true, out)
	s.renderResponse(httpclient.ResponseInfo{StatusCode: 200, Body: []byte(`{"a":1}`)})
	if !strings.Contains(out.String(), "{\n  \"a\": 1\n}") {
		t.Fatalf("unexpected pretty output: %s", out.String())
	}
	out.Reset()
	s.renderResponse(httpclient.ResponseInfo{StatusCode: 500, Body: []byte("oops")})
	if !strings.Contains(out.String(), "oops") {
		t.Fatalf("unexpected raw output: %s", out.String())
	}
}
