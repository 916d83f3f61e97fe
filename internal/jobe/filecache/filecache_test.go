package filecache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"jobe/internal/common/storage"
	appErr "jobe/pkg/errors"
)

func newTestCache(t *testing.T, cfg Config, remote *RemoteTier) *Cache {
	t.Helper()
	if cfg.Root == "" {
		cfg.Root = t.TempDir()
	}
	if cfg.MemoryBudget == 0 {
		cfg.MemoryBudget = 1 << 20
	}
	c, err := New(cfg, remote)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	c.volumeUsage = func(string) (float64, error) { return 0.5, nil }
	return c
}

func TestPath(t *testing.T) {
	c := newTestCache(t, Config{Root: "/cache"}, nil)
	tests := []struct {
		id   string
		want string
	}{
		{"0123456789abcdef0123456789abcdef", "/cache/01/23/456789abcdef0123456789abcdef"},
		{"0123456789ABCDEF0123456789ABCDEF", "/cache/0123456789ABCDEF0123456789ABCDEF"},
		{"0123456789abcdef0123456789abcde", "/cache/0123456789abcdef0123456789abcde"},
		{"0123456789abcdef0123456789abcdef0", "/cache/0123456789abcdef0123456789abcdef0"},
		{"myfile123", "/cache/myfile123"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := c.Path(tt.id); got != tt.want {
				t.Fatalf("Path(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	c := newTestCache(t, Config{}, nil)
	ctx := context.Background()
	ids := []string{"0123456789abcdef0123456789abcdef", "ABCDEFGH", "file0000123", "a1b2c3d4e5f6"}
	for i, id := range ids {
		data := []byte(fmt.Sprintf("payload %d\x00\xff", i))
		if err := c.Write(ctx, id, data); err != nil {
			t.Fatalf("write %s: %v", id, err)
		}
		if !c.Exists(ctx, id) {
			t.Fatalf("%s should exist", id)
		}
		got, err := c.Read(ctx, id)
		if err != nil {
			t.Fatalf("read %s: %v", id, err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("read %s = %q, want %q", id, got, data)
		}
	}
	if _, err := os.Stat(filepath.Join(c.cfg.Root, "01", "23", "456789abcdef0123456789abcdef")); err != nil {
		t.Fatalf("hash id not sharded: %v", err)
	}
	if err := c.Write(ctx, "ABCDEFGH", []byte("new")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if got, _ := c.Read(ctx, "ABCDEFGH"); string(got) != "new" {
		t.Fatalf("overwrite lost: %q", got)
	}
}

func TestReadMissing(t *testing.T) {
	c := newTestCache(t, Config{}, nil)
	ctx := context.Background()
	for _, id := range []string{"nothere123", "../etc/passwd", ""} {
		_, err := c.Read(ctx, id)
		if appErr.GetCode(err) != appErr.FileNotFound {
			t.Fatalf("Read(%q) expected FileNotFound, got %v", id, err)
		}
		if c.Exists(ctx, id) {
			t.Fatalf("Exists(%q) should be false", id)
		}
	}
}

func TestWriteRejectsBadID(t *testing.T) {
	c := newTestCache(t, Config{}, nil)
	for _, id := range []string{"", "..", "a/b", "x.y"} {
		if err := c.Write(context.Background(), id, []byte("x")); appErr.GetCode(err) != appErr.InvalidParams {
			t.Fatalf("Write(%q) expected InvalidParams, got %v", id, err)
		}
	}
}

func TestReadTooLarge(t *testing.T) {
	c := newTestCache(t, Config{MemoryBudget: 100}, nil)
	ctx := context.Background()
	if err := c.Write(ctx, "smallfile1", bytes.Repeat([]byte("a"), 83)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := c.Read(ctx, "smallfile1"); err != nil {
		t.Fatalf("83 bytes fit a 100 byte budget: %v", err)
	}
	if err := c.Write(ctx, "largefile1", bytes.Repeat([]byte("a"), 84)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := c.Read(ctx, "largefile1")
	if appErr.GetCode(err) != appErr.FileTooLarge {
		t.Fatalf("expected FileTooLarge, got %v", err)
	}
	if appErr.FileTooLarge.HTTPStatus() != 500 {
		t.Fatalf("FileTooLarge must map to 500")
	}
}

func TestReadBudgetFromFreeMemory(t *testing.T) {
	c := newTestCache(t, Config{MemoryBudget: -1}, nil)
	c.freeMemory = func() (uint64, error) { return 10, nil }
	ctx := context.Background()
	if err := c.Write(ctx, "tinyfile", []byte("0123456789")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := c.Read(ctx, "tinyfile"); appErr.GetCode(err) != appErr.FileTooLarge {
		t.Fatalf("expected FileTooLarge with 10 bytes free, got %v", err)
	}
	c.freeMemory = func() (uint64, error) { return 1 << 30, nil }
	if _, err := c.Read(ctx, "tinyfile"); err != nil {
		t.Fatalf("read with plenty of memory: %v", err)
	}
}

func TestSweepRemovesOnlyOldFiles(t *testing.T) {
	c := newTestCache(t, Config{Retention: time.Hour}, nil)
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	c.accessTime = func(info fs.FileInfo) time.Time {
		if strings.HasPrefix(info.Name(), "old") {
			return now.Add(-2 * time.Hour)
		}
		return now.Add(-time.Minute)
	}
	for _, id := range []string{"oldfile1", "oldfile2", "freshfile1"} {
		if err := c.Write(ctx, id, []byte(id)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	n, err := c.Sweep()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("removed %d files, want 2", n)
	}
	if c.Exists(ctx, "oldfile1") || !c.Exists(ctx, "freshfile1") {
		t.Fatalf("sweep removed the wrong files")
	}
}

func TestWriteAboveHighWaterSweepsInBackground(t *testing.T) {
	c := newTestCache(t, Config{Retention: time.Hour}, nil)
	ctx := context.Background()
	c.accessTime = func(info fs.FileInfo) time.Time {
		if strings.HasPrefix(info.Name(), "stale") {
			return time.Now().Add(-48 * time.Hour)
		}
		return time.Now()
	}
	if err := c.Write(ctx, "stalefile", []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}

	c.volumeUsage = func(string) (float64, error) { return 0.99, nil }
	if err := c.Write(ctx, "newfile01", []byte("y")); err != nil {
		t.Fatalf("write above high water should still succeed: %v", err)
	}
	c.WaitSweeps()
	if c.Exists(ctx, "stalefile") {
		t.Fatalf("stale file survived the sweep")
	}
	if !c.Exists(ctx, "newfile01") {
		t.Fatalf("new file missing")
	}
}

func TestOnlyOneSweepAtATime(t *testing.T) {
	c := newTestCache(t, Config{}, nil)
	c.sweeping.Store(true)
	c.startSweep(context.Background())
	c.WaitSweeps()
	if !c.sweeping.Load() {
		t.Fatalf("second sweep should not have started")
	}
}

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{objects: map[string][]byte{}}
}

func (m *memStorage) GetObject(_ context.Context, bucket, key string) (storage.ObjectReader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("get: %w", storage.ErrObjectNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStorage) PutObject(_ context.Context, bucket, key string, reader io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = data
	return nil
}

func (m *memStorage) StatObject(_ context.Context, bucket, key string) (storage.ObjectStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return storage.ObjectStat{}, fmt.Errorf("stat: %w", storage.ErrObjectNotFound)
	}
	return storage.ObjectStat{SizeBytes: int64(len(data))}, nil
}

func TestRemoteTierSharesFiles(t *testing.T) {
	store := newMemStorage()
	remote, err := NewRemoteTier(store, "bucket", "files/")
	if err != nil {
		t.Fatalf("new remote tier: %v", err)
	}
	ctx := context.Background()
	first := newTestCache(t, Config{}, remote)
	second := newTestCache(t, Config{}, remote)

	data := bytes.Repeat([]byte("shared contents "), 64)
	if err := first.Write(ctx, "sharedfile1", data); err != nil {
		t.Fatalf("write: %v", err)
	}
	blob := store.objects["bucket/files/sharedfile1.zst"]
	if len(blob) == 0 || len(blob) >= len(data) {
		t.Fatalf("expected a compressed blob, got %d bytes for %d", len(blob), len(data))
	}

	if !second.Exists(ctx, "sharedfile1") {
		t.Fatalf("second server should see the remote file")
	}
	got, err := second.Read(ctx, "sharedfile1")
	if err != nil {
		t.Fatalf("remote read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("remote read mismatch")
	}
	if _, err := os.Stat(second.Path("sharedfile1")); err != nil {
		t.Fatalf("remote file not kept locally: %v", err)
	}

	if _, err := second.Read(ctx, "absentfile1"); appErr.GetCode(err) != appErr.FileNotFound {
		t.Fatalf("expected FileNotFound, got %v", err)
	}
}

func TestRemoteTierBudget(t *testing.T) {
	store := newMemStorage()
	remote, err := NewRemoteTier(store, "bucket", "")
	if err != nil {
		t.Fatalf("new remote tier: %v", err)
	}
	ctx := context.Background()
	if err := remote.Put(ctx, "bigfile01", bytes.Repeat([]byte("z"), 4096)); err != nil {
		t.Fatalf("put: %v", err)
	}
	c := newTestCache(t, Config{MemoryBudget: 1000}, remote)
	if _, err := c.Read(ctx, "bigfile01"); appErr.GetCode(err) != appErr.FileTooLarge {
		t.Fatalf("expected FileTooLarge, got %v", err)
	}
}
