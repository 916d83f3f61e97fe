// Package filecache stores auxiliary job files by id on the local disk,
// optionally mirrored to an object store.
package filecache

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	appErr "jobe/pkg/errors"
	"jobe/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultRoot      = "/home/jobe/files"
	defaultHighWater = 0.95
	defaultRetention = 24 * time.Hour

	// readOverhead is the headroom a file needs in memory relative to its size.
	readOverhead = 1.2
	dirMode      = 0o751
	fileMode     = 0o644
)

var (
	hashID  = regexp.MustCompile(`^[0-9a-f]{32}$`)
	validID = regexp.MustCompile(`^[A-Za-z0-9]+$`)
)

// Config controls the cache.
type Config struct {
	Root string `yaml:"root"`
	// HighWater is the volume usage ratio above which a write triggers a sweep.
	HighWater float64 `yaml:"highWater"`
	// Retention is how long an unread file survives a sweep.
	Retention time.Duration `yaml:"retention"`
	// MemoryBudget caps the size of a file Read will load, in bytes.
	// Zero means the host's free RAM at the time of the read.
	MemoryBudget int64 `yaml:"memoryBudget"`

	Remote RemoteConfig `yaml:"remote"`
}

func (c *Config) ApplyDefaults() {
	if c.Root == "" {
		c.Root = defaultRoot
	}
	if c.HighWater <= 0 || c.HighWater > 1 {
		c.HighWater = defaultHighWater
	}
	if c.Retention <= 0 {
		c.Retention = defaultRetention
	}
	c.Remote.ApplyDefaults()
}

// Cache is the file cache. It is safe for concurrent use.
type Cache struct {
	cfg    Config
	remote *RemoteTier

	sweeping atomic.Bool
	sweeps   sync.WaitGroup

	volumeUsage func(path string) (float64, error)
	freeMemory  func() (uint64, error)
	accessTime  func(info fs.FileInfo) time.Time
	now         func() time.Time
}

// New creates a cache rooted at cfg.Root. remote may be nil.
func New(cfg Config, remote *RemoteTier) (*Cache, error) {
	cfg.ApplyDefaults()
	if err := os.MkdirAll(cfg.Root, dirMode); err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "create file cache root failed")
	}
	return &Cache{
		cfg:         cfg,
		remote:      remote,
		volumeUsage: volumeUsage,
		freeMemory:  freeMemory,
		accessTime:  accessTime,
		now:         time.Now,
	}, nil
}

// Path returns where id is stored. Ids shaped like an md5 hex digest are
// sharded two levels deep by their first four characters.
func (c *Cache) Path(id string) string {
	if hashID.MatchString(id) {
		return filepath.Join(c.cfg.Root, id[0:2], id[2:4], id[4:])
	}
	return filepath.Join(c.cfg.Root, id)
}

// ValidID reports whether id can name a cache entry.
func ValidID(id string) bool {
	return validID.MatchString(id)
}

// Exists reports whether id is cached locally or in the remote tier.
func (c *Cache) Exists(ctx context.Context, id string) bool {
	if !ValidID(id) {
		return false
	}
	if info, err := os.Stat(c.Path(id)); err == nil && info.Mode().IsRegular() {
		return true
	}
	if c.remote == nil {
		return false
	}
	ok, err := c.remote.Exists(ctx, id)
	if err != nil {
		logger.Warn(ctx, "remote file check failed", zap.String("file_id", id), zap.Error(err))
		return false
	}
	return ok
}

// Read returns the contents of id. A local miss falls through to the remote
// tier, whose copy is then kept locally.
func (c *Cache) Read(ctx context.Context, id string) ([]byte, error) {
	if !ValidID(id) {
		return nil, notFound(id)
	}
	path := c.Path(id)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) && c.remote != nil {
		return c.readRemote(ctx, id)
	}
	if err != nil {
		return nil, notFound(id)
	}
	if err := c.checkBudget(id, info.Size()); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		// Swept between the stat and the read.
		return nil, notFound(id)
	}
	return data, nil
}

func (c *Cache) readRemote(ctx context.Context, id string) ([]byte, error) {
	data, err := c.remote.Get(ctx, id, func(size int64) error { return c.checkBudget(id, size) })
	if err != nil {
		return nil, err
	}
	if err := c.writeLocal(id, data); err != nil {
		logger.Warn(ctx, "keep remote file locally failed", zap.String("file_id", id), zap.Error(err))
	}
	return data, nil
}

func (c *Cache) checkBudget(id string, size int64) error {
	budget := c.cfg.MemoryBudget
	if budget <= 0 {
		free, err := c.freeMemory()
		if err != nil {
			return appErr.Wrapf(err, appErr.CacheError, "read free memory failed")
		}
		budget = int64(free)
	}
	if float64(size)*readOverhead > float64(budget) {
		return appErr.Newf(appErr.FileTooLarge, "File size (%dk) is unsafe with a memory limit of %dk.", size/1000, budget/1000).
			WithDetail("file_id", id).
			WithDetail("size_bytes", size)
	}
	return nil
}

// Write stores data under id. When the volume is nearly full a sweep of old
// files is started in the background; the write does not wait for it.
func (c *Cache) Write(ctx context.Context, id string, data []byte) error {
	if !ValidID(id) {
		return appErr.Newf(appErr.InvalidParams, "invalid file id %q", id)
	}
	usage, err := c.volumeUsage(c.cfg.Root)
	if err != nil {
		logger.Warn(ctx, "check file cache volume failed", zap.Error(err))
	} else if usage > c.cfg.HighWater {
		c.startSweep(ctx)
	}
	if err := c.writeLocal(id, data); err != nil {
		return appErr.Wrapf(err, appErr.FileWriteFailed, "put: failed to write file %s to cache", id)
	}
	if c.remote != nil {
		if err := c.remote.Put(ctx, id, data); err != nil {
			logger.Warn(ctx, "mirror file to remote tier failed", zap.String("file_id", id), zap.Error(err))
		}
	}
	return nil
}

// writeLocal writes through a temp file so readers never see a partial file.
func (c *Cache) writeLocal(id string, data []byte) error {
	path := c.Path(id)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.ReadFrom(bytes.NewReader(data)); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (c *Cache) startSweep(ctx context.Context) {
	if !c.sweeping.CompareAndSwap(false, true) {
		return
	}
	c.sweeps.Add(1)
	go func() {
		defer c.sweeps.Done()
		defer c.sweeping.Store(false)
		logger.Info(ctx, "cleaning file cache", zap.String("root", c.cfg.Root))
		n, err := c.Sweep()
		if err != nil {
			logger.Warn(ctx, "file cache sweep incomplete", zap.Int("removed", n), zap.Error(err))
			return
		}
		logger.Info(ctx, "file cache cleaned", zap.Int("removed", n))
	}()
}

// WaitSweeps blocks until any background sweep finishes.
func (c *Cache) WaitSweeps() {
	c.sweeps.Wait()
}

// Sweep removes every file not accessed within the retention window and
// returns how many were removed.
func (c *Cache) Sweep() (int, error) {
	cutoff := c.now().Add(-c.cfg.Retention)
	removed := 0
	var errs []error
	err := filepath.WalkDir(c.cfg.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			errs = append(errs, err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if !info.Mode().IsRegular() || !c.accessTime(info).Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			return nil
		}
		removed++
		return nil
	})
	if err != nil {
		errs = append(errs, err)
	}
	return removed, errors.Join(errs...)
}

func notFound(id string) error {
	return appErr.FileMissing(id)
}
