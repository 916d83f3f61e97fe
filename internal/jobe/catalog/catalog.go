// Package catalog reports which languages this server can run and their
// versions. Probing every toolchain is slow, so the result is kept in a
// JSON file; deleting the file forces a fresh probe.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"jobe/internal/jobe/task"
	appErr "jobe/pkg/errors"
	"jobe/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	defaultCacheFile    = "/tmp/jobe_language_cache_file"
	defaultProbeTimeout = 10 * time.Second
	maxParallelProbes   = 4
)

var languageID = regexp.MustCompile(`^[A-Za-z0-9]+$`)

type Config struct {
	CacheFile    string        `yaml:"cacheFile"`
	ProbeTimeout time.Duration `yaml:"probeTimeout"`
}

func (c *Config) ApplyDefaults() {
	if c.CacheFile == "" {
		c.CacheFile = defaultCacheFile
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = defaultProbeTimeout
	}
}

// Language is one supported language. It encodes as a [id, version] pair.
type Language struct {
	ID      string
	Version string
}

func (l Language) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{l.ID, l.Version})
}

func (l *Language) UnmarshalJSON(data []byte) error {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	l.ID, l.Version = pair[0], pair[1]
	return nil
}

// ProbeRunner runs a version command and returns its combined output.
type ProbeRunner interface {
	Output(ctx context.Context, cmd []string) (string, error)
}

// ExecRunner runs probes as host processes.
type ExecRunner struct{}

func (ExecRunner) Output(ctx context.Context, cmd []string) (string, error) {
	if len(cmd) == 0 {
		return "", errors.New("empty probe command")
	}
	out, err := exec.CommandContext(ctx, cmd[0], cmd[1:]...).CombinedOutput()
	return string(out), err
}

type Catalog struct {
	cfg      Config
	registry *task.Registry
	runner   ProbeRunner
	group    singleflight.Group
}

func New(cfg Config, registry *task.Registry, runner ProbeRunner) *Catalog {
	cfg.ApplyDefaults()
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Catalog{cfg: cfg, registry: registry, runner: runner}
}

// Languages returns the installed languages sorted by id. The cache file is
// read on every call; when it is missing or fails validation every variant
// is probed again and the file rewritten.
func (c *Catalog) Languages(ctx context.Context) ([]Language, error) {
	ch := c.group.DoChan("languages", func() (interface{}, error) {
		// The round is shared by every waiting caller, so it must outlive
		// the request that happened to start it.
		roundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.roundTimeout())
		defer cancel()
		if versions, ok := c.readCache(roundCtx); ok {
			return versions, nil
		}
		logger.Debug(roundCtx, "missing or corrupt languages cache file, rebuilding it", zap.String("path", c.cfg.CacheFile))
		versions, err := c.probeAll(roundCtx)
		if err != nil {
			return nil, err
		}
		if err := c.writeCache(versions); err != nil {
			logger.Warn(roundCtx, "write languages cache file failed", zap.String("path", c.cfg.CacheFile), zap.Error(err))
		}
		return versions, nil
	})
	select {
	case <-ctx.Done():
		return nil, appErr.Wrapf(ctx.Err(), appErr.Timeout, "languages request cancelled")
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return toList(res.Val.(map[string]string)), nil
	}
}

// roundTimeout bounds one full probe round: every wave of parallel probes
// may take up to ProbeTimeout.
func (c *Catalog) roundTimeout() time.Duration {
	waves := (len(c.registry.IDs()) + maxParallelProbes - 1) / maxParallelProbes
	if waves < 1 {
		waves = 1
	}
	return time.Duration(waves) * c.cfg.ProbeTimeout
}

func (c *Catalog) readCache(ctx context.Context) (map[string]string, bool) {
	data, err := os.ReadFile(c.cfg.CacheFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn(ctx, "read languages cache file failed", zap.Error(err))
		}
		return nil, false
	}
	var versions map[string]string
	if err := json.Unmarshal(data, &versions); err != nil || len(versions) == 0 {
		return nil, false
	}
	// The file lives in a world-writable directory.
	for id := range versions {
		if !languageID.MatchString(id) {
			return nil, false
		}
		if _, err := c.registry.Lookup(id); err != nil {
			return nil, false
		}
	}
	return versions, true
}

func (c *Catalog) probeAll(ctx context.Context) (map[string]string, error) {
	ids := c.registry.IDs()
	var (
		mu       sync.Mutex
		versions = make(map[string]string, len(ids))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelProbes)
	for _, id := range ids {
		id := id
		v, err := c.registry.Lookup(id)
		if err != nil {
			return nil, err
		}
		g.Go(func() error {
			version, ok := c.probe(gctx, v)
			if !ok {
				return nil
			}
			mu.Lock()
			versions[id] = version
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.Timeout, "language probe interrupted")
	}
	return versions, nil
}

// probe reports the version of one variant, or ok=false when the toolchain
// is missing or its output is unrecognised.
func (c *Catalog) probe(ctx context.Context, v task.Variant) (string, bool) {
	p := v.VersionProbe()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()
	out, err := c.runner.Output(ctx, p.Command)
	m := p.Pattern.FindStringSubmatch(out)
	if len(m) < 2 || m[1] == "" {
		logger.Debug(ctx, "language not available", zap.String("language", v.ID()), zap.Error(err))
		return "", false
	}
	return m[1], true
}

func (c *Catalog) writeCache(versions map[string]string) error {
	data, err := json.Marshal(versions)
	if err != nil {
		return err
	}
	dir := filepath.Dir(c.cfg.CacheFile)
	tmp, err := os.CreateTemp(dir, ".jobe-langs-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), c.cfg.CacheFile)
}

func toList(versions map[string]string) []Language {
	list := make([]Language, 0, len(versions))
	for id, version := range versions {
		list = append(list, Language{ID: id, Version: version})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}
