package main

import (
	"fmt"
	"os"
	"time"

	"jobe/internal/common/cache"
	commonmw "jobe/internal/common/http/middleware"
	"jobe/internal/jobe/catalog"
	"jobe/internal/jobe/filecache"
	"jobe/internal/jobe/sandbox"
	"jobe/internal/jobe/slot"
	"jobe/internal/jobe/task"
	"jobe/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 30 * time.Second
	defaultWaitTimeout     = 10 * time.Second
	defaultCPUTimeCeiling  = 120
	defaultCleanUpPath     = "/tmp;/var/tmp;/var/crash;/run/lock;/var/lock"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr        string        `yaml:"addr"`
	ReadTimeout time.Duration `yaml:"readTimeout"`
	// WriteTimeout must cover the slot wait plus a whole run; zero derives
	// it from the job limits.
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// JobeConfig holds the run settings shared by every language.
type JobeConfig struct {
	WaitTimeout           time.Duration `yaml:"waitTimeout"`
	CPUTimeUpperLimitSecs int           `yaml:"cputimeUpperLimitSecs"`
	Debugging             bool          `yaml:"debugging"`
	WorkRoot              string        `yaml:"workRoot"`
	RunGroup              string        `yaml:"runGroup"`
	// CleanUpPath is a semicolon-separated list of directories.
	CleanUpPath *string `yaml:"cleanUpPath"`
}

// AppConfig holds jobe-server config.
type AppConfig struct {
	Server    ServerConfig            `yaml:"server"`
	Logger    logger.Config           `yaml:"logger"`
	Jobe      JobeConfig              `yaml:"jobe"`
	Slots     slot.Config             `yaml:"slots"`
	Sandbox   sandbox.Config          `yaml:"sandbox"`
	Languages task.VariantConfig      `yaml:"languages"`
	Catalog   catalog.Config          `yaml:"catalog"`
	FileCache filecache.Config        `yaml:"fileCache"`
	Redis     cache.RedisConfig       `yaml:"redis"`
	API       commonmw.ThrottleConfig `yaml:"api"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Jobe.WaitTimeout <= 0 {
		cfg.Jobe.WaitTimeout = defaultWaitTimeout
	}
	if cfg.Jobe.CPUTimeUpperLimitSecs <= 0 {
		cfg.Jobe.CPUTimeUpperLimitSecs = defaultCPUTimeCeiling
	}
	if cfg.Jobe.CleanUpPath == nil {
		s := defaultCleanUpPath
		cfg.Jobe.CleanUpPath = &s
	}
	cfg.Slots.ApplyDefaults()
	cfg.Sandbox.ApplyDefaults()
	cfg.Languages.ApplyDefaults()
	cfg.Catalog.ApplyDefaults()
	cfg.FileCache.ApplyDefaults()

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		// Compile and run each get up to WallFactor times their cpu budget.
		perPhase := time.Duration(cfg.Jobe.CPUTimeUpperLimitSecs*sandbox.WallFactor)*time.Second + cfg.Sandbox.WallGrace
		cfg.Server.WriteTimeout = cfg.Jobe.WaitTimeout + 2*perPhase
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Slots.Backend == slot.BackendRedis {
		cfg.Redis.ApplyDefaults()
	}
}

func validate(cfg *AppConfig) error {
	if cfg.Slots.Backend == slot.BackendRedis && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required for the redis slot backend")
	}
	if cfg.FileCache.Remote.Enabled && cfg.FileCache.Remote.MinIO.Bucket == "" {
		return fmt.Errorf("fileCache.remote.minio.bucket is required when the remote tier is enabled")
	}
	for key, perHour := range cfg.API.APIKeys {
		if perHour < 0 {
			return fmt.Errorf("api key %q has a negative rate", key)
		}
	}
	return nil
}

func (c JobeConfig) taskConfig() task.Config {
	return task.Config{
		WorkRoot:    c.WorkRoot,
		Group:       c.RunGroup,
		CleanUpPath: task.ParseCleanUpPath(*c.CleanUpPath),
	}
}
