package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jobe/internal/common/cache"
	commonmw "jobe/internal/common/http/middleware"
	"jobe/internal/jobe/catalog"
	"jobe/internal/jobe/controller"
	"jobe/internal/jobe/filecache"
	"jobe/internal/jobe/sandbox"
	"jobe/internal/jobe/service"
	"jobe/internal/jobe/slot"
	"jobe/internal/jobe/task"
	"jobe/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/jobe_server.yaml"

var restPrefixes = []string{"/jobe/index.php/restapi", "/restapi"}

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "jobe server stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()

	if _, err := os.Stat(appCfg.Sandbox.RunguardPath); err != nil {
		logger.Warn(ctx, "runguard not found, runs will fail", zap.String("path", appCfg.Sandbox.RunguardPath), zap.Error(err))
	}
	eng, err := sandbox.NewEngine(appCfg.Sandbox)
	if err != nil {
		return fmt.Errorf("init sandbox engine failed: %w", err)
	}

	var leases slot.LeaseStore
	if appCfg.Slots.Backend == slot.BackendRedis {
		redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
		if err != nil {
			return fmt.Errorf("init redis failed: %w", err)
		}
		defer func() {
			_ = redisCache.Close()
		}()
		leases = redisCache
	}
	pool, err := slot.New(appCfg.Slots, leases)
	if err != nil {
		return fmt.Errorf("init slot pool failed: %w", err)
	}

	remote, err := filecache.NewRemoteTierFromConfig(appCfg.FileCache.Remote)
	if err != nil {
		return fmt.Errorf("init remote file tier failed: %w", err)
	}
	files, err := filecache.New(appCfg.FileCache, remote)
	if err != nil {
		return fmt.Errorf("init file cache failed: %w", err)
	}
	defer files.WaitSweeps()

	registry := task.NewRegistry(appCfg.Languages)
	factory := task.NewFactory(appCfg.Jobe.taskConfig(), registry, eng, files, pool)
	runSvc, err := service.NewRunService(service.RunConfig{
		Pool:        pool,
		Factory:     factory,
		WaitTimeout: appCfg.Jobe.WaitTimeout,
		MaxCPUTime:  appCfg.Jobe.CPUTimeUpperLimitSecs,
		Debugging:   appCfg.Jobe.Debugging,
	})
	if err != nil {
		return fmt.Errorf("init run service failed: %w", err)
	}
	fileSvc, err := service.NewFileService(files)
	if err != nil {
		return fmt.Errorf("init file service failed: %w", err)
	}
	langs := catalog.New(appCfg.Catalog, registry, catalog.ExecRunner{})
	go warmCatalog(langs)

	httpServer := buildHTTPServer(appCfg, controller.Handlers{
		Runs:      controller.NewRunController(runSvc),
		Files:     controller.NewFileController(fileSvc),
		Languages: controller.NewLanguageController(langs),
		Throttle:  commonmw.NewThrottle(appCfg.API).Middleware(),
	})
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "jobe server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.Int("slots", pool.Size()),
			zap.String("slot_backend", appCfg.Slots.Backend),
			zap.Bool("remote_files", remote != nil),
		)
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	// In-flight runs hold slots; let them finish and release.
	sctx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(sctx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	return nil
}

func warmCatalog(langs *catalog.Catalog) {
	ctx := context.Background()
	list, err := langs.Languages(ctx)
	if err != nil {
		logger.Warn(ctx, "probe languages failed", zap.Error(err))
		return
	}
	ids := make([]string, 0, len(list))
	for _, l := range list {
		ids = append(ids, l.ID+" "+l.Version)
	}
	logger.Info(ctx, "languages available", zap.Strings("languages", ids))
}

func buildHTTPServer(appCfg *AppConfig, handlers controller.Handlers) *http.Server {
	if appCfg.Logger.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	for _, prefix := range restPrefixes {
		controller.Register(router.Group(prefix), handlers)
	}

	cfg := appCfg.Server
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
