package service

import (
	"context"
	"fmt"
	"time"

	"jobe/internal/jobe/model"
	"jobe/internal/jobe/sandbox/result"
	"jobe/internal/jobe/slot"
	"jobe/internal/jobe/task"
	appErr "jobe/pkg/errors"
	"jobe/pkg/utils/contextkey"
	"jobe/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultWaitTimeout = 10 * time.Second
	defaultMaxCPUTime  = 120
)

// RunConfig holds run service dependencies and settings.
type RunConfig struct {
	Pool    slot.Pool
	Factory *task.Factory
	// WaitTimeout bounds how long a request waits for a free slot.
	WaitTimeout time.Duration
	MaxCPUTime  int
	// Debugging keeps every job directory.
	Debugging bool
}

// RunService executes run requests.
type RunService struct {
	pool        slot.Pool
	factory     *task.Factory
	waitTimeout time.Duration
	maxCPUTime  int
	debugging   bool
}

func NewRunService(cfg RunConfig) (*RunService, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("slot pool is required")
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("task factory is required")
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = defaultWaitTimeout
	}
	if cfg.MaxCPUTime <= 0 {
		cfg.MaxCPUTime = defaultMaxCPUTime
	}
	return &RunService{
		pool:        cfg.Pool,
		factory:     cfg.Factory,
		waitTimeout: cfg.WaitTimeout,
		maxCPUTime:  cfg.MaxCPUTime,
		debugging:   cfg.Debugging,
	}, nil
}

// Run validates req, runs it in a free slot and returns its result. Client
// errors are returned as errors; overload and internal failures are
// reported in the result.
func (s *RunService) Run(ctx context.Context, req *model.RunRequest) (result.Result, error) {
	job, err := req.Job(s.factory.Registry(), s.maxCPUTime)
	if err != nil {
		return result.Result{}, err
	}
	job.ID = uuid.NewString()
	ctx = context.WithValue(ctx, contextkey.JobID, job.ID)
	debug := s.debugging || job.Debug

	sl, err := s.pool.Acquire(ctx, s.waitTimeout)
	if err != nil {
		if appErr.Is(err, appErr.ServerOverload) {
			fields := []zap.Field{zap.Int("slots", s.pool.Size())}
			if held, err := s.pool.Held(ctx); err == nil {
				fields = append(fields, zap.Int("held", held))
			}
			logger.Info(ctx, "no free slot, reporting overload", fields...)
			res := result.Overload()
			res.RunID = job.ID
			return res, nil
		}
		return result.Result{}, err
	}

	t, err := s.factory.New(job, sl)
	if err != nil {
		s.pool.Release(ctx, sl)
		return result.Result{}, err
	}
	// Close must run even if the caller went away.
	defer t.Close(context.WithoutCancel(ctx), !debug)

	start := time.Now()
	if err := s.execute(ctx, t); err != nil {
		// A file too large for the memory headroom is reported to the
		// caller as a server error, not folded into an internal result.
		if appErr.GetCode(err).HTTPStatus() < 500 || appErr.Is(err, appErr.FileTooLarge) {
			return result.Result{}, err
		}
		logger.Error(ctx, "run failed",
			zap.String("language", job.Language),
			zap.String("state", t.State().String()),
			zap.Error(err),
		)
		return result.Result{RunID: job.ID, Outcome: result.InternalError}, nil
	}

	res := t.Result()
	logger.Info(ctx, "run finished",
		zap.String("language", job.Language),
		zap.String("user", sl.User),
		zap.String("outcome", res.Outcome.String()),
		zap.Duration("elapsed", time.Since(start)),
		zap.Bool("debug", debug),
	)
	return res, nil
}

func (s *RunService) execute(ctx context.Context, t *task.Task) error {
	if err := t.PrepareExecutionEnvironment(ctx); err != nil {
		return err
	}
	logger.Debug(ctx, "compiling job", zap.String("dir", t.WorkDir))
	if err := t.Compile(ctx); err != nil {
		return err
	}
	if t.CmpInfo != "" {
		return nil
	}
	logger.Debug(ctx, "executing job", zap.String("dir", t.WorkDir))
	return t.Execute(ctx)
}
