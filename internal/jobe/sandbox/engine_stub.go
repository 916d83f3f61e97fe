//go:build !linux

package sandbox

import (
	"context"
	"fmt"
)

type stubEngine struct{}

func NewEngine(cfg Config) (Engine, error) {
	return &stubEngine{}, nil
}

func (s *stubEngine) Run(ctx context.Context, spec RunSpec) (RunResult, error) {
	return RunResult{}, fmt.Errorf("runguard engine is only supported on linux")
}
