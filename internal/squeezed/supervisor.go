package squeezed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ModuleRunner runs a module within the supervisor.
type ModuleRunner struct {
	Name string
	Run  func(ctx context.Context) error
}

// Supervisor manages module lifecycles.
type Supervisor struct {
	Logger *zap.Logger
}

// Run starts all module runners and waits for them. The first module failure
// cancels the others and is returned.
func (s Supervisor) Run(ctx context.Context, modules []ModuleRunner) error {
	if len(modules) == 0 {
		return errors.New("no modules enabled")
	}
	log := s.Logger
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for _, m := range modules {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mlog := log.With(zap.String("module", m.Name))
			mlog.Info("starting module")
			if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				mlog.Error("module exited", zap.Error(err))
				once.Do(func() {
					firstErr = fmt.Errorf("%s: %w", m.Name, err)
					cancel()
				})
				return
			}
			mlog.Info("module stopped")
		}()
	}

	<-ctx.Done()
	wg.Wait()
	if firstErr == nil {
		log.Info("shutdown complete")
	}
	return firstErr
}
