package workers

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Recoverer interface {
	RecoverPending() (int, error)
}

// Worker_resume picks up persisted operations that are not running in this
// process, e.g. after a restart. Burns without a recorded tx hash are left alone.
func Worker_resume(ctx context.Context, orch Recoverer, interval time.Duration, logger *zap.Logger) error {
	logger.Info("starting resume worker", zap.Duration("interval", interval))

	recoverOnce := func() {
		n, err := orch.RecoverPending()
		if err != nil {
			logger.Error("error recovering pending bridge operations", zap.Error(err))
			return
		}
		if n > 0 {
			logger.Info("resumed pending bridge operations", zap.Int("count", n))
		}
	}

	recoverOnce()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("resume worker stopped")
			return nil
		case <-ticker.C:
			recoverOnce()
		}
	}
}
