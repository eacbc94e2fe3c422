package cleanup

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adminx/perfgate/internal/common/configtypes"
	"github.com/adminx/perfgate/internal/edge/dbclean"
)

// Runner executes one scheduled cleanup
type Runner interface {
	RunScheduled(ctx context.Context) (*dbclean.Result, error)
}

// DatabaseCleanupWorker runs the scheduled database cleanup on a ticker
type DatabaseCleanupWorker struct {
	config *configtypes.CleanupConfig
	runner Runner
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDatabaseCleanupWorker(
	config *configtypes.CleanupConfig,
	runner Runner,
	logger *zap.Logger,
) *DatabaseCleanupWorker {
	ctx, cancel := context.WithCancel(context.Background())
	return &DatabaseCleanupWorker{
		config: config,
		runner: runner,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (w *DatabaseCleanupWorker) Start() {
	if !w.config.Enabled {
		w.logger.Info("Database cleanup worker disabled")
		return
	}

	interval := time.Duration(w.config.Interval)
	w.logger.Info("Database cleanup worker starting", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				w.runCleanup()
			case <-w.ctx.Done():
				w.logger.Info("Database cleanup worker shutting down")
				return
			}
		}
	}()
}

// Shutdown cancels an in-flight run and waits for the loop to exit
func (w *DatabaseCleanupWorker) Shutdown() {
	w.logger.Info("Stopping database cleanup worker")
	w.cancel()
	w.wg.Wait()
	w.logger.Info("Database cleanup worker stopped")
}

func (w *DatabaseCleanupWorker) runCleanup() {
	result, err := w.runner.RunScheduled(w.ctx)
	if err != nil {
		w.logger.Error("Scheduled database cleanup failed", zap.Error(err))
		return
	}
	if result.Skipped {
		return
	}
	w.logger.Info("Scheduled database cleanup completed",
		zap.Int64("rows_deleted", result.TotalDeleted()),
		zap.Int("tables_optimized", result.TablesOptimized),
		zap.Int("failures", len(result.Failures)))
}
