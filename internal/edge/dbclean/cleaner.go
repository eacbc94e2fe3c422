package dbclean

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adminx/perfgate/internal/common/configtypes"
	"github.com/adminx/perfgate/pkg/types"
)

// LockName is the distributed lock held while a cleanup runs
const LockName = "db-cleanup"

// Defaults used when Config leaves a value unset
const (
	DefaultKeepRevisions  = 3
	DefaultTrashRetention = 30 * 24 * time.Hour
	DefaultLockTTL        = 30 * time.Minute
)

var (
	// ErrAlreadyRunning is returned when a cleanup is in progress on this instance
	ErrAlreadyRunning = errors.New("database cleanup already running")
	// ErrLockHeld is returned when another instance holds the cleanup lock
	ErrLockHeld = errors.New("database cleanup running on another instance")
)

// Store executes the individual cleanup statements against the database
type Store interface {
	DeleteOldRevisions(ctx context.Context, keep int) (int64, error)
	DeleteSpamAndTrashComments(ctx context.Context) (int64, error)
	DeleteTrashPosts(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteExpiredTransients(ctx context.Context, now time.Time) (int64, error)
	DeleteOrphanedPostMeta(ctx context.Context) (int64, error)
	DeleteOrphanedCommentMeta(ctx context.Context) (int64, error)
	DeleteOrphanedTermRelationships(ctx context.Context) (int64, error)
	DeleteUnusedTags(ctx context.Context) (int64, error)
	Tables(ctx context.Context) ([]string, error)
	OptimizeTable(ctx context.Context, table string) error
	Counts(ctx context.Context) (types.DatabaseCounts, error)
	TableSizes(ctx context.Context) ([]types.TableSize, float64, error)
}

// Locker serializes cleanups across gateway instances
type Locker interface {
	AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name, owner string) error
}

// Observer is notified after every run, typically to record metrics
type Observer interface {
	ObserveRun(result *Result, err error)
}

// Config configures a Cleaner
type Config struct {
	KeepRevisions  int
	TrashRetention time.Duration
	// InstanceID identifies the lock owner
	InstanceID string
	LockTTL    time.Duration
}

// Cleaner runs the fixed cleanup sequence. Each step is independent: a
// failing step is recorded and the next one still runs.
type Cleaner struct {
	cfg      Config
	store    Store
	options  configtypes.OptionsProvider
	locker   Locker
	observer Observer
	logger   *zap.Logger
	now      func() time.Time

	running sync.Mutex
}

// NewCleaner creates a cleaner. locker and observer may be nil.
func NewCleaner(cfg Config, store Store, options configtypes.OptionsProvider, locker Locker, observer Observer, logger *zap.Logger) *Cleaner {
	if cfg.KeepRevisions < 0 {
		cfg.KeepRevisions = DefaultKeepRevisions
	}
	if cfg.TrashRetention <= 0 {
		cfg.TrashRetention = DefaultTrashRetention
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	return &Cleaner{
		cfg:      cfg,
		store:    store,
		options:  options,
		locker:   locker,
		observer: observer,
		logger:   logger,
		now:      time.Now,
	}
}

type step struct {
	name string
	run  func(ctx context.Context) (int64, error)
	dst  *int64
}

func (c *Cleaner) steps(r *Result, mode string) []step {
	now := c.now().UTC()
	all := []step{
		{StepRevisions, func(ctx context.Context) (int64, error) {
			return c.store.DeleteOldRevisions(ctx, c.cfg.KeepRevisions)
		}, &r.RevisionsDeleted},
		{StepComments, c.store.DeleteSpamAndTrashComments, &r.SpamCommentsDeleted},
		{StepTrashPosts, func(ctx context.Context) (int64, error) {
			return c.store.DeleteTrashPosts(ctx, now.Add(-c.cfg.TrashRetention))
		}, &r.TrashPostsDeleted},
		{StepTransients, func(ctx context.Context) (int64, error) {
			return c.store.DeleteExpiredTransients(ctx, now)
		}, &r.TransientsDeleted},
		{StepOrphanedPostMeta, c.store.DeleteOrphanedPostMeta, &r.OrphanedPostMetaDeleted},
		{StepOrphanedCommentMeta, c.store.DeleteOrphanedCommentMeta, &r.OrphanedCommentMetaDeleted},
		{StepOrphanedRelationships, c.store.DeleteOrphanedTermRelationships, &r.OrphanedRelationshipsDeleted},
		{StepUnusedTags, c.store.DeleteUnusedTags, &r.UnusedTagsDeleted},
	}
	if mode == ModeComplete {
		return all
	}

	// Scheduled runs skip the orphan and tag sweeps
	scheduled := make([]step, 0, 4)
	for _, s := range all {
		switch s.name {
		case StepRevisions, StepComments, StepTrashPosts, StepTransients:
			scheduled = append(scheduled, s)
		}
	}
	return scheduled
}

// RunComplete runs every cleanup step followed by OPTIMIZE TABLE
func (c *Cleaner) RunComplete(ctx context.Context) (*Result, error) {
	return c.run(ctx, ModeComplete)
}

// RunScheduled runs the periodic subset of steps when auto_db_cleanup is on.
// A disabled toggle or a lock held elsewhere yields a skipped result.
func (c *Cleaner) RunScheduled(ctx context.Context) (*Result, error) {
	if !c.options.Options().AutoDBCleanup {
		c.logger.Debug("Scheduled database cleanup disabled by option")
		return &Result{Mode: ModeScheduled, Skipped: true}, nil
	}

	result, err := c.run(ctx, ModeScheduled)
	if errors.Is(err, ErrLockHeld) || errors.Is(err, ErrAlreadyRunning) {
		c.logger.Info("Scheduled database cleanup skipped", zap.Error(err))
		return &Result{Mode: ModeScheduled, Skipped: true}, nil
	}
	return result, err
}

func (c *Cleaner) run(ctx context.Context, mode string) (result *Result, err error) {
	if !c.running.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer c.running.Unlock()

	if c.locker != nil {
		acquired, lerr := c.locker.AcquireLock(ctx, LockName, c.cfg.InstanceID, c.cfg.LockTTL)
		if lerr != nil {
			return nil, fmt.Errorf("acquire cleanup lock: %w", lerr)
		}
		if !acquired {
			return nil, ErrLockHeld
		}
		defer func() {
			if rerr := c.locker.ReleaseLock(context.WithoutCancel(ctx), LockName, c.cfg.InstanceID); rerr != nil {
				c.logger.Warn("Failed to release cleanup lock", zap.Error(rerr))
			}
		}()
	}

	start := time.Now()
	result = &Result{Mode: mode}
	c.logger.Info("Database cleanup started", zap.String("mode", mode))

	defer func() {
		result.Duration = time.Since(start)
		if c.observer != nil {
			c.observer.ObserveRun(result, err)
		}
	}()

	for _, s := range c.steps(result, mode) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		n, serr := s.run(ctx)
		*s.dst = n
		if serr != nil {
			result.addFailure(s.name, "", serr)
			c.logger.Error("Cleanup step failed", zap.String("step", s.name), zap.Error(serr))
			continue
		}
		c.logger.Debug("Cleanup step finished", zap.String("step", s.name), zap.Int64("deleted", n))
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}
	c.optimizeTables(ctx, result)

	c.logger.Info("Database cleanup finished",
		zap.String("mode", mode),
		zap.Int64("rows_deleted", result.TotalDeleted()),
		zap.Int("tables_optimized", result.TablesOptimized),
		zap.Int("failures", len(result.Failures)),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

func (c *Cleaner) optimizeTables(ctx context.Context, result *Result) {
	tables, err := c.store.Tables(ctx)
	if err != nil {
		result.addFailure(StepOptimize, "", err)
		c.logger.Error("Failed to list tables", zap.Error(err))
		return
	}
	for _, table := range tables {
		if ctx.Err() != nil {
			return
		}
		if err := c.store.OptimizeTable(ctx, table); err != nil {
			result.addFailure(StepOptimize, table, err)
			c.logger.Warn("OPTIMIZE TABLE failed", zap.String("table", table), zap.Error(err))
			continue
		}
		result.TablesOptimized++
	}
}

// Stats reports table sizes and the row counts the cleanup would act on
func (c *Cleaner) Stats(ctx context.Context) (types.DatabaseStats, error) {
	var stats types.DatabaseStats

	tables, total, err := c.store.TableSizes(ctx)
	if err != nil {
		return stats, fmt.Errorf("table sizes: %w", err)
	}
	counts, err := c.store.Counts(ctx)
	if err != nil {
		return stats, fmt.Errorf("row counts: %w", err)
	}

	stats.Tables = tables
	stats.TotalSizeMB = total
	stats.Counts = counts
	return stats, nil
}
