package config

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/adminx/perfgate/internal/common/configtypes"
)

// OptionsSource loads stored feature toggles, typically from wp_options.
// Values absent from the store keep the base value passed in.
type OptionsSource interface {
	LoadOptions(ctx context.Context, base FeatureOptions) (FeatureOptions, error)
}

// LiveOptions serves the current feature toggles to request handlers.
// Reads are lock-free; Refresh swaps the whole set atomically.
type LiveOptions struct {
	current atomic.Pointer[FeatureOptions]
	base    FeatureOptions
	source  OptionsSource
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLiveOptions creates a provider seeded with base. source may be nil,
// in which case the toggles never change after startup.
func NewLiveOptions(base FeatureOptions, source OptionsSource, logger *zap.Logger) *LiveOptions {
	ctx, cancel := context.WithCancel(context.Background())
	p := &LiveOptions{
		base:   base,
		source: source,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	opts := base
	p.current.Store(&opts)
	return p
}

// Options returns the active toggles
func (p *LiveOptions) Options() FeatureOptions {
	return *p.current.Load()
}

// Set replaces the active toggles after validating quality ranges
func (p *LiveOptions) Set(opts FeatureOptions) error {
	if err := ValidateFeatures(opts); err != nil {
		return err
	}
	p.current.Store(&opts)
	return nil
}

// Refresh reloads toggles from the source. An out of range quality keeps its
// active value while the remaining toggles still apply.
func (p *LiveOptions) Refresh(ctx context.Context) error {
	if p.source == nil {
		return nil
	}

	opts, err := p.source.LoadOptions(ctx, p.base)
	if err != nil {
		return err
	}

	current := p.Options()
	if !configtypes.ValidQuality(opts.ImageQuality) {
		p.logger.Warn("Ignoring out of range image quality", zap.Int("image_quality", opts.ImageQuality))
		opts.ImageQuality = current.ImageQuality
	}
	if !configtypes.ValidQuality(opts.WebPQuality) {
		p.logger.Warn("Ignoring out of range webp quality", zap.Int("webp_quality", opts.WebPQuality))
		opts.WebPQuality = current.WebPQuality
	}
	if err := p.Set(opts); err != nil {
		return err
	}

	p.logger.Debug("Feature options refreshed",
		zap.Bool("cache_enabled", opts.CacheEnabled),
		zap.Bool("optimize_enabled", opts.OptimizeEnabled),
		zap.Bool("webp_enabled", opts.WebPEnabled))
	return nil
}

// Start refreshes once synchronously and then every interval in the background
func (p *LiveOptions) Start(interval time.Duration) {
	if p.source == nil {
		return
	}

	if err := p.Refresh(p.ctx); err != nil {
		p.logger.Warn("Initial options refresh failed, using configured defaults", zap.Error(err))
	}

	if interval <= 0 {
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := p.Refresh(p.ctx); err != nil {
					p.logger.Warn("Options refresh failed", zap.Error(err))
				}
			case <-p.ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the background refresh loop
func (p *LiveOptions) Shutdown() {
	p.cancel()
	p.wg.Wait()
}
