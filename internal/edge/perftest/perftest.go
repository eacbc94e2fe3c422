package perftest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"

	"github.com/adminx/perfgate/internal/common/htmlprocessor"
	"github.com/adminx/perfgate/internal/edge/origin"
)

// ErrOriginStatus is returned when the tested page does not answer 200
var ErrOriginStatus = errors.New("origin returned non-200 status")

// HeaderCache is set by the gateway on every page it answers
const HeaderCache = "X-Cache"

// gatewayAttempts covers a first request that only populates the cache
const gatewayAttempts = 2

// Fetcher performs a plain GET. The origin client and a client pointed at
// the gateway's own listener both satisfy it.
type Fetcher interface {
	Get(uri, host string) (*origin.Response, error)
}

// Pinger measures a database round trip
type Pinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

// HostMemory is a snapshot of system memory
type HostMemory struct {
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"used_percent"`
}

// Result is the report of one performance test
type Result struct {
	URI            string                `json:"uri"`
	StatusCode     int                   `json:"status_code"`
	LoadTime       float64               `json:"load_time"`
	CachedLoadTime *float64              `json:"cached_load_time,omitempty"`
	CacheStatus    string                `json:"cache_status,omitempty"`
	PageSize       int                   `json:"page_size"`
	MemoryUsage    uint64                `json:"memory_usage"`
	HostMemory     *HostMemory           `json:"host_memory,omitempty"`
	DBRoundTrip    *float64              `json:"db_round_trip,omitempty"`
	Page           htmlprocessor.Summary `json:"page"`
}

// Config configures a Tester
type Config struct {
	// Host is sent to the origin so it renders the public site
	Host string
	// DefaultURI is tested when none is given
	DefaultURI string
}

// Tester times a page render and samples resource usage
type Tester struct {
	cfg     Config
	fetcher Fetcher
	gateway Fetcher
	db      Pinger
	logger  *zap.Logger
}

// NewTester creates a Tester. fetcher talks to the origin directly, gateway
// to the public listener. gateway and db may be nil.
func NewTester(cfg Config, fetcher, gateway Fetcher, db Pinger, logger *zap.Logger) *Tester {
	if cfg.DefaultURI == "" {
		cfg.DefaultURI = "/"
	}
	return &Tester{
		cfg:     cfg,
		fetcher: fetcher,
		gateway: gateway,
		db:      db,
		logger:  logger,
	}
}

// Run renders uri on the origin, times the same page through the gateway and
// reports memory and database latency. Times are in milliseconds.
func (t *Tester) Run(ctx context.Context, uri string) (*Result, error) {
	if uri == "" {
		uri = t.cfg.DefaultURI
	}

	resp, err := t.fetcher.Get(uri, t.cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("performance test: %w", err)
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("%w: %d", ErrOriginStatus, resp.StatusCode)
	}

	result := &Result{
		URI:        uri,
		StatusCode: resp.StatusCode,
		LoadTime:   millis(resp.Duration),
		PageSize:   len(resp.Body),
	}

	if resp.IsHTML() {
		if summary, err := htmlprocessor.Summarize(resp.Body); err == nil {
			result.Page = summary
		} else {
			t.logger.Debug("Could not summarize tested page", zap.Error(err))
		}
	}

	if t.gateway != nil {
		t.timeGateway(uri, result)
	}

	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfoWithContext(ctx); err == nil {
			result.MemoryUsage = info.RSS
		}
	} else {
		t.logger.Warn("Failed to read process memory", zap.Error(err))
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		result.HostMemory = &HostMemory{
			Total:       vm.Total,
			Used:        vm.Used,
			UsedPercent: round2(vm.UsedPercent),
		}
	} else {
		t.logger.Warn("Failed to read host memory", zap.Error(err))
	}

	if t.db != nil {
		if rtt, err := t.db.Ping(ctx); err == nil {
			ms := millis(rtt)
			result.DBRoundTrip = &ms
		} else {
			t.logger.Warn("Database ping failed during performance test", zap.Error(err))
		}
	}

	t.logger.Info("Performance test completed",
		zap.String("uri", uri),
		zap.Float64("load_time_ms", result.LoadTime),
		zap.String("cache_status", result.CacheStatus),
		zap.Int("page_size", result.PageSize),
		zap.Uint64("memory_usage", result.MemoryUsage))

	return result, nil
}

// timeGateway requests uri through the gateway until it is served from the
// page cache. The last attempt is reported whatever its cache status.
func (t *Tester) timeGateway(uri string, result *Result) {
	for attempt := 1; attempt <= gatewayAttempts; attempt++ {
		resp, err := t.gateway.Get(uri, t.cfg.Host)
		if err != nil {
			t.logger.Warn("Gateway request failed during performance test", zap.Error(err))
			return
		}
		status := resp.Header(HeaderCache)
		if status != "HIT" && attempt < gatewayAttempts {
			continue
		}
		if resp.StatusCode != 200 {
			t.logger.Debug("Gateway answered non-200 during performance test", zap.Int("status_code", resp.StatusCode))
			return
		}
		cached := millis(resp.Duration)
		result.CachedLoadTime = &cached
		result.CacheStatus = status
		return
	}
}

func millis(d time.Duration) float64 {
	return round2(float64(d) / float64(time.Millisecond))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
