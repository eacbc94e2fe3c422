package pagecache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/adminx/perfgate/internal/common/fsutil"
	"github.com/adminx/perfgate/internal/common/redis"
	"github.com/adminx/perfgate/pkg/types"
)

// Invalidation reasons
const (
	ReasonPostSaved   = "post_saved"
	ReasonMenuUpdated = "menu_updated"
	ReasonManual      = "manual"
	ReasonPeer        = "peer"
)

// ErrStaleGeneration is returned by Store when the cache was invalidated
// after the request started rendering
var ErrStaleGeneration = errors.New("cache invalidated during render")

// Index shares cache entries across gateway instances
type Index interface {
	IndexEntry(ctx context.Context, entry redis.IndexedEntry) error
	ClearIndex(ctx context.Context) error
	Entries(ctx context.Context) ([]redis.IndexedEntry, error)
}

// Broadcaster notifies peer gateways of an invalidation
type Broadcaster interface {
	PublishInvalidation(ctx context.Context, ev redis.InvalidationEvent) error
}

// Entry is one cached page
type Entry struct {
	Key     string
	Body    []byte
	ModTime time.Time
}

// Age returns how long ago the entry was written
func (e *Entry) Age() time.Duration {
	return time.Since(e.ModTime)
}

// Config configures a Manager
type Config struct {
	Dir         string
	Compression string
	// MaxAge of zero keeps entries until invalidated
	MaxAge     time.Duration
	InstanceID string
}

// Manager stores rendered pages as flat files keyed by the MD5 of the URI
type Manager struct {
	cfg         Config
	index       Index
	broadcaster Broadcaster
	logger      *zap.Logger

	// mu orders stores against invalidations; stores share it, InvalidateAll takes it exclusively
	mu         sync.RWMutex
	generation atomic.Uint64
}

// NewManager creates a page cache rooted at cfg.Dir. index and broadcaster
// are optional.
func NewManager(cfg Config, index Index, broadcaster Broadcaster, logger *zap.Logger) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Manager{
		cfg:         cfg,
		index:       index,
		broadcaster: broadcaster,
		logger:      logger,
	}, nil
}

// Key returns the cache key of a request URI (path plus query)
func Key(uri string) string {
	sum := md5.Sum([]byte(uri))
	return hex.EncodeToString(sum[:])
}

// Dir returns the cache directory
func (m *Manager) Dir() string {
	return m.cfg.Dir
}

// Generation returns the current invalidation counter. Capture it before
// rendering and pass it to Store.
func (m *Manager) Generation() uint64 {
	return m.generation.Load()
}

func (m *Manager) path(key, suffix string) string {
	return filepath.Join(m.cfg.Dir, key+".html"+suffix)
}

// Get returns the stored page for key. Expired and undecodable files are misses.
func (m *Manager) Get(key string) (*Entry, bool) {
	for _, suffix := range suffixesFor(m.cfg.Compression) {
		p := m.path(key, suffix)
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if m.cfg.MaxAge > 0 && time.Since(info.ModTime()) > m.cfg.MaxAge {
			m.logger.Debug("Cache entry expired", zap.String("key", key), zap.Time("mod_time", info.ModTime()))
			return nil, false
		}

		raw, err := os.ReadFile(p)
		if err != nil {
			if !os.IsNotExist(err) {
				m.logger.Warn("Failed to read cache file", zap.String("path", p), zap.Error(err))
			}
			continue
		}
		body, err := decompress(raw, p)
		if err != nil {
			m.logger.Warn("Removing undecodable cache file", zap.String("path", p), zap.Error(err))
			os.Remove(p)
			return nil, false
		}
		return &Entry{Key: key, Body: body, ModTime: info.ModTime()}, true
	}
	return nil, false
}

// Store persists body under key unless an invalidation happened since
// generation was captured.
func (m *Manager) Store(ctx context.Context, key, uri string, body []byte, generation uint64) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.generation.Load() != generation {
		return ErrStaleGeneration
	}

	data, suffix, err := compress(body, m.cfg.Compression)
	if err != nil {
		return err
	}
	if err := fsutil.WriteAtomic(m.path(key, suffix), data); err != nil {
		return err
	}
	// Drop any copy stored under a different compression
	for _, other := range suffixesFor(m.cfg.Compression) {
		if other != suffix {
			os.Remove(m.path(key, other))
		}
	}

	m.logger.Debug("Page cached",
		zap.String("key", key),
		zap.String("uri", uri),
		zap.Int("size", len(body)),
		zap.Int("disk_size", len(data)))

	if m.index != nil {
		entry := redis.IndexedEntry{
			Key:       key,
			URI:       uri,
			Size:      int64(len(body)),
			Instance:  m.cfg.InstanceID,
			CreatedAt: time.Now().UTC(),
		}
		if err := m.index.IndexEntry(ctx, entry); err != nil {
			m.logger.Warn("Failed to index cache entry", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

// InvalidateAll deletes every stored page, bumps the generation and tells
// peers to do the same. Returns the number of files removed.
func (m *Manager) InvalidateAll(ctx context.Context, reason string) (int, error) {
	removed, err := m.invalidateLocal(ctx, reason, true)

	if m.broadcaster != nil {
		ev := redis.InvalidationEvent{Instance: m.cfg.InstanceID, Reason: reason}
		if berr := m.broadcaster.PublishInvalidation(ctx, ev); berr != nil {
			m.logger.Warn("Failed to broadcast invalidation", zap.Error(berr))
		}
	}
	return removed, err
}

// HandlePeerInvalidation applies an invalidation published by another
// gateway. Events from this instance are ignored.
func (m *Manager) HandlePeerInvalidation(ev redis.InvalidationEvent) {
	if ev.Instance == m.cfg.InstanceID {
		return
	}
	// The shared index was already cleared by the publisher
	if _, err := m.invalidateLocal(context.Background(), ReasonPeer+":"+ev.Reason, false); err != nil {
		m.logger.Error("Peer invalidation failed", zap.String("peer", ev.Instance), zap.Error(err))
	}
}

// invalidateLocal removes the files and, when clearIndex is set, the shared
// index entries under the exclusive lock, so no store lands between the two.
func (m *Manager) invalidateLocal(ctx context.Context, reason string, clearIndex bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.generation.Add(1)
	removed, err := fsutil.RemoveFiles(m.cfg.Dir)
	if clearIndex && m.index != nil {
		if ierr := m.index.ClearIndex(ctx); ierr != nil {
			m.logger.Warn("Failed to clear cache index", zap.Error(ierr))
		}
	}
	if err != nil {
		m.logger.Error("Page cache invalidation incomplete",
			zap.String("reason", reason),
			zap.Int("removed", removed),
			zap.Error(err))
		return removed, err
	}

	m.logger.Info("Page cache invalidated",
		zap.String("reason", reason),
		zap.Int("removed", removed),
		zap.Uint64("generation", m.generation.Load()))
	return removed, nil
}

// OnPostSaved invalidates the cache unless the save is a revision
func (m *Manager) OnPostSaved(ctx context.Context, postID int64, isRevision bool) (int, error) {
	if isRevision {
		m.logger.Debug("Ignoring revision save", zap.Int64("post_id", postID))
		return 0, nil
	}
	return m.InvalidateAll(ctx, ReasonPostSaved)
}

// OnMenuUpdated invalidates the cache
func (m *Manager) OnMenuUpdated(ctx context.Context) (int, error) {
	return m.InvalidateAll(ctx, ReasonMenuUpdated)
}

// Stats reports the number and total size of cache files
func (m *Manager) Stats() (types.CacheStats, error) {
	files, size, err := fsutil.DirStats(m.cfg.Dir)
	if err != nil {
		return types.CacheStats{CacheDir: m.cfg.Dir}, fmt.Errorf("cache stats: %w", err)
	}
	return types.CacheStats{TotalFiles: files, TotalSize: size, CacheDir: m.cfg.Dir}, nil
}

// Entries lists cached pages. With an index the URIs are known; otherwise
// only keys and sizes from the directory are returned.
func (m *Manager) Entries(ctx context.Context) ([]redis.IndexedEntry, error) {
	if m.index != nil {
		entries, err := m.index.Entries(ctx)
		if err != nil {
			return nil, err
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.After(entries[j].CreatedAt) })
		return entries, nil
	}

	dirEntries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("list cache directory: %w", err)
	}
	var entries []redis.IndexedEntry
	for _, e := range dirEntries {
		name := e.Name()
		idx := strings.Index(name, ".html")
		if e.IsDir() || idx <= 0 {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		entries = append(entries, redis.IndexedEntry{
			Key:       name[:idx],
			Size:      info.Size(),
			Instance:  m.cfg.InstanceID,
			CreatedAt: info.ModTime().UTC(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.After(entries[j].CreatedAt) })
	return entries, nil
}
