// Package cache maintains a bounded fast tier holding copies of the tracks
// most likely to be played: every track of the top artists (tier "hot") and
// the most recently added tracks (tier "recent").
//
// # Size Management
//
// The desired set is capped to the byte budget in priority order (hot before
// recent). After copying, entries are evicted oldest modification time first
// until the tier fits the budget. Entries that stay desired are touched on
// every refresh, so eviction falls on tracks that left the desired set.
//
// The tier is rebuildable. Clearing it, or deleting its files by hand, never
// loses library data; the next refresh copies what is missing.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/franz/music-librarian/internal/report"
	"github.com/franz/music-librarian/internal/store"
	"github.com/franz/music-librarian/internal/util"
)

// Catalog is the part of the catalog store the cache reads and writes
type Catalog interface {
	TopArtists(ctx context.Context, n int) ([]store.Artist, error)
	TracksByArtists(ctx context.Context, artists []string) ([]store.Track, error)
	RecentTracks(ctx context.Context, limit int) ([]store.Track, error)
	LookupByHash(ctx context.Context, hash string) (*store.Track, error)
	CacheEntries(ctx context.Context) ([]store.CacheEntry, error)
	UpsertCacheEntry(ctx context.Context, e store.CacheEntry) error
	DeleteCacheEntry(ctx context.Context, cachedPath string) error
	ClearCacheEntries(ctx context.Context) error
}

// Config configures the cache tier
type Config struct {
	Root        string // cache tier directory
	LibraryRoot string // canonical library root; cached files mirror its layout
	Budget      int64  // maximum bytes held in the tier
	TopArtists  int    // artists whose full catalogue is kept hot
	Recent      int    // most recently added tracks kept
}

// Option customises a Manager
type Option func(*Manager)

// WithFs sets the filesystem holding the cache tier (default: OS)
func WithFs(fs afero.Fs) Option {
	return func(m *Manager) { m.fs = fs }
}

// WithLibraryFs sets the filesystem the canonical files are read from (default: OS)
func WithLibraryFs(fs afero.Fs) Option {
	return func(m *Manager) { m.library = fs }
}

// WithEventLogger records cache changes in the run's event log
func WithEventLogger(l *report.EventLogger) Option {
	return func(m *Manager) { m.events = l }
}

// WithClock overrides time.Now, used for touch and cached_at stamps
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager refreshes, inspects and clears the cache tier
type Manager struct {
	cfg     Config
	db      Catalog
	fs      afero.Fs
	library afero.Fs
	events  *report.EventLogger
	now     func() time.Time
}

// RefreshResult summarises one refresh
type RefreshResult struct {
	Desired     int   `json:"desired"`
	Copied      int   `json:"copied"`
	Touched     int   `json:"touched"`
	Dropped     int   `json:"dropped"`
	Evicted     int   `json:"evicted"`
	OverBudget  int   `json:"over_budget"`
	Failed      int   `json:"failed"`
	BytesCopied int64 `json:"bytes_copied"`
	TotalBytes  int64 `json:"total_bytes"`
	Entries     int   `json:"entries"`
}

// Stats describes current cache usage
type Stats struct {
	Root       string `json:"root"`
	Entries    int    `json:"entries"`
	Hot        int    `json:"hot"`
	Recent     int    `json:"recent"`
	TotalBytes int64  `json:"total_bytes"`
	Budget     int64  `json:"budget"`
}

// New builds a cache manager. The tier root must not overlap the library.
func New(cfg Config, db Catalog, opts ...Option) (*Manager, error) {
	root := strings.TrimSpace(cfg.Root)
	if root == "" {
		return nil, fmt.Errorf("%w: cache dir is empty", util.ErrInvalidConfig)
	}
	cfg.Root = filepath.Clean(root)
	if cfg.LibraryRoot != "" {
		cfg.LibraryRoot = filepath.Clean(cfg.LibraryRoot)
		if util.IsWithin(cfg.LibraryRoot, cfg.Root) || util.IsWithin(cfg.Root, cfg.LibraryRoot) {
			return nil, fmt.Errorf("%w: cache dir %s overlaps library %s", util.ErrInvalidConfig, cfg.Root, cfg.LibraryRoot)
		}
	}
	if cfg.Budget < 0 {
		return nil, fmt.Errorf("%w: negative cache budget", util.ErrInvalidConfig)
	}

	m := &Manager{
		cfg:     cfg,
		db:      db,
		fs:      afero.NewOsFs(),
		library: afero.NewOsFs(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Root returns the cache tier directory
func (m *Manager) Root() string {
	return m.cfg.Root
}

type desiredTrack struct {
	track store.Track
	tier  string
}

// Refresh brings the tier in line with the current catalog. Per-file copy
// failures are counted and logged; only catalog errors abort the refresh.
func (m *Manager) Refresh(ctx context.Context) (*RefreshResult, error) {
	result := &RefreshResult{}

	desired, order, err := m.desiredSet(ctx)
	if err != nil {
		return nil, err
	}

	if err := m.fs.MkdirAll(m.cfg.Root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	// Cap the desired set to the budget, highest priority first
	var planned int64
	for _, path := range order {
		d := desired[path]
		if planned+d.track.SizeBytes > m.cfg.Budget {
			delete(desired, path)
			result.OverBudget++
			continue
		}
		planned += d.track.SizeBytes
	}
	result.Desired = len(desired)

	entries, err := m.db.CacheEntries(ctx)
	if err != nil {
		return nil, err
	}

	now := m.now()
	present := make(map[string]bool, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		keep, err := m.reconcile(ctx, e, desired, now, result)
		if err != nil {
			return nil, err
		}
		if keep {
			present[e.SourceCanonicalPath] = true
		}
	}

	for _, path := range order {
		d, ok := desired[path]
		if !ok || present[path] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entry, err := m.copyTrack(ctx, d, now)
		if err != nil {
			result.Failed++
			util.WarnLog("Cache: failed to copy %s: %v", d.track.CanonicalPath, err)
			m.events.LogError(report.EventCache, d.track.CanonicalPath, err)
			continue
		}
		if err := m.db.UpsertCacheEntry(ctx, *entry); err != nil {
			m.removeFile(entry.CachedPath)
			return nil, err
		}
		result.Copied++
		result.BytesCopied += entry.SizeBytes
		m.events.LogCache("copy", entry.CachedPath, d.tier, entry.SizeBytes)
	}

	if err := m.evict(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// desiredSet returns the tracks the tier should hold keyed by canonical path,
// plus the keys in priority order
func (m *Manager) desiredSet(ctx context.Context) (map[string]desiredTrack, []string, error) {
	desired := make(map[string]desiredTrack)
	var order []string

	add := func(tracks []store.Track, tier string) {
		for _, t := range tracks {
			if _, ok := desired[t.CanonicalPath]; ok {
				continue
			}
			desired[t.CanonicalPath] = desiredTrack{track: t, tier: tier}
			order = append(order, t.CanonicalPath)
		}
	}

	if m.cfg.TopArtists > 0 {
		artists, err := m.db.TopArtists(ctx, m.cfg.TopArtists)
		if err != nil {
			return nil, nil, err
		}
		// Keep artist rank order; TracksByArtists sorts by name
		for _, a := range artists {
			tracks, err := m.db.TracksByArtists(ctx, []string{a.Name})
			if err != nil {
				return nil, nil, err
			}
			add(tracks, store.TierHot)
		}
	}

	if m.cfg.Recent > 0 {
		tracks, err := m.db.RecentTracks(ctx, m.cfg.Recent)
		if err != nil {
			return nil, nil, err
		}
		add(tracks, store.TierRecent)
	}

	return desired, order, nil
}

// reconcile handles one existing entry and reports whether it stays
func (m *Manager) reconcile(ctx context.Context, e store.CacheEntry, desired map[string]desiredTrack, now time.Time, result *RefreshResult) (bool, error) {
	drop := func(reason string, removeFile bool) (bool, error) {
		if removeFile {
			m.removeFile(e.CachedPath)
		}
		if err := m.db.DeleteCacheEntry(ctx, e.CachedPath); err != nil {
			return false, err
		}
		result.Dropped++
		m.events.LogCache("drop", e.CachedPath, reason, e.SizeBytes)
		return false, nil
	}

	if !util.IsWithin(m.cfg.Root, e.CachedPath) {
		// Forget the row, never touch the file
		return drop("outside cache root", false)
	}

	if _, err := m.fs.Stat(e.CachedPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return drop("file vanished", false)
		}
		return false, fmt.Errorf("failed to stat cache entry: %w", err)
	}

	track, err := m.db.LookupByHash(ctx, e.ContentHash)
	if err != nil {
		return false, err
	}
	if track == nil || track.CanonicalPath != e.SourceCanonicalPath {
		return drop("track left the catalog", true)
	}

	d, ok := desired[e.SourceCanonicalPath]
	if !ok {
		// No longer desired; left for eviction
		return true, nil
	}

	if err := m.fs.Chtimes(e.CachedPath, now, now); err != nil {
		return false, fmt.Errorf("failed to touch cache entry: %w", err)
	}
	if e.Tier != d.tier {
		e.Tier = d.tier
		if err := m.db.UpsertCacheEntry(ctx, e); err != nil {
			return false, err
		}
	}
	result.Touched++
	return true, nil
}

// cachedPath mirrors the library layout under the cache root. Tracks outside
// the library root fall back to a hash-named file.
func (m *Manager) cachedPath(t store.Track) string {
	if m.cfg.LibraryRoot != "" && util.IsWithin(m.cfg.LibraryRoot, t.CanonicalPath) {
		if rel, err := filepath.Rel(m.cfg.LibraryRoot, t.CanonicalPath); err == nil && rel != "." {
			return filepath.Join(m.cfg.Root, rel)
		}
	}
	name := t.ContentHash
	if t.Extension != "" {
		name += "." + t.Extension
	}
	return filepath.Join(m.cfg.Root, "_by-hash", name)
}

// copyTrack copies a canonical file into the tier via a temp file and rename
func (m *Manager) copyTrack(ctx context.Context, d desiredTrack, now time.Time) (*store.CacheEntry, error) {
	dest := m.cachedPath(d.track)
	if !util.IsWithin(m.cfg.Root, dest) {
		return nil, fmt.Errorf("%w: cache path %s escapes %s", util.ErrInvalidConfig, dest, m.cfg.Root)
	}

	src, err := m.library.Open(d.track.CanonicalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open canonical file: %w", err)
	}
	defer src.Close()

	dir := filepath.Dir(dest)
	if err := m.fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := afero.TempFile(m.fs, dir, ".cache-*.part")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	written, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: src})
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		m.fs.Remove(tmpPath)
		return nil, fmt.Errorf("failed to copy into cache: %w", err)
	}

	if err := m.fs.Rename(tmpPath, dest); err != nil {
		m.fs.Remove(tmpPath)
		return nil, fmt.Errorf("failed to finalize cache file: %w", err)
	}
	if err := m.fs.Chtimes(dest, now, now); err != nil {
		util.DebugLog("Cache: failed to set mtime on %s: %v", dest, err)
	}

	return &store.CacheEntry{
		CachedPath:          dest,
		Tier:                d.tier,
		SourceCanonicalPath: d.track.CanonicalPath,
		ContentHash:         d.track.ContentHash,
		CachedAt:            store.NewTime(now),
		SizeBytes:           written,
	}, nil
}

type lruEntry struct {
	entry   store.CacheEntry
	modTime time.Time
	size    int64
}

// evict removes entries oldest mtime first until the tier fits the budget
func (m *Manager) evict(ctx context.Context, result *RefreshResult) error {
	entries, err := m.db.CacheEntries(ctx)
	if err != nil {
		return err
	}

	var total int64
	lru := make([]lruEntry, 0, len(entries))
	for _, e := range entries {
		info, err := m.fs.Stat(e.CachedPath)
		if err != nil {
			continue
		}
		lru = append(lru, lruEntry{entry: e, modTime: info.ModTime(), size: info.Size()})
		total += info.Size()
	}
	sort.SliceStable(lru, func(i, j int) bool {
		if lru[i].modTime.Equal(lru[j].modTime) {
			return lru[i].entry.CachedPath < lru[j].entry.CachedPath
		}
		return lru[i].modTime.Before(lru[j].modTime)
	})

	kept := len(lru)
	for _, e := range lru {
		if total <= m.cfg.Budget {
			break
		}
		m.removeFile(e.entry.CachedPath)
		if err := m.db.DeleteCacheEntry(ctx, e.entry.CachedPath); err != nil {
			return err
		}
		total -= e.size
		kept--
		result.Evicted++
		m.events.LogCache("evict", e.entry.CachedPath, "over budget", e.size)
	}

	result.TotalBytes = total
	result.Entries = kept
	return nil
}

// removeFile deletes a cached file, refusing anything outside the root
func (m *Manager) removeFile(path string) {
	if !util.IsWithin(m.cfg.Root, path) || filepath.Clean(path) == m.cfg.Root {
		util.WarnLog("Cache: refusing to remove %s outside %s", path, m.cfg.Root)
		return
	}
	if err := m.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		util.WarnLog("Cache: failed to remove %s: %v", path, err)
	}
}

// Clear wipes the tier: every file under the root and every entry row
func (m *Manager) Clear(ctx context.Context) error {
	children, err := afero.ReadDir(m.fs, m.cfg.Root)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to list cache dir: %w", err)
	}
	for _, child := range children {
		path := filepath.Join(m.cfg.Root, child.Name())
		if err := m.fs.RemoveAll(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	if err := m.db.ClearCacheEntries(ctx); err != nil {
		return err
	}
	m.events.LogCache("clear", m.cfg.Root, "", 0)
	return nil
}

// Stats reports what the tier currently holds
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	entries, err := m.db.CacheEntries(ctx)
	if err != nil {
		return nil, err
	}

	s := &Stats{Root: m.cfg.Root, Budget: m.cfg.Budget}
	for _, e := range entries {
		info, err := m.fs.Stat(e.CachedPath)
		if err != nil {
			continue
		}
		s.Entries++
		s.TotalBytes += info.Size()
		switch e.Tier {
		case store.TierHot:
			s.Hot++
		case store.TierRecent:
			s.Recent++
		}
	}
	return s, nil
}

// ctxReader aborts a copy once ctx is cancelled
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
