package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/franz/music-librarian/internal/store"
	"github.com/franz/music-librarian/internal/util"
)

const (
	libraryRoot = "/library"
	cacheRoot   = "/cache"
)

type fixture struct {
	db      *store.Store
	fs      afero.Fs
	library afero.Fs
	clock   time.Time
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return &fixture{
		db:      db,
		fs:      afero.NewMemMapFs(),
		library: afero.NewMemMapFs(),
		clock:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

// addTrack writes a canonical file of size bytes and catalogs it
func (f *fixture) addTrack(t *testing.T, artist, title string, size int, added time.Time) store.Track {
	t.Helper()
	path := filepath.Join(libraryRoot, artist, "Singles", title+".mp3")
	if err := f.library.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(f.library, path, []byte(strings.Repeat("x", size)), 0644); err != nil {
		t.Fatal(err)
	}
	track := store.Track{
		CanonicalPath: path,
		SourcePath:    "/incoming/" + artist + " - " + title + ".mp3",
		Artist:        artist,
		AlbumBucket:   "Singles",
		Title:         title,
		Extension:     "mp3",
		SizeBytes:     int64(size),
		ContentHash:   fmt.Sprintf("%s-%s", artist, title),
		AddedAt:       store.NewTime(added),
	}
	ctx := context.Background()
	if _, err := f.db.UpsertBatch(ctx, []store.Track{track}); err != nil {
		t.Fatal(err)
	}
	if err := f.db.RecomputeAggregates(ctx); err != nil {
		t.Fatal(err)
	}
	return track
}

func (f *fixture) manager(t *testing.T, budget int64, top, recent int) *Manager {
	t.Helper()
	m, err := New(Config{
		Root:        cacheRoot,
		LibraryRoot: libraryRoot,
		Budget:      budget,
		TopArtists:  top,
		Recent:      recent,
	}, f.db, WithFs(f.fs), WithLibraryFs(f.library), WithClock(func() time.Time { return f.clock }))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return m
}

func (f *fixture) exists(t *testing.T, path string) bool {
	t.Helper()
	ok, err := afero.Exists(f.fs, path)
	if err != nil {
		t.Fatal(err)
	}
	return ok
}

func TestRefreshCopiesDesiredSet(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	f.addTrack(t, "Moby", "Porcelain", 100, base)
	f.addTrack(t, "Moby", "Natural Blues", 100, base.Add(time.Minute))
	f.addTrack(t, "Air", "La Femme d'Argent", 100, base.Add(2*time.Minute))
	f.addTrack(t, "Bonobo", "Kerala", 100, base.Add(3*time.Minute))

	m := f.manager(t, 10_000, 1, 1)
	res, err := m.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	// Moby is the top artist (2 tracks); Bonobo is the most recent
	if res.Desired != 3 || res.Copied != 3 {
		t.Errorf("Desired = %d, Copied = %d; want 3, 3", res.Desired, res.Copied)
	}
	if res.TotalBytes != 300 || res.Entries != 3 {
		t.Errorf("TotalBytes = %d, Entries = %d", res.TotalBytes, res.Entries)
	}

	for _, p := range []string{
		"/cache/Moby/Singles/Porcelain.mp3",
		"/cache/Moby/Singles/Natural Blues.mp3",
		"/cache/Bonobo/Singles/Kerala.mp3",
	} {
		if !f.exists(t, p) {
			t.Errorf("expected cached file %s", p)
		}
	}
	if f.exists(t, "/cache/Air/Singles/La Femme d'Argent.mp3") {
		t.Error("undesired track was cached")
	}

	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Hot != 2 || stats.Recent != 1 || stats.TotalBytes != 300 {
		t.Errorf("Stats = %+v", stats)
	}

	// No temp files are left behind
	err = afero.Walk(f.fs, cacheRoot, func(path string, info os.FileInfo, err error) error {
		if err == nil && strings.HasSuffix(path, ".part") {
			t.Errorf("leftover temp file %s", path)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestRefreshIsIdempotent(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	f.addTrack(t, "Moby", "Porcelain", 100, time.Now())

	m := f.manager(t, 10_000, 1, 1)
	if _, err := m.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	f.clock = f.clock.Add(time.Hour)
	res, err := m.Refresh(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Copied != 0 || res.Touched != 1 || res.Entries != 1 {
		t.Errorf("second refresh = %+v", res)
	}

	info, err := f.fs.Stat("/cache/Moby/Singles/Porcelain.mp3")
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(f.clock) {
		t.Errorf("mtime = %v, want touched to %v", info.ModTime(), f.clock)
	}
}

func TestRefreshRespectsBudget(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		f.addTrack(t, "Artist", fmt.Sprintf("Track %d", i), 100, base.Add(time.Duration(i)*time.Minute))
	}

	m := f.manager(t, 250, 1, 0)
	res, err := m.Refresh(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalBytes > 250 {
		t.Errorf("TotalBytes = %d exceeds budget", res.TotalBytes)
	}
	if res.Copied != 2 || res.OverBudget != 3 {
		t.Errorf("Copied = %d, OverBudget = %d; want 2, 3", res.Copied, res.OverBudget)
	}
}

func TestRefreshEvictsOldestFirst(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	f.addTrack(t, "A", "Old", 100, base)
	f.addTrack(t, "B", "Middle", 100, base.Add(time.Minute))

	// Both recent tracks cached
	if _, err := f.manager(t, 1000, 0, 2).Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	// A newer track arrives and the budget only fits two files
	f.clock = f.clock.Add(time.Hour)
	f.addTrack(t, "C", "New", 100, base.Add(2*time.Minute))

	// Age the entry for the oldest track so it is first in line
	old := "/cache/A/Singles/Old.mp3"
	if err := f.fs.Chtimes(old, base, base); err != nil {
		t.Fatal(err)
	}

	res, err := f.manager(t, 200, 0, 1).Refresh(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Copied != 1 || res.Evicted != 1 || res.TotalBytes != 200 {
		t.Errorf("refresh = %+v", res)
	}
	if f.exists(t, old) {
		t.Error("oldest entry should have been evicted")
	}
	if !f.exists(t, "/cache/B/Singles/Middle.mp3") || !f.exists(t, "/cache/C/Singles/New.mp3") {
		t.Error("newer entries should remain")
	}
}

func TestRefreshDropsStaleEntries(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	f.addTrack(t, "Moby", "Porcelain", 100, time.Now())

	// Entry whose file vanished
	vanished := store.CacheEntry{CachedPath: "/cache/gone.mp3", Tier: store.TierHot, SourceCanonicalPath: "/library/gone.mp3", ContentHash: "gone"}
	// Entry whose track is not cataloged any more
	orphan := store.CacheEntry{CachedPath: "/cache/orphan.mp3", Tier: store.TierRecent, SourceCanonicalPath: "/library/orphan.mp3", ContentHash: "orphan", SizeBytes: 3}
	// Entry pointing outside the root: only the row is forgotten
	outside := store.CacheEntry{CachedPath: "/library/Moby/Singles/Porcelain.mp3", Tier: store.TierHot, SourceCanonicalPath: "/library/Moby/Singles/Porcelain.mp3", ContentHash: "Moby-Porcelain"}
	for _, e := range []store.CacheEntry{vanished, orphan, outside} {
		if err := f.db.UpsertCacheEntry(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	if err := afero.WriteFile(f.fs, orphan.CachedPath, []byte("abc"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(f.fs, outside.CachedPath, []byte("keep"), 0644); err != nil {
		t.Fatal(err)
	}

	res, err := f.manager(t, 10_000, 1, 0).Refresh(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Dropped != 3 {
		t.Errorf("Dropped = %d, want 3", res.Dropped)
	}
	if f.exists(t, orphan.CachedPath) {
		t.Error("orphaned cache file should be removed")
	}
	if !f.exists(t, outside.CachedPath) {
		t.Error("file outside the cache root must never be removed")
	}
	if res.Copied != 1 {
		t.Errorf("Copied = %d, want 1", res.Copied)
	}
}

func TestRefreshSkipsMissingCanonicalFile(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	track := f.addTrack(t, "Moby", "Porcelain", 100, time.Now())
	if err := f.library.Remove(track.CanonicalPath); err != nil {
		t.Fatal(err)
	}

	res, err := f.manager(t, 10_000, 1, 0).Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh should tolerate a missing canonical file: %v", err)
	}
	if res.Failed != 1 || res.Copied != 0 {
		t.Errorf("refresh = %+v", res)
	}
}

func TestClear(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	track := f.addTrack(t, "Moby", "Porcelain", 100, time.Now())

	m := f.manager(t, 10_000, 1, 0)
	if _, err := m.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 0 || stats.TotalBytes != 0 {
		t.Errorf("Stats after clear = %+v", stats)
	}
	children, err := afero.ReadDir(f.fs, cacheRoot)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 0 {
		t.Errorf("cache root still has %d children", len(children))
	}

	// Library data is untouched
	if ok, _ := afero.Exists(f.library, track.CanonicalPath); !ok {
		t.Error("Clear must not touch canonical files")
	}

	// A cold cache refills on the next refresh
	res, err := m.Refresh(ctx)
	if err != nil || res.Copied != 1 {
		t.Errorf("refresh after clear = %+v, %v", res, err)
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"empty root", Config{Root: " ", Budget: 1}},
		{"inside library", Config{Root: "/library/.cache", LibraryRoot: "/library", Budget: 1}},
		{"contains library", Config{Root: "/", LibraryRoot: "/library", Budget: 1}},
		{"negative budget", Config{Root: "/cache", Budget: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, nil)
			if !errors.Is(err, util.ErrInvalidConfig) {
				t.Errorf("New() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestCachedPathOutsideLibrary(t *testing.T) {
	m, err := New(Config{Root: "/cache", LibraryRoot: "/library", Budget: 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	got := m.cachedPath(store.Track{CanonicalPath: "/elsewhere/a.mp3", ContentHash: "abc", Extension: "mp3"})
	if got != "/cache/_by-hash/abc.mp3" {
		t.Errorf("cachedPath = %s", got)
	}
}
