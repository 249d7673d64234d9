package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/franz/music-librarian/internal/util"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeTrack(artist, bucket, title, hash string, added time.Time) Track {
	return Track{
		CanonicalPath: filepath.Join("/library", artist, bucket, title+".mp3"),
		SourcePath:    filepath.Join("/incoming", artist+" - "+title+".mp3"),
		Artist:        artist,
		AlbumBucket:   bucket,
		Title:         title,
		Extension:     "mp3",
		SizeBytes:     1000,
		ContentHash:   hash,
		AddedAt:       NewTime(added),
		RunID:         "run-test",
	}
}

func TestStoreOpenAndMigrate(t *testing.T) {
	store := setupTestStore(t)

	version, err := store.getSchemaVersion()
	if err != nil {
		t.Fatalf("failed to get schema version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("expected schema version %d, got %d", currentSchemaVersion, version)
	}

	tables := []string{"tracks", "tracks_fts", "artists", "albums", "cache_entries", "runs", "schema_version"}
	for _, table := range tables {
		var count int
		err := store.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil {
			t.Fatalf("failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("expected table %s to exist", table)
		}
	}

	if err := store.CheckIntegrity(context.Background()); err != nil {
		t.Errorf("integrity check failed on fresh catalog: %v", err)
	}
}

func TestReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := s.UpsertBatch(ctx, []Track{makeTrack("A", "Singles", "One", "h1", time.Now())}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = OpenWithOptions(path, &OpenOptions{ReadOnly: true})
	if err != nil {
		t.Fatalf("read-only reopen failed: %v", err)
	}
	defer s.Close()

	n, err := s.TotalTracks(ctx)
	if err != nil || n != 1 {
		t.Errorf("TotalTracks = %d, %v; want 1", n, err)
	}
}

func TestCheckFTS5(t *testing.T) {
	if err := CheckFTS5(); err != nil {
		t.Errorf("FTS5 should be available: %v", err)
	}
}

func TestUpsertBatchIdempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	batch := []Track{
		makeTrack("Daft Punk", "Singles", "One More Time", "h1", now),
		makeTrack("Daft Punk", "Remixes & Edits", "Aerodynamic (Remix)", "h2", now),
	}

	n, err := store.UpsertBatch(ctx, batch)
	if err != nil {
		t.Fatalf("UpsertBatch failed: %v", err)
	}
	if n != 2 {
		t.Errorf("inserted = %d, want 2", n)
	}

	// Replaying the same batch adds nothing
	n, err = store.UpsertBatch(ctx, batch)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if n != 0 {
		t.Errorf("replay inserted = %d, want 0", n)
	}

	// Same hash at a different path is still one track
	dup := makeTrack("Other", "Singles", "Copy", "h1", now)
	if n, err := store.UpsertBatch(ctx, []Track{dup}); err != nil || n != 0 {
		t.Errorf("duplicate hash insert = %d, %v; want 0, nil", n, err)
	}

	total, _ := store.TotalTracks(ctx)
	if total != 2 {
		t.Errorf("TotalTracks = %d, want 2", total)
	}

	got, err := store.LookupByHash(ctx, "h1")
	if err != nil || got == nil {
		t.Fatalf("LookupByHash = %v, %v", got, err)
	}
	if got.Title != "One More Time" {
		t.Errorf("Title = %q", got.Title)
	}
	if got.AddedAt.Unix() != now.Unix() {
		t.Errorf("AddedAt = %v, want %v", got.AddedAt, now)
	}

	byPath, _ := store.LookupByPath(ctx, got.CanonicalPath)
	if byPath == nil || byPath.ContentHash != "h1" {
		t.Errorf("LookupByPath = %+v", byPath)
	}

	missing, err := store.LookupByHash(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("LookupByHash(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestUpsertBatchPathConflictIsAtomic(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.UpsertBatch(ctx, []Track{makeTrack("A", "Singles", "Song", "h1", time.Now())}); err != nil {
		t.Fatal(err)
	}

	conflicting := makeTrack("A", "Singles", "Song", "h-other", time.Now())
	batch := []Track{
		makeTrack("B", "Singles", "Fresh", "h2", time.Now()),
		conflicting,
	}

	_, err := store.UpsertBatch(ctx, batch)
	if !errors.Is(err, util.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// The valid row in the failed batch was rolled back
	if got, _ := store.LookupByHash(ctx, "h2"); got != nil {
		t.Error("batch should be all-or-nothing")
	}
}

func TestHashIndex(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	store.UpsertBatch(ctx, []Track{
		makeTrack("A", "Singles", "One", "h1", time.Now()),
		makeTrack("B", "Singles", "Two", "h2", time.Now()),
	})

	idx, err := store.HashIndex(ctx)
	if err != nil {
		t.Fatalf("HashIndex failed: %v", err)
	}
	if len(idx) != 2 || idx["h2"] != filepath.Join("/library", "B", "Singles", "Two.mp3") {
		t.Errorf("HashIndex = %v", idx)
	}
}

func TestSearch(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	store.UpsertBatch(ctx, []Track{
		makeTrack("Daft Punk", "Singles", "One More Time", "h1", now),
		makeTrack("Daft Punk", "Singles", "Digital Love", "h2", now),
		makeTrack("Punk Rock Band", "Live & Acoustic", "Anthem (Live)", "h3", now),
		makeTrack("Moby", "Singles", "Porcelain", "h4", now),
	})

	tests := []struct {
		query string
		want  int
	}{
		{"daft", 2},
		{"daf", 2},
		{"punk", 3},
		{"daft love", 1},
		{"live", 1},
		{"porcelain", 1},
		{"nothing here", 0},
		{"aft", 2}, // inside a word: no prefix match, substring fallback
		{"ore", 1}, // "One More Time"
		{"unk", 3},
		{"&", 1}, // substring fallback matches the "Live & Acoustic" bucket
		{"", 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			results, err := store.Search(ctx, tt.query, 10, 0)
			if err != nil {
				t.Fatalf("Search(%q) failed: %v", tt.query, err)
			}
			if len(results) != tt.want {
				t.Errorf("Search(%q) returned %d results, want %d", tt.query, len(results), tt.want)
			}
		})
	}

	page, _ := store.Search(ctx, "punk", 2, 2)
	if len(page) != 1 {
		t.Errorf("offset page returned %d results, want 1", len(page))
	}
	page, _ = store.Search(ctx, "unk", 2, 2)
	if len(page) != 1 {
		t.Errorf("substring offset page returned %d results, want 1", len(page))
	}
	page, _ = store.Search(ctx, "punk", 2, 4)
	if len(page) != 0 {
		t.Errorf("page past the prefix matches returned %d results, want 0", len(page))
	}
}

func TestRecomputeAggregates(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var batch []Track
	for i := 0; i < 3; i++ {
		batch = append(batch, makeTrack("Daft Punk", "Singles", fmt.Sprintf("Song %d", i), fmt.Sprintf("dp%d", i), base.Add(time.Duration(i)*time.Hour)))
	}
	batch = append(batch, makeTrack("Daft Punk", "Remixes & Edits", "Song (Remix)", "dp-r", base.Add(10*time.Hour)))
	batch = append(batch, makeTrack("Moby", "Singles", "Porcelain", "m1", base))

	if _, err := store.UpsertBatch(ctx, batch); err != nil {
		t.Fatal(err)
	}
	if err := store.RecomputeAggregates(ctx); err != nil {
		t.Fatalf("RecomputeAggregates failed: %v", err)
	}

	artists, err := store.Artists(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(artists) != 2 {
		t.Fatalf("got %d artists, want 2", len(artists))
	}

	var sum int64
	for _, a := range artists {
		sum += a.TrackCount
	}
	total, _ := store.TotalTracks(ctx)
	if sum != total {
		t.Errorf("sum(track_count) = %d, total tracks = %d", sum, total)
	}

	dp := artists[0]
	if dp.Name != "Daft Punk" || dp.TrackCount != 4 || dp.AlbumCount != 2 || dp.TotalSize != 4000 {
		t.Errorf("Daft Punk aggregate = %+v", dp)
	}
	if !dp.FirstAdded.Equal(base) || !dp.LastAdded.Equal(base.Add(10*time.Hour)) {
		t.Errorf("Daft Punk dates = %v .. %v", dp.FirstAdded, dp.LastAdded)
	}

	top, _ := store.TopArtists(ctx, 1)
	if len(top) != 1 || top[0].Name != "Daft Punk" {
		t.Errorf("TopArtists = %+v", top)
	}

	albums, _ := store.Albums(ctx, "Daft Punk")
	if len(albums) != 2 {
		t.Errorf("got %d Daft Punk albums, want 2", len(albums))
	}
	all, _ := store.Albums(ctx, "")
	if len(all) != 3 {
		t.Errorf("got %d albums, want 3", len(all))
	}

	// Recompute is a full rebuild, not an increment
	if err := store.RecomputeAggregates(ctx); err != nil {
		t.Fatal(err)
	}
	again, _ := store.Artists(ctx)
	if again[0].TrackCount != 4 {
		t.Errorf("second recompute changed counts: %+v", again[0])
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Tracks != 5 || stats.Artists != 2 || stats.Albums != 3 || stats.TotalBytes != 5000 {
		t.Errorf("Stats = %+v", stats)
	}
}

func TestRecentAndPopular(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	store.UpsertBatch(ctx, []Track{
		makeTrack("A", "Singles", "Old", "h1", base),
		makeTrack("A", "Singles", "Mid", "h2", base.Add(time.Hour)),
		makeTrack("A", "Singles", "New", "h3", base.Add(2*time.Hour)),
	})

	recent, _ := store.RecentTracks(ctx, 2)
	if len(recent) != 2 || recent[0].Title != "New" || recent[1].Title != "Mid" {
		t.Errorf("RecentTracks = %+v", recent)
	}

	if err := store.IncrementPlayCount(ctx, "h1"); err != nil {
		t.Fatal(err)
	}
	store.IncrementPlayCount(ctx, "h1")
	store.IncrementPlayCount(ctx, "h2")

	popular, _ := store.PopularTracks(ctx, 3)
	if popular[0].Title != "Old" || popular[0].PlayCount != 2 {
		t.Errorf("PopularTracks[0] = %+v", popular[0])
	}

	if err := store.IncrementPlayCount(ctx, "missing"); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := store.SetRating(ctx, "h3", 4); err != nil {
		t.Fatal(err)
	}
	if err := store.SetRating(ctx, "h3", 9); !errors.Is(err, util.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
	got, _ := store.LookupByHash(ctx, "h3")
	if got.Rating != 4 {
		t.Errorf("Rating = %d, want 4", got.Rating)
	}

	byArtist, _ := store.TracksByArtists(ctx, []string{"A", "Nobody"})
	if len(byArtist) != 3 {
		t.Errorf("TracksByArtists returned %d, want 3", len(byArtist))
	}
}

func TestCacheEntriesAndRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	entry := CacheEntry{
		CachedPath:          "/cache/A/Singles/One.mp3",
		Tier:                TierHot,
		SourceCanonicalPath: "/library/A/Singles/One.mp3",
		ContentHash:         "h1",
		CachedAt:            NewTime(now),
		SizeBytes:           100,
	}
	if err := store.UpsertCacheEntry(ctx, entry); err != nil {
		t.Fatal(err)
	}
	entry.Tier = TierRecent
	if err := store.UpsertCacheEntry(ctx, entry); err != nil {
		t.Fatal(err)
	}

	entries, _ := store.CacheEntries(ctx)
	if len(entries) != 1 || entries[0].Tier != TierRecent {
		t.Errorf("CacheEntries = %+v", entries)
	}

	store.DeleteCacheEntry(ctx, entry.CachedPath)
	entries, _ = store.CacheEntries(ctx)
	if len(entries) != 0 {
		t.Errorf("expected no entries after delete, got %d", len(entries))
	}

	run := Run{RunID: "r1", StartedAt: NewTime(now), Mode: "execute", Transfer: "copy"}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	if err := store.FinishRun(ctx, "r1", RunCompleted, `{"organized":3}`, now.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetRun(ctx, "r1")
	if err != nil || got == nil {
		t.Fatalf("GetRun = %v, %v", got, err)
	}
	if got.Status != RunCompleted || got.StatsJSON != `{"organized":3}` || got.FinishedAt.IsZero() {
		t.Errorf("run = %+v", got)
	}

	runs, _ := store.ListRuns(ctx, 10)
	if len(runs) != 1 {
		t.Errorf("ListRuns returned %d", len(runs))
	}
}

func TestFtsQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"daft punk", `"daft"* "punk"*`},
		{"  AC/DC ", `"AC"* "DC"*`},
		{`"quoted"`, `"quoted"*`},
		{"&&", ""},
	}
	for _, tt := range tests {
		if got := ftsQuery(tt.in); got != tt.want {
			t.Errorf("ftsQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
