package export

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/franz/music-librarian/internal/store"
)

func setupCatalog(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	tracks := []struct{ artist, bucket, title, hash string }{
		{"Moby", "Singles", "Porcelain", "h1"},
		{"Moby", "Remixes & Edits", "Porcelain (Remix)", "h2"},
		{"Air", "Singles", "Playground Love", "h3"},
		{"Bonobo", "Live & Acoustic", "Kerala (Live)", "h4"},
		{"Zero 7", "Singles", "Porcelain", "h5"},
	}
	batch := make([]store.Track, 0, len(tracks))
	for _, tr := range tracks {
		batch = append(batch, store.Track{
			CanonicalPath: filepath.Join("/library", tr.artist, tr.bucket, tr.title+".mp3"),
			SourcePath:    "/incoming/" + tr.title + ".mp3",
			Artist:        tr.artist,
			AlbumBucket:   tr.bucket,
			Title:         tr.title,
			Extension:     "mp3",
			SizeBytes:     10,
			ContentHash:   tr.hash,
			AddedAt:       store.NewTime(time.Now()),
		})
	}
	ctx := context.Background()
	if _, err := db.UpsertBatch(ctx, batch); err != nil {
		t.Fatal(err)
	}
	if err := db.RecomputeAggregates(ctx); err != nil {
		t.Fatal(err)
	}
	return db
}

func readLines(t *testing.T, fs afero.Fs, path string) []string {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestWrite(t *testing.T) {
	db := setupCatalog(t)
	fs := afero.NewMemMapFs()

	res, err := New(fs, "/exports").Write(context.Background(), db)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if res.Artists != 4 || res.Albums != 5 || res.Titles != 4 {
		t.Errorf("Result = %+v", res)
	}

	tests := []struct {
		file string
		want []string
	}{
		{ArtistsFile, []string{"Air", "Bonobo", "Moby", "Zero 7"}},
		{AlbumsFile, []string{"Air/Singles", "Bonobo/Live & Acoustic", "Moby/Remixes & Edits", "Moby/Singles", "Zero 7/Singles"}},
		{TitlesFile, []string{"Kerala (Live)", "Playground Love", "Porcelain", "Porcelain (Remix)"}},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			got := readLines(t, fs, filepath.Join("/exports", tt.file))
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("%s = %q, want %q", tt.file, got, tt.want)
			}
		})
	}

	// Only the three lists remain; temp files are renamed away
	entries, err := afero.ReadDir(fs, "/exports")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Errorf("export dir has %d entries, want 3", len(entries))
	}
}

func TestWriteReplacesPreviousLists(t *testing.T) {
	db := setupCatalog(t)
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/exports/artists.txt", []byte("Stale Artist\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := New(fs, "/exports").Write(context.Background(), db); err != nil {
		t.Fatal(err)
	}
	for _, line := range readLines(t, fs, "/exports/artists.txt") {
		if line == "Stale Artist" {
			t.Error("previous list was not replaced")
		}
	}
}

func TestWriteEmptyCatalog(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "empty.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	fs := afero.NewMemMapFs()
	res, err := New(fs, "/exports").Write(context.Background(), db)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if res.Artists != 0 || res.Albums != 0 || res.Titles != 0 {
		t.Errorf("Result = %+v", res)
	}
	data, err := afero.ReadFile(fs, "/exports/titles.txt")
	if err != nil || len(data) != 0 {
		t.Errorf("titles.txt = %q, %v; want empty file", data, err)
	}
}

func TestDistinctSorted(t *testing.T) {
	got := distinctSorted([]string{"b", "a", "", " b ", "c", "a"})
	if strings.Join(got, ",") != "a,b,c" {
		t.Errorf("distinctSorted = %v", got)
	}
}
