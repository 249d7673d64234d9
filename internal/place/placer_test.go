package place

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/franz/music-librarian/internal/classify"
	"github.com/franz/music-librarian/internal/dedup"
	"github.com/franz/music-librarian/internal/util"
)

func createTestFile(t *testing.T, path string, content []byte) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func hashOf(t *testing.T, path string) string {
	t.Helper()
	h, err := dedup.HashFile(context.Background(), path, 0)
	if err != nil {
		t.Fatalf("Failed to hash %s: %v", path, err)
	}
	return h
}

func TestPlaceCopy(t *testing.T) {
	tmpDir := t.TempDir()
	root := filepath.Join(tmpDir, "library")
	src := filepath.Join(tmpDir, "in", "05 - Daft Punk - One More Time.mp3")
	content := []byte("one more time")
	createTestFile(t, src, content)

	mtime := time.Date(2020, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := os.Chtimes(src, mtime, mtime); err != nil {
		t.Fatal(err)
	}

	p := New(Config{Root: root, Mode: ModeCopy, CaseSensitive: true})
	c := classify.Classify(src)

	out, err := p.Place(context.Background(), src, c, hashOf(t, src))
	if err != nil {
		t.Fatalf("Place failed: %v", err)
	}

	want := filepath.Join(root, "Daft Punk", "Singles", "One More Time.mp3")
	if out.CanonicalPath != want {
		t.Errorf("CanonicalPath = %q, want %q", out.CanonicalPath, want)
	}
	if !out.ArtistDirCreated || !out.AlbumDirCreated {
		t.Errorf("expected new artist and album dirs, got %+v", out)
	}
	if out.BytesWritten != int64(len(content)) {
		t.Errorf("BytesWritten = %d, want %d", out.BytesWritten, len(content))
	}

	got, err := os.ReadFile(want)
	if err != nil || string(got) != string(content) {
		t.Fatalf("destination content = %q, %v", got, err)
	}
	info, _ := os.Stat(want)
	if !info.ModTime().Equal(mtime) {
		t.Errorf("mtime = %v, want %v", info.ModTime(), mtime)
	}
	if _, err := os.Stat(want + ".part"); !os.IsNotExist(err) {
		t.Error(".part file was not cleaned up")
	}

	// Second track for the same artist reuses the directories
	src2 := filepath.Join(tmpDir, "in", "Daft Punk - Digital Love.mp3")
	createTestFile(t, src2, []byte("digital love"))
	out2, err := p.Place(context.Background(), src2, classify.Classify(src2), hashOf(t, src2))
	if err != nil {
		t.Fatal(err)
	}
	if out2.ArtistDirCreated || out2.AlbumDirCreated {
		t.Errorf("directories should already exist: %+v", out2)
	}
}

func TestPlaceCollision(t *testing.T) {
	tmpDir := t.TempDir()
	root := filepath.Join(tmpDir, "library")
	p := New(Config{Root: root, CaseSensitive: true})
	ctx := context.Background()

	a := filepath.Join(tmpDir, "a", "Artist - Song.mp3")
	b := filepath.Join(tmpDir, "b", "Artist - Song.mp3")
	createTestFile(t, a, []byte("version a"))
	createTestFile(t, b, []byte("version b"))

	outA, err := p.Place(ctx, a, classify.Classify(a), hashOf(t, a))
	if err != nil {
		t.Fatal(err)
	}
	outB, err := p.Place(ctx, b, classify.Classify(b), hashOf(t, b))
	if err != nil {
		t.Fatal(err)
	}

	if filepath.Base(outA.CanonicalPath) != "Song.mp3" {
		t.Errorf("first placement = %s", outA.CanonicalPath)
	}
	if filepath.Base(outB.CanonicalPath) != "Song (1).mp3" {
		t.Errorf("colliding placement = %s, want Song (1).mp3", outB.CanonicalPath)
	}
	if outA.Renamed || !outB.Renamed {
		t.Errorf("Renamed = %v, %v; want false, true", outA.Renamed, outB.Renamed)
	}

	// A fresh placer (new run) sees the same bytes already on disk
	p2 := New(Config{Root: root, CaseSensitive: true})
	out, err := p2.Place(ctx, a, classify.Classify(a), hashOf(t, a))
	if err != nil {
		t.Fatal(err)
	}
	if !out.Duplicate || out.CanonicalPath != outA.CanonicalPath {
		t.Errorf("expected duplicate of %s, got %+v", outA.CanonicalPath, out)
	}

	c := filepath.Join(tmpDir, "c", "Artist - Song.mp3")
	createTestFile(t, c, []byte("version c"))
	outC, err := p2.Place(ctx, c, classify.Classify(c), hashOf(t, c))
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(outC.CanonicalPath) != "Song (2).mp3" {
		t.Errorf("third placement = %s, want Song (2).mp3", outC.CanonicalPath)
	}
}

func TestPlaceOccupiedNameIsSkipped(t *testing.T) {
	tmpDir := t.TempDir()
	root := filepath.Join(tmpDir, "library")
	p := New(Config{Root: root, CaseSensitive: true})

	// Cataloged but deleted from disk
	held := filepath.Join(root, "Moby", "Singles", "Porcelain.mp3")
	p.Occupy(held, "cataloged-hash")

	src := filepath.Join(tmpDir, "in", "Moby - Porcelain.mp3")
	createTestFile(t, src, []byte("a different porcelain"))

	out, err := p.Place(context.Background(), src, classify.Classify(src), hashOf(t, src))
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(out.CanonicalPath) != "Porcelain (1).mp3" {
		t.Errorf("CanonicalPath = %s, want Porcelain (1).mp3", out.CanonicalPath)
	}
	if out.Duplicate || !out.Renamed {
		t.Errorf("expected a renamed placement, got %+v", out)
	}
	if _, err := os.Stat(held); !os.IsNotExist(err) {
		t.Error("occupied name should stay free on disk")
	}
}

func TestPlaceConcurrentSameName(t *testing.T) {
	tmpDir := t.TempDir()
	root := filepath.Join(tmpDir, "library")
	p := New(Config{Root: root, CaseSensitive: true})

	const workers = 8
	var srcs []string
	for i := 0; i < workers; i++ {
		src := filepath.Join(tmpDir, "in", string(rune('a'+i)), "Artist - Song.mp3")
		createTestFile(t, src, []byte{byte(i), 'x'})
		srcs = append(srcs, src)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]bool)
	artistCreated := 0
	for _, src := range srcs {
		wg.Add(1)
		go func(src string) {
			defer wg.Done()
			out, err := p.Place(context.Background(), src, classify.Classify(src), hashOf(t, src))
			if err != nil {
				t.Errorf("Place failed: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[out.CanonicalPath] {
				t.Errorf("two workers placed at %s", out.CanonicalPath)
			}
			seen[out.CanonicalPath] = true
			if out.ArtistDirCreated {
				artistCreated++
			}
		}(src)
	}
	wg.Wait()

	if len(seen) != workers {
		t.Errorf("placed %d distinct files, want %d", len(seen), workers)
	}
	if artistCreated != 1 {
		t.Errorf("artist dir reported created %d times, want 1", artistCreated)
	}
}

func TestPlaceLink(t *testing.T) {
	tmpDir := t.TempDir()
	root := filepath.Join(tmpDir, "library")
	src := filepath.Join(tmpDir, "in", "Moby - Porcelain.flac")
	createTestFile(t, src, []byte("porcelain"))

	p := New(Config{Root: root, Mode: ModeLink, CaseSensitive: true})
	out, err := p.Place(context.Background(), src, classify.Classify(src), hashOf(t, src))
	if err != nil {
		t.Fatalf("Place failed: %v", err)
	}

	target, err := os.Readlink(out.CanonicalPath)
	if err != nil {
		t.Fatalf("expected symlink: %v", err)
	}
	if !filepath.IsAbs(target) {
		t.Errorf("link target %q should be absolute", target)
	}
	if out.BytesWritten != 0 {
		t.Errorf("link mode wrote %d bytes", out.BytesWritten)
	}
	if _, err := os.Lstat(out.CanonicalPath + ".link-tmp"); !os.IsNotExist(err) {
		t.Error("temp link was not cleaned up")
	}
}

func TestPlaceCancelledCopyLeavesNothing(t *testing.T) {
	tmpDir := t.TempDir()
	root := filepath.Join(tmpDir, "library")
	src := filepath.Join(tmpDir, "in", "Artist - Big.wav")
	createTestFile(t, src, make([]byte, 1024))

	p := New(Config{Root: root, BufferSize: 16, CaseSensitive: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := classify.Classify(src)
	if _, err := p.Place(ctx, src, c, "somehash"); err == nil {
		t.Fatal("expected error on cancelled context")
	}

	dir := filepath.Join(root, "Artist", "Singles")
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected empty album dir, found %d entries", len(entries))
	}

	// The name was released
	out, err := p.Place(context.Background(), src, c, "somehash")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(out.CanonicalPath) != "Big.wav" {
		t.Errorf("retry placed at %s", out.CanonicalPath)
	}
}

func TestRemoveTempIgnoresCancellation(t *testing.T) {
	tmpDir := t.TempDir()
	part := filepath.Join(tmpDir, "Song.mp3.part")
	createTestFile(t, part, []byte("partial"))

	p := New(Config{Root: tmpDir, RetryConfig: util.NetworkRetryConfig()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p.removeTemp(ctx, part)
	if _, err := os.Stat(part); !os.IsNotExist(err) {
		t.Error("temp file should be removed after cancellation")
	}

	// Already gone is fine
	p.removeTemp(ctx, part)
}

func TestPlanDoesNotWrite(t *testing.T) {
	tmpDir := t.TempDir()
	root := filepath.Join(tmpDir, "library")
	p := New(Config{Root: root, CaseSensitive: true})
	ctx := context.Background()

	c := classify.Classify("Artist - Song.mp3")
	first, err := p.Plan(ctx, c, "h1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Plan(ctx, c, "h2")
	if err != nil {
		t.Fatal(err)
	}
	dup, _ := p.Plan(ctx, c, "h1")

	if !first.ArtistDirCreated || second.ArtistDirCreated {
		t.Errorf("dir creation flags: first %+v, second %+v", first, second)
	}
	if filepath.Base(second.CanonicalPath) != "Song (1).mp3" {
		t.Errorf("planned collision = %s", second.CanonicalPath)
	}
	if !dup.Duplicate {
		t.Error("same hash planned twice should be a duplicate")
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Error("Plan must not create the library root")
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
		err  bool
	}{
		{"copy", ModeCopy, false},
		{"LINK", ModeLink, false},
		{"", ModeCopy, false},
		{"move", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("ParseMode(%q) error = %v", tt.in, err)
		}
		if err != nil && !errors.Is(err, util.ErrInvalidConfig) {
			t.Errorf("ParseMode(%q) error should wrap ErrInvalidConfig", tt.in)
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFileName(t *testing.T) {
	if got := fileName("Song", "mp3", 0); got != "Song.mp3" {
		t.Errorf("fileName = %q", got)
	}
	if got := fileName("Song", "mp3", 3); got != "Song (3).mp3" {
		t.Errorf("fileName = %q", got)
	}
	if got := fileName("Song", "", 0); got != "Song" {
		t.Errorf("fileName = %q", got)
	}
}
