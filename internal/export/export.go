// Package export writes plain-text index lists of the catalog for consumers
// that do not want to query the database: distinct artists, distinct albums
// and distinct titles, sorted, one per line.
package export

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/franz/music-librarian/internal/store"
)

// File names written into the export directory
const (
	ArtistsFile = "artists.txt"
	AlbumsFile  = "albums.txt"
	TitlesFile  = "titles.txt"
)

// Catalog is the read side the exporter needs
type Catalog interface {
	Artists(ctx context.Context) ([]store.Artist, error)
	Albums(ctx context.Context, artist string) ([]store.Album, error)
	AllTracks(ctx context.Context) ([]store.Track, error)
}

// Result reports how many lines each list received
type Result struct {
	Dir     string `json:"dir"`
	Artists int    `json:"artists"`
	Albums  int    `json:"albums"`
	Titles  int    `json:"titles"`
}

// Exporter writes the index lists onto a filesystem
type Exporter struct {
	fs  afero.Fs
	dir string
}

// New returns an exporter writing into dir on fs. A nil fs means the OS filesystem.
func New(fs afero.Fs, dir string) *Exporter {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Exporter{fs: fs, dir: dir}
}

// Write regenerates all three lists. Each file is replaced atomically, so a
// reader sees either the previous list or the new one.
func (e *Exporter) Write(ctx context.Context, db Catalog) (*Result, error) {
	if err := e.fs.MkdirAll(e.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export dir: %w", err)
	}

	artists, err := db.Artists(ctx)
	if err != nil {
		return nil, err
	}
	artistLines := make([]string, 0, len(artists))
	for _, a := range artists {
		artistLines = append(artistLines, a.Name)
	}

	albums, err := db.Albums(ctx, "")
	if err != nil {
		return nil, err
	}
	albumLines := make([]string, 0, len(albums))
	for _, a := range albums {
		albumLines = append(albumLines, a.Artist+"/"+a.Bucket)
	}

	tracks, err := db.AllTracks(ctx)
	if err != nil {
		return nil, err
	}
	titleLines := make([]string, 0, len(tracks))
	for _, t := range tracks {
		titleLines = append(titleLines, t.Title)
	}

	res := &Result{Dir: e.dir}
	lists := []struct {
		name  string
		lines []string
		count *int
	}{
		{ArtistsFile, artistLines, &res.Artists},
		{AlbumsFile, albumLines, &res.Albums},
		{TitlesFile, titleLines, &res.Titles},
	}
	for _, l := range lists {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lines := distinctSorted(l.lines)
		if err := e.writeAtomic(l.name, lines); err != nil {
			return nil, err
		}
		*l.count = len(lines)
	}
	return res, nil
}

func (e *Exporter) writeAtomic(name string, lines []string) error {
	target := filepath.Join(e.dir, name)

	tmp, err := afero.TempFile(e.fs, e.dir, "."+name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	tmpPath := tmp.Name()

	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	_, err = tmp.WriteString(b.String())
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		e.fs.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}

	if err := e.fs.Chmod(tmpPath, 0644); err != nil {
		e.fs.Remove(tmpPath)
		return fmt.Errorf("failed to set mode on %s: %w", name, err)
	}
	if err := e.fs.Rename(tmpPath, target); err != nil {
		e.fs.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

// distinctSorted drops empty and repeated lines and sorts the rest
func distinctSorted(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
