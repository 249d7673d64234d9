package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/franz/music-librarian/internal/config"
	"github.com/franz/music-librarian/internal/report"
	"github.com/franz/music-librarian/internal/store"
	"github.com/franz/music-librarian/internal/util"
)

// openCatalog opens the catalog named by cfg. Read-only opens require the
// database to exist already.
func openCatalog(cfg *config.Config, readOnly bool) (*store.Store, error) {
	if readOnly {
		if _, err := os.Stat(cfg.Database); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("catalog %s: %w (run 'mlib organize' first)", cfg.Database, util.ErrNotFound)
		}
	}
	db, err := store.OpenWithOptions(cfg.Database, &store.OpenOptions{ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	util.DebugLog("Opened catalog: %s", cfg.Database)
	return db, nil
}

// renderTracks renders tracks as a table of the columns people search by
func renderTracks(tracks []store.Track) string {
	rows := make([][]string, 0, len(tracks))
	for _, t := range tracks {
		rows = append(rows, []string{
			t.Artist,
			t.AlbumBucket,
			t.Title,
			util.FormatBytes(t.SizeBytes),
			strconv.FormatInt(t.PlayCount, 10),
			strconv.Itoa(t.Rating),
			formatTime(t.AddedAt),
		})
	}
	return report.RenderTable(
		[]string{"Artist", "Album", "Title", "Size", "Plays", "Rating", "Added"},
		rows,
		[]report.Align{report.AlignLeft, report.AlignLeft, report.AlignLeft, report.AlignRight, report.AlignRight, report.AlignRight},
	)
}

func formatTime(t store.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
