package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/franz/music-librarian/internal/store"
	"github.com/franz/music-librarian/internal/util"
)

// topArtistCount is how many artists the summary lists
const topArtistCount = 10

// SummaryReport is the end-of-run report: run statistics plus a snapshot of
// the catalog they produced
type SummaryReport struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Run         *RunStats      `json:"run"`
	Catalog     *store.Stats   `json:"catalog,omitempty"`
	TopArtists  []store.Artist `json:"top_artists,omitempty"`

	DatabasePath string `json:"database_path,omitempty"`
	EventLogPath string `json:"event_log_path,omitempty"`
}

// GenerateSummaryReport combines run statistics with the catalog state.
// db may be nil (dry run without a catalog).
func GenerateSummaryReport(ctx context.Context, db *store.Store, stats *RunStats, eventLogPath string) (*SummaryReport, error) {
	report := &SummaryReport{
		GeneratedAt:  time.Now(),
		Run:          stats,
		EventLogPath: eventLogPath,
	}

	if db == nil {
		return report, nil
	}

	catalog, err := db.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to gather catalog stats: %w", err)
	}
	report.Catalog = catalog

	top, err := db.TopArtists(ctx, topArtistCount)
	if err != nil {
		return nil, fmt.Errorf("failed to gather top artists: %w", err)
	}
	report.TopArtists = top

	return report, nil
}

// WriteArtifacts writes run-<id>.json and summary.md under
// <artifactsDir>/reports/<timestamp>/ and returns that directory
func WriteArtifacts(artifactsDir string, report *SummaryReport) (string, error) {
	stamp := report.GeneratedAt.Format("20060102-150405")
	dir := filepath.Join(artifactsDir, "reports", stamp)

	jsonPath := filepath.Join(dir, fmt.Sprintf("run-%s.json", report.Run.RunID))
	if err := WriteJSON(report, jsonPath); err != nil {
		return "", err
	}
	if err := WriteMarkdownReport(report, filepath.Join(dir, "summary.md")); err != nil {
		return "", err
	}
	return dir, nil
}

// WriteJSON writes the report as indented JSON
func WriteJSON(report *SummaryReport, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// WriteMarkdownReport writes the summary report as Markdown
func WriteMarkdownReport(report *SummaryReport, outputPath string) error {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	s := report.Run
	var md strings.Builder

	md.WriteString("# Music Librarian - Run Summary\n\n")
	md.WriteString(fmt.Sprintf("**Generated:** %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05")))
	md.WriteString(fmt.Sprintf("**Run:** `%s` (%s, %s)\n\n", s.RunID, s.Mode, s.Transfer))

	if s.SourceRoot != "" {
		md.WriteString(fmt.Sprintf("**Source:** `%s`\n\n", s.SourceRoot))
	}
	if s.TargetRoot != "" {
		md.WriteString(fmt.Sprintf("**Library:** `%s`\n\n", s.TargetRoot))
	}
	if report.DatabasePath != "" {
		md.WriteString(fmt.Sprintf("**Database:** `%s`\n\n", report.DatabasePath))
	}
	if report.EventLogPath != "" {
		md.WriteString(fmt.Sprintf("**Event Log:** `%s`\n\n", report.EventLogPath))
	}

	md.WriteString("---\n\n")

	md.WriteString("## Overview\n\n")
	md.WriteString("| Metric | Value |\n")
	md.WriteString("|--------|-------|\n")
	for _, row := range overviewRows(s) {
		md.WriteString(fmt.Sprintf("| %s | %s |\n", row[0], row[1]))
	}
	md.WriteString("\n")

	if s.Skipped > 0 {
		md.WriteString("## Skipped\n\n")
		md.WriteString("| Reason | Count |\n")
		md.WriteString("|--------|-------|\n")
		md.WriteString(fmt.Sprintf("| Non-audio | %d |\n", s.SkippedNonAudio))
		md.WriteString(fmt.Sprintf("| Below minimum size | %d |\n", s.SkippedTooSmall))
		md.WriteString(fmt.Sprintf("| Already ledgered | %d |\n", s.SkippedLedgered))
		md.WriteString(fmt.Sprintf("| Cue sheets | %d |\n", s.CueSheets))
		md.WriteString("\n")
	}

	if report.Catalog != nil {
		md.WriteString("## Catalog\n\n")
		md.WriteString("| Metric | Value |\n")
		md.WriteString("|--------|-------|\n")
		md.WriteString(fmt.Sprintf("| Tracks | %d |\n", report.Catalog.Tracks))
		md.WriteString(fmt.Sprintf("| Artists | %d |\n", report.Catalog.Artists))
		md.WriteString(fmt.Sprintf("| Albums | %d |\n", report.Catalog.Albums))
		md.WriteString(fmt.Sprintf("| Total Size | %s |\n", util.FormatBytes(report.Catalog.TotalBytes)))
		md.WriteString("\n")
	}

	if len(report.TopArtists) > 0 {
		md.WriteString("## Top Artists\n\n")
		md.WriteString("| Artist | Tracks | Albums | Size |\n")
		md.WriteString("|--------|--------|--------|------|\n")
		for _, a := range report.TopArtists {
			md.WriteString(fmt.Sprintf("| %s | %d | %d | %s |\n",
				a.Name, a.TrackCount, a.AlbumCount, util.FormatBytes(a.TotalSize)))
		}
		md.WriteString("\n")
	}

	if len(s.Warnings) > 0 {
		md.WriteString("## Warnings\n\n")
		for _, w := range s.Warnings {
			md.WriteString(fmt.Sprintf("- %s\n", w))
		}
		md.WriteString("\n")
	}

	if len(s.Failures) > 0 {
		md.WriteString("## Failures\n\n")
		md.WriteString("| Source | Error |\n")
		md.WriteString("|--------|-------|\n")
		for _, f := range s.Failures {
			md.WriteString(fmt.Sprintf("| `%s` | %s |\n", truncatePath(f.Path, 60), f.Error))
		}
		if s.Failed > len(s.Failures) {
			md.WriteString(fmt.Sprintf("\n*%d more failures in the event log*\n", s.Failed-len(s.Failures)))
		}
		md.WriteString("\n")
	}

	md.WriteString("---\n\n")
	md.WriteString("*Generated by mlib - Music Librarian*\n")

	if err := os.WriteFile(outputPath, []byte(md.String()), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	return nil
}

// RenderSummary renders the run statistics as a terminal table
func RenderSummary(s *RunStats) string {
	return RenderTable([]string{"Metric", "Value"}, overviewRows(s), []Align{AlignLeft, AlignRight})
}

func overviewRows(s *RunStats) [][]string {
	rows := [][]string{
		{"Files Seen", fmt.Sprintf("%d", s.FilesSeen)},
		{"Organized", fmt.Sprintf("%d", s.Organized)},
	}
	if s.Recovered > 0 {
		rows = append(rows, []string{"Recovered From Ledger", fmt.Sprintf("%d", s.Recovered)})
	}
	rows = append(rows,
		[]string{"Duplicates", fmt.Sprintf("%d", s.Duplicates)},
		[]string{"Skipped", fmt.Sprintf("%d", s.Skipped)},
		[]string{"Failed", fmt.Sprintf("%d", s.Failed)},
		[]string{"Renamed On Collision", fmt.Sprintf("%d", s.Renamed)},
		[]string{"Artist Dirs Created", fmt.Sprintf("%d", s.ArtistDirsCreated)},
		[]string{"Album Dirs Created", fmt.Sprintf("%d", s.AlbumDirsCreated)},
		[]string{"Cue Sheets", fmt.Sprintf("%d", s.CueSheets)},
		[]string{"Bytes Processed", util.FormatBytes(s.BytesProcessed)},
		[]string{"Duration", s.Duration.Round(time.Millisecond).String()},
		[]string{"Success Rate", fmt.Sprintf("%.1f%%", s.SuccessRate)},
	)
	return rows
}

// truncatePath truncates a file path to a maximum length
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	// Truncate from the middle, keeping start and end
	start := maxLen/2 - 2
	end := len(path) - (maxLen/2 - 2)
	return path[:start] + "..." + path[end:]
}
