package report

import (
	"time"
)

// FileStatus is the outcome of one file in a run
type FileStatus string

const (
	StatusOrganized FileStatus = "organized"
	StatusPlanned   FileStatus = "planned" // dry run
	StatusDuplicate FileStatus = "duplicate"
	StatusSkipped   FileStatus = "skipped"
	StatusFailed    FileStatus = "failed"
)

// Skip reasons counted separately in RunStats
const (
	SkipNonAudio = "non-audio"
	SkipTooSmall = "below-min-size"
	SkipLedgered = "already-ledgered"
	SkipCueSheet = "cue-sheet"
)

// maxFailures bounds the failure list kept for the report
const maxFailures = 50

// FileResult is the message a worker sends to the aggregator for each file
type FileResult struct {
	SourcePath       string
	CanonicalPath    string
	ContentHash      string
	Status           FileStatus
	SkipReason       string
	Bytes            int64
	ArtistDirCreated bool
	AlbumDirCreated  bool
	Renamed          bool // placed under "Title (n)" because the name was taken
	Ambiguous        bool // filename had no "Artist - Title" separator
	Duration         time.Duration
	Err              error
}

// Failure is one per-file failure kept for the report
type Failure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// RunStats is the run summary. It is owned by a single aggregator and is
// not safe for concurrent mutation.
type RunStats struct {
	RunID      string    `json:"run_id"`
	Mode       string    `json:"mode"`
	Transfer   string    `json:"transfer"`
	SourceRoot string    `json:"source_root"`
	TargetRoot string    `json:"target_root"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	FilesSeen         int `json:"files_seen"`
	Organized         int `json:"organized"`
	Recovered         int `json:"recovered"`
	Failed            int `json:"failed"`
	Skipped           int `json:"skipped"`
	SkippedNonAudio   int `json:"skipped_non_audio"`
	SkippedTooSmall   int `json:"skipped_below_min_size"`
	SkippedLedgered   int `json:"skipped_already_ledgered"`
	Duplicates        int `json:"duplicates"`
	Renamed           int `json:"renamed"`
	Ambiguous         int `json:"ambiguous"`
	ArtistDirsCreated int `json:"artist_dirs_created"`
	AlbumDirsCreated  int `json:"album_dirs_created"`
	CueSheets         int `json:"cue_sheets"`

	BytesProcessed int64         `json:"bytes_processed"`
	Duration       time.Duration `json:"duration_ns"`
	SuccessRate    float64       `json:"success_rate"`

	Committed     int   `json:"committed"`
	CatalogTracks int64 `json:"catalog_tracks"`

	Failures []Failure `json:"failures,omitempty"`
	Warnings []string  `json:"warnings,omitempty"`
}

// NewRunStats starts a summary for runID
func NewRunStats(runID, mode, transfer string) *RunStats {
	return &RunStats{
		RunID:     runID,
		Mode:      mode,
		Transfer:  transfer,
		StartedAt: time.Now(),
	}
}

// Record folds one file result into the totals
func (s *RunStats) Record(r FileResult) {
	s.FilesSeen++

	switch r.Status {
	case StatusOrganized, StatusPlanned:
		s.Organized++
		s.BytesProcessed += r.Bytes
		if r.ArtistDirCreated {
			s.ArtistDirsCreated++
		}
		if r.AlbumDirCreated {
			s.AlbumDirsCreated++
		}
		if r.Renamed {
			s.Renamed++
		}
	case StatusDuplicate:
		s.Duplicates++
	case StatusSkipped:
		s.recordSkip(r.SkipReason)
	case StatusFailed:
		s.Failed++
		if len(s.Failures) < maxFailures {
			msg := ""
			if r.Err != nil {
				msg = r.Err.Error()
			}
			s.Failures = append(s.Failures, Failure{Path: r.SourcePath, Error: msg})
		}
	}

	if r.Ambiguous {
		s.Ambiguous++
	}
}

// RecordRecovered counts a ledger entry from an interrupted run that this
// run commits. Recovered files are part of Organized but were not seen by
// this run's scan.
func (s *RunStats) RecordRecovered(bytes int64) {
	s.Recovered++
	s.Organized++
	s.BytesProcessed += bytes
}

func (s *RunStats) recordSkip(reason string) {
	s.Skipped++
	switch reason {
	case SkipNonAudio:
		s.SkippedNonAudio++
	case SkipTooSmall:
		s.SkippedTooSmall++
	case SkipLedgered:
		s.SkippedLedgered++
	case SkipCueSheet:
		s.CueSheets++
	}
}

// Warn adds an operator-facing warning to the summary
func (s *RunStats) Warn(msg string) {
	s.Warnings = append(s.Warnings, msg)
}

// Finish stamps the end time and computes derived values. The success rate
// is the share of attempted files (placed, duplicate or failed) that did not
// fail; a run that attempted nothing has a rate of 100.
func (s *RunStats) Finish(end time.Time) {
	s.FinishedAt = end
	s.Duration = end.Sub(s.StartedAt)

	attempted := s.Organized + s.Duplicates + s.Failed
	if attempted == 0 {
		s.SuccessRate = 100
		return
	}
	s.SuccessRate = float64(s.Organized+s.Duplicates) / float64(attempted) * 100
}
