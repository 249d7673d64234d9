package store

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// Time is a timestamp stored as Unix nanoseconds so ordering and MIN/MAX
// aggregates work on plain integers. The zero time is stored as 0.
type Time struct {
	time.Time
}

// NewTime wraps t, normalised to UTC
func NewTime(t time.Time) Time {
	if t.IsZero() {
		return Time{}
	}
	return Time{t.UTC()}
}

// Value implements driver.Valuer
func (t Time) Value() (driver.Value, error) {
	if t.IsZero() {
		return int64(0), nil
	}
	return t.UnixNano(), nil
}

// Scan implements sql.Scanner
func (t *Time) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
	case int64:
		if v == 0 {
			t.Time = time.Time{}
			return nil
		}
		t.Time = time.Unix(0, v).UTC()
	case float64:
		t.Time = time.Unix(0, int64(v)).UTC()
	default:
		return fmt.Errorf("cannot scan %T into store.Time", src)
	}
	return nil
}

// Track is one placed file in the library
type Track struct {
	ID                int64  `db:"id" json:"id"`
	CanonicalPath     string `db:"canonical_path" json:"canonical_path"`
	SourcePath        string `db:"source_path" json:"source_path"`
	Artist            string `db:"artist" json:"artist"`
	AlbumBucket       string `db:"album_bucket" json:"album_bucket"`
	Title             string `db:"title" json:"title"`
	Extension         string `db:"extension" json:"extension"`
	SizeBytes         int64  `db:"size_bytes" json:"size_bytes"`
	ContentHash       string `db:"content_hash" json:"content_hash"`
	AddedAt           Time   `db:"added_at" json:"added_at"`
	PlayCount         int64  `db:"play_count" json:"play_count"`
	Rating            int    `db:"rating" json:"rating"`
	Format            string `db:"format" json:"format,omitempty"`
	ClassifierVersion int    `db:"classifier_version" json:"classifier_version"`
	RunID             string `db:"run_id" json:"run_id,omitempty"`
}

// Artist is the derived per-artist aggregate
type Artist struct {
	Name       string `db:"name" json:"name"`
	TrackCount int64  `db:"track_count" json:"track_count"`
	AlbumCount int64  `db:"album_count" json:"album_count"`
	TotalSize  int64  `db:"total_size" json:"total_size"`
	FirstAdded Time   `db:"first_added" json:"first_added"`
	LastAdded  Time   `db:"last_added" json:"last_added"`
}

// Album is the derived per-(artist, bucket) aggregate
type Album struct {
	Artist     string `db:"artist" json:"artist"`
	Bucket     string `db:"bucket" json:"bucket"`
	TrackCount int64  `db:"track_count" json:"track_count"`
	TotalSize  int64  `db:"total_size" json:"total_size"`
	DateAdded  Time   `db:"date_added" json:"date_added"`
}

// Cache tiers
const (
	TierHot    = "hot"
	TierRecent = "recent"
)

// CacheEntry records one file copied into the cache tier
type CacheEntry struct {
	CachedPath          string `db:"cached_path" json:"cached_path"`
	Tier                string `db:"tier" json:"tier"`
	SourceCanonicalPath string `db:"source_canonical_path" json:"source_canonical_path"`
	ContentHash         string `db:"content_hash" json:"content_hash"`
	CachedAt            Time   `db:"cached_at" json:"cached_at"`
	SizeBytes           int64  `db:"size_bytes" json:"size_bytes"`
}

// Run statuses
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Run is the history row for one executed organize run
type Run struct {
	RunID      string `db:"run_id" json:"run_id"`
	StartedAt  Time   `db:"started_at" json:"started_at"`
	FinishedAt Time   `db:"finished_at" json:"finished_at"`
	Mode       string `db:"mode" json:"mode"`
	Transfer   string `db:"transfer" json:"transfer"`
	Status     string `db:"status" json:"status"`
	StatsJSON  string `db:"stats_json" json:"stats_json"`
}

// Stats summarises catalog contents
type Stats struct {
	Tracks     int64 `db:"tracks" json:"tracks"`
	Artists    int64 `db:"artists" json:"artists"`
	Albums     int64 `db:"albums" json:"albums"`
	TotalBytes int64 `db:"total_bytes" json:"total_bytes"`
	PlayCount  int64 `db:"play_count" json:"play_count"`
}
