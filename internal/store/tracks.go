package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/franz/music-librarian/internal/util"
)

const trackColumns = `id, canonical_path, source_path, artist, album_bucket, title,
	extension, size_bytes, content_hash, added_at, play_count, rating,
	format, classifier_version, run_id`

// MaxRating is the upper bound accepted by SetRating
const MaxRating = 5

// LookupByHash returns the track with the given content hash, or nil
func (s *Store) LookupByHash(ctx context.Context, hash string) (*Track, error) {
	var t Track
	err := s.db.GetContext(ctx, &t, `SELECT `+trackColumns+` FROM tracks WHERE content_hash = ?`, hash)
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lookup track by hash: %w", err)
	}
	return &t, nil
}

// LookupByPath returns the track stored at the given canonical path, or nil
func (s *Store) LookupByPath(ctx context.Context, canonicalPath string) (*Track, error) {
	var t Track
	err := s.db.GetContext(ctx, &t, `SELECT `+trackColumns+` FROM tracks WHERE canonical_path = ?`, canonicalPath)
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lookup track by path: %w", err)
	}
	return &t, nil
}

// UpsertBatch inserts tracks in a single transaction. A track whose content
// hash is already cataloged is skipped, which makes replaying a batch
// harmless. A canonical path already held by a different hash fails the
// whole batch and nothing is written. It returns the number of rows added.
func (s *Store) UpsertBatch(ctx context.Context, tracks []Track) (int, error) {
	if len(tracks) == 0 {
		return 0, nil
	}

	inserted := 0
	err := s.Transaction(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PrepareNamedContext(ctx, `
			INSERT INTO tracks (
				canonical_path, source_path, artist, album_bucket, title,
				extension, size_bytes, content_hash, added_at, play_count, rating,
				format, classifier_version, run_id
			) VALUES (
				:canonical_path, :source_path, :artist, :album_bucket, :title,
				:extension, :size_bytes, :content_hash, :added_at, :play_count, :rating,
				:format, :classifier_version, :run_id
			)
			ON CONFLICT(content_hash) DO NOTHING
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		for i := range tracks {
			t := tracks[i]
			if t.AddedAt.IsZero() {
				t.AddedAt = NewTime(time.Now())
			}

			var holder string
			err := tx.GetContext(ctx, &holder, `SELECT content_hash FROM tracks WHERE canonical_path = ?`, t.CanonicalPath)
			switch {
			case notFound(err):
			case err != nil:
				return fmt.Errorf("failed to check canonical path: %w", err)
			case holder != t.ContentHash:
				return fmt.Errorf("%w: %s already cataloged with hash %s", util.ErrConflict, t.CanonicalPath, holder)
			default:
				continue
			}

			res, err := stmt.ExecContext(ctx, t)
			if err != nil {
				return fmt.Errorf("failed to insert track %s: %w", t.CanonicalPath, err)
			}
			n, _ := res.RowsAffected()
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// HashIndex returns every content hash with its canonical path
func (s *Store) HashIndex(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT content_hash, canonical_path FROM tracks`)
	if err != nil {
		return nil, fmt.Errorf("failed to load hash index: %w", err)
	}
	defer rows.Close()

	index := make(map[string]string)
	for rows.Next() {
		var hash, path string
		if err := rows.Scan(&hash, &path); err != nil {
			return nil, fmt.Errorf("failed to scan hash index: %w", err)
		}
		index[hash] = path
	}
	return index, rows.Err()
}

// RecentTracks returns the most recently added tracks
func (s *Store) RecentTracks(ctx context.Context, limit int) ([]Track, error) {
	var tracks []Track
	err := s.db.SelectContext(ctx, &tracks, `
		SELECT `+trackColumns+` FROM tracks
		ORDER BY added_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent tracks: %w", err)
	}
	return tracks, nil
}

// PopularTracks returns the most played tracks, rating breaking ties
func (s *Store) PopularTracks(ctx context.Context, limit int) ([]Track, error) {
	var tracks []Track
	err := s.db.SelectContext(ctx, &tracks, `
		SELECT `+trackColumns+` FROM tracks
		ORDER BY play_count DESC, rating DESC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query popular tracks: %w", err)
	}
	return tracks, nil
}

// TracksByArtists returns all tracks by the named artists
func (s *Store) TracksByArtists(ctx context.Context, artists []string) ([]Track, error) {
	if len(artists) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT `+trackColumns+` FROM tracks
		WHERE artist IN (?)
		ORDER BY artist, album_bucket, title
	`, artists)
	if err != nil {
		return nil, fmt.Errorf("failed to build artist query: %w", err)
	}

	var tracks []Track
	if err := s.db.SelectContext(ctx, &tracks, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query tracks by artist: %w", err)
	}
	return tracks, nil
}

// AllTracks returns every track ordered by artist, bucket and title
func (s *Store) AllTracks(ctx context.Context) ([]Track, error) {
	var tracks []Track
	err := s.db.SelectContext(ctx, &tracks, `
		SELECT `+trackColumns+` FROM tracks
		ORDER BY artist, album_bucket, title
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	return tracks, nil
}

// TotalTracks returns the number of cataloged tracks
func (s *Store) TotalTracks(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM tracks`); err != nil {
		return 0, fmt.Errorf("failed to count tracks: %w", err)
	}
	return n, nil
}

// IncrementPlayCount adds one play to the track with the given hash
func (s *Store) IncrementPlayCount(ctx context.Context, hash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tracks SET play_count = play_count + 1 WHERE content_hash = ?`, hash)
	if err != nil {
		return fmt.Errorf("failed to increment play count: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("track %s: %w", hash, util.ErrNotFound)
	}
	return nil
}

// SetRating stores a 0..MaxRating rating for the track with the given hash
func (s *Store) SetRating(ctx context.Context, hash string, rating int) error {
	if rating < 0 || rating > MaxRating {
		return fmt.Errorf("rating %d out of range 0-%d: %w", rating, MaxRating, util.ErrInvalidArgument)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE tracks SET rating = ? WHERE content_hash = ?`, rating, hash)
	if err != nil {
		return fmt.Errorf("failed to set rating: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("track %s: %w", hash, util.ErrNotFound)
	}
	return nil
}
