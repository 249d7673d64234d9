package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// RecomputeAggregates rebuilds the artists and albums tables from tracks in
// one transaction, so readers never see a partially rebuilt view
func (s *Store) RecomputeAggregates(ctx context.Context) error {
	return s.Transaction(ctx, func(tx *sqlx.Tx) error {
		statements := []string{
			`DELETE FROM albums`,
			`DELETE FROM artists`,
			`INSERT INTO albums (artist, bucket, track_count, total_size, date_added)
			 SELECT artist, album_bucket, COUNT(*), COALESCE(SUM(size_bytes), 0), MIN(added_at)
			 FROM tracks
			 GROUP BY artist, album_bucket`,
			`INSERT INTO artists (name, track_count, album_count, total_size, first_added, last_added)
			 SELECT artist, COUNT(*), COUNT(DISTINCT album_bucket), COALESCE(SUM(size_bytes), 0),
			        MIN(added_at), MAX(added_at)
			 FROM tracks
			 GROUP BY artist`,
		}
		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to recompute aggregates: %w", err)
			}
		}
		return nil
	})
}

// TopArtists returns the n artists with the most tracks
func (s *Store) TopArtists(ctx context.Context, n int) ([]Artist, error) {
	var artists []Artist
	err := s.db.SelectContext(ctx, &artists, `
		SELECT name, track_count, album_count, total_size, first_added, last_added
		FROM artists
		ORDER BY track_count DESC, name ASC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query top artists: %w", err)
	}
	return artists, nil
}

// Artists returns every artist aggregate ordered by name
func (s *Store) Artists(ctx context.Context) ([]Artist, error) {
	var artists []Artist
	err := s.db.SelectContext(ctx, &artists, `
		SELECT name, track_count, album_count, total_size, first_added, last_added
		FROM artists
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query artists: %w", err)
	}
	return artists, nil
}

// Albums returns album aggregates, restricted to one artist when artist is
// not empty
func (s *Store) Albums(ctx context.Context, artist string) ([]Album, error) {
	query := `SELECT artist, bucket, track_count, total_size, date_added FROM albums`
	args := []any{}
	if artist != "" {
		query += ` WHERE artist = ?`
		args = append(args, artist)
	}
	query += ` ORDER BY artist, bucket`

	var albums []Album
	if err := s.db.SelectContext(ctx, &albums, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query albums: %w", err)
	}
	return albums, nil
}

// Stats summarises the catalog. Artist and album counts come from the
// aggregate tables and are current after RecomputeAggregates.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.db.GetContext(ctx, &st, `
		SELECT
			(SELECT COUNT(*) FROM tracks) AS tracks,
			(SELECT COUNT(*) FROM artists) AS artists,
			(SELECT COUNT(*) FROM albums) AS albums,
			(SELECT COALESCE(SUM(size_bytes), 0) FROM tracks) AS total_bytes,
			(SELECT COALESCE(SUM(play_count), 0) FROM tracks) AS play_count
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	return &st, nil
}
