package store

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// DefaultSearchLimit is used when Search is given a non-positive limit
const DefaultSearchLimit = 50

// Search returns tracks matching query, most relevant first. Every word of
// the query must prefix-match a word in the artist, bucket or title. When
// no track matches that way, or the query has no indexable words, the
// query is matched as a substring instead, so "aft" finds "Daft Punk".
func (s *Store) Search(ctx context.Context, query string, limit, offset int) ([]Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if offset < 0 {
		offset = 0
	}

	match := ftsQuery(query)
	if match == "" {
		return s.searchSubstring(ctx, query, limit, offset)
	}

	var tracks []Track
	err := s.db.SelectContext(ctx, &tracks, `
		SELECT t.id, t.canonical_path, t.source_path, t.artist, t.album_bucket, t.title,
		       t.extension, t.size_bytes, t.content_hash, t.added_at, t.play_count, t.rating,
		       t.format, t.classifier_version, t.run_id
		FROM tracks_fts
		JOIN tracks t ON t.id = tracks_fts.rowid
		WHERE tracks_fts MATCH ?
		ORDER BY bm25(tracks_fts), t.id
		LIMIT ? OFFSET ?
	`, match, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	if len(tracks) > 0 {
		return tracks, nil
	}

	// An empty later page does not mean the whole query missed
	if offset > 0 {
		var hit int
		err := s.db.GetContext(ctx, &hit, `SELECT COUNT(*) FROM (SELECT 1 FROM tracks_fts WHERE tracks_fts MATCH ? LIMIT 1)`, match)
		if err != nil {
			return nil, fmt.Errorf("search failed: %w", err)
		}
		if hit > 0 {
			return tracks, nil
		}
	}
	return s.searchSubstring(ctx, query, limit, offset)
}

func (s *Store) searchSubstring(ctx context.Context, query string, limit, offset int) ([]Track, error) {
	pattern := "%" + escapeLike(query) + "%"

	var tracks []Track
	err := s.db.SelectContext(ctx, &tracks, `
		SELECT `+trackColumns+` FROM tracks
		WHERE artist LIKE ? ESCAPE '\' OR title LIKE ? ESCAPE '\' OR album_bucket LIKE ? ESCAPE '\'
		ORDER BY artist, title, id
		LIMIT ? OFFSET ?
	`, pattern, pattern, pattern, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("substring search failed: %w", err)
	}
	return tracks, nil
}

// ftsQuery turns free text into an FTS5 expression of quoted prefix terms,
// e.g. `daft pun` -> `"daft"* "pun"*`. It returns "" when the text has no
// letters or digits.
func ftsQuery(query string) string {
	words := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	terms := make([]string, 0, len(words))
	for _, w := range words {
		terms = append(terms, `"`+w+`"*`)
	}
	return strings.Join(terms, " ")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
