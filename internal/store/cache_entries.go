package store

import (
	"context"
	"fmt"
)

// UpsertCacheEntry records or refreshes a cache tier entry
func (s *Store) UpsertCacheEntry(ctx context.Context, e CacheEntry) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO cache_entries (cached_path, tier, source_canonical_path, content_hash, cached_at, size_bytes)
		VALUES (:cached_path, :tier, :source_canonical_path, :content_hash, :cached_at, :size_bytes)
		ON CONFLICT(cached_path) DO UPDATE SET
			tier = excluded.tier,
			source_canonical_path = excluded.source_canonical_path,
			content_hash = excluded.content_hash,
			cached_at = excluded.cached_at,
			size_bytes = excluded.size_bytes
	`, e)
	if err != nil {
		return fmt.Errorf("failed to upsert cache entry: %w", err)
	}
	return nil
}

// CacheEntries returns every cache entry, oldest first
func (s *Store) CacheEntries(ctx context.Context) ([]CacheEntry, error) {
	var entries []CacheEntry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT cached_path, tier, source_canonical_path, content_hash, cached_at, size_bytes
		FROM cache_entries
		ORDER BY cached_at ASC, cached_path ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cache entries: %w", err)
	}
	return entries, nil
}

// DeleteCacheEntry removes the entry for cachedPath
func (s *Store) DeleteCacheEntry(ctx context.Context, cachedPath string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cached_path = ?`, cachedPath); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// ClearCacheEntries removes every cache entry row
func (s *Store) ClearCacheEntries(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("failed to clear cache entries: %w", err)
	}
	return nil
}
