package store

// Schema v1 - tracks, full-text index, aggregate views
const schemaV1 = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- One row per distinct content hash placed in the library
CREATE TABLE IF NOT EXISTS tracks (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  canonical_path TEXT UNIQUE NOT NULL,
  source_path TEXT NOT NULL,
  artist TEXT NOT NULL,
  album_bucket TEXT NOT NULL,
  title TEXT NOT NULL,
  extension TEXT NOT NULL,
  size_bytes INTEGER NOT NULL DEFAULT 0,
  content_hash TEXT UNIQUE NOT NULL,
  added_at INTEGER NOT NULL,
  play_count INTEGER NOT NULL DEFAULT 0,
  rating INTEGER NOT NULL DEFAULT 0,
  format TEXT NOT NULL DEFAULT '',
  classifier_version INTEGER NOT NULL DEFAULT 0,
  run_id TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_tracks_artist ON tracks(artist, album_bucket);
CREATE INDEX IF NOT EXISTS idx_tracks_added_at ON tracks(added_at);

-- Full-text index over the classification fields
CREATE VIRTUAL TABLE IF NOT EXISTS tracks_fts USING fts5(
  artist,
  album_bucket,
  title,
  content='tracks',
  content_rowid='id'
);

CREATE TRIGGER IF NOT EXISTS tracks_ai AFTER INSERT ON tracks BEGIN
  INSERT INTO tracks_fts(rowid, artist, album_bucket, title)
  VALUES (new.id, new.artist, new.album_bucket, new.title);
END;

CREATE TRIGGER IF NOT EXISTS tracks_ad AFTER DELETE ON tracks BEGIN
  INSERT INTO tracks_fts(tracks_fts, rowid, artist, album_bucket, title)
  VALUES ('delete', old.id, old.artist, old.album_bucket, old.title);
END;

CREATE TRIGGER IF NOT EXISTS tracks_au AFTER UPDATE OF artist, album_bucket, title ON tracks BEGIN
  INSERT INTO tracks_fts(tracks_fts, rowid, artist, album_bucket, title)
  VALUES ('delete', old.id, old.artist, old.album_bucket, old.title);
  INSERT INTO tracks_fts(rowid, artist, album_bucket, title)
  VALUES (new.id, new.artist, new.album_bucket, new.title);
END;

-- Derived per-artist aggregates, rebuilt after every commit
CREATE TABLE IF NOT EXISTS artists (
  name TEXT PRIMARY KEY,
  track_count INTEGER NOT NULL,
  album_count INTEGER NOT NULL,
  total_size INTEGER NOT NULL,
  first_added INTEGER NOT NULL,
  last_added INTEGER NOT NULL
);

-- Derived per-(artist, bucket) aggregates
CREATE TABLE IF NOT EXISTS albums (
  artist TEXT NOT NULL,
  bucket TEXT NOT NULL,
  track_count INTEGER NOT NULL,
  total_size INTEGER NOT NULL,
  date_added INTEGER NOT NULL,
  PRIMARY KEY (artist, bucket)
);

CREATE INDEX IF NOT EXISTS idx_artists_track_count ON artists(track_count DESC);
`

// Schema v2 - cache tier bookkeeping and run history
const schemaV2 = `
CREATE TABLE IF NOT EXISTS cache_entries (
  cached_path TEXT PRIMARY KEY,
  tier TEXT NOT NULL,
  source_canonical_path TEXT NOT NULL,
  content_hash TEXT NOT NULL,
  cached_at INTEGER NOT NULL,
  size_bytes INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_cache_entries_hash ON cache_entries(content_hash);

CREATE TABLE IF NOT EXISTS runs (
  run_id TEXT PRIMARY KEY,
  started_at INTEGER NOT NULL,
  finished_at INTEGER NOT NULL DEFAULT 0,
  mode TEXT NOT NULL,
  transfer TEXT NOT NULL,
  status TEXT NOT NULL,
  stats_json TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`
