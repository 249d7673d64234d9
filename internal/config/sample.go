package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// sampleFile mirrors the flat keys accepted by viper so a file written by
// WriteSample loads back unchanged
type sampleFile struct {
	Source          string `toml:"source" comment:"Flat collection to ingest"`
	Target          string `toml:"target" comment:"Library root (Artist/AlbumBucket/Title.ext)"`
	Transfer        string `toml:"transfer" comment:"copy or link (symlinks break if the source moves)"`
	Database        string `toml:"db"`
	Ledger          string `toml:"ledger"`
	Artifacts       string `toml:"artifacts"`
	ExportDir       string `toml:"export-dir"`
	Concurrency     int    `toml:"concurrency" comment:"Lowered automatically on network filesystems"`
	MinSize         string `toml:"min-size"`
	CacheDir        string `toml:"cache-dir" comment:"Leave empty to disable the cache tier"`
	CacheBudget     string `toml:"cache-budget"`
	CacheTopArtists int    `toml:"cache-top-artists"`
	CacheRecent     int    `toml:"cache-recent"`
	EventLevel      string `toml:"event-level"`
	Addr            string `toml:"addr" comment:"Listen address for mlib serve"`
}

func defaultSample() sampleFile {
	return sampleFile{
		Source:          "/srv/incoming/music",
		Target:          "/srv/library/music",
		Transfer:        "copy",
		Database:        "mlib.db",
		Ledger:          "mlib-ledger.jsonl",
		Artifacts:       "artifacts",
		ExportDir:       "exports",
		Concurrency:     4,
		MinSize:         "4KiB",
		CacheBudget:     "20GiB",
		CacheTopArtists: 10,
		CacheRecent:     200,
		EventLevel:      "info",
		Addr:            "127.0.0.1:8484",
	}
}

// SampleConfig returns a commented TOML config with the default values
func SampleConfig() ([]byte, error) {
	body, err := toml.Marshal(defaultSample())
	if err != nil {
		return nil, fmt.Errorf("encode sample config: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("# mlib configuration. Every key can also be set with a flag or an MLIB_* variable.\n\n")
	buf.Write(body)
	return buf.Bytes(), nil
}

// WriteSample writes SampleConfig to path. An existing file is only
// replaced when overwrite is set.
func WriteSample(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config %s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("stat config: %w", err)
		}
	}

	data, err := SampleConfig()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
