// Package config resolves mlib settings from flags, MLIB_* environment
// variables and an optional config file (yaml or toml), in that order of
// precedence, and validates them.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/franz/music-librarian/internal/util"
)

// Keys shared by cobra flags, environment variables and config files
const (
	KeySource          = "source"
	KeyTarget          = "target"
	KeyTransfer        = "transfer"
	KeyDryRun          = "dry-run"
	KeyInteractive     = "interactive"
	KeyDatabase        = "db"
	KeyLedger          = "ledger"
	KeyArtifacts       = "artifacts"
	KeyExportDir       = "export-dir"
	KeyConcurrency     = "concurrency"
	KeyMinSize         = "min-size"
	KeyExclude         = "exclude"
	KeyExtensions      = "extensions"
	KeyCacheDir        = "cache-dir"
	KeyCacheBudget     = "cache-budget"
	KeyCacheTopArtists = "cache-top-artists"
	KeyCacheRecent     = "cache-recent"
	KeyEventLevel      = "event-level"
	KeyAddr            = "addr"
	KeyVerbose         = "verbose"
	KeyQuiet           = "quiet"
)

// EnvPrefix prefixes every environment override (MLIB_TARGET, MLIB_CACHE_BUDGET...)
const EnvPrefix = "MLIB"

// Cache configures the fast tier. An empty Dir or a zero Budget disables it.
type Cache struct {
	Dir        string
	Budget     int64
	TopArtists int
	Recent     int
}

// Enabled reports whether the tier should be refreshed
func (c Cache) Enabled() bool {
	return c.Dir != "" && c.Budget > 0
}

// Config is the resolved, validated configuration
type Config struct {
	Source      string
	Target      string
	Transfer    string
	DryRun      bool
	Interactive bool

	Database  string
	Ledger    string
	Artifacts string
	ExportDir string

	Concurrency    int
	MinSize        int64
	Exclude        []string
	AdditionalExts []string

	Cache Cache

	EventLevel string
	Addr       string
	Verbose    bool
	Quiet      bool
}

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyTransfer, "copy")
	v.SetDefault(KeyDatabase, "mlib.db")
	v.SetDefault(KeyLedger, "mlib-ledger.jsonl")
	v.SetDefault(KeyArtifacts, "artifacts")
	v.SetDefault(KeyExportDir, "exports")
	v.SetDefault(KeyConcurrency, 4)
	v.SetDefault(KeyMinSize, "4KiB")
	v.SetDefault(KeyCacheBudget, "20GiB")
	v.SetDefault(KeyCacheTopArtists, 10)
	v.SetDefault(KeyCacheRecent, 200)
	v.SetDefault(KeyEventLevel, "info")
	v.SetDefault(KeyAddr, "127.0.0.1:8484")
}

// Configure sets up environment binding and the config file search on v.
// An explicit cfgFile takes precedence over the search path.
func Configure(v *viper.Viper, cfgFile string) {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		v.SetConfigName("mlib")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// Load resolves a Config from v. Sizes accept humanize syntax ("20GiB").
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Source:         v.GetString(KeySource),
		Target:         v.GetString(KeyTarget),
		Transfer:       strings.ToLower(strings.TrimSpace(v.GetString(KeyTransfer))),
		DryRun:         v.GetBool(KeyDryRun),
		Interactive:    v.GetBool(KeyInteractive),
		Database:       v.GetString(KeyDatabase),
		Ledger:         v.GetString(KeyLedger),
		Artifacts:      v.GetString(KeyArtifacts),
		ExportDir:      v.GetString(KeyExportDir),
		Concurrency:    v.GetInt(KeyConcurrency),
		Exclude:        v.GetStringSlice(KeyExclude),
		AdditionalExts: v.GetStringSlice(KeyExtensions),
		Cache: Cache{
			Dir:        v.GetString(KeyCacheDir),
			TopArtists: v.GetInt(KeyCacheTopArtists),
			Recent:     v.GetInt(KeyCacheRecent),
		},
		EventLevel: strings.ToLower(v.GetString(KeyEventLevel)),
		Addr:       v.GetString(KeyAddr),
		Verbose:    v.GetBool(KeyVerbose),
		Quiet:      v.GetBool(KeyQuiet),
	}

	var err error
	if cfg.MinSize, err = util.ParseBytes(v.GetString(KeyMinSize)); err != nil {
		return nil, err
	}
	if cfg.Cache.Budget, err = util.ParseBytes(v.GetString(KeyCacheBudget)); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings every command relies on
func (c *Config) Validate() error {
	var problems []string

	if c.Transfer != "copy" && c.Transfer != "link" {
		problems = append(problems, fmt.Sprintf("transfer must be copy or link, got: %q", c.Transfer))
	}
	if strings.TrimSpace(c.Database) == "" {
		problems = append(problems, "db cannot be empty")
	}
	if c.Concurrency < 1 {
		problems = append(problems, fmt.Sprintf("concurrency must be at least 1, got: %d", c.Concurrency))
	}
	if c.MinSize < 0 {
		problems = append(problems, "min-size cannot be negative")
	}
	if c.Cache.Budget < 0 {
		problems = append(problems, "cache-budget cannot be negative")
	}
	if c.Cache.TopArtists < 0 || c.Cache.Recent < 0 {
		problems = append(problems, "cache-top-artists and cache-recent cannot be negative")
	}
	switch c.EventLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		problems = append(problems, fmt.Sprintf("event-level must be one of: debug, info, warn, error, got: %q", c.EventLevel))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w:\n  - %s", util.ErrInvalidConfig, strings.Join(problems, "\n  - "))
	}
	return nil
}

// ValidateOrganize adds the checks only an organize run needs
func (c *Config) ValidateOrganize() error {
	var problems []string

	if strings.TrimSpace(c.Source) == "" {
		problems = append(problems, "source is required")
	}
	if strings.TrimSpace(c.Target) == "" {
		problems = append(problems, "target is required")
	}
	if c.Source != "" && c.Target != "" && filepath.Clean(c.Source) == filepath.Clean(c.Target) {
		problems = append(problems, "source and target must differ")
	}
	if c.Cache.Enabled() && c.Target != "" &&
		(util.IsWithin(c.Target, c.Cache.Dir) || util.IsWithin(c.Cache.Dir, c.Target)) {
		problems = append(problems, "cache-dir must not overlap the target library")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w:\n  - %s", util.ErrInvalidConfig, strings.Join(problems, "\n  - "))
	}
	return nil
}
