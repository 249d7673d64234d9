package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/franz/music-librarian/internal/cache"
	"github.com/franz/music-librarian/internal/config"
	"github.com/franz/music-librarian/internal/report"
	"github.com/franz/music-librarian/internal/store"
	"github.com/franz/music-librarian/internal/util"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the cache tier of popular and recent tracks",
	Long: `The cache tier holds copies of every track by the artists with the most
tracks plus the most recently added tracks, within a byte budget. It is
fully derived from the catalog: clearing it never loses library data.`,
}

var cacheRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Bring the cache tier in line with the catalog",
	RunE:  runCacheRefresh,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache tier usage",
	RunE:  runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached copy and cache entry",
	RunE:  runCacheClear,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheRefreshCmd, cacheStatsCmd, cacheClearCmd)

	for _, c := range []*cobra.Command{cacheRefreshCmd, cacheStatsCmd, cacheClearCmd} {
		addCacheFlags(c)
		c.Flags().String(config.KeyTarget, "", "library root the cache must not overlap")
	}
}

// newCacheManager opens the catalog read-write and builds the tier manager
func newCacheManager(cfg *config.Config) (*cache.Manager, *store.Store, error) {
	if cfg.Cache.Dir == "" {
		return nil, nil, fmt.Errorf("%w: --cache-dir is required", util.ErrInvalidConfig)
	}
	db, err := openCatalog(cfg, false)
	if err != nil {
		return nil, nil, err
	}
	m, err := cache.New(cache.Config{
		Root:        cfg.Cache.Dir,
		LibraryRoot: cfg.Target,
		Budget:      cfg.Cache.Budget,
		TopArtists:  cfg.Cache.TopArtists,
		Recent:      cfg.Cache.Recent,
	}, db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return m, db, nil
}

func runCacheRefresh(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	m, db, err := newCacheManager(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	lock, err := lockCatalog(cfg)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	res, err := m.Refresh(context.Background())
	if err != nil {
		return err
	}

	fmt.Println(report.RenderTable([]string{"Cache Refresh", "Value"}, [][]string{
		{"Desired", strconv.Itoa(res.Desired)},
		{"Copied", strconv.Itoa(res.Copied)},
		{"Already Cached", strconv.Itoa(res.Touched)},
		{"Dropped", strconv.Itoa(res.Dropped)},
		{"Evicted", strconv.Itoa(res.Evicted)},
		{"Over Budget", strconv.Itoa(res.OverBudget)},
		{"Failed", strconv.Itoa(res.Failed)},
		{"Bytes Copied", util.FormatBytes(res.BytesCopied)},
		{"Tier Size", fmt.Sprintf("%s / %s", util.FormatBytes(res.TotalBytes), util.FormatBytes(cfg.Cache.Budget))},
	}, []report.Align{report.AlignLeft, report.AlignRight}))

	if res.Failed > 0 {
		util.WarnLog("%d tracks could not be cached; see the log above", res.Failed)
	}
	return nil
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	m, db, err := newCacheManager(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	st, err := m.Stats(context.Background())
	if err != nil {
		return err
	}

	used := "-"
	if st.Budget > 0 {
		used = fmt.Sprintf("%.1f%%", float64(st.TotalBytes)/float64(st.Budget)*100)
	}
	fmt.Println(report.RenderTable([]string{"Cache", "Value"}, [][]string{
		{"Root", st.Root},
		{"Entries", strconv.Itoa(st.Entries)},
		{"Hot", strconv.Itoa(st.Hot)},
		{"Recent", strconv.Itoa(st.Recent)},
		{"Size", util.FormatBytes(st.TotalBytes)},
		{"Budget", util.FormatBytes(st.Budget)},
		{"Used", used},
	}, []report.Align{report.AlignLeft, report.AlignRight}))
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	m, db, err := newCacheManager(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	lock, err := lockCatalog(cfg)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	if err := m.Clear(context.Background()); err != nil {
		return err
	}
	util.SuccessLog("Cache tier cleared: %s", m.Root())
	return nil
}
