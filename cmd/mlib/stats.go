package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/franz/music-librarian/internal/report"
	"github.com/franz/music-librarian/internal/store"
	"github.com/franz/music-librarian/internal/util"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog totals and recent runs",
	Long: `Show catalog totals and the most recent organize runs.

Subcommands list the aggregate views:
  artists   per-artist track counts and sizes
  albums    per-album track counts (optionally for one artist)
  recent    most recently added tracks
  popular   most played tracks`,
	RunE: runStats,
}

var statsArtistsCmd = &cobra.Command{
	Use:   "artists",
	Short: "List artists with track and album counts",
	RunE:  runStatsArtists,
}

var statsAlbumsCmd = &cobra.Command{
	Use:   "albums [artist]",
	Short: "List albums, optionally for one artist",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatsAlbums,
}

var statsRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the most recently added tracks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTrackList(cmd, (*store.Store).RecentTracks)
	},
}

var statsPopularCmd = &cobra.Command{
	Use:   "popular",
	Short: "List the most played tracks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTrackList(cmd, (*store.Store).PopularTracks)
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.AddCommand(statsArtistsCmd, statsAlbumsCmd, statsRecentCmd, statsPopularCmd)

	statsCmd.Flags().Int("runs", 5, "number of recent runs to show")
	statsArtistsCmd.Flags().Int("top", 0, "show only the N artists with the most tracks")
	statsRecentCmd.Flags().Int("limit", 20, "number of tracks")
	statsPopularCmd.Flags().Int("limit", 20, "number of tracks")
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openCatalog(cfg, true)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	st, err := db.Stats(ctx)
	if err != nil {
		return err
	}

	fmt.Println(report.RenderTable([]string{"Catalog", "Value"}, [][]string{
		{"Tracks", strconv.FormatInt(st.Tracks, 10)},
		{"Artists", strconv.FormatInt(st.Artists, 10)},
		{"Albums", strconv.FormatInt(st.Albums, 10)},
		{"Total Size", util.FormatBytes(st.TotalBytes)},
		{"Plays", strconv.FormatInt(st.PlayCount, 10)},
	}, []report.Align{report.AlignLeft, report.AlignRight}))

	n, _ := cmd.Flags().GetInt("runs")
	runs, err := db.ListRuns(ctx, n)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		return nil
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{r.RunID, formatTime(r.StartedAt), r.Mode, r.Transfer, r.Status})
	}
	fmt.Println()
	fmt.Println(report.RenderTable([]string{"Run", "Started", "Mode", "Transfer", "Status"}, rows, nil))
	return nil
}

func runStatsArtists(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openCatalog(cfg, true)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	var artists []store.Artist
	if top, _ := cmd.Flags().GetInt("top"); top > 0 {
		artists, err = db.TopArtists(ctx, top)
	} else {
		artists, err = db.Artists(ctx)
	}
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(artists))
	for _, a := range artists {
		rows = append(rows, []string{
			a.Name,
			strconv.FormatInt(a.TrackCount, 10),
			strconv.FormatInt(a.AlbumCount, 10),
			util.FormatBytes(a.TotalSize),
			formatTime(a.LastAdded),
		})
	}
	fmt.Println(report.RenderTable(
		[]string{"Artist", "Tracks", "Albums", "Size", "Last Added"},
		rows,
		[]report.Align{report.AlignLeft, report.AlignRight, report.AlignRight, report.AlignRight},
	))
	return nil
}

func runStatsAlbums(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openCatalog(cfg, true)
	if err != nil {
		return err
	}
	defer db.Close()

	artist := ""
	if len(args) == 1 {
		artist = args[0]
	}
	albums, err := db.Albums(context.Background(), artist)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(albums))
	for _, a := range albums {
		rows = append(rows, []string{
			a.Artist,
			a.Bucket,
			strconv.FormatInt(a.TrackCount, 10),
			util.FormatBytes(a.TotalSize),
			formatTime(a.DateAdded),
		})
	}
	fmt.Println(report.RenderTable(
		[]string{"Artist", "Album", "Tracks", "Size", "Added"},
		rows,
		[]report.Align{report.AlignLeft, report.AlignLeft, report.AlignRight, report.AlignRight},
	))
	return nil
}

func runTrackList(cmd *cobra.Command, list func(*store.Store, context.Context, int) ([]store.Track, error)) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openCatalog(cfg, true)
	if err != nil {
		return err
	}
	defer db.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	tracks, err := list(db, context.Background(), limit)
	if err != nil {
		return err
	}
	fmt.Println(renderTracks(tracks))
	return nil
}
