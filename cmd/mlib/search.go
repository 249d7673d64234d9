package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/franz/music-librarian/internal/store"
	"github.com/franz/music-librarian/internal/util"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search the catalog by artist, album or title",
	Long: `Search matches every word of the query as a prefix of a word in the
artist, album bucket or title, best matches first.`,
	Example: `  mlib search daft punk
  mlib search "porcel" --limit 5`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().Int("limit", store.DefaultSearchLimit, "maximum results")
	searchCmd.Flags().Int("offset", 0, "skip this many results")
	searchCmd.Flags().Bool("paths", false, "print canonical paths only")
}

func runSearch(cmd *cobra.Command, args []string) error {
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
	offset, _ := cmd.Flags().GetInt("offset")
	pathsOnly, _ := cmd.Flags().GetBool("paths")

	query := strings.Join(args, " ")
	tracks, err := db.Search(context.Background(), query, limit, offset)
	if err != nil {
		return err
	}

	if pathsOnly {
		for _, t := range tracks {
			fmt.Println(t.CanonicalPath)
		}
		return nil
	}
	if len(tracks) == 0 {
		util.InfoLog("No tracks match %q", query)
		return nil
	}
	fmt.Println(renderTracks(tracks))
	util.InfoLog("%d results", len(tracks))
	return nil
}
