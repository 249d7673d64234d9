package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/franz/music-librarian/internal/config"
	"github.com/franz/music-librarian/internal/export"
	"github.com/franz/music-librarian/internal/util"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write artists.txt, albums.txt and titles.txt from the catalog",
	Long: `Export rewrites the plain-text index lists (one name per line, sorted,
deduplicated) that media servers and scripts consume. Organize runs do
this automatically after each commit.`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().String(config.KeyExportDir, "exports", "output directory")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openCatalog(cfg, true)
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := export.New(nil, cfg.ExportDir).Write(context.Background(), db)
	if err != nil {
		return err
	}
	util.SuccessLog("Exported %d artists, %d albums, %d titles to %s", res.Artists, res.Albums, res.Titles, res.Dir)
	return nil
}
