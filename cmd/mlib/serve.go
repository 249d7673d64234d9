package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/franz/music-librarian/internal/api"
	"github.com/franz/music-librarian/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the catalog search API over HTTP",
	Long: `Serve exposes the catalog to search frontends and media servers:

  GET  /api/search?q=&limit=&offset=
  GET  /api/artists
  GET  /api/albums?artist=
  GET  /api/tracks/recent?limit=
  GET  /api/tracks/popular?limit=
  GET  /api/tracks/{hash}
  POST /api/tracks/{hash}/play
  PUT  /api/tracks/{hash}/rating   {"rating": 0-5}
  GET  /api/stats

Play counts and ratings are the only values the API changes.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String(config.KeyAddr, "127.0.0.1:8484", "listen address")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Read-write: the API records plays and ratings
	db, err := openCatalog(cfg, false)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return api.New(db, api.WithRequestLogging(cfg.Verbose)).ListenAndServe(ctx, cfg.Addr)
}
