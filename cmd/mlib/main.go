package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/music-librarian/internal/config"
	"github.com/franz/music-librarian/internal/util"
)

// Exit codes
const (
	exitOK           = 0
	exitError        = 1
	exitPrecondition = 2
	exitCommit       = 3
)

var (
	// Version is set at build time
	Version = "dev"

	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "mlib",
		Short: "Music Librarian - organize a music collection and catalog it",
		Long: `mlib (Music Librarian) files a messy folder of audio files into a clean
Artist/Album/Title library, deduplicates by content, and maintains a
searchable catalog with a size-bounded cache tier of popular and recent
tracks.

Runs are resumable: every placed file is journaled before the catalog
commit, so an interrupted run is finished by the next one.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if noColor, _ := cmd.Flags().GetBool("no-color"); noColor || os.Getenv("NO_COLOR") != "" {
				util.SetColors(false)
			}
			// Flags share names with config keys; bind whichever this command defines
			return viper.BindPFlags(cmd.Flags())
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/mlib.{yaml,toml} or ./mlib.{yaml,toml})")
	rootCmd.PersistentFlags().String(config.KeyDatabase, "mlib.db", "catalog database file")
	rootCmd.PersistentFlags().BoolP(config.KeyVerbose, "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolP(config.KeyQuiet, "q", false, "quiet output (errors only)")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")
}

func initConfig() {
	config.Configure(viper.GetViper(), cfgFile)

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil {
		if !viper.GetBool(config.KeyQuiet) {
			util.InfoLog("Using config file: %s", viper.ConfigFileUsed())
		}
	} else if cfgFile != "" {
		util.WarnLog("Could not read config file %s: %v", cfgFile, err)
	}
}

// loadConfig resolves the configuration for the running command and applies
// the log level
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	util.SetVerbose(cfg.Verbose)
	util.SetQuiet(cfg.Quiet)
	return cfg, nil
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case util.IsPrecondition(err):
		return exitPrecondition
	case errors.Is(err, util.ErrCommit):
		return exitCommit
	default:
		return exitError
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}
