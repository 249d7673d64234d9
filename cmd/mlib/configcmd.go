package main

import (
	"github.com/spf13/cobra"

	"github.com/franz/music-librarian/internal/config"
	"github.com/franz/music-librarian/internal/util"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the mlib config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a commented sample config (default ./mlib.toml)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigInit,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := "mlib.toml"
	if len(args) == 1 {
		path = args[0]
	}
	force, _ := cmd.Flags().GetBool("force")

	if err := config.WriteSample(path, force); err != nil {
		return err
	}
	util.SuccessLog("Wrote sample config: %s", path)
	util.InfoLog("Edit source and target, then run: mlib organize --config %s", path)
	return nil
}
