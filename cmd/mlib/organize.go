package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/franz/music-librarian/internal/config"
	"github.com/franz/music-librarian/internal/pipeline"
	"github.com/franz/music-librarian/internal/report"
	"github.com/franz/music-librarian/internal/util"
)

var organizeCmd = &cobra.Command{
	Use:   "organize",
	Short: "Organize a source folder into the library and update the catalog",
	Long: `Organize scans the source folder, classifies each audio file from its
filename, skips content already in the library, and places new files at
<target>/<Artist>/<Album bucket>/<Title>.<ext>.

This command:
1. Checks preconditions (source exists, target writable, free space)
2. Recovers files placed by an interrupted run from the ledger
3. Hashes and deduplicates every candidate by content
4. Copies (or links) new files with temp-file + rename
5. Commits the batch to the catalog and recomputes aggregates
6. Refreshes the cache tier and rewrites the exported index lists
7. Writes a JSON + Markdown run report under the artifacts directory

Use --dry-run to see what would happen without touching the library.`,
	Example: `  mlib organize --source ~/Downloads/music --target /srv/music --dry-run
  mlib organize --source ~/Downloads/music --target /srv/music --cache-dir /ssd/music --cache-budget 20GiB`,
	RunE: runOrganize,
}

func init() {
	rootCmd.AddCommand(organizeCmd)

	f := organizeCmd.Flags()
	f.String(config.KeySource, "", "folder to organize (required)")
	f.String(config.KeyTarget, "", "library root (required)")
	f.String(config.KeyTransfer, "copy", "transfer mode: copy or link")
	f.Bool(config.KeyDryRun, false, "classify and report without changing anything")
	f.Bool(config.KeyInteractive, false, "confirm before placing files")
	f.String(config.KeyLedger, "mlib-ledger.jsonl", "placement ledger used for crash recovery")
	f.String(config.KeyArtifacts, "artifacts", "directory for event logs and run reports")
	f.String(config.KeyExportDir, "exports", "directory for artists.txt, albums.txt and titles.txt (empty disables)")
	f.Int(config.KeyConcurrency, 4, "number of parallel workers")
	f.String(config.KeyMinSize, "4KiB", "skip audio files smaller than this")
	f.StringSlice(config.KeyExclude, nil, "directories never scanned")
	f.StringSlice(config.KeyExtensions, nil, "additional audio extensions (e.g. .dsf)")
	f.String(config.KeyEventLevel, "info", "event log level: debug, info, warn, error")
	addCacheFlags(organizeCmd)
}

// addCacheFlags registers the cache tier flags shared by organize and cache
func addCacheFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String(config.KeyCacheDir, "", "cache tier directory (empty disables the cache)")
	f.String(config.KeyCacheBudget, "20GiB", "cache tier byte budget")
	f.Int(config.KeyCacheTopArtists, 10, "number of artists with the most tracks kept in the cache")
	f.Int(config.KeyCacheRecent, 200, "number of most recently added tracks kept in the cache")
}

func runOrganize(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, err := pipeline.New(cfg,
		pipeline.WithProgress(!cfg.Quiet),
		pipeline.WithConfirm(confirmRun),
	)
	if err != nil {
		return err
	}

	if cfg.DryRun {
		util.InfoLog("=== Dry Run (no files or catalog rows are written) ===")
	} else {
		util.InfoLog("=== Organize ===")
	}
	util.InfoLog("Source:   %s", cfg.Source)
	util.InfoLog("Target:   %s", cfg.Target)
	util.InfoLog("Transfer: %s", cfg.Transfer)
	util.InfoLog("Workers:  %d", cfg.Concurrency)
	if cfg.Cache.Enabled() && !cfg.DryRun {
		util.InfoLog("Cache:    %s (%s budget)", cfg.Cache.Dir, util.FormatBytes(cfg.Cache.Budget))
	}

	result, err := runner.Run(ctx)
	if errors.Is(err, pipeline.ErrDeclined) {
		util.WarnLog("Aborted; nothing was placed")
		return nil
	}
	if result != nil && result.Stats != nil && !cfg.Quiet {
		fmt.Println()
		fmt.Println(report.RenderSummary(result.Stats))
	}
	if err != nil {
		return err
	}

	printFailures(result.Stats)

	if result.Cache != nil {
		util.InfoLog("Cache tier: %d entries, %s (%d copied, %d evicted)",
			result.Cache.Entries, util.FormatBytes(result.Cache.TotalBytes), result.Cache.Copied, result.Cache.Evicted)
	}
	if result.Export != nil {
		util.InfoLog("Exported %d artists, %d albums, %d titles to %s",
			result.Export.Artists, result.Export.Albums, result.Export.Titles, result.Export.Dir)
	}
	if result.EventLog != "" {
		util.InfoLog("Event log: %s", result.EventLog)
	}
	if result.ReportDir != "" {
		util.SuccessLog("Report saved to: %s", result.ReportDir)
	}
	if cfg.DryRun {
		util.InfoLog("")
		util.InfoLog("To apply: rerun without --dry-run")
	}
	return nil
}

func printFailures(s *report.RunStats) {
	for _, w := range s.Warnings {
		util.WarnLog("%s", w)
	}
	if len(s.Failures) == 0 {
		return
	}
	util.WarnLog("%d files failed:", s.Failed)
	for i, f := range s.Failures {
		if i >= 10 {
			util.WarnLog("  ... and %d more (see the run report)", len(s.Failures)-10)
			break
		}
		util.WarnLog("  - %s: %s", f.Path, f.Error)
	}
	util.InfoLog("Failed files are retried on the next run")
}

// confirmRun asks the operator on stdin before anything is placed
func confirmRun(p pipeline.Preview) bool {
	fmt.Println()
	fmt.Printf("About to %s %d files (%s) from %s into %s",
		p.Transfer, p.Candidates, util.FormatBytes(p.Bytes), p.Source, p.Target)
	if p.Recovered > 0 {
		fmt.Printf(", and commit %d files recovered from an interrupted run", p.Recovered)
	}
	fmt.Println(".")
	return askYesNo(bufio.NewReader(os.Stdin), "Continue? [y/N]: ")
}

func askYesNo(r *bufio.Reader, prompt string) bool {
	fmt.Print(prompt)
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
