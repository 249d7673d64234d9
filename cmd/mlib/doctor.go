package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/music-librarian/internal/config"
	"github.com/franz/music-librarian/internal/dedup"
	"github.com/franz/music-librarian/internal/ledger"
	"github.com/franz/music-librarian/internal/store"
	"github.com/franz/music-librarian/internal/util"
)

// lowSpaceBytes triggers a disk space warning
const lowSpaceBytes = 10 << 30

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks on the environment and configuration",
	Long: `Run diagnostic checks to ensure mlib can operate correctly.

This command checks:
- Content hashing (SHA-256) and the SQLite full-text index (FTS5)
- Catalog accessibility and integrity
- Whether another run holds the catalog lock
- Ledger entries waiting to be recovered
- Source readability, target and cache writability
- Disk space availability

Use this command to troubleshoot issues before running mlib organize.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)

	doctorCmd.Flags().String(config.KeySource, "", "source directory to check (optional)")
	doctorCmd.Flags().String(config.KeyTarget, "", "library root to check (optional)")
	doctorCmd.Flags().String(config.KeyLedger, "mlib-ledger.jsonl", "ledger to inspect")
	doctorCmd.Flags().String(config.KeyCacheDir, "", "cache tier directory to check (optional)")
}

type checkResult struct {
	name    string
	message string
	error   bool
	warning bool
}

func runDoctor(cmd *cobra.Command, args []string) error {
	util.InfoLog("=== mlib doctor - System Diagnostics ===")
	util.InfoLog("")

	results := []checkResult{
		checkHashing(),
		checkSQLite(),
		checkFTS5(),
	}

	dbPath := viper.GetString(config.KeyDatabase)
	results = append(results, checkDatabase(dbPath), checkLock(dbPath))
	results = append(results, checkLedger(viper.GetString(config.KeyLedger)))

	srcPath := viper.GetString(config.KeySource)
	if srcPath != "" {
		results = append(results, checkSourceDirectory(srcPath))
	}
	targetPath := viper.GetString(config.KeyTarget)
	if targetPath != "" {
		results = append(results, checkTargetDirectory(targetPath, "Target directory"))
		results = append(results, checkDiskSpace(targetPath, "target"))
	}
	if srcPath != "" && targetPath != "" {
		results = append(results, checkSameFilesystem(srcPath, targetPath))
	}
	cacheDir := viper.GetString(config.KeyCacheDir)
	if cacheDir != "" {
		if targetPath != "" && (util.IsWithin(targetPath, cacheDir) || util.IsWithin(cacheDir, targetPath)) {
			results = append(results, checkResult{
				name:    "Cache directory",
				error:   true,
				message: fmt.Sprintf("%s overlaps the library %s", cacheDir, targetPath),
			})
		} else {
			results = append(results, checkTargetDirectory(cacheDir, "Cache directory"))
			results = append(results, checkDiskSpace(cacheDir, "cache"))
		}
	}

	// Print results
	util.InfoLog("")
	util.InfoLog("=== Diagnostic Results ===")
	util.InfoLog("")

	hasErrors := false
	hasWarnings := false

	for _, r := range results {
		symbol := "✓"
		if r.error {
			symbol = "✗"
			hasErrors = true
		} else if r.warning {
			symbol = "⚠"
			hasWarnings = true
		}

		line := fmt.Sprintf("[%s] %s", symbol, r.name)
		if r.message != "" {
			line += fmt.Sprintf(": %s", r.message)
		}

		if r.error {
			util.ErrorLog("%s", line)
		} else if r.warning {
			util.WarnLog("%s", line)
		} else {
			util.SuccessLog("%s", line)
		}
	}

	util.InfoLog("")
	if hasErrors {
		util.ErrorLog("Some critical checks failed. Please resolve errors before running mlib.")
		return fmt.Errorf("system diagnostics failed")
	} else if hasWarnings {
		util.WarnLog("Some checks produced warnings. Review them before proceeding.")
	} else {
		util.SuccessLog("All checks passed! System is ready for mlib operations.")
	}

	return nil
}

// checkHashing verifies the content digest is available
func checkHashing() checkResult {
	if !dedup.Available() {
		return checkResult{name: "Content hashing", error: true, message: "SHA-256 unavailable"}
	}
	return checkResult{name: "Content hashing", message: "SHA-256"}
}

// checkSQLite verifies SQLite version
func checkSQLite() checkResult {
	// modernc.org/sqlite is pure Go; there is no system library to find
	version := store.SQLiteVersion()
	if version == "" {
		return checkResult{
			name:    "SQLite",
			error:   true,
			message: "unable to determine version",
		}
	}

	return checkResult{
		name:    "SQLite",
		message: fmt.Sprintf("version %s (built-in)", version),
	}
}

// checkFTS5 verifies the full-text index module is compiled in
func checkFTS5() checkResult {
	if err := store.CheckFTS5(); err != nil {
		return checkResult{name: "Full-text search", error: true, message: err.Error()}
	}
	return checkResult{name: "Full-text search", message: "FTS5 available"}
}

// checkDatabase verifies catalog accessibility and integrity
func checkDatabase(dbPath string) checkResult {
	if dbPath == "" {
		return checkResult{
			name:    "Catalog",
			warning: true,
			message: "no database path specified (use --db flag or config)",
		}
	}

	info, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return checkResult{
				name:    "Catalog",
				message: fmt.Sprintf("%s (will be created on first run)", dbPath),
			}
		}
		return checkResult{
			name:    "Catalog",
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", dbPath, err),
		}
	}

	if !info.Mode().IsRegular() {
		return checkResult{
			name:    "Catalog",
			error:   true,
			message: fmt.Sprintf("%s is not a regular file", dbPath),
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return checkResult{
			name:    "Catalog",
			error:   true,
			message: fmt.Sprintf("cannot open %s: %v", dbPath, err),
		}
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.CheckIntegrity(ctx); err != nil {
		return checkResult{
			name:    "Catalog",
			error:   true,
			message: fmt.Sprintf("integrity check failed: %v", err),
		}
	}

	st, err := db.Stats(ctx)
	if err != nil {
		return checkResult{
			name:    "Catalog",
			error:   true,
			message: fmt.Sprintf("cannot read stats: %v", err),
		}
	}

	return checkResult{
		name:    "Catalog",
		message: fmt.Sprintf("%s (%s, %d tracks, %d artists)", dbPath, util.FormatBytes(info.Size()), st.Tracks, st.Artists),
	}
}

// checkLock reports whether an organize run currently holds the catalog
func checkLock(dbPath string) checkResult {
	lockPath := dbPath + ".lock"
	if _, err := os.Stat(lockPath); os.IsNotExist(err) {
		return checkResult{name: "Catalog lock", message: "free"}
	}

	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return checkResult{name: "Catalog lock", warning: true, message: fmt.Sprintf("cannot test %s: %v", lockPath, err)}
	}
	if !ok {
		return checkResult{name: "Catalog lock", warning: true, message: "held by a running mlib process"}
	}
	lock.Unlock()
	return checkResult{name: "Catalog lock", message: "free"}
}

// checkLedger reports entries an interrupted run left for recovery
func checkLedger(path string) checkResult {
	if path == "" {
		return checkResult{name: "Ledger", warning: true, message: "no ledger path specified"}
	}
	entries, malformed, err := ledger.ReadAll(path)
	if err != nil {
		return checkResult{name: "Ledger", error: true, message: fmt.Sprintf("cannot read %s: %v", path, err)}
	}

	switch {
	case malformed > 0:
		return checkResult{
			name:    "Ledger",
			warning: true,
			message: fmt.Sprintf("%s has %d unreadable lines (ignored on recovery)", path, malformed),
		}
	case len(entries) > 0:
		return checkResult{
			name:    "Ledger",
			warning: true,
			message: fmt.Sprintf("%d placed files pending commit; the next organize run recovers them", len(entries)),
		}
	default:
		return checkResult{name: "Ledger", message: "empty"}
	}
}

// checkSourceDirectory verifies source directory is readable
func checkSourceDirectory(path string) checkResult {
	info, err := os.Stat(path)
	if err != nil {
		return checkResult{
			name:    "Source directory",
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", path, err),
		}
	}

	if !info.IsDir() {
		return checkResult{
			name:    "Source directory",
			error:   true,
			message: fmt.Sprintf("%s is not a directory", path),
		}
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return checkResult{
			name:    "Source directory",
			error:   true,
			message: fmt.Sprintf("cannot read %s: %v", path, err),
		}
	}

	return checkResult{
		name:    "Source directory",
		message: fmt.Sprintf("%s (%d entries)", path, len(entries)),
	}
}

// checkTargetDirectory verifies a directory mlib writes into is writable,
// creating it when missing
func checkTargetDirectory(path, name string) checkResult {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(path, 0755); err != nil {
				return checkResult{
					name:    name,
					error:   true,
					message: fmt.Sprintf("cannot create %s: %v", path, err),
				}
			}
			return checkResult{
				name:    name,
				message: fmt.Sprintf("%s (created)", path),
			}
		}
		return checkResult{
			name:    name,
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", path, err),
		}
	}

	if !info.IsDir() {
		return checkResult{
			name:    name,
			error:   true,
			message: fmt.Sprintf("%s is not a directory", path),
		}
	}

	testFile := filepath.Join(path, ".mlib_write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return checkResult{
			name:    name,
			error:   true,
			message: fmt.Sprintf("cannot write to %s: %v", path, err),
		}
	}
	f.Close()
	os.Remove(testFile)

	caseNote := ""
	if cs, err := util.DetectFilesystemCaseSensitivity(path); err == nil && !cs {
		caseNote = ", case-insensitive"
	}

	return checkResult{
		name:    name,
		message: fmt.Sprintf("%s (writable%s)", path, caseNote),
	}
}

// checkSameFilesystem notes when copies cross a device boundary
func checkSameFilesystem(src, target string) checkResult {
	same, err := util.IsSameFilesystem(src, target)
	if err != nil {
		return checkResult{name: "Filesystems", warning: true, message: fmt.Sprintf("cannot compare devices: %v", err)}
	}
	if !same {
		return checkResult{name: "Filesystems", message: "source and target differ; files are copied across devices"}
	}
	return checkResult{name: "Filesystems", message: "source and target share a device"}
}

// checkDiskSpace verifies available disk space
func checkDiskSpace(path string, label string) checkResult {
	free, err := util.FreeBytes(path)
	if err != nil {
		return checkResult{
			name:    fmt.Sprintf("Disk space (%s)", label),
			warning: true,
			message: fmt.Sprintf("cannot determine disk space: %v", err),
		}
	}

	warning := free < lowSpaceBytes
	msg := fmt.Sprintf("%s available", util.FormatBytes(int64(free)))
	if warning {
		msg += " (low space!)"
	}

	return checkResult{
		name:    fmt.Sprintf("Disk space (%s)", label),
		warning: warning,
		message: msg,
	}
}
