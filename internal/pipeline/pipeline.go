// Package pipeline runs one organize pass: scan the source, classify, dedup
// and place every candidate in parallel, commit the catalog batch, then
// recompute aggregates, refresh the cache tier, export index lists and write
// the run report.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/sourcegraph/conc/pool"

	"github.com/franz/music-librarian/internal/cache"
	"github.com/franz/music-librarian/internal/config"
	"github.com/franz/music-librarian/internal/cuesheet"
	"github.com/franz/music-librarian/internal/dedup"
	"github.com/franz/music-librarian/internal/export"
	"github.com/franz/music-librarian/internal/ledger"
	"github.com/franz/music-librarian/internal/place"
	"github.com/franz/music-librarian/internal/report"
	"github.com/franz/music-librarian/internal/scan"
	"github.com/franz/music-librarian/internal/store"
	"github.com/franz/music-librarian/internal/util"
)

// ErrDeclined is returned when the operator answers no at the interactive prompt
var ErrDeclined = errors.New("run declined by operator")

// Preview is what the operator is asked to confirm in interactive mode
type Preview struct {
	Source     string
	Target     string
	Transfer   place.Mode
	Candidates int
	Bytes      int64
	Recovered  int
}

// Option customises a Runner
type Option func(*Runner)

// WithProgress shows progress bars when stdout is a terminal
func WithProgress(show bool) Option {
	return func(r *Runner) { r.showProgress = show }
}

// WithConfirm sets the prompt used when the config asks for interactive runs
func WithConfirm(confirm func(Preview) bool) Option {
	return func(r *Runner) { r.confirm = confirm }
}

// WithClock overrides time.Now for added_at and report stamps
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// Runner executes organize runs for one configuration
type Runner struct {
	cfg          *config.Config
	mode         place.Mode
	showProgress bool
	confirm      func(Preview) bool
	now          func() time.Time
}

// Result is what a finished run hands back to the CLI
type Result struct {
	Stats     *report.RunStats
	ReportDir string
	EventLog  string
	Cache     *cache.RefreshResult
	Export    *export.Result
}

// New validates cfg for an organize run and returns a Runner
func New(cfg *config.Config, opts ...Option) (*Runner, error) {
	if err := cfg.ValidateOrganize(); err != nil {
		return nil, err
	}
	mode, err := place.ParseMode(cfg.Transfer)
	if err != nil {
		return nil, err
	}
	r := &Runner{cfg: cfg, mode: mode, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// run holds the state of one Run call
type run struct {
	*Runner
	id      string
	stats   *report.RunStats
	events  *report.EventLogger
	db      *store.Store
	index   *dedup.Index
	placer  *place.Placer
	ledger  *ledger.Ledger
	tuning  *util.Tuning
	pending []store.Track

	// catalogPaths maps each cataloged canonical path to its content hash
	catalogPaths map[string]string
}

// Run executes one pass. Per-file failures are counted in the returned
// stats; an error means a precondition or the catalog commit failed, or the
// run was cancelled.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	cfg := r.cfg
	execute := !cfg.DryRun

	// Preconditions: nothing in the library or catalog changes before these pass
	if err := checkSource(cfg.Source); err != nil {
		return nil, err
	}
	if err := checkCapabilities(); err != nil {
		return nil, err
	}
	if err := checkTarget(cfg.Target, execute); err != nil {
		return nil, err
	}

	if execute {
		lock, err := acquireLock(cfg.Database)
		if err != nil {
			return nil, err
		}
		defer lock.Unlock()
	}

	st := &run{
		Runner: r,
		id:     uuid.NewString(),
		tuning: util.TuneForPaths(cfg.Concurrency, cfg.Source, cfg.Target),
	}
	runMode := "execute"
	if !execute {
		runMode = "dry-run"
	}
	st.stats = report.NewRunStats(st.id, runMode, string(r.mode))
	st.stats.StartedAt = r.now()
	st.stats.SourceRoot = cfg.Source
	st.stats.TargetRoot = cfg.Target

	events, err := report.NewEventLogger(filepath.Join(cfg.Artifacts, "events"), report.ParseLevel(cfg.EventLevel))
	if err != nil {
		util.WarnLog("Event log disabled: %v", err)
		events = report.NullLogger()
	}
	defer events.Close()
	events.SetRunID(st.id)
	st.events = events

	var placed []ledger.Entry
	ledgered := map[string]ledger.Entry{}
	if execute {
		if placed, ledgered, err = st.readLedger(); err != nil {
			return nil, err
		}
	}

	scanner := scan.New(&scan.Config{
		AdditionalExts: cfg.AdditionalExts,
		MinSize:        cfg.MinSize,
		Exclude:        append([]string{cfg.Target, cfg.Cache.Dir, cfg.Artifacts, cfg.ExportDir}, cfg.Exclude...),
		ShowProgress:   r.showProgress,
	})
	scanned, err := scanner.Scan(ctx, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	candidates := st.recordScan(scanned, ledgered)

	var need int64
	for _, c := range candidates {
		need += c.Size
	}
	if execute && r.mode == place.ModeCopy {
		if err := checkFreeSpace(cfg.Target, need); err != nil {
			return nil, err
		}
	}

	// The catalog is created or migrated only once every precondition passed
	if err := st.openCatalog(ctx, execute); err != nil {
		return nil, err
	}
	if st.db != nil {
		defer st.db.Close()
	}
	recovered := st.recoverLedger(placed)

	if execute && cfg.Interactive && r.confirm != nil {
		ok := r.confirm(Preview{
			Source:     cfg.Source,
			Target:     cfg.Target,
			Transfer:   r.mode,
			Candidates: len(candidates),
			Bytes:      need,
			Recovered:  len(recovered),
		})
		if !ok {
			events.LogRun("declined", nil)
			return nil, ErrDeclined
		}
	}

	if r.mode == place.ModeLink {
		msg := "link mode: library entries are symlinks and break if the source files move or are deleted"
		util.WarnLog("%s", msg)
		st.stats.Warn(msg)
	}

	caseSensitive := true
	if execute {
		if cs, err := util.DetectFilesystemCaseSensitivity(cfg.Target); err == nil {
			caseSensitive = cs
		}
	}
	st.placer = place.New(place.Config{
		Root:          cfg.Target,
		Mode:          r.mode,
		BufferSize:    st.tuning.BufferSize,
		RetryConfig:   st.tuning.Retry,
		CaseSensitive: caseSensitive,
	})
	// Names the catalog holds stay taken even when their file was deleted
	for path, hash := range st.catalogPaths {
		st.placer.Occupy(path, hash)
	}

	events.LogRun("start", map[string]string{
		"mode":       runMode,
		"transfer":   string(r.mode),
		"candidates": fmt.Sprintf("%d", len(candidates)),
	})

	if execute {
		if err := st.db.CreateRun(ctx, store.Run{
			RunID:     st.id,
			StartedAt: store.NewTime(st.stats.StartedAt),
			Mode:      runMode,
			Transfer:  string(r.mode),
			Status:    store.RunRunning,
		}); err != nil {
			return nil, err
		}
		if st.ledger, err = ledger.Open(cfg.Ledger); err != nil {
			return nil, st.fail(err)
		}
		defer st.ledger.Close()

		for _, e := range recovered {
			st.pending = append(st.pending, trackFromEntry(e))
			st.stats.RecordRecovered(e.SizeBytes)
			events.LogRecover(e.ContentHash, e.SourcePath, e.CanonicalPath)
		}
	}

	st.process(ctx, candidates)

	if err := ctx.Err(); err != nil {
		st.stats.Warn("run cancelled; placed files are kept in the ledger and committed by the next run")
		st.stats.Finish(r.now())
		if execute {
			return &Result{Stats: st.stats, EventLog: events.Path()}, st.fail(err)
		}
		return &Result{Stats: st.stats, EventLog: events.Path()}, err
	}

	if !execute {
		st.stats.Finish(r.now())
		events.LogRun("finish", map[string]string{"status": "dry-run"})
		return &Result{Stats: st.stats, EventLog: events.Path()}, nil
	}

	return st.commit(ctx)
}

// openCatalog opens the catalog read-write for a real run. A dry run reads
// an existing catalog to seed the index and works without one otherwise.
func (st *run) openCatalog(ctx context.Context, execute bool) error {
	if execute {
		db, err := store.OpenWithOptions(st.cfg.Database, &store.OpenOptions{
			NetworkOptimized: st.tuning.Network != nil,
		})
		if err != nil {
			return fmt.Errorf("failed to open catalog: %w", err)
		}
		st.db = db
	} else if _, err := os.Stat(st.cfg.Database); err == nil {
		db, err := store.OpenWithOptions(st.cfg.Database, &store.OpenOptions{ReadOnly: true})
		if err != nil {
			return fmt.Errorf("failed to open catalog: %w", err)
		}
		st.db = db
	}

	seed := map[string]string{}
	if st.db != nil {
		var err error
		if seed, err = st.db.HashIndex(ctx); err != nil {
			return err
		}
	}
	st.index = dedup.NewIndex(seed)
	st.catalogPaths = make(map[string]string, len(seed))
	for hash, path := range seed {
		st.catalogPaths[path] = hash
	}
	util.DebugLog("Hash index loaded: %d tracks", st.index.Len())
	return nil
}

// readLedger returns entries from an interrupted run whose canonical file
// still exists, plus the same entries keyed by source path so the scan can
// skip re-placing them
func (st *run) readLedger() ([]ledger.Entry, map[string]ledger.Entry, error) {
	entries, skipped, err := ledger.ReadAll(st.cfg.Ledger)
	if err != nil {
		return nil, nil, err
	}
	if skipped > 0 {
		util.WarnLog("Ledger: ignored %d unreadable lines", skipped)
	}

	var placed []ledger.Entry
	bySource := make(map[string]ledger.Entry)
	for _, e := range entries {
		if _, err := os.Lstat(e.CanonicalPath); err != nil {
			continue
		}
		placed = append(placed, e)
		bySource[e.SourcePath] = e
	}
	return placed, bySource, nil
}

// recoverLedger picks the placed entries that are not yet cataloged and
// seeds the index with their hashes. An entry whose canonical path the
// catalog holds for other content can never commit and is left out.
func (st *run) recoverLedger(placed []ledger.Entry) []ledger.Entry {
	var recovered []ledger.Entry
	for _, e := range placed {
		if hash, ok := st.catalogPaths[e.CanonicalPath]; ok && hash != e.ContentHash {
			util.WarnLog("Ledger: %s is cataloged with other content; not recovering %s", e.CanonicalPath, e.SourcePath)
			st.events.LogConflict(e.SourcePath, e.CanonicalPath, "canonical path cataloged with other content")
			continue
		}
		if _, ok := st.index.Lookup(e.ContentHash); ok {
			continue
		}
		st.index.Add(e.ContentHash, e.CanonicalPath)
		recovered = append(recovered, e)
	}
	if len(recovered) > 0 {
		util.InfoLog("Ledger: recovering %d placed files from an interrupted run", len(recovered))
	}
	return recovered
}

// recordScan counts scan skips, logs cue sheets and drops candidates the
// ledger already accounts for
func (st *run) recordScan(res *scan.Result, ledgered map[string]ledger.Entry) []scan.Candidate {
	for _, s := range res.Skipped {
		reason := s.Reason
		switch s.Reason {
		case scan.SkipNonAudio, scan.SkipNotRegular:
			reason = report.SkipNonAudio
		case scan.SkipTooSmall:
			reason = report.SkipTooSmall
		case scan.SkipCueSheet:
			reason = report.SkipCueSheet
		}
		st.stats.Record(report.FileResult{SourcePath: s.Path, Status: report.StatusSkipped, SkipReason: reason})
		if reason != report.SkipCueSheet {
			st.events.LogSkip(s.Path, reason)
		}
	}

	for _, path := range res.CueSheets {
		sheet, err := cuesheet.ParseFile(path)
		segments := 0
		if err == nil {
			segments = len(sheet.Segments())
		}
		st.events.LogCueSheet(path, segments, err)
	}

	if n := len(res.Errors); n > 0 {
		st.stats.Warn(fmt.Sprintf("%d paths could not be read during the scan", n))
	}

	candidates := make([]scan.Candidate, 0, len(res.Candidates))
	for _, c := range res.Candidates {
		if e, ok := ledgered[c.Path]; ok && e.SizeBytes == c.Size {
			st.stats.Record(report.FileResult{SourcePath: c.Path, Status: report.StatusSkipped, SkipReason: report.SkipLedgered})
			st.events.LogSkip(c.Path, report.SkipLedgered)
			continue
		}
		candidates = append(candidates, c)
	}
	return candidates
}

// process fans candidates out to a bounded worker pool and aggregates the
// results on this goroutine. Cancellation stops feeding new files.
func (st *run) process(ctx context.Context, candidates []scan.Candidate) {
	if len(candidates) == 0 {
		util.InfoLog("No new files to organize")
		return
	}

	workers := st.tuning.Concurrency
	util.InfoLog("Organizing %d files with %d workers", len(candidates), workers)

	var bar *progressbar.ProgressBar
	if st.showProgress && util.IsTerminal(os.Stdout.Fd()) && !util.IsQuiet() {
		bar = progressbar.NewOptions(len(candidates),
			progressbar.OptionSetDescription("Organizing"),
			progressbar.OptionSetWidth(util.ProgressBarWidth()),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("files"),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetRenderBlankState(true),
		)
	}

	results := make(chan fileOutcome, workers*2)
	go func() {
		defer close(results)
		p := pool.New().WithMaxGoroutines(workers)
		for _, c := range candidates {
			if ctx.Err() != nil {
				break
			}
			p.Go(func() {
				results <- st.processFile(ctx, c)
			})
		}
		p.Wait()
	}()

	for out := range results {
		st.aggregate(out)
		if bar != nil {
			bar.Add(1)
		}
	}

	if bar != nil {
		bar.Finish()
	}
}

// aggregate is the only writer of stats, the pending batch and index adds
func (st *run) aggregate(out fileOutcome) {
	st.stats.Record(out.FileResult)

	if out.track == nil {
		return
	}
	st.index.Add(out.track.ContentHash, out.track.CanonicalPath)
	if !st.cfg.DryRun {
		st.pending = append(st.pending, *out.track)
	}
}

// commit writes the pending batch and runs the post-commit steps
func (st *run) commit(ctx context.Context) (*Result, error) {
	cfg := st.cfg
	result := &Result{Stats: st.stats, EventLog: st.events.Path()}

	start := time.Now()
	inserted, err := st.db.UpsertBatch(ctx, st.pending)
	st.events.LogCommit(inserted, time.Since(start), err)
	if err != nil {
		util.ErrorLog("Catalog commit failed, ledger kept for the next run: %v", err)
		return result, st.fail(fmt.Errorf("%w: %w", util.ErrCommit, err))
	}
	st.stats.Committed = inserted
	util.SuccessLog("Committed %d tracks to the catalog", inserted)

	if err := st.db.RecomputeAggregates(ctx); err != nil {
		return result, st.fail(err)
	}

	st.pruneLedger(ctx)

	if cfg.Cache.Enabled() {
		result.Cache = st.refreshCache(ctx)
	}

	if cfg.ExportDir != "" {
		res, err := export.New(nil, cfg.ExportDir).Write(ctx, st.db)
		if err != nil {
			util.WarnLog("Export failed: %v", err)
			st.stats.Warn(fmt.Sprintf("export failed: %v", err))
		} else {
			result.Export = res
		}
	}

	if n, err := st.db.TotalTracks(ctx); err == nil {
		st.stats.CatalogTracks = n
	}
	st.stats.Finish(st.now())

	if err := st.finishRun(ctx, store.RunCompleted); err != nil {
		util.WarnLog("Failed to record run: %v", err)
	}

	summary, err := report.GenerateSummaryReport(ctx, st.db, st.stats, st.events.Path())
	if err != nil {
		util.WarnLog("Failed to build report: %v", err)
	} else {
		summary.DatabasePath = cfg.Database
		if dir, err := report.WriteArtifacts(cfg.Artifacts, summary); err != nil {
			util.WarnLog("Failed to write report: %v", err)
		} else {
			result.ReportDir = dir
		}
	}

	st.events.LogRun("finish", map[string]string{"status": store.RunCompleted})
	return result, nil
}

// pruneLedger drops entries whose canonical path is now cataloged or whose
// file is gone
func (st *run) pruneLedger(ctx context.Context) {
	cataloged, err := st.db.HashIndex(ctx)
	if err != nil {
		util.WarnLog("Ledger not pruned: %v", err)
		return
	}
	st.ledger.Close()

	catalogPaths := make(map[string]bool, len(cataloged))
	for _, path := range cataloged {
		catalogPaths[path] = true
	}

	removed, err := ledger.Prune(st.cfg.Ledger, func(e ledger.Entry) bool {
		if catalogPaths[e.CanonicalPath] {
			// Committed, or shadowed by a cataloged track and never committable
			return false
		}
		_, statErr := os.Lstat(e.CanonicalPath)
		return statErr == nil
	})
	if err != nil {
		util.WarnLog("Ledger not pruned: %v", err)
		return
	}
	util.DebugLog("Ledger: pruned %d committed entries", removed)
}

func (st *run) refreshCache(ctx context.Context) *cache.RefreshResult {
	cfg := st.cfg
	m, err := cache.New(cache.Config{
		Root:        cfg.Cache.Dir,
		LibraryRoot: cfg.Target,
		Budget:      cfg.Cache.Budget,
		TopArtists:  cfg.Cache.TopArtists,
		Recent:      cfg.Cache.Recent,
	}, st.db, cache.WithEventLogger(st.events))
	if err == nil {
		var res *cache.RefreshResult
		if res, err = m.Refresh(ctx); err == nil {
			util.InfoLog("Cache: %d copied, %d evicted, %s in tier",
				res.Copied, res.Evicted, util.FormatBytes(res.TotalBytes))
			return res
		}
	}
	util.WarnLog("Cache refresh failed: %v", err)
	st.stats.Warn(fmt.Sprintf("cache refresh failed: %v", err))
	return nil
}

// fail records the run as failed and returns err
func (st *run) fail(err error) error {
	st.stats.Finish(st.now())
	// The run context may be cancelled; the history row still gets written
	if ferr := st.finishRun(context.Background(), store.RunFailed); ferr != nil {
		util.WarnLog("Failed to record run: %v", ferr)
	}
	st.events.LogRun("finish", map[string]string{"status": store.RunFailed, "error": err.Error()})
	return err
}

func (st *run) finishRun(ctx context.Context, status string) error {
	data, err := json.Marshal(st.stats)
	if err != nil {
		return err
	}
	return st.db.FinishRun(ctx, st.id, status, string(data), st.stats.FinishedAt)
}
