package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/franz/music-librarian/internal/classify"
	"github.com/franz/music-librarian/internal/dedup"
	"github.com/franz/music-librarian/internal/ledger"
	"github.com/franz/music-librarian/internal/report"
	"github.com/franz/music-librarian/internal/scan"
	"github.com/franz/music-librarian/internal/store"
	"github.com/franz/music-librarian/internal/util"
)

// fileOutcome is the worker -> aggregator message. track is set when the
// file was placed (or would be, in a dry run).
type fileOutcome struct {
	report.FileResult
	track *store.Track
}

// processFile runs classify -> hash -> dedup -> claim -> place -> ledger for
// one candidate. It never returns an error: failures travel in the result.
func (st *run) processFile(ctx context.Context, c scan.Candidate) fileOutcome {
	start := time.Now()
	out := fileOutcome{FileResult: report.FileResult{SourcePath: c.Path}}

	failed := func(stage report.EventType, err error) fileOutcome {
		out.Status = report.StatusFailed
		out.Err = err
		out.Duration = time.Since(start)
		st.events.LogError(stage, c.Path, err)
		util.DebugLog("Failed %s: %v", c.Path, err)
		return out
	}

	if err := ctx.Err(); err != nil {
		return failed(report.EventPlace, err)
	}

	cls := classify.Classify(filepath.Base(c.Path))
	out.Ambiguous = cls.Ambiguous
	if cls.Ambiguous {
		util.WarnLog("No \"Artist - Title\" separator in %s, filed under %s", filepath.Base(c.Path), classify.UnknownArtist)
	}

	hash, err := dedup.HashFile(ctx, c.Path, st.tuning.BufferSize)
	if err != nil {
		return failed(report.EventScan, fmt.Errorf("hash: %w", err))
	}
	out.ContentHash = hash

	duplicate := func(existing string) fileOutcome {
		out.Status = report.StatusDuplicate
		out.CanonicalPath = existing
		out.Duration = time.Since(start)
		st.events.LogDuplicate(hash, c.Path, existing)
		return out
	}

	if existing, ok := st.index.Lookup(hash); ok {
		return duplicate(existing)
	}
	if existing, ok := st.index.Claim(hash, c.Path); !ok {
		return duplicate(existing)
	}

	if st.cfg.DryRun {
		plan, err := st.placer.Plan(ctx, cls, hash)
		if err != nil {
			st.index.Release(hash)
			return failed(report.EventPlan, err)
		}
		out.Status = report.StatusPlanned
		out.CanonicalPath = plan.CanonicalPath
		out.Bytes = c.Size
		out.ArtistDirCreated = plan.ArtistDirCreated
		out.AlbumDirCreated = plan.AlbumDirCreated
		out.Renamed = plan.Renamed
		out.Duration = time.Since(start)
		st.events.LogPlan(hash, c.Path, plan.CanonicalPath)
		if plan.Renamed {
			st.events.LogConflict(c.Path, plan.CanonicalPath, "name taken by different content")
		}
		out.track = st.track(c, cls, hash, plan.CanonicalPath, "")
		return out
	}

	placed, err := st.placer.Place(ctx, c.Path, cls, hash)
	if err != nil {
		st.index.Release(hash)
		return failed(report.EventPlace, err)
	}

	// Identical bytes already at the target but not cataloged: a crash
	// between placing and ledgering. Adopt the file instead of copying again.
	if placed.Duplicate {
		util.DebugLog("Adopting uncataloged file already in the library: %s", placed.CanonicalPath)
	}

	format := scan.SniffFormat(c.Path)
	track := st.track(c, cls, hash, placed.CanonicalPath, format)

	if err := st.ledger.Append(ledger.Entry{
		SourcePath:    c.Path,
		CanonicalPath: placed.CanonicalPath,
		ContentHash:   hash,
		Timestamp:     track.AddedAt.Time,
		Artist:        cls.Artist,
		AlbumBucket:   cls.AlbumBucket,
		Title:         cls.Title,
		Extension:     cls.Extension,
		SizeBytes:     c.Size,
		Format:        format,
		RunID:         st.id,
	}); err != nil {
		// The file is placed and still committed with this batch; only
		// crash recovery for it is lost
		util.WarnLog("Ledger append failed for %s: %v", c.Path, err)
		st.events.LogError(report.EventPlace, c.Path, fmt.Errorf("ledger: %w", err))
	}

	out.Status = report.StatusOrganized
	out.CanonicalPath = placed.CanonicalPath
	out.Bytes = c.Size
	out.ArtistDirCreated = placed.ArtistDirCreated
	out.AlbumDirCreated = placed.AlbumDirCreated
	out.Renamed = placed.Renamed
	out.Duration = time.Since(start)
	out.track = track

	st.events.LogPlace(hash, c.Path, placed.CanonicalPath, string(st.mode), placed.BytesWritten, out.Duration)
	if placed.Renamed {
		st.events.LogConflict(c.Path, placed.CanonicalPath, "name taken by different content")
	}
	return out
}

func (st *run) track(c scan.Candidate, cls classify.Result, hash, canonical, format string) *store.Track {
	return &store.Track{
		CanonicalPath:     canonical,
		SourcePath:        c.Path,
		Artist:            cls.Artist,
		AlbumBucket:       cls.AlbumBucket,
		Title:             cls.Title,
		Extension:         cls.Extension,
		SizeBytes:         c.Size,
		ContentHash:       hash,
		AddedAt:           store.NewTime(st.now()),
		Format:            format,
		ClassifierVersion: classify.Version,
		RunID:             st.id,
	}
}

// trackFromEntry rebuilds a catalog row from a ledger entry
func trackFromEntry(e ledger.Entry) store.Track {
	return store.Track{
		CanonicalPath:     e.CanonicalPath,
		SourcePath:        e.SourcePath,
		Artist:            e.Artist,
		AlbumBucket:       e.AlbumBucket,
		Title:             e.Title,
		Extension:         e.Extension,
		SizeBytes:         e.SizeBytes,
		ContentHash:       e.ContentHash,
		AddedAt:           store.NewTime(e.Timestamp),
		Format:            e.Format,
		ClassifierVersion: classify.Version,
		RunID:             e.RunID,
	}
}
