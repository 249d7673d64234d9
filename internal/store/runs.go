package store

import (
	"context"
	"fmt"
	"time"
)

// CreateRun records the start of a run
func (s *Store) CreateRun(ctx context.Context, r Run) error {
	if r.Status == "" {
		r.Status = RunRunning
	}
	if r.StatsJSON == "" {
		r.StatsJSON = "{}"
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO runs (run_id, started_at, finished_at, mode, transfer, status, stats_json)
		VALUES (:run_id, :started_at, :finished_at, :mode, :transfer, :status, :stats_json)
	`, r)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// FinishRun stores the final status and statistics of a run
func (s *Store) FinishRun(ctx context.Context, runID, status, statsJSON string, finishedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, stats_json = ?, finished_at = ?
		WHERE run_id = ?
	`, status, statsJSON, NewTime(finishedAt), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// GetRun returns the run with the given id, or nil
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	var r Run
	err := s.db.GetContext(ctx, &r, `
		SELECT run_id, started_at, finished_at, mode, transfer, status, stats_json
		FROM runs WHERE run_id = ?
	`, runID)
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &r, nil
}

// ListRuns returns the most recent runs, newest first
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	var runs []Run
	err := s.db.SelectContext(ctx, &runs, `
		SELECT run_id, started_at, finished_at, mode, transfer, status, stats_json
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}
