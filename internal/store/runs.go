package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Run is one pass of the pipeline over a frame stream.
type Run struct {
	RunID        string          `json:"run_id"`
	Stream       string          `json:"stream"`
	Source       string          `json:"source"`
	Version      string          `json:"version"`
	Rows         int             `json:"rows"`
	Cols         int             `json:"cols"`
	Channels     int             `json:"channels"`
	ParamsJSON   json.RawMessage `json:"params_json,omitempty"`
	StartedAt    int64           `json:"started_at"`
	FinishedAt   *int64          `json:"finished_at,omitempty"`
	Frames       int             `json:"frames"`
	UpdateCycles int             `json:"update_cycles"`
}

const runColumns = `run_id, stream, source, version, height, width, channels,
	params_json, started_at, finished_at, frames, update_cycles`

// StartRun inserts run. If RunID is empty a UUID is generated; a zero
// StartedAt is set from the store clock in Unix nanoseconds.
func (db *DB) StartRun(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.StartedAt == 0 {
		run.StartedAt = db.clock.Now().UnixNano()
	}
	var params interface{}
	if len(run.ParamsJSON) > 0 {
		params = string(run.ParamsJSON)
	}
	err := retryOnBusy(func() error {
		_, err := db.Exec(`INSERT INTO runs (`+runColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, 0, 0)`,
			run.RunID, run.Stream, run.Source, run.Version, run.Rows, run.Cols, run.Channels,
			params, run.StartedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	db.log.Diagf("run %s started for stream %q (%dx%dx%d)", run.RunID, run.Stream, run.Cols, run.Rows, run.Channels)
	return nil
}

// FinishRun records the final counters of a run.
func (db *DB) FinishRun(runID string, frames, updateCycles int) error {
	finished := db.clock.Now().UnixNano()
	var n int64
	err := retryOnBusy(func() error {
		res, err := db.Exec(`UPDATE runs SET finished_at = ?, frames = ?, update_cycles = ? WHERE run_id = ?`,
			finished, frames, updateCycles, runID)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}
	return nil
}

// GetRun returns a single run by ID.
func (db *DB) GetRun(runID string) (*Run, error) {
	row := db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}
	return r, err
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (db *DB) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run together with its frame stats and snapshots.
func (db *DB) DeleteRun(runID string) error {
	var n int64
	err := retryOnBusy(func() error {
		res, err := db.Exec(`DELETE FROM runs WHERE run_id = ?`, runID)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	var params sql.NullString
	var finished sql.NullInt64
	if err := s.Scan(
		&r.RunID, &r.Stream, &r.Source, &r.Version, &r.Rows, &r.Cols, &r.Channels,
		&params, &r.StartedAt, &finished, &r.Frames, &r.UpdateCycles,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if params.Valid {
		r.ParamsJSON = json.RawMessage(params.String)
	}
	if finished.Valid {
		r.FinishedAt = &finished.Int64
	}
	return &r, nil
}
