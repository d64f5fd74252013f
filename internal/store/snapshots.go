package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/banshee-data/bgsub/internal/kde"
)

// StoredSnapshot is a bandwidth snapshot row.
type StoredSnapshot struct {
	SnapshotID     int64
	RunID          string
	TakenUnixNanos int64
	kde.BandwidthSnapshot
}

const snapshotColumns = `snapshot_id, run_id, taken_unix_nanos, frame, height, width, channels,
	kernel_bins, min_bandwidth, max_bandwidth, bins_blob`

// InsertSnapshot stores snap for runID and returns its row ID.
func (db *DB) InsertSnapshot(runID string, snap *kde.BandwidthSnapshot) (int64, error) {
	if snap == nil || len(snap.BinsBlob) == 0 {
		return 0, fmt.Errorf("insert snapshot: empty bins blob")
	}
	taken := db.clock.Now().UnixNano()
	var id int64
	err := retryOnBusy(func() error {
		res, err := db.Exec(`INSERT INTO bandwidth_snapshots (
				run_id, taken_unix_nanos, frame, height, width, channels,
				kernel_bins, min_bandwidth, max_bandwidth, bins_blob
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, taken, snap.Frame, snap.Rows, snap.Cols, snap.Channels,
			snap.KernelBins, snap.MinBandwidth, snap.MaxBandwidth, snap.BinsBlob,
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	return id, nil
}

// LatestSnapshot returns the snapshot with the highest frame for runID.
func (db *DB) LatestSnapshot(runID string) (*StoredSnapshot, error) {
	row := db.QueryRow(`SELECT `+snapshotColumns+` FROM bandwidth_snapshots
		WHERE run_id = ? ORDER BY frame DESC, snapshot_id DESC LIMIT 1`, runID)
	s, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no snapshot for run %s", ErrNotFound, runID)
	}
	return s, err
}

// ListSnapshots returns every snapshot of runID in frame order.
func (db *DB) ListSnapshots(runID string) ([]*StoredSnapshot, error) {
	rows, err := db.Query(`SELECT `+snapshotColumns+` FROM bandwidth_snapshots
		WHERE run_id = ? ORDER BY frame, snapshot_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []*StoredSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteDuplicateSnapshots removes snapshots of runID whose bins are
// identical to an earlier snapshot of the same run and returns how many
// were removed.
func (db *DB) DeleteDuplicateSnapshots(runID string) (int64, error) {
	var n int64
	err := retryOnBusy(func() error {
		res, err := db.Exec(`DELETE FROM bandwidth_snapshots WHERE snapshot_id IN (
				SELECT later.snapshot_id
				FROM bandwidth_snapshots later
				JOIN bandwidth_snapshots earlier
				  ON earlier.run_id = later.run_id
				 AND earlier.bins_blob = later.bins_blob
				 AND earlier.snapshot_id < later.snapshot_id
				WHERE later.run_id = ?
			)`, runID)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete duplicate snapshots: %w", err)
	}
	if n > 0 {
		db.log.Diagf("removed %d duplicate bandwidth snapshots for run %s", n, runID)
	}
	return n, nil
}

func scanSnapshot(s scanner) (*StoredSnapshot, error) {
	var out StoredSnapshot
	if err := s.Scan(
		&out.SnapshotID, &out.RunID, &out.TakenUnixNanos, &out.Frame, &out.Rows, &out.Cols, &out.Channels,
		&out.KernelBins, &out.MinBandwidth, &out.MaxBandwidth, &out.BinsBlob,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	return &out, nil
}
