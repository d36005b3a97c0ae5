// Package reportstore persists check reports to Postgres.
package reportstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/traittech/assetcheck/internal/consistency"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS check_runs (
		run_id           TEXT PRIMARY KEY,
		started_at       TIMESTAMPTZ NOT NULL,
		finished_at      TIMESTAMPTZ NOT NULL,
		status           TEXT NOT NULL,
		backends         TEXT NOT NULL,
		assets_total     INTEGER NOT NULL,
		assets_ok        INTEGER NOT NULL,
		assets_failed    INTEGER NOT NULL,
		assets_aborted   INTEGER NOT NULL,
		discrepancies    INTEGER NOT NULL,
		error            TEXT,
		report           JSONB NOT NULL,
		integrity_sha256 TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS check_assets (
		run_id      TEXT NOT NULL REFERENCES check_runs(run_id) ON DELETE CASCADE,
		asset_id    TEXT NOT NULL,
		kind        TEXT NOT NULL,
		metadata_id TEXT,
		status      TEXT NOT NULL,
		reasons     TEXT NOT NULL,
		failures    JSONB NOT NULL,
		PRIMARY KEY (run_id, asset_id)
	)`,
	`CREATE INDEX IF NOT EXISTS check_assets_status_idx ON check_assets (status)`,
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func Migrate(ctx context.Context, db Execer) error {
	if db == nil {
		return errors.New("db is required")
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &Store{db: db}, nil
}

// Save writes the run and one row per asset in a single transaction and
// returns the integrity digest stored with the run.
func (s *Store) Save(ctx context.Context, r *consistency.Report) (string, error) {
	if r == nil {
		return "", errors.New("report is required")
	}
	reportJSON, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	integrity, err := ComputeIntegritySHA256(r)
	if err != nil {
		return "", err
	}
	rows, err := assetRows(r)
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var runErr sql.NullString
	if strings.TrimSpace(r.Error) != "" {
		runErr = sql.NullString{String: r.Error, Valid: true}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO check_runs (
			run_id,
			started_at,
			finished_at,
			status,
			backends,
			assets_total,
			assets_ok,
			assets_failed,
			assets_aborted,
			discrepancies,
			error,
			report,
			integrity_sha256
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		r.RunID,
		r.StartedAt.UTC(),
		r.FinishedAt.UTC(),
		string(r.Status),
		strings.Join(r.Backends, ","),
		r.Summary.AssetsTotal,
		r.Summary.AssetsOK,
		r.Summary.AssetsFailed,
		r.Summary.AssetsAborted,
		r.Summary.Discrepancies,
		runErr,
		reportJSON,
		integrity,
	)
	if err != nil {
		return "", fmt.Errorf("insert check run: %w", err)
	}

	for _, row := range rows {
		var metadataID sql.NullString
		if row.MetadataID != "" {
			metadataID = sql.NullString{String: row.MetadataID, Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO check_assets (run_id, asset_id, kind, metadata_id, status, reasons, failures)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			r.RunID, row.AssetID, row.Kind, metadataID, row.Status, row.Reasons, row.Failures,
		); err != nil {
			return "", fmt.Errorf("insert check asset %s: %w", row.AssetID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return integrity, nil
}

type assetRow struct {
	AssetID    string
	Kind       string
	MetadataID string
	Status     string
	// Reasons is the comma-joined, de-duplicated failure reasons.
	Reasons  string
	Failures []byte
}

func assetRows(r *consistency.Report) ([]assetRow, error) {
	rows := make([]assetRow, 0, len(r.Assets))
	for _, a := range r.Assets {
		failures := a.AllFailures()
		if failures == nil {
			failures = []consistency.Failure{}
		}
		blob, err := json.Marshal(failures)
		if err != nil {
			return nil, fmt.Errorf("marshal failures of %s: %w", a.ID, err)
		}
		var reasons []string
		seen := map[consistency.Reason]bool{}
		for _, f := range failures {
			if !seen[f.Reason] {
				seen[f.Reason] = true
				reasons = append(reasons, string(f.Reason))
			}
		}
		rows = append(rows, assetRow{
			AssetID:    a.ID,
			Kind:       a.Kind,
			MetadataID: a.MetadataID,
			Status:     string(a.Status),
			Reasons:    strings.Join(reasons, ","),
			Failures:   blob,
		})
	}
	return rows, nil
}

// ComputeIntegritySHA256 hashes the canonical JSON of the report. Timestamps
// are normalised to UTC first so the digest does not depend on the zone the
// report was produced in.
func ComputeIntegritySHA256(r *consistency.Report) (string, error) {
	in := *r
	in.StartedAt = r.StartedAt.UTC()
	in.FinishedAt = r.FinishedAt.UTC()
	blob, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}
