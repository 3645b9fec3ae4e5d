//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"resindex/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func newSQLiteStore(path string) (Store, error) {
	return NewSQLiteStore(path), nil
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snapshot model.Snapshot) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeSnapshot(snapshot)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO snapshots (id, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, snapshot.ID, snapshot.SchemaVersion, snapshot.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, id string) (model.Snapshot, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.Snapshot{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM snapshots WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Snapshot{}, false, nil
		}
		return model.Snapshot{}, false, err
	}

	snapshot, err := DecodeSnapshot(payload)
	if err != nil {
		return model.Snapshot{}, false, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return snapshot, true, nil
}

func (s *SQLiteStore) SaveTrial(ctx context.Context, trial model.TrialRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeTrial(trial)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO trials (trial_id, run_id, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(trial_id) DO UPDATE SET
			run_id = excluded.run_id,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, trial.TrialID, trial.RunID, trial.SchemaVersion, trial.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetTrial(ctx context.Context, trialID string) (model.TrialRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.TrialRecord{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM trials WHERE trial_id = ?`, trialID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.TrialRecord{}, false, nil
		}
		return model.TrialRecord{}, false, err
	}

	trial, err := DecodeTrial(payload)
	if err != nil {
		return model.TrialRecord{}, false, fmt.Errorf("decode trial %s: %w", trialID, err)
	}
	return trial, true, nil
}

func (s *SQLiteStore) ListTrials(ctx context.Context, runID string) ([]model.TrialRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT payload FROM trials WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TrialRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		trial, err := DecodeTrial(payload)
		if err != nil {
			return nil, fmt.Errorf("decode trial in run %s: %w", runID, err)
		}
		out = append(out, trial)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveSearchSummary(ctx context.Context, summary model.SearchSummary) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeSearchSummary(summary)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO summaries (run_id, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, summary.RunID, summary.SchemaVersion, summary.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetSearchSummary(ctx context.Context, runID string) (model.SearchSummary, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.SearchSummary{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM summaries WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.SearchSummary{}, false, nil
		}
		return model.SearchSummary{}, false, err
	}

	summary, err := DecodeSearchSummary(payload)
	if err != nil {
		return model.SearchSummary{}, false, fmt.Errorf("decode summary %s: %w", runID, err)
	}
	return summary, true, nil
}

func (s *SQLiteStore) LatestSearchSummary(ctx context.Context) (model.SearchSummary, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.SearchSummary{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM summaries ORDER BY rowid DESC LIMIT 1`).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.SearchSummary{}, false, nil
		}
		return model.SearchSummary{}, false, err
	}

	summary, err := DecodeSearchSummary(payload)
	if err != nil {
		return model.SearchSummary{}, false, fmt.Errorf("decode latest summary: %w", err)
	}
	return summary, true, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS snapshots (
			id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS trials (
			trial_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS trials_run_id ON trials (run_id);
		CREATE TABLE IF NOT EXISTS summaries (
			run_id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	return err
}
