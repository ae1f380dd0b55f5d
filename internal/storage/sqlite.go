package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/newsrag/internal/models"
)

// SQLiteRunStore implements RunStore using SQLite.
type SQLiteRunStore struct {
	db *sql.DB
}

// NewSQLiteRunStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteRunStore(dbPath string) (*SQLiteRunStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteRunStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS ingestion_runs (
		id TEXT PRIMARY KEY,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		feeds INTEGER NOT NULL DEFAULT 0,
		feeds_empty INTEGER NOT NULL DEFAULT 0,
		articles INTEGER NOT NULL DEFAULT 0,
		records INTEGER NOT NULL DEFAULT 0,
		duplicates INTEGER NOT NULL DEFAULT 0,
		too_long INTEGER NOT NULL DEFAULT 0,
		rejected INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		extract_ms INTEGER NOT NULL DEFAULT 0,
		embed_ms INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON ingestion_runs(started_at);
	`
	_, err := db.Exec(schema)
	return err
}

const runColumns = `id, started_at, finished_at, status, error, feeds, feeds_empty, articles, records,
	duplicates, too_long, rejected, failed, extract_ms, embed_ms`

// RecordRun inserts a run, replacing any earlier row with the same ID.
func (s *SQLiteRunStore) RecordRun(ctx context.Context, run *models.RunStats) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO ingestion_runs (`+runColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.Status, run.Error,
		run.Feeds, run.FeedsEmpty, run.Articles, run.Records,
		run.Duplicates, run.TooLong, run.Rejected, run.Failed,
		run.ExtractDuration.Milliseconds(), run.EmbedDuration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// LatestRun returns the most recently started run, or ErrNoRuns.
func (s *SQLiteRunStore) LatestRun(ctx context.Context) (*models.RunStats, error) {
	runs, err := s.ListRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNoRuns
	}
	return runs[0], nil
}

// ListRuns returns up to limit runs, newest first. A non-positive limit returns all runs.
func (s *SQLiteRunStore) ListRuns(ctx context.Context, limit int) ([]*models.RunStats, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM ingestion_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.RunStats
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(rows *sql.Rows) (*models.RunStats, error) {
	var (
		run                models.RunStats
		runErr             sql.NullString
		extractMS, embedMS int64
	)
	err := rows.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Status, &runErr,
		&run.Feeds, &run.FeedsEmpty, &run.Articles, &run.Records,
		&run.Duplicates, &run.TooLong, &run.Rejected, &run.Failed,
		&extractMS, &embedMS)
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	run.Error = runErr.String
	run.ExtractDuration = time.Duration(extractMS) * time.Millisecond
	run.EmbedDuration = time.Duration(embedMS) * time.Millisecond
	return &run, nil
}

// CountRuns returns the number of recorded runs.
func (s *SQLiteRunStore) CountRuns(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ingestion_runs`).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

// Close closes the database.
func (s *SQLiteRunStore) Close() error {
	return s.db.Close()
}
