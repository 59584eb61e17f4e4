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
	"github.com/mediaforge/studio/internal/models"
)

const sqliteTimeLayout = time.RFC3339

// SQLiteStore keeps the history in a local SQLite database
type SQLiteStore struct {
	Conn  *sql.DB
	limit int
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and applies the schema
func NewSQLiteStore(ctx context.Context, dbPath string, limit int) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrateUp("sqlite", "sqlite3://"+dbPath); err != nil {
		conn.Close()
		return nil, err
	}

	return &SQLiteStore{Conn: conn, limit: normalizeLimit(limit)}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.Conn.Close()
}

// Add inserts rec and drops records beyond the limit
func (s *SQLiteStore) Add(ctx context.Context, rec *models.HistoryRecord) error {
	prepare(rec)

	tx, err := s.Conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.insert(ctx, tx, rec); err != nil {
		return err
	}
	if err := s.trim(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history record: %w", err)
	}
	return nil
}

// List returns records matching filter, newest first
func (s *SQLiteStore) List(ctx context.Context, filter HistoryFilter) ([]models.HistoryRecord, error) {
	where, args := sqliteDialect.whereClause(filter)
	query := "SELECT " + historyColumns + " FROM history" + where + " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var recs []models.HistoryRecord
	for rows.Next() {
		rec, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// Get returns the record with id
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.HistoryRecord, error) {
	row := s.Conn.QueryRowContext(ctx, "SELECT "+historyColumns+" FROM history WHERE id = ?", id)
	rec, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	return rec, err
}

// Replace swaps the whole table content in one transaction
func (s *SQLiteStore) Replace(ctx context.Context, recs []models.HistoryRecord) error {
	tx, err := s.Conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM history"); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	for i := range recs {
		rec := recs[i]
		prepare(&rec)
		if err := s.insert(ctx, tx, &rec); err != nil {
			return err
		}
	}
	if err := s.trim(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history: %w", err)
	}
	return nil
}

func (s *SQLiteStore) insert(ctx context.Context, tx *sql.Tx, rec *models.HistoryRecord) error {
	args, err := insertArgs(rec, rec.Timestamp.UTC().Format(sqliteTimeLayout))
	if err != nil {
		return err
	}
	query := "INSERT OR REPLACE INTO history (" + historyColumns + ") VALUES (" + sqliteDialect.placeholders(len(args)) + ")"
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert history record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) trim(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx,
		"DELETE FROM history WHERE id NOT IN (SELECT id FROM history ORDER BY created_at DESC LIMIT ?)", s.limit)
	if err != nil {
		return fmt.Errorf("failed to trim history: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner) (*models.HistoryRecord, error) {
	var (
		rec       models.HistoryRecord
		kind      string
		createdAt string
		params    string
	)
	err := row.Scan(&rec.ID, &kind, &createdAt, &rec.Prompt, &rec.Template, &rec.Model, &rec.ResultURL, &rec.LocalPath,
		&params, &rec.Duration, &rec.ProcessingTime, &rec.CostUSD, &rec.Width, &rec.Height, &rec.PredictionID, &rec.Recovered)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan history record: %w", err)
	}
	rec.Kind = models.Kind(kind)
	rec.Timestamp, _ = models.ParseTimestamp(createdAt)
	rec.Params = decodeParams([]byte(params))
	return &rec, nil
}
