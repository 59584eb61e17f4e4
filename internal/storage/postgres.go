package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mediaforge/studio/internal/models"
)

// PostgresStore keeps the history in PostgreSQL
type PostgresStore struct {
	Pool  *pgxpool.Pool
	limit int
}

// NewPostgresStore connects to databaseURL and applies the schema
func NewPostgresStore(ctx context.Context, databaseURL string, limit int) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrateUp("postgres", databaseURL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{Pool: pool, limit: normalizeLimit(limit)}, nil
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	s.Pool.Close()
	return nil
}

// Add inserts rec and drops records beyond the limit
func (s *PostgresStore) Add(ctx context.Context, rec *models.HistoryRecord) error {
	prepare(rec)
	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		if err := s.insert(ctx, tx, rec); err != nil {
			return err
		}
		return s.trim(ctx, tx)
	})
}

// List returns records matching filter, newest first
func (s *PostgresStore) List(ctx context.Context, filter HistoryFilter) ([]models.HistoryRecord, error) {
	where, args := postgresDialect.whereClause(filter)
	query := "SELECT " + historyColumns + " FROM history" + where + " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var recs []models.HistoryRecord
	for rows.Next() {
		rec, err := scanPostgres(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// Get returns the record with id
func (s *PostgresStore) Get(ctx context.Context, id string) (*models.HistoryRecord, error) {
	row := s.Pool.QueryRow(ctx, "SELECT "+historyColumns+" FROM history WHERE id = $1", id)
	rec, err := scanPostgres(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	return rec, err
}

// Replace swaps the whole table content in one transaction
func (s *PostgresStore) Replace(ctx context.Context, recs []models.HistoryRecord) error {
	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "DELETE FROM history"); err != nil {
			return fmt.Errorf("failed to clear history: %w", err)
		}
		for i := range recs {
			rec := recs[i]
			prepare(&rec)
			if err := s.insert(ctx, tx, &rec); err != nil {
				return err
			}
		}
		return s.trim(ctx, tx)
	})
}

func (s *PostgresStore) insert(ctx context.Context, tx pgx.Tx, rec *models.HistoryRecord) error {
	args, err := insertArgs(rec, rec.Timestamp.UTC())
	if err != nil {
		return err
	}
	query := "INSERT INTO history (" + historyColumns + ") VALUES (" + postgresDialect.placeholders(len(args)) + `)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind, created_at = EXCLUDED.created_at, prompt = EXCLUDED.prompt,
			template = EXCLUDED.template, model = EXCLUDED.model, result_url = EXCLUDED.result_url,
			local_path = EXCLUDED.local_path, params = EXCLUDED.params, duration = EXCLUDED.duration,
			processing_time = EXCLUDED.processing_time, cost_usd = EXCLUDED.cost_usd, width = EXCLUDED.width,
			height = EXCLUDED.height, prediction_id = EXCLUDED.prediction_id, recovered = EXCLUDED.recovered`
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert history record: %w", err)
	}
	return nil
}

func (s *PostgresStore) trim(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx,
		"DELETE FROM history WHERE id NOT IN (SELECT id FROM history ORDER BY created_at DESC LIMIT $1)", s.limit)
	if err != nil {
		return fmt.Errorf("failed to trim history: %w", err)
	}
	return nil
}

func scanPostgres(row pgx.Row) (*models.HistoryRecord, error) {
	var (
		rec       models.HistoryRecord
		kind      string
		createdAt time.Time
		params    []byte
	)
	err := row.Scan(&rec.ID, &kind, &createdAt, &rec.Prompt, &rec.Template, &rec.Model, &rec.ResultURL, &rec.LocalPath,
		&params, &rec.Duration, &rec.ProcessingTime, &rec.CostUSD, &rec.Width, &rec.Height, &rec.PredictionID, &rec.Recovered)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan history record: %w", err)
	}
	rec.Kind = models.Kind(kind)
	rec.Timestamp = models.NewTimestamp(createdAt)
	rec.Params = decodeParams(params)
	return &rec, nil
}
