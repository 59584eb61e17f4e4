// Package storage persists the generation history and the per-model usage
// counters.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mediaforge/studio/internal/config"
	"github.com/mediaforge/studio/internal/models"
	"go.uber.org/zap"
)

// ErrRecordNotFound is returned by Get for an unknown ID
var ErrRecordNotFound = errors.New("history record not found")

// DefaultHistoryLimit is how many records a store keeps when no limit is configured
const DefaultHistoryLimit = 100

// HistoryFilter narrows a List call. Zero values match everything.
type HistoryFilter struct {
	Kind  models.Kind
	Model string
	Query string
	Limit int
}

// HistoryStore is the history persistence contract shared by all backends.
// Records are always returned newest first and a store never holds more than
// its configured limit.
type HistoryStore interface {
	Add(ctx context.Context, rec *models.HistoryRecord) error
	List(ctx context.Context, filter HistoryFilter) ([]models.HistoryRecord, error)
	Get(ctx context.Context, id string) (*models.HistoryRecord, error)
	Replace(ctx context.Context, recs []models.HistoryRecord) error
	Close() error
}

// Open returns the history backend selected by cfg.Storage.Backend
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (HistoryStore, error) {
	limit := cfg.Storage.HistoryLimit
	switch cfg.Storage.Backend {
	case "", "json":
		return NewJSONStore(cfg.Storage.HistoryFile, limit, log), nil
	case "sqlite":
		return NewSQLiteStore(ctx, cfg.Storage.SQLitePath, limit)
	case "postgres":
		return NewPostgresStore(ctx, cfg.Database.DatabaseURL(), limit)
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

// prepare fills the fields every stored record must carry
func prepare(rec *models.HistoryRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = models.NewTimestamp(time.Now())
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return limit
}

// Matches reports whether rec passes every filter criterion except Limit
func (f HistoryFilter) Matches(rec models.HistoryRecord) bool {
	if f.Kind != "" && rec.Kind != f.Kind {
		return false
	}
	if f.Model != "" && !strings.EqualFold(rec.Model, f.Model) {
		return false
	}
	if f.Query != "" && !strings.Contains(strings.ToLower(rec.Prompt), strings.ToLower(f.Query)) {
		return false
	}
	return true
}

// Apply filters recs (assumed newest first) and honours Limit
func (f HistoryFilter) Apply(recs []models.HistoryRecord) []models.HistoryRecord {
	out := make([]models.HistoryRecord, 0, len(recs))
	for _, rec := range recs {
		if !f.Matches(rec) {
			continue
		}
		out = append(out, rec)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// sortNewestFirst orders by timestamp descending. Records without a timestamp sink to the end.
func sortNewestFirst(recs []models.HistoryRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Timestamp.After(recs[j].Timestamp.Time)
	})
}
