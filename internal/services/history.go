package services

import (
	"context"
	"fmt"
	"os"

	"github.com/mediaforge/studio/internal/catalog"
	"github.com/mediaforge/studio/internal/models"
	"github.com/mediaforge/studio/internal/storage"
	"go.uber.org/zap"
)

// HistoryService reads and repairs the generation history
type HistoryService struct {
	store     storage.HistoryStore
	catalog   *catalog.Catalog
	outputDir string
	limit     int
	log       *zap.Logger
}

// NewHistoryService creates a new history service
func NewHistoryService(store storage.HistoryStore, cat *catalog.Catalog, outputDir string, limit int, log *zap.Logger) *HistoryService {
	if log == nil {
		log = zap.NewNop()
	}
	return &HistoryService{store: store, catalog: cat, outputDir: outputDir, limit: limit, log: log}
}

// List returns records matching filter, newest first
func (s *HistoryService) List(ctx context.Context, filter storage.HistoryFilter) ([]models.HistoryRecord, error) {
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", catalog.ErrInvalidParam, filter.Kind)
	}
	recs, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	return recs, nil
}

// Get returns one record
func (s *HistoryService) Get(ctx context.Context, id string) (*models.HistoryRecord, error) {
	return s.store.Get(ctx, id)
}

// Gallery returns records whose media file is available locally
func (s *HistoryService) Gallery(ctx context.Context, kind models.Kind, limit int) ([]models.HistoryRecord, error) {
	recs, err := s.List(ctx, storage.HistoryFilter{Kind: kind})
	if err != nil {
		return nil, err
	}
	out := make([]models.HistoryRecord, 0, len(recs))
	for _, rec := range recs {
		if rec.LocalPath == "" {
			continue
		}
		if _, err := os.Stat(rec.LocalPath); err != nil {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Migrate runs the history repair. With dryRun the store is left untouched.
func (s *HistoryService) Migrate(ctx context.Context, dryRun bool) (storage.MigrateReport, error) {
	recs, err := s.store.List(ctx, storage.HistoryFilter{})
	if err != nil {
		return storage.MigrateReport{}, fmt.Errorf("failed to load history: %w", err)
	}

	repaired, report := storage.Migrate(recs, storage.MigrateOptions{
		OutputDir:    s.outputDir,
		Limit:        s.limit,
		KindOf:       s.kindOf,
		AdoptOrphans: true,
	})

	if dryRun || !report.Changed() {
		return report, nil
	}
	if err := s.store.Replace(ctx, repaired); err != nil {
		return report, fmt.Errorf("failed to write repaired history: %w", err)
	}
	s.log.Info("history repaired",
		zap.Int("records", report.Output),
		zap.Int("relinked", report.Relinked),
		zap.Int("adopted", report.Adopted),
		zap.Int("duplicates", report.Duplicates))
	return report, nil
}

func (s *HistoryService) kindOf(model string) (models.Kind, bool) {
	m, err := s.catalog.Get(model)
	if err != nil {
		return "", false
	}
	return m.Kind, true
}
