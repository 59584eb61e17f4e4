package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/mediaforge/studio/internal/atomicfile"
	"github.com/mediaforge/studio/internal/models"
	"go.uber.org/zap"
)

// JSONStore keeps the history as a JSON array in one file, newest first.
// Every mutation is a locked read-modify-write finished by an atomic rename.
type JSONStore struct {
	path  string
	limit int
	log   *zap.Logger
	mu    sync.Mutex
}

// NewJSONStore creates a store backed by path. The file is created on first write.
func NewJSONStore(path string, limit int, log *zap.Logger) *JSONStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &JSONStore{path: path, limit: normalizeLimit(limit), log: log}
}

// Path returns the backing file
func (s *JSONStore) Path() string {
	return s.path
}

// Add prepends rec and truncates to the limit
func (s *JSONStore) Add(ctx context.Context, rec *models.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.load()
	if err != nil {
		return err
	}
	prepare(rec)
	recs = append([]models.HistoryRecord{*rec}, recs...)
	return s.save(recs)
}

// List returns records matching filter, newest first
func (s *JSONStore) List(ctx context.Context, filter HistoryFilter) ([]models.HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.load()
	if err != nil {
		return nil, err
	}
	return filter.Apply(recs), nil
}

// Get returns the record with id
func (s *JSONStore) Get(ctx context.Context, id string) (*models.HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.load()
	if err != nil {
		return nil, err
	}
	for i := range recs {
		if recs[i].ID == id {
			return &recs[i], nil
		}
	}
	return nil, ErrRecordNotFound
}

// Replace overwrites the whole history
func (s *JSONStore) Replace(ctx context.Context, recs []models.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.HistoryRecord, len(recs))
	copy(out, recs)
	sortNewestFirst(out)
	return s.save(out)
}

// Close is a no-op
func (s *JSONStore) Close() error {
	return nil
}

// load reads the file. A missing or empty file is an empty history; array
// elements that cannot be read as records are skipped.
func (s *JSONStore) load() ([]models.HistoryRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse history %s: %w", s.path, err)
	}

	recs := make([]models.HistoryRecord, 0, len(raw))
	skipped := 0
	for _, elem := range raw {
		rec, err := models.DecodeRecord(elem)
		if err != nil {
			skipped++
			continue
		}
		recs = append(recs, rec)
	}
	if skipped > 0 {
		s.log.Warn("skipped unreadable history entries", zap.String("path", s.path), zap.Int("skipped", skipped))
	}
	return recs, nil
}

func (s *JSONStore) save(recs []models.HistoryRecord) error {
	if len(recs) > s.limit {
		recs = recs[:s.limit]
	}
	if recs == nil {
		recs = []models.HistoryRecord{}
	}
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	if err := atomicfile.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}
