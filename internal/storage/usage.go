package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mediaforge/studio/internal/atomicfile"
	"github.com/mediaforge/studio/internal/models"
)

// UsageStore keeps per-model counters in a JSON object keyed by model key
type UsageStore struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewUsageStore creates a usage store backed by path
func NewUsageStore(path string) *UsageStore {
	return &UsageStore{path: path, now: time.Now}
}

// Record counts one run of model. latency only feeds the average when ok.
func (s *UsageStore) Record(ctx context.Context, model string, ok bool, latency time.Duration, costUSD float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return err
	}

	u := all[model]
	u.Total++
	if ok {
		u.Succeeded++
		// running mean over succeeded runs
		u.AvgLatencySeconds += (latency.Seconds() - u.AvgLatencySeconds) / float64(u.Succeeded)
		u.TotalCostUSD += costUSD
	} else {
		u.Failed++
	}
	u.LastUsed = s.now().UTC().Truncate(time.Second)
	all[model] = u

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode usage stats: %w", err)
	}
	if err := atomicfile.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to save usage stats: %w", err)
	}
	return nil
}

// All returns a copy of every model's counters
func (s *UsageStore) All(ctx context.Context) (map[string]models.ModelUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *UsageStore) load() (map[string]models.ModelUsage, error) {
	all := make(map[string]models.ModelUsage)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return all, nil
		}
		return nil, fmt.Errorf("failed to read usage stats: %w", err)
	}
	if len(data) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("failed to parse usage stats %s: %w", s.path, err)
	}
	// a "null" document decodes to a nil map
	if all == nil {
		all = make(map[string]models.ModelUsage)
	}
	return all, nil
}
