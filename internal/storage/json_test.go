package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mediaforge/studio/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(kind models.Kind, prompt string, at time.Time) *models.HistoryRecord {
	return &models.HistoryRecord{
		Kind:      kind,
		Prompt:    prompt,
		Model:     "flux-dev",
		ResultURL: "https://cdn.example/" + prompt,
		Timestamp: models.NewTimestamp(at),
	}
}

func TestJSONStore_AddListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewJSONStore(filepath.Join(t.TempDir(), "history.json"), 100, nil)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Add(ctx, record(models.KindImage, "first", base)))
	require.NoError(t, s.Add(ctx, record(models.KindVideo, "second", base.Add(time.Minute))))

	recs, err := s.List(ctx, HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "second", recs[0].Prompt)
	assert.NotEmpty(t, recs[0].ID)

	got, err := s.Get(ctx, recs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Prompt)

	_, err = s.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestJSONStore_Cap(t *testing.T) {
	ctx := context.Background()
	s := NewJSONStore(filepath.Join(t.TempDir(), "history.json"), 5, nil)
	base := time.Now()

	for i := 0; i < 8; i++ {
		require.NoError(t, s.Add(ctx, record(models.KindImage, fmt.Sprintf("p%d", i), base.Add(time.Duration(i)*time.Second))))
	}

	recs, err := s.List(ctx, HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 5)
	assert.Equal(t, "p7", recs[0].Prompt)
	assert.Equal(t, "p3", recs[4].Prompt)
}

func TestJSONStore_FilterByKind(t *testing.T) {
	ctx := context.Background()
	s := NewJSONStore(filepath.Join(t.TempDir(), "history.json"), 100, nil)
	base := time.Now()

	require.NoError(t, s.Add(ctx, record(models.KindImage, "Red fox", base)))
	require.NoError(t, s.Add(ctx, record(models.KindVideo, "fox running", base.Add(time.Second))))
	require.NoError(t, s.Add(ctx, record(models.KindSticker, "owl", base.Add(2*time.Second))))

	tests := []struct {
		name   string
		filter HistoryFilter
		want   []string
	}{
		{"kind image", HistoryFilter{Kind: models.KindImage}, []string{"Red fox"}},
		{"kind video", HistoryFilter{Kind: models.KindVideo}, []string{"fox running"}},
		{"query is case-insensitive", HistoryFilter{Query: "FOX"}, []string{"fox running", "Red fox"}},
		{"limit", HistoryFilter{Limit: 1}, []string{"owl"}},
		{"model", HistoryFilter{Model: "FLUX-DEV", Kind: models.KindSticker}, []string{"owl"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := s.List(ctx, tt.filter)
			require.NoError(t, err)
			var prompts []string
			for _, r := range recs {
				if tt.filter.Kind != "" {
					assert.Equal(t, tt.filter.Kind, r.Kind)
				}
				prompts = append(prompts, r.Prompt)
			}
			assert.Equal(t, tt.want, prompts)
		})
	}
}

func TestJSONStore_TolerantLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	legacy := `[
	  {"type": "image", "timestamp": "2024-03-01 10:00:00", "prompt": "legacy", "url": "https://x/1.png"},
	  "garbage",
	  {"type": "video", "timestamp": "not a time", "prompt": "odd", "duration": "5", "width": "wide"},
	  42
	]`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0644))

	recs, err := NewJSONStore(path, 100, nil).List(context.Background(), HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "legacy", recs[0].Prompt)
	assert.Equal(t, 2024, recs[0].Timestamp.Year())
	assert.True(t, recs[1].Timestamp.IsZero())
	require.NotNil(t, recs[1].Duration)
	assert.Equal(t, 5.0, *recs[1].Duration)
}

func TestJSONStore_CorruptFileIsNotOverwritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"truncated`), 0644))

	s := NewJSONStore(path, 100, nil)
	err := s.Add(context.Background(), record(models.KindImage, "x", time.Now()))
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"truncated`, string(data))
}

func TestJSONStore_ConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	s := NewJSONStore(filepath.Join(t.TempDir(), "history.json"), 100, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Add(ctx, record(models.KindImage, fmt.Sprintf("p%d", i), time.Now())))
		}(i)
	}
	wg.Wait()

	recs, err := s.List(ctx, HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, recs, 20)
}

func TestJSONStore_ReplaceSorts(t *testing.T) {
	ctx := context.Background()
	s := NewJSONStore(filepath.Join(t.TempDir(), "history.json"), 2, nil)
	base := time.Now()

	err := s.Replace(ctx, []models.HistoryRecord{
		*record(models.KindImage, "old", base),
		*record(models.KindImage, "newest", base.Add(2*time.Hour)),
		*record(models.KindImage, "middle", base.Add(time.Hour)),
	})
	require.NoError(t, err)

	recs, err := s.List(ctx, HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "newest", recs[0].Prompt)
	assert.Equal(t, "middle", recs[1].Prompt)
}

func TestUsageStore_Record(t *testing.T) {
	ctx := context.Background()
	s := NewUsageStore(filepath.Join(t.TempDir(), "usage_stats.json"))

	require.NoError(t, s.Record(ctx, "flux-dev", true, 10*time.Second, 0.025))
	require.NoError(t, s.Record(ctx, "flux-dev", true, 20*time.Second, 0.025))
	require.NoError(t, s.Record(ctx, "flux-dev", false, 90*time.Second, 0))
	require.NoError(t, s.Record(ctx, "kling-v1.6", true, 300*time.Second, 0.28))

	all, err := s.All(ctx)
	require.NoError(t, err)

	flux := all["flux-dev"]
	assert.Equal(t, 3, flux.Total)
	assert.Equal(t, 2, flux.Succeeded)
	assert.Equal(t, 1, flux.Failed)
	assert.InDelta(t, 15.0, flux.AvgLatencySeconds, 1e-9)
	assert.InDelta(t, 0.05, flux.TotalCostUSD, 1e-9)
	assert.False(t, flux.LastUsed.IsZero())

	assert.Equal(t, 1, all["kling-v1.6"].Total)
}

func TestUsageStore_NullFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "usage_stats.json")
	require.NoError(t, os.WriteFile(path, []byte("null"), 0644))
	s := NewUsageStore(path)

	require.NotPanics(t, func() {
		require.NoError(t, s.Record(ctx, "flux-dev", true, time.Second, 0.01))
	})

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, all["flux-dev"].Total)
}
