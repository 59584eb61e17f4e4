package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mediaforge/studio/internal/catalog"
	"github.com/mediaforge/studio/internal/config"
	"github.com/mediaforge/studio/internal/models"
	"github.com/mediaforge/studio/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryService_ListAndGallery(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := storage.NewJSONStore(filepath.Join(dir, "history.json"), 100, nil)
	svc := NewHistoryService(store, catalog.Default(), dir, 100, nil)

	present := filepath.Join(dir, "image_20240101_000000_here.webp")
	require.NoError(t, os.WriteFile(present, []byte("x"), 0644))

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, rec := range []models.HistoryRecord{
		{Kind: models.KindImage, Prompt: "here", LocalPath: present},
		{Kind: models.KindImage, Prompt: "gone", LocalPath: filepath.Join(dir, "missing.webp")},
		{Kind: models.KindVideo, Prompt: "remote only", ResultURL: "https://x/v.mp4"},
	} {
		rec.Timestamp = models.NewTimestamp(base.Add(time.Duration(i) * time.Minute))
		require.NoError(t, store.Add(ctx, &rec))
	}

	images, err := svc.List(ctx, storage.HistoryFilter{Kind: models.KindImage})
	require.NoError(t, err)
	assert.Len(t, images, 2)
	for _, r := range images {
		assert.Equal(t, models.KindImage, r.Kind)
	}

	_, err = svc.List(ctx, storage.HistoryFilter{Kind: "audio"})
	assert.ErrorIs(t, err, catalog.ErrInvalidParam)

	gallery, err := svc.Gallery(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, gallery, 1)
	assert.Equal(t, "here", gallery[0].Prompt)
}

func TestHistoryService_Migrate(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "history.json")
	legacy := `[
	  {"type": "image", "timestamp": "2024-03-01 10:00:00", "prompt": "cat", "url": "https://x/1.png"},
	  {"type": "image", "timestamp": "2024-02-01 10:00:00", "prompt": "cat", "url": "https://x/1.png"},
	  {"timestamp": "2024-01-01T00:00:00", "prompt": "clip", "model": "kling-v1.6", "url": "https://x/2"}
	]`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0644))
	store := storage.NewJSONStore(path, 100, nil)
	svc := NewHistoryService(store, catalog.Default(), filepath.Join(dir, "outputs"), 100, nil)

	report, err := svc.Migrate(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, 3, report.AssignedIDs)

	unchanged, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, legacy, string(unchanged))

	_, err = svc.Migrate(ctx, false)
	require.NoError(t, err)
	recs, err := store.List(ctx, storage.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, models.KindVideo, recs[1].Kind)

	again, err := svc.Migrate(ctx, false)
	require.NoError(t, err)
	assert.False(t, again.Changed())
}

func TestUsageService_Summary(t *testing.T) {
	ctx := context.Background()
	usage := storage.NewUsageStore(filepath.Join(t.TempDir(), "usage.json"))
	require.NoError(t, usage.Record(ctx, "flux-dev", true, 10*time.Second, 0.05))
	require.NoError(t, usage.Record(ctx, "flux-dev", false, time.Second, 0))
	require.NoError(t, usage.Record(ctx, "kling-v1.6", true, 200*time.Second, 0.28))

	cat := catalog.Default()
	svc := NewUsageService(usage, cat, NewCostService(cat, nil, 0.5))

	s, err := svc.Summary(ctx)
	require.NoError(t, err)
	require.Len(t, s.Models, 2)
	assert.Equal(t, "flux-dev", s.Models[0].Model)
	assert.Equal(t, "FLUX Dev", s.Models[0].Name)
	assert.Equal(t, 50.0, s.Models[0].SuccessRate)
	assert.Equal(t, 3, s.TotalRuns)
	assert.Equal(t, 2, s.TotalSucceeded)
	assert.InDelta(t, 0.33, s.TotalCostUSD, 1e-9)
	assert.InDelta(t, 0.165, s.TotalCostEUR, 1e-9)
}

func TestAuthService(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)

	_, err = HashPassword("short")
	assert.Error(t, err)

	svc := NewAuthService(config.AuthConfig{PasswordHash: hash, APIKey: "k-123"})
	assert.True(t, svc.Enabled())
	assert.NoError(t, svc.Login(LoginRequest{Password: "correct horse"}))
	assert.ErrorIs(t, svc.Login(LoginRequest{Password: "wrong"}), ErrInvalidCredentials)
	assert.True(t, svc.CheckAPIKey("k-123"))
	assert.False(t, svc.CheckAPIKey("k-124"))

	open := NewAuthService(config.AuthConfig{})
	assert.False(t, open.Enabled())
	assert.NoError(t, open.Login(LoginRequest{}))
	assert.False(t, open.CheckAPIKey(""))
}
