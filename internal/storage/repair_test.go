package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mediaforge/studio/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kindOf(model string) (models.Kind, bool) {
	switch model {
	case "kling-v1.6":
		return models.KindVideo, true
	case "flux-dev":
		return models.KindImage, true
	}
	return "", false
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
}

func TestMigrate_RepairsAndIsIdempotent(t *testing.T) {
	out := t.TempDir()
	touch(t, filepath.Join(out, "video_20240301_100000_surfing_cat.mp4"))
	touch(t, filepath.Join(out, "image_20240302_090000_lost_owl.webp"))
	touch(t, filepath.Join(out, "notes.txt"))

	ts := func(s string) models.Timestamp {
		v, ok := models.ParseTimestamp(s)
		require.True(t, ok)
		return v
	}

	input := []models.HistoryRecord{
		// missing kind and id, local file missing but present under output dir
		{Timestamp: ts("2024-03-01 10:00:00"), Prompt: "surfing cat", Model: "kling-v1.6",
			ResultURL: "https://cdn/v.mp4", LocalPath: "/old/place/video_20240301_100000_surfing_cat.mp4"},
		// duplicate of an entry above by url+prompt, older
		{ID: "dup", Timestamp: ts("2024-02-01 10:00:00"), Kind: models.KindVideo, Prompt: "surfing cat", ResultURL: "https://cdn/v.mp4"},
		// kind inferred from extension
		{ID: "ext", Timestamp: ts("2024-01-01 00:00:00"), Prompt: "png thing", ResultURL: "https://cdn/thing.png"},
		// no timestamp, recoverable from filename
		{ID: "nots", Kind: models.KindImage, Prompt: "x", ResultURL: "https://cdn/x.webp",
			LocalPath: "gone/image_20231201_080000_x.webp"},
	}

	repaired, report := Migrate(input, MigrateOptions{OutputDir: out, KindOf: kindOf, AdoptOrphans: true})

	assert.Equal(t, 4, report.Input)
	assert.Equal(t, 1, report.AssignedIDs)
	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, 1, report.FixedTimestamps)
	assert.Equal(t, 2, report.InferredKinds)
	assert.Equal(t, 1, report.Relinked)
	assert.Equal(t, 1, report.Adopted)
	require.Len(t, repaired, 4)

	// newest first: adopted owl (03-02), surfing cat (03-01), png (01-01), x (2023-12-01)
	assert.Equal(t, "lost owl", repaired[0].Prompt)
	assert.True(t, repaired[0].Recovered)
	assert.Equal(t, models.KindImage, repaired[0].Kind)

	cat := repaired[1]
	assert.Equal(t, models.KindVideo, cat.Kind)
	assert.Equal(t, filepath.Join(out, "video_20240301_100000_surfing_cat.mp4"), cat.LocalPath)
	assert.True(t, cat.Recovered)
	assert.NotEmpty(t, cat.ID)

	assert.Equal(t, models.KindImage, repaired[2].Kind)
	assert.Equal(t, time.Date(2023, 12, 1, 8, 0, 0, 0, time.UTC), repaired[3].Timestamp.Time)

	again, report2 := Migrate(repaired, MigrateOptions{OutputDir: out, KindOf: kindOf, AdoptOrphans: true})
	assert.False(t, report2.Changed(), "%+v", report2)
	assert.Equal(t, repaired, again)
}

func TestMigrate_ExtraOutputsAreNotOrphans(t *testing.T) {
	out := t.TempDir()
	first := filepath.Join(out, "image_20240302_090000-pred1_owl.webp")
	second := filepath.Join(out, "image_20240302_090000-pred1_owl_2.webp")
	third := filepath.Join(out, "image_20240302_090000-pred1_owl_3.webp")
	for _, p := range []string{first, second, third} {
		touch(t, p)
	}
	at := models.NewTimestamp(time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC))

	tests := []struct {
		name  string
		extra any
	}{
		{name: "as generated", extra: []map[string]any{
			{"url": "https://cdn/owl-1.webp", "local_path": second},
			{"url": "https://cdn/owl-2.webp", "local_path": third},
		}},
		{name: "decoded from json", extra: []any{
			map[string]any{"url": "https://cdn/owl-1.webp", "local_path": second},
			map[string]any{"url": "https://cdn/owl-2.webp", "local_path": third},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := []models.HistoryRecord{{
				ID: "owl", Kind: models.KindImage, Timestamp: at, Prompt: "owl",
				ResultURL: "https://cdn/owl-0.webp", LocalPath: first,
				Params: map[string]any{"num_outputs": 3, "extra_outputs": tt.extra},
			}}

			repaired, report := Migrate(input, MigrateOptions{OutputDir: out, KindOf: kindOf, AdoptOrphans: true})
			assert.Zero(t, report.Adopted)
			assert.False(t, report.Changed(), "%+v", report)
			require.Len(t, repaired, 1)
			assert.Equal(t, "owl", repaired[0].ID)
		})
	}
}

func TestMigrate_AdoptsTaggedOrphan(t *testing.T) {
	out := t.TempDir()
	touch(t, filepath.Join(out, "video_20240301_100000-abc123de_surfing_cat_2.mp4"))

	repaired, report := Migrate(nil, MigrateOptions{OutputDir: out, AdoptOrphans: true})
	assert.Equal(t, 1, report.Adopted)
	require.Len(t, repaired, 1)
	assert.Equal(t, models.KindVideo, repaired[0].Kind)
	assert.Equal(t, "surfing cat", repaired[0].Prompt)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), repaired[0].Timestamp.Time)
}

func TestMigrate_Truncates(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var recs []models.HistoryRecord
	for i := 0; i < 120; i++ {
		recs = append(recs, models.HistoryRecord{
			ID:        string(rune('a'+i%26)) + time.Duration(i).String(),
			Kind:      models.KindImage,
			Timestamp: models.NewTimestamp(base.Add(time.Duration(i) * time.Minute)),
			Prompt:    "p",
			ResultURL: "https://cdn/" + time.Duration(i).String(),
		})
	}

	out, report := Migrate(recs, MigrateOptions{})
	assert.Len(t, out, DefaultHistoryLimit)
	assert.Equal(t, 20, report.Truncated)
	assert.True(t, out[0].Timestamp.After(out[1].Timestamp.Time))
}
