package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 11, 3, 14, 5, 9, 0, time.UTC)

	tests := []struct {
		name  string
		input string
		ok    bool
	}{
		{name: "rfc3339", input: "2024-11-03T14:05:09Z", ok: true},
		{name: "space separated", input: "2024-11-03 14:05:09", ok: true},
		{name: "iso without zone", input: "2024-11-03T14:05:09", ok: true},
		{name: "python isoformat", input: "2024-11-03T14:05:09.000000", ok: true},
		{name: "filename style", input: "20241103_140509", ok: true},
		{name: "garbage", input: "yesterday", ok: false},
		{name: "empty", input: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, ok := ParseTimestamp(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, want.Equal(ts.Time), "got %s", ts)
			} else {
				assert.True(t, ts.IsZero())
			}
		})
	}
}

func TestDecodeRecord_Lenient(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "video",
		"timestamp": "2024-11-03 14:05:09",
		"prompt": "a cat surfing",
		"url": "https://cdn.example.com/out.mp4",
		"file_path": "outputs/video.mp4",
		"duration": "5",
		"processing_time": 42.5,
		"params": {"duration": 5},
		"width": "wide"
	}`)

	rec, err := DecodeRecord(raw)
	require.NoError(t, err)

	assert.Equal(t, KindVideo, rec.Kind)
	assert.Equal(t, "a cat surfing", rec.Prompt)
	assert.Equal(t, "outputs/video.mp4", rec.LocalPath)
	require.NotNil(t, rec.Duration)
	assert.Equal(t, 5.0, *rec.Duration)
	require.NotNil(t, rec.ProcessingTime)
	assert.Equal(t, 42.5, *rec.ProcessingTime)
	assert.Equal(t, 0, rec.Width)
	assert.False(t, rec.Timestamp.IsZero())
}

func TestDecodeRecord_NotAnObject(t *testing.T) {
	_, err := DecodeRecord(json.RawMessage(`"just a string"`))
	assert.ErrorIs(t, err, ErrNotRecord)
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.False(t, JobQueued.Terminal())
	assert.False(t, JobRunning.Terminal())
	assert.True(t, JobSucceeded.Terminal())
	assert.True(t, JobTimedOut.Terminal())
}

func TestModelUsage_SuccessRate(t *testing.T) {
	assert.Equal(t, 0.0, ModelUsage{}.SuccessRate())
	assert.Equal(t, 75.0, ModelUsage{Total: 4, Succeeded: 3}.SuccessRate())
}

func TestDecodeRecord_LegacyKeysOnWellFormedEntry(t *testing.T) {
	rec, err := DecodeRecord(json.RawMessage(`{"kind": "sticker", "result_url": "https://x/s.webp", "parameters": {"steps": 17}}`))
	require.NoError(t, err)
	assert.Equal(t, KindSticker, rec.Kind)
	assert.Equal(t, "https://x/s.webp", rec.ResultURL)
	assert.Equal(t, map[string]any{"steps": 17.0}, rec.Params)

	_, err = DecodeRecord(json.RawMessage(`null`))
	assert.ErrorIs(t, err, ErrNotRecord)
}
