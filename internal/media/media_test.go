package media

import (
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/mediaforge/studio/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"A cat, on a mat!", "A_cat_on_a_mat"},
		{"  leading and trailing  ", "leading_and_trailing"},
		{"héllo wörld", "hllo_wrld"},
		{"../../etc/passwd", "etcpasswd"},
		{"snake_case-name", "snake_case-name"},
		{"tabs\tand\nnewlines", "tabs_and_newlines"},
		{"!!!", "untitled"},
		{"", "untitled"},
		{strings.Repeat("a", 80), strings.Repeat("a", 50)},
	}

	allowed := regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := SanitizeFilename(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Regexp(t, allowed, got)
			assert.LessOrEqual(t, len(got), MaxNameLen)
		})
	}
}

func TestOutputFilename(t *testing.T) {
	ts := time.Date(2024, 11, 3, 14, 5, 9, 0, time.UTC)

	assert.Equal(t, "image_20241103_140509_red_fox.webp", OutputFilename(models.KindImage, "red fox", ts, "", "webp", 0))
	assert.Equal(t, "image_20241103_140509_red_fox_2.png", OutputFilename(models.KindImage, "red fox", ts, "", ".png", 1))
	assert.Equal(t, "video_20241103_140509_untitled.mp4", OutputFilename(models.KindVideo, "", ts, "", "mp4", 0))

	// the tag is cut to TagLen lower-case letters and digits
	assert.Equal(t, "image_20241103_140509-qz3xk2ab_red_fox_2.png",
		OutputFilename(models.KindImage, "red fox", ts, "QZ3X-k2ab9c1d", "png", 1))
	assert.NotEqual(t,
		OutputFilename(models.KindImage, "red fox", ts, "pred1", "png", 0),
		OutputFilename(models.KindImage, "red fox", ts, "pred2", "png", 0))
}

func TestExtFromURL(t *testing.T) {
	assert.Equal(t, "webp", ExtFromURL("https://replicate.delivery/x/out-0.webp", "png"))
	assert.Equal(t, "mp4", ExtFromURL("https://cdn.example/v.MP4?sig=abc", "bin"))
	assert.Equal(t, "png", ExtFromURL("https://cdn.example/noext", "png"))
	assert.Equal(t, "png", ExtFromURL("://bad", "png"))
}

func TestKindFromExt(t *testing.T) {
	k, ok := KindFromExt(".mp4")
	assert.True(t, ok)
	assert.Equal(t, models.KindVideo, k)

	_, ok = KindFromExt("txt")
	assert.False(t, ok)
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, w, h))))
}

func TestProbe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.png")
	writePNG(t, path, 64, 32)

	w, h, err := Probe(path)
	require.NoError(t, err)
	assert.Equal(t, 64, w)
	assert.Equal(t, 32, h)

	txt := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("hello"), 0644))
	_, _, err = Probe(txt)
	assert.Error(t, err)
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone.mp4" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("video-bytes"))
	}))
	defer srv.Close()

	d := NewDownloader(srv.Client(), nil)
	dest := filepath.Join(t.TempDir(), "outputs", "clip.mp4")

	n, err := d.Download(context.Background(), srv.URL+"/clip.mp4", dest)
	require.NoError(t, err)
	assert.EqualValues(t, len("video-bytes"), n)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(data))

	missing := filepath.Join(t.TempDir(), "gone.mp4")
	_, err = d.Download(context.Background(), srv.URL+"/gone.mp4", missing)
	assert.Error(t, err)
	assert.NoFileExists(t, missing)
}
