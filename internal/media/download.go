// Package media downloads generated files and inspects them.
package media

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mediaforge/studio/internal/atomicfile"
	"go.uber.org/zap"
)

// Downloader fetches result media from the inference CDN
type Downloader struct {
	client *http.Client
	log    *zap.Logger
}

// NewDownloader creates a downloader. A nil client gets one with a generous
// timeout, since videos can be tens of megabytes.
func NewDownloader(client *http.Client, log *zap.Logger) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Downloader{client: client, log: log}
}

// Download GETs url and atomically writes the body to dest, returning the
// number of bytes written
func (d *Downloader) Download(ctx context.Context, url, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("failed to download %s: status %d", url, resp.StatusCode)
	}

	n, err := atomicfile.Copy(dest, resp.Body, 0644)
	if err != nil {
		return n, err
	}
	d.log.Debug("media downloaded", zap.String("dest", dest), zap.Int64("bytes", n))
	return n, nil
}
