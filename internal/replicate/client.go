// Package replicate talks to a Replicate-compatible prediction API: submit an
// input to a model, poll the prediction until it settles, read its outputs.
package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrPollTimeout is returned by Wait when the deadline passes before a terminal state
	ErrPollTimeout = errors.New("prediction did not finish in time")
	// ErrPredictionFailed is returned by Wait when the remote job failed
	ErrPredictionFailed = errors.New("prediction failed")
	// ErrPredictionCanceled is returned by Wait when the remote job was canceled
	ErrPredictionCanceled = errors.New("prediction canceled")
)

// APIError is a non-2xx answer from the API
type APIError struct {
	StatusCode int    `json:"-"`
	Title      string `json:"title"`
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = e.Title
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("inference API returned %d: %s", e.StatusCode, msg)
}

// Options configures a Client
type Options struct {
	BaseURL        string
	Token          string
	PollInterval   time.Duration
	RequestTimeout time.Duration
	HTTPClient     *http.Client
	Logger         *zap.Logger
}

// Client is a small prediction API client
type Client struct {
	baseURL      string
	token        string
	pollInterval time.Duration
	httpClient   *http.Client
	log          *zap.Logger
}

// NewClient creates a client. Zero options get sensible defaults.
func NewClient(opts Options) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		token:        opts.Token,
		pollInterval: opts.PollInterval,
		httpClient:   opts.HTTPClient,
		log:          opts.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = "https://api.replicate.com/v1"
	}
	if c.pollInterval <= 0 {
		c.pollInterval = 2 * time.Second
	}
	if c.httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		c.httpClient = &http.Client{Timeout: timeout}
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

// CreatePrediction starts a prediction for ref, which is either "owner/name"
// (latest version, model endpoint) or "owner/name:version".
func (c *Client) CreatePrediction(ctx context.Context, ref string, input map[string]any) (*Prediction, error) {
	owner, name, version, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}

	body := map[string]any{"input": input}
	path := fmt.Sprintf("/models/%s/%s/predictions", owner, name)
	if version != "" {
		body["version"] = version
		path = "/predictions"
	}

	var p Prediction
	if err := c.do(ctx, http.MethodPost, path, body, &p); err != nil {
		return nil, fmt.Errorf("failed to create prediction for %s: %w", ref, err)
	}
	c.log.Debug("prediction created", zap.String("id", p.ID), zap.String("model", ref), zap.String("status", string(p.Status)))
	return &p, nil
}

// GetPrediction fetches the current state of a prediction
func (c *Client) GetPrediction(ctx context.Context, id string) (*Prediction, error) {
	var p Prediction
	if err := c.do(ctx, http.MethodGet, "/predictions/"+id, nil, &p); err != nil {
		return nil, fmt.Errorf("failed to get prediction %s: %w", id, err)
	}
	return &p, nil
}

// CancelPrediction asks the API to stop a running prediction
func (c *Client) CancelPrediction(ctx context.Context, id string) (*Prediction, error) {
	var p Prediction
	if err := c.do(ctx, http.MethodPost, "/predictions/"+id+"/cancel", nil, &p); err != nil {
		return nil, fmt.Errorf("failed to cancel prediction %s: %w", id, err)
	}
	return &p, nil
}

// Wait polls the prediction at a fixed interval until it reaches a terminal
// state, timeout elapses or ctx is done. onUpdate, if set, sees every poll result.
// A timeout or a done ctx cancels the remote prediction on a best-effort basis.
func (c *Client) Wait(ctx context.Context, id string, timeout time.Duration, onUpdate func(*Prediction)) (*Prediction, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		p, err := c.GetPrediction(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				c.cancelQuietly(id)
				return nil, ctx.Err()
			}
			return nil, err
		}
		if onUpdate != nil {
			onUpdate(p)
		}

		switch p.Status {
		case StatusSucceeded:
			return p, nil
		case StatusFailed:
			return p, fmt.Errorf("%w: %s", ErrPredictionFailed, p.ErrorMessage())
		case StatusCanceled:
			return p, ErrPredictionCanceled
		}

		select {
		case <-ctx.Done():
			c.cancelQuietly(id)
			return p, ctx.Err()
		case <-deadline.C:
			c.cancelQuietly(id)
			return p, fmt.Errorf("%w after %s", ErrPollTimeout, timeout)
		case <-ticker.C:
		}
	}
}

func (c *Client) cancelQuietly(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := c.CancelPrediction(ctx, id); err != nil {
		c.log.Warn("failed to cancel remote prediction", zap.String("id", id), zap.Error(err))
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || (apiErr.Detail == "" && apiErr.Title == "") {
			apiErr.Detail = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// ParseRef splits "owner/name[:version]"
func ParseRef(ref string) (owner, name, version string, err error) {
	ref = strings.TrimSpace(ref)
	if i := strings.LastIndex(ref, ":"); i >= 0 {
		ref, version = ref[:i], ref[i+1:]
	}
	owner, name, ok := strings.Cut(ref, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", "", fmt.Errorf("invalid model reference %q", ref)
	}
	return owner, name, version, nil
}
