package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mediaforge/studio/internal/catalog"
	"github.com/mediaforge/studio/internal/config"
	"github.com/mediaforge/studio/internal/middleware"
	"github.com/mediaforge/studio/internal/models"
	"github.com/mediaforge/studio/internal/services"
	"github.com/mediaforge/studio/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubGenerator validates against the catalog and finishes instantly
type stubGenerator struct {
	cat     *catalog.Catalog
	history storage.HistoryStore
}

func (g stubGenerator) Validate(req services.GenerateRequest) error {
	_, err := g.cat.Get(req.Model)
	return err
}

func (g stubGenerator) Run(ctx context.Context, req services.GenerateRequest, obs services.Observer) (*models.HistoryRecord, error) {
	m, _ := g.cat.Get(req.Model)
	rec := &models.HistoryRecord{Kind: m.Kind, Model: m.Key, Prompt: req.Prompt, ResultURL: "https://cdn.example/out.webp"}
	return rec, g.history.Add(ctx, rec)
}

type testServer struct {
	*httptest.Server
	outputDir string
	history   storage.HistoryStore
}

func setupTestServer(t *testing.T, authCfg config.AuthConfig) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	outputDir := filepath.Join(dir, "outputs")
	require.NoError(t, os.MkdirAll(outputDir, 0755))

	cat := catalog.Default()
	costs := services.NewCostService(cat, nil, 0.92)
	history := storage.NewJSONStore(filepath.Join(dir, "history.json"), 100, nil)
	usage := storage.NewUsageStore(filepath.Join(dir, "usage_stats.json"))
	jobs := services.NewJobManager(stubGenerator{cat: cat, history: history}, 2, 50, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = jobs.Shutdown(ctx)
	})

	router := NewRouter(RouterDeps{
		Catalog:   cat,
		Costs:     costs,
		Jobs:      jobs,
		History:   services.NewHistoryService(history, cat, outputDir, 100, nil),
		Usage:     services.NewUsageService(usage, cat, costs),
		Auth:      services.NewAuthService(authCfg),
		JWT:       middleware.JWTConfig{Secret: "test-secret", Expiration: time.Hour},
		OutputDir: outputDir,
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &testServer{Server: server, outputDir: outputDir, history: history}
}

func (s *testServer) do(t *testing.T, method, path string, body any, header map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealthEndpoint(t *testing.T) {
	server := setupTestServer(t, config.AuthConfig{})

	resp, body := server.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
}

func TestModelsAndTemplates(t *testing.T) {
	server := setupTestServer(t, config.AuthConfig{})

	resp, body := server.do(t, http.MethodGet, "/api/v1/models?type=video", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := body["models"].([]any)
	require.NotEmpty(t, list)
	for _, m := range list {
		assert.Equal(t, "video", m.(map[string]any)["type"])
	}

	resp, body = server.do(t, http.MethodGet, "/api/v1/models/flux-dev", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "FLUX Dev", body["name"])
	assert.NotEmpty(t, body["params"])
	assert.NotNil(t, body["default_cost"])

	resp, _ = server.do(t, http.MethodGet, "/api/v1/models/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = server.do(t, http.MethodGet, "/api/v1/models?type=audio", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = server.do(t, http.MethodGet, "/api/v1/templates?kind=sticker", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	for _, tpl := range body["templates"].([]any) {
		assert.Equal(t, "sticker", tpl.(map[string]any)["type"])
	}
}

func TestCostEstimate(t *testing.T) {
	server := setupTestServer(t, config.AuthConfig{})

	resp, body := server.do(t, http.MethodPost, "/api/v1/cost/estimate", EstimateRequest{
		Model:  "kling-v1.6",
		Params: map[string]any{"duration": 10},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 0.56, body["usd"], 1e-9)
	assert.InDelta(t, 0.5152, body["eur"], 1e-9)

	resp, _ = server.do(t, http.MethodPost, "/api/v1/cost/estimate", EstimateRequest{
		Model:  "kling-v1.6",
		Params: map[string]any{"duration": 7},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJobLifecycle(t *testing.T) {
	server := setupTestServer(t, config.AuthConfig{})

	resp, body := server.do(t, http.MethodPost, "/api/v1/jobs", services.GenerateRequest{
		Model:  "flux-schnell",
		Prompt: "a lighthouse at dusk",
	}, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		_, job := server.do(t, http.MethodGet, "/api/v1/jobs/"+id, nil, nil)
		return job["status"] == string(models.JobSucceeded)
	}, 2*time.Second, 10*time.Millisecond)

	resp, _ = server.do(t, http.MethodPost, "/api/v1/jobs/"+id+"/cancel", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = server.do(t, http.MethodGet, "/api/v1/jobs/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = server.do(t, http.MethodPost, "/api/v1/jobs", services.GenerateRequest{Model: "nope", Prompt: "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = server.do(t, http.MethodGet, "/api/v1/jobs", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["jobs"], 1)

	resp, body = server.do(t, http.MethodGet, "/api/v1/history?type=image", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	resp, body = server.do(t, http.MethodGet, "/api/v1/history?type=video", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["count"])
}

func TestHistoryAndGallery(t *testing.T) {
	server := setupTestServer(t, config.AuthConfig{})
	ctx := context.Background()

	local := filepath.Join(server.outputDir, "image_20240101_120000_fox.png")
	require.NoError(t, os.WriteFile(local, []byte("png"), 0644))
	withFile := &models.HistoryRecord{Kind: models.KindImage, Prompt: "fox", LocalPath: local}
	require.NoError(t, server.history.Add(ctx, withFile))
	require.NoError(t, server.history.Add(ctx, &models.HistoryRecord{Kind: models.KindVideo, Prompt: "remote", ResultURL: "https://x/v.mp4"}))

	resp, body := server.do(t, http.MethodGet, "/api/v1/history?q=FOX", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	resp, body = server.do(t, http.MethodGet, "/api/v1/history/"+withFile.ID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "fox", body["prompt"])

	resp, _ = server.do(t, http.MethodGet, "/api/v1/history/unknown", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = server.do(t, http.MethodGet, "/api/v1/history?limit=-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = server.do(t, http.MethodGet, "/api/v1/gallery", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	resp, body = server.do(t, http.MethodPost, "/api/v1/history/migrate?dry_run=true", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["dry_run"])
}

func TestMediaServing(t *testing.T) {
	server := setupTestServer(t, config.AuthConfig{})
	require.NoError(t, os.WriteFile(filepath.Join(server.outputDir, "image_x.png"), []byte("data"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(server.outputDir), "secret.txt"), []byte("s"), 0644))

	resp, err := http.Get(server.URL + "/media/image_x.png")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	for _, path := range []string{"/media/..", "/media/..%2Fsecret.txt", "/media/missing.png"} {
		resp, err := http.Get(server.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.NotEqual(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestProtectedEndpoints(t *testing.T) {
	hash, err := services.HashPassword("studio-password")
	require.NoError(t, err)
	server := setupTestServer(t, config.AuthConfig{PasswordHash: hash, APIKey: "script-key"})

	resp, body := server.do(t, http.MethodGet, "/api/v1/auth/status", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["enabled"])

	resp, _ = server.do(t, http.MethodGet, "/api/v1/history", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = server.do(t, http.MethodGet, "/api/v1/history", nil, map[string]string{"Authorization": "Bearer invalid-token"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = server.do(t, http.MethodPost, "/api/v1/auth/login", services.LoginRequest{Password: "wrong-password"}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = server.do(t, http.MethodPost, "/api/v1/auth/login", services.LoginRequest{Password: "studio-password"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)

	resp, _ = server.do(t, http.MethodGet, "/api/v1/history", nil, map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = server.do(t, http.MethodGet, "/api/v1/stats", nil, map[string]string{middleware.APIKeyHeader: "script-key"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = server.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
