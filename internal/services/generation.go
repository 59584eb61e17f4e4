package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mediaforge/studio/internal/catalog"
	"github.com/mediaforge/studio/internal/media"
	"github.com/mediaforge/studio/internal/models"
	"github.com/mediaforge/studio/internal/replicate"
	"github.com/mediaforge/studio/internal/storage"
	"go.uber.org/zap"
)

// ErrEmptyPrompt is returned when neither a prompt nor a template is given
var ErrEmptyPrompt = errors.New("prompt is required")

// ErrNoOutput is returned when a prediction succeeds without any output URL
var ErrNoOutput = errors.New("prediction returned no output")

// GenerateRequest asks for one generation
type GenerateRequest struct {
	Model    string         `json:"model" binding:"required"`
	Prompt   string         `json:"prompt"`
	Template string         `json:"template,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
}

// Predictor submits and waits for remote predictions
type Predictor interface {
	CreatePrediction(ctx context.Context, ref string, input map[string]any) (*replicate.Prediction, error)
	Wait(ctx context.Context, id string, timeout time.Duration, onUpdate func(*replicate.Prediction)) (*replicate.Prediction, error)
}

// Downloader stores a remote file locally
type Downloader interface {
	Download(ctx context.Context, url, dest string) (int64, error)
}

// UsageRecorder counts runs per model
type UsageRecorder interface {
	Record(ctx context.Context, model string, ok bool, latency time.Duration, costUSD float64) error
}

// Observer follows a generation as it progresses. Calls come from the
// generating goroutine.
type Observer interface {
	Submitted(p *replicate.Prediction)
	Progress(p *replicate.Prediction)
	Downloading()
}

type nopObserver struct{}

func (nopObserver) Submitted(*replicate.Prediction) {}
func (nopObserver) Progress(*replicate.Prediction)  {}
func (nopObserver) Downloading()                    {}

// GenerationDeps are the collaborators of a GenerationService
type GenerationDeps struct {
	Catalog    *catalog.Catalog
	Costs      *CostService
	Predictor  Predictor
	Downloader Downloader
	History    storage.HistoryStore
	Usage      UsageRecorder
	OutputDir  string
	Logger     *zap.Logger
}

// GenerationService runs a generation end to end: submit, poll, download, record
type GenerationService struct {
	GenerationDeps
	now func() time.Time
}

// NewGenerationService creates a generation service
func NewGenerationService(deps GenerationDeps) *GenerationService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &GenerationService{GenerationDeps: deps, now: time.Now}
}

// prepared is a validated request
type prepared struct {
	model  catalog.Model
	prompt string
	params map[string]any
}

// Validate checks req without contacting the API
func (s *GenerationService) Validate(req GenerateRequest) error {
	_, err := s.prepare(req)
	return err
}

func (s *GenerationService) prepare(req GenerateRequest) (*prepared, error) {
	model, err := s.Catalog.Get(req.Model)
	if err != nil {
		return nil, err
	}

	prompt := strings.TrimSpace(req.Prompt)
	if req.Template != "" {
		tpl, ok := catalog.LookupTemplate(req.Template)
		if !ok {
			return nil, fmt.Errorf("%w: unknown template %q", catalog.ErrInvalidParam, req.Template)
		}
		prompt = catalog.ApplyTemplate(tpl, prompt)
	}
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	params, err := model.Resolve(req.Params)
	if err != nil {
		return nil, err
	}
	return &prepared{model: model, prompt: prompt, params: params}, nil
}

// Run performs the generation and returns the stored history record.
// Failures are counted in the usage stats but not written to history.
func (s *GenerationService) Run(ctx context.Context, req GenerateRequest, obs Observer) (*models.HistoryRecord, error) {
	if obs == nil {
		obs = nopObserver{}
	}
	p, err := s.prepare(req)
	if err != nil {
		return nil, err
	}

	started := s.now()
	log := s.Logger.With(zap.String("model", p.model.Key))

	rec, cost, err := s.run(ctx, p, req.Template, started, obs, log)
	latency := s.now().Sub(started)
	if usageErr := s.Usage.Record(context.WithoutCancel(ctx), p.model.Key, err == nil, latency, cost); usageErr != nil {
		log.Warn("failed to record usage", zap.Error(usageErr))
	}
	if err != nil {
		log.Warn("generation failed", zap.Duration("latency", latency), zap.Error(err))
		return nil, err
	}

	log.Info("generation finished",
		zap.String("id", rec.ID),
		zap.String("local_path", rec.LocalPath),
		zap.Duration("latency", latency),
		zap.Float64("cost_usd", cost))
	return rec, nil
}

func (s *GenerationService) run(ctx context.Context, p *prepared, template string, started time.Time, obs Observer, log *zap.Logger) (*models.HistoryRecord, float64, error) {
	input := make(map[string]any, len(p.params)+1)
	for k, v := range p.params {
		input[k] = v
	}
	input["prompt"] = p.prompt

	pred, err := s.Predictor.CreatePrediction(ctx, p.model.Ref, input)
	if err != nil {
		return nil, 0, err
	}
	obs.Submitted(pred)
	log.Info("prediction submitted", zap.String("prediction_id", pred.ID))

	final, err := s.Predictor.Wait(ctx, pred.ID, p.model.Timeout, obs.Progress)
	if err != nil {
		return nil, 0, err
	}

	outputs := final.Outputs()
	if len(outputs) == 0 {
		return nil, 0, ErrNoOutput
	}

	obs.Downloading()
	locals := s.downloadAll(ctx, p, final.ID, outputs, started, log)
	if err := ctx.Err(); err != nil {
		removeAll(locals, log)
		return nil, 0, fmt.Errorf("canceled while downloading: %w", err)
	}

	rec := &models.HistoryRecord{
		Kind:         p.model.Kind,
		Timestamp:    models.NewTimestamp(started),
		Prompt:       p.prompt,
		Template:     template,
		Model:        p.model.Key,
		ResultURL:    outputs[0],
		LocalPath:    locals[0],
		Params:       p.params,
		PredictionID: final.ID,
	}
	if pt, ok := final.ProcessingTime(); ok {
		rec.ProcessingTime = &pt
	}
	if d, ok := number(p.params["duration"]); ok && p.model.Kind == models.KindVideo {
		rec.Duration = &d
	}
	if rec.LocalPath != "" && p.model.Kind != models.KindVideo {
		if w, h, err := media.Probe(rec.LocalPath); err == nil {
			rec.Width, rec.Height = w, h
		} else {
			log.Debug("could not probe output", zap.Error(err))
		}
	}
	if len(outputs) > 1 {
		params := make(map[string]any, len(p.params)+1)
		for k, v := range p.params {
			params[k] = v
		}
		extra := make([]map[string]any, 0, len(outputs)-1)
		for i := 1; i < len(outputs); i++ {
			extra = append(extra, map[string]any{"url": outputs[i], "local_path": locals[i]})
		}
		params["extra_outputs"] = extra
		rec.Params = params
	}

	var costUSD float64
	if cost, err := s.Costs.estimateResolved(p.model.Key, p.params); err == nil {
		costUSD = cost.USD
		rec.CostUSD = &costUSD
	} else {
		log.Warn("could not estimate cost", zap.Error(err))
	}

	if err := s.History.Add(context.WithoutCancel(ctx), rec); err != nil {
		return nil, costUSD, fmt.Errorf("failed to save history record: %w", err)
	}
	return rec, costUSD, nil
}

// downloadAll fetches every output. A failed download leaves an empty local path.
// Filenames carry the prediction ID so concurrent runs never share a file.
func (s *GenerationService) downloadAll(ctx context.Context, p *prepared, predictionID string, outputs []string, started time.Time, log *zap.Logger) []string {
	tag := predictionID
	if tag == "" {
		tag = uuid.NewString()
	}
	locals := make([]string, len(outputs))
	for i, url := range outputs {
		ext := media.ExtFromURL(url, p.model.OutputExt)
		dest := filepath.Join(s.OutputDir, media.OutputFilename(p.model.Kind, p.prompt, started, tag, ext, i))
		if _, err := s.Downloader.Download(ctx, url, dest); err != nil {
			log.Warn("download failed, keeping remote url", zap.String("url", url), zap.Error(err))
			continue
		}
		locals[i] = dest
	}
	return locals
}

func removeAll(paths []string, log *zap.Logger) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("failed to remove partial output", zap.String("path", p), zap.Error(err))
		}
	}
}
