// Package catalog describes the generative models the studio can run, the
// parameters each one accepts and the canned prompt templates offered in the UI.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mediaforge/studio/internal/models"
)

var (
	// ErrUnknownModel is returned for a model key not in the catalog
	ErrUnknownModel = errors.New("unknown model")
	// ErrInvalidParam is returned when a parameter fails validation
	ErrInvalidParam = errors.New("invalid parameter")
)

// Model describes one remote model
type Model struct {
	Key         string        `json:"key"`
	Ref         string        `json:"ref"`
	Name        string        `json:"name"`
	Kind        models.Kind   `json:"type"`
	Description string        `json:"description"`
	Timeout     time.Duration `json:"-"`
	OutputExt   string        `json:"output_ext"`
	Params      []ParamSpec   `json:"params"`
}

// TimeoutSeconds is used by the UI to size its progress bar
func (m Model) TimeoutSeconds() int {
	return int(m.Timeout / time.Second)
}

// Param returns the spec for name
func (m Model) Param(name string) (ParamSpec, bool) {
	for _, p := range m.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// Catalog is a set of models keyed by Model.Key
type Catalog struct {
	models map[string]Model
}

// New builds a catalog from models. Duplicate keys keep the last entry.
func New(list ...Model) *Catalog {
	c := &Catalog{models: make(map[string]Model, len(list))}
	for _, m := range list {
		c.models[m.Key] = m
	}
	return c
}

// Get returns the model for key
func (c *Catalog) Get(key string) (Model, error) {
	m, ok := c.models[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return Model{}, fmt.Errorf("%w: %s", ErrUnknownModel, key)
	}
	return m, nil
}

// List returns all models sorted by kind then name
func (c *Catalog) List() []Model {
	out := make([]Model, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return kindOrder(out[i].Kind) < kindOrder(out[j].Kind)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// ListKind returns models producing kind
func (c *Catalog) ListKind(kind models.Kind) []Model {
	var out []Model
	for _, m := range c.List() {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func kindOrder(k models.Kind) int {
	switch k {
	case models.KindImage:
		return 0
	case models.KindVideo:
		return 1
	case models.KindSticker:
		return 2
	}
	return 3
}

// Default returns the built-in catalog
func Default() *Catalog {
	return New(builtinModels...)
}

var aspectRatios = []string{"1:1", "16:9", "9:16", "4:3", "3:4", "3:2", "2:3", "21:9"}

var builtinModels = []Model{
	{
		Key:         "flux-schnell",
		Ref:         "black-forest-labs/flux-schnell",
		Name:        "FLUX Schnell",
		Kind:        models.KindImage,
		Description: "Fast text-to-image in four steps",
		Timeout:     120 * time.Second,
		OutputExt:   "webp",
		Params: []ParamSpec{
			{Name: "aspect_ratio", Label: "Aspect ratio", Type: ParamEnum, Default: "1:1", Options: aspectRatios},
			{Name: "num_outputs", Label: "Images", Type: ParamInt, Default: 1, Min: ptr(1), Max: ptr(4)},
			{Name: "output_format", Label: "Format", Type: ParamEnum, Default: "webp", Options: []string{"webp", "jpg", "png"}},
			{Name: "output_quality", Label: "Quality", Type: ParamInt, Default: 80, Min: ptr(0), Max: ptr(100)},
			{Name: "seed", Label: "Seed", Type: ParamInt, Min: ptr(0), Help: "leave empty for random"},
		},
	},
	{
		Key:         "flux-dev",
		Ref:         "black-forest-labs/flux-dev",
		Name:        "FLUX Dev",
		Kind:        models.KindImage,
		Description: "Higher quality text-to-image with guidance control",
		Timeout:     180 * time.Second,
		OutputExt:   "webp",
		Params: []ParamSpec{
			{Name: "aspect_ratio", Label: "Aspect ratio", Type: ParamEnum, Default: "1:1", Options: aspectRatios},
			{Name: "num_outputs", Label: "Images", Type: ParamInt, Default: 1, Min: ptr(1), Max: ptr(4)},
			{Name: "guidance", Label: "Guidance", Type: ParamFloat, Default: 3.5, Min: ptr(0), Max: ptr(10)},
			{Name: "num_inference_steps", Label: "Steps", Type: ParamInt, Default: 28, Min: ptr(1), Max: ptr(50)},
			{Name: "output_format", Label: "Format", Type: ParamEnum, Default: "webp", Options: []string{"webp", "jpg", "png"}},
			{Name: "seed", Label: "Seed", Type: ParamInt, Min: ptr(0)},
		},
	},
	{
		Key:         "flux-1.1-pro",
		Ref:         "black-forest-labs/flux-1.1-pro",
		Name:        "FLUX 1.1 Pro",
		Kind:        models.KindImage,
		Description: "Best prompt adherence, one image per run",
		Timeout:     180 * time.Second,
		OutputExt:   "webp",
		Params: []ParamSpec{
			{Name: "aspect_ratio", Label: "Aspect ratio", Type: ParamEnum, Default: "1:1", Options: aspectRatios},
			{Name: "output_format", Label: "Format", Type: ParamEnum, Default: "webp", Options: []string{"webp", "jpg", "png"}},
			{Name: "safety_tolerance", Label: "Safety tolerance", Type: ParamInt, Default: 2, Min: ptr(1), Max: ptr(6)},
			{Name: "prompt_upsampling", Label: "Prompt upsampling", Type: ParamBool, Default: false},
			{Name: "seed", Label: "Seed", Type: ParamInt, Min: ptr(0)},
		},
	},
	{
		Key:         "kling-v1.6",
		Ref:         "kwaivgi/kling-v1.6-standard",
		Name:        "Kling 1.6",
		Kind:        models.KindVideo,
		Description: "Text-to-video, 5 or 10 seconds",
		Timeout:     600 * time.Second,
		OutputExt:   "mp4",
		Params: []ParamSpec{
			{Name: "duration", Label: "Duration (s)", Type: ParamInt, Default: 5, Options: []string{"5", "10"}},
			{Name: "aspect_ratio", Label: "Aspect ratio", Type: ParamEnum, Default: "16:9", Options: []string{"16:9", "9:16", "1:1"}},
			{Name: "cfg_scale", Label: "CFG scale", Type: ParamFloat, Default: 0.5, Min: ptr(0), Max: ptr(1)},
			{Name: "negative_prompt", Label: "Negative prompt", Type: ParamString},
		},
	},
	{
		Key:         "minimax-video-01",
		Ref:         "minimax/video-01",
		Name:        "Hailuo Video-01",
		Kind:        models.KindVideo,
		Description: "Six second 720p clips",
		Timeout:     600 * time.Second,
		OutputExt:   "mp4",
		Params: []ParamSpec{
			{Name: "prompt_optimizer", Label: "Optimise prompt", Type: ParamBool, Default: true},
		},
	},
	{
		Key:         "hailuo-02",
		Ref:         "minimax/hailuo-02",
		Name:        "Hailuo 02",
		Kind:        models.KindVideo,
		Description: "6 or 10 second clips up to 1080p",
		Timeout:     600 * time.Second,
		OutputExt:   "mp4",
		Params: []ParamSpec{
			{Name: "duration", Label: "Duration (s)", Type: ParamInt, Default: 6, Options: []string{"6", "10"}},
			{Name: "resolution", Label: "Resolution", Type: ParamEnum, Default: "768p", Options: []string{"512p", "768p", "1080p"}},
			{Name: "prompt_optimizer", Label: "Optimise prompt", Type: ParamBool, Default: true},
		},
	},
	{
		Key:         "sticker-maker",
		Ref:         "fofr/sticker-maker:4acb778eb059772225ec213948f0660867b2e03f277448f18cf1800b96a65a1a",
		Name:        "Sticker Maker",
		Kind:        models.KindSticker,
		Description: "Die-cut stickers with transparent background",
		Timeout:     60 * time.Second,
		OutputExt:   "webp",
		Params: []ParamSpec{
			{Name: "steps", Label: "Steps", Type: ParamInt, Default: 17, Min: ptr(1), Max: ptr(50)},
			{Name: "width", Label: "Width", Type: ParamInt, Default: 1152, Min: ptr(512), Max: ptr(2048)},
			{Name: "height", Label: "Height", Type: ParamInt, Default: 1152, Min: ptr(512), Max: ptr(2048)},
			{Name: "number_of_images", Label: "Stickers", Type: ParamInt, Default: 1, Min: ptr(1), Max: ptr(10)},
			{Name: "output_format", Label: "Format", Type: ParamEnum, Default: "webp", Options: []string{"webp", "jpg", "png"}},
			{Name: "negative_prompt", Label: "Negative prompt", Type: ParamString},
		},
	},
}

func ptr(v float64) *float64 { return &v }
