package replicate

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the remote lifecycle state of a prediction
type Status string

const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether polling can stop
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// Prediction is the API's view of one model run
type Prediction struct {
	ID          string          `json:"id"`
	Model       string          `json:"model"`
	Version     string          `json:"version"`
	Status      Status          `json:"status"`
	Input       map[string]any  `json:"input"`
	Output      json.RawMessage `json:"output"`
	Error       any             `json:"error"`
	Logs        string          `json:"logs"`
	Metrics     Metrics         `json:"metrics"`
	CreatedAt   *time.Time      `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at"`
	URLs        struct {
		Get    string `json:"get"`
		Cancel string `json:"cancel"`
	} `json:"urls"`
}

// Metrics holds the timing the API reports for a finished prediction
type Metrics struct {
	PredictTime float64 `json:"predict_time"`
	TotalTime   float64 `json:"total_time"`
}

// Outputs normalises the output field, which models return either as a
// single URL or a list of URLs.
func (p *Prediction) Outputs() []string {
	if len(p.Output) == 0 {
		return nil
	}

	var single string
	if err := json.Unmarshal(p.Output, &single); err == nil {
		if single == "" {
			return nil
		}
		return []string{single}
	}

	var list []any
	if err := json.Unmarshal(p.Output, &list); err != nil {
		return nil
	}
	var out []string
	for _, v := range list {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ErrorMessage renders the remote error field
func (p *Prediction) ErrorMessage() string {
	switch e := p.Error.(type) {
	case nil:
		return "no error detail"
	case string:
		return e
	default:
		return fmt.Sprint(e)
	}
}

// ProcessingTime returns the model's own compute time in seconds, falling
// back to the wall time between start and completion.
func (p *Prediction) ProcessingTime() (float64, bool) {
	if p.Metrics.PredictTime > 0 {
		return p.Metrics.PredictTime, true
	}
	if p.StartedAt != nil && p.CompletedAt != nil {
		return p.CompletedAt.Sub(*p.StartedAt).Seconds(), true
	}
	return 0, false
}
