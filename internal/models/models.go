package models

import (
	"time"
)

// Kind is the media type a model produces
type Kind string

const (
	KindImage   Kind = "image"
	KindVideo   Kind = "video"
	KindSticker Kind = "sticker"
)

// Valid reports whether k is one of the known kinds
func (k Kind) Valid() bool {
	switch k {
	case KindImage, KindVideo, KindSticker:
		return true
	}
	return false
}

// HistoryRecord represents one completed generation
type HistoryRecord struct {
	ID             string         `db:"id" json:"id"`
	Kind           Kind           `db:"kind" json:"type"`
	Timestamp      Timestamp      `db:"created_at" json:"timestamp"`
	Prompt         string         `db:"prompt" json:"prompt"`
	Template       string         `db:"template" json:"template,omitempty"`
	Model          string         `db:"model" json:"model,omitempty"`
	ResultURL      string         `db:"result_url" json:"url"`
	LocalPath      string         `db:"local_path" json:"local_path,omitempty"`
	Params         map[string]any `db:"params" json:"params,omitempty"`
	Duration       *float64       `db:"duration" json:"duration,omitempty"`
	ProcessingTime *float64       `db:"processing_time" json:"processing_time,omitempty"`
	CostUSD        *float64       `db:"cost_usd" json:"cost_usd,omitempty"`
	Width          int            `db:"width" json:"width,omitempty"`
	Height         int            `db:"height" json:"height,omitempty"`
	PredictionID   string         `db:"prediction_id" json:"prediction_id,omitempty"`
	Recovered      bool           `db:"recovered" json:"recovered,omitempty"`
}

// ModelUsage holds aggregate counters for one model
type ModelUsage struct {
	Total             int       `json:"total"`
	Succeeded         int       `json:"succeeded"`
	Failed            int       `json:"failed"`
	AvgLatencySeconds float64   `json:"avg_latency_seconds"`
	TotalCostUSD      float64   `json:"total_cost_usd"`
	LastUsed          time.Time `json:"last_used,omitempty"`
}

// SuccessRate returns the share of succeeded runs as a percentage
func (u ModelUsage) SuccessRate() float64 {
	if u.Total == 0 {
		return 0
	}
	return float64(u.Succeeded) / float64(u.Total) * 100
}

// JobStatus is the local lifecycle state of a generation job
type JobStatus string

const (
	JobQueued      JobStatus = "queued"
	JobSubmitted   JobStatus = "submitted"
	JobRunning     JobStatus = "running"
	JobDownloading JobStatus = "downloading"
	JobSucceeded   JobStatus = "succeeded"
	JobFailed      JobStatus = "failed"
	JobCanceled    JobStatus = "canceled"
	JobTimedOut    JobStatus = "timed_out"
)

// Terminal reports whether no further transitions are possible
func (s JobStatus) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCanceled, JobTimedOut:
		return true
	}
	return false
}

// JobView is the serialisable snapshot of a job
type JobView struct {
	ID           string         `json:"id"`
	Model        string         `json:"model"`
	Kind         Kind           `json:"type"`
	Prompt       string         `json:"prompt"`
	Status       JobStatus      `json:"status"`
	RemoteStatus string         `json:"remote_status,omitempty"`
	PredictionID string         `json:"prediction_id,omitempty"`
	Error        string         `json:"error,omitempty"`
	Record       *HistoryRecord `json:"record,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
