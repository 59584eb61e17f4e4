package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

// ErrNotRecord is returned when a history element is not a JSON object
var ErrNotRecord = errors.New("history element is not an object")

// DecodeRecord decodes one history element. Well-formed elements go through
// encoding/json; elements with mistyped fields fall back to a field-by-field
// read where anything unreadable keeps its zero value.
func DecodeRecord(raw json.RawMessage) (HistoryRecord, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return HistoryRecord{}, ErrNotRecord
	}

	var rec HistoryRecord
	if err := json.Unmarshal(raw, &rec); err == nil {
		fillAliases(raw, &rec)
		return rec, nil
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return HistoryRecord{}, ErrNotRecord
	}

	rec = HistoryRecord{
		ID:           stringField(fields, "id"),
		Kind:         Kind(stringField(fields, "type", "kind")),
		Prompt:       stringField(fields, "prompt"),
		Template:     stringField(fields, "template"),
		Model:        stringField(fields, "model"),
		ResultURL:    stringField(fields, "url", "result_url"),
		LocalPath:    stringField(fields, "local_path", "file_path"),
		PredictionID: stringField(fields, "prediction_id"),
	}
	if ts, ok := ParseTimestamp(stringField(fields, "timestamp")); ok {
		rec.Timestamp = ts
	}
	for _, key := range []string{"params", "parameters"} {
		if m, ok := fields[key].(map[string]any); ok {
			rec.Params = m
			break
		}
	}
	rec.Duration = floatField(fields, "duration")
	rec.ProcessingTime = floatField(fields, "processing_time")
	rec.CostUSD = floatField(fields, "cost_usd")
	if w := floatField(fields, "width"); w != nil {
		rec.Width = int(*w)
	}
	if h := floatField(fields, "height"); h != nil {
		rec.Height = int(*h)
	}
	if b, ok := fields["recovered"].(bool); ok {
		rec.Recovered = b
	}
	return rec, nil
}

// fillAliases copies values stored under older key names
func fillAliases(raw json.RawMessage, rec *HistoryRecord) {
	if rec.Kind != "" && rec.ResultURL != "" && rec.LocalPath != "" && rec.Params != nil {
		return
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return
	}
	if rec.Kind == "" {
		rec.Kind = Kind(stringField(fields, "kind"))
	}
	if rec.ResultURL == "" {
		rec.ResultURL = stringField(fields, "result_url")
	}
	if rec.LocalPath == "" {
		rec.LocalPath = stringField(fields, "file_path")
	}
	if m, ok := fields["parameters"].(map[string]any); ok && rec.Params == nil {
		rec.Params = m
	}
}

func stringField(fields map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := fields[key].(type) {
		case string:
			return v
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func floatField(fields map[string]any, key string) *float64 {
	switch v := fields[key].(type) {
	case float64:
		return &v
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return &f
		}
	}
	return nil
}
