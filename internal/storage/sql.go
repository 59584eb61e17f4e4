package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mediaforge/studio/internal/models"
)

const historyColumns = `id, kind, created_at, prompt, template, model, result_url, local_path,
	params, duration, processing_time, cost_usd, width, height, prediction_id, recovered`

// dialect captures the SQL differences between the sqlite and postgres backends
type dialect struct {
	// ph returns the placeholder for the n-th argument
	ph func(n int) string
	// contains is a format with one %s for a case-insensitive prompt substring test
	contains string
}

var (
	sqliteDialect = dialect{
		ph:       func(int) string { return "?" },
		contains: "instr(lower(prompt), lower(%s)) > 0",
	}
	postgresDialect = dialect{
		ph:       func(n int) string { return fmt.Sprintf("$%d", n) },
		contains: "strpos(lower(prompt), lower(%s)) > 0",
	}
)

// whereClause renders filter as SQL
func (d dialect) whereClause(filter HistoryFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, d.ph(len(args))))
	}

	if filter.Kind != "" {
		add("kind = %s", string(filter.Kind))
	}
	if filter.Model != "" {
		add("lower(model) = lower(%s)", filter.Model)
	}
	if filter.Query != "" {
		add(d.contains, filter.Query)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func encodeParams(p map[string]any) (string, error) {
	if p == nil {
		return "{}", nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode params: %w", err)
	}
	return string(data), nil
}

func decodeParams(data []byte) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var p map[string]any
	if err := json.Unmarshal(data, &p); err != nil || len(p) == 0 {
		return nil
	}
	return p
}

// insertArgs lists rec's values in historyColumns order; created_at is supplied by the caller
func insertArgs(rec *models.HistoryRecord, createdAt any) ([]any, error) {
	params, err := encodeParams(rec.Params)
	if err != nil {
		return nil, err
	}
	return []any{
		rec.ID, string(rec.Kind), createdAt, rec.Prompt, rec.Template, rec.Model, rec.ResultURL, rec.LocalPath,
		params, rec.Duration, rec.ProcessingTime, rec.CostUSD, rec.Width, rec.Height, rec.PredictionID, rec.Recovered,
	}, nil
}

func (d dialect) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = d.ph(i + 1)
	}
	return strings.Join(parts, ", ")
}
