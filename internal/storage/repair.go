package storage

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mediaforge/studio/internal/media"
	"github.com/mediaforge/studio/internal/models"
)

// MigrateOptions configures a history repair pass
type MigrateOptions struct {
	// OutputDir is scanned to relink records whose local file moved or was never recorded
	OutputDir string
	// Limit is the history cap; zero means DefaultHistoryLimit
	Limit int
	// KindOf resolves a model key to its media kind
	KindOf func(model string) (models.Kind, bool)
	// AdoptOrphans creates records for output files that no record references
	AdoptOrphans bool
}

// MigrateReport counts what a repair pass changed
type MigrateReport struct {
	Input           int `json:"input"`
	Output          int `json:"output"`
	AssignedIDs     int `json:"assigned_ids"`
	FixedTimestamps int `json:"fixed_timestamps"`
	InferredKinds   int `json:"inferred_kinds"`
	Relinked        int `json:"relinked"`
	Adopted         int `json:"adopted"`
	Duplicates      int `json:"duplicates"`
	Truncated       int `json:"truncated"`
}

// Changed reports whether the pass modified anything
func (r MigrateReport) Changed() bool {
	return r.AssignedIDs+r.FixedTimestamps+r.InferredKinds+r.Relinked+r.Adopted+r.Duplicates+r.Truncated > 0
}

// outputNameRE matches names produced by media.OutputFilename
var outputNameRE = regexp.MustCompile(`^(image|video|sticker)_(\d{8}_\d{6})(?:-([a-z0-9]+))?_(.*?)(?:_(\d+))?\.([A-Za-z0-9]+)$`)

type outputFile struct {
	path   string
	kind   models.Kind
	stamp  string
	prompt string
}

// Migrate repairs a history in one idempotent pass: missing IDs are assigned,
// timestamps and kinds are filled in, local files are relinked from OutputDir,
// duplicates by (url, prompt) are dropped, and the result is sorted newest
// first and truncated to the cap. Running it on its own output changes nothing.
func Migrate(recs []models.HistoryRecord, opts MigrateOptions) ([]models.HistoryRecord, MigrateReport) {
	report := MigrateReport{Input: len(recs)}
	files := scanOutputs(opts.OutputDir)
	byName := make(map[string]outputFile, len(files))
	byStamp := make(map[string][]outputFile)
	for _, f := range files {
		byName[filepath.Base(f.path)] = f
		key := string(f.kind) + "_" + f.stamp
		byStamp[key] = append(byStamp[key], f)
	}

	out := make([]models.HistoryRecord, 0, len(recs))
	for _, rec := range recs {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
			report.AssignedIDs++
		}

		if rec.Timestamp.IsZero() {
			if ts, ok := stampFromPath(rec.LocalPath); ok {
				rec.Timestamp = ts
				report.FixedTimestamps++
			}
		} else if !rec.Timestamp.Equal(rec.Timestamp.UTC().Truncate(time.Second)) || rec.Timestamp.Location() != time.UTC {
			rec.Timestamp = models.NewTimestamp(rec.Timestamp.Time)
			report.FixedTimestamps++
		}

		if !rec.Kind.Valid() {
			if kind, ok := inferKind(rec, opts.KindOf); ok {
				rec.Kind = kind
				report.InferredKinds++
			}
		}

		if !fileExists(rec.LocalPath) {
			if f, ok := matchOutput(rec, byName, byStamp); ok && f.path != rec.LocalPath {
				rec.LocalPath = f.path
				rec.Recovered = true
				report.Relinked++
			}
		}

		out = append(out, rec)
	}

	if opts.AdoptOrphans {
		referenced := make(map[string]bool, len(out))
		for _, rec := range out {
			for _, p := range localPaths(rec) {
				referenced[filepath.Clean(p)] = true
			}
		}
		for _, f := range files {
			if referenced[filepath.Clean(f.path)] {
				continue
			}
			ts, _ := models.ParseTimestamp(f.stamp)
			out = append(out, models.HistoryRecord{
				ID:        uuid.NewString(),
				Kind:      f.kind,
				Timestamp: ts,
				Prompt:    f.prompt,
				LocalPath: f.path,
				Recovered: true,
			})
			report.Adopted++
		}
	}

	sortNewestFirst(out)
	out = dedupe(out, &report)

	limit := normalizeLimit(opts.Limit)
	if len(out) > limit {
		report.Truncated = len(out) - limit
		out = out[:limit]
	}
	report.Output = len(out)
	return out, report
}

// dedupe keeps the first (newest) record per (url, prompt). A dropped
// duplicate donates its local file to the kept record when that has none.
func dedupe(recs []models.HistoryRecord, report *MigrateReport) []models.HistoryRecord {
	seen := make(map[string]int, len(recs))
	out := recs[:0]
	for _, rec := range recs {
		key := dedupeKey(rec)
		if key == "" {
			out = append(out, rec)
			continue
		}
		if idx, ok := seen[key]; ok {
			if out[idx].LocalPath == "" && rec.LocalPath != "" {
				out[idx].LocalPath = rec.LocalPath
			}
			report.Duplicates++
			continue
		}
		seen[key] = len(out)
		out = append(out, rec)
	}
	return out
}

func dedupeKey(rec models.HistoryRecord) string {
	switch {
	case rec.ResultURL != "":
		return "url:" + rec.ResultURL + "\x00" + rec.Prompt
	case rec.LocalPath != "":
		return "file:" + filepath.Clean(rec.LocalPath)
	}
	return ""
}

// localPaths lists every local file of rec, including the extra outputs of a
// multi-output run kept under params["extra_outputs"].
func localPaths(rec models.HistoryRecord) []string {
	var paths []string
	if rec.LocalPath != "" {
		paths = append(paths, rec.LocalPath)
	}
	add := func(entry map[string]any) {
		if p, ok := entry["local_path"].(string); ok && p != "" {
			paths = append(paths, p)
		}
	}
	switch extra := rec.Params["extra_outputs"].(type) {
	case []map[string]any:
		for _, e := range extra {
			add(e)
		}
	case []any:
		for _, e := range extra {
			if m, ok := e.(map[string]any); ok {
				add(m)
			}
		}
	}
	return paths
}

func inferKind(rec models.HistoryRecord, kindOf func(string) (models.Kind, bool)) (models.Kind, bool) {
	if kindOf != nil && rec.Model != "" {
		if kind, ok := kindOf(rec.Model); ok {
			return kind, true
		}
	}
	for _, p := range []string{rec.LocalPath, rec.ResultURL} {
		if p == "" {
			continue
		}
		if m := outputNameRE.FindStringSubmatch(filepath.Base(p)); m != nil {
			return models.Kind(m[1]), true
		}
		if kind, ok := media.KindFromExt(media.ExtFromURL(p, filepath.Ext(p))); ok {
			return kind, true
		}
	}
	return "", false
}

func matchOutput(rec models.HistoryRecord, byName map[string]outputFile, byStamp map[string][]outputFile) (outputFile, bool) {
	for _, p := range []string{rec.LocalPath, rec.ResultURL} {
		if p == "" {
			continue
		}
		if f, ok := byName[filepath.Base(p)]; ok {
			return f, true
		}
	}
	if rec.Timestamp.IsZero() || !rec.Kind.Valid() {
		return outputFile{}, false
	}
	candidates := byStamp[string(rec.Kind)+"_"+rec.Timestamp.Format("20060102_150405")]
	if len(candidates) == 0 {
		return outputFile{}, false
	}
	sorted := append([]outputFile(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].path < sorted[j].path })
	return sorted[0], true
}

func scanOutputs(dir string) []outputFile {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var files []outputFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := outputNameRE.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		files = append(files, outputFile{
			path:   filepath.Join(dir, e.Name()),
			kind:   models.Kind(m[1]),
			stamp:  m[2],
			prompt: strings.ReplaceAll(m[4], "_", " "),
		})
	}
	return files
}

func stampFromPath(p string) (models.Timestamp, bool) {
	if p == "" {
		return models.Timestamp{}, false
	}
	m := outputNameRE.FindStringSubmatch(filepath.Base(p))
	if m == nil {
		return models.Timestamp{}, false
	}
	return models.ParseTimestamp(m[2])
}

func fileExists(p string) bool {
	if p == "" {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
