package media

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/mediaforge/studio/internal/models"
)

// MaxNameLen is the longest prompt fragment kept in a filename
const MaxNameLen = 50

// SanitizeFilename reduces s to ASCII letters, digits, '-' and '_'. Runs of
// whitespace become a single '_'; anything else is dropped.
func SanitizeFilename(s string) string {
	var b strings.Builder
	pendingSpace := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = true
			continue
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			continue
		}
		if pendingSpace && b.Len() > 0 {
			b.WriteByte('_')
		}
		pendingSpace = false
		b.WriteRune(r)
	}

	out := b.String()
	if len(out) > MaxNameLen {
		out = out[:MaxNameLen]
	}
	out = strings.Trim(out, "_-")
	if out == "" {
		return "untitled"
	}
	return out
}

// TagLen is the number of prediction ID characters kept in a filename
const TagLen = 8

// OutputFilename builds "<kind>_<YYYYMMDD_HHMMSS>[-<tag>]_<prompt>[_<n>].<ext>".
// tag is usually the prediction ID and keeps runs that share a second and a
// prompt apart; it is reduced to lower-case letters and digits. index is the
// output position; the first output carries no suffix.
func OutputFilename(kind models.Kind, prompt string, t time.Time, tag, ext string, index int) string {
	stamp := t.Format("20060102_150405")
	if tag = shortTag(tag); tag != "" {
		stamp += "-" + tag
	}
	name := fmt.Sprintf("%s_%s_%s", kind, stamp, SanitizeFilename(prompt))
	if index > 0 {
		name = fmt.Sprintf("%s_%d", name, index+1)
	}
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return name
	}
	return name + "." + ext
}

func shortTag(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if b.Len() == TagLen {
			break
		}
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ExtFromURL returns the lower-cased extension of the URL path without the
// dot, or fallback when there is none.
func ExtFromURL(rawURL, fallback string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fallback
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
	if ext == "" || len(ext) > 5 {
		return fallback
	}
	return ext
}

// KindFromExt guesses the media kind of a file extension
func KindFromExt(ext string) (models.Kind, bool) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "mp4", "mov", "webm":
		return models.KindVideo, true
	case "png", "jpg", "jpeg", "webp", "gif":
		return models.KindImage, true
	}
	return "", false
}
