package catalog

import (
	"strings"

	"github.com/mediaforge/studio/internal/models"
)

// Template is a canned prompt offered as a starting point
type Template struct {
	Name   string      `json:"name"`
	Kind   models.Kind `json:"type"`
	Prompt string      `json:"prompt"`
}

// subjectPlaceholder is replaced by the user's text when a template is applied
const subjectPlaceholder = "{subject}"

var builtinTemplates = []Template{
	{Name: "Product shot", Kind: models.KindImage, Prompt: "Studio product photograph of {subject}, soft box lighting, seamless white background, 85mm, high detail"},
	{Name: "Cinematic portrait", Kind: models.KindImage, Prompt: "Cinematic portrait of {subject}, golden hour rim light, shallow depth of field, film grain"},
	{Name: "Watercolor", Kind: models.KindImage, Prompt: "Loose watercolor illustration of {subject}, bleeding pigments, textured cold-press paper"},
	{Name: "Isometric", Kind: models.KindImage, Prompt: "Isometric 3D render of {subject}, pastel palette, clay material, tiny diorama"},
	{Name: "Drone flyover", Kind: models.KindVideo, Prompt: "Slow aerial drone shot flying over {subject}, early morning mist, smooth camera motion"},
	{Name: "Product turntable", Kind: models.KindVideo, Prompt: "{subject} rotating slowly on a turntable, studio lighting, seamless backdrop"},
	{Name: "Timelapse", Kind: models.KindVideo, Prompt: "Timelapse of {subject}, clouds racing overhead, light shifting from day to night"},
	{Name: "Cute sticker", Kind: models.KindSticker, Prompt: "a cute kawaii {subject}, thick white border, flat colors"},
	{Name: "Retro badge", Kind: models.KindSticker, Prompt: "retro 70s badge of {subject}, bold outline, limited palette"},
}

// Templates returns the built-in templates for kind, or all of them when kind is empty
func Templates(kind models.Kind) []Template {
	var out []Template
	for _, t := range builtinTemplates {
		if kind == "" || t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// LookupTemplate finds a template by case-insensitive name
func LookupTemplate(name string) (Template, bool) {
	for _, t := range builtinTemplates {
		if strings.EqualFold(t.Name, strings.TrimSpace(name)) {
			return t, true
		}
	}
	return Template{}, false
}

// ApplyTemplate fills the template with subject. Templates without a
// placeholder get the subject appended.
func ApplyTemplate(t Template, subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return strings.ReplaceAll(t.Prompt, subjectPlaceholder, "")
	}
	if strings.Contains(t.Prompt, subjectPlaceholder) {
		return strings.ReplaceAll(t.Prompt, subjectPlaceholder, subject)
	}
	return t.Prompt + ", " + subject
}
