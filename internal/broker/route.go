package broker

import (
	"fmt"
	"strings"
)

// Catalog ids the legacy style-based requests resolve to.
const (
	LegacyVideoModel    = "wan/2-2-a14b-image-to-video-turbo"
	LegacyGenerateModel = "google/nano-banana"
	LegacyEditModel     = "google/nano-banana-edit"
)

// Route says which model a submission targets. It is either Dynamic or
// Legacy.
type Route interface {
	resolve() (modelID string, params map[string]any, err error)
}

// Dynamic names a catalog model and passes parameters through.
type Dynamic struct {
	ModelID    string
	Parameters map[string]any
}

// Legacy is the older style-based request shape. It maps onto fixed catalog
// models with parameters derived from the fields.
type Legacy struct {
	Style        string
	ImageURL     string
	ImageURLs    []string
	CustomPrompt string
	Mode         string // "generate" or "edit"
}

func (d Dynamic) resolve() (string, map[string]any, error) {
	if strings.TrimSpace(d.ModelID) == "" {
		return "", nil, fmt.Errorf("modelId is required")
	}
	params := make(map[string]any, len(d.Parameters))
	for k, v := range d.Parameters {
		params[k] = v
	}
	return d.ModelID, params, nil
}

var stylePrompts = map[string]string{
	"neutral":    "high quality professional photography, preserve all facial features and details, maintain original composition and style, realistic rendering, natural lighting",
	"pixar":      "turn this character into Pixar 3D animation style, preserve facial features and identity, smooth CGI rendering, expressive eyes, vibrant colors",
	"manga":      "transform this character into Japanese manga style, preserve facial features and expression, black and white ink art, dynamic screentone shading, bold linework",
	"anime":      "convert this character into anime style, keep facial structure and identity, vibrant cel-shaded colors, detailed anime shading, sharp linework",
	"cartoon":    "turn this character into modern cartoon style, preserve character likeness, bold clean outlines, flat vibrant colors, playful expression",
	"watercolor": "transform this portrait into watercolor painting, maintain facial features and expression, soft watercolor brushstrokes, flowing colors, artistic paper texture",
	"comic":      "transform this character into American comic book style, preserve character identity, bold ink outlines, vibrant comic colors, dramatic cel shading",
	"fantasy":    "convert this character into fantasy art style, maintain facial features, magical ethereal atmosphere, dramatic lighting, rich detailed rendering",
	"cyberpunk":  "turn this character into cyberpunk style, keep character likeness, neon lighting effects, futuristic tech elements, high-tech urban background",
	"retro":      "transform this character into retro 80s style, preserve facial features, vibrant neon colors, synthwave aesthetic, bold graphic design",
}

func (l Legacy) prompt() string {
	if p := strings.TrimSpace(l.CustomPrompt); p != "" {
		return p
	}
	if p, ok := stylePrompts[strings.ToLower(l.Style)]; ok {
		return p
	}
	return fmt.Sprintf("Transform in %s style", l.Style)
}

func (l Legacy) resolve() (string, map[string]any, error) {
	if strings.TrimSpace(l.Style) == "" && l.Mode != "generate" {
		return "", nil, fmt.Errorf("modelId or style is required")
	}

	if l.Style == "video" {
		params := map[string]any{
			"prompt":       "smooth cinematic motion",
			"duration":     "5",
			"aspect_ratio": "16:9",
			"resolution":   "720p",
		}
		if p := strings.TrimSpace(l.CustomPrompt); p != "" {
			params["prompt"] = p
		}
		if url := l.firstImage(); url != "" {
			params["image_url"] = url
		}
		return LegacyVideoModel, params, nil
	}

	if l.Mode == "generate" {
		return LegacyGenerateModel, map[string]any{"prompt": l.prompt()}, nil
	}

	params := map[string]any{"prompt": l.prompt()}
	urls := l.images()
	if len(urls) > 0 {
		params["image_urls"] = urls
	}
	return LegacyEditModel, params, nil
}

func (l Legacy) images() []any {
	var out []any
	for _, u := range l.ImageURLs {
		if u != "" {
			out = append(out, u)
		}
	}
	if len(out) == 0 && l.ImageURL != "" {
		out = append(out, l.ImageURL)
	}
	return out
}

func (l Legacy) firstImage() string {
	if l.ImageURL != "" {
		return l.ImageURL
	}
	for _, u := range l.ImageURLs {
		if u != "" {
			return u
		}
	}
	return ""
}
