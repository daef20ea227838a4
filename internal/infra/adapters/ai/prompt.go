package ai

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"product-image-pipeline/internal/domain/model"
	"product-image-pipeline/internal/domain/ports/adapter"
)

const systemPrompt = `You review e-commerce product photos before they are cut into catalogue variants.
Answer with a single JSON object and nothing else, using this shape:
{"detectedObjects":[{"label":"","confidence":0.0,"box":{"x":0,"y":0,"width":0,"height":0}}],
 "suggestedCrop":{"x":0,"y":0,"width":0,"height":0},
 "qualityScore":0.0,
 "dominantColors":["#rrggbb"],
 "tags":[""],
 "description":"",
 "issues":[""]}
Coordinates are source pixels. suggestedCrop frames the product with a small margin and is null when the framing is already good.
qualityScore is between 0 and 1.`

// buildPrompt renders the per-image instruction from the job contexts.
func buildPrompt(req adapter.AnalysisRequest) string {
	var b strings.Builder
	b.WriteString("Analyse this product image.")
	if br := req.Brand; br != nil {
		if br.Name != "" {
			fmt.Fprintf(&b, " Brand: %s.", br.Name)
		}
		if br.Vertical != "" {
			fmt.Fprintf(&b, " Vertical: %s.", br.Vertical)
		}
		if br.Tone != "" {
			fmt.Fprintf(&b, " Visual tone: %s.", br.Tone)
		}
		if br.Background != "" {
			fmt.Fprintf(&b, " Preferred background: %s.", br.Background)
		}
	}
	if p := req.Product; p != nil {
		if p.ID != "" {
			fmt.Fprintf(&b, " Product id: %s.", p.ID)
		}
		if p.Category != "" {
			fmt.Fprintf(&b, " Category: %s.", p.Category)
		}
		if len(p.Attributes) > 0 {
			keys := make([]string, 0, len(p.Attributes))
			for k := range p.Attributes {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			b.WriteString(" Attributes:")
			for i, k := range keys {
				if i > 0 {
					b.WriteString(",")
				}
				fmt.Fprintf(&b, " %s=%s", k, p.Attributes[k])
			}
			b.WriteString(".")
		}
	}
	return b.String()
}

// parseAnalysis decodes a model reply, tolerating code fences and prose
// around the JSON object.
func parseAnalysis(provider, prompt, reply string) (*adapter.AnalysisResult, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%s: reply has no json object", provider)
	}

	var res adapter.AnalysisResult
	if err := json.Unmarshal([]byte(reply[start:end+1]), &res); err != nil {
		return nil, fmt.Errorf("%s: decode reply: %w", provider, err)
	}
	res.Provider = provider
	res.Prompt = prompt
	if res.SuggestedCrop != nil && !res.SuggestedCrop.Valid() {
		res.SuggestedCrop = nil
	}
	switch {
	case res.QualityScore < 0:
		res.QualityScore = 0
	case res.QualityScore > 1:
		// some models answer on a 0..100 scale
		res.QualityScore = min(res.QualityScore/100, 1)
	}
	objects := res.DetectedObjects[:0]
	for _, o := range res.DetectedObjects {
		if o.Label != "" && o.Box.Valid() {
			objects = append(objects, o)
		}
	}
	res.DetectedObjects = objects
	return &res, nil
}

func mimeOrDefault(req adapter.AnalysisRequest) string {
	if req.MimeType != "" && model.IsAllowedMimeType(req.MimeType) {
		return req.MimeType
	}
	return "image/jpeg"
}
