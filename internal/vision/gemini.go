// Package vision classifies donation frames with the Gemini vision API and
// normalizes the answers onto the pipeline's closed category set.
package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/projectlend/lend/internal/types"
)

const classifyPrompt = `Classify the main food/beverage item in this image.
Respond with a single JSON object, no markdown fences, with these fields:
  "category": exactly one of "fruit", "snack" or "drink"
  "item_name": short name of the specific item (e.g. "Water bottle")
  "estimated_weight_lbs": number or null
  "estimated_expiry": "YYYY-MM-DD" or null`

// GeminiClassifier sends JPEG frames to the Gemini API. Calls may be slow
// (network) and may fail; both are the caller's problem to schedule around.
type GeminiClassifier struct {
	client   *genai.Client
	model    string
	fallback types.Category
}

// NewGeminiClassifier creates a classifier client. No network call is made
// here; authentication errors surface on the first Classify.
func NewGeminiClassifier(ctx context.Context, apiKey, model string, fallback types.Category) (*GeminiClassifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is empty")
	}
	if !fallback.Valid() {
		fallback = types.CategorySnack
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiClassifier{
		client:   client,
		model:    model,
		fallback: fallback,
	}, nil
}

// Classify sends the JPEG bytes to Gemini and returns the parsed result.
//
// Transport and response-shape errors are returned to the caller. An answer
// that parses but names an unknown category is NOT an error: it resolves to
// the fallback category so the physical sort keeps moving.
func (c *GeminiClassifier) Classify(ctx context.Context, jpegBytes []byte) (types.ClassificationResult, error) {
	if len(jpegBytes) == 0 {
		return types.ClassificationResult{}, fmt.Errorf("empty image")
	}

	parts := []*genai.Part{
		{InlineData: &genai.Blob{MIMEType: "image/jpeg", Data: jpegBytes}},
		{Text: classifyPrompt},
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return types.ClassificationResult{}, fmt.Errorf("gemini classify: %w", err)
	}
	if resp == nil {
		return types.ClassificationResult{}, fmt.Errorf("gemini classify: empty response")
	}

	text := resp.Text()
	slog.Debug("classifier response",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"raw", text,
	)

	return ParseResult(text, c.fallback)
}

// rawResult is the wire shape of the classifier's JSON answer. Category is a
// free string here; normalization happens after parsing.
type rawResult struct {
	Category           string   `json:"category"`
	ItemName           string   `json:"item_name"`
	EstimatedWeightLbs *float64 `json:"estimated_weight_lbs"`
	EstimatedExpiry    *string  `json:"estimated_expiry"`
}

// ParseResult parses a classifier answer. Tolerates markdown code fences and
// falls back to treating the whole answer as a bare category word when it is
// not JSON (the model occasionally answers "drink" despite the prompt).
func ParseResult(text string, fallback types.Category) (types.ClassificationResult, error) {
	trimmed := stripFences(text)
	if trimmed == "" {
		return types.ClassificationResult{}, fmt.Errorf("empty classifier answer")
	}

	var raw rawResult
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		// Not JSON: maybe a bare category word.
		if cat, ok := Normalize(trimmed); ok {
			return types.ClassificationResult{Category: cat, ItemName: "unknown"}, nil
		}
		return types.ClassificationResult{}, fmt.Errorf("unparseable classifier answer %q: %w", trimmed, err)
	}

	result := types.ClassificationResult{
		Category:           NormalizeOrFallback(raw.Category, fallback),
		ItemName:           strings.TrimSpace(raw.ItemName),
		EstimatedWeightLbs: raw.EstimatedWeightLbs,
		EstimatedExpiry:    raw.EstimatedExpiry,
	}
	if result.ItemName == "" {
		result.ItemName = "unknown"
	}
	if _, ok := Normalize(raw.Category); !ok {
		slog.Warn("unexpected classifier category, using fallback",
			"raw_category", raw.Category,
			"fallback", result.Category,
		)
	}
	return result, nil
}

// stripFences removes optional ```json ... ``` markdown fencing.
func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if i := strings.LastIndex(trimmed, "```"); i >= 0 {
			trimmed = trimmed[:i]
		}
	}
	return strings.TrimSpace(trimmed)
}
