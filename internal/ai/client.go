// Package ai provides the model provider abstraction for the analysis
// pipeline. Every AI touchpoint (page selection, analyzers, vision
// validation, deduplication, ranking, benchmark matching) goes through the
// Caller interface so tests and degraded modes can substitute deterministic
// behavior.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Request describes one model call. Images are optional inline PNG bytes for
// vision calls. When JSONMode is set the provider asks the model for a JSON
// response and callers parse Content with ParseJSONResponse.
type Request struct {
	Model        string
	Temperature  float32
	SystemPrompt string
	UserPrompt   string
	Images       [][]byte
	JSONMode     bool
	Caller       string // calling component, for logging and cost attribution
}

// Response is the provider's answer.
type Response struct {
	Content     string
	Cost        float64
	Model       string
	TotalTokens int
}

// Caller is the opaque model capability. Implementations must honor context
// cancellation on every outbound request.
type Caller interface {
	Call(ctx context.Context, req Request) (*Response, error)
}

// ParseJSONResponse extracts the JSON object from a model response. It
// tolerates markdown code fences and leading prose by taking the last
// balanced JSON object in the content.
func ParseJSONResponse(content string) (json.RawMessage, error) {
	jsonStr := extractLastJSON(content)
	if jsonStr == "" {
		return nil, fmt.Errorf("no JSON object found in model response")
	}
	return json.RawMessage(jsonStr), nil
}

// extractLastJSON finds the last valid JSON object in a string, stripping
// markdown code fences first.
func extractLastJSON(s string) string {
	cleaned := stripMarkdownCodeFences(s)

	end := strings.LastIndex(cleaned, "}")
	if end == -1 {
		return ""
	}

	balance := 0
	for i := end; i >= 0; i-- {
		switch cleaned[i] {
		case '}':
			balance++
		case '{':
			balance--
		}
		if balance == 0 && cleaned[i] == '{' {
			candidate := cleaned[i : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate
			}
			return ""
		}
	}
	return ""
}

// stripMarkdownCodeFences removes ```json / ``` wrapping when present.
func stripMarkdownCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "```") {
		firstNewline := strings.Index(trimmed, "\n")
		if firstNewline != -1 {
			lastFence := strings.LastIndex(trimmed, "```")
			if lastFence > firstNewline {
				return strings.TrimSpace(trimmed[firstNewline+1 : lastFence])
			}
		}
	}
	return s
}
