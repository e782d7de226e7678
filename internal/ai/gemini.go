package ai

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/genai"

	"sitegrader/internal/logging"
)

// GeminiConfig holds configuration for the Gemini provider.
type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// DefaultGeminiConfig returns sensible defaults.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:  apiKey,
		Model:   "gemini-2.5-flash",
		Timeout: 120 * time.Second,
	}
}

// GeminiCaller implements Caller on the Gemini API.
type GeminiCaller struct {
	client  *genai.Client
	model   string
	timeout time.Duration

	mu          sync.Mutex
	lastRequest time.Time
}

// NewGeminiCaller creates a Gemini-backed model caller.
func NewGeminiCaller(ctx context.Context, cfg GeminiConfig) (*GeminiCaller, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key not configured")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiCaller{
		client:  client,
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}, nil
}

// Per-million-token rates used for cost attribution. Close enough for the
// report's cost field; not a billing source of truth.
const tokensPerDollar = 1_000_000 / 0.30

// Call sends one request to Gemini. Retries rate-limit failures with
// exponential backoff; any other failure is returned to the caller, which
// applies its documented fallback.
func (c *GeminiCaller) Call(ctx context.Context, req Request) (*Response, error) {
	log := logging.Get(logging.CategoryAI)

	// Auto-apply timeout if the context has no deadline.
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	// Rate limiting: keep a minimum gap between requests.
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	model := req.Model
	if model == "" {
		model = c.model
	}

	parts := []*genai.Part{genai.NewPartFromText(req.UserPrompt)}
	for _, img := range req.Images {
		parts = append(parts, genai.NewPartFromBytes(img, "image/png"))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	genCfg := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Temperature > 0 {
		temp := req.Temperature
		genCfg.Temperature = &temp
	}
	if req.JSONMode {
		genCfg.ResponseMIMEType = "application/json"
	}

	start := time.Now()
	log.Debugw("model call", "caller", req.Caller, "model", model,
		"images", len(req.Images), "json_mode", req.JSONMode)

	maxRetries := 3
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(1<<uint(i-1)) * time.Second):
			}
		}

		resp, err := c.client.Models.GenerateContent(ctx, model, contents, genCfg)
		if err != nil {
			lastErr = fmt.Errorf("generate content: %w", err)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		text := resp.Text()
		if text == "" {
			lastErr = fmt.Errorf("no completion returned")
			continue
		}

		out := &Response{Content: text, Model: model}
		if resp.UsageMetadata != nil {
			out.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
			out.Cost = float64(out.TotalTokens) / tokensPerDollar
		}

		log.Debugw("model call completed", "caller", req.Caller,
			"duration", time.Since(start), "tokens", out.TotalTokens)
		return out, nil
	}

	log.Warnw("model call failed", "caller", req.Caller, "error", lastErr)
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
