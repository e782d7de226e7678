package benchmark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"sitegrader/internal/ai"
	"sitegrader/internal/logging"
	"sitegrader/internal/store"
	"sitegrader/internal/types"
)

// Ingester turns a benchmark-mode analysis run into a stored benchmark:
// scores from the grader, strengths distilled from the analyzers'
// positives.
type Ingester struct {
	store   store.DataStore
	caller  ai.Caller
	prompts *ai.Library
	costs   CostSink
	log     *zap.SugaredLogger
}

// NewIngester creates a benchmark ingester.
func NewIngester(st store.DataStore, caller ai.Caller, prompts *ai.Library, costs CostSink) *Ingester {
	return &Ingester{
		store:   st,
		caller:  caller,
		prompts: prompts,
		costs:   costs,
		log:     logging.Get(logging.CategoryBenchmark),
	}
}

// Ingest saves or refreshes the benchmark record for an analyzed site. The
// tier comes from the business context's target tier, defaulting to manual.
func (i *Ingester) Ingest(ctx context.Context, url string, result *types.AnalysisResult, positives string) error {
	tier := result.Business.TargetTier
	if tier == "" {
		tier = "manual"
	}

	strengths := i.extractStrengths(ctx, positives)
	if len(strengths) == 0 {
		strengths = result.Strengths
	}

	record := &store.Benchmark{
		CompanyName: result.Business.CompanyName,
		URL:         url,
		Industry:    result.Business.Industry,
		Tier:        tier,
		Scores:      &result.Scores,
		Strengths:   strengths,
	}

	existing, err := i.store.GetBenchmarkByURL(ctx, url)
	switch {
	case err == nil:
		record.ID = existing.ID
		if err := i.store.UpdateBenchmark(ctx, record); err != nil {
			return fmt.Errorf("failed to update benchmark: %w", err)
		}
		i.log.Infow("benchmark refreshed", "id", existing.ID, "company", record.CompanyName)
	case errors.Is(err, store.ErrNotFound):
		id, err := i.store.SaveBenchmark(ctx, record)
		if err != nil {
			return fmt.Errorf("failed to save benchmark: %w", err)
		}
		i.log.Infow("benchmark created", "id", id, "company", record.CompanyName)
	default:
		return fmt.Errorf("failed to look up benchmark: %w", err)
	}
	return nil
}

// extractStrengths distills the analyzers' positives into strength
// descriptors. Best effort: on any failure the ingest proceeds without
// model-written strengths.
func (i *Ingester) extractStrengths(ctx context.Context, positives string) []types.Strength {
	if positives == "" || i.caller == nil {
		return nil
	}

	prompt, err := i.prompts.Load("strength-extract", map[string]string{"positives": positives})
	if err != nil {
		return nil
	}

	resp, err := i.caller.Call(ctx, ai.Request{
		Model:        prompt.Model,
		Temperature:  prompt.Temperature,
		SystemPrompt: prompt.SystemPrompt,
		UserPrompt:   prompt.UserPrompt,
		JSONMode:     true,
		Caller:       "strength-extract",
	})
	if err != nil {
		i.log.Warnw("strength extraction failed", "error", err)
		return nil
	}
	if i.costs != nil {
		i.costs.Add(resp.Cost)
	}

	raw, err := ai.ParseJSONResponse(resp.Content)
	if err != nil {
		return nil
	}
	var payload struct {
		Strengths []types.Strength `json:"strengths"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}
	return payload.Strengths
}
