// Package benchmark matches analyzed businesses to comparable reference
// sites and ingests benchmark runs into the store.
package benchmark

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"sitegrader/internal/ai"
	"sitegrader/internal/logging"
	"sitegrader/internal/store"
	"sitegrader/internal/types"
)

// DefaultTiers are the benchmark tiers considered for matching.
var DefaultTiers = []string{"national", "regional", "local", "manual"}

// DefaultMaxCandidates bounds how many benchmarks are offered to the model.
const DefaultMaxCandidates = 10

// CostSink receives model spend from matching calls.
type CostSink interface {
	Add(cost float64)
}

// matchPayload is the JSON shape of the matcher response.
type matchPayload struct {
	BenchmarkCompanyName string   `json:"benchmark_company_name"`
	MatchScore           float64  `json:"match_score"`
	ComparisonTier       string   `json:"comparison_tier"`
	MatchReasoning       string   `json:"match_reasoning"`
	KeySimilarities      []string `json:"key_similarities"`
	KeyDifferences       []string `json:"key_differences"`
}

// Matcher selects the most comparable benchmark for a business. Matching
// never fails its caller: every error path returns nil.
type Matcher struct {
	store         store.DataStore
	caller        ai.Caller
	prompts       *ai.Library
	tiers         []string
	maxCandidates int
	costs         CostSink
	log           *zap.SugaredLogger
}

// NewMatcher creates a benchmark matcher.
func NewMatcher(st store.DataStore, caller ai.Caller, prompts *ai.Library, tiers []string, maxCandidates int, costs CostSink) *Matcher {
	if len(tiers) == 0 {
		tiers = DefaultTiers
	}
	if maxCandidates <= 0 {
		maxCandidates = DefaultMaxCandidates
	}
	return &Matcher{
		store:         st,
		caller:        caller,
		prompts:       prompts,
		tiers:         tiers,
		maxCandidates: maxCandidates,
		costs:         costs,
		log:           logging.Get(logging.CategoryBenchmark),
	}
}

// Match returns the comparison against the best-fitting benchmark, or nil
// when no benchmark can be determined.
func (m *Matcher) Match(ctx context.Context, business types.BusinessContext) *types.BenchmarkComparison {
	candidates := m.loadCandidates(ctx, business)
	if len(candidates) == 0 {
		m.log.Infow("no benchmark candidates available", "industry", business.Industry)
		return nil
	}

	payload, err := m.requestMatch(ctx, business, candidates)
	if err != nil {
		m.log.Warnw("benchmark matching failed", "error", err)
		return m.fallback(candidates, "matcher unavailable")
	}

	chosen := resolveCandidate(candidates, payload.BenchmarkCompanyName)
	if chosen == nil {
		m.log.Warnw("matcher named an unknown benchmark, using fallback",
			"name", payload.BenchmarkCompanyName)
		return m.fallback(candidates, "matched name did not resolve")
	}

	return &types.BenchmarkComparison{
		CompanyName:     chosen.CompanyName,
		Tier:            chosen.Tier,
		MatchScore:      payload.MatchScore,
		MatchReasoning:  payload.MatchReasoning,
		KeySimilarities: payload.KeySimilarities,
		KeyDifferences:  payload.KeyDifferences,
		Scores:          chosen.Scores,
		Strengths:       chosen.Strengths,
	}
}

// loadCandidates prefers same-industry benchmarks and falls back to the
// general pool.
func (m *Matcher) loadCandidates(ctx context.Context, business types.BusinessContext) []*store.Benchmark {
	if business.Industry != "" {
		candidates, err := m.store.GetBenchmarksByIndustry(ctx, business.Industry, m.tiers, m.maxCandidates)
		if err != nil {
			m.log.Warnw("failed to load industry benchmarks", "error", err)
		} else if len(candidates) > 0 {
			return candidates
		}
	}

	candidates, err := m.store.GetBenchmarks(ctx, m.tiers, m.maxCandidates)
	if err != nil {
		m.log.Warnw("failed to load benchmarks", "error", err)
		return nil
	}
	return candidates
}

func (m *Matcher) requestMatch(ctx context.Context, business types.BusinessContext, candidates []*store.Benchmark) (*matchPayload, error) {
	var b strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&b, "- %s (tier: %s, industry: %s", c.CompanyName, c.Tier, c.Industry)
		if c.Scores != nil {
			fmt.Fprintf(&b, ", overall: %.0f", meanScore(c.Scores))
		}
		b.WriteString(")\n")
	}

	prompt, err := m.prompts.Load("benchmark-match", map[string]string{
		"business":   describeBusiness(business),
		"candidates": b.String(),
	})
	if err != nil {
		return nil, err
	}

	resp, err := m.caller.Call(ctx, ai.Request{
		Model:        prompt.Model,
		Temperature:  prompt.Temperature,
		SystemPrompt: prompt.SystemPrompt,
		UserPrompt:   prompt.UserPrompt,
		JSONMode:     true,
		Caller:       "benchmark-match",
	})
	if err != nil {
		return nil, err
	}
	if m.costs != nil {
		m.costs.Add(resp.Cost)
	}

	raw, err := ai.ParseJSONResponse(resp.Content)
	if err != nil {
		return nil, err
	}
	var payload matchPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse match response: %w", err)
	}
	if payload.BenchmarkCompanyName == "" {
		return nil, fmt.Errorf("match response named no benchmark")
	}
	return &payload, nil
}

// resolveCandidate maps the model's company name back to a candidate:
// exact, then case-insensitive, then bidirectional substring.
func resolveCandidate(candidates []*store.Benchmark, name string) *store.Benchmark {
	for _, c := range candidates {
		if c.CompanyName == name {
			return c
		}
	}
	lower := strings.ToLower(name)
	for _, c := range candidates {
		if strings.ToLower(c.CompanyName) == lower {
			return c
		}
	}
	for _, c := range candidates {
		cl := strings.ToLower(c.CompanyName)
		if strings.Contains(cl, lower) || strings.Contains(lower, cl) {
			return c
		}
	}
	return nil
}

// fallback picks the highest-scoring candidate with zero match confidence.
func (m *Matcher) fallback(candidates []*store.Benchmark, reason string) *types.BenchmarkComparison {
	var best *store.Benchmark
	bestScore := -1.0
	for _, c := range candidates {
		score := 0.0
		if c.Scores != nil {
			score = meanScore(c.Scores)
		}
		if score > bestScore {
			best = c
			bestScore = score
		}
	}
	if best == nil {
		return nil
	}
	return &types.BenchmarkComparison{
		CompanyName:    best.CompanyName,
		Tier:           best.Tier,
		MatchScore:     0,
		MatchReasoning: reason,
		Scores:         best.Scores,
		Strengths:      best.Strengths,
		FallbackUsed:   true,
	}
}

func meanScore(s *types.CategoryScores) float64 {
	return (s.Design + s.SEO + s.Performance + s.Content + s.Accessibility + s.Social) / 6
}

func describeBusiness(b types.BusinessContext) string {
	parts := []string{}
	if b.CompanyName != "" {
		parts = append(parts, b.CompanyName)
	}
	if b.Industry != "" {
		parts = append(parts, "industry: "+b.Industry)
	}
	if b.Location != "" {
		parts = append(parts, "location: "+b.Location)
	}
	if b.TargetTier != "" {
		parts = append(parts, "target tier: "+b.TargetTier)
	}
	if b.Description != "" {
		parts = append(parts, b.Description)
	}
	if len(parts) == 0 {
		return "unknown business"
	}
	return strings.Join(parts, "; ")
}
