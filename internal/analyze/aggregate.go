package analyze

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"sitegrader/internal/ai"
	"sitegrader/internal/logging"
	"sitegrader/internal/types"
)

// Weights are the per-category contributions to the overall score. They are
// normalized before use so a model response that does not sum to exactly 1
// still grades sensibly.
type Weights struct {
	Design        float64 `json:"design"`
	SEO           float64 `json:"seo"`
	Performance   float64 `json:"performance"`
	Content       float64 `json:"content"`
	Accessibility float64 `json:"accessibility"`
	Social        float64 `json:"social"`
	Reasoning     string  `json:"reasoning,omitempty"`
}

// DefaultWeights is the fixed weighting used when AI grading is off or the
// weighting call fails.
func DefaultWeights() Weights {
	return Weights{
		Design:        0.25,
		SEO:           0.25,
		Performance:   0.20,
		Content:       0.15,
		Accessibility: 0.10,
		Social:        0.05,
	}
}

func (w Weights) sum() float64 {
	return w.Design + w.SEO + w.Performance + w.Content + w.Accessibility + w.Social
}

func (w Weights) normalized() Weights {
	s := w.sum()
	if s <= 0 {
		return DefaultWeights()
	}
	w.Design /= s
	w.SEO /= s
	w.Performance /= s
	w.Content /= s
	w.Accessibility /= s
	w.Social /= s
	return w
}

// Aggregator folds the six analyzer results into category scores, an
// overall score, and a letter grade.
type Aggregator struct {
	caller  ai.Caller
	prompts *ai.Library
	costs   *CostMeter
	useAI   bool
	log     *zap.SugaredLogger
}

// NewAggregator creates an aggregator. With useAI set, the category weights
// come from a model call; otherwise the fixed defaults apply.
func NewAggregator(caller ai.Caller, prompts *ai.Library, costs *CostMeter, useAI bool) *Aggregator {
	if costs == nil {
		costs = &CostMeter{}
	}
	return &Aggregator{
		caller:  caller,
		prompts: prompts,
		costs:   costs,
		useAI:   useAI && caller != nil,
		log:     logging.Get(logging.CategoryPipeline),
	}
}

// Scores projects the six analyzer results onto the report categories.
// Design is the mean of the two visual analyzers; performance is the mean of
// the technical (seo, content) analyzers.
func (a *Aggregator) Scores(results map[string]*types.AnalyzerResult) types.CategoryScores {
	get := func(category string) float64 {
		if r, ok := results[category]; ok {
			return types.ClampScore(r.Score)
		}
		return types.NeutralScore
	}

	seo := get(types.CategorySEO)
	content := get(types.CategoryContent)
	desktop := get(types.CategoryDesktopVisual)
	mobile := get(types.CategoryMobileVisual)

	return types.CategoryScores{
		Design:        (desktop + mobile) / 2,
		SEO:           seo,
		Performance:   (seo + content) / 2,
		Content:       content,
		Accessibility: get(types.CategoryAccessibility),
		Social:        get(types.CategorySocial),
	}
}

// ResolveWeights returns the weights to grade with. AI weighting failures
// fall back to the fixed defaults; grading itself never fails.
func (a *Aggregator) ResolveWeights(ctx context.Context, business types.BusinessContext, scores types.CategoryScores) Weights {
	if !a.useAI {
		return DefaultWeights()
	}

	scoresJSON, _ := json.Marshal(scores)
	prompt, err := a.prompts.Load("grading-weights", map[string]string{
		"business": describeBusiness(business),
		"scores":   string(scoresJSON),
	})
	if err != nil {
		return DefaultWeights()
	}

	resp, err := a.caller.Call(ctx, ai.Request{
		Model:        prompt.Model,
		Temperature:  prompt.Temperature,
		SystemPrompt: prompt.SystemPrompt,
		UserPrompt:   prompt.UserPrompt,
		JSONMode:     true,
		Caller:       "grading-weights",
	})
	if err != nil {
		a.log.Warnw("AI grading weights failed, using defaults", "error", err)
		return DefaultWeights()
	}
	a.costs.Add(resp.Cost)

	raw, err := ai.ParseJSONResponse(resp.Content)
	if err != nil {
		a.log.Warnw("AI grading weights unparseable, using defaults", "error", err)
		return DefaultWeights()
	}

	var w Weights
	if err := json.Unmarshal(raw, &w); err != nil || w.sum() <= 0 {
		a.log.Warnw("AI grading weights malformed, using defaults", "error", err)
		return DefaultWeights()
	}
	return w.normalized()
}

// Overall computes the weighted overall score, clamped to [0,100].
func Overall(scores types.CategoryScores, weights Weights) float64 {
	w := weights.normalized()
	total := scores.Design*w.Design +
		scores.SEO*w.SEO +
		scores.Performance*w.Performance +
		scores.Content*w.Content +
		scores.Accessibility*w.Accessibility +
		scores.Social*w.Social
	return types.ClampScore(total)
}

// Grade computes the overall score and its letter grade band.
func Grade(scores types.CategoryScores, weights Weights) (float64, string) {
	overall := Overall(scores, weights)
	return overall, types.GradeFor(overall)
}

// CollectIssues flattens per-analyzer issues into one list in canonical
// category order, ready for deduplication.
func CollectIssues(results map[string]*types.AnalyzerResult) []*types.Issue {
	var out []*types.Issue
	for _, category := range types.CanonicalCategories {
		if r, ok := results[category]; ok {
			out = append(out, r.Issues...)
		}
	}
	return out
}

// CollectPositives gathers each category's positives for strength
// extraction, in canonical order.
func CollectPositives(results map[string]*types.AnalyzerResult) string {
	var b []byte
	for _, category := range types.CanonicalCategories {
		r, ok := results[category]
		if !ok || len(r.Positives) == 0 {
			continue
		}
		b = append(b, []byte(fmt.Sprintf("%s:\n", category))...)
		for _, p := range r.Positives {
			b = append(b, []byte("- "+p+"\n")...)
		}
	}
	return string(b)
}

// EnrichWithBenchmark attaches the matched benchmark's comparison data.
// A nil benchmark leaves the result as is.
func EnrichWithBenchmark(result *types.AnalysisResult, bench *types.BenchmarkComparison) {
	if bench == nil {
		return
	}
	result.Benchmark = bench
}
