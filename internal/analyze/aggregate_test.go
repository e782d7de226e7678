package analyze

import (
	"context"
	"errors"
	"math"
	"testing"

	"sitegrader/internal/ai"
	"sitegrader/internal/config"
	"sitegrader/internal/types"
)

func resultsWithScores(scores map[string]float64) map[string]*types.AnalyzerResult {
	out := make(map[string]*types.AnalyzerResult)
	for category, score := range scores {
		out[category] = &types.AnalyzerResult{Score: score, Issues: []*types.Issue{}}
	}
	return out
}

func TestScoresProjection(t *testing.T) {
	agg := NewAggregator(nil, nil, nil, false)
	scores := agg.Scores(resultsWithScores(map[string]float64{
		types.CategorySEO:           80,
		types.CategoryContent:       60,
		types.CategoryDesktopVisual: 90,
		types.CategoryMobileVisual:  70,
		types.CategorySocial:        50,
		types.CategoryAccessibility: 40,
	}))

	if scores.Design != 80 {
		t.Errorf("design = %v, want mean of visual scores", scores.Design)
	}
	if scores.Performance != 70 {
		t.Errorf("performance = %v, want mean of technical scores", scores.Performance)
	}
	if scores.SEO != 80 || scores.Content != 60 || scores.Social != 50 || scores.Accessibility != 40 {
		t.Errorf("direct categories wrong: %+v", scores)
	}
}

func TestScoresMissingCategoryIsNeutral(t *testing.T) {
	agg := NewAggregator(nil, nil, nil, false)
	scores := agg.Scores(map[string]*types.AnalyzerResult{})
	if scores.SEO != types.NeutralScore || scores.Design != types.NeutralScore {
		t.Errorf("missing categories not neutral: %+v", scores)
	}
}

// Disabling every analyzer still yields a complete graded report: every
// category neutral, overall 50, grade F.
func TestAllNeutralGradesF(t *testing.T) {
	agg := NewAggregator(nil, nil, nil, false)
	plan := testRegistry(nil).Resolve(config.AnalyzersConfig{})
	results := NewRuntime().Run(context.Background(), plan, &Input{}, nil, nil)

	scores := agg.Scores(results)
	overall, grade := Grade(scores, DefaultWeights())
	if overall != types.NeutralScore {
		t.Errorf("overall = %v, want 50", overall)
	}
	if grade != types.GradeF {
		t.Errorf("grade = %s, want F", grade)
	}
}

func TestGradeBands(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{95, "A"}, {90, "A"}, {89.9, "B"}, {80, "B"},
		{79, "C"}, {70, "C"}, {69, "D"}, {60, "D"}, {59, "F"}, {0, "F"},
	}
	for _, tt := range tests {
		uniform := types.CategoryScores{
			Design: tt.score, SEO: tt.score, Performance: tt.score,
			Content: tt.score, Accessibility: tt.score, Social: tt.score,
		}
		if _, grade := Grade(uniform, DefaultWeights()); grade != tt.want {
			t.Errorf("grade(%v) = %s, want %s", tt.score, grade, tt.want)
		}
	}
}

func TestWeightsNormalization(t *testing.T) {
	w := Weights{Design: 2, SEO: 2}.normalized()
	if math.Abs(w.Design-0.5) > 1e-9 || math.Abs(w.SEO-0.5) > 1e-9 {
		t.Errorf("normalized = %+v", w)
	}

	zero := Weights{}.normalized()
	if zero != DefaultWeights() {
		t.Errorf("zero weights did not fall back to defaults: %+v", zero)
	}
}

func TestDefaultWeightsSumToOne(t *testing.T) {
	if s := DefaultWeights().sum(); math.Abs(s-1) > 1e-9 {
		t.Errorf("default weights sum = %v", s)
	}
}

func TestResolveWeightsAIFailureFallsBack(t *testing.T) {
	caller := &mockCaller{callFunc: func(ctx context.Context, req ai.Request) (*ai.Response, error) {
		return nil, errors.New("model unavailable")
	}}
	agg := NewAggregator(caller, ai.NewLibrary("m"), nil, true)

	w := agg.ResolveWeights(context.Background(), types.BusinessContext{}, types.CategoryScores{})
	if w != DefaultWeights() {
		t.Errorf("weights = %+v, want defaults", w)
	}
}

func TestResolveWeightsAISuccess(t *testing.T) {
	caller := &mockCaller{callFunc: func(ctx context.Context, req ai.Request) (*ai.Response, error) {
		return &ai.Response{Content: `{"design":0.4,"seo":0.3,"performance":0.1,"content":0.1,"accessibility":0.05,"social":0.05}`}, nil
	}}
	agg := NewAggregator(caller, ai.NewLibrary("m"), nil, true)

	w := agg.ResolveWeights(context.Background(), types.BusinessContext{}, types.CategoryScores{})
	if math.Abs(w.Design-0.4) > 1e-9 {
		t.Errorf("weights = %+v", w)
	}
}

func TestCollectIssuesCanonicalOrder(t *testing.T) {
	results := map[string]*types.AnalyzerResult{
		types.CategoryAccessibility: {Issues: []*types.Issue{{ID: "a11y-1"}}},
		types.CategorySEO:           {Issues: []*types.Issue{{ID: "seo-1"}, {ID: "seo-2"}}},
	}
	collected := CollectIssues(results)
	if len(collected) != 3 {
		t.Fatalf("collected = %d issues", len(collected))
	}
	if collected[0].ID != "seo-1" || collected[2].ID != "a11y-1" {
		t.Errorf("order wrong: %s, %s, %s", collected[0].ID, collected[1].ID, collected[2].ID)
	}
}

func TestOverallClamped(t *testing.T) {
	scores := types.CategoryScores{Design: 100, SEO: 100, Performance: 100, Content: 100, Accessibility: 100, Social: 100}
	if got := Overall(scores, DefaultWeights()); got != 100 {
		t.Errorf("overall = %v", got)
	}
}
