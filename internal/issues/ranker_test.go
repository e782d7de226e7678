package issues

import (
	"context"
	"errors"
	"testing"

	"sitegrader/internal/ai"
	"sitegrader/internal/types"
)

func rankFixture() []*types.Issue {
	return []*types.Issue{
		{ID: "1", Title: "Page load takes 8 seconds", Severity: "critical", Priority: "high"},
		{ID: "2", Title: "Missing meta descriptions", Severity: "high", Priority: "medium"},
		{ID: "3", Title: "No social links", Severity: "low", Priority: "low"},
		{ID: "4", Title: "Broken contact form", Severity: "critical", Priority: "high"},
		{ID: "5", Title: "Images missing alt text", Severity: "high", Priority: "medium"},
		{ID: "6", Title: "Thin service pages", Severity: "high", Priority: "low"},
		{ID: "7", Title: "Low color contrast", Severity: "medium", Priority: "medium"},
	}
}

func TestRankBelowLimitSkipsAI(t *testing.T) {
	called := false
	caller := &mockCaller{callFunc: func(ctx context.Context, req ai.Request) (*ai.Response, error) {
		called = true
		return nil, errors.New("should not be called")
	}}
	r := NewRanker(caller, ai.NewLibrary("m"), []string{"critical"}, 5, nil)

	top, stats := r.Rank(context.Background(), rankFixture(), types.BusinessContext{})
	if called {
		t.Error("AI called although filtered count is below limit")
	}
	if stats.AIUsed {
		t.Error("stats claim AI was used")
	}
	if len(top) != 2 {
		t.Fatalf("top = %d, want the 2 critical issues", len(top))
	}
	for i, issue := range top {
		if issue.Rank != i+1 || issue.RankReasoning == "" {
			t.Errorf("issue %s missing rank fields: rank=%d reasoning=%q", issue.ID, issue.Rank, issue.RankReasoning)
		}
	}
}

func TestRankWithAI(t *testing.T) {
	caller := &mockCaller{callFunc: func(ctx context.Context, req ai.Request) (*ai.Response, error) {
		return &ai.Response{Content: `{
			"top_issues": [
				{"issue_id": "4", "rank": 1, "reasoning": "broken conversion path"},
				{"issue_id": "1", "rank": 2, "reasoning": "speed hurts everything"},
				{"issue_id": "5", "rank": 3, "reasoning": "accessibility and seo"}
			],
			"excluded_count": 2,
			"selection_strategy": "business impact first"
		}`}, nil
	}}
	r := NewRanker(caller, ai.NewLibrary("m"), nil, 3, nil)

	top, stats := r.Rank(context.Background(), rankFixture(), types.BusinessContext{})
	if !stats.AIUsed {
		t.Error("stats missing AI flag")
	}
	if stats.SelectionStrategy != "business impact first" {
		t.Errorf("strategy = %q", stats.SelectionStrategy)
	}
	if len(top) != 3 {
		t.Fatalf("top = %d", len(top))
	}
	if top[0].ID != "4" || top[0].Rank != 1 || top[0].RankReasoning == "" {
		t.Errorf("top[0] = %+v", top[0])
	}
}

func TestRankAIErrorFallsBackToSeverity(t *testing.T) {
	caller := &mockCaller{callFunc: func(ctx context.Context, req ai.Request) (*ai.Response, error) {
		return nil, errors.New("model down")
	}}
	r := NewRanker(caller, ai.NewLibrary("m"), nil, 3, nil)

	top, stats := r.Rank(context.Background(), rankFixture(), types.BusinessContext{})
	if stats.Error == "" || stats.AIUsed {
		t.Errorf("stats = %+v", stats)
	}
	if len(top) != 3 {
		t.Fatalf("top = %d", len(top))
	}
	// Criticals first.
	if types.SeverityRank(top[0].Severity) < types.SeverityRank(top[1].Severity) {
		t.Errorf("severity order broken: %s before %s", top[0].Severity, top[1].Severity)
	}
	for i, issue := range top {
		if issue.Rank != i+1 {
			t.Errorf("rank[%d] = %d", i, issue.Rank)
		}
	}
}

// Near-identical titles that both survive AI ranking collapse to one,
// preferring the quantified version.
func TestRankSafetyDedup(t *testing.T) {
	issues := []*types.Issue{
		{ID: "1", Title: "Page load takes eight seconds", Severity: "critical", Priority: "high"},
		{ID: "2", Title: "Page load takes 8 seconds!", Severity: "critical", Priority: "high"},
		{ID: "3", Title: "Broken contact form", Severity: "critical", Priority: "high"},
		{ID: "4", Title: "Missing alt text", Severity: "high", Priority: "high"},
		{ID: "5", Title: "No HTTPS", Severity: "critical", Priority: "high"},
	}
	caller := &mockCaller{callFunc: func(ctx context.Context, req ai.Request) (*ai.Response, error) {
		return &ai.Response{Content: `{
			"top_issues": [
				{"issue_id": "1", "rank": 1, "reasoning": "r"},
				{"issue_id": "2", "rank": 2, "reasoning": "r"},
				{"issue_id": "3", "rank": 3, "reasoning": "r"},
				{"issue_id": "4", "rank": 4, "reasoning": "r"}
			],
			"selection_strategy": "s"
		}`}, nil
	}}
	r := NewRanker(caller, ai.NewLibrary("m"), nil, 4, nil)

	top, _ := r.Rank(context.Background(), issues, types.BusinessContext{})
	for _, issue := range top {
		if issue.ID == "1" {
			t.Error("unquantified duplicate survived over the quantified one")
		}
	}
	ids := map[string]bool{}
	for i, issue := range top {
		if ids[issue.ID] {
			t.Errorf("duplicate id %s", issue.ID)
		}
		ids[issue.ID] = true
		if issue.Rank != i+1 {
			t.Errorf("re-rank broken at %d: %d", i, issue.Rank)
		}
	}
}

func TestTitleSimilarity(t *testing.T) {
	if s := titleSimilarity("missing alt text", "missing alt text"); s != 1 {
		t.Errorf("identical similarity = %v", s)
	}
	if s := titleSimilarity("missing alt text", "completely unrelated problem"); s >= similarDedupThreshold {
		t.Errorf("unrelated similarity = %v", s)
	}
	if s := titleSimilarity("Page load takes 8 seconds", "page load takes 9 seconds"); s < similarDedupThreshold {
		t.Errorf("near-identical similarity = %v", s)
	}
}

func TestPreferOver(t *testing.T) {
	quantified := &types.Issue{Title: "Load takes 8 seconds"}
	generic := &types.Issue{Title: "Load is very slow overall today"}
	if !preferOver(quantified, generic) {
		t.Error("digits should win over length")
	}
	longer := &types.Issue{Title: "Slow page load on every page"}
	shorter := &types.Issue{Title: "Slow page load"}
	if !preferOver(longer, shorter) {
		t.Error("longer title should win when neither has digits")
	}
}
