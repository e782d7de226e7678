package analyze

import (
	"strings"
	"testing"

	"sitegrader/internal/logging"
	"sitegrader/internal/types"
)

func init() {
	logging.InitializeForTest()
}

func issue(category, title, severity string) *types.Issue {
	return &types.Issue{ID: title, Category: category, Title: title, Severity: severity}
}

func TestAddPageContextRecordsIssues(t *testing.T) {
	acc := NewContextAccumulator(true, true)
	acc.AddPageContext("/", []*types.Issue{
		issue("seo", "Missing meta description", "medium"),
	}, PageScores{Desktop: 80, Mobile: 70})

	ctx := acc.GetPageContext("/about")
	if !strings.Contains(ctx, "Pages already analyzed (1)") {
		t.Errorf("page context missing analyzed count:\n%s", ctx)
	}
	if !strings.Contains(ctx, "seo") {
		t.Errorf("page context missing issue category:\n%s", ctx)
	}
}

func TestCrossPageDisabled(t *testing.T) {
	acc := NewContextAccumulator(false, true)
	acc.AddPageContext("/", []*types.Issue{issue("seo", "x", "low")}, PageScores{})
	if got := acc.GetPageContext("/"); got != "" {
		t.Errorf("expected empty context with cross-page off, got %q", got)
	}
}

func TestCheckDuplicateExactMatch(t *testing.T) {
	acc := NewContextAccumulator(true, false)
	acc.AddPageContext("/", []*types.Issue{
		issue("seo", "Missing Meta Description!", "medium"),
	}, PageScores{})

	info := acc.CheckDuplicateIssue(issue("seo", "missing meta description", "medium"), "/about")
	if !info.IsDuplicate || info.Scope != "site-wide" || info.Action != "merge_or_skip" {
		t.Errorf("exact duplicate not detected: %+v", info)
	}
}

func TestCheckDuplicateJaccardMatch(t *testing.T) {
	acc := NewContextAccumulator(true, false)
	acc.AddPageContext("/", []*types.Issue{
		issue("seo", "missing meta description tag on homepage", "medium"),
	}, PageScores{})

	// High token overlap, not an exact match.
	info := acc.CheckDuplicateIssue(issue("seo", "missing meta description tag on page", "medium"), "/about")
	if !info.IsDuplicate || info.Action != "contextualize" {
		t.Errorf("similar duplicate not detected: %+v", info)
	}
}

func TestCheckDuplicateDifferentCategory(t *testing.T) {
	acc := NewContextAccumulator(true, false)
	acc.AddPageContext("/", []*types.Issue{
		issue("seo", "missing meta description", "medium"),
	}, PageScores{})

	info := acc.CheckDuplicateIssue(issue("content", "missing meta description", "medium"), "/about")
	if info.IsDuplicate {
		t.Errorf("duplicate reported across categories: %+v", info)
	}
}

func TestEnhanceIssueEscalatesSeverity(t *testing.T) {
	acc := NewContextAccumulator(true, false)
	acc.AddPageContext("/", nil, PageScores{})
	acc.AddPageContext("/about", nil, PageScores{})

	target := issue("seo", "thin content", "medium")
	acc.EnhanceIssueWithContext(target, DuplicateInfo{IsDuplicate: true, Scope: "site-wide"})

	if target.Severity != types.SeverityHigh {
		t.Errorf("severity = %s, want high", target.Severity)
	}
	if target.Scope != "site-wide" {
		t.Errorf("scope = %s", target.Scope)
	}
	if target.AppearsOn != "3 pages" {
		t.Errorf("appearsOn = %q, want 3 pages", target.AppearsOn)
	}
	if target.SeverityReason == "" {
		t.Error("severity reason not annotated")
	}

	// Critical saturates without a reason change.
	crit := issue("seo", "broken", types.SeverityCritical)
	acc.EnhanceIssueWithContext(crit, DuplicateInfo{IsDuplicate: true, Scope: "site-wide"})
	if crit.Severity != types.SeverityCritical {
		t.Errorf("critical did not saturate: %s", crit.Severity)
	}
	if crit.SeverityReason != "" {
		t.Errorf("unchanged severity should not be annotated: %q", crit.SeverityReason)
	}
}

func TestDetectPatternsMobile(t *testing.T) {
	acc := NewContextAccumulator(true, false)
	acc.AddPageContext("/", nil, PageScores{Desktop: 80, Mobile: 40})
	acc.AddPageContext("/about", nil, PageScores{Desktop: 82, Mobile: 50})

	var found bool
	for _, p := range acc.Patterns() {
		if p.Type == "site-wide-mobile-issues" {
			found = true
		}
	}
	if !found {
		t.Errorf("mobile pattern not detected: %+v", acc.Patterns())
	}
}

func TestDetectPatternsDesktopVariance(t *testing.T) {
	consistent := NewContextAccumulator(true, false)
	consistent.AddPageContext("/", nil, PageScores{Desktop: 80, Mobile: 80})
	consistent.AddPageContext("/a", nil, PageScores{Desktop: 84, Mobile: 80})
	if !hasPattern(consistent.Patterns(), "consistent-design-quality") {
		t.Errorf("consistent pattern missing: %+v", consistent.Patterns())
	}

	inconsistent := NewContextAccumulator(true, false)
	inconsistent.AddPageContext("/", nil, PageScores{Desktop: 30, Mobile: 80})
	inconsistent.AddPageContext("/a", nil, PageScores{Desktop: 90, Mobile: 80})
	if !hasPattern(inconsistent.Patterns(), "inconsistent-design-quality") {
		t.Errorf("inconsistent pattern missing: %+v", inconsistent.Patterns())
	}
}

func TestPatternsUniqueByType(t *testing.T) {
	acc := NewContextAccumulator(true, false)
	for _, url := range []string{"/", "/a", "/b", "/c"} {
		acc.AddPageContext(url, nil, PageScores{Desktop: 80, Mobile: 40})
	}
	seen := map[string]int{}
	for _, p := range acc.Patterns() {
		seen[p.Type]++
	}
	for typ, n := range seen {
		if n > 1 {
			t.Errorf("pattern %s recorded %d times", typ, n)
		}
	}
}

func TestAnalyzerContextSharedInsights(t *testing.T) {
	acc := NewContextAccumulator(false, true)
	acc.AddAnalyzerContext("desktopVisual", AnalyzerContext{
		KeyFindings: []string{"several images have no alt text"},
	})

	ctx := acc.GetAnalyzerContext("seo")
	if !strings.Contains(ctx, "alt") {
		t.Errorf("insight not shared:\n%s", ctx)
	}
	// The reporting analyzer's own findings are excluded from its view, but
	// insights still flow.
	own := acc.GetAnalyzerContext("desktopVisual")
	if strings.Contains(own, "desktopVisual: several") {
		t.Errorf("analyzer sees its own findings:\n%s", own)
	}
}

func TestConcurrentAccumulatorAccess(t *testing.T) {
	acc := NewContextAccumulator(true, true)
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 50; j++ {
				acc.AddPageContext("/p", []*types.Issue{issue("seo", "t", "low")}, PageScores{Desktop: 80, Mobile: 70})
				acc.CheckDuplicateIssue(issue("seo", "t", "low"), "/p")
				acc.GetPageContext("/p")
				acc.GetAnalyzerContext("seo")
				acc.AddAnalyzerContext("seo", AnalyzerContext{KeyFindings: []string{"mobile layout is cramped"}})
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}

func hasPattern(patterns []Pattern, typ string) bool {
	for _, p := range patterns {
		if p.Type == typ {
			return true
		}
	}
	return false
}
