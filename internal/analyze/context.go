// Package analyze implements the analyzer registry and runtime, the shared
// context accumulator, score aggregation and grading, and the pipeline
// orchestrator that drives a full analysis run.
package analyze

import (
	"fmt"
	"strings"
	"sync"

	"sitegrader/internal/types"
)

// PageScores holds the per-viewport scores recorded for one analyzed page.
type PageScores struct {
	Desktop float64 `json:"desktop"`
	Mobile  float64 `json:"mobile"`
}

// Pattern is a site-level observation derived from accumulated page scores.
// Patterns are uniqued by Type.
type Pattern struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// AnalyzerContext is what one analyzer shared with the others.
type AnalyzerContext struct {
	KeyFindings []string `json:"key_findings"`
	TopIssues   []string `json:"top_issues"`
	Scores      PageScores
}

// DuplicateInfo is the verdict from checkDuplicateIssue.
type DuplicateInfo struct {
	IsDuplicate  bool
	Scope        string // page or site-wide
	Action       string // merge_or_skip, contextualize
	MatchedTitle string
}

// ContextAccumulator records per-page findings and shares aggregated context
// across subsequent pages and analyzers. Analyzers run in parallel inside
// the runtime stage, so every mutating method serializes under one mutex;
// readers get consistent snapshots. Pure in-memory; never fails.
type ContextAccumulator struct {
	mu sync.Mutex

	crossPage     bool
	crossAnalyzer bool

	pagesAnalyzed   []string
	issuesFound     map[string]map[string]struct{} // category -> normalized titles
	patterns        []Pattern
	pageScores      map[string]*PageScores // by page URL, zero fields unset
	analyzerResults map[string]AnalyzerContext
	sharedInsights  []string
	duplicateChecks int
}

// NewContextAccumulator creates an accumulator with independent cross-page
// and cross-analyzer toggles.
func NewContextAccumulator(crossPage, crossAnalyzer bool) *ContextAccumulator {
	return &ContextAccumulator{
		crossPage:       crossPage,
		crossAnalyzer:   crossAnalyzer,
		issuesFound:     make(map[string]map[string]struct{}),
		pageScores:      make(map[string]*PageScores),
		analyzerResults: make(map[string]AnalyzerContext),
	}
}

// CrossPageEnabled reports whether cross-page context is on.
func (c *ContextAccumulator) CrossPageEnabled() bool { return c.crossPage }

// CrossAnalyzerEnabled reports whether cross-analyzer context is on.
func (c *ContextAccumulator) CrossAnalyzerEnabled() bool { return c.crossAnalyzer }

// AddPageContext records one page's findings and refreshes detected
// patterns. Desktop and mobile analyzers report the same URL separately;
// zero score fields leave the other viewport's recorded value alone.
func (c *ContextAccumulator) AddPageContext(url string, issues []*types.Issue, scores PageScores) {
	if !c.crossPage {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, seen := c.pageScores[url]
	if !seen {
		existing = &PageScores{}
		c.pageScores[url] = existing
		c.pagesAnalyzed = append(c.pagesAnalyzed, url)
	}
	if scores.Desktop > 0 {
		existing.Desktop = scores.Desktop
	}
	if scores.Mobile > 0 {
		existing.Mobile = scores.Mobile
	}

	for _, issue := range issues {
		set, ok := c.issuesFound[issue.Category]
		if !ok {
			set = make(map[string]struct{})
			c.issuesFound[issue.Category] = set
		}
		set[types.NormalizeTitle(issue.Title)] = struct{}{}
	}
	c.detectPatternsLocked()
}

// insightRules derive shared insights from one analyzer's findings for the
// benefit of the others.
var insightRules = []struct {
	keyword   string
	relevance string
}{
	{"alt text", "visual flagged image alt problems: relevant to seo and accessibility"},
	{"alt attribute", "visual flagged image alt problems: relevant to seo and accessibility"},
	{"heading structure", "seo flagged heading structure: relevant to content and accessibility"},
	{"heading hierarchy", "seo flagged heading structure: relevant to content and accessibility"},
	{"contrast", "flagged color contrast: relevant to design and accessibility"},
	{"load time", "flagged slow loading: relevant to seo and design"},
	{"mobile", "flagged mobile problems: relevant to design and seo"},
}

// AddAnalyzerContext stores one analyzer's summary and derives shared
// insights for the rest of the fan-out.
func (c *ContextAccumulator) AddAnalyzerContext(analyzer string, actx AnalyzerContext) {
	if !c.crossAnalyzer {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.analyzerResults[analyzer] = actx

	for _, finding := range append(actx.KeyFindings, actx.TopIssues...) {
		lower := strings.ToLower(finding)
		for _, rule := range insightRules {
			if strings.Contains(lower, rule.keyword) {
				insight := analyzer + " " + rule.relevance
				if !containsString(c.sharedInsights, insight) {
					c.sharedInsights = append(c.sharedInsights, insight)
				}
			}
		}
	}
}

// GetPageContext returns instruction text summarizing what earlier pages
// surfaced: known issues, detected patterns, and score trends.
func (c *ContextAccumulator) GetPageContext(url string) string {
	if !c.crossPage {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pagesAnalyzed) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Pages already analyzed (%d): %s\n",
		len(c.pagesAnalyzed), strings.Join(c.pagesAnalyzed, ", "))

	if len(c.issuesFound) > 0 {
		b.WriteString("Known issues so far:\n")
		for category, titles := range c.issuesFound {
			fmt.Fprintf(&b, "- %s: %d distinct issues\n", category, len(titles))
		}
	}
	for _, p := range c.patterns {
		fmt.Fprintf(&b, "Pattern: %s (%s)\n", p.Type, p.Description)
	}
	if n := len(c.pagesAnalyzed); n > 0 {
		if last, ok := c.pageScores[c.pagesAnalyzed[n-1]]; ok {
			fmt.Fprintf(&b, "Latest page scores: desktop %.0f, mobile %.0f\n", last.Desktop, last.Mobile)
		}
	}
	b.WriteString("Do not re-report issues already known site-wide; note new occurrences instead.\n")
	return b.String()
}

// GetAnalyzerContext returns instruction text with the other analyzers'
// findings and the shared insights relevant to this analyzer.
func (c *ContextAccumulator) GetAnalyzerContext(analyzer string) string {
	if !c.crossAnalyzer {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.analyzerResults) == 0 && len(c.sharedInsights) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Findings from other analyzers:\n")
	for name, actx := range c.analyzerResults {
		if name == analyzer {
			continue
		}
		if len(actx.KeyFindings) > 0 {
			fmt.Fprintf(&b, "- %s: %s\n", name, strings.Join(actx.KeyFindings, "; "))
		}
	}
	for _, insight := range c.sharedInsights {
		fmt.Fprintf(&b, "Insight: %s\n", insight)
	}
	return b.String()
}

// CheckDuplicateIssue decides whether an issue repeats something already
// recorded on an earlier page. Exact normalized-title match means merge or
// skip; a 0.7 Jaccard token overlap means contextualize as site-wide.
func (c *ContextAccumulator) CheckDuplicateIssue(issue *types.Issue, currentPage string) DuplicateInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.duplicateChecks++

	normalized := types.NormalizeTitle(issue.Title)
	titles, ok := c.issuesFound[issue.Category]
	if !ok {
		return DuplicateInfo{Scope: "page"}
	}

	if _, exact := titles[normalized]; exact {
		return DuplicateInfo{
			IsDuplicate:  true,
			Scope:        "site-wide",
			Action:       "merge_or_skip",
			MatchedTitle: normalized,
		}
	}

	for known := range titles {
		if types.JaccardSimilarity(normalized, known) >= 0.7 {
			return DuplicateInfo{
				IsDuplicate:  true,
				Scope:        "site-wide",
				Action:       "contextualize",
				MatchedTitle: known,
			}
		}
	}
	return DuplicateInfo{Scope: "page"}
}

// EnhanceIssueWithContext escalates a site-wide duplicate one severity tier
// and annotates how widely it appears.
func (c *ContextAccumulator) EnhanceIssueWithContext(issue *types.Issue, info DuplicateInfo) {
	if info.Scope != "site-wide" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	original := issue.Severity
	issue.Severity = types.EscalateSeverity(issue.Severity)
	issue.Scope = "site-wide"
	if issue.Severity != original {
		issue.SeverityReason = fmt.Sprintf("escalated from %s: issue appears on multiple pages", original)
	}
	issue.AppearsOn = fmt.Sprintf("%d pages", len(c.pagesAnalyzed)+1)
}

// Patterns returns a snapshot of detected patterns.
func (c *ContextAccumulator) Patterns() []Pattern {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Pattern, len(c.patterns))
	copy(out, c.patterns)
	return out
}

// SharedInsights returns a snapshot of derived insights.
func (c *ContextAccumulator) SharedInsights() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sharedInsights))
	copy(out, c.sharedInsights)
	return out
}

// PagesAnalyzed returns a snapshot of recorded page URLs.
func (c *ContextAccumulator) PagesAnalyzed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.pagesAnalyzed))
	copy(out, c.pagesAnalyzed)
	return out
}

// detectPatternsLocked refreshes score-derived patterns. Requires at least
// two pages of data per viewport; caller holds the mutex.
func (c *ContextAccumulator) detectPatternsLocked() {
	var mobile, desktop []float64
	for _, s := range c.pageScores {
		if s.Mobile > 0 {
			mobile = append(mobile, s.Mobile)
		}
		if s.Desktop > 0 {
			desktop = append(desktop, s.Desktop)
		}
	}

	if len(mobile) >= 2 {
		var sum float64
		for _, v := range mobile {
			sum += v
		}
		if avg := sum / float64(len(mobile)); avg < 60 {
			c.addPatternLocked(Pattern{
				Type:        "site-wide-mobile-issues",
				Description: fmt.Sprintf("average mobile score %.0f across %d pages", avg, len(mobile)),
			})
		}
	}

	if len(desktop) < 2 {
		return
	}
	variance := sampleVariance(desktop)
	if variance < 100 {
		c.addPatternLocked(Pattern{
			Type:        "consistent-design-quality",
			Description: "desktop scores are tightly clustered",
		})
	} else if variance > 400 {
		c.addPatternLocked(Pattern{
			Type:        "inconsistent-design-quality",
			Description: "desktop scores vary widely between pages",
		})
	}
}

func (c *ContextAccumulator) addPatternLocked(p Pattern) {
	for _, existing := range c.patterns {
		if existing.Type == p.Type {
			return
		}
	}
	c.patterns = append(c.patterns, p)
}

func sampleVariance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return sq / float64(len(values))
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
