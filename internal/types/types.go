// Package types defines the shared data model for the analysis pipeline:
// crawled pages, issues, analyzer results, and the final graded report.
// Everything here is created by one pipeline stage and treated as read-only
// by the stages downstream of it.
package types

import (
	"strings"
	"time"
)

// Severity levels, ordered from most to least severe.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Analyzer category names in canonical order. Results are always collected
// and reported in this order regardless of completion order.
const (
	CategorySEO           = "seo"
	CategoryContent       = "content"
	CategoryDesktopVisual = "desktopVisual"
	CategoryMobileVisual  = "mobileVisual"
	CategorySocial        = "social"
	CategoryAccessibility = "accessibility"
)

// CanonicalCategories is the fixed collection order for analyzer results.
var CanonicalCategories = []string{
	CategorySEO,
	CategoryContent,
	CategoryDesktopVisual,
	CategoryMobileVisual,
	CategorySocial,
	CategoryAccessibility,
}

// Grade bands for the overall score.
const (
	GradeA = "A"
	GradeB = "B"
	GradeC = "C"
	GradeD = "D"
	GradeF = "F"
)

// NeutralScore is the score assigned to disabled or failed analyzers.
const NeutralScore = 50.0

// BusinessContext describes the business behind the target website. It is
// supplied by the caller and threaded through page selection, analysis, and
// benchmark matching.
type BusinessContext struct {
	CompanyName string `json:"company_name"`
	Industry    string `json:"industry"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
	TargetTier  string `json:"target_tier,omitempty"`
}

// ViewportTokens holds the lightweight design tokens extracted from one
// viewport's captured styles.
type ViewportTokens struct {
	Fonts      []string  `json:"fonts,omitempty"`
	Colors     []string  `json:"colors,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// DesignTokens groups per-viewport token extractions.
type DesignTokens struct {
	Desktop *ViewportTokens `json:"desktop,omitempty"`
	Mobile  *ViewportTokens `json:"mobile,omitempty"`
}

// Screenshots holds the opaque screenshot handles for one page. A handle is
// either raw PNG bytes (in-memory runs) or a storage path; consumers that
// need bytes resolve paths through the screenshot map handed to them.
type Screenshots struct {
	Desktop string `json:"desktop,omitempty"`
	Mobile  string `json:"mobile,omitempty"`
}

// ScreenshotRef resolves one global screenshot number to a stored capture.
type ScreenshotRef struct {
	Number   int    `json:"number"`
	Page     string `json:"page"`
	Viewport string `json:"viewport"`
	Path     string `json:"filepath"`
	Filename string `json:"filename"`
}

// ScreenshotIndex maps global screenshot numbers to captures. Desktop
// captures are numbered first in page order; mobile captures continue the
// sequence. Visual analyzers reference entries through
// IssueMetadata.ScreenshotNumbers and the validator resolves them here.
type ScreenshotIndex map[int]ScreenshotRef

// PageMetadata carries the page-level facts scraped alongside the HTML.
type PageMetadata struct {
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	TechStack   []string `json:"tech_stack,omitempty"`
}

// BusinessIntel captures the signal-string heuristics extracted from a page:
// size signals, pricing visibility, decision-maker accessibility. Missing
// data never fails the crawl; fields stay zero-valued.
type BusinessIntel struct {
	SizeSignals         []string `json:"size_signals,omitempty"`
	YearsInBusiness     int      `json:"years_in_business,omitempty"`
	PricingVisible      bool     `json:"pricing_visible"`
	PremiumFeatures     []string `json:"premium_features,omitempty"`
	DecisionMakerSignal []string `json:"decision_maker_signals,omitempty"`
}

// Page is a single crawled page. Created by the Crawler, read-only after.
type Page struct {
	URL          string        `json:"url"` // relative path, "/" for homepage
	AbsoluteURL  string        `json:"absolute_url"`
	HTML         string        `json:"html,omitempty"`
	Metadata     PageMetadata  `json:"metadata"`
	Screenshots  Screenshots   `json:"screenshots"`
	DesignTokens DesignTokens  `json:"design_tokens"`
	Intel        BusinessIntel `json:"business_intelligence"`
	Success      bool          `json:"success"`
	IsHomepage   bool          `json:"is_homepage"`
}

// FailedPage records a page that could not be crawled.
type FailedPage struct {
	URL       string    `json:"url"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// CrawlResult is the output of the crawl stage. Invariant: when Pages is
// non-empty, Homepage points at one of its elements; otherwise the crawl
// has failed fatally and no CrawlResult is produced.
type CrawlResult struct {
	Pages       []*Page       `json:"pages"`
	FailedPages []FailedPage  `json:"failed_pages,omitempty"`
	Homepage    *Page         `json:"-"`
	Intel       BusinessIntel `json:"business_intelligence"`
	CrawlTimeMs int64         `json:"crawl_time_ms"`
}

// Discovery is the output of page enumeration: every URL the site exposes
// through its sitemap, robots.txt hints, or the HTML fallback crawl.
type Discovery struct {
	TotalPages int               `json:"total_pages"`
	URLs       []string          `json:"urls"`
	Sources    []string          `json:"sources"` // sitemap, robots, fallback
	Errors     map[string]string `json:"errors,omitempty"`
}

// PageSelection assigns discovered URLs to analyzer categories. Each subset
// is drawn from the discovered URL set; UniquePages is the union the Crawler
// must fetch.
type PageSelection struct {
	SEOPages     []string `json:"seo_pages"`
	ContentPages []string `json:"content_pages"`
	VisualPages  []string `json:"visual_pages"`
	SocialPages  []string `json:"social_pages"`
	Reasoning    string   `json:"reasoning,omitempty"`
	UniquePages  []string `json:"unique_pages"`
}

// IssueMetadata carries the optional analyzer-specific annotations on an
// issue. ScreenshotNumbers drives the vision validation pass: issues without
// it are outside the validator's remit.
type IssueMetadata struct {
	Viewport          string   `json:"viewport,omitempty"`
	ScreenshotNumbers []int    `json:"screenshot_numbers,omitempty"`
	Keywords          []string `json:"keywords,omitempty"`
}

// Issue is a single finding about the website. IDs are stable within a run.
type Issue struct {
	ID                    string         `json:"id"`
	Title                 string         `json:"title"`
	Description           string         `json:"description,omitempty"`
	Severity              string         `json:"severity"`
	Priority              string         `json:"priority,omitempty"`
	Category              string         `json:"category"`
	Source                string         `json:"source"` // analyzer name
	Impact                string         `json:"impact,omitempty"`
	Page                  string         `json:"page,omitempty"` // relative URL
	Screenshot            string         `json:"screenshot,omitempty"`
	AdditionalScreenshots []string       `json:"additional_screenshots,omitempty"`
	ScreenshotSection     string         `json:"screenshot_section,omitempty"`
	WCAGCriterion         string         `json:"wcag_criterion,omitempty"`
	Fix                   string         `json:"fix,omitempty"`
	Difficulty            string         `json:"difficulty,omitempty"`
	Scope                 string         `json:"scope,omitempty"` // page, site-wide
	SeverityReason        string         `json:"severity_reason,omitempty"`
	AppearsOn             string         `json:"appears_on,omitempty"`
	Metadata              *IssueMetadata `json:"metadata,omitempty"`

	// Set by the deduper when this issue absorbed others.
	MergedFromCount     int      `json:"merged_from_count,omitempty"`
	MergedSources       []string `json:"merged_sources,omitempty"`
	MergedIssueIDs      []string `json:"merged_issue_ids,omitempty"`
	DeduplicationReason string   `json:"deduplication_reason,omitempty"`

	// Set by the ranker on top issues.
	Rank          int    `json:"rank,omitempty"`
	RankReasoning string `json:"rank_reasoning,omitempty"`
}

// AnalyzerMeta describes how an analyzer run went. On failure the owning
// result is still well-formed: neutral score, no issues, Error set.
type AnalyzerMeta struct {
	Analyzer string `json:"analyzer"`
	Disabled bool   `json:"disabled,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// AnalyzerResult is one analyzer's verdict for its category.
type AnalyzerResult struct {
	Score     float64      `json:"score"`
	Issues    []*Issue     `json:"issues"`
	Positives []string     `json:"positives,omitempty"`
	QuickWins []string     `json:"quick_wins,omitempty"`
	Meta      AnalyzerMeta `json:"meta"`
}

// DefaultAnalyzerResult returns the fixed-shape neutral result used for
// disabled and failed analyzers.
func DefaultAnalyzerResult(analyzer, message string) *AnalyzerResult {
	return &AnalyzerResult{
		Score:  NeutralScore,
		Issues: []*Issue{},
		Meta: AnalyzerMeta{
			Analyzer: analyzer,
			Disabled: true,
			Message:  message,
		},
	}
}

// CategoryScores holds the six per-category report scores. Design and
// performance are projected from the visual and technical analyzers.
type CategoryScores struct {
	Design        float64 `json:"design"`
	SEO           float64 `json:"seo"`
	Performance   float64 `json:"performance"`
	Content       float64 `json:"content"`
	Accessibility float64 `json:"accessibility"`
	Social        float64 `json:"social"`
}

// ValidationMetadata summarizes the vision validation pass.
type ValidationMetadata struct {
	Enabled             bool               `json:"enabled"`
	TotalIssuesAnalyzed int                `json:"total_issues_analyzed"`
	IssuesValidated     int                `json:"issues_validated"`
	Verified            int                `json:"verified"`
	Rejected            int                `json:"rejected"`
	RejectionRate       float64            `json:"rejection_rate"`
	Cost                float64            `json:"cost"`
	DurationMs          int64              `json:"duration_ms"`
	ConfidenceThreshold float64            `json:"confidence_threshold"`
	RejectionSummary    []RejectionSummary `json:"rejection_summary,omitempty"`
}

// RejectionSummary records one rejected issue and why.
type RejectionSummary struct {
	IssueID string `json:"issue_id"`
	Title   string `json:"title"`
	Reason  string `json:"reason"`
}

// DedupStats summarizes the deduplication stage.
type DedupStats struct {
	OriginalCount       int     `json:"original_count"`
	DedupedCount        int     `json:"deduped_count"`
	MergedCount         int     `json:"merged_count"`
	ReductionPercentage float64 `json:"reduction_percentage"`
	Error               string  `json:"error,omitempty"`
}

// RankingStats summarizes the top-issue selection stage.
type RankingStats struct {
	CandidateCount    int    `json:"candidate_count"`
	FilteredCount     int    `json:"filtered_count"`
	AIUsed            bool   `json:"ai_used"`
	SelectionStrategy string `json:"selection_strategy,omitempty"`
	Error             string `json:"error,omitempty"`
}

// ResultMetadata is the metadata block attached to the final report.
type ResultMetadata struct {
	RunID                string              `json:"run_id"`
	AnalyzersDisabled    []string            `json:"analyzers_disabled,omitempty"`
	UsedUnifiedTechnical bool                `json:"used_unified_technical"`
	UsedUnifiedVisual    bool                `json:"used_unified_visual"`
	Validation           *ValidationMetadata `json:"validation,omitempty"`
	Dedup                *DedupStats         `json:"dedup,omitempty"`
	Ranking              *RankingStats       `json:"ranking,omitempty"`
	TotalCost            float64             `json:"total_cost"`
	EnrichedContext      string              `json:"enriched_context,omitempty"`
}

// BenchmarkComparison carries the matched benchmark's scores and strengths.
type BenchmarkComparison struct {
	CompanyName     string          `json:"company_name"`
	Tier            string          `json:"tier"`
	MatchScore      float64         `json:"match_score"`
	MatchReasoning  string          `json:"match_reasoning,omitempty"`
	KeySimilarities []string        `json:"key_similarities,omitempty"`
	KeyDifferences  []string        `json:"key_differences,omitempty"`
	Scores          *CategoryScores `json:"scores,omitempty"`
	Strengths       []Strength      `json:"strengths,omitempty"`
	FallbackUsed    bool            `json:"fallback_used,omitempty"`
}

// Strength is one benchmark strength descriptor produced in benchmark mode.
type Strength struct {
	Category string `json:"category"`
	Title    string `json:"title"`
	Detail   string `json:"detail,omitempty"`
}

// AnalysisResult is the final report. It is always well-formed: every score
// in [0,100] and the grade one of A-F, even when every analyzer failed.
type AnalysisResult struct {
	URL          string                     `json:"url"`
	Business     BusinessContext            `json:"business"`
	Scores       CategoryScores             `json:"per_category_scores"`
	OverallScore float64                    `json:"overall_score"`
	Grade        string                     `json:"grade"`
	Issues       []*Issue                   `json:"issues"`
	TopIssues    []*Issue                   `json:"top_issues"`
	Analyzers    map[string]*AnalyzerResult `json:"analyzers"`
	Benchmark    *BenchmarkComparison       `json:"benchmark,omitempty"`
	Strengths    []Strength                 `json:"strengths,omitempty"`
	Metadata     ResultMetadata             `json:"metadata"`
	AnalyzedAt   time.Time                  `json:"analyzed_at"`
}

// severityRank maps severities to a comparable rank; higher is more severe.
var severityRank = map[string]int{
	SeverityCritical: 4,
	SeverityHigh:     3,
	SeverityMedium:   2,
	SeverityLow:      1,
}

// SeverityRank returns the comparable rank of a severity. Unknown severities
// rank as medium.
func SeverityRank(severity string) int {
	if r, ok := severityRank[strings.ToLower(severity)]; ok {
		return r
	}
	return severityRank[SeverityMedium]
}

// MaxSeverity returns the more severe of two severities, defaulting to
// medium for unknown values.
func MaxSeverity(a, b string) string {
	if SeverityRank(a) >= SeverityRank(b) {
		return canonicalSeverity(a)
	}
	return canonicalSeverity(b)
}

func canonicalSeverity(s string) string {
	lower := strings.ToLower(s)
	if _, ok := severityRank[lower]; ok {
		return lower
	}
	return SeverityMedium
}

// NormalizeSeverity lowercases a severity and maps unknown values to medium.
func NormalizeSeverity(s string) string {
	return canonicalSeverity(s)
}

// EscalateSeverity raises a severity by one tier, saturating at critical.
func EscalateSeverity(s string) string {
	switch canonicalSeverity(s) {
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// GradeFor maps an overall score to its letter grade band.
func GradeFor(score float64) string {
	switch {
	case score >= 90:
		return GradeA
	case score >= 80:
		return GradeB
	case score >= 70:
		return GradeC
	case score >= 60:
		return GradeD
	default:
		return GradeF
	}
}

// ClampScore bounds a score to [0,100].
func ClampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
