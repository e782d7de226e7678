package issues

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"go.uber.org/zap"

	"sitegrader/internal/ai"
	"sitegrader/internal/logging"
	"sitegrader/internal/types"
)

// similarDedupThreshold collapses near-identical titles that slipped past
// the AI ranker.
const similarDedupThreshold = 0.7

// rankedEntry joins one model ranking back to its issue.
type rankedEntry struct {
	IssueID   string `json:"issue_id"`
	Rank      int    `json:"rank"`
	Reasoning string `json:"reasoning"`
}

type rankResponse struct {
	TopIssues         []rankedEntry `json:"top_issues"`
	ExcludedCount     int           `json:"excluded_count"`
	SelectionStrategy string        `json:"selection_strategy"`
}

// Ranker selects the top issues a business should fix first.
type Ranker struct {
	caller         ai.Caller
	prompts        *ai.Library
	severityFilter []string
	limit          int
	costs          CostSink
	log            *zap.SugaredLogger
}

// NewRanker creates a ranker with the given severity filter and result
// limit.
func NewRanker(caller ai.Caller, prompts *ai.Library, severityFilter []string, limit int, costs CostSink) *Ranker {
	if limit <= 0 {
		limit = 5
	}
	if len(severityFilter) == 0 {
		severityFilter = []string{types.SeverityCritical, types.SeverityHigh}
	}
	return &Ranker{
		caller:         caller,
		prompts:        prompts,
		severityFilter: severityFilter,
		limit:          limit,
		costs:          costs,
		log:            logging.Get(logging.CategoryIssues),
	}
}

// Rank returns the top issues in priority order. Every returned issue
// carries its original fields plus Rank and RankReasoning. AI failures fall
// back to a severity sort; Rank never fails.
func (r *Ranker) Rank(ctx context.Context, issues []*types.Issue, business types.BusinessContext) ([]*types.Issue, types.RankingStats) {
	stats := types.RankingStats{CandidateCount: len(issues)}

	filtered := r.filterBySeverity(issues)
	stats.FilteredCount = len(filtered)

	if len(filtered) <= r.limit {
		for i, issue := range filtered {
			issue.Rank = i + 1
			issue.RankReasoning = fmt.Sprintf("only %d issues match the severity filter, no filtering needed", len(filtered))
		}
		stats.SelectionStrategy = "all filtered issues"
		return filtered, stats
	}

	ranked, strategy, err := r.rankWithAI(ctx, filtered, business)
	if err != nil {
		r.log.Warnw("AI ranking failed, using severity fallback", "error", err)
		stats.Error = err.Error()
		stats.SelectionStrategy = "severity fallback"
		return r.rankBySeverity(filtered), stats
	}

	ranked = dedupeSimilarTitles(ranked)
	rerank(ranked)
	if len(ranked) > r.limit {
		ranked = ranked[:r.limit]
	}

	stats.AIUsed = true
	stats.SelectionStrategy = strategy
	return ranked, stats
}

func (r *Ranker) filterBySeverity(issues []*types.Issue) []*types.Issue {
	allowed := make(map[string]struct{}, len(r.severityFilter))
	for _, s := range r.severityFilter {
		allowed[strings.ToLower(s)] = struct{}{}
	}

	var out []*types.Issue
	for _, issue := range issues {
		if _, ok := allowed[types.NormalizeSeverity(issue.Severity)]; ok {
			out = append(out, issue)
		}
	}
	return out
}

// rankWithAI asks the model to pick and order the top issues, then joins
// each entry back to its full issue record. Entries referencing unknown ids
// are dropped.
func (r *Ranker) rankWithAI(ctx context.Context, issues []*types.Issue, business types.BusinessContext) ([]*types.Issue, string, error) {
	issuesJSON, err := json.MarshalIndent(describeForDedup(issues), "", "  ")
	if err != nil {
		return nil, "", err
	}

	prompt, err := r.prompts.Load("issue-rank", map[string]string{
		"business": describeBusinessShort(business),
		"limit":    fmt.Sprintf("%d", r.limit),
		"issues":   string(issuesJSON),
	})
	if err != nil {
		return nil, "", err
	}

	resp, err := r.caller.Call(ctx, ai.Request{
		Model:        prompt.Model,
		Temperature:  prompt.Temperature,
		SystemPrompt: prompt.SystemPrompt,
		UserPrompt:   prompt.UserPrompt,
		JSONMode:     true,
		Caller:       "issue-rank",
	})
	if err != nil {
		return nil, "", err
	}
	if r.costs != nil {
		r.costs.Add(resp.Cost)
	}

	raw, err := ai.ParseJSONResponse(resp.Content)
	if err != nil {
		return nil, "", err
	}
	var parsed rankResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, "", fmt.Errorf("failed to parse ranking response: %w", err)
	}
	if len(parsed.TopIssues) == 0 {
		return nil, "", fmt.Errorf("ranking response contained no issues")
	}

	byID := make(map[string]*types.Issue, len(issues))
	for _, issue := range issues {
		byID[issue.ID] = issue
	}

	sort.SliceStable(parsed.TopIssues, func(i, j int) bool {
		return parsed.TopIssues[i].Rank < parsed.TopIssues[j].Rank
	})

	var ranked []*types.Issue
	for _, entry := range parsed.TopIssues {
		issue, ok := byID[entry.IssueID]
		if !ok {
			r.log.Warnw("ranking references unknown issue id", "id", entry.IssueID)
			continue
		}
		issue.Rank = entry.Rank
		issue.RankReasoning = entry.Reasoning
		ranked = append(ranked, issue)
	}
	if len(ranked) == 0 {
		return nil, "", fmt.Errorf("no ranked issues resolved to known ids")
	}
	return ranked, parsed.SelectionStrategy, nil
}

// rankBySeverity is the deterministic fallback: severity then priority,
// safety dedup, top limit.
func (r *Ranker) rankBySeverity(issues []*types.Issue) []*types.Issue {
	sorted := make([]*types.Issue, len(issues))
	copy(sorted, issues)
	sort.SliceStable(sorted, func(i, j int) bool {
		si, sj := types.SeverityRank(sorted[i].Severity), types.SeverityRank(sorted[j].Severity)
		if si != sj {
			return si > sj
		}
		return priorityRankOf(sorted[i].Priority) > priorityRankOf(sorted[j].Priority)
	})

	sorted = dedupeSimilarTitles(sorted)
	if len(sorted) > r.limit {
		sorted = sorted[:r.limit]
	}
	for i, issue := range sorted {
		issue.Rank = i + 1
		issue.RankReasoning = "ranked by severity"
	}
	return sorted
}

// dedupeSimilarTitles collapses pairs whose titles are 0.7 similar by
// normalized Levenshtein distance, preferring the version that carries
// digits, then the longer title.
func dedupeSimilarTitles(issues []*types.Issue) []*types.Issue {
	var out []*types.Issue
	for _, candidate := range issues {
		replaced := false
		duplicate := false
		for i, kept := range out {
			if titleSimilarity(candidate.Title, kept.Title) < similarDedupThreshold {
				continue
			}
			duplicate = true
			if preferOver(candidate, kept) {
				candidate.Rank = kept.Rank
				out[i] = candidate
				replaced = true
			}
			break
		}
		if !duplicate && !replaced {
			out = append(out, candidate)
		}
	}
	return out
}

// titleSimilarity is Levenshtein distance normalized by the longer title's
// length, inverted to a similarity in [0,1].
func titleSimilarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return 1
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

// preferOver reports whether a should replace b when the two are duplicates.
func preferOver(a, b *types.Issue) bool {
	aDigits, bDigits := hasDigits(a.Title), hasDigits(b.Title)
	if aDigits != bDigits {
		return aDigits
	}
	return len(a.Title) > len(b.Title)
}

func hasDigits(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func rerank(issues []*types.Issue) {
	for i, issue := range issues {
		issue.Rank = i + 1
	}
}

func priorityRankOf(p string) int {
	if r, ok := priorityRank[strings.ToLower(p)]; ok {
		return r
	}
	return priorityRank["medium"]
}

func describeBusinessShort(b types.BusinessContext) string {
	parts := []string{}
	if b.CompanyName != "" {
		parts = append(parts, b.CompanyName)
	}
	if b.Industry != "" {
		parts = append(parts, b.Industry)
	}
	if b.Location != "" {
		parts = append(parts, b.Location)
	}
	if len(parts) == 0 {
		return "unknown business"
	}
	return strings.Join(parts, ", ")
}
