// Package issues post-processes analyzer findings: AI-assisted semantic
// deduplication across analyzers and pages, and top-issue selection with a
// similarity safety net.
package issues

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"sitegrader/internal/ai"
	"sitegrader/internal/logging"
	"sitegrader/internal/types"
)

// CostSink receives model spend from dedup and ranking calls.
type CostSink interface {
	Add(cost float64)
}

// dedupGroup is one merge group returned by the model. MergedIssues is the
// ordered id sequence; the first resolvable id becomes the base issue.
type dedupGroup struct {
	PrimaryIssueID string   `json:"primary_issue_id"`
	MergedIssues   []string `json:"merged_issues"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Impact         string   `json:"impact"`
	MergeReason    string   `json:"merge_reason"`
}

type dedupResponse struct {
	Groups []dedupGroup `json:"groups"`
}

// Deduper merges semantically equivalent issues reported by different
// analyzers or on different pages.
type Deduper struct {
	caller  ai.Caller
	prompts *ai.Library
	model   string
	costs   CostSink
	log     *zap.SugaredLogger
}

// NewDeduper creates a deduper. The model override routes dedup calls to a
// different model than the analyzers when configured.
func NewDeduper(caller ai.Caller, prompts *ai.Library, model string, costs CostSink) *Deduper {
	return &Deduper{
		caller:  caller,
		prompts: prompts,
		model:   model,
		costs:   costs,
		log:     logging.Get(logging.CategoryIssues),
	}
}

// Dedupe merges duplicate issues and returns the reduced list with stats.
// On any AI error the original issues come back untouched with the error
// recorded in stats, so the pipeline still produces a report.
func (d *Deduper) Dedupe(ctx context.Context, issues []*types.Issue) ([]*types.Issue, types.DedupStats) {
	stats := types.DedupStats{OriginalCount: len(issues), DedupedCount: len(issues)}
	if len(issues) <= 1 {
		return issues, stats
	}

	groups, err := d.requestGroups(ctx, issues)
	if err != nil {
		d.log.Warnw("deduplication failed, keeping original issues", "error", err)
		stats.Error = err.Error()
		return issues, stats
	}

	byID := make(map[string]*types.Issue, len(issues))
	for _, issue := range issues {
		byID[issue.ID] = issue
	}

	merged := make(map[string]struct{}) // ids absorbed into a group
	var bases []*types.Issue

	for _, group := range groups {
		base, members := d.resolveGroup(group, byID)
		if base == nil {
			d.log.Warnw("dropping merge group with no resolvable issues",
				"primary", group.PrimaryIssueID)
			continue
		}
		if len(members) < 2 {
			continue
		}

		d.applyMerge(base, members, group)
		bases = append(bases, base)
		for _, m := range members {
			merged[m.ID] = struct{}{}
		}
		stats.MergedCount += len(members) - 1
	}

	// Untouched issues keep their original order; merged bases replace the
	// first member of their group in sequence.
	baseSet := make(map[string]*types.Issue, len(bases))
	for _, b := range bases {
		baseSet[b.ID] = b
	}

	var out []*types.Issue
	for _, issue := range issues {
		if b, ok := baseSet[issue.ID]; ok {
			out = append(out, b)
			continue
		}
		if _, ok := merged[issue.ID]; ok {
			continue
		}
		out = append(out, issue)
	}

	stats.DedupedCount = len(out)
	if stats.OriginalCount > 0 {
		stats.ReductionPercentage = 100 * float64(stats.OriginalCount-stats.DedupedCount) / float64(stats.OriginalCount)
	}

	d.log.Infow("deduplication complete",
		"original", stats.OriginalCount, "deduped", stats.DedupedCount,
		"merged", stats.MergedCount)
	return out, stats
}

// requestGroups asks the model for merge groups over the full issue set,
// including every field the merge must preserve.
func (d *Deduper) requestGroups(ctx context.Context, issues []*types.Issue) ([]dedupGroup, error) {
	issuesJSON, err := json.MarshalIndent(describeForDedup(issues), "", "  ")
	if err != nil {
		return nil, err
	}

	prompt, err := d.prompts.Load("issue-dedup", map[string]string{"issues": string(issuesJSON)})
	if err != nil {
		return nil, err
	}

	model := d.model
	if model == "" {
		model = prompt.Model
	}
	resp, err := d.caller.Call(ctx, ai.Request{
		Model:        model,
		Temperature:  prompt.Temperature,
		SystemPrompt: prompt.SystemPrompt,
		UserPrompt:   prompt.UserPrompt,
		JSONMode:     true,
		Caller:       "issue-dedup",
	})
	if err != nil {
		return nil, err
	}
	if d.costs != nil {
		d.costs.Add(resp.Cost)
	}

	raw, err := ai.ParseJSONResponse(resp.Content)
	if err != nil {
		return nil, err
	}
	var parsed dedupResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse dedup response: %w", err)
	}
	return parsed.Groups, nil
}

// resolveGroup maps a group's ids back to issues. The first resolvable
// member becomes the base; unknown ids are dropped with a warning.
func (d *Deduper) resolveGroup(group dedupGroup, byID map[string]*types.Issue) (*types.Issue, []*types.Issue) {
	ids := group.MergedIssues
	if len(ids) == 0 && group.PrimaryIssueID != "" {
		ids = []string{group.PrimaryIssueID}
	}

	var members []*types.Issue
	for _, id := range ids {
		issue, ok := byID[id]
		if !ok {
			d.log.Warnw("merge group references unknown issue id", "id", id)
			continue
		}
		members = append(members, issue)
	}
	if len(members) == 0 {
		return nil, nil
	}
	return members[0], members
}

// applyMerge folds a group into its base issue: screenshots collected in
// order, severity and priority raised to the group maximum, and merge
// provenance attached.
func (d *Deduper) applyMerge(base *types.Issue, members []*types.Issue, group dedupGroup) {
	if group.Title != "" {
		base.Title = group.Title
	}
	if group.Description != "" {
		base.Description = group.Description
	}
	if group.Impact != "" {
		base.Impact = group.Impact
	}

	var screenshots []string
	var sections []string
	severity := base.Severity
	priority := base.Priority
	sourceSet := make(map[string]struct{})
	var sources []string
	var ids []string

	for _, m := range members {
		if m.Screenshot != "" {
			screenshots = append(screenshots, m.Screenshot)
		}
		screenshots = append(screenshots, m.AdditionalScreenshots...)
		if m.ScreenshotSection != "" {
			sections = append(sections, m.ScreenshotSection)
		}
		severity = types.MaxSeverity(severity, m.Severity)
		priority = maxPriority(priority, m.Priority)
		if _, ok := sourceSet[m.Source]; !ok && m.Source != "" {
			sourceSet[m.Source] = struct{}{}
			sources = append(sources, m.Source)
		}
		ids = append(ids, m.ID)
	}

	if len(screenshots) > 0 {
		base.Screenshot = screenshots[0]
		base.AdditionalScreenshots = screenshots[1:]
	}
	if len(sections) > 0 {
		base.ScreenshotSection = sections[0]
	}
	base.Severity = severity
	base.Priority = priority
	base.MergedFromCount = len(members)
	base.MergedSources = sources
	base.MergedIssueIDs = ids
	base.DeduplicationReason = group.MergeReason
}

// describeForDedup projects issues to the fields the model needs, keeping
// the payload bounded.
func describeForDedup(issues []*types.Issue) []map[string]any {
	out := make([]map[string]any, 0, len(issues))
	for _, issue := range issues {
		out = append(out, map[string]any{
			"id":             issue.ID,
			"title":          issue.Title,
			"description":    issue.Description,
			"severity":       issue.Severity,
			"priority":       issue.Priority,
			"category":       issue.Category,
			"source":         issue.Source,
			"page":           issue.Page,
			"screenshot":     issue.Screenshot,
			"wcag_criterion": issue.WCAGCriterion,
		})
	}
	return out
}

// priorityRank orders priorities; unknown values rank as medium.
var priorityRank = map[string]int{"high": 3, "medium": 2, "low": 1}

func maxPriority(a, b string) string {
	ra, ok := priorityRank[a]
	if !ok {
		ra = priorityRank["medium"]
		a = "medium"
	}
	rb, ok := priorityRank[b]
	if !ok {
		rb = priorityRank["medium"]
		b = "medium"
	}
	if ra >= rb {
		return a
	}
	return b
}
