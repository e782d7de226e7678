package analyze

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"sitegrader/internal/logging"
	"sitegrader/internal/types"
)

// Runtime executes a resolved analyzer plan with parallel fan-out and
// per-task failure isolation. A failed or panicking task degrades to neutral
// default results for its categories; the run itself never fails.
type Runtime struct {
	log *zap.SugaredLogger
}

// NewRuntime creates an analyzer runtime.
func NewRuntime() *Runtime {
	return &Runtime{log: logging.Get(logging.CategoryAnalyzers)}
}

// PageAssignment maps analyzer categories to the pages they were assigned by
// page selection. Categories without an entry fall back to all pages.
type PageAssignment map[string][]*types.Page

// AssignPages builds the per-category page assignment from a selection.
// Visual categories get the visual pages, and so on; unknown URLs in the
// selection simply match nothing.
func AssignPages(pages []*types.Page, selection *types.PageSelection) PageAssignment {
	byURL := make(map[string]*types.Page, len(pages))
	for _, p := range pages {
		byURL[p.URL] = p
	}

	pick := func(urls []string) []*types.Page {
		var out []*types.Page
		for _, u := range urls {
			if p, ok := byURL[u]; ok {
				out = append(out, p)
			}
		}
		if len(out) == 0 {
			return pages
		}
		return out
	}

	visual := pick(selection.VisualPages)
	return PageAssignment{
		types.CategorySEO:           pick(selection.SEOPages),
		types.CategoryContent:       pick(selection.ContentPages),
		types.CategoryDesktopVisual: visual,
		types.CategoryMobileVisual:  visual,
		types.CategorySocial:        pick(selection.SocialPages),
		types.CategoryAccessibility: pick(selection.ContentPages),
	}
}

// pagesFor returns the page set for a task. Multi-category tasks get the
// union of their categories' assignments.
func (pa PageAssignment) pagesFor(task Task, all []*types.Page) []*types.Page {
	if pa == nil {
		return all
	}
	seen := make(map[string]struct{})
	var out []*types.Page
	for _, category := range task.Categories {
		for _, p := range pa[category] {
			if _, ok := seen[p.URL]; !ok {
				seen[p.URL] = struct{}{}
				out = append(out, p)
			}
		}
	}
	if len(out) == 0 {
		return all
	}
	return out
}

// Run executes every task in the plan concurrently and assembles the six
// per-category results. Collection follows the canonical category order, so
// output is deterministic given deterministic task outputs.
func (r *Runtime) Run(ctx context.Context, plan *Plan, base *Input, pages []*types.Page, assignment PageAssignment) map[string]*types.AnalyzerResult {
	collected := make(map[string]*types.AnalyzerResult)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, task := range plan.Tasks {
		task := task
		wg.Add(1)
		go func() {
			defer wg.Done()
			results := r.runTask(ctx, task, base, assignment.pagesFor(task, pages))
			mu.Lock()
			for category, result := range results {
				collected[category] = result
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	// Assemble in canonical order; anything a task did not produce and the
	// plan did not disable still gets a well-formed default.
	out := make(map[string]*types.AnalyzerResult, len(types.CanonicalCategories))
	for _, category := range types.CanonicalCategories {
		if result, ok := collected[category]; ok {
			out[category] = result
			continue
		}
		if def, ok := plan.Defaults[category]; ok {
			out[category] = def
			continue
		}
		out[category] = types.DefaultAnalyzerResult(category, "analyzer produced no result")
	}
	return out
}

// runTask executes one task, converting errors and panics into defaults for
// every category the task owns.
func (r *Runtime) runTask(ctx context.Context, task Task, base *Input, pages []*types.Page) (results map[string]*types.AnalyzerResult) {
	defaults := func(reason string) map[string]*types.AnalyzerResult {
		out := make(map[string]*types.AnalyzerResult, len(task.Categories))
		for _, category := range task.Categories {
			def := types.DefaultAnalyzerResult(category, "analyzer failed")
			def.Meta.Disabled = false
			def.Meta.Error = reason
			out[category] = def
		}
		return out
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Errorw("analyzer panicked", "analyzer", task.Name, "panic", rec)
			results = defaults(fmt.Sprintf("panic: %v", rec))
		}
	}()

	in := *base
	in.Pages = pages

	out, err := task.Run(ctx, &in)
	if err != nil {
		r.log.Errorw("analyzer failed", "analyzer", task.Name, "error", err)
		return defaults(err.Error())
	}

	for category, result := range out {
		r.log.Infow("analyzer completed", "analyzer", category,
			"score", result.Score, "issues", len(result.Issues))
	}
	return out
}
