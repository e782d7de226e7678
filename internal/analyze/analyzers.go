package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sitegrader/internal/ai"
	"sitegrader/internal/logging"
	"sitegrader/internal/types"
)

// maxHTMLExcerpt bounds how much page HTML is quoted into a prompt.
const maxHTMLExcerpt = 4000

// CostMeter accumulates model spend across concurrent analyzer calls.
type CostMeter struct {
	mu    sync.Mutex
	total float64
}

// Add records spend from one model call.
func (m *CostMeter) Add(cost float64) {
	m.mu.Lock()
	m.total += cost
	m.mu.Unlock()
}

// Total returns the accumulated spend.
func (m *CostMeter) Total() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// Analyzers implements the six category analyzers and the two unified
// variants on top of the model caller. Each Run method returns a well-formed
// result or an error; the runtime converts errors into neutral defaults.
type Analyzers struct {
	caller  ai.Caller
	prompts *ai.Library
	costs   *CostMeter
	log     *zap.SugaredLogger
}

// NewAnalyzers wires the analyzer implementations to a model caller.
func NewAnalyzers(caller ai.Caller, prompts *ai.Library, costs *CostMeter) *Analyzers {
	if costs == nil {
		costs = &CostMeter{}
	}
	return &Analyzers{
		caller:  caller,
		prompts: prompts,
		costs:   costs,
		log:     logging.Get(logging.CategoryAnalyzers),
	}
}

// Costs exposes the spend meter shared with the orchestrator.
func (a *Analyzers) Costs() *CostMeter { return a.costs }

// analyzerPayload is the JSON shape every category analyzer returns.
type analyzerPayload struct {
	Score     float64        `json:"score"`
	Issues    []*types.Issue `json:"issues"`
	Positives []string       `json:"positives"`
	QuickWins []string       `json:"quick_wins"`
}

// RunSEO audits crawlability, metadata, and on-page SEO.
func (a *Analyzers) RunSEO(ctx context.Context, in *Input) (*types.AnalyzerResult, error) {
	return a.runText(ctx, in, types.CategorySEO, "analyzer-seo")
}

// RunContent audits messaging, copy quality, and conversion paths.
func (a *Analyzers) RunContent(ctx context.Context, in *Input) (*types.AnalyzerResult, error) {
	return a.runText(ctx, in, types.CategoryContent, "analyzer-content")
}

// RunSocial audits social presence and share metadata.
func (a *Analyzers) RunSocial(ctx context.Context, in *Input) (*types.AnalyzerResult, error) {
	return a.runText(ctx, in, types.CategorySocial, "analyzer-social")
}

// RunAccessibility audits WCAG conformance signals in the markup.
func (a *Analyzers) RunAccessibility(ctx context.Context, in *Input) (*types.AnalyzerResult, error) {
	return a.runText(ctx, in, types.CategoryAccessibility, "analyzer-accessibility")
}

// RunDesktopVisual reviews desktop screenshots.
func (a *Analyzers) RunDesktopVisual(ctx context.Context, in *Input) (*types.AnalyzerResult, error) {
	return a.runVisual(ctx, in, types.CategoryDesktopVisual, "desktop")
}

// RunMobileVisual reviews mobile screenshots.
func (a *Analyzers) RunMobileVisual(ctx context.Context, in *Input) (*types.AnalyzerResult, error) {
	return a.runVisual(ctx, in, types.CategoryMobileVisual, "mobile")
}

// runText executes one batched markup-based analyzer call.
func (a *Analyzers) runText(ctx context.Context, in *Input, category, promptName string) (*types.AnalyzerResult, error) {
	vars := map[string]string{
		"business": describeBusiness(in.Business),
		"context":  a.gatherContext(in, category),
		"pages":    describePages(in.Pages, true, nil),
	}

	payload, err := a.callAnalyzer(ctx, in, promptName, vars, nil)
	if err != nil {
		return nil, err
	}

	result := a.finishResult(in, category, payload)
	return result, nil
}

// runVisual executes a screenshot-based analyzer. With cross-page context on
// and more than one page assigned, pages are reviewed one call at a time so
// each call sees what earlier pages surfaced; otherwise one batched call
// covers every page.
func (a *Analyzers) runVisual(ctx context.Context, in *Input, category, viewport string) (*types.AnalyzerResult, error) {
	refs := viewportRefs(in.Screenshots, viewport)

	if in.Accumulator != nil && in.Accumulator.CrossPageEnabled() && len(in.Pages) > 1 {
		return a.runVisualPerPage(ctx, in, category, viewport, refs)
	}

	images, described := loadScreenshots(refs, in.Pages)
	vars := map[string]string{
		"business": describeBusiness(in.Business),
		"viewport": viewport,
		"context":  a.gatherContext(in, category),
		"pages":    describePages(in.Pages, false, described),
	}

	payload, err := a.callAnalyzer(ctx, in, "analyzer-visual", vars, images)
	if err != nil {
		return nil, err
	}

	result := a.finishResult(in, category, payload)
	stampViewport(result.Issues, viewport)
	return result, nil
}

// runVisualPerPage walks pages sequentially, feeding the accumulator after
// each so later pages are judged with site context. The category score is
// the mean of the per-page scores.
func (a *Analyzers) runVisualPerPage(ctx context.Context, in *Input, category, viewport string, refs map[string]types.ScreenshotRef) (*types.AnalyzerResult, error) {
	merged := &types.AnalyzerResult{Issues: []*types.Issue{}, Meta: types.AnalyzerMeta{Analyzer: category}}
	var scoreSum float64
	var analyzed int

	for _, page := range in.Pages {
		pageIn := *in
		pageIn.Pages = []*types.Page{page}

		images, described := loadScreenshots(refs, pageIn.Pages)
		vars := map[string]string{
			"business": describeBusiness(in.Business),
			"viewport": viewport,
			"context":  a.gatherContext(&pageIn, category) + in.Accumulator.GetPageContext(page.URL),
			"pages":    describePages(pageIn.Pages, false, described),
		}

		payload, err := a.callAnalyzer(ctx, &pageIn, "analyzer-visual", vars, images)
		if err != nil {
			if analyzed == 0 {
				return nil, err
			}
			a.log.Warnw("page skipped in visual analysis",
				"analyzer", category, "page", page.URL, "error", err)
			continue
		}

		pageResult := a.finishResult(&pageIn, category, payload)
		stampViewport(pageResult.Issues, viewport)

		scoreSum += pageResult.Score
		analyzed++
		merged.Issues = append(merged.Issues, pageResult.Issues...)
		merged.Positives = appendUnique(merged.Positives, pageResult.Positives)
		merged.QuickWins = appendUnique(merged.QuickWins, pageResult.QuickWins)

		scores := PageScores{}
		if viewport == "mobile" {
			scores.Mobile = pageResult.Score
		} else {
			scores.Desktop = pageResult.Score
		}
		in.Accumulator.AddPageContext(page.URL, pageResult.Issues, scores)
	}

	if analyzed == 0 {
		return nil, fmt.Errorf("no pages analyzed for %s", category)
	}
	merged.Score = types.ClampScore(scoreSum / float64(analyzed))
	return merged, nil
}

// unifiedPayload is the JSON shape of the two-in-one analyzer calls.
type unifiedPayload struct {
	SEO     *analyzerPayload `json:"seo"`
	Content *analyzerPayload `json:"content"`
	Desktop *analyzerPayload `json:"desktop"`
	Mobile  *analyzerPayload `json:"mobile"`
}

// runUnifiedTechnical returns a task body that audits SEO and content in one
// call and splits the response into the enabled per-category results.
func (a *Analyzers) runUnifiedTechnical(categories []string) func(ctx context.Context, in *Input) (map[string]*types.AnalyzerResult, error) {
	return func(ctx context.Context, in *Input) (map[string]*types.AnalyzerResult, error) {
		vars := map[string]string{
			"business": describeBusiness(in.Business),
			"context":  a.gatherContext(in, "unified-technical"),
			"pages":    describePages(in.Pages, true, nil),
		}
		raw, err := a.call(ctx, in, "analyzer-unified-technical", vars, nil)
		if err != nil {
			return nil, err
		}

		var payload unifiedPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("failed to parse unified technical response: %w", err)
		}

		out := make(map[string]*types.AnalyzerResult, len(categories))
		for _, category := range categories {
			half := payload.SEO
			if category == types.CategoryContent {
				half = payload.Content
			}
			if half == nil {
				out[category] = types.DefaultAnalyzerResult(category, "unified technical response missing "+category+" section")
				continue
			}
			out[category] = a.finishResult(in, category, half)
		}
		return out, nil
	}
}

// runUnifiedVisual audits desktop and mobile screenshots in one call.
func (a *Analyzers) runUnifiedVisual(categories []string) func(ctx context.Context, in *Input) (map[string]*types.AnalyzerResult, error) {
	return func(ctx context.Context, in *Input) (map[string]*types.AnalyzerResult, error) {
		var images [][]byte
		described := map[string][]int{}
		for _, viewport := range []string{"desktop", "mobile"} {
			vpImages, vpDescribed := loadScreenshots(viewportRefs(in.Screenshots, viewport), in.Pages)
			images = append(images, vpImages...)
			for page, numbers := range vpDescribed {
				described[page] = append(described[page], numbers...)
			}
		}

		vars := map[string]string{
			"business": describeBusiness(in.Business),
			"context":  a.gatherContext(in, "unified-visual"),
			"pages":    describePages(in.Pages, false, described),
		}
		raw, err := a.call(ctx, in, "analyzer-unified-visual", vars, images)
		if err != nil {
			return nil, err
		}

		var payload unifiedPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("failed to parse unified visual response: %w", err)
		}

		out := make(map[string]*types.AnalyzerResult, len(categories))
		for _, category := range categories {
			half := payload.Desktop
			viewport := "desktop"
			if category == types.CategoryMobileVisual {
				half = payload.Mobile
				viewport = "mobile"
			}
			if half == nil {
				out[category] = types.DefaultAnalyzerResult(category, "unified visual response missing "+viewport+" section")
				continue
			}
			result := a.finishResult(in, category, half)
			stampViewport(result.Issues, viewport)
			out[category] = result
		}
		return out, nil
	}
}

// callAnalyzer runs one model call and parses the standard analyzer payload.
func (a *Analyzers) callAnalyzer(ctx context.Context, in *Input, promptName string, vars map[string]string, images [][]byte) (*analyzerPayload, error) {
	raw, err := a.call(ctx, in, promptName, vars, images)
	if err != nil {
		return nil, err
	}
	var payload analyzerPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse %s response: %w", promptName, err)
	}
	return &payload, nil
}

// call executes one prompt through the model caller, records cost, and
// returns the raw JSON bytes.
func (a *Analyzers) call(ctx context.Context, in *Input, promptName string, vars map[string]string, images [][]byte) (json.RawMessage, error) {
	prompt, err := a.prompts.Load(promptName, vars)
	if err != nil {
		return nil, err
	}

	user := prompt.UserPrompt
	if in.CustomPrompt != "" {
		user += "\n\nAdditional instructions:\n" + in.CustomPrompt
	}

	resp, err := a.caller.Call(ctx, ai.Request{
		Model:        prompt.Model,
		Temperature:  prompt.Temperature,
		SystemPrompt: prompt.SystemPrompt,
		UserPrompt:   user,
		Images:       images,
		JSONMode:     true,
		Caller:       promptName,
	})
	if err != nil {
		return nil, err
	}
	a.costs.Add(resp.Cost)

	return ai.ParseJSONResponse(resp.Content)
}

// finishResult normalizes a parsed payload into a well-formed result: stable
// IDs, canonical severities, clamped score, and context-driven enhancement
// of repeated issues.
func (a *Analyzers) finishResult(in *Input, category string, payload *analyzerPayload) *types.AnalyzerResult {
	issues := payload.Issues
	if issues == nil {
		issues = []*types.Issue{}
	}

	for _, issue := range issues {
		if issue.ID == "" {
			issue.ID = uuid.NewString()
		}
		issue.Category = category
		issue.Source = category
		issue.Severity = types.NormalizeSeverity(issue.Severity)
		if issue.Scope == "" {
			issue.Scope = "page"
		}

		if in.Accumulator != nil {
			if info := in.Accumulator.CheckDuplicateIssue(issue, issue.Page); info.IsDuplicate {
				in.Accumulator.EnhanceIssueWithContext(issue, info)
			}
		}
	}

	result := &types.AnalyzerResult{
		Score:     types.ClampScore(payload.Score),
		Issues:    issues,
		Positives: payload.Positives,
		QuickWins: payload.QuickWins,
		Meta:      types.AnalyzerMeta{Analyzer: category},
	}

	if in.Accumulator != nil {
		in.Accumulator.AddAnalyzerContext(category, AnalyzerContext{
			KeyFindings: firstN(payload.Positives, 3),
			TopIssues:   issueTitles(issues, 3),
		})
	}
	return result
}

// gatherContext joins the enriched business context with whatever the
// accumulator has collected from other analyzers.
func (a *Analyzers) gatherContext(in *Input, analyzer string) string {
	parts := []string{}
	if in.Context != "" {
		parts = append(parts, in.Context)
	}
	if in.Accumulator != nil {
		if shared := in.Accumulator.GetAnalyzerContext(analyzer); shared != "" {
			parts = append(parts, shared)
		}
	}
	return strings.Join(parts, "\n")
}

// describeBusiness renders the business context for prompt interpolation.
func describeBusiness(b types.BusinessContext) string {
	var parts []string
	if b.CompanyName != "" {
		parts = append(parts, b.CompanyName)
	}
	if b.Industry != "" {
		parts = append(parts, "industry: "+b.Industry)
	}
	if b.Location != "" {
		parts = append(parts, "location: "+b.Location)
	}
	if b.Description != "" {
		parts = append(parts, b.Description)
	}
	if len(parts) == 0 {
		return "unknown business"
	}
	return strings.Join(parts, "; ")
}

// describePages renders the assigned pages. With includeHTML set, a bounded
// markup excerpt follows each page; screenshotNumbers annotates which global
// screenshot numbers belong to each page.
func describePages(pages []*types.Page, includeHTML bool, screenshotNumbers map[string][]int) string {
	var b strings.Builder
	for _, page := range pages {
		fmt.Fprintf(&b, "## Page %s\n", page.URL)
		if page.Metadata.Title != "" {
			fmt.Fprintf(&b, "Title: %s\n", page.Metadata.Title)
		}
		if page.Metadata.Description != "" {
			fmt.Fprintf(&b, "Description: %s\n", page.Metadata.Description)
		}
		if len(page.Metadata.TechStack) > 0 {
			fmt.Fprintf(&b, "Tech: %s\n", strings.Join(page.Metadata.TechStack, ", "))
		}
		if numbers, ok := screenshotNumbers[page.URL]; ok && len(numbers) > 0 {
			fmt.Fprintf(&b, "Screenshot numbers: %s\n", joinInts(numbers))
		}
		if includeHTML && page.HTML != "" {
			excerpt := page.HTML
			if len(excerpt) > maxHTMLExcerpt {
				excerpt = excerpt[:maxHTMLExcerpt]
			}
			fmt.Fprintf(&b, "HTML:\n%s\n", excerpt)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// viewportRefs filters the screenshot index to one viewport, keyed by page.
func viewportRefs(index types.ScreenshotIndex, viewport string) map[string]types.ScreenshotRef {
	refs := make(map[string]types.ScreenshotRef)
	for _, ref := range index {
		if ref.Viewport == viewport {
			refs[ref.Page] = ref
		}
	}
	return refs
}

// loadScreenshots reads the screenshot bytes for the given pages in page
// order. Unreadable captures are skipped; the analyzer still sees the page
// text. The returned map records which numbers were attached per page.
func loadScreenshots(refs map[string]types.ScreenshotRef, pages []*types.Page) ([][]byte, map[string][]int) {
	var images [][]byte
	described := make(map[string][]int)

	ordered := make([]types.ScreenshotRef, 0, len(pages))
	for _, page := range pages {
		if ref, ok := refs[page.URL]; ok {
			ordered = append(ordered, ref)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Number < ordered[j].Number })

	for _, ref := range ordered {
		if ref.Path == "" {
			continue
		}
		data, err := os.ReadFile(ref.Path)
		if err != nil {
			continue
		}
		images = append(images, data)
		described[ref.Page] = append(described[ref.Page], ref.Number)
	}
	return images, described
}

func stampViewport(issues []*types.Issue, viewport string) {
	for _, issue := range issues {
		if issue.Metadata == nil {
			issue.Metadata = &types.IssueMetadata{}
		}
		if issue.Metadata.Viewport == "" {
			issue.Metadata.Viewport = viewport
		}
	}
}

func issueTitles(issues []*types.Issue, n int) []string {
	titles := make([]string, 0, n)
	for _, issue := range issues {
		if len(titles) == n {
			break
		}
		titles = append(titles, issue.Title)
	}
	return titles
}

func firstN(values []string, n int) []string {
	if len(values) <= n {
		return values
	}
	return values[:n]
}

func appendUnique(dst []string, values []string) []string {
	for _, v := range values {
		if !containsString(dst, v) {
			dst = append(dst, v)
		}
	}
	return dst
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ", ")
}
