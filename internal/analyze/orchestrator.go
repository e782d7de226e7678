package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sitegrader/internal/backup"
	"sitegrader/internal/benchmark"
	"sitegrader/internal/config"
	"sitegrader/internal/crawl"
	"sitegrader/internal/issues"
	"sitegrader/internal/logging"
	"sitegrader/internal/store"
	"sitegrader/internal/types"
)

// Mode selects what a pipeline run produces.
type Mode string

const (
	// ModeGrade analyzes a prospect site and compares it to a benchmark.
	ModeGrade Mode = "grade"
	// ModeBenchmark analyzes a reference site and stores it as a benchmark.
	ModeBenchmark Mode = "benchmark"
)

// ProgressEvent is one stage transition reported to the caller.
type ProgressEvent struct {
	Step     string  `json:"step"`
	Message  string  `json:"message"`
	Fraction float64 `json:"progress_fraction,omitempty"`
}

// ProgressSink receives stage transitions. May be nil.
type ProgressSink func(ProgressEvent)

// Validator filters an analysis result against screenshot evidence.
type Validator interface {
	Validate(ctx context.Context, result *types.AnalysisResult, screenshots types.ScreenshotIndex) (*types.AnalysisResult, error)
}

// Deps wires the orchestrator's collaborators. Store, Backups, Matcher,
// Ingester, and Validator may be nil; the corresponding stages degrade or
// skip.
type Deps struct {
	Config     *config.Config
	Discoverer *crawl.Discoverer
	Selector   *crawl.PageSelector
	Crawler    *crawl.Crawler
	Registry   *Registry
	Runtime    *Runtime
	Aggregator *Aggregator
	Validator  Validator
	Deduper    *issues.Deduper
	Ranker     *issues.Ranker
	Matcher    *benchmark.Matcher
	Ingester   *benchmark.Ingester
	Backups    *backup.Store
	Store      store.DataStore
	Costs      *CostMeter

	// CustomPrompt is appended to every analyzer prompt for this run.
	CustomPrompt string
}

// Orchestrator drives the staged pipeline: discover, selection, crawl,
// analyze, validate, dedupe, rank, grade, persist. Stages 5-7 are
// recoverable; crawl and persist failures are fatal, but every fatal path
// still attempts to persist whatever partial record exists so a later retry
// can pick it up from the backup store.
type Orchestrator struct {
	deps Deps
	log  *zap.SugaredLogger
}

// NewOrchestrator creates a pipeline orchestrator.
func NewOrchestrator(deps Deps) *Orchestrator {
	if deps.Costs == nil {
		deps.Costs = &CostMeter{}
	}
	return &Orchestrator{deps: deps, log: logging.Get(logging.CategoryPipeline)}
}

// Run executes one full analysis of targetURL.
func (o *Orchestrator) Run(ctx context.Context, targetURL string, business types.BusinessContext, mode Mode, progress ProgressSink) (*types.AnalysisResult, error) {
	if mode == "" {
		mode = ModeGrade
	}
	emit := func(step, message string, fraction float64) {
		o.log.Infow("stage", "step", step, "message", message)
		if progress != nil {
			progress(ProgressEvent{Step: step, Message: message, Fraction: fraction})
		}
	}

	result := &types.AnalysisResult{
		URL:      targetURL,
		Business: business,
		Metadata: types.ResultMetadata{RunID: uuid.NewString()},
	}

	// Stage 1: discover.
	emit("discover", "enumerating site pages", 0.05)
	discovery, err := o.deps.Discoverer.Discover(ctx, targetURL)
	if err != nil {
		o.persistPartial(ctx, result, fmt.Errorf("discovery failed: %w", err))
		return nil, fmt.Errorf("discovery failed: %w", err)
	}

	// Stage 2: selection. Never fatal; the selector falls back internally.
	emit("selection", fmt.Sprintf("selecting pages from %d discovered", discovery.TotalPages), 0.1)
	selection := o.deps.Selector.Select(ctx, discovery, business)

	// Stage 3: crawl. Fatal when no pages succeed.
	emit("crawl", fmt.Sprintf("crawling %d pages", len(selection.UniquePages)), 0.2)
	crawlResult, err := o.deps.Crawler.Crawl(ctx, targetURL, selection.UniquePages, func(done, total int, pageURL string) {
		emit("crawl", fmt.Sprintf("crawled %d/%d: %s", done, total, pageURL), 0.2+0.2*float64(done)/float64(total))
	})
	if err != nil {
		o.persistPartial(ctx, result, fmt.Errorf("crawl failed: %w", err))
		return nil, fmt.Errorf("crawl failed: %w", err)
	}

	// Stage 4: analyze. Never fatal; failed analyzers degrade to defaults.
	emit("analyze", "running analyzers", 0.45)
	screenshots := buildScreenshotIndex(crawlResult.Pages)
	acc := NewContextAccumulator(o.deps.Config.Analyzers.CrossPage, o.deps.Config.Analyzers.CrossAnalyzer)

	plan := o.deps.Registry.Resolve(o.deps.Config.Analyzers)
	base := &Input{
		Business:     business,
		Context:      enrichedContext(crawlResult.Intel),
		CustomPrompt: o.deps.CustomPrompt,
		Screenshots:  screenshots,
		Accumulator:  acc,
	}
	analyzerResults := o.deps.Runtime.Run(ctx, plan, base, crawlResult.Pages, AssignPages(crawlResult.Pages, selection))

	result.Analyzers = analyzerResults
	result.Issues = CollectIssues(analyzerResults)
	result.Metadata.AnalyzersDisabled = plan.Disabled
	result.Metadata.UsedUnifiedTechnical = o.deps.Config.Analyzers.UnifiedTech
	result.Metadata.UsedUnifiedVisual = o.deps.Config.Analyzers.UnifiedVisual
	result.Metadata.EnrichedContext = base.Context

	// Stage 5: validate. Recoverable; validator failure skips filtering.
	if o.deps.Config.Validation.Enabled && o.deps.Validator != nil {
		emit("validate", "verifying visual issues against screenshots", 0.6)
		validated, err := o.deps.Validator.Validate(ctx, result, screenshots)
		if err != nil {
			o.log.Warnw("validation failed, keeping unfiltered issues", "error", err)
		} else {
			result = validated
		}
	}

	// Stage 6: dedupe. Recoverable by construction.
	emit("dedupe", fmt.Sprintf("deduplicating %d issues", len(result.Issues)), 0.7)
	deduped, dedupStats := o.deps.Deduper.Dedupe(ctx, result.Issues)
	result.Issues = deduped
	result.Metadata.Dedup = &dedupStats

	// Stage 7: rank. Falls back to severity order internally.
	emit("rank", "selecting top issues", 0.8)
	top, rankStats := o.deps.Ranker.Rank(ctx, result.Issues, business)
	result.TopIssues = top
	result.Metadata.Ranking = &rankStats

	// Stage 8: grade. Never fatal.
	emit("grade", "computing scores and grade", 0.85)
	result.Scores = o.deps.Aggregator.Scores(result.Analyzers)
	weights := o.deps.Aggregator.ResolveWeights(ctx, business, result.Scores)
	result.OverallScore, result.Grade = Grade(result.Scores, weights)
	result.AnalyzedAt = time.Now().UTC()

	switch mode {
	case ModeBenchmark:
		if o.deps.Ingester != nil {
			if err := o.deps.Ingester.Ingest(ctx, targetURL, result, CollectPositives(result.Analyzers)); err != nil {
				o.log.Warnw("benchmark ingest failed", "error", err)
			}
		}
	default:
		if o.deps.Matcher != nil {
			EnrichWithBenchmark(result, o.deps.Matcher.Match(ctx, business))
		}
	}

	result.Metadata.TotalCost = o.deps.Costs.Total()

	// Stage 9: persist. Fatal on failure; the backup record survives either
	// way.
	emit("persist", "saving results", 0.95)
	if err := o.persist(ctx, result); err != nil {
		return result, fmt.Errorf("persist failed: %w", err)
	}

	emit("done", fmt.Sprintf("analysis complete: grade %s (%.0f)", result.Grade, result.OverallScore), 1)
	return result, nil
}

// persist writes the result to the backup tier first, then uploads to the
// store, marking the backup only after the store acks.
func (o *Orchestrator) persist(ctx context.Context, result *types.AnalysisResult) error {
	if o.deps.Backups == nil {
		return o.upload(ctx, result)
	}

	path, err := o.deps.Backups.Save(result.Business.CompanyName, backup.DefaultSubdir, result)
	if err != nil {
		return err
	}

	if err := o.upload(ctx, result); err != nil {
		if _, merr := o.deps.Backups.MarkFailed(path, err); merr != nil {
			o.log.Errorw("failed to quarantine backup", "path", path, "error", merr)
		}
		return err
	}

	if err := o.deps.Backups.MarkUploaded(path); err != nil {
		o.log.Warnw("failed to mark backup uploaded", "path", path, "error", err)
	}
	return nil
}

// upload writes the lead and prospect link to the store.
func (o *Orchestrator) upload(ctx context.Context, result *types.AnalysisResult) error {
	if o.deps.Store == nil {
		return nil
	}

	leadID, err := o.deps.Store.SaveLead(ctx, &store.Lead{
		CompanyName:  result.Business.CompanyName,
		URL:          result.URL,
		Industry:     result.Business.Industry,
		Location:     result.Business.Location,
		OverallScore: result.OverallScore,
		Grade:        result.Grade,
		Report:       result,
	})
	if err != nil {
		return err
	}

	if _, err := o.deps.Store.SaveOrLinkProspect(ctx, &store.Prospect{
		CompanyName: result.Business.CompanyName,
		URL:         result.URL,
		LeadID:      &leadID,
	}); err != nil {
		// The lead is saved; a dangling prospect link is not worth failing
		// the run over.
		o.log.Warnw("failed to link prospect", "error", err)
	}
	return nil
}

// persistPartial writes whatever exists of a fatally failed run to the
// backup tier so a retry can recover it. Best effort.
func (o *Orchestrator) persistPartial(ctx context.Context, result *types.AnalysisResult, cause error) {
	if o.deps.Backups == nil {
		return
	}
	partial := struct {
		*types.AnalysisResult
		FatalError string `json:"fatal_error"`
	}{result, cause.Error()}

	if _, err := o.deps.Backups.Save(result.Business.CompanyName, backup.DefaultSubdir, partial); err != nil {
		o.log.Errorw("failed to save partial record", "error", err)
	}
}

// buildScreenshotIndex assigns global screenshot numbers: desktop captures
// first in page order, mobile captures continuing the sequence.
func buildScreenshotIndex(pages []*types.Page) types.ScreenshotIndex {
	index := make(types.ScreenshotIndex)
	number := 0
	add := func(page *types.Page, viewport, path string) {
		if path == "" {
			return
		}
		number++
		index[number] = types.ScreenshotRef{
			Number:   number,
			Page:     page.URL,
			Viewport: viewport,
			Path:     path,
			Filename: filename(path),
		}
	}
	for _, page := range pages {
		add(page, "desktop", page.Screenshots.Desktop)
	}
	for _, page := range pages {
		add(page, "mobile", page.Screenshots.Mobile)
	}
	return index
}

func filename(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

// enrichedContext renders the crawl's business intelligence as prompt
// context for the analyzers.
func enrichedContext(intel types.BusinessIntel) string {
	var b strings.Builder
	if intel.YearsInBusiness > 0 {
		fmt.Fprintf(&b, "Years in business: %d\n", intel.YearsInBusiness)
	}
	if intel.PricingVisible {
		b.WriteString("Pricing is visible on the site.\n")
	}
	if len(intel.SizeSignals) > 0 {
		fmt.Fprintf(&b, "Size signals: %s\n", strings.Join(intel.SizeSignals, ", "))
	}
	if len(intel.PremiumFeatures) > 0 {
		fmt.Fprintf(&b, "Premium features: %s\n", strings.Join(intel.PremiumFeatures, ", "))
	}
	if len(intel.DecisionMakerSignal) > 0 {
		fmt.Fprintf(&b, "Decision maker signals: %s\n", strings.Join(intel.DecisionMakerSignal, ", "))
	}
	return b.String()
}

// RetryPending drains the backup store's failed uploads into the data
// store. Exposed for the CLI's backups verb.
func (o *Orchestrator) RetryPending(ctx context.Context) (backup.RetryReport, error) {
	if o.deps.Backups == nil || o.deps.Store == nil {
		return backup.RetryReport{}, fmt.Errorf("backup store and data store are both required for retry")
	}
	return o.deps.Backups.RetryFailed(func(data json.RawMessage) error {
		var record types.AnalysisResult
		if err := json.Unmarshal(data, &record); err != nil {
			return fmt.Errorf("failed to decode backed-up record: %w", err)
		}
		return o.upload(ctx, &record)
	})
}
