package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"sitegrader/internal/ai"
	"sitegrader/internal/analyze"
	"sitegrader/internal/backup"
	"sitegrader/internal/benchmark"
	"sitegrader/internal/browser"
	"sitegrader/internal/crawl"
	"sitegrader/internal/issues"
	"sitegrader/internal/store"
	"sitegrader/internal/types"
	"sitegrader/internal/validation"
)

var (
	flagCompany     string
	flagIndustry    string
	flagLocation    string
	flagDescription string
	flagTier        string
	flagPrompt      string
	flagOutput      string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [url]",
	Short: "Analyze and grade a business website",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(args[0], analyze.ModeGrade)
	},
}

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark [url]",
	Short: "Analyze a reference site and store it as a benchmark",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(args[0], analyze.ModeBenchmark)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{analyzeCmd, benchmarkCmd} {
		cmd.Flags().StringVar(&flagCompany, "company", "", "company name")
		cmd.Flags().StringVar(&flagIndustry, "industry", "", "industry, e.g. plumbing")
		cmd.Flags().StringVar(&flagLocation, "location", "", "service area or city")
		cmd.Flags().StringVar(&flagDescription, "description", "", "short business description")
		cmd.Flags().StringVar(&flagPrompt, "prompt", "", "extra instructions appended to every analyzer")
		cmd.Flags().StringVarP(&flagOutput, "output", "o", "", "write the full JSON report to this file")
	}
	benchmarkCmd.Flags().StringVar(&flagTier, "tier", "", "benchmark tier: national, regional, local, manual")
}

func runPipeline(url string, mode analyze.Mode) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch, cleanup, err := buildOrchestrator(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	business := types.BusinessContext{
		CompanyName: flagCompany,
		Industry:    flagIndustry,
		Location:    flagLocation,
		Description: flagDescription,
		TargetTier:  flagTier,
	}

	result, err := orch.Run(ctx, url, business, mode, func(e analyze.ProgressEvent) {
		fmt.Printf("[%3.0f%%] %-10s %s\n", e.Fraction*100, e.Step, e.Message)
	})
	if err != nil {
		return err
	}

	printReport(result)

	if flagOutput != "" {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		if err := os.WriteFile(flagOutput, data, 0o644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Printf("\nFull report written to %s\n", flagOutput)
	}
	return nil
}

// buildOrchestrator wires the full pipeline from the loaded config. The
// returned cleanup closes the store; the browser shuts down with the
// process.
func buildOrchestrator(ctx context.Context) (*analyze.Orchestrator, func(), error) {
	caller, err := ai.NewGeminiCaller(ctx, ai.GeminiConfig{
		APIKey:  cfg.AI.APIKey,
		Model:   cfg.AI.Model,
		Timeout: cfg.AI.Timeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create model caller: %w", err)
	}
	prompts := ai.NewLibrary(cfg.AI.Model)
	costs := &analyze.CostMeter{}

	dataStore, err := store.Open(cfg.Store.DatabasePath)
	if err != nil {
		return nil, nil, err
	}

	backups, err := backup.NewStore(cfg.Backup.RootDir, "sitegrader")
	if err != nil {
		dataStore.Close()
		return nil, nil, err
	}

	capturer := browser.NewRodCapturer(browser.DefaultConfig())

	orch := analyze.NewOrchestrator(analyze.Deps{
		Config:     cfg,
		Discoverer: crawl.NewDiscoverer(nil, cfg.Crawler.MaxPages),
		Selector:   crawl.NewPageSelector(caller, prompts, cfg.Analyzers.MaxPagesPerMod),
		Crawler: crawl.NewCrawler(capturer, crawl.CrawlerConfig{
			Concurrency:    cfg.Crawler.Concurrency,
			PageTimeout:    cfg.Crawler.PageTimeout,
			ScreenshotsDir: cfg.Crawler.ScreenshotsDir,
		}),
		Registry:   analyze.NewRegistry(analyze.NewAnalyzers(caller, prompts, costs)),
		Runtime:    analyze.NewRuntime(),
		Aggregator: analyze.NewAggregator(caller, prompts, costs, cfg.Grading.UseAI),
		Validator:  validation.NewValidator(caller, prompts, cfg.Validation, costs),
		Deduper:    issues.NewDeduper(caller, prompts, cfg.Dedup.Model, costs),
		Ranker:     issues.NewRanker(caller, prompts, cfg.Ranking.SeverityFilter, cfg.Ranking.Limit, costs),
		Matcher:    benchmark.NewMatcher(dataStore, caller, prompts, nil, 0, costs),
		Ingester:   benchmark.NewIngester(dataStore, caller, prompts, costs),
		Backups:      backups,
		Store:        dataStore,
		Costs:        costs,
		CustomPrompt: flagPrompt,
	})

	return orch, func() { dataStore.Close() }, nil
}

func printReport(result *types.AnalysisResult) {
	fmt.Printf("\n%s: grade %s (%.0f/100)\n", result.URL, result.Grade, result.OverallScore)
	fmt.Printf("  design %.0f | seo %.0f | performance %.0f | content %.0f | accessibility %.0f | social %.0f\n",
		result.Scores.Design, result.Scores.SEO, result.Scores.Performance,
		result.Scores.Content, result.Scores.Accessibility, result.Scores.Social)

	if len(result.TopIssues) > 0 {
		fmt.Println("\nTop issues:")
		for _, issue := range result.TopIssues {
			fmt.Printf("  %d. [%s] %s\n", issue.Rank, issue.Severity, issue.Title)
			if issue.RankReasoning != "" {
				fmt.Printf("     %s\n", issue.RankReasoning)
			}
		}
	}

	if result.Benchmark != nil {
		fmt.Printf("\nCompared against: %s (%s tier", result.Benchmark.CompanyName, result.Benchmark.Tier)
		if result.Benchmark.FallbackUsed {
			fmt.Print(", fallback match")
		}
		fmt.Println(")")
	}

	fmt.Printf("\nModel spend: $%.4f\n", result.Metadata.TotalCost)
}
