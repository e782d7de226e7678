package analyze

import (
	"context"
	"fmt"

	"sitegrader/internal/config"
	"sitegrader/internal/types"
)

// Input is everything one analyzer task receives: the pages it was assigned,
// the enriched business context, an optional caller-supplied prompt override,
// and the shared accumulator (nil unless cross-analyzer context is on).
type Input struct {
	Pages        []*types.Page
	Business     types.BusinessContext
	Context      string
	CustomPrompt string
	Screenshots  types.ScreenshotIndex
	Accumulator  *ContextAccumulator
}

// Task is one schedulable analyzer invocation. A plain task yields one
// category; a unified task yields two. Categories lists every category the
// task is responsible for, so the runtime can substitute defaults when the
// task fails.
type Task struct {
	Name       string
	Categories []string
	Run        func(ctx context.Context, in *Input) (map[string]*types.AnalyzerResult, error)
}

// Plan is the resolved analyzer schedule: the tasks to run plus the default
// results that stand in for disabled categories. After the runtime executes
// a plan, downstream stages always see all six per-category results.
type Plan struct {
	Tasks    []Task
	Defaults map[string]*types.AnalyzerResult
	Disabled []string
}

// Registry resolves analyzer configuration into a Plan.
type Registry struct {
	analyzers *Analyzers
}

// NewRegistry creates a registry over the given analyzer implementations.
func NewRegistry(analyzers *Analyzers) *Registry {
	return &Registry{analyzers: analyzers}
}

// Resolve maps the toggle configuration to concrete tasks. Unified modes
// collapse two category analyzers into one model call; the task splits the
// response back into per-category results so unified mode stays invisible
// downstream. A unified task only covers the categories that are enabled;
// when both halves are off it is not scheduled at all.
func (r *Registry) Resolve(cfg config.AnalyzersConfig) *Plan {
	plan := &Plan{Defaults: make(map[string]*types.AnalyzerResult)}

	disable := func(category string) {
		plan.Defaults[category] = types.DefaultAnalyzerResult(category,
			fmt.Sprintf("%s analyzer disabled by configuration", category))
		plan.Disabled = append(plan.Disabled, category)
	}

	if cfg.UnifiedTech && (cfg.SEO || cfg.Content) {
		categories := []string{}
		if cfg.SEO {
			categories = append(categories, types.CategorySEO)
		} else {
			disable(types.CategorySEO)
		}
		if cfg.Content {
			categories = append(categories, types.CategoryContent)
		} else {
			disable(types.CategoryContent)
		}
		plan.Tasks = append(plan.Tasks, Task{
			Name:       "unified-technical",
			Categories: categories,
			Run:        r.analyzers.runUnifiedTechnical(categories),
		})
	} else {
		if cfg.SEO {
			plan.Tasks = append(plan.Tasks, r.single(types.CategorySEO, r.analyzers.RunSEO))
		} else {
			disable(types.CategorySEO)
		}
		if cfg.Content {
			plan.Tasks = append(plan.Tasks, r.single(types.CategoryContent, r.analyzers.RunContent))
		} else {
			disable(types.CategoryContent)
		}
	}

	if cfg.UnifiedVisual && (cfg.DesktopVisual || cfg.MobileVisual) {
		categories := []string{}
		if cfg.DesktopVisual {
			categories = append(categories, types.CategoryDesktopVisual)
		} else {
			disable(types.CategoryDesktopVisual)
		}
		if cfg.MobileVisual {
			categories = append(categories, types.CategoryMobileVisual)
		} else {
			disable(types.CategoryMobileVisual)
		}
		plan.Tasks = append(plan.Tasks, Task{
			Name:       "unified-visual",
			Categories: categories,
			Run:        r.analyzers.runUnifiedVisual(categories),
		})
	} else {
		if cfg.DesktopVisual {
			plan.Tasks = append(plan.Tasks, r.single(types.CategoryDesktopVisual, r.analyzers.RunDesktopVisual))
		} else {
			disable(types.CategoryDesktopVisual)
		}
		if cfg.MobileVisual {
			plan.Tasks = append(plan.Tasks, r.single(types.CategoryMobileVisual, r.analyzers.RunMobileVisual))
		} else {
			disable(types.CategoryMobileVisual)
		}
	}

	if cfg.Social {
		plan.Tasks = append(plan.Tasks, r.single(types.CategorySocial, r.analyzers.RunSocial))
	} else {
		disable(types.CategorySocial)
	}
	if cfg.Accessibility {
		plan.Tasks = append(plan.Tasks, r.single(types.CategoryAccessibility, r.analyzers.RunAccessibility))
	} else {
		disable(types.CategoryAccessibility)
	}

	return plan
}

func (r *Registry) single(category string, run func(ctx context.Context, in *Input) (*types.AnalyzerResult, error)) Task {
	return Task{
		Name:       category,
		Categories: []string{category},
		Run: func(ctx context.Context, in *Input) (map[string]*types.AnalyzerResult, error) {
			result, err := run(ctx, in)
			if err != nil {
				return nil, err
			}
			return map[string]*types.AnalyzerResult{category: result}, nil
		},
	}
}
