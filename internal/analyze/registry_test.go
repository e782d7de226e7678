package analyze

import (
	"context"
	"testing"

	"sitegrader/internal/ai"
	"sitegrader/internal/config"
	"sitegrader/internal/types"
)

func allOn() config.AnalyzersConfig {
	return config.AnalyzersConfig{
		SEO: true, Content: true, DesktopVisual: true,
		MobileVisual: true, Social: true, Accessibility: true,
	}
}

func testRegistry(caller ai.Caller) *Registry {
	return NewRegistry(NewAnalyzers(caller, ai.NewLibrary("test-model"), nil))
}

func TestResolveAllEnabled(t *testing.T) {
	plan := testRegistry(nil).Resolve(allOn())
	if len(plan.Tasks) != 6 {
		t.Fatalf("tasks = %d, want 6", len(plan.Tasks))
	}
	if len(plan.Defaults) != 0 || len(plan.Disabled) != 0 {
		t.Errorf("unexpected defaults: %v", plan.Disabled)
	}
}

func TestResolveAllDisabled(t *testing.T) {
	plan := testRegistry(nil).Resolve(config.AnalyzersConfig{})
	if len(plan.Tasks) != 0 {
		t.Fatalf("tasks = %d, want 0", len(plan.Tasks))
	}
	if len(plan.Defaults) != 6 {
		t.Fatalf("defaults = %d, want 6", len(plan.Defaults))
	}
	for _, category := range types.CanonicalCategories {
		def, ok := plan.Defaults[category]
		if !ok {
			t.Errorf("no default for %s", category)
			continue
		}
		if def.Score != types.NeutralScore || !def.Meta.Disabled || def.Issues == nil || len(def.Issues) != 0 {
			t.Errorf("malformed default for %s: %+v", category, def)
		}
	}
}

func TestResolveUnifiedTechnical(t *testing.T) {
	cfg := allOn()
	cfg.UnifiedTech = true
	plan := testRegistry(nil).Resolve(cfg)

	if len(plan.Tasks) != 5 {
		t.Fatalf("tasks = %d, want 5 (unified-technical + 4)", len(plan.Tasks))
	}
	var unified *Task
	for i := range plan.Tasks {
		if plan.Tasks[i].Name == "unified-technical" {
			unified = &plan.Tasks[i]
		}
	}
	if unified == nil {
		t.Fatal("unified-technical task not scheduled")
	}
	if len(unified.Categories) != 2 {
		t.Errorf("unified categories = %v", unified.Categories)
	}
}

func TestResolveUnifiedHalfDisabled(t *testing.T) {
	cfg := allOn()
	cfg.UnifiedVisual = true
	cfg.MobileVisual = false
	plan := testRegistry(nil).Resolve(cfg)

	var unified *Task
	for i := range plan.Tasks {
		if plan.Tasks[i].Name == "unified-visual" {
			unified = &plan.Tasks[i]
		}
	}
	if unified == nil {
		t.Fatal("unified-visual task not scheduled")
	}
	if len(unified.Categories) != 1 || unified.Categories[0] != types.CategoryDesktopVisual {
		t.Errorf("unified categories = %v", unified.Categories)
	}
	if _, ok := plan.Defaults[types.CategoryMobileVisual]; !ok {
		t.Error("disabled mobile half has no default")
	}
}

func TestUnifiedSplitProducesPerCategoryResults(t *testing.T) {
	caller := &mockCaller{callFunc: func(ctx context.Context, req ai.Request) (*ai.Response, error) {
		return &ai.Response{Content: `{
			"seo": {"score": 72, "issues": [{"title": "missing sitemap", "severity": "high"}]},
			"content": {"score": 65, "issues": []}
		}`}, nil
	}}
	cfg := allOn()
	cfg.UnifiedTech = true
	plan := testRegistry(caller).Resolve(cfg)

	var unified Task
	for _, task := range plan.Tasks {
		if task.Name == "unified-technical" {
			unified = task
		}
	}

	results, err := unified.Run(context.Background(), &Input{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[types.CategorySEO].Score != 72 || results[types.CategoryContent].Score != 65 {
		t.Errorf("split scores wrong: %+v", results)
	}
	if len(results[types.CategorySEO].Issues) != 1 {
		t.Errorf("seo issues = %+v", results[types.CategorySEO].Issues)
	}
	iss := results[types.CategorySEO].Issues[0]
	if iss.ID == "" || iss.Category != types.CategorySEO || iss.Source != types.CategorySEO {
		t.Errorf("issue not normalized: %+v", iss)
	}
}
