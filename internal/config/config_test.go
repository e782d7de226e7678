package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if !cfg.Analyzers.SEO || !cfg.Analyzers.Accessibility {
		t.Error("expected all analyzers enabled by default")
	}
	if cfg.Crawler.Concurrency != 3 {
		t.Errorf("default concurrency = %d, want 3", cfg.Crawler.Concurrency)
	}
	if cfg.Validation.ConfidenceThreshold != 0.5 {
		t.Errorf("default confidence threshold = %v, want 0.5", cfg.Validation.ConfidenceThreshold)
	}
	if cfg.Ranking.Limit != 5 {
		t.Errorf("default ranking limit = %d, want 5", cfg.Ranking.Limit)
	}
}

func TestAnalyzerToggleEnvContract(t *testing.T) {
	// Only the literal "false" disables an analyzer.
	tests := []struct {
		value string
		want  bool
	}{
		{"false", false},
		{"true", true},
		{"0", true},
		{"no", true},
		{"FALSE", true},
	}
	for _, tt := range tests {
		t.Setenv("ENABLE_SEO_ANALYZER", tt.value)
		cfg := Default()
		cfg.applyEnvOverrides()
		if cfg.Analyzers.SEO != tt.want {
			t.Errorf("ENABLE_SEO_ANALYZER=%q: enabled = %v, want %v", tt.value, cfg.Analyzers.SEO, tt.want)
		}
	}
}

func TestSeverityFilterEnv(t *testing.T) {
	t.Setenv("TOP_ISSUES_SEVERITY_FILTER", "critical, High ,medium")
	cfg := Default()
	cfg.applyEnvOverrides()

	want := []string{"critical", "high", "medium"}
	if len(cfg.Ranking.SeverityFilter) != len(want) {
		t.Fatalf("filter = %v, want %v", cfg.Ranking.SeverityFilter, want)
	}
	for i, s := range want {
		if cfg.Ranking.SeverityFilter[i] != s {
			t.Errorf("filter[%d] = %q, want %q", i, cfg.Ranking.SeverityFilter[i], s)
		}
	}
}

func TestValidationEnvOverrides(t *testing.T) {
	t.Setenv("ENABLE_QA_VALIDATION", "false")
	t.Setenv("MAX_ISSUES_TO_VALIDATE", "25")
	t.Setenv("VALIDATION_CONFIDENCE_THRESHOLD", "0.8")
	t.Setenv("SKIP_LOW_CONFIDENCE_ARTIFACTS", "false")

	cfg := Default()
	cfg.applyEnvOverrides()

	if cfg.Validation.Enabled {
		t.Error("expected validation disabled")
	}
	if cfg.Validation.MaxIssues != 25 {
		t.Errorf("max issues = %d, want 25", cfg.Validation.MaxIssues)
	}
	if cfg.Validation.ConfidenceThreshold != 0.8 {
		t.Errorf("threshold = %v, want 0.8", cfg.Validation.ConfidenceThreshold)
	}
	if cfg.Validation.SkipArtifacts {
		t.Error("expected skip artifacts disabled")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load with missing file: %v", err)
	}
	if cfg.Crawler.Concurrency != 3 {
		t.Errorf("concurrency = %d, want default 3", cfg.Crawler.Concurrency)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("crawler:\n  concurrency: 7\nranking:\n  limit: 3\n")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Crawler.Concurrency != 7 {
		t.Errorf("concurrency = %d, want 7", cfg.Crawler.Concurrency)
	}
	if cfg.Ranking.Limit != 3 {
		t.Errorf("limit = %d, want 3", cfg.Ranking.Limit)
	}
	// Untouched sections keep defaults.
	if cfg.Validation.MaxIssues != 50 {
		t.Errorf("max issues = %d, want default 50", cfg.Validation.MaxIssues)
	}
}

func TestDedupModelDefaultsToMainModel(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Dedup.Model != cfg.AI.Model {
		t.Errorf("dedup model = %q, want %q", cfg.Dedup.Model, cfg.AI.Model)
	}
}
