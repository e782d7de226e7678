// Package config holds all sitegrader configuration: analyzer toggles,
// validation and ranking knobs, crawler limits, AI provider settings, and
// backup paths. Configuration is loaded from YAML and then overridden by
// environment variables, which are the authoritative surface for deployment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration tree.
type Config struct {
	AI         AIConfig         `yaml:"ai"`
	Analyzers  AnalyzersConfig  `yaml:"analyzers"`
	Crawler    CrawlerConfig    `yaml:"crawler"`
	Validation ValidationConfig `yaml:"validation"`
	Dedup      DedupConfig      `yaml:"deduplication"`
	Ranking    RankingConfig    `yaml:"ranking"`
	Grading    GradingConfig    `yaml:"grading"`
	Backup     BackupConfig     `yaml:"backup"`
	Store      StoreConfig      `yaml:"store"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// AIConfig configures the model provider.
type AIConfig struct {
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	VisionModel string        `yaml:"vision_model"`
	Timeout     time.Duration `yaml:"timeout"`
}

// AnalyzersConfig holds the per-analyzer toggles and the unified-mode
// switches. Any env setting other than the literal "false" leaves an
// analyzer on.
type AnalyzersConfig struct {
	SEO            bool `yaml:"seo"`
	Content        bool `yaml:"content"`
	DesktopVisual  bool `yaml:"desktop_visual"`
	MobileVisual   bool `yaml:"mobile_visual"`
	Social         bool `yaml:"social"`
	Accessibility  bool `yaml:"accessibility"`
	UnifiedVisual  bool `yaml:"use_unified_visual"`
	UnifiedTech    bool `yaml:"use_unified_technical"`
	CrossPage      bool `yaml:"cross_page_context"`
	CrossAnalyzer  bool `yaml:"cross_analyzer_context"`
	MaxPagesPerMod int  `yaml:"max_pages_per_module"`
}

// CrawlerConfig bounds the crawl stage.
type CrawlerConfig struct {
	Concurrency    int           `yaml:"concurrency"`
	PageTimeout    time.Duration `yaml:"page_timeout"`
	MaxPages       int           `yaml:"max_pages"`
	ScreenshotsDir string        `yaml:"screenshots_dir"`
}

// ValidationConfig gates the screenshot-evidence validation pipeline.
type ValidationConfig struct {
	Enabled             bool    `yaml:"enabled"`
	MaxIssues           int     `yaml:"max_issues"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	SkipArtifacts       bool    `yaml:"skip_low_confidence_artifacts"`
}

// DedupConfig configures AI issue deduplication.
type DedupConfig struct {
	Model string `yaml:"model"`
}

// RankingConfig configures top-issue selection.
type RankingConfig struct {
	SeverityFilter []string `yaml:"severity_filter"`
	Limit          int      `yaml:"limit"`
}

// GradingConfig selects fixed-weight or AI grading.
type GradingConfig struct {
	UseAI bool `yaml:"use_ai"`
}

// BackupConfig locates the local-first backup tiers.
type BackupConfig struct {
	RootDir string `yaml:"root_dir"`
}

// StoreConfig locates the relational store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when nothing is specified: all six
// analyzers on, validation on, fixed-weight grading off the table only when
// AI grading is requested.
func Default() *Config {
	return &Config{
		AI: AIConfig{
			Model:       "gemini-2.5-flash",
			VisionModel: "gemini-2.5-flash",
			Timeout:     120 * time.Second,
		},
		Analyzers: AnalyzersConfig{
			SEO:            true,
			Content:        true,
			DesktopVisual:  true,
			MobileVisual:   true,
			Social:         true,
			Accessibility:  true,
			CrossPage:      true,
			CrossAnalyzer:  true,
			MaxPagesPerMod: 5,
		},
		Crawler: CrawlerConfig{
			Concurrency:    3,
			PageTimeout:    30 * time.Second,
			MaxPages:       15,
			ScreenshotsDir: "screenshots",
		},
		Validation: ValidationConfig{
			Enabled:             true,
			MaxIssues:           50,
			ConfidenceThreshold: 0.5,
			SkipArtifacts:       true,
		},
		Ranking: RankingConfig{
			SeverityFilter: []string{"critical", "high"},
			Limit:          5,
		},
		Grading: GradingConfig{UseAI: true},
		Backup:  BackupConfig{RootDir: "local-backups"},
		Store:   StoreConfig{DatabasePath: "sitegrader.db"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads a YAML config file over the defaults and applies environment
// overrides. A missing file is not an error; env-only deployments are the
// common case.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.normalize()
	return cfg, nil
}

// applyEnvOverrides maps the deployment environment variables onto the
// config tree. Analyzer toggles follow the "anything but literal false is
// on" rule.
func (c *Config) applyEnvOverrides() {
	c.Analyzers.SEO = envToggle("ENABLE_SEO_ANALYZER", c.Analyzers.SEO)
	c.Analyzers.Content = envToggle("ENABLE_CONTENT_ANALYZER", c.Analyzers.Content)
	c.Analyzers.DesktopVisual = envToggle("ENABLE_DESKTOP_VISUAL_ANALYZER", c.Analyzers.DesktopVisual)
	c.Analyzers.MobileVisual = envToggle("ENABLE_MOBILE_VISUAL_ANALYZER", c.Analyzers.MobileVisual)
	c.Analyzers.Social = envToggle("ENABLE_SOCIAL_ANALYZER", c.Analyzers.Social)
	c.Analyzers.Accessibility = envToggle("ENABLE_ACCESSIBILITY_ANALYZER", c.Analyzers.Accessibility)

	if v := os.Getenv("USE_UNIFIED_VISUAL_ANALYZER"); v != "" {
		c.Analyzers.UnifiedVisual = v == "true"
	}
	if v := os.Getenv("USE_UNIFIED_TECHNICAL_ANALYZER"); v != "" {
		c.Analyzers.UnifiedTech = v == "true"
	}

	if v := os.Getenv("ENABLE_QA_VALIDATION"); v != "" {
		c.Validation.Enabled = v != "false"
	}
	if v := os.Getenv("MAX_ISSUES_TO_VALIDATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Validation.MaxIssues = n
		}
	}
	if v := os.Getenv("VALIDATION_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			c.Validation.ConfidenceThreshold = f
		}
	}
	if v := os.Getenv("SKIP_LOW_CONFIDENCE_ARTIFACTS"); v != "" {
		c.Validation.SkipArtifacts = v != "false"
	}

	if v := os.Getenv("TOP_ISSUES_SEVERITY_FILTER"); v != "" {
		var filter []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(strings.ToLower(s)); s != "" {
				filter = append(filter, s)
			}
		}
		if len(filter) > 0 {
			c.Ranking.SeverityFilter = filter
		}
	}

	if v := os.Getenv("DEDUPLICATION_MODEL"); v != "" {
		c.Dedup.Model = v
	}
	if v := os.Getenv("USE_AI_GRADING"); v != "" {
		c.Grading.UseAI = v != "false"
	}

	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.AI.APIKey = v
	}
	if v := os.Getenv("SITEGRADER_MODEL"); v != "" {
		c.AI.Model = v
	}
	if v := os.Getenv("SITEGRADER_BACKUP_DIR"); v != "" {
		c.Backup.RootDir = v
	}
	if v := os.Getenv("SITEGRADER_DB"); v != "" {
		c.Store.DatabasePath = v
	}
	if v := os.Getenv("SITEGRADER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// envToggle implements the analyzer toggle contract: unset keeps the current
// value, and any set value other than the literal "false" turns it on.
func envToggle(key string, current bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return current
	}
	return v != "false"
}

// normalize backfills zero values left by a sparse YAML file.
func (c *Config) normalize() {
	if c.Crawler.Concurrency <= 0 {
		c.Crawler.Concurrency = 3
	}
	if c.Crawler.PageTimeout <= 0 {
		c.Crawler.PageTimeout = 30 * time.Second
	}
	if c.Validation.MaxIssues <= 0 {
		c.Validation.MaxIssues = 50
	}
	if c.Validation.ConfidenceThreshold <= 0 {
		c.Validation.ConfidenceThreshold = 0.5
	}
	if c.Ranking.Limit <= 0 {
		c.Ranking.Limit = 5
	}
	if len(c.Ranking.SeverityFilter) == 0 {
		c.Ranking.SeverityFilter = []string{"critical", "high"}
	}
	if c.Analyzers.MaxPagesPerMod <= 0 {
		c.Analyzers.MaxPagesPerMod = 5
	}
	if c.Dedup.Model == "" {
		c.Dedup.Model = c.AI.Model
	}
}
