// Package logging provides categorized structured logging for sitegrader,
// backed by zap. Each pipeline subsystem logs under its own category so a
// single run's discovery, crawl, analysis, and persistence activity can be
// filtered independently.
package logging

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryDiscovery  Category = "discovery"  // Sitemap/robots/fallback enumeration
	CategorySelection  Category = "selection"  // AI page selection
	CategoryCrawl      Category = "crawl"      // Page fetch + screenshot capture
	CategoryAnalyzers  Category = "analyzers"  // Analyzer registry and runtime
	CategoryContext    Category = "context"    // Context accumulator
	CategoryValidation Category = "validation" // Artifact detection + vision validation
	CategoryIssues     Category = "issues"     // Dedup and ranking
	CategoryPipeline   Category = "pipeline"   // Orchestrator stage transitions
	CategoryBackup     Category = "backup"     // Local backup store
	CategoryStore      Category = "store"      // DataStore operations
	CategoryBenchmark  Category = "benchmark"  // Benchmark matching and ingestion
	CategoryAI         Category = "ai"         // Model API calls
	CategoryBrowser    Category = "browser"    // Headless browser capture
)

var (
	mu      sync.RWMutex
	root    *zap.SugaredLogger
	loggers = make(map[Category]*zap.SugaredLogger)
)

// Initialize configures the root logger. Level is one of debug, info, warn,
// error; anything else falls back to info. Safe to call more than once; the
// last call wins.
func Initialize(level string) error {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	root = logger.Sugar()
	loggers = make(map[Category]*zap.SugaredLogger)
	return nil
}

// InitializeForTest swaps in a no-op logger. Used by tests that do not want
// log output on stderr.
func InitializeForTest() {
	mu.Lock()
	defer mu.Unlock()
	root = zap.NewNop().Sugar()
	loggers = make(map[Category]*zap.SugaredLogger)
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Get returns the logger for a category, creating it on first use. If
// Initialize was never called, a default production logger is built lazily
// so library consumers get output without ceremony.
func Get(category Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	if root == nil {
		logger, err := zap.NewProduction()
		if err != nil {
			// zap.NewProduction only fails on bad config; fall back to stderr.
			os.Stderr.WriteString("logging: failed to build logger: " + err.Error() + "\n")
			logger = zap.NewNop()
		}
		root = logger.Sugar()
	}
	l := root.Named(string(category))
	loggers[category] = l
	return l
}

// Sync flushes buffered log entries. Called on process shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if root != nil {
		_ = root.Sync()
	}
}
