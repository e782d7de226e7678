package logging

import "testing"

func TestGetReturnsSameLoggerPerCategory(t *testing.T) {
	InitializeForTest()

	a := Get(CategoryCrawl)
	b := Get(CategoryCrawl)
	if a != b {
		t.Error("expected the same logger instance for repeated Get calls")
	}

	c := Get(CategoryBackup)
	if a == c {
		t.Error("expected distinct loggers for distinct categories")
	}
}

func TestInitializeLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus", ""} {
		if err := Initialize(level); err != nil {
			t.Errorf("Initialize(%q) returned error: %v", level, err)
		}
	}
	InitializeForTest()
}
