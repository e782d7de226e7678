package types

import "testing"

func TestSeverityRank(t *testing.T) {
	tests := []struct {
		severity string
		want     int
	}{
		{"critical", 4},
		{"high", 3},
		{"medium", 2},
		{"low", 1},
		{"CRITICAL", 4},
		{"unknown", 2}, // unknown defaults to medium
		{"", 2},
	}
	for _, tt := range tests {
		if got := SeverityRank(tt.severity); got != tt.want {
			t.Errorf("SeverityRank(%q) = %d, want %d", tt.severity, got, tt.want)
		}
	}
}

func TestMaxSeverity(t *testing.T) {
	tests := []struct {
		a, b, want string
	}{
		{"high", "medium", "high"},
		{"low", "critical", "critical"},
		{"medium", "medium", "medium"},
		{"bogus", "low", "medium"}, // unknown treated as medium
	}
	for _, tt := range tests {
		if got := MaxSeverity(tt.a, tt.b); got != tt.want {
			t.Errorf("MaxSeverity(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestEscalateSeverity(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"low", "medium"},
		{"medium", "high"},
		{"high", "critical"},
		{"critical", "critical"}, // saturates
	}
	for _, tt := range tests {
		if got := EscalateSeverity(tt.in); got != tt.want {
			t.Errorf("EscalateSeverity(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGradeFor(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{95, "A"},
		{90, "A"},
		{89.9, "B"},
		{80, "B"},
		{75, "C"},
		{65, "D"},
		{59.9, "F"},
		{0, "F"},
	}
	for _, tt := range tests {
		if got := GradeFor(tt.score); got != tt.want {
			t.Errorf("GradeFor(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestNormalizeTitleIdentity(t *testing.T) {
	titles := []string{
		"Missing alt text on 33% of images!",
		"  Broken   links  ",
		"CTA button too small (mobile)",
	}
	for _, title := range titles {
		once := NormalizeTitle(title)
		twice := NormalizeTitle(once)
		if once != twice {
			t.Errorf("NormalizeTitle not idempotent: %q -> %q -> %q", title, once, twice)
		}
	}
}

func TestJaccardSimilarity(t *testing.T) {
	if sim := JaccardSimilarity("missing alt text", "missing alt text"); sim != 1.0 {
		t.Errorf("identical titles: got %v, want 1.0", sim)
	}
	if sim := JaccardSimilarity("missing alt text", "completely different thing here"); sim != 0 {
		t.Errorf("disjoint titles: got %v, want 0", sim)
	}
	// 3 shared of 4 union: {missing, alt, text} vs {missing, alt, text, images}
	sim := JaccardSimilarity("missing alt text", "missing alt text images")
	if sim < 0.74 || sim > 0.76 {
		t.Errorf("partial overlap: got %v, want 0.75", sim)
	}
}

func TestDefaultAnalyzerResult(t *testing.T) {
	r := DefaultAnalyzerResult("seo", "disabled via config")
	if r.Score != NeutralScore {
		t.Errorf("score = %v, want %v", r.Score, NeutralScore)
	}
	if len(r.Issues) != 0 {
		t.Errorf("expected empty issues, got %d", len(r.Issues))
	}
	if !r.Meta.Disabled {
		t.Error("expected Meta.Disabled")
	}
}
