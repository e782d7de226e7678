package benchmark

import (
	"context"
	"errors"
	"testing"

	"sitegrader/internal/ai"
	"sitegrader/internal/logging"
	"sitegrader/internal/store"
	"sitegrader/internal/types"
)

func init() {
	logging.InitializeForTest()
}

type mockCaller struct {
	callFunc func(ctx context.Context, req ai.Request) (*ai.Response, error)
	calls    []string
}

func (m *mockCaller) Call(ctx context.Context, req ai.Request) (*ai.Response, error) {
	m.calls = append(m.calls, req.Caller)
	if m.callFunc != nil {
		return m.callFunc(ctx, req)
	}
	return &ai.Response{Content: `{}`}, nil
}

// fakeStore scripts benchmark lookups without SQLite.
type fakeStore struct {
	store.DataStore

	byIndustry []*store.Benchmark
	general    []*store.Benchmark
	byURL      map[string]*store.Benchmark
	saved      []*store.Benchmark
	updated    []*store.Benchmark
	lookupErr  error
}

func (f *fakeStore) GetBenchmarksByIndustry(ctx context.Context, industry string, tiers []string, limit int) ([]*store.Benchmark, error) {
	return f.byIndustry, f.lookupErr
}

func (f *fakeStore) GetBenchmarks(ctx context.Context, tiers []string, limit int) ([]*store.Benchmark, error) {
	return f.general, f.lookupErr
}

func (f *fakeStore) GetBenchmarkByURL(ctx context.Context, url string) (*store.Benchmark, error) {
	if b, ok := f.byURL[url]; ok {
		return b, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) SaveBenchmark(ctx context.Context, b *store.Benchmark) (int64, error) {
	f.saved = append(f.saved, b)
	return int64(len(f.saved)), nil
}

func (f *fakeStore) UpdateBenchmark(ctx context.Context, b *store.Benchmark) error {
	f.updated = append(f.updated, b)
	return nil
}

func candidateFixture() []*store.Benchmark {
	return []*store.Benchmark{
		{CompanyName: "Best Plumbing Co", Tier: "regional", Industry: "plumbing",
			Scores: &types.CategoryScores{Design: 80, SEO: 85, Performance: 82, Content: 78, Accessibility: 70, Social: 60}},
		{CompanyName: "Metro Drain Experts", Tier: "local", Industry: "plumbing",
			Scores: &types.CategoryScores{Design: 90, SEO: 92, Performance: 88, Content: 85, Accessibility: 80, Social: 75}},
	}
}

func matchResponse(name string) *mockCaller {
	return &mockCaller{callFunc: func(ctx context.Context, req ai.Request) (*ai.Response, error) {
		return &ai.Response{Content: `{
			"benchmark_company_name": "` + name + `",
			"match_score": 0.85,
			"comparison_tier": "regional",
			"match_reasoning": "same trade, similar footprint",
			"key_similarities": ["local service area"],
			"key_differences": ["stronger reviews"]
		}`}, nil
	}}
}

func TestMatchExactName(t *testing.T) {
	st := &fakeStore{byIndustry: candidateFixture()}
	m := NewMatcher(st, matchResponse("Best Plumbing Co"), ai.NewLibrary("m"), nil, 0, nil)

	cmp := m.Match(context.Background(), types.BusinessContext{CompanyName: "Acme", Industry: "plumbing"})
	if cmp == nil {
		t.Fatal("no comparison returned")
	}
	if cmp.CompanyName != "Best Plumbing Co" || cmp.Tier != "regional" {
		t.Errorf("comparison = %+v", cmp)
	}
	if cmp.MatchScore != 0.85 || cmp.FallbackUsed {
		t.Errorf("comparison = %+v", cmp)
	}
	if cmp.Scores == nil || cmp.Scores.SEO != 85 {
		t.Errorf("scores not carried from candidate: %+v", cmp.Scores)
	}
	if len(cmp.KeySimilarities) != 1 || len(cmp.KeyDifferences) != 1 {
		t.Errorf("similarities/differences lost: %+v", cmp)
	}
}

func TestMatchCaseInsensitiveName(t *testing.T) {
	st := &fakeStore{byIndustry: candidateFixture()}
	m := NewMatcher(st, matchResponse("best plumbing co"), ai.NewLibrary("m"), nil, 0, nil)

	cmp := m.Match(context.Background(), types.BusinessContext{Industry: "plumbing"})
	if cmp == nil || cmp.CompanyName != "Best Plumbing Co" {
		t.Errorf("comparison = %+v", cmp)
	}
}

func TestMatchSubstringName(t *testing.T) {
	st := &fakeStore{byIndustry: candidateFixture()}
	m := NewMatcher(st, matchResponse("Metro Drain"), ai.NewLibrary("m"), nil, 0, nil)

	cmp := m.Match(context.Background(), types.BusinessContext{Industry: "plumbing"})
	if cmp == nil || cmp.CompanyName != "Metro Drain Experts" {
		t.Errorf("comparison = %+v", cmp)
	}
}

func TestMatchUnknownNameFallsBack(t *testing.T) {
	st := &fakeStore{byIndustry: candidateFixture()}
	m := NewMatcher(st, matchResponse("Completely Different Biz"), ai.NewLibrary("m"), nil, 0, nil)

	cmp := m.Match(context.Background(), types.BusinessContext{Industry: "plumbing"})
	if cmp == nil {
		t.Fatal("fallback returned nil")
	}
	if !cmp.FallbackUsed || cmp.MatchScore != 0 {
		t.Errorf("comparison = %+v", cmp)
	}
	// Highest mean score wins the fallback.
	if cmp.CompanyName != "Metro Drain Experts" {
		t.Errorf("fallback picked %s", cmp.CompanyName)
	}
}

func TestMatchModelErrorFallsBack(t *testing.T) {
	st := &fakeStore{byIndustry: candidateFixture()}
	caller := &mockCaller{callFunc: func(ctx context.Context, req ai.Request) (*ai.Response, error) {
		return nil, errors.New("model down")
	}}
	m := NewMatcher(st, caller, ai.NewLibrary("m"), nil, 0, nil)

	cmp := m.Match(context.Background(), types.BusinessContext{Industry: "plumbing"})
	if cmp == nil || !cmp.FallbackUsed {
		t.Errorf("comparison = %+v", cmp)
	}
}

func TestMatchNoCandidatesReturnsNil(t *testing.T) {
	st := &fakeStore{}
	caller := &mockCaller{}
	m := NewMatcher(st, caller, ai.NewLibrary("m"), nil, 0, nil)

	if cmp := m.Match(context.Background(), types.BusinessContext{Industry: "plumbing"}); cmp != nil {
		t.Errorf("comparison = %+v, want nil", cmp)
	}
	if len(caller.calls) != 0 {
		t.Error("model called with no candidates")
	}
}

func TestMatchFallsBackToGeneralPool(t *testing.T) {
	st := &fakeStore{general: candidateFixture()}
	m := NewMatcher(st, matchResponse("Best Plumbing Co"), ai.NewLibrary("m"), nil, 0, nil)

	cmp := m.Match(context.Background(), types.BusinessContext{Industry: "exotic-industry"})
	if cmp == nil || cmp.CompanyName != "Best Plumbing Co" {
		t.Errorf("comparison = %+v", cmp)
	}
}

func TestMatchStoreErrorReturnsNil(t *testing.T) {
	st := &fakeStore{lookupErr: errors.New("db down")}
	m := NewMatcher(st, &mockCaller{}, ai.NewLibrary("m"), nil, 0, nil)

	if cmp := m.Match(context.Background(), types.BusinessContext{Industry: "plumbing"}); cmp != nil {
		t.Errorf("comparison = %+v, want nil", cmp)
	}
}

func TestResolveCandidateOrder(t *testing.T) {
	candidates := []*store.Benchmark{
		{CompanyName: "Acme"},
		{CompanyName: "acme"},
	}
	// Exact beats case-insensitive.
	if got := resolveCandidate(candidates, "acme"); got != candidates[1] {
		t.Errorf("resolved %+v", got)
	}
	if got := resolveCandidate(candidates, "ACME"); got != candidates[0] {
		t.Errorf("case-insensitive resolved %+v", got)
	}
	if got := resolveCandidate(candidates, "nothing alike"); got != nil {
		t.Errorf("resolved %+v, want nil", got)
	}
}
