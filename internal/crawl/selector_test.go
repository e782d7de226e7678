package crawl

import (
	"context"
	"errors"
	"testing"

	"sitegrader/internal/ai"
	"sitegrader/internal/types"
)

// mockCaller implements ai.Caller for testing.
type mockCaller struct {
	callFunc func(ctx context.Context, req ai.Request) (*ai.Response, error)
}

func (m *mockCaller) Call(ctx context.Context, req ai.Request) (*ai.Response, error) {
	if m.callFunc != nil {
		return m.callFunc(ctx, req)
	}
	return &ai.Response{Content: "{}"}, nil
}

func testDiscovery(urls ...string) *types.Discovery {
	return &types.Discovery{URLs: urls, TotalPages: len(urls)}
}

func TestSelectWithAI(t *testing.T) {
	caller := &mockCaller{callFunc: func(ctx context.Context, req ai.Request) (*ai.Response, error) {
		return &ai.Response{Content: `{
			"seo_pages": ["/", "/services"],
			"content_pages": ["/about"],
			"visual_pages": ["/"],
			"social_pages": ["/contact"],
			"reasoning": "core pages"
		}`}, nil
	}}

	s := NewPageSelector(caller, ai.NewLibrary("m"), 5)
	sel := s.Select(context.Background(), testDiscovery("/", "/about", "/services", "/contact"), types.BusinessContext{})

	if len(sel.SEOPages) != 2 || sel.SEOPages[0] != "/" {
		t.Errorf("SEOPages = %v", sel.SEOPages)
	}
	if sel.Reasoning != "core pages" {
		t.Errorf("reasoning = %q", sel.Reasoning)
	}
	// union of {/, /services, /about, /contact}
	if len(sel.UniquePages) != 4 {
		t.Errorf("UniquePages = %v, want 4 entries", sel.UniquePages)
	}
}

func TestSelectDropsUnknownURLs(t *testing.T) {
	caller := &mockCaller{callFunc: func(ctx context.Context, req ai.Request) (*ai.Response, error) {
		return &ai.Response{Content: `{
			"seo_pages": ["/", "/hallucinated"],
			"content_pages": [],
			"visual_pages": [],
			"social_pages": [],
			"reasoning": "r"
		}`}, nil
	}}

	s := NewPageSelector(caller, ai.NewLibrary("m"), 5)
	sel := s.Select(context.Background(), testDiscovery("/", "/about"), types.BusinessContext{})

	for _, u := range sel.UniquePages {
		if u == "/hallucinated" {
			t.Error("URL outside discovered set was not dropped")
		}
	}
	if len(sel.SEOPages) != 1 {
		t.Errorf("SEOPages = %v, want just /", sel.SEOPages)
	}
}

// Heuristic fallback: AI throws; discovered URLs contain the classic page
// set. Selection must continue without error and stay within the
// discovered set.
func TestSelectHeuristicFallback(t *testing.T) {
	caller := &mockCaller{callFunc: func(ctx context.Context, req ai.Request) (*ai.Response, error) {
		return nil, errors.New("model unavailable")
	}}

	discovered := testDiscovery("/", "/about", "/services", "/contact", "/blog/post-1")
	s := NewPageSelector(caller, ai.NewLibrary("m"), 3)
	sel := s.Select(context.Background(), discovered, types.BusinessContext{})

	inDiscovered := map[string]bool{}
	for _, u := range discovered.URLs {
		inDiscovered[u] = true
	}

	for _, set := range [][]string{sel.SEOPages, sel.ContentPages, sel.VisualPages, sel.SocialPages} {
		if len(set) == 0 || set[0] != "/" {
			t.Errorf("category does not start with homepage: %v", set)
		}
		if len(set) > 3 {
			t.Errorf("category exceeds maxPagesPerModule: %v", set)
		}
		for _, u := range set {
			if !inDiscovered[u] {
				t.Errorf("selected URL %q not in discovered set", u)
			}
		}
	}
}

func TestSelectEmptyDiscovery(t *testing.T) {
	s := NewPageSelector(&mockCaller{}, ai.NewLibrary("m"), 5)
	sel := s.Select(context.Background(), testDiscovery(), types.BusinessContext{})

	if len(sel.UniquePages) != 0 {
		t.Errorf("expected empty selection, got %v", sel.UniquePages)
	}
}

func TestSelectNilCallerUsesHeuristic(t *testing.T) {
	s := NewPageSelector(nil, ai.NewLibrary("m"), 5)
	sel := s.Select(context.Background(), testDiscovery("/", "/about"), types.BusinessContext{})

	if len(sel.UniquePages) == 0 {
		t.Error("expected heuristic selection with nil caller")
	}
}
