package crawl

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"sitegrader/internal/ai"
	"sitegrader/internal/logging"
	"sitegrader/internal/types"
)

// PageSelector curates the discovered URL set into per-category page
// assignments. The AI selection is sanity-checked against the discovered
// set; on model failure a deterministic keyword heuristic takes over, so
// selection never fails the pipeline.
type PageSelector struct {
	caller  ai.Caller
	prompts *ai.Library
	maxPer  int
}

// NewPageSelector creates a selector. maxPerModule bounds each category's
// page count; zero means the default of 5.
func NewPageSelector(caller ai.Caller, prompts *ai.Library, maxPerModule int) *PageSelector {
	if maxPerModule <= 0 {
		maxPerModule = 5
	}
	return &PageSelector{caller: caller, prompts: prompts, maxPer: maxPerModule}
}

// aiSelection mirrors the model's JSON response.
type aiSelection struct {
	SEOPages     []string `json:"seo_pages"`
	ContentPages []string `json:"content_pages"`
	VisualPages  []string `json:"visual_pages"`
	SocialPages  []string `json:"social_pages"`
	Reasoning    string   `json:"reasoning"`
}

// Select assigns discovered URLs to analyzer categories.
func (s *PageSelector) Select(ctx context.Context, discovery *types.Discovery, business types.BusinessContext) *types.PageSelection {
	log := logging.Get(logging.CategorySelection)

	if len(discovery.URLs) == 0 {
		return &types.PageSelection{Reasoning: "no pages discovered"}
	}

	selection, err := s.selectWithAI(ctx, discovery, business)
	if err != nil {
		log.Warnw("AI page selection failed, using heuristic fallback", "error", err)
		selection = s.selectHeuristic(discovery)
	}

	selection.UniquePages = unionPages(
		selection.SEOPages, selection.ContentPages,
		selection.VisualPages, selection.SocialPages,
	)
	log.Infow("page selection complete",
		"unique", len(selection.UniquePages), "reasoning", selection.Reasoning)
	return selection
}

func (s *PageSelector) selectWithAI(ctx context.Context, discovery *types.Discovery, business types.BusinessContext) (*types.PageSelection, error) {
	if s.caller == nil {
		return nil, fmt.Errorf("no model caller configured")
	}

	businessJSON, _ := json.Marshal(business)
	prompt, err := s.prompts.Load("page-selection", map[string]string{
		"business":  string(businessJSON),
		"max_pages": fmt.Sprintf("%d", s.maxPer),
		"urls":      strings.Join(discovery.URLs, "\n"),
	})
	if err != nil {
		return nil, err
	}

	resp, err := s.caller.Call(ctx, ai.Request{
		Model:        prompt.Model,
		Temperature:  prompt.Temperature,
		SystemPrompt: prompt.SystemPrompt,
		UserPrompt:   prompt.UserPrompt,
		JSONMode:     true,
		Caller:       "page-selection",
	})
	if err != nil {
		return nil, err
	}

	raw, err := ai.ParseJSONResponse(resp.Content)
	if err != nil {
		return nil, err
	}
	var parsed aiSelection
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse selection response: %w", err)
	}

	discovered := make(map[string]struct{}, len(discovery.URLs))
	for _, u := range discovery.URLs {
		discovered[u] = struct{}{}
	}

	log := logging.Get(logging.CategorySelection)
	sanitize := func(urls []string, category string) []string {
		var kept []string
		for _, u := range urls {
			u = normalizePath(u)
			if _, ok := discovered[u]; !ok {
				log.Warnw("dropping URL not in discovered set", "category", category, "url", u)
				continue
			}
			kept = append(kept, u)
			if len(kept) >= s.maxPer {
				break
			}
		}
		return kept
	}

	return &types.PageSelection{
		SEOPages:     sanitize(parsed.SEOPages, "seo"),
		ContentPages: sanitize(parsed.ContentPages, "content"),
		VisualPages:  sanitize(parsed.VisualPages, "visual"),
		SocialPages:  sanitize(parsed.SocialPages, "social"),
		Reasoning:    parsed.Reasoning,
	}, nil
}

// categoryKeywords drive the heuristic fallback: a URL whose path contains a
// keyword is a candidate for that category, in keyword order.
var categoryKeywords = map[string][]string{
	"seo":     {"/services", "/products", "/blog", "/about", "/locations"},
	"content": {"/about", "/blog", "/services", "/faq", "/resources"},
	"visual":  {"/services", "/products", "/portfolio", "/gallery", "/about"},
	"social":  {"/about", "/contact", "/team", "/blog", "/reviews"},
}

// selectHeuristic is the deterministic fallback: homepage plus up to
// maxPer-1 URLs chosen by keyword match on the path.
func (s *PageSelector) selectHeuristic(discovery *types.Discovery) *types.PageSelection {
	pick := func(keywords []string) []string {
		pages := []string{"/"}
		for _, kw := range keywords {
			if len(pages) >= s.maxPer {
				break
			}
			for _, u := range discovery.URLs {
				if u == "/" || contains(pages, u) {
					continue
				}
				if strings.Contains(strings.ToLower(u), kw) {
					pages = append(pages, u)
					break
				}
			}
		}
		// Pad with remaining discovered pages to give each category
		// something to look at on keyword-free sites.
		for _, u := range discovery.URLs {
			if len(pages) >= s.maxPer {
				break
			}
			if !contains(pages, u) {
				pages = append(pages, u)
			}
		}
		return pages
	}

	return &types.PageSelection{
		SEOPages:     pick(categoryKeywords["seo"]),
		ContentPages: pick(categoryKeywords["content"]),
		VisualPages:  pick(categoryKeywords["visual"]),
		SocialPages:  pick(categoryKeywords["social"]),
		Reasoning:    "heuristic selection: AI selector unavailable",
	}
}

func unionPages(sets ...[]string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, set := range sets {
		for _, u := range set {
			if _, ok := seen[u]; !ok {
				seen[u] = struct{}{}
				out = append(out, u)
			}
		}
	}
	sort.Strings(out)
	return out
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
