package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"sitegrader/internal/browser"
	"sitegrader/internal/logging"
	"sitegrader/internal/types"
)

// ErrFatalCrawl is returned when the crawl produced nothing usable: zero
// successful pages, or no identifiable homepage.
var ErrFatalCrawl = errors.New("fatal crawl failure")

// ProgressFunc receives page-granularity crawl progress.
type ProgressFunc func(done, total int, pageURL string)

// CrawlerConfig bounds the crawl.
type CrawlerConfig struct {
	Concurrency    int
	PageTimeout    time.Duration
	ScreenshotsDir string // when set, screenshots are written here and pages carry paths
}

// Crawler fetches a caller-supplied URL list with bounded concurrency,
// capturing one desktop and one mobile screenshot per page.
type Crawler struct {
	capturer browser.Capturer
	cfg      CrawlerConfig
}

// NewCrawler creates a crawler over the given capture capability.
func NewCrawler(capturer browser.Capturer, cfg CrawlerConfig) *Crawler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 30 * time.Second
	}
	return &Crawler{capturer: capturer, cfg: cfg}
}

// Crawl fetches every URL in pages (site-relative paths) under baseURL.
// Per-page failures are collected, not fatal; the crawl fails only when
// zero pages succeed or the homepage cannot be identified.
func (c *Crawler) Crawl(ctx context.Context, baseURL string, pages []string, progress ProgressFunc) (*types.CrawlResult, error) {
	log := logging.Get(logging.CategoryCrawl)
	start := time.Now()

	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}

	if c.cfg.ScreenshotsDir != "" {
		if err := os.MkdirAll(c.cfg.ScreenshotsDir, 0755); err != nil {
			return nil, fmt.Errorf("create screenshots dir: %w", err)
		}
	}

	var mu sync.Mutex
	crawled := make([]*types.Page, 0, len(pages))
	var failed []types.FailedPage
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)

	for _, rel := range pages {
		rel := normalizePath(rel)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			page, err := c.crawlPage(gctx, base, rel)

			mu.Lock()
			done++
			if err != nil {
				failed = append(failed, types.FailedPage{
					URL:       rel,
					Error:     err.Error(),
					Timestamp: time.Now().UTC(),
				})
				log.Warnw("page crawl failed", "page", rel, "error", err)
			} else {
				crawled = append(crawled, page)
			}
			current := done
			mu.Unlock()

			if progress != nil {
				progress(current, len(pages), rel)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(crawled) == 0 {
		return nil, fmt.Errorf("%w: no pages crawled successfully (%d attempted)", ErrFatalCrawl, len(pages))
	}

	// Deterministic page order regardless of completion order.
	sort.Slice(crawled, func(i, j int) bool { return crawled[i].URL < crawled[j].URL })

	homepage := findHomepage(crawled)
	if homepage == nil {
		return nil, fmt.Errorf("%w: homepage could not be identified", ErrFatalCrawl)
	}
	homepage.IsHomepage = true

	result := &types.CrawlResult{
		Pages:       crawled,
		FailedPages: failed,
		Homepage:    homepage,
		Intel:       mergeIntel(crawled),
		CrawlTimeMs: time.Since(start).Milliseconds(),
	}

	log.Infow("crawl complete", "pages", len(crawled), "failed", len(failed),
		"duration_ms", result.CrawlTimeMs)
	return result, nil
}

// crawlPage captures one page in both viewports.
func (c *Crawler) crawlPage(ctx context.Context, base *url.URL, rel string) (*types.Page, error) {
	absolute := base.ResolveReference(&url.URL{Path: rel}).String()

	desktop := c.capturer.Capture(ctx, browser.CaptureRequest{
		URL:      absolute,
		Viewport: browser.ViewportDesktop,
		Timeout:  c.cfg.PageTimeout,
	})
	if !desktop.Success {
		return nil, fmt.Errorf("desktop capture: %s", desktop.Error)
	}

	mobile := c.capturer.Capture(ctx, browser.CaptureRequest{
		URL:      absolute,
		Viewport: browser.ViewportMobile,
		Timeout:  c.cfg.PageTimeout,
	})
	if !mobile.Success {
		return nil, fmt.Errorf("mobile capture: %s", mobile.Error)
	}

	now := time.Now().UTC()
	page := &types.Page{
		URL:         rel,
		AbsoluteURL: absolute,
		HTML:        desktop.HTML,
		Metadata: types.PageMetadata{
			Title:       desktop.Title,
			Description: desktop.Description,
			TechStack:   desktop.TechStack,
		},
		DesignTokens: types.DesignTokens{
			Desktop: &types.ViewportTokens{Fonts: desktop.Fonts, Colors: desktop.Colors, CapturedAt: now},
			Mobile:  &types.ViewportTokens{Fonts: mobile.Fonts, Colors: mobile.Colors, CapturedAt: now},
		},
		Intel:   ExtractBusinessIntel(desktop.HTML),
		Success: true,
	}

	desktopRef, err := c.storeScreenshot(rel, "desktop", desktop.Screenshot)
	if err != nil {
		return nil, err
	}
	mobileRef, err := c.storeScreenshot(rel, "mobile", mobile.Screenshot)
	if err != nil {
		return nil, err
	}
	page.Screenshots = types.Screenshots{Desktop: desktopRef, Mobile: mobileRef}

	return page, nil
}

// storeScreenshot writes the PNG to the screenshots directory and returns
// its path. With no directory configured the bytes are dropped and an empty
// handle is returned; callers treat that as "no evidence available".
func (c *Crawler) storeScreenshot(rel, viewport string, data []byte) (string, error) {
	if c.cfg.ScreenshotsDir == "" || len(data) == 0 {
		return "", nil
	}
	name := fmt.Sprintf("%s-%s.png", pathSlug(rel), viewport)
	path := filepath.Join(c.cfg.ScreenshotsDir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}

// findHomepage picks the page with URL "/" or "", else the first
// successful page.
func findHomepage(pages []*types.Page) *types.Page {
	for _, p := range pages {
		if p.URL == "/" || p.URL == "" {
			return p
		}
	}
	if len(pages) > 0 {
		return pages[0]
	}
	return nil
}

// pathSlug makes a relative path filename-safe.
func pathSlug(rel string) string {
	if rel == "/" || rel == "" {
		return "home"
	}
	s := strings.Trim(rel, "/")
	s = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '-'
	}, s)
	return strings.Trim(strings.ToLower(s), "-")
}
