package crawl

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sitegrader/internal/browser"
)

// fakeCapturer implements browser.Capturer with scripted results.
type fakeCapturer struct {
	mu       sync.Mutex
	failURLs map[string]bool
	inFlight int32
	maxSeen  int32
	delay    time.Duration
}

func (f *fakeCapturer) Capture(ctx context.Context, req browser.CaptureRequest) browser.CaptureResult {
	current := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		max := atomic.LoadInt32(&f.maxSeen)
		if current <= max || atomic.CompareAndSwapInt32(&f.maxSeen, max, current) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	fail := f.failURLs[req.URL]
	f.mu.Unlock()
	if fail {
		return browser.CaptureResult{Success: false, Error: "connection refused"}
	}
	return browser.CaptureResult{
		HTML:       "<html><body>Since 1995. Team of experts. Pricing available.</body></html>",
		Screenshot: []byte("png-bytes"),
		Title:      "Page " + req.URL,
		Fonts:      []string{"Inter"},
		Colors:     []string{"rgb(0, 0, 0)"},
		Success:    true,
	}
}

func TestCrawlSuccess(t *testing.T) {
	c := NewCrawler(&fakeCapturer{}, CrawlerConfig{})
	result, err := c.Crawl(context.Background(), "https://example.com", []string{"/", "/about"}, nil)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}

	if len(result.Pages) != 2 {
		t.Fatalf("pages = %d, want 2", len(result.Pages))
	}
	if result.Homepage == nil || result.Homepage.URL != "/" {
		t.Errorf("homepage = %+v", result.Homepage)
	}
	if !result.Homepage.IsHomepage {
		t.Error("homepage not flagged")
	}
	// homepage ∈ pages
	found := false
	for _, p := range result.Pages {
		if p == result.Homepage {
			found = true
		}
	}
	if !found {
		t.Error("homepage is not one of the crawled pages")
	}
	if result.Homepage.DesignTokens.Desktop == nil || result.Homepage.DesignTokens.Mobile == nil {
		t.Error("missing design tokens")
	}
	if result.Intel.YearsInBusiness == 0 {
		t.Error("business intel not extracted")
	}
}

func TestCrawlPartialFailureIsNotFatal(t *testing.T) {
	capturer := &fakeCapturer{failURLs: map[string]bool{"https://example.com/broken": true}}
	c := NewCrawler(capturer, CrawlerConfig{})

	result, err := c.Crawl(context.Background(), "https://example.com", []string{"/", "/broken"}, nil)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if len(result.Pages) != 1 {
		t.Errorf("pages = %d, want 1", len(result.Pages))
	}
	if len(result.FailedPages) != 1 || result.FailedPages[0].URL != "/broken" {
		t.Errorf("failed = %+v", result.FailedPages)
	}
	if !strings.Contains(result.FailedPages[0].Error, "connection refused") {
		t.Errorf("failure diagnostic lost: %q", result.FailedPages[0].Error)
	}
}

func TestCrawlAllFailedIsFatal(t *testing.T) {
	capturer := &fakeCapturer{failURLs: map[string]bool{
		"https://example.com/":      true,
		"https://example.com/about": true,
	}}
	c := NewCrawler(capturer, CrawlerConfig{})

	_, err := c.Crawl(context.Background(), "https://example.com", []string{"/", "/about"}, nil)
	if !errors.Is(err, ErrFatalCrawl) {
		t.Errorf("err = %v, want ErrFatalCrawl", err)
	}
}

func TestCrawlHomepageFallsBackToFirstPage(t *testing.T) {
	capturer := &fakeCapturer{failURLs: map[string]bool{"https://example.com/": true}}
	c := NewCrawler(capturer, CrawlerConfig{})

	result, err := c.Crawl(context.Background(), "https://example.com", []string{"/", "/about"}, nil)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if result.Homepage == nil || result.Homepage.URL != "/about" {
		t.Errorf("homepage = %+v, want fallback to /about", result.Homepage)
	}
}

func TestCrawlBoundedConcurrency(t *testing.T) {
	capturer := &fakeCapturer{delay: 20 * time.Millisecond}
	c := NewCrawler(capturer, CrawlerConfig{Concurrency: 2})

	pages := []string{"/", "/a", "/b", "/c", "/d", "/e"}
	if _, err := c.Crawl(context.Background(), "https://example.com", pages, nil); err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if max := atomic.LoadInt32(&capturer.maxSeen); max > 2 {
		t.Errorf("observed %d concurrent captures, want <= 2", max)
	}
}

func TestCrawlProgressCallback(t *testing.T) {
	c := NewCrawler(&fakeCapturer{}, CrawlerConfig{})

	var mu sync.Mutex
	var calls []int
	progress := func(done, total int, pageURL string) {
		mu.Lock()
		calls = append(calls, done)
		mu.Unlock()
		if total != 3 {
			t.Errorf("total = %d, want 3", total)
		}
	}

	if _, err := c.Crawl(context.Background(), "https://example.com", []string{"/", "/a", "/b"}, progress); err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if len(calls) != 3 {
		t.Errorf("progress called %d times, want 3", len(calls))
	}
}

func TestCrawlScreenshotsWritten(t *testing.T) {
	dir := t.TempDir()
	c := NewCrawler(&fakeCapturer{}, CrawlerConfig{ScreenshotsDir: dir})

	result, err := c.Crawl(context.Background(), "https://example.com", []string{"/"}, nil)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	shots := result.Homepage.Screenshots
	if shots.Desktop == "" || shots.Mobile == "" {
		t.Errorf("screenshot handles missing: %+v", shots)
	}
	if !strings.Contains(shots.Desktop, "desktop") || !strings.Contains(shots.Mobile, "mobile") {
		t.Errorf("screenshot naming: %+v", shots)
	}
}

func TestExtractBusinessIntel(t *testing.T) {
	html := `<html><body>
	Family owned since 1998. Team of 25 experts. Award-winning service.
	Pricing starting at $99/mo. Meet our founder.
	</body></html>`

	intel := ExtractBusinessIntel(html)
	if intel.YearsInBusiness == 0 {
		t.Error("years in business not detected")
	}
	if !intel.PricingVisible {
		t.Error("pricing visibility not detected")
	}
	if len(intel.SizeSignals) == 0 {
		t.Error("size signals not detected")
	}
	if len(intel.PremiumFeatures) == 0 {
		t.Error("premium features not detected")
	}
	if len(intel.DecisionMakerSignal) == 0 {
		t.Error("decision maker signals not detected")
	}

	empty := ExtractBusinessIntel("<html></html>")
	if empty.PricingVisible || empty.YearsInBusiness != 0 {
		t.Errorf("empty page produced intel: %+v", empty)
	}
}

func TestPathSlug(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/", "home"},
		{"", "home"},
		{"/about", "about"},
		{"/blog/post-1", "blog-post-1"},
	}
	for _, tt := range tests {
		if got := pathSlug(tt.in); got != tt.want {
			t.Errorf("pathSlug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
