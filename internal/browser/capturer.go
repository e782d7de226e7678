// Package browser provides the headless-browser capture capability: one
// page load per call, returning HTML, a screenshot, and lightweight design
// tokens for the requested viewport. Capture never returns a Go error;
// failures are reported inside the result so a single bad page cannot fail
// a crawl.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"sitegrader/internal/logging"
)

// Viewport selects the emulated device class.
type Viewport string

const (
	ViewportDesktop Viewport = "desktop"
	ViewportMobile  Viewport = "mobile"
)

// CaptureRequest asks for one page capture.
type CaptureRequest struct {
	URL      string
	Viewport Viewport
	Timeout  time.Duration
}

// CaptureResult is the outcome of a capture. Success=false carries a
// diagnostic Error instead of a Go error.
type CaptureResult struct {
	HTML        string
	Screenshot  []byte
	Title       string
	Description string
	Fonts       []string
	Colors      []string
	TechStack   []string
	Success     bool
	Error       string
}

// Capturer is the opaque capturePage capability.
type Capturer interface {
	Capture(ctx context.Context, req CaptureRequest) CaptureResult
}

// Config holds browser configuration.
type Config struct {
	DebuggerURL    string `yaml:"debugger_url"`
	ChromeBin      string `yaml:"chrome_bin"`
	Headless       bool   `yaml:"headless"`
	DesktopWidth   int    `yaml:"desktop_width"`
	DesktopHeight  int    `yaml:"desktop_height"`
	MobileWidth    int    `yaml:"mobile_width"`
	MobileHeight   int    `yaml:"mobile_height"`
	DefaultTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:       true,
		DesktopWidth:   1920,
		DesktopHeight:  1080,
		MobileWidth:    390,
		MobileHeight:   844,
		DefaultTimeout: 30 * time.Second,
	}
}

// RodCapturer implements Capturer on a shared headless Chrome instance.
type RodCapturer struct {
	cfg Config

	mu      sync.Mutex
	browser *rod.Browser
}

// NewRodCapturer creates a capturer. The browser launches lazily on the
// first Capture call.
func NewRodCapturer(cfg Config) *RodCapturer {
	if cfg.DesktopWidth == 0 {
		cfg.DesktopWidth = 1920
	}
	if cfg.DesktopHeight == 0 {
		cfg.DesktopHeight = 1080
	}
	if cfg.MobileWidth == 0 {
		cfg.MobileWidth = 390
	}
	if cfg.MobileHeight == 0 {
		cfg.MobileHeight = 844
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	return &RodCapturer{cfg: cfg}
}

// Start connects to an existing Chrome or launches a new one. Idempotent.
func (c *RodCapturer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browser != nil {
		if _, err := c.browser.Version(); err == nil {
			return nil
		}
		_ = c.browser.Close()
		c.browser = nil
	}

	controlURL := c.cfg.DebuggerURL
	if controlURL == "" {
		launch := launcher.New().Headless(c.cfg.Headless)
		if c.cfg.ChromeBin != "" {
			launch = launch.Bin(c.cfg.ChromeBin)
		}
		url, err := launch.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}
	c.browser = browser
	return nil
}

// Close shuts the browser down.
func (c *RodCapturer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browser == nil {
		return nil
	}
	err := c.browser.Close()
	c.browser = nil
	return err
}

// Capture loads one page in the requested viewport and extracts HTML,
// screenshot, and design tokens. Never returns a Go error and never panics;
// rod's internal panics are converted into a failed result.
func (c *RodCapturer) Capture(ctx context.Context, req CaptureRequest) (result CaptureResult) {
	log := logging.Get(logging.CategoryBrowser)

	defer func() {
		if r := recover(); r != nil {
			result = CaptureResult{Success: false, Error: fmt.Sprintf("capture panicked: %v", r)}
			log.Errorw("capture panicked", "url", req.URL, "panic", r)
		}
	}()

	if err := c.Start(ctx); err != nil {
		return CaptureResult{Success: false, Error: err.Error()}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.DefaultTimeout
	}

	c.mu.Lock()
	browser := c.browser
	c.mu.Unlock()

	incognito, err := browser.Incognito()
	if err != nil {
		return CaptureResult{Success: false, Error: fmt.Sprintf("incognito context: %v", err)}
	}

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return CaptureResult{Success: false, Error: fmt.Sprintf("create page: %v", err)}
	}
	defer func() { _ = page.Close() }()

	width, height, mobile := c.cfg.DesktopWidth, c.cfg.DesktopHeight, false
	if req.Viewport == ViewportMobile {
		width, height, mobile = c.cfg.MobileWidth, c.cfg.MobileHeight, true
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1.0,
		Mobile:            mobile,
	}).Call(page); err != nil {
		log.Warnw("failed to set viewport", "url", req.URL, "error", err)
	}

	page = page.Context(ctx).Timeout(timeout)
	if err := page.Navigate(req.URL); err != nil {
		return CaptureResult{Success: false, Error: fmt.Sprintf("navigate: %v", err)}
	}
	if err := page.WaitLoad(); err != nil {
		return CaptureResult{Success: false, Error: fmt.Sprintf("wait load: %v", err)}
	}

	html, err := page.HTML()
	if err != nil {
		return CaptureResult{Success: false, Error: fmt.Sprintf("read html: %v", err)}
	}

	screenshot, err := page.Screenshot(false, nil)
	if err != nil {
		return CaptureResult{Success: false, Error: fmt.Sprintf("screenshot: %v", err)}
	}

	result = CaptureResult{
		HTML:       html,
		Screenshot: screenshot,
		Success:    true,
	}

	// Token and metadata extraction is best-effort; a page that renders but
	// blocks script evaluation still counts as captured.
	if probe, err := c.probePage(ctx, page); err != nil {
		log.Debugw("page probe failed", "url", req.URL, "error", err)
	} else {
		result.Title = probe.Title
		result.Description = probe.Description
		result.Fonts = probe.Fonts
		result.Colors = probe.Colors
		result.TechStack = probe.TechStack
	}

	return result
}

type pageProbe struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Fonts       []string `json:"fonts"`
	Colors      []string `json:"colors"`
	TechStack   []string `json:"techStack"`
}

// probePage evaluates a single script that samples computed styles for
// design tokens and sniffs common framework fingerprints.
func (c *RodCapturer) probePage(ctx context.Context, page *rod.Page) (*pageProbe, error) {
	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS: `
		() => {
			const meta = document.querySelector('meta[name="description"]');
			const fonts = new Set();
			const colors = new Set();
			const sample = document.querySelectorAll('body, h1, h2, h3, p, a, button, nav, header, footer');
			for (const el of sample) {
				const style = getComputedStyle(el);
				const family = style.fontFamily.split(',')[0].trim().replace(/["']/g, '');
				if (family) fonts.add(family);
				for (const c of [style.color, style.backgroundColor]) {
					if (c && c !== 'rgba(0, 0, 0, 0)') colors.add(c);
				}
				if (fonts.size >= 8 && colors.size >= 12) break;
			}
			const tech = [];
			if (window.React || document.querySelector('[data-reactroot]')) tech.push('react');
			if (window.Vue || document.querySelector('[data-v-app]')) tech.push('vue');
			if (window.jQuery) tech.push('jquery');
			if (window.Shopify) tech.push('shopify');
			if (document.querySelector('link[href*="wp-content"], script[src*="wp-content"]')) tech.push('wordpress');
			if (window.wixBiSession) tech.push('wix');
			const gen = document.querySelector('meta[name="generator"]');
			if (gen && gen.content) tech.push(gen.content.split(' ')[0].toLowerCase());
			return JSON.stringify({
				title: document.title || '',
				description: meta ? meta.content : '',
				fonts: [...fonts].slice(0, 8),
				colors: [...colors].slice(0, 12),
				techStack: [...new Set(tech)],
			});
		}`,
	})
	if err != nil {
		return nil, err
	}

	var probe pageProbe
	if err := json.Unmarshal([]byte(res.Value.Str()), &probe); err != nil {
		return nil, fmt.Errorf("parse probe result: %w", err)
	}
	return &probe, nil
}
