// Package crawl implements page enumeration, AI-assisted page selection,
// and the bounded-concurrency crawl with dual-viewport screenshot capture.
package crawl

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"sitegrader/internal/logging"
	"sitegrader/internal/types"
)

// Discoverer enumerates a site's pages. It tries the sitemap first, then
// robots.txt for extra sitemap hints, and finally falls back to following
// links from the root page.
type Discoverer struct {
	httpClient *http.Client
	maxURLs    int
}

// NewDiscoverer creates a discoverer. maxURLs bounds the discovered set;
// zero means the default of 200.
func NewDiscoverer(client *http.Client, maxURLs int) *Discoverer {
	if client == nil {
		client = http.DefaultClient
	}
	if maxURLs <= 0 {
		maxURLs = 200
	}
	return &Discoverer{httpClient: client, maxURLs: maxURLs}
}

// Discover enumerates pages for the site at baseURL. URLs in the result are
// site-relative paths; the homepage is always present as "/".
func (d *Discoverer) Discover(ctx context.Context, baseURL string) (*types.Discovery, error) {
	log := logging.Get(logging.CategoryDiscovery)

	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}

	discovery := &types.Discovery{Errors: map[string]string{}}
	seen := map[string]struct{}{"/": {}}

	sitemapURLs := []string{base.ResolveReference(&url.URL{Path: "/sitemap.xml"}).String()}

	// robots.txt can name additional sitemaps.
	robotsHints, robotsErr := d.fetchRobotsSitemaps(ctx, base)
	if robotsErr != nil {
		discovery.Errors["robots"] = robotsErr.Error()
	} else if len(robotsHints) > 0 {
		sitemapURLs = append(sitemapURLs, robotsHints...)
		discovery.Sources = append(discovery.Sources, "robots")
	}

	var sitemapErr error
	sitemapFound := false
	for _, sm := range sitemapURLs {
		urls, err := d.fetchSitemap(ctx, sm, base)
		if err != nil {
			sitemapErr = err
			continue
		}
		sitemapFound = sitemapFound || len(urls) > 0
		for _, rel := range urls {
			if _, ok := seen[rel]; !ok && len(seen) < d.maxURLs {
				seen[rel] = struct{}{}
			}
		}
	}
	if sitemapFound {
		discovery.Sources = append(discovery.Sources, "sitemap")
	} else if sitemapErr != nil {
		discovery.Errors["sitemap"] = sitemapErr.Error()
	}

	// Fallback: follow links from the root page when nothing else worked.
	if !sitemapFound {
		links, err := d.fetchRootLinks(ctx, base)
		if err != nil {
			log.Warnw("fallback link crawl failed", "url", baseURL, "error", err)
		} else {
			discovery.Sources = append(discovery.Sources, "fallback")
			for _, rel := range links {
				if _, ok := seen[rel]; !ok && len(seen) < d.maxURLs {
					seen[rel] = struct{}{}
				}
			}
		}
	}

	urls := make([]string, 0, len(seen))
	for rel := range seen {
		urls = append(urls, rel)
	}
	sort.Strings(urls)

	discovery.URLs = urls
	discovery.TotalPages = len(urls)
	if len(discovery.Errors) == 0 {
		discovery.Errors = nil
	}

	log.Infow("discovery complete", "url", baseURL,
		"pages", discovery.TotalPages, "sources", discovery.Sources)
	return discovery, nil
}

// sitemapIndex and urlSet cover both sitemap formats; nested indexes are
// followed one level deep.
type sitemapIndex struct {
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

type urlSet struct {
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

func (d *Discoverer) fetchSitemap(ctx context.Context, sitemapURL string, base *url.URL) ([]string, error) {
	body, err := d.fetch(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}

	var set urlSet
	if err := xml.Unmarshal(body, &set); err == nil && len(set.URLs) > 0 {
		var rels []string
		for _, u := range set.URLs {
			if rel, ok := relativize(u.Loc, base); ok {
				rels = append(rels, rel)
			}
		}
		return rels, nil
	}

	var index sitemapIndex
	if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 {
		var rels []string
		for _, sm := range index.Sitemaps {
			nested, err := d.fetch(ctx, strings.TrimSpace(sm.Loc))
			if err != nil {
				continue
			}
			var nestedSet urlSet
			if err := xml.Unmarshal(nested, &nestedSet); err != nil {
				continue
			}
			for _, u := range nestedSet.URLs {
				if rel, ok := relativize(u.Loc, base); ok {
					rels = append(rels, rel)
				}
			}
		}
		return rels, nil
	}

	return nil, fmt.Errorf("no parseable sitemap at %s", sitemapURL)
}

func (d *Discoverer) fetchRobotsSitemaps(ctx context.Context, base *url.URL) ([]string, error) {
	body, err := d.fetch(ctx, base.ResolveReference(&url.URL{Path: "/robots.txt"}).String())
	if err != nil {
		return nil, err
	}

	var sitemaps []string
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(strings.ToLower(line), "sitemap:"); ok {
			// Re-slice the original line to keep URL casing.
			loc := strings.TrimSpace(line[len(line)-len(rest):])
			if loc != "" {
				sitemaps = append(sitemaps, loc)
			}
		}
	}
	return sitemaps, nil
}

// fetchRootLinks parses the root page's anchors and keeps same-host links.
func (d *Discoverer) fetchRootLinks(ctx context.Context, base *url.URL) ([]string, error) {
	body, err := d.fetch(ctx, base.String())
	if err != nil {
		return nil, err
	}

	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("parse root html: %w", err)
	}

	seen := map[string]struct{}{}
	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				ref, err := url.Parse(strings.TrimSpace(attr.Val))
				if err != nil {
					continue
				}
				abs := base.ResolveReference(ref)
				if rel, ok := relativize(abs.String(), base); ok {
					if _, dup := seen[rel]; !dup {
						seen[rel] = struct{}{}
						links = append(links, rel)
					}
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return links, nil
}

func (d *Discoverer) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "sitegrader/1.0")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d fetching %s", resp.StatusCode, rawURL)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 2*1024*1024))
}

// relativize converts an absolute URL on the same host to a site-relative
// path. Fragments, mailto/tel links, and foreign hosts are rejected.
func relativize(rawURL string, base *url.URL) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", false
	}
	if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if u.Host != "" && !strings.EqualFold(u.Host, base.Host) {
		return "", false
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		return "", false
	}
	// Drop obvious non-page assets.
	lower := strings.ToLower(path)
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".css", ".js", ".pdf", ".ico", ".woff", ".woff2", ".xml"} {
		if strings.HasSuffix(lower, ext) {
			return "", false
		}
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path, true
}
