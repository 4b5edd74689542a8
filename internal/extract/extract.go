// Package extract pulls outbound product links from fetched page bodies.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// HTMLExtractor implements crawler.LinkExtractor on top of
// golang.org/x/net/html, which tolerates the malformed markup real
// storefronts serve.
type HTMLExtractor struct {
	// SameSiteOnly drops links whose host differs from the page host.
	SameSiteOnly bool
}

// New returns an extractor restricted to same-site links.
func New() *HTMLExtractor {
	return &HTMLExtractor{SameSiteOnly: true}
}

// Extract parses body and returns resolved href targets in document order,
// deduplicated within the page. Non-navigational schemes are skipped.
func (e *HTMLExtractor) Extract(baseURL string, body []byte) ([]string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", baseURL, err)
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	seen := make(map[string]bool)
	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if href := attr(n, "href"); href != "" {
				if resolved := e.resolve(base, href); resolved != "" && !seen[resolved] {
					seen[resolved] = true
					links = append(links, resolved)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links, nil
}

// resolve turns an href into an absolute crawlable URL, or "" to skip it.
func (e *HTMLExtractor) resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || href == "#" ||
		strings.HasPrefix(href, "javascript:") ||
		strings.HasPrefix(href, "mailto:") ||
		strings.HasPrefix(href, "tel:") ||
		strings.HasPrefix(href, "data:") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(u)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	if e.SameSiteOnly && !strings.EqualFold(resolved.Hostname(), base.Hostname()) {
		return ""
	}
	return resolved.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
