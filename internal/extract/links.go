package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

type Link struct {
	URL      string `json:"url"`
	Text     string `json:"text"`
	Internal bool   `json:"internal"`
	Visible  bool   `json:"visible"`
}

type Image struct {
	URL     string `json:"url"`
	Alt     string `json:"alt"`
	Visible bool   `json:"visible"`
}

// Schemes that must never leak into extracted links.
var disallowedSchemes = []string{"javascript:", "data:", "vbscript:"}

func allowedHref(href string) bool {
	h := strings.TrimSpace(strings.ToLower(href))
	if h == "" || h == "#" || strings.HasPrefix(h, "#") {
		return false
	}
	for _, s := range disallowedSchemes {
		if strings.HasPrefix(h, s) {
			return false
		}
	}
	return true
}

// Links extracts anchors, deduplicated by resolved URL, capped at MaxLinks.
func (e *Extractor) Links(doc *goquery.Document, baseURL string) []Link {
	base, _ := url.Parse(baseURL)
	seen := make(map[string]bool)
	out := make([]Link, 0, 32)

	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if !allowedHref(href) {
			return true
		}
		resolved := resolveURL(base, href)
		if resolved == "" || seen[resolved] {
			return true
		}
		seen[resolved] = true

		out = append(out, Link{
			URL:      resolved,
			Text:     collapseSpace(s.Text()),
			Internal: isInternal(base, resolved),
			Visible:  isVisible(s),
		})
		return len(out) < e.MaxLinks
	})
	return out
}

// Images extracts img sources with the same dedup/scheme rules as links.
func (e *Extractor) Images(doc *goquery.Document, baseURL string) []Image {
	base, _ := url.Parse(baseURL)
	seen := make(map[string]bool)
	out := make([]Image, 0, 16)

	doc.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, ok := s.Attr("src")
		if !ok && s.AttrOr("data-src", "") != "" {
			src = s.AttrOr("data-src", "")
		}
		if !allowedHref(src) {
			return true
		}
		resolved := resolveURL(base, src)
		if resolved == "" || seen[resolved] {
			return true
		}
		seen[resolved] = true

		out = append(out, Image{
			URL:     resolved,
			Alt:     s.AttrOr("alt", ""),
			Visible: isVisible(s),
		})
		return len(out) < e.MaxImages
	})
	return out
}

func resolveURL(base *url.URL, ref string) string {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

func isInternal(base *url.URL, resolved string) bool {
	if base == nil || base.Host == "" {
		return false
	}
	u, err := url.Parse(resolved)
	if err != nil {
		return false
	}
	return u.Host == base.Host
}

// isVisible is a static approximation: inline styles and hidden attributes
// only. Layout-dependent visibility needs the live page, not a snapshot.
func isVisible(s *goquery.Selection) bool {
	if _, hidden := s.Attr("hidden"); hidden {
		return false
	}
	if s.AttrOr("aria-hidden", "") == "true" {
		return false
	}
	style := strings.ReplaceAll(strings.ToLower(s.AttrOr("style", "")), " ", "")
	if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
		return false
	}
	return true
}
