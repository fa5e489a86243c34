package extract

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// jsonLDBlocks parses every application/ld+json script into generic maps.
// Malformed blocks are skipped. Top-level arrays and @graph containers are
// flattened.
func jsonLDBlocks(doc *goquery.Document) []map[string]any {
	var blocks []map[string]any
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return
		}
		var one map[string]any
		if err := json.Unmarshal([]byte(raw), &one); err == nil {
			blocks = append(blocks, flattenGraph(one)...)
			return
		}
		var many []map[string]any
		if err := json.Unmarshal([]byte(raw), &many); err == nil {
			for _, m := range many {
				blocks = append(blocks, flattenGraph(m)...)
			}
		}
	})
	return blocks
}

func flattenGraph(m map[string]any) []map[string]any {
	graph, ok := m["@graph"].([]any)
	if !ok {
		return []map[string]any{m}
	}
	out := make([]map[string]any, 0, len(graph)+1)
	out = append(out, m)
	for _, g := range graph {
		if gm, ok := g.(map[string]any); ok {
			out = append(out, gm)
		}
	}
	return out
}

// ldOfType returns the first JSON-LD block whose @type matches.
func ldOfType(blocks []map[string]any, typ string) map[string]any {
	for _, b := range blocks {
		switch t := b["@type"].(type) {
		case string:
			if strings.EqualFold(t, typ) {
				return b
			}
		case []any:
			for _, v := range t {
				if s, ok := v.(string); ok && strings.EqualFold(s, typ) {
					return b
				}
			}
		}
	}
	return nil
}

func ldString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if name, ok := v["name"].(string); ok && name != "" {
				return name
			}
		case []any:
			if len(v) > 0 {
				if s, ok := v[0].(string); ok && s != "" {
					return s
				}
				if mm, ok := v[0].(map[string]any); ok {
					if name, ok := mm["name"].(string); ok && name != "" {
						return name
					}
				}
			}
		}
	}
	return ""
}

// itemprop reads a schema.org microdata property: content attr for meta
// tags, href/src for links and media, text otherwise.
func itemprop(doc *goquery.Document, name string) string {
	sel := doc.Find(`[itemprop="` + name + `"]`).First()
	if sel.Length() == 0 {
		return ""
	}
	if v, ok := sel.Attr("content"); ok && v != "" {
		return v
	}
	if v, ok := sel.Attr("href"); ok && v != "" {
		return v
	}
	if v, ok := sel.Attr("src"); ok && v != "" {
		return v
	}
	return collapseSpace(sel.Text())
}

// Article is the extract_article result. Missing data yields empty fields,
// never a failure.
type Article struct {
	Title     string `json:"title"`
	Author    string `json:"author"`
	Published string `json:"published"`
	Content   string `json:"content"`
	Language  string `json:"language"`
}

func (e *Extractor) Article(html, baseURL string) *Article {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return &Article{}
	}

	blocks := jsonLDBlocks(doc)
	ld := ldOfType(blocks, "Article")
	if ld == nil {
		ld = ldOfType(blocks, "NewsArticle")
	}
	if ld == nil {
		ld = ldOfType(blocks, "BlogPosting")
	}

	meta := e.Meta(doc)
	a := &Article{}

	if ld != nil {
		a.Title = ldString(ld, "headline", "name")
		a.Author = ldString(ld, "author")
		a.Published = ldString(ld, "datePublished")
	}
	if a.Title == "" {
		a.Title = meta["og:title"]
	}
	if a.Title == "" {
		a.Title = collapseSpace(doc.Find("h1").First().Text())
	}
	if a.Title == "" {
		a.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if a.Author == "" {
		a.Author = meta["author"]
	}
	if a.Author == "" {
		a.Author = itemprop(doc, "author")
	}
	if a.Author == "" {
		a.Author = collapseSpace(doc.Find(".author, .byline, [rel=author]").First().Text())
	}
	if a.Published == "" {
		a.Published = meta["article:published_time"]
	}
	if a.Published == "" {
		a.Published = doc.Find("time[datetime]").First().AttrOr("datetime", "")
	}

	a.Content = e.MainText(doc)
	a.Language = DetectLanguage(a.Content)
	return a
}

// Product is the structured-commerce extraction result.
type Product struct {
	Name         string `json:"name"`
	Price        string `json:"price"`
	Currency     string `json:"currency"`
	Availability string `json:"availability"`
	Description  string `json:"description"`
	ImageURL     string `json:"imageUrl"`
}

func (e *Extractor) Product(html, baseURL string) *Product {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return &Product{}
	}

	p := &Product{}
	if ld := ldOfType(jsonLDBlocks(doc), "Product"); ld != nil {
		p.Name = ldString(ld, "name")
		p.Description = ldString(ld, "description")
		p.ImageURL = ldString(ld, "image")
		if offers, ok := ld["offers"].(map[string]any); ok {
			p.Price = ldNumberOrString(offers, "price")
			p.Currency = ldString(offers, "priceCurrency")
			p.Availability = ldString(offers, "availability")
		}
	}

	if p.Name == "" {
		p.Name = itemprop(doc, "name")
	}
	if p.Price == "" {
		p.Price = itemprop(doc, "price")
	}
	if p.Currency == "" {
		p.Currency = itemprop(doc, "priceCurrency")
	}
	if p.Name == "" {
		p.Name = collapseSpace(doc.Find("h1").First().Text())
	}
	if p.Price == "" {
		// Common commerce markup, most specific first.
		for _, sel := range []string{".product-price", ".price-current", "[class*=price]"} {
			if v := collapseSpace(doc.Find(sel).First().Text()); v != "" {
				p.Price = v
				break
			}
		}
	}
	return p
}

func ldNumberOrString(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		b, _ := json.Marshal(v)
		return string(b)
	}
	return ""
}

// SearchResult is one entry from a search-results page.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Result-block patterns for common engines, probed in priority order.
var searchResultSelectors = []string{
	"div.g",          // google
	"li.b_algo",      // bing
	"div.result",     // duckduckgo html
	"[class*=search-result]",
	"[class*=result]",
}

func (e *Extractor) SearchResults(html, baseURL string) []SearchResult {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var blocks *goquery.Selection
	for _, sel := range searchResultSelectors {
		if found := doc.Find(sel); found.Length() >= 2 {
			blocks = found
			break
		}
	}
	if blocks == nil {
		return nil
	}

	out := make([]SearchResult, 0, 10)
	blocks.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		link := s.Find("a[href]").First()
		href, _ := link.Attr("href")
		if !allowedHref(href) {
			return true
		}
		title := collapseSpace(s.Find("h1, h2, h3, h4").First().Text())
		if title == "" {
			title = collapseSpace(link.Text())
		}
		if title == "" {
			return true
		}
		snippet := truncate(collapseSpace(s.Find("p, .snippet, [class*=desc]").First().Text()), 300)
		out = append(out, SearchResult{Title: title, URL: href, Snippet: snippet})
		return len(out) < 20
	})
	return out
}

// Video is one playable source found on the page.
type Video struct {
	URL      string `json:"url"`
	Type     string `json:"type"` // file, youtube, vimeo, embed
	Title    string `json:"title,omitempty"`
	Poster   string `json:"poster,omitempty"`
	Duration string `json:"duration,omitempty"`
}

func (e *Extractor) Videos(html, baseURL string) []Video {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	out := make([]Video, 0, 4)
	add := func(v Video) {
		if v.URL == "" || seen[v.URL] {
			return
		}
		seen[v.URL] = true
		out = append(out, v)
	}

	doc.Find("video").Each(func(_ int, s *goquery.Selection) {
		src := s.AttrOr("src", "")
		if src == "" {
			src = s.Find("source[src]").First().AttrOr("src", "")
		}
		if src != "" {
			add(Video{URL: src, Type: "file", Poster: s.AttrOr("poster", "")})
		}
	})

	doc.Find("iframe[src]").Each(func(_ int, s *goquery.Selection) {
		src := s.AttrOr("src", "")
		lower := strings.ToLower(src)
		switch {
		case strings.Contains(lower, "youtube.com/embed") || strings.Contains(lower, "youtube-nocookie.com/embed"):
			add(Video{URL: src, Type: "youtube", Title: s.AttrOr("title", "")})
		case strings.Contains(lower, "player.vimeo.com"):
			add(Video{URL: src, Type: "vimeo", Title: s.AttrOr("title", "")})
		case strings.Contains(lower, "dailymotion.com/embed"):
			add(Video{URL: src, Type: "embed", Title: s.AttrOr("title", "")})
		}
	})

	if ld := ldOfType(jsonLDBlocks(doc), "VideoObject"); ld != nil {
		url := ldString(ld, "contentUrl", "embedUrl")
		add(Video{
			URL:      url,
			Type:     "file",
			Title:    ldString(ld, "name"),
			Poster:   ldString(ld, "thumbnailUrl"),
			Duration: ldString(ld, "duration"),
		})
	}

	return out
}
