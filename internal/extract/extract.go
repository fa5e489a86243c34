// Package extract produces bounded content snapshots from page HTML.
// All extraction is pure: HTML string and base URL in, structured data out.
// Sub-extractors degrade to empty fields instead of failing the whole pass.
package extract

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// PageContent is the bounded snapshot returned for extract_content.
type PageContent struct {
	Title            string            `json:"title"`
	URL              string            `json:"url"`
	Text             string            `json:"text"`
	Headings         []Heading         `json:"headings"`
	Links            []Link            `json:"links"`
	Images           []Image           `json:"images"`
	Meta             map[string]string `json:"meta"`
	Language         string            `json:"language"`
	ExtractionTimeMs int64             `json:"extractionTimeMs"`
}

type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Extractor bounds snapshot sizes so host messages stay small.
type Extractor struct {
	MaxTextLength int
	MaxLinks      int
	MaxImages     int
}

func New(maxText, maxLinks, maxImages int) *Extractor {
	if maxText <= 0 {
		maxText = 50000
	}
	if maxLinks <= 0 {
		maxLinks = 100
	}
	if maxImages <= 0 {
		maxImages = 50
	}
	return &Extractor{MaxTextLength: maxText, MaxLinks: maxLinks, MaxImages: maxImages}
}

// Selectors tried in order for the main content container. Body is the
// last resort.
var mainContentSelectors = []string{
	"main",
	"article",
	"[role=main]",
	"#main-content",
	"#content",
	".main-content",
	".post-content",
	".article-body",
	".content",
}

// Subtrees removed before reading text.
var strippedSelectors = []string{
	"script", "style", "noscript", "template", "svg",
	"nav", "header", "footer", "aside",
	".ad", ".ads", ".advertisement", "[class*=sponsor]",
	"#comments", ".comments", ".comment-section",
}

// Content extracts a full bounded snapshot. Only an unparseable document
// is an error; every sub-extractor degrades on its own.
func (e *Extractor) Content(html, baseURL string) (*PageContent, error) {
	start := time.Now()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	pc := &PageContent{
		Title:    strings.TrimSpace(doc.Find("title").First().Text()),
		URL:      baseURL,
		Headings: e.headings(doc),
		Links:    e.Links(doc, baseURL),
		Images:   e.Images(doc, baseURL),
		Meta:     e.Meta(doc),
	}
	pc.Text = e.MainText(doc)
	pc.Language = DetectLanguage(pc.Text)
	pc.ExtractionTimeMs = time.Since(start).Milliseconds()
	return pc, nil
}

// MainText prefers semantic containers over the full body, strips
// non-content subtrees, and collapses whitespace.
func (e *Extractor) MainText(doc *goquery.Document) string {
	root := doc.Find("body").First()
	for _, sel := range mainContentSelectors {
		if c := doc.Find(sel).First(); c.Length() > 0 && len(strings.TrimSpace(c.Text())) > 100 {
			root = c
			break
		}
	}

	// Work on a clone so stripping doesn't disturb later extractors.
	clone := root.Clone()
	for _, sel := range strippedSelectors {
		clone.Find(sel).Remove()
	}

	var sb strings.Builder
	for _, n := range clone.Nodes {
		blockText(n, &sb)
	}
	return truncate(normalizeBlocks(sb.String()), e.MaxTextLength)
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Elements that end a visual line. Walking raw text nodes would mash
// adjacent blocks into one word ("ParagraphNext"), so boundaries become
// newlines instead.
var blockTags = map[string]bool{
	"address": true, "article": true, "blockquote": true, "br": true,
	"div": true, "dd": true, "dt": true, "fieldset": true, "figcaption": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"hr": true, "li": true, "p": true, "pre": true, "section": true,
	"table": true, "td": true, "th": true, "tr": true, "ul": true, "ol": true,
}

func blockText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		return
	}
	block := n.Type == html.ElementNode && blockTags[n.Data]
	if block {
		sb.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		blockText(c, sb)
	}
	if block {
		sb.WriteByte('\n')
	}
}

// normalizeBlocks collapses whitespace within lines and drops empty ones.
func normalizeBlocks(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if l := collapseSpace(line); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func (e *Extractor) headings(doc *goquery.Document) []Heading {
	out := make([]Heading, 0, 8)
	doc.Find("h1, h2, h3").Each(func(_ int, s *goquery.Selection) {
		text := collapseSpace(s.Text())
		if text == "" {
			return
		}
		level := 1
		switch goquery.NodeName(s) {
		case "h2":
			level = 2
		case "h3":
			level = 3
		}
		out = append(out, Heading{Level: level, Text: text})
	})
	return out
}

// Meta reads name= and property= meta tags into a flat map.
func (e *Extractor) Meta(doc *goquery.Document) map[string]string {
	meta := make(map[string]string)
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		content, ok := s.Attr("content")
		if !ok || content == "" {
			return
		}
		if name, ok := s.Attr("name"); ok && name != "" {
			meta[name] = content
		} else if prop, ok := s.Attr("property"); ok && prop != "" {
			meta[prop] = content
		}
	})
	return meta
}

// PageInfo is the lightweight summary for get_page_info.
type PageInfo struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Language    string `json:"language"`
	LinkCount   int    `json:"linkCount"`
	ImageCount  int    `json:"imageCount"`
	FormCount   int    `json:"formCount"`
	WordCount   int    `json:"wordCount"`
}

func (e *Extractor) Info(html, baseURL string) (*PageInfo, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	meta := e.Meta(doc)
	desc := meta["description"]
	if desc == "" {
		desc = meta["og:description"]
	}

	text := e.MainText(doc)
	return &PageInfo{
		Title:       strings.TrimSpace(doc.Find("title").First().Text()),
		URL:         baseURL,
		Description: desc,
		Language:    DetectLanguage(text),
		LinkCount:   doc.Find("a[href]").Length(),
		ImageCount:  doc.Find("img").Length(),
		FormCount:   doc.Find("form").Length(),
		WordCount:   len(strings.Fields(text)),
	}, nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
