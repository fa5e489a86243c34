package extract

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestContentBasics(t *testing.T) {
	html := `<html><head>
		<title>Example Page</title>
		<meta name="description" content="A test page">
		<meta property="og:title" content="Example OG">
	</head><body>
		<nav><a href="/nav1">Nav Link</a> lots of navigation chrome</nav>
		<main>
			<h1>Main Heading</h1>
			<h2>Sub Heading</h2>
			<p>` + strings.Repeat("The quick brown fox jumps over the lazy dog and that is fine for you and them. ", 5) + `</p>
			<script>var ignored = "SCRIPT_TEXT_MUST_NOT_APPEAR";</script>
		</main>
		<footer>footer noise</footer>
	</body></html>`

	e := New(0, 0, 0)
	pc, err := e.Content(html, "https://example.com/page")
	if err != nil {
		t.Fatalf("Content: %v", err)
	}

	if pc.Title != "Example Page" {
		t.Errorf("title = %q", pc.Title)
	}
	if pc.Meta["description"] != "A test page" {
		t.Errorf("meta description = %q", pc.Meta["description"])
	}
	if pc.Meta["og:title"] != "Example OG" {
		t.Errorf("og:title = %q", pc.Meta["og:title"])
	}
	if strings.Contains(pc.Text, "SCRIPT_TEXT_MUST_NOT_APPEAR") {
		t.Error("script content leaked into text")
	}
	if strings.Contains(pc.Text, "footer noise") {
		t.Error("text should come from <main>, not the whole body")
	}
	if !strings.Contains(pc.Text, "quick brown fox") {
		t.Errorf("main text missing content: %q", pc.Text[:min(120, len(pc.Text))])
	}
	if len(pc.Headings) != 2 || pc.Headings[0].Level != 1 || pc.Headings[1].Level != 2 {
		t.Errorf("headings = %+v", pc.Headings)
	}
	if pc.Language != "en" {
		t.Errorf("language = %q, want en", pc.Language)
	}
}

func TestTextIsBounded(t *testing.T) {
	html := "<html><body><main><p>" + strings.Repeat("word ", 5000) + "</p></main></body></html>"
	e := New(500, 10, 10)
	pc, err := e.Content(html, "https://example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(pc.Text) > 500 {
		t.Errorf("text length %d exceeds bound 500", len(pc.Text))
	}
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	s := "aé€😀"
	for max := 0; max <= len(s); max++ {
		got := truncate(s, max)
		if len(got) > max {
			t.Errorf("truncate(%q, %d) = %q, %d bytes over bound", s, max, got, len(got))
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) = %q, invalid UTF-8", s, max, got)
		}
	}
	if got := truncate(s, len(s)); got != s {
		t.Errorf("truncate at full length mangled %q into %q", s, got)
	}
}

func TestBoundedTextStaysValidUTF8(t *testing.T) {
	html := "<html><body><main><p>" + strings.Repeat("héllo wörld ", 100) + "</p></main></body></html>"
	// This bound lands inside a two-byte rune; the cut must back up, not
	// split it.
	e := New(499, 10, 10)
	pc, err := e.Content(html, "https://example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(pc.Text) > 499 {
		t.Errorf("text length %d exceeds bound", len(pc.Text))
	}
	if !utf8.ValidString(pc.Text) {
		t.Error("bounded text is not valid UTF-8")
	}
}

func TestTextKeepsBlockBoundaries(t *testing.T) {
	html := `<html><body><main>
		<p>First paragraph.</p><p>Second paragraph.</p>
		<div>Standalone line</div>
	</main></body></html>`
	e := New(0, 0, 0)
	pc, err := e.Content(html, "https://example.com")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(pc.Text, "paragraph.Second") {
		t.Errorf("adjacent blocks ran together: %q", pc.Text)
	}
	want := "First paragraph.\nSecond paragraph.\nStandalone line"
	if pc.Text != want {
		t.Errorf("text = %q, want %q", pc.Text, want)
	}
}

func TestLinksSchemeFiltering(t *testing.T) {
	html := `<html><body>
		<a href="javascript:void(0)">js</a>
		<a href="data:text/html,hello">data</a>
		<a href="vbscript:evil()">vb</a>
		<a href="#">bare hash</a>
		<a href="#section">fragment</a>
		<a href="https://x.com">good</a>
	</body></html>`

	e := New(0, 0, 0)
	pc, err := e.Content(html, "https://example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(pc.Links) != 1 {
		t.Fatalf("expected exactly 1 link, got %d: %+v", len(pc.Links), pc.Links)
	}
	if pc.Links[0].URL != "https://x.com" {
		t.Errorf("link = %q, want https://x.com", pc.Links[0].URL)
	}
	if pc.Links[0].Internal {
		t.Error("x.com should be external from example.com")
	}
}

func TestLinksDedupAndClassification(t *testing.T) {
	html := `<html><body>
		<a href="/about">About</a>
		<a href="https://example.com/about">About again</a>
		<a href="https://other.org/page" style="display: none">Hidden external</a>
	</body></html>`

	e := New(0, 0, 0)
	doc := mustDoc(t, html)
	links := e.Links(doc, "https://example.com")

	if len(links) != 2 {
		t.Fatalf("expected 2 links after dedup, got %d: %+v", len(links), links)
	}
	if !links[0].Internal {
		t.Error("/about should be internal")
	}
	if links[1].Visible {
		t.Error("display:none link should be marked hidden")
	}
}

func TestImages(t *testing.T) {
	html := `<html><body>
		<img src="/a.png" alt="first">
		<img src="https://example.com/a.png" alt="dup">
		<img src="data:image/png;base64,xyz" alt="inline">
		<img src="/b.jpg" hidden>
	</body></html>`

	e := New(0, 0, 0)
	doc := mustDoc(t, html)
	images := e.Images(doc, "https://example.com")

	if len(images) != 2 {
		t.Fatalf("expected 2 images, got %d: %+v", len(images), images)
	}
	if images[0].Alt != "first" {
		t.Errorf("alt = %q", images[0].Alt)
	}
	if images[1].Visible {
		t.Error("hidden attribute should mark image invisible")
	}
}

func TestArticleJSONLD(t *testing.T) {
	html := `<html><head>
		<title>Fallback Title</title>
		<script type="application/ld+json">
		{"@type":"NewsArticle","headline":"Big Story","author":{"name":"Jo Writer"},"datePublished":"2026-01-15"}
		</script>
	</head><body><article><p>` + strings.Repeat("Article body text that should be long enough to qualify as main content here. ", 3) + `</p></article></body></html>`

	e := New(0, 0, 0)
	a := e.Article(html, "https://news.example.com/story")

	if a.Title != "Big Story" {
		t.Errorf("title = %q", a.Title)
	}
	if a.Author != "Jo Writer" {
		t.Errorf("author = %q", a.Author)
	}
	if a.Published != "2026-01-15" {
		t.Errorf("published = %q", a.Published)
	}
	if !strings.Contains(a.Content, "Article body") {
		t.Error("article content missing")
	}
}

func TestArticleFallbacks(t *testing.T) {
	html := `<html><head><title>Plain Title</title></head><body>
		<h1>H1 Title</h1>
		<span class="byline">By A. Nony Mouse</span>
		<time datetime="2026-02-02T10:00:00Z">Feb 2</time>
		<p>short body</p>
	</body></html>`

	e := New(0, 0, 0)
	a := e.Article(html, "")

	if a.Title != "H1 Title" {
		t.Errorf("title = %q, want h1 fallback", a.Title)
	}
	if a.Published != "2026-02-02T10:00:00Z" {
		t.Errorf("published = %q", a.Published)
	}
}

func TestProduct(t *testing.T) {
	html := `<html><body>
		<script type="application/ld+json">
		{"@type":"Product","name":"Widget Pro","offers":{"price":"19.99","priceCurrency":"USD","availability":"InStock"}}
		</script>
	</body></html>`

	e := New(0, 0, 0)
	p := e.Product(html, "")
	if p.Name != "Widget Pro" || p.Price != "19.99" || p.Currency != "USD" {
		t.Errorf("product = %+v", p)
	}
}

func TestProductMissingDataIsEmpty(t *testing.T) {
	e := New(0, 0, 0)
	p := e.Product("<html><body><p>nothing here</p></body></html>", "")
	if p == nil {
		t.Fatal("product extraction must not fail, only degrade")
	}
	if p.Name != "" || p.Price != "" {
		t.Errorf("expected empty fields, got %+v", p)
	}
}

func TestVideos(t *testing.T) {
	html := `<html><body>
		<video src="/clip.mp4" poster="/poster.jpg"></video>
		<iframe src="https://www.youtube.com/embed/abc123" title="A Video"></iframe>
		<iframe src="https://www.youtube.com/embed/abc123"></iframe>
		<iframe src="https://maps.example.com/embed"></iframe>
	</body></html>`

	e := New(0, 0, 0)
	videos := e.Videos(html, "https://example.com")

	if len(videos) != 2 {
		t.Fatalf("expected 2 videos, got %d: %+v", len(videos), videos)
	}
	if videos[0].Type != "file" || videos[1].Type != "youtube" {
		t.Errorf("types = %q, %q", videos[0].Type, videos[1].Type)
	}
}

func TestSearchResults(t *testing.T) {
	html := `<html><body>
		<div class="result"><h3>First Hit</h3><a href="https://a.com">a</a><p>snippet one</p></div>
		<div class="result"><h3>Second Hit</h3><a href="https://b.com">b</a><p>snippet two</p></div>
		<div class="result"><h3>No link</h3><a href="javascript:void(0)">x</a></div>
	</body></html>`

	e := New(0, 0, 0)
	results := e.SearchResults(html, "")

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d: %+v", len(results), results)
	}
	if results[0].Title != "First Hit" || results[0].Snippet != "snippet one" {
		t.Errorf("first result = %+v", results[0])
	}
}

func TestInfo(t *testing.T) {
	html := `<html><head><title>T</title><meta name="description" content="D"></head>
	<body><a href="/x">x</a><a href="/y">y</a><img src="/i.png"><form></form></body></html>`

	e := New(0, 0, 0)
	info, err := e.Info(html, "https://example.com")
	if err != nil {
		t.Fatal(err)
	}
	if info.Title != "T" || info.Description != "D" {
		t.Errorf("info = %+v", info)
	}
	if info.LinkCount != 2 || info.ImageCount != 1 || info.FormCount != 1 {
		t.Errorf("counts = links:%d images:%d forms:%d", info.LinkCount, info.ImageCount, info.FormCount)
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
