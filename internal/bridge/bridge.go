// Package bridge executes host commands against a single tab: scanning
// and indexing interactable elements, running actions on them, detecting
// forms, and extracting page content.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxtab/voxtab/internal/extract"
	"github.com/voxtab/voxtab/internal/forms"
	"github.com/voxtab/voxtab/internal/indexer"
)

var (
	ErrElementNotFound = errors.New("element not found")
	ErrUnknownCommand  = errors.New("unknown command")
)

// Options tunes action retry and extraction bounds. Retries is the number
// of extra attempts after the first; this is element-resolution retry and
// has nothing to do with the session's reconnect backoff.
type Options struct {
	Retries    int
	RetryDelay time.Duration

	MaxTextLength int
	MaxLinks      int
	MaxImages     int
}

// ContentBridge is the per-tab command executor. One instance per tab,
// identified by a fresh id so the host can tell bridge restarts apart.
type ContentBridge struct {
	ID   string
	page Page
	opts Options
	ix   *indexer.Indexer
	ext  *extract.Extractor

	mu      sync.Mutex
	inited  bool
	scan    *indexer.ScanResult
	forms   []forms.FormRecord
	hasForm bool
	overlay bool
}

func New(page Page, opts Options) *ContentBridge {
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	return &ContentBridge{
		ID:   uuid.NewString(),
		page: page,
		opts: opts,
		ix:   indexer.New(),
		ext:  extract.New(opts.MaxTextLength, opts.MaxLinks, opts.MaxImages),
	}
}

// Init installs the DOM observers. Idempotent; safe to call on every
// command dispatch.
func (b *ContentBridge) Init(ctx context.Context) error {
	b.mu.Lock()
	if b.inited {
		b.mu.Unlock()
		return nil
	}
	b.inited = true
	b.mu.Unlock()

	err := b.page.Observe(ctx, b.onPageEvent)
	if err != nil {
		b.mu.Lock()
		b.inited = false
		b.mu.Unlock()
		return fmt.Errorf("install observers: %w", err)
	}
	return nil
}

// onPageEvent invalidates cached scan and form state whenever the page
// changes underneath us. A visible overlay is redrawn so its labels track
// the moved elements.
func (b *ContentBridge) onPageEvent(event string) {
	b.mu.Lock()
	b.scan = nil
	b.forms = nil
	b.hasForm = false
	if event == "navigation" {
		b.overlay = false
	}
	redraw := b.overlay
	b.mu.Unlock()

	slog.Debug("page changed, caches invalidated", "bridge", b.ID, "event", event)
	if redraw {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := b.showOverlay(ctx); err != nil {
			slog.Debug("overlay redraw failed", "err", err)
		}
	}
}

// Execute runs one host command and returns its data payload.
func (b *ContentBridge) Execute(ctx context.Context, command string, params json.RawMessage) (map[string]any, error) {
	if err := b.Init(ctx); err != nil {
		return nil, err
	}

	switch command {
	case "ping":
		return map[string]any{"pong": true, "instanceId": b.ID}, nil
	case "scan":
		return b.handleScan(ctx)
	case "get_element":
		return b.handleGetElement(ctx, params)
	case "click":
		return b.handleClick(ctx, params)
	case "type":
		return b.handleType(ctx, params)
	case "scroll":
		return b.handleScroll(ctx, params)
	case "wait_for_element":
		return b.handleWaitForElement(ctx, params)
	case "detect_forms":
		return b.handleDetectForms(ctx)
	case "fill_form":
		return b.handleFillForm(ctx, params)
	case "submit_form":
		return b.handleSubmitForm(ctx, params)
	case "overlay":
		return b.handleOverlay(ctx, params)
	case "extract_content":
		return b.handleExtractContent(ctx)
	case "extract_article":
		return b.handleExtractArticle(ctx)
	case "extract_videos":
		return b.handleExtractVideos(ctx)
	case "extract_product":
		return b.handleExtractProduct(ctx)
	case "extract_search_results":
		return b.handleExtractSearchResults(ctx)
	case "get_page_info":
		return b.handlePageInfo(ctx)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
}

// rescan runs the in-page scan, classifies form-looking elements, and
// caches the result under a fresh generation.
func (b *ContentBridge) rescan(ctx context.Context) (*indexer.ScanResult, error) {
	var raw []indexer.RawElement
	gen := b.ix.NextGeneration()
	if err := b.page.Eval(ctx, fmt.Sprintf(scanScript, gen), &raw); err != nil {
		return nil, fmt.Errorf("scan page: %w", err)
	}
	for i := range raw {
		tag := raw[i].Tag
		if tag == "INPUT" || tag == "input" || tag == "TEXTAREA" || tag == "textarea" || tag == "SELECT" || tag == "select" {
			raw[i].FieldType = forms.Classify(forms.RawField{
				Name:         raw[i].Attributes["name"],
				ID:           raw[i].Attributes["id"],
				Type:         raw[i].Attributes["type"],
				Placeholder:  raw[i].Attributes["placeholder"],
				Autocomplete: raw[i].Attributes["autocomplete"],
				Label:        raw[i].Attributes["aria-label"],
			})
		}
	}
	result := b.ix.BuildWithGeneration(raw, gen)

	b.mu.Lock()
	b.scan = result
	b.mu.Unlock()
	return result, nil
}

// currentScan returns the cached scan, rescanning when the cache was
// invalidated or never populated.
func (b *ContentBridge) currentScan(ctx context.Context) (*indexer.ScanResult, error) {
	b.mu.Lock()
	cached := b.scan
	b.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	return b.rescan(ctx)
}

func (b *ContentBridge) handleScan(ctx context.Context) (map[string]any, error) {
	result, err := b.rescan(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"elements":   result.Elements,
		"generation": result.Generation,
		"count":      len(result.Elements),
	}, nil
}

func (b *ContentBridge) handleGetElement(ctx context.Context, params json.RawMessage) (map[string]any, error) {
	var p struct {
		Index *int   `json:"index"`
		Text  string `json:"text"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("bad params: %w", err)
	}
	scan, err := b.currentScan(ctx)
	if err != nil {
		return nil, err
	}
	var rec *indexer.ElementRecord
	switch {
	case p.Index != nil:
		rec = scan.ByIndex(*p.Index)
	case p.Text != "":
		rec = scan.ByText(p.Text)
	default:
		return nil, errors.New("index or text required")
	}
	if rec == nil {
		return nil, ErrElementNotFound
	}
	return map[string]any{"element": rec, "generation": scan.Generation}, nil
}

func (b *ContentBridge) handleDetectForms(ctx context.Context) (map[string]any, error) {
	records, err := b.detectForms(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"forms": records, "count": len(records)}, nil
}

func (b *ContentBridge) detectForms(ctx context.Context) ([]forms.FormRecord, error) {
	b.mu.Lock()
	if b.hasForm {
		cached := b.forms
		b.mu.Unlock()
		return cached, nil
	}
	b.mu.Unlock()

	var raw []forms.RawForm
	if err := b.page.Eval(ctx, detectFormsScript, &raw); err != nil {
		return nil, fmt.Errorf("detect forms: %w", err)
	}
	records := forms.Build(raw)

	b.mu.Lock()
	b.forms = records
	b.hasForm = true
	b.mu.Unlock()
	return records, nil
}

func (b *ContentBridge) handleOverlay(ctx context.Context, params json.RawMessage) (map[string]any, error) {
	var p struct {
		Visible *bool  `json:"visible"`
		Action  string `json:"action"` // show, hide, toggle, refresh
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("bad params: %w", err)
		}
	}

	action := p.Action
	if action == "" {
		if p.Visible != nil && *p.Visible {
			action = "show"
		} else {
			action = "hide"
		}
	}

	switch action {
	case "show", "refresh":
		return b.showOverlay(ctx)
	case "hide":
		return b.hideOverlay(ctx)
	case "toggle":
		// Ask the page, not the cached flag: the container may have been
		// removed by the page's own scripts since the last command.
		var visible bool
		if err := b.page.Eval(ctx, overlayVisibleScript, &visible); err != nil {
			return nil, fmt.Errorf("query overlay: %w", err)
		}
		if visible {
			return b.hideOverlay(ctx)
		}
		return b.showOverlay(ctx)
	default:
		return nil, fmt.Errorf("bad overlay action %q", action)
	}
}

func (b *ContentBridge) showOverlay(ctx context.Context) (map[string]any, error) {
	// Overlay labels come from the element registry, so make sure a scan
	// exists before drawing.
	if _, err := b.currentScan(ctx); err != nil {
		return nil, err
	}
	var res map[string]any
	if err := b.page.Eval(ctx, overlayShowScript, &res); err != nil {
		return nil, fmt.Errorf("show overlay: %w", err)
	}
	b.mu.Lock()
	b.overlay = true
	b.mu.Unlock()
	return res, nil
}

func (b *ContentBridge) hideOverlay(ctx context.Context) (map[string]any, error) {
	var res map[string]any
	if err := b.page.Eval(ctx, overlayHideScript, &res); err != nil {
		return nil, fmt.Errorf("hide overlay: %w", err)
	}
	b.mu.Lock()
	b.overlay = false
	b.mu.Unlock()
	return res, nil
}

func (b *ContentBridge) handleExtractContent(ctx context.Context) (map[string]any, error) {
	html, url, err := b.pageHTML(ctx)
	if err != nil {
		return nil, err
	}
	content, err := b.ext.Content(html, url)
	if err != nil {
		return nil, err
	}
	return map[string]any{"content": content}, nil
}

func (b *ContentBridge) handleExtractArticle(ctx context.Context) (map[string]any, error) {
	html, url, err := b.pageHTML(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"article": b.ext.Article(html, url)}, nil
}

func (b *ContentBridge) handleExtractVideos(ctx context.Context) (map[string]any, error) {
	html, url, err := b.pageHTML(ctx)
	if err != nil {
		return nil, err
	}
	videos := b.ext.Videos(html, url)
	return map[string]any{"videos": videos, "count": len(videos)}, nil
}

func (b *ContentBridge) handleExtractProduct(ctx context.Context) (map[string]any, error) {
	html, url, err := b.pageHTML(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"product": b.ext.Product(html, url)}, nil
}

func (b *ContentBridge) handleExtractSearchResults(ctx context.Context) (map[string]any, error) {
	html, url, err := b.pageHTML(ctx)
	if err != nil {
		return nil, err
	}
	results := b.ext.SearchResults(html, url)
	return map[string]any{"results": results, "count": len(results)}, nil
}

func (b *ContentBridge) handlePageInfo(ctx context.Context) (map[string]any, error) {
	html, url, err := b.pageHTML(ctx)
	if err != nil {
		return nil, err
	}
	info, err := b.ext.Info(html, url)
	if err != nil {
		return nil, err
	}
	return map[string]any{"info": info}, nil
}

func (b *ContentBridge) pageHTML(ctx context.Context) (html, url string, err error) {
	html, err = b.page.HTML(ctx)
	if err != nil {
		return "", "", fmt.Errorf("read page html: %w", err)
	}
	url, err = b.page.URL(ctx)
	if err != nil {
		return "", "", fmt.Errorf("read page url: %w", err)
	}
	return html, url, nil
}
