package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/voxtab/voxtab/internal/forms"
)

var ErrWaitTimeout = errors.New("timed out waiting for element")

// jsString renders s as a JS string literal. JSON escaping is valid JS.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// resolveSnippet builds a JS expression that evaluates to the target
// element or null. Precedence: explicit selector, then scan index (with a
// generation check so stale indices resolve to nothing), then nil for
// callers that handle text fuzzing themselves.
func resolveSnippet(selector string, index *int, gen uint64) string {
	if selector != "" {
		return "document.querySelector(" + jsString(selector) + ")"
	}
	if index != nil {
		return fmt.Sprintf(
			"(window.__voxtab && window.__voxtab.gen === %d && window.__voxtab.els ? window.__voxtab.els[%d] : null)",
			gen, *index)
	}
	return "null"
}

type targetParams struct {
	Selector string `json:"selector"`
	Index    *int   `json:"index"`
	Text     string `json:"text"`
}

// resolveTarget turns click/type addressing into a concrete snippet. Text
// queries go through the current scan: first case-insensitive substring
// match in scan order wins.
func (b *ContentBridge) resolveTarget(ctx context.Context, p targetParams) (string, error) {
	if p.Selector != "" {
		return resolveSnippet(p.Selector, nil, 0), nil
	}
	scan, err := b.currentScan(ctx)
	if err != nil {
		return "", err
	}
	if p.Index != nil {
		if scan.ByIndex(*p.Index) == nil {
			return "", ErrElementNotFound
		}
		return resolveSnippet("", p.Index, scan.Generation), nil
	}
	if p.Text != "" {
		rec := scan.ByText(p.Text)
		if rec == nil {
			return "", ErrElementNotFound
		}
		idx := rec.Index
		return resolveSnippet("", &idx, scan.Generation), nil
	}
	return "", errors.New("selector, index or text required")
}

func (b *ContentBridge) handleClick(ctx context.Context, params json.RawMessage) (map[string]any, error) {
	var p struct {
		targetParams
		RetryCount   *int `json:"retryCount"`
		RetryDelayMs *int `json:"retryDelayMs"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("bad params: %w", err)
	}

	retries := b.opts.Retries
	if p.RetryCount != nil {
		retries = *p.RetryCount
	}
	delay := b.opts.RetryDelay
	if p.RetryDelayMs != nil {
		delay = time.Duration(*p.RetryDelayMs) * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			// The element may have appeared or moved since the last try.
			if _, err := b.rescan(ctx); err != nil {
				lastErr = err
				continue
			}
		}

		snippet, err := b.resolveTarget(ctx, p.targetParams)
		if err != nil {
			lastErr = err
			continue
		}
		var res struct {
			Found bool `json:"found"`
		}
		if err := b.page.Eval(ctx, fmt.Sprintf(clickScript, snippet), &res); err != nil {
			lastErr = fmt.Errorf("click: %w", err)
			continue
		}
		if res.Found {
			return map[string]any{"clicked": true, "attempts": attempt + 1}, nil
		}
		lastErr = ErrElementNotFound
	}
	slog.Debug("click exhausted retries", "attempts", retries+1, "err", lastErr)
	return nil, lastErr
}

func (b *ContentBridge) handleType(ctx context.Context, params json.RawMessage) (map[string]any, error) {
	var p struct {
		Selector string `json:"selector"`
		Index    *int   `json:"index"`
		Text     string `json:"text"`
		Clear    bool   `json:"clear"`
		DelayMs  int    `json:"delayMs"`
		Submit   string `json:"submit"` // "", "form" or "enter"
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("bad params: %w", err)
	}
	if p.Selector == "" && p.Index == nil {
		return nil, errors.New("selector or index required")
	}
	switch p.Submit {
	case "", "form", "enter":
	default:
		return nil, fmt.Errorf("bad submit mode %q", p.Submit)
	}

	snippet, err := b.resolveTarget(ctx, targetParams{Selector: p.Selector, Index: p.Index})
	if err != nil {
		return nil, err
	}

	expr := fmt.Sprintf(typeScript, snippet, p.Clear, jsString(p.Text), p.DelayMs, jsString(p.Submit))
	var res struct {
		Found bool   `json:"found"`
		Value string `json:"value"`
	}
	if err := b.page.EvalAsync(ctx, expr, &res); err != nil {
		return nil, fmt.Errorf("type: %w", err)
	}
	if !res.Found {
		return nil, ErrElementNotFound
	}
	return map[string]any{"typed": true, "value": res.Value}, nil
}

func (b *ContentBridge) handleScroll(ctx context.Context, params json.RawMessage) (map[string]any, error) {
	var p struct {
		Direction string          `json:"direction"` // up, down, left, right
		Amount    json.RawMessage `json:"amount"`    // "page", "half" or pixels
		To        string          `json:"to"`        // "top" or "bottom"
		Selector  string          `json:"selector"`  // scroll container, window when empty
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("bad params: %w", err)
		}
	}

	switch p.To {
	case "", "top", "bottom":
	default:
		return nil, fmt.Errorf("bad scroll destination %q", p.To)
	}
	dir := p.Direction
	if dir == "" {
		dir = "down"
	}
	switch dir {
	case "up", "down", "left", "right":
	default:
		return nil, fmt.Errorf("bad scroll direction %q", dir)
	}

	amount := "page"
	if len(p.Amount) > 0 {
		var s string
		var n float64
		if json.Unmarshal(p.Amount, &s) == nil {
			amount = s
		} else if json.Unmarshal(p.Amount, &n) == nil {
			amount = strconv.Itoa(int(n))
		}
	}

	target := "window"
	if p.Selector != "" {
		target = "document.querySelector(" + jsString(p.Selector) + ")"
	}

	expr := fmt.Sprintf(scrollScript, target, jsString(p.To), jsString(dir), jsString(amount))
	var res map[string]any
	if err := b.page.Eval(ctx, expr, &res); err != nil {
		return nil, fmt.Errorf("scroll: %w", err)
	}
	if found, _ := res["found"].(bool); !found {
		return nil, ErrElementNotFound
	}
	return res, nil
}

func (b *ContentBridge) handleWaitForElement(ctx context.Context, params json.RawMessage) (map[string]any, error) {
	var p struct {
		Selector  string `json:"selector"`
		Text      string `json:"text"`
		TimeoutMs int    `json:"timeoutMs"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("bad params: %w", err)
	}
	if p.Selector == "" && p.Text == "" {
		return nil, errors.New("selector or text required")
	}
	timeout := 10 * time.Second
	if p.TimeoutMs > 0 {
		timeout = time.Duration(p.TimeoutMs) * time.Millisecond
	}

	start := time.Now()
	deadline := start.Add(timeout)
	for {
		found, err := b.probeElement(ctx, p.Selector, p.Text)
		if err != nil {
			return nil, err
		}
		if found {
			return map[string]any{"found": true, "waitedMs": time.Since(start).Milliseconds()}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrWaitTimeout
		}
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (b *ContentBridge) probeElement(ctx context.Context, selector, text string) (bool, error) {
	if selector != "" {
		var present bool
		expr := "!!document.querySelector(" + jsString(selector) + ")"
		if err := b.page.Eval(ctx, expr, &present); err != nil {
			return false, fmt.Errorf("probe element: %w", err)
		}
		return present, nil
	}
	scan, err := b.rescan(ctx)
	if err != nil {
		return false, err
	}
	return scan.ByText(text) != nil, nil
}

func (b *ContentBridge) handleFillForm(ctx context.Context, params json.RawMessage) (map[string]any, error) {
	var p struct {
		FormIndex int               `json:"formIndex"`
		Fields    map[string]string `json:"fields"`
		Submit    bool              `json:"submit"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("bad params: %w", err)
	}
	if len(p.Fields) == 0 {
		return nil, errors.New("fields required")
	}

	rec, err := b.formByIndex(ctx, p.FormIndex)
	if err != nil {
		return nil, err
	}

	// Partial failures are reported, not fatal: every matchable field gets
	// filled even when some keys find no home.
	filled := make([]string, 0, len(p.Fields))
	failures := make([]map[string]any, 0)
	for key, value := range p.Fields {
		field := forms.MatchField(rec, key)
		if field == nil {
			failures = append(failures, map[string]any{"field": key, "error": "no matching field"})
			continue
		}
		if err := b.fillField(ctx, field.Selector, value); err != nil {
			failures = append(failures, map[string]any{"field": key, "error": err.Error()})
			continue
		}
		filled = append(filled, key)
	}

	out := map[string]any{
		"formIndex": rec.Index,
		"filled":    filled,
		"failed":    failures,
	}
	if p.Submit {
		method, err := b.submitForm(ctx, rec)
		if err != nil {
			return nil, err
		}
		out["submitted"] = true
		out["submitMethod"] = method
	}
	return out, nil
}

func (b *ContentBridge) fillField(ctx context.Context, selector, value string) error {
	snippet := resolveSnippet(selector, nil, 0)
	expr := fmt.Sprintf(typeScript, snippet, true, jsString(value), 0, jsString(""))
	var res struct {
		Found bool `json:"found"`
	}
	if err := b.page.EvalAsync(ctx, expr, &res); err != nil {
		return fmt.Errorf("fill field: %w", err)
	}
	if !res.Found {
		return ErrElementNotFound
	}
	return nil
}

func (b *ContentBridge) handleSubmitForm(ctx context.Context, params json.RawMessage) (map[string]any, error) {
	var p struct {
		FormIndex int `json:"formIndex"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("bad params: %w", err)
		}
	}
	rec, err := b.formByIndex(ctx, p.FormIndex)
	if err != nil {
		return nil, err
	}
	method, err := b.submitForm(ctx, rec)
	if err != nil {
		return nil, err
	}
	return map[string]any{"submitted": true, "method": method}, nil
}

// submitForm prefers clicking the detected submit control (it may carry
// page JS the native path skips) and falls back to native form submission.
func (b *ContentBridge) submitForm(ctx context.Context, rec *forms.FormRecord) (string, error) {
	if rec.SubmitButton != "" {
		snippet := resolveSnippet(rec.SubmitButton, nil, 0)
		var res struct {
			Found bool `json:"found"`
		}
		if err := b.page.Eval(ctx, fmt.Sprintf(clickScript, snippet), &res); err != nil {
			return "", fmt.Errorf("click submit: %w", err)
		}
		if res.Found {
			return "button", nil
		}
	}
	var res struct {
		Found bool `json:"found"`
	}
	if err := b.page.Eval(ctx, fmt.Sprintf(submitFormScript, jsString(rec.Selector)), &res); err != nil {
		return "", fmt.Errorf("submit form: %w", err)
	}
	if !res.Found {
		return "", ErrElementNotFound
	}
	return "native", nil
}

func (b *ContentBridge) formByIndex(ctx context.Context, index int) (*forms.FormRecord, error) {
	records, err := b.detectForms(ctx)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(records) {
		return nil, fmt.Errorf("form index %d out of range (%d forms)", index, len(records))
	}
	return &records[index], nil
}
