// Package dispatch routes host commands to tabs: browser-level operations
// (navigation, screenshots, tab management) run here, everything else is
// delegated to the target tab's ContentBridge.
package dispatch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/voxtab/voxtab/internal/bridge"
	"github.com/voxtab/voxtab/internal/config"
	"github.com/voxtab/voxtab/internal/session"
)

// TabRegistry is what the dispatcher needs from the tab layer.
type TabRegistry interface {
	BridgeFor(tabID string) (*bridge.ContentBridge, string, error)
	TabContext(tabID string) (context.Context, string, error)
	ListTargets() ([]*target.Info, error)
	CreateTab(url string) (string, error)
	CloseTab(tabID string) error
}

type Dispatcher struct {
	tabs TabRegistry
	cfg  *config.RuntimeConfig
}

func New(tabs TabRegistry, cfg *config.RuntimeConfig) *Dispatcher {
	return &Dispatcher{tabs: tabs, cfg: cfg}
}

// HandleCommand executes one host command and returns the result envelope.
// The requestId is echoed back untouched so the host can correlate.
func (d *Dispatcher) HandleCommand(msg session.Message) session.Message {
	start := time.Now()
	data, err := d.route(msg)

	resp := session.Message{
		Type:      "command_result",
		RequestID: msg.RequestID,
		Command:   msg.Command,
		TabID:     msg.TabID,
	}
	if err != nil {
		slog.Warn("command failed", "command", msg.Command, "tabId", msg.TabID, "err", err, "took", time.Since(start))
		resp.Error = err.Error()
		return resp
	}

	if data == nil {
		data = map[string]any{}
	}
	data["success"] = true
	payload, merr := json.Marshal(data)
	if merr != nil {
		resp.Error = fmt.Sprintf("marshal result: %v", merr)
		return resp
	}
	resp.Data = payload
	slog.Debug("command ok", "command", msg.Command, "tabId", msg.TabID, "took", time.Since(start))
	return resp
}

// Broadcast runs one command on every open tab, best effort: per-tab
// failures are logged and skipped, never propagated.
func (d *Dispatcher) Broadcast(command string, params json.RawMessage) {
	targets, err := d.tabs.ListTargets()
	if err != nil {
		slog.Debug("broadcast skipped, no targets", "command", command, "err", err)
		return
	}
	for _, t := range targets {
		b, tabID, err := d.tabs.BridgeFor(string(t.TargetID))
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ActionTimeout)
		if _, err := b.Execute(ctx, command, params); err != nil {
			slog.Debug("broadcast failed on tab", "tabId", tabID, "command", command, "err", err)
		}
		cancel()
	}
}

func (d *Dispatcher) route(msg session.Message) (map[string]any, error) {
	switch msg.Command {
	case "navigate":
		return d.navigate(msg)
	case "screenshot":
		return d.screenshot(msg)
	case "get_tabs":
		return d.getTabs()
	case "create_tab":
		return d.createTab(msg)
	case "close_tab":
		return d.closeTab(msg)
	default:
		b, _, err := d.tabs.BridgeFor(msg.TabID)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ActionTimeout)
		defer cancel()
		return b.Execute(ctx, msg.Command, msg.Params)
	}
}

// normalizeURL defaults bare hostnames to https.
func normalizeURL(url string) string {
	if url == "" {
		return url
	}
	if strings.Contains(url, "://") || strings.HasPrefix(url, "about:") || strings.HasPrefix(url, "chrome:") {
		return url
	}
	return "https://" + url
}

func (d *Dispatcher) navigate(msg session.Message) (map[string]any, error) {
	var p struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(msg.Params, &p); err != nil {
		return nil, fmt.Errorf("bad params: %w", err)
	}
	if p.URL == "" {
		return nil, fmt.Errorf("url required")
	}
	url := normalizeURL(p.URL)

	tabCtx, tabID, err := d.tabs.TabContext(msg.TabID)
	if err != nil {
		return nil, err
	}

	navCtx, cancel := context.WithTimeout(tabCtx, d.cfg.NavigateTimeout)
	defer cancel()

	var title string
	if err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.Title(&title),
	); err != nil {
		return nil, fmt.Errorf("navigate to %s: %w", url, err)
	}
	return map[string]any{"url": url, "title": title, "tabId": tabID}, nil
}

func (d *Dispatcher) screenshot(msg session.Message) (map[string]any, error) {
	tabCtx, tabID, err := d.tabs.TabContext(msg.TabID)
	if err != nil {
		return nil, err
	}

	shotCtx, cancel := context.WithTimeout(tabCtx, d.cfg.ActionTimeout)
	defer cancel()

	var buf []byte
	if err := chromedp.Run(shotCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return map[string]any{
		"tabId":      tabID,
		"format":     "png",
		"capturedAt": time.Now().UTC().Format(time.RFC3339),
		"image":      base64.StdEncoding.EncodeToString(buf),
	}, nil
}

func (d *Dispatcher) getTabs() (map[string]any, error) {
	targets, err := d.tabs.ListTargets()
	if err != nil {
		return nil, err
	}
	tabs := make([]map[string]any, 0, len(targets))
	for _, t := range targets {
		tabs = append(tabs, map[string]any{
			"id":    string(t.TargetID),
			"url":   t.URL,
			"title": t.Title,
		})
	}
	return map[string]any{"tabs": tabs, "count": len(tabs)}, nil
}

func (d *Dispatcher) createTab(msg session.Message) (map[string]any, error) {
	var p struct {
		URL string `json:"url"`
	}
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			return nil, fmt.Errorf("bad params: %w", err)
		}
	}
	id, err := d.tabs.CreateTab(normalizeURL(p.URL))
	if err != nil {
		return nil, err
	}
	return map[string]any{"tabId": id}, nil
}

func (d *Dispatcher) closeTab(msg session.Message) (map[string]any, error) {
	if msg.TabID == "" {
		return nil, fmt.Errorf("tabId required")
	}
	if err := d.tabs.CloseTab(msg.TabID); err != nil {
		return nil, err
	}
	return map[string]any{"closed": true, "tabId": msg.TabID}, nil
}
