package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/voxtab/voxtab/internal/config"
)

const targetTypePage = "page"

type tabEntry struct {
	ctx    context.Context
	cancel context.CancelFunc
	bridge *ContentBridge
}

// TabManager tracks per-tab chromedp contexts and their ContentBridge
// instances, keyed by CDP target id.
type TabManager struct {
	browserCtx context.Context
	cfg        *config.RuntimeConfig

	mu       sync.RWMutex
	tabs     map[string]*tabEntry
	accessed map[string]bool
}

func NewTabManager(browserCtx context.Context, cfg *config.RuntimeConfig) *TabManager {
	return &TabManager{
		browserCtx: browserCtx,
		cfg:        cfg,
		tabs:       make(map[string]*tabEntry),
		accessed:   make(map[string]bool),
	}
}

func (tm *TabManager) markAccessed(tabID string) {
	tm.mu.Lock()
	tm.accessed[tabID] = true
	tm.mu.Unlock()
}

// AccessedTabIDs returns the tabs touched by any command this session.
func (tm *TabManager) AccessedTabIDs() map[string]bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	out := make(map[string]bool, len(tm.accessed))
	for k := range tm.accessed {
		out[k] = true
	}
	return out
}

func (tm *TabManager) bridgeOptions() Options {
	return Options{
		Retries:       tm.cfg.ClickRetries,
		RetryDelay:    tm.cfg.ClickRetryDelay,
		MaxTextLength: tm.cfg.MaxTextLength,
		MaxLinks:      tm.cfg.MaxLinks,
		MaxImages:     tm.cfg.MaxImages,
	}
}

// BridgeFor resolves a tab id (or the first open page when empty) to its
// ContentBridge, attaching to the target and creating the bridge on first
// touch.
func (tm *TabManager) BridgeFor(tabID string) (*ContentBridge, string, error) {
	if tabID == "" {
		targets, err := tm.ListTargets()
		if err != nil {
			return nil, "", fmt.Errorf("list targets: %w", err)
		}
		if len(targets) == 0 {
			return nil, "", fmt.Errorf("no tabs open")
		}
		tabID = string(targets[0].TargetID)
	}

	tm.mu.RLock()
	if entry, ok := tm.tabs[tabID]; ok && entry.bridge != nil {
		tm.mu.RUnlock()
		tm.markAccessed(tabID)
		return entry.bridge, tabID, nil
	}
	tm.mu.RUnlock()

	tm.mu.Lock()
	defer tm.mu.Unlock()

	if entry, ok := tm.tabs[tabID]; ok && entry.bridge != nil {
		tm.accessed[tabID] = true
		return entry.bridge, tabID, nil
	}

	if tm.browserCtx == nil {
		return nil, "", fmt.Errorf("no browser connection")
	}

	ctx, cancel := chromedp.NewContext(tm.browserCtx,
		chromedp.WithTargetID(target.ID(tabID)),
	)
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		return nil, "", fmt.Errorf("tab %s not found: %w", tabID, err)
	}

	b := New(NewCDPPage(ctx), tm.bridgeOptions())
	tm.tabs[tabID] = &tabEntry{ctx: ctx, cancel: cancel, bridge: b}
	tm.accessed[tabID] = true
	return b, tabID, nil
}

// TabContext exposes the raw chromedp context for dispatcher-level
// operations (navigation, screenshots) that bypass the bridge.
func (tm *TabManager) TabContext(tabID string) (context.Context, string, error) {
	_, id, err := tm.BridgeFor(tabID)
	if err != nil {
		return nil, "", err
	}
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	entry, ok := tm.tabs[id]
	if !ok {
		return nil, "", fmt.Errorf("tab %s not tracked", id)
	}
	return entry.ctx, id, nil
}

// CreateTab opens a fresh tab via target.CreateTarget, which works for
// both the local and the remote allocator.
func (tm *TabManager) CreateTab(url string) (string, error) {
	if tm.browserCtx == nil {
		return "", fmt.Errorf("no browser context available")
	}

	if tm.cfg.MaxTabs > 0 {
		targets, err := tm.ListTargets()
		if err != nil {
			return "", fmt.Errorf("check tab count: %w", err)
		}
		if len(targets) >= tm.cfg.MaxTabs {
			return "", fmt.Errorf("tab limit reached (%d/%d), close a tab first", len(targets), tm.cfg.MaxTabs)
		}
	}

	navURL := "about:blank"
	if url != "" {
		navURL = url
	}

	var targetID target.ID
	createCtx, createCancel := context.WithTimeout(tm.browserCtx, 10*time.Second)
	err := chromedp.Run(createCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			targetID, err = target.CreateTarget(navURL).Do(ctx)
			return err
		}),
	)
	createCancel()
	if err != nil {
		return "", fmt.Errorf("create target: %w", err)
	}

	ctx, cancel := chromedp.NewContext(tm.browserCtx,
		chromedp.WithTargetID(targetID),
	)

	id := string(targetID)
	tm.mu.Lock()
	tm.tabs[id] = &tabEntry{ctx: ctx, cancel: cancel, bridge: New(NewCDPPage(ctx), tm.bridgeOptions())}
	tm.accessed[id] = true
	tm.mu.Unlock()

	return id, nil
}

func (tm *TabManager) CloseTab(tabID string) error {
	tm.mu.Lock()
	entry, tracked := tm.tabs[tabID]
	tm.mu.Unlock()

	if tracked && entry.cancel != nil {
		entry.cancel()
	}

	closeCtx, closeCancel := context.WithTimeout(tm.browserCtx, 5*time.Second)
	defer closeCancel()

	if err := target.CloseTarget(target.ID(tabID)).Do(cdp.WithExecutor(closeCtx, chromedp.FromContext(closeCtx).Browser)); err != nil {
		if !tracked {
			return fmt.Errorf("tab %s not found", tabID)
		}
		slog.Debug("close target CDP", "tabId", tabID, "err", err)
	}

	tm.mu.Lock()
	delete(tm.tabs, tabID)
	tm.mu.Unlock()

	return nil
}

// ListTargets returns the open page targets, excluding workers, iframes
// and extensions.
func (tm *TabManager) ListTargets() ([]*target.Info, error) {
	if tm.browserCtx == nil {
		return nil, fmt.Errorf("no browser connection")
	}
	var targets []*target.Info
	if err := chromedp.Run(tm.browserCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			targets, err = target.GetTargets().Do(ctx)
			return err
		}),
	); err != nil {
		return nil, fmt.Errorf("get targets: %w", err)
	}

	pages := make([]*target.Info, 0)
	for _, t := range targets {
		if t.Type == targetTypePage {
			pages = append(pages, t)
		}
	}
	return pages, nil
}

// RegisterTab adopts an externally created tab context.
func (tm *TabManager) RegisterTab(tabID string, ctx context.Context, cancel context.CancelFunc) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.tabs[tabID] = &tabEntry{ctx: ctx, cancel: cancel, bridge: New(NewCDPPage(ctx), tm.bridgeOptions())}
}

// CleanStaleTabs drops tracked tabs whose targets disappeared, releasing
// their contexts and bridges. Runs until ctx is done.
func (tm *TabManager) CleanStaleTabs(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		targets, err := tm.ListTargets()
		if err != nil {
			continue
		}

		alive := make(map[string]bool, len(targets))
		for _, t := range targets {
			alive[string(t.TargetID)] = true
		}

		tm.mu.Lock()
		for id, entry := range tm.tabs {
			if !alive[id] {
				if entry.cancel != nil {
					entry.cancel()
				}
				delete(tm.tabs, id)
				slog.Info("cleaned stale tab", "id", id)
			}
		}
		tm.mu.Unlock()
	}
}
