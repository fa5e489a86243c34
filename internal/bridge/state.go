package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

type TabState struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

type SessionState struct {
	Tabs    []TabState `json:"tabs"`
	SavedAt string     `json:"savedAt"`
}

// isTransientURL filters out pages not worth restoring.
func isTransientURL(url string) bool {
	switch url {
	case "about:blank", "chrome://newtab/", "chrome://new-tab-page/":
		return true
	}
	return strings.HasPrefix(url, "chrome://") ||
		strings.HasPrefix(url, "chrome-extension://") ||
		strings.HasPrefix(url, "devtools://") ||
		strings.HasPrefix(url, "file://")
}

// SaveState writes the accessed, non-transient tabs to the state dir so a
// restart can reopen them.
func (tm *TabManager) SaveState() {
	targets, err := tm.ListTargets()
	if err != nil {
		slog.Error("save state: list targets", "err", err)
		return
	}

	accessed := tm.AccessedTabIDs()
	tabs := make([]TabState, 0, len(targets))
	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		if t.URL == "" || isTransientURL(t.URL) {
			continue
		}
		if seen[t.URL] {
			continue
		}
		if !accessed[string(t.TargetID)] {
			continue
		}
		seen[t.URL] = true
		tabs = append(tabs, TabState{
			ID:    string(t.TargetID),
			URL:   t.URL,
			Title: t.Title,
		})
	}

	state := SessionState{
		Tabs:    tabs,
		SavedAt: time.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		slog.Error("save state: marshal", "err", err)
		return
	}
	if err := os.MkdirAll(tm.cfg.StateDir, 0755); err != nil {
		slog.Error("save state: mkdir", "err", err)
		return
	}
	path := filepath.Join(tm.cfg.StateDir, "sessions.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		slog.Error("save state: write", "err", err)
	} else {
		slog.Info("saved tabs", "count", len(tabs), "path", path)
	}
}

// RestoreState reopens saved tabs. Navigation happens in the background
// with limited concurrency so a restart does not hammer the network.
func (tm *TabManager) RestoreState() {
	path := filepath.Join(tm.cfg.StateDir, "sessions.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return
	}
	if len(state.Tabs) == 0 {
		return
	}

	const maxConcurrentNavs = 2
	navSem := make(chan struct{}, maxConcurrentNavs)

	restored := 0
	for _, tab := range state.Tabs {
		if isTransientURL(tab.URL) {
			continue
		}
		if restored > 0 {
			time.Sleep(200 * time.Millisecond)
		}

		id, err := tm.CreateTab("")
		if err != nil {
			slog.Warn("restore tab failed", "url", tab.URL, "err", err)
			continue
		}
		restored++

		tabCtx, _, err := tm.TabContext(id)
		if err != nil {
			continue
		}
		go func(ctx context.Context, url string) {
			navSem <- struct{}{}
			defer func() { <-navSem }()

			tCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			defer cancel()
			if err := chromedp.Run(tCtx, chromedp.Navigate(url)); err != nil {
				slog.Debug("restore navigation failed", "url", url, "err", err)
			}
		}(tabCtx, tab.URL)
	}
	if restored > 0 {
		slog.Info("restored tabs", "count", restored)
	}
}

var crashedPrefsReplacer = strings.NewReplacer(
	`"exit_type":"Crashed"`, `"exit_type":"Normal"`,
	`"exit_type": "Crashed"`, `"exit_type": "Normal"`,
	`"exited_cleanly":false`, `"exited_cleanly":true`,
	`"exited_cleanly": false`, `"exited_cleanly": true`,
)

// ClearChromeSessions removes Chrome's own session files, which can hang
// startup when the previous run died mid-restore.
func ClearChromeSessions(profileDir string) {
	sessionsDir := filepath.Join(profileDir, "Default", "Sessions")

	const maxRetries = 3
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(100 * time.Millisecond)
		}
		if err = os.RemoveAll(sessionsDir); err == nil {
			slog.Info("cleared chrome sessions dir")
			return
		}
	}
	slog.Warn("failed to clear chrome sessions dir", "err", err)
}

// MarkCleanExit patches the profile's crash markers so Chrome skips its
// "restore pages?" bubble on the next launch.
func MarkCleanExit(profileDir string) {
	prefsPath := filepath.Join(profileDir, "Default", "Preferences")
	data, err := os.ReadFile(prefsPath)
	if err != nil {
		return
	}
	patched := crashedPrefsReplacer.Replace(string(data))
	if patched != string(data) {
		if err := os.WriteFile(prefsPath, []byte(patched), 0644); err != nil {
			slog.Error("patch prefs", "err", err)
		}
	}
}
