package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chromedp/chromedp"

	"github.com/voxtab/voxtab/internal/config"
)

// InitChrome brings up the browser connection: attach to a remote CDP
// endpoint when configured, otherwise launch Chrome ourselves. The
// returned cancel tears down both the browser and allocator contexts.
func InitChrome(cfg *config.RuntimeConfig) (context.Context, context.CancelFunc, error) {
	if cfg.CdpURL != "" {
		slog.Info("attaching to remote chrome", "url", cfg.CdpURL)
		allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), cfg.CdpURL)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)
		if err := chromedp.Run(browserCtx); err != nil {
			browserCancel()
			allocCancel()
			return nil, nil, fmt.Errorf("connect to remote chrome: %w", err)
		}
		return browserCtx, func() {
			browserCancel()
			allocCancel()
		}, nil
	}

	slog.Info("starting chrome", "headless", cfg.Headless, "profile", cfg.ProfileDir, "binary", cfg.ChromeBinary)

	opts := chromedp.DefaultExecAllocatorOptions[:]
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ChromeBinary != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromeBinary))
	}
	if cfg.ProfileDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.ProfileDir))
	}
	opts = append(opts,
		chromedp.WindowSize(1440, 900),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, nil, fmt.Errorf("start chrome: %w", err)
	}

	slog.Info("chrome ready", "headless", cfg.Headless)
	return browserCtx, func() {
		browserCancel()
		allocCancel()
	}, nil
}
