package bridge

import (
	"context"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// bindingName is the page-side callback the observer script invokes to
// report DOM change events back to Go.
const bindingName = "__voxtabNotify"

// Page is the narrow capability the bridge uses to touch a document:
// query, mutate, observe. Core logic depends only on this, so it runs
// against a test double without a browser.
type Page interface {
	// Eval evaluates an expression and unmarshals its value into out.
	Eval(ctx context.Context, expr string, out any) error
	// EvalAsync evaluates a promise-returning expression and awaits it.
	EvalAsync(ctx context.Context, expr string, out any) error
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	// Observe installs the DOM observer script and routes its change
	// notifications ("mutation", "resize", "scroll", "navigation") to fn.
	Observe(ctx context.Context, fn func(event string)) error
}

// cdpPage drives one tab over CDP.
type cdpPage struct {
	ctx context.Context // chromedp tab context
}

// NewCDPPage wraps a chromedp tab context in the Page capability.
func NewCDPPage(tabCtx context.Context) Page {
	return &cdpPage{ctx: tabCtx}
}

// run executes actions on the tab's session under the caller's deadline.
// The action context must derive from the tab context: running detached
// and abandoning the action on timeout would leave it writing into the
// caller's result variable after return.
func (p *cdpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := deriveContext(p.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// deriveContext scopes one action: it carries the tab context's session
// values and ends when either the tab or the caller's context does.
func deriveContext(tabCtx, callerCtx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(tabCtx)
	if callerCtx == nil || callerCtx.Done() == nil {
		return runCtx, cancel
	}
	stop := context.AfterFunc(callerCtx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (p *cdpPage) Eval(ctx context.Context, expr string, out any) error {
	return p.run(ctx, chromedp.Evaluate(expr, out))
}

func (p *cdpPage) EvalAsync(ctx context.Context, expr string, out any) error {
	return p.run(ctx, chromedp.Evaluate(expr, out,
		func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
			return ep.WithAwaitPromise(true)
		}))
}

func (p *cdpPage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *cdpPage) URL(ctx context.Context) (string, error) {
	var url string
	err := p.run(ctx, chromedp.Location(&url))
	return url, err
}

func (p *cdpPage) Title(ctx context.Context) (string, error) {
	var title string
	err := p.run(ctx, chromedp.Title(&title))
	return title, err
}

func (p *cdpPage) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, chromedp.Evaluate(`document.documentElement.outerHTML`, &html))
	return html, err
}

func (p *cdpPage) Observe(ctx context.Context, fn func(event string)) error {
	chromedp.ListenTarget(p.ctx, func(ev any) {
		switch e := ev.(type) {
		case *runtime.EventBindingCalled:
			if e.Name == bindingName {
				fn(e.Payload)
			}
		case *page.EventFrameNavigated:
			if e.Frame != nil && e.Frame.ParentID == "" {
				fn("navigation")
			}
		}
	})

	return p.run(ctx,
		chromedp.ActionFunc(func(c context.Context) error {
			return runtime.AddBinding(bindingName).Do(c)
		}),
		chromedp.ActionFunc(func(c context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(observerScript).Do(c)
			return err
		}),
		// The current document already loaded; install observers there too.
		chromedp.Evaluate(observerScript, nil),
	)
}
