package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browserd/internal/config"
	"github.com/xkilldash9x/browserd/pkg/browser"
)

// ensure Tab implements the domain interface
var _ browser.Tab = (*Tab)(nil)

// Tab drives a single isolated browser target over CDP. Every primitive is
// stateless across calls and bounded by the configured timeouts; failures are
// mapped into the domain taxonomy before they leave this package.
type Tab struct {
	id         string
	logger     *zap.Logger
	tabCtx     context.Context
	cancel     context.CancelFunc
	networkCfg config.NetworkConfig
	browserCfg config.BrowserConfig

	closed bool
	mu     sync.Mutex

	// evalFill runs one fill script and reports its status. Nil means the
	// real CDP evaluation; tests swap in a fake.
	evalFill func(ctx context.Context, in browser.FormInput) (string, error)
}

// ID returns the tab's unique identifier.
func (t *Tab) ID() string {
	return t.id
}

// opContext derives a chromedp-capable context from the tab context, bounded
// by d and canceled early when the caller's ctx ends first. Timeouts are a
// local abandonment: the browser-side action is not rolled back.
func (t *Tab) opContext(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(t.tabCtx, d)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// Navigate loads a URL and applies the wait policy.
func (t *Tab) Navigate(ctx context.Context, url string, wait browser.WaitPolicy) error {
	if err := wait.Validate(); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	t.logger.Debug("Navigating", zap.String("url", url))

	runCtx, cancel := t.opContext(ctx, t.networkCfg.NavigationTimeout)
	defer cancel()

	actions := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if t.browserCfg.DisableCache {
				return network.SetCacheDisabled(true).Do(ctx)
			}
			return nil
		}),
		chromedp.Navigate(url),
	}
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return t.navErr(err, "failed to navigate").WithURL(url)
	}
	if err := t.awaitPolicy(runCtx, wait); err != nil {
		return browser.Mapped(err, "").WithURL(url).WithSession(t.id)
	}
	return nil
}

// Fill sets form values in request order. The first missing selector aborts
// the whole operation; values applied before it are not rolled back, and no
// partial success is reported.
func (t *Tab) Fill(ctx context.Context, inputs []browser.FormInput) error {
	runCtx, cancel := t.opContext(ctx, t.networkCfg.OperationTimeout)
	defer cancel()

	eval := t.evalFill
	if eval == nil {
		eval = t.runFillScript
	}
	for _, in := range inputs {
		status, err := eval(runCtx, in)
		if err != nil {
			return browser.Mapped(err, "failed to fill element").
				WithSelector(in.Selector).WithSession(t.id)
		}
		switch status {
		case "ok":
		case "not_found":
			return browser.NewError(browser.KindElementNotFound,
				"no element matches selector", nil).
				WithSelector(in.Selector).WithSession(t.id)
		default:
			return browser.NewError(browser.KindScriptError,
				"element does not accept input", nil).
				WithSelector(in.Selector).WithSession(t.id)
		}
	}
	return nil
}

// runFillScript evaluates the fill snippet for one input in page context.
func (t *Tab) runFillScript(ctx context.Context, in browser.FormInput) (string, error) {
	var status string
	err := chromedp.Run(ctx, chromedp.Evaluate(fillScript(in.Selector, in.Value), &status))
	return status, err
}

// Click dispatches a synthetic click, applies the wait policy, lets redirect
// chains settle, and returns the page title. The title lookup is best-effort;
// a click that succeeded never fails because the title could not be read.
func (t *Tab) Click(ctx context.Context, selector string, wait browser.WaitPolicy) (string, error) {
	if err := wait.Validate(); err != nil {
		return "", fmt.Errorf("click: %w", err)
	}

	runCtx, cancel := t.opContext(ctx, t.networkCfg.NavigationTimeout)
	defer cancel()

	var clicked bool
	err := chromedp.Run(runCtx, chromedp.Evaluate(clickScript(selector), &clicked))
	if err != nil {
		return "", browser.Mapped(err, "failed to click element").
			WithSelector(selector).WithSession(t.id)
	}
	if !clicked {
		return "", browser.NewError(browser.KindElementNotFound,
			"no element matches selector", nil).
			WithSelector(selector).WithSession(t.id)
	}

	if err := t.awaitPolicy(runCtx, wait); err != nil {
		return "", browser.Mapped(err, "").WithSelector(selector).WithSession(t.id)
	}
	if wait.Kind == browser.WaitKindLoad || wait.Kind == browser.WaitKindURL {
		t.waitStableLocation(runCtx)
	}

	var st pageState
	if err := chromedp.Run(runCtx, chromedp.Evaluate(pageStateScript, &st)); err != nil {
		t.logger.Debug("Could not read page title after click", zap.Error(err))
		return "", nil
	}
	return st.Title, nil
}

// Submit submits the form matched by the selector and applies the wait policy.
func (t *Tab) Submit(ctx context.Context, selector string, wait browser.WaitPolicy) error {
	if err := wait.Validate(); err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	runCtx, cancel := t.opContext(ctx, t.networkCfg.NavigationTimeout)
	defer cancel()

	var submitted bool
	err := chromedp.Run(runCtx, chromedp.Evaluate(submitScript(selector), &submitted))
	if err != nil {
		return browser.Mapped(err, "failed to submit form").
			WithSelector(selector).WithSession(t.id)
	}
	if !submitted {
		return browser.NewError(browser.KindElementNotFound,
			"no form matches selector", nil).
			WithSelector(selector).WithSession(t.id)
	}
	if err := t.awaitPolicy(runCtx, wait); err != nil {
		return browser.Mapped(err, "").WithSelector(selector).WithSession(t.id)
	}
	return nil
}

// Exists reports whether the selector matches an element right now. The probe
// has a short internal timeout and treats both a miss and a probe timeout as
// a normal false result.
func (t *Tab) Exists(ctx context.Context, selector string) (bool, error) {
	runCtx, cancel := t.opContext(ctx, t.networkCfg.ExistsProbeTimeout)
	defer cancel()

	var found bool
	err := chromedp.Run(runCtx, chromedp.Evaluate(existsScript(selector), &found))
	if err != nil {
		if browser.Classify(err) == browser.KindOperationTimeout {
			return false, nil
		}
		return false, browser.Mapped(err, "failed to probe selector").
			WithSelector(selector).WithSession(t.id)
	}
	return found, nil
}

// Extract returns the element's inner text, or the named attribute's value
// when attribute is non-empty. An element with no text yields an empty
// string, not an error.
func (t *Tab) Extract(ctx context.Context, selector, attribute string) (string, error) {
	runCtx, cancel := t.opContext(ctx, t.networkCfg.OperationTimeout)
	defer cancel()

	var res extractResult
	err := chromedp.Run(runCtx, chromedp.Evaluate(extractScript(selector, attribute), &res))
	if err != nil {
		return "", browser.Mapped(err, "failed to extract content").
			WithSelector(selector).WithSession(t.id)
	}
	if !res.Found {
		return "", browser.NewError(browser.KindElementNotFound,
			"no element matches selector", nil).
			WithSelector(selector).WithSession(t.id)
	}
	return res.Value, nil
}

// Execute evaluates script in page context. When selector is non-empty the
// element must exist first. The result is returned as a string; non-string
// values are JSON encoded, undefined becomes the empty string.
func (t *Tab) Execute(ctx context.Context, script, selector string) (string, error) {
	runCtx, cancel := t.opContext(ctx, t.networkCfg.OperationTimeout)
	defer cancel()

	if selector != "" {
		var found bool
		err := chromedp.Run(runCtx, chromedp.Evaluate(existsScript(selector), &found))
		if err != nil {
			return "", browser.Mapped(err, "failed to probe selector").
				WithSelector(selector).WithSession(t.id)
		}
		if !found {
			return "", browser.NewError(browser.KindElementNotFound,
				"no element matches selector", nil).
				WithSelector(selector).WithSession(t.id)
		}
	}

	var ro *runtime.RemoteObject
	err := chromedp.Run(runCtx, chromedp.Evaluate(script, &ro,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithReturnByValue(true).WithAwaitPromise(true)
		}))
	if err != nil {
		var exc *runtime.ExceptionDetails
		if errors.As(err, &exc) {
			return "", browser.NewError(browser.KindScriptError,
				exceptionText(exc), err).WithSession(t.id)
		}
		return "", browser.Mapped(err, "failed to evaluate script").WithSession(t.id)
	}
	return stringifyRemoteObject(ro), nil
}

// Screenshot captures a PNG of the page, the viewport, or one element.
func (t *Tab) Screenshot(ctx context.Context, opts browser.ScreenshotOptions) ([]byte, error) {
	runCtx, cancel := t.opContext(ctx, t.networkCfg.OperationTimeout)
	defer cancel()

	var buf []byte
	if opts.Selector != "" {
		var found bool
		err := chromedp.Run(runCtx, chromedp.Evaluate(existsScript(opts.Selector), &found))
		if err != nil {
			return nil, browser.Mapped(err, "failed to probe selector").
				WithSelector(opts.Selector).WithSession(t.id)
		}
		if !found {
			return nil, browser.NewError(browser.KindElementNotFound,
				"no element matches selector", nil).
				WithSelector(opts.Selector).WithSession(t.id)
		}
		err = chromedp.Run(runCtx,
			chromedp.Screenshot(opts.Selector, &buf, chromedp.NodeVisible, chromedp.ByQuery))
		if err != nil {
			return nil, browser.NewError(browser.KindCaptureFailed,
				"element is not renderable", err).
				WithSelector(opts.Selector).WithSession(t.id)
		}
	} else if opts.FullPage {
		if err := chromedp.Run(runCtx, chromedp.FullScreenshot(&buf, 100)); err != nil {
			return nil, browser.NewError(browser.KindCaptureFailed,
				"full-page capture failed", err).WithSession(t.id)
		}
	} else {
		if err := chromedp.Run(runCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
			return nil, browser.NewError(browser.KindCaptureFailed,
				"viewport capture failed", err).WithSession(t.id)
		}
	}

	if len(buf) == 0 {
		return nil, browser.NewError(browser.KindCaptureFailed,
			"capture produced no image data", nil).WithSession(t.id)
	}
	return buf, nil
}

// PDF renders the current page as a PDF document.
func (t *Tab) PDF(ctx context.Context, opts browser.PDFOptions) ([]byte, error) {
	runCtx, cancel := t.opContext(ctx, t.networkCfg.OperationTimeout)
	defer cancel()

	var buf []byte
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		data, _, err := page.PrintToPDF().
			WithLandscape(opts.Landscape).
			WithPrintBackground(opts.PrintBackground).
			Do(ctx)
		if err != nil {
			return err
		}
		buf = data
		return nil
	}))
	if err != nil {
		return nil, browser.NewError(browser.KindCaptureFailed,
			"pdf rendering failed", err).WithSession(t.id)
	}
	if len(buf) == 0 {
		return nil, browser.NewError(browser.KindCaptureFailed,
			"pdf rendering produced no data", nil).WithSession(t.id)
	}
	return buf, nil
}

// Content returns a snapshot of the page's title, URL, and HTML.
func (t *Tab) Content(ctx context.Context) (browser.PageContent, error) {
	runCtx, cancel := t.opContext(ctx, t.networkCfg.OperationTimeout)
	defer cancel()

	var st pageState
	var html string
	err := chromedp.Run(runCtx,
		chromedp.Evaluate(pageStateScript, &st),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return browser.PageContent{}, browser.Mapped(err, "failed to read page content").
			WithSession(t.id)
	}
	return browser.PageContent{Title: st.Title, URL: st.Href, HTML: html}, nil
}

// Close terminates the browser target. Closing twice is a no-op.
func (t *Tab) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cancel := t.cancel
	tabCtx := t.tabCtx
	t.mu.Unlock()

	// Best-effort cookie cleanup before the target goes away.
	if tabCtx != nil {
		clearCtx, cancelClear := context.WithTimeout(tabCtx, 2*time.Second)
		if err := chromedp.Run(clearCtx, network.ClearBrowserCookies()); err != nil {
			t.logger.Debug("Cookie cleanup failed.", zap.Error(err))
		}
		cancelClear()
	}

	if cancel != nil {
		cancel()
	}
	if tabCtx == nil {
		return nil
	}

	// Wait for the target to go away, respecting the caller's deadline.
	waitCtx, cancelWait := context.WithTimeout(ctx, 10*time.Second)
	defer cancelWait()

	select {
	case <-tabCtx.Done():
		t.logger.Debug("Browser tab closed.")
	case <-waitCtx.Done():
		t.logger.Warn("Deadline exceeded waiting for tab to close.", zap.Error(waitCtx.Err()))
	}
	return nil
}

// navErr maps a navigation failure, preferring the navigation-specific
// timeout kind over the generic one.
func (t *Tab) navErr(err error, msg string) *browser.Error {
	if browser.Classify(err) == browser.KindOperationTimeout {
		return browser.NewError(browser.KindNavigationTimeout, msg, err).WithSession(t.id)
	}
	return browser.Mapped(err, msg).WithSession(t.id)
}

// exceptionText extracts the most descriptive message from a JS exception.
func exceptionText(exc *runtime.ExceptionDetails) string {
	text := exc.Text
	if exc.Exception != nil && exc.Exception.Description != "" {
		text = exc.Exception.Description
	}
	return text
}

// stringifyRemoteObject renders an evaluation result as a string: JS strings
// unquoted, everything else as its JSON encoding, undefined as "".
func stringifyRemoteObject(ro *runtime.RemoteObject) string {
	if ro == nil {
		return ""
	}
	if len(ro.Value) > 0 {
		var s string
		if err := json.Unmarshal(ro.Value, &s); err == nil {
			return s
		}
		return string(ro.Value)
	}
	return ""
}
