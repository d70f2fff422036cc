package cdp

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browserd/pkg/browser"
)

const waitPollInterval = 150 * time.Millisecond

// awaitPolicy blocks until the wait policy is satisfied or the context
// deadline passes. A deadline exceeded here is always a navigation timeout:
// the page never reached the state the caller asked for.
func (t *Tab) awaitPolicy(ctx context.Context, wait browser.WaitPolicy) error {
	switch wait.Kind {
	case browser.WaitKindNone:
		return nil

	case browser.WaitKindLoad:
		err := chromedp.Run(ctx,
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.Sleep(t.networkCfg.PostLoadWait),
		)
		if err != nil {
			return t.navErr(err, "page did not finish loading")
		}
		return nil

	case browser.WaitKindURL:
		return t.pollUntil(ctx, "url never matched pattern", func() (bool, error) {
			var href string
			if err := chromedp.Run(ctx, chromedp.Evaluate(locationScript, &href)); err != nil {
				return false, err
			}
			return wait.MatchURL(href), nil
		})

	case browser.WaitKindSelector:
		return t.pollUntil(ctx, "selector never appeared", func() (bool, error) {
			var found bool
			if err := chromedp.Run(ctx, chromedp.Evaluate(existsScript(wait.Selector), &found)); err != nil {
				return false, err
			}
			return found, nil
		})

	case browser.WaitKindDuration:
		select {
		case <-time.After(wait.Duration):
			return nil
		case <-ctx.Done():
			return t.navErr(ctx.Err(), "wait interrupted")
		}

	default:
		return nil
	}
}

// pollUntil re-checks a page condition until it holds or the context ends.
// Probe failures are tolerated: evaluation drops out transiently while a
// navigation swaps execution contexts.
func (t *Tab) pollUntil(ctx context.Context, timeoutMsg string, check func() (bool, error)) error {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		ok, err := check()
		if err != nil {
			t.logger.Debug("Wait probe failed; retrying.", zap.Error(err))
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return t.navErr(ctx.Err(), timeoutMsg)
		case <-ticker.C:
		}
	}
}

// waitStableLocation watches the page URL until it stops changing, so that
// redirect chains triggered by a click settle before the caller reads page
// state. It is best-effort: any probe failure ends the watch silently.
func (t *Tab) waitStableLocation(ctx context.Context) {
	const (
		maxWait   = 15 * time.Second
		stableFor = 750 * time.Millisecond
	)

	readHref := func() (string, bool) {
		var href string
		if err := chromedp.Run(ctx, chromedp.Evaluate(locationScript, &href)); err != nil {
			return "", false
		}
		return href, true
	}

	last, _ := readHref()
	start := time.Now()
	lastChange := start

	for {
		if time.Since(start) >= maxWait {
			t.logger.Debug("Location never settled.", zap.String("href", last))
			return
		}
		if time.Since(lastChange) >= stableFor {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(waitPollInterval):
		}
		// A failed probe counts as no change; evaluation drops out briefly
		// while documents swap.
		if href, ok := readHref(); ok && href != last {
			last = href
			lastChange = time.Now()
		}
	}
}
