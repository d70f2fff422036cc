// Package browser defines the domain contract between the session registry and
// the CDP-backed implementation: the Tab capability interface, wait policies,
// and the closed error taxonomy every failure surface is mapped into.
package browser

import (
	"context"
	"time"
)

// Tab is the capability bound to one live browser target. The session registry
// owns the handle; automation callers borrow it for the duration of a single
// operation and must not retain it afterwards.
type Tab interface {
	// ID returns the unique identifier for this tab. It doubles as the
	// session id under which the registry tracks the tab.
	ID() string

	// Navigate loads a URL and then applies the wait policy.
	Navigate(ctx context.Context, url string, wait WaitPolicy) error

	// Fill sets form values in request order, dispatching the input/change
	// events pages listen for. It fails fast on the first missing selector.
	Fill(ctx context.Context, inputs []FormInput) error

	// Click dispatches a synthetic click on the element, applies the wait
	// policy, and returns the settled page title.
	Click(ctx context.Context, selector string, wait WaitPolicy) (string, error)

	// Submit submits the form matched by the selector and applies the wait
	// policy.
	Submit(ctx context.Context, selector string, wait WaitPolicy) error

	// Exists reports whether the selector currently matches an element.
	// Absence is a normal false result, never an error.
	Exists(ctx context.Context, selector string) (bool, error)

	// Extract returns the element's inner text, or the named attribute's
	// value when attribute is non-empty.
	Extract(ctx context.Context, selector, attribute string) (string, error)

	// Execute evaluates script in page context, optionally requiring that
	// selector matches an element first. The result is returned as a string;
	// non-string values are JSON encoded.
	Execute(ctx context.Context, script, selector string) (string, error)

	// Screenshot captures a PNG of the page or of a specific element.
	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)

	// PDF renders the current page as a PDF document.
	PDF(ctx context.Context, opts PDFOptions) ([]byte, error)

	// Humanize runs a randomized sequence of pointer and scroll actions.
	// Sub-actions that fail are skipped; the sequence is best-effort.
	Humanize(ctx context.Context, profile HumanizeProfile) error

	// Content returns a snapshot of the page's title, URL, and HTML.
	Content(ctx context.Context) (PageContent, error)

	// Close terminates the browser target and releases its resources.
	Close(ctx context.Context) error
}

// FormInput pairs a selector with the value to enter into the matched element.
type FormInput struct {
	Selector string `json:"selector"`
	Value    string `json:"value"`
}

// ScreenshotOptions controls what Screenshot captures. When Selector is set
// only that element's bounding box is captured, otherwise the viewport, or the
// full page when FullPage is true.
type ScreenshotOptions struct {
	Selector string
	FullPage bool
}

// PDFOptions controls the layout of the document produced by PDF.
type PDFOptions struct {
	Landscape       bool
	PrintBackground bool
}

// PageContent is the snapshot returned by Tab.Content.
type PageContent struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	HTML  string `json:"html"`
}

// HumanizeProfile tunes the randomized input sequence applied by Humanize.
type HumanizeProfile struct {
	// MinActions and MaxActions bound the number of sub-actions performed.
	MinActions int
	MaxActions int
	// MinPause and MaxPause bound the delay between sub-actions.
	MinPause time.Duration
	MaxPause time.Duration
	// MaxScroll bounds the magnitude of a single scroll step in pixels.
	MaxScroll int
	// Seed makes the sequence reproducible when non-zero.
	Seed int64
}

// Normalize clamps a profile to usable bounds.
func (p HumanizeProfile) Normalize() HumanizeProfile {
	if p.MinActions <= 0 {
		p.MinActions = 4
	}
	if p.MaxActions < p.MinActions {
		p.MaxActions = p.MinActions
	}
	if p.MinPause <= 0 {
		p.MinPause = 40 * time.Millisecond
	}
	if p.MaxPause < p.MinPause {
		p.MaxPause = p.MinPause
	}
	if p.MaxScroll <= 0 {
		p.MaxScroll = 400
	}
	return p
}
