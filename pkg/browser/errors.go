package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// Kind classifies every failure the automation pipeline can produce. The set
// is closed; callers switch on it instead of inspecting Chrome error shapes.
type Kind string

const (
	// KindNotFound means the session id is unknown to the registry.
	KindNotFound Kind = "not_found"
	// KindExpired means the session existed but its deadline has passed.
	KindExpired Kind = "expired"
	// KindSessionBusy means an operation is already in flight for the session.
	KindSessionBusy Kind = "session_busy"
	// KindProvisionFailed means a new browser target could not be allocated.
	KindProvisionFailed Kind = "provision_failed"
	// KindElementNotFound means a selector matched nothing.
	KindElementNotFound Kind = "element_not_found"
	// KindNavigationTimeout means a wait policy's deadline elapsed.
	KindNavigationTimeout Kind = "navigation_timeout"
	// KindOperationTimeout means the operation's own deadline elapsed or
	// the caller abandoned it before it finished.
	KindOperationTimeout Kind = "operation_timeout"
	// KindScriptError means script evaluation threw in page context.
	KindScriptError Kind = "script_error"
	// KindCaptureFailed means the screenshot target was not renderable.
	KindCaptureFailed Kind = "capture_failed"
	// KindTransport covers I/O level failures talking to the browser.
	KindTransport Kind = "transport"
	// KindUnknown is returned by KindOf for errors outside the taxonomy.
	KindUnknown Kind = "unknown"
)

// Error is the normalized failure type produced by the result mapper. The
// context fields carry whatever identifies the failing operation (session id,
// selector, URL) so callers can diagnose without inspecting internals.
type Error struct {
	Kind      Kind
	SessionID string
	Selector  string
	URL       string
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.SessionID != "" {
		fmt.Fprintf(&b, " (session %s)", e.SessionID)
	}
	if e.Selector != "" {
		fmt.Fprintf(&b, " (selector %q)", e.Selector)
	}
	if e.URL != "" {
		fmt.Fprintf(&b, " (url %s)", e.URL)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches two taxonomy errors by kind, so tests and callers can use
// errors.Is(err, &Error{Kind: KindExpired}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// NewError builds a taxonomy error. Context is attached with the With*
// methods.
func NewError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// WithSession attaches the session id.
func (e *Error) WithSession(id string) *Error {
	e.SessionID = id
	return e
}

// WithSelector attaches the selector.
func (e *Error) WithSelector(selector string) *Error {
	e.Selector = selector
	return e
}

// WithURL attaches the URL.
func (e *Error) WithURL(url string) *Error {
	e.URL = url
	return e
}

// KindOf extracts the taxonomy kind from an error chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Classify maps a raw failure from the CDP layer into the taxonomy. Errors
// already carrying a kind pass through unchanged; everything unrecognized is
// treated as a transport failure, since the remaining surface is the
// browser connection itself.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if k := KindOf(err); k != KindUnknown {
		return k
	}
	var exc *runtime.ExceptionDetails
	if errors.As(err, &exc) {
		return KindScriptError
	}
	if errors.Is(err, chromedp.ErrNoResults) {
		return KindElementNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindOperationTimeout
	}
	// A canceled context is the caller walking away, not a browser fault.
	if errors.Is(err, context.Canceled) {
		return KindOperationTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindOperationTimeout
	}
	return KindTransport
}

// Mapped wraps a raw failure with its classified kind, unless it is already a
// taxonomy error, in which case it is returned as-is.
func Mapped(err error, msg string) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewError(Classify(err), msg, err)
}
