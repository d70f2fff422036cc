package browser

import (
	"fmt"
	"regexp"
	"time"
)

// WaitKind enumerates the supported post-action wait strategies.
type WaitKind string

const (
	// WaitKindNone returns immediately after the action is dispatched.
	WaitKindNone WaitKind = "none"
	// WaitKindLoad waits for the document to be ready and the location to
	// stop changing, covering click-then-redirect chains.
	WaitKindLoad WaitKind = "load"
	// WaitKindURL waits until window.location.href matches a pattern.
	WaitKindURL WaitKind = "url"
	// WaitKindSelector waits until a selector matches a visible element.
	WaitKindSelector WaitKind = "selector"
	// WaitKindDuration waits for a fixed duration.
	WaitKindDuration WaitKind = "duration"
)

// WaitPolicy describes what navigate, click, and submit wait for before
// returning. Policies are immutable values resolved by a single shared routine
// in the CDP layer; primitives never implement their own waiting.
type WaitPolicy struct {
	Kind     WaitKind
	Pattern  string
	Selector string
	Duration time.Duration

	re *regexp.Regexp
}

// WaitNone returns a policy that does not wait.
func WaitNone() WaitPolicy {
	return WaitPolicy{Kind: WaitKindNone}
}

// WaitLoad returns the default policy for navigations and clicks.
func WaitLoad() WaitPolicy {
	return WaitPolicy{Kind: WaitKindLoad}
}

// WaitURL returns a policy that waits for the location to match the given
// regular expression.
func WaitURL(pattern string) WaitPolicy {
	return WaitPolicy{Kind: WaitKindURL, Pattern: pattern}
}

// WaitSelector returns a policy that waits for the selector to match.
func WaitSelector(selector string) WaitPolicy {
	return WaitPolicy{Kind: WaitKindSelector, Selector: selector}
}

// WaitFixed returns a policy that waits for a fixed duration.
func WaitFixed(d time.Duration) WaitPolicy {
	return WaitPolicy{Kind: WaitKindDuration, Duration: d}
}

// Validate checks the policy's parameters and compiles the URL pattern.
func (p *WaitPolicy) Validate() error {
	switch p.Kind {
	case WaitKindNone, WaitKindLoad:
		return nil
	case WaitKindURL:
		if p.Pattern == "" {
			return fmt.Errorf("wait policy %q requires a pattern", p.Kind)
		}
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return fmt.Errorf("invalid wait pattern %q: %w", p.Pattern, err)
		}
		p.re = re
		return nil
	case WaitKindSelector:
		if p.Selector == "" {
			return fmt.Errorf("wait policy %q requires a selector", p.Kind)
		}
		return nil
	case WaitKindDuration:
		if p.Duration <= 0 {
			return fmt.Errorf("wait policy %q requires a positive duration", p.Kind)
		}
		return nil
	default:
		return fmt.Errorf("unknown wait policy kind %q", p.Kind)
	}
}

// MatchURL reports whether the given URL satisfies a URL wait policy. The
// policy must have been validated first; an uncompiled pattern never matches.
func (p *WaitPolicy) MatchURL(url string) bool {
	if p.re == nil {
		if err := p.Validate(); err != nil {
			return false
		}
	}
	return p.re != nil && p.re.MatchString(url)
}
