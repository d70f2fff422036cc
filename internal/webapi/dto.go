package webapi

import (
	"fmt"
	"time"

	"github.com/xkilldash9x/browserd/pkg/browser"
)

// waitPolicyDTO is the wire form of a wait policy. An absent policy means
// "wait for load" on navigation-like operations.
type waitPolicyDTO struct {
	Kind       string `json:"kind"`
	Pattern    string `json:"pattern,omitempty"`
	Selector   string `json:"selector,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// toPolicy validates and converts the DTO. A nil DTO yields the fallback.
func (d *waitPolicyDTO) toPolicy(fallback browser.WaitPolicy) (browser.WaitPolicy, error) {
	if d == nil || d.Kind == "" {
		return fallback, nil
	}
	var p browser.WaitPolicy
	switch browser.WaitKind(d.Kind) {
	case browser.WaitKindNone:
		p = browser.WaitNone()
	case browser.WaitKindLoad:
		p = browser.WaitLoad()
	case browser.WaitKindURL:
		if d.Pattern == "" {
			return p, fmt.Errorf("wait kind %q requires a pattern", d.Kind)
		}
		p = browser.WaitURL(d.Pattern)
	case browser.WaitKindSelector:
		if d.Selector == "" {
			return p, fmt.Errorf("wait kind %q requires a selector", d.Kind)
		}
		p = browser.WaitSelector(d.Selector)
	case browser.WaitKindDuration:
		if d.DurationMs <= 0 {
			return p, fmt.Errorf("wait kind %q requires a positive duration_ms", d.Kind)
		}
		p = browser.WaitFixed(time.Duration(d.DurationMs) * time.Millisecond)
	default:
		return p, fmt.Errorf("unknown wait kind %q", d.Kind)
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

type openRequest struct {
	URL   string         `json:"url,omitempty"`
	Wait  *waitPolicyDTO `json:"wait,omitempty"`
	TTLMs int64          `json:"ttl_ms,omitempty"`
}

type openResponse struct {
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type navigateRequest struct {
	URL  string         `json:"url"`
	Wait *waitPolicyDTO `json:"wait,omitempty"`
}

type fillRequest struct {
	Inputs []formInputDTO `json:"inputs"`
}

type formInputDTO struct {
	Selector string `json:"selector"`
	Value    string `json:"value"`
}

type clickRequest struct {
	Selector string         `json:"selector"`
	Wait     *waitPolicyDTO `json:"wait,omitempty"`
}

type clickResponse struct {
	Title string `json:"title"`
}

type submitRequest struct {
	Selector string         `json:"selector"`
	Wait     *waitPolicyDTO `json:"wait,omitempty"`
}

type existsRequest struct {
	Selector string `json:"selector"`
}

type existsResponse struct {
	Exists bool `json:"exists"`
}

type extractRequest struct {
	Selector  string `json:"selector"`
	Attribute string `json:"attribute,omitempty"`
}

type extractResponse struct {
	Value string `json:"value"`
}

type executeRequest struct {
	Script   string `json:"script"`
	Selector string `json:"selector,omitempty"`
}

type executeResponse struct {
	Result string `json:"result"`
}

type contentResponse struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	HTML  string `json:"html"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Selector string `json:"selector,omitempty"`
	URL      string `json:"url,omitempty"`
}
