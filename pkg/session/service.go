package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/browserd/internal/config"
	"github.com/xkilldash9x/browserd/internal/observability"
	"github.com/xkilldash9x/browserd/pkg/browser"
)

// OpenResult describes a freshly opened session.
type OpenResult struct {
	ID        string
	ExpiresAt time.Time
}

// Service is the operation surface exposed to transports. Every call
// resolves the session, claims it for the duration of the operation, and
// records an outcome metric.
type Service struct {
	logger   *zap.Logger
	registry *Registry
	metrics  *observability.Metrics
	humanize browser.HumanizeProfile
}

// NewService wires a Service over a registry. metrics may be nil.
func NewService(logger *zap.Logger, r *Registry, m *observability.Metrics, humanizeCfg config.HumanizeConfig) *Service {
	return &Service{
		logger:   logger.Named("service"),
		registry: r,
		metrics:  m,
		humanize: humanizeCfg.Profile(),
	}
}

// Registry exposes the underlying registry for lifecycle management.
func (s *Service) Registry() *Registry {
	return s.registry
}

func (s *Service) record(op string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(browser.KindOf(err))
	}
	s.metrics.ObserveOperation(op, outcome)
}

// Open provisions a new session on url with the given wait policy and TTL.
func (s *Service) Open(ctx context.Context, url string, wait browser.WaitPolicy, ttl time.Duration) (OpenResult, error) {
	id, expiresAt, err := s.registry.Open(ctx, url, wait, ttl)
	s.record("open", err)
	if err != nil {
		return OpenResult{}, err
	}
	return OpenResult{ID: id, ExpiresAt: expiresAt}, nil
}

// Close terminates a session.
func (s *Service) Close(ctx context.Context, id string) error {
	err := s.registry.Close(ctx, id)
	s.record("close", err)
	return err
}

// Navigate loads a URL in an existing session.
func (s *Service) Navigate(ctx context.Context, id, url string, wait browser.WaitPolicy) error {
	err := s.registry.With(ctx, id, func(tab browser.Tab) error {
		return tab.Navigate(ctx, url, wait)
	})
	s.record("navigate", err)
	return err
}

// Fill applies form inputs in order.
func (s *Service) Fill(ctx context.Context, id string, inputs []browser.FormInput) error {
	err := s.registry.With(ctx, id, func(tab browser.Tab) error {
		return tab.Fill(ctx, inputs)
	})
	s.record("fill", err)
	return err
}

// Click clicks an element and returns the settled page title.
func (s *Service) Click(ctx context.Context, id, selector string, wait browser.WaitPolicy) (string, error) {
	var title string
	err := s.registry.With(ctx, id, func(tab browser.Tab) error {
		var opErr error
		title, opErr = tab.Click(ctx, selector, wait)
		return opErr
	})
	s.record("click", err)
	if err != nil {
		return "", err
	}
	return title, nil
}

// Submit submits the form matched by selector.
func (s *Service) Submit(ctx context.Context, id, selector string, wait browser.WaitPolicy) error {
	err := s.registry.With(ctx, id, func(tab browser.Tab) error {
		return tab.Submit(ctx, selector, wait)
	})
	s.record("submit", err)
	return err
}

// Exists reports element presence without failing on absence.
func (s *Service) Exists(ctx context.Context, id, selector string) (bool, error) {
	var found bool
	err := s.registry.With(ctx, id, func(tab browser.Tab) error {
		var opErr error
		found, opErr = tab.Exists(ctx, selector)
		return opErr
	})
	s.record("exists", err)
	if err != nil {
		return false, err
	}
	return found, nil
}

// Extract returns an element's text or attribute value.
func (s *Service) Extract(ctx context.Context, id, selector, attribute string) (string, error) {
	var value string
	err := s.registry.With(ctx, id, func(tab browser.Tab) error {
		var opErr error
		value, opErr = tab.Extract(ctx, selector, attribute)
		return opErr
	})
	s.record("extract", err)
	if err != nil {
		return "", err
	}
	return value, nil
}

// Execute evaluates a script in page context, optionally gated on a selector.
func (s *Service) Execute(ctx context.Context, id, script, selector string) (string, error) {
	var result string
	err := s.registry.With(ctx, id, func(tab browser.Tab) error {
		var opErr error
		result, opErr = tab.Execute(ctx, script, selector)
		return opErr
	})
	s.record("execute", err)
	if err != nil {
		return "", err
	}
	return result, nil
}

// Screenshot captures an image of the page or one element.
func (s *Service) Screenshot(ctx context.Context, id string, opts browser.ScreenshotOptions) ([]byte, error) {
	var img []byte
	err := s.registry.With(ctx, id, func(tab browser.Tab) error {
		var opErr error
		img, opErr = tab.Screenshot(ctx, opts)
		return opErr
	})
	s.record("screenshot", err)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// PDF renders the session's current page as a PDF document.
func (s *Service) PDF(ctx context.Context, id string, opts browser.PDFOptions) ([]byte, error) {
	var doc []byte
	err := s.registry.With(ctx, id, func(tab browser.Tab) error {
		var opErr error
		doc, opErr = tab.PDF(ctx, opts)
		return opErr
	})
	s.record("pdf", err)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Humanize runs the configured randomized input sequence against a session.
func (s *Service) Humanize(ctx context.Context, id string) error {
	err := s.registry.With(ctx, id, func(tab browser.Tab) error {
		return tab.Humanize(ctx, s.humanize)
	})
	s.record("humanize", err)
	return err
}

// Content returns the session's current title, URL, and HTML.
func (s *Service) Content(ctx context.Context, id string) (browser.PageContent, error) {
	var pc browser.PageContent
	err := s.registry.With(ctx, id, func(tab browser.Tab) error {
		var opErr error
		pc, opErr = tab.Content(ctx)
		return opErr
	})
	s.record("content", err)
	if err != nil {
		return browser.PageContent{}, err
	}
	return pc, nil
}
