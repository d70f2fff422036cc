// Package session tracks remotely controlled browser tabs by id, enforces
// their time-to-live, and serializes access so at most one operation runs
// against a tab at a time.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/browserd/internal/config"
	"github.com/xkilldash9x/browserd/internal/observability"
	"github.com/xkilldash9x/browserd/pkg/browser"
)

// Provisioner creates new browser tabs. Implemented by cdp.Manager.
type Provisioner interface {
	NewTab(ctx context.Context, url string, wait browser.WaitPolicy) (browser.Tab, error)
}

type entryState int

const (
	stateIdle entryState = iota
	stateInUse
	stateDead
)

// entry is a registry slot for one live tab. expiresAt slides forward on
// every successful acquisition.
type entry struct {
	id        string
	tab       browser.Tab
	ttl       time.Duration
	createdAt time.Time
	expiresAt time.Time
	state     entryState
}

// Registry owns the full lifecycle of tab sessions: provisioning through a
// rate-limited Provisioner, busy arbitration, sliding expiration, and the
// background sweep. The internal lock is never held across a CDP call.
type Registry struct {
	logger      *zap.Logger
	provisioner Provisioner
	metrics     *observability.Metrics
	cfg         config.SessionConfig
	limiter     *rate.Limiter

	mu       sync.Mutex
	sessions map[string]*entry
	// pending counts Open calls that hold a capacity reservation but have
	// not yet registered their tab.
	pending int
}

// NewRegistry builds an empty registry. metrics may be nil.
func NewRegistry(logger *zap.Logger, p Provisioner, m *observability.Metrics, cfg config.SessionConfig) *Registry {
	openRate := cfg.OpenRate
	if openRate <= 0 {
		openRate = 1
	}
	burst := cfg.OpenBurst
	if burst <= 0 {
		burst = 1
	}
	return &Registry{
		logger:      logger.Named("session"),
		provisioner: p,
		metrics:     m,
		cfg:         cfg,
		limiter:     rate.NewLimiter(rate.Limit(openRate), burst),
		sessions:    make(map[string]*entry),
	}
}

// clampTTL applies the default for a zero request and the configured cap.
func (r *Registry) clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = r.cfg.DefaultTTL
	}
	if r.cfg.MaxTTL > 0 && ttl > r.cfg.MaxTTL {
		ttl = r.cfg.MaxTTL
	}
	return ttl
}

// Open provisions a new tab navigated to url and registers it under the
// tab's id. A zero ttl uses the configured default; requests beyond the cap
// are clamped, not rejected.
func (r *Registry) Open(ctx context.Context, url string, wait browser.WaitPolicy, ttl time.Duration) (string, time.Time, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", time.Time{}, browser.NewError(browser.KindProvisionFailed,
			"canceled while waiting for provisioning slot", err)
	}

	// Reserve capacity before the slow provisioning call so concurrent
	// opens cannot overshoot the limit.
	r.mu.Lock()
	if r.cfg.MaxSessions > 0 && len(r.sessions)+r.pending >= r.cfg.MaxSessions {
		r.mu.Unlock()
		return "", time.Time{}, browser.NewError(browser.KindProvisionFailed,
			"session limit reached", nil)
	}
	r.pending++
	r.mu.Unlock()

	tab, err := r.provisioner.NewTab(ctx, url, wait)

	r.mu.Lock()
	r.pending--
	if err != nil {
		r.mu.Unlock()
		// Provisioners are not required to self-classify; anything outside
		// the taxonomy is a provisioning failure by definition here.
		if browser.KindOf(err) == browser.KindUnknown {
			return "", time.Time{}, browser.NewError(browser.KindProvisionFailed,
				"failed to provision session", err).WithURL(url)
		}
		return "", time.Time{}, browser.Mapped(err, "failed to provision session").WithURL(url)
	}

	ttl = r.clampTTL(ttl)
	now := time.Now()
	e := &entry{
		id:        tab.ID(),
		tab:       tab,
		ttl:       ttl,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
	r.sessions[e.id] = e
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SessionsOpen.Inc()
		r.metrics.SessionsOpened.Inc()
	}
	r.logger.Info("Session opened.",
		zap.String("session_id", e.id),
		zap.Duration("ttl", ttl),
		zap.String("url", url))
	return e.id, e.expiresAt, nil
}

// acquire claims exclusive use of a session, sliding its expiration.
func (r *Registry) acquire(id string) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok {
		return nil, browser.NewError(browser.KindNotFound, "unknown session", nil).WithSession(id)
	}
	now := time.Now()
	if e.state == stateDead || now.After(e.expiresAt) {
		// Leave removal to the sweeper; report the precise condition.
		return nil, browser.NewError(browser.KindExpired, "session expired", nil).WithSession(id)
	}
	if e.state == stateInUse {
		return nil, browser.NewError(browser.KindSessionBusy,
			"session has an operation in flight", nil).WithSession(id)
	}

	e.state = stateInUse
	e.expiresAt = now.Add(e.ttl)
	return e, nil
}

// release returns a session to the idle state.
func (r *Registry) release(e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.state == stateInUse {
		e.state = stateIdle
	}
}

// With runs fn while holding exclusive use of the session. The fn call runs
// outside the registry lock.
func (r *Registry) With(ctx context.Context, id string, fn func(tab browser.Tab) error) error {
	e, err := r.acquire(id)
	if err != nil {
		return err
	}
	defer r.release(e)
	return fn(e.tab)
}

// Deadline reports a session's current expiration without acquiring it.
func (r *Registry) Deadline(id string) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok {
		return time.Time{}, browser.NewError(browser.KindNotFound, "unknown session", nil).WithSession(id)
	}
	return e.expiresAt, nil
}

// Close removes a session and tears down its tab. Closing a session with an
// operation in flight is allowed: the tab shutdown will fail that operation.
func (r *Registry) Close(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		e.state = stateDead
	}
	r.mu.Unlock()

	if !ok {
		return browser.NewError(browser.KindNotFound, "unknown session", nil).WithSession(id)
	}

	if err := e.tab.Close(ctx); err != nil {
		r.logger.Warn("Tab teardown failed.", zap.String("session_id", id), zap.Error(err))
	}
	if r.metrics != nil {
		r.metrics.SessionsOpen.Dec()
		r.metrics.SessionsClosed.Inc()
	}
	r.logger.Info("Session closed.", zap.String("session_id", id))
	return nil
}

// Sweep removes every expired idle session. Expired sessions that are in use
// stay registered and are collected on a later pass, after their operation
// releases them.
func (r *Registry) Sweep(ctx context.Context) int {
	now := time.Now()

	r.mu.Lock()
	var doomed []*entry
	for id, e := range r.sessions {
		if !now.After(e.expiresAt) {
			continue
		}
		if e.state == stateInUse {
			continue
		}
		delete(r.sessions, id)
		e.state = stateDead
		doomed = append(doomed, e)
	}
	r.mu.Unlock()

	for _, e := range doomed {
		if err := e.tab.Close(ctx); err != nil {
			r.logger.Warn("Expired tab teardown failed.",
				zap.String("session_id", e.id), zap.Error(err))
		}
		if r.metrics != nil {
			r.metrics.SessionsOpen.Dec()
			r.metrics.SessionsExpired.Inc()
		}
		r.logger.Info("Session expired.",
			zap.String("session_id", e.id),
			zap.Duration("lived", now.Sub(e.createdAt)))
	}
	return len(doomed)
}

// RunSweeper drives Sweep on the configured interval until ctx ends.
func (r *Registry) RunSweeper(ctx context.Context) {
	interval := r.cfg.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Debug("Expiration sweeper started.", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("Expiration sweeper stopped.")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll tears down every session. Used during shutdown.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	all := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		e.state = stateDead
		all = append(all, e)
	}
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range all {
		if err := e.tab.Close(ctx); err != nil {
			r.logger.Warn("Tab teardown failed.", zap.String("session_id", e.id), zap.Error(err))
		}
		if r.metrics != nil {
			r.metrics.SessionsOpen.Dec()
			r.metrics.SessionsClosed.Inc()
		}
	}
	if len(all) > 0 {
		r.logger.Info("All sessions closed.", zap.Int("count", len(all)))
	}
}
