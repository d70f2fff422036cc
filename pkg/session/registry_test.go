package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browserd/internal/config"
	"github.com/xkilldash9x/browserd/pkg/browser"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeTab is a minimal in-memory Tab used to exercise the registry without a
// browser process.
type fakeTab struct {
	id         string
	closeCount atomic.Int32

	navigateErr error
	title       string
	content     browser.PageContent
}

func (f *fakeTab) ID() string { return f.id }

func (f *fakeTab) Navigate(ctx context.Context, url string, wait browser.WaitPolicy) error {
	return f.navigateErr
}

func (f *fakeTab) Fill(ctx context.Context, inputs []browser.FormInput) error { return nil }

func (f *fakeTab) Click(ctx context.Context, selector string, wait browser.WaitPolicy) (string, error) {
	return f.title, nil
}

func (f *fakeTab) Submit(ctx context.Context, selector string, wait browser.WaitPolicy) error {
	return nil
}

func (f *fakeTab) Exists(ctx context.Context, selector string) (bool, error) { return true, nil }

func (f *fakeTab) Extract(ctx context.Context, selector, attribute string) (string, error) {
	return "", nil
}

func (f *fakeTab) Execute(ctx context.Context, script, selector string) (string, error) {
	return "", nil
}

func (f *fakeTab) Screenshot(ctx context.Context, opts browser.ScreenshotOptions) ([]byte, error) {
	return []byte{0x89, 'P', 'N', 'G'}, nil
}

func (f *fakeTab) PDF(ctx context.Context, opts browser.PDFOptions) ([]byte, error) {
	return []byte("%PDF-1.7"), nil
}

func (f *fakeTab) Humanize(ctx context.Context, profile browser.HumanizeProfile) error { return nil }

func (f *fakeTab) Content(ctx context.Context) (browser.PageContent, error) {
	return f.content, nil
}

func (f *fakeTab) Close(ctx context.Context) error {
	f.closeCount.Add(1)
	return nil
}

// fakeProvisioner hands out fakeTabs with sequential ids.
type fakeProvisioner struct {
	mu      sync.Mutex
	next    int
	tabs    []*fakeTab
	failErr error
	delay   time.Duration
}

func (p *fakeProvisioner) NewTab(ctx context.Context, url string, wait browser.WaitPolicy) (browser.Tab, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failErr != nil {
		return nil, p.failErr
	}
	p.next++
	tab := &fakeTab{id: fmt.Sprintf("tab-%d", p.next)}
	p.tabs = append(p.tabs, tab)
	return tab, nil
}

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		DefaultTTL:    100 * time.Millisecond,
		MaxTTL:        time.Second,
		SweepInterval: 10 * time.Millisecond,
		MaxSessions:   8,
		OpenRate:      1000,
		OpenBurst:     100,
	}
}

func newTestRegistry(t *testing.T, cfg config.SessionConfig) (*Registry, *fakeProvisioner) {
	t.Helper()
	p := &fakeProvisioner{}
	return NewRegistry(zap.NewNop(), p, nil, cfg), p
}

func TestOpenAppliesDefaultTTL(t *testing.T) {
	r, _ := newTestRegistry(t, testSessionConfig())

	before := time.Now()
	id, expiresAt, err := r.Open(context.Background(), "https://example.com", browser.WaitNone(), 0)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	assert.WithinDuration(t, before.Add(100*time.Millisecond), expiresAt, 50*time.Millisecond)
	assert.Equal(t, 1, r.Len())
}

func TestOpenClampsTTLToMax(t *testing.T) {
	cfg := testSessionConfig()
	cfg.MaxTTL = 200 * time.Millisecond
	r, _ := newTestRegistry(t, cfg)

	before := time.Now()
	_, expiresAt, err := r.Open(context.Background(), "", browser.WaitNone(), time.Hour)
	require.NoError(t, err)

	assert.WithinDuration(t, before.Add(200*time.Millisecond), expiresAt, 50*time.Millisecond)
}

func TestOpenPropagatesProvisionFailure(t *testing.T) {
	r, p := newTestRegistry(t, testSessionConfig())
	p.failErr = browser.NewError(browser.KindProvisionFailed, "browser gone", nil)

	_, _, err := r.Open(context.Background(), "https://example.com", browser.WaitNone(), 0)
	require.Error(t, err)
	assert.Equal(t, browser.KindProvisionFailed, browser.KindOf(err))
	assert.Equal(t, 0, r.Len())
}

func TestOpenWrapsRawProvisionerError(t *testing.T) {
	r, p := newTestRegistry(t, testSessionConfig())
	cause := errors.New("chrome exited unexpectedly")
	p.failErr = cause

	_, _, err := r.Open(context.Background(), "https://example.com", browser.WaitNone(), 0)
	require.Error(t, err)
	assert.Equal(t, browser.KindProvisionFailed, browser.KindOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 0, r.Len())
}

func TestOpenKeepsClassifiedProvisionerError(t *testing.T) {
	r, p := newTestRegistry(t, testSessionConfig())
	p.failErr = browser.NewError(browser.KindNavigationTimeout, "initial load timed out", nil)

	_, _, err := r.Open(context.Background(), "https://example.com", browser.WaitNone(), 0)
	require.Error(t, err)
	assert.Equal(t, browser.KindNavigationTimeout, browser.KindOf(err))
}

func TestOpenEnforcesSessionLimit(t *testing.T) {
	cfg := testSessionConfig()
	cfg.MaxSessions = 2
	r, _ := newTestRegistry(t, cfg)
	defer r.CloseAll(context.Background())

	for i := 0; i < 2; i++ {
		_, _, err := r.Open(context.Background(), "", browser.WaitNone(), 0)
		require.NoError(t, err)
	}

	_, _, err := r.Open(context.Background(), "", browser.WaitNone(), 0)
	require.Error(t, err)
	assert.Equal(t, browser.KindProvisionFailed, browser.KindOf(err))
}

func TestWithUnknownSessionIsNotFound(t *testing.T) {
	r, _ := newTestRegistry(t, testSessionConfig())

	err := r.With(context.Background(), "nope", func(tab browser.Tab) error { return nil })
	require.Error(t, err)
	assert.Equal(t, browser.KindNotFound, browser.KindOf(err))
}

func TestWithExpiredSessionIsExpiredNotNotFound(t *testing.T) {
	r, _ := newTestRegistry(t, testSessionConfig())
	defer r.CloseAll(context.Background())

	id, _, err := r.Open(context.Background(), "", browser.WaitNone(), 20*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	err = r.With(context.Background(), id, func(tab browser.Tab) error { return nil })
	require.Error(t, err)
	assert.Equal(t, browser.KindExpired, browser.KindOf(err))
}

func TestSuccessfulUseSlidesExpiration(t *testing.T) {
	r, _ := newTestRegistry(t, testSessionConfig())
	defer r.CloseAll(context.Background())

	id, _, err := r.Open(context.Background(), "", browser.WaitNone(), 60*time.Millisecond)
	require.NoError(t, err)

	// Keep touching the session well past its original deadline.
	for i := 0; i < 5; i++ {
		time.Sleep(30 * time.Millisecond)
		err := r.With(context.Background(), id, func(tab browser.Tab) error { return nil })
		require.NoError(t, err, "use %d should keep the session alive", i)
	}

	deadline, err := r.Deadline(id)
	require.NoError(t, err)
	assert.True(t, deadline.After(time.Now()))
}

func TestConcurrentUseIsRejectedAsBusy(t *testing.T) {
	r, _ := newTestRegistry(t, testSessionConfig())
	defer r.CloseAll(context.Background())

	id, _, err := r.Open(context.Background(), "", browser.WaitNone(), 0)
	require.NoError(t, err)

	inFn := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- r.With(context.Background(), id, func(tab browser.Tab) error {
			close(inFn)
			<-release
			return nil
		})
	}()

	<-inFn
	err = r.With(context.Background(), id, func(tab browser.Tab) error { return nil })
	require.Error(t, err)
	assert.Equal(t, browser.KindSessionBusy, browser.KindOf(err))

	close(release)
	require.NoError(t, <-done)

	// Released; usable again.
	require.NoError(t, r.With(context.Background(), id, func(tab browser.Tab) error { return nil }))
}

func TestCloseRemovesSessionAndTearsDownTab(t *testing.T) {
	r, p := newTestRegistry(t, testSessionConfig())

	id, _, err := r.Open(context.Background(), "", browser.WaitNone(), 0)
	require.NoError(t, err)

	require.NoError(t, r.Close(context.Background(), id))
	assert.Equal(t, int32(1), p.tabs[0].closeCount.Load())
	assert.Equal(t, 0, r.Len())

	// Second close reports the id as unknown.
	err = r.Close(context.Background(), id)
	require.Error(t, err)
	assert.Equal(t, browser.KindNotFound, browser.KindOf(err))
}

func TestCloseDuringInFlightOperation(t *testing.T) {
	r, p := newTestRegistry(t, testSessionConfig())

	id, _, err := r.Open(context.Background(), "", browser.WaitNone(), 0)
	require.NoError(t, err)

	inFn := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- r.With(context.Background(), id, func(tab browser.Tab) error {
			close(inFn)
			<-release
			return nil
		})
	}()

	<-inFn
	require.NoError(t, r.Close(context.Background(), id))
	assert.Equal(t, int32(1), p.tabs[0].closeCount.Load())

	close(release)
	require.NoError(t, <-done)

	// The session is gone for later callers.
	err = r.With(context.Background(), id, func(tab browser.Tab) error { return nil })
	assert.Equal(t, browser.KindNotFound, browser.KindOf(err))
}

func TestSweepCollectsExpiredIdleSessions(t *testing.T) {
	r, p := newTestRegistry(t, testSessionConfig())

	_, _, err := r.Open(context.Background(), "", browser.WaitNone(), 20*time.Millisecond)
	require.NoError(t, err)
	keep, _, err := r.Open(context.Background(), "", browser.WaitNone(), time.Second)
	require.NoError(t, err)
	defer r.CloseAll(context.Background())

	time.Sleep(50 * time.Millisecond)
	swept := r.Sweep(context.Background())

	assert.Equal(t, 1, swept)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, int32(1), p.tabs[0].closeCount.Load())

	_, err = r.Deadline(keep)
	assert.NoError(t, err)
}

func TestSweepDefersInUseSessions(t *testing.T) {
	r, p := newTestRegistry(t, testSessionConfig())

	id, _, err := r.Open(context.Background(), "", browser.WaitNone(), 30*time.Millisecond)
	require.NoError(t, err)

	inFn := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- r.With(context.Background(), id, func(tab browser.Tab) error {
			close(inFn)
			<-release
			return nil
		})
	}()

	<-inFn
	// Let the deadline pass while the operation is still running. Note the
	// acquisition slid the deadline, so wait out the full TTL again.
	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, 0, r.Sweep(context.Background()), "in-use session must survive the sweep")
	assert.Equal(t, int32(0), p.tabs[0].closeCount.Load())

	close(release)
	require.NoError(t, <-done)

	// Idle and expired now; a later pass collects it.
	assert.Equal(t, 1, r.Sweep(context.Background()))
	assert.Equal(t, int32(1), p.tabs[0].closeCount.Load())
}

func TestRunSweeperStopsOnContextCancel(t *testing.T) {
	r, p := newTestRegistry(t, testSessionConfig())

	_, _, err := r.Open(context.Background(), "", browser.WaitNone(), 20*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.RunSweeper(ctx)
	}()

	require.Eventually(t, func() bool {
		return r.Len() == 0
	}, time.Second, 10*time.Millisecond, "sweeper should collect the expired session")
	assert.Equal(t, int32(1), p.tabs[0].closeCount.Load())

	cancel()
	wg.Wait()
}

func TestCloseAll(t *testing.T) {
	r, p := newTestRegistry(t, testSessionConfig())

	for i := 0; i < 3; i++ {
		_, _, err := r.Open(context.Background(), "", browser.WaitNone(), time.Second)
		require.NoError(t, err)
	}

	r.CloseAll(context.Background())
	assert.Equal(t, 0, r.Len())
	for _, tab := range p.tabs {
		assert.Equal(t, int32(1), tab.closeCount.Load())
	}
}

func TestOpenCanceledWhileRateLimited(t *testing.T) {
	cfg := testSessionConfig()
	cfg.OpenRate = 0.001
	cfg.OpenBurst = 1
	r, _ := newTestRegistry(t, cfg)
	defer r.CloseAll(context.Background())

	// Drain the burst token.
	_, _, err := r.Open(context.Background(), "", browser.WaitNone(), time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err = r.Open(ctx, "", browser.WaitNone(), time.Second)
	require.Error(t, err)
	assert.Equal(t, browser.KindProvisionFailed, browser.KindOf(err))
}
