// Package cdp implements the browser domain against the Chrome DevTools
// Protocol using chromedp: one Manager per browser process, one Tab per
// isolated target.
package cdp

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browserd/internal/config"
	"github.com/xkilldash9x/browserd/pkg/browser"
)

// Manager handles the lifecycle of the headless browser process. All tab
// contexts are derived from its allocator context.
type Manager struct {
	logger     *zap.Logger
	browserCfg config.BrowserConfig
	networkCfg config.NetworkConfig

	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	// wg tracks open tabs for a graceful shutdown.
	wg sync.WaitGroup
}

// NewManager launches the browser process and verifies it is responsive.
func NewManager(ctx context.Context, logger *zap.Logger, cfg *config.Config) (*Manager, error) {
	m := &Manager{
		logger:     logger.Named("browser_manager"),
		browserCfg: cfg.Browser,
		networkCfg: cfg.Network,
	}

	if err := m.launchBrowser(ctx); err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return m, nil
}

// launchBrowser prepares allocator options and starts the browser process.
func (m *Manager) launchBrowser(ctx context.Context) error {
	m.logger.Info("Initializing browser allocator...")

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, m.buildAllocatorOptions()...)
	m.allocatorCtx = allocCtx
	m.allocatorCancel = cancel

	// Probe with a throwaway tab to confirm the browser starts and responds.
	testCtx, cancelTest := context.WithTimeout(allocCtx, 30*time.Second)
	testCtx, cancelTestCtx := chromedp.NewContext(testCtx)
	defer cancelTestCtx()
	defer cancelTest()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		m.allocatorCancel()
		return fmt.Errorf("browser failed to start or respond: %w", err)
	}

	m.logger.Info("Browser launched successfully and is responsive.")
	return nil
}

// buildAllocatorOptions assembles the flags for a stealthy, long-running
// browser instance.
func (m *Manager) buildAllocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	opts = append(opts,
		// Override the default that reveals automation; a false flag value is
		// dropped from the command line entirely.
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("headless", m.browserCfg.Headless),
		chromedp.Flag("ignore-certificate-errors", m.browserCfg.IgnoreTLSErrors),
		// Disable the Blink feature pages use to detect automation
		// (navigator.webdriver).
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", m.browserCfg.Headless),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.WindowSize(m.browserCfg.ViewportWidth, m.browserCfg.ViewportHeight),
	)

	if m.browserCfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(m.browserCfg.UserAgent))
	}

	// Custom arguments from the config file.
	for _, arg := range m.browserCfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		flagName := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(flagName, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(flagName, true))
		}
	}

	// Flags required for running inside containers.
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}

	return opts
}

// NewTab creates a new isolated browser target, navigates it to url, and
// returns the handle. The wait policy is applied to the initial navigation.
func (m *Manager) NewTab(ctx context.Context, url string, wait browser.WaitPolicy) (browser.Tab, error) {
	id := uuid.New().String()

	tabCtx, cancel := chromedp.NewContext(m.allocatorCtx)
	t := &Tab{
		id:         id,
		logger:     m.logger.With(zap.String("session_id", id[:8])),
		tabCtx:     tabCtx,
		cancel:     cancel,
		networkCfg: m.networkCfg,
		browserCfg: m.browserCfg,
	}

	if url == "" {
		url = "about:blank"
	}
	if err := t.Navigate(ctx, url, wait); err != nil {
		t.Close(ctx)
		return nil, browser.NewError(browser.KindProvisionFailed,
			"failed to open new tab", err).WithURL(url)
	}

	m.wg.Add(1)
	t.logger.Info("Browser tab opened.", zap.String("url", url))

	// The wrapper guarantees the WaitGroup is decremented exactly once.
	return &tabWrapper{Tab: t, wg: &m.wg}, nil
}

// Shutdown waits for open tabs to close and terminates the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Browser manager shutdown initiated. Waiting for open tabs...")

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All tabs have closed.")
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded. Forcing browser termination.", zap.Error(ctx.Err()))
	}

	if m.allocatorCancel != nil {
		m.logger.Info("Shutting down browser process...")
		m.allocatorCancel()
		<-m.allocatorCtx.Done()
	}
	return nil
}

// tabWrapper decorates a Tab so the Manager's WaitGroup is decremented exactly
// once when the tab closes.
type tabWrapper struct {
	*Tab
	wg     *sync.WaitGroup
	closed bool
	mu     sync.Mutex
}

func (tw *tabWrapper) Close(ctx context.Context) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.closed {
		return nil
	}
	err := tw.Tab.Close(ctx)
	tw.closed = true
	tw.wg.Done()
	return err
}
