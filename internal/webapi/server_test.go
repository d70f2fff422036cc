package webapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browserd/internal/config"
	"github.com/xkilldash9x/browserd/internal/observability"
	"github.com/xkilldash9x/browserd/pkg/browser"
	"github.com/xkilldash9x/browserd/pkg/session"
)

// stubTab backs the API tests without a browser process.
type stubTab struct {
	id string

	title      string
	content    browser.PageContent
	exists     bool
	extractErr error
	executeRes string

	mu      sync.Mutex
	pdfOpts []browser.PDFOptions
}

func (s *stubTab) ID() string { return s.id }

func (s *stubTab) Navigate(ctx context.Context, url string, wait browser.WaitPolicy) error {
	return nil
}

func (s *stubTab) Fill(ctx context.Context, inputs []browser.FormInput) error { return nil }

func (s *stubTab) Click(ctx context.Context, selector string, wait browser.WaitPolicy) (string, error) {
	return s.title, nil
}

func (s *stubTab) Submit(ctx context.Context, selector string, wait browser.WaitPolicy) error {
	return nil
}

func (s *stubTab) Exists(ctx context.Context, selector string) (bool, error) {
	return s.exists, nil
}

func (s *stubTab) Extract(ctx context.Context, selector, attribute string) (string, error) {
	if s.extractErr != nil {
		return "", s.extractErr
	}
	return "extracted", nil
}

func (s *stubTab) Execute(ctx context.Context, script, selector string) (string, error) {
	return s.executeRes, nil
}

func (s *stubTab) Screenshot(ctx context.Context, opts browser.ScreenshotOptions) ([]byte, error) {
	return []byte{0x89, 'P', 'N', 'G'}, nil
}

func (s *stubTab) PDF(ctx context.Context, opts browser.PDFOptions) ([]byte, error) {
	s.mu.Lock()
	s.pdfOpts = append(s.pdfOpts, opts)
	s.mu.Unlock()
	return []byte("%PDF-1.7"), nil
}

func (s *stubTab) Humanize(ctx context.Context, profile browser.HumanizeProfile) error { return nil }

func (s *stubTab) Content(ctx context.Context) (browser.PageContent, error) {
	return s.content, nil
}

func (s *stubTab) Close(ctx context.Context) error { return nil }

type stubProvisioner struct {
	mu   sync.Mutex
	next int
	tabs []*stubTab
}

func (p *stubProvisioner) NewTab(ctx context.Context, url string, wait browser.WaitPolicy) (browser.Tab, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	tab := &stubTab{
		id:     fmt.Sprintf("tab-%d", p.next),
		title:  "Example",
		exists: true,
		content: browser.PageContent{
			Title: "Example",
			URL:   url,
			HTML:  "<html></html>",
		},
	}
	p.tabs = append(p.tabs, tab)
	return tab, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *stubProvisioner) {
	t.Helper()

	p := &stubProvisioner{}
	promReg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(promReg)
	registry := session.NewRegistry(zap.NewNop(), p, metrics, config.SessionConfig{
		DefaultTTL:    time.Minute,
		MaxTTL:        10 * time.Minute,
		SweepInterval: time.Second,
		MaxSessions:   8,
		OpenRate:      1000,
		OpenBurst:     100,
	})
	svc := session.NewService(zap.NewNop(), registry, metrics, config.HumanizeConfig{})
	srv := NewServer(zap.NewNop(), svc, promReg, config.ServerConfig{
		Addr:            ":0",
		ShutdownTimeout: time.Second,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		registry.CloseAll(context.Background())
	})
	return ts, p
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	resp, err := http.Post(url, "application/json", &buf)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func openTab(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp := postJSON(t, ts.URL+"/api/v1/tabs", map[string]any{
		"url": "https://example.com",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decodeBody[openResponse](t, resp)
	require.NotEmpty(t, body.SessionID)
	return body.SessionID
}

func TestOpenTab(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/tabs", map[string]any{
		"url":    "https://example.com",
		"ttl_ms": 5000,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decodeBody[openResponse](t, resp)
	assert.NotEmpty(t, body.SessionID)
	assert.True(t, body.ExpiresAt.After(time.Now()))
}

func TestOpenTabRejectsBadWaitPolicy(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/tabs", map[string]any{
		"url":  "https://example.com",
		"wait": map[string]any{"kind": "url"},
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOpenTabRejectsMalformedJSON(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/tabs", "application/json",
		strings.NewReader(`{"url": }`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownSessionMapsToNotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/tabs/does-not-exist/navigate", map[string]any{
		"url": "https://example.com",
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	body := decodeBody[errorBody](t, resp)
	assert.Equal(t, "not_found", body.Error.Kind)
}

func TestClickReturnsTitle(t *testing.T) {
	ts, p := newTestServer(t)
	id := openTab(t, ts)
	p.tabs[0].title = "After Click"

	resp := postJSON(t, ts.URL+"/api/v1/tabs/"+id+"/click", map[string]any{
		"selector": "a#next",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[clickResponse](t, resp)
	assert.Equal(t, "After Click", body.Title)
}

func TestClickRequiresSelector(t *testing.T) {
	ts, _ := newTestServer(t)
	id := openTab(t, ts)

	resp := postJSON(t, ts.URL+"/api/v1/tabs/"+id+"/click", map[string]any{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExists(t *testing.T) {
	ts, p := newTestServer(t)
	id := openTab(t, ts)
	p.tabs[0].exists = false

	resp := postJSON(t, ts.URL+"/api/v1/tabs/"+id+"/exists", map[string]any{
		"selector": "#gone",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[existsResponse](t, resp)
	assert.False(t, body.Exists)
}

func TestExtractElementNotFoundMapsTo422(t *testing.T) {
	ts, p := newTestServer(t)
	id := openTab(t, ts)
	p.tabs[0].extractErr = browser.NewError(browser.KindElementNotFound,
		"no element matches selector", nil).WithSelector("#missing")

	resp := postJSON(t, ts.URL+"/api/v1/tabs/"+id+"/extract", map[string]any{
		"selector": "#missing",
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	body := decodeBody[errorBody](t, resp)
	assert.Equal(t, "element_not_found", body.Error.Kind)
	assert.Equal(t, "#missing", body.Error.Selector)
}

func TestFillValidatesInputs(t *testing.T) {
	ts, _ := newTestServer(t)
	id := openTab(t, ts)

	resp := postJSON(t, ts.URL+"/api/v1/tabs/"+id+"/fill", map[string]any{
		"inputs": []map[string]any{},
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/api/v1/tabs/"+id+"/fill", map[string]any{
		"inputs": []map[string]any{{"selector": "#user", "value": "alice"}},
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestContent(t *testing.T) {
	ts, _ := newTestServer(t)
	id := openTab(t, ts)

	resp, err := http.Get(ts.URL + "/api/v1/tabs/" + id + "/content")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[contentResponse](t, resp)
	assert.Equal(t, "Example", body.Title)
	assert.Equal(t, "https://example.com", body.URL)
}

func TestScreenshotReturnsPNG(t *testing.T) {
	ts, _ := newTestServer(t)
	id := openTab(t, ts)

	resp, err := http.Get(ts.URL + "/api/v1/tabs/" + id + "/screenshot")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	img, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotEmpty(t, img)
}

func TestPDFReturnsDocument(t *testing.T) {
	ts, p := newTestServer(t)
	id := openTab(t, ts)

	resp, err := http.Get(ts.URL + "/api/v1/tabs/" + id + "/pdf?landscape=true&print_background=true")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))

	doc, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF")))

	tab := p.tabs[0]
	tab.mu.Lock()
	defer tab.mu.Unlock()
	require.Len(t, tab.pdfOpts, 1)
	assert.True(t, tab.pdfOpts[0].Landscape)
	assert.True(t, tab.pdfOpts[0].PrintBackground)
}

func TestPDFRejectsBadLandscape(t *testing.T) {
	ts, _ := newTestServer(t)
	id := openTab(t, ts)

	resp, err := http.Get(ts.URL + "/api/v1/tabs/" + id + "/pdf?landscape=sideways")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestScreenshotRejectsBadFullPage(t *testing.T) {
	ts, _ := newTestServer(t)
	id := openTab(t, ts)

	resp, err := http.Get(ts.URL + "/api/v1/tabs/" + id + "/screenshot?full_page=maybe")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCloseTab(t *testing.T) {
	ts, _ := newTestServer(t)
	id := openTab(t, ts)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/tabs/"+id+"/", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Closing again reports not found.
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	openTab(t, ts)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "browserd_sessions_open")
}
