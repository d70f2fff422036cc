// Package webapi exposes the session service as a JSON/HTTP API.
package webapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browserd/internal/config"
	"github.com/xkilldash9x/browserd/pkg/browser"
	"github.com/xkilldash9x/browserd/pkg/session"
)

// Server hosts the tab control API.
type Server struct {
	logger     *zap.Logger
	svc        *session.Service
	httpServer *http.Server
	cfg        config.ServerConfig
}

// NewServer wires the router over the service. gatherer backs the /metrics
// endpoint; pass nil to serve the default registry.
func NewServer(logger *zap.Logger, svc *session.Service, gatherer prometheus.Gatherer, cfg config.ServerConfig) *Server {
	s := &Server{
		logger: logger.Named("webapi"),
		svc:    svc,
		cfg:    cfg,
	}

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(s.requestLogger)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", s.handleHealthz)
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	router.Route("/api/v1/tabs", func(r chi.Router) {
		r.Post("/", s.handleOpen)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Delete("/", s.handleClose)
			r.Get("/content", s.handleContent)
			r.Get("/screenshot", s.handleScreenshot)
			r.Get("/pdf", s.handlePDF)
			r.Post("/navigate", s.handleNavigate)
			r.Post("/fill", s.handleFill)
			r.Post("/click", s.handleClick)
			r.Post("/submit", s.handleSubmit)
			r.Post("/exists", s.handleExists)
			r.Post("/extract", s.handleExtract)
			r.Post("/execute", s.handleExecute)
			r.Post("/humanize", s.handleHumanize)
		})
	})

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe blocks serving requests until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP API listening.", zap.String("addr", s.cfg.Addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests within the configured grace period.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request handled.",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusForKind maps the domain error taxonomy onto HTTP status codes.
func statusForKind(kind browser.Kind) int {
	switch kind {
	case browser.KindNotFound:
		return http.StatusNotFound
	case browser.KindExpired:
		return http.StatusGone
	case browser.KindSessionBusy:
		return http.StatusConflict
	case browser.KindProvisionFailed:
		return http.StatusServiceUnavailable
	case browser.KindNavigationTimeout, browser.KindOperationTimeout:
		return http.StatusGatewayTimeout
	case browser.KindElementNotFound, browser.KindScriptError:
		return http.StatusUnprocessableEntity
	case browser.KindCaptureFailed:
		return http.StatusInternalServerError
	case browser.KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// respondOpError renders a domain error with its mapped status.
func (s *Server) respondOpError(w http.ResponseWriter, err error) {
	detail := errorDetail{
		Kind:    string(browser.KindOf(err)),
		Message: err.Error(),
	}
	var domErr *browser.Error
	if errors.As(err, &domErr) {
		detail.Selector = domErr.Selector
		detail.URL = domErr.URL
	}
	respondJSON(w, statusForKind(browser.KindOf(err)), errorBody{Error: detail})
}

// respondBadRequest renders a request decoding or validation failure.
func respondBadRequest(w http.ResponseWriter, err error) {
	respondJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{
		Kind:    "bad_request",
		Message: err.Error(),
	}})
}

// decodeJSON parses the request body, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
