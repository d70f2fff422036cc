package webapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xkilldash9x/browserd/pkg/browser"
)

func sessionID(r *http.Request) string {
	return chi.URLParam(r, "sessionID")
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := decodeJSON(r, &req); err != nil {
		respondBadRequest(w, err)
		return
	}
	wait, err := req.Wait.toPolicy(browser.WaitLoad())
	if err != nil {
		respondBadRequest(w, err)
		return
	}
	if req.TTLMs < 0 {
		respondBadRequest(w, errors.New("ttl_ms must not be negative"))
		return
	}

	res, err := s.svc.Open(r.Context(), req.URL, wait, time.Duration(req.TTLMs)*time.Millisecond)
	if err != nil {
		s.respondOpError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, openResponse{
		SessionID: res.ID,
		ExpiresAt: res.ExpiresAt,
	})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Close(r.Context(), sessionID(r)); err != nil {
		s.respondOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondBadRequest(w, err)
		return
	}
	if req.URL == "" {
		respondBadRequest(w, errors.New("url is required"))
		return
	}
	wait, err := req.Wait.toPolicy(browser.WaitLoad())
	if err != nil {
		respondBadRequest(w, err)
		return
	}

	if err := s.svc.Navigate(r.Context(), sessionID(r), req.URL, wait); err != nil {
		s.respondOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFill(w http.ResponseWriter, r *http.Request) {
	var req fillRequest
	if err := decodeJSON(r, &req); err != nil {
		respondBadRequest(w, err)
		return
	}
	if len(req.Inputs) == 0 {
		respondBadRequest(w, errors.New("inputs must not be empty"))
		return
	}
	inputs := make([]browser.FormInput, 0, len(req.Inputs))
	for _, in := range req.Inputs {
		if in.Selector == "" {
			respondBadRequest(w, errors.New("every input requires a selector"))
			return
		}
		inputs = append(inputs, browser.FormInput{Selector: in.Selector, Value: in.Value})
	}

	if err := s.svc.Fill(r.Context(), sessionID(r), inputs); err != nil {
		s.respondOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	var req clickRequest
	if err := decodeJSON(r, &req); err != nil {
		respondBadRequest(w, err)
		return
	}
	if req.Selector == "" {
		respondBadRequest(w, errors.New("selector is required"))
		return
	}
	wait, err := req.Wait.toPolicy(browser.WaitLoad())
	if err != nil {
		respondBadRequest(w, err)
		return
	}

	title, err := s.svc.Click(r.Context(), sessionID(r), req.Selector, wait)
	if err != nil {
		s.respondOpError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, clickResponse{Title: title})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		respondBadRequest(w, err)
		return
	}
	if req.Selector == "" {
		respondBadRequest(w, errors.New("selector is required"))
		return
	}
	wait, err := req.Wait.toPolicy(browser.WaitLoad())
	if err != nil {
		respondBadRequest(w, err)
		return
	}

	if err := s.svc.Submit(r.Context(), sessionID(r), req.Selector, wait); err != nil {
		s.respondOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExists(w http.ResponseWriter, r *http.Request) {
	var req existsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondBadRequest(w, err)
		return
	}
	if req.Selector == "" {
		respondBadRequest(w, errors.New("selector is required"))
		return
	}

	found, err := s.svc.Exists(r.Context(), sessionID(r), req.Selector)
	if err != nil {
		s.respondOpError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, existsResponse{Exists: found})
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := decodeJSON(r, &req); err != nil {
		respondBadRequest(w, err)
		return
	}
	if req.Selector == "" {
		respondBadRequest(w, errors.New("selector is required"))
		return
	}

	value, err := s.svc.Extract(r.Context(), sessionID(r), req.Selector, req.Attribute)
	if err != nil {
		s.respondOpError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, extractResponse{Value: value})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondBadRequest(w, err)
		return
	}
	if req.Script == "" {
		respondBadRequest(w, errors.New("script is required"))
		return
	}

	result, err := s.svc.Execute(r.Context(), sessionID(r), req.Script, req.Selector)
	if err != nil {
		s.respondOpError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, executeResponse{Result: result})
}

func (s *Server) handleHumanize(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Humanize(r.Context(), sessionID(r)); err != nil {
		s.respondOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	pc, err := s.svc.Content(r.Context(), sessionID(r))
	if err != nil {
		s.respondOpError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, contentResponse{Title: pc.Title, URL: pc.URL, HTML: pc.HTML})
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	opts := browser.ScreenshotOptions{
		Selector: r.URL.Query().Get("selector"),
	}
	if raw := r.URL.Query().Get("full_page"); raw != "" {
		fullPage, err := strconv.ParseBool(raw)
		if err != nil {
			respondBadRequest(w, errors.New("full_page must be a boolean"))
			return
		}
		opts.FullPage = fullPage
	}

	img, err := s.svc.Screenshot(r.Context(), sessionID(r), opts)
	if err != nil {
		s.respondOpError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}

func (s *Server) handlePDF(w http.ResponseWriter, r *http.Request) {
	var opts browser.PDFOptions
	if raw := r.URL.Query().Get("landscape"); raw != "" {
		landscape, err := strconv.ParseBool(raw)
		if err != nil {
			respondBadRequest(w, errors.New("landscape must be a boolean"))
			return
		}
		opts.Landscape = landscape
	}
	if raw := r.URL.Query().Get("print_background"); raw != "" {
		printBackground, err := strconv.ParseBool(raw)
		if err != nil {
			respondBadRequest(w, errors.New("print_background must be a boolean"))
			return
		}
		opts.PrintBackground = printBackground
	}

	doc, err := s.svc.PDF(r.Context(), sessionID(r), opts)
	if err != nil {
		s.respondOpError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}
