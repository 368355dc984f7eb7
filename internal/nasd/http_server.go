package nasd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nasopt/dynas/internal/metrics"
	"github.com/nasopt/dynas/internal/nas"
	"github.com/nasopt/dynas/internal/plot"
	"github.com/nasopt/dynas/pkg/config"
	"github.com/nasopt/dynas/pkg/logger"
)

type HTTPServer struct {
	mux      *http.ServeMux
	store    *SearchStore
	Executor *Executor
	// EventInterval bounds how long the event stream waits between snapshots
	EventInterval time.Duration
}

func NewHTTPServer(executor *Executor) *HTTPServer {
	s := &HTTPServer{
		mux:           http.NewServeMux(),
		store:         executor.Store(),
		Executor:      executor,
		EventInterval: time.Second,
	}

	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/v1/searches", s.handleSearches)
	s.mux.HandleFunc("/v1/searches/", s.handleSearchByID)

	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.mux
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleSearches handles /v1/searches
func (s *HTTPServer) handleSearches(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateSearch(w, r)
	case http.MethodGet:
		s.handleListSearches(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleSearchByID handles /v1/searches/{id} and its actions and sub-resources
func (s *HTTPServer) handleSearchByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/searches/")
	if path == "" {
		s.writeError(w, http.StatusBadRequest, "search ID is required")
		return
	}

	type route struct {
		suffix  string
		method  string
		handler func(http.ResponseWriter, *http.Request, string)
	}
	routes := []route{
		{":start", http.MethodPost, s.handleStartSearch},
		{":stop", http.MethodPost, s.handleStopSearch},
		{"/front", http.MethodGet, s.handleGetFront},
		{"/metrics", http.MethodGet, s.handleGetMetrics},
		{"/report", http.MethodGet, s.handleReport},
		{"/events", http.MethodGet, s.handleEvents},
	}
	for _, rt := range routes {
		if !strings.HasSuffix(path, rt.suffix) {
			continue
		}
		if r.Method != rt.method {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		rt.handler(w, r, strings.TrimSuffix(path, rt.suffix))
		return
	}

	if strings.Contains(path, "/") {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.handleGetSearch(w, r, path)
}

// handleCreateSearch handles POST /v1/searches. Searches start right away
// unless the body says "start": false.
func (s *HTTPServer) handleCreateSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SearchID       string `json:"search_id,omitempty"`
		ConfigYAML     string `json:"config_yaml"`
		CallbackURL    string `json:"callback_url,omitempty"`
		CallbackSecret string `json:"callback_secret,omitempty"`
		Start          *bool  `json:"start,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	rec, err := s.Executor.Create(req.SearchID, SearchInput{
		ConfigYAML:     req.ConfigYAML,
		CallbackURL:    req.CallbackURL,
		CallbackSecret: req.CallbackSecret,
	})
	if err != nil {
		var invalid *InvalidInputError
		if errors.As(err, &invalid) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	logger.Info("search created", "search_id", rec.ID)

	if req.Start == nil || *req.Start {
		if rec, err = s.Executor.Start(rec.ID); err != nil {
			s.writeExecutorError(w, err)
			return
		}
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"search": searchToMap(rec)})
}

// handleListSearches handles GET /v1/searches?limit=N&status=S
func (s *HTTPServer) handleListSearches(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	var filter Status
	if v := r.URL.Query().Get("status"); v != "" {
		st, ok := ParseStatus(v)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", v))
			return
		}
		filter = st
	}

	recs := s.store.List(limit, filter)
	list := make([]any, len(recs))
	for i, rec := range recs {
		list[i] = searchToMap(rec)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"searches": list})
}

func (s *HTTPServer) handleGetSearch(w http.ResponseWriter, _ *http.Request, id string) {
	rec, ok := s.store.Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "search not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"search": searchToMap(rec)})
}

func (s *HTTPServer) handleStartSearch(w http.ResponseWriter, _ *http.Request, id string) {
	rec, err := s.Executor.Start(id)
	if err != nil {
		s.writeExecutorError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"search": searchToMap(rec)})
}

func (s *HTTPServer) handleStopSearch(w http.ResponseWriter, _ *http.Request, id string) {
	rec, err := s.Executor.Stop(id)
	if err != nil {
		s.writeExecutorError(w, err)
		return
	}
	logger.Info("search cancelled", "search_id", id)
	s.writeJSON(w, http.StatusOK, map[string]any{"search": searchToMap(rec)})
}

func (s *HTTPServer) handleGetFront(w http.ResponseWriter, _ *http.Request, id string) {
	rec, ok := s.store.Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "search not found")
		return
	}
	if rec.Outcome == nil {
		s.writeError(w, http.StatusPreconditionFailed, "front not available")
		return
	}
	s.writeJSON(w, http.StatusOK, frontToMap(rec))
}

// handleGetMetrics returns the telemetry roll-up and the raw series of a search
func (s *HTTPServer) handleGetMetrics(w http.ResponseWriter, _ *http.Request, id string) {
	rec, ok := s.store.Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "search not found")
		return
	}
	algorithm := ""
	if rec.Outcome != nil {
		algorithm = rec.Outcome.Algorithm
	} else if cfg, err := config.ParseConfigYAMLString(rec.Input.ConfigYAML); err == nil {
		algorithm = cfg.NAS.Search.SearchAlgorithm
	}

	summary := metrics.Summarize(rec.Collector(), metrics.SearchLabels(rec.ID, algorithm))
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":       rec.ID,
		"status":   string(rec.Status),
		"summary":  searchMetricsToMap(summary),
		"snapshot": rec.Collector().Snapshot(),
	})
}

// handleReport renders the Pareto scatter and hypervolume chart of a finished search
func (s *HTTPServer) handleReport(w http.ResponseWriter, r *http.Request, id string) {
	rec, ok := s.store.Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "search not found")
		return
	}
	out := rec.Outcome
	if out == nil {
		s.writeError(w, http.StatusPreconditionFailed, "report not available")
		return
	}

	report := nas.Report(out, "Search "+rec.ID)
	if x := r.URL.Query().Get("x"); x != "" {
		report.X = x
	}
	if y := r.URL.Query().Get("y"); y != "" {
		report.Y = y
	}

	var buf bytes.Buffer
	if err := plot.Render(&buf, report); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		logger.Error("failed to write report", "search_id", id, "error", err)
	}
}

// handleEvents streams search snapshots as server-sent events until the
// search is terminal or the client goes away
func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := s.store.Get(id); !ok {
		s.writeError(w, http.StatusNotFound, "search not found")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	changed, stop := s.store.Watch(id)
	defer stop()
	ticker := time.NewTicker(s.EventInterval)
	defer ticker.Stop()

	sent := -1
	var last Status
	for {
		rec, ok := s.store.Get(id)
		if !ok {
			return
		}
		if rec.Status != last {
			s.sendSSEEvent(w, "status", map[string]any{"id": rec.ID, "status": string(rec.Status)})
			last = rec.Status
		}
		for ; sent < len(rec.Progress)-1; sent++ {
			s.sendSSEEvent(w, "generation", stepToMap(rec.Progress[sent+1]))
		}
		if rec.Status.Terminal() {
			s.sendSSEEvent(w, "complete", searchToMap(rec))
			flusher.Flush()
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-changed:
		case <-ticker.C:
		}
	}
}

func (s *HTTPServer) sendSSEEvent(w http.ResponseWriter, eventType string, data map[string]any) {
	payload, err := json.Marshal(data)
	if err != nil {
		logger.Error("failed to marshal event", "event", eventType, "error", err)
		return
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, payload); err != nil {
		logger.Debug("failed to write event", "event", eventType, "error", err)
	}
}

func (s *HTTPServer) writeExecutorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSearchIDMissing):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrSearchNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrSearchTerminal):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{"error": message})
}
