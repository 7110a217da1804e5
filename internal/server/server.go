package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/g960059/layoutsync/internal/api"
	"github.com/g960059/layoutsync/internal/config"
	"github.com/g960059/layoutsync/internal/layout"
	"github.com/g960059/layoutsync/internal/logging"
	"github.com/g960059/layoutsync/internal/model"
)

const (
	layoutPath        = "/api/ui/layout"
	layoutHistoryPath = "/api/ui/layout/history"
	presetsPath       = "/api/ui/layouts"
	presetByIDPrefix  = "/api/ui/layouts/"
)

// Persistence is the lifecycle handle of the storage behind the service.
type Persistence interface {
	AdapterName() string
	Close() error
}

type Server struct {
	cfg         config.Config
	svc         *layout.Service
	persistence Persistence
	logger      *zap.SugaredLogger
	httpSrv     *http.Server
	handler     http.Handler

	mu       sync.Mutex
	listener net.Listener

	shutdown    sync.Once
	shutdownErr error
}

func NewServer(cfg config.Config, svc *layout.Service, persistence Persistence, logger *zap.SugaredLogger) *Server {
	s := &Server{
		cfg:         cfg,
		svc:         svc,
		persistence: persistence,
		logger:      logging.Named(logger, logging.ComponentHTTP),
	}
	if s.cfg.MaxBodyBytes <= 0 {
		s.cfg.MaxBodyBytes = config.DefaultConfig().MaxBodyBytes
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", s.healthHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc(layoutPath, s.layoutHandler)
	mux.HandleFunc(layoutHistoryPath, s.historyHandler)
	mux.HandleFunc(presetsPath, s.presetsHandler)
	mux.HandleFunc(presetByIDPrefix, s.presetByIDHandler)
	mux.HandleFunc("/", s.notFoundHandler)

	s.handler = s.logRequests(mux)
	readHeaderTimeout := cfg.ReadHeaderTimeout
	if readHeaderTimeout <= 0 {
		readHeaderTimeout = 5 * time.Second
	}
	s.httpSrv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Handler exposes the routed handler, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the bound address once Start has begun listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start listens on the configured TCP address and serves until ctx is done or the
// server fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen tcp: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Infow("listening", "addr", ln.Addr().String(), "persistence", s.persistence.AdapterName())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			_ = s.Shutdown(context.Background())
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	}
}

// Shutdown stops the HTTP server and then releases persistence. Only the first call
// does any work.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown.Do(func() {
		var errs []error
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		s.mu.Lock()
		listener := s.listener
		s.listener = nil
		s.mu.Unlock()
		if listener != nil {
			if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				errs = append(errs, err)
			}
		}
		if s.persistence != nil {
			if err := s.persistence.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			s.shutdownErr = fmt.Errorf("shutdown errors: %v", errs)
		}
	})
	return s.shutdownErr
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	resp := api.HealthResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Status:        "ok",
	}
	if s.persistence != nil {
		resp.Persistence = s.persistence.AdapterName()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) notFoundHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeError(w, http.StatusNotFound, api.ErrRouteNotFound, "", "route not found")
}

func (s *Server) layoutHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, api.FromLayout(s.svc.Snapshot()))
	case http.MethodPost:
		s.writeLayout(w, r, s.svc.Replace)
	case http.MethodPatch:
		s.writeLayout(w, r, s.svc.Upsert)
	default:
		s.methodNotAllowed(w, http.MethodGet, http.MethodPost, http.MethodPatch)
	}
}

func (s *Server) writeLayout(w http.ResponseWriter, r *http.Request, apply func(context.Context, map[string]model.PanelLayout) model.LayoutState) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	payload, err := model.ParseLayoutPayload(body)
	if err != nil {
		s.writeValidationError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromLayout(apply(r.Context(), payload.Panels)))
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit, err := parseHistoryLimit(r.URL.Query())
		if err != nil {
			s.writeError(w, http.StatusBadRequest, api.ErrPayloadInvalid, api.ReasonInvalid, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, api.HistoryResponse{Snapshots: api.FromLayouts(s.svc.History(r.Context(), limit))})
	case http.MethodDelete:
		baseline, ok := s.svc.ClearHistory(r.Context())
		if !ok {
			s.writeError(w, http.StatusInternalServerError, api.ErrPersistFailed, api.ReasonPersistFailed, "history reset could not be persisted")
			return
		}
		s.writeJSON(w, http.StatusOK, api.HistoryClearResponse{Snapshot: api.FromLayout(baseline)})
	default:
		s.methodNotAllowed(w, http.MethodGet, http.MethodDelete)
	}
}

func parseHistoryLimit(q url.Values) (int, error) {
	raw := strings.TrimSpace(q.Get("limit"))
	if raw == "" {
		return model.DefaultHistoryFetchLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > model.MaxHistoryFetchLimit {
		return 0, fmt.Errorf("limit must be an integer between 1 and %d", model.MaxHistoryFetchLimit)
	}
	return limit, nil
}

func (s *Server) presetsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, api.PresetsResponse{Layouts: api.FromPresets(s.svc.ListPresets(r.Context()))})
	case http.MethodPost:
		body, ok := s.readBody(w, r)
		if !ok {
			return
		}
		payload, err := model.ParsePresetCreate(body)
		if err != nil {
			s.writeValidationError(w, err)
			return
		}
		res := s.svc.CreatePreset(r.Context(), payload.Name, payload.Snapshot)
		if !res.OK {
			s.writePresetFailure(w, res.Reason)
			return
		}
		s.writeJSON(w, http.StatusCreated, api.PresetResponse{Preset: api.FromPreset(*res.Preset)})
	default:
		s.methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) presetByIDHandler(w http.ResponseWriter, r *http.Request) {
	rawID := strings.TrimPrefix(r.URL.EscapedPath(), presetByIDPrefix)
	if rawID == "" || strings.Contains(rawID, "/") {
		s.writeError(w, http.StatusNotFound, api.ErrRouteNotFound, "", "preset route not found")
		return
	}
	id, err := url.PathUnescape(rawID)
	if err != nil || strings.TrimSpace(id) == "" {
		s.writeError(w, http.StatusBadRequest, api.ErrPayloadInvalid, api.ReasonInvalid, "invalid preset id")
		return
	}
	switch r.Method {
	case http.MethodPatch:
		body, ok := s.readBody(w, r)
		if !ok {
			return
		}
		payload, err := model.ParsePresetRename(body)
		if err != nil {
			s.writeValidationError(w, err)
			return
		}
		res := s.svc.RenamePreset(r.Context(), id, payload.Name)
		if !res.OK {
			s.writePresetFailure(w, res.Reason)
			return
		}
		s.writeJSON(w, http.StatusOK, api.PresetResponse{Preset: api.FromPreset(*res.Preset)})
	case http.MethodDelete:
		res := s.svc.DeletePreset(r.Context(), id)
		if !res.OK {
			s.writePresetFailure(w, res.Reason)
			return
		}
		s.writeJSON(w, http.StatusOK, api.PresetDeleteResponse{Removed: api.FromPreset(*res.Preset)})
	default:
		s.methodNotAllowed(w, http.MethodPatch, http.MethodDelete)
	}
}

func (s *Server) writePresetFailure(w http.ResponseWriter, reason layout.Reason) {
	switch reason {
	case layout.ReasonDuplicate:
		s.writeError(w, http.StatusConflict, api.ErrPresetDuplicate, api.ReasonDuplicate, "a preset with this name already exists")
	case layout.ReasonNotFound:
		s.writeError(w, http.StatusNotFound, api.ErrPresetNotFound, api.ReasonNotFound, "preset not found")
	default:
		s.writeError(w, http.StatusInternalServerError, api.ErrPersistFailed, api.ReasonPersistFailed, "preset change could not be persisted")
	}
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, api.ErrPayloadInvalid, api.ReasonTooLarge, "request body too large")
			return nil, false
		}
		s.writeError(w, http.StatusBadRequest, api.ErrPayloadInvalid, api.ReasonInvalid, "invalid request body")
		return nil, false
	}
	return body, true
}

func (s *Server) writeValidationError(w http.ResponseWriter, err error) {
	msg := "invalid request body"
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		msg = verr.Error()
	}
	s.writeError(w, http.StatusBadRequest, api.ErrPayloadInvalid, api.ReasonInvalid, msg)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, reason, msg string) {
	resp := api.ErrorResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Error: api.APIError{
			Code:    code,
			Message: msg,
			Reason:  reason,
		},
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allow ...string) {
	if len(allow) > 0 {
		w.Header().Set("Allow", strings.Join(allow, ", "))
	}
	s.writeError(w, http.StatusMethodNotAllowed, api.ErrMethodNotAllowed, "", "method not allowed")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		fields := []any{"method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start)}
		if rec.status >= http.StatusInternalServerError {
			s.logger.Warnw("request failed", fields...)
			return
		}
		s.logger.Debugw("request", fields...)
	})
}
