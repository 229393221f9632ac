// Package web serves the weekly schedule over HTTP: JSON APIs, the batch
// render endpoint, an HTML weekly view, an iCalendar feed and live updates.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"weeklycal/internal/config"
	"weeklycal/internal/document"
	"weeklycal/internal/ics"
	appLog "weeklycal/internal/log"
	"weeklycal/internal/refresh"
	"weeklycal/internal/render"
	"weeklycal/internal/schedule"
	"weeklycal/internal/websocket"
)

// maxRenderBody bounds POST /api/render request bodies.
const maxRenderBody = 16 << 20

// Server provides the HTTP surface over the current source snapshot.
type Server struct {
	cfg       *config.Config
	refresher *refresh.Refresher
	hub       *websocket.Hub
	mux       *http.ServeMux
	now       func() time.Time
}

// NewServer constructs a new Server. hub may be nil, which disables /ws.
func NewServer(cfg *config.Config, refresher *refresh.Refresher, hub *websocket.Hub) *Server {
	s := &Server{
		cfg:       cfg,
		refresher: refresher,
		hub:       hub,
		mux:       http.NewServeMux(),
		now:       time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials leave auth off.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="weeklycal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe serves on cfg.Listen until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/schedule", s.handleSchedule)
	s.mux.HandleFunc("GET /api/meta", s.handleMeta)
	s.mux.HandleFunc("POST /api/render", s.handleRender)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /calendar", s.handleCalendar)
	s.mux.HandleFunc("GET /calendar.ics", s.handleICS)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
	if s.hub != nil {
		s.mux.Handle("GET /ws", websocket.HandleWebSocket(s.hub))
	}
	s.mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/calendar", http.StatusFound)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// snapshot returns the current source snapshot, refreshing it first when it
// is stale. A failed refresh still serves the previous snapshot.
func (s *Server) snapshot(ctx context.Context) (*refresh.Snapshot, bool) {
	snap, err := s.refresher.Refresh(ctx, false)
	if err != nil {
		appLog.Warn("refresh on request failed", "err", err, "have_snapshot", snap != nil)
	}
	return snap, snap != nil
}

// settings resolves the view settings from the lang and tz query parameters,
// defaulting to the configured ones.
func (s *Server) settings(r *http.Request) render.Settings {
	q := r.URL.Query()
	st := render.Settings{Language: q.Get("lang"), TimeZone: q.Get("tz")}
	if st.Language == "" {
		st.Language = s.cfg.Language
	}
	if st.TimeZone == "" {
		st.TimeZone = s.cfg.Timezone
	}
	return st.Normalize()
}

// view loads the snapshot and builds the table for the request, writing an
// error response and returning false when the snapshot is missing or the
// requested display zone is not in its zone table.
func (s *Server) view(w http.ResponseWriter, r *http.Request) (*refresh.Snapshot, render.Settings, schedule.Table, bool) {
	st := s.settings(r)
	snap, ok := s.snapshot(r.Context())
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "schedule not loaded yet")
		return nil, st, nil, false
	}
	if !snap.Document.Zones.Has(st.TimeZone) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown time zone %q", st.TimeZone))
		return nil, st, nil, false
	}
	return snap, st, render.Schedule(snap.Document, st, s.now()), true
}

// handleSchedule returns the serialized schedule table.
//
// GET /api/schedule?lang=ja&tz=Asia/Tokyo
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	_, st, table, ok := s.view(w, r)
	if !ok {
		return
	}
	appLog.Debug("api schedule request", "lang", st.Language, "tz", st.TimeZone, "occurrences", table.Len())
	writeJSON(w, http.StatusOK, table)
}

type metaResponse struct {
	render.Meta
	Events    int       `json:"events"`
	FetchedAt time.Time `json:"fetched_at"`
	LoadedAt  time.Time `json:"loaded_at"`
	FromCache bool      `json:"from_cache"`
	Stale     bool      `json:"stale"`
}

func (s *Server) metaFor(snap *refresh.Snapshot, lang string) metaResponse {
	return metaResponse{
		Meta:      render.LocalizedMeta(snap.Document.Meta, lang),
		Events:    len(snap.Document.Events),
		FetchedAt: snap.FetchedAt,
		LoadedAt:  snap.LoadedAt,
		FromCache: snap.FromCache,
		Stale:     s.refresher.Stale(),
	}
}

func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(r.Context())
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "schedule not loaded yet")
		return
	}
	writeJSON(w, http.StatusOK, s.metaFor(snap, s.settings(r).Language))
}

// handleRender is the batch entry point: a raw document and settings in,
// the serialized schedule out. It does not touch the current snapshot. An
// unknown display zone yields an empty schedule, as in batch mode.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRenderBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	var req render.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if len(req.Document) == 0 {
		writeError(w, http.StatusBadRequest, "rawDocument is required")
		return
	}

	out, err := render.Render(req.Document, req.Settings, s.now())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := s.refresher.Refresh(r.Context(), true)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.metaFor(snap, s.cfg.Language))
}

func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	snap, st, table, ok := s.view(w, r)
	if !ok {
		return
	}
	meta := render.LocalizedMeta(snap.Document.Meta, st.Language)
	out, err := ics.Export(table, ics.Options{
		Name:        meta.Title,
		Description: meta.Desc,
		TimeZone:    st.TimeZone,
		Now:         s.now(),
	})
	if err != nil {
		appLog.Error("ics export failed", err)
		writeError(w, http.StatusInternalServerError, "failed to export calendar")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="weeklycal.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// handlePreview serves the last PNG capture of the weekly view.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Capture.Enabled {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, s.cfg.Capture.Output)
}

// statusFor maps render errors to HTTP statuses.
func statusFor(err error) int {
	if errors.Is(err, document.ErrMalformedDocument) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
