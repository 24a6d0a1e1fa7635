package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"planner/internal/agenda"
	"planner/internal/clock"
	"planner/internal/config"
	"planner/internal/ics"
	appLog "planner/internal/log"
	"planner/internal/model"
	"planner/internal/recurrence"
	"planner/internal/store"
)

const (
	responseCacheTTL   = 30 * time.Second
	maxCachedResponses = 64

	defaultEventDays = 7
	defaultFeedDays  = 180
	defaultFeedBack  = 30
)

// Server exposes the planner over HTTP: due tasks, expanded calendars, a
// per-workspace ICS feed and a stateless expansion endpoint.
type Server struct {
	cfg    *config.Config
	store  store.Store
	agenda *agenda.Service
	clock  clock.Clock
	mux    *http.ServeMux

	// Rendered calendar responses keyed by route, workspace and resolved
	// window. Entries live for responseCacheTTL; at most
	// maxCachedResponses are held.
	cacheMu sync.RWMutex
	cache   map[string]cachedResponse
}

type cachedResponse struct {
	contentType string
	body        []byte
	storedAt    time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, st store.Store, svc *agenda.Service, clk clock.Clock) *Server {
	if clk == nil {
		clk = clock.Real()
	}
	s := &Server{
		cfg:    cfg,
		store:  st,
		agenda: svc,
		clock:  clk,
		mux:    http.NewServeMux(),
		cache:  make(map[string]cachedResponse),
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

// Run serves on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)

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
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

// InvalidateCache drops every cached response. Called after a sync.
func (s *Server) InvalidateCache() {
	s.cacheMu.Lock()
	clear(s.cache)
	s.cacheMu.Unlock()
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
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
			w.Header().Set("WWW-Authenticate", `Basic realm="Planner", charset="UTF-8"`)
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

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/expand", s.handleExpand)
	s.mux.HandleFunc("GET /api/workspaces/{id}/tasks/due", s.handleDueTasks)
	s.mux.HandleFunc("GET /api/workspaces/{id}/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/workspaces/{id}/calendar.ics", s.handleCalendarFeed)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type occurrenceDTO struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// expandResponse is the JSON response shape for /api/expand.
type expandResponse struct {
	Rule        recurrence.Rule `json:"rule"`
	RRule       string          `json:"rrule,omitempty"`
	RangeStart  time.Time       `json:"range_start"`
	RangeEnd    time.Time       `json:"range_end"`
	Occurrences []occurrenceDTO `json:"occurrences"`
	Truncated   bool            `json:"truncated"`
}

// handleExpand expands an ad-hoc series without touching the store.
//
// GET /api/expand?anchor=...&end=...&rule=weekly&from=...&to=...
//   - anchor: first occurrence start (RFC 3339 or YYYY-MM-DD), required
//   - end:    first occurrence end, defaults to anchor
//   - rule:   planner rule tag; with only rrule set it is "customized"
//   - rrule:  RFC 5545 RRULE used by "customized"
//   - from/to: inclusive window, required
func (s *Server) handleExpand(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	loc := s.agenda.Location()

	anchor, err := agenda.ParseTime(q.Get("anchor"), loc, false)
	if err != nil {
		s.writeFailure(w, badRequest("anchor: %v", err))
		return
	}
	end := anchor
	if v := q.Get("end"); v != "" {
		if end, err = agenda.ParseTime(v, loc, false); err != nil {
			s.writeFailure(w, badRequest("end: %v", err))
			return
		}
		if end.Before(anchor) {
			s.writeFailure(w, badRequest("end is before anchor"))
			return
		}
	}
	if q.Get("from") == "" || q.Get("to") == "" {
		s.writeFailure(w, badRequest("from and to are required"))
		return
	}
	win, err := s.window(q, loc, 1, 0)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	rule, ok := recurrence.LookupRule(q.Get("rule"))
	if !ok {
		s.writeFailure(w, badRequest("rule: unknown rule %q", q.Get("rule")))
		return
	}
	rr := q.Get("rrule")
	if rr != "" && q.Get("rule") == "" {
		rule = recurrence.Custom
	}

	series := recurrence.Series{Start: anchor, End: end, Rule: rule, RRule: rr}
	occ, truncated, err := series.Expand(win.Start, win.End)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	dtos := make([]occurrenceDTO, 0, len(occ))
	for _, o := range occ {
		dtos = append(dtos, occurrenceDTO{Start: o.Start.In(loc), End: o.End.In(loc)})
	}
	if rule != recurrence.Custom {
		rr = rule.RRule()
	}

	writeJSON(w, http.StatusOK, expandResponse{
		Rule:        rule,
		RRule:       rr,
		RangeStart:  win.Start,
		RangeEnd:    win.End,
		Occurrences: dtos,
		Truncated:   truncated,
	})
}

// dueTasksResponse is the JSON response shape for the due-tasks endpoint.
type dueTasksResponse struct {
	Workspace  string          `json:"workspace"`
	RangeStart time.Time       `json:"range_start"`
	RangeEnd   time.Time       `json:"range_end"`
	Tasks      []model.DueTask `json:"tasks"`
}

// handleDueTasks lists task occurrences due in a window, today by default.
//
// GET /api/workspaces/{id}/tasks/due?date=2025-03-02
// GET /api/workspaces/{id}/tasks/due?from=...&to=...
func (s *Server) handleDueTasks(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	win, err := s.window(r.URL.Query(), s.agenda.Location(), 1, 0)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	tasks, err := s.agenda.DueTasks(r.Context(), id, win)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dueTasksResponse{
		Workspace:  id,
		RangeStart: win.Start,
		RangeEnd:   win.End,
		Tasks:      tasks,
	})
}

// eventsResponse is the JSON response shape for the events endpoint.
type eventsResponse struct {
	Workspace       string                `json:"workspace"`
	Occurrences     []model.CalendarEntry `json:"occurrences"`
	TruncatedEvents []string              `json:"truncated_events,omitempty"`
	RangeStart      time.Time             `json:"range_start"`
	RangeEnd        time.Time             `json:"range_end"`
	DisplayTimeZone string                `json:"display_timezone"`
	WeekStart       string                `json:"week_start"`
}

// handleEvents returns expanded event occurrences within a window.
//
// GET /api/workspaces/{id}/events?days=7&backfill=1
//   - days:     how many days ahead of today to include (default 7)
//   - backfill: how many past days to include (default 0)
//
// from/to or date override days/backfill.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	loc := s.agenda.Location()
	win, err := s.window(r.URL.Query(), loc, defaultEventDays, 0)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	key := cacheKey("events", id, win)
	if s.serveCached(w, key) {
		return
	}

	appLog.Debug("api events request",
		"workspace", id,
		"range_start", win.Start.Format(time.RFC3339),
		"range_end", win.End.Format(time.RFC3339),
	)

	res, err := s.agenda.Calendar(r.Context(), id, win)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	body, err := json.Marshal(eventsResponse{
		Workspace:       id,
		Occurrences:     res.Entries,
		TruncatedEvents: res.TruncatedEvents,
		RangeStart:      win.Start,
		RangeEnd:        win.End,
		DisplayTimeZone: loc.String(),
		WeekStart:       s.cfg.WeekStart,
	})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeAndRemember(w, key, "application/json; charset=utf-8", body)
}

// handleCalendarFeed renders the expanded calendar as an ICS feed, one
// VEVENT per occurrence. By default it covers 30 days back and 180 ahead.
func (s *Server) handleCalendarFeed(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	win, err := s.window(r.URL.Query(), s.agenda.Location(), defaultFeedDays, defaultFeedBack)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	key := cacheKey("ics", id, win)
	if s.serveCached(w, key) {
		return
	}

	ws, err := s.store.Workspace(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	res, err := s.agenda.Calendar(r.Context(), id, win)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	name := ws.Name
	if name == "" {
		name = ws.ID
	}
	body := ics.Encode(name, res.Entries, s.clock.Now())
	s.writeAndRemember(w, key, "text/calendar; charset=utf-8", body)
}

func (s *Server) serveCached(w http.ResponseWriter, key string) bool {
	s.cacheMu.RLock()
	c, ok := s.cache[key]
	s.cacheMu.RUnlock()
	if !ok || s.clock.Now().Sub(c.storedAt) >= responseCacheTTL {
		return false
	}
	w.Header().Set("Content-Type", c.contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(c.body)
	return true
}

func (s *Server) writeAndRemember(w http.ResponseWriter, key, contentType string, body []byte) {
	s.remember(key, cachedResponse{contentType: contentType, body: body, storedAt: s.clock.Now()})

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// remember stores c under key after dropping expired entries and, when the
// cache is still full, the oldest one.
func (s *Server) remember(key string, c cachedResponse) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	var (
		oldestKey string
		oldest    time.Time
	)
	for k, v := range s.cache {
		if c.storedAt.Sub(v.storedAt) >= responseCacheTTL {
			delete(s.cache, k)
			continue
		}
		if oldestKey == "" || v.storedAt.Before(oldest) {
			oldestKey, oldest = k, v.storedAt
		}
	}
	if _, exists := s.cache[key]; !exists && len(s.cache) >= maxCachedResponses {
		delete(s.cache, oldestKey)
	}
	s.cache[key] = c
}

// cacheKey identifies a response by what it was computed from, so query
// parameters that do not change the window share an entry.
func cacheKey(route, workspaceID string, win agenda.Window) string {
	return route + "|" + workspaceID + "|" +
		win.Start.Format(time.RFC3339Nano) + "|" + win.End.Format(time.RFC3339Nano)
}

// window resolves the query window from, in order of precedence:
// from/to, date, or days/backfill around today.
func (s *Server) window(q url.Values, loc *time.Location, defDays, defBackfill int) (agenda.Window, error) {
	var w agenda.Window

	switch {
	case q.Get("from") != "" || q.Get("to") != "":
		from, err := agenda.ParseTime(q.Get("from"), loc, false)
		if err != nil {
			return w, badRequest("from: %v", err)
		}
		to, err := agenda.ParseTime(q.Get("to"), loc, true)
		if err != nil {
			return w, badRequest("to: %v", err)
		}
		w = agenda.Window{Start: from, End: to}

	case q.Get("date") != "":
		d, err := time.ParseInLocation(agenda.DateLayout, q.Get("date"), loc)
		if err != nil {
			return w, badRequest("date: want YYYY-MM-DD")
		}
		w = agenda.Day(d, loc)

	default:
		days := parseIntDefault(q.Get("days"), defDays)
		if days <= 0 {
			days = defDays
		}
		backfill := parseIntDefault(q.Get("backfill"), defBackfill)
		if backfill < 0 {
			backfill = 0
		}
		today := s.clock.Now().In(loc)
		w = agenda.Days(today.AddDate(0, 0, -backfill), loc, backfill+days)
	}

	if err := w.Validate(); err != nil {
		return w, err
	}
	if limit := s.cfg.MaxWindowDays; limit > 0 && w.Span() > time.Duration(limit)*24*time.Hour {
		return w, badRequest("window exceeds %d days", limit)
	}
	return w, nil
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// requestError marks a malformed request parameter.
type requestError struct{ msg string }

func (e requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return requestError{msg: fmt.Sprintf(format, args...)}
}

func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	var reqErr requestError
	switch {
	case errors.As(err, &reqErr),
		errors.Is(err, agenda.ErrInvalidRange),
		errors.Is(err, recurrence.ErrInvalidRRule):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrWorkspaceNotFound):
		writeError(w, http.StatusNotFound, "workspace not found")
	default:
		appLog.Error("api request failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
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
