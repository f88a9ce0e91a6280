package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/sessionwatch/backend/internal/config"
	"github.com/sessionwatch/backend/internal/event"
	"github.com/sessionwatch/backend/internal/ingest"
	"github.com/sessionwatch/backend/internal/query"
)

const (
	defaultSessionEventLimit = 50
	defaultEventLimit        = 100
)

type Server struct {
	cfg         *config.Store
	ingestor    *ingest.Ingestor
	queries     *query.Service
	broadcaster *Broadcaster
}

func NewServer(cfg *config.Store, ingestor *ingest.Ingestor, queries *query.Service, broadcaster *Broadcaster) *Server {
	return &Server{
		cfg:         cfg,
		ingestor:    ingestor,
		queries:     queries,
		broadcaster: broadcaster,
	}
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/events", s.api(s.handleEvents))
	mux.HandleFunc("/api/sessions", s.api(s.handleSessions))
	mux.HandleFunc("/api/sessions/", s.api(s.handleSessionRoutes))
	mux.HandleFunc("/api/stats", s.api(s.handleStats))
}

// api wraps an API handler with CORS, auth, and request logging.
// Preflight requests short-circuit before the auth check; everything
// else is rejected before any core logic runs.
func (s *Server) api(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if !s.authorize(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		reqID := uuid.NewString()[:8]
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		log.Printf("[%s] %s %s -> %d (%s)", reqID, r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond))
	}
}

func (s *Server) authorize(r *http.Request) bool {
	key := s.cfg.Get().Auth.APIKey
	if key == "" {
		return true
	}

	if r.URL.Query().Get("token") == key {
		return true
	}

	if r.Header.Get("X-API-Key") == key {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == key {
		return true
	}

	return false
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	sessions, events := s.queries.Totals()
	info := map[string]any{
		"service":  "sessionwatch",
		"status":   "ok",
		"sessions": sessions,
		"events":   events,
	}
	if uptime, err := host.Uptime(); err == nil {
		info["hostUptimeSec"] = uptime
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := p.MemoryInfo(); err == nil {
			info["rssBytes"] = mi.RSS
		}
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		// Cross-origin dashboards are expected; access control is the
		// API key, not the Origin header.
		CheckOrigin: func(*http.Request) bool { return true },
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	log.Printf("WebSocket client connected: %s", r.RemoteAddr)
	c := s.broadcaster.AddClient(conn)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			log.Printf("WebSocket client disconnected: %s", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleIngest(w, r)
	case http.MethodGet:
		s.handleRecentEvents(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var payload ingest.HookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ev, err := s.ingestor.Ingest(payload)
	if err != nil {
		var verr *ingest.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		log.Printf("Error processing event: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"eventId": ev.ID,
	})
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	sinceSeq, ok := parseCursor(w, r)
	if !ok {
		return
	}
	limit := s.parseLimit(r, defaultEventLimit)

	events, lastID := s.queries.RecentEvents(sinceSeq, limit)

	resp := struct {
		Events      []event.Event `json:"events"`
		LastEventID *string       `json:"lastEventId"`
	}{Events: nonNil(events)}
	if lastID != "" {
		resp.LastEventID = &lastID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.queries.ListSessions())
}

// handleSessionRoutes dispatches /api/sessions/{id} and
// /api/sessions/{id}/events.
func (s *Server) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.SplitN(path, "/", 2)

	sessionID, err := url.PathUnescape(parts[0])
	if err != nil || sessionID == "" {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	if len(parts) == 1 || parts[1] == "" {
		s.handleSessionDetail(w, sessionID)
		return
	}
	if parts[1] == "events" {
		s.handleSessionEvents(w, r, sessionID)
		return
	}
	writeError(w, http.StatusNotFound, "not found")
}

func (s *Server) handleSessionDetail(w http.ResponseWriter, sessionID string) {
	sess, err := s.queries.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess})
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request, sessionID string) {
	sinceSeq, ok := parseCursor(w, r)
	if !ok {
		return
	}
	limit := s.parseLimit(r, defaultSessionEventLimit)

	events, hasMore := s.queries.SessionEvents(sessionID, sinceSeq, limit)

	writeJSON(w, http.StatusOK, struct {
		Events  []event.Event `json:"events"`
		HasMore bool          `json:"hasMore"`
	}{Events: nonNil(events), HasMore: hasMore})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.queries.GetStats(time.Now()))
}

// parseCursor reads the "since" query parameter. A bad cursor is a
// client error; the false return means the response is already written.
func parseCursor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	since := r.URL.Query().Get("since")
	if since == "" {
		return 0, true
	}
	seq, err := event.ParseID(since)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid since cursor")
		return 0, false
	}
	return seq, true
}

// parseLimit reads the "limit" query parameter, capped at the log's
// retention capacity since larger pages can never be filled.
func (s *Server) parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if max := s.queries.EventCapacity(); n > max {
		n = max
	}
	return n
}

func setCORS(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func nonNil(events []event.Event) []event.Event {
	if events == nil {
		return []event.Event{}
	}
	return events
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
