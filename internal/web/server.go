// Package web serves the browser client: the embedded shell page, the
// WebSocket bridge to the game server, and the session and transcript
// APIs.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/mudweb/internal/config"
	"github.com/cory-johannsen/mudweb/internal/route"
	"github.com/cory-johannsen/mudweb/internal/script"
	"github.com/cory-johannsen/mudweb/internal/session"
	"github.com/cory-johannsen/mudweb/internal/storage/postgres"
	"github.com/cory-johannsen/mudweb/internal/upstream"
)

//go:embed static
var staticFS embed.FS

// SessionStore defines the session persistence operations required by
// the web layer.
type SessionStore interface {
	Create(ctx context.Context, id uuid.UUID, remoteAddr string) (postgres.SessionRecord, error)
	SetCharacter(ctx context.Context, id uuid.UUID, name string) error
	End(ctx context.Context, id uuid.UUID) error
}

// TranscriptStore defines the transcript persistence operations required
// by the web layer.
type TranscriptStore interface {
	AppendBatch(ctx context.Context, lines []postgres.TranscriptLine) error
	Recent(ctx context.Context, sessionID uuid.UUID, limit int) ([]postgres.TranscriptLine, error)
}

// Deps carries the server's collaborators. Logger, Manager, and Router
// are required. The store fields and Recorder are nil when history
// recording is disabled; NewEngine is nil when scripting is disabled.
type Deps struct {
	Logger      *zap.Logger
	Manager     *session.Manager
	Router      *route.Router
	Sessions    SessionStore
	Transcripts TranscriptStore
	Recorder    *Recorder

	// NewEngine builds the per-session script engine around the given
	// host callbacks.
	NewEngine func(host script.Host) (*script.Engine, error)
}

// Server is the HTTP front of the client. It implements server.Service.
type Server struct {
	cfg      config.Config
	logger   *zap.Logger
	deps     Deps
	upgrader websocket.Upgrader
	http     *http.Server
	index    []byte

	mu      sync.Mutex
	bridges map[*bridge]struct{}
}

// NewServer builds the HTTP server and its routes.
//
// Precondition: deps.Logger, deps.Manager, and deps.Router must be non-nil.
// Postcondition: Returns a server ready for Start, or a non-nil error.
func NewServer(cfg config.Config, deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, errors.New("web: logger is required")
	case deps.Manager == nil:
		return nil, errors.New("web: session manager is required")
	case deps.Router == nil:
		return nil, errors.New("web: channel router is required")
	}

	static, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("web: embedded assets: %w", err)
	}
	index, err := fs.ReadFile(static, "index.html")
	if err != nil {
		return nil, fmt.Errorf("web: embedded index: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		logger:  deps.Logger,
		deps:    deps,
		index:   index,
		bridges: make(map[*bridge]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	if co := checkOrigin(cfg.Web.AllowedOrigins); co != nil {
		s.upgrader.CheckOrigin = co
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))
	r.Get("/healthz", s.handleHealthz)
	r.Get("/ws", s.handleWS)
	r.Get("/api/sessions", s.handleSessions)
	if deps.Transcripts != nil {
		r.Get("/api/sessions/{id}/transcript", s.handleTranscript)
	}

	s.http = &http.Server{
		Addr:         cfg.Web.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
	}
	return s, nil
}

// checkOrigin builds the upgrader's origin policy. With no configured
// origins the gorilla same-host default applies; a "*" entry allows
// anything; otherwise the Origin header must match an entry exactly.
// Requests without an Origin header are always allowed.
func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	all := false
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			all = true
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if all || origin == "" {
			return true
		}
		return set[origin]
	}
}

// Handler exposes the route tree, primarily for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start begins serving HTTP and blocks until the listener fails or Stop
// shuts it down.
func (s *Server) Start() error {
	s.logger.Info("web server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web server: %w", err)
	}
	return nil
}

// Stop closes every live session, then drains the HTTP server within
// the context budget. WebSocket connections are hijacked, so Shutdown
// alone would leave the bridges running.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	for b := range s.bridges {
		b.cancel()
	}
	s.mu.Unlock()

	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Warn("web server shutdown", zap.Error(err))
	}
}

// track registers a live bridge for Stop and returns its deregistration.
func (s *Server) track(b *bridge) func() {
	s.mu.Lock()
	s.bridges[b] = struct{}{}
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.bridges, b)
		s.mu.Unlock()
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(s.index)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"upstream": s.cfg.Upstream.Addr(),
		"sessions": s.deps.Manager.Count(),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Manager.Snapshot())
}

// transcriptLine is the API shape of one recorded line.
type transcriptLine struct {
	ID        int64     `json:"id"`
	Channel   string    `json:"channel"`
	Raw       string    `json:"raw"`
	HTML      string    `json:"html"`
	Gagged    bool      `json:"gagged"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	limit := s.cfg.History.ReplayLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		if n < limit {
			limit = n
		}
	}

	lines, err := s.deps.Transcripts.Recent(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("loading transcript", zap.Error(err))
		http.Error(w, "loading transcript failed", http.StatusInternalServerError)
		return
	}

	resp := make([]transcriptLine, 0, len(lines))
	for _, l := range lines {
		resp = append(resp, transcriptLine{
			ID:        l.ID,
			Channel:   l.Channel,
			Raw:       l.Raw,
			HTML:      l.HTML,
			Gagged:    l.Gagged,
			CreatedAt: l.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleWS upgrades the connection and runs a bridge session on it until
// either side disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade rejected", zap.Error(err))
		return
	}

	sess := session.New(r.RemoteAddr)
	if err := s.deps.Manager.Add(sess); err != nil {
		s.logger.Error("registering session", zap.Error(err))
		_ = ws.Close()
		return
	}
	defer func() { _ = s.deps.Manager.Remove(sess.ID) }()

	logger := s.logger.With(
		zap.String("session_id", sess.ID.String()),
		zap.String("remote_addr", sess.RemoteAddr),
	)
	logger.Info("session started")

	if s.deps.Sessions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if _, err := s.deps.Sessions.Create(ctx, sess.ID, sess.RemoteAddr); err != nil {
			logger.Warn("recording session start", zap.Error(err))
		}
		cancel()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			defer cancel()
			if err := s.deps.Sessions.End(ctx, sess.ID); err != nil {
				logger.Warn("recording session end", zap.Error(err))
			}
		}()
	}

	game, err := upstream.Dial(r.Context(), upstream.Config{
		Addr:           s.cfg.Upstream.Addr(),
		ConnectTimeout: s.cfg.Upstream.ConnectTimeout,
		ReadTimeout:    s.cfg.Upstream.ReadTimeout,
		WriteTimeout:   s.cfg.Upstream.WriteTimeout,
	})
	if err != nil {
		logger.Error("dialing game server", zap.Error(err))
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = ws.WriteJSON(newStatus(stateError, "game server unreachable"))
		_ = ws.Close()
		return
	}

	b, err := newBridge(s, ws, game, sess, logger)
	if err != nil {
		logger.Error("starting bridge", zap.Error(err))
		_ = game.Close()
		_ = ws.Close()
		return
	}

	untrack := s.track(b)
	b.run()
	untrack()

	logger.Info("session ended", zap.Int64("lines", sess.Lines()))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response", zap.Error(err))
	}
}
