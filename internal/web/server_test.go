package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/mudweb/internal/config"
	"github.com/cory-johannsen/mudweb/internal/route"
	"github.com/cory-johannsen/mudweb/internal/session"
	"github.com/cory-johannsen/mudweb/internal/storage/postgres"
)

func testConfig() config.Config {
	return config.Config{
		Web: config.WebConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  time.Minute,
			RenderCache:  64,
			SendBuffer:   64,
		},
		Upstream: config.UpstreamConfig{
			Host:           "127.0.0.1",
			Port:           4000,
			ConnectTimeout: 2 * time.Second,
			WriteTimeout:   2 * time.Second,
		},
		History: config.HistoryConfig{
			Buffer:      64,
			BatchSize:   2,
			ReplayLimit: 5,
		},
		Logging: config.LoggingConfig{Level: "debug", Format: "console"},
	}
}

// newTestServer fills in the required deps a test left nil.
func newTestServer(t *testing.T, cfg config.Config, deps Deps) *Server {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = zaptest.NewLogger(t)
	}
	if deps.Manager == nil {
		deps.Manager = session.NewManager()
	}
	if deps.Router == nil {
		router, err := route.NewRouter(route.DefaultRules())
		require.NoError(t, err)
		deps.Router = router
	}
	s, err := NewServer(cfg, deps)
	require.NoError(t, err)
	return s
}

type stubSessionStore struct {
	mu      sync.Mutex
	created []uuid.UUID
	names   map[uuid.UUID]string
	ended   []uuid.UUID
}

func newStubSessionStore() *stubSessionStore {
	return &stubSessionStore{names: make(map[uuid.UUID]string)}
}

func (s *stubSessionStore) Create(_ context.Context, id uuid.UUID, remoteAddr string) (postgres.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, id)
	return postgres.SessionRecord{ID: id, RemoteAddr: remoteAddr, StartedAt: time.Now()}, nil
}

func (s *stubSessionStore) SetCharacter(_ context.Context, id uuid.UUID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[id] = name
	return nil
}

func (s *stubSessionStore) End(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = append(s.ended, id)
	return nil
}

func (s *stubSessionStore) createdCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created)
}

func (s *stubSessionStore) endedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ended)
}

func (s *stubSessionStore) characterFor(id uuid.UUID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.names[id]
}

type stubTranscriptStore struct {
	mu        sync.Mutex
	batches   [][]postgres.TranscriptLine
	appendErr error
	gate      chan struct{}
	limits    []int
	recent    []postgres.TranscriptLine
	recentErr error
}

func (s *stubTranscriptStore) AppendBatch(_ context.Context, lines []postgres.TranscriptLine) error {
	s.mu.Lock()
	batch := make([]postgres.TranscriptLine, len(lines))
	copy(batch, lines)
	s.batches = append(s.batches, batch)
	gate := s.gate
	err := s.appendErr
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return err
}

func (s *stubTranscriptStore) Recent(_ context.Context, _ uuid.UUID, limit int) ([]postgres.TranscriptLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits = append(s.limits, limit)
	if s.recentErr != nil {
		return nil, s.recentErr
	}
	if limit > len(s.recent) {
		limit = len(s.recent)
	}
	return s.recent[:limit], nil
}

func (s *stubTranscriptStore) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (s *stubTranscriptStore) allLines() []postgres.TranscriptLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []postgres.TranscriptLine
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func (s *stubTranscriptStore) lastLimit() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.limits) == 0 {
		return 0
	}
	return s.limits[len(s.limits)-1]
}

func TestNewServerRequiresDeps(t *testing.T) {
	logger := zaptest.NewLogger(t)
	router, err := route.NewRouter(route.DefaultRules())
	require.NoError(t, err)

	_, err = NewServer(testConfig(), Deps{})
	require.ErrorContains(t, err, "logger")

	_, err = NewServer(testConfig(), Deps{Logger: logger})
	require.ErrorContains(t, err, "session manager")

	_, err = NewServer(testConfig(), Deps{Logger: logger, Manager: session.NewManager()})
	require.ErrorContains(t, err, "channel router")

	_, err = NewServer(testConfig(), Deps{Logger: logger, Manager: session.NewManager(), Router: router})
	require.NoError(t, err)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, testConfig(), Deps{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status   string `json:"status"`
		Upstream string `json:"upstream"`
		Sessions int    `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "127.0.0.1:4000", body.Upstream)
	assert.Zero(t, body.Sessions)
}

func TestIndexAndStaticAssets(t *testing.T) {
	s := newTestServer(t, testConfig(), Deps{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), `id="log"`)
	assert.Contains(t, string(body), `id="command"`)

	for _, asset := range []string{"/static/app.js", "/static/style.css"} {
		resp, err := http.Get(srv.URL + asset)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, asset)
	}
}

func TestSessionsAPI(t *testing.T) {
	manager := session.NewManager()
	sess := session.New("198.51.100.7:61000")
	sess.SetCharacter("Ezrith")
	require.NoError(t, manager.Add(sess))

	s := newTestServer(t, testConfig(), Deps{Manager: manager})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var infos []session.Info
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&infos))
	require.Len(t, infos, 1)
	assert.Equal(t, sess.ID, infos[0].ID)
	assert.Equal(t, "Ezrith", infos[0].Character)
	assert.Equal(t, "198.51.100.7:61000", infos[0].RemoteAddr)
}

func TestTranscriptAPI(t *testing.T) {
	store := &stubTranscriptStore{
		recent: []postgres.TranscriptLine{
			{ID: 1, Channel: "game", Raw: "one", HTML: "one"},
			{ID: 2, Channel: "chat", Raw: "two", HTML: "two"},
			{ID: 3, Channel: "game", Raw: "three", HTML: "three"},
		},
	}
	s := newTestServer(t, testConfig(), Deps{Transcripts: store})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	base := fmt.Sprintf("%s/api/sessions/%s/transcript", srv.URL, uuid.New())

	resp, err := http.Get(base)
	require.NoError(t, err)
	var lines []transcriptLine
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&lines))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, lines, 3)
	assert.Equal(t, 5, store.lastLimit(), "default limit is the configured replay cap")

	resp, err = http.Get(base + "?limit=2")
	require.NoError(t, err)
	lines = nil
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&lines))
	resp.Body.Close()
	assert.Len(t, lines, 2)
	assert.Equal(t, 2, store.lastLimit())

	resp, err = http.Get(base + "?limit=9999")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 5, store.lastLimit(), "requested limit is capped at the replay cap")
}

func TestTranscriptAPIRejectsBadRequests(t *testing.T) {
	store := &stubTranscriptStore{}
	s := newTestServer(t, testConfig(), Deps{Transcripts: store})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/sessions/not-a-uuid/transcript")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(fmt.Sprintf("%s/api/sessions/%s/transcript?limit=0", srv.URL, uuid.New()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(fmt.Sprintf("%s/api/sessions/%s/transcript?limit=ten", srv.URL, uuid.New()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTranscriptAPIStoreError(t *testing.T) {
	store := &stubTranscriptStore{recentErr: errors.New("pool exhausted")}
	s := newTestServer(t, testConfig(), Deps{Transcripts: store})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(fmt.Sprintf("%s/api/sessions/%s/transcript", srv.URL, uuid.New()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestTranscriptAPIAbsentWhenHistoryDisabled(t *testing.T) {
	s := newTestServer(t, testConfig(), Deps{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(fmt.Sprintf("%s/api/sessions/%s/transcript", srv.URL, uuid.New()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCheckOrigin(t *testing.T) {
	require.Nil(t, checkOrigin(nil), "no configured origins keeps the gorilla default")

	reqWith := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	check := checkOrigin([]string{"http://trusted.example"})
	require.NotNil(t, check)
	assert.True(t, check(reqWith("http://trusted.example")))
	assert.False(t, check(reqWith("http://evil.example")))
	assert.True(t, check(reqWith("")), "non-browser clients send no Origin")

	wildcard := checkOrigin([]string{"*"})
	require.NotNil(t, wildcard)
	assert.True(t, wildcard(reqWith("http://anywhere.example")))
}
