// Package server exposes the endpointer to streaming clients over
// WebSocket.
//
// A client opens GET /v1/endpoint, sends a JSON "start" message describing
// its audio format and then streams binary audio messages. The server
// converts the audio to the engine format, runs one [endpointer.Endpointer]
// per connection and answers with JSON event and status messages. Finished
// sessions are written to a [sessionlog.Store] and counted in
// [observe.Metrics].
//
// Settings can be swapped at runtime with [Server.Apply]; sessions already
// running keep the settings they started with.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/hugochiquito/clementine/internal/config"
	"github.com/hugochiquito/clementine/internal/observe"
	"github.com/hugochiquito/clementine/internal/sessionlog"
	"github.com/hugochiquito/clementine/pkg/endpointer"
	"github.com/hugochiquito/clementine/pkg/provider/vad"
	"github.com/hugochiquito/clementine/pkg/provider/vad/energy"
)

// ErrInvalidSettings is wrapped by every [Settings.Validate] failure.
var ErrInvalidSettings = errors.New("server: invalid settings")

const (
	writeTimeout = 5 * time.Second
	saveTimeout  = 5 * time.Second
)

// Settings is the part of the configuration a stream reads when it starts a
// session.
type Settings struct {
	// SampleRate is the engine sample rate in Hz.
	SampleRate int

	// Endpointer is the completion policy.
	Endpointer endpointer.Config

	// Classifier builds one frame classifier per connection.
	Classifier vad.Engine

	// StatusInterval is the minimum audio time between status messages.
	// Zero disables them.
	StatusInterval time.Duration

	// AutoEnd ends a session as soon as it completes.
	AutoEnd bool

	// ReadLimit caps a single WebSocket message in bytes.
	ReadLimit int64

	// RecentLimit caps /v1/sessions/recent.
	RecentLimit int
}

// SettingsFromConfig derives Settings from a loaded configuration, using the
// energy classifier.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		SampleRate:     cfg.Audio.SampleRate,
		Endpointer:     cfg.Endpointer,
		Classifier:     energy.NewEngine(cfg.Classifier),
		StatusInterval: cfg.Server.StatusInterval,
		AutoEnd:        cfg.Server.AutoEnd,
		ReadLimit:      cfg.Server.ReadLimit,
		RecentLimit:    cfg.SessionLog.RecentLimit,
	}
}

// Validate reports every problem with s.
func (s Settings) Validate() error {
	var errs []error
	if !endpointer.ValidSampleRate(s.SampleRate) {
		errs = append(errs, fmt.Errorf("%w: sample rate %d Hz", ErrInvalidSettings, s.SampleRate))
	}
	if s.Classifier == nil {
		errs = append(errs, fmt.Errorf("%w: no classifier engine", ErrInvalidSettings))
	}
	if s.StatusInterval < 0 {
		errs = append(errs, fmt.Errorf("%w: negative status interval", ErrInvalidSettings))
	}
	if err := s.Endpointer.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidSettings, err))
	}
	return errors.Join(errs...)
}

// Option configures a [Server].
type Option func(*Server)

// WithStore sets where finished sessions are recorded. The default discards
// them.
func WithStore(st sessionlog.Store) Option {
	return func(s *Server) {
		if st != nil {
			s.store = st
		}
	}
}

// WithMetrics sets the metric instruments. The default is
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithOriginPatterns allows cross-origin WebSocket clients whose Origin host
// matches one of patterns (see [websocket.AcceptOptions]).
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.accept.OriginPatterns = patterns }
}

// Server handles streaming endpointing connections. Create it with [New].
type Server struct {
	settings atomic.Pointer[Settings]
	store    sessionlog.Store
	metrics  *observe.Metrics
	logger   *slog.Logger
	accept   websocket.AcceptOptions

	mu      sync.Mutex
	closing bool
	nextID  uint64
	cancels map[uint64]context.CancelFunc
	streams sync.WaitGroup
}

// New validates settings and returns a Server.
func New(settings Settings, opts ...Option) (*Server, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		store:   sessionlog.Discard{},
		logger:  slog.Default(),
		cancels: make(map[uint64]context.CancelFunc),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.settings.Store(&settings)
	return s, nil
}

// Apply replaces the settings used by sessions started from now on.
func (s *Server) Apply(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	s.settings.Store(&settings)
	s.logger.Info("server settings applied",
		"sample_rate", settings.SampleRate,
		"status_interval", settings.StatusInterval,
		"auto_end", settings.AutoEnd,
	)
	return nil
}

// Settings returns the current settings.
func (s *Server) Settings() Settings {
	return *s.settings.Load()
}

// Register adds the server's routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/endpoint", s.handleEndpoint)
	mux.HandleFunc("GET /v1/sessions/recent", s.handleRecent)
}

// Handler returns a mux serving only the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

// ActiveStreams returns the number of open WebSocket connections.
func (s *Server) ActiveStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cancels)
}

// Shutdown stops accepting streams, cancels the open ones and waits for
// their sessions to be recorded, or for ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.streams.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("server: shutdown: %w", ctx.Err())
	}
}

// track registers a stream's cancel func. It returns false once Shutdown
// has begun.
func (s *Server) track(cancel context.CancelFunc) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return 0, false
	}
	s.nextID++
	s.cancels[s.nextID] = cancel
	s.streams.Add(1)
	return s.nextID, true
}

func (s *Server) untrack(id uint64) {
	s.mu.Lock()
	delete(s.cancels, id)
	s.mu.Unlock()
	s.streams.Done()
}

func (s *Server) handleEndpoint(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	id, ok := s.track(cancel)
	if !ok {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.untrack(id)

	conn, err := websocket.Accept(w, r, &s.accept)
	if err != nil {
		observe.Logger(ctx).Warn("websocket accept failed", "err", err)
		return
	}
	settings := s.settings.Load()
	conn.SetReadLimit(settings.ReadLimit)

	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	st := newStream(s, conn, s.logger.With("remote", r.RemoteAddr))
	err = st.run(ctx)
	switch {
	case err == nil:
		conn.Close(websocket.StatusNormalClosure, "")
	case ctx.Err() != nil || websocket.CloseStatus(err) != -1:
		conn.CloseNow()
	default:
		st.logger.Warn("stream failed", "err", err)
		conn.Close(websocket.StatusInternalError, "internal error")
	}
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := s.settings.Load().RecentLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		if limit <= 0 || n < limit {
			limit = n
		}
	}
	recs, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		observe.Logger(r.Context()).Error("list recent sessions", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "session log unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": recs})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
