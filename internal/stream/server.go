package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/AdinAck/Headlights-App/internal/groutine"
	"github.com/AdinAck/Headlights-App/internal/prefs"
	"github.com/AdinAck/Headlights-App/internal/ringchan"
	"github.com/AdinAck/Headlights-App/internal/session"
	"github.com/gorilla/websocket"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
)

// Source is the read side of the router the server publishes.
type Source interface {
	Discovered() []session.Snapshot
	Loaded() []session.Snapshot
	Preferences() prefs.Preferences
	Subscribe(buffer int) *ringchan.RingChannel[session.Change]
	Unsubscribe(rc *ringchan.RingChannel[session.Change])
}

// Options tunes the server.
type Options struct {
	Buffer       int           `default:"64"`
	WriteTimeout time.Duration `default:"100ms"`
	PingInterval time.Duration `default:"30s"`
	PongTimeout  time.Duration `default:"60s"`
}

// Sessions is the body of GET /api/sessions.
type Sessions struct {
	Discovered []session.Snapshot `json:"discovered"`
	Loaded     []session.Snapshot `json:"loaded"`
}

type Server struct {
	src      Source
	hub      *Hub
	opts     Options
	upgrader websocket.Upgrader
	logger   *logrus.Logger
}

// NewServer creates a server. Zero option fields take their defaults.
func NewServer(src Source, opts Options, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	defaults.SetDefaults(&opts)
	return &Server{
		src:  src,
		hub:  NewHub(opts.WriteTimeout, logger),
		opts: opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions", methodHandler(http.MethodGet, s.handleSessions))
	mux.HandleFunc("/api/preferences", methodHandler(http.MethodGet, s.handlePreferences))
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Run forwards router changes to the hub until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	rc := s.src.Subscribe(s.opts.Buffer)
	defer s.src.Unsubscribe(rc)
	defer s.hub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-rc.C():
			if !ok {
				return nil
			}
			s.hub.Broadcast(MessageOf(c))
		}
	}
}

// ListenAndServe serves on addr and pumps changes until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	pumpDone := groutine.Go(ctx, "stream-pump", func(ctx context.Context) {
		if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.WithError(err).Warn("change pump stopped")
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.WithField("addr", addr).Info("stream server listening")
	err := srv.ListenAndServe()
	cancel()
	<-pumpDone
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, Sessions{
		Discovered: s.src.Discovered(),
		Loaded:     s.src.Loaded(),
	})
}

func (s *Server) handlePreferences(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, s.src.Preferences())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Debug("websocket upgrade failed")
		return
	}
	log := s.logger.WithField("client", r.RemoteAddr)
	log.Debug("websocket client connected")

	s.hub.Add(conn)
	defer func() {
		s.hub.Remove(conn)
		log.Debug("websocket client disconnected")
	}()

	_ = conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	})

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.WithError(err).Debug("websocket read failed")
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteTimeout)); err != nil {
				log.WithError(err).Debug("websocket ping failed")
				return
			}
		}
	}
}

func methodHandler(method string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			writeJSON(w, nil, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		handler(w, r)
	}
}

func writeJSON(w http.ResponseWriter, logger *logrus.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && logger != nil {
		logger.WithError(err).Warn("failed to encode response")
	}
}
