package bridge

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/normanking/cortextalk/internal/config"
	"github.com/normanking/cortextalk/internal/conversation"
	"github.com/normanking/cortextalk/internal/logging"
)

const shutdownTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	// Pages are served from the same origin or from a local file.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Server accepts page connections and gives each its own widget session.
type Server struct {
	transport conversation.Transport
	logs      *logging.Logger
	logger    zerolog.Logger

	mu    sync.RWMutex
	cfg   *config.Config
	conns map[string]*Conn
}

// NewServer creates a bridge server. logs may be nil, in which case pages
// asking for log history get an empty list.
func NewServer(cfg *config.Config, transport conversation.Transport, logs *logging.Logger, logger zerolog.Logger) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Server{
		transport: transport,
		logs:      logs,
		logger:    logger.With().Str("component", "bridge").Logger(),
		cfg:       cfg,
		conns:     make(map[string]*Conn),
	}
}

// Config returns the configuration new sessions are built from.
func (s *Server) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// ApplyConfig stores cfg for new sessions and hot-applies it to live ones.
func (s *Server) ApplyConfig(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if w := c.Widget(); w != nil {
			w.ApplyConfig(cfg)
		}
	}
}

// Conns returns the number of connected pages.
func (s *Server) Conns() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Handler serves the WebSocket endpoint and, when configured, the page's
// static files.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	if dir := s.Config().UI.StaticDir; dir != "" {
		mux.Handle("/", http.FileServer(http.Dir(dir)))
	}
	return mux
}

// ListenAndServe serves on the configured address until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Config().UI.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		s.closeAll()
	}()

	s.logger.Info().Str("addr", srv.Addr).Msg("Bridge listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := newConn(s, ws)
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
	s.logger.Debug().Str("conn", c.id).Str("remote", r.RemoteAddr).Msg("Connection registered")

	go c.writePump()
	go c.readPump()
}

func (s *Server) remove(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
}

func (s *Server) closeAll() {
	s.mu.RLock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		c.close()
	}
}
