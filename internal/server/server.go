// Package server exposes the latest frame state to rendering clients over a
// websocket and answers pick, mask and snapshot requests over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"depthview-go/internal/config"
	"depthview-go/internal/framesync"
	"depthview-go/internal/metrics"
	"depthview-go/internal/pick"
	"depthview-go/internal/types"
)

// Pipeline is the running session as seen by the server.
type Pipeline interface {
	Latest() *framesync.State
	Updates() <-chan *framesync.State
	MaskEnabled() bool
	SetMask(enabled bool)
	ToggleMask() bool
	FromColor(x, y float64) (pick.ColorResult, error)
	FromDepth(x, y float64) (pick.DepthResult, error)
	Status() types.StatusSnapshot
}

type Server struct {
	upgrader websocket.Upgrader
	clients  map[*websocket.Conn]*sync.Mutex
	mu       sync.Mutex
	cfg      config.AppConfig
	pipeline Pipeline
	metrics  *metrics.Manager
	logger   zerolog.Logger
}

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

type Option func(*Server)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger.With().Str("component", "server").Logger()
	}
}

func WithMetrics(m *metrics.Manager) Option {
	return func(s *Server) { s.metrics = m }
}

func New(cfg config.AppConfig, pipeline Pipeline, opts ...Option) *Server {
	s := &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:  make(map[*websocket.Conn]*sync.Mutex),
		cfg:      cfg,
		pipeline: pipeline,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/config", s.handleConfig)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/pick", s.handlePick)
	mux.HandleFunc("/mask", s.handleMask)
	mux.HandleFunc("/snapshot", s.handleSnapshot)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(s.cfg.Port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		s.closeClients()
	}()

	go s.broadcast(ctx)

	s.logger.Info().Str("addr", httpServer.Addr).Msg("http server listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	s.mu.Lock()
	writeMu := &sync.Mutex{}
	s.clients[conn] = writeMu
	count := len(s.clients)
	s.mu.Unlock()
	s.metrics.SetWSClients(count)
	s.logger.Debug().Str("remote", r.RemoteAddr).Int("clients", count).Msg("websocket client connected")

	greeting := s.configPayload()
	greeting["type"] = "config"
	_ = s.writeJSON(conn, writeMu, greeting)

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := s.writeMessage(conn, writeMu, websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer s.removeClient(conn)
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			s.handleClientRequest(conn, writeMu, payload)
		}
	}()
}

func (s *Server) handleClientRequest(conn *websocket.Conn, writeMu *sync.Mutex, payload []byte) {
	var request map[string]any
	if err := json.Unmarshal(payload, &request); err != nil {
		return
	}
	switch request["type"] {
	case "snapshot_request":
		st := s.pipeline.Latest()
		if st == nil {
			_ = s.writeJSON(conn, writeMu, map[string]any{"type": "error", "error": pick.ErrNoFrame.Error()})
			return
		}
		frame, err := EncodeFrame(st, s.cfg.StreamColorStep)
		if err != nil {
			s.logger.Error().Err(err).Msg("encode snapshot frame")
			return
		}
		_ = s.writeMessage(conn, writeMu, websocket.BinaryMessage, frame)
	case "toggle_mask":
		enabled := s.pipeline.ToggleMask()
		_ = s.writeJSON(conn, writeMu, map[string]any{"type": "mask", "mask": enabled})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) configPayload() map[string]any {
	return map[string]any{
		"port":              s.cfg.Port,
		"depth_width":       s.cfg.DepthWidth,
		"depth_height":      s.cfg.DepthHeight,
		"color_width":       s.cfg.ColorWidth,
		"color_height":      s.cfg.ColorHeight,
		"color_scale":       s.cfg.ColorScale,
		"depth_scale":       s.cfg.DepthScale,
		"stream_color_step": s.cfg.StreamColorStep,
		"ui_rate":           s.cfg.UIRate,
		"depth_overflow":    s.cfg.DepthOverflow,
		"mask":              s.pipeline.MaskEnabled(),
	}
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, s.configPayload())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := s.pipeline.Status()
	if status.Metrics == nil {
		status.Metrics = map[string]any{}
	}
	status.Metrics["ws_clients"] = s.clientCount()
	writeJSONResponse(w, http.StatusOK, status)
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	_, known := s.clients[conn]
	delete(s.clients, conn)
	count := len(s.clients)
	s.mu.Unlock()
	_ = conn.Close()
	if known {
		s.metrics.SetWSClients(count)
	}
}

func (s *Server) closeClients() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.mu.Unlock()
	for _, conn := range conns {
		s.removeClient(conn)
	}
}

func (s *Server) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) writeJSON(conn *websocket.Conn, writeMu *sync.Mutex, payload any) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(payload)
}

func (s *Server) writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, messageType int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}

func writeJSONResponse(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSONResponse(w, code, map[string]any{"error": err.Error()})
}
