package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"

	"github.com/gobwas/ws"
	"github.com/kiranshivaraju/genqueue/pkg/models"
	"golang.org/x/time/rate"
)

const WelcomeMessage = "Connected to genqueue WebSocket"

// Server runs the per-connection read loop.
type Server struct {
	registry *Registry
	logger   *slog.Logger
	limit    rate.Limit
	burst    int
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithInboundRate caps how many client frames per second a connection may send.
// Frames over the limit are dropped.
func WithInboundRate(limit rate.Limit, burst int) ServerOption {
	return func(s *Server) {
		s.limit = limit
		s.burst = burst
	}
}

func NewServer(registry *Registry, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{registry: registry, logger: logger, limit: 10, burst: 20}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Registry() *Registry { return s.registry }

// Serve registers an upgraded connection for userID, sends the welcome
// message and answers client frames until the peer goes away or ctx ends.
func (s *Server) Serve(ctx context.Context, userID string, netConn net.Conn) {
	conn := NewWSConn(netConn)
	s.registry.Connect(userID, conn)
	defer func() {
		s.registry.Disconnect(userID, conn.ID())
		conn.Close()
	}()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.CloseWith(ws.StatusGoingAway, "server shutting down")
		case <-stop:
		}
	}()

	if err := s.sendJSON(ctx, conn, models.ConnectionMessage{
		Type:    models.MessageConnection,
		Message: WelcomeMessage,
		UserID:  userID,
	}); err != nil {
		s.logger.Warn("send welcome failed", "user_id", userID, "error", err)
		return
	}

	limiter := rate.NewLimiter(s.limit, s.burst)
	for {
		data, op, err := conn.ReadMessage()
		if err != nil {
			s.logger.Debug("connection closed", "user_id", userID, "conn_id", conn.ID(), "error", err)
			return
		}
		if !limiter.Allow() {
			s.logger.Warn("client frame rate exceeded, dropping", "user_id", userID, "conn_id", conn.ID())
			continue
		}
		if op != ws.OpText {
			continue
		}
		s.handleFrame(ctx, conn, userID, data)
	}
}

func (s *Server) handleFrame(ctx context.Context, conn *WSConn, userID string, data []byte) {
	var msg models.PingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Debug("ignoring malformed client frame", "user_id", userID, "error", err)
		return
	}

	switch msg.Type {
	case models.MessagePing:
		pong := models.PingMessage{Type: models.MessagePong, Timestamp: msg.Timestamp}
		if err := s.sendJSON(ctx, conn, pong); err != nil {
			s.logger.Warn("send pong failed", "user_id", userID, "error", err)
		}
	default:
		s.logger.Debug("ignoring client frame", "user_id", userID, "type", msg.Type)
	}
}

func (s *Server) sendJSON(ctx context.Context, conn Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Send(ctx, data)
}
