// Package realtime tracks live WebSocket connections per user and fans
// messages out to them.
package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kiranshivaraju/genqueue/internal/metrics"
)

// Conn is one live connection. Send must be safe for concurrent use.
type Conn interface {
	ID() string
	Send(ctx context.Context, msg []byte) error
	Close() error
}

// Registry maps user ids to their live connections. Membership changes for
// one user never block sends to another.
type Registry struct {
	mu     sync.Mutex
	users  map[string]*userConns
	logger *slog.Logger
}

type userConns struct {
	mu    sync.Mutex
	conns []Conn
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{users: make(map[string]*userConns), logger: logger}
}

// Connect registers conn under userID.
func (r *Registry) Connect(userID string, conn Conn) {
	r.mu.Lock()
	uc, ok := r.users[userID]
	if !ok {
		uc = &userConns{}
		r.users[userID] = uc
	}
	uc.mu.Lock()
	uc.conns = append(uc.conns, conn)
	n := len(uc.conns)
	uc.mu.Unlock()
	r.mu.Unlock()

	metrics.LiveConnections.Inc()
	r.logger.Info("connection registered", "user_id", userID, "conn_id", conn.ID(), "user_connections", n)
}

// Disconnect forgets the connection with connID. It reports whether the
// connection was registered.
func (r *Registry) Disconnect(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	uc, ok := r.users[userID]
	if !ok {
		return false
	}
	uc.mu.Lock()
	defer uc.mu.Unlock()

	for i, c := range uc.conns {
		if c.ID() != connID {
			continue
		}
		uc.conns = append(uc.conns[:i], uc.conns[i+1:]...)
		if len(uc.conns) == 0 {
			delete(r.users, userID)
		}
		metrics.LiveConnections.Dec()
		r.logger.Info("connection removed", "user_id", userID, "conn_id", connID)
		return true
	}
	return false
}

func (r *Registry) snapshot(userID string) []Conn {
	r.mu.Lock()
	uc, ok := r.users[userID]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()
	return append([]Conn(nil), uc.conns...)
}

// SendToUser writes msg to every connection of userID and returns how many
// succeeded. Connections whose send fails are removed and closed.
func (r *Registry) SendToUser(ctx context.Context, userID string, msg []byte) int {
	delivered := 0
	for _, c := range r.snapshot(userID) {
		if err := c.Send(ctx, msg); err != nil {
			r.logger.Warn("send failed, dropping connection", "user_id", userID, "conn_id", c.ID(), "error", err)
			if r.Disconnect(userID, c.ID()) {
				c.Close()
			}
			continue
		}
		delivered++
	}
	return delivered
}

// Broadcast writes msg to every connection of every user.
func (r *Registry) Broadcast(ctx context.Context, msg []byte) int {
	r.mu.Lock()
	users := make([]string, 0, len(r.users))
	for u := range r.users {
		users = append(users, u)
	}
	r.mu.Unlock()

	delivered := 0
	for _, u := range users {
		delivered += r.SendToUser(ctx, u, msg)
	}
	return delivered
}

// Count returns the number of live connections for userID.
func (r *Registry) Count(userID string) int {
	return len(r.snapshot(userID))
}

// Total returns the number of live connections across all users.
func (r *Registry) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := 0
	for _, uc := range r.users {
		uc.mu.Lock()
		total += len(uc.conns)
		uc.mu.Unlock()
	}
	return total
}

// CloseAll closes and forgets every connection. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	users := r.users
	r.users = make(map[string]*userConns)
	r.mu.Unlock()

	for _, uc := range users {
		uc.mu.Lock()
		for _, c := range uc.conns {
			c.Close()
			metrics.LiveConnections.Dec()
		}
		uc.mu.Unlock()
	}
}
