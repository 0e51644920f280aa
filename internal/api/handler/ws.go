package handler

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gobwas/ws"
	"github.com/kiranshivaraju/genqueue/internal/realtime"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

const authRequiredReason = "Authentication required"

// KeyVerifier resolves a raw API key.
type KeyVerifier interface {
	Verify(ctx context.Context, rawKey string) (*models.APIKey, error)
}

// ConnServer runs an upgraded connection until it closes.
type ConnServer interface {
	Serve(ctx context.Context, userID string, conn net.Conn)
}

// NewWebSocketHandler returns an http.HandlerFunc for GET /ws/{userID}.
// The API key arrives as the token query parameter and must belong to
// userID. Rejected clients are upgraded and closed with a policy violation
// so browsers see the reason. Connections end when base is cancelled.
func NewWebSocketHandler(base context.Context, keys KeyVerifier, srv ConnServer, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		authorized := false
		if token := r.URL.Query().Get("token"); token != "" && userID != "" {
			key, err := keys.Verify(r.Context(), token)
			switch {
			case err != nil:
				logger.Debug("websocket key rejected", "user_id", userID, "error", err)
			case key.UserID != userID:
				logger.Warn("websocket key belongs to another user", "user_id", userID)
			default:
				authorized = true
			}
		}

		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			logger.Debug("websocket upgrade failed", "error", err)
			return
		}
		if !authorized {
			realtime.NewWSConn(conn).CloseWith(ws.StatusPolicyViolation, authRequiredReason)
			return
		}

		srv.Serve(base, userID, conn)
	}
}
