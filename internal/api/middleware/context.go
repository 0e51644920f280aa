package middleware

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/genqueue/pkg/models"
)

type contextKey string

const (
	userIDKey       contextKey = "user_id"
	keyPrefixKey    contextKey = "key_prefix"
	apiKeyScopesKey contextKey = "api_key_scopes"
)

// WithAPIKey stores the authenticated key's identity in ctx.
func WithAPIKey(ctx context.Context, key *models.APIKey) context.Context {
	ctx = context.WithValue(ctx, userIDKey, key.UserID)
	ctx = context.WithValue(ctx, keyPrefixKey, key.KeyPrefix)
	return context.WithValue(ctx, apiKeyScopesKey, key.Scopes)
}

// GetUserID returns the user the request was authenticated as.
func GetUserID(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(userIDKey).(string)
	return id, ok && id != ""
}

func getKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}

func getScopes(r *http.Request) []string {
	scopes, _ := r.Context().Value(apiKeyScopesKey).([]string)
	return scopes
}

// HasScope reports whether the request's API key grants scope.
func HasScope(r *http.Request, scope string) bool {
	for _, s := range getScopes(r) {
		if s == scope {
			return true
		}
	}
	return false
}
