package users

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/kiranshivaraju/genqueue/internal/store"
	"github.com/kiranshivaraju/genqueue/internal/testutil"
	"github.com/kiranshivaraju/genqueue/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) *Service {
	t.Helper()
	return NewService(testutil.SQLiteStore(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func strPtr(s string) *string { return &s }

func TestRegister_IsIdempotent(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	first, created, err := svc.Register(ctx, "u1", "ada@example.com", strPtr("  Ada "))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "u1", first.ID)
	assert.Equal(t, "Ada", *first.Name)
	assert.True(t, first.IsActive)

	again, created, err := svc.Register(ctx, "u1", "changed@example.com", nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "ada@example.com", again.Email, "existing profile is returned unchanged")
}

func TestRegister_Validation(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		userID string
		email  string
	}{
		{"missing user", "", "ada@example.com"},
		{"missing email", "u1", "  "},
		{"malformed email", "u1", "not-an-email"},
		{"display name form", "u1", "Ada <ada@example.com>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Register(ctx, tt.userID, tt.email, nil)
			assert.ErrorIs(t, err, ErrInvalidUser)
		})
	}
}

func TestUpdate(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	_, _, err := svc.Register(ctx, "u1", "ada@example.com", nil)
	require.NoError(t, err)

	inactive := false
	user, err := svc.Update(ctx, "u1", models.UserUpdate{Name: strPtr("Ada Lovelace"), IsActive: &inactive})
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", *user.Name)
	assert.False(t, user.IsActive)
	assert.Equal(t, "ada@example.com", user.Email)

	_, err = svc.Update(ctx, "u1", models.UserUpdate{})
	assert.ErrorIs(t, err, ErrInvalidUser)

	_, err = svc.Update(ctx, "u1", models.UserUpdate{Email: strPtr("nope")})
	assert.ErrorIs(t, err, ErrInvalidUser)

	_, err = svc.Update(ctx, "ghost", models.UserUpdate{Name: strPtr("x")})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetAndList(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	for _, id := range []string{"u1", "u2"} {
		_, _, err := svc.Register(ctx, id, id+"@example.com", nil)
		require.NoError(t, err)
	}

	got, err := svc.Get(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, "u2@example.com", got.Email)

	_, err = svc.Get(ctx, "u3")
	assert.ErrorIs(t, err, store.ErrNotFound)

	list, err := svc.List(ctx, store.Page{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
