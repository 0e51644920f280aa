package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/genqueue/internal/api/middleware"
	"github.com/kiranshivaraju/genqueue/internal/store"
	"github.com/kiranshivaraju/genqueue/internal/users"
	"github.com/kiranshivaraju/genqueue/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockUserService struct {
	RegisterFunc func(ctx context.Context, userID, email string, name *string) (*models.User, bool, error)
	GetFunc      func(ctx context.Context, id string) (*models.User, error)
	UpdateFunc   func(ctx context.Context, id string, upd models.UserUpdate) (*models.User, error)
	ListFunc     func(ctx context.Context, page store.Page) ([]*models.User, error)
}

func (m *mockUserService) Register(ctx context.Context, userID, email string, name *string) (*models.User, bool, error) {
	return m.RegisterFunc(ctx, userID, email, name)
}

func (m *mockUserService) Get(ctx context.Context, id string) (*models.User, error) {
	return m.GetFunc(ctx, id)
}

func (m *mockUserService) Update(ctx context.Context, id string, upd models.UserUpdate) (*models.User, error) {
	return m.UpdateFunc(ctx, id, upd)
}

func (m *mockUserService) List(ctx context.Context, page store.Page) ([]*models.User, error) {
	return m.ListFunc(ctx, page)
}

func asAdmin(r *http.Request, userID string) *http.Request {
	return r.WithContext(mw.WithAPIKey(r.Context(), &models.APIKey{
		UserID: userID, KeyPrefix: "gq_admin", Scopes: []string{"jobs", "admin"},
	}))
}

func withUserID(r *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("userID", id)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decodeUser(t *testing.T, rec *httptest.ResponseRecorder) models.User {
	t.Helper()
	var env struct {
		Data models.User `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env.Data
}

func userFixture(id string) *models.User {
	return &models.User{ID: id, Email: id + "@example.com", IsActive: true}
}

func TestRegisterUser(t *testing.T) {
	tests := []struct {
		name    string
		created bool
		status  int
	}{
		{"new profile", true, http.StatusCreated},
		{"existing profile", false, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser, gotEmail string
			svc := &mockUserService{RegisterFunc: func(_ context.Context, userID, email string, _ *string) (*models.User, bool, error) {
				gotUser, gotEmail = userID, email
				return userFixture(userID), tt.created, nil
			}}

			req := asUser(jsonRequest(t, http.MethodPost, "/api/v1/users", map[string]any{"email": "u1@example.com"}), "u1")
			rec := httptest.NewRecorder()
			NewRegisterUserHandler(svc).ServeHTTP(rec, req)

			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, "u1", gotUser, "profile id comes from the API key")
			assert.Equal(t, "u1@example.com", gotEmail)
			assert.Equal(t, "u1", decodeUser(t, rec).ID)
		})
	}
}

func TestRegisterUser_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid email", fmt.Errorf("%w: invalid email", users.ErrInvalidUser), http.StatusBadRequest},
		{"store failure", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockUserService{RegisterFunc: func(context.Context, string, string, *string) (*models.User, bool, error) {
				return nil, false, tt.err
			}}
			req := asUser(jsonRequest(t, http.MethodPost, "/api/v1/users", map[string]any{"email": "x"}), "u1")
			rec := httptest.NewRecorder()
			NewRegisterUserHandler(svc).ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	NewRegisterUserHandler(&mockUserService{}).ServeHTTP(rec,
		jsonRequest(t, http.MethodPost, "/api/v1/users", map[string]any{"email": "x@example.com"}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCurrentUser(t *testing.T) {
	svc := &mockUserService{GetFunc: func(_ context.Context, id string) (*models.User, error) {
		if id == "u1" {
			return userFixture(id), nil
		}
		return nil, store.ErrNotFound
	}}

	rec := httptest.NewRecorder()
	NewCurrentUserHandler(svc).ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil), "u1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1@example.com", decodeUser(t, rec).Email)

	rec = httptest.NewRecorder()
	NewCurrentUserHandler(svc).ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil), "u2"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, rec).Error.Code)
}

func TestGetUser_Access(t *testing.T) {
	svc := &mockUserService{GetFunc: func(_ context.Context, id string) (*models.User, error) {
		return userFixture(id), nil
	}}

	tests := []struct {
		name   string
		req    func(*http.Request) *http.Request
		status int
	}{
		{"own profile", func(r *http.Request) *http.Request { return asUser(r, "u1") }, http.StatusOK},
		{"other user's profile", func(r *http.Request) *http.Request { return asUser(r, "u2") }, http.StatusNotFound},
		{"admin reads any profile", func(r *http.Request) *http.Request { return asAdmin(r, "ops") }, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req(withUserID(httptest.NewRequest(http.MethodGet, "/api/v1/users/u1", nil), "u1"))
			rec := httptest.NewRecorder()
			NewGetUserHandler(svc).ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestUpdateUser(t *testing.T) {
	var got models.UserUpdate
	svc := &mockUserService{UpdateFunc: func(_ context.Context, id string, upd models.UserUpdate) (*models.User, error) {
		got = upd
		u := userFixture(id)
		u.Name = upd.Name
		return u, nil
	}}

	req := asUser(withUserID(jsonRequest(t, http.MethodPut, "/api/v1/users/u1", map[string]any{"name": "Ada"}), "u1"), "u1")
	rec := httptest.NewRecorder()
	NewUpdateUserHandler(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, got.Name)
	assert.Equal(t, "Ada", *got.Name)
	assert.Nil(t, got.Email)
	assert.Equal(t, "Ada", *decodeUser(t, rec).Name)
}

func TestUpdateUser_IsActiveNeedsAdmin(t *testing.T) {
	svc := &mockUserService{UpdateFunc: func(_ context.Context, id string, upd models.UserUpdate) (*models.User, error) {
		u := userFixture(id)
		u.IsActive = *upd.IsActive
		return u, nil
	}}
	body := map[string]any{"is_active": false}

	rec := httptest.NewRecorder()
	NewUpdateUserHandler(svc).ServeHTTP(rec, asUser(withUserID(jsonRequest(t, http.MethodPut, "/", body), "u1"), "u1"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	NewUpdateUserHandler(svc).ServeHTTP(rec, asAdmin(withUserID(jsonRequest(t, http.MethodPut, "/", body), "u1"), "ops"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeUser(t, rec).IsActive)
}

func TestUpdateUser_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"empty update", fmt.Errorf("%w: nothing to update", users.ErrInvalidUser), http.StatusBadRequest},
		{"missing profile", store.ErrNotFound, http.StatusNotFound},
		{"store failure", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockUserService{UpdateFunc: func(context.Context, string, models.UserUpdate) (*models.User, error) {
				return nil, tt.err
			}}
			req := asUser(withUserID(jsonRequest(t, http.MethodPut, "/", map[string]any{}), "u1"), "u1")
			rec := httptest.NewRecorder()
			NewUpdateUserHandler(svc).ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestListUsers(t *testing.T) {
	var gotPage store.Page
	svc := &mockUserService{ListFunc: func(_ context.Context, page store.Page) ([]*models.User, error) {
		gotPage = page
		return []*models.User{userFixture("a"), userFixture("b")}, nil
	}}

	req := asAdmin(httptest.NewRequest(http.MethodGet, "/api/v1/users?skip=2&limit=2", nil), "ops")
	rec := httptest.NewRecorder()
	NewListUsersHandler(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.Page{Skip: 2, Limit: 2}, gotPage)

	var env struct {
		Data []models.User `json:"data"`
		Meta struct {
			HasMore bool `json:"has_more"`
		} `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	assert.Len(t, env.Data, 2)
	assert.True(t, env.Meta.HasMore)
}
