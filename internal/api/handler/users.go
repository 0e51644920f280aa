package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/genqueue/internal/api/middleware"
	"github.com/kiranshivaraju/genqueue/internal/api/response"
	"github.com/kiranshivaraju/genqueue/internal/store"
	"github.com/kiranshivaraju/genqueue/internal/users"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

// UserService defines the profile operations behind /api/v1/users.
type UserService interface {
	Register(ctx context.Context, userID, email string, name *string) (*models.User, bool, error)
	Get(ctx context.Context, id string) (*models.User, error)
	Update(ctx context.Context, id string, upd models.UserUpdate) (*models.User, error)
	List(ctx context.Context, page store.Page) ([]*models.User, error)
}

type registerUserRequest struct {
	Email string  `json:"email"`
	Name  *string `json:"name"`
}

// NewRegisterUserHandler returns an http.HandlerFunc for POST /api/v1/users.
// The profile is created for the authenticated user: 201 when new, 200 with
// the stored profile when it already exists.
func NewRegisterUserHandler(svc UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		var req registerUserRequest
		if err := response.Decode(r, &req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}

		user, created, err := svc.Register(r.Context(), userID, req.Email, req.Name)
		switch {
		case errors.Is(err, users.ErrInvalidUser):
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		case err != nil:
			internalError(w)
		case created:
			response.Created(w, user)
		default:
			response.JSON(w, user)
		}
	}
}

// NewCurrentUserHandler returns an http.HandlerFunc for GET /api/v1/users/me.
func NewCurrentUserHandler(svc UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}
		writeUser(w, svc, r, userID)
	}
}

// NewGetUserHandler returns an http.HandlerFunc for GET /api/v1/users/{userID}.
// Other users' profiles are visible to admin keys only.
func NewGetUserHandler(svc UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := targetUser(w, r)
		if !ok {
			return
		}
		writeUser(w, svc, r, id)
	}
}

// NewUpdateUserHandler returns an http.HandlerFunc for PUT /api/v1/users/{userID}.
// Only admin keys may change is_active.
func NewUpdateUserHandler(svc UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := targetUser(w, r)
		if !ok {
			return
		}

		var upd models.UserUpdate
		if err := response.Decode(r, &upd); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}
		if upd.IsActive != nil && !mw.HasScope(r, "admin") {
			response.Error(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions", nil)
			return
		}

		user, err := svc.Update(r.Context(), id, upd)
		switch {
		case errors.Is(err, users.ErrInvalidUser):
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		case errors.Is(err, store.ErrNotFound):
			userNotFound(w)
		case err != nil:
			internalError(w)
		default:
			response.JSON(w, user)
		}
	}
}

// NewListUsersHandler returns an http.HandlerFunc for GET /api/v1/users.
func NewListUsersHandler(svc UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, ok := parsePage(w, r)
		if !ok {
			return
		}
		list, err := svc.List(r.Context(), page)
		if err != nil {
			internalError(w)
			return
		}
		if list == nil {
			list = []*models.User{}
		}
		response.Collection(w, list, response.PaginationMeta{
			Skip:    page.Skip,
			Limit:   page.Limit,
			Count:   len(list),
			HasMore: len(list) == page.Limit,
		})
	}
}

// targetUser resolves {userID} and checks the caller may act on it.
// Access to someone else's profile without the admin scope looks like a
// missing profile.
func targetUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := mw.GetUserID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
		return "", false
	}
	id := chi.URLParam(r, "userID")
	if id == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "userID is required", nil)
		return "", false
	}
	if id != userID && !mw.HasScope(r, "admin") {
		userNotFound(w)
		return "", false
	}
	return id, true
}

func writeUser(w http.ResponseWriter, svc UserService, r *http.Request, id string) {
	user, err := svc.Get(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		userNotFound(w)
	case err != nil:
		internalError(w)
	default:
		response.JSON(w, user)
	}
}

func userNotFound(w http.ResponseWriter) {
	response.Error(w, http.StatusNotFound, "NOT_FOUND", "User not found", nil)
}
