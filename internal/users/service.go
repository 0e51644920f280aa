// Package users manages the profile attached to each API key's user id.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/kiranshivaraju/genqueue/internal/store"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

var ErrInvalidUser = errors.New("invalid user request")

// Service registers, reads and updates user profiles.
type Service struct {
	store  store.Store
	logger *slog.Logger
}

func NewService(s store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, logger: logger}
}

// Register creates the profile for userID. It is idempotent: when the
// profile already exists it is returned unchanged with created false.
func (s *Service) Register(ctx context.Context, userID, email string, name *string) (*models.User, bool, error) {
	if userID == "" {
		return nil, false, fmt.Errorf("%w: user id is required", ErrInvalidUser)
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, false, err
	}

	existing, err := s.store.GetUser(ctx, userID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	user := &models.User{ID: userID, Email: email, Name: trimName(name)}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			// Lost a race with a concurrent registration.
			existing, gerr := s.store.GetUser(ctx, userID)
			return existing, false, gerr
		}
		return nil, false, err
	}
	s.logger.Info("user registered", "user_id", userID)
	return user, true, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.User, error) {
	return s.store.GetUser(ctx, id)
}

// Update changes the given fields of user id.
func (s *Service) Update(ctx context.Context, id string, upd models.UserUpdate) (*models.User, error) {
	if upd.Empty() {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidUser)
	}
	if upd.Email != nil {
		email, err := normalizeEmail(*upd.Email)
		if err != nil {
			return nil, err
		}
		upd.Email = &email
	}
	upd.Name = trimName(upd.Name)

	user, err := s.store.UpdateUser(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user updated", "user_id", id)
	return user, nil
}

func (s *Service) List(ctx context.Context, page store.Page) ([]*models.User, error) {
	return s.store.ListUsers(ctx, page.Normalize())
}

func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidUser)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email %q", ErrInvalidUser, email)
	}
	return email, nil
}

func trimName(name *string) *string {
	if name == nil {
		return nil
	}
	n := strings.TrimSpace(*name)
	if n == "" {
		return nil
	}
	return &n
}
