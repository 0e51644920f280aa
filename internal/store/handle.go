package store

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

// Opener creates a fresh Store connection.
type Opener func(ctx context.Context) (Store, error)

// retireGrace is how long a replaced store stays open for queries that
// were already running on it.
const retireGrace = 30 * time.Second

// Handle is a lazily connecting Store. The underlying connection is bound
// to the process that opened it; a handle observed from another process id,
// or one whose Ping fails during Ensure, is replaced by a fresh connection.
// A replaced store is closed after retireGrace, not at once, since other
// goroutines may still hold it.
//
// Handle itself implements Store so consumers can hold it for the life of
// the process.
type Handle struct {
	open Opener

	mu      sync.Mutex
	store   Store
	pid     int
	retired []func()

	getpid func() int
	grace  time.Duration
}

var _ Store = (*Handle)(nil)

// NewHandle returns a Handle that connects on first use.
func NewHandle(open Opener) *Handle {
	return &Handle{open: open, getpid: os.Getpid, grace: retireGrace}
}

// Ensure returns a live Store, reconnecting if the current one belongs to
// another process or no longer answers a ping. When the reconnect fails the
// current store is kept.
func (h *Handle) Ensure(ctx context.Context) (Store, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.store != nil && h.pid == h.getpid() {
		if err := h.store.Ping(ctx); err == nil {
			return h.store, nil
		}
	}
	return h.reopenLocked(ctx)
}

func (h *Handle) current(ctx context.Context) (Store, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.store != nil && h.pid == h.getpid() {
		return h.store, nil
	}
	return h.reopenLocked(ctx)
}

func (h *Handle) reopenLocked(ctx context.Context) (Store, error) {
	pid := h.getpid()
	if h.store != nil && h.pid != pid {
		// Inherited from another process: dropped without Close so the
		// parent's sockets are left alone.
		h.store = nil
	}

	s, err := h.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if h.store != nil {
		h.retireLocked(h.store)
	}
	h.store = s
	h.pid = pid
	return s, nil
}

func (h *Handle) retireLocked(old Store) {
	var once sync.Once
	closeOld := func() { once.Do(old.Close) }
	h.retired = append(h.retired, closeOld)
	time.AfterFunc(h.grace, closeOld)
}

func (h *Handle) Ping(ctx context.Context) error {
	_, err := h.Ensure(ctx)
	return err
}

// Close closes the current store and any retired ones still open.
func (h *Handle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, closeOld := range h.retired {
		closeOld()
	}
	h.retired = nil
	if h.store != nil && h.pid == h.getpid() {
		h.store.Close()
	}
	h.store = nil
}

func (h *Handle) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	s, err := h.current(ctx)
	if err != nil {
		return nil, err
	}
	return s.GetAPIKeyByPrefix(ctx, prefix)
}

func (h *Handle) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	s, err := h.current(ctx)
	if err != nil {
		return err
	}
	return s.UpdateAPIKeyLastUsed(ctx, id)
}

func (h *Handle) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	s, err := h.current(ctx)
	if err != nil {
		return err
	}
	return s.CreateAPIKey(ctx, key)
}

func (h *Handle) ListAPIKeys(ctx context.Context, userID string) ([]*models.APIKey, error) {
	s, err := h.current(ctx)
	if err != nil {
		return nil, err
	}
	return s.ListAPIKeys(ctx, userID)
}

func (h *Handle) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	s, err := h.current(ctx)
	if err != nil {
		return err
	}
	return s.RevokeAPIKey(ctx, id)
}

func (h *Handle) InsertJob(ctx context.Context, job *models.Job) error {
	s, err := h.current(ctx)
	if err != nil {
		return err
	}
	return s.InsertJob(ctx, job)
}

func (h *Handle) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	s, err := h.current(ctx)
	if err != nil {
		return nil, err
	}
	return s.GetJob(ctx, id)
}

func (h *Handle) FindActiveJob(ctx context.Context, userID, sessionID string) (*models.Job, error) {
	s, err := h.current(ctx)
	if err != nil {
		return nil, err
	}
	return s.FindActiveJob(ctx, userID, sessionID)
}

func (h *Handle) ListJobsByUser(ctx context.Context, userID string, page Page) ([]*models.Job, error) {
	s, err := h.current(ctx)
	if err != nil {
		return nil, err
	}
	return s.ListJobsByUser(ctx, userID, page)
}

func (h *Handle) ListJobsByStatus(ctx context.Context, status models.JobStatus, page Page) ([]*models.Job, error) {
	s, err := h.current(ctx)
	if err != nil {
		return nil, err
	}
	return s.ListJobsByStatus(ctx, status, page)
}

func (h *Handle) ListStaleJobs(ctx context.Context, status models.JobStatus, cutoff time.Time, limit int) ([]*models.Job, error) {
	s, err := h.current(ctx)
	if err != nil {
		return nil, err
	}
	return s.ListStaleJobs(ctx, status, cutoff, limit)
}

func (h *Handle) UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, opts ...JobUpdateOption) (*models.Job, error) {
	s, err := h.current(ctx)
	if err != nil {
		return nil, err
	}
	return s.UpdateJobStatus(ctx, id, status, opts...)
}

func (h *Handle) CreateUser(ctx context.Context, user *models.User) error {
	s, err := h.current(ctx)
	if err != nil {
		return err
	}
	return s.CreateUser(ctx, user)
}

func (h *Handle) GetUser(ctx context.Context, id string) (*models.User, error) {
	s, err := h.current(ctx)
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, id)
}

func (h *Handle) UpdateUser(ctx context.Context, id string, upd models.UserUpdate) (*models.User, error) {
	s, err := h.current(ctx)
	if err != nil {
		return nil, err
	}
	return s.UpdateUser(ctx, id, upd)
}

func (h *Handle) ListUsers(ctx context.Context, page Page) ([]*models.User, error) {
	s, err := h.current(ctx)
	if err != nil {
		return nil, err
	}
	return s.ListUsers(ctx, page)
}
