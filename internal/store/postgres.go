package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

const jobColumns = `id, user_id, session_id, job_type, status, input_data, output_data,
	artifact_url, error_message, started_at, completed_at, created_at, updated_at`

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	return collectAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, userID string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE user_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return collectAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// --- Jobs ---

func (s *PostgresStore) InsertJob(ctx context.Context, job *models.Job) error {
	prepareJob(job)

	input, err := json.Marshal(job.InputData)
	if err != nil {
		return fmt.Errorf("encode input data: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, user_id, session_id, job_type, status, input_data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.UserID, job.SessionID, string(job.Type), string(job.Status), input, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) FindActiveJob(ctx context.Context, userID, sessionID string) (*models.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE user_id = $1 AND session_id = $2 AND status IN ('pending', 'processing')
		 ORDER BY created_at DESC LIMIT 1`, userID, sessionID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find active job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) ListJobsByUser(ctx context.Context, userID string, page Page) ([]*models.Job, error) {
	page = page.Normalize()
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, page.Limit, page.Skip)
	if err != nil {
		return nil, fmt.Errorf("list jobs by user: %w", err)
	}
	return collectJobs(rows)
}

func (s *PostgresStore) ListJobsByStatus(ctx context.Context, status models.JobStatus, page Page) ([]*models.Job, error) {
	page = page.Normalize()
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, string(status), page.Limit, page.Skip)
	if err != nil {
		return nil, fmt.Errorf("list jobs by status: %w", err)
	}
	return collectJobs(rows)
}

func (s *PostgresStore) ListStaleJobs(ctx context.Context, status models.JobStatus, cutoff time.Time, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = $1 AND updated_at < $2
		 ORDER BY updated_at ASC LIMIT $3`, string(status), cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	return collectJobs(rows)
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, opts ...JobUpdateOption) (*models.Job, error) {
	params := CollectJobUpdate(opts)
	from := allowedFromStrings(status)
	if len(from) == 0 {
		return nil, fmt.Errorf("%w: no transition leads to %s", ErrInvalidTransition, status)
	}

	now := time.Now().UTC()
	query := `UPDATE jobs SET status = $2, updated_at = $3`
	args := []any{id, string(status), now}
	argIdx := 4

	if status == models.JobStatusProcessing {
		query += fmt.Sprintf(", started_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if status.IsTerminal() {
		query += fmt.Sprintf(", completed_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.OutputData != nil {
		output, err := json.Marshal(params.OutputData)
		if err != nil {
			return nil, fmt.Errorf("encode output data: %w", err)
		}
		query += fmt.Sprintf(", output_data = $%d", argIdx)
		args = append(args, output)
		argIdx++
	}
	if params.ArtifactURL != nil {
		query += fmt.Sprintf(", artifact_url = $%d", argIdx)
		args = append(args, *params.ArtifactURL)
		argIdx++
	}

	query += fmt.Sprintf(" WHERE id = $1 AND status = ANY($%d) RETURNING %s", argIdx, jobColumns)
	args = append(args, from)

	job, err := scanJob(s.pool.QueryRow(ctx, query, args...))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update job status: %w", err)
	}

	// Nothing matched: either the job is missing or its status forbids the move.
	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job status: %w", err)
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
}

func collectJobs(rows pgx.Rows) ([]*models.Job, error) {
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	prepareUser(user)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, name, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Email, user.Name, user.IsActive, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	user, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, id string, upd models.UserUpdate) (*models.User, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE users SET
		   email = COALESCE($2, email),
		   name = COALESCE($3, name),
		   is_active = COALESCE($4, is_active),
		   updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+userColumns, id, upd.Email, upd.Name, upd.IsActive)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context, page Page) ([]*models.User, error) {
	page = page.Normalize()
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`,
		page.Limit, page.Skip)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []*models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
