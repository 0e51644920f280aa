package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/genqueue/pkg/models"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store on an embedded SQLite database. It is meant
// for single-host deployments and tests; the schema mirrors the Postgres one,
// including the partial unique index on active sessions.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens the database file at path. Migrations must already be applied.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serializes writers and keeps the pragmas below in effect.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// SQLitePath extracts the file path from a sqlite:// URL.
func SQLitePath(databaseURL string) string {
	p := strings.TrimPrefix(databaseURL, "sqlite://")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	return p
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() {
	s.db.Close()
}

// --- API Keys ---

func (s *SQLiteStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = ? AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	return collectSQLiteAPIKeys(rows)
}

func (s *SQLiteStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ?, updated_at = ? WHERE id = ?`, now, now, id.String())
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	scopes, err := json.Marshal(key.Scopes)
	if err != nil {
		return fmt.Errorf("encode scopes: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID.String(), key.UserID, key.Name, key.KeyHash, key.KeyPrefix, string(scopes),
		key.CreatedAt.UTC(), key.UpdatedAt.UTC())
	if err != nil {
		if isSQLiteUniqueError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListAPIKeys(ctx context.Context, userID string) ([]*models.APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE user_id = ? AND deleted_at IS NULL ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return collectSQLiteAPIKeys(rows)
}

func (s *SQLiteStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now, now, id.String())
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func collectSQLiteAPIKeys(rows *sql.Rows) ([]*models.APIKey, error) {
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var (
			k      models.APIKey
			scopes string
		)
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		if err := json.Unmarshal([]byte(scopes), &k.Scopes); err != nil {
			return nil, fmt.Errorf("decode scopes: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// --- Jobs ---

func (s *SQLiteStore) InsertJob(ctx context.Context, job *models.Job) error {
	prepareJob(job)

	input, err := json.Marshal(job.InputData)
	if err != nil {
		return fmt.Errorf("encode input data: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, user_id, session_id, job_type, status, input_data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID.String(), job.UserID, job.SessionID, string(job.Type), string(job.Status), string(input),
		job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isSQLiteUniqueError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *SQLiteStore) FindActiveJob(ctx context.Context, userID, sessionID string) (*models.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE user_id = ? AND session_id = ? AND status IN ('pending', 'processing')
		 ORDER BY created_at DESC LIMIT 1`, userID, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find active job: %w", err)
	}
	return job, nil
}

func (s *SQLiteStore) ListJobsByUser(ctx context.Context, userID string, page Page) ([]*models.Job, error) {
	page = page.Normalize()
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE user_id = ?
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`, userID, page.Limit, page.Skip)
	if err != nil {
		return nil, fmt.Errorf("list jobs by user: %w", err)
	}
	return collectSQLiteJobs(rows)
}

func (s *SQLiteStore) ListJobsByStatus(ctx context.Context, status models.JobStatus, page Page) ([]*models.Job, error) {
	page = page.Normalize()
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ?
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`, string(status), page.Limit, page.Skip)
	if err != nil {
		return nil, fmt.Errorf("list jobs by status: %w", err)
	}
	return collectSQLiteJobs(rows)
}

func (s *SQLiteStore) ListStaleJobs(ctx context.Context, status models.JobStatus, cutoff time.Time, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? AND updated_at < ?
		 ORDER BY updated_at ASC LIMIT ?`, string(status), cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	return collectSQLiteJobs(rows)
}

func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, opts ...JobUpdateOption) (*models.Job, error) {
	params := CollectJobUpdate(opts)
	from := allowedFromStrings(status)
	if len(from) == 0 {
		return nil, fmt.Errorf("%w: no transition leads to %s", ErrInvalidTransition, status)
	}

	now := time.Now().UTC()
	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(status), now}

	if status == models.JobStatusProcessing {
		sets = append(sets, "started_at = ?")
		args = append(args, now)
	}
	if status.IsTerminal() {
		sets = append(sets, "completed_at = ?")
		args = append(args, now)
	}
	if params.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *params.ErrorMessage)
	}
	if params.OutputData != nil {
		output, err := json.Marshal(params.OutputData)
		if err != nil {
			return nil, fmt.Errorf("encode output data: %w", err)
		}
		sets = append(sets, "output_data = ?")
		args = append(args, string(output))
	}
	if params.ArtifactURL != nil {
		sets = append(sets, "artifact_url = ?")
		args = append(args, *params.ArtifactURL)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	query := fmt.Sprintf(`UPDATE jobs SET %s WHERE id = ? AND status IN (%s) RETURNING %s`,
		strings.Join(sets, ", "), placeholders, jobColumns)
	args = append(args, id.String())
	for _, f := range from {
		args = append(args, f)
	}

	job, err := scanJob(s.db.QueryRowContext(ctx, query, args...))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update job status: %w", err)
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id.String()).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job status: %w", err)
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
}

func collectSQLiteJobs(rows *sql.Rows) ([]*models.Job, error) {
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

// --- Users ---

func (s *SQLiteStore) CreateUser(ctx context.Context, user *models.User) error {
	prepareUser(user)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.Name, user.IsActive, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isSQLiteUniqueError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *SQLiteStore) UpdateUser(ctx context.Context, id string, upd models.UserUpdate) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE users SET
		   email = COALESCE(?, email),
		   name = COALESCE(?, name),
		   is_active = COALESCE(?, is_active),
		   updated_at = ?
		 WHERE id = ?
		 RETURNING `+userColumns, upd.Email, upd.Name, upd.IsActive, time.Now().UTC(), id)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context, page Page) ([]*models.User, error) {
	page = page.Normalize()
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
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

func isSQLiteUniqueError(err error) bool {
	var sErr *sqlite.Error
	if errors.As(err, &sErr) {
		code := sErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
