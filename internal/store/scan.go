package store

import (
	"encoding/json"
	"fmt"

	"github.com/kiranshivaraju/genqueue/pkg/models"
)

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const userColumns = `id, email, name, is_active, created_at, updated_at`

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// scanJob reads a row selected with jobColumns.
func scanJob(row rowScanner) (*models.Job, error) {
	var (
		j             models.Job
		jobType       string
		status        string
		input, output []byte
	)
	if err := row.Scan(&j.ID, &j.UserID, &j.SessionID, &jobType, &status, &input, &output,
		&j.ArtifactURL, &j.ErrorMessage, &j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Type = models.JobType(jobType)
	j.Status = models.JobStatus(status)

	if len(input) > 0 {
		if err := json.Unmarshal(input, &j.InputData); err != nil {
			return nil, fmt.Errorf("decode input data: %w", err)
		}
	}
	if len(output) > 0 {
		if err := json.Unmarshal(output, &j.OutputData); err != nil {
			return nil, fmt.Errorf("decode output data: %w", err)
		}
	}
	return &j, nil
}
