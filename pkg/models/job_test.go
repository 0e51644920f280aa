package models_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/genqueue/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.JobStatus
		want     bool
	}{
		{models.JobStatusPending, models.JobStatusProcessing, true},
		{models.JobStatusPending, models.JobStatusFailed, true},
		{models.JobStatusProcessing, models.JobStatusCompleted, true},
		{models.JobStatusProcessing, models.JobStatusFailed, true},
		{models.JobStatusPending, models.JobStatusCompleted, false},
		{models.JobStatusProcessing, models.JobStatusPending, false},
		{models.JobStatusCompleted, models.JobStatusFailed, false},
		{models.JobStatusFailed, models.JobStatusProcessing, false},
		{models.JobStatusProcessing, models.JobStatusProcessing, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, models.CanTransition(tt.from, tt.to))
		})
	}
}

func TestAllowedFrom_PendingIsCreationOnly(t *testing.T) {
	assert.Empty(t, models.AllowedFrom(models.JobStatusPending))
}

func TestJobStatus_Predicates(t *testing.T) {
	assert.True(t, models.JobStatusCompleted.IsTerminal())
	assert.True(t, models.JobStatusFailed.IsTerminal())
	assert.False(t, models.JobStatusProcessing.IsTerminal())

	assert.True(t, models.JobStatusPending.IsActive())
	assert.True(t, models.JobStatusProcessing.IsActive())
	assert.False(t, models.JobStatusFailed.IsActive())
}

func TestParseJobType(t *testing.T) {
	jt, err := models.ParseJobType("image_generation")
	require.NoError(t, err)
	assert.Equal(t, models.JobTypeImage, jt)

	_, err = models.ParseJobType("video_generation")
	assert.Error(t, err)
}

func TestParseJobStatus(t *testing.T) {
	s, err := models.ParseJobStatus("processing")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, s)

	_, err = models.ParseJobStatus("PROCESSING")
	assert.Error(t, err)
}

func TestNewStatusEvent(t *testing.T) {
	session := "s1"
	job := &models.Job{ID: uuid.New(), UserID: "u1", SessionID: &session}

	ev := models.NewStatusEvent(job, models.JobStatusFailed, "boom")
	assert.Equal(t, models.EventJobStatusUpdate, ev.Type)
	assert.Equal(t, "FAILED", ev.Status)
	assert.Equal(t, job.ID.String(), ev.JobID)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "boom", *ev.Message)
	assert.Equal(t, &session, ev.SessionID)

	ev = models.NewStatusEvent(job, models.JobStatusProcessing, "")
	assert.Nil(t, ev.Message)

	ev.Stamp(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	assert.Equal(t, "2025-01-02T03:04:05Z", ev.Timestamp)
}
