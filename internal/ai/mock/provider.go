package mock

import (
	"context"
	"sync/atomic"

	"github.com/kiranshivaraju/genqueue/internal/ai"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

// MockProvider satisfies models.Generator for testing.
type MockProvider struct {
	Name_        string
	GenerateFunc func(ctx context.Context, jobType models.JobType, input map[string]any) (models.GenerationResult, error)

	calls atomic.Int64
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Generate(ctx context.Context, jobType models.JobType, input map[string]any) (models.GenerationResult, error) {
	m.calls.Add(1)
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, jobType, input)
	}
	return models.GenerationResult{}, nil
}

// Calls reports how many times Generate ran.
func (m *MockProvider) Calls() int { return int(m.calls.Load()) }

// NewMockProvider returns a MockProvider that echoes the prompt back.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		GenerateFunc: func(_ context.Context, jobType models.JobType, input map[string]any) (models.GenerationResult, error) {
			return models.GenerationResult{OutputData: map[string]any{
				"generated_text": input["prompt"],
				"job_type":       string(jobType),
				"model_used":     "mock-v1",
			}}, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		GenerateFunc: func(context.Context, models.JobType, map[string]any) (models.GenerationResult, error) {
			return models.GenerationResult{}, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		GenerateFunc: func(ctx context.Context, _ models.JobType, _ map[string]any) (models.GenerationResult, error) {
			<-ctx.Done()
			return models.GenerationResult{}, ai.ErrInferenceTimeout
		},
	}
}

// NewStubbornProvider returns a MockProvider that ignores cancellation and
// only returns once release is closed.
func NewStubbornProvider(release <-chan struct{}) *MockProvider {
	return &MockProvider{
		Name_: "mock-stubborn",
		GenerateFunc: func(context.Context, models.JobType, map[string]any) (models.GenerationResult, error) {
			<-release
			return models.GenerationResult{OutputData: map[string]any{"late": true}}, nil
		},
	}
}

var _ models.Generator = (*MockProvider)(nil)
