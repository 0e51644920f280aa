// Package fake is a deterministic generator for development and tests.
// It sleeps for the configured latency and returns canned output.
package fake

import (
	"context"
	"fmt"
	"time"

	"github.com/kiranshivaraju/genqueue/internal/config"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

const (
	defaultPrompt = "default prompt"
	imageURL      = "https://example.com/generated-image.jpg"
)

type Provider struct {
	latency time.Duration
}

func NewProvider(cfg config.FakeConfig) *Provider {
	return &Provider{latency: cfg.Latency}
}

func (p *Provider) Name() string { return "fake" }

// Generate waits out the latency, honoring ctx, then returns output shaped
// like a real provider's for jobType.
func (p *Provider) Generate(ctx context.Context, jobType models.JobType, input map[string]any) (models.GenerationResult, error) {
	if p.latency > 0 {
		t := time.NewTimer(p.latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return models.GenerationResult{}, ctx.Err()
		case <-t.C:
		}
	}

	switch jobType {
	case models.JobTypeText:
		prompt, _ := input["prompt"].(string)
		if prompt == "" {
			prompt = defaultPrompt
		}
		return models.GenerationResult{OutputData: map[string]any{
			"generated_text": fmt.Sprintf("AI generated text for prompt: %s", prompt),
			"model_used":     "mock-gpt-4",
			"tokens_used":    150,
		}}, nil
	case models.JobTypeImage:
		url := imageURL
		return models.GenerationResult{
			OutputData: map[string]any{
				"image_url":  url,
				"model_used": "mock-dalle-3",
				"resolution": "1024x1024",
			},
			ArtifactURL: &url,
		}, nil
	default:
		return models.GenerationResult{OutputData: map[string]any{
			"output":     fmt.Sprintf("Processed %s", jobType),
			"model_used": "mock-model",
		}}, nil
	}
}

var _ models.Generator = (*Provider)(nil)
