// Package ollama generates text through a local Ollama server.
package ollama

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kiranshivaraju/genqueue/internal/ai/transport"
	"github.com/kiranshivaraju/genqueue/internal/config"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

// Provider implements models.Generator using Ollama's /api/generate.
type Provider struct {
	cfg    config.OllamaConfig
	client *transport.Client
}

func NewProvider(cfg config.OllamaConfig, timeout time.Duration) *Provider {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Provider{cfg: cfg, client: transport.NewClient(timeout)}
}

func (p *Provider) Name() string { return "ollama" }

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Model     string `json:"model"`
	Response  string `json:"response"`
	EvalCount int    `json:"eval_count"`
}

func (p *Provider) Generate(ctx context.Context, jobType models.JobType, input map[string]any) (models.GenerationResult, error) {
	if jobType != models.JobTypeText {
		return models.GenerationResult{}, fmt.Errorf("%w: ollama handles %s only", transport.ErrUnsupportedJobType, models.JobTypeText)
	}
	prompt, err := transport.Prompt(input)
	if err != nil {
		return models.GenerationResult{}, err
	}

	var out generateResponse
	req := generateRequest{Model: p.cfg.Model, Prompt: prompt}
	if err := p.client.PostJSON(ctx, p.cfg.BaseURL+"/api/generate", nil, req, &out); err != nil {
		return models.GenerationResult{}, fmt.Errorf("ollama generate: %w", err)
	}
	if out.Response == "" {
		return models.GenerationResult{}, fmt.Errorf("ollama generate: %w: empty response", transport.ErrInvalidResponse)
	}

	model := out.Model
	if model == "" {
		model = p.cfg.Model
	}
	return models.GenerationResult{OutputData: map[string]any{
		"generated_text": out.Response,
		"model_used":     model,
		"tokens_used":    out.EvalCount,
	}}, nil
}

var _ models.Generator = (*Provider)(nil)
