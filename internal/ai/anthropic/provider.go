// Package anthropic generates text through the Anthropic Messages API.
package anthropic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kiranshivaraju/genqueue/internal/ai/transport"
	"github.com/kiranshivaraju/genqueue/internal/config"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

const (
	apiVersion = "2023-06-01"
	maxTokens  = 1024
)

// Provider implements models.Generator using Anthropic.
type Provider struct {
	cfg    config.AnthropicConfig
	client *transport.Client
}

func NewProvider(cfg config.AnthropicConfig, timeout time.Duration) *Provider {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Provider{cfg: cfg, client: transport.NewClient(timeout)}
}

func (p *Provider) Name() string { return "anthropic" }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type messagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *Provider) Generate(ctx context.Context, jobType models.JobType, input map[string]any) (models.GenerationResult, error) {
	if jobType != models.JobTypeText {
		return models.GenerationResult{}, fmt.Errorf("%w: anthropic handles %s only", transport.ErrUnsupportedJobType, models.JobTypeText)
	}
	prompt, err := transport.Prompt(input)
	if err != nil {
		return models.GenerationResult{}, err
	}

	req := messagesRequest{
		Model:     p.cfg.Model,
		MaxTokens: maxTokens,
		Messages:  []message{{Role: "user", Content: prompt}},
	}
	headers := map[string]string{
		"x-api-key":         p.cfg.APIKey,
		"anthropic-version": apiVersion,
	}

	var out messagesResponse
	if err := p.client.PostJSON(ctx, p.cfg.BaseURL+"/v1/messages", headers, req, &out); err != nil {
		return models.GenerationResult{}, fmt.Errorf("anthropic messages: %w", err)
	}

	var text strings.Builder
	for _, c := range out.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	if text.Len() == 0 {
		return models.GenerationResult{}, fmt.Errorf("anthropic messages: %w: no text content", transport.ErrInvalidResponse)
	}

	model := out.Model
	if model == "" {
		model = p.cfg.Model
	}
	return models.GenerationResult{OutputData: map[string]any{
		"generated_text": text.String(),
		"model_used":     model,
		"tokens_used":    out.Usage.InputTokens + out.Usage.OutputTokens,
	}}, nil
}

var _ models.Generator = (*Provider)(nil)
