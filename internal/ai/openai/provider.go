// Package openai generates text and images through the OpenAI API or any
// server exposing the same chat completions contract.
package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kiranshivaraju/genqueue/internal/ai/transport"
	"github.com/kiranshivaraju/genqueue/internal/config"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

const imageModel = "dall-e-3"

// Provider implements models.Generator using OpenAI.
type Provider struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	images  bool
	client  *transport.Client
}

func NewProvider(cfg config.OpenAIConfig, timeout time.Duration) *Provider {
	return &Provider{
		name:    "openai",
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		images:  true,
		client:  transport.NewClient(timeout),
	}
}

// NewCompatible returns a text-only provider for an OpenAI-compatible server.
func NewCompatible(name, baseURL, apiKey, model string, timeout time.Duration) *Provider {
	return &Provider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  transport.NewClient(timeout),
	}
}

func (p *Provider) Name() string { return p.name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type imageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

func (p *Provider) Generate(ctx context.Context, jobType models.JobType, input map[string]any) (models.GenerationResult, error) {
	prompt, err := transport.Prompt(input)
	if err != nil {
		return models.GenerationResult{}, err
	}

	switch {
	case jobType == models.JobTypeText:
		return p.chat(ctx, prompt)
	case jobType == models.JobTypeImage && p.images:
		size, _ := input["size"].(string)
		if size == "" {
			size = "1024x1024"
		}
		return p.image(ctx, prompt, size)
	default:
		return models.GenerationResult{}, fmt.Errorf("%w: %s cannot handle %s", transport.ErrUnsupportedJobType, p.name, jobType)
	}
}

func (p *Provider) headers() map[string]string {
	if p.apiKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + p.apiKey}
}

func (p *Provider) chat(ctx context.Context, prompt string) (models.GenerationResult, error) {
	req := chatRequest{
		Model:    p.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	}
	var out chatResponse
	if err := p.client.PostJSON(ctx, p.baseURL+"/v1/chat/completions", p.headers(), req, &out); err != nil {
		return models.GenerationResult{}, fmt.Errorf("%s chat: %w", p.name, err)
	}
	if len(out.Choices) == 0 {
		return models.GenerationResult{}, fmt.Errorf("%s chat: %w: no choices", p.name, transport.ErrInvalidResponse)
	}

	model := out.Model
	if model == "" {
		model = p.model
	}
	return models.GenerationResult{OutputData: map[string]any{
		"generated_text": out.Choices[0].Message.Content,
		"model_used":     model,
		"tokens_used":    out.Usage.TotalTokens,
	}}, nil
}

func (p *Provider) image(ctx context.Context, prompt, size string) (models.GenerationResult, error) {
	req := imageRequest{Model: imageModel, Prompt: prompt, N: 1, Size: size}
	var out imageResponse
	if err := p.client.PostJSON(ctx, p.baseURL+"/v1/images/generations", p.headers(), req, &out); err != nil {
		return models.GenerationResult{}, fmt.Errorf("%s image: %w", p.name, err)
	}
	if len(out.Data) == 0 || out.Data[0].URL == "" {
		return models.GenerationResult{}, fmt.Errorf("%s image: %w: no image url", p.name, transport.ErrInvalidResponse)
	}

	url := out.Data[0].URL
	return models.GenerationResult{
		OutputData: map[string]any{
			"image_url":  url,
			"model_used": imageModel,
			"resolution": size,
		},
		ArtifactURL: &url,
	}, nil
}

var _ models.Generator = (*Provider)(nil)
