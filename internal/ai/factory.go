package ai

import (
	"fmt"

	"github.com/kiranshivaraju/genqueue/internal/ai/anthropic"
	"github.com/kiranshivaraju/genqueue/internal/ai/fake"
	"github.com/kiranshivaraju/genqueue/internal/ai/ollama"
	"github.com/kiranshivaraju/genqueue/internal/ai/openai"
	"github.com/kiranshivaraju/genqueue/internal/ai/vllm"
	"github.com/kiranshivaraju/genqueue/internal/config"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

// NewGenerator constructs the generation capability selected by config.
// Called once at worker startup.
func NewGenerator(cfg config.AIConfig) (models.Generator, error) {
	switch cfg.Provider {
	case "fake":
		return fake.NewProvider(cfg.Fake), nil
	case "ollama":
		return ollama.NewProvider(cfg.Ollama, cfg.InferenceTimeout), nil
	case "vllm":
		return vllm.NewProvider(cfg.VLLM, cfg.InferenceTimeout), nil
	case "openai":
		return openai.NewProvider(cfg.OpenAI, cfg.InferenceTimeout), nil
	case "anthropic":
		return anthropic.NewProvider(cfg.Anthropic, cfg.InferenceTimeout), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of fake, ollama, vllm, openai, anthropic", cfg.Provider)
	}
}
