// Package vllm generates text through a vLLM server's OpenAI-compatible API.
package vllm

import (
	"time"

	"github.com/kiranshivaraju/genqueue/internal/ai/openai"
	"github.com/kiranshivaraju/genqueue/internal/config"
)

func NewProvider(cfg config.VLLMConfig, timeout time.Duration) *openai.Provider {
	return openai.NewCompatible("vllm", cfg.BaseURL, "", cfg.Model, timeout)
}
