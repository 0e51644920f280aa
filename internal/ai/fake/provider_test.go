package fake_test

import (
	"context"
	"testing"
	"time"

	"github.com/kiranshivaraju/genqueue/internal/ai/fake"
	"github.com/kiranshivaraju/genqueue/internal/config"
	"github.com/kiranshivaraju/genqueue/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_Text(t *testing.T) {
	p := fake.NewProvider(config.FakeConfig{})

	res, err := p.Generate(context.Background(), models.JobTypeText, map[string]any{"prompt": "a poem"})
	require.NoError(t, err)
	assert.Equal(t, "AI generated text for prompt: a poem", res.OutputData["generated_text"])
	assert.Equal(t, "mock-gpt-4", res.OutputData["model_used"])
	assert.Equal(t, 150, res.OutputData["tokens_used"])
	assert.Nil(t, res.ArtifactURL)
}

func TestGenerate_TextDefaultPrompt(t *testing.T) {
	p := fake.NewProvider(config.FakeConfig{})

	res, err := p.Generate(context.Background(), models.JobTypeText, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "AI generated text for prompt: default prompt", res.OutputData["generated_text"])
}

func TestGenerate_Image(t *testing.T) {
	p := fake.NewProvider(config.FakeConfig{})

	res, err := p.Generate(context.Background(), models.JobTypeImage, map[string]any{"prompt": "cat"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/generated-image.jpg", res.OutputData["image_url"])
	assert.Equal(t, "mock-dalle-3", res.OutputData["model_used"])
	assert.Equal(t, "1024x1024", res.OutputData["resolution"])
	require.NotNil(t, res.ArtifactURL)
	assert.Equal(t, "https://example.com/generated-image.jpg", *res.ArtifactURL)
}

func TestGenerate_Other(t *testing.T) {
	p := fake.NewProvider(config.FakeConfig{})

	res, err := p.Generate(context.Background(), models.JobTypeAudio, nil)
	require.NoError(t, err)
	assert.Equal(t, "Processed audio_generation", res.OutputData["output"])
	assert.Equal(t, "mock-model", res.OutputData["model_used"])
}

func TestGenerate_HonorsCancellation(t *testing.T) {
	p := fake.NewProvider(config.FakeConfig{Latency: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Generate(ctx, models.JobTypeText, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
