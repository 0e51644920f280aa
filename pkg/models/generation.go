// Package models contains shared data models used across the genqueue codebase.
package models

import "context"

// Generator is the pluggable capability that turns job input into output.
// Implementations must honor ctx cancellation; the worker relies on it for
// the soft time limit.
type Generator interface {
	Generate(ctx context.Context, jobType JobType, input map[string]any) (GenerationResult, error)
	// Name returns the provider identifier (e.g., "fake", "ollama").
	Name() string
}

// GenerationResult is what a Generator hands back for a completed job.
type GenerationResult struct {
	OutputData  map[string]any
	ArtifactURL *string
}
