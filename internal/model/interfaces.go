package model

import (
	"context"

	"github.com/taployalty/tapagent/internal/model/contract"
)

// ModelRouter selects a provider for each request, with fallback handling.
// Empty model names resolve to the configured default (or embedding default).
type ModelRouter interface {
	Route(ctx context.Context, model string, req contract.CompletionRequest) (*contract.CompletionResponse, error)
	RouteEmbedding(ctx context.Context, model string, text string) ([]float32, error)
	ListModels() []string
	Health(ctx context.Context) error
}

// Provider is one registered model entry as seen by the router.
type Provider interface {
	Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
	Type() string
	Health(ctx context.Context) error
}
