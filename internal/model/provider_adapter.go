package model

import (
	"context"

	"github.com/taployalty/tapagent/internal/model/contract"
)

// generator is the surface every concrete provider package exposes.
type generator interface {
	Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ProviderAdapter attaches a registry name and type to a concrete provider.
type ProviderAdapter struct {
	provider     generator
	name         string
	providerType string
}

func (a *ProviderAdapter) Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	return a.provider.Generate(ctx, req)
}

func (a *ProviderAdapter) Embed(ctx context.Context, text string) ([]float32, error) {
	return a.provider.Embed(ctx, text)
}

func (a *ProviderAdapter) Name() string {
	return a.name
}

func (a *ProviderAdapter) Type() string {
	return a.providerType
}

func (a *ProviderAdapter) Health(ctx context.Context) error {
	return nil
}
