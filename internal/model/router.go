package model

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/taployalty/tapagent/internal/config"
	tperrors "github.com/taployalty/tapagent/internal/errors"
	"github.com/taployalty/tapagent/internal/logger"
	"github.com/taployalty/tapagent/internal/model/contract"
	anthropicProvider "github.com/taployalty/tapagent/internal/model/providers/anthropic"
	geminiProvider "github.com/taployalty/tapagent/internal/model/providers/gemini"
	openaiProvider "github.com/taployalty/tapagent/internal/model/providers/openai"
)

// DefaultModelRouter implements ModelRouter over the configured registry.
type DefaultModelRouter struct {
	cfg       config.ModelsConfig
	providers map[string]Provider
	mu        sync.RWMutex
}

func NewModelRouter(cfg config.ModelsConfig) (*DefaultModelRouter, error) {
	router := &DefaultModelRouter{
		cfg:       cfg,
		providers: make(map[string]Provider),
	}

	if err := router.initProviders(); err != nil {
		return nil, err
	}

	return router, nil
}

// Route sends a completion request to the provider registered for model,
// falling back to the configured fallback model on failure.
func (r *DefaultModelRouter) Route(ctx context.Context, model string, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	traceID := logger.GetTraceID(ctx)

	if model == "" {
		model = r.cfg.Default
	}
	slog.Info("Routing completion request", "model", model, "trace_id", traceID)

	provider, err := r.resolveProvider(ctx, model)
	if err != nil {
		return nil, err
	}

	resp, err := provider.Generate(ctx, req)
	if err == nil {
		return resp, nil
	}

	slog.Error("Provider request failed", "model", model, "error", err, "trace_id", traceID)

	if r.cfg.Fallback == "" || model == r.cfg.Fallback {
		return nil, tperrors.WrapWithCategory(err, "provider request failed", tperrors.ErrUpstreamFunction)
	}

	r.mu.RLock()
	fallback, exists := r.providers[r.cfg.Fallback]
	r.mu.RUnlock()
	if !exists {
		return nil, tperrors.NotFound(fmt.Sprintf("fallback model %s not found", r.cfg.Fallback))
	}

	slog.Info("Attempting fallback", "from", model, "to", r.cfg.Fallback, "trace_id", traceID)
	resp, err = fallback.Generate(ctx, req)
	if err != nil {
		return nil, tperrors.WrapWithCategory(err, "fallback request failed", tperrors.ErrUpstreamFunction)
	}
	return resp, nil
}

// RouteEmbedding tries the requested model, then the fallback, then every
// registered provider until one produces an embedding.
func (r *DefaultModelRouter) RouteEmbedding(ctx context.Context, model string, text string) ([]float32, error) {
	traceID := logger.GetTraceID(ctx)

	if model == "" {
		model = r.cfg.Embedding
	}
	slog.Debug("Routing embedding request", "model", model, "trace_id", traceID)

	var lastErr error
	for _, tryModel := range r.embeddingTryOrder(model) {
		select {
		case <-ctx.Done():
			return nil, tperrors.Wrap(ctx.Err(), "embedding request cancelled")
		default:
		}

		r.mu.RLock()
		provider, exists := r.providers[tryModel]
		r.mu.RUnlock()
		if !exists {
			continue
		}

		embeddings, err := provider.Embed(ctx, text)
		if err == nil {
			return embeddings, nil
		}

		if isEmbeddingUnsupported(err) {
			continue
		}

		lastErr = err
		slog.Warn("Embedding failed, trying next model", "model", tryModel, "error", err, "trace_id", traceID)
	}

	if lastErr != nil {
		return nil, tperrors.WrapWithCategory(lastErr, "embedding failed", tperrors.ErrUpstreamFunction)
	}

	return nil, tperrors.NotFound("no embedding-capable model configured")
}

func (r *DefaultModelRouter) embeddingTryOrder(requestedModel string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(r.providers)+2)
	order := make([]string, 0, len(r.providers)+2)

	appendUnique := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		order = append(order, name)
	}

	appendUnique(requestedModel)
	appendUnique(r.cfg.Fallback)

	registered := make([]string, 0, len(r.providers))
	for name := range r.providers {
		registered = append(registered, name)
	}
	sort.Strings(registered)

	for _, name := range registered {
		appendUnique(name)
	}

	return order
}

func isEmbeddingUnsupported(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "embedding not supported") ||
		strings.Contains(msg, "embeddings not implemented") ||
		strings.Contains(msg, "not support embeddings")
}

func (r *DefaultModelRouter) ListModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models := make([]string, 0, len(r.providers))
	for name := range r.providers {
		models = append(models, name)
	}
	sort.Strings(models)

	return models
}

func (r *DefaultModelRouter) Health(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, provider := range r.providers {
		if err := provider.Health(ctx); err != nil {
			slog.Warn("Provider unhealthy", "provider", name, "error", err)
			return tperrors.Transient(fmt.Sprintf("provider %s unhealthy", name))
		}
	}

	return nil
}

func (r *DefaultModelRouter) initProviders() error {
	for _, entry := range r.cfg.Registry {
		provider, err := r.createProvider(entry)
		if err != nil {
			slog.Warn("Failed to create provider", "provider", entry.Provider, "model", entry.Name, "error", err)
			continue
		}

		r.providers[entry.Name] = provider
		slog.Info("Provider initialized", "name", entry.Name, "type", entry.Provider)
	}

	if len(r.providers) == 0 && len(r.cfg.Registry) > 0 {
		return tperrors.Internal("no providers initialized")
	}

	return nil
}

func (r *DefaultModelRouter) resolveProvider(ctx context.Context, model string) (Provider, error) {
	select {
	case <-ctx.Done():
		return nil, tperrors.Wrap(ctx.Err(), "provider resolution cancelled")
	default:
	}

	r.mu.RLock()
	provider, exists := r.providers[model]
	r.mu.RUnlock()

	if !exists {
		if r.cfg.Fallback != "" && model != r.cfg.Fallback {
			r.mu.RLock()
			fallbackProvider, fallbackExists := r.providers[r.cfg.Fallback]
			r.mu.RUnlock()
			if fallbackExists {
				slog.Info("Model not registered, using fallback", "model", model, "fallback", r.cfg.Fallback)
				return fallbackProvider, nil
			}
		}
		return nil, tperrors.NotFound(fmt.Sprintf("model %s not found", model))
	}

	return provider, nil
}

func (r *DefaultModelRouter) createProvider(entry config.ModelRegistry) (Provider, error) {
	switch entry.Provider {
	case "openai":
		if entry.APIKey == "" {
			return nil, tperrors.Validation("API key required for OpenAI provider")
		}
		return &ProviderAdapter{
			provider:     openaiProvider.New(entry.APIKey, entry.BaseURL, entry.Name),
			name:         entry.Name,
			providerType: "openai",
		}, nil

	case "anthropic":
		if entry.APIKey == "" {
			return nil, tperrors.Validation("API key required for Anthropic provider")
		}
		return &ProviderAdapter{
			provider:     anthropicProvider.New(entry.APIKey),
			name:         entry.Name,
			providerType: "anthropic",
		}, nil

	case "gemini":
		if entry.APIKey == "" {
			return nil, tperrors.Validation("API key required for Gemini provider")
		}
		provider, err := geminiProvider.New(entry.APIKey)
		if err != nil {
			return nil, tperrors.WrapWithCategory(err, "failed to create Gemini provider", tperrors.ErrInternal)
		}
		return &ProviderAdapter{
			provider:     provider,
			name:         entry.Name,
			providerType: "gemini",
		}, nil

	default:
		return nil, tperrors.Validation(fmt.Sprintf("unknown provider type: %s", entry.Provider))
	}
}
