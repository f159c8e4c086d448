package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/taployalty/tapagent/internal/config"
	"github.com/taployalty/tapagent/internal/daemon"
	"github.com/taployalty/tapagent/internal/model"
)

type ModelRouterComponent struct {
	cfg         *config.ModelsConfig
	router      *model.DefaultModelRouter
	initialized bool
	mu          sync.RWMutex
}

func NewModelRouterComponent(cfg *config.ModelsConfig) *ModelRouterComponent {
	return &ModelRouterComponent{cfg: cfg}
}

func (m *ModelRouterComponent) Name() string {
	return "ModelRouter"
}

func (m *ModelRouterComponent) Dependencies() []string {
	return []string{}
}

func (m *ModelRouterComponent) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	router, err := model.NewModelRouter(*m.cfg)
	if err != nil {
		return fmt.Errorf("failed to init model router: %w", err)
	}

	m.router = router
	m.initialized = true
	slog.Info("ModelRouter initialized", "component", m.Name(), "models", router.ListModels())
	return nil
}

func (m *ModelRouterComponent) Start(ctx context.Context) error {
	return nil
}

func (m *ModelRouterComponent) Stop(ctx context.Context) error {
	return nil
}

func (m *ModelRouterComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.initialized {
		return &daemon.ComponentHealth{Name: m.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}

	return &daemon.ComponentHealth{Name: m.Name(), Healthy: true}, nil
}

func (m *ModelRouterComponent) GetRouter() model.ModelRouter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.router
}
