package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/taployalty/tapagent/internal/config"
	"github.com/taployalty/tapagent/internal/daemon"
	"github.com/taployalty/tapagent/internal/registry"
	"github.com/taployalty/tapagent/internal/upstream"
)

type RegistryComponent struct {
	storeComp   *StoreWorkerComponent
	upstreamCfg *config.UpstreamConfig

	reg         *registry.Registry
	trigger     *upstream.TriggerClient
	categorize  *upstream.CategorizeClient
	tools       *upstream.ToolsClient
	initialized bool
	mu          sync.RWMutex
}

func NewRegistryComponent(storeComp *StoreWorkerComponent, upstreamCfg *config.UpstreamConfig) *RegistryComponent {
	return &RegistryComponent{
		storeComp:   storeComp,
		upstreamCfg: upstreamCfg,
	}
}

func (r *RegistryComponent) Name() string {
	return "Registry"
}

func (r *RegistryComponent) Dependencies() []string {
	return []string{"StoreWorker"}
}

func (r *RegistryComponent) Init(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	trigger, err := upstream.NewTriggerClient(r.upstreamCfg.Trigger)
	if err != nil {
		return fmt.Errorf("failed to init trigger client: %w", err)
	}
	categorize, err := upstream.NewCategorizeClient(r.upstreamCfg.Categorize)
	if err != nil {
		return fmt.Errorf("failed to init categorize client: %w", err)
	}
	tools, err := upstream.NewToolsClient(r.upstreamCfg.Tools)
	if err != nil {
		return fmt.Errorf("failed to init tools client: %w", err)
	}

	r.trigger = trigger
	r.categorize = categorize
	r.tools = tools
	r.reg = registry.New(r.storeComp.GetWorker(), trigger, categorize)
	r.initialized = true

	slog.Info("Registry initialized", "component", r.Name())
	return nil
}

func (r *RegistryComponent) Start(ctx context.Context) error {
	return nil
}

func (r *RegistryComponent) Stop(ctx context.Context) error {
	return nil
}

func (r *RegistryComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.initialized {
		return &daemon.ComponentHealth{Name: r.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}

	return &daemon.ComponentHealth{Name: r.Name(), Healthy: true}, nil
}

func (r *RegistryComponent) GetRegistry() *registry.Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reg
}

func (r *RegistryComponent) GetCategorizeClient() *upstream.CategorizeClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.categorize
}

func (r *RegistryComponent) GetToolsClient() *upstream.ToolsClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools
}
