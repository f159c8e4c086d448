package components

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/taployalty/tapagent/internal/config"
	"github.com/taployalty/tapagent/internal/daemon"
	"github.com/taployalty/tapagent/internal/planner"
)

type HTTPServerComponent struct {
	daemon       *daemon.Daemon
	cfg          *config.Config
	storeComp    *StoreWorkerComponent
	registryComp *RegistryComponent
	modelsComp   *ModelRouterComponent

	server      *http.Server
	planner     *planner.Planner
	shutdownTTL time.Duration
	initialized bool
	started     bool
	mu          sync.RWMutex
	startTime   time.Time
}

func NewHTTPServerComponent(d *daemon.Daemon, cfg *config.Config, storeComp *StoreWorkerComponent, registryComp *RegistryComponent, modelsComp *ModelRouterComponent) *HTTPServerComponent {
	return &HTTPServerComponent{
		daemon:       d,
		cfg:          cfg,
		storeComp:    storeComp,
		registryComp: registryComp,
		modelsComp:   modelsComp,
	}
}

func (h *HTTPServerComponent) Name() string {
	return "HTTPServer"
}

func (h *HTTPServerComponent) Dependencies() []string {
	return []string{"StoreWorker", "Registry", "ModelRouter", "Runner", "Scheduler"}
}

func (h *HTTPServerComponent) Init(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.planner = planner.New(h.modelsComp.GetRouter(), h.registryComp.GetToolsClient(), h.cfg.Models.Default)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /v1/agents", h.withMerchant(h.handleListAgents))
	mux.HandleFunc("GET /v1/agents/{id}", h.withMerchant(h.handleGetAgent))
	mux.HandleFunc("DELETE /v1/agents/{id}", h.withMerchant(h.handleDeleteAgent))
	mux.HandleFunc("POST /v1/agents/{id}/connect", h.withMerchant(h.handleConnect))
	mux.HandleFunc("POST /v1/agents/{id}/disconnect", h.withMerchant(h.handleDisconnect))
	mux.HandleFunc("PUT /v1/agents/{id}/settings", h.withMerchant(h.handleUpdateSettings))
	mux.HandleFunc("GET /v1/tools", h.withMerchant(h.handleListTools))
	mux.HandleFunc("POST /v1/plan", h.withMerchant(h.handlePlan))
	mux.HandleFunc("GET /v1/ideas", h.withMerchant(h.handleIdeas))
	mux.HandleFunc("GET /v1/logs", h.withMerchant(h.handleListLogs))
	mux.HandleFunc("GET /v1/logs/search", h.withMerchant(h.handleSearchLogs))

	readTimeout, err := config.DurationOrDefault(h.cfg.Server.ReadTimeout, config.DefaultServerReadTimeout)
	if err != nil {
		return fmt.Errorf("parse server read timeout: %w", err)
	}
	writeTimeout, err := config.DurationOrDefault(h.cfg.Server.WriteTimeout, config.DefaultServerWriteTimeout)
	if err != nil {
		return fmt.Errorf("parse server write timeout: %w", err)
	}
	idleTimeout, err := config.DurationOrDefault(h.cfg.Server.IdleTimeout, config.DefaultServerIdleTimeout)
	if err != nil {
		return fmt.Errorf("parse server idle timeout: %w", err)
	}
	shutdownTimeout, err := config.DurationOrDefault(h.cfg.Server.ShutdownTimeout, config.DefaultServerShutdownTimeout)
	if err != nil {
		return fmt.Errorf("parse server shutdown timeout: %w", err)
	}

	h.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", h.cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	h.shutdownTTL = shutdownTimeout

	h.initialized = true
	slog.Info("HTTPServer initialized", "component", h.Name(), "port", h.cfg.Server.Port)
	return nil
}

func (h *HTTPServerComponent) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.initialized {
		return fmt.Errorf("HTTPServer not initialized")
	}

	go func() {
		slog.Info("HTTP server listening", "component", h.Name(), "addr", h.server.Addr)
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", "component", h.Name(), "error", err)
		}
	}()

	h.started = true
	h.startTime = time.Now()
	slog.Info("HTTPServer started", "component", h.Name())
	return nil
}

func (h *HTTPServerComponent) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		slog.Info("HTTPServer not started, skipping stop", "component", h.Name())
		return nil
	}

	slog.Info("Stopping HTTPServer...", "component", h.Name())
	shutdownCtx, cancel := context.WithTimeout(ctx, h.shutdownTTL)
	defer cancel()

	if err := h.server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTPServer shutdown error", "component", h.Name(), "error", err)
		return err
	}

	h.started = false
	slog.Info("HTTPServer stopped", "component", h.Name())
	return nil
}

func (h *HTTPServerComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.initialized {
		return &daemon.ComponentHealth{Name: h.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}
	if !h.started {
		return &daemon.ComponentHealth{Name: h.Name(), Healthy: false, Error: fmt.Errorf("not started")}, nil
	}

	return &daemon.ComponentHealth{Name: h.Name(), Healthy: true}, nil
}

func (h *HTTPServerComponent) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	healthResponse := map[string]interface{}{
		"status": "ok",
	}

	componentHealthMap := make(map[string]interface{})
	for name, ch := range h.daemon.ComponentHealth() {
		entry := map[string]interface{}{"healthy": ch.Healthy}
		if ch.Error != nil {
			entry["error"] = ch.Error.Error()
		}
		componentHealthMap[name] = entry
	}
	healthResponse["components"] = componentHealthMap

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(healthResponse)
}
