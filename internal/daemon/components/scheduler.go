package components

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/taployalty/tapagent/internal/config"
	"github.com/taployalty/tapagent/internal/daemon"
	"github.com/taployalty/tapagent/internal/scheduler"
)

type SchedulerComponent struct {
	storeComp  *StoreWorkerComponent
	runnerComp *RunnerComponent
	cfg        *config.SchedulerConfig

	sched       *scheduler.Scheduler
	initialized bool
	started     bool
	mu          sync.RWMutex
}

func NewSchedulerComponent(storeComp *StoreWorkerComponent, runnerComp *RunnerComponent, cfg *config.SchedulerConfig) *SchedulerComponent {
	return &SchedulerComponent{
		storeComp:  storeComp,
		runnerComp: runnerComp,
		cfg:        cfg,
	}
}

func (s *SchedulerComponent) Name() string {
	return "Scheduler"
}

func (s *SchedulerComponent) Dependencies() []string {
	return []string{"StoreWorker", "Runner"}
}

func (s *SchedulerComponent) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	worker := s.storeComp.GetWorker()

	leaseDir := filepath.Join(worker.BasePath(), "scheduler")
	if err := os.MkdirAll(leaseDir, 0755); err != nil {
		return fmt.Errorf("create scheduler directory: %w", err)
	}

	leases, err := scheduler.NewStore(filepath.Join(leaseDir, "schedules.json"))
	if err != nil {
		return fmt.Errorf("failed to init schedule state store: %w", err)
	}

	sched, err := scheduler.NewScheduler(worker, leases, s.runnerComp.GetRunner(), *s.cfg)
	if err != nil {
		return fmt.Errorf("failed to init scheduler: %w", err)
	}

	if err := sched.Init(ctx); err != nil {
		return fmt.Errorf("failed to init scheduler: %w", err)
	}

	s.sched = sched
	s.initialized = true
	slog.Info("Scheduler initialized", "component", s.Name())
	return nil
}

func (s *SchedulerComponent) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return fmt.Errorf("Scheduler not initialized")
	}

	if err := s.sched.Start(ctx); err != nil {
		return err
	}
	s.started = true
	slog.Info("Scheduler started", "component", s.Name())
	return nil
}

func (s *SchedulerComponent) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		slog.Info("Scheduler not started, skipping stop", "component", s.Name())
		return nil
	}

	if err := s.sched.Stop(ctx); err != nil {
		return err
	}
	s.started = false
	slog.Info("Scheduler stopped", "component", s.Name())
	return nil
}

func (s *SchedulerComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return &daemon.ComponentHealth{Name: s.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}
	if err := s.sched.Health(ctx); err != nil {
		return &daemon.ComponentHealth{Name: s.Name(), Healthy: false, Error: err}, nil
	}

	return &daemon.ComponentHealth{Name: s.Name(), Healthy: true}, nil
}
