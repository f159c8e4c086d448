package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/taployalty/tapagent/internal/agent"
	"github.com/taployalty/tapagent/internal/config"
	tperrors "github.com/taployalty/tapagent/internal/errors"
	"github.com/taployalty/tapagent/internal/idempotency"
	"github.com/taployalty/tapagent/internal/store"
)

// RunEvent describes one due schedule fire handed to the runner.
type RunEvent struct {
	RunID      string          `json:"runId"`
	ScheduleID string          `json:"scheduleId"`
	MerchantID string          `json:"merchantId"`
	AgentID    string          `json:"agentId"`
	AgentType  agent.AgentType `json:"agentType"`
	FireTime   time.Time       `json:"fireTime"`
}

// RunDispatcher receives due run events. The runner implements this.
type RunDispatcher interface {
	Dispatch(ctx context.Context, evt RunEvent) error
}

// Scheduler scans the schedule projection collection on a tick and dispatches
// run events for enabled schedules that are due.
type Scheduler struct {
	docs       *store.Worker
	leases     *Store
	dispatcher RunDispatcher

	mu           sync.RWMutex
	ctx          context.Context
	cancel       context.CancelFunc
	running      bool
	ticker       *time.Ticker
	inFlightRuns uint

	tickInterval         time.Duration
	shutdownTimeout      time.Duration
	leaseDuration        time.Duration
	maxCatchupRuns       int
	inFlightPollInterval time.Duration
}

func NewScheduler(docs *store.Worker, leases *Store, dispatcher RunDispatcher, cfg config.SchedulerConfig) (*Scheduler, error) {
	tickInterval, err := config.DurationOrDefault(cfg.TickInterval, config.DefaultSchedulerTickInterval)
	if err != nil {
		return nil, fmt.Errorf("parse scheduler tick interval: %w", err)
	}

	shutdownTimeout, err := config.DurationOrDefault(cfg.ShutdownTimeout, config.DefaultSchedulerShutdownTTL)
	if err != nil {
		return nil, fmt.Errorf("parse scheduler shutdown timeout: %w", err)
	}

	leaseDuration, err := config.DurationOrDefault(cfg.LeaseDuration, config.DefaultSchedulerLeaseDuration)
	if err != nil {
		return nil, fmt.Errorf("parse scheduler lease duration: %w", err)
	}

	inFlightPollInterval, err := config.DurationOrDefault(cfg.InFlightPollInterval, config.DefaultSchedulerInFlightPoll)
	if err != nil {
		return nil, fmt.Errorf("parse scheduler in-flight poll interval: %w", err)
	}

	maxCatchupRuns := cfg.MaxCatchupRuns
	if maxCatchupRuns <= 0 {
		maxCatchupRuns = config.DefaultSchedulerMaxCatchupRuns
	}

	return &Scheduler{
		docs:                 docs,
		leases:               leases,
		dispatcher:           dispatcher,
		tickInterval:         tickInterval,
		shutdownTimeout:      shutdownTimeout,
		leaseDuration:        leaseDuration,
		maxCatchupRuns:       maxCatchupRuns,
		inFlightPollInterval: inFlightPollInterval,
	}, nil
}

func (s *Scheduler) Init(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	slog.Info("Scheduler initialized")
	return nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	s.recoverExpiredLeases()
	s.reportMissedRuns()

	s.ticker = time.NewTicker(s.tickInterval)

	go s.run(ctx)

	slog.Info("Scheduler started", "tick_interval", s.tickInterval)
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.waitForInFlightRuns()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Scheduler stopped gracefully")
		return nil
	case <-time.After(s.shutdownTimeout):
		slog.Warn("Scheduler shutdown timeout, force stopping")
		return tperrors.Internal("shutdown timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) Health(ctx context.Context) error {
	if s.ctx == nil {
		return tperrors.Internal("scheduler not initialized")
	}

	if !s.IsRunning() {
		return tperrors.Internal("scheduler not running")
	}

	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) run(ctx context.Context) {
	for {
		select {
		case <-s.ticker.C:
			s.Tick(ctx)
		case <-s.ctx.Done():
			slog.Info("Scheduler run loop stopped")
			return
		}
	}
}

// Tick scans the projection collection once and dispatches due schedules.
func (s *Scheduler) Tick(ctx context.Context) {
	projections := s.loadProjections()
	if projections == nil {
		return
	}

	active := make(map[string]struct{}, len(projections))
	for _, p := range projections {
		active[p.ScheduleID] = struct{}{}
	}
	if pruned, err := s.leases.PruneMissing(active); err != nil {
		slog.Warn("Failed to prune schedule state", "error", err)
	} else if pruned > 0 {
		slog.Debug("Pruned stale schedule state", "count", pruned)
	}

	for _, p := range projections {
		if !p.Enabled {
			continue
		}

		spec, err := CronSpec(p.Schedule)
		if err != nil {
			slog.Warn("Projection has no usable cron spec", "schedule_id", p.ScheduleID, "error", err)
			continue
		}

		shouldFire, fireTime, err := s.leases.ShouldFire(p.ScheduleID, spec)
		if err != nil {
			slog.Error("Failed to check schedule", "schedule_id", p.ScheduleID, "error", err)
			continue
		}
		if !shouldFire {
			continue
		}

		if fresh := s.docs.CheckAndMarkKey(idempotency.FireKey(p.ScheduleID, fireTime), 0); !fresh {
			slog.Debug("Fire already dispatched", "schedule_id", p.ScheduleID, "fire_time", fireTime)
			s.advancePastDuplicate(p.ScheduleID, spec)
			continue
		}

		s.executeFire(ctx, p, spec, fireTime)
	}
}

func (s *Scheduler) loadProjections() []agent.ScheduleProjection {
	docs, err := s.docs.List(store.CollectionSchedules, 0, false)
	if err != nil {
		slog.Error("Failed to list schedule projections", "error", err)
		return nil
	}

	projections := make([]agent.ScheduleProjection, 0, len(docs))
	for _, doc := range docs {
		var p agent.ScheduleProjection
		if err := json.Unmarshal(doc.Data, &p); err != nil {
			slog.Warn("Skipping malformed projection", "id", doc.ID, "error", err)
			continue
		}
		projections = append(projections, p)
	}
	return projections
}

func (s *Scheduler) executeFire(ctx context.Context, p agent.ScheduleProjection, spec string, fireTime time.Time) {
	s.mu.Lock()
	s.inFlightRuns++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlightRuns--
		s.mu.Unlock()
	}()

	runID := ulid.Make().String()
	leaseExpiresAt := time.Now().Add(s.leaseDuration)

	if err := s.leases.AcquireLease(p.ScheduleID, runID, leaseExpiresAt); err != nil {
		slog.Error("Failed to acquire lease", "schedule_id", p.ScheduleID, "error", err)
		return
	}

	evt := RunEvent{
		RunID:      runID,
		ScheduleID: p.ScheduleID,
		MerchantID: p.MerchantID,
		AgentID:    p.AgentID,
		AgentType:  p.AgentType,
		FireTime:   fireTime,
	}

	if err := s.dispatcher.Dispatch(ctx, evt); err != nil {
		slog.Error("Failed to dispatch run event", "schedule_id", p.ScheduleID, "run_id", runID, "error", err)
		return
	}

	if err := s.leases.MarkDone(p.ScheduleID, runID, spec); err != nil {
		slog.Error("Failed to mark schedule done", "schedule_id", p.ScheduleID, "error", err)
	}
}

// advancePastDuplicate advances a schedule whose fire was already claimed by
// a previous process, using a throwaway lease to move next_run forward.
func (s *Scheduler) advancePastDuplicate(scheduleID, spec string) {
	runID := ulid.Make().String()
	if err := s.leases.AcquireLease(scheduleID, runID, time.Now().Add(s.leaseDuration)); err != nil {
		return
	}
	if err := s.leases.MarkDone(scheduleID, runID, spec); err != nil {
		slog.Warn("Failed to advance duplicate fire", "schedule_id", scheduleID, "error", err)
	}
}

func (s *Scheduler) recoverExpiredLeases() {
	released, err := s.leases.ReleaseExpiredLeases()
	if err != nil {
		slog.Error("Failed to release expired leases", "error", err)
		return
	}
	if released > 0 {
		slog.Info("Recovered expired leases", "count", released)
	}
}

func (s *Scheduler) reportMissedRuns() {
	missed := 0
	now := time.Now()
	for _, entry := range s.leases.Entries() {
		if !entry.NextRun.IsZero() && entry.NextRun.Before(now) {
			missed++
		}
	}

	if missed > s.maxCatchupRuns {
		slog.Warn("Missed scheduled runs while down", "missed", missed, "max", s.maxCatchupRuns)
	}
}

func (s *Scheduler) waitForInFlightRuns() {
	ticker := time.NewTicker(s.inFlightPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.RLock()
			count := s.inFlightRuns
			s.mu.RUnlock()

			if count == 0 {
				return
			}
			slog.Info("Waiting for in-flight runs", "count", count)
		case <-s.ctx.Done():
			return
		}
	}
}
