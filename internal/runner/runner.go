package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/taployalty/tapagent/internal/agent"
	"github.com/taployalty/tapagent/internal/config"
	tperrors "github.com/taployalty/tapagent/internal/errors"
	"github.com/taployalty/tapagent/internal/model"
	"github.com/taployalty/tapagent/internal/model/contract"
	"github.com/taployalty/tapagent/internal/notify"
	"github.com/taployalty/tapagent/internal/scheduler"
	"github.com/taployalty/tapagent/internal/store"
)

// EnrollmentSource loads the enrollment a run event refers to. The registry
// implements this.
type EnrollmentSource interface {
	Get(ctx context.Context, merchantID, agentID string) (*agent.EnrollmentRecord, error)
}

// CategorizeStarter kicks off the upstream categorization function for
// scheduled categorizer runs.
type CategorizeStarter interface {
	Kickoff(ctx context.Context, merchantID string) error
}

type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunSkipped   RunStatus = "skipped"
)

// RunLog is the persisted record of one run, stored in the merchant's
// agentlogs collection under the run id.
type RunLog struct {
	RunID      string          `json:"runId"`
	ScheduleID string          `json:"scheduleId"`
	AgentID    string          `json:"agentId"`
	AgentName  string          `json:"agentName"`
	AgentType  agent.AgentType `json:"agentType"`
	Status     RunStatus       `json:"status"`
	Output     string          `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	FireTime   time.Time       `json:"fireTime"`
	CreatedAt  time.Time       `json:"createdAt,omitempty"`
}

// VectorCollection holds run output embeddings for log search.
const VectorCollection = "runs"

// Runner consumes run events from the scheduler, executes the agent and
// persists the outcome. Run failures never touch the enrollment record.
type Runner struct {
	enrollments EnrollmentSource
	router      model.ModelRouter
	categorize  CategorizeStarter
	dispatcher  *notify.Dispatcher
	docs        *store.Worker

	queue  chan scheduler.RunEvent
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	running bool

	queueSize       int
	shutdownTimeout time.Duration
}

func NewRunner(enrollments EnrollmentSource, router model.ModelRouter, categorize CategorizeStarter, dispatcher *notify.Dispatcher, docs *store.Worker, cfg config.RunnerConfig) (*Runner, error) {
	shutdownTimeout, err := config.DurationOrDefault(cfg.ShutdownTimeout, config.DefaultRunnerShutdownTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse runner shutdown timeout: %w", err)
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = config.DefaultRunnerQueueSize
	}

	return &Runner{
		enrollments:     enrollments,
		router:          router,
		categorize:      categorize,
		dispatcher:      dispatcher,
		docs:            docs,
		queueSize:       queueSize,
		shutdownTimeout: shutdownTimeout,
	}, nil
}

func (r *Runner) Init(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.queue = make(chan scheduler.RunEvent, r.queueSize)
	slog.Info("Runner initialized", "queue_size", r.queueSize)
	return nil
}

func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.loop()

	slog.Info("Runner started")
	return nil
}

func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Runner stopped gracefully")
		return nil
	case <-time.After(r.shutdownTimeout):
		slog.Warn("Runner shutdown timeout")
		return tperrors.Internal("shutdown timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) Health(ctx context.Context) error {
	if r.ctx == nil {
		return tperrors.Internal("runner not initialized")
	}
	if !r.IsRunning() {
		return tperrors.Internal("runner not running")
	}
	return nil
}

func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Dispatch enqueues a run event. Implements the scheduler's dispatcher.
func (r *Runner) Dispatch(ctx context.Context, evt scheduler.RunEvent) error {
	if !r.IsRunning() {
		return tperrors.Transient("runner not running")
	}

	select {
	case r.queue <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return tperrors.Transient("runner queue full")
	}
}

func (r *Runner) loop() {
	defer r.wg.Done()

	for {
		select {
		case evt := <-r.queue:
			r.processEvent(r.ctx, evt)
		case <-r.ctx.Done():
			// drain what is already queued
			for {
				select {
				case evt := <-r.queue:
					r.processEvent(context.Background(), evt)
				default:
					slog.Info("Runner loop stopped")
					return
				}
			}
		}
	}
}

func (r *Runner) processEvent(ctx context.Context, evt scheduler.RunEvent) {
	logEntry := RunLog{
		RunID:      evt.RunID,
		ScheduleID: evt.ScheduleID,
		AgentID:    evt.AgentID,
		AgentType:  evt.AgentType,
		FireTime:   evt.FireTime,
	}

	rec, err := r.enrollments.Get(ctx, evt.MerchantID, evt.AgentID)
	if err != nil {
		logEntry.Status = RunSkipped
		logEntry.Error = err.Error()
		slog.Warn("Run skipped, enrollment not loadable", "merchant_id", evt.MerchantID, "agent_id", evt.AgentID, "error", err)
		r.saveLog(evt.MerchantID, logEntry)
		return
	}

	logEntry.AgentName = rec.AgentName

	if rec.Status != agent.StatusActive || rec.Settings == nil || !rec.Settings.IsEnabled() {
		logEntry.Status = RunSkipped
		logEntry.Error = "enrollment not active"
		slog.Info("Run skipped, enrollment not active", "merchant_id", evt.MerchantID, "agent_id", evt.AgentID)
		r.saveLog(evt.MerchantID, logEntry)
		return
	}

	output, err := r.execute(ctx, rec)
	if err != nil {
		logEntry.Status = RunFailed
		logEntry.Error = err.Error()
		slog.Error("Run failed", "merchant_id", evt.MerchantID, "agent_id", evt.AgentID, "run_id", evt.RunID, "error", err)
		r.saveLog(evt.MerchantID, logEntry)
		return
	}

	logEntry.Status = RunCompleted
	logEntry.Output = output
	r.saveLog(evt.MerchantID, logEntry)

	r.embedOutput(ctx, evt, output)

	if r.dispatcher != nil && output != "" {
		r.dispatcher.Dispatch(ctx, notificationPrefs(rec.Settings), notify.Notification{
			MerchantID: evt.MerchantID,
			AgentID:    evt.AgentID,
			AgentName:  rec.AgentName,
			RunID:      evt.RunID,
			Title:      fmt.Sprintf("%s finished a run", rec.AgentName),
			Body:       output,
		})
	}

	slog.Info("Run completed", "merchant_id", evt.MerchantID, "agent_id", evt.AgentID, "run_id", evt.RunID)
}

func (r *Runner) execute(ctx context.Context, rec *agent.EnrollmentRecord) (string, error) {
	switch rec.AgentType {
	case agent.TypeEmailCategorizer:
		// the categorization function does the work; a scheduled run just
		// kicks it off
		if r.categorize == nil {
			return "", tperrors.Internal("categorize client not configured")
		}
		if err := r.categorize.Kickoff(ctx, rec.MerchantID); err != nil {
			return "", err
		}
		return "", nil

	case agent.TypeEmailSummary, agent.TypeCustom:
		system, user := buildPrompt(rec)
		resp, err := r.router.Route(ctx, "", contract.CompletionRequest{
			Messages: []contract.Message{
				{Role: "system", Content: system},
				{Role: "user", Content: user},
			},
		})
		if err != nil {
			return "", err
		}
		return resp.Content, nil

	default:
		return "", tperrors.Validation(fmt.Sprintf("agent type %s is not schedule driven", rec.AgentType))
	}
}

func buildPrompt(rec *agent.EnrollmentRecord) (system, user string) {
	switch s := rec.Settings.(type) {
	case *agent.EmailSummarySettings:
		format := s.EmailFormat
		if format == "" {
			format = "professional"
		}
		system = fmt.Sprintf("You are a merchant's inbox assistant. Write a %s digest of the mailbox since the last run. Group by sender and highlight anything that needs action.", format)
		user = "Summarize the mailbox activity."
		return

	case *agent.CustomSettings:
		system = "You are an automation agent working for a small merchant. Follow the instruction exactly and report what you did."
		if len(s.SelectedTools) > 0 {
			system = fmt.Sprintf("%s Available tools: %v.", system, s.SelectedTools)
		}
		user = rec.Prompt
		return
	}

	system = "You are an automation agent working for a small merchant."
	user = rec.Prompt
	return
}

// notificationPrefs pulls delivery preferences out of the settings variant.
// Types without a notifications block deliver nowhere.
func notificationPrefs(settings agent.Settings) agent.Notifications {
	switch s := settings.(type) {
	case *agent.EmailSummarySettings:
		return s.Notifications
	case *agent.CustomSettings:
		return s.Notifications
	}
	return agent.Notifications{}
}

func (r *Runner) saveLog(merchantID string, entry RunLog) {
	data, err := json.Marshal(entry)
	if err != nil {
		slog.Error("Failed to marshal run log", "run_id", entry.RunID, "error", err)
		return
	}
	if _, err := r.docs.Put(store.LogsCollection(merchantID), entry.RunID, data, "createdAt"); err != nil {
		slog.Error("Failed to persist run log", "run_id", entry.RunID, "error", err)
	}
}

func (r *Runner) embedOutput(ctx context.Context, evt scheduler.RunEvent, output string) {
	if output == "" {
		return
	}

	vector, err := r.router.RouteEmbedding(ctx, "", output)
	if err != nil {
		slog.Warn("Failed to embed run output", "run_id", evt.RunID, "error", err)
		return
	}

	metadata := map[string]string{
		"merchantId": evt.MerchantID,
		"agentId":    evt.AgentID,
		"runId":      evt.RunID,
	}
	if err := r.docs.UpsertVector(VectorCollection, evt.RunID, vector, metadata, output); err != nil {
		slog.Warn("Failed to index run output", "run_id", evt.RunID, "error", err)
	}
}
