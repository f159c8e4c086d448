package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/taployalty/tapagent/internal/config"
	"github.com/taployalty/tapagent/internal/daemon"
	"github.com/taployalty/tapagent/internal/notify"
	"github.com/taployalty/tapagent/internal/runner"
)

type RunnerComponent struct {
	storeComp    *StoreWorkerComponent
	registryComp *RegistryComponent
	modelsComp   *ModelRouterComponent
	runnerCfg    *config.RunnerConfig
	notifyCfg    *config.NotifyConfig

	runner      *runner.Runner
	initialized bool
	started     bool
	mu          sync.RWMutex
}

func NewRunnerComponent(storeComp *StoreWorkerComponent, registryComp *RegistryComponent, modelsComp *ModelRouterComponent, runnerCfg *config.RunnerConfig, notifyCfg *config.NotifyConfig) *RunnerComponent {
	return &RunnerComponent{
		storeComp:    storeComp,
		registryComp: registryComp,
		modelsComp:   modelsComp,
		runnerCfg:    runnerCfg,
		notifyCfg:    notifyCfg,
	}
}

func (r *RunnerComponent) Name() string {
	return "Runner"
}

func (r *RunnerComponent) Dependencies() []string {
	return []string{"StoreWorker", "Registry", "ModelRouter"}
}

func (r *RunnerComponent) Init(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	worker := r.storeComp.GetWorker()
	dispatcher := notify.NewDispatcher(notify.NewInboxNotifier(worker), r.buildOutbound()...)

	run, err := runner.NewRunner(
		r.registryComp.GetRegistry(),
		r.modelsComp.GetRouter(),
		r.registryComp.GetCategorizeClient(),
		dispatcher,
		worker,
		*r.runnerCfg,
	)
	if err != nil {
		return fmt.Errorf("failed to init runner: %w", err)
	}

	if err := run.Init(ctx); err != nil {
		return fmt.Errorf("failed to init runner: %w", err)
	}

	r.runner = run
	r.initialized = true
	slog.Info("Runner initialized", "component", r.Name())
	return nil
}

func (r *RunnerComponent) buildOutbound() []notify.Notifier {
	var outbound []notify.Notifier

	if r.notifyCfg == nil {
		return outbound
	}

	if r.notifyCfg.Slack.Enabled && r.notifyCfg.Slack.BotToken != "" {
		outbound = append(outbound, notify.NewSlackNotifier(r.notifyCfg.Slack.BotToken, r.notifyCfg.Slack.Channel))
		slog.Info("Slack notifier enabled", "channel", r.notifyCfg.Slack.Channel)
	}

	if r.notifyCfg.Telegram.Enabled && r.notifyCfg.Telegram.BotToken != "" {
		tg, err := notify.NewTelegramNotifier(r.notifyCfg.Telegram.BotToken, r.notifyCfg.Telegram.ChatID)
		if err != nil {
			slog.Warn("Telegram notifier disabled", "error", err)
		} else {
			outbound = append(outbound, tg)
			slog.Info("Telegram notifier enabled", "chat_id", r.notifyCfg.Telegram.ChatID)
		}
	}

	return outbound
}

func (r *RunnerComponent) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return fmt.Errorf("Runner not initialized")
	}

	if err := r.runner.Start(ctx); err != nil {
		return err
	}
	r.started = true
	slog.Info("Runner started", "component", r.Name())
	return nil
}

func (r *RunnerComponent) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		slog.Info("Runner not started, skipping stop", "component", r.Name())
		return nil
	}

	if err := r.runner.Stop(ctx); err != nil {
		return err
	}
	r.started = false
	slog.Info("Runner stopped", "component", r.Name())
	return nil
}

func (r *RunnerComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.initialized {
		return &daemon.ComponentHealth{Name: r.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}
	if err := r.runner.Health(ctx); err != nil {
		return &daemon.ComponentHealth{Name: r.Name(), Healthy: false, Error: err}, nil
	}

	return &daemon.ComponentHealth{Name: r.Name(), Healthy: true}, nil
}

func (r *RunnerComponent) GetRunner() *runner.Runner {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runner
}
