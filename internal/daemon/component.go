// Package daemon orchestrates the long-running service: named components
// brought up in dependency order and torn down in reverse.
package daemon

import "context"

// HealthStatus is the daemon's overall lifecycle state.
type HealthStatus string

const (
	StatusStarting HealthStatus = "starting"
	StatusRunning  HealthStatus = "running"
	StatusStopping HealthStatus = "stopping"
	StatusStopped  HealthStatus = "stopped"
)

// ComponentHealth is one component's answer to a health probe.
type ComponentHealth struct {
	Name    string
	Healthy bool
	Error   error
}

// Component is implemented by every managed subsystem (store worker, model
// router, registry, runner, scheduler, HTTP server). Init runs before any
// dependency has started; Start and Stop run in dependency order and reverse
// order respectively.
type Component interface {
	Name() string
	Dependencies() []string
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) (*ComponentHealth, error)
}
