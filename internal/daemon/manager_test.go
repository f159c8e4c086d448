package daemon

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taployalty/tapagent/internal/config"
)

type fakeComponent struct {
	name    string
	deps    []string
	inits   int
	starts  int
	stops   int
	initErr error
}

func (f *fakeComponent) Name() string           { return f.name }
func (f *fakeComponent) Dependencies() []string { return f.deps }

func (f *fakeComponent) Init(ctx context.Context) error {
	f.inits++
	return f.initErr
}

func (f *fakeComponent) Start(ctx context.Context) error {
	f.starts++
	return nil
}

func (f *fakeComponent) Stop(ctx context.Context) error {
	f.stops++
	return nil
}

func (f *fakeComponent) Health(ctx context.Context) (*ComponentHealth, error) {
	return &ComponentHealth{Name: f.name, Healthy: true}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.Port = 18080
	cfg.Daemon.DataPath = t.TempDir()
	return cfg
}

func TestNewDaemon_RequiresConfig(t *testing.T) {
	_, err := NewDaemon(nil)
	assert.Error(t, err)
}

func TestResolveInitOrder_Dependencies(t *testing.T) {
	d, err := NewDaemon(testConfig(t))
	require.NoError(t, err)

	d.AddComponent(&fakeComponent{name: "HTTPServer", deps: []string{"Registry"}})
	d.AddComponent(&fakeComponent{name: "Registry", deps: []string{"StoreWorker"}})
	d.AddComponent(&fakeComponent{name: "StoreWorker"})

	order, err := d.resolveInitOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"StoreWorker", "Registry", "HTTPServer"}, order)
}

func TestResolveInitOrder_CircularDependency(t *testing.T) {
	d, err := NewDaemon(testConfig(t))
	require.NoError(t, err)

	d.AddComponent(&fakeComponent{name: "A", deps: []string{"B"}})
	d.AddComponent(&fakeComponent{name: "B", deps: []string{"A"}})

	_, err = d.resolveInitOrder()
	assert.ErrorContains(t, err, "circular dependency")
}

func TestValidateDependencies_MissingDependency(t *testing.T) {
	d, err := NewDaemon(testConfig(t))
	require.NoError(t, err)

	d.AddComponent(&fakeComponent{name: "A", deps: []string{"Missing"}})

	assert.ErrorContains(t, d.validateDependencies(), "not registered")
}

func TestDaemon_StartAndShutdown(t *testing.T) {
	d, err := NewDaemon(testConfig(t))
	require.NoError(t, err)

	store := &fakeComponent{name: "StoreWorker"}
	reg := &fakeComponent{name: "Registry", deps: []string{"StoreWorker"}}
	d.AddComponent(store)
	d.AddComponent(reg)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	require.Eventually(t, func() bool {
		return d.Health() == StatusRunning
	}, 5*time.Second, 10*time.Millisecond, "daemon reaches running state")

	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down")
	}

	assert.Equal(t, StatusStopped, d.Health())
	assert.Equal(t, 1, store.inits)
	assert.Equal(t, 1, store.starts)
	assert.Equal(t, 1, store.stops)
	assert.Equal(t, 1, reg.stops)
}

func TestDaemon_InitFailureRollsBack(t *testing.T) {
	d, err := NewDaemon(testConfig(t))
	require.NoError(t, err)

	store := &fakeComponent{name: "StoreWorker"}
	bad := &fakeComponent{name: "Registry", deps: []string{"StoreWorker"}, initErr: fmt.Errorf("boom")}
	d.AddComponent(store)
	d.AddComponent(bad)

	err = d.Start(context.Background())
	assert.ErrorContains(t, err, "initialization failed")
	assert.Equal(t, StatusStopped, d.Health())
	assert.Equal(t, 1, store.stops, "initialized components are rolled back")
}
