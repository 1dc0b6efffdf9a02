package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dirsync/pkg/directories"
)

// blockingRunner holds each pass open until released.
type blockingRunner struct {
	started chan string
	release chan struct{}

	mu   sync.Mutex
	runs []string
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan string, 8), release: make(chan struct{})}
}

func (r *blockingRunner) RunSync(ctx context.Context, directoryID string) error {
	r.mu.Lock()
	r.runs = append(r.runs, directoryID)
	r.mu.Unlock()
	r.started <- directoryID
	<-r.release
	return nil
}

func newTestScheduler(runner Runner) (*Scheduler, *directories.MemoryProvider) {
	dirs := directories.NewMemoryProvider(zap.NewNop().Sugar())
	return New(dirs, runner, nil, time.Hour, time.Minute, zap.NewNop().Sugar()), dirs
}

func TestTriggerIsSingleFlightPerDirectory(t *testing.T) {
	runner := newBlockingRunner()
	s, _ := newTestScheduler(runner)
	ctx := context.Background()

	firstDone := make(chan error, 1)
	go func() { firstDone <- s.Trigger(ctx, "d1") }()
	<-runner.started

	// Same directory: rejected while the first pass is in flight.
	assert.ErrorIs(t, s.Trigger(ctx, "d1"), ErrAlreadyRunning)

	// Different directory: its slot is free.
	otherDone := make(chan error, 1)
	go func() { otherDone <- s.Trigger(ctx, "d2") }()
	<-runner.started

	close(runner.release)
	require.NoError(t, <-firstDone)
	require.NoError(t, <-otherDone)
}

func TestTriggerReleasesSlotAfterPass(t *testing.T) {
	calls := 0
	s, _ := newTestScheduler(runnerFunc(func(ctx context.Context, id string) error {
		calls++
		return nil
	}))
	ctx := context.Background()

	require.NoError(t, s.Trigger(ctx, "d1"))
	require.NoError(t, s.Trigger(ctx, "d1"))
	assert.Equal(t, 2, calls)
}

func TestTriggerSurfacesRunnerError(t *testing.T) {
	boom := errors.New("pass failed")
	s, _ := newTestScheduler(runnerFunc(func(ctx context.Context, id string) error { return boom }))
	assert.ErrorIs(t, s.Trigger(context.Background(), "d1"), boom)

	// The slot is free again after a failed pass.
	assert.ErrorIs(t, s.Trigger(context.Background(), "d1"), boom)
}

func TestSweepTriggersEveryEnabledDirectory(t *testing.T) {
	runner := newBlockingRunner()
	s, dirs := newTestScheduler(runner)
	dirs.Put(directories.Directory{ID: "d1", ProviderType: "okta"})
	dirs.Put(directories.Directory{ID: "d2", ProviderType: "okta"})
	dirs.Put(directories.Directory{ID: "d3", ProviderType: "okta", IsDisabled: true})

	s.sweep(context.Background())

	started := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-runner.started:
			started[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("sweep did not start all passes")
		}
	}
	close(runner.release)
	assert.True(t, started["d1"])
	assert.True(t, started["d2"])
	assert.False(t, started["d3"], "disabled directory is not swept")
}

type runnerFunc func(ctx context.Context, directoryID string) error

func (f runnerFunc) RunSync(ctx context.Context, directoryID string) error { return f(ctx, directoryID) }
