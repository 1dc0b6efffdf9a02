// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dirsync/pkg/directories"
)

// ErrAlreadyRunning is returned when a trigger lands while a pass for
// the same directory is in flight.
var ErrAlreadyRunning = errors.New("sync already running for this directory")

// Runner is the orchestrator boundary: called with a directory id, not
// called again for the same id until the call returns.
type Runner interface {
	RunSync(ctx context.Context, directoryID string) error
}

// Scheduler triggers passes periodically and on demand, guaranteeing at
// most one in-flight pass per directory. The cross-process guarantee is
// a redis SetNX lock with a TTL bound; a process-local mutex map covers
// dev setups without redis (and double-triggering within one process).
type Scheduler struct {
	dirs     directories.Provider
	runner   Runner
	rdb      *redis.Client
	interval time.Duration
	lockTTL  time.Duration
	log      *zap.SugaredLogger

	mu       sync.Mutex
	inflight map[string]bool
}

func New(dirs directories.Provider, runner Runner, rdb *redis.Client, interval, lockTTL time.Duration, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		dirs:     dirs,
		runner:   runner,
		rdb:      rdb,
		interval: interval,
		lockTTL:  lockTTL,
		log:      log,
		inflight: map[string]bool{},
	}
}

// Start runs the periodic loop until ctx is cancelled. An immediate
// sweep runs at startup so a restarted service does not wait a full
// interval.
func (s *Scheduler) Start(ctx context.Context) {
	s.sweep(ctx)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	dirs, err := s.dirs.ListEnabled(ctx)
	if err != nil {
		s.log.Errorw("list directories", "err", err)
		return
	}
	for _, d := range dirs {
		d := d
		go func() {
			if err := s.Trigger(ctx, d.ID); err != nil && !errors.Is(err, ErrAlreadyRunning) {
				// Already recorded on the directory; log at debug for correlation.
				s.log.Debugw("scheduled sync failed", "directory", d.ID, "err", err)
			}
		}()
	}
}

// Trigger runs one pass synchronously, returning ErrAlreadyRunning when
// the directory's single-flight slot is taken.
func (s *Scheduler) Trigger(ctx context.Context, directoryID string) error {
	if !s.acquireLocal(directoryID) {
		return ErrAlreadyRunning
	}
	defer s.releaseLocal(directoryID)

	if s.rdb != nil {
		key := "dirsync:lock:" + directoryID
		ok, err := s.rdb.SetNX(ctx, key, 1, s.lockTTL).Result()
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyRunning
		}
		defer s.rdb.Del(context.WithoutCancel(ctx), key)
	}

	return s.runner.RunSync(ctx, directoryID)
}

func (s *Scheduler) acquireLocal(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[id] {
		return false
	}
	s.inflight[id] = true
	return true
}

func (s *Scheduler) releaseLocal(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)
}
