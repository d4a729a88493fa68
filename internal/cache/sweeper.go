package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically removes expired entries from a Store on a cron schedule.
// Stores already hide expired entries from Get; sweeping only reclaims space.
type Sweeper struct {
	store    Store
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewSweeper creates a Sweeper. schedule accepts standard cron syntax and
// descriptors such as "@every 5m".
func NewSweeper(store Store, schedule string, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger.With("component", "cache_sweeper"),
	}
}

// Start schedules the sweep job and starts the cron runner.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, s.run); err != nil {
		return fmt.Errorf("schedule cache sweep %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("cache sweeper started", "schedule", s.schedule)
	return nil
}

// Stop stops the cron runner and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("cache sweeper stopped")
}

// RunOnce performs a single sweep immediately.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	return s.store.Sweep(ctx, time.Now())
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	removed, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error("cache sweep failed", "err", err)
		return
	}
	s.logger.Debug("cache sweep completed", "removed", removed)
}
