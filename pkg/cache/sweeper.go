package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/pario-ai/querygate/pkg/logging"
)

// Sweeper periodically removes expired entries from a Store.
type Sweeper struct {
	store   Store
	cron    *cron.Cron
	logger  *zap.Logger
	timeout time.Duration
}

// NewSweeper schedules Clear(ctx, true) on store. schedule accepts standard
// cron expressions and descriptors such as "@every 10m".
func NewSweeper(store Store, schedule string, logger *zap.Logger) (*Sweeper, error) {
	s := &Sweeper{
		store:   store,
		cron:    cron.New(),
		logger:  logging.OrNop(logger).Named("cache.sweeper"),
		timeout: time.Minute,
	}
	if _, err := s.cron.AddFunc(schedule, s.Sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Sweep removes expired entries once.
func (s *Sweeper) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.store.Clear(ctx, true); err != nil {
		s.logger.Warn("cache sweep failed", zap.Error(err))
		return
	}
	s.logger.Debug("cache swept")
}

// Start begins the schedule.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish or ctx to end.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
