package feedsync

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	appLog "famschedule/internal/log"
)

// Scheduler runs SyncAll on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	syncer *Syncer
	spec   string
}

// NewScheduler creates a Scheduler using a standard five-field cron spec
// (descriptors such as "@every 10m" are accepted too).
func NewScheduler(syncer *Syncer, spec string) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		syncer: syncer,
		spec:   spec,
	}
}

// Start registers the sync job and starts the cron loop. Jobs run with
// ctx, so cancelling it aborts an in-flight sync.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() {
		if _, err := s.syncer.SyncAll(ctx); err != nil {
			appLog.Warn("scheduled feed sync had errors", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("scheduling feed sync %q: %w", s.spec, err)
	}

	s.cron.Start()
	appLog.Info("feed sync scheduler started", "spec", s.spec, "feeds", len(s.syncer.Feeds()))
	return nil
}

// Stop stops the scheduler and waits for a running sync to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	appLog.Info("feed sync scheduler stopped")
}
