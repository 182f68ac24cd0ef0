package jobs

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
)

// DefaultSweepSchedule runs eviction every ten minutes
const DefaultSweepSchedule = "@every 10m"

// Janitor periodically evicts expired jobs from a Store
type Janitor struct {
	store  *Store
	cron   *cron.Cron
	logger arbor.ILogger
}

// NewJanitor creates a janitor for store
func NewJanitor(store *Store, logger arbor.ILogger) *Janitor {
	return &Janitor{
		store:  store,
		cron:   cron.New(),
		logger: logger,
	}
}

// Start schedules the sweep and stops it when ctx is done
func (j *Janitor) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}

	if _, err := j.cron.AddFunc(schedule, j.RunOnce); err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Info().
		Str("schedule", schedule).
		Msg("Job eviction janitor started")

	go func() {
		<-ctx.Done()
		j.Stop()
	}()
	return nil
}

// RunOnce sweeps expired jobs immediately
func (j *Janitor) RunOnce() {
	removed := j.store.Sweep(j.store.now())
	if removed > 0 {
		j.logger.Info().
			Int("removed", removed).
			Int("remaining", j.store.Len()).
			Msg("Evicted expired jobs")
	}
}

// Stop halts the schedule and waits for a running sweep to finish
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}
