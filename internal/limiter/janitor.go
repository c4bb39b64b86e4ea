package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// WindowRetention is how long rate limit rows are kept.
const WindowRetention = time.Hour

type JanitorStore interface {
	DeleteExpiredCooldowns(ctx context.Context, now time.Time) (int64, error)
	DeleteWindowsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteStaleOccurrences(ctx context.Context, now time.Time) (int64, error)
}

// Janitor prunes expired cooldowns, old rate windows and hot word
// occurrences that no longer affect any check.
type Janitor struct {
	store JanitorStore
	cron  *cron.Cron
	now   func() time.Time
}

// NewJanitor schedules cleanup with a standard cron spec or descriptor such
// as "@every 10m".
func NewJanitor(store JanitorStore, spec string) (*Janitor, error) {
	j := &Janitor{store: store, cron: cron.New(), now: utcNow}
	_, err := j.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := j.RunOnce(ctx); err != nil {
			log.Warn("cleanup failed: %v", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", spec, err)
	}
	return j, nil
}

func (j *Janitor) Start() {
	j.cron.Start()
	log.Info("Cleanup scheduled")
}

// Stop waits for a running cleanup to finish or ctx to expire.
func (j *Janitor) Stop(ctx context.Context) {
	done := j.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// RunOnce performs one cleanup pass.
func (j *Janitor) RunOnce(ctx context.Context) error {
	now := j.now()

	cooldowns, err := j.store.DeleteExpiredCooldowns(ctx, now)
	if err != nil {
		return err
	}
	windows, err := j.store.DeleteWindowsBefore(ctx, now.Add(-WindowRetention))
	if err != nil {
		return err
	}
	occurrences, err := j.store.DeleteStaleOccurrences(ctx, now)
	if err != nil {
		return err
	}
	if cooldowns+windows+occurrences > 0 {
		log.Info("Cleanup removed %d cooldowns, %d windows, %d occurrences", cooldowns, windows, occurrences)
	}
	return nil
}
