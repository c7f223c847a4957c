package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/channel-router/internal/metrics"
	"github.com/openclaw/channel-router/internal/model"
)

const cleanupTimeout = 30 * time.Second

// PairingMaintenance is the slice of the pairing store the job needs.
type PairingMaintenance interface {
	SweepExpired(ctx context.Context) (int64, error)
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob expires overdue pairing codes and purges expired or canceled
// rows once they are older than the retention period. Linked rows are kept.
type CleanupJob struct {
	pairings  PairingMaintenance
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func NewCleanupJob(pairings PairingMaintenance, retention, interval time.Duration) *CleanupJob {
	return &CleanupJob{
		pairings:  pairings,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	j.wg.Add(1)
	go j.run()
	log.Info().
		Dur("interval", j.interval).
		Dur("retention", j.retention).
		Msg("cleanup job started")
}

// Stop signals the job and waits for an in-flight pass to finish.
func (j *CleanupJob) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
		j.wg.Wait()
		log.Info().Msg("cleanup job stopped")
	})
}

func (j *CleanupJob) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if n := j.runCleanup(ctx, "expired pairing codes", j.pairings.SweepExpired); n > 0 {
		metrics.PairingTransitionsTotal.WithLabelValues(string(model.PairingStatusExpired)).Add(float64(n))
	}

	cutoff := j.now().Add(-j.retention)
	j.runCleanup(ctx, "terminal pairing codes", func(ctx context.Context) (int64, error) {
		return j.pairings.DeleteTerminalBefore(ctx, cutoff)
	})
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) int64 {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
		return 0
	}
	if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
	return count
}
