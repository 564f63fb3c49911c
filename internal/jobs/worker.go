package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/pbaille/journal/internal/logging"
)

// worker is one supervised consumer of the job table
type worker struct {
	r  *Runner
	id int
}

// Services returns one suture service per configured worker plus the
// stale-job reaper
func (r *Runner) Services() []suture.Service {
	svcs := make([]suture.Service, 0, r.cfg.Workers+1)
	for i := 0; i < r.cfg.Workers; i++ {
		svcs = append(svcs, &worker{r: r, id: i + 1})
	}
	return append(svcs, &reaper{r: r})
}

func (w *worker) Serve(ctx context.Context) error {
	log := logging.With().Int("worker", w.id).Logger()
	log.Info().Msg("analysis worker started")

	ticker := time.NewTicker(w.r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.r.Drain(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// let the supervisor restart us with its own backoff
			return fmt.Errorf("worker %d: %w", w.id, err)
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("analysis worker stopped")
			return ctx.Err()
		case <-w.r.wake:
		case <-ticker.C:
		}
	}
}

func (w *worker) String() string { return fmt.Sprintf("analysis-worker-%d", w.id) }

const minReapInterval = time.Second

// reaper periodically returns abandoned running jobs to the queue
type reaper struct {
	r *Runner
}

func (p *reaper) Serve(ctx context.Context) error {
	interval := max(p.r.cfg.StaleAfter/2, minReapInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := p.r.RecoverStale(ctx); err != nil && ctx.Err() == nil {
			logging.Warn().Err(err).Msg("stale job recovery failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *reaper) String() string { return "stale-job-reaper" }
