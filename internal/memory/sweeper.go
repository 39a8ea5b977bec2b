package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/agentkit/pkg/icron"
	"github.com/MimeLyc/agentkit/pkg/log"
)

// Pruner deletes memories older than a maximum age.
type Pruner interface {
	Prune(ctx context.Context, maxAge time.Duration) (int, error)
}

// Sweeper runs retention on a cron schedule. A sweep that fires while the
// previous one is still running joins it instead of starting another.
type Sweeper struct {
	pruner   Pruner
	schedule *icron.Schedule
	maxAge   time.Duration
	cron     *cron.Cron
	group    singleflight.Group
}

func NewSweeper(pruner Pruner, cronExpr string, maxAge time.Duration, c *cron.Cron) (*Sweeper, error) {
	schedule, err := icron.Parse(cronExpr)
	if err != nil {
		return nil, err
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("memory max age must be positive, got %s", maxAge)
	}
	return &Sweeper{
		pruner:   pruner,
		schedule: schedule,
		maxAge:   maxAge,
		cron:     c,
	}, nil
}

// Schedule registers the sweep with the cron runner. The caller starts and
// stops the runner.
func (s *Sweeper) Schedule(ctx context.Context) error {
	if s.cron == nil {
		return fmt.Errorf("schedule memory retention: no cron runner")
	}
	log.Info("Scheduling memory retention %q (max age %s)", s.schedule, s.maxAge)

	s.cron.Schedule(s.schedule, cron.FuncJob(func() {
		if _, err := s.Sweep(ctx); err != nil {
			log.Error("Memory retention failed: %v", err)
		}
	}))

	info := s.schedule.Describe(time.Now())
	log.Info("Next memory retention in %s", info.TimeUntilNext.Round(time.Second))
	return nil
}

// Sweep prunes once and reports how many memories were deleted.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	v, err, shared := s.group.Do("sweep", func() (any, error) {
		return s.pruner.Prune(ctx, s.maxAge)
	})
	if err != nil {
		return 0, err
	}
	deleted := v.(int)
	if !shared {
		log.Info("Memory retention deleted %d memories older than %s", deleted, s.maxAge)
	}
	return deleted, nil
}
