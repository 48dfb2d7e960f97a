package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"searchchat/internal/domain"
)

// RetentionJob periodically prunes checkpoint threads that have been idle
// longer than the TTL. Threads bound to a live session are kept.
type RetentionJob struct {
	store    domain.Checkpointer
	registry *SessionRegistry
	ttl      time.Duration
	logger   *slog.Logger
	bus      domain.EventBus
	now      func() time.Time

	cron    *cron.Cron
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewRetentionJob schedules pruning with a standard cron spec or a
// descriptor such as "@every 15m".
func NewRetentionJob(store domain.Checkpointer, registry *SessionRegistry, ttl time.Duration, schedule string, logger *slog.Logger, bus domain.EventBus) (*RetentionJob, error) {
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, fmt.Errorf("retention: invalid schedule %q: %w", schedule, err)
	}
	j := &RetentionJob{
		store:    store,
		registry: registry,
		ttl:      ttl,
		logger:   logger,
		bus:      bus,
		now:      time.Now,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	j.cron.Schedule(sched, cron.FuncJob(j.tick))
	return j, nil
}

func (j *RetentionJob) tick() {
	j.mu.Lock()
	ctx := j.ctx
	j.mu.Unlock()
	if ctx == nil {
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if _, err := j.RunOnce(runCtx); err != nil {
		j.logger.Warn("checkpoint prune failed", "error", err, "code", string(domain.ErrorCodeOf(err)))
	}
}

// RunOnce prunes threads idle since now-ttl and returns how many were removed.
func (j *RetentionJob) RunOnce(ctx context.Context) (int, error) {
	keep := func(string) bool { return false }
	if j.registry != nil {
		keep = j.registry.HasThread
	}

	n, err := j.store.Prune(ctx, j.now().Add(-j.ttl), keep)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		j.logger.Info("checkpoint threads pruned", "removed", n, "ttl", j.ttl)
		publishEvent(j.bus, ctx, domain.EventCheckpointPruned, "", map[string]int{"removed": n})
	}
	return n, nil
}

// Start begins running the schedule.
func (j *RetentionJob) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.started {
		return
	}
	j.ctx, j.cancel = context.WithCancel(ctx)
	j.cron.Start()
	j.started = true
}

// Stop halts the schedule and waits for a running prune to finish.
func (j *RetentionJob) Stop() {
	j.mu.Lock()
	if !j.started {
		j.mu.Unlock()
		return
	}
	j.started = false
	j.cancel()
	j.mu.Unlock()

	<-j.cron.Stop().Done()
}
