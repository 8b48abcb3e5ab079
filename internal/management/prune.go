package management

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// PruneConfig controls the stale-worker pruning sweep that realizes the
// "reserved for future TTL-based pruning" note on Heartbeat.
type PruneConfig struct {
	// Interval is how often the sweep runs. Defaults to 90s.
	Interval time.Duration
	// StaleAfter is how long a worker may go without a Heartbeat or
	// RegisterModel call before it is considered dead. Defaults to
	// 3x Interval.
	StaleAfter time.Duration
}

func (c PruneConfig) withDefaults() PruneConfig {
	if c.Interval <= 0 {
		c.Interval = 90 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 3 * c.Interval
	}
	return c
}

// Pruner wraps a gocron.Scheduler running a single singleton-mode job that
// evicts stale workers from the Registry — this is additive only: a Worker
// that heartbeats normally is never touched by it.
type Pruner struct {
	cron   gocron.Scheduler
	svc    *Service
	cfg    PruneConfig
	logger *zap.Logger
}

// NewPruner creates a Pruner. Call Start to begin the sweep.
func NewPruner(svc *Service, cfg PruneConfig, logger *zap.Logger) (*Pruner, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("management: create scheduler: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pruner{cron: cron, svc: svc, cfg: cfg.withDefaults(), logger: logger.Named("management.pruner")}, nil
}

// Start schedules the sweep job and starts the underlying gocron scheduler.
func (p *Pruner) Start() error {
	_, err := p.cron.NewJob(
		gocron.DurationJob(p.cfg.Interval),
		gocron.NewTask(p.sweep),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("management: schedule pruning job: %w", err)
	}

	p.logger.Info("stale-worker pruning sweep scheduled",
		zap.Duration("interval", p.cfg.Interval),
		zap.Duration("stale_after", p.cfg.StaleAfter),
	)
	p.cron.Start()
	return nil
}

// Stop gracefully shuts down the underlying scheduler, waiting for any
// in-flight sweep to finish.
func (p *Pruner) Stop() error {
	if err := p.cron.Shutdown(); err != nil {
		return fmt.Errorf("management: pruner shutdown: %w", err)
	}
	return nil
}

func (p *Pruner) sweep() {
	cutoff := time.Now().Add(-p.cfg.StaleAfter)
	stale := p.svc.staleWorkers(cutoff)

	for _, workerID := range stale {
		removed := p.svc.registry.UnregisterWorker(workerID)
		p.svc.forget(workerID)
		p.logger.Info("pruned stale worker",
			zap.String("worker_id", workerID),
			zap.Int("models_removed", removed),
		)
	}
}
