package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SlotPruner is the part of appointment.Service the pruner needs.
type SlotPruner interface {
	PrunePastSlots(ctx context.Context, now time.Time) (int, error)
	Flush(ctx context.Context) error
}

// Pruner periodically withdraws slots whose start time has passed so they
// are no longer offered.
type Pruner struct {
	svc      SlotPruner
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewPruner(svc SlotPruner, interval time.Duration, logger *zap.Logger) *Pruner {
	return &Pruner{
		svc:      svc,
		interval: interval,
		logger:   logger.Named("pruner"),
		now:      time.Now,
	}
}

// Run prunes once immediately and then every interval until ctx ends.
func (p *Pruner) Run(ctx context.Context) {
	p.logger.Info("slot pruner started", zap.Duration("interval", p.interval))

	p.RunOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("shutdown signal received, stopping slot pruner")
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single prune pass and reports how many slots went.
func (p *Pruner) RunOnce(ctx context.Context) int {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	// a previous failed save would otherwise wait for the next mutation
	if err := p.svc.Flush(runCtx); err != nil {
		p.logger.Error("flush failed", zap.Error(err))
	}

	start := time.Now()
	removed, err := p.svc.PrunePastSlots(runCtx, p.now())
	if err != nil {
		p.logger.Error("prune run failed", zap.Error(err))
		return removed
	}
	p.logger.Info("prune run complete", zap.Int("removed", removed), zap.Duration("took", time.Since(start)))
	return removed
}
