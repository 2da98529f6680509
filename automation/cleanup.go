package automation

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetentionPruner periodically deletes run records older than the retention
// period. Runs are the durable record of what automation did, but they only
// need to live as long as the operators who read them.
type RetentionPruner struct {
	runs      *RunStore
	retention time.Duration
	interval  time.Duration
	logger    *zap.SugaredLogger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRetentionPruner creates a pruner. Retention <= 0 keeps runs forever
// (Start becomes a no-op).
func NewRetentionPruner(runs *RunStore, retention, interval time.Duration, logger *zap.SugaredLogger) *RetentionPruner {
	return &RetentionPruner{
		runs:      runs,
		retention: retention,
		interval:  interval,
		logger:    logger,
	}
}

// Start launches the pruning loop.
func (p *RetentionPruner) Start() {
	if p.retention <= 0 || p.interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.PruneOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// PruneOnce deletes expired runs immediately.
func (p *RetentionPruner) PruneOnce(ctx context.Context) {
	cutoff := time.Now().Add(-p.retention)
	deleted, err := p.runs.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		if p.logger != nil {
			p.logger.Errorw("Run retention pruning failed", "error", err)
		}
		return
	}
	if deleted > 0 && p.logger != nil {
		p.logger.Infow("Pruned automation runs",
			"deleted", deleted,
			"cutoff", cutoff,
		)
	}
}

// Stop halts the pruning loop and waits for it to exit.
func (p *RetentionPruner) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}
