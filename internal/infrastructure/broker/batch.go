package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	marketdata "rulebot/internal/domain/entity/marketdata"
	interfaces "rulebot/internal/domain/interfaces"
)

// BatchConfig controls batching thresholds for tick persistence.
type BatchConfig struct {
	Size    int
	Timeout time.Duration
}

// TickBatcher buffers incoming ticks and flushes them to the tick
// repository in batches, so every snapshot the engine sees is also
// available as backtest history.
type TickBatcher struct {
	cfg     BatchConfig
	repo    interfaces.TickRepository
	logger  *logrus.Entry
	mu      sync.Mutex
	items   []marketdata.Tick
	timer   *time.Timer
	ctx     context.Context
}

func NewTickBatcher(cfg BatchConfig, repo interfaces.TickRepository, logger *logrus.Logger) *TickBatcher {
	return &TickBatcher{
		cfg:    cfg,
		repo:   repo,
		logger: logger.WithField("component", "tick_batcher"),
	}
}

// Run sets the base context for asynchronous flush operations.
func (b *TickBatcher) Run(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	b.ctx = ctx
}

// Stop flushes the remaining buffer using the provided context.
func (b *TickBatcher) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	batch := b.takeBatch()
	if len(batch) == 0 {
		return nil
	}
	return b.repo.AddTicks(ctx, batch)
}

// Add appends a tick to the buffer, flushing when the batch fills.
func (b *TickBatcher) Add(tick *marketdata.Tick) error {
	if tick == nil {
		return errors.New("tick is nil")
	}
	b.mu.Lock()
	ctx := b.ctx
	if ctx == nil {
		b.mu.Unlock()
		return errors.New("tick batcher is not running")
	}
	if err := ctx.Err(); err != nil {
		b.mu.Unlock()
		return err
	}
	b.items = append(b.items, *tick)
	var batch []marketdata.Tick
	limit := b.cfg.Size
	if limit <= 0 {
		limit = 1
	}
	if len(b.items) >= limit {
		batch = b.takeBatchLocked()
	} else if b.timer == nil && b.cfg.Timeout > 0 {
		b.startTimerLocked()
	}
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return b.repo.AddTicks(ctx, batch)
}

func (b *TickBatcher) startTimerLocked() {
	timeout := b.cfg.Timeout
	if timeout <= 0 {
		return
	}
	b.timer = time.AfterFunc(timeout, func() {
		batch := b.takeBatch()
		if len(batch) == 0 {
			return
		}
		b.mu.Lock()
		ctx := b.ctx
		b.mu.Unlock()
		if ctx == nil {
			ctx = context.Background()
		}
		if err := b.repo.AddTicks(ctx, batch); err != nil {
			b.logger.WithError(err).Warn("tick batch flush failed")
		}
	})
}

func (b *TickBatcher) takeBatch() []marketdata.Tick {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.takeBatchLocked()
}

func (b *TickBatcher) takeBatchLocked() []marketdata.Tick {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.items) == 0 {
		return nil
	}
	batch := make([]marketdata.Tick, len(b.items))
	copy(batch, b.items)
	b.items = b.items[:0]
	return batch
}
