package interfaces

import (
	"context"
	"time"

	"github.com/google/uuid"

	backtest "rulebot/internal/domain/entity/backtest"
	bots "rulebot/internal/domain/entity/bots"
	marketdata "rulebot/internal/domain/entity/marketdata"
)

// TradeLogRepository persists the append-only trade log.
type TradeLogRepository interface {
	Append(ctx context.Context, record *bots.TradeRecord) error
	RecentForBot(ctx context.Context, botID uuid.UUID, limit int) ([]bots.TradeRecord, error)
}

// TickRepository stores historical indicator ticks for backtesting.
type TickRepository interface {
	AddTicks(ctx context.Context, ticks []marketdata.Tick) error
	GetRange(ctx context.Context, pair string, from, to time.Time) ([]marketdata.Tick, error)
	CountRange(ctx context.Context, pair string, from, to time.Time) (int64, error)
}

// BotRepository reads bot configurations maintained by the management plane.
type BotRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*bots.Bot, error)
	ListActive(ctx context.Context) ([]bots.Bot, error)
}

// BacktestRepository persists backtest runs and enforces the per-bot
// rolling retention of completed results.
type BacktestRepository interface {
	Create(ctx context.Context, run *backtest.Run) error
	Get(ctx context.Context, id uuid.UUID) (*backtest.Run, error)
	Update(ctx context.Context, run *backtest.Run) error
	CountInFlight(ctx context.Context, botID uuid.UUID) (int64, error)
	ListCompleted(ctx context.Context, botID uuid.UUID, limit int) ([]backtest.Run, error)
	TrimCompleted(ctx context.Context, botID uuid.UUID, keep int) error
}
