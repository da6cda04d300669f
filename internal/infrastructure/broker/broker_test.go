package broker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"rulebot/internal/application/service/execution"
	"rulebot/internal/application/service/subscriptions"
	"rulebot/internal/config"
	bots "rulebot/internal/domain/entity/bots"
	marketdata "rulebot/internal/domain/entity/marketdata"
	rules "rulebot/internal/domain/entity/rules"
	interfaces "rulebot/internal/domain/interfaces"
	"rulebot/internal/infrastructure/statestore"
)

type recordingTickRepo struct {
	mu    sync.Mutex
	added int
}

func (r *recordingTickRepo) AddTicks(_ context.Context, ticks []marketdata.Tick) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added += len(ticks)
	return nil
}

func (r *recordingTickRepo) GetRange(_ context.Context, _ string, _, _ time.Time) ([]marketdata.Tick, error) {
	return nil, nil
}

func (r *recordingTickRepo) CountRange(_ context.Context, _ string, _, _ time.Time) (int64, error) {
	return 0, nil
}

func (r *recordingTickRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.added
}

type recordingTradeLog struct {
	mu      sync.Mutex
	records []bots.TradeRecord
}

func (r *recordingTradeLog) Append(_ context.Context, record *bots.TradeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, *record)
	return nil
}

func (r *recordingTradeLog) RecentForBot(_ context.Context, _ uuid.UUID, _ int) ([]bots.TradeRecord, error) {
	return nil, nil
}

func (r *recordingTradeLog) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

type filledExchange struct{}

func (filledExchange) PlaceOrder(_ context.Context, _ interfaces.OrderRequest) interfaces.OrderResult {
	return interfaces.OrderResult{Status: bots.OrderFilled, OrderID: "1"}
}

func (filledExchange) Balances(_ context.Context, _, _ string) (interfaces.Balances, error) {
	return interfaces.Balances{Quote: 10000, Base: 1}, nil
}

func subscribedBot() bots.Bot {
	return bots.Bot{
		ID:     uuid.New(),
		Active: true,
		Config: bots.ExecutionConfig{
			Pair: "BTCUSDT",
			Mode: bots.ModeOnceAndWait,
			BuyQuery: &rules.RuleGroup{
				Combinator: rules.CombinatorAnd,
				Children:   []rules.Node{rules.RuleNode("price", rules.OpGreater, "0")},
			},
		},
	}
}

// A zero worker limit must degrade to serial dispatch, never admit nothing.
func TestHandleSnapshot_ZeroConcurrencyStillDispatches(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	bot := subscribedBot()
	trades := &recordingTradeLog{}
	controller := execution.NewController(statestore.NewMemoryStore(), trades, filledExchange{}, time.Second, logger)

	registry := subscriptions.NewMemoryRegistry()
	registry.Upsert(subscriptions.Subscription{
		Bot:        bot,
		Action:     bots.ActionBuy,
		Descriptor: rules.CompileFilter(bot.Config.Pair, bot.Config.BuyQuery),
	})

	ticksRepo := &recordingTickRepo{}
	consumer := &Consumer{
		cfg:        config.RabbitMQConfig{MaxConcurrency: 0},
		controller: controller,
		registry:   registry,
		logger:     logger,
		batcher:    NewTickBatcher(BatchConfig{Size: 1}, ticksRepo, logger),
	}
	ctx := context.Background()
	consumer.batcher.Run(ctx)

	tick := marketdata.Tick{
		Pair:     "BTCUSDT",
		Time:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Snapshot: marketdata.IndicatorSnapshot{Price: 45000},
	}
	body, err := json.Marshal(SnapshotMessage{Tick: tick})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	if err := consumer.handleSnapshot(ctx, &amqp.Delivery{Body: body, RoutingKey: tick.Pair}); err != nil {
		t.Fatalf("handleSnapshot: %v", err)
	}

	if got := trades.count(); got != 1 {
		t.Errorf("trade records = %d, want 1", got)
	}
	if got := ticksRepo.count(); got != 1 {
		t.Errorf("persisted ticks = %d, want 1", got)
	}
}
