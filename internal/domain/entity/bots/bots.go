package bots

import (
	"time"

	"github.com/google/uuid"

	marketdata "rulebot/internal/domain/entity/marketdata"
	rules "rulebot/internal/domain/entity/rules"
)

// Action is one side of a trade.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// Actions lists both sides in evaluation order: buy is always tried first.
var Actions = [2]Action{ActionBuy, ActionSell}

// ExecutionMode selects the re-trigger policy for a bot.
type ExecutionMode string

const (
	// ModeOnceAndWait fires an action once and locks until the counter
	// action fires.
	ModeOnceAndWait ExecutionMode = "once_and_wait"
	// ModeConditionCooldown fires whenever conditions match, rate limited
	// by an optional per-action cooldown.
	ModeConditionCooldown ExecutionMode = "condition_cooldown"
)

// SizingType selects how an order size is derived.
type SizingType string

const (
	SizingFixed      SizingType = "fixed"
	SizingPercentage SizingType = "percentage"
)

// Sizing describes order sizing: a fixed notional value in quote currency,
// or a percentage of the relevant balance.
type Sizing struct {
	Type  SizingType `json:"type"`
	Value float64    `json:"value"`
}

// Threshold is a stop-loss or take-profit level relative to the entry price.
type Threshold struct {
	Percentage float64 `json:"percentage"`
}

// ExecutionConfig is the rule-driven trading configuration attached to a bot.
type ExecutionConfig struct {
	Pair            string           `json:"pair"`
	Mode            ExecutionMode    `json:"executionMode"`
	BuyQuery        *rules.RuleGroup `json:"buyQuery,omitempty"`
	SellQuery       *rules.RuleGroup `json:"sellQuery,omitempty"`
	BuySizing       *Sizing          `json:"buySizing,omitempty"`
	SellSizing      *Sizing          `json:"sellSizing,omitempty"`
	StopLoss        *Threshold       `json:"stopLoss,omitempty"`
	TakeProfit      *Threshold       `json:"takeProfit,omitempty"`
	CooldownMinutes int              `json:"cooldownMinutes,omitempty"`
}

// Bot is an active trading bot as supplied by the management plane.
type Bot struct {
	ID        uuid.UUID
	AccountID string
	Active    bool
	Config    ExecutionConfig
	CreatedAt time.Time
	UpdatedAt time.Time
}

// State field names as stored in the shared claim store. Each field is an
// independently compare-and-set unit.
const (
	FieldLastAction        = "last_action"
	FieldBuyCooldownUntil  = "buy_cooldown_until"
	FieldSellCooldownUntil = "sell_cooldown_until"
	FieldEntryPrice        = "entry_price"
)

// ExecutionState is the mutable per-bot execution state. A nil pointer field
// means the underlying store field is absent. EntryPrice is defined iff a
// position is conceptually open.
type ExecutionState struct {
	LastAction        *Action
	BuyCooldownUntil  *time.Time
	SellCooldownUntil *time.Time
	EntryPrice        *float64
}

// CooldownUntil returns the cooldown timestamp for an action, if set.
func (s *ExecutionState) CooldownUntil(action Action) *time.Time {
	if action == ActionBuy {
		return s.BuyCooldownUntil
	}
	return s.SellCooldownUntil
}

// CooldownField maps an action to its claim-store field name.
func CooldownField(action Action) string {
	if action == ActionBuy {
		return FieldBuyCooldownUntil
	}
	return FieldSellCooldownUntil
}

// TriggerKind records what caused a trade to fire.
type TriggerKind string

const (
	TriggerRule       TriggerKind = "rule"
	TriggerStopLoss   TriggerKind = "stop_loss"
	TriggerTakeProfit TriggerKind = "take_profit"
)

// OrderStatus is the closed outcome set of an order attempt. Expected
// failures (no balance, rejected order) are values here, never errors.
type OrderStatus string

const (
	OrderFilled  OrderStatus = "filled"
	OrderFailed  OrderStatus = "failed"
	OrderSkipped OrderStatus = "skipped"
)

// TradeRecord is the append-only log entry written once per fired trigger,
// regardless of the order outcome. Never mutated after creation.
type TradeRecord struct {
	ID         uuid.UUID
	BotID      uuid.UUID
	Timestamp  time.Time
	Action     Action
	Price      float64
	Trigger    TriggerKind
	Sizing     *Sizing
	Status     OrderStatus
	OrderID    string
	FailReason string
	Snapshot   marketdata.IndicatorSnapshot
}
