package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	bots "rulebot/internal/domain/entity/bots"
	marketdata "rulebot/internal/domain/entity/marketdata"
	interfaces "rulebot/internal/domain/interfaces"
)

const defaultOrderTimeout = 10 * time.Second

// Controller decides, claims and executes trades for live bots. One call to
// ProcessAction is one logical unit of work for a (bot, action, snapshot)
// triple; any number of them may run concurrently, including duplicates for
// the same triple. Correctness rests on the state store's compare-and-set.
type Controller struct {
	store        interfaces.StateStore
	trades       interfaces.TradeLogRepository
	exchange     interfaces.Exchange
	orderTimeout time.Duration
	logger       *logrus.Entry
}

// NewController wires a controller. A zero orderTimeout falls back to the
// default bound; order placement must never block a worker indefinitely.
func NewController(store interfaces.StateStore, trades interfaces.TradeLogRepository, exchange interfaces.Exchange, orderTimeout time.Duration, logger *logrus.Logger) *Controller {
	if orderTimeout <= 0 {
		orderTimeout = defaultOrderTimeout
	}
	return &Controller{
		store:        store,
		trades:       trades,
		exchange:     exchange,
		orderTimeout: orderTimeout,
		logger:       logger.WithField("component", "execution"),
	}
}

// ProcessAction runs the full per-action algorithm: read state, decide,
// claim, execute, record, reconcile. A lost claim race is a silent skip.
func (c *Controller) ProcessAction(ctx context.Context, bot *bots.Bot, action bots.Action, tick *marketdata.Tick) error {
	state, err := c.store.Get(ctx, bot.ID)
	if err != nil {
		return fmt.Errorf("read execution state: %w", err)
	}

	decision := DecideAction(&bot.Config, state, action, tick)
	if !decision.Fire {
		return nil
	}

	claimed, revert, err := c.claim(ctx, bot, state, action, tick)
	if err != nil {
		return fmt.Errorf("claim %s: %w", action, err)
	}
	if !claimed {
		// Another concurrent evaluation won the same trigger.
		c.logger.WithFields(logrus.Fields{"bot": bot.ID, "action": action}).
			Debug("claim lost, skipping")
		return nil
	}

	sizing := bot.Config.BuySizing
	if action == bots.ActionSell {
		sizing = bot.Config.SellSizing
	}
	result := c.executeOrder(ctx, bot, action, sizing, tick.Snapshot.Price)

	record := &bots.TradeRecord{
		ID:         uuid.New(),
		BotID:      bot.ID,
		Timestamp:  tick.Time,
		Action:     action,
		Price:      tick.Snapshot.Price,
		Trigger:    decision.Trigger,
		Sizing:     sizing,
		Status:     result.Status,
		OrderID:    result.OrderID,
		FailReason: result.FailReason,
		Snapshot:   tick.Snapshot,
	}
	if err := c.trades.Append(ctx, record); err != nil {
		c.logger.WithError(err).WithField("bot", bot.ID).Error("trade record append failed")
	}

	if result.Status == bots.OrderFilled {
		c.settleEntryPrice(ctx, bot.ID, state, action, tick.Snapshot.Price)
		return nil
	}

	// The order did not fill: release the claim so a future tick can retry.
	if revert != nil {
		if err := revert(ctx); err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{"bot": bot.ID, "action": action}).
				Warn("claim revert failed")
		}
	}
	return nil
}

// claim performs the mode-specific conditional state transition. It returns
// whether the claim was won and, when one was taken, a revert closure that
// undoes it after a non-filled order.
func (c *Controller) claim(ctx context.Context, bot *bots.Bot, state *bots.ExecutionState, action bots.Action, tick *marketdata.Tick) (bool, func(context.Context) error, error) {
	switch bot.Config.Mode {
	case bots.ModeOnceAndWait:
		prior := bots.EncodeAction(state.LastAction)
		next := bots.EncodeAction(&action)
		ok, err := c.store.CompareAndSet(ctx, bot.ID, bots.FieldLastAction, prior, next)
		if err != nil || !ok {
			return false, nil, err
		}
		revert := func(ctx context.Context) error {
			reverted, err := c.store.CompareAndSet(ctx, bot.ID, bots.FieldLastAction, next, prior)
			if err == nil && !reverted {
				return fmt.Errorf("last action changed underneath revert")
			}
			return err
		}
		return true, revert, nil

	case bots.ModeConditionCooldown:
		if bot.Config.CooldownMinutes <= 0 {
			// No cooldown configured means no claim step: duplicate
			// delivery protection is traded away here.
			return true, nil, nil
		}
		field := bots.CooldownField(action)
		prior := bots.EncodeTime(state.CooldownUntil(action))
		expiry := CooldownExpiry(&bot.Config, tick.Time)
		next := bots.EncodeTime(&expiry)
		ok, err := c.store.CompareAndSet(ctx, bot.ID, field, prior, next)
		if err != nil || !ok {
			return false, nil, err
		}
		revert := func(ctx context.Context) error {
			reverted, err := c.store.CompareAndSet(ctx, bot.ID, field, next, nil)
			if err == nil && !reverted {
				return fmt.Errorf("cooldown changed underneath revert")
			}
			return err
		}
		return true, revert, nil
	}
	return false, nil, fmt.Errorf("unknown execution mode %q", bot.Config.Mode)
}

// executeOrder sizes and places one order under a bounded timeout. Expected
// failures degrade to skipped/failed outcomes; nothing here returns an error.
func (c *Controller) executeOrder(ctx context.Context, bot *bots.Bot, action bots.Action, sizing *bots.Sizing, price float64) interfaces.OrderResult {
	orderCtx, cancel := context.WithTimeout(ctx, c.orderTimeout)
	defer cancel()

	size, err := OrderSize(orderCtx, c.exchange, bot.AccountID, action, sizing, bot.Config.Pair, price)
	if err != nil {
		return interfaces.OrderResult{Status: bots.OrderSkipped, FailReason: err.Error()}
	}
	return c.exchange.PlaceOrder(orderCtx, interfaces.OrderRequest{
		AccountID: bot.AccountID,
		Pair:      bot.Config.Pair,
		Side:      action,
		Size:      size,
	})
}

// settleEntryPrice records the entry price after a filled buy and clears it
// after a filled sell. The write is still conditional on the value observed
// at the start of this evaluation; losing that race is logged, not fatal.
func (c *Controller) settleEntryPrice(ctx context.Context, botID uuid.UUID, state *bots.ExecutionState, action bots.Action, price float64) {
	prior := bots.EncodeFloat(state.EntryPrice)
	var next *string
	if action == bots.ActionBuy {
		next = bots.EncodeFloat(&price)
	}
	ok, err := c.store.CompareAndSet(ctx, botID, bots.FieldEntryPrice, prior, next)
	if err != nil {
		c.logger.WithError(err).WithField("bot", botID).Warn("entry price update failed")
		return
	}
	if !ok {
		c.logger.WithField("bot", botID).Warn("entry price changed concurrently, leaving as is")
	}
}
