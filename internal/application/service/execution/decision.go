package execution

import (
	"time"

	bots "rulebot/internal/domain/entity/bots"
	marketdata "rulebot/internal/domain/entity/marketdata"
	rules "rulebot/internal/domain/entity/rules"
)

// Decision is the outcome of evaluating one action against one tick.
type Decision struct {
	Fire    bool
	Trigger bots.TriggerKind
}

var noFire = Decision{}

// DecideAction is the single per-tick decision function shared by live
// execution and the backtest simulator. It covers every gate except the
// store-backed claim: mode admission, stop-loss/take-profit overrides,
// cooldown windows and rule query evaluation. It is pure; callers bind it
// to store-backed state with claims (live) or to a local struct (backtest).
func DecideAction(cfg *bots.ExecutionConfig, state *bots.ExecutionState, action bots.Action, tick *marketdata.Tick) Decision {
	switch cfg.Mode {
	case bots.ModeOnceAndWait:
		return decideOnceAndWait(cfg, state, action, tick)
	case bots.ModeConditionCooldown:
		return decideConditionCooldown(cfg, state, action, tick)
	}
	return noFire
}

// decideOnceAndWait admits an action iff the last fired action is unset or
// different. A fresh bot may fire either action; the lock only ever records
// the most recent fire.
func decideOnceAndWait(cfg *bots.ExecutionConfig, state *bots.ExecutionState, action bots.Action, tick *marketdata.Tick) Decision {
	if state.LastAction != nil && *state.LastAction == action {
		return noFire
	}
	if action == bots.ActionSell {
		// Stop-loss/take-profit wins over the sell query outright.
		if trigger, ok := CheckStops(state.EntryPrice, tick.Snapshot.Price, cfg.StopLoss, cfg.TakeProfit); ok {
			return Decision{Fire: true, Trigger: trigger}
		}
		if rules.Evaluate(cfg.SellQuery, &tick.Snapshot) {
			return Decision{Fire: true, Trigger: bots.TriggerRule}
		}
		return noFire
	}
	if rules.Evaluate(cfg.BuyQuery, &tick.Snapshot) {
		return Decision{Fire: true, Trigger: bots.TriggerRule}
	}
	return noFire
}

// decideConditionCooldown admits an action whenever its query matches,
// unless a configured cooldown window is still open. Stop-loss/take-profit
// on the sell side bypasses both the cooldown and the query.
func decideConditionCooldown(cfg *bots.ExecutionConfig, state *bots.ExecutionState, action bots.Action, tick *marketdata.Tick) Decision {
	if action == bots.ActionSell {
		if trigger, ok := CheckStops(state.EntryPrice, tick.Snapshot.Price, cfg.StopLoss, cfg.TakeProfit); ok {
			return Decision{Fire: true, Trigger: trigger}
		}
	}
	if cfg.CooldownMinutes > 0 {
		if until := state.CooldownUntil(action); until != nil && until.After(tick.Time) {
			return noFire
		}
	}
	query := cfg.BuyQuery
	if action == bots.ActionSell {
		query = cfg.SellQuery
	}
	if rules.Evaluate(query, &tick.Snapshot) {
		return Decision{Fire: true, Trigger: bots.TriggerRule}
	}
	return noFire
}

// CheckStops evaluates stop-loss and take-profit against the recorded entry
// price. Without an open position there is nothing to protect, so it never
// trips. Stop-loss is checked first and wins on the (degenerate) chance both
// thresholds match.
func CheckStops(entryPrice *float64, currentPrice float64, stopLoss, takeProfit *bots.Threshold) (bots.TriggerKind, bool) {
	if entryPrice == nil {
		return "", false
	}
	if stopLoss != nil && currentPrice <= *entryPrice*(1-stopLoss.Percentage/100) {
		return bots.TriggerStopLoss, true
	}
	if takeProfit != nil && currentPrice >= *entryPrice*(1+takeProfit.Percentage/100) {
		return bots.TriggerTakeProfit, true
	}
	return "", false
}

// CooldownExpiry computes the next cooldown timestamp for a fired action.
func CooldownExpiry(cfg *bots.ExecutionConfig, tickTime time.Time) time.Time {
	return tickTime.Add(time.Duration(cfg.CooldownMinutes) * time.Minute)
}
