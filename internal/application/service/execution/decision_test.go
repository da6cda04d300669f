package execution

import (
	"testing"
	"time"

	"rulebot/internal/domain/entity/bots"
	"rulebot/internal/domain/entity/marketdata"
	"rulebot/internal/domain/entity/rules"
)

func alwaysQuery() *rules.RuleGroup {
	return &rules.RuleGroup{
		Combinator: rules.CombinatorAnd,
		Children:   []rules.Node{rules.RuleNode("price", rules.OpGreater, "0")},
	}
}

func neverQuery() *rules.RuleGroup {
	return &rules.RuleGroup{
		Combinator: rules.CombinatorAnd,
		Children:   []rules.Node{rules.RuleNode("price", rules.OpLess, "0")},
	}
}

func tickAt(price float64, at time.Time) *marketdata.Tick {
	return &marketdata.Tick{
		Pair: "BTCUSDT",
		Time: at,
		Snapshot: marketdata.IndicatorSnapshot{
			Price:      price,
			MACDSignal: marketdata.MACDAboveSignal,
			BBPosition: marketdata.BBBetweenBands,
		},
	}
}

func TestDecideAction_OnceAndWaitLocksRepeatedAction(t *testing.T) {
	cfg := &bots.ExecutionConfig{
		Pair:      "BTCUSDT",
		Mode:      bots.ModeOnceAndWait,
		BuyQuery:  alwaysQuery(),
		SellQuery: alwaysQuery(),
	}
	now := time.Now().UTC()

	// A fresh bot may fire either side.
	fresh := &bots.ExecutionState{}
	if d := DecideAction(cfg, fresh, bots.ActionBuy, tickAt(45000, now)); !d.Fire {
		t.Error("fresh bot should admit a buy")
	}
	if d := DecideAction(cfg, fresh, bots.ActionSell, tickAt(45000, now)); !d.Fire {
		t.Error("fresh bot should admit a sell")
	}

	lastBuy := bots.ActionBuy
	locked := &bots.ExecutionState{LastAction: &lastBuy}
	if d := DecideAction(cfg, locked, bots.ActionBuy, tickAt(45000, now)); d.Fire {
		t.Error("repeated buy must be locked out")
	}
	if d := DecideAction(cfg, locked, bots.ActionSell, tickAt(45000, now)); !d.Fire {
		t.Error("counter action must be admitted")
	}
}

func TestDecideAction_StopLossOverridesSellQuery(t *testing.T) {
	entry := 40000.0
	lastBuy := bots.ActionBuy
	state := &bots.ExecutionState{LastAction: &lastBuy, EntryPrice: &entry}
	cfg := &bots.ExecutionConfig{
		Pair:      "BTCUSDT",
		Mode:      bots.ModeOnceAndWait,
		SellQuery: neverQuery(),
		StopLoss:  &bots.Threshold{Percentage: 10},
	}
	now := time.Now().UTC()

	// 10% below a 40000 entry is 36000; 35000 is past the stop.
	d := DecideAction(cfg, state, bots.ActionSell, tickAt(35000, now))
	if !d.Fire {
		t.Fatal("stop-loss should fire despite a non-matching sell query")
	}
	if d.Trigger != bots.TriggerStopLoss {
		t.Errorf("trigger = %q, want %q", d.Trigger, bots.TriggerStopLoss)
	}

	// At 36000 exactly the threshold is met (inclusive).
	if d := DecideAction(cfg, state, bots.ActionSell, tickAt(36000, now)); !d.Fire {
		t.Error("stop-loss threshold is inclusive")
	}

	// Above the threshold the stop stays quiet and the query decides.
	if d := DecideAction(cfg, state, bots.ActionSell, tickAt(39000, now)); d.Fire {
		t.Error("no stop and no query match must not fire")
	}
}

func TestDecideAction_TakeProfit(t *testing.T) {
	entry := 40000.0
	lastBuy := bots.ActionBuy
	state := &bots.ExecutionState{LastAction: &lastBuy, EntryPrice: &entry}
	cfg := &bots.ExecutionConfig{
		Pair:       "BTCUSDT",
		Mode:       bots.ModeOnceAndWait,
		SellQuery:  neverQuery(),
		TakeProfit: &bots.Threshold{Percentage: 5},
	}
	now := time.Now().UTC()

	d := DecideAction(cfg, state, bots.ActionSell, tickAt(42000, now))
	if !d.Fire || d.Trigger != bots.TriggerTakeProfit {
		t.Errorf("expected take-profit fire at +5%%, got %+v", d)
	}
	if d := DecideAction(cfg, state, bots.ActionSell, tickAt(41000, now)); d.Fire {
		t.Error("below the take-profit threshold nothing should fire")
	}
}

func TestDecideAction_StopsNeedOpenPosition(t *testing.T) {
	cfg := &bots.ExecutionConfig{
		Pair:      "BTCUSDT",
		Mode:      bots.ModeConditionCooldown,
		SellQuery: neverQuery(),
		StopLoss:  &bots.Threshold{Percentage: 1},
	}
	state := &bots.ExecutionState{} // no entry price
	if d := DecideAction(cfg, state, bots.ActionSell, tickAt(1, time.Now().UTC())); d.Fire {
		t.Error("stop-loss without an open position must not fire")
	}
}

func TestDecideAction_CooldownGatesRuleTriggers(t *testing.T) {
	now := time.Now().UTC()
	cfg := &bots.ExecutionConfig{
		Pair:            "BTCUSDT",
		Mode:            bots.ModeConditionCooldown,
		BuyQuery:        alwaysQuery(),
		CooldownMinutes: 30,
	}

	until := now.Add(10 * time.Minute)
	cooling := &bots.ExecutionState{BuyCooldownUntil: &until}
	if d := DecideAction(cfg, cooling, bots.ActionBuy, tickAt(45000, now)); d.Fire {
		t.Error("open cooldown window must suppress the buy")
	}

	// A tick at the exact expiry is admitted: the window is half-open.
	if d := DecideAction(cfg, cooling, bots.ActionBuy, tickAt(45000, until)); !d.Fire {
		t.Error("cooldown expiry tick should be admitted")
	}

	expired := now.Add(-time.Minute)
	warm := &bots.ExecutionState{BuyCooldownUntil: &expired}
	if d := DecideAction(cfg, warm, bots.ActionBuy, tickAt(45000, now)); !d.Fire {
		t.Error("expired cooldown must admit the buy")
	}
}

func TestDecideAction_StopLossBypassesCooldown(t *testing.T) {
	now := time.Now().UTC()
	entry := 40000.0
	until := now.Add(time.Hour)
	state := &bots.ExecutionState{EntryPrice: &entry, SellCooldownUntil: &until}
	cfg := &bots.ExecutionConfig{
		Pair:            "BTCUSDT",
		Mode:            bots.ModeConditionCooldown,
		SellQuery:       alwaysQuery(),
		StopLoss:        &bots.Threshold{Percentage: 10},
		CooldownMinutes: 60,
	}

	d := DecideAction(cfg, state, bots.ActionSell, tickAt(35000, now))
	if !d.Fire || d.Trigger != bots.TriggerStopLoss {
		t.Errorf("stop-loss must bypass the sell cooldown, got %+v", d)
	}

	// Rule triggers stay suppressed by the same cooldown.
	if d := DecideAction(cfg, state, bots.ActionSell, tickAt(41000, now)); d.Fire {
		t.Error("rule trigger must still respect the cooldown")
	}
}

func TestDecideAction_ZeroCooldownFiresEveryMatch(t *testing.T) {
	now := time.Now().UTC()
	cfg := &bots.ExecutionConfig{
		Pair:     "BTCUSDT",
		Mode:     bots.ModeConditionCooldown,
		BuyQuery: alwaysQuery(),
	}
	state := &bots.ExecutionState{}
	for i := 0; i < 3; i++ {
		if d := DecideAction(cfg, state, bots.ActionBuy, tickAt(45000, now.Add(time.Duration(i)*time.Second))); !d.Fire {
			t.Fatalf("tick %d: zero cooldown should admit every matching tick", i)
		}
	}
}

func TestCheckStops_StopLossWinsOverTakeProfit(t *testing.T) {
	entry := 100.0
	// Degenerate thresholds where both trip at once.
	stop := &bots.Threshold{Percentage: -10}  // trips at <= 110
	take := &bots.Threshold{Percentage: 5}    // trips at >= 105
	trigger, ok := CheckStops(&entry, 107, stop, take)
	if !ok || trigger != bots.TriggerStopLoss {
		t.Errorf("stop-loss must win when both thresholds match, got %q ok=%v", trigger, ok)
	}
}
