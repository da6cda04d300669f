package backtest

import (
	"errors"
	"math"
	"sort"
	"time"

	backtest "rulebot/internal/domain/entity/backtest"
	bots "rulebot/internal/domain/entity/bots"
	marketdata "rulebot/internal/domain/entity/marketdata"

	"rulebot/internal/application/service/execution"
)

// ErrNoTicks is the one hard failure of a simulation: without any historical
// ticks in the window no meaningful report can be produced.
var ErrNoTicks = errors.New("no historical ticks in window")

// simulationState mirrors the live execution state for the duration of one
// run. It is never persisted and dies with the run.
type simulationState struct {
	state      bots.ExecutionState
	trades     []bots.TradeRecord
	openBuys   []openBuy
	pairs      []matchedPair
	unrealised float64
	finalPrice float64
}

type openBuy struct {
	time     time.Time
	price    float64
	quantity float64
}

type matchedPair struct {
	pnl      float64
	buyTime  time.Time
	sellTime time.Time
}

// Simulate replays a bot configuration over a chronologically ordered tick
// series using the same per-tick decision function as live execution, with
// an in-memory state and no claims. Orders always fill at the tick price.
func Simulate(cfg *bots.ExecutionConfig, window backtest.Window, ticks []marketdata.Tick) (*backtest.Report, error) {
	if len(ticks) == 0 {
		return nil, ErrNoTicks
	}

	sizingMode := backtest.SizingDefault
	if cfg.BuySizing != nil || cfg.SellSizing != nil {
		sizingMode = backtest.SizingConfigured
	}

	sim := &simulationState{}
	buckets := map[time.Time]*backtest.HourlyBucket{}

	for i := range ticks {
		tick := &ticks[i]
		bucket := bucketFor(buckets, tick)
		sim.finalPrice = tick.Snapshot.Price

		// Buy is attempted first and at most one action fires per tick.
		fired := sim.step(cfg, bots.ActionBuy, tick, bucket)
		if !fired {
			sim.step(cfg, bots.ActionSell, tick, bucket)
		}
	}

	// Buys left unmatched at the end of the window count as unrealised
	// P&L against the final tick's price.
	for _, buy := range sim.openBuys {
		sim.unrealised += (sim.finalPrice - buy.price) * buy.quantity
	}

	return sim.report(window, sizingMode, buckets), nil
}

// step evaluates one action on one tick and applies its state transitions
// on a fire. Returns whether the action fired.
func (sim *simulationState) step(cfg *bots.ExecutionConfig, action bots.Action, tick *marketdata.Tick, bucket *backtest.HourlyBucket) bool {
	decision := execution.DecideAction(cfg, &sim.state, action, tick)
	if !decision.Fire {
		return false
	}

	price := tick.Snapshot.Price
	switch cfg.Mode {
	case bots.ModeOnceAndWait:
		fired := action
		sim.state.LastAction = &fired
	case bots.ModeConditionCooldown:
		if cfg.CooldownMinutes > 0 {
			expiry := execution.CooldownExpiry(cfg, tick.Time)
			if action == bots.ActionBuy {
				sim.state.BuyCooldownUntil = &expiry
			} else {
				sim.state.SellCooldownUntil = &expiry
			}
		}
	}

	sizing := cfg.BuySizing
	if action == bots.ActionSell {
		sizing = cfg.SellSizing
	}
	sim.trades = append(sim.trades, bots.TradeRecord{
		Timestamp: tick.Time,
		Action:    action,
		Price:     price,
		Trigger:   decision.Trigger,
		Sizing:    sizing,
		Status:    bots.OrderFilled,
		Snapshot:  tick.Snapshot,
	})

	bucket.TotalTrades++
	if action == bots.ActionBuy {
		bucket.TotalBuys++
		entry := price
		sim.state.EntryPrice = &entry
		sim.openBuys = append(sim.openBuys, openBuy{
			time:     tick.Time,
			price:    price,
			quantity: pairQuantity(cfg, price),
		})
	} else {
		bucket.TotalSells++
		sim.state.EntryPrice = nil
		sim.closeOldestBuy(tick.Time, price, bucket)
	}
	return true
}

// closeOldestBuy matches a sell against the oldest unmatched buy (FIFO) and
// attributes the realised P&L to the sell's hourly bucket.
func (sim *simulationState) closeOldestBuy(sellTime time.Time, sellPrice float64, bucket *backtest.HourlyBucket) {
	if len(sim.openBuys) == 0 {
		return
	}
	buy := sim.openBuys[0]
	sim.openBuys = sim.openBuys[1:]
	pnl := (sellPrice - buy.price) * buy.quantity
	bucket.RealisedPnl += pnl
	sim.pairs = append(sim.pairs, matchedPair{pnl: pnl, buyTime: buy.time, sellTime: sellTime})
}

// pairQuantity derives the base quantity opened per buy. Percentage sizing
// is applied against the default notional here: the simulator has no real
// balances to draw on.
func pairQuantity(cfg *bots.ExecutionConfig, buyPrice float64) float64 {
	sizing := cfg.BuySizing
	if sizing == nil {
		return execution.DefaultNotional / buyPrice
	}
	switch sizing.Type {
	case bots.SizingFixed:
		return sizing.Value / buyPrice
	case bots.SizingPercentage:
		return sizing.Value / 100 * execution.DefaultNotional / buyPrice
	}
	return execution.DefaultNotional / buyPrice
}

func bucketFor(buckets map[time.Time]*backtest.HourlyBucket, tick *marketdata.Tick) *backtest.HourlyBucket {
	hour := tick.Time.Truncate(time.Hour)
	bucket, ok := buckets[hour]
	if !ok {
		bucket = &backtest.HourlyBucket{HourStart: hour, OpenPrice: tick.Snapshot.Price}
		buckets[hour] = bucket
	}
	bucket.ClosePrice = tick.Snapshot.Price
	return bucket
}

func (sim *simulationState) report(window backtest.Window, sizingMode backtest.SizingMode, buckets map[time.Time]*backtest.HourlyBucket) *backtest.Report {
	summary := backtest.Summary{NetPnl: sim.unrealised}
	wins := 0
	var holdMinutes float64
	for _, pair := range sim.pairs {
		summary.NetPnl += pair.pnl
		if pair.pnl > 0 {
			wins++
			if pair.pnl > summary.LargestGain {
				summary.LargestGain = pair.pnl
			}
		} else if pair.pnl < summary.LargestLoss {
			summary.LargestLoss = pair.pnl
		}
		holdMinutes += pair.sellTime.Sub(pair.buyTime).Minutes()
	}
	if len(sim.pairs) > 0 {
		summary.WinRate = float64(wins) / float64(len(sim.pairs)) * 100
		summary.AvgHoldTimeMinutes = int(math.Round(holdMinutes / float64(len(sim.pairs))))
	}
	summary.TotalTrades = len(sim.trades)
	for _, trade := range sim.trades {
		if trade.Action == bots.ActionBuy {
			summary.TotalBuys++
		} else {
			summary.TotalSells++
		}
	}

	ordered := make([]backtest.HourlyBucket, 0, len(buckets))
	for _, bucket := range buckets {
		ordered = append(ordered, *bucket)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].HourStart.Before(ordered[j].HourStart)
	})

	return &backtest.Report{
		Window:        window,
		SizingMode:    sizingMode,
		Summary:       summary,
		HourlyBuckets: ordered,
	}
}
