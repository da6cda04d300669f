package subscriptions

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"rulebot/internal/domain/entity/bots"
	"rulebot/internal/domain/entity/rules"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func activeBot() *bots.Bot {
	return &bots.Bot{
		ID:        uuid.New(),
		AccountID: "acct-1",
		Active:    true,
		UpdatedAt: time.Now().UTC(),
		Config: bots.ExecutionConfig{
			Pair: "BTCUSDT",
			Mode: bots.ModeOnceAndWait,
			BuyQuery: &rules.RuleGroup{
				Combinator: rules.CombinatorAnd,
				Children:   []rules.Node{rules.RuleNode("rsi_14", rules.OpLess, "30")},
			},
			SellQuery: &rules.RuleGroup{
				Combinator: rules.CombinatorAnd,
				Children:   []rules.Node{rules.RuleNode("rsi_14", rules.OpGreater, "70")},
			},
		},
	}
}

func TestBotChanged_CreatesBothSubscriptions(t *testing.T) {
	registry := NewMemoryRegistry()
	reconciler := NewReconciler(registry, quietLogger())

	bot := activeBot()
	reconciler.BotChanged(bot)

	for _, action := range bots.Actions {
		sub, ok := registry.Get(bot.ID, action)
		if !ok {
			t.Fatalf("missing %s subscription", action)
		}
		if sub.Descriptor.Pair != "BTCUSDT" {
			t.Errorf("%s descriptor pair = %q", action, sub.Descriptor.Pair)
		}
		if len(sub.Descriptor.Clauses) != 1 {
			t.Errorf("%s descriptor should carry the compiled clause, got %+v", action, sub.Descriptor)
		}
	}
	if pairs := registry.Pairs(); len(pairs) != 1 || pairs[0] != "BTCUSDT" {
		t.Errorf("pairs = %v", pairs)
	}
}

func TestBotChanged_RemovesDroppedQuery(t *testing.T) {
	registry := NewMemoryRegistry()
	reconciler := NewReconciler(registry, quietLogger())

	bot := activeBot()
	reconciler.BotChanged(bot)

	bot.Config.SellQuery = nil
	bot.UpdatedAt = bot.UpdatedAt.Add(time.Second)
	reconciler.BotChanged(bot)

	if _, ok := registry.Get(bot.ID, bots.ActionSell); ok {
		t.Error("sell subscription should be removed when the query is dropped")
	}
	if _, ok := registry.Get(bot.ID, bots.ActionBuy); !ok {
		t.Error("buy subscription should survive")
	}
}

func TestBotChanged_StopLossKeepsSellSubscription(t *testing.T) {
	registry := NewMemoryRegistry()
	reconciler := NewReconciler(registry, quietLogger())

	bot := activeBot()
	bot.Config.SellQuery = nil
	bot.Config.StopLoss = &bots.Threshold{Percentage: 10}
	reconciler.BotChanged(bot)

	sub, ok := registry.Get(bot.ID, bots.ActionSell)
	if !ok {
		t.Fatal("stop-loss without a sell query still needs price ticks")
	}
	// The descriptor must be pair-only so protective checks see every tick.
	if len(sub.Descriptor.Clauses) != 0 {
		t.Errorf("stop-loss descriptor must not filter, got %+v", sub.Descriptor)
	}
}

func TestBotChanged_UpdateRefreshesStaleDescriptor(t *testing.T) {
	registry := NewMemoryRegistry()
	reconciler := NewReconciler(registry, quietLogger())

	bot := activeBot()
	reconciler.BotChanged(bot)
	before, _ := registry.Get(bot.ID, bots.ActionBuy)

	bot.Config.BuyQuery = &rules.RuleGroup{
		Combinator: rules.CombinatorAnd,
		Children:   []rules.Node{rules.RuleNode("rsi_14", rules.OpLess, "25")},
	}
	bot.UpdatedAt = bot.UpdatedAt.Add(time.Second)
	reconciler.BotChanged(bot)

	after, ok := registry.Get(bot.ID, bots.ActionBuy)
	if !ok {
		t.Fatal("buy subscription disappeared on update")
	}
	if equalDescriptors(before.Descriptor, after.Descriptor) {
		t.Error("descriptor should have been recompiled for the new query")
	}
	if after.Descriptor.Clauses[0].Max == nil || *after.Descriptor.Clauses[0].Max != 25 {
		t.Errorf("updated clause wrong: %+v", after.Descriptor.Clauses[0])
	}
}

func TestBotChanged_InactiveBotIsRemoved(t *testing.T) {
	registry := NewMemoryRegistry()
	reconciler := NewReconciler(registry, quietLogger())

	bot := activeBot()
	reconciler.BotChanged(bot)

	bot.Active = false
	reconciler.BotChanged(bot)

	for _, action := range bots.Actions {
		if _, ok := registry.Get(bot.ID, action); ok {
			t.Errorf("%s subscription should be removed for an inactive bot", action)
		}
	}
	if pairs := registry.Pairs(); len(pairs) != 0 {
		t.Errorf("pairs should be empty, got %v", pairs)
	}
}

func TestBotDeleted_Idempotent(t *testing.T) {
	registry := NewMemoryRegistry()
	reconciler := NewReconciler(registry, quietLogger())

	bot := activeBot()
	reconciler.BotChanged(bot)
	reconciler.BotDeleted(bot.ID)
	reconciler.BotDeleted(bot.ID) // second delete is a no-op

	if subs := registry.ForPair("BTCUSDT"); len(subs) != 0 {
		t.Errorf("expected no subscriptions, got %d", len(subs))
	}
}
