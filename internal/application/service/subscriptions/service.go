package subscriptions

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	bots "rulebot/internal/domain/entity/bots"
	rules "rulebot/internal/domain/entity/rules"
)

// Reconciler keeps the routing registry in sync with each bot's current
// rule sets. Reconciliation is idempotent over three states per (bot,
// action): absent, present-correct, present-stale. There is no ordering
// or concurrency requirement beyond eventual convergence.
type Reconciler struct {
	registry Registry
	logger   *logrus.Entry
}

func NewReconciler(registry Registry, logger *logrus.Logger) *Reconciler {
	return &Reconciler{
		registry: registry,
		logger:   logger.WithField("component", "subscriptions"),
	}
}

// BotChanged reconciles both actions for a created or updated bot. An
// inactive bot is reconciled the same way as a deleted one.
func (r *Reconciler) BotChanged(bot *bots.Bot) {
	if !bot.Active {
		r.BotDeleted(bot.ID)
		return
	}
	for _, action := range bots.Actions {
		r.reconcileAction(bot, action)
	}
}

// BotDeleted removes whatever subscriptions the bot still holds.
func (r *Reconciler) BotDeleted(botID uuid.UUID) {
	for _, action := range bots.Actions {
		if _, ok := r.registry.Get(botID, action); ok {
			r.registry.Remove(botID, action)
			r.logger.WithFields(logrus.Fields{"bot": botID, "action": action}).
				Info("subscription removed")
		}
	}
}

func (r *Reconciler) reconcileAction(bot *bots.Bot, action bots.Action) {
	descriptor, needed := r.required(bot, action)
	existing, present := r.registry.Get(bot.ID, action)

	switch {
	case needed && !present:
		r.registry.Upsert(Subscription{Bot: *bot, Action: action, Descriptor: descriptor})
		r.logger.WithFields(logrus.Fields{"bot": bot.ID, "action": action, "pair": bot.Config.Pair}).
			Info("subscription created")
	case needed && present:
		if equalDescriptors(existing.Descriptor, descriptor) && existing.Bot.UpdatedAt.Equal(bot.UpdatedAt) {
			return
		}
		r.registry.Upsert(Subscription{Bot: *bot, Action: action, Descriptor: descriptor})
		r.logger.WithFields(logrus.Fields{"bot": bot.ID, "action": action}).
			Info("subscription updated")
	case !needed && present:
		r.registry.Remove(bot.ID, action)
		r.logger.WithFields(logrus.Fields{"bot": bot.ID, "action": action}).
			Info("subscription removed")
	}
}

// required decides whether an action needs snapshot delivery and compiles
// its pre-filter. A sell subscription is needed even without a sell query
// when stop-loss or take-profit is configured: those checks still need
// price ticks, and they must bypass any query filtering, so the descriptor
// is pair-only in that case.
func (r *Reconciler) required(bot *bots.Bot, action bots.Action) (rules.FilterDescriptor, bool) {
	cfg := &bot.Config
	if action == bots.ActionBuy {
		if cfg.BuyQuery == nil {
			return rules.FilterDescriptor{}, false
		}
		return rules.CompileFilter(cfg.Pair, cfg.BuyQuery), true
	}
	if cfg.StopLoss != nil || cfg.TakeProfit != nil {
		return rules.FilterDescriptor{Pair: cfg.Pair}, true
	}
	if cfg.SellQuery == nil {
		return rules.FilterDescriptor{}, false
	}
	return rules.CompileFilter(cfg.Pair, cfg.SellQuery), true
}
