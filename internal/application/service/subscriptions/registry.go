package subscriptions

import (
	"reflect"
	"sync"

	"github.com/google/uuid"

	bots "rulebot/internal/domain/entity/bots"
	rules "rulebot/internal/domain/entity/rules"
)

// Subscription is one routing entry: deliver snapshots for a pair to one
// (bot, action), pre-filtered by the compiled descriptor.
type Subscription struct {
	Bot        bots.Bot
	Action     bots.Action
	Descriptor rules.FilterDescriptor
}

// Registry is the routing table consulted by the broker on every delivery
// and reconciled by the SubscriptionReconciler on bot lifecycle changes.
type Registry interface {
	Get(botID uuid.UUID, action bots.Action) (Subscription, bool)
	Upsert(sub Subscription)
	Remove(botID uuid.UUID, action bots.Action)
	ForPair(pair string) []Subscription
	Pairs() []string
}

type registryKey struct {
	botID  uuid.UUID
	action bots.Action
}

// MemoryRegistry is the in-process registry used by the engine worker.
type MemoryRegistry struct {
	mu      sync.RWMutex
	entries map[registryKey]Subscription
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{entries: make(map[registryKey]Subscription)}
}

func (r *MemoryRegistry) Get(botID uuid.UUID, action bots.Action) (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.entries[registryKey{botID: botID, action: action}]
	return sub, ok
}

func (r *MemoryRegistry) Upsert(sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[registryKey{botID: sub.Bot.ID, action: sub.Action}] = sub
}

func (r *MemoryRegistry) Remove(botID uuid.UUID, action bots.Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, registryKey{botID: botID, action: action})
}

// ForPair snapshots the subscriptions routed to one pair.
func (r *MemoryRegistry) ForPair(pair string) []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var subs []Subscription
	for _, sub := range r.entries {
		if sub.Bot.Config.Pair == pair {
			subs = append(subs, sub)
		}
	}
	return subs
}

// Pairs lists the distinct pairs with at least one subscription; the broker
// binds its queue to these routing keys.
func (r *MemoryRegistry) Pairs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	var pairs []string
	for _, sub := range r.entries {
		if _, ok := seen[sub.Bot.Config.Pair]; ok {
			continue
		}
		seen[sub.Bot.Config.Pair] = struct{}{}
		pairs = append(pairs, sub.Bot.Config.Pair)
	}
	return pairs
}

// equalDescriptors compares compiled descriptors for staleness checks.
func equalDescriptors(a, b rules.FilterDescriptor) bool {
	return reflect.DeepEqual(a, b)
}
