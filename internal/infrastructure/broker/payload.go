package broker

import (
	"github.com/google/uuid"

	marketdata "rulebot/internal/domain/entity/marketdata"
)

// SnapshotMessage is the wire form of one indicator tick. The trading pair
// travels both in the body and as the AMQP routing key.
type SnapshotMessage struct {
	Tick marketdata.Tick `json:"tick"`
}

// Bot lifecycle event types emitted by the management plane.
const (
	EventBotCreated = "created"
	EventBotUpdated = "updated"
	EventBotDeleted = "deleted"
)

// LifecycleMessage notifies the engine of a bot create/update/delete so the
// subscription reconciler can converge the routing table.
type LifecycleMessage struct {
	Type  string    `json:"type"`
	BotID uuid.UUID `json:"botId"`
}
