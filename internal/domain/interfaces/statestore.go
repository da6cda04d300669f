package interfaces

import (
	"context"

	"github.com/google/uuid"

	bots "rulebot/internal/domain/entity/bots"
)

// StateStore is the shared per-bot execution state, accessed only through
// reads and field-level compare-and-set. There is deliberately no plain
// write path: every transition races against concurrent evaluations of the
// same bot and must carry its precondition.
type StateStore interface {
	// Get returns the bot's current execution state. A bot with no state
	// yet yields a zero-valued state, not an error.
	Get(ctx context.Context, botID uuid.UUID) (*bots.ExecutionState, error)

	// CompareAndSet writes next to the named field iff the field's current
	// value still equals expected. A nil expected means the field must be
	// absent; a nil next deletes the field. The first return reports
	// whether the precondition held; a false is a routine concurrency
	// rejection, not an error.
	CompareAndSet(ctx context.Context, botID uuid.UUID, field string, expected, next *string) (bool, error)
}
