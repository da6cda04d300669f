package interfaces

import (
	"context"

	bots "rulebot/internal/domain/entity/bots"
)

// OrderRequest is a single order placement against the external exchange.
type OrderRequest struct {
	AccountID string
	Pair      string
	Side      bots.Action
	Size      float64
}

// OrderResult is the outcome of one order attempt. Transport failures are
// folded into a Failed status by implementations; they never surface as
// errors to the execution path.
type OrderResult struct {
	Status     bots.OrderStatus
	OrderID    string
	FailReason string
}

// Balances holds the tradable balances for one pair.
type Balances struct {
	Quote float64
	Base  float64
}

// Exchange is the external order API consumed by the execution engine.
type Exchange interface {
	PlaceOrder(ctx context.Context, req OrderRequest) OrderResult
	Balances(ctx context.Context, accountID, pair string) (Balances, error)
}
