package execution

import (
	"context"
	"errors"
	"fmt"

	bots "rulebot/internal/domain/entity/bots"
	interfaces "rulebot/internal/domain/interfaces"
)

// DefaultNotional is the quote-currency value used to size trades when a bot
// carries no sizing configuration.
const DefaultNotional = 1000.0

var (
	ErrZeroSize      = errors.New("computed order size is zero or negative")
	ErrInvalidPrice  = errors.New("price must be positive")
	ErrUnknownSizing = errors.New("unknown sizing type")
	errBalanceLookup = errors.New("balance lookup failed")
)

// OrderSize computes the base-asset quantity for one order. Fixed sizing
// divides the configured notional by the price; percentage sizing fetches
// the account balances and takes the percentage of the quote balance (buy)
// or the base balance (sell). A nil sizing falls back to the default
// notional. Any failure here means the order is skipped, not errored: the
// caller converts a non-nil error into a skipped outcome and still records
// the trade.
func OrderSize(ctx context.Context, exchange interfaces.Exchange, accountID string, action bots.Action, sizing *bots.Sizing, pair string, price float64) (float64, error) {
	if price <= 0 {
		return 0, ErrInvalidPrice
	}
	if sizing == nil {
		sizing = &bots.Sizing{Type: bots.SizingFixed, Value: DefaultNotional}
	}
	var size float64
	switch sizing.Type {
	case bots.SizingFixed:
		size = sizing.Value / price
	case bots.SizingPercentage:
		balances, err := exchange.Balances(ctx, accountID, pair)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", errBalanceLookup, err)
		}
		if action == bots.ActionBuy {
			size = balances.Quote * sizing.Value / 100 / price
		} else {
			size = balances.Base * sizing.Value / 100
		}
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownSizing, sizing.Type)
	}
	if size <= 0 {
		return 0, ErrZeroSize
	}
	return size, nil
}
