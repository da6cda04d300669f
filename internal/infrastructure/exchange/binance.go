package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2"
	"github.com/sirupsen/logrus"

	bots "rulebot/internal/domain/entity/bots"
	interfaces "rulebot/internal/domain/interfaces"
)

// quoteAssets are the quote currencies recognized when splitting a pair
// symbol like BTCUSDT into base and quote.
var quoteAssets = []string{"USDT", "USDC", "FDUSD", "BUSD", "BTC", "ETH", "EUR"}

// Binance places spot market orders and reads balances through the binance
// REST API. Expected failures (rejected orders, transport errors) are folded
// into order outcomes; they never surface as errors to the execution path.
type Binance struct {
	client *binance.Client
	logger *logrus.Entry
}

func NewBinance(apiKey, secretKey string, logger *logrus.Logger) *Binance {
	return &Binance{
		client: binance.NewClient(apiKey, secretKey),
		logger: logger.WithField("component", "exchange"),
	}
}

// PlaceOrder submits one market order. The caller bounds ctx; a timeout or
// any transport error yields a failed outcome.
func (b *Binance) PlaceOrder(ctx context.Context, req interfaces.OrderRequest) interfaces.OrderResult {
	side := binance.SideTypeBuy
	if req.Side == bots.ActionSell {
		side = binance.SideTypeSell
	}
	order, err := b.client.NewCreateOrderService().
		Symbol(req.Pair).
		Side(side).
		Type(binance.OrderTypeMarket).
		Quantity(formatQuantity(req.Size)).
		Do(ctx)
	if err != nil {
		b.logger.WithError(err).WithFields(logrus.Fields{
			"pair": req.Pair,
			"side": req.Side,
		}).Warn("order placement failed")
		return interfaces.OrderResult{Status: bots.OrderFailed, FailReason: err.Error()}
	}
	// Market orders can come back partially filled; the position has still
	// moved, so the trade counts as filled and stops track the new entry.
	if order.Status != binance.OrderStatusTypeFilled && order.Status != binance.OrderStatusTypePartiallyFilled {
		return interfaces.OrderResult{
			Status:     bots.OrderFailed,
			OrderID:    strconv.FormatInt(order.OrderID, 10),
			FailReason: fmt.Sprintf("order status %s", order.Status),
		}
	}
	return interfaces.OrderResult{
		Status:  bots.OrderFilled,
		OrderID: strconv.FormatInt(order.OrderID, 10),
	}
}

// Balances returns the free quote and base balances for a pair.
func (b *Binance) Balances(ctx context.Context, _ string, pair string) (interfaces.Balances, error) {
	base, quote, err := splitPair(pair)
	if err != nil {
		return interfaces.Balances{}, err
	}
	account, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return interfaces.Balances{}, fmt.Errorf("fetch account: %w", err)
	}
	var balances interfaces.Balances
	for _, balance := range account.Balances {
		free, err := strconv.ParseFloat(balance.Free, 64)
		if err != nil {
			continue
		}
		switch balance.Asset {
		case quote:
			balances.Quote = free
		case base:
			balances.Base = free
		}
	}
	return balances, nil
}

func splitPair(pair string) (base, quote string, err error) {
	for _, asset := range quoteAssets {
		if strings.HasSuffix(pair, asset) && len(pair) > len(asset) {
			return strings.TrimSuffix(pair, asset), asset, nil
		}
	}
	return "", "", fmt.Errorf("unrecognized pair symbol %q", pair)
}

func formatQuantity(size float64) string {
	return strconv.FormatFloat(size, 'f', 6, 64)
}
