package ccxtadapter

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/tommyca/spotengine/internal/engine/ordermanager"
	"github.com/tommyca/spotengine/internal/engine/types"
)

// ErrExchangeUnavailable is returned by every UnavailableAdapter method.
var ErrExchangeUnavailable = errors.New("ccxtadapter: exchange adapter unavailable")

// UnavailableAdapter fails closed: no live or paper adapter is configured for
// a given mode, so every call is a transient error for the Retry Executor
// (C6) to classify and eventually trip on.
type UnavailableAdapter struct{}

func (UnavailableAdapter) GetTicker(context.Context, string) (types.Ticker, error) {
	return types.Ticker{}, ErrExchangeUnavailable
}

func (UnavailableAdapter) GetCandles(context.Context, string, string, int) ([]types.Candle, error) {
	return nil, ErrExchangeUnavailable
}

func (UnavailableAdapter) GetBalances(context.Context) ([]types.Balance, error) {
	return nil, ErrExchangeUnavailable
}

func (UnavailableAdapter) ListOpenOrders(context.Context, string) ([]types.Order, error) {
	return nil, ErrExchangeUnavailable
}

func (UnavailableAdapter) GetOrder(context.Context, string) (types.Order, error) {
	return types.Order{}, ErrExchangeUnavailable
}

func (UnavailableAdapter) PlaceOrder(context.Context, ordermanager.BrokerOrderRequest) (types.Order, error) {
	return types.Order{}, ErrExchangeUnavailable
}

func (UnavailableAdapter) CancelOrder(context.Context, string, string) error {
	return ErrExchangeUnavailable
}

func (UnavailableAdapter) MinNotionalUsd(string) decimal.Decimal {
	return decimal.Zero
}
