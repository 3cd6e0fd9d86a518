package ccxtadapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tommyca/spotengine/internal/core"
	"github.com/tommyca/spotengine/internal/engine/ordermanager"
	"github.com/tommyca/spotengine/internal/engine/types"
	apperrors "github.com/tommyca/spotengine/pkg/errors"
	"github.com/tommyca/spotengine/pkg/tradingutils"
)

// paperPriceDecimals is the simulated fill price precision; exchanges quote
// spot pairs to a fixed number of decimals and paper fills should look the
// same as a real fill would.
const paperPriceDecimals = 8

// TickerSource is the read-only market-data surface the paper broker fills
// against; in practice this is the same LiveAdapter used for real quotes, so
// paper trading sees genuine prices without ever reaching a live order book.
type TickerSource interface {
	GetTicker(ctx context.Context, symbol string) (types.Ticker, error)
}

// PaperConfig holds the simulated fill model.
type PaperConfig struct {
	FeeRateBps      decimal.Decimal
	SlippageBps     decimal.Decimal
	StartingCashUsd decimal.Decimal
	MinNotionalUsd  decimal.Decimal
}

// PaperAdapter simulates instant fills at the live ticker price plus a fixed
// slippage and fee model, with an independent in-memory balance sheet. It
// satisfies the same interfaces as LiveAdapter so the Order Manager (C9)
// never branches on mode beyond the broker map keyed by Live.
type PaperAdapter struct {
	cfg    PaperConfig
	source TickerSource
	logger core.ILogger

	mu       sync.Mutex
	cashUsd  decimal.Decimal
	balances map[string]decimal.Decimal
	orders   map[string]types.Order
	seq      int64
}

func NewPaperAdapter(cfg PaperConfig, source TickerSource, logger core.ILogger) *PaperAdapter {
	return &PaperAdapter{
		cfg:      cfg,
		source:   source,
		cashUsd:  cfg.StartingCashUsd,
		balances: make(map[string]decimal.Decimal),
		orders:   make(map[string]types.Order),
		logger:   logger.WithField("component", "paper_adapter"),
	}
}

func (p *PaperAdapter) GetTicker(ctx context.Context, symbol string) (types.Ticker, error) {
	return p.source.GetTicker(ctx, symbol)
}

func (p *PaperAdapter) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error) {
	if src, ok := p.source.(interface {
		GetCandles(context.Context, string, string, int) ([]types.Candle, error)
	}); ok {
		return src.GetCandles(ctx, symbol, interval, limit)
	}
	return nil, fmt.Errorf("ccxtadapter: paper adapter's ticker source has no candle feed")
}

func (p *PaperAdapter) GetBalances(ctx context.Context) ([]types.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.Balance, 0, len(p.balances)+1)
	out = append(out, types.Balance{Asset: "USD", Free: p.cashUsd})
	for asset, qty := range p.balances {
		out = append(out, types.Balance{Asset: asset, Free: qty})
	}
	return out, nil
}

func (p *PaperAdapter) ListOpenOrders(ctx context.Context, symbol string) ([]types.Order, error) {
	return nil, nil // every paper order fills immediately; nothing is ever left open
}

func (p *PaperAdapter) GetOrder(ctx context.Context, orderID string) (types.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return types.Order{}, fmt.Errorf("ccxtadapter: paper order %s: %w", orderID, apperrors.ErrOrderNotFound)
	}
	return o, nil
}

func (p *PaperAdapter) PlaceOrder(ctx context.Context, req ordermanager.BrokerOrderRequest) (types.Order, error) {
	ticker, err := p.source.GetTicker(ctx, req.Symbol)
	if err != nil {
		return types.Order{}, fmt.Errorf("ccxtadapter: paper fill: fetch ticker: %w", err)
	}

	fillPrice := ticker.Last
	slip := fillPrice.Mul(p.cfg.SlippageBps).Div(decimal.NewFromInt(10000))
	if req.Side == types.SideBuy {
		fillPrice = fillPrice.Add(slip)
	} else {
		fillPrice = fillPrice.Sub(slip)
	}
	fillPrice = tradingutils.RoundPrice(fillPrice, paperPriceDecimals)
	notional := req.Quantity.Mul(fillPrice)
	fees := notional.Mul(p.cfg.FeeRateBps).Div(decimal.NewFromInt(10000))

	p.mu.Lock()
	if req.Side == types.SideBuy {
		if p.cashUsd.LessThan(notional.Add(fees)) {
			p.mu.Unlock()
			return types.Order{}, fmt.Errorf("ccxtadapter: paper fill: %w", apperrors.ErrInsufficientFunds)
		}
		p.cashUsd = p.cashUsd.Sub(notional).Sub(fees)
		p.balances[req.Symbol] = p.balances[req.Symbol].Add(req.Quantity)
	} else {
		if p.balances[req.Symbol].LessThan(req.Quantity) {
			p.mu.Unlock()
			return types.Order{}, fmt.Errorf("ccxtadapter: paper fill: %w", apperrors.ErrInsufficientFunds)
		}
		p.balances[req.Symbol] = p.balances[req.Symbol].Sub(req.Quantity)
		p.cashUsd = p.cashUsd.Add(notional).Sub(fees)
	}
	p.seq++
	now := time.Now()
	order := types.Order{
		OrderID:        fmt.Sprintf("paper-%d", p.seq),
		ClientOrderID:  req.ClientOrderID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Type:           req.Type,
		RequestedQty:   req.Quantity,
		RequestedPrice: req.Price,
		FilledQty:      req.Quantity,
		AvgFillPrice:   fillPrice,
		FeesUsd:        fees,
		Status:         types.OrderStatusFilled,
		SubmittedAt:    now,
		UpdatedAt:      now,
	}
	if order.OrderID == "" {
		order.OrderID = uuid.NewString()
	}
	p.orders[order.OrderID] = order
	p.mu.Unlock()

	return order, nil
}

func (p *PaperAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return nil // paper orders are already terminal by the time a cancel could race them
}

func (p *PaperAdapter) MinNotionalUsd(symbol string) decimal.Decimal {
	return p.cfg.MinNotionalUsd
}
