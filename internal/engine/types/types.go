// Package types holds the plain data-model structs shared across the trading
// engine. Every monetary or quantity field uses decimal.Decimal; none of these
// types are ever serialized as protobuf.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type OrderType string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeLimit      OrderType = "limit"
	OrderTypeStop       OrderType = "stop"
	OrderTypeStopLimit  OrderType = "stop_limit"
)

type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusOpen     OrderStatus = "open"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusRejected OrderStatus = "rejected"
)

// IsTerminal reports whether the status can never advance further.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCanceled || s == OrderStatusRejected
}

// statusRank gives each status a position in the monotonic progression used to
// reject regressions in Order State (C3).
var statusRank = map[OrderStatus]int{
	OrderStatusPending:  0,
	OrderStatusOpen:     1,
	OrderStatusFilled:   2,
	OrderStatusCanceled: 2,
	OrderStatusRejected: 2,
}

// CanAdvanceTo reports whether a transition from s to next is monotonic.
func (s OrderStatus) CanAdvanceTo(next OrderStatus) bool {
	if s.IsTerminal() {
		return next == s
	}
	return statusRank[next] >= statusRank[s]
}

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Candle is an immutable OHLCV bar keyed by (symbol, interval, openTime).
type Candle struct {
	OpenTime time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
}

// Valid checks the candle invariant: low <= min(open,close) <= max(open,close) <= high, volume >= 0.
func (c Candle) Valid() bool {
	minOC := decimal.Min(c.Open, c.Close)
	maxOC := decimal.Max(c.Open, c.Close)
	return c.Low.LessThanOrEqual(minOC) && maxOC.LessThanOrEqual(c.High) && c.Volume.GreaterThanOrEqual(decimal.Zero)
}

// Ticker is ephemeral market state; never persisted.
type Ticker struct {
	Symbol     string
	Bid        decimal.Decimal
	Ask        decimal.Decimal
	Last       decimal.Decimal
	Volume24h  decimal.Decimal
	Time       time.Time
}

// Signal is the output of a strategy evaluation; never stored.
type Signal struct {
	Action     Action
	Confidence float64
	Reason     string
}

// Order is the core's representation of a broker order.
type Order struct {
	OrderID         string
	ClientOrderID   string
	Symbol          string
	Side            Side
	Type            OrderType
	RequestedQty    decimal.Decimal
	RequestedPrice  decimal.Decimal
	StopPrice       decimal.Decimal
	FilledQty       decimal.Decimal
	AvgFillPrice    decimal.Decimal
	FeesUsd         decimal.Decimal
	Status          OrderStatus
	SubmittedAt     time.Time
	UpdatedAt       time.Time
}

// SlippageBps returns the signed slippage in basis points between filled and
// requested price. Zero requested price yields zero slippage.
func (o Order) SlippageBps() decimal.Decimal {
	if o.RequestedPrice.IsZero() {
		return decimal.Zero
	}
	return o.AvgFillPrice.Sub(o.RequestedPrice).Div(o.RequestedPrice).Mul(decimal.NewFromInt(10000))
}

// Position is the open holding for a symbol. Quantity 0 means absent.
type Position struct {
	Symbol        string
	Quantity      decimal.Decimal
	AvgEntryPrice decimal.Decimal
	MarketPrice   decimal.Decimal
}

func (p Position) ValueUsd() decimal.Decimal {
	return p.Quantity.Mul(p.MarketPrice)
}

func (p Position) UnrealizedPnlUsd() decimal.Decimal {
	return p.Quantity.Mul(p.MarketPrice.Sub(p.AvgEntryPrice))
}

func (p Position) UnrealizedPnlPct() decimal.Decimal {
	if p.AvgEntryPrice.IsZero() {
		return decimal.Zero
	}
	return p.MarketPrice.Sub(p.AvgEntryPrice).Div(p.AvgEntryPrice).Mul(decimal.NewFromInt(100))
}

// TrackedTrailingStopState is the runtime state of one symbol's activating
// trailing stop.
type TrackedTrailingStopState struct {
	Symbol           string
	EntryPrice       decimal.Decimal
	HighestPrice     decimal.Decimal
	CurrentStopPrice decimal.Decimal
	Activated        bool
	EntryTime        time.Time
}

// DustEpsilon is the quantity below which a position is considered closed.
var DustEpsilon = decimal.New(1, -12)

// AccountSnapshot is the in-memory, eventually-consistent view hosted by the
// Trading Loops (C12).
type AccountSnapshot struct {
	CashUsd                decimal.Decimal
	RealizedPnlUsd         decimal.Decimal
	UnrealizedPnlUsd       decimal.Decimal
	OpenPositions          map[string]Position
	LastStopOutAtBySymbol  map[string]time.Time
}

func NewAccountSnapshot(startingCash decimal.Decimal) *AccountSnapshot {
	return &AccountSnapshot{
		CashUsd:               startingCash,
		OpenPositions:         make(map[string]Position),
		LastStopOutAtBySymbol: make(map[string]time.Time),
	}
}

// TotalEquityUsd is cash plus the market value of every open position.
func (a *AccountSnapshot) TotalEquityUsd() decimal.Decimal {
	total := a.CashUsd
	for _, p := range a.OpenPositions {
		total = total.Add(p.ValueUsd())
	}
	return total
}

// JournalEntry is one append-only row per entry/exit leg.
type JournalEntry struct {
	ID              string
	Symbol          string
	Side            Side
	RequestedPrice  decimal.Decimal
	FilledPrice     decimal.Decimal
	Quantity        decimal.Decimal
	Notional        decimal.Decimal
	Commission      decimal.Decimal
	Confidence      float64
	Reason          string
	RiskDecision    string
	RealizedPnlUsd  decimal.Decimal
	HoldingDuration time.Duration
	CreatedAt       time.Time
}

// SlippageBps is the signed slippage of this leg in basis points.
func (j JournalEntry) SlippageBps() decimal.Decimal {
	if j.RequestedPrice.IsZero() {
		return decimal.Zero
	}
	return j.FilledPrice.Sub(j.RequestedPrice).Div(j.RequestedPrice).Mul(decimal.NewFromInt(10000))
}

// InventoryStateView is a defensive-copy snapshot of inventory.Manager's
// state for status reporting.
type InventoryStateView struct {
	CashUsd   decimal.Decimal
	Available map[string]decimal.Decimal
	Reserved  map[string]decimal.Decimal
	Positions map[string]Position
	LastSyncMs int64
}

// Balance is a single free/locked pair reported by the exchange adapter.
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// Channel names form the closed set used by the typed event bus (C13).
type Channel string

const (
	ChannelPrice     Channel = "price"
	ChannelTrades    Channel = "trades"
	ChannelPositions Channel = "positions"
	ChannelAlerts    Channel = "alerts"
	ChannelMetrics   Channel = "metrics"
	ChannelSentiment Channel = "sentiment"
)

type AlertLevel string

const (
	AlertInfo     AlertLevel = "info"
	AlertWarn     AlertLevel = "warn"
	AlertCritical AlertLevel = "critical"
)

type PricePayload struct {
	Symbol     string
	Bid        decimal.Decimal
	Ask        decimal.Decimal
	Last       decimal.Decimal
	Volume24h  *decimal.Decimal
	Time       time.Time
}

type TradePayload struct {
	OrderID        string
	Symbol         string
	Side           Side
	Quantity       decimal.Decimal
	Price          decimal.Decimal
	Fees           decimal.Decimal
	RealizedPnlUsd *decimal.Decimal
	Timestamp      time.Time
}

type PositionsPayload struct {
	Positions     []PositionView
	CashUsd       decimal.Decimal
	TotalEquityUsd decimal.Decimal
}

type PositionView struct {
	Position
	ValueUsd         decimal.Decimal
	UnrealizedPnlUsd decimal.Decimal
	UnrealizedPnlPct decimal.Decimal
}

type AlertPayload struct {
	Level     AlertLevel
	Title     string
	Message   string
	Context   map[string]interface{}
	Timestamp time.Time
}

type MetricsPayload struct {
	Counters  map[string]int64
	Gauges    map[string]float64
	UptimeSec int64
}

type SentimentPayload struct {
	FearGreedIndex  int
	FearGreedLabel  string
	NewsScore       *float64
	SocialSentiment *float64
	Timestamp       time.Time
}
