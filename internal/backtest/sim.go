package backtest

import (
	"context"
	"strconv"
	"sync"

	"main/internal/gateway"
	"main/internal/schema"
	"main/pkg/exception"
)

// simOrder is one order resting in the simulated book.
type simOrder struct {
	clientID   string
	exchangeID string
	pair       schema.Pair
	side       schema.OrderSide
	orderType  schema.OrderType
	price      schema.Price
	stopPrice  schema.Price
	qty        schema.Quantity
	filledQty  schema.Quantity
	avgPrice   schema.Price
	state      schema.OrderState
	triggered  bool
	updatedAt  int64
}

// Fill is one simulated execution produced by a tick.
type Fill struct {
	ClientID string
	Pair     schema.Pair
	Side     schema.OrderSide
	Price    schema.Price
	Qty      schema.Quantity
	Ts       int64
	Snapshot gateway.OrderSnapshot
}

// SimGateway is an exchange simulator: orders rest in arrival order and
// ticks execute them. Limit orders fill when the price crosses their
// limit, stop-limits arm on their trigger first, market orders fill at
// the first tick after submission. Matching is single-threaded and
// stable, so identical tick streams produce identical fills.
type SimGateway struct {
	mu     sync.Mutex
	seq    int64
	orders []*simOrder
	byID   map[string]*simOrder
	now    int64
}

// NewSimGateway creates an empty simulator.
func NewSimGateway() *SimGateway {
	return &SimGateway{byID: make(map[string]*simOrder)}
}

func (g *SimGateway) SubmitOrder(ctx context.Context, req gateway.SubmitRequest) (gateway.SubmitResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.seq++
	order := &simOrder{
		clientID:   req.ClientID,
		exchangeID: "sim-" + strconv.FormatInt(g.seq, 10),
		pair:       req.Pair,
		side:       req.Side,
		orderType:  req.Type,
		price:      req.Price,
		stopPrice:  req.StopPrice,
		qty:        req.Qty,
		state:      schema.OrderStateOpen,
		updatedAt:  g.now,
	}
	g.orders = append(g.orders, order)
	g.byID[order.exchangeID] = order
	return gateway.SubmitResult{ExchangeID: order.exchangeID}, nil
}

func (g *SimGateway) CancelOrder(ctx context.Context, pair schema.Pair, exchangeID string) (gateway.OrderSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	order, ok := g.byID[exchangeID]
	if !ok {
		return gateway.OrderSnapshot{}, exception.ErrOrderUnknown
	}
	if !order.state.Terminal() {
		order.state = schema.OrderStateCanceled
		order.updatedAt = g.now
	}
	return order.snapshot(), nil
}

func (g *SimGateway) QueryOrder(ctx context.Context, pair schema.Pair, exchangeID string) (gateway.OrderSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	order, ok := g.byID[exchangeID]
	if !ok {
		return gateway.OrderSnapshot{}, exception.ErrOrderUnknown
	}
	return order.snapshot(), nil
}

func (g *SimGateway) QueryOrderByClientID(ctx context.Context, pair schema.Pair, clientID string) (gateway.OrderSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, order := range g.orders {
		if order.clientID == clientID {
			return order.snapshot(), nil
		}
	}
	return gateway.OrderSnapshot{}, exception.ErrOrderUnknown
}

func (g *SimGateway) GetBalance(ctx context.Context, asset string) (schema.Balance, error) {
	// The simulator does not model balances; sizing limits come from the
	// risk governor's notional caps instead.
	return schema.Balance{Asset: asset, Free: schema.Quantity(maxInt64 / schema.Scale)}, nil
}

const maxInt64 = int64(^uint64(0) >> 1)

// MatchTick executes resting orders against one tick and returns the
// fills in order arrival order.
func (g *SimGateway) MatchTick(tick schema.Tick) []Fill {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.now = tick.Ts
	var fills []Fill
	for _, order := range g.orders {
		if order.pair != tick.Pair || order.state.Terminal() {
			continue
		}
		price, ok := order.execPrice(tick)
		if !ok {
			continue
		}

		qty := order.qty - order.filledQty
		order.filledQty = order.qty
		order.avgPrice = price
		order.state = schema.OrderStateFilled
		order.updatedAt = tick.Ts

		fills = append(fills, Fill{
			ClientID: order.clientID,
			Pair:     order.pair,
			Side:     order.side,
			Price:    price,
			Qty:      qty,
			Ts:       tick.Ts,
			Snapshot: order.snapshot(),
		})
	}
	return fills
}

// execPrice decides whether the tick executes the order and at what price.
func (o *simOrder) execPrice(tick schema.Tick) (schema.Price, bool) {
	switch o.orderType {
	case schema.OrderTypeMarket:
		return tick.Price, true

	case schema.OrderTypeLimit:
		if o.side == schema.OrderSideBuy && tick.Price <= o.price {
			return o.price, true
		}
		if o.side == schema.OrderSideSell && tick.Price >= o.price {
			return o.price, true
		}
		return 0, false

	case schema.OrderTypeStopLimit:
		if !o.triggered {
			// Sell stops arm below the trigger, buy stops above it.
			if o.side == schema.OrderSideSell && tick.Price <= o.stopPrice {
				o.triggered = true
			}
			if o.side == schema.OrderSideBuy && tick.Price >= o.stopPrice {
				o.triggered = true
			}
			if !o.triggered {
				return 0, false
			}
		}
		// An armed stop-limit executes at its limit price like a resting
		// limit order; the arming tick itself may satisfy it.
		if o.side == schema.OrderSideSell && tick.Price >= o.price {
			return o.price, true
		}
		if o.side == schema.OrderSideBuy && tick.Price <= o.price {
			return o.price, true
		}
		// A stop armed by a gap through the limit executes at the tick.
		if o.side == schema.OrderSideSell && tick.Price < o.price {
			return tick.Price, true
		}
		if o.side == schema.OrderSideBuy && tick.Price > o.price {
			return tick.Price, true
		}
		return 0, false

	default:
		return 0, false
	}
}

func (o *simOrder) snapshot() gateway.OrderSnapshot {
	return gateway.OrderSnapshot{
		ExchangeID:   o.exchangeID,
		State:        o.state,
		FilledQty:    o.filledQty,
		AvgFillPrice: o.avgPrice,
		UpdatedAt:    o.updatedAt,
	}
}
