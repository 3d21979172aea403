package strategy

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"main/internal/bus"
	"main/internal/clock"
	"main/internal/gateway"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/tracker"
	"main/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// paperGateway accepts every order and lets tests trigger fills by hand.
type paperGateway struct {
	mu       sync.Mutex
	seq      int
	orders   map[string]*gateway.OrderSnapshot
	byClient map[string]string
	rejectAt int
	submits  int
	now      int64
}

func newPaperGateway() *paperGateway {
	return &paperGateway{
		orders:   make(map[string]*gateway.OrderSnapshot),
		byClient: make(map[string]string),
	}
}

func (g *paperGateway) SubmitOrder(ctx context.Context, req gateway.SubmitRequest) (gateway.SubmitResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submits++
	if g.rejectAt > 0 && g.submits >= g.rejectAt {
		return gateway.SubmitResult{}, exception.ErrGatewayRejected
	}
	g.seq++
	g.now++
	id := fmt.Sprintf("ex-%d", g.seq)
	g.orders[id] = &gateway.OrderSnapshot{
		ExchangeID: id,
		State:      schema.OrderStateOpen,
		UpdatedAt:  g.now,
	}
	g.byClient[req.ClientID] = id
	return gateway.SubmitResult{ExchangeID: id}, nil
}

func (g *paperGateway) CancelOrder(ctx context.Context, pair schema.Pair, exchangeID string) (gateway.OrderSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	snap, ok := g.orders[exchangeID]
	if !ok {
		return gateway.OrderSnapshot{}, exception.ErrOrderUnknown
	}
	if !snap.State.Terminal() {
		g.now++
		snap.State = schema.OrderStateCanceled
		snap.UpdatedAt = g.now
	}
	return *snap, nil
}

func (g *paperGateway) QueryOrder(ctx context.Context, pair schema.Pair, exchangeID string) (gateway.OrderSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	snap, ok := g.orders[exchangeID]
	if !ok {
		return gateway.OrderSnapshot{}, exception.ErrOrderUnknown
	}
	return *snap, nil
}

func (g *paperGateway) QueryOrderByClientID(ctx context.Context, pair schema.Pair, clientID string) (gateway.OrderSnapshot, error) {
	g.mu.Lock()
	id, ok := g.byClient[clientID]
	g.mu.Unlock()
	if !ok {
		return gateway.OrderSnapshot{}, exception.ErrOrderUnknown
	}
	return g.QueryOrder(ctx, pair, id)
}

func (g *paperGateway) GetBalance(ctx context.Context, asset string) (schema.Balance, error) {
	return schema.Balance{Asset: asset, Free: 1 << 50}, nil
}

// fill marks an exchange order (fully) filled at the given price.
func (g *paperGateway) fill(exchangeID string, qty schema.Quantity, price schema.Price) gateway.OrderSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	snap := g.orders[exchangeID]
	g.now++
	snap.State = schema.OrderStateFilled
	snap.FilledQty = qty
	snap.AvgFillPrice = price
	snap.UpdatedAt = g.now
	return *snap
}

// partialFill records a fill that leaves the order resting.
func (g *paperGateway) partialFill(exchangeID string, qty schema.Quantity, price schema.Price) gateway.OrderSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	snap := g.orders[exchangeID]
	g.now++
	snap.State = schema.OrderStatePartiallyFilled
	snap.FilledQty = qty
	snap.AvgFillPrice = price
	snap.UpdatedAt = g.now
	return *snap
}

// harness drives a runner single-threaded the way the backtest loop does:
// tracker notifications queue up and are replayed into the runner in order.
type harness struct {
	tr      *tracker.Tracker
	gw      *paperGateway
	clk     *clock.Sim
	pending []schema.Order
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gw := newPaperGateway()
	h := &harness{
		gw:  gw,
		clk: clock.NewSim(1_000),
	}
	h.tr = tracker.New(tracker.Config{}, gw, nil, bus.NewQueue(1024), nil, h.clk)
	h.tr.SetNotifier(func(o schema.Order) { h.pending = append(h.pending, o) })
	return h
}

// newRiskHarness wires a live governor between the tracker and the paper
// exchange, so denials surface exactly as they would in production.
func newRiskHarness(t *testing.T, cfg risk.Config) *harness {
	t.Helper()
	gw := newPaperGateway()
	h := &harness{
		gw:  gw,
		clk: clock.NewSim(1_000),
	}
	gov := risk.NewGovernor(cfg, nil, gw)
	h.tr = tracker.New(tracker.Config{}, gw, gov, bus.NewQueue(1024), nil, h.clk)
	h.tr.SetNotifier(func(o schema.Order) { h.pending = append(h.pending, o) })
	return h
}

func (h *harness) drain(ctx context.Context, r Runner) {
	for len(h.pending) > 0 {
		order := h.pending[0]
		h.pending = h.pending[1:]
		r.OnOrderUpdate(ctx, order)
	}
}

// fill routes a synthetic exchange fill through the tracker and the runner.
func (h *harness) fill(ctx context.Context, t *testing.T, r Runner, clientID string, qty schema.Quantity, price schema.Price) {
	t.Helper()
	order, ok := h.tr.Get(clientID)
	require.True(t, ok)
	snap := h.gw.fill(order.ExchangeID, qty, price)
	_, err := h.tr.Apply(clientID, snap)
	require.NoError(t, err)
	h.drain(ctx, r)
}

func TestOCOFillCancelsSibling(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	runner, err := NewOCO(OCOParams{
		Pair:            "BTCUSDT",
		Side:            schema.OrderSideSell,
		Qty:             schema.Scale,
		TakeProfitPrice: 110 * schema.Scale,
		StopTrigger:     90 * schema.Scale,
		StopLimitPrice:  89 * schema.Scale,
	}, h.tr, h.clk)
	require.NoError(t, err)

	require.NoError(t, runner.Activate(ctx))
	h.drain(ctx, runner)

	inst := runner.Instance()
	require.Len(t, inst.OrderIDs, 2)
	require.Equal(t, schema.StrategyStateActive, inst.State)

	// Price trades through 110: the take-profit leg fills.
	h.fill(ctx, t, runner, inst.OrderIDs[0], schema.Scale, 110*schema.Scale)

	inst = runner.Instance()
	assert.Equal(t, schema.StrategyStateCompleted, inst.State)

	stop, ok := h.tr.Get(inst.OrderIDs[1])
	require.True(t, ok)
	assert.Equal(t, schema.OrderStateCanceled, stop.State, "sibling leg must be canceled")

	takeProfit, _ := h.tr.Get(inst.OrderIDs[0])
	assert.Equal(t, schema.OrderStateFilled, takeProfit.State)
}

func TestOCOStopFillCancelsTakeProfit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	runner, err := NewOCO(OCOParams{
		Pair:            "BTCUSDT",
		Side:            schema.OrderSideSell,
		Qty:             schema.Scale,
		TakeProfitPrice: 110 * schema.Scale,
		StopTrigger:     90 * schema.Scale,
		StopLimitPrice:  89 * schema.Scale,
	}, h.tr, h.clk)
	require.NoError(t, err)
	require.NoError(t, runner.Activate(ctx))
	h.drain(ctx, runner)

	inst := runner.Instance()
	h.fill(ctx, t, runner, inst.OrderIDs[1], schema.Scale, 89*schema.Scale)

	assert.Equal(t, schema.StrategyStateCompleted, runner.Instance().State)
	takeProfit, _ := h.tr.Get(inst.OrderIDs[0])
	assert.Equal(t, schema.OrderStateCanceled, takeProfit.State)
}

func TestOCOPartialFillThreshold(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	runner, err := NewOCO(OCOParams{
		Pair:                 "BTCUSDT",
		Side:                 schema.OrderSideSell,
		Qty:                  schema.Scale,
		TakeProfitPrice:      110 * schema.Scale,
		StopTrigger:          90 * schema.Scale,
		StopLimitPrice:       89 * schema.Scale,
		PartialFillThreshold: schema.Scale / 2,
	}, h.tr, h.clk)
	require.NoError(t, err)
	require.NoError(t, runner.Activate(ctx))
	h.drain(ctx, runner)

	inst := runner.Instance()
	takeProfitID, stopID := inst.OrderIDs[0], inst.OrderIDs[1]

	// A fill below the threshold leaves the sibling resting.
	order, ok := h.tr.Get(takeProfitID)
	require.True(t, ok)
	snap := h.gw.partialFill(order.ExchangeID, schema.Scale/4, 110*schema.Scale)
	_, err = h.tr.Apply(takeProfitID, snap)
	require.NoError(t, err)
	h.drain(ctx, runner)

	stop, _ := h.tr.Get(stopID)
	assert.Equal(t, schema.OrderStateOpen, stop.State, "sibling survives a sub-threshold fill")

	// Crossing the threshold cancels the sibling.
	snap = h.gw.partialFill(order.ExchangeID, schema.Scale/2, 110*schema.Scale)
	_, err = h.tr.Apply(takeProfitID, snap)
	require.NoError(t, err)
	h.drain(ctx, runner)

	stop, _ = h.tr.Get(stopID)
	assert.Equal(t, schema.OrderStateCanceled, stop.State)
}

func TestOCOParamsValidation(t *testing.T) {
	h := newHarness(t)
	_, err := NewOCO(OCOParams{
		Pair:            "BTCUSDT",
		Side:            schema.OrderSideSell,
		Qty:             schema.Scale,
		TakeProfitPrice: 90 * schema.Scale,
		StopTrigger:     110 * schema.Scale,
		StopLimitPrice:  109 * schema.Scale,
	}, h.tr, h.clk)
	require.ErrorIs(t, err, exception.ErrStrategyInvalidParams)
}

func TestTWAPSliceSumsExactly(t *testing.T) {
	params := TWAPParams{
		Pair: "BTCUSDT", Side: schema.OrderSideBuy,
		TotalQty: 100*schema.Scale + 7, Slices: 3,
		Interval: time.Minute, SliceTimeout: 10 * time.Second,
	}
	var sum schema.Quantity
	for i := 0; i < params.Slices; i++ {
		sum += params.sliceQty(i)
	}
	assert.Equal(t, params.TotalQty, sum, "slices must sum to the parent quantity")
	assert.Greater(t, params.sliceQty(params.Slices-1), params.sliceQty(0), "remainder rides on the last slice")
}

func TestTWAPCompletesWithTimedOutSlice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	runner, err := NewTWAP(TWAPParams{
		Pair: "BTCUSDT", Side: schema.OrderSideBuy,
		TotalQty: 100 * schema.Scale, Slices: 5,
		Interval: time.Minute, SliceTimeout: 10 * time.Second,
	}, h.tr, h.clk)
	require.NoError(t, err)

	require.NoError(t, runner.Activate(ctx))
	h.drain(ctx, runner)

	fillSlice := func(idx int) {
		inst := runner.Instance()
		require.Len(t, inst.OrderIDs, idx+1)
		h.fill(ctx, t, runner, inst.OrderIDs[idx], 20*schema.Scale, 100*schema.Scale)
	}

	fillSlice(0)
	for i := 1; i < 5; i++ {
		wake := runner.NextWake()
		require.Positive(t, wake)
		h.clk.Advance(wake)
		runner.OnTimer(ctx, wake)
		h.drain(ctx, runner)

		if i == 2 {
			// Slice 3 never fills; let its timeout elapse.
			deadline := runner.NextWake()
			require.Positive(t, deadline)
			h.clk.Advance(deadline)
			runner.OnTimer(ctx, deadline)
			h.drain(ctx, runner)
			continue
		}
		fillSlice(i)
	}

	inst := runner.Instance()
	assert.Equal(t, schema.StrategyStateCompleted, inst.State)
	assert.Equal(t, schema.Quantity(80*schema.Scale), runner.ExecutedQty(),
		"one abandoned slice leaves a 20 shortfall")
	assert.Len(t, inst.OrderIDs, 5)
}

func TestTWAPLimitAtLatestRestsAtLastTick(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	runner, err := NewTWAP(TWAPParams{
		Pair: "BTCUSDT", Side: schema.OrderSideBuy,
		TotalQty: 10 * schema.Scale, Slices: 2,
		Interval: time.Minute, SliceTimeout: 10 * time.Second,
		LimitAtLatest: true,
	}, h.tr, h.clk)
	require.NoError(t, err)

	runner.OnTick(ctx, schema.Tick{Pair: "BTCUSDT", Price: 100 * schema.Scale, Ts: h.clk.Now()})
	require.NoError(t, runner.Activate(ctx))
	h.drain(ctx, runner)

	inst := runner.Instance()
	require.Len(t, inst.OrderIDs, 1)
	slice, ok := h.tr.Get(inst.OrderIDs[0])
	require.True(t, ok)
	assert.Equal(t, schema.OrderTypeLimit, slice.Type)
	assert.Equal(t, schema.Price(100*schema.Scale), slice.Price)
}

func TestGridMaintainsLadder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	runner, err := NewGrid(GridParams{
		Pair: "BTCUSDT", Levels: 2,
		Spacing:     5 * schema.Scale,
		QtyPerLevel: schema.Scale,
		Center:      100 * schema.Scale,
	}, h.tr, nil, h.clk)
	require.NoError(t, err)

	require.NoError(t, runner.Activate(ctx))
	h.drain(ctx, runner)
	require.Equal(t, 4, runner.OpenOrders(), "two levels per side")

	// The 95 buy fills; its mirror sell appears at 100.
	inst := runner.Instance()
	h.fill(ctx, t, runner, inst.OrderIDs[0], schema.Scale, 95*schema.Scale)

	assert.Equal(t, 4, runner.OpenOrders(), "ladder is replenished after a fill")

	var replacement schema.Order
	for _, id := range runner.Instance().OrderIDs {
		if order, ok := h.tr.Get(id); ok && order.Open() && order.Side == schema.OrderSideSell && order.Price == 100*schema.Scale {
			replacement = order
		}
	}
	require.NotEmpty(t, replacement.ClientID, "expected a sell resting one spacing above the fill")

	runner.Stop(ctx)
	h.drain(ctx, runner)
	assert.Equal(t, schema.StrategyStateCompleted, runner.Instance().State)
	assert.Equal(t, 0, runner.OpenOrders())
}

func TestGridAbortsWhenReplacementRefused(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	runner, err := NewGrid(GridParams{
		Pair: "BTCUSDT", Levels: 1,
		Spacing:     5 * schema.Scale,
		QtyPerLevel: schema.Scale,
		Center:      100 * schema.Scale,
	}, h.tr, nil, h.clk)
	require.NoError(t, err)
	require.NoError(t, runner.Activate(ctx))
	h.drain(ctx, runner)

	// Every submit from now on is rejected.
	h.gw.mu.Lock()
	h.gw.rejectAt = h.gw.submits + 1
	h.gw.mu.Unlock()

	inst := runner.Instance()
	h.fill(ctx, t, runner, inst.OrderIDs[0], schema.Scale, 95*schema.Scale)

	assert.Equal(t, schema.StrategyStateAborted, runner.Instance().State)
	assert.Equal(t, 0, runner.OpenOrders(), "abort cancels the surviving levels")
}

func TestGridActivationDeniedByPositionCap(t *testing.T) {
	ctx := context.Background()
	h := newRiskHarness(t, risk.Config{
		Pairs:               []risk.PairConfig{{Pair: "BTCUSDT", Base: "BTC", Quote: "USDT"}},
		MaxPositionNotional: 150 * schema.Scale,
	})

	// Each level is worth ~100, under the cap; the six-level ladder
	// totals ~600 and must be refused as a whole.
	runner, err := NewGrid(GridParams{
		Pair: "BTCUSDT", Levels: 3,
		Spacing:     schema.Scale,
		QtyPerLevel: schema.Scale,
		Center:      100 * schema.Scale,
	}, h.tr, nil, h.clk)
	require.NoError(t, err)

	err = runner.Activate(ctx)
	require.ErrorIs(t, err, exception.ErrRiskMaxPositionExceeded)
	assert.Equal(t, schema.StrategyStateAborted, runner.Instance().State)
	assert.Equal(t, 0, h.gw.submits, "a denied ladder submits nothing")
}

func TestOCOActivationDeniedByRisk(t *testing.T) {
	ctx := context.Background()
	h := newRiskHarness(t, risk.Config{
		Pairs:       []risk.PairConfig{{Pair: "BTCUSDT", Base: "BTC", Quote: "USDT"}},
		MaxOrderQty: schema.Scale,
	})

	runner, err := NewOCO(OCOParams{
		Pair:            "BTCUSDT",
		Side:            schema.OrderSideSell,
		Qty:             2 * schema.Scale,
		TakeProfitPrice: 110 * schema.Scale,
		StopTrigger:     90 * schema.Scale,
		StopLimitPrice:  89 * schema.Scale,
	}, h.tr, h.clk)
	require.NoError(t, err)

	err = runner.Activate(ctx)
	require.ErrorIs(t, err, exception.ErrRiskMaxOrderQtyExceeded)
	assert.Equal(t, schema.StrategyStateAborted, runner.Instance().State)
	assert.Equal(t, 0, h.gw.submits, "the denial must surface before the exchange is touched")
}

func TestEngineLifecycle(t *testing.T) {
	h := newHarness(t)
	// The engine replaces the harness notifier; these paths exercise the
	// registry rather than runner semantics.
	e := NewEngine(h.tr, nil, h.clk)

	_, err := e.CreateOCO(context.Background(), OCOParams{})
	require.ErrorIs(t, err, exception.ErrStrategyInvalidParams)

	require.ErrorIs(t, e.CancelStrategy("missing"), exception.ErrStrategyUnknown)

	_, err = e.GetStrategy("missing")
	require.ErrorIs(t, err, exception.ErrStrategyUnknown)

	_, err = e.GetOrderStatus("missing")
	require.ErrorIs(t, err, exception.ErrOrderUnknown)

	require.NoError(t, e.Shutdown(context.Background()))
}
