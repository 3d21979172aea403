package backtest

import (
	"context"
	"testing"
	"time"

	"main/internal/gateway"
	"main/internal/schema"
	"main/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tick(ts int64, price int64) schema.Tick {
	return schema.Tick{Pair: "BTCUSDT", Price: schema.Price(price) * schema.Scale, Ts: ts}
}

func sec(s int64) int64 { return s * int64(time.Second) }

func submitReq(side schema.OrderSide, orderType schema.OrderType, price, stop, qty int64) gateway.SubmitRequest {
	return gateway.SubmitRequest{
		ClientID:  "client-1",
		Pair:      "BTCUSDT",
		Side:      side,
		Type:      orderType,
		Price:     schema.Price(price) * schema.Scale,
		StopPrice: schema.Price(stop) * schema.Scale,
		Qty:       schema.Quantity(qty) * schema.Scale,
	}
}

func TestReplayOCOTakeProfitLeg(t *testing.T) {
	e := NewEngine(sec(1))
	runner, err := e.AddOCO(strategy.OCOParams{
		Pair:            "BTCUSDT",
		Side:            schema.OrderSideSell,
		Qty:             schema.Scale,
		TakeProfitPrice: 110 * schema.Scale,
		StopTrigger:     90 * schema.Scale,
		StopLimitPrice:  89 * schema.Scale,
	})
	require.NoError(t, err)

	report, err := e.Run(context.Background(), []schema.Tick{
		tick(sec(1), 100),
		tick(sec(2), 111),
		tick(sec(3), 112),
	})
	require.NoError(t, err)

	require.Len(t, report.Trades, 1)
	assert.Equal(t, schema.OrderSideSell, report.Trades[0].Side)
	assert.Equal(t, schema.Price(110*schema.Scale), report.Trades[0].Price)
	assert.Equal(t, schema.StrategyStateCompleted, runner.Instance().State)
}

func TestReplayOCOStopLeg(t *testing.T) {
	e := NewEngine(sec(1))
	runner, err := e.AddOCO(strategy.OCOParams{
		Pair:            "BTCUSDT",
		Side:            schema.OrderSideSell,
		Qty:             schema.Scale,
		TakeProfitPrice: 110 * schema.Scale,
		StopTrigger:     90 * schema.Scale,
		StopLimitPrice:  89 * schema.Scale,
	})
	require.NoError(t, err)

	report, err := e.Run(context.Background(), []schema.Tick{
		tick(sec(1), 100),
		tick(sec(2), 89),
		tick(sec(3), 88),
	})
	require.NoError(t, err)

	require.Len(t, report.Trades, 1, "exactly one leg executes")
	assert.Equal(t, schema.Price(89*schema.Scale), report.Trades[0].Price)
	assert.Equal(t, schema.StrategyStateCompleted, runner.Instance().State)
}

func TestReplayTWAPSchedule(t *testing.T) {
	e := NewEngine(sec(0))
	runner, err := e.AddTWAP(strategy.TWAPParams{
		Pair:         "BTCUSDT",
		Side:         schema.OrderSideBuy,
		TotalQty:     100 * schema.Scale,
		Slices:       4,
		Interval:     time.Minute,
		SliceTimeout: 10 * time.Second,
	})
	require.NoError(t, err)

	var ticks []schema.Tick
	for s := int64(0); s <= 300; s += 15 {
		ticks = append(ticks, tick(sec(s+1), 100+s/60))
	}
	report, err := e.Run(context.Background(), ticks)
	require.NoError(t, err)

	require.Len(t, report.Trades, 4, "one market fill per slice")
	var total schema.Quantity
	for _, trade := range report.Trades {
		total += trade.Qty
	}
	assert.Equal(t, schema.Quantity(100*schema.Scale), total)
	assert.Equal(t, schema.StrategyStateCompleted, runner.Instance().State)
}

func TestReplayGridRoundTrip(t *testing.T) {
	e := NewEngine(sec(1))
	runner, err := e.AddGrid(strategy.GridParams{
		Pair:        "BTCUSDT",
		Levels:      1,
		Spacing:     5 * schema.Scale,
		QtyPerLevel: schema.Scale,
	})
	require.NoError(t, err)

	report, err := e.Run(context.Background(), []schema.Tick{
		tick(sec(1), 100), // anchors the grid: buy 95, sell 105
		tick(sec(2), 94),  // buy fills at 95, replacement sell rests at 100
		tick(sec(3), 101), // replacement sell fills at 100
		tick(sec(4), 99),
	})
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(report.Trades), 2)
	assert.Equal(t, schema.Notional(5*schema.Scale), report.RealizedPnL, "bought 95, sold 100")
	assert.Equal(t, 1, report.RoundTrips)
	assert.Equal(t, float64(100), report.WinRate())
	assert.Equal(t, schema.StrategyStateActive, runner.Instance().State, "grid keeps quoting")
}

func TestReplayDeterministicTradeLog(t *testing.T) {
	run := func() string {
		e := NewEngine(sec(1))
		_, err := e.AddGrid(strategy.GridParams{
			Pair:        "BTCUSDT",
			Levels:      2,
			Spacing:     2 * schema.Scale,
			QtyPerLevel: schema.Scale,
		})
		require.NoError(t, err)
		_, err = e.AddTWAP(strategy.TWAPParams{
			Pair:         "BTCUSDT",
			Side:         schema.OrderSideBuy,
			TotalQty:     10 * schema.Scale,
			Slices:       2,
			Interval:     2 * time.Second,
			SliceTimeout: time.Second,
		})
		require.NoError(t, err)

		report, err := e.Run(context.Background(), []schema.Tick{
			tick(sec(1), 100),
			tick(sec(2), 97),
			tick(sec(3), 99),
			tick(sec(4), 103),
			tick(sec(5), 101),
			tick(sec(6), 96),
		})
		require.NoError(t, err)
		require.NotEmpty(t, report.Trades)
		return report.TradeLog()
	}

	first := run()
	second := run()
	assert.Equal(t, first, second, "identical tick streams must produce byte-identical trade logs")
}

func TestSimGatewayStopLimitArming(t *testing.T) {
	g := NewSimGateway()
	_, err := g.SubmitOrder(context.Background(), submitReq(schema.OrderSideSell, schema.OrderTypeStopLimit, 89, 90, 1))
	require.NoError(t, err)

	// Above the trigger nothing happens.
	require.Empty(t, g.MatchTick(tick(sec(1), 100)))
	// Crossing the trigger arms and executes at the limit.
	fills := g.MatchTick(tick(sec(2), 89))
	require.Len(t, fills, 1)
	assert.Equal(t, schema.Price(89*schema.Scale), fills[0].Price)
}

func TestSimGatewayCancelThenTickDoesNotFill(t *testing.T) {
	g := NewSimGateway()
	res, err := g.SubmitOrder(context.Background(), submitReq(schema.OrderSideBuy, schema.OrderTypeLimit, 95, 0, 1))
	require.NoError(t, err)

	snap, err := g.CancelOrder(context.Background(), "BTCUSDT", res.ExchangeID)
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStateCanceled, snap.State)

	require.Empty(t, g.MatchTick(tick(sec(1), 90)))
}
