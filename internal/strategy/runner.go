package strategy

import (
	"context"

	"main/internal/schema"
	"main/internal/tracker"

	"github.com/yanun0323/logs"
)

// Runner is one strategy instance expressed as an event-driven state
// machine. Drivers own the event loop: the live engine runs one goroutine
// per instance, the backtest replays events single-threaded. All methods
// except Instance are invoked from a single driver goroutine.
type Runner interface {
	// Instance returns a snapshot of the instance record.
	Instance() schema.StrategyInstance
	// Activate places the strategy's initial orders.
	Activate(ctx context.Context) error
	// OnTick delivers one market data update for the strategy's pair.
	OnTick(ctx context.Context, tick schema.Tick)
	// OnOrderUpdate delivers a lifecycle transition of an owned order.
	OnOrderUpdate(ctx context.Context, order schema.Order)
	// OnTimer fires when the instant returned by NextWake has passed.
	OnTimer(ctx context.Context, now int64)
	// NextWake returns the unix-nano instant of the next scheduled action,
	// or zero when none is pending.
	NextWake() int64
	// Stop requests a cooperative stop: open orders are canceled and the
	// instance settles into a terminal state once they resolve.
	Stop(ctx context.Context)
}

// cancelOpen best-effort cancels every owned order still resting.
func cancelOpen(ctx context.Context, tr *tracker.Tracker, orderIDs []string) {
	for _, id := range orderIDs {
		order, ok := tr.Get(id)
		if !ok || !order.Open() {
			continue
		}
		if _, err := tr.Cancel(ctx, id); err != nil {
			logs.Warnf("cancel order %s, err: %+v", id, err)
		}
	}
}
