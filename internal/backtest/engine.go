package backtest

import (
	"context"

	"main/internal/clock"
	"main/internal/feed"
	"main/internal/schema"
	"main/internal/strategy"
	"main/internal/tracker"
	"main/pkg/exception"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// timerBudget bounds timer firings per runner per tick so a misbehaving
// runner cannot wedge the replay.
const timerBudget = 10_000

// Engine replays a tick stream through the same tracker and strategy
// runners the live engine uses, against a simulated exchange and a
// virtual clock. Everything runs on the caller's goroutine in a fixed
// order, so a given tick stream always produces the same trade log.
type Engine struct {
	gw  *SimGateway
	tr  *tracker.Tracker
	hub *feed.Hub
	clk *clock.Sim

	runners   []strategy.Runner
	byID      map[string]strategy.Runner
	activated map[string]bool
	pending   []schema.Order

	book   *pnlBook
	trades []Trade
}

// NewEngine creates a replay engine starting at the given virtual instant.
func NewEngine(start int64) *Engine {
	gw := NewSimGateway()
	clk := clock.NewSim(start)
	e := &Engine{
		gw:        gw,
		hub:       feed.NewHub(),
		clk:       clk,
		byID:      make(map[string]strategy.Runner),
		activated: make(map[string]bool),
		book:      newPnlBook(),
	}
	e.tr = tracker.New(tracker.Config{}, gw, nil, nil, nil, clk)
	e.tr.SetNotifier(func(o schema.Order) { e.pending = append(e.pending, o) })
	return e
}

// Tracker exposes the replay tracker for runner construction.
func (e *Engine) Tracker() *tracker.Tracker { return e.tr }

// Feed exposes the replay feed for runner construction.
func (e *Engine) Feed() feed.Feed { return e.hub }

// Clock exposes the virtual clock for runner construction.
func (e *Engine) Clock() clock.Clock { return e.clk }

// AddRunner registers a runner. It activates on the first replayed tick
// of its pair, once a reference price exists.
func (e *Engine) AddRunner(r strategy.Runner) {
	e.runners = append(e.runners, r)
	e.byID[r.Instance().ID] = r
}

// AddOCO registers a one-cancels-other bracket.
func (e *Engine) AddOCO(params strategy.OCOParams) (strategy.Runner, error) {
	r, err := strategy.NewOCO(params, e.tr, e.clk)
	if err != nil {
		return nil, err
	}
	e.AddRunner(r)
	return r, nil
}

// AddTWAP registers a time-sliced parent order.
func (e *Engine) AddTWAP(params strategy.TWAPParams) (strategy.Runner, error) {
	r, err := strategy.NewTWAP(params, e.tr, e.clk)
	if err != nil {
		return nil, err
	}
	e.AddRunner(r)
	return r, nil
}

// AddGrid registers a grid ladder.
func (e *Engine) AddGrid(params strategy.GridParams) (strategy.Runner, error) {
	r, err := strategy.NewGrid(params, e.tr, e.hub, e.clk)
	if err != nil {
		return nil, err
	}
	e.AddRunner(r)
	return r, nil
}

// Run replays the tick stream and returns the aggregated report.
func (e *Engine) Run(ctx context.Context, ticks []schema.Tick) (*Report, error) {
	if len(e.runners) == 0 {
		return nil, exception.ErrStrategyUnknown
	}

	for _, tick := range ticks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		e.clk.Advance(tick.Ts)
		if err := e.hub.Publish(tick); err != nil {
			// Stale replay rows are dropped exactly like live ticks.
			continue
		}

		if err := e.activateDue(ctx, tick.Pair); err != nil {
			return nil, err
		}
		e.fireTimers(ctx, tick.Ts)
		e.matchAndApply(tick)

		for _, r := range e.runners {
			if r.Instance().Pair == tick.Pair {
				r.OnTick(ctx, tick)
			}
		}
		e.drain(ctx)
	}

	return &Report{
		Trades:      e.trades,
		RealizedPnL: e.book.realized,
		MaxDrawdown: e.book.drawdown,
		RoundTrips:  e.book.roundTrips,
		WinningRTs:  e.book.winning,
	}, nil
}

func (e *Engine) activateDue(ctx context.Context, pair schema.Pair) error {
	for _, r := range e.runners {
		inst := r.Instance()
		if inst.Pair != pair || e.activated[inst.ID] {
			continue
		}
		e.activated[inst.ID] = true
		if err := r.Activate(ctx); err != nil {
			return errors.Wrap(err, "activate strategy "+inst.ID)
		}
		e.drain(ctx)
	}
	return nil
}

func (e *Engine) fireTimers(ctx context.Context, now int64) {
	for _, r := range e.runners {
		if !e.activated[r.Instance().ID] {
			continue
		}
		for i := 0; i < timerBudget; i++ {
			wake := r.NextWake()
			if wake <= 0 || wake > now {
				break
			}
			r.OnTimer(ctx, wake)
			e.drain(ctx)
		}
	}
}

func (e *Engine) matchAndApply(tick schema.Tick) {
	for _, fill := range e.gw.MatchTick(tick) {
		if _, err := e.tr.Apply(fill.ClientID, fill.Snapshot); err != nil {
			logs.Warnf("apply sim fill %s, err: %+v", fill.ClientID, err)
			continue
		}
		e.trades = append(e.trades, Trade{
			Ts:       fill.Ts,
			Pair:     fill.Pair,
			Side:     fill.Side,
			Price:    fill.Price,
			Qty:      fill.Qty,
			ClientID: fill.ClientID,
		})
		e.book.apply(e.trades[len(e.trades)-1])
	}
	e.drain(context.Background())
}

func (e *Engine) drain(ctx context.Context) {
	for len(e.pending) > 0 {
		order := e.pending[0]
		e.pending = e.pending[1:]
		r, ok := e.byID[order.StrategyID]
		if !ok {
			continue
		}
		r.OnOrderUpdate(ctx, order)
	}
}
