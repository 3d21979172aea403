package strategy

import (
	"context"
	"sync"

	"main/internal/clock"
	"main/internal/feed"
	"main/internal/schema"
	"main/internal/tracker"
	"main/pkg/exception"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// GridParams lays a ladder of resting limit orders around a center price:
// Levels buys below it and Levels sells above it, one Spacing apart.
// A zero Center anchors the grid on the latest feed price at activation.
type GridParams struct {
	Pair        schema.Pair
	Levels      int
	Spacing     schema.Price
	QtyPerLevel schema.Quantity
	Center      schema.Price
}

func (p GridParams) validate() error {
	if p.Pair == "" || p.QtyPerLevel <= 0 {
		return exception.ErrStrategyInvalidParams
	}
	if p.Levels <= 0 || p.Spacing <= 0 {
		return exception.ErrStrategyInvalidParams
	}
	if p.Center > 0 && p.Center <= schema.Price(p.Levels)*p.Spacing {
		return errors.Wrap(exception.ErrStrategyInvalidParams, "lowest grid level would be non-positive")
	}
	return nil
}

// Grid maintains a constant ladder of 2xLevels resting orders. A filled
// level is replaced by its mirror one spacing across the fill price, so
// the ladder keeps quoting both sides until stopped.
type Grid struct {
	mu     sync.Mutex
	inst   schema.StrategyInstance
	params GridParams
	tr     *tracker.Tracker
	fd     feed.Feed
	clk    clock.Clock

	center schema.Price
	owned  map[string]struct{}
}

// NewGrid validates the ladder and creates an inactive instance.
func NewGrid(params GridParams, tr *tracker.Tracker, fd feed.Feed, clk clock.Clock) (*Grid, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &Grid{
		inst: schema.StrategyInstance{
			ID:        uuid.NewString(),
			Kind:      schema.StrategyKindGrid,
			Pair:      params.Pair,
			State:     schema.StrategyStateActive,
			CreatedAt: clk.Now(),
		},
		params: params,
		tr:     tr,
		fd:     fd,
		clk:    clk,
		owned:  make(map[string]struct{}),
	}, nil
}

func (r *Grid) Instance() schema.StrategyInstance {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst := r.inst
	inst.OrderIDs = append([]string(nil), r.inst.OrderIDs...)
	return inst
}

// Activate risk-checks the whole ladder and then places it. A denied
// ladder submits nothing; a level refused mid-placement unwinds the
// ladder so the grid never rests lopsided.
func (r *Grid) Activate(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.center = r.params.Center
	if r.center <= 0 {
		tick, ok := r.fd.Latest(r.params.Pair)
		if !ok {
			r.inst.State = schema.StrategyStateAborted
			return exception.ErrRiskNoReferencePrice
		}
		if tick.Price <= schema.Price(r.params.Levels)*r.params.Spacing {
			r.inst.State = schema.StrategyStateAborted
			return errors.Wrap(exception.ErrStrategyInvalidParams, "lowest grid level would be non-positive")
		}
		r.center = tick.Price
	}

	intents := make([]tracker.Intent, 0, 2*r.params.Levels)
	for i := 1; i <= r.params.Levels; i++ {
		offset := schema.Price(i) * r.params.Spacing
		intents = append(intents,
			r.levelIntent(schema.OrderSideBuy, r.center-offset),
			r.levelIntent(schema.OrderSideSell, r.center+offset),
		)
	}
	// The ladder's total notional must clear the risk gate before any
	// level reaches the exchange.
	if err := r.tr.CheckRisk(ctx, intents); err != nil {
		r.inst.State = schema.StrategyStateAborted
		return errors.Wrap(err, "grid ladder refused")
	}

	for _, intent := range intents {
		if err := r.submitLevelLocked(ctx, intent); err != nil {
			r.abortLocked(ctx)
			return err
		}
	}
	return nil
}

func (r *Grid) levelIntent(side schema.OrderSide, price schema.Price) tracker.Intent {
	return tracker.Intent{
		StrategyID: r.inst.ID,
		Pair:       r.params.Pair,
		Side:       side,
		Type:       schema.OrderTypeLimit,
		Price:      price,
		Qty:        r.params.QtyPerLevel,
	}
}

func (r *Grid) placeLevelLocked(ctx context.Context, side schema.OrderSide, price schema.Price) error {
	return r.submitLevelLocked(ctx, r.levelIntent(side, price))
}

func (r *Grid) submitLevelLocked(ctx context.Context, intent tracker.Intent) error {
	order, err := r.tr.Submit(ctx, intent)
	if err != nil {
		return errors.Wrap(err, "place grid level")
	}
	r.owned[order.ClientID] = struct{}{}
	r.inst.OrderIDs = append(r.inst.OrderIDs, order.ClientID)
	return nil
}

func (r *Grid) abortLocked(ctx context.Context) {
	r.inst.State = schema.StrategyStateAborted
	cancelOpen(ctx, r.tr, r.inst.OrderIDs)
}

func (r *Grid) OnTick(ctx context.Context, tick schema.Tick) {}

func (r *Grid) OnTimer(ctx context.Context, now int64) {}

func (r *Grid) NextWake() int64 { return 0 }

func (r *Grid) OnOrderUpdate(ctx context.Context, order schema.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, mine := r.owned[order.ClientID]; !mine {
		return
	}

	if r.inst.State == schema.StrategyStateStopping {
		r.settleLocked()
		return
	}
	if r.inst.State.Terminal() || order.State != schema.OrderStateFilled {
		return
	}

	// Fill-and-replace: mirror the level one spacing across the fill.
	replaceSide := order.Side.Opposite()
	replacePrice := order.Price + r.params.Spacing
	if order.Side == schema.OrderSideSell {
		replacePrice = order.Price - r.params.Spacing
	}
	if replacePrice <= 0 {
		logs.Warnf("grid %s cannot replace level below zero, keeping %d orders", r.inst.ID, r.openCountLocked())
		return
	}
	if err := r.placeLevelLocked(ctx, replaceSide, replacePrice); err != nil {
		logs.Errorf("grid %s aborted, err: %+v", r.inst.ID, err)
		r.abortLocked(ctx)
	}
}

func (r *Grid) openCountLocked() int {
	count := 0
	for id := range r.owned {
		if order, ok := r.tr.Get(id); ok && order.Open() {
			count++
		}
	}
	return count
}

// OpenOrders reports the number of resting ladder orders.
func (r *Grid) OpenOrders() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openCountLocked()
}

func (r *Grid) settleLocked() {
	if r.inst.State.Terminal() {
		return
	}
	if r.openCountLocked() > 0 {
		return
	}
	r.inst.State = schema.StrategyStateCompleted
}

func (r *Grid) Stop(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inst.State.Terminal() {
		return
	}
	r.inst.State = schema.StrategyStateStopping
	cancelOpen(ctx, r.tr, r.inst.OrderIDs)
	r.settleLocked()
}
