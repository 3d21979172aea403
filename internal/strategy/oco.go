package strategy

import (
	"context"
	"sync"

	"main/internal/clock"
	"main/internal/schema"
	"main/internal/tracker"
	"main/pkg/exception"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// OCOParams describes a one-cancels-other bracket: a take-profit limit
// order paired with a stop-limit order on the same quantity.
type OCOParams struct {
	Pair            schema.Pair
	Side            schema.OrderSide
	Qty             schema.Quantity
	TakeProfitPrice schema.Price
	StopTrigger     schema.Price
	StopLimitPrice  schema.Price

	// PartialFillThreshold is the filled quantity at which a partially
	// filled leg already cancels its sibling. Zero means any fill.
	PartialFillThreshold schema.Quantity
}

func (p OCOParams) validate() error {
	if p.Pair == "" || p.Qty <= 0 {
		return exception.ErrStrategyInvalidParams
	}
	if p.Side != schema.OrderSideBuy && p.Side != schema.OrderSideSell {
		return exception.ErrStrategyInvalidParams
	}
	if p.TakeProfitPrice <= 0 || p.StopTrigger <= 0 || p.StopLimitPrice <= 0 {
		return exception.ErrStrategyInvalidParams
	}
	if p.PartialFillThreshold < 0 || p.PartialFillThreshold > p.Qty {
		return errors.Wrap(exception.ErrStrategyInvalidParams, "partial fill threshold must sit within the leg quantity")
	}
	// The legs must bracket the market from opposite sides.
	if p.Side == schema.OrderSideSell && p.TakeProfitPrice <= p.StopTrigger {
		return errors.Wrap(exception.ErrStrategyInvalidParams, "take profit must sit above stop trigger for a sell bracket")
	}
	if p.Side == schema.OrderSideBuy && p.TakeProfitPrice >= p.StopTrigger {
		return errors.Wrap(exception.ErrStrategyInvalidParams, "take profit must sit below stop trigger for a buy bracket")
	}
	return nil
}

// OCO keeps exactly one of two resting legs alive: the first leg to trade
// cancels the other.
type OCO struct {
	mu     sync.Mutex
	inst   schema.StrategyInstance
	params OCOParams
	tr     *tracker.Tracker
	clk    clock.Clock

	takeProfitID  string
	stopID        string
	filledLeg     string
	otherCanceled bool
}

// NewOCO validates the bracket and creates an inactive instance.
func NewOCO(params OCOParams, tr *tracker.Tracker, clk clock.Clock) (*OCO, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &OCO{
		inst: schema.StrategyInstance{
			ID:        uuid.NewString(),
			Kind:      schema.StrategyKindOCO,
			Pair:      params.Pair,
			State:     schema.StrategyStateActive,
			CreatedAt: clk.Now(),
		},
		params: params,
		tr:     tr,
		clk:    clk,
	}, nil
}

func (r *OCO) Instance() schema.StrategyInstance {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst := r.inst
	inst.OrderIDs = append([]string(nil), r.inst.OrderIDs...)
	return inst
}

// Activate places both legs. If the second leg is refused the first is
// canceled so the bracket never rests one-sided.
func (r *OCO) Activate(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	takeProfit, err := r.tr.Submit(ctx, tracker.Intent{
		StrategyID: r.inst.ID,
		Pair:       r.params.Pair,
		Side:       r.params.Side,
		Type:       schema.OrderTypeLimit,
		Price:      r.params.TakeProfitPrice,
		Qty:        r.params.Qty,
	})
	if err != nil {
		r.inst.State = schema.StrategyStateAborted
		return errors.Wrap(err, "place take-profit leg")
	}
	r.takeProfitID = takeProfit.ClientID
	r.inst.OrderIDs = append(r.inst.OrderIDs, takeProfit.ClientID)

	stop, err := r.tr.Submit(ctx, tracker.Intent{
		StrategyID: r.inst.ID,
		Pair:       r.params.Pair,
		Side:       r.params.Side,
		Type:       schema.OrderTypeStopLimit,
		Price:      r.params.StopLimitPrice,
		StopPrice:  r.params.StopTrigger,
		Qty:        r.params.Qty,
	})
	if err != nil {
		if _, cancelErr := r.tr.Cancel(ctx, takeProfit.ClientID); cancelErr != nil {
			logs.Warnf("unwind take-profit leg %s, err: %+v", takeProfit.ClientID, cancelErr)
		}
		r.inst.State = schema.StrategyStateAborted
		return errors.Wrap(err, "place stop leg")
	}
	r.stopID = stop.ClientID
	r.inst.OrderIDs = append(r.inst.OrderIDs, stop.ClientID)
	return nil
}

// OnTick is a no-op: both legs rest on the exchange and trigger there.
func (r *OCO) OnTick(ctx context.Context, tick schema.Tick) {}

func (r *OCO) OnTimer(ctx context.Context, now int64) {}

func (r *OCO) NextWake() int64 { return 0 }

func (r *OCO) OnOrderUpdate(ctx context.Context, order schema.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inst.State.Terminal() {
		return
	}
	if order.ClientID != r.takeProfitID && order.ClientID != r.stopID {
		return
	}

	// The first leg to trade wins; the sibling is canceled once the leg
	// fills outright or its partial fill clears the threshold.
	triggered := order.State == schema.OrderStateFilled ||
		(order.FilledQty > 0 && order.FilledQty >= r.params.PartialFillThreshold)
	if triggered && r.filledLeg == "" {
		r.filledLeg = order.ClientID
		r.cancelSiblingLocked(ctx, order.ClientID)
	}

	r.settleLocked()
}

func (r *OCO) cancelSiblingLocked(ctx context.Context, filledID string) {
	if r.otherCanceled {
		return
	}
	r.otherCanceled = true

	sibling := r.stopID
	if filledID == r.stopID {
		sibling = r.takeProfitID
	}
	other, ok := r.tr.Get(sibling)
	if !ok || other.State.Settled() {
		return
	}
	canceled, err := r.tr.Cancel(ctx, sibling)
	if err != nil {
		logs.Warnf("cancel sibling leg %s, err: %+v", sibling, err)
		return
	}
	if canceled.State == schema.OrderStateFilled {
		logs.Warnf("both bracket legs filled for strategy %s", r.inst.ID)
	}
}

// settleLocked moves the instance to its terminal state once both legs
// have settled: Completed when a leg traded, Aborted otherwise.
func (r *OCO) settleLocked() {
	takeProfit, okTP := r.tr.Get(r.takeProfitID)
	stop, okStop := r.tr.Get(r.stopID)
	if !okTP || !okStop {
		return
	}
	if !takeProfit.State.Settled() || !stop.State.Settled() {
		return
	}
	if takeProfit.FilledQty > 0 || stop.FilledQty > 0 {
		r.inst.State = schema.StrategyStateCompleted
	} else {
		r.inst.State = schema.StrategyStateAborted
	}
}

func (r *OCO) Stop(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inst.State.Terminal() {
		return
	}
	r.inst.State = schema.StrategyStateStopping
	cancelOpen(ctx, r.tr, []string{r.takeProfitID, r.stopID})
	r.settleLocked()
}
