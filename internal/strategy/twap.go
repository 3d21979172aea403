package strategy

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"main/internal/clock"
	"main/internal/schema"
	"main/internal/tracker"
	"main/pkg/exception"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// TWAPParams splits a parent quantity into evenly spaced slices.
type TWAPParams struct {
	Pair         schema.Pair
	Side         schema.OrderSide
	TotalQty     schema.Quantity
	Slices       int
	Interval     time.Duration
	SliceTimeout time.Duration

	// LimitAtLatest rests each slice as a limit order at the last seen
	// price instead of submitting a market order. A slice submitted
	// before any tick arrives falls back to market.
	LimitAtLatest bool
}

func (p TWAPParams) validate() error {
	if p.Pair == "" || p.TotalQty <= 0 {
		return exception.ErrStrategyInvalidParams
	}
	if p.Side != schema.OrderSideBuy && p.Side != schema.OrderSideSell {
		return exception.ErrStrategyInvalidParams
	}
	if p.Slices <= 0 || schema.Quantity(p.Slices) > p.TotalQty {
		return exception.ErrStrategyInvalidParams
	}
	if p.Interval <= 0 || p.SliceTimeout <= 0 {
		return exception.ErrStrategyInvalidParams
	}
	return nil
}

// sliceQty returns the quantity of slice idx. Integer division leaves a
// remainder that rides on the last slice so the slices sum exactly to the
// parent quantity.
func (p TWAPParams) sliceQty(idx int) schema.Quantity {
	per := p.TotalQty / schema.Quantity(p.Slices)
	if idx == p.Slices-1 {
		return per + p.TotalQty%schema.Quantity(p.Slices)
	}
	return per
}

// TWAP submits one market slice per interval. A slice that has not
// settled by its timeout is abandoned with a best-effort cancel and the
// schedule moves on; the parent completes with whatever quantity executed.
type TWAP struct {
	mu     sync.Mutex
	inst   schema.StrategyInstance
	params TWAPParams
	tr     *tracker.Tracker
	clk    clock.Clock

	startAt    int64
	nextSlice  int
	currentID  string
	deadline   int64
	lastPrice  schema.Price
	sliceFills map[string]schema.Quantity
}

// NewTWAP validates the schedule and creates an inactive instance.
func NewTWAP(params TWAPParams, tr *tracker.Tracker, clk clock.Clock) (*TWAP, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &TWAP{
		inst: schema.StrategyInstance{
			ID:        uuid.NewString(),
			Kind:      schema.StrategyKindTWAP,
			Pair:      params.Pair,
			State:     schema.StrategyStateActive,
			CreatedAt: clk.Now(),
		},
		params:     params,
		tr:         tr,
		clk:        clk,
		sliceFills: make(map[string]schema.Quantity),
	}, nil
}

func (r *TWAP) Instance() schema.StrategyInstance {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst := r.inst
	inst.OrderIDs = append([]string(nil), r.inst.OrderIDs...)
	return inst
}

// ExecutedQty reports the quantity filled across all slices so far.
func (r *TWAP) ExecutedQty() schema.Quantity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.executedLocked()
}

func (r *TWAP) executedLocked() schema.Quantity {
	var total schema.Quantity
	for _, q := range r.sliceFills {
		total += q
	}
	return total
}

// Activate submits the first slice immediately; the rest follow the
// interval schedule.
func (r *TWAP) Activate(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startAt = r.clk.Now()
	return r.submitSliceLocked(ctx)
}

func (r *TWAP) submitSliceLocked(ctx context.Context) error {
	idx := r.nextSlice
	r.nextSlice++

	intent := tracker.Intent{
		StrategyID: r.inst.ID,
		Pair:       r.params.Pair,
		Side:       r.params.Side,
		Type:       schema.OrderTypeMarket,
		Qty:        r.params.sliceQty(idx),
	}
	if r.params.LimitAtLatest && r.lastPrice > 0 {
		intent.Type = schema.OrderTypeLimit
		intent.Price = r.lastPrice
	}

	order, err := r.tr.Submit(ctx, intent)
	if err != nil {
		if stderrors.Is(err, exception.ErrGatewayUnknownOutcome) {
			// The slice may still execute; reconciliation owns it. Skip the
			// slot rather than risking a duplicate submit.
			r.inst.OrderIDs = append(r.inst.OrderIDs, order.ClientID)
			r.sliceFills[order.ClientID] = 0
			r.settleLocked()
			return nil
		}
		r.inst.State = schema.StrategyStateAborted
		return errors.Wrap(err, "submit slice")
	}

	r.currentID = order.ClientID
	r.deadline = r.clk.Now() + int64(r.params.SliceTimeout)
	r.inst.OrderIDs = append(r.inst.OrderIDs, order.ClientID)
	r.sliceFills[order.ClientID] = order.FilledQty
	return nil
}

func (r *TWAP) OnTick(ctx context.Context, tick schema.Tick) {
	if tick.Pair != r.params.Pair {
		return
	}
	r.mu.Lock()
	r.lastPrice = tick.Price
	r.mu.Unlock()
}

func (r *TWAP) NextWake() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inst.State.Terminal() {
		return 0
	}
	if r.currentID != "" {
		return r.deadline
	}
	if r.nextSlice < r.params.Slices {
		return r.slotLocked(r.nextSlice)
	}
	return 0
}

func (r *TWAP) slotLocked(idx int) int64 {
	return r.startAt + int64(idx)*int64(r.params.Interval)
}

func (r *TWAP) OnTimer(ctx context.Context, now int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inst.State.Terminal() {
		return
	}

	// Abandon a slice stuck past its timeout.
	if r.currentID != "" && now >= r.deadline {
		abandoned := r.currentID
		r.currentID = ""
		if order, ok := r.tr.Get(abandoned); ok && order.Open() {
			if _, err := r.tr.Cancel(ctx, abandoned); err != nil {
				logs.Warnf("cancel timed-out slice %s, err: %+v", abandoned, err)
			}
		}
		logs.Warnf("slice %s timed out for strategy %s", abandoned, r.inst.ID)
	}

	if r.currentID == "" && r.nextSlice < r.params.Slices && now >= r.slotLocked(r.nextSlice) {
		if err := r.submitSliceLocked(ctx); err != nil {
			logs.Errorf("twap %s aborted, err: %+v", r.inst.ID, err)
			return
		}
	}

	r.settleLocked()
}

func (r *TWAP) OnOrderUpdate(ctx context.Context, order schema.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inst.State.Terminal() {
		return
	}
	if _, mine := r.sliceFills[order.ClientID]; !mine {
		return
	}

	if order.FilledQty > r.sliceFills[order.ClientID] {
		r.sliceFills[order.ClientID] = order.FilledQty
	}
	if order.ClientID == r.currentID && order.State.Settled() {
		r.currentID = ""
	}
	r.settleLocked()
}

// settleLocked completes the parent once every slot has been consumed and
// no slice is in flight, regardless of shortfall from abandoned slices.
func (r *TWAP) settleLocked() {
	if r.inst.State.Terminal() {
		return
	}
	if r.currentID != "" || r.nextSlice < r.params.Slices {
		if r.inst.State != schema.StrategyStateStopping {
			return
		}
		if r.currentID != "" {
			return
		}
	}
	r.inst.State = schema.StrategyStateCompleted
	logs.Infof("twap %s completed. executed: %s of %s",
		r.inst.ID, schema.FormatQuantity(r.executedLocked()), schema.FormatQuantity(r.params.TotalQty))
}

func (r *TWAP) Stop(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inst.State.Terminal() {
		return
	}
	r.inst.State = schema.StrategyStateStopping
	if r.currentID != "" {
		if order, ok := r.tr.Get(r.currentID); ok && order.Open() {
			if _, err := r.tr.Cancel(ctx, r.currentID); err != nil {
				logs.Warnf("cancel slice %s, err: %+v", r.currentID, err)
			}
		}
	}
	r.settleLocked()
}
