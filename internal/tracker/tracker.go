package tracker

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"main/internal/bus"
	"main/internal/clock"
	"main/internal/gateway"
	"main/internal/obs"
	"main/internal/risk"
	"main/internal/schema"
	"main/pkg/exception"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Config bounds the tracker's retry and background loop behavior.
type Config struct {
	MaxSubmitAttempts int           `json:"maxSubmitAttempts" yaml:"maxSubmitAttempts"`
	PollInterval      time.Duration `json:"pollInterval" yaml:"pollInterval"`
	ReconcileInterval time.Duration `json:"reconcileInterval" yaml:"reconcileInterval"`
}

func (c Config) withDefaults() Config {
	if c.MaxSubmitAttempts <= 0 {
		c.MaxSubmitAttempts = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = 5 * time.Second
	}
	return c
}

// Intent is one order a strategy wants placed.
type Intent struct {
	StrategyID string
	Pair       schema.Pair
	Side       schema.OrderSide
	Type       schema.OrderType
	Price      schema.Price
	StopPrice  schema.Price
	Qty        schema.Quantity
}

// Tracker owns the authoritative lifecycle of every order. All operations
// on one order are serialized behind its record lock, so a cancel issued
// during an in-flight submit waits for the submit's outcome.
type Tracker struct {
	cfg     Config
	gw      gateway.Gateway
	gov     *risk.Governor
	events  *bus.Queue
	metrics *obs.Metrics
	clk     clock.Clock

	mu     sync.RWMutex
	orders map[string]*managed

	notifyMu sync.RWMutex
	notify   func(schema.Order)
}

type managed struct {
	mu    sync.Mutex
	order schema.Order
}

// New creates a tracker. The governor, event queue and metrics may be nil
// in backtests that do not exercise them.
func New(cfg Config, gw gateway.Gateway, gov *risk.Governor, events *bus.Queue, metrics *obs.Metrics, clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Tracker{
		cfg:     cfg.withDefaults(),
		gw:      gw,
		gov:     gov,
		events:  events,
		metrics: metrics,
		clk:     clk,
		orders:  make(map[string]*managed),
	}
}

// SetNotifier registers the order-update consumer. Updates are delivered
// after the transition is committed and outside the order lock, so the
// consumer may call back into the tracker.
func (t *Tracker) SetNotifier(fn func(schema.Order)) {
	t.notifyMu.Lock()
	t.notify = fn
	t.notifyMu.Unlock()
}

// Get returns a copy of the order.
func (t *Tracker) Get(clientID string) (schema.Order, bool) {
	t.mu.RLock()
	m, ok := t.orders[clientID]
	t.mu.RUnlock()
	if !ok {
		return schema.Order{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order, true
}

// ListOpen returns copies of all orders resting on the exchange.
func (t *Tracker) ListOpen() []schema.Order {
	return t.list(func(o schema.Order) bool { return o.Open() })
}

// ListFailed returns copies of all orders awaiting reconciliation.
func (t *Tracker) ListFailed() []schema.Order {
	return t.list(func(o schema.Order) bool { return o.State == schema.OrderStateFailed })
}

func (t *Tracker) list(keep func(schema.Order) bool) []schema.Order {
	t.mu.RLock()
	all := make([]*managed, 0, len(t.orders))
	for _, m := range t.orders {
		all = append(all, m)
	}
	t.mu.RUnlock()

	var out []schema.Order
	for _, m := range all {
		m.mu.Lock()
		o := m.order
		m.mu.Unlock()
		if keep(o) {
			out = append(out, o)
		}
	}
	return out
}

// Submit runs the risk gate and places the order, retrying transient
// failures with backoff. The returned order reflects the final submit
// outcome: Open on acceptance, Rejected on denial or permanent refusal,
// Failed when the outcome is unknown and reconciliation is pending.
// Exhausted transient retries also land in Failed, because the last
// attempt may have reached the exchange without an acknowledgement.
func (t *Tracker) Submit(ctx context.Context, intent Intent) (schema.Order, error) {
	if intent.Qty <= 0 || intent.Pair == "" {
		return schema.Order{}, exception.ErrOrderInvalidRequest
	}
	if intent.Type != schema.OrderTypeMarket && intent.Price <= 0 {
		return schema.Order{}, exception.ErrOrderInvalidRequest
	}
	if intent.Type == schema.OrderTypeStopLimit && intent.StopPrice <= 0 {
		return schema.Order{}, exception.ErrOrderInvalidRequest
	}

	now := t.clk.Now()
	m := &managed{order: schema.Order{
		ClientID:   uuid.NewString(),
		StrategyID: intent.StrategyID,
		Pair:       intent.Pair,
		Side:       intent.Side,
		Type:       intent.Type,
		Price:      intent.Price,
		StopPrice:  intent.StopPrice,
		Qty:        intent.Qty,
		State:      schema.OrderStatePending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}}

	t.mu.Lock()
	t.orders[m.order.ClientID] = m
	t.mu.Unlock()

	m.mu.Lock()
	if err := t.riskCheck(ctx, intent); err != nil {
		m.order.State = schema.OrderStateRejected
		m.order.UpdatedAt = t.clk.Now()
		order := m.order
		m.mu.Unlock()

		t.metrics.IncRiskDenial()
		t.emit(order, schema.OrderEventRejected, err.Error())
		t.dispatch(order)
		return order, err
	}

	order := m.order
	t.emit(order, schema.OrderEventSubmitted, "")

	result, err := t.submitWithRetry(ctx, order)
	switch {
	case err == nil:
		m.order.ExchangeID = result.ExchangeID
		m.order.State = schema.OrderStateOpen
		m.order.UpdatedAt = t.clk.Now()
		order = m.order
		m.mu.Unlock()

		t.emit(order, schema.OrderEventAccepted, "")
		t.dispatch(order)
		return order, nil

	case gateway.Classify(err) == gateway.KindPermanent:
		m.order.State = schema.OrderStateRejected
		m.order.UpdatedAt = t.clk.Now()
		order = m.order
		m.mu.Unlock()

		t.emit(order, schema.OrderEventRejected, err.Error())
		t.dispatch(order)
		return order, err

	default:
		// Unknown outcome, or transient retries exhausted: the last
		// attempt may have landed, so reconciliation owns the order.
		m.order.State = schema.OrderStateFailed
		m.order.UpdatedAt = t.clk.Now()
		order = m.order
		m.mu.Unlock()

		t.emit(order, schema.OrderEventFailed, err.Error())
		t.dispatch(order)
		return order, errors.Wrap(exception.ErrGatewayUnknownOutcome, err.Error())
	}
}

// CheckRisk evaluates a batch of intents against the governor without
// submitting any of them. Strategies that place several orders as one
// unit call this before the first submit, so a denial anywhere in the
// batch keeps every order off the exchange.
func (t *Tracker) CheckRisk(ctx context.Context, intents []Intent) error {
	if t.gov == nil {
		return nil
	}
	batch := make([]risk.Intent, 0, len(intents))
	for _, intent := range intents {
		batch = append(batch, risk.Intent{
			Pair:  intent.Pair,
			Side:  intent.Side,
			Type:  intent.Type,
			Price: intent.Price,
			Qty:   intent.Qty,
		})
	}
	start := time.Now()
	err := t.gov.CheckBatch(ctx, batch)
	t.metrics.ObserveRiskCheck(time.Since(start))
	return err
}

func (t *Tracker) riskCheck(ctx context.Context, intent Intent) error {
	if t.gov == nil {
		return nil
	}
	start := time.Now()
	err := t.gov.Check(ctx, risk.Intent{
		Pair:  intent.Pair,
		Side:  intent.Side,
		Type:  intent.Type,
		Price: intent.Price,
		Qty:   intent.Qty,
	})
	t.metrics.ObserveRiskCheck(time.Since(start))
	return err
}

func (t *Tracker) submitWithRetry(ctx context.Context, order schema.Order) (gateway.SubmitResult, error) {
	req := gateway.SubmitRequest{
		ClientID:  order.ClientID,
		Pair:      order.Pair,
		Side:      order.Side,
		Type:      order.Type,
		Price:     order.Price,
		StopPrice: order.StopPrice,
		Qty:       order.Qty,
	}

	var lastErr error
	for attempt := 0; attempt < t.cfg.MaxSubmitAttempts; attempt++ {
		if attempt > 0 {
			t.metrics.IncSubmitRetry()
			if err := t.clk.Sleep(ctx, gateway.Backoff(attempt-1)); err != nil {
				return gateway.SubmitResult{}, lastErr
			}
		}

		start := time.Now()
		result, err := t.gw.SubmitOrder(ctx, req)
		t.metrics.ObserveSubmit(time.Since(start))
		if err == nil {
			return result, nil
		}

		lastErr = err
		if gateway.Classify(err) != gateway.KindTransient {
			return gateway.SubmitResult{}, err
		}
	}
	return gateway.SubmitResult{}, lastErr
}

// Cancel requests a best-effort cancel. Only resting orders are
// cancelable; a cancel that lost the race to a committed fill leaves the
// order Filled and returns the fill without error.
func (t *Tracker) Cancel(ctx context.Context, clientID string) (schema.Order, error) {
	t.mu.RLock()
	m, ok := t.orders[clientID]
	t.mu.RUnlock()
	if !ok {
		return schema.Order{}, exception.ErrOrderUnknown
	}

	m.mu.Lock()
	if !m.order.Open() {
		order := m.order
		m.mu.Unlock()
		return order, errors.Wrap(exception.ErrOrderNotCancelable, order.State.String())
	}
	if m.order.ExchangeID == "" {
		order := m.order
		m.mu.Unlock()
		return order, exception.ErrOrderMissingExchangeID
	}

	snap, err := t.gw.CancelOrder(ctx, m.order.Pair, m.order.ExchangeID)
	if err != nil {
		order := m.order
		m.mu.Unlock()
		if gateway.Classify(err) == gateway.KindUnknownOutcome {
			// The cancel may or may not have landed; the poll loop resolves it.
			return order, errors.Wrap(exception.ErrGatewayUnknownOutcome, err.Error())
		}
		return order, err
	}

	order, changed, applyErr := t.applyLocked(m, snap)
	m.mu.Unlock()
	if applyErr != nil {
		return order, applyErr
	}
	if changed {
		t.dispatch(order)
	}
	return order, nil
}

// Poll refreshes one order from the exchange's authoritative record.
// Stale or reordered responses are discarded, so polling is idempotent.
func (t *Tracker) Poll(ctx context.Context, clientID string) (schema.Order, error) {
	t.mu.RLock()
	m, ok := t.orders[clientID]
	t.mu.RUnlock()
	if !ok {
		return schema.Order{}, exception.ErrOrderUnknown
	}

	m.mu.Lock()
	if m.order.State.Terminal() {
		order := m.order
		m.mu.Unlock()
		return order, nil
	}
	if m.order.ExchangeID == "" {
		order := m.order
		m.mu.Unlock()
		return order, exception.ErrOrderMissingExchangeID
	}

	snap, err := t.gw.QueryOrder(ctx, m.order.Pair, m.order.ExchangeID)
	if err != nil {
		order := m.order
		m.mu.Unlock()
		return order, err
	}

	order, changed, applyErr := t.applyLocked(m, snap)
	m.mu.Unlock()
	if applyErr != nil {
		return order, applyErr
	}
	if changed {
		t.dispatch(order)
	}
	return order, nil
}

// Apply folds an exchange snapshot into the order record. It is the
// single write path for exchange-reported state.
func (t *Tracker) Apply(clientID string, snap gateway.OrderSnapshot) (schema.Order, error) {
	t.mu.RLock()
	m, ok := t.orders[clientID]
	t.mu.RUnlock()
	if !ok {
		return schema.Order{}, exception.ErrOrderUnknown
	}

	m.mu.Lock()
	order, changed, err := t.applyLocked(m, snap)
	m.mu.Unlock()
	if err != nil {
		return order, err
	}
	if changed {
		t.dispatch(order)
	}
	return order, nil
}

// Reconcile resolves a Failed order by asking the exchange whether the
// ambiguous request ever took effect.
func (t *Tracker) Reconcile(ctx context.Context, clientID string) (schema.Order, error) {
	t.mu.RLock()
	m, ok := t.orders[clientID]
	t.mu.RUnlock()
	if !ok {
		return schema.Order{}, exception.ErrOrderUnknown
	}

	m.mu.Lock()
	if m.order.State != schema.OrderStateFailed {
		order := m.order
		m.mu.Unlock()
		return order, nil
	}
	pair, exchangeID, fallbackID := m.order.Pair, m.order.ExchangeID, m.order.ClientID
	m.mu.Unlock()

	var (
		snap gateway.OrderSnapshot
		err  error
	)
	if exchangeID != "" {
		snap, err = t.gw.QueryOrder(ctx, pair, exchangeID)
	} else {
		snap, err = t.gw.QueryOrderByClientID(ctx, pair, fallbackID)
	}

	m.mu.Lock()
	if stderrors.Is(err, exception.ErrOrderUnknown) {
		// The submit never reached the exchange's book.
		m.order.State = schema.OrderStateRejected
		m.order.UpdatedAt = t.clk.Now()
		order := m.order
		m.mu.Unlock()

		t.metrics.IncReconcile()
		t.emit(order, schema.OrderEventReconciled, "submit never took effect")
		t.dispatch(order)
		return order, nil
	}
	if err != nil {
		order := m.order
		m.mu.Unlock()
		return order, err
	}

	m.order.ExchangeID = snap.ExchangeID
	order, changed, applyErr := t.applyLocked(m, snap)
	m.mu.Unlock()
	if applyErr != nil {
		return order, applyErr
	}

	t.metrics.IncReconcile()
	t.emit(order, schema.OrderEventReconciled, "")
	if changed {
		t.dispatch(order)
	}
	return order, nil
}

// stateRank orders lifecycle states along the lattice. Failed ranks with
// Open so reconciliation can still move the order anywhere authoritative.
func stateRank(s schema.OrderState) int {
	switch s {
	case schema.OrderStatePending:
		return 0
	case schema.OrderStateOpen, schema.OrderStateFailed:
		return 1
	case schema.OrderStatePartiallyFilled:
		return 2
	case schema.OrderStateFilled, schema.OrderStateCanceled, schema.OrderStateRejected:
		return 3
	default:
		return 0
	}
}

func (t *Tracker) applyLocked(m *managed, snap gateway.OrderSnapshot) (schema.Order, bool, error) {
	cur := &m.order

	if snap.State == schema.OrderStateUnknown {
		return *cur, false, exception.ErrOrderStaleTransition
	}
	if cur.State.Terminal() {
		// A committed fill beats a cancel acknowledgement that raced it.
		if !(cur.State == schema.OrderStateCanceled && snap.State == schema.OrderStateFilled && snap.FilledQty >= cur.Qty) {
			return *cur, false, nil
		}
	} else if stateRank(snap.State) < stateRank(cur.State) {
		return *cur, false, exception.ErrOrderStaleTransition
	}
	if snap.FilledQty < cur.FilledQty {
		return *cur, false, exception.ErrOrderInvalidFillQty
	}
	if snap.FilledQty > cur.Qty {
		return *cur, false, exception.ErrOrderInvalidFillQty
	}

	fillDelta := snap.FilledQty - cur.FilledQty
	stateChanged := snap.State != cur.State

	if !stateChanged && fillDelta == 0 {
		return *cur, false, nil
	}

	cur.State = snap.State
	cur.FilledQty = snap.FilledQty
	if snap.AvgFillPrice > 0 {
		cur.AvgFillPrice = snap.AvgFillPrice
	}
	if snap.UpdatedAt > 0 {
		cur.UpdatedAt = snap.UpdatedAt
	} else {
		cur.UpdatedAt = t.clk.Now()
	}
	order := *cur

	if fillDelta > 0 {
		if t.gov != nil {
			t.gov.ApplyFill(order.Pair, order.Side, fillDelta)
		}
		t.emit(order, schema.OrderEventFill, "")
	}
	if stateChanged {
		switch order.State {
		case schema.OrderStateCanceled:
			t.emit(order, schema.OrderEventCanceled, "")
		case schema.OrderStateRejected:
			t.emit(order, schema.OrderEventRejected, "")
		case schema.OrderStateFailed:
			t.emit(order, schema.OrderEventFailed, "")
		}
	}
	return order, true, nil
}

func (t *Tracker) emit(order schema.Order, eventType schema.OrderEventType, reason string) {
	t.metrics.IncOrderEvent(eventType)
	if t.events == nil {
		return
	}
	err := t.events.TryPublish(schema.OrderEvent{
		Ts:           order.UpdatedAt,
		Type:         eventType,
		ClientID:     order.ClientID,
		ExchangeID:   order.ExchangeID,
		StrategyID:   order.StrategyID,
		Pair:         order.Pair,
		Side:         order.Side,
		OrderType:    order.Type,
		State:        order.State,
		Price:        order.Price,
		Qty:          order.Qty,
		FilledQty:    order.FilledQty,
		AvgFillPrice: order.AvgFillPrice,
		Reason:       reason,
	})
	if err != nil {
		t.metrics.IncQueueDrop()
		logs.Warnf("drop order event %s for %s, err: %+v", eventType, order.ClientID, err)
	}
}

func (t *Tracker) dispatch(order schema.Order) {
	t.notifyMu.RLock()
	fn := t.notify
	t.notifyMu.RUnlock()
	if fn != nil {
		fn(order)
	}
}
