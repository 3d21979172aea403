package strategy

import (
	"context"
	"sync"
	"time"

	"main/internal/clock"
	"main/internal/feed"
	"main/internal/schema"
	"main/internal/tracker"
	"main/pkg/exception"

	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
)

const updateBuffer = 256

// Engine hosts live strategy instances, one event loop goroutine each.
// It owns the routing of tracker order updates back to the runner that
// placed the order.
type Engine struct {
	tr  *tracker.Tracker
	fd  feed.Feed
	clk clock.Clock

	mu        sync.RWMutex
	instances map[string]*instance
	closed    bool

	wg sync.WaitGroup
}

type instance struct {
	runner  Runner
	updates chan schema.Order
	stop    chan struct{}
	stopped sync.Once
	done    chan struct{}
}

// NewEngine creates an engine and installs itself as the tracker's
// order-update consumer.
func NewEngine(tr *tracker.Tracker, fd feed.Feed, clk clock.Clock) *Engine {
	if clk == nil {
		clk = clock.Real{}
	}
	e := &Engine{
		tr:        tr,
		fd:        fd,
		clk:       clk,
		instances: make(map[string]*instance),
	}
	tr.SetNotifier(e.routeOrderUpdate)
	return e
}

func (e *Engine) routeOrderUpdate(order schema.Order) {
	if order.StrategyID == "" {
		return
	}
	e.mu.RLock()
	inst, ok := e.instances[order.StrategyID]
	e.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case inst.updates <- order:
	default:
		// The poll loop re-derives order state, so a dropped update delays
		// the runner rather than corrupting it.
		logs.Warnf("drop order update %s for strategy %s", order.ClientID, order.StrategyID)
	}
}

// CreateOCO activates a one-cancels-other bracket and starts its loop.
func (e *Engine) CreateOCO(ctx context.Context, params OCOParams) (string, error) {
	runner, err := NewOCO(params, e.tr, e.clk)
	if err != nil {
		return "", err
	}
	return e.launch(ctx, runner)
}

// CreateTWAP activates a time-sliced parent order and starts its loop.
func (e *Engine) CreateTWAP(ctx context.Context, params TWAPParams) (string, error) {
	runner, err := NewTWAP(params, e.tr, e.clk)
	if err != nil {
		return "", err
	}
	return e.launch(ctx, runner)
}

// CreateGrid activates a grid ladder and starts its loop.
func (e *Engine) CreateGrid(ctx context.Context, params GridParams) (string, error) {
	runner, err := NewGrid(params, e.tr, e.fd, e.clk)
	if err != nil {
		return "", err
	}
	return e.launch(ctx, runner)
}

func (e *Engine) launch(ctx context.Context, runner Runner) (string, error) {
	id := runner.Instance().ID
	inst := &instance{
		runner:  runner,
		updates: make(chan schema.Order, updateBuffer),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", exception.ErrStrategyEngineClosed
	}
	e.instances[id] = inst
	e.mu.Unlock()

	if err := runner.Activate(ctx); err != nil {
		e.mu.Lock()
		delete(e.instances, id)
		e.mu.Unlock()
		return "", err
	}

	e.wg.Add(1)
	go e.run(ctx, inst)
	return id, nil
}

func (e *Engine) run(ctx context.Context, inst *instance) {
	defer e.wg.Done()
	defer close(inst.done)

	pair := inst.runner.Instance().Pair
	ticks, cancelTicks := e.fd.Subscribe(pair)
	defer cancelTicks()

	stopCh := inst.stop
	for {
		if inst.runner.Instance().State.Terminal() {
			return
		}

		var timerCh <-chan time.Time
		var timer *time.Timer
		if wake := inst.runner.NextWake(); wake > 0 {
			d := time.Duration(wake - e.clk.Now())
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timerCh = timer.C
		}

		select {
		case <-sys.Shutdown():
			inst.runner.Stop(ctx)
			e.stopTimer(timer)
			return
		case <-ctx.Done():
			inst.runner.Stop(context.WithoutCancel(ctx))
			e.stopTimer(timer)
			return
		case <-stopCh:
			stopCh = nil
			inst.runner.Stop(ctx)
		case tick := <-ticks:
			inst.runner.OnTick(ctx, tick)
		case order := <-inst.updates:
			inst.runner.OnOrderUpdate(ctx, order)
		case <-timerCh:
			inst.runner.OnTimer(ctx, e.clk.Now())
		}
		e.stopTimer(timer)
	}
}

func (e *Engine) stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// CancelStrategy requests a cooperative stop of one instance.
func (e *Engine) CancelStrategy(id string) error {
	e.mu.RLock()
	inst, ok := e.instances[id]
	e.mu.RUnlock()
	if !ok {
		return exception.ErrStrategyUnknown
	}
	inst.stopped.Do(func() { close(inst.stop) })
	return nil
}

// GetStrategy returns a snapshot of one instance.
func (e *Engine) GetStrategy(id string) (schema.StrategyInstance, error) {
	e.mu.RLock()
	inst, ok := e.instances[id]
	e.mu.RUnlock()
	if !ok {
		return schema.StrategyInstance{}, exception.ErrStrategyUnknown
	}
	return inst.runner.Instance(), nil
}

// ListStrategies returns snapshots of every instance, running or settled.
func (e *Engine) ListStrategies() []schema.StrategyInstance {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]schema.StrategyInstance, 0, len(e.instances))
	for _, inst := range e.instances {
		out = append(out, inst.runner.Instance())
	}
	return out
}

// GetOrderStatus exposes the tracker's view of one order.
func (e *Engine) GetOrderStatus(clientID string) (schema.Order, error) {
	order, ok := e.tr.Get(clientID)
	if !ok {
		return schema.Order{}, exception.ErrOrderUnknown
	}
	return order, nil
}

// Shutdown stops every instance and waits for their loops to drain.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	insts := make([]*instance, 0, len(e.instances))
	for _, inst := range e.instances {
		insts = append(insts, inst)
	}
	e.mu.Unlock()

	for _, inst := range insts {
		inst.stopped.Do(func() { close(inst.stop) })
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
