package risk

import (
	"context"
	"sync"

	"main/internal/feed"
	"main/internal/gateway"
	"main/internal/schema"
	"main/pkg/exception"

	"github.com/yanun0323/errors"
)

// PairConfig names one permitted pair and its settlement assets.
type PairConfig struct {
	Pair  schema.Pair `json:"pair" yaml:"pair"`
	Base  string      `json:"base" yaml:"base"`
	Quote string      `json:"quote" yaml:"quote"`
}

// Config defines static risk limits. A zero limit disables that check.
type Config struct {
	KillSwitch          bool            `json:"killSwitch" yaml:"killSwitch"`
	Pairs               []PairConfig    `json:"pairs" yaml:"pairs"`
	MaxOrderQty         schema.Quantity `json:"maxOrderQty" yaml:"maxOrderQty"`
	MaxPositionNotional schema.Notional `json:"maxPositionNotional" yaml:"maxPositionNotional"`
}

// Intent is one order the engine wants to place, seen before submission.
type Intent struct {
	Pair  schema.Pair
	Side  schema.OrderSide
	Type  schema.OrderType
	Price schema.Price
	Qty   schema.Quantity
}

// Governor gates every submission against static limits, the projected
// position, and the exchange balance. Positions move only on confirmed
// fills reported through ApplyFill.
type Governor struct {
	cfg     Config
	allowed map[schema.Pair]PairConfig
	feed    feed.Feed
	gw      gateway.Gateway

	mu        sync.Mutex
	positions map[schema.Pair]schema.Quantity
}

// NewGovernor creates a governor with static limits.
func NewGovernor(cfg Config, f feed.Feed, gw gateway.Gateway) *Governor {
	allowed := make(map[schema.Pair]PairConfig, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		allowed[p.Pair] = p
	}
	return &Governor{
		cfg:       cfg,
		allowed:   allowed,
		feed:      f,
		gw:        gw,
		positions: make(map[schema.Pair]schema.Quantity),
	}
}

// Check evaluates an intent. A nil return approves the submission; a typed
// exception error names the denial reason.
func (g *Governor) Check(ctx context.Context, intent Intent) error {
	if g.cfg.KillSwitch {
		return exception.ErrRiskKillSwitch
	}

	pairCfg, ok := g.allowed[intent.Pair]
	if !ok {
		return errors.Wrap(exception.ErrRiskPairNotPermitted, string(intent.Pair))
	}

	if intent.Qty <= 0 {
		return exception.ErrOrderInvalidRequest
	}
	if g.cfg.MaxOrderQty > 0 && intent.Qty > g.cfg.MaxOrderQty {
		return exception.ErrRiskMaxOrderQtyExceeded
	}

	ref, err := g.refPrice(intent)
	if err != nil {
		return err
	}

	notional, overflow := schema.Mul(ref, intent.Qty)
	if overflow {
		return exception.ErrRiskMaxPositionExceeded
	}

	if g.cfg.MaxPositionNotional > 0 {
		projected := applySide(g.Position(intent.Pair), intent.Side, intent.Qty)
		projNotional, overflow := schema.Mul(ref, absQuantity(projected))
		if overflow || projNotional > g.cfg.MaxPositionNotional {
			return errors.Wrap(exception.ErrRiskMaxPositionExceeded, string(intent.Pair))
		}
	}

	return g.checkBalance(ctx, pairCfg, intent, notional)
}

// CheckBatch evaluates orders that activate together, like a grid ladder.
// Every intent passes the per-order checks, and the combined notional of
// the whole batch counts against the position cap as if every order
// filled. Nothing may be submitted when any part of the batch is denied.
func (g *Governor) CheckBatch(ctx context.Context, intents []Intent) error {
	totals := make(map[schema.Pair]schema.Notional, 1)
	for _, intent := range intents {
		if err := g.Check(ctx, intent); err != nil {
			return err
		}

		ref, err := g.refPrice(intent)
		if err != nil {
			return err
		}
		notional, overflow := schema.Mul(ref, intent.Qty)
		if overflow {
			return errors.Wrap(exception.ErrRiskMaxPositionExceeded, string(intent.Pair))
		}
		prev := totals[intent.Pair]
		totals[intent.Pair] = prev + notional
		if totals[intent.Pair] < prev {
			return errors.Wrap(exception.ErrRiskMaxPositionExceeded, string(intent.Pair))
		}
	}

	if g.cfg.MaxPositionNotional <= 0 {
		return nil
	}
	for pair, total := range totals {
		if total > g.cfg.MaxPositionNotional {
			return errors.Wrap(exception.ErrRiskMaxPositionExceeded, string(pair))
		}
	}
	return nil
}

func (g *Governor) refPrice(intent Intent) (schema.Price, error) {
	ref := intent.Price
	if intent.Type == schema.OrderTypeMarket || ref <= 0 {
		tick, ok := g.feed.Latest(intent.Pair)
		if !ok {
			return 0, exception.ErrRiskNoReferencePrice
		}
		ref = tick.Price
	}
	return ref, nil
}

func (g *Governor) checkBalance(ctx context.Context, pairCfg PairConfig, intent Intent, notional schema.Notional) error {
	asset := pairCfg.Quote
	var need int64 = int64(notional)
	if intent.Side == schema.OrderSideSell {
		asset = pairCfg.Base
		need = int64(intent.Qty)
	}
	if asset == "" {
		return nil
	}

	balance, err := g.gw.GetBalance(ctx, asset)
	if err != nil {
		return errors.Wrap(err, "fetch balance")
	}
	if int64(balance.Free) < need {
		return errors.Wrap(exception.ErrRiskInsufficientBalance, asset)
	}
	return nil
}

// ApplyFill moves the net position by a confirmed fill delta.
func (g *Governor) ApplyFill(pair schema.Pair, side schema.OrderSide, qty schema.Quantity) {
	if qty <= 0 {
		return
	}
	g.mu.Lock()
	g.positions[pair] = applySide(g.positions[pair], side, qty)
	g.mu.Unlock()
}

// Position returns the net base position accumulated from fills.
func (g *Governor) Position(pair schema.Pair) schema.Quantity {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.positions[pair]
}

func applySide(pos schema.Quantity, side schema.OrderSide, qty schema.Quantity) schema.Quantity {
	switch side {
	case schema.OrderSideBuy:
		return pos + qty
	case schema.OrderSideSell:
		return pos - qty
	default:
		return pos
	}
}

func absQuantity(q schema.Quantity) schema.Quantity {
	if q < 0 {
		return -q
	}
	return q
}
