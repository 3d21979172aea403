package backtest

import (
	"strconv"
	"strings"

	"main/internal/schema"
)

// Trade is one executed fill in the replay, recorded in execution order.
type Trade struct {
	Ts       int64
	Pair     schema.Pair
	Side     schema.OrderSide
	Price    schema.Price
	Qty      schema.Quantity
	ClientID string
}

// Report aggregates the outcome of one replay.
type Report struct {
	Trades      []Trade
	RealizedPnL schema.Notional
	MaxDrawdown schema.Notional
	RoundTrips  int
	WinningRTs  int
}

// WinRate returns winning round trips over total round trips in percent.
func (r *Report) WinRate() float64 {
	if r.RoundTrips == 0 {
		return 0
	}
	return float64(r.WinningRTs) / float64(r.RoundTrips) * 100
}

// TradeLog renders the trades as one line per fill. The format is fixed
// so identical replays produce byte-identical logs.
func (r *Report) TradeLog() string {
	var b strings.Builder
	for _, t := range r.Trades {
		b.WriteString(strconv.FormatInt(t.Ts, 10))
		b.WriteByte(' ')
		b.WriteString(string(t.Pair))
		b.WriteByte(' ')
		b.WriteString(t.Side.String())
		b.WriteByte(' ')
		b.WriteString(schema.FormatQuantity(t.Qty))
		b.WriteByte('@')
		b.WriteString(schema.FormatPrice(t.Price))
		b.WriteByte('\n')
	}
	return b.String()
}

// lot is an open long position parcel awaiting a matching sell.
type lot struct {
	qty   schema.Quantity
	price schema.Price
}

// pnlBook matches sells against buys FIFO per pair and tracks the
// realized equity curve for drawdown.
type pnlBook struct {
	lots     map[schema.Pair][]lot
	realized schema.Notional
	peak     schema.Notional
	drawdown schema.Notional

	roundTrips int
	winning    int
}

func newPnlBook() *pnlBook {
	return &pnlBook{lots: make(map[schema.Pair][]lot)}
}

func (b *pnlBook) apply(t Trade) {
	switch t.Side {
	case schema.OrderSideBuy:
		b.lots[t.Pair] = append(b.lots[t.Pair], lot{qty: t.Qty, price: t.Price})
	case schema.OrderSideSell:
		b.applySell(t)
	}

	if b.realized > b.peak {
		b.peak = b.realized
	}
	if dd := b.peak - b.realized; dd > b.drawdown {
		b.drawdown = dd
	}
}

func (b *pnlBook) applySell(t Trade) {
	remaining := t.Qty
	queue := b.lots[t.Pair]
	var tripPnl schema.Notional
	matched := false

	for remaining > 0 && len(queue) > 0 {
		head := &queue[0]
		q := head.qty
		if q > remaining {
			q = remaining
		}
		pnl, overflow := schema.Mul(t.Price-head.price, q)
		if !overflow {
			tripPnl += pnl
		}
		head.qty -= q
		remaining -= q
		matched = true
		if head.qty == 0 {
			queue = queue[1:]
		}
	}
	b.lots[t.Pair] = queue

	if matched {
		b.realized += tripPnl
		b.roundTrips++
		if tripPnl > 0 {
			b.winning++
		}
	}
}
