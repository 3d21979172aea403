package schema

// Price is a scaled integer with 8 implied decimal places.
type Price int64

// Quantity is a scaled integer with 8 implied decimal places.
type Quantity int64

// Notional is a scaled integer with 8 implied decimal places.
type Notional int64

// Scale is the implied decimal factor shared by Price, Quantity and Notional.
const Scale = 100_000_000

// Pair identifies a trading pair, e.g. "BTCUSDT".
type Pair string

// OrderSide describes order direction.
type OrderSide uint16

const (
	OrderSideUnknown OrderSide = iota
	OrderSideBuy
	OrderSideSell
)

func (s OrderSide) String() string {
	switch s {
	case OrderSideBuy:
		return "BUY"
	case OrderSideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the other side. Unknown maps to itself.
func (s OrderSide) Opposite() OrderSide {
	switch s {
	case OrderSideBuy:
		return OrderSideSell
	case OrderSideSell:
		return OrderSideBuy
	default:
		return s
	}
}

// OrderType describes order type.
type OrderType uint16

const (
	OrderTypeUnknown OrderType = iota
	OrderTypeMarket
	OrderTypeLimit
	OrderTypeStopLimit
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "MARKET"
	case OrderTypeLimit:
		return "LIMIT"
	case OrderTypeStopLimit:
		return "STOP_LIMIT"
	default:
		return "UNKNOWN"
	}
}

// OrderState tracks the lifecycle of an order.
//
// Pending -> Open -> PartiallyFilled -> Filled | Canceled | Rejected | Failed.
// Failed marks an unknown outcome awaiting reconciliation; it is the only
// terminal-looking state the tracker may still move out of once the
// exchange's authoritative record is known.
type OrderState uint16

const (
	OrderStateUnknown OrderState = iota
	OrderStatePending
	OrderStateOpen
	OrderStatePartiallyFilled
	OrderStateFilled
	OrderStateCanceled
	OrderStateRejected
	OrderStateFailed
)

func (s OrderState) String() string {
	switch s {
	case OrderStatePending:
		return "PENDING"
	case OrderStateOpen:
		return "OPEN"
	case OrderStatePartiallyFilled:
		return "PARTIALLY_FILLED"
	case OrderStateFilled:
		return "FILLED"
	case OrderStateCanceled:
		return "CANCELED"
	case OrderStateRejected:
		return "REJECTED"
	case OrderStateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transitions are expected.
// Failed is not terminal: it awaits reconciliation.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderStateFilled, OrderStateCanceled, OrderStateRejected:
		return true
	default:
		return false
	}
}

// Settled reports whether the order needs no further action from its owner,
// counting Failed as settled for scheduling purposes.
func (s OrderState) Settled() bool {
	return s.Terminal() || s == OrderStateFailed
}

// Order is the tracker's authoritative view of one order.
type Order struct {
	ClientID     string
	ExchangeID   string
	StrategyID   string
	Pair         Pair
	Side         OrderSide
	Type         OrderType
	Price        Price
	StopPrice    Price
	Qty          Quantity
	FilledQty    Quantity
	AvgFillPrice Price
	State        OrderState
	CreatedAt    int64
	UpdatedAt    int64
}

// Open reports whether the order is resting on the exchange.
func (o Order) Open() bool {
	return o.State == OrderStateOpen || o.State == OrderStatePartiallyFilled
}

// StrategyKind describes the advanced order family of a strategy instance.
type StrategyKind uint16

const (
	StrategyKindUnknown StrategyKind = iota
	StrategyKindOCO
	StrategyKindTWAP
	StrategyKindGrid
)

func (k StrategyKind) String() string {
	switch k {
	case StrategyKindOCO:
		return "OCO"
	case StrategyKindTWAP:
		return "TWAP"
	case StrategyKindGrid:
		return "GRID"
	default:
		return "UNKNOWN"
	}
}

// StrategyState tracks the lifecycle of a strategy instance.
type StrategyState uint16

const (
	StrategyStateUnknown StrategyState = iota
	StrategyStateActive
	StrategyStateStopping
	StrategyStateCompleted
	StrategyStateAborted
)

func (s StrategyState) String() string {
	switch s {
	case StrategyStateActive:
		return "ACTIVE"
	case StrategyStateStopping:
		return "STOPPING"
	case StrategyStateCompleted:
		return "COMPLETED"
	case StrategyStateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the strategy owns no live work anymore.
func (s StrategyState) Terminal() bool {
	return s == StrategyStateCompleted || s == StrategyStateAborted
}

// StrategyInstance is the engine's record of one running strategy.
type StrategyInstance struct {
	ID        string
	Kind      StrategyKind
	Pair      Pair
	State     StrategyState
	OrderIDs  []string
	CreatedAt int64
}

// Tick is one market data update for a pair.
// Ts is unix nanoseconds and is monotonically non-decreasing per pair.
type Tick struct {
	Pair  Pair
	Price Price
	Ts    int64
}

// Balance is a read-only snapshot of one asset fetched from the exchange.
type Balance struct {
	Asset  string
	Free   Quantity
	Locked Quantity
}
