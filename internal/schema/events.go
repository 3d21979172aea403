package schema

// OrderEventType categorizes an order lifecycle event.
type OrderEventType uint16

const (
	OrderEventUnknown OrderEventType = iota
	OrderEventSubmitted
	OrderEventAccepted
	OrderEventFill
	OrderEventCanceled
	OrderEventRejected
	OrderEventFailed
	OrderEventReconciled
)

func (t OrderEventType) String() string {
	switch t {
	case OrderEventSubmitted:
		return "SUBMITTED"
	case OrderEventAccepted:
		return "ACCEPTED"
	case OrderEventFill:
		return "FILL"
	case OrderEventCanceled:
		return "CANCELED"
	case OrderEventRejected:
		return "REJECTED"
	case OrderEventFailed:
		return "FAILED"
	case OrderEventReconciled:
		return "RECONCILED"
	default:
		return "UNKNOWN"
	}
}

// OrderEvent is one record of the append-only lifecycle stream the core
// publishes for the persistence collaborator. The core never reads it back.
type OrderEvent struct {
	Seq          uint64
	Ts           int64
	Type         OrderEventType
	ClientID     string
	ExchangeID   string
	StrategyID   string
	Pair         Pair
	Side         OrderSide
	OrderType    OrderType
	State        OrderState
	Price        Price
	Qty          Quantity
	FilledQty    Quantity
	AvgFillPrice Price
	Reason       string
}
