package gateway

import (
	"context"
	"errors"

	"main/internal/schema"
	"main/pkg/exception"
)

// SubmitRequest carries everything the exchange needs to place one order.
// ClientID is the engine-assigned idempotency key.
type SubmitRequest struct {
	ClientID  string
	Pair      schema.Pair
	Side      schema.OrderSide
	Type      schema.OrderType
	Price     schema.Price
	StopPrice schema.Price
	Qty       schema.Quantity
}

// SubmitResult is the exchange acceptance of a submit.
type SubmitResult struct {
	ExchangeID string
}

// OrderSnapshot is the exchange's authoritative view of an order.
// UpdatedAt is the exchange-reported timestamp in unix nanoseconds; the
// tracker uses it to arbitrate cancel-versus-fill races and to discard
// reordered status responses.
type OrderSnapshot struct {
	ExchangeID   string
	State        schema.OrderState
	FilledQty    schema.Quantity
	AvgFillPrice schema.Price
	UpdatedAt    int64
}

// Gateway is the request/response boundary to the exchange. All calls are
// network operations bounded by the context; implementations must not be
// retried blindly by callers since submits are not idempotent on the wire.
type Gateway interface {
	SubmitOrder(ctx context.Context, req SubmitRequest) (SubmitResult, error)
	// CancelOrder acknowledges with a snapshot: a cancel that lost the race
	// to a committed fill returns the filled snapshot instead of an error.
	CancelOrder(ctx context.Context, pair schema.Pair, exchangeID string) (OrderSnapshot, error)
	QueryOrder(ctx context.Context, pair schema.Pair, exchangeID string) (OrderSnapshot, error)
	// QueryOrderByClientID resolves an ambiguous submit: it reports whether
	// the exchange ever saw the client order id. ErrOrderUnknown means the
	// submit never took effect.
	QueryOrderByClientID(ctx context.Context, pair schema.Pair, clientID string) (OrderSnapshot, error)
	GetBalance(ctx context.Context, asset string) (schema.Balance, error)
}

// ErrorKind partitions gateway failures for retry policy.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	// KindTransient failures may be retried with backoff up to a bound.
	KindTransient
	// KindPermanent failures are exchange rejections; never retried.
	KindPermanent
	// KindUnknownOutcome means the request may or may not have taken effect.
	// Resolution requires a reconciling query, never a resubmit.
	KindUnknownOutcome
)

// Classify maps an error from a gateway call to its retry class.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, exception.ErrGatewayRejected):
		return KindPermanent
	case errors.Is(err, exception.ErrGatewayRateLimited),
		errors.Is(err, exception.ErrGatewayUnavailable):
		return KindTransient
	case errors.Is(err, exception.ErrGatewayTimeout),
		errors.Is(err, exception.ErrGatewayUnknownOutcome),
		errors.Is(err, context.DeadlineExceeded):
		return KindUnknownOutcome
	default:
		return KindTransient
	}
}
