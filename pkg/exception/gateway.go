package exception

import "errors"

var (
	ErrGatewayTimeout        = errors.New("gateway: request timed out")
	ErrGatewayRateLimited    = errors.New("gateway: rate limited")
	ErrGatewayRejected       = errors.New("gateway: order rejected")
	ErrGatewayUnknownOutcome = errors.New("gateway: unknown outcome")
	ErrGatewayUnavailable    = errors.New("gateway: unavailable")
	ErrGatewayDecodeResponse = errors.New("gateway: decode response body")
	ErrGatewayEmptyOrderID   = errors.New("gateway: empty response order id")
)
