package exception

import "errors"

var (
	ErrOrderUnknown           = errors.New("order: not found")
	ErrOrderInvalidRequest    = errors.New("order: invalid request")
	ErrOrderUnsupportedType   = errors.New("order: unsupported type")
	ErrOrderNotCancelable     = errors.New("order: not cancelable in current state")
	ErrOrderStaleTransition   = errors.New("order: stale transition discarded")
	ErrOrderInvalidFillQty    = errors.New("order: fill exceeds requested quantity")
	ErrOrderMissingExchangeID = errors.New("order: exchange id not assigned")
)
