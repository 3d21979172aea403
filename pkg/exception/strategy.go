package exception

import "errors"

var (
	ErrStrategyUnknown       = errors.New("strategy: not found")
	ErrStrategyInvalidParams = errors.New("strategy: invalid parameters")
	ErrStrategyEngineClosed  = errors.New("strategy: engine closed")
)
