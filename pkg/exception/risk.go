package exception

import "errors"

var (
	ErrRiskKillSwitch          = errors.New("risk: kill switch engaged")
	ErrRiskPairNotPermitted    = errors.New("risk: pair not permitted")
	ErrRiskMaxOrderQtyExceeded = errors.New("risk: exceeds max order quantity")
	ErrRiskMaxPositionExceeded = errors.New("risk: exceeds max position notional")
	ErrRiskInsufficientBalance = errors.New("risk: insufficient balance")
	ErrRiskNoReferencePrice    = errors.New("risk: no reference price for market order")
)
