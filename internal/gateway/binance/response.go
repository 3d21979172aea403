package binance

import (
	"main/internal/gateway"
	"main/internal/schema"
	"main/pkg/exception"
)

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

type orderResponse struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	CumQuoteQty   string `json:"cummulativeQuoteQty"`
	Status        string `json:"status"`
	TransactTime  int64  `json:"transactTime"`
	UpdateTime    int64  `json:"updateTime"`
}

type accountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

func mapStatus(status string) schema.OrderState {
	switch status {
	case "NEW", "PENDING_CANCEL":
		return schema.OrderStateOpen
	case "PARTIALLY_FILLED":
		return schema.OrderStatePartiallyFilled
	case "FILLED":
		return schema.OrderStateFilled
	case "CANCELED", "EXPIRED":
		return schema.OrderStateCanceled
	case "REJECTED":
		return schema.OrderStateRejected
	default:
		return schema.OrderStateUnknown
	}
}

func (r orderResponse) snapshot() (gateway.OrderSnapshot, error) {
	if r.OrderID == 0 {
		return gateway.OrderSnapshot{}, exception.ErrGatewayEmptyOrderID
	}
	executed, err := schema.ParseQuantity(r.ExecutedQty)
	if err != nil {
		return gateway.OrderSnapshot{}, err
	}
	var avg schema.Price
	if executed > 0 && r.CumQuoteQty != "" {
		quote, err := schema.ParsePrice(r.CumQuoteQty)
		if err != nil {
			return gateway.OrderSnapshot{}, err
		}
		avg = schema.Price(int64(quote) * schema.Scale / int64(executed))
	}
	ts := r.UpdateTime
	if ts == 0 {
		ts = r.TransactTime
	}
	return gateway.OrderSnapshot{
		ExchangeID:   formatOrderID(r.OrderID),
		State:        mapStatus(r.Status),
		FilledQty:    executed,
		AvgFillPrice: avg,
		UpdatedAt:    ts * int64(1_000_000), // exchange reports milliseconds
	}, nil
}
