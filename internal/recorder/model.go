package recorder

import (
	"main/internal/schema"
)

// OrderEventRow is the persisted form of one lifecycle event. Scaled
// integers are stored raw; rendering is a reader concern.
type OrderEventRow struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	Seq          uint64 `gorm:"uniqueIndex"`
	Ts           int64  `gorm:"index"`
	EventType    string `gorm:"size:16"`
	ClientID     string `gorm:"size:36;index"`
	ExchangeID   string `gorm:"size:32"`
	StrategyID   string `gorm:"size:36;index"`
	Pair         string `gorm:"size:16"`
	Side         string `gorm:"size:8"`
	OrderType    string `gorm:"size:16"`
	State        string `gorm:"size:16"`
	Price        int64
	Qty          int64
	FilledQty    int64
	AvgFillPrice int64
	Reason       string `gorm:"size:256"`
}

// TableName keeps the table name stable across gorm naming strategies.
func (OrderEventRow) TableName() string {
	return "order_events"
}

func rowFromEvent(e schema.OrderEvent) OrderEventRow {
	return OrderEventRow{
		Seq:          e.Seq,
		Ts:           e.Ts,
		EventType:    e.Type.String(),
		ClientID:     e.ClientID,
		ExchangeID:   e.ExchangeID,
		StrategyID:   e.StrategyID,
		Pair:         string(e.Pair),
		Side:         e.Side.String(),
		OrderType:    e.OrderType.String(),
		State:        e.State.String(),
		Price:        int64(e.Price),
		Qty:          int64(e.Qty),
		FilledQty:    int64(e.FilledQty),
		AvgFillPrice: int64(e.AvgFillPrice),
		Reason:       e.Reason,
	}
}
