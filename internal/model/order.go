package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

// OrderStatus 是市场侧订单状态。
type OrderStatus string

const (
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusClosed    OrderStatus = "closed"
	OrderStatusRefunded  OrderStatus = "refunded"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order 是市场推送的新订单事件，读取后不再修改。
type Order struct {
	OrderID     string          `json:"order_id"`
	BuyerID     string          `json:"buyer_id"`
	ChatID      string          `json:"chat_id"`
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	Status      OrderStatus     `json:"status"`
}

// IsTerminal 表示订单已处于不可再履约的终态（退款/取消/关闭）。
func (s OrderStatus) IsTerminal() bool {
	switch OrderStatus(strings.ToLower(string(s))) {
	case OrderStatusRefunded, OrderStatusCancelled, OrderStatusClosed, "refund":
		return true
	}
	return false
}
