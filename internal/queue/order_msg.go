package queue

import (
	"fmt"
	"strings"

	"autotg/internal/model"

	"github.com/shopspring/decimal"
)

// OrderMessage 是写入 Kafka 的新订单事件。
type OrderMessage struct {
	EventID     string          `json:"event_id"`
	OrderID     string          `json:"order_id"`
	BuyerID     string          `json:"buyer_id"`
	ChatID      string          `json:"chat_id"`
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"` // 订单总额
	Status      string          `json:"status"`
}

// Validate 做最小字段校验，防止消费者处理脏消息。
func (m OrderMessage) Validate() error {
	if strings.TrimSpace(m.OrderID) == "" {
		return fmt.Errorf("order_id is required")
	}
	if strings.TrimSpace(m.BuyerID) == "" {
		return fmt.Errorf("buyer_id is required")
	}
	if m.Quantity < 0 {
		return fmt.Errorf("quantity must be >= 0")
	}
	if m.Price.IsNegative() {
		return fmt.Errorf("price must be >= 0")
	}
	return nil
}

// ToOrder 转为流水线使用的订单；数量缺省为 1，chat 缺省为买家私聊。
func (m OrderMessage) ToOrder() model.Order {
	qty := m.Quantity
	if qty < 1 {
		qty = 1
	}
	chat := m.ChatID
	if chat == "" {
		chat = m.BuyerID
	}
	return model.Order{
		OrderID:     m.OrderID,
		BuyerID:     m.BuyerID,
		ChatID:      chat,
		Description: m.Description,
		Quantity:    qty,
		UnitPrice:   m.Price.Div(decimal.NewFromInt(int64(qty))),
		TotalPrice:  m.Price,
		Status:      model.OrderStatus(strings.ToLower(m.Status)),
	}
}
