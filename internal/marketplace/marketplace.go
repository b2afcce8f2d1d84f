// Package marketplace 定义与交易市场的协作接口（订单详情、消息、退款、近期销售），
// 以及一个基于 HTTP JSON 网关的默认实现。
package marketplace

import (
	"context"

	"autotg/internal/model"

	"github.com/shopspring/decimal"
)

// OrderDetail 订单详情。
type OrderDetail struct {
	OrderID         string            `json:"order_id"`
	Status          model.OrderStatus `json:"status"`
	BuyerID         string            `json:"buyer_id"`
	FullDescription string            `json:"full_description"`
	Quantity        int               `json:"quantity"`
	Sum             decimal.Decimal   `json:"sum"`
}

// Sale 近期销售记录中的一条。
type Sale struct {
	OrderID string `json:"order_id"`
	BuyerID string `json:"buyer_id"`
}

// Marketplace 市场客户端需要提供的能力。
type Marketplace interface {
	GetOrder(ctx context.Context, orderID string) (OrderDetail, error)
	SendMessage(ctx context.Context, chatID, text string) error
	Refund(ctx context.Context, orderID string) error
	RecentSales(ctx context.Context, buyerID string) ([]Sale, error)
}
