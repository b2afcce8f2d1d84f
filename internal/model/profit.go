package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketplaceFeeRate 市场抽成后卖家实收比例。
var MarketplaceFeeRate = decimal.RequireFromString("0.97")

// OrderProfit 订单利润记账：市场实收减去交易所采购成本。
type OrderProfit struct {
	OrderID   string          `gorm:"primarykey;size:64" json:"order_id"`
	CreatedAt time.Time       `json:"created_at"`
	Sum       decimal.Decimal `gorm:"type:numeric;not null" json:"sum"`
	Net       decimal.Decimal `gorm:"type:numeric;not null" json:"net"`
	Cost      decimal.Decimal `gorm:"type:numeric;not null" json:"cost"`
	Profit    decimal.Decimal `gorm:"type:numeric;not null" json:"profit"`
	Country   string          `gorm:"size:8" json:"country"`
}

func (OrderProfit) TableName() string { return "order_profits" }

// NewOrderProfit 根据订单金额与采购成本计算利润。
func NewOrderProfit(orderID string, sum, cost decimal.Decimal, country string) OrderProfit {
	net := sum.Mul(MarketplaceFeeRate)
	return OrderProfit{
		OrderID: orderID,
		Sum:     sum,
		Net:     net,
		Cost:    cost,
		Profit:  net.Sub(cost),
		Country: country,
	}
}
