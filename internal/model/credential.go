package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Credential 一次成功采购得到的账号凭据（user_orders 索引）。
// OrderKey 形如 "<order_id>_<n>"，n 为订单内第几个账号。
type Credential struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	CreatedAt time.Time `json:"acquired_at"`

	BuyerID  string          `gorm:"size:128;not null;index" json:"buyer_id"`
	OrderKey string          `gorm:"size:128;uniqueIndex;not null" json:"order_key"`
	OrderID  string          `gorm:"size:64;not null;index" json:"order_id"`
	Phone    string          `gorm:"size:32;not null;index" json:"phone"`
	ItemID   int64           `gorm:"not null" json:"item_id"`
	Cost     decimal.Decimal `gorm:"type:numeric;not null;default:0" json:"cost"`
}

func (Credential) TableName() string { return "credentials" }

// PhoneOwner 是 phone_users 索引：一个号码同一时刻至多归属一个买家。
type PhoneOwner struct {
	Phone     string    `gorm:"primarykey;size:32" json:"phone"`
	BuyerID   string    `gorm:"size:128;not null;index" json:"buyer_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (PhoneOwner) TableName() string { return "phone_owners" }
