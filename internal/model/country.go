package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Country 国家价格区间策略，由管理端维护，流水线只读。
type Country struct {
	Code      string          `gorm:"primarykey;size:8" json:"code"`
	Name      string          `gorm:"size:128;not null" json:"name"`
	MinPrice  decimal.Decimal `gorm:"type:numeric;not null" json:"min_price"`
	MaxPrice  decimal.Decimal `gorm:"type:numeric;not null" json:"max_price"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (Country) TableName() string { return "countries" }
