package store

import (
	"errors"

	"autotg/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RecordProfit 写入（或覆盖）订单利润记录。
func (s *Store) RecordProfit(p model.OrderProfit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Save(&p).Error
}

// Profit 查询订单利润；不存在时 ok=false。
func (s *Store) Profit(orderID string) (model.OrderProfit, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var p model.OrderProfit
	err := s.db.Where("order_id = ?", orderID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return p, false, nil
	}
	if err != nil {
		return p, false, err
	}
	return p, true, nil
}

// TotalProfit 汇总全部订单利润。
func (s *Store) TotalProfit() (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var list []model.OrderProfit
	if err := s.db.Find(&list).Error; err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, p := range list {
		total = total.Add(p.Profit)
	}
	return total, nil
}
