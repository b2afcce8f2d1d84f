package store

import (
	"errors"
	"fmt"
	"sort"

	"autotg/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrPhoneOwned 号码已登记在另一个买家名下。
var ErrPhoneOwned = errors.New("phone is owned by another buyer")

// OrderEntry 是 user_orders 文档中的一条记录。
type OrderEntry struct {
	Phone  string `json:"phone"`
	ItemID int64  `json:"item_id"`
}

// RegistryDocument 登记表的持久化形状。
type RegistryDocument struct {
	UserOrders map[string]map[string]OrderEntry `json:"user_orders"`
	PhoneUsers map[string]string                `json:"phone_users"`
}

// RegisterCredentials 逐个账号登记，每个账号的两个索引在同一事务内写入。
// 号码已属于其他买家的账号被跳过，其余照常登记；跳过的账号以 ErrPhoneOwned 合并返回。
func (s *Store) RegisterCredentials(creds []model.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var conflicts []error
	for i := range creds {
		c := creds[i]
		err := s.db.Transaction(func(tx *gorm.DB) error {
			if err := checkOwner(tx, c.Phone, c.BuyerID); err != nil {
				return err
			}
			if err := tx.Create(&c).Error; err != nil {
				return fmt.Errorf("create credential %s: %w", c.OrderKey, err)
			}
			owner := model.PhoneOwner{Phone: c.Phone, BuyerID: c.BuyerID}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&owner).Error; err != nil {
				return fmt.Errorf("register phone %s: %w", c.Phone, err)
			}
			return nil
		})
		if errors.Is(err, ErrPhoneOwned) {
			conflicts = append(conflicts, fmt.Errorf("%s: %w", c.OrderKey, err))
			continue
		}
		if err != nil {
			return err
		}
	}
	return errors.Join(conflicts...)
}

// ClaimPhone 懒登记：号码尚未登记时补写 phone→buyer；order_key 不存在时补一条凭据。
// order_key 已记在别的买家名下（未登记归属的历史数据）时，凭据随归属一起转给 c.BuyerID，
// 两个索引始终一致。
func (s *Store) ClaimPhone(c model.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := checkOwner(tx, c.Phone, c.BuyerID); err != nil {
			return err
		}
		var existing model.Credential
		err := tx.Where("order_key = ?", c.OrderKey).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			c.ID = 0
			if err := tx.Create(&c).Error; err != nil {
				return fmt.Errorf("create credential %s: %w", c.OrderKey, err)
			}
		case err != nil:
			return err
		case existing.Phone != c.Phone:
			return fmt.Errorf("credential %s holds phone %s, not %s", c.OrderKey, existing.Phone, c.Phone)
		case existing.BuyerID != c.BuyerID:
			if err := tx.Model(&existing).Update("buyer_id", c.BuyerID).Error; err != nil {
				return fmt.Errorf("move credential %s: %w", c.OrderKey, err)
			}
		}
		owner := model.PhoneOwner{Phone: c.Phone, BuyerID: c.BuyerID}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&owner).Error
	})
}

func checkOwner(tx *gorm.DB, phone, buyerID string) error {
	var owner model.PhoneOwner
	err := tx.Where("phone = ?", phone).First(&owner).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if owner.BuyerID != buyerID {
		return fmt.Errorf("%w: %s", ErrPhoneOwned, phone)
	}
	return nil
}

// OwnerOf 返回号码的登记归属；ok=false 表示未登记。
func (s *Store) OwnerOf(phone string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var owner model.PhoneOwner
	err := s.db.Where("phone = ?", phone).First(&owner).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return owner.BuyerID, true, nil
}

// CredentialsOf 返回买家名下全部凭据，按 order_key 排序。
func (s *Store) CredentialsOf(buyerID string) ([]model.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var list []model.Credential
	if err := s.db.Where("buyer_id = ?", buyerID).Order("order_key").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// CredentialsByOrder 返回某订单（含多账号后缀）下的全部凭据。
func (s *Store) CredentialsByOrder(orderID string) ([]model.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var list []model.Credential
	if err := s.db.Where("order_id = ?", orderID).Order("order_key").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// HasOrder 订单是否已产生过凭据，用于重复投递的幂等判断。
func (s *Store) HasOrder(orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	if err := s.db.Model(&model.Credential{}).Where("order_id = ?", orderID).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// Document 以 {user_orders, phone_users} 形状导出登记表。
func (s *Store) Document() (RegistryDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := RegistryDocument{
		UserOrders: map[string]map[string]OrderEntry{},
		PhoneUsers: map[string]string{},
	}
	var creds []model.Credential
	if err := s.db.Find(&creds).Error; err != nil {
		return doc, err
	}
	for _, c := range creds {
		if doc.UserOrders[c.BuyerID] == nil {
			doc.UserOrders[c.BuyerID] = map[string]OrderEntry{}
		}
		doc.UserOrders[c.BuyerID][c.OrderKey] = OrderEntry{Phone: c.Phone, ItemID: c.ItemID}
	}
	var owners []model.PhoneOwner
	if err := s.db.Find(&owners).Error; err != nil {
		return doc, err
	}
	for _, o := range owners {
		doc.PhoneUsers[o.Phone] = o.BuyerID
	}
	return doc, nil
}

// PhonesOf 返回买家拥有的去重号码列表。
func (s *Store) PhonesOf(buyerID string) ([]string, error) {
	creds, err := s.CredentialsOf(buyerID)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, c := range creds {
		if !seen[c.Phone] {
			seen[c.Phone] = true
			out = append(out, c.Phone)
		}
	}
	sort.Strings(out)
	return out, nil
}
