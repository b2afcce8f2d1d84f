// Package store 持有插件设置、国家策略与归属登记表。
// 所有读-改-写序列都在同一把互斥锁内完成，每次逻辑更新在一个事务里落库。
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"autotg/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store 替代全局的设置/登记字典，作为显式上下文注入各组件。
type Store struct {
	mu       sync.Mutex
	db       *gorm.DB
	settings model.Settings
}

// Open 建表并加载设置文档，不存在时写入默认值。
func Open(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(
		&model.SettingsDocument{},
		&model.Country{},
		&model.Credential{},
		&model.PhoneOwner{},
		&model.OrderProfit{},
	); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s := &Store{db: db}
	var doc model.SettingsDocument
	err := db.First(&doc, 1).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		s.settings = model.DefaultSettings()
		if err := s.persistSettings(db, s.settings); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("load settings: %w", err)
	default:
		// 先填默认值，旧文档缺失的字段保持默认。
		cfg := model.DefaultSettings()
		if err := json.Unmarshal([]byte(doc.Data), &cfg); err != nil {
			return nil, fmt.Errorf("decode settings: %w", err)
		}
		s.settings = cfg
	}
	return s, nil
}

// Settings 返回设置快照。
func (s *Store) Settings() model.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.Clone()
}

// UpdateSettings 在锁内修改设置并原子落库；落库失败时内存状态不变。
func (s *Store) UpdateSettings(fn func(*model.Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.settings.Clone()
	fn(&next)
	if err := s.persistSettings(s.db, next); err != nil {
		return err
	}
	s.settings = next
	return nil
}

func (s *Store) persistSettings(db *gorm.DB, cfg model.Settings) error {
	b, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	doc := model.SettingsDocument{ID: 1, Data: string(b)}
	if err := db.Save(&doc).Error; err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// UpsertCountry 新增或覆盖一个国家策略。
func (s *Store) UpsertCountry(c model.Country) error {
	c, err := normalizeCountry(c)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Save(&c).Error
}

// SeedCountry 仅在代码不存在时写入国家策略，已有的价格区间保持不变。
func (s *Store) SeedCountry(c model.Country) (bool, error) {
	c, err := normalizeCountry(c)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&c)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func normalizeCountry(c model.Country) (model.Country, error) {
	c.Code = strings.ToUpper(strings.TrimSpace(c.Code))
	if c.Code == "" {
		return c, fmt.Errorf("country code is required")
	}
	if c.MaxPrice.LessThan(c.MinPrice) {
		return c, fmt.Errorf("country %s: max_price must be >= min_price", c.Code)
	}
	return c, nil
}

// Countries 返回全部国家策略，按代码排序。
func (s *Store) Countries() ([]model.Country, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []model.Country
	if err := s.db.Order("code").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// ResolveCountry 用订单标签匹配国家：标签以国家代码开头即命中，长代码优先。
func (s *Store) ResolveCountry(tag string) (model.Country, bool, error) {
	list, err := s.Countries()
	if err != nil {
		return model.Country{}, false, err
	}
	sort.SliceStable(list, func(i, j int) bool {
		return len(list[i].Code) > len(list[j].Code)
	})
	tag = strings.ToUpper(tag)
	for _, c := range list {
		if strings.HasPrefix(tag, c.Code) {
			return c, true, nil
		}
	}
	return model.Country{}, false, nil
}
