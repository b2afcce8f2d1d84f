package store

import (
	"fmt"
	"path/filepath"
	"testing"

	"autotg/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openDB(t *testing.T, path string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(openDB(t, filepath.Join(t.TempDir(), "autotg.db")))
	require.NoError(t, err)
	return s
}

func cred(buyer, orderID string, n int, phone string, item int64) model.Credential {
	return model.Credential{
		BuyerID:  buyer,
		OrderID:  orderID,
		OrderKey: fmt.Sprintf("%s_%d", orderID, n),
		Phone:    phone,
		ItemID:   item,
		Cost:     decimal.NewFromInt(40),
	}
}

func TestOpenWritesDefaults(t *testing.T) {
	s := newTestStore(t)
	cfg := s.Settings()
	assert.True(t, cfg.AutoReturns)
	assert.True(t, cfg.BuyCheapest)
	assert.False(t, cfg.MultiAccountDelivery)
	assert.Equal(t, model.DefaultPurchaseTemplate, cfg.PurchaseTemplate)
	assert.True(t, cfg.LowBalanceThreshold.Equal(decimal.NewFromInt(500)))
}

func TestUpdateSettingsPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autotg.db")
	s, err := Open(openDB(t, path))
	require.NoError(t, err)

	require.NoError(t, s.UpdateSettings(func(cfg *model.Settings) {
		cfg.ExchangeToken = "tok"
		cfg.BlockedUsers = append(cfg.BlockedUsers, "Mallory")
		cfg.MultiAccountDelivery = true
	}))

	reopened, err := Open(openDB(t, path))
	require.NoError(t, err)
	cfg := reopened.Settings()
	assert.Equal(t, "tok", cfg.ExchangeToken)
	assert.True(t, cfg.MultiAccountDelivery)
	assert.True(t, cfg.IsBlocked("mallory"))
}

func TestSettingsSnapshotIsCopy(t *testing.T) {
	s := newTestStore(t)
	cfg := s.Settings()
	cfg.Origins[0] = "stealer"
	assert.Equal(t, "autoreg", s.Settings().Origins[0])
}

func TestResolveCountryPrefersLongestCode(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertCountry(model.Country{Code: "us", Name: "USA", MinPrice: decimal.NewFromInt(1), MaxPrice: decimal.NewFromInt(100)}))
	require.NoError(t, s.UpsertCountry(model.Country{Code: "USA", Name: "USA alt", MinPrice: decimal.NewFromInt(1), MaxPrice: decimal.NewFromInt(100)}))

	c, ok, err := s.ResolveCountry("usa1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "USA", c.Code)

	c, ok, err = s.ResolveCountry("US")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "US", c.Code)

	_, ok, err = s.ResolveCountry("KZ")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpsertCountryRejectsInvertedBand(t *testing.T) {
	s := newTestStore(t)
	err := s.UpsertCountry(model.Country{Code: "KZ", MinPrice: decimal.NewFromInt(10), MaxPrice: decimal.NewFromInt(5)})
	assert.Error(t, err)
}

func TestRegisterCredentialsKeepsBothIndices(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RegisterCredentials([]model.Credential{
		cred("alice", "1001", 1, "79990001", 11),
		cred("alice", "1001", 2, "79990002", 12),
	}))

	doc, err := s.Document()
	require.NoError(t, err)
	assert.Equal(t, OrderEntry{Phone: "79990001", ItemID: 11}, doc.UserOrders["alice"]["1001_1"])
	assert.Equal(t, OrderEntry{Phone: "79990002", ItemID: 12}, doc.UserOrders["alice"]["1001_2"])
	assert.Equal(t, "alice", doc.PhoneUsers["79990001"])
	assert.Equal(t, "alice", doc.PhoneUsers["79990002"])

	has, err := s.HasOrder("1001")
	require.NoError(t, err)
	assert.True(t, has)

	phones, err := s.PhonesOf("alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"79990001", "79990002"}, phones)
}

func TestRegisterCredentialsSkipsOnlyForeignPhone(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RegisterCredentials([]model.Credential{cred("alice", "1001", 1, "79990001", 11)}))

	err := s.RegisterCredentials([]model.Credential{
		cred("bob", "2002", 1, "79990003", 21),
		cred("bob", "2002", 2, "79990001", 22),
	})
	require.ErrorIs(t, err, ErrPhoneOwned)
	assert.Contains(t, err.Error(), "2002_2")

	// 冲突的号码不登记，同一订单的其他账号照常登记
	has, err := s.HasOrder("2002")
	require.NoError(t, err)
	assert.True(t, has)
	phones, err := s.PhonesOf("bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"79990003"}, phones)

	doc, err := s.Document()
	require.NoError(t, err)
	assert.Equal(t, "alice", doc.PhoneUsers["79990001"])
	assert.Equal(t, "bob", doc.PhoneUsers["79990003"])
	_, leaked := doc.UserOrders["bob"]["2002_2"]
	assert.False(t, leaked)
}

func TestClaimPhone(t *testing.T) {
	s := newTestStore(t)
	c := cred("carol", "3003", 1, "79995555", 31)
	require.NoError(t, s.ClaimPhone(c))
	require.NoError(t, s.ClaimPhone(c))

	owner, ok, err := s.OwnerOf("79995555")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "carol", owner)

	creds, err := s.CredentialsOf("carol")
	require.NoError(t, err)
	assert.Len(t, creds, 1)

	err = s.ClaimPhone(cred("dave", "4004", 1, "79995555", 41))
	assert.ErrorIs(t, err, ErrPhoneOwned)
}

func TestClaimPhoneMovesUnownedCredentialToClaimant(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autotg.db")
	db := openDB(t, path)
	s, err := Open(db)
	require.NoError(t, err)

	// 历史数据：凭据在，归属索引缺失
	require.NoError(t, db.Create(&model.Credential{
		BuyerID: "legacy", OrderID: "3003", OrderKey: "3003_1", Phone: "7003", ItemID: 31,
	}).Error)

	require.NoError(t, s.ClaimPhone(model.Credential{
		BuyerID: "alice", OrderID: "3003", OrderKey: "3003_1", Phone: "7003", ItemID: 31,
	}))

	doc, err := s.Document()
	require.NoError(t, err)
	assert.Equal(t, "alice", doc.PhoneUsers["7003"])
	assert.Equal(t, OrderEntry{Phone: "7003", ItemID: 31}, doc.UserOrders["alice"]["3003_1"])
	assert.NotContains(t, doc.UserOrders, "legacy")

	var n int64
	require.NoError(t, db.Model(&model.Credential{}).Where("order_key = ?", "3003_1").Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestClaimPhoneRejectsMismatchedOrderKey(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RegisterCredentials([]model.Credential{cred("alice", "1001", 1, "79990001", 11)}))

	err := s.ClaimPhone(cred("bob", "1001", 1, "79990009", 11))
	require.Error(t, err)
	_, ok, err := s.OwnerOf("79990009")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSeedCountryKeepsExistingBand(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertCountry(model.Country{
		Code: "KZ", Name: "Kazakhstan", MinPrice: decimal.NewFromInt(10), MaxPrice: decimal.NewFromInt(90),
	}))

	added, err := s.SeedCountry(model.Country{
		Code: "kz", Name: "KZ", MinPrice: decimal.NewFromInt(1), MaxPrice: decimal.NewFromInt(500),
	})
	require.NoError(t, err)
	assert.False(t, added)

	added, err = s.SeedCountry(model.Country{
		Code: "US", Name: "US", MinPrice: decimal.NewFromInt(1), MaxPrice: decimal.NewFromInt(50),
	})
	require.NoError(t, err)
	assert.True(t, added)

	list, err := s.Countries()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Kazakhstan", list[0].Name)
	assert.True(t, list[0].MaxPrice.Equal(decimal.NewFromInt(90)))
	assert.Equal(t, "US", list[1].Code)

	_, err = s.SeedCountry(model.Country{Code: "RU", MinPrice: decimal.NewFromInt(9), MaxPrice: decimal.NewFromInt(1)})
	assert.Error(t, err)
}

func TestProfitBookkeeping(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RecordProfit(model.NewOrderProfit("1", decimal.NewFromInt(100), decimal.NewFromInt(50), "US")))
	require.NoError(t, s.RecordProfit(model.NewOrderProfit("2", decimal.NewFromInt(200), decimal.NewFromInt(100), "US")))

	p, ok, err := s.Profit("1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, p.Profit.Equal(decimal.NewFromInt(47)), p.Profit.String())

	total, err := s.TotalProfit()
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(141)), total.String())
}
