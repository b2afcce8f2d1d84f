package retrieval

import (
	"context"
	"path/filepath"
	"testing"

	"autotg/internal/marketplace"
	"autotg/internal/model"
	"autotg/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openStore(t *testing.T) (*store.Store, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "autotg.db")), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	st, err := store.Open(db)
	require.NoError(t, err)
	require.NoError(t, st.UpdateSettings(func(s *model.Settings) {
		s.ExchangeToken = "token"
	}))
	return st, db
}

func TestSaleResolvedPhoneMovesCredentialToRequester(t *testing.T) {
	st, db := openStore(t)
	// 未登记归属的历史凭据
	require.NoError(t, db.Create(&model.Credential{
		BuyerID: "legacy", OrderID: "3003", OrderKey: "3003_1", Phone: "7003", ItemID: 31,
	}).Error)

	f := newFixture(t)
	f.market.sales = []marketplace.Sale{{OrderID: "3003", BuyerID: "alice"}}
	f.svc.registry = st

	err := f.svc.Handle(context.Background(), msg("alice", "cd 7003"))

	require.NoError(t, err)
	assert.Equal(t, 1, f.ex.calls)
	doc, err := st.Document()
	require.NoError(t, err)
	assert.Equal(t, "alice", doc.PhoneUsers["7003"])
	assert.Contains(t, doc.UserOrders["alice"], "3003_1")
	assert.NotContains(t, doc.UserOrders, "legacy")

	// 之后再取码直接命中本地登记
	f.market.sales = nil
	require.NoError(t, f.svc.Handle(context.Background(), msg("alice", "cd 7003")))
	assert.Equal(t, 2, f.ex.calls)
}

func TestRegisteredPhoneOfAnotherBuyerDenied(t *testing.T) {
	st, _ := openStore(t)
	require.NoError(t, st.RegisterCredentials([]model.Credential{{
		BuyerID: "bob", OrderID: "4004", OrderKey: "4004_1", Phone: "7004", ItemID: 41,
	}}))

	f := newFixture(t)
	f.market.sales = []marketplace.Sale{{OrderID: "4004", BuyerID: "alice"}}
	f.svc.registry = st

	err := f.svc.Handle(context.Background(), msg("alice", "cd 7004"))

	assert.ErrorIs(t, err, ErrOwnershipViolation)
	assert.Zero(t, f.ex.calls)
	owner, _, err := st.OwnerOf("7004")
	require.NoError(t, err)
	assert.Equal(t, "bob", owner)
}
