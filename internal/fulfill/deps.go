package fulfill

import (
	"context"

	"autotg/internal/exchange"
	"autotg/internal/marketplace"
	"autotg/internal/model"
	"autotg/internal/notify"
)

// Exchange 流水线用到的交易所能力。
type Exchange interface {
	Me(ctx context.Context) (exchange.Account, error)
	Search(ctx context.Context, p exchange.SearchParams) ([]exchange.Listing, error)
	Check(ctx context.Context, itemID int64) (bool, error)
	Purchase(ctx context.Context, itemID int64) (exchange.Item, error)
}

// Marketplace 流水线用到的市场能力。
type Marketplace interface {
	GetOrder(ctx context.Context, orderID string) (marketplace.OrderDetail, error)
	SendMessage(ctx context.Context, chatID, text string) error
	Refund(ctx context.Context, orderID string) error
}

// Registry 设置、国家策略与归属登记。
type Registry interface {
	Settings() model.Settings
	ResolveCountry(tag string) (model.Country, bool, error)
	HasOrder(orderID string) (bool, error)
	RegisterCredentials(creds []model.Credential) error
	RecordProfit(p model.OrderProfit) error
}

// Notifier 管理员通知。
type Notifier interface {
	Notify(ctx context.Context, kind notify.Kind, text, orderID string)
}

// Deferrer 保存因上游不可用而延后的订单。
type Deferrer interface {
	Push(ctx context.Context, o model.Order) error
}

// Guard 提供跨进程的订单幂等占位、退款至多一次与处理状态记录。
type Guard interface {
	Claim(ctx context.Context, orderID string) (bool, error)
	Release(ctx context.Context, orderID string) error
	FirstRefund(ctx context.Context, orderID string) (bool, error)
	Record(ctx context.Context, orderID, state, reason string) error
}

// NopGuard 单进程运行或测试时使用：总能占位，也不做退款去重。
type NopGuard struct{}

func (NopGuard) Claim(context.Context, string) (bool, error) { return true, nil }
func (NopGuard) Release(context.Context, string) error { return nil }
func (NopGuard) FirstRefund(context.Context, string) (bool, error) { return true, nil }
func (NopGuard) Record(context.Context, string, string, string) error { return nil }
