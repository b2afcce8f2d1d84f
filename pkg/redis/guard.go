package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

// OrderGuard 组合订单占位、退款锁与状态记录。
type OrderGuard struct {
	rdb      *rd.Client
	token    string
	claimTTL time.Duration
	stateTTL time.Duration
}

// NewOrderGuard 每个进程一个 token，释放占位时只删自己持有的锁。
func NewOrderGuard(rdb *rd.Client, claimTTL, stateTTL time.Duration) *OrderGuard {
	return &OrderGuard{
		rdb:      rdb,
		token:    uuid.NewString(),
		claimTTL: claimTTL,
		stateTTL: stateTTL,
	}
}

func (g *OrderGuard) Claim(ctx context.Context, orderID string) (bool, error) {
	return ClaimOrder(ctx, g.rdb, orderID, g.token, g.claimTTL)
}

func (g *OrderGuard) Release(ctx context.Context, orderID string) error {
	return ReleaseOrderClaimIfMatch(ctx, g.rdb, orderID, g.token)
}

func (g *OrderGuard) FirstRefund(ctx context.Context, orderID string) (bool, error) {
	return MarkRefundOnce(ctx, g.rdb, orderID)
}

func (g *OrderGuard) Record(ctx context.Context, orderID, state, reason string) error {
	return PutOrderState(ctx, g.rdb, orderID, state, reason, g.stateTTL)
}

// State 供查询接口读取订单处理状态。
func (g *OrderGuard) State(ctx context.Context, orderID string) (OrderState, bool, error) {
	return GetOrderState(ctx, g.rdb, orderID)
}
