package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// OrderState 对应 Redis 内的订单处理状态结构。
type OrderState struct {
	OrderID   string
	State     string
	Reason    string
	UpdatedAt string
}

// GetOrderState 查询订单当前处理状态。found=false 表示 key 不存在。
func GetOrderState(ctx context.Context, rdb *rd.Client, orderID string) (OrderState, bool, error) {
	m, err := rdb.HGetAll(ctx, OrderStateKey(orderID)).Result()
	if err != nil {
		return OrderState{}, false, err
	}
	if len(m) == 0 {
		return OrderState{}, false, nil
	}
	return OrderState{
		OrderID:   orderID,
		State:     m["state"],
		Reason:    m["reason"],
		UpdatedAt: m["updated_at"],
	}, true, nil
}

// PutOrderState 更新订单状态，并刷新 key TTL。
func PutOrderState(ctx context.Context, rdb *rd.Client, orderID, state, reason string, ttl time.Duration) error {
	key := OrderStateKey(orderID)
	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"order_id", orderID,
		"state", state,
		"reason", reason,
		"updated_at", time.Now().UTC().Format(time.RFC3339),
	)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}
