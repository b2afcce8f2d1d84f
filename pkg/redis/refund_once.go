package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaRefundOnce 通过 SETNX 锁保证“同一订单只退款一次”。
const luaRefundOnce = `
local lockKey = KEYS[1]
local ttlSec = tonumber(ARGV[1])

if redis.call('SETNX', lockKey, '1') == 1 then
  redis.call('EXPIRE', lockKey, ttlSec)
  return 1
end
return 0
`

// MarkRefundOnce 幂等退款标记：
// - 首次调用返回 true，调用方应当发起退款
// - 重复调用返回 false（不会重复退款）
func MarkRefundOnce(ctx context.Context, rdb *rd.Client, orderID string) (bool, error) {
	const lockTTLSeconds = int64((30 * 24 * time.Hour) / time.Second)

	n, err := rdb.Eval(ctx, luaRefundOnce, []string{RefundLockKey(orderID)}, lockTTLSeconds).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
