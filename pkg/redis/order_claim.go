package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaReleaseClaimIfMatch 仅当锁值匹配 token 时才删除，避免误删其他流程的占位。
const luaReleaseClaimIfMatch = `
local lockKey = KEYS[1]
local token = ARGV[1]
if redis.call('GET', lockKey) == token then
  return redis.call('DEL', lockKey)
end
return 0
`

// ClaimOrder 以 SET NX 占位订单；返回 false 表示已有流程持有。
func ClaimOrder(ctx context.Context, rdb *rd.Client, orderID, token string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, OrderClaimKey(orderID), token, ttl).Result()
}

// ReleaseOrderClaimIfMatch 安全释放订单占位。
func ReleaseOrderClaimIfMatch(ctx context.Context, rdb *rd.Client, orderID, token string) error {
	_, err := rdb.Eval(ctx, luaReleaseClaimIfMatch, []string{OrderClaimKey(orderID)}, token).Int()
	return err
}
