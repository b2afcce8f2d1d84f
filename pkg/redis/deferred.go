package redis

import (
	"context"
	"errors"

	rd "github.com/redis/go-redis/v9"
)

// luaDeferredPush 入队去重：同一订单 ID 只会在列表中出现一次。
// KEYS[1]=列表，KEYS[2]=ID 集合，ARGV[1]=订单ID，ARGV[2]=负载
const luaDeferredPush = `
if redis.call('SADD', KEYS[2], ARGV[1]) == 1 then
  redis.call('RPUSH', KEYS[1], ARGV[2])
  return 1
end
return 0
`

// luaDeferredPop 弹出队首并同步移出 ID 集合，之后同一订单可再次入队。
// KEYS[1]=列表，KEYS[2]=ID 集合，ARGV[1]=ID 字段名
const luaDeferredPop = `
local payload = redis.call('LPOP', KEYS[1])
if not payload then
  return false
end
local id = cjson.decode(payload)[ARGV[1]]
if id then
  redis.call('SREM', KEYS[2], id)
end
return payload
`

// PushDeferred 把订单负载追加到延后队列尾部；已存在时返回 false。
func PushDeferred(ctx context.Context, rdb *rd.Client, orderID, payload string) (bool, error) {
	n, err := rdb.Eval(ctx, luaDeferredPush, []string{DeferredListKey(), DeferredSetKey()}, orderID, payload).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// PopDeferred 弹出队首负载，队列为空时 ok=false。负载须为含 idField 的 JSON 对象。
func PopDeferred(ctx context.Context, rdb *rd.Client, idField string) (string, bool, error) {
	v, err := rdb.Eval(ctx, luaDeferredPop, []string{DeferredListKey(), DeferredSetKey()}, idField).Text()
	if errors.Is(err, rd.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// DeferredLen 当前延后订单数量。
func DeferredLen(ctx context.Context, rdb *rd.Client) (int64, error) {
	return rdb.LLen(ctx, DeferredListKey()).Result()
}
