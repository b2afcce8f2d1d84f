package redis

import (
	"context"

	rd "github.com/redis/go-redis/v9"
)

// outboxMaxLen 流的近似上限，Relay 会在转发成功后 XDEL。
const outboxMaxLen = 100000

// AppendOrderEvent 将订单事件写入 outbox Stream，返回消息 ID。
func AppendOrderEvent(ctx context.Context, rdb *rd.Client, stream string, values map[string]any) (string, error) {
	return rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: stream,
		MaxLen: outboxMaxLen,
		Approx: true,
		Values: values,
	}).Result()
}
