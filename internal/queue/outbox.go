package queue

import (
	"context"

	rediskey "autotg/pkg/redis"

	rd "github.com/redis/go-redis/v9"
)

// StreamOutbox 把订单事件写入 Redis Stream，由 Relay 异步转发到 Kafka。
type StreamOutbox struct {
	rdb    *rd.Client
	stream string
}

func NewStreamOutbox(rdb *rd.Client, stream string) *StreamOutbox {
	return &StreamOutbox{rdb: rdb, stream: stream}
}

func (o *StreamOutbox) Append(ctx context.Context, msg OrderMessage) (string, error) {
	return rediskey.AppendOrderEvent(ctx, o.rdb, o.stream, OrderEventValues(msg))
}
