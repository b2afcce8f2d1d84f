package health

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"autotg/internal/model"
	rediskey "autotg/pkg/redis"

	rd "github.com/redis/go-redis/v9"
)

// Buffer 保存等待上游恢复的订单，先进先出，同一订单只保留一份。
type Buffer interface {
	Push(ctx context.Context, o model.Order) error
	Pop(ctx context.Context) (model.Order, bool, error)
	Len(ctx context.Context) (int, error)
}

// MemoryBuffer 进程内实现，用于测试和无 Redis 运行。
type MemoryBuffer struct {
	mu     sync.Mutex
	orders []model.Order
}

func NewMemoryBuffer() *MemoryBuffer { return &MemoryBuffer{} }

func (b *MemoryBuffer) Push(_ context.Context, o model.Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, q := range b.orders {
		if q.OrderID == o.OrderID {
			return nil
		}
	}
	b.orders = append(b.orders, o)
	return nil
}

func (b *MemoryBuffer) Pop(_ context.Context) (model.Order, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.orders) == 0 {
		return model.Order{}, false, nil
	}
	o := b.orders[0]
	b.orders = b.orders[1:]
	return o, true, nil
}

func (b *MemoryBuffer) Len(context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders), nil
}

// RedisBuffer 将订单以 JSON 存入 Redis 列表，进程重启后不丢失。
type RedisBuffer struct {
	rdb *rd.Client
}

func NewRedisBuffer(rdb *rd.Client) *RedisBuffer { return &RedisBuffer{rdb: rdb} }

func (b *RedisBuffer) Push(ctx context.Context, o model.Order) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return err
	}
	_, err = rediskey.PushDeferred(ctx, b.rdb, o.OrderID, string(payload))
	return err
}

func (b *RedisBuffer) Pop(ctx context.Context) (model.Order, bool, error) {
	payload, ok, err := rediskey.PopDeferred(ctx, b.rdb, "order_id")
	if err != nil || !ok {
		return model.Order{}, false, err
	}
	var o model.Order
	if err := json.Unmarshal([]byte(payload), &o); err != nil {
		return model.Order{}, false, fmt.Errorf("decode deferred order: %w", err)
	}
	return o, true, nil
}

func (b *RedisBuffer) Len(ctx context.Context) (int, error) {
	n, err := rediskey.DeferredLen(ctx, b.rdb)
	return int(n), err
}
