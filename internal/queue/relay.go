package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	rd "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Relay 将 Redis Stream 事件异步转发到 Kafka。
// 语义：发布 Kafka 成功后才 ACK Stream，失败则保留消息等待重试。
type Relay struct {
	rdb      *rd.Client
	producer Publisher
	log      *zap.SugaredLogger

	stream   string
	group    string
	consumer string
}

func NewRelay(rdb *rd.Client, producer Publisher, stream, group, consumer string, log *zap.SugaredLogger) *Relay {
	return &Relay{
		rdb:      rdb,
		producer: producer,
		log:      log,
		stream:   stream,
		group:    group,
		consumer: consumer,
	}
}

func (r *Relay) Run(ctx context.Context) {
	if err := r.ensureGroup(ctx); err != nil {
		r.log.Errorw("relay ensure group", "error", err)
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}

		// 先尝试处理当前消费者历史 pending，避免遗留消息长期堆积。
		// 历史读取不阻塞（Block<0 时不带 BLOCK 参数）。
		msgs, err := r.readGroup(ctx, "0", -1)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			r.log.Warnw("relay read pending", "error", err)
			time.Sleep(300 * time.Millisecond)
			continue
		}
		if len(msgs) == 0 {
			msgs, err = r.readGroup(ctx, ">", 2*time.Second)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					return
				}
				r.log.Warnw("relay read new", "error", err)
				time.Sleep(300 * time.Millisecond)
				continue
			}
		}

		for _, xm := range msgs {
			if err := r.processOne(ctx, xm); err != nil {
				// 发布失败不 ACK，消息会继续保留用于重试。
				r.log.Warnw("relay process message", "id", xm.ID, "error", err)
				time.Sleep(200 * time.Millisecond)
				break
			}
		}
	}
}

func (r *Relay) ensureGroup(ctx context.Context) error {
	err := r.rdb.XGroupCreateMkStream(ctx, r.stream, r.group, "0").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

func (r *Relay) readGroup(ctx context.Context, streamID string, block time.Duration) ([]rd.XMessage, error) {
	streams, err := r.rdb.XReadGroup(ctx, &rd.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.consumer,
		Streams:  []string{r.stream, streamID},
		Count:    16,
		Block:    block,
		NoAck:    false,
	}).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]rd.XMessage, 0, 16)
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

func (r *Relay) processOne(ctx context.Context, xm rd.XMessage) error {
	msg, err := parseOrderEvent(xm.Values)
	if err != nil {
		// 脏消息直接 ACK 丢弃，避免阻塞队列。
		r.log.Warnw("relay drop malformed event", "id", xm.ID, "error", err)
		if ackErr := r.ackAndDelete(ctx, xm.ID); ackErr != nil {
			return fmt.Errorf("parse failed: %v, ack failed: %w", err, ackErr)
		}
		return nil
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.producer.Publish(pubCtx, msg); err != nil {
		return err
	}
	return r.ackAndDelete(ctx, xm.ID)
}

func (r *Relay) ackAndDelete(ctx context.Context, id string) error {
	pipe := r.rdb.TxPipeline()
	pipe.XAck(ctx, r.stream, r.group, id)
	pipe.XDel(ctx, r.stream, id)
	_, err := pipe.Exec(ctx)
	return err
}

// Publisher 把订单事件写入下游，Producer 实现该接口。
type Publisher interface {
	Publish(ctx context.Context, msg OrderMessage) error
}

// OrderEventValues 将订单事件展开为 Stream 字段。
func OrderEventValues(msg OrderMessage) map[string]any {
	return map[string]any{
		"event_id":    msg.EventID,
		"order_id":    msg.OrderID,
		"buyer_id":    msg.BuyerID,
		"chat_id":     msg.ChatID,
		"description": msg.Description,
		"quantity":    msg.Quantity,
		"price":       msg.Price.String(),
		"status":      msg.Status,
	}
}

func parseOrderEvent(values map[string]interface{}) (OrderMessage, error) {
	orderID, err := getStreamString(values, "order_id")
	if err != nil {
		return OrderMessage{}, err
	}
	buyerID, err := getStreamString(values, "buyer_id")
	if err != nil {
		return OrderMessage{}, err
	}
	quantityStr, err := getStreamString(values, "quantity")
	if err != nil {
		return OrderMessage{}, err
	}
	priceStr, err := getStreamString(values, "price")
	if err != nil {
		return OrderMessage{}, err
	}
	quantity, err := strconv.Atoi(quantityStr)
	if err != nil {
		return OrderMessage{}, fmt.Errorf("invalid quantity %q", quantityStr)
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return OrderMessage{}, fmt.Errorf("invalid price %q", priceStr)
	}

	msg := OrderMessage{
		EventID:     optionalStreamString(values, "event_id"),
		OrderID:     orderID,
		BuyerID:     buyerID,
		ChatID:      optionalStreamString(values, "chat_id"),
		Description: optionalStreamString(values, "description"),
		Quantity:    quantity,
		Price:       price,
		Status:      optionalStreamString(values, "status"),
	}
	if err := msg.Validate(); err != nil {
		return OrderMessage{}, err
	}
	return msg, nil
}

func optionalStreamString(values map[string]interface{}, key string) string {
	s, err := getStreamString(values, key)
	if err != nil {
		return ""
	}
	return s
}

func getStreamString(values map[string]interface{}, key string) (string, error) {
	v, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing field %s", key)
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float64:
		return strconv.FormatInt(int64(x), 10), nil
	default:
		return "", fmt.Errorf("unsupported field type %s: %T", key, v)
	}
}
