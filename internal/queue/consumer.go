package queue

import (
	"context"
	"encoding/json"

	"autotg/internal/model"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Enqueuer 接收解析好的订单，Dispatcher 实现该接口。
type Enqueuer interface {
	Enqueue(o model.Order) string
}

type Consumer struct {
	r    *kafka.Reader
	sink Enqueuer
	log  *zap.SugaredLogger
}

func NewConsumer(brokers []string, topic, groupID string, sink Enqueuer, log *zap.SugaredLogger) *Consumer {
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 1e6,
		}),
		sink: sink,
		log:  log,
	}
}

func (c *Consumer) Close() error { return c.r.Close() }

func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.r.ReadMessage(ctx)
		if err != nil {
			return // ctx cancel / 连接断开等
		}
		c.handle(m.Value)
	}
}

// handle 解析并投递一条消息，脏消息记录后丢弃。
func (c *Consumer) handle(value []byte) {
	var msg OrderMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		c.log.Warnw("consumer unmarshal", "error", err)
		return
	}
	if err := msg.Validate(); err != nil {
		c.log.Warnw("consumer drop invalid event", "event_id", msg.EventID, "error", err)
		return
	}
	taskID := c.sink.Enqueue(msg.ToOrder())
	c.log.Debugw("order event enqueued", "event_id", msg.EventID, "order_id", msg.OrderID, "task_id", taskID)
}
