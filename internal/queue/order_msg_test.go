package queue

import (
	"testing"

	"autotg/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderMessageValidate(t *testing.T) {
	ok := OrderMessage{OrderID: "o1", BuyerID: "b1", Quantity: 1, Price: decimal.NewFromInt(100)}
	require.NoError(t, ok.Validate())

	cases := map[string]OrderMessage{
		"missing order":  {BuyerID: "b1", Quantity: 1},
		"missing buyer":  {OrderID: "o1", Quantity: 1},
		"negative qty":   {OrderID: "o1", BuyerID: "b1", Quantity: -1},
		"negative price": {OrderID: "o1", BuyerID: "b1", Quantity: 1, Price: decimal.NewFromInt(-1)},
	}
	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, m.Validate())
		})
	}
}

func TestOrderMessageToOrder(t *testing.T) {
	o := OrderMessage{
		OrderID:     "o1",
		BuyerID:     "b1",
		Description: "tg:KZ",
		Quantity:    0,
		Price:       decimal.NewFromInt(150),
		Status:      "PAID",
	}.ToOrder()

	assert.Equal(t, 1, o.Quantity)
	assert.Equal(t, "b1", o.ChatID)
	assert.Equal(t, model.OrderStatus("paid"), o.Status)
	assert.True(t, o.UnitPrice.Equal(decimal.NewFromInt(150)))

	o = OrderMessage{OrderID: "o2", BuyerID: "b1", ChatID: "c9", Quantity: 3, Price: decimal.NewFromInt(300)}.ToOrder()
	assert.Equal(t, "c9", o.ChatID)
	assert.True(t, o.UnitPrice.Equal(decimal.NewFromInt(100)))
	assert.True(t, o.TotalPrice.Equal(decimal.NewFromInt(300)))
}

func TestParseOrderEvent(t *testing.T) {
	msg := OrderMessage{
		EventID:     "e1",
		OrderID:     "o1",
		BuyerID:     "b1",
		ChatID:      "c1",
		Description: "Telegram tg:US",
		Quantity:    2,
		Price:       decimal.RequireFromString("99.50"),
		Status:      "paid",
	}
	// 模拟 Redis 返回字符串字段
	values := map[string]interface{}{}
	for k, v := range OrderEventValues(msg) {
		switch x := v.(type) {
		case int:
			values[k] = decimal.NewFromInt(int64(x)).String()
		default:
			values[k] = x
		}
	}

	got, err := parseOrderEvent(values)
	require.NoError(t, err)
	assert.Equal(t, msg.OrderID, got.OrderID)
	assert.Equal(t, msg.ChatID, got.ChatID)
	assert.Equal(t, 2, got.Quantity)
	assert.True(t, got.Price.Equal(msg.Price))
	assert.Equal(t, msg.Description, got.Description)
	assert.Equal(t, "e1", got.EventID)
}

func TestParseOrderEventRejectsMalformed(t *testing.T) {
	_, err := parseOrderEvent(map[string]interface{}{"order_id": "o1"})
	assert.Error(t, err)

	_, err = parseOrderEvent(map[string]interface{}{
		"order_id": "o1", "buyer_id": "b1", "quantity": "x", "price": "1",
	})
	assert.Error(t, err)

	_, err = parseOrderEvent(map[string]interface{}{
		"order_id": "o1", "buyer_id": "b1", "quantity": "1", "price": "abc",
	})
	assert.Error(t, err)
}

type captureSink struct{ orders []model.Order }

func (c *captureSink) Enqueue(o model.Order) string {
	c.orders = append(c.orders, o)
	return "task"
}

func TestConsumerHandleEnqueuesValidEvents(t *testing.T) {
	sink := &captureSink{}
	c := &Consumer{sink: sink, log: testLogger()}

	c.handle([]byte(`{"order_id":"o1","buyer_id":"b1","quantity":1,"price":"10"}`))
	c.handle([]byte(`not json`))
	c.handle([]byte(`{"order_id":"","buyer_id":"b1"}`))

	require.Len(t, sink.orders, 1)
	assert.Equal(t, "o1", sink.orders[0].OrderID)
}
