package redis

import "fmt"

// OrderClaimKey 订单处理占位锁，防止重复投递被并发处理。
func OrderClaimKey(orderID string) string {
	return fmt.Sprintf("autotg:order:claim:%s", orderID)
}

// RefundLockKey 标记某订单是否已发起过退款。
func RefundLockKey(orderID string) string {
	return fmt.Sprintf("autotg:order:refunded:%s", orderID)
}

// OrderStateKey 存储订单处理状态（fulfilled/deferred/...）。
func OrderStateKey(orderID string) string {
	return fmt.Sprintf("autotg:order:state:%s", orderID)
}

// DeferredListKey 延后订单 FIFO 列表。
func DeferredListKey() string {
	return "autotg:deferred:orders"
}

// DeferredSetKey 延后订单 ID 集合，用于入队去重。
func DeferredSetKey() string {
	return "autotg:deferred:ids"
}

// MessageRateKey 买家消息接口的限流键。
func MessageRateKey(buyerID string) string {
	return fmt.Sprintf("autotg:rate_limit:message:%s", buyerID)
}
