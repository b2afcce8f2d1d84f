// Package fulfill 实现订单履约流水线：前置检查、上游探活、按单位采购、
// 以及根据采购结果进行交付、补偿退款或延后重放。
package fulfill

import (
	"errors"

	"autotg/internal/model"

	"github.com/shopspring/decimal"
)

// 失败分类。调用方用 errors.Is 判断。
var (
	ErrUpstreamUnavailable = errors.New("upstream exchange unavailable")
	ErrFundsExhausted      = errors.New("exchange balance exhausted")
	ErrNoInventory         = errors.New("no matching inventory")
	ErrTransient           = errors.New("transient exchange error")
	ErrPurchaseRejected    = errors.New("purchase rejected by exchange")
	ErrQuantityPolicy      = errors.New("quantity above one is not allowed")
	ErrBlockedBuyer        = errors.New("buyer is blocked")
	ErrUnknownCountry      = errors.New("no country policy for tag")
	ErrAdvertisingLot      = errors.New("advertising lot")
)

// Outcome 一次处理的最终结果。
type Outcome int

const (
	OutcomeFulfilled     Outcome = iota // 全部数量采购成功
	OutcomePartial                      // 部分成功，不自动退款
	OutcomeFailed                       // 一个都没买到
	OutcomeDeferred                     // 上游不可用，进入重放队列
	OutcomeRefunded                     // 策略性退款（黑名单、数量、广告位）
	OutcomeSkipped                      // 订单已是终态
	OutcomeNotApplicable                // 没有 tg: 标签，不归本流水线
	OutcomeDuplicate                    // 重复投递
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFulfilled:
		return "fulfilled"
	case OutcomePartial:
		return "partially_fulfilled"
	case OutcomeFailed:
		return "failed"
	case OutcomeDeferred:
		return "deferred"
	case OutcomeRefunded:
		return "refunded"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeNotApplicable:
		return "not_applicable"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Result 处理结果。Err 为失败分类，成功时为 nil。
type Result struct {
	OrderID     string
	Outcome     Outcome
	Err         error
	Tag         string
	Country     model.Country
	Requested   int
	Credentials []model.Credential
	Cost        decimal.Decimal
	Refunded    bool
}

// FundsExhausted 是否因余额不足而中止。
func (r Result) FundsExhausted() bool { return errors.Is(r.Err, ErrFundsExhausted) }

// Phones 已采购到的号码。
func (r Result) Phones() []string {
	out := make([]string, 0, len(r.Credentials))
	for _, c := range r.Credentials {
		out = append(out, c.Phone)
	}
	return out
}

func outcomeFor(got, want int) Outcome {
	switch {
	case got == 0:
		return OutcomeFailed
	case got < want:
		return OutcomePartial
	default:
		return OutcomeFulfilled
	}
}
