package fulfill

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"autotg/internal/model"
	"autotg/internal/notify"

	"go.uber.org/zap"
)

// adLotTag 标记仅用于展示的广告位，下单即退款。
const adLotTag = "DEL"

var tagPattern = regexp.MustCompile(`(?i)tg:\s*(\w+)`)

// Deps 组装 Processor 的协作方。Guard 为空时使用 NopGuard。
type Deps struct {
	Exchange    Exchange
	Marketplace Marketplace
	Registry    Registry
	Notifier    Notifier
	Deferrer    Deferrer
	Guard       Guard
	Logger      *zap.SugaredLogger
}

// Processor 对单个订单执行完整履约流程，可被多个 worker 并发调用。
type Processor struct {
	exchange Exchange
	market   Marketplace
	registry Registry
	notifier Notifier
	deferrer Deferrer
	guard    Guard
	log      *zap.SugaredLogger
}

func NewProcessor(d Deps) *Processor {
	if d.Guard == nil {
		d.Guard = NopGuard{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}
	return &Processor{
		exchange: d.Exchange,
		market:   d.Marketplace,
		registry: d.Registry,
		notifier: d.Notifier,
		deferrer: d.Deferrer,
		guard:    d.Guard,
		log:      d.Logger,
	}
}

// ParseTag 从描述中提取 tg: 标签（大写），没有时返回空串。
func ParseTag(descriptions ...string) string {
	for _, d := range descriptions {
		if m := tagPattern.FindStringSubmatch(d); m != nil {
			return strings.ToUpper(m[1])
		}
	}
	return ""
}

// Process 处理一个订单并返回结果。不会 panic 到调用方之外的错误都体现在 Result 中。
func (p *Processor) Process(ctx context.Context, o model.Order) (res Result) {
	if o.Quantity < 1 {
		o.Quantity = 1
	}
	res = Result{OrderID: o.OrderID, Requested: o.Quantity}
	log := p.log.With("order_id", o.OrderID, "buyer_id", o.BuyerID)

	// 重复投递：登记表已有凭据，或另一处理流程持有占位。
	if has, err := p.registry.HasOrder(o.OrderID); err != nil {
		log.Warnw("registry lookup failed", "error", err)
	} else if has {
		res.Outcome = OutcomeDuplicate
		return res
	}
	claimed, err := p.guard.Claim(ctx, o.OrderID)
	if err != nil {
		log.Warnw("order claim failed, continuing", "error", err)
		claimed = false
	} else if !claimed {
		res.Outcome = OutcomeDuplicate
		return res
	}
	defer func() {
		if r := recover(); r != nil {
			p.release(ctx, o.OrderID, claimed)
			panic(r)
		}
		if res.Outcome == OutcomeDeferred {
			p.release(ctx, o.OrderID, claimed)
		}
		reason := ""
		if res.Err != nil {
			reason = res.Err.Error()
		}
		if err := p.guard.Record(ctx, o.OrderID, res.Outcome.String(), reason); err != nil {
			log.Warnw("record order state failed", "error", err)
		}
		log.Infow("order processed", "outcome", res.Outcome.String(), "acquired", len(res.Credentials), "requested", res.Requested, "error", res.Err)
	}()

	cfg := p.registry.Settings()
	if cfg.IsBlocked(o.BuyerID) {
		res.Outcome, res.Err = OutcomeRefunded, ErrBlockedBuyer
		res.Refunded = p.refund(ctx, o, "buyer is blocked") == nil
		p.send(ctx, o, msgBlocked)
		p.notifier.Notify(ctx, notify.KindInfo,
			fmt.Sprintf("Blocked buyer %s tried to buy an account. Order #%s refunded: %t", o.BuyerID, o.OrderID, res.Refunded), o.OrderID)
		return res
	}

	detail, err := p.market.GetOrder(ctx, o.OrderID)
	if err != nil {
		log.Warnw("fetch order detail failed", "error", err)
	}
	if detail.Status.IsTerminal() || o.Status.IsTerminal() {
		res.Outcome = OutcomeSkipped
		return res
	}

	account, err := p.exchange.Me(ctx)
	if err != nil {
		res.Outcome, res.Err = OutcomeDeferred, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		if perr := p.deferrer.Push(ctx, o); perr != nil {
			log.Errorw("defer order failed", "error", perr)
			p.notifier.Notify(ctx, notify.KindError,
				fmt.Sprintf("Exchange is unavailable and order #%s could not be queued for replay: %v", o.OrderID, perr), o.OrderID)
		}
		p.send(ctx, o, msgDelayed)
		return res
	}

	res.Tag = ParseTag(detail.FullDescription, o.Description)
	if res.Tag == "" {
		res.Outcome = OutcomeNotApplicable
		return res
	}

	if res.Tag == adLotTag {
		res.Outcome, res.Err = OutcomeRefunded, ErrAdvertisingLot
		res.Refunded = p.refund(ctx, o, "advertising lot") == nil
		p.send(ctx, o, msgAdLot)
		return res
	}

	if o.Quantity > 1 && !cfg.MultiAccountDelivery {
		res.Outcome, res.Err = OutcomeRefunded, ErrQuantityPolicy
		res.Refunded = p.refund(ctx, o, fmt.Sprintf("quantity %d while multi-account delivery is off", o.Quantity)) == nil
		p.send(ctx, o, msgQuantity)
		return res
	}

	threshold := cfg.LowBalanceThreshold
	if threshold.IsPositive() && account.Balance.LessThan(threshold) {
		p.notifier.Notify(ctx, notify.KindLowBalance,
			fmt.Sprintf("Exchange balance (%s) is below the threshold (%s). Please top up!", account.Balance.StringFixed(2), threshold.StringFixed(2)), "")
	}

	country, ok, err := p.registry.ResolveCountry(res.Tag)
	switch {
	case err != nil:
		res.Err = fmt.Errorf("%w: resolve country: %v", ErrTransient, err)
	case !ok:
		res.Err = fmt.Errorf("%w: %s", ErrUnknownCountry, res.Tag)
	default:
		res.Country = country
		acq := p.acquire(ctx, o, country, cfg, o.Quantity)
		res.Credentials, res.Cost, res.Err = acq.creds, acq.cost, acq.err
	}
	res.Outcome = outcomeFor(len(res.Credentials), o.Quantity)
	if res.Outcome == OutcomeFulfilled {
		res.Err = nil
	}

	sum := o.TotalPrice
	if detail.Sum.IsPositive() {
		sum = detail.Sum
	}
	p.settle(ctx, o, sum, &res)
	return res
}

func (p *Processor) release(ctx context.Context, orderID string, claimed bool) {
	if !claimed {
		return
	}
	if err := p.guard.Release(ctx, orderID); err != nil && !errors.Is(err, context.Canceled) {
		p.log.Warnw("release order claim failed", "order_id", orderID, "error", err)
	}
}
