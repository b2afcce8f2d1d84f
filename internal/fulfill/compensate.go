package fulfill

import (
	"context"
	"fmt"
	"strings"

	"autotg/internal/model"
	"autotg/internal/notify"

	"github.com/shopspring/decimal"
)

// settle 把采购结果转为登记、买家消息、管理员通知与补偿退款。
func (p *Processor) settle(ctx context.Context, o model.Order, sum decimal.Decimal, res *Result) {
	cfg := p.registry.Settings()

	if len(res.Credentials) > 0 {
		if err := p.registry.RegisterCredentials(res.Credentials); err != nil {
			p.log.Errorw("register credentials failed", "order_id", o.OrderID, "error", err)
			p.notifier.Notify(ctx, notify.KindError,
				fmt.Sprintf("Could not register credentials for order #%s: %v", o.OrderID, err), o.OrderID)
		}
		profit := model.NewOrderProfit(o.OrderID, sum, res.Cost, res.Country.Code)
		if err := p.registry.RecordProfit(profit); err != nil {
			p.log.Warnw("record profit failed", "order_id", o.OrderID, "error", err)
		}
		p.settleDelivered(ctx, o, cfg, profit, res)
		return
	}

	// 一个都没买到
	reason := "unknown error"
	if res.Err != nil {
		reason = res.Err.Error()
	}
	if res.FundsExhausted() {
		p.notifier.Notify(ctx, notify.KindLowBalance,
			fmt.Sprintf("URGENT! Exchange balance exhausted while processing order #%s. Top up the balance!", o.OrderID), o.OrderID)
		if !cfg.AutoReturns {
			p.notifier.Notify(ctx, notify.KindError,
				fmt.Sprintf("Order #%s was not fulfilled and auto returns are off: refund it manually.", o.OrderID), o.OrderID)
			p.send(ctx, o, msgPending)
			return
		}
	} else {
		p.notifier.Notify(ctx, notify.KindError,
			fmt.Sprintf("Could not buy any account for order #%s (country %s): %s", o.OrderID, res.Country.Code, reason), o.OrderID)
	}

	if cfg.AutoReturns {
		if err := p.refund(ctx, o, "no account could be purchased: "+reason); err == nil {
			res.Refunded = true
			p.send(ctx, o, fmt.Sprintf(msgRefunded, countryLabel(res)))
			return
		}
	}
	p.send(ctx, o, msgPending)
}

func (p *Processor) settleDelivered(ctx context.Context, o model.Order, cfg model.Settings, profit model.OrderProfit, res *Result) {
	phones := res.Phones()
	if res.Outcome == OutcomeFulfilled {
		p.send(ctx, o, FormatPurchase(cfg.PurchaseTemplate, phones))
		p.notifier.Notify(ctx, notify.KindSuccess, successSummary(o, res, profit), o.OrderID)
		return
	}

	// 部分成功：不自动退款，交给运营处理。
	p.send(ctx, o, partialMessage(cfg.PurchaseTemplate, phones, res.Requested))
	reason := "unknown error"
	switch {
	case res.FundsExhausted():
		reason = "insufficient exchange balance"
	case res.Err != nil:
		reason = res.Err.Error()
	}
	p.notifier.Notify(ctx, notify.KindError,
		fmt.Sprintf("Order #%s partially fulfilled: %d of %d accounts bought. Reason: %s. Deliver the rest or refund manually.",
			o.OrderID, len(phones), res.Requested, reason), o.OrderID)
}

// refund 发起退款；同一订单至多退款一次，失败只上报不重试。
func (p *Processor) refund(ctx context.Context, o model.Order, why string) error {
	first, err := p.guard.FirstRefund(ctx, o.OrderID)
	if err != nil {
		p.log.Warnw("refund lock failed, refunding anyway", "order_id", o.OrderID, "error", err)
		first = true
	}
	if !first {
		p.log.Infow("order already refunded", "order_id", o.OrderID)
		return nil
	}
	if err := p.market.Refund(ctx, o.OrderID); err != nil {
		p.log.Errorw("refund failed", "order_id", o.OrderID, "error", err)
		p.notifier.Notify(ctx, notify.KindError,
			fmt.Sprintf("Automatic refund of order #%s failed: %v. Refund it manually.", o.OrderID, err), o.OrderID)
		return err
	}
	p.log.Infow("order refunded", "order_id", o.OrderID, "reason", why)
	p.notifier.Notify(ctx, notify.KindRefund,
		fmt.Sprintf("Automatic refund for order #%s: %s", o.OrderID, why), o.OrderID)
	return nil
}

// send 尽力而为地给买家发消息，失败只记日志。
func (p *Processor) send(ctx context.Context, o model.Order, text string) {
	if err := p.market.SendMessage(ctx, o.ChatID, text); err != nil {
		p.log.Warnw("send buyer message failed", "order_id", o.OrderID, "chat_id", o.ChatID, "error", err)
	}
}

func successSummary(o model.Order, res *Result, profit model.OrderProfit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Order #%s fulfilled: %d account(s)\n", o.OrderID, len(res.Credentials))
	fmt.Fprintf(&b, "Buyer: %s\n", o.BuyerID)
	fmt.Fprintf(&b, "Country: %s\n", res.Country.Code)
	for _, c := range res.Credentials {
		fmt.Fprintf(&b, "Phone: +%s (item %d, %s)\n", c.Phone, c.ItemID, c.Cost.String())
	}
	fmt.Fprintf(&b, "Marketplace sum: %s, net: %s\n", profit.Sum.StringFixed(2), profit.Net.StringFixed(2))
	fmt.Fprintf(&b, "Exchange cost: %s\n", profit.Cost.StringFixed(2))
	fmt.Fprintf(&b, "Profit: %s", profit.Profit.StringFixed(2))
	return b.String()
}

func countryLabel(res *Result) string {
	if res.Country.Name != "" {
		return res.Country.Name
	}
	if res.Country.Code != "" {
		return res.Country.Code
	}
	return "this country"
}
