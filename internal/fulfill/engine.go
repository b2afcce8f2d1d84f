package fulfill

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"autotg/internal/exchange"
	"autotg/internal/model"
	"autotg/internal/notify"

	"github.com/shopspring/decimal"
)

// acquisition 是按单位采购循环的汇总。
type acquisition struct {
	creds []model.Credential
	cost  decimal.Decimal
	err   error
}

// acquire 逐个单位采购，最多 quantity 次。余额不足或非可忽略错误立即中止剩余循环。
func (p *Processor) acquire(ctx context.Context, o model.Order, country model.Country, cfg model.Settings, quantity int) acquisition {
	acq := acquisition{cost: decimal.Zero}
	tried := map[int64]bool{}

	for unit := 1; unit <= quantity; unit++ {
		candidates, err := p.candidates(ctx, country, cfg, tried)
		if err != nil {
			acq.err = fmt.Errorf("%w: search: %v", ErrTransient, err)
			break
		}
		if len(candidates) == 0 {
			acq.err = ErrNoInventory
			break
		}

		item, err := p.purchaseFirst(ctx, o, candidates, tried)
		if err != nil {
			acq.err = err
			p.log.Warnw("unit acquisition failed", "order_id", o.OrderID, "unit", unit, "quantity", quantity, "error", err)
			break
		}

		cost := item.Price
		acq.cost = acq.cost.Add(cost)
		acq.creds = append(acq.creds, model.Credential{
			CreatedAt: time.Now(),
			BuyerID:   o.BuyerID,
			OrderKey:  fmt.Sprintf("%s_%d", o.OrderID, unit),
			OrderID:   o.OrderID,
			Phone:     item.Phone,
			ItemID:    item.ItemID,
			Cost:      cost,
		})
		p.log.Infow("unit acquired", "order_id", o.OrderID, "unit", unit, "quantity", quantity, "item_id", item.ItemID, "price", cost.String())
	}
	return acq
}

// candidates 搜索候选商品；开启 check_accounts 时逐个预检，开启 buy_cheapest 时按价格升序。
func (p *Processor) candidates(ctx context.Context, country model.Country, cfg model.Settings, tried map[int64]bool) ([]exchange.Listing, error) {
	listings, err := p.exchange.Search(ctx, exchange.SearchParams{
		Country:  country.Code,
		MinPrice: country.MinPrice,
		MaxPrice: country.MaxPrice,
		Origins:  cfg.Origins,
		Spam:     cfg.BuySpamblock,
		GeoSpam:  cfg.BuyGeoSpamblock,
	})
	if err != nil {
		return nil, err
	}

	out := make([]exchange.Listing, 0, len(listings))
	for _, l := range listings {
		if tried[l.ItemID] {
			continue
		}
		if cfg.CheckAccounts {
			ok, err := p.exchange.Check(ctx, l.ItemID)
			if err != nil || !ok {
				continue
			}
		}
		out = append(out, l)
	}
	if cfg.BuyCheapest {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	}
	return out, nil
}

// purchaseFirst 依次尝试候选，返回第一个成功买到的商品。
func (p *Processor) purchaseFirst(ctx context.Context, o model.Order, candidates []exchange.Listing, tried map[int64]bool) (exchange.Item, error) {
	for _, l := range candidates {
		tried[l.ItemID] = true
		item, err := p.exchange.Purchase(ctx, l.ItemID)
		if err == nil {
			if item.Phone == "" {
				return exchange.Item{}, fmt.Errorf("%w: item %d has no phone", ErrPurchaseRejected, l.ItemID)
			}
			if item.Price.IsZero() {
				item.Price = l.Price
			}
			return item, nil
		}

		switch exchange.Classify(err) {
		case exchange.KindFunds:
			p.notifier.Notify(ctx, notify.KindLowBalance,
				fmt.Sprintf("Insufficient exchange balance to buy item %d at %s. Please top up the balance!", l.ItemID, l.Price.String()), o.OrderID)
			return exchange.Item{}, fmt.Errorf("%w: %v", ErrFundsExhausted, err)
		case exchange.KindIgnorable, exchange.KindRetry:
			p.log.Infow("listing skipped", "order_id", o.OrderID, "item_id", l.ItemID, "error", err)
			continue
		default:
			var apiErr *exchange.APIError
			if errors.As(err, &apiErr) {
				return exchange.Item{}, fmt.Errorf("%w: %v", ErrPurchaseRejected, err)
			}
			return exchange.Item{}, fmt.Errorf("%w: %v", ErrTransient, err)
		}
	}
	return exchange.Item{}, ErrNoInventory
}
