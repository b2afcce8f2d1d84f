package fulfill

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"autotg/internal/exchange"
	"autotg/internal/marketplace"
	"autotg/internal/model"
	"autotg/internal/notify"

	"github.com/shopspring/decimal"
)

type fakeExchange struct {
	mu        sync.Mutex
	meErr     error
	balance   decimal.Decimal
	listings  []exchange.Listing
	checkFail map[int64]bool
	// purchase 结果按商品 ID 配置；未配置的商品按 ID 生成号码并成功。
	purchase  map[int64]error
	purchased []int64
	searches  int
}

func (f *fakeExchange) Me(context.Context) (exchange.Account, error) {
	if f.meErr != nil {
		return exchange.Account{}, f.meErr
	}
	return exchange.Account{Username: "seller", Balance: f.balance}, nil
}

func (f *fakeExchange) Search(context.Context, exchange.SearchParams) ([]exchange.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	out := make([]exchange.Listing, 0, len(f.listings))
	for _, l := range f.listings {
		if !f.sold(l.ItemID) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeExchange) sold(id int64) bool {
	for _, p := range f.purchased {
		if p == id && f.purchase[id] == nil {
			return true
		}
	}
	return false
}

func (f *fakeExchange) Check(_ context.Context, id int64) (bool, error) {
	return !f.checkFail[id], nil
}

func (f *fakeExchange) Purchase(_ context.Context, id int64) (exchange.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purchased = append(f.purchased, id)
	if err := f.purchase[id]; err != nil {
		return exchange.Item{}, err
	}
	var price decimal.Decimal
	for _, l := range f.listings {
		if l.ItemID == id {
			price = l.Price
		}
	}
	return exchange.Item{ItemID: id, Price: price, Phone: phoneFor(id)}, nil
}

func (f *fakeExchange) purchaseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.purchased)
}

func phoneFor(id int64) string {
	return fmt.Sprintf("77000%05d", id)
}

type fakeMarket struct {
	mu        sync.Mutex
	detail    marketplace.OrderDetail
	detailErr error
	refundErr error
	refunds   []string
	messages  []string
}

func (f *fakeMarket) GetOrder(context.Context, string) (marketplace.OrderDetail, error) {
	return f.detail, f.detailErr
}

func (f *fakeMarket) SendMessage(_ context.Context, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeMarket) Refund(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, orderID)
	return f.refundErr
}

func (f *fakeMarket) lastMessage() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return ""
	}
	return f.messages[len(f.messages)-1]
}

type fakeRegistry struct {
	mu        sync.Mutex
	settings  model.Settings
	countries []model.Country
	creds     []model.Credential
	owners    map[string]string
	profits   []model.OrderProfit
}

func newFakeRegistry() *fakeRegistry {
	cfg := model.DefaultSettings()
	cfg.ExchangeToken = "tok"
	cfg.CheckAccounts = false
	return &fakeRegistry{
		settings: cfg,
		countries: []model.Country{
			{Code: "KZ", Name: "Kazakhstan", MinPrice: decimal.NewFromInt(1), MaxPrice: decimal.NewFromInt(200)},
		},
		owners: map[string]string{},
	}
}

func (r *fakeRegistry) Settings() model.Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings.Clone()
}

func (r *fakeRegistry) ResolveCountry(tag string) (model.Country, bool, error) {
	for _, c := range r.countries {
		if strings.HasPrefix(tag, c.Code) {
			return c, true, nil
		}
	}
	return model.Country{}, false, nil
}

func (r *fakeRegistry) HasOrder(orderID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.creds {
		if c.OrderID == orderID {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRegistry) RegisterCredentials(creds []model.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var conflicts []error
	for _, c := range creds {
		if owner, ok := r.owners[c.Phone]; ok && owner != c.BuyerID {
			conflicts = append(conflicts, fmt.Errorf("phone %s owned by %s", c.Phone, owner))
			continue
		}
		r.creds = append(r.creds, c)
		r.owners[c.Phone] = c.BuyerID
	}
	return errors.Join(conflicts...)
}

func (r *fakeRegistry) RecordProfit(p model.OrderProfit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profits = append(r.profits, p)
	return nil
}

type sentNotice struct {
	kind notify.Kind
	text string
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []sentNotice
}

func (n *fakeNotifier) Notify(_ context.Context, kind notify.Kind, text, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, sentNotice{kind: kind, text: text})
}

func (n *fakeNotifier) count(kind notify.Kind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.notices {
		if s.kind == kind {
			c++
		}
	}
	return c
}

type fakeDeferrer struct {
	mu     sync.Mutex
	orders []model.Order
}

func (d *fakeDeferrer) Push(_ context.Context, o model.Order) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.orders = append(d.orders, o)
	return nil
}

type memGuard struct {
	mu       sync.Mutex
	claimed  map[string]bool
	refunded map[string]bool
	states   map[string]string
}

func newMemGuard() *memGuard {
	return &memGuard{claimed: map[string]bool{}, refunded: map[string]bool{}, states: map[string]string{}}
}

func (g *memGuard) Claim(_ context.Context, id string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.claimed[id] {
		return false, nil
	}
	g.claimed[id] = true
	return true, nil
}

func (g *memGuard) Release(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claimed, id)
	return nil
}

func (g *memGuard) FirstRefund(_ context.Context, id string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refunded[id] {
		return false, nil
	}
	g.refunded[id] = true
	return true, nil
}

func (g *memGuard) Record(_ context.Context, id, state, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.states[id] = state
	return nil
}
