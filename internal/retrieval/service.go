// Package retrieval 处理买家的取码请求：校验号码归属后向交易所有限次重试获取登录验证码。
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"autotg/internal/exchange"
	"autotg/internal/marketplace"
	"autotg/internal/model"
	"autotg/internal/notify"

	"go.uber.org/zap"
)

var (
	ErrBlocked            = errors.New("requester is blocked")
	ErrOwnershipViolation = errors.New("phone belongs to another buyer")
	ErrNotFound           = errors.New("phone not found among buyer orders")
	ErrRetrievalExhausted = errors.New("code retrieval attempts exhausted")
)

const (
	DefaultMaxAttempts = 10
	DefaultRetryDelay  = 3 * time.Second
	DefaultMaxDelay    = 30 * time.Second
)

const (
	msgBlocked   = "You are blocked in this shop. Please contact the administrator."
	msgNoPhones  = "You have no phone numbers available. Buy a Telegram account first."
	msgPhones    = "Your numbers:\n\n%s\n\nTo get a code send: cd <number>"
	msgNotOwned  = "Number %s does not belong to you. You can only request codes for your own numbers."
	msgNotFound  = "Number %s was not found among your orders."
	msgNoToken   = "Code delivery is not configured yet. The administrator will contact you shortly."
	msgSent      = "Code request sent. Expected waiting time: about 5 minutes. Please be patient."
	msgExhausted = "Could not get a code for number %s. The code may appear in a few minutes, please try again later."
	msgFailure   = "A technical error occurred while getting the code. Please try again later or contact the administrator."
)

type Exchange interface {
	Code(ctx context.Context, itemID int64) (string, error)
}

type Registry interface {
	Settings() model.Settings
	OwnerOf(phone string) (string, bool, error)
	CredentialsOf(buyerID string) ([]model.Credential, error)
	CredentialsByOrder(orderID string) ([]model.Credential, error)
	ClaimPhone(c model.Credential) error
}

type Marketplace interface {
	SendMessage(ctx context.Context, chatID, text string) error
	RecentSales(ctx context.Context, buyerID string) ([]marketplace.Sale, error)
}

type Notifier interface {
	Notify(ctx context.Context, kind notify.Kind, text, orderID string)
}

// Message 一条买家聊天消息。
type Message struct {
	ChatID  string `json:"chat_id"`
	BuyerID string `json:"buyer_id"`
	Text    string `json:"text"`
}

type Deps struct {
	Exchange    Exchange
	Registry    Registry
	Marketplace Marketplace
	Notifier    Notifier
	Logger      *zap.SugaredLogger
}

type Options struct {
	MaxAttempts int
	RetryDelay  time.Duration
	MaxDelay    time.Duration
	// OrderLink 生成订单页面链接，用于 {order_link}。
	OrderLink func(orderID string) string
	// Sleep 可替换的等待函数，ctx 取消时返回错误。
	Sleep func(ctx context.Context, d time.Duration) error
}

type Service struct {
	exchange Exchange
	registry Registry
	market   Marketplace
	notifier Notifier
	log      *zap.SugaredLogger
	opts     Options
}

func NewService(d Deps, opts Options) *Service {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultMaxDelay
	}
	if opts.OrderLink == nil {
		opts.OrderLink = func(id string) string { return id }
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}
	return &Service{
		exchange: d.Exchange,
		registry: d.Registry,
		market:   d.Marketplace,
		notifier: d.Notifier,
		log:      d.Logger,
		opts:     opts,
	}
}

// Handle 处理一条聊天消息。非取码指令直接忽略并返回 nil；拒绝与失败以哨兵错误返回。
func (s *Service) Handle(ctx context.Context, m Message) error {
	cmd := ParseCommand(m.Text)
	if cmd.Kind == CommandNone {
		return nil
	}
	if m.ChatID == "" {
		m.ChatID = m.BuyerID
	}
	log := s.log.With("buyer_id", m.BuyerID, "phone", cmd.Phone)

	cfg := s.registry.Settings()
	if cfg.IsBlocked(m.BuyerID) {
		s.reply(ctx, m, msgBlocked)
		s.notifier.Notify(ctx, notify.KindInfo, fmt.Sprintf("Blocked user %s tried to get a code", m.BuyerID), "")
		return ErrBlocked
	}

	if cmd.Kind == CommandList {
		return s.list(ctx, m)
	}

	cred, err := s.authorize(ctx, m.BuyerID, cmd.Phone)
	switch {
	case errors.Is(err, ErrOwnershipViolation):
		log.Warnw("code request for foreign phone rejected")
		s.reply(ctx, m, fmt.Sprintf(msgNotOwned, cmd.Phone))
		return err
	case errors.Is(err, ErrNotFound):
		s.reply(ctx, m, fmt.Sprintf(msgNotFound, cmd.Phone))
		return err
	case err != nil:
		log.Errorw("resolve phone owner failed", "error", err)
		s.reply(ctx, m, msgFailure)
		s.notifier.Notify(ctx, notify.KindError,
			fmt.Sprintf("Code request from %s for %s failed: %v", m.BuyerID, cmd.Phone, err), "")
		return err
	}

	if cred.ItemID == 0 {
		s.reply(ctx, m, msgFailure)
		s.notifier.Notify(ctx, notify.KindError,
			fmt.Sprintf("Code requested for %s but no exchange item is recorded", cmd.Phone), cred.OrderID)
		return ErrNotFound
	}

	if strings.TrimSpace(cfg.ExchangeToken) == "" {
		s.reply(ctx, m, msgNoToken)
		s.notifier.Notify(ctx, notify.KindError,
			fmt.Sprintf("Code requested for %s but the exchange token is not configured", cmd.Phone), cred.OrderID)
		return exchange.ErrNoToken
	}

	s.reply(ctx, m, msgSent)
	s.notifier.Notify(ctx, notify.KindCodeRequest,
		fmt.Sprintf("Buyer %s requested a code for %s (item %d)", m.BuyerID, cmd.Phone, cred.ItemID), cred.OrderID)

	code, err := s.fetch(ctx, cred.ItemID)
	if err != nil {
		log.Warnw("code retrieval failed", "item_id", cred.ItemID, "error", err)
		s.reply(ctx, m, fmt.Sprintf(msgExhausted, cmd.Phone))
		s.notifier.Notify(ctx, notify.KindError,
			fmt.Sprintf("Could not get a code for %s, item_id: %d: %v", cmd.Phone, cred.ItemID, err), cred.OrderID)
		return err
	}

	s.reply(ctx, m, s.formatCode(cfg.CodeTemplate, code, cred))
	log.Infow("code delivered", "order_key", cred.OrderKey)

	cred.BuyerID = m.BuyerID
	if err := s.registry.ClaimPhone(cred); err != nil {
		log.Warnw("lazy phone registration failed", "error", err)
	}
	return nil
}

// authorize 校验号码归属：已登记则必须属于请求者；未登记时尝试从历史订单解析。
func (s *Service) authorize(ctx context.Context, buyerID, phone string) (model.Credential, error) {
	owner, registered, err := s.registry.OwnerOf(phone)
	if err != nil {
		return model.Credential{}, err
	}
	if registered && owner != buyerID {
		return model.Credential{}, ErrOwnershipViolation
	}

	creds, err := s.registry.CredentialsOf(buyerID)
	if err != nil {
		return model.Credential{}, err
	}
	for _, c := range creds {
		if c.Phone == phone {
			return c, nil
		}
	}
	// 本地没有记录（人工补发或历史数据），按近期订单解析
	if c, ok := s.fromSales(ctx, buyerID, phone); ok {
		return c, nil
	}
	return model.Credential{}, ErrNotFound
}

// fromSales 从买家近期订单里找到包含该号码的凭据。
func (s *Service) fromSales(ctx context.Context, buyerID, phone string) (model.Credential, bool) {
	for _, c := range s.salesCredentials(ctx, buyerID) {
		if c.Phone == phone {
			return c, true
		}
	}
	return model.Credential{}, false
}

func (s *Service) salesCredentials(ctx context.Context, buyerID string) []model.Credential {
	sales, err := s.market.RecentSales(ctx, buyerID)
	if err != nil {
		s.log.Warnw("load recent sales failed", "buyer_id", buyerID, "error", err)
		return nil
	}
	var out []model.Credential
	for _, sale := range sales {
		if sale.BuyerID != "" && sale.BuyerID != buyerID {
			continue
		}
		creds, err := s.registry.CredentialsByOrder(sale.OrderID)
		if err != nil {
			s.log.Warnw("load order credentials failed", "order_id", sale.OrderID, "error", err)
			continue
		}
		out = append(out, creds...)
	}
	return out
}

func (s *Service) list(ctx context.Context, m Message) error {
	creds, err := s.registry.CredentialsOf(m.BuyerID)
	if err != nil {
		s.reply(ctx, m, msgFailure)
		return err
	}
	seen := map[string]bool{}
	for _, c := range creds {
		seen[c.Phone] = true
	}
	for _, c := range s.salesCredentials(ctx, m.BuyerID) {
		if seen[c.Phone] {
			continue
		}
		if owner, ok, err := s.registry.OwnerOf(c.Phone); err != nil || (ok && owner != m.BuyerID) {
			continue
		}
		seen[c.Phone] = true
	}
	if len(seen) == 0 {
		s.reply(ctx, m, msgNoPhones)
		return nil
	}
	phones := make([]string, 0, len(seen))
	for p := range seen {
		phones = append(phones, p)
	}
	sort.Strings(phones)
	lines := make([]string, 0, len(phones))
	for _, p := range phones {
		lines = append(lines, "• "+p)
	}
	s.reply(ctx, m, fmt.Sprintf(msgPhones, strings.Join(lines, "\n")))
	return nil
}

// fetch 有限次获取验证码。retry_request 占用一次机会但不记为错误。
func (s *Service) fetch(ctx context.Context, itemID int64) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := s.opts.Sleep(ctx, s.delay(attempt)); err != nil {
				return "", err
			}
		}
		code, err := s.exchange.Code(ctx, itemID)
		if err == nil {
			return code, nil
		}
		if errors.Is(err, exchange.ErrRetry) {
			continue
		}
		if errors.Is(err, exchange.ErrNoToken) {
			return "", err
		}
		lastErr = err
	}
	if lastErr != nil {
		return "", fmt.Errorf("%w after %d attempts: %v", ErrRetrievalExhausted, s.opts.MaxAttempts, lastErr)
	}
	return "", fmt.Errorf("%w after %d attempts", ErrRetrievalExhausted, s.opts.MaxAttempts)
}

// delay 第 n 次尝试前的等待：base×(n-1)，不超过上限。
func (s *Service) delay(attempt int) time.Duration {
	d := s.opts.RetryDelay * time.Duration(attempt-1)
	if d > s.opts.MaxDelay {
		d = s.opts.MaxDelay
	}
	return d
}

func (s *Service) formatCode(template, code string, c model.Credential) string {
	if template == "" {
		template = model.DefaultCodeTemplate
	}
	key := c.OrderKey
	if key == "" {
		key = c.OrderID
	}
	base := strings.SplitN(key, "_", 2)[0]
	return strings.NewReplacer(
		"{code}", code,
		"{order_link}", s.opts.OrderLink(base),
		"{order_id}", key,
	).Replace(template)
}

func (s *Service) reply(ctx context.Context, m Message, text string) {
	if err := s.market.SendMessage(ctx, m.ChatID, text); err != nil {
		s.log.Warnw("send buyer message failed", "chat_id", m.ChatID, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
