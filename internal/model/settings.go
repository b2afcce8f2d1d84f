package model

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultPurchaseTemplate 买家收货消息模板，占位符 {phone} 与 {cd_commands}。
const DefaultPurchaseTemplate = `Thank you for your payment!
Before requesting a login code:
- Enable a VPN for the country you bought (first login only)
- Start a screen recording so a replacement can be arranged if the account is banned
Rules:
- Do not change the e-mail during the first 24 hours
- Do not enable 2FA during the first 24 hours

Login phone: {phone}

To receive the confirmation code send to this chat:
{cd_commands}`

// DefaultCodeTemplate 验证码消息模板，占位符 {code}、{order_link}、{order_id}。
const DefaultCodeTemplate = `Your Telegram login code: {code}

Thank you for the purchase, please confirm the order: {order_link}
Order #{order_id} is complete. Leaving a review helps a lot.`

// Notifications 按事件类型控制管理员通知开关。
type Notifications struct {
	Success     bool `json:"success"`
	Error       bool `json:"error"`
	CodeRequest bool `json:"code_request"`
	Refund      bool `json:"refund"`
	LowBalance  bool `json:"low_balance"`
	Health      bool `json:"health"`
}

// Settings 是插件设置文档，只由管理端修改，流水线各阶段读取。
type Settings struct {
	ExchangeToken        string          `json:"exchange_token"`
	Origins              []string        `json:"origins"`
	BuySpamblock         bool            `json:"buy_spamblock"`
	BuyGeoSpamblock      bool            `json:"buy_geo_spamblock"`
	BuyCheapest          bool            `json:"buy_cheapest"`
	CheckAccounts        bool            `json:"check_accounts"`
	MultiAccountDelivery bool            `json:"multi_account_delivery"`
	LowBalanceThreshold  decimal.Decimal `json:"low_balance_threshold"`
	AutoReturns          bool            `json:"auto_returns"`
	PurchaseTemplate     string          `json:"purchase_template"`
	CodeTemplate         string          `json:"code_template"`
	Administrators       []string        `json:"administrators"`
	BlockedUsers         []string        `json:"blocked_users"`
	Notifications        Notifications   `json:"notifications"`
	HealthCheckEnabled   bool            `json:"health_check_enabled"`
	NotifyAPICheck       bool            `json:"notify_api_check"`
}

// DefaultSettings 首次启动时写入的默认设置。
func DefaultSettings() Settings {
	return Settings{
		Origins:             []string{"autoreg", "samoreg", "personal"},
		BuyCheapest:         true,
		CheckAccounts:       true,
		LowBalanceThreshold: decimal.NewFromInt(500),
		AutoReturns:         true,
		PurchaseTemplate:    DefaultPurchaseTemplate,
		CodeTemplate:        DefaultCodeTemplate,
		Notifications: Notifications{
			Success:     true,
			Error:       true,
			CodeRequest: true,
			Refund:      true,
			LowBalance:  true,
		},
		HealthCheckEnabled: true,
	}
}

// Clone 深拷贝，调用方可以放心修改返回值。
func (s Settings) Clone() Settings {
	out := s
	out.Origins = slices.Clone(s.Origins)
	out.Administrators = slices.Clone(s.Administrators)
	out.BlockedUsers = slices.Clone(s.BlockedUsers)
	return out
}

// IsBlocked 判断买家是否在黑名单中（大小写不敏感）。
func (s Settings) IsBlocked(buyerID string) bool {
	for _, u := range s.BlockedUsers {
		if strings.EqualFold(u, buyerID) {
			return true
		}
	}
	return false
}

// SettingsDocument 以单行 JSON 文档形式持久化 Settings。
type SettingsDocument struct {
	ID        uint      `gorm:"primarykey"`
	UpdatedAt time.Time
	Data      string `gorm:"type:text;not null"`
}

func (SettingsDocument) TableName() string { return "settings_documents" }
