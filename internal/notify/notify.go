// Package notify 向管理员发送按事件类型开关的通知。
package notify

import (
	"context"
	"fmt"

	"autotg/internal/model"

	"go.uber.org/zap"
)

// Kind 通知类型，对应设置中的开关。
type Kind string

const (
	KindSuccess     Kind = "success"
	KindError       Kind = "error"
	KindCodeRequest Kind = "code_request"
	KindRefund      Kind = "refund"
	KindLowBalance  Kind = "low_balance"
	KindHealth      Kind = "health"
	KindInfo        Kind = "info"
)

var prefixes = map[Kind]string{
	KindSuccess:     "✅",
	KindError:       "❌",
	KindCodeRequest: "🔐",
	KindRefund:      "💰",
	KindLowBalance:  "⚠️",
	KindHealth:      "📡",
	KindInfo:        "ℹ️",
}

// Sender 把文本投递给一个管理员。
type Sender interface {
	Send(ctx context.Context, adminID, text string) error
}

// SettingsSource 提供当前设置快照。
type SettingsSource interface {
	Settings() model.Settings
}

// Notifier 根据设置中的管理员列表与开关广播通知，投递失败只记日志。
type Notifier struct {
	sender    Sender
	settings  SettingsSource
	log       *zap.SugaredLogger
	orderLink func(orderID string) string
}

func New(sender Sender, settings SettingsSource, orderLink func(string) string, log *zap.SugaredLogger) *Notifier {
	return &Notifier{sender: sender, settings: settings, orderLink: orderLink, log: log}
}

// Enabled 判断某类通知是否开启；info 类始终发送。
func Enabled(n model.Notifications, kind Kind) bool {
	switch kind {
	case KindSuccess:
		return n.Success
	case KindError:
		return n.Error
	case KindCodeRequest:
		return n.CodeRequest
	case KindRefund:
		return n.Refund
	case KindLowBalance:
		return n.LowBalance
	case KindHealth:
		return n.Health
	default:
		return true
	}
}

// Notify 发送通知；orderID 非空时附带订单链接。
func (n *Notifier) Notify(ctx context.Context, kind Kind, text, orderID string) {
	cfg := n.settings.Settings()
	if len(cfg.Administrators) == 0 || !Enabled(cfg.Notifications, kind) {
		return
	}
	msg := fmt.Sprintf("%s %s", prefixes[kind], text)
	if orderID != "" && n.orderLink != nil {
		msg += "\n" + n.orderLink(orderID)
	}
	for _, admin := range cfg.Administrators {
		if err := n.sender.Send(ctx, admin, msg); err != nil {
			n.log.Warnw("notify admin failed", "admin", admin, "kind", kind, "error", err)
		}
	}
}

// LogSender 未配置 Bot 时只把通知写入日志。
type LogSender struct {
	Log *zap.SugaredLogger
}

func (s LogSender) Send(_ context.Context, adminID, text string) error {
	s.Log.Infow("admin notification", "admin", adminID, "text", text)
	return nil
}
