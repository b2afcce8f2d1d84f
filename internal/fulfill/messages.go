package fulfill

import (
	"fmt"
	"strings"
)

// 买家侧消息只给出笼统说明，细节留给管理员通知。
const (
	msgBlocked  = "You are blocked in this shop. The payment has been refunded."
	msgDelayed  = "A temporary technical issue occurred.\nYour account will be delivered automatically once it is resolved.\nMaximum waiting time: 1 hour."
	msgAdLot    = "This lot is an advertisement and does not need to be bought. Just write which country you need and your budget. The payment has been refunded."
	msgQuantity = "Sorry, Telegram accounts can only be ordered one at a time.\n\nYour payment has been refunded automatically. Please place a new order with quantity 1."
	msgPending  = "Thank you for your order! Unfortunately no accounts are available right now. The seller will contact you shortly."
	msgRefunded = "Sorry, we could not purchase an account for %s. Your payment has been refunded automatically."
	msgPartial  = "Partially completed: %d of %d accounts delivered.\n\n%s\n\nThe remaining accounts will be delivered once the seller reviews this order."
)

// CodeCommand 买家索取验证码的命令。
func CodeCommand(phone string) string { return "cd " + phone }

// FormatPurchase 用号码列表填充收货模板。
func FormatPurchase(template string, phones []string) string {
	cmds := make([]string, 0, len(phones))
	for _, p := range phones {
		cmds = append(cmds, CodeCommand(p))
	}
	return strings.NewReplacer(
		"{phone}", strings.Join(phones, ", "),
		"{cd_commands}", strings.Join(cmds, ", "),
	).Replace(template)
}

func partialMessage(template string, phones []string, want int) string {
	return fmt.Sprintf(msgPartial, len(phones), want, FormatPurchase(template, phones))
}
