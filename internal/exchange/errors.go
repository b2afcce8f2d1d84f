package exchange

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRetry 交易所返回 retry_request：不是终态，调用方可再试。
	ErrRetry = errors.New("exchange asked to retry the request")
	// ErrNoToken 未配置访问令牌。
	ErrNoToken = errors.New("exchange token is not configured")
	// ErrNoCode 接口成功但没有可用的验证码。
	ErrNoCode = errors.New("no login code available")
)

// APIError 交易所以 {"errors":[...]} 形式返回的业务错误。
type APIError struct {
	Status int
	Errors []string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange status=%d: %s", e.Status, strings.Join(e.Errors, ", "))
}

// Kind 是采购失败的分类结果。
type Kind int

const (
	KindOther     Kind = iota // 其他错误：终止当前订单剩余采购
	KindFunds                 // 余额不足：立即终止并告警
	KindIgnorable             // 该商品不可买：换下一个候选
	KindRetry                 // 交易所要求重试
)

func (k Kind) String() string {
	switch k {
	case KindFunds:
		return "funds"
	case KindIgnorable:
		return "ignorable"
	case KindRetry:
		return "retry"
	default:
		return "other"
	}
}

// 交易所错误文本为俄语，同时兼容英文提示。
var fundsSignals = []string{
	"недостаточно средств",
	"недостаточно баланса",
	"пополнить баланс",
	"insufficient funds",
	"not enough money",
	"top up your balance",
}

var ignorableSignals = []string{
	"аккаунт продан",
	"уже продан",
	"произошло более 20 ошибок",
	"не прошел проверку",
	"в данный момент недоступен",
	"retry_request",
	"already sold",
	"failed the check",
	"temporarily unavailable",
}

// Classify 将采购错误映射到 Kind。
func Classify(err error) Kind {
	if err == nil {
		return KindOther
	}
	if errors.Is(err, ErrRetry) {
		return KindRetry
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return KindOther
	}
	msg := strings.ToLower(strings.Join(apiErr.Errors, ", "))
	for _, s := range fundsSignals {
		if strings.Contains(msg, s) {
			return KindFunds
		}
	}
	for _, s := range ignorableSignals {
		if strings.Contains(msg, s) {
			return KindIgnorable
		}
	}
	return KindOther
}
