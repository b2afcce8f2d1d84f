// Package exchange 封装上游库存交易所的 HTTP 接口：搜索、校验、购买、取验证码、查询余额。
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// DefaultBaseURL 交易所 API 地址。
const DefaultBaseURL = "https://api.lzt.market"

// Options 客户端参数。Token 在每次请求时读取，设置修改后立即生效。
type Options struct {
	BaseURL string
	Timeout time.Duration
	// MinInterval 搜索与购买请求之间的最小间隔；<=0 表示不限速。
	MinInterval time.Duration
	Token       func() string
}

// Client 无状态的交易所客户端，可并发使用。
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	token   func() string
}

// Account 令牌对应的交易所账户。
type Account struct {
	Username string
	Balance  decimal.Decimal
}

// SearchParams 搜索条件。
type SearchParams struct {
	Country  string
	MinPrice decimal.Decimal
	MaxPrice decimal.Decimal
	Origins  []string
	Spam     bool
	GeoSpam  bool
}

// Listing 搜索返回的在售商品。
type Listing struct {
	ItemID int64           `json:"item_id"`
	Price  decimal.Decimal `json:"price"`
}

// Item 购买成功后的商品详情。
type Item struct {
	ItemID   int64           `json:"item_id"`
	Price    decimal.Decimal `json:"price"`
	Phone    string          `json:"telegram_phone"`
	Username string          `json:"telegram_username"`
}

func New(opts Options) (*Client, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid exchange base url: %w", err)
	}
	if opts.Token == nil {
		return nil, errors.New("exchange token source is required")
	}
	to := opts.Timeout
	if to <= 0 {
		to = 15 * time.Second
	}
	limit := rate.Inf
	if opts.MinInterval > 0 {
		limit = rate.Every(opts.MinInterval)
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: to},
		limiter: rate.NewLimiter(limit, 1),
		token:   opts.Token,
	}, nil
}

// Me 查询账户信息，兼作上游存活探测。
func (c *Client) Me(ctx context.Context) (Account, error) {
	var out struct {
		User struct {
			Username string          `json:"username"`
			Balance  decimal.Decimal `json:"balance"`
		} `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/me", nil, &out); err != nil {
		return Account{}, err
	}
	return Account{Username: out.User.Username, Balance: out.User.Balance}, nil
}

// Search 按国家、价格区间与来源过滤在售商品，交易所侧按价格升序返回。
func (c *Client) Search(ctx context.Context, p SearchParams) ([]Listing, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("order_by", "price_to_up")
	q.Set("pmin", p.MinPrice.String())
	q.Set("pmax", p.MaxPrice.String())
	for _, o := range p.Origins {
		q.Add("origin[]", o)
	}
	q.Set("spam", yesNo(p.Spam))
	q.Set("allow_geo_spamblock", strconv.FormatBool(p.GeoSpam))
	q.Set("password", "no")
	q.Add("country[]", p.Country)

	var out struct {
		Items []Listing `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/telegram?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Check 预检商品是否仍然可用。
func (c *Client) Check(ctx context.Context, itemID int64) (bool, error) {
	var out struct {
		Status string `json:"status"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/%d/check", itemID), nil, &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return false, nil
		}
		return false, err
	}
	return out.Status == "ok", nil
}

// Purchase 快速购买商品；业务失败返回 *APIError，由 Classify 分类。
func (c *Client) Purchase(ctx context.Context, itemID int64) (Item, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Item{}, err
	}
	var out struct {
		Item *Item `json:"item"`
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/%d/fast-buy", itemID), nil, &out); err != nil {
		return Item{}, err
	}
	if out.Item == nil {
		return Item{}, &APIError{Status: http.StatusOK, Errors: []string{"purchase response has no item"}}
	}
	if out.Item.ItemID == 0 {
		out.Item.ItemID = itemID
	}
	return *out.Item, nil
}

// Code 获取最新的登录验证码；交易所要求重试时返回 ErrRetry。
func (c *Client) Code(ctx context.Context, itemID int64) (string, error) {
	var out struct {
		Codes []struct {
			Code string `json:"code"`
			Date int64  `json:"date"`
		} `json:"codes"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/%d/telegram-login-code", itemID), nil, &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && slices.Contains(apiErr.Errors, "retry_request") {
			return "", ErrRetry
		}
		return "", err
	}
	if len(out.Codes) == 0 || out.Codes[0].Code == "" {
		return "", ErrNoCode
	}
	return out.Codes[0].Code, nil
}

// do 发送请求并解码响应；非 2xx 或带 errors 字段的响应转为 *APIError。
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	token := c.token()
	if token == "" {
		return ErrNoToken
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	var envelope struct {
		Errors []string `json:"errors"`
	}
	_ = json.Unmarshal(raw, &envelope)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || len(envelope.Errors) > 0 {
		errs := envelope.Errors
		if len(errs) == 0 {
			errs = []string{http.StatusText(resp.StatusCode)}
		}
		return &APIError{Status: resp.StatusCode, Errors: errs}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
