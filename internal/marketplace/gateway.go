package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// GatewayOptions HTTP 网关参数。
type GatewayOptions struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Gateway 通过 JSON 网关访问市场：
//
//	GET  {base}/orders/{id}                 -> OrderDetail
//	POST {base}/chats/{chat_id}/messages    {"text": ...}
//	POST {base}/orders/{id}/refund
//	GET  {base}/sales?buyer_id=...          -> {"sales":[...]}
type Gateway struct {
	baseURL string
	token   string
	client  *http.Client
}

var _ Marketplace = (*Gateway)(nil)

func NewGateway(opts GatewayOptions) (*Gateway, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		return nil, errors.New("marketplace base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid marketplace base url: %w", err)
	}
	to := opts.Timeout
	if to <= 0 {
		to = 10 * time.Second
	}
	return &Gateway{
		baseURL: strings.TrimRight(base, "/"),
		token:   opts.Token,
		client:  &http.Client{Timeout: to},
	}, nil
}

func (g *Gateway) GetOrder(ctx context.Context, orderID string) (OrderDetail, error) {
	var out OrderDetail
	err := g.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, &out)
	return out, err
}

func (g *Gateway) SendMessage(ctx context.Context, chatID, text string) error {
	return g.do(ctx, http.MethodPost, "/chats/"+url.PathEscape(chatID)+"/messages", map[string]string{"text": text}, nil)
}

func (g *Gateway) Refund(ctx context.Context, orderID string) error {
	return g.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/refund", nil, nil)
}

func (g *Gateway) RecentSales(ctx context.Context, buyerID string) ([]Sale, error) {
	var out struct {
		Sales []Sale `json:"sales"`
	}
	err := g.do(ctx, http.MethodGet, "/sales?buyer_id="+url.QueryEscape(buyerID), nil, &out)
	return out.Sales, err
}

func (g *Gateway) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("marketplace %s %s: status=%d body=%s", method, path, resp.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
