package marketplace

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"autotg/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateway(t *testing.T) {
	var sent map[string]string
	var refunded string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/orders/A1":
			_, _ = w.Write([]byte(`{"order_id":"A1","status":"refunded","buyer_id":"alice","full_description":"tg: KZ1","sum":"120"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/chats/c-1/messages":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
		case r.Method == http.MethodPost && r.URL.Path == "/orders/A1/refund":
			refunded = "A1"
		case r.Method == http.MethodGet && r.URL.Path == "/sales":
			assert.Equal(t, "alice", r.URL.Query().Get("buyer_id"))
			_, _ = w.Write([]byte(`{"sales":[{"order_id":"A1","buyer_id":"alice"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	g, err := NewGateway(GatewayOptions{BaseURL: srv.URL, Token: "secret"})
	require.NoError(t, err)
	ctx := context.Background()

	d, err := g.GetOrder(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusRefunded, d.Status)
	assert.True(t, d.Status.IsTerminal())
	assert.Equal(t, "tg: KZ1", d.FullDescription)

	require.NoError(t, g.SendMessage(ctx, "c-1", "hello"))
	assert.Equal(t, "hello", sent["text"])

	require.NoError(t, g.Refund(ctx, "A1"))
	assert.Equal(t, "A1", refunded)

	sales, err := g.RecentSales(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []Sale{{OrderID: "A1", BuyerID: "alice"}}, sales)

	_, err = g.GetOrder(ctx, "missing")
	assert.Error(t, err)
}
