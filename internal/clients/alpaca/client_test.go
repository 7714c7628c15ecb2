package alpaca

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(tradingURL, dataURL string) *Client {
	log := logger.New(logger.Config{Level: "error", Pretty: false})
	return NewClient(Config{
		KeyID:       "test-key",
		SecretKey:   "test-secret",
		BaseURL:     tradingURL,
		DataBaseURL: dataURL,
	}, log)
}

func TestClient_AccountBalances(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/account", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("APCA-API-KEY-ID"))
		require.Equal(t, "test-secret", r.Header.Get("APCA-API-SECRET-KEY"))
		json.NewEncoder(w).Encode(accountResponse{Cash: "1234.56", Equity: "2500.00"})
	}))
	defer server.Close()

	client := newTestClient(server.URL, server.URL)

	cash, err := client.Cash(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1234.56, cash, 1e-9)

	equity, err := client.Equity(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 2500.0, equity, 1e-9)
}

func TestClient_PositionSharesMissingIsZero(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/positions/KO":
			json.NewEncoder(w).Encode(positionResponse{Symbol: "KO", Qty: "12.5"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL, server.URL)

	shares, err := client.PositionShares(context.Background(), "KO")
	require.NoError(t, err)
	assert.InDelta(t, 12.5, shares, 1e-9)

	shares, err = client.PositionShares(context.Background(), "UNHELD")
	require.NoError(t, err)
	assert.Equal(t, 0.0, shares)
}

func TestClient_SubmitOrder(t *testing.T) {
	var received orderRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v2/orders", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		json.NewEncoder(w).Encode(orderResponse{ID: "order-123"})
	}))
	defer server.Close()

	client := newTestClient(server.URL, server.URL)

	orderID, err := client.SubmitOrder(context.Background(), domain.Order{
		Symbol: "KO",
		Side:   domain.OrderSideSell,
		Shares: 2.5,
	})
	require.NoError(t, err)

	assert.Equal(t, "order-123", orderID)
	assert.Equal(t, "KO", received.Symbol)
	assert.Equal(t, "sell", received.Side)
	assert.Equal(t, "2.5", received.Qty)
	assert.Equal(t, "market", received.Type)
	assert.Equal(t, "gtc", received.TimeInForce)
	assert.NotEmpty(t, received.ClientOrderID)
}

func TestClient_OpenOrdersAndCancel(t *testing.T) {
	canceled := ""
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v2/orders":
			require.Equal(t, "open", r.URL.Query().Get("status"))
			json.NewEncoder(w).Encode([]orderResponse{
				{ID: "ord-1", Symbol: "KO", Side: "buy", Qty: "5"},
				{ID: "ord-2", Symbol: "CVX", Side: "sell", Qty: "3"},
			})
		case r.Method == http.MethodDelete:
			canceled = r.URL.Path
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL, server.URL)

	open, err := client.OpenOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, domain.OrderSideBuy, open[0].Side)
	assert.Equal(t, domain.OrderSideSell, open[1].Side)
	assert.InDelta(t, 5.0, open[0].Shares, 1e-9)

	require.NoError(t, client.CancelOrder(context.Background(), "ord-1"))
	assert.Equal(t, "/v2/orders/ord-1", canceled)
}

func TestClient_PairPriceUsesInverseOrientation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pair := r.URL.Query().Get("symbols")
		if pair != "BTC/USD" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"quotes":{"BTC/USD":{"ap":50100,"bp":49900}}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, server.URL)

	// Direct orientation: midpoint of bid/ask
	price, err := client.PairPrice(context.Background(), "BTC", "USD")
	require.NoError(t, err)
	assert.InDelta(t, 50000.0, price, 1e-6)

	// Reverse orientation falls back to the inverse of the direct quote
	price, err = client.PairPrice(context.Background(), "USD", "BTC")
	require.NoError(t, err)
	assert.InDelta(t, 1.0/50000.0, price, 1e-12)
}

func TestClient_ConvertFromUSDBuysByNotional(t *testing.T) {
	var received orderRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/account":
			json.NewEncoder(w).Encode(accountResponse{Cash: "500", Equity: "500"})
		case "/v2/orders":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
			json.NewEncoder(w).Encode(orderResponse{ID: "conv-1"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL, server.URL)

	orderID, err := client.Convert(context.Background(), "USD", "BTC")
	require.NoError(t, err)

	assert.Equal(t, "conv-1", orderID)
	assert.Equal(t, "BTC/USD", received.Symbol)
	assert.Equal(t, "buy", received.Side)
	assert.Equal(t, "500", received.Notional)
	assert.Empty(t, received.Qty)
}

func TestClient_ConvertCryptoSellsPosition(t *testing.T) {
	var received orderRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v2/positions/BTC":
			json.NewEncoder(w).Encode(positionResponse{Symbol: "BTC", Qty: "0.25"})
		case r.URL.Path == "/v1beta3/crypto/us/latest/quotes":
			if r.URL.Query().Get("symbols") != "BTC/ETH" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write([]byte(`{"quotes":{"BTC/ETH":{"ap":15.1,"bp":14.9}}}`))
		case r.URL.Path == "/v2/orders":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
			json.NewEncoder(w).Encode(orderResponse{ID: "conv-2"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL, server.URL)

	orderID, err := client.Convert(context.Background(), "BTC", "ETH")
	require.NoError(t, err)

	assert.Equal(t, "conv-2", orderID)
	assert.Equal(t, "BTC/ETH", received.Symbol)
	assert.Equal(t, "sell", received.Side)
	assert.Equal(t, "0.25", received.Qty)
}
