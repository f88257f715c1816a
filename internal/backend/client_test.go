package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"forex-trade-engine-go/internal/models"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// setupTestServer creates a new test server and a RestClient configured to use it.
func setupTestServer(handler http.Handler) (*RestClient, *httptest.Server) {
	server := httptest.NewServer(handler)

	client := resty.New().SetBaseURL(server.URL)
	logger := zap.NewNop() // Use a no-op logger for tests

	rc := &RestClient{
		client:  client,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Inf, 1), // Allow all requests in tests
	}

	return rc, server
}

func TestListOpen(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mockResponse := `[
			{"id":"p1","symbol":"FX:EURUSD","side":"long","lotSize":"10","entryPrice":"1.10000","stopLoss":"1.09500","takeProfit":"0","status":"open"},
			{"id":"p2","symbol":"TVC:GOLD","side":"short","lotSize":"2","entryPrice":"2300.00","stopLoss":"0","takeProfit":"2250.00","status":"open"}
		]`

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/trades", r.URL.Path)
			assert.Equal(t, "open", r.URL.Query().Get("status"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(mockResponse))
		})

		rc, server := setupTestServer(handler)
		defer server.Close()

		positions, err := rc.ListOpen(context.Background())

		require.NoError(t, err)
		require.Len(t, positions, 2)
		assert.Equal(t, "p1", positions[0].ID)
		assert.Equal(t, models.SideLong, positions[0].Side)
		assert.True(t, positions[0].StopLoss.Equal(decimal.RequireFromString("1.09500")))
		assert.False(t, positions[0].TakeProfitEnabled())
		assert.Equal(t, models.SideShort, positions[1].Side)
	})
}

func TestOpen(t *testing.T) {
	req := OpenRequest{
		Symbol:     "FX:EURUSD",
		Side:       models.SideLong,
		LotSize:    decimal.RequireFromString("10"),
		EntryPrice: decimal.RequireFromString("1.10000"),
	}

	t.Run("Success", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/trade", r.URL.Path)
			assert.Equal(t, http.MethodPost, r.Method)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"p9","symbol":"FX:EURUSD","side":"long","lotSize":"10","entryPrice":"1.10000","status":"open"}`))
		})

		rc, server := setupTestServer(handler)
		defer server.Close()

		pos, err := rc.Open(context.Background(), req)

		require.NoError(t, err)
		assert.Equal(t, "p9", pos.ID)
		assert.True(t, pos.IsOpen())
	})

	t.Run("InsufficientBalance", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"Insufficient balance"}`))
		})

		rc, server := setupTestServer(handler)
		defer server.Close()

		_, err := rc.Open(context.Background(), req)
		assert.ErrorIs(t, err, ErrInsufficientBalance)
	})

	t.Run("ValidationFailed", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"lot size too small"}`))
		})

		rc, server := setupTestServer(handler)
		defer server.Close()

		_, err := rc.Open(context.Background(), req)
		assert.ErrorIs(t, err, ErrValidationFailed)
	})
}

func TestClose(t *testing.T) {
	exit := decimal.RequireFromString("1.10060")
	pnl := decimal.RequireFromString("-120.00")

	t.Run("Success", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/trade/p1/close", r.URL.Path)
			assert.Equal(t, http.MethodPost, r.Method)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"p1","symbol":"FX:EURUSD","status":"closed","exitPrice":"1.10060","realizedPnl":"-120.00"}`))
		})

		rc, server := setupTestServer(handler)
		defer server.Close()

		pos, err := rc.Close(context.Background(), "p1", exit, pnl)

		require.NoError(t, err)
		assert.Equal(t, models.StatusClosed, pos.Status)
		assert.True(t, pos.RealizedPnl.Equal(pnl))
	})

	t.Run("AlreadyClosed", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"trade already closed"}`))
		})

		rc, server := setupTestServer(handler)
		defer server.Close()

		_, err := rc.Close(context.Background(), "p1", exit, pnl)
		assert.ErrorIs(t, err, ErrAlreadyClosed)
	})

	t.Run("NotFound", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"no such trade"}`))
		})

		rc, server := setupTestServer(handler)
		defer server.Close()

		_, err := rc.Close(context.Background(), "p1", exit, pnl)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestUpdateThresholds(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/trade/p1/sl-tp", r.URL.Path)
		assert.Equal(t, http.MethodPut, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"p1","symbol":"FX:EURUSD","stopLoss":"1.09000","takeProfit":"1.12000","status":"open"}`))
	})

	rc, server := setupTestServer(handler)
	defer server.Close()

	pos, err := rc.UpdateThresholds(context.Background(), "p1",
		decimal.RequireFromString("1.09000"), decimal.RequireFromString("1.12000"))

	require.NoError(t, err)
	assert.True(t, pos.StopLoss.Equal(decimal.RequireFromString("1.09000")))
	assert.True(t, pos.TakeProfit.Equal(decimal.RequireFromString("1.12000")))
}

func TestGetUser(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/u1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"u1","demoBalance":"10000"}`))
	})

	rc, server := setupTestServer(handler)
	defer server.Close()

	user, err := rc.GetUser(context.Background(), "u1")

	require.NoError(t, err)
	assert.True(t, user.Balance.Equal(decimal.RequireFromString("10000")))
}
