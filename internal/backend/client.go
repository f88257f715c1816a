package backend

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"forex-trade-engine-go/internal/config"
	"forex-trade-engine-go/internal/models"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// OpenRequest is a user-initiated request to open a position.
type OpenRequest struct {
	Symbol     string          `json:"symbol"`
	Side       models.Side     `json:"side"`
	LotSize    decimal.Decimal `json:"lotSize"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	StopLoss   decimal.Decimal `json:"stopLoss"`
	TakeProfit decimal.Decimal `json:"takeProfit"`
}

// Client is the boundary to the backend trade store. The backend is the
// authoritative system of record; its response is the final word on whether
// an open or close happened.
type Client interface {
	ListOpen(ctx context.Context) ([]models.Position, error)
	Open(ctx context.Context, req OpenRequest) (*models.Position, error)
	Close(ctx context.Context, id string, exitPrice, pnl decimal.Decimal) (*models.Position, error)
	UpdateThresholds(ctx context.Context, id string, stopLoss, takeProfit decimal.Decimal) (*models.Position, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// RestClient is a client for the trade-store REST API.
// It implements the Client interface.
type RestClient struct {
	client  *resty.Client
	logger  *zap.Logger
	limiter *rate.Limiter
}

// ensure RestClient implements the interface
var _ Client = (*RestClient)(nil)

// NewRestClient creates a new trade-store API client.
func NewRestClient(cfg *config.Backend, logger *zap.Logger) *RestClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.AuthToken)

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestClient{
		client:  client,
		logger:  logger.Named("backend"),
		limiter: limiter,
	}
}

// apiError is a non-retryable HTTP failure; endpoints map it to the typed
// taxonomy before returning.
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("backend responded %d: %s", e.status, e.body)
}

// doRequest handles request execution with rate limiting and retry logic.
// 429 and 5xx responses and transport errors are retried with exponential
// backoff; other HTTP errors come back as *apiError for the caller to map.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.SetContext(ctx).Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if err == nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, &apiError{status: resp.StatusCode(), body: resp.String()}
		}

		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrBackendUnreachable, ctx.Err())
		}
	}

	return nil, fmt.Errorf("%w: request failed after retries: %w", ErrBackendUnreachable, err)
}

// ListOpen fetches all open positions from the trade store.
func (c *RestClient) ListOpen(ctx context.Context) ([]models.Position, error) {
	var positions []models.Position

	req := c.client.R().
		SetResult(&positions).
		SetQueryParam("status", "open")

	resp, err := c.doRequest(ctx, http.MethodGet, "/trades", req)
	if err != nil {
		return nil, fmt.Errorf("failed to list open positions: %w", mapAPIError(err, false))
	}

	return *resp.Result().(*[]models.Position), nil
}

// Open submits a trade-open request. Client-side guards run before this
// call; the backend still performs its own authoritative checks.
func (c *RestClient) Open(ctx context.Context, reqBody OpenRequest) (*models.Position, error) {
	req := c.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		SetResult(&models.Position{})

	resp, err := c.doRequest(ctx, http.MethodPost, "/trade", req)
	if err != nil {
		c.logger.Error("Failed to open position",
			zap.String("symbol", reqBody.Symbol), zap.Error(err))
		return nil, fmt.Errorf("failed to open position: %w", mapAPIError(err, false))
	}

	pos := resp.Result().(*models.Position)
	c.logger.Info("Opened position",
		zap.String("id", pos.ID),
		zap.String("symbol", pos.Symbol),
		zap.String("side", string(pos.Side)))
	return pos, nil
}

// closeRequest carries the computed pnl and exit price for a close.
type closeRequest struct {
	ExitPrice decimal.Decimal `json:"exitPrice"`
	Pnl       decimal.Decimal `json:"pnl"`
}

// Close asks the backend to close a position at the given exit price with
// the pnl computed by the valuation engine.
func (c *RestClient) Close(ctx context.Context, id string, exitPrice, pnl decimal.Decimal) (*models.Position, error) {
	req := c.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(closeRequest{ExitPrice: exitPrice, Pnl: pnl}).
		SetResult(&models.Position{})

	resp, err := c.doRequest(ctx, http.MethodPost, "/trade/"+id+"/close", req)
	if err != nil {
		return nil, fmt.Errorf("failed to close position %s: %w", id, mapAPIError(err, true))
	}

	pos := resp.Result().(*models.Position)
	c.logger.Info("Closed position",
		zap.String("id", pos.ID),
		zap.String("exit_price", exitPrice.String()),
		zap.String("pnl", pnl.String()))
	return pos, nil
}

// thresholdRequest mutates SL/TP on an open position.
type thresholdRequest struct {
	StopLoss   decimal.Decimal `json:"stopLoss"`
	TakeProfit decimal.Decimal `json:"takeProfit"`
}

// UpdateThresholds mutates the stop-loss/take-profit of an open position.
func (c *RestClient) UpdateThresholds(ctx context.Context, id string, stopLoss, takeProfit decimal.Decimal) (*models.Position, error) {
	req := c.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(thresholdRequest{StopLoss: stopLoss, TakeProfit: takeProfit}).
		SetResult(&models.Position{})

	resp, err := c.doRequest(ctx, http.MethodPut, "/trade/"+id+"/sl-tp", req)
	if err != nil {
		return nil, fmt.Errorf("failed to update thresholds for %s: %w", id, mapAPIError(err, true))
	}

	return resp.Result().(*models.Position), nil
}

// GetUser fetches the account view, consumed read-only by the balance guard.
func (c *RestClient) GetUser(ctx context.Context, id string) (*models.User, error) {
	req := c.client.R().SetResult(&models.User{})

	resp, err := c.doRequest(ctx, http.MethodGet, "/users/"+id, req)
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", id, mapAPIError(err, true))
	}

	return resp.Result().(*models.User), nil
}

// mapAPIError translates non-retryable HTTP failures into the error
// taxonomy. notFoundMeaningful distinguishes endpoints addressing a single
// position (404 means the position vanished) from collection endpoints.
func mapAPIError(err error, notFoundMeaningful bool) error {
	apiErr, ok := err.(*apiError)
	if !ok {
		return err // already ErrBackendUnreachable or context failure
	}

	switch {
	case apiErr.status == http.StatusNotFound && notFoundMeaningful:
		return fmt.Errorf("%w: %s", ErrNotFound, apiErr.body)
	case apiErr.status == http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrAlreadyClosed, apiErr.body)
	case apiErr.status == http.StatusBadRequest || apiErr.status == http.StatusUnprocessableEntity:
		if strings.Contains(strings.ToLower(apiErr.body), "balance") {
			return fmt.Errorf("%w: %s", ErrInsufficientBalance, apiErr.body)
		}
		return fmt.Errorf("%w: %s", ErrValidationFailed, apiErr.body)
	default:
		return fmt.Errorf("%w: %s", ErrBackendUnreachable, apiErr.Error())
	}
}
