// Package broker implements the brokerage REST client the Action Executor
// calls: place_order, cancel_order, modify_order, get_quote, and
// refresh_token (spec §6). Bit-exact field names are broker-specific; this
// client models the call shapes the domain types already capture.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantcore/trademonitor/internal/domain"
)

const restTimeout = 10 * time.Second

// Client is a thin REST client over the opaque brokerage API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     zerolog.Logger
}

// New builds a broker REST client bound to baseURL/apiKey.
func New(baseURL, apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: restTimeout},
		log:     log.With().Str("component", "broker_client").Logger(),
	}
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apiError       `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, accessToken string, body interface{}) (*apiResponse, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal broker request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build broker request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("X-Idempotency-Key", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("broker request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read broker response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &domain.MonitoringPausedError{Reason: "broker returned 401"}
	}

	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse broker response: %w", err)
	}
	if !out.Success {
		code, msg := "unknown", "broker did not report a reason"
		if out.Error != nil {
			code, msg = out.Error.Code, out.Error.Message
		}
		return nil, &domain.BrokerRejection{Code: code, Message: msg}
	}
	return &out, nil
}

// OrderResult is what a successful place_order/modify_order call returns.
type OrderResult struct {
	OrderID string `json:"order_id"`
}

// PlaceOrder forwards a place_order action to the broker.
func (c *Client) PlaceOrder(ctx context.Context, accessToken string, cfg *domain.PlaceOrderConfig) (*OrderResult, error) {
	resp, err := c.do(ctx, http.MethodPost, "/orders", accessToken, cfg)
	if err != nil {
		return nil, err
	}
	var result OrderResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, fmt.Errorf("parse place_order result: %w", err)
	}
	return &result, nil
}

// CancelOrder forwards a cancel_order action to the broker.
func (c *Client) CancelOrder(ctx context.Context, accessToken string, cfg *domain.CancelOrderConfig) error {
	_, err := c.do(ctx, http.MethodDelete, "/orders/"+cfg.OrderID, accessToken, nil)
	return err
}

// ModifyOrder forwards a modify_order action to the broker.
func (c *Client) ModifyOrder(ctx context.Context, accessToken string, cfg *domain.ModifyOrderConfig) (*OrderResult, error) {
	resp, err := c.do(ctx, http.MethodPatch, "/orders/"+cfg.OrderID, accessToken, cfg)
	if err != nil {
		return nil, err
	}
	var result OrderResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, fmt.Errorf("parse modify_order result: %w", err)
	}
	return &result, nil
}

// Quote is the current LTP snapshot used by add-trailing rule creation to
// seed initial_price/highest_price (spec §6).
type Quote struct {
	LTP float64 `json:"ltp"`
}

// GetQuote fetches the current LTP for an instrument.
func (c *Client) GetQuote(ctx context.Context, accessToken, instrumentToken string) (*Quote, error) {
	resp, err := c.do(ctx, http.MethodGet, "/quotes/"+instrumentToken, accessToken, nil)
	if err != nil {
		return nil, err
	}
	var q Quote
	if err := json.Unmarshal(resp.Data, &q); err != nil {
		return nil, fmt.Errorf("parse quote: %w", err)
	}
	return &q, nil
}

// TokenPair is a fresh access/refresh token pair from the refresh flow.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// RefreshToken exchanges a refresh token for a new access token.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	resp, err := c.do(ctx, http.MethodPost, "/oauth/refresh", "", map[string]string{
		"refresh_token": refreshToken,
		"api_key":       c.apiKey,
	})
	if err != nil {
		return nil, err
	}
	var pair TokenPair
	if err := json.Unmarshal(resp.Data, &pair); err != nil {
		return nil, fmt.Errorf("parse refresh_token result: %w", err)
	}
	return &pair, nil
}
