// Package locus is the REST payments client: wallet balance, USDC transfers
// to addresses or email escrow, and transaction history.
package locus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	xerrors "Agent-Arena/internal/errors"
	"Agent-Arena/internal/tools"
	"Agent-Arena/pkg/logger"
)

const (
	defaultBaseURL       = "https://api.paywithlocus.com/api"
	defaultTimeout       = 30 * time.Second
	defaultExpiresInDays = 30
)

// Config describes how to reach the payments API.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client implements tools.Payments.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu            sync.Mutex
	cachedBalance decimal.Decimal
	haveBalance   bool
}

// NewClient validates cfg and applies defaults.
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "payments api key is not configured")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("payments"),
	}, nil
}

type statusError struct {
	status int
	body   []byte
}

func (e *statusError) Error() string {
	return fmt.Sprintf("payments api returned status %d: %s", e.status, strings.TrimSpace(string(e.body)))
}

// Balance implements tools.Payments. A failed lookup falls back to the last
// known balance; the error surfaces only when no balance was ever read.
func (c *Client) Balance(ctx context.Context) (decimal.Decimal, error) {
	raw, err := c.do(ctx, http.MethodGet, "/pay/balance", nil)
	if err == nil {
		var balance decimal.Decimal
		balance, err = parseBalance(raw)
		if err == nil {
			c.mu.Lock()
			c.cachedBalance, c.haveBalance = balance, true
			c.mu.Unlock()
			return balance, nil
		}
	}
	c.mu.Lock()
	cached, ok := c.cachedBalance, c.haveBalance
	c.mu.Unlock()
	if !ok {
		return decimal.Zero, err
	}
	c.logger.Warn("balance lookup failed, using cached value", "error", err, "cached", cached.String())
	return cached, nil
}

func parseBalance(raw []byte) (decimal.Decimal, error) {
	if !gjson.GetBytes(raw, "success").Bool() {
		return decimal.Zero, xerrors.New(xerrors.CodeUpstreamFailure, "balance request was not successful")
	}
	// usdc_balance is returned as a string
	value := gjson.GetBytes(raw, "data.usdc_balance")
	if !value.Exists() {
		value = gjson.GetBytes(raw, "data.balance")
	}
	if !value.Exists() {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(value.String())
}

// SendToAddress implements tools.Payments.
func (c *Client) SendToAddress(ctx context.Context, p tools.AddressPayment) (tools.Result, error) {
	body := map[string]any{
		"to_address": p.ToAddress,
		"amount":     p.Amount.InexactFloat64(),
		"memo":       p.Memo,
	}
	echo := tools.Result{"to_address": p.ToAddress, "amount": p.Amount.String()}
	raw, err := c.do(ctx, http.MethodPost, "/pay/send", body)
	if res, handled := c.rejected(err, echo); handled {
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	data := gjson.GetBytes(raw, "data")
	if !gjson.GetBytes(raw, "success").Bool() {
		return merge(echo, tools.Result{"status": tools.StatusError, "error": message(raw, "Unknown error")}), nil
	}
	return merge(echo, tools.Result{
		"status":         statusOr(data, "QUEUED"),
		"transaction_id": data.Get("transaction_id").String(),
		"from_address":   data.Get("from_address").String(),
		"memo":           p.Memo,
		"approval_url":   data.Get("approval_url").String(),
	}), nil
}

// SendToEmail implements tools.Payments.
func (c *Client) SendToEmail(ctx context.Context, p tools.EmailPayment) (tools.Result, error) {
	expires := p.ExpiresInDays
	if expires <= 0 {
		expires = defaultExpiresInDays
	}
	body := map[string]any{
		"email":           p.Email,
		"amount":          p.Amount.InexactFloat64(),
		"memo":            p.Memo,
		"expires_in_days": expires,
	}
	echo := tools.Result{"email": p.Email, "amount": p.Amount.String()}
	raw, err := c.do(ctx, http.MethodPost, "/pay/send-email", body)
	if res, handled := c.rejected(err, echo); handled {
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	data := gjson.GetBytes(raw, "data")
	if !gjson.GetBytes(raw, "success").Bool() {
		return merge(echo, tools.Result{"status": tools.StatusError, "error": message(raw, "Unknown error")}), nil
	}
	return merge(echo, tools.Result{
		"status":          statusOr(data, "QUEUED"),
		"transaction_id":  data.Get("transaction_id").String(),
		"escrow_id":       data.Get("escrow_id").String(),
		"recipient_email": p.Email,
		"memo":            p.Memo,
		"expires_at":      data.Get("expires_at").String(),
		"approval_url":    data.Get("approval_url").String(),
	}), nil
}

// History implements tools.Payments.
func (c *Client) History(ctx context.Context, limit int) ([]tools.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	raw, err := c.do(ctx, http.MethodGet, "/x402/transactions?limit="+url.QueryEscape(strconv.Itoa(limit)), nil)
	if err != nil {
		return nil, err
	}
	if !gjson.GetBytes(raw, "success").Bool() {
		return nil, nil
	}
	var out []tools.Transaction
	for _, tx := range gjson.GetBytes(raw, "data.transactions").Array() {
		amount, err := decimal.NewFromString(firstNonEmpty(tx.Get("amount_usdc").String(), tx.Get("amount").String(), "0"))
		if err != nil {
			continue
		}
		created, _ := time.Parse(time.RFC3339, tx.Get("created_at").String())
		out = append(out, tools.Transaction{
			ID:        firstNonEmpty(tx.Get("id").String(), tx.Get("transaction_id").String()),
			Amount:    amount,
			Status:    tx.Get("status").String(),
			CreatedAt: created,
		})
	}
	return out, nil
}

// Close implements tools.Closer.
func (c *Client) Close(context.Context) error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) rejected(err error, echo tools.Result) (tools.Result, bool) {
	var se *statusError
	if !errors.As(err, &se) || se.status != http.StatusForbidden {
		return nil, false
	}
	msg := "Policy limit reached, ask your human to adjust limits"
	if m := gjson.GetBytes(se.body, "message"); m.Exists() && m.String() != "" {
		msg = m.String()
	}
	return merge(echo, tools.Result{"status": tools.StatusPolicyRejected, "error": msg}), true
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode payments request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build payments request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "payments request timed out")
		}
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "payments request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &statusError{status: resp.StatusCode, body: snippet}
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

func statusOr(data gjson.Result, fallback string) string {
	if s := data.Get("status").String(); s != "" {
		return s
	}
	return fallback
}

func message(raw []byte, fallback string) string {
	if m := gjson.GetBytes(raw, "message").String(); m != "" {
		return m
	}
	return fallback
}

func merge(base, extra tools.Result) tools.Result {
	out := make(tools.Result, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var (
	_ tools.Payments = (*Client)(nil)
	_ tools.Closer   = (*Client)(nil)
)
