package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

const maxResponseSize = 8 * 1024 * 1024

// ErrRateLimited is returned when the endpoint keeps answering 429.
var ErrRateLimited = errors.New("rpc rate limited")

// RPCConfig configures the JSON-RPC HTTP client.
type RPCConfig struct {
	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	// RetryDelay is the first backoff. It doubles per retry up to MaxDelay.
	RetryDelay time.Duration
	MaxDelay   time.Duration
	// Commitment is sent with account reads.
	Commitment string
}

// DefaultRPCConfig returns default RPC configuration.
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		Timeout:    15 * time.Second,
		MaxRetries: 3,
		RetryDelay: 500 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Commitment: CommitmentConfirmed,
	}
}

// HTTPClient implements RPCClient over JSON-RPC 2.0.
// Transport failures, 429 and 5xx responses are retried with backoff;
// JSON-RPC errors and other statuses are returned immediately.
type HTTPClient struct {
	endpoint string
	client   *http.Client
	config   RPCConfig
	logger   *slog.Logger
	nextID   atomic.Uint64
}

var _ RPCClient = (*HTTPClient)(nil)

// NewHTTPClient creates a client for endpoint. A nil config uses DefaultRPCConfig.
func NewHTTPClient(endpoint string, config *RPCConfig, logger *slog.Logger) *HTTPClient {
	cfg := DefaultRPCConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
		config:   cfg,
		logger:   logger.With(slog.String("component", "solana_rpc")),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// retryableError marks a failed attempt worth repeating. after is the
// server-requested wait, zero when none was given.
type retryableError struct {
	err   error
	after time.Duration
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func (c *HTTPClient) call(ctx context.Context, method string, params, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	delay := c.config.RetryDelay
	for attempt := 1; ; attempt++ {
		err := c.post(ctx, body, result)
		if err == nil {
			return nil
		}

		var retry *retryableError
		if !errors.As(err, &retry) {
			return err
		}
		if attempt > c.config.MaxRetries {
			return fmt.Errorf("%s failed after %d attempts: %w", method, attempt, retry.err)
		}

		wait := max(delay, retry.after)
		c.logger.Warn("rpc call failed, retrying",
			slog.String("method", method),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", wait),
			slog.Any("error", retry.err))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if c.config.MaxDelay > 0 && delay > c.config.MaxDelay {
			delay = c.config.MaxDelay
		}
	}
}

// post performs one HTTP round trip and decodes the JSON-RPC envelope.
func (c *HTTPClient) post(ctx context.Context, body []byte, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &retryableError{err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &retryableError{err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &retryableError{err: ErrRateLimited, after: retryAfter(resp.Header)}
	case resp.StatusCode >= http.StatusInternalServerError:
		return &retryableError{err: fmt.Errorf("server status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, snippet(payload))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(payload, &rpcResp); err != nil {
		return &retryableError{err: fmt.Errorf("decode response: %w", err)}
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result == nil || len(rpcResp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// retryAfter reads a Retry-After header given in seconds.
func retryAfter(h http.Header) time.Duration {
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func snippet(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

// AccountInfo is a decoded getAccountInfo value.
type AccountInfo struct {
	Lamports   uint64
	Owner      string
	Data       string // base64
	Executable bool
	RentEpoch  uint64
}

type accountInfoConfig struct {
	Encoding   string `json:"encoding"`
	Commitment string `json:"commitment,omitempty"`
}

type accountInfoValue struct {
	Lamports   uint64   `json:"lamports"`
	Owner      string   `json:"owner"`
	Data       []string `json:"data"` // [payload, encoding]
	Executable bool     `json:"executable"`
	RentEpoch  uint64   `json:"rentEpoch"`
}

// GetAccountInfo reads an account with base64 data at the configured
// commitment. Returns nil if the account does not exist.
func (c *HTTPClient) GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error) {
	params := []any{pubkey, accountInfoConfig{Encoding: "base64", Commitment: c.config.Commitment}}

	var result struct {
		Value *accountInfoValue `json:"value"`
	}
	if err := c.call(ctx, "getAccountInfo", params, &result); err != nil {
		return nil, err
	}
	if result.Value == nil {
		return nil, nil
	}

	v := result.Value
	if len(v.Data) >= 2 && v.Data[1] != "base64" {
		return nil, fmt.Errorf("account %s: unexpected data encoding %q", pubkey, v.Data[1])
	}

	info := &AccountInfo{
		Lamports:   v.Lamports,
		Owner:      v.Owner,
		Executable: v.Executable,
		RentEpoch:  v.RentEpoch,
	}
	if len(v.Data) > 0 {
		info.Data = v.Data[0]
	}
	return info, nil
}
