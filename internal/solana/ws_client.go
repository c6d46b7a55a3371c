package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mr-tron/base58"
)

// WSClientConfig configures WebSocket stream behavior.
type WSClientConfig struct {
	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration
	// ReadTimeout is the maximum silence tolerated between frames (pongs included).
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// MaxMessageSize caps a single inbound frame.
	MaxMessageSize int64
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		MaxMessageSize:   16 * 1024 * 1024,
	}
}

// WSStreamDialer dials transactionSubscribe streams over websocket.
type WSStreamDialer struct {
	endpoint string
	token    string
	config   WSClientConfig
}

// NewWSStreamDialer creates a dialer for endpoint. A non-empty token is sent
// both as the x-token header and as the api-key query parameter.
func NewWSStreamDialer(endpoint, token string, config *WSClientConfig) *WSStreamDialer {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	return &WSStreamDialer{endpoint: endpoint, token: token, config: cfg}
}

var _ StreamDialer = (*WSStreamDialer)(nil)

// Dial establishes a WebSocket connection.
func (d *WSStreamDialer) Dial(ctx context.Context) (TransactionStream, error) {
	endpoint, err := d.endpointURL()
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: d.config.HandshakeTimeout,
	}

	header := http.Header{}
	if d.token != "" {
		header.Set("x-token", d.token)
	}

	conn, _, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	if d.config.MaxMessageSize > 0 {
		conn.SetReadLimit(d.config.MaxMessageSize)
	}

	s := &WSStream{conn: conn, config: d.config}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(d.config.ReadTimeout))
	})
	return s, nil
}

func (d *WSStreamDialer) endpointURL() (string, error) {
	u, err := url.Parse(d.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse stream endpoint: %w", err)
	}
	if d.token != "" {
		q := u.Query()
		if q.Get("api-key") == "" {
			q.Set("api-key", d.token)
			u.RawQuery = q.Encode()
		}
	}
	return u.String(), nil
}

// WSStream implements TransactionStream using gorilla/websocket.
type WSStream struct {
	conn      *websocket.Conn
	config    WSClientConfig
	writeMu   sync.Mutex
	requestID atomic.Uint64
	subID     atomic.Int64
	closed    atomic.Bool
}

var _ TransactionStream = (*WSStream)(nil)

// Subscribe writes a transactionSubscribe request.
func (s *WSStream) Subscribe(ctx context.Context, filter TransactionFilter) error {
	if s.closed.Load() {
		return ErrStreamClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	commitment := filter.Commitment
	if commitment == "" {
		commitment = CommitmentProcessed
	}

	req := wsRequest{
		JSONRPC: "2.0",
		ID:      s.requestID.Add(1),
		Method:  "transactionSubscribe",
		Params: []interface{}{
			map[string]interface{}{
				"accountInclude": filter.AccountInclude,
				"vote":           filter.Vote,
				"failed":         filter.Failed,
			},
			map[string]interface{}{
				"commitment":                     commitment,
				"encoding":                       "json",
				"transactionDetails":             "full",
				"showRewards":                    false,
				"maxSupportedTransactionVersion": 0,
			},
		},
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := s.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

// Ping writes a websocket ping frame.
func (s *WSStream) Ping() error {
	if s.closed.Load() {
		return ErrStreamClosed
	}
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.config.WriteTimeout))
}

// Recv reads frames until a transaction notification arrives.
func (s *WSStream) Recv() (*TransactionEnvelope, error) {
	for {
		s.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}

		env, err := s.handleMessage(message)
		if err != nil {
			return nil, err
		}
		if env != nil {
			return env, nil
		}
	}
}

// subscriptionID returns the server-assigned subscription ID, 0 until confirmed.
func (s *WSStream) subscriptionID() int64 {
	return s.subID.Load()
}

// Close closes the underlying connection without a close handshake.
func (s *WSStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.conn.Close()
}

// handleMessage returns a decoded envelope, nil for control traffic, or an
// error when the server rejected the subscription.
func (s *WSStream) handleMessage(message []byte) (*TransactionEnvelope, error) {
	var frame wsFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		return nil, nil
	}

	switch {
	case frame.Error != nil:
		return nil, fmt.Errorf("subscription error %d: %s", frame.Error.Code, frame.Error.Message)
	case frame.Method == "transactionNotification" && frame.Params != nil:
		return decodeNotification(frame.Params)
	case frame.ID != 0 && len(frame.Result) > 0:
		var subID int64
		if err := json.Unmarshal(frame.Result, &subID); err == nil {
			s.subID.Store(subID)
		}
	}
	return nil, nil
}

// decodeNotification converts a JSON-encoded transaction into an envelope.
// Malformed records are skipped rather than ending the stream.
func decodeNotification(params *wsNotificationParams) (*TransactionEnvelope, error) {
	result := params.Result
	tx := result.Transaction.Transaction
	if tx == nil || tx.Message == nil {
		return nil, nil
	}
	meta := result.Transaction.Meta
	if meta != nil && meta.Err != nil {
		return nil, nil
	}

	sigStr := result.Signature
	if sigStr == "" && len(tx.Signatures) > 0 {
		sigStr = tx.Signatures[0]
	}
	sig, err := base58.Decode(sigStr)
	if err != nil {
		return nil, nil
	}

	keys := append([]string(nil), tx.Message.AccountKeys...)
	if meta != nil && meta.LoadedAddresses != nil {
		keys = append(keys, meta.LoadedAddresses.Writable...)
		keys = append(keys, meta.LoadedAddresses.Readonly...)
	}

	instructions, err := decodeInstructions(tx.Message.Instructions)
	if err != nil {
		return nil, nil
	}

	env := &TransactionEnvelope{
		Signature:         sig,
		Slot:              result.Slot,
		AccountKeys:       keys,
		Instructions:      instructions,
		InnerInstructions: make(map[int][]CompiledInstruction),
	}

	if meta != nil {
		for _, inner := range meta.InnerInstructions {
			decoded, err := decodeInstructions(inner.Instructions)
			if err != nil {
				return nil, nil
			}
			env.InnerInstructions[inner.Index] = append(env.InnerInstructions[inner.Index], decoded...)
		}
	}

	return env, nil
}

func decodeInstructions(raw []wsInstruction) ([]CompiledInstruction, error) {
	out := make([]CompiledInstruction, 0, len(raw))
	for _, ix := range raw {
		data, err := base58.Decode(ix.Data)
		if err != nil && ix.Data != "" {
			return nil, fmt.Errorf("decode instruction data: %w", err)
		}
		out = append(out, CompiledInstruction{
			ProgramIDIndex: ix.ProgramIDIndex,
			Accounts:       ix.Accounts,
			Data:           data,
		})
	}
	return out, nil
}

// ErrStreamClosed is returned by operations on a closed stream.
var ErrStreamClosed = errors.New("stream closed")

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsFrame struct {
	JSONRPC string                `json:"jsonrpc"`
	ID      uint64                `json:"id,omitempty"`
	Method  string                `json:"method,omitempty"`
	Result  json.RawMessage       `json:"result,omitempty"`
	Error   *wsError              `json:"error,omitempty"`
	Params  *wsNotificationParams `json:"params,omitempty"`
}

type wsError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type wsNotificationParams struct {
	Subscription int64               `json:"subscription"`
	Result       wsTransactionResult `json:"result"`
}

type wsTransactionResult struct {
	Signature   string             `json:"signature"`
	Slot        uint64             `json:"slot"`
	Transaction wsTransactionEntry `json:"transaction"`
}

type wsTransactionEntry struct {
	Transaction *wsTransaction `json:"transaction"`
	Meta        *wsMeta        `json:"meta"`
}

type wsTransaction struct {
	Signatures []string   `json:"signatures"`
	Message    *wsMessage `json:"message"`
}

type wsMessage struct {
	AccountKeys  []string        `json:"accountKeys"`
	Instructions []wsInstruction `json:"instructions"`
}

type wsInstruction struct {
	ProgramIDIndex int    `json:"programIdIndex"`
	Accounts       []int  `json:"accounts"`
	Data           string `json:"data"`
}

type wsInnerInstructions struct {
	Index        int             `json:"index"`
	Instructions []wsInstruction `json:"instructions"`
}

type wsLoadedAddresses struct {
	Writable []string `json:"writable"`
	Readonly []string `json:"readonly"`
}

type wsMeta struct {
	Err               interface{}           `json:"err"`
	InnerInstructions []wsInnerInstructions `json:"innerInstructions"`
	LoadedAddresses   *wsLoadedAddresses    `json:"loadedAddresses"`
}
