package ethrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"chainlens/internal/domain"
)

const defaultTimeout = 10 * time.Second

// ErrorKind separates failures reaching the node from failures in what the
// node said.
type ErrorKind string

const (
	ErrTransport ErrorKind = "transport" // network, HTTP status
	ErrProtocol  ErrorKind = "protocol"  // malformed body, error envelope
)

// Error carries the RPC method that failed alongside the underlying cause.
// The client never retries; retry policy belongs to the caller.
type Error struct {
	Method string
	Kind   ErrorKind
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc %s: %s: %v", e.Method, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Client struct {
	url        string
	httpClient *http.Client
	idCounter  uint64
}

type Config struct {
	URL     string
	Timeout time.Duration
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("rpc url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var result string
	if err := c.call(ctx, "eth_blockNumber", []any{}, &result); err != nil {
		return 0, err
	}
	number, err := parseHexUint(result)
	if err != nil {
		return 0, &Error{Method: "eth_blockNumber", Kind: ErrProtocol, Err: err}
	}
	return number, nil
}

// BlockByNumber fetches one block. With fullTx the transactions field holds
// complete transaction objects rather than bare hashes.
func (c *Client) BlockByNumber(ctx context.Context, number uint64, fullTx bool) (domain.RawBlock, error) {
	var result *domain.RawBlock
	params := []any{formatHexUint(number), fullTx}
	if err := c.call(ctx, "eth_getBlockByNumber", params, &result); err != nil {
		return domain.RawBlock{}, err
	}
	if result == nil {
		return domain.RawBlock{}, &Error{Method: "eth_getBlockByNumber", Kind: ErrProtocol, Err: fmt.Errorf("block %d not found", number)}
	}
	return *result, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	id := atomic.AddUint64(&c.idCounter, 1)
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return &Error{Method: method, Kind: ErrProtocol, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return &Error{Method: method, Kind: ErrTransport, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Method: method, Kind: ErrTransport, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Method: method, Kind: ErrTransport, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return &Error{Method: method, Kind: ErrProtocol, Err: err}
	}
	if decoded.Error != nil {
		return &Error{Method: method, Kind: ErrProtocol, Err: fmt.Errorf("error %d: %s", decoded.Error.Code, decoded.Error.Message)}
	}
	if result == nil {
		return nil
	}
	if len(decoded.Result) == 0 {
		return &Error{Method: method, Kind: ErrProtocol, Err: errors.New("result is empty")}
	}
	if err := json.Unmarshal(decoded.Result, result); err != nil {
		return &Error{Method: method, Kind: ErrProtocol, Err: err}
	}
	return nil
}

func parseHexUint(value string) (uint64, error) {
	trimmed := strings.TrimPrefix(value, "0x")
	if trimmed == "" {
		return 0, errors.New("empty hex value")
	}
	return strconv.ParseUint(trimmed, 16, 64)
}

func formatHexUint(value uint64) string {
	return fmt.Sprintf("0x%x", value)
}
