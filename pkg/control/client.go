package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// RPCClient calls a running control server over HTTP.
type RPCClient struct {
	endpoint string
	secret   string
	http     *http.Client
}

// NewRPCClient targets baseURL (for example http://127.0.0.1:7788).
func NewRPCClient(baseURL, secret string) *RPCClient {
	return &RPCClient{
		endpoint: strings.TrimRight(baseURL, "/") + "/rpc",
		secret:   secret,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Call invokes method and decodes the result into out when out is non-nil.
// Server-side failures come back as *RPCError.
func (c *RPCClient) Call(ctx context.Context, method string, params map[string]any, out any) error {
	id, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("request id: %w", err)
	}
	body, err := json.Marshal(RPCRequest{ID: id, Method: method, Params: params, JSONRPC: "2.0"})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SecretHeader, c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("call %s: unauthorized", method)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRPCBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var decoded struct {
		ID     string          `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("call %s: status %d: %w", method, resp.StatusCode, err)
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if out != nil && len(decoded.Result) > 0 {
		if err := json.Unmarshal(decoded.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// Cancel asks the server to cancel sessionID and returns how many runs
// were signalled.
func (c *RPCClient) Cancel(ctx context.Context, sessionID, reason string) (int, error) {
	params := map[string]any{"session_id": sessionID}
	if reason != "" {
		params["reason"] = reason
	}
	var res struct {
		Cancelled int `json:"cancelled"`
	}
	if err := c.Call(ctx, MethodCancel, params, &res); err != nil {
		return 0, err
	}
	return res.Cancelled, nil
}

// CancelAll cancels every active session.
func (c *RPCClient) CancelAll(ctx context.Context) (int, error) {
	var res struct {
		Cancelled int `json:"cancelled"`
	}
	if err := c.Call(ctx, MethodCancelAll, nil, &res); err != nil {
		return 0, err
	}
	return res.Cancelled, nil
}

// List returns the server's active sessions.
func (c *RPCClient) List(ctx context.Context) ([]SessionInfo, error) {
	var res struct {
		Sessions []SessionInfo `json:"sessions"`
	}
	if err := c.Call(ctx, MethodList, nil, &res); err != nil {
		return nil, err
	}
	return res.Sessions, nil
}
