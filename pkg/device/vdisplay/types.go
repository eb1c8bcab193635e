// Package vdisplay talks to the on-device display agent that hosts apps on
// an off-screen virtual display and injects input into it.
//
// The channel is JSON-RPC 2.0 over a websocket. Each session owns one
// Controller; Registry hands them out by session id.
package vdisplay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Methods understood by the display agent.
const (
	MethodEnsureDisplay = "display.ensure"
	MethodRelease       = "display.release"
	MethodSnapshot      = "display.snapshot"
	MethodLaunch        = "app.launch"
	MethodTap           = "input.tap"
	MethodSwipe         = "input.swipe"
	MethodKey           = "input.key"
	MethodClipboard     = "clipboard.set"
)

var (
	ErrControllerClosed = errors.New("display controller closed")
	ErrNoDisplay        = errors.New("virtual display not created")
	ErrCallTimeout      = errors.New("display agent call timed out")
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is an error reported by the display agent.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("display agent error %d: %s", e.Code, e.Message)
}

type ensureParams struct {
	Width   int `json:"width"`
	Height  int `json:"height"`
	DPI     int `json:"dpi"`
	Bitrate int `json:"bitrate"`
}

type ensureResult struct {
	DisplayID int `json:"display_id"`
	Width     int `json:"width"`
	Height    int `json:"height"`
}

type launchParams struct {
	DisplayID int    `json:"display_id"`
	Package   string `json:"package"`
}

type tapParams struct {
	DisplayID  int `json:"display_id"`
	X          int `json:"x"`
	Y          int `json:"y"`
	DurationMS int `json:"duration_ms,omitempty"`
}

type swipeParams struct {
	DisplayID  int `json:"display_id"`
	X1         int `json:"x1"`
	Y1         int `json:"y1"`
	X2         int `json:"x2"`
	Y2         int `json:"y2"`
	DurationMS int `json:"duration_ms"`
}

type keyParams struct {
	DisplayID int `json:"display_id"`
	Code      int `json:"code"`
	Meta      int `json:"meta,omitempty"`
}

type clipboardParams struct {
	Text string `json:"text"`
}

type displayParams struct {
	DisplayID int `json:"display_id"`
}

type snapshotResult struct {
	PNG    string `json:"png"` // base64
	Width  int    `json:"width"`
	Height int    `json:"height"`
}
