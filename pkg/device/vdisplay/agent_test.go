package vdisplay

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// fakeAgent is a scripted display agent.
type fakeAgent struct {
	server *httptest.Server

	mu     sync.Mutex
	calls  []rpcRequest
	fail   map[string]*RPCError
	silent map[string]bool
	conns  []*websocket.Conn
	// size overrides the display size reported by display.ensure.
	size []int
}

func newFakeAgent(t *testing.T) *fakeAgent {
	a := &fakeAgent{fail: map[string]*RPCError{}, silent: map[string]bool{}}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	a.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		a.mu.Lock()
		a.conns = append(a.conns, conn)
		a.mu.Unlock()
		defer conn.Close()
		for {
			var req rpcRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			params, _ := req.Params.(map[string]any)

			a.mu.Lock()
			a.calls = append(a.calls, req)
			rpcErr := a.fail[req.Method]
			silent := a.silent[req.Method]
			size := a.size
			a.mu.Unlock()

			if silent {
				continue
			}
			resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
			switch {
			case rpcErr != nil:
				resp["error"] = rpcErr
			case req.Method == MethodEnsureDisplay && size != nil:
				resp["result"] = map[string]any{"display_id": 9, "width": size[0], "height": size[1]}
			case req.Method == MethodEnsureDisplay:
				resp["result"] = map[string]any{"display_id": 9, "width": params["width"], "height": params["height"]}
			case req.Method == MethodSnapshot:
				resp["result"] = map[string]any{"png": base64.StdEncoding.EncodeToString([]byte("img")), "width": 720, "height": 1600}
			default:
				resp["result"] = map[string]any{"ok": true}
			}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(a.server.Close)
	return a
}

func (a *fakeAgent) endpoint() string {
	return "ws" + strings.TrimPrefix(a.server.URL, "http")
}

func (a *fakeAgent) methods() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.calls))
	for i, c := range a.calls {
		out[i] = c.Method
	}
	return out
}

func (a *fakeAgent) last() rpcRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[len(a.calls)-1]
}

func (a *fakeAgent) dial(ctx context.Context, sessionID string) (*Controller, error) {
	return Dial(ctx, a.endpoint(), sessionID, Options{Logger: zerolog.Nop()})
}

func (a *fakeAgent) failOn(method string, err *RPCError) {
	a.mu.Lock()
	a.fail[method] = err
	a.mu.Unlock()
}

func (a *fakeAgent) reportSize(width, height int) {
	a.mu.Lock()
	a.size = []int{width, height}
	a.mu.Unlock()
}

func (a *fakeAgent) silence(method string) {
	a.mu.Lock()
	a.silent[method] = true
	a.mu.Unlock()
}

// drop closes every accepted connection from the agent side.
func (a *fakeAgent) drop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.conns {
		_ = c.Close()
	}
}
