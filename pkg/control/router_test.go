package control

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRPCRouter_ParseRequest(t *testing.T) {
	router := NewRPCRouter()

	tests := []struct {
		name string
		data string
		code int
	}{
		{name: "malformed json", data: `{`, code: ParseError},
		{name: "missing id", data: `{"method":"session.list"}`, code: InvalidRequest},
		{name: "missing method", data: `{"id":"1"}`, code: InvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := router.ParseRequest([]byte(tt.data))
			var rpcErr *RPCError
			require.ErrorAs(t, err, &rpcErr)
			assert.Equal(t, tt.code, rpcErr.Code)
		})
	}

	req, err := router.ParseRequest([]byte(`{"id":"1","method":"session.list"}`))
	require.NoError(t, err)
	assert.Equal(t, "2.0", req.JSONRPC)
}

func TestRPCRouter_RouteRequest(t *testing.T) {
	router := NewRPCRouter()
	require.Error(t, router.RegisterMethod("nil", nil))
	require.NoError(t, router.RegisterMethod("ok", func(_ context.Context, params map[string]any) (any, error) {
		return params["v"], nil
	}))
	require.NoError(t, router.RegisterMethod("bad_params", func(context.Context, map[string]any) (any, error) {
		return nil, invalidParams("v is required")
	}))
	require.NoError(t, router.RegisterMethod("boom", func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("boom")
	}))

	resp := router.RouteRequest(t.Context(), &RPCRequest{ID: "1", Method: "ok", Params: map[string]any{"v": "x"}})
	assert.Nil(t, resp.Error)
	assert.Equal(t, "x", resp.Result)
	assert.Equal(t, "1", resp.ID)

	resp = router.RouteRequest(t.Context(), &RPCRequest{ID: "2", Method: "bad_params"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, InvalidParams, resp.Error.Code)

	resp = router.RouteRequest(t.Context(), &RPCRequest{ID: "3", Method: "boom"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, InternalError, resp.Error.Code)
	assert.Equal(t, "boom", resp.Error.Message)

	resp = router.RouteRequest(t.Context(), &RPCRequest{ID: "4", Method: "missing"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, MethodNotFound, resp.Error.Code)

	resp = router.RouteRequest(t.Context(), nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, InvalidRequest, resp.Error.Code)

	assert.Equal(t, []string{"bad_params", "boom", "ok"}, router.GetMethods())
}

func TestRPCRouter_IdempotencyKeyReplaysResponse(t *testing.T) {
	router := NewRPCRouter()
	calls := 0
	require.NoError(t, router.RegisterMethod("session.run", func(context.Context, map[string]any) (any, error) {
		calls++
		return calls, nil
	}))

	first := router.RouteRequest(t.Context(), &RPCRequest{ID: "a", Method: "session.run", IdempotencyKey: "k"})
	second := router.RouteRequest(t.Context(), &RPCRequest{ID: "b", Method: "session.run", IdempotencyKey: "k"})
	third := router.RouteRequest(t.Context(), &RPCRequest{ID: "c", Method: "session.run"})

	assert.Equal(t, 1, first.Result)
	assert.Equal(t, 1, second.Result)
	assert.Equal(t, "b", second.ID)
	assert.Equal(t, 2, third.Result)
	assert.Equal(t, 2, calls)
}

func TestRPCRouter_FailuresAreNotReplayed(t *testing.T) {
	router := NewRPCRouter()
	calls := 0
	require.NoError(t, router.RegisterMethod("session.run", func(context.Context, map[string]any) (any, error) {
		calls++
		if calls == 1 {
			return nil, invalidParams("session busy")
		}
		return "started", nil
	}))

	first := router.RouteRequest(t.Context(), &RPCRequest{ID: "a", Method: "session.run", IdempotencyKey: "k"})
	require.NotNil(t, first.Error)
	second := router.RouteRequest(t.Context(), &RPCRequest{ID: "b", Method: "session.run", IdempotencyKey: "k"})
	assert.Nil(t, second.Error)
	assert.Equal(t, "started", second.Result)
	assert.Equal(t, 2, calls)
}

func TestReplayCacheExpires(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cache := newReplayCache(time.Minute, func() time.Time { return now })

	cache.put("m:k", 1)
	got, ok := cache.get("m:k")
	require.True(t, ok)
	assert.Equal(t, 1, got)

	now = now.Add(2 * time.Minute)
	_, ok = cache.get("m:k")
	assert.False(t, ok)
}
