package fakebackend

import (
	"bytes"
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/kuppel/kuppel.go/pkg/connection"
	"github.com/kuppel/kuppel.go/pkg/connection/gorillaws"
	"github.com/kuppel/kuppel.go/pkg/logger"
	"github.com/kuppel/kuppel.go/pkg/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	server := NewServer("127.0.0.1:0")
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

func dial(t *testing.T, server *Server) *gorillaws.Connection {
	t.Helper()
	cfg := connection.NewConfig(server.URL())
	cfg.Logger = logger.Nop()
	conn := gorillaws.New(cfg)
	require.NoError(t, conn.Connect(context.Background()))
	t.Cleanup(func() { _ = conn.Close(context.Background()) })
	return conn
}

func TestServer(t *testing.T) {
	server := NewServer("127.0.0.1:0")
	require.NoError(t, server.Start())
	assert.NotEmpty(t, server.Address())
	assert.Contains(t, server.URL(), "ws://127.0.0.1:")
	require.NoError(t, server.Stop())
}

func TestSelectFiltersOrdersAndNests(t *testing.T) {
	server := startServer(t)
	server.Seed("orders",
		map[string]any{"id": "o1", "company_id": "c1", "status": "paid", "total": 10.5, "created_at": "2026-03-01T10:00:00Z"},
		map[string]any{"id": "o2", "company_id": "c1", "status": "pending", "total": 4.0, "created_at": "2026-03-01T11:00:00Z"},
		map[string]any{"id": "o3", "company_id": "c1", "status": "completed", "total": 7.0, "created_at": "2026-03-01T09:00:00Z"},
		map[string]any{"id": "o4", "company_id": "c2", "status": "paid", "total": 1.0, "created_at": "2026-03-01T09:30:00Z"},
	)
	server.Seed("order_items",
		map[string]any{"order_id": "o1", "product_id": "p1", "total": 10.5},
		map[string]any{"order_id": "o3", "product_id": "p2", "total": 7.0},
	)
	conn := dial(t, server)

	b := query.From("orders").Select("id, total, order_items(product_id)").Eq("company_id", "c1")
	q := query.In(b, "status", "paid", "completed").
		Gte("created_at", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)).
		Order("created_at", query.Asc).
		Build()

	var res connection.RPCResponse[[]map[string]any]
	require.NoError(t, connection.Send(conn, context.Background(), &res, "select", q))
	require.NotNil(t, res.Result)

	rows := *res.Result
	require.Len(t, rows, 2)
	assert.Equal(t, "o3", rows[0]["id"])
	assert.Equal(t, "o1", rows[1]["id"])
	assert.NotContains(t, rows[0], "status")

	items, ok := rows[1]["order_items"].([]any)
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Equal(t, map[string]any{"product_id": "p1"}, items[0])
}

func TestInsertUpdateNotify(t *testing.T) {
	server := startServer(t)
	server.Seed("tables", map[string]any{"id": "t1", "status": "available"})
	conn := dial(t, server)
	ctx := context.Background()

	var live connection.RPCResponse[string]
	require.NoError(t, connection.Send(conn, ctx, &live, "live", "tables", []string{"INSERT", "UPDATE"}))
	require.NotNil(t, live.Result)
	assert.Equal(t, 1, server.LiveCount())

	ch, err := conn.LiveNotifications(*live.Result)
	require.NoError(t, err)

	var updated connection.RPCResponse[[]map[string]any]
	q := query.From("tables").Eq("id", "t1").Build()
	require.NoError(t, connection.Send(conn, ctx, &updated, "update", q, map[string]any{"status": "occupied"}))
	require.Len(t, *updated.Result, 1)

	select {
	case n := <-ch:
		assert.Equal(t, connection.UpdateAction, n.Action)
		assert.Equal(t, "tables", n.Table)
		var before, after map[string]any
		require.NoError(t, conn.GetUnmarshaler().Unmarshal(n.Before, &before))
		require.NoError(t, conn.GetUnmarshaler().Unmarshal(n.Result, &after))
		assert.Equal(t, "available", before["status"])
		assert.Equal(t, "occupied", after["status"])
	case <-time.After(2 * time.Second):
		t.Fatal("no notification")
	}

	var inserted connection.RPCResponse[[]map[string]any]
	require.NoError(t, connection.Send(conn, ctx, &inserted, "insert", "tables", map[string]any{"status": "available"}))
	require.Len(t, *inserted.Result, 1)
	assert.NotEmpty(t, (*inserted.Result)[0]["id"])
	assert.NotEmpty(t, (*inserted.Result)[0]["created_at"])

	select {
	case n := <-ch:
		assert.Equal(t, connection.InsertAction, n.Action)
	case <-time.After(2 * time.Second):
		t.Fatal("no notification")
	}

	require.NoError(t, connection.Send[any](conn, ctx, nil, "kill", *live.Result))
	assert.Equal(t, 0, server.LiveCount())

	err = connection.Send[any](conn, ctx, nil, "kill", *live.Result)
	assert.Error(t, err)
}

func TestAuthenticationFlow(t *testing.T) {
	server := startServer(t)
	server.RequireAuth = true
	server.AddUser(User{ID: "u1", Email: "ana@example.com", Password: "secret", Claims: map[string]any{"role": "admin"}})
	conn := dial(t, server)
	ctx := context.Background()

	err := connection.Send[any](conn, ctx, nil, "select", query.From("orders").Build())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authenticated")

	err = connection.Send[any](conn, ctx, nil, "signin", map[string]any{"email": "ana@example.com", "password": "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid login credentials")

	var token connection.RPCResponse[string]
	require.NoError(t, connection.Send(conn, ctx, &token, "signin", map[string]any{"email": "ana@example.com", "password": "secret"}))
	require.NotNil(t, token.Result)
	assert.True(t, server.ValidToken(*token.Result))

	require.NoError(t, connection.Send[any](conn, ctx, nil, "select", query.From("orders").Build()))

	require.NoError(t, connection.Send[any](conn, ctx, nil, "invalidate"))
	assert.False(t, server.ValidToken(*token.Result))
	assert.Error(t, connection.Send[any](conn, ctx, nil, "select", query.From("orders").Build()))
}

func TestRPCHandlersAndStubs(t *testing.T) {
	server := startServer(t)
	server.HandleRPC("get_vote_counts", func(args map[string]any) (any, *connection.RPCError) {
		return map[string]any{"feature": 3}, nil
	})
	server.HandleRPC("cast_vote", func(args map[string]any) (any, *connection.RPCError) {
		return nil, &connection.RPCError{Code: 409, Message: "already voted", Details: args["vote_type"].(string)}
	})
	server.AddStubResponse(ErrorStubResponse("update", 500, "stubbed failure"))
	conn := dial(t, server)
	ctx := context.Background()

	var counts connection.RPCResponse[map[string]int]
	require.NoError(t, connection.Send(conn, ctx, &counts, "rpc", "get_vote_counts", map[string]any{}))
	assert.Equal(t, 3, (*counts.Result)["feature"])

	err := connection.Send[any](conn, ctx, nil, "rpc", "cast_vote", map[string]any{"vote_type": "feature"})
	var rpcErr *connection.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, 409, rpcErr.Code)
	assert.Equal(t, "feature", rpcErr.Details)

	err = connection.Send[any](conn, ctx, nil, "rpc", "missing", nil)
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, 404, rpcErr.Code)

	err = connection.Send[any](conn, ctx, nil, "update", query.From("tables").Build(), map[string]any{})
	assert.EqualError(t, err, "stubbed failure")

	assert.Equal(t, []string{"rpc", "rpc", "rpc", "update"}, server.Requests())
}

func TestFailureInjection(t *testing.T) {
	server := startServer(t)
	server.AddStubResponse(StubResponse{
		Matcher:  MatchMethod("select"),
		Result:   []any{},
		Failures: []FailureConfig{{Type: FailureNoResponse, Probability: 1}},
	})
	conn := dial(t, server)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := connection.Send[any](conn, ctx, nil, "select", query.From("orders").Build())
	assert.Error(t, err)
}

func TestFunctions(t *testing.T) {
	server := startServer(t)
	require.NoError(t, server.StartFunctions())
	server.HandleFunction("process-dataico-invoice", func(req FunctionRequest) (int, any) {
		return http.StatusOK, map[string]any{"success": true, "invoice": req.Body["invoice_id"], "token": req.Token}
	})

	body, err := json.Marshal(map[string]any{"invoice_id": "inv-1"})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, server.FunctionsURL()+"/functions/v1/process-dataico-invoice", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer abc")

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	assert.Equal(t, "inv-1", out["invoice"])
	assert.Equal(t, "abc", out["token"])

	res2, err := http.Post(server.FunctionsURL()+"/functions/v1/missing", "application/json", nil)
	require.NoError(t, err)
	res2.Body.Close()
	assert.Equal(t, http.StatusNotFound, res2.StatusCode)
}
