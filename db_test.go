package kuppel

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/kuppel/kuppel.go/internal/fakebackend"
	"github.com/kuppel/kuppel.go/pkg/connection"
	"github.com/kuppel/kuppel.go/pkg/constants"
	"github.com/kuppel/kuppel.go/pkg/models"
	"github.com/kuppel/kuppel.go/pkg/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) (*DB, *fakebackend.Server) {
	t.Helper()
	server := fakebackend.NewServer("127.0.0.1:0")
	require.NoError(t, server.Start())
	require.NoError(t, server.StartFunctions())
	t.Cleanup(func() { _ = server.Stop() })

	db, err := Connect(context.Background(), server.URL(), WithFunctionsURL(server.FunctionsURL()), WithTimeout(5*time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(context.Background()) })
	return db, server
}

func TestConnectUnsupportedScheme(t *testing.T) {
	_, err := Connect(context.Background(), "ftp://example.com")
	assert.ErrorIs(t, err, constants.ErrUnsupportedScheme)
}

func TestSignInKeepsToken(t *testing.T) {
	db, server := newTestDB(t)
	server.RequireAuth = true
	server.AddUser(fakebackend.User{ID: "u1", Email: "caja@bar.co", Password: "pw"})
	ctx := context.Background()

	_, err := db.SignIn(ctx, Auth{Email: "caja@bar.co", Password: "bad"})
	require.Error(t, err)
	assert.Empty(t, db.Token())

	token, err := db.SignIn(ctx, Auth{Email: "caja@bar.co", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, token, db.Token())

	require.NoError(t, db.Invalidate(ctx))
	assert.Empty(t, db.Token())

	require.Error(t, db.Authenticate(ctx, token))

	fresh, err := server.IssueToken("caja@bar.co")
	require.NoError(t, err)
	require.NoError(t, db.Authenticate(ctx, fresh))
	assert.Equal(t, fresh, db.Token())
}

func TestSelectInsertUpdate(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	inserted, err := Insert[models.Table](ctx, db, constants.TableTables, []map[string]any{
		{"branch_id": "b1", "number": 1, "name": "Terraza", "capacity": 4, "status": "available"},
		{"branch_id": "b1", "number": 2, "name": "Barra", "capacity": 2, "status": "occupied"},
	})
	require.NoError(t, err)
	require.Len(t, inserted, 2)
	assert.NotEmpty(t, inserted[0].ID)

	tables, err := Select[models.Table](ctx, db, query.From(constants.TableTables).Eq("branch_id", "b1").Order("number", query.Desc).Build())
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "Barra", tables[0].Name)

	updated, err := Update[models.Table](ctx, db, query.From(constants.TableTables).Eq("id", inserted[0].ID).Build(), map[string]any{"status": "reserved"})
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, models.TableReserved, updated[0].Status)

	_, err = Update[models.Table](ctx, db, query.From(constants.TableTables).Build(), map[string]any{"status": "reserved"})
	assert.Error(t, err)

	empty, err := Select[models.Table](ctx, db, query.From(constants.TableTables).Eq("branch_id", "nope").Build())
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	_, err = SelectOne[models.Table](ctx, db, query.From(constants.TableTables).Eq("branch_id", "nope").Build())
	assert.ErrorIs(t, err, constants.ErrNoRow)
}

func TestCall(t *testing.T) {
	db, server := newTestDB(t)
	server.HandleRPC(constants.ProcGetVoteCounts, func(map[string]any) (any, *connection.RPCError) {
		return map[string]any{"reports": 2}, nil
	})

	counts, err := Call[map[string]int](context.Background(), db, constants.ProcGetVoteCounts, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"reports": 2}, *counts)

	_, err = Call[any](context.Background(), db, "unknown_proc", nil)
	var rpcErr *connection.RPCError
	require.ErrorAs(t, err, &rpcErr)
}

func TestLiveAndKill(t *testing.T) {
	db, server := newTestDB(t)
	ctx := context.Background()

	id, err := db.Live(ctx, constants.TableOrders, connection.InsertAction)
	require.NoError(t, err)
	ch, err := db.LiveNotifications(id)
	require.NoError(t, err)

	_, err = Insert[models.Order](ctx, db, constants.TableOrders, map[string]any{"company_id": "c1", "status": "pending", "total": 12.5})
	require.NoError(t, err)

	select {
	case n := <-ch:
		var order models.Order
		require.NoError(t, db.Unmarshaler().Unmarshal(n.Result, &order))
		assert.Equal(t, models.FromFloat(12.5), order.Total)
	case <-time.After(2 * time.Second):
		t.Fatal("no notification")
	}

	require.NoError(t, db.Kill(ctx, id))
	assert.Equal(t, 0, server.LiveCount())

	_, open := <-ch
	assert.False(t, open)
}

func TestSendRejectsUnknownMethod(t *testing.T) {
	db, _ := newTestDB(t)
	err := Send[any](context.Background(), db, nil, "query", "SELECT 1")
	assert.ErrorIs(t, err, constants.ErrMethodNotAvailable)
}

func TestInvokeFunction(t *testing.T) {
	db, server := newTestDB(t)
	server.AddUser(fakebackend.User{ID: "u1", Email: "caja@bar.co", Password: "pw"})
	_, err := db.SignIn(context.Background(), Auth{Email: "caja@bar.co", Password: "pw"})
	require.NoError(t, err)

	var gotToken string
	server.HandleFunction("echo", func(req fakebackend.FunctionRequest) (int, any) {
		gotToken = req.Token
		return http.StatusOK, map[string]any{"echo": req.Body["value"]}
	})
	server.HandleFunction("broken", func(fakebackend.FunctionRequest) (int, any) {
		return http.StatusUnprocessableEntity, map[string]any{"error": "invoice not found"}
	})

	type echo struct {
		Echo string `json:"echo"`
	}
	out, err := InvokeFunction[echo](context.Background(), db, "echo", map[string]any{"value": "hola"})
	require.NoError(t, err)
	assert.Equal(t, "hola", out.Echo)
	assert.Equal(t, db.Token(), gotToken)

	_, err = InvokeFunction[echo](context.Background(), db, "broken", nil)
	var fnErr *FunctionError
	require.True(t, errors.As(err, &fnErr))
	assert.Equal(t, http.StatusUnprocessableEntity, fnErr.Status)
	assert.Equal(t, "invoice not found", fnErr.Message)
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "boom", errorMessage([]byte(`{"error":"boom"}`), "500"))
	assert.Equal(t, "nested", errorMessage([]byte(`{"error":{"message":"nested"}}`), "500"))
	assert.Equal(t, "plain text", errorMessage([]byte(`plain text`), "500"))
	assert.Equal(t, "500", errorMessage([]byte(`{}`), "500"))
}
