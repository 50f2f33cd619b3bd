// Package postgres is a connection engine that talks to the backend's
// Postgres database directly, for back-office tools running next to it.
//
// Reads and writes compile to parameterized SQL, procedures are called
// with named arguments, and realtime changes arrive through LISTEN on the
// kuppel_changes channel, fed by row triggers.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/kuppel/kuppel.go/internal/codec"
	"github.com/kuppel/kuppel.go/pkg/connection"
	"github.com/kuppel/kuppel.go/pkg/constants"
	"github.com/kuppel/kuppel.go/pkg/query"
	"github.com/lib/pq"
)

// ChangesChannel is the LISTEN channel the row triggers notify on.
const ChangesChannel = "kuppel_changes"

var _ connection.Connection = (*Connection)(nil)

type Connection struct {
	connection.Toolkit

	DB       *sqlx.DB
	listener *pq.Listener

	// Timeout bounds every statement. Zero leaves the deadline to ctx.
	Timeout time.Duration

	mu     sync.RWMutex
	claims string
	lives  map[string]live

	done      chan struct{}
	closeOnce sync.Once
}

type live struct {
	table   string
	actions map[connection.Action]bool
}

// change is the payload the row triggers send.
type change struct {
	Table  string            `json:"table"`
	Action connection.Action `json:"action"`
	Record json.RawMessage   `json:"record"`
	Old    json.RawMessage   `json:"old"`
}

func New(p *connection.Config) *Connection {
	return &Connection{
		Toolkit: connection.NewToolkit(p),
		Timeout: constants.DefaultWSTimeout,
		lives:   make(map[string]live),
	}
}

func (c *Connection) Connect(ctx context.Context) error {
	if err := c.PreConnectionChecks(); err != nil {
		return err
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", c.BaseURL)
	if err != nil {
		return err
	}

	listener := pq.NewListener(c.BaseURL, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			c.Logger.Warn("listener event", "event", int(ev), "error", err)
		}
	})
	if err := listener.Listen(ChangesChannel); err != nil {
		_ = db.Close()
		_ = listener.Close()
		return err
	}

	c.DB = db
	c.listener = listener
	c.done = make(chan struct{})
	go c.listen()

	return nil
}

// Close stops the listener and the pool. Later calls return nil.
func (c *Connection) Close(ctx context.Context) error {
	if c.DB == nil {
		return nil
	}
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		lerr := c.listener.Close()
		c.CloseAllLiveNotifications()
		if err = c.DB.Close(); err == nil {
			err = lerr
		}
	})
	return err
}

// Send runs one method. signin needs the hosted auth service and is not
// available here.
func (c *Connection) Send(ctx context.Context, method string, params ...any) (*connection.RPCResponse[cbor.RawMessage], error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var (
		result any
		err    error
	)
	switch connection.RPCFunction(method) {
	case connection.Select:
		result, err = c.selectRows(ctx, params)
	case connection.Insert:
		result, err = c.insert(ctx, params)
	case connection.Update:
		result, err = c.update(ctx, params)
	case connection.RPC:
		result, err = c.call(ctx, params)
	case connection.Live:
		result, err = c.live(params)
	case connection.Kill:
		err = c.kill(params)
	case connection.Authenticate:
		err = c.authenticate(params)
	case connection.Invalidate:
		c.mu.Lock()
		c.claims = ""
		c.mu.Unlock()
	default:
		return nil, fmt.Errorf("%w: %s", constants.ErrMethodNotAvailable, method)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", constants.ErrTimeout, method)
		}
		return nil, asRPCError(err)
	}

	raw, err := c.Marshaler.Marshal(result)
	if err != nil {
		return nil, err
	}
	res := cbor.RawMessage(raw)
	return &connection.RPCResponse[cbor.RawMessage]{Result: &res}, nil
}

func (c *Connection) queryParam(params []any, i int) (query.Query, error) {
	if len(params) <= i {
		return query.Query{}, fmt.Errorf("postgres: missing query parameter")
	}
	if q, ok := params[i].(query.Query); ok {
		return q, nil
	}
	var q query.Query
	cb, ok := c.Marshaler.(*codec.CBOR)
	if !ok {
		return q, fmt.Errorf("postgres: unexpected query parameter %T", params[i])
	}
	return q, codec.Convert(cb, params[i], &q)
}

func (c *Connection) selectRows(ctx context.Context, params []any) (any, error) {
	q, err := c.queryParam(params, 0)
	if err != nil {
		return nil, err
	}
	stmt, args, err := CompileSelect(q)
	if err != nil {
		return nil, err
	}
	return c.queryJSON(ctx, stmt, args...)
}

func (c *Connection) insert(ctx context.Context, params []any) (any, error) {
	if len(params) != 2 {
		return nil, fmt.Errorf("postgres: insert expects table and data")
	}
	table, _ := params[0].(string)

	rows, err := toRows(params[1])
	if err != nil {
		return nil, err
	}
	stmt, args, err := CompileInsert(table, rows)
	if err != nil {
		return nil, err
	}
	return c.queryJSON(ctx, stmt, args...)
}

func (c *Connection) update(ctx context.Context, params []any) (any, error) {
	if len(params) != 2 {
		return nil, fmt.Errorf("postgres: update expects query and patch")
	}
	q, err := c.queryParam(params, 0)
	if err != nil {
		return nil, err
	}
	patch, err := toRows(params[1])
	if err != nil {
		return nil, err
	}
	if len(patch) != 1 {
		return nil, fmt.Errorf("postgres: update expects one patch object")
	}
	stmt, args, err := CompileUpdate(q, patch[0])
	if err != nil {
		return nil, err
	}
	return c.queryJSON(ctx, stmt, args...)
}

func (c *Connection) call(ctx context.Context, params []any) (any, error) {
	if len(params) < 1 {
		return nil, fmt.Errorf("postgres: rpc expects a procedure name")
	}
	name, _ := params[0].(string)
	var args map[string]any
	if len(params) > 1 && params[1] != nil {
		rows, err := toRows(params[1])
		if err != nil {
			return nil, err
		}
		args = rows[0]
	}
	stmt, bound, err := CompileCall(name, args)
	if err != nil {
		return nil, err
	}
	return c.queryJSON(ctx, stmt, bound...)
}

// queryJSON runs a statement returning one JSON value, inside a
// transaction carrying the session claims for row-level security.
func (c *Connection) queryJSON(ctx context.Context, stmt string, args ...any) (any, error) {
	tx, err := c.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	c.mu.RLock()
	claims := c.claims
	c.mu.RUnlock()
	if claims != "" {
		if _, err := tx.ExecContext(ctx, "SELECT set_config('request.jwt.claims', $1, true)", claims); err != nil {
			return nil, err
		}
	}

	var data []byte
	if err := tx.GetContext(ctx, &data, stmt, args...); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Connection) authenticate(params []any) error {
	if len(params) != 1 {
		return fmt.Errorf("postgres: authenticate expects a token")
	}
	token, _ := params[0].(string)

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return &connection.RPCError{Code: http.StatusUnauthorized, Message: "Invalid JWT", Details: err.Error()}
	}
	data, err := json.Marshal(claims)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.claims = string(data)
	c.mu.Unlock()
	return nil
}

func (c *Connection) live(params []any) (any, error) {
	if len(params) < 1 {
		return nil, fmt.Errorf("postgres: live expects a table")
	}
	table, _ := params[0].(string)
	if _, err := ident(table); err != nil {
		return nil, err
	}

	l := live{table: table, actions: make(map[connection.Action]bool)}
	if len(params) > 1 {
		if names, ok := params[1].([]string); ok {
			for _, n := range names {
				l.actions[connection.Action(n)] = true
			}
		}
	}
	if len(l.actions) == 0 {
		l.actions[connection.InsertAction] = true
		l.actions[connection.UpdateAction] = true
		l.actions[connection.DeleteAction] = true
	}

	id := uuid.NewString()
	c.mu.Lock()
	c.lives[id] = l
	c.mu.Unlock()
	return id, nil
}

func (c *Connection) kill(params []any) error {
	if len(params) != 1 {
		return fmt.Errorf("postgres: kill expects a live query id")
	}
	id, _ := params[0].(string)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lives[id]; !ok {
		return fmt.Errorf("%w: %s", constants.ErrUnknownLiveQuery, id)
	}
	delete(c.lives, id)
	return nil
}

func (c *Connection) listen() {
	for {
		select {
		case <-c.done:
			return
		case n, ok := <-c.listener.Notify:
			if !ok {
				return
			}
			// nil after a reconnect; changes in between are lost
			if n == nil {
				continue
			}
			c.dispatch([]byte(n.Extra))
		case <-time.After(90 * time.Second):
			go func() { _ = c.listener.Ping() }()
		}
	}
}

func (c *Connection) dispatch(payload []byte) {
	var ch change
	if err := json.Unmarshal(payload, &ch); err != nil {
		c.Logger.Error("undecodable change payload", "error", err)
		return
	}

	result, err := c.reencode(ch.Record)
	if err != nil {
		c.Logger.Error("undecodable change record", "table", ch.Table, "error", err)
		return
	}
	var before cbor.RawMessage
	if len(ch.Old) > 0 && string(ch.Old) != "null" {
		if before, err = c.reencode(ch.Old); err != nil {
			c.Logger.Error("undecodable change old record", "table", ch.Table, "error", err)
			return
		}
	}

	c.mu.RLock()
	var ids []string
	for id, l := range c.lives {
		if l.table == ch.Table && l.actions[ch.Action] {
			ids = append(ids, id)
		}
	}
	c.mu.RUnlock()

	for _, id := range ids {
		c.DeliverNotification(connection.Notification{
			ID:     id,
			Action: ch.Action,
			Table:  ch.Table,
			Result: result,
			Before: before,
		})
	}
}

func (c *Connection) reencode(raw json.RawMessage) (cbor.RawMessage, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	data, err := c.Marshaler.Marshal(v)
	if err != nil {
		return nil, err
	}
	return cbor.RawMessage(data), nil
}

// toRows normalizes insert data and patches, which callers pass as
// structs, maps or slices of either, into column maps.
func toRows(v any) ([]map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	if len(data) > 0 && data[0] == '[' {
		err = json.Unmarshal(data, &rows)
	} else {
		var row map[string]any
		err = json.Unmarshal(data, &row)
		rows = []map[string]any{row}
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: rows must be objects: %w", err)
	}
	return rows, nil
}

// asRPCError keeps database errors in the shape the WebSocket engine uses.
func asRPCError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := http.StatusBadRequest
		if pqErr.Code.Class() == "42" {
			code = http.StatusNotFound
		}
		return &connection.RPCError{
			Code:    code,
			Message: pqErr.Message,
			Details: pqErr.Detail,
			Hint:    pqErr.Hint,
		}
	}
	return err
}
