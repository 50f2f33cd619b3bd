package kuppel

import (
	"context"
	"fmt"

	"github.com/kuppel/kuppel.go/pkg/connection"
	"github.com/kuppel/kuppel.go/pkg/constants"
	"github.com/kuppel/kuppel.go/pkg/query"
)

// Send issues a raw RPC method and decodes its result into res.
func Send[Result any](ctx context.Context, db *DB, res *connection.RPCResponse[Result], method string, params ...any) error {
	switch connection.RPCFunction(method) {
	case connection.Select, connection.Insert, connection.Update, connection.RPC,
		connection.Live, connection.Kill,
		connection.SignIn, connection.Authenticate, connection.Invalidate:
		return connection.Send(db.con, ctx, res, method, params...)
	default:
		return fmt.Errorf("%w: %s", constants.ErrMethodNotAvailable, method)
	}
}

// Select runs q and decodes every returned row into T.
// No matching rows is an empty slice, not an error.
func Select[T any](ctx context.Context, db *DB, q query.Query) ([]T, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var res connection.RPCResponse[[]T]
	if err := connection.Send(db.con, ctx, &res, string(connection.Select), q); err != nil {
		return nil, err
	}
	if res.Result == nil {
		return []T{}, nil
	}
	return *res.Result, nil
}

// SelectOne returns the first row of q, or constants.ErrNoRow.
func SelectOne[T any](ctx context.Context, db *DB, q query.Query) (*T, error) {
	q.Limit = 1
	rows, err := Select[T](ctx, db, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", constants.ErrNoRow, q.Table)
	}
	return &rows[0], nil
}

// Insert writes one row (a struct or map) or a slice of rows into table
// and returns the rows as stored, with their generated ids.
func Insert[T any](ctx context.Context, db *DB, table string, data any) ([]T, error) {
	if table == "" {
		return nil, fmt.Errorf("insert: table is required")
	}

	var res connection.RPCResponse[[]T]
	if err := connection.Send(db.con, ctx, &res, string(connection.Insert), table, data); err != nil {
		return nil, err
	}
	if res.Result == nil {
		return []T{}, nil
	}
	return *res.Result, nil
}

// Update merges patch into every row matched by q's filters and returns
// the updated rows.
func Update[T any](ctx context.Context, db *DB, q query.Query, patch any) ([]T, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if len(q.Filters) == 0 {
		return nil, fmt.Errorf("update: refusing to update every row of %s", q.Table)
	}

	var res connection.RPCResponse[[]T]
	if err := connection.Send(db.con, ctx, &res, string(connection.Update), q, patch); err != nil {
		return nil, err
	}
	if res.Result == nil {
		return []T{}, nil
	}
	return *res.Result, nil
}

// Call invokes a server-side procedure with named arguments.
func Call[T any](ctx context.Context, db *DB, procedure string, args map[string]any) (*T, error) {
	if args == nil {
		args = map[string]any{}
	}

	var res connection.RPCResponse[T]
	if err := connection.Send(db.con, ctx, &res, string(connection.RPC), procedure, args); err != nil {
		return nil, err
	}
	return res.Result, nil
}
