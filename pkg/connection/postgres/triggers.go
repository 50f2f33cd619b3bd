package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/kuppel/kuppel.go/pkg/constants"
)

// ChangesTrigger names both the trigger function and the per-table
// triggers that feed ChangesChannel.
const ChangesTrigger = "kuppel_notify_change"

// ChangesFunctionDDL creates the trigger function. The payload keys must
// stay in step with the change struct. Postgres caps a NOTIFY payload at
// 8000 bytes, so very wide rows are dropped by the server.
const ChangesFunctionDDL = `CREATE OR REPLACE FUNCTION kuppel_notify_change() RETURNS trigger
LANGUAGE plpgsql AS $$
BEGIN
  PERFORM pg_notify('kuppel_changes', json_build_object(
    'table', TG_TABLE_NAME,
    'action', TG_OP,
    'record', CASE WHEN TG_OP = 'DELETE' THEN NULL ELSE row_to_json(NEW) END,
    'old', CASE WHEN TG_OP = 'INSERT' THEN NULL ELSE row_to_json(OLD) END
  )::text);
  RETURN NULL;
END;
$$`

// RealtimeTables are the tables the realtime watcher subscribes to.
var RealtimeTables = []string{constants.TableOrders, constants.TableTables}

// TriggerStatements returns the statements that (re)attach the change
// trigger to table.
func TriggerStatements(table string) ([]string, error) {
	t, err := ident(table)
	if err != nil {
		return nil, err
	}
	return []string{
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", ChangesTrigger, t),
		fmt.Sprintf("CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s FOR EACH ROW EXECUTE FUNCTION %s()", ChangesTrigger, t, ChangesTrigger),
	}, nil
}

// InstallChangeTriggers installs the trigger function and attaches it to
// tables, or to RealtimeTables when none are given, in one transaction.
func InstallChangeTriggers(ctx context.Context, db *sqlx.DB, tables ...string) error {
	if len(tables) == 0 {
		tables = RealtimeTables
	}
	stmts := []string{ChangesFunctionDDL}
	for _, table := range tables {
		s, err := TriggerStatements(table)
		if err != nil {
			return err
		}
		stmts = append(stmts, s...)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("postgres: install change triggers: %w", err)
		}
	}
	return tx.Commit()
}

// InstallChangeTriggers installs the change triggers on the connected
// database.
func (c *Connection) InstallChangeTriggers(ctx context.Context, tables ...string) error {
	if c.DB == nil {
		return constants.ErrConnectionClosed
	}
	return InstallChangeTriggers(ctx, c.DB, tables...)
}
