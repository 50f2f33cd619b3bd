package postgres

import (
	"testing"
	"time"

	"github.com/kuppel/kuppel.go/pkg/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileSelect(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	b := query.From("orders").Select("id, total").Eq("company_id", "c1").Gte("created_at", start)
	q := query.In(b, "status", "paid", "completed").Order("created_at", query.Asc).Limit(10).Build()

	sql, args, err := CompileSelect(q)
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT coalesce(json_agg(t), '[]'::json) FROM (SELECT "orders"."id", "orders"."total" FROM "orders" WHERE "orders"."company_id" = $1 AND "orders"."created_at" >= $2 AND "orders"."status" IN ($3, $4) ORDER BY "orders"."created_at" ASC LIMIT $5) t`,
		sql)
	assert.Equal(t, []any{"c1", start, "paid", "completed", 10}, args)
	assert.NotContains(t, sql, "c1")
}

func TestCompileSelectNested(t *testing.T) {
	q := query.From("orders").Select("*, order_items(product_id, total)").Eq("id", "o1").Build()

	sql, args, err := CompileSelect(q)
	require.NoError(t, err)
	assert.Contains(t, sql, `SELECT "orders".*, (SELECT coalesce(json_agg(r), '[]'::json) FROM (SELECT "order_items"."product_id", "order_items"."total" FROM "order_items" WHERE "order_items"."order_id" = "orders"."id") r) AS "order_items" FROM "orders"`)
	assert.Equal(t, []any{"o1"}, args)
}

func TestCompileSelectIsAndEmptyIn(t *testing.T) {
	q := query.In[string](query.From("cash_registers").Is("closed_at", nil), "branch_id").Build()

	sql, args, err := CompileSelect(q)
	require.NoError(t, err)
	assert.Contains(t, sql, `"cash_registers"."closed_at" IS NULL AND FALSE`)
	assert.Empty(t, args)

	_, _, err = CompileSelect(query.From("users").Is("tour_completed", "yes").Build())
	assert.Error(t, err)
}

func TestCompileRejectsBadIdentifiers(t *testing.T) {
	_, _, err := CompileSelect(query.From("orders; DROP TABLE orders").Build())
	assert.Error(t, err)

	_, _, err = CompileSelect(query.From("orders").Eq(`id" OR 1=1 --`, 1).Build())
	assert.Error(t, err)

	_, _, err = CompileCall("check_company_limits(); --", nil)
	assert.Error(t, err)
}

func TestCompileInsert(t *testing.T) {
	sql, args, err := CompileInsert("expenses", []map[string]any{
		{"amount": 12.5, "category": "supplies"},
		{"amount": 3.0, "category": "cleaning", "description": "soap"},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`WITH w AS (INSERT INTO "expenses" ("amount", "category", "description") VALUES ($1, $2, DEFAULT), ($3, $4, $5) RETURNING *) SELECT coalesce(json_agg(w), '[]'::json) FROM w`,
		sql)
	assert.Equal(t, []any{12.5, "supplies", 3.0, "cleaning", "soap"}, args)

	_, _, err = CompileInsert("expenses", nil)
	assert.Error(t, err)
}

func TestCompileUpdate(t *testing.T) {
	sql, args, err := CompileUpdate(query.From("users").Eq("id", "u1").Build(), map[string]any{"tour_completed": true})
	require.NoError(t, err)
	assert.Equal(t,
		`WITH w AS (UPDATE "users" SET "tour_completed" = $1 WHERE "users"."id" = $2 RETURNING *) SELECT coalesce(json_agg(w), '[]'::json) FROM w`,
		sql)
	assert.Equal(t, []any{true, "u1"}, args)

	_, _, err = CompileUpdate(query.From("users").Eq("id", "u1").Build(), nil)
	assert.Error(t, err)
}

func TestCompileCall(t *testing.T) {
	sql, args, err := CompileCall("check_company_limits", map[string]any{"company_id": "c1"})
	require.NoError(t, err)
	assert.Equal(t, `SELECT to_json("check_company_limits"("company_id" => $1))`, sql)
	assert.Equal(t, []any{"c1"}, args)

	sql, args, err = CompileCall("get_vote_counts", nil)
	require.NoError(t, err)
	assert.Equal(t, `SELECT to_json("get_vote_counts"())`, sql)
	assert.Empty(t, args)
}
