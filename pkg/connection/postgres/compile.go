package postgres

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kuppel/kuppel.go/pkg/query"
	"github.com/lib/pq"
)

var identifier = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// compiler turns queries into parameterized SQL. Values are never
// interpolated; identifiers are checked and quoted.
type compiler struct {
	args []any
}

func (c *compiler) bind(v any) string {
	c.args = append(c.args, v)
	return fmt.Sprintf("$%d", len(c.args))
}

func ident(name string) (string, error) {
	if !identifier.MatchString(name) {
		return "", fmt.Errorf("postgres: invalid identifier %q", name)
	}
	return pq.QuoteIdentifier(name), nil
}

// CompileSelect compiles q to a statement returning one JSON array of rows.
// Nested selections become correlated json_agg sub-selects joined on
// <singular parent>_id.
func CompileSelect(q query.Query) (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	c := &compiler{}
	inner, err := c.selectStmt(q)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("SELECT coalesce(json_agg(t), '[]'::json) FROM (%s) t", inner), c.args, nil
}

func (c *compiler) selectStmt(q query.Query) (string, error) {
	table, err := ident(q.Table)
	if err != nil {
		return "", err
	}
	fields := q.Fields
	if fields == "" {
		fields = "*"
	}
	sel, err := query.ParseFields(fields)
	if err != nil {
		return "", err
	}
	cols, err := c.columns(q.Table, sel)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", cols, table)

	where, err := c.where(q.Table, q.Filters)
	if err != nil {
		return "", err
	}
	b.WriteString(where)

	if len(q.Orders) > 0 {
		parts := make([]string, 0, len(q.Orders))
		for _, o := range q.Orders {
			col, err := ident(o.Field)
			if err != nil {
				return "", err
			}
			parts = append(parts, fmt.Sprintf("%s.%s %s", table, col, strings.ToUpper(string(o.Direction))))
		}
		b.WriteString(" ORDER BY " + strings.Join(parts, ", "))
	}
	if q.Limit > 0 {
		b.WriteString(" LIMIT " + c.bind(q.Limit))
	}
	return b.String(), nil
}

func (c *compiler) columns(table string, sel []query.Selection) (string, error) {
	t, err := ident(table)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(sel))
	for _, s := range sel {
		switch {
		case s.Name == "*":
			parts = append(parts, t+".*")
		case s.IsRelation():
			child, err := ident(s.Name)
			if err != nil {
				return "", err
			}
			fk, err := ident(strings.TrimSuffix(table, "s") + "_id")
			if err != nil {
				return "", err
			}
			cols, err := c.columns(s.Name, s.Children)
			if err != nil {
				return "", err
			}
			parts = append(parts, fmt.Sprintf(
				"(SELECT coalesce(json_agg(r), '[]'::json) FROM (SELECT %s FROM %s WHERE %s.%s = %s.\"id\") r) AS %s",
				cols, child, child, fk, t, child))
		default:
			col, err := ident(s.Name)
			if err != nil {
				return "", err
			}
			parts = append(parts, t+"."+col)
		}
	}
	return strings.Join(parts, ", "), nil
}

func (c *compiler) where(table string, filters []query.Filter) (string, error) {
	if len(filters) == 0 {
		return "", nil
	}
	t, err := ident(table)
	if err != nil {
		return "", err
	}
	conds := make([]string, 0, len(filters))
	for _, f := range filters {
		col, err := ident(f.Field)
		if err != nil {
			return "", err
		}
		col = t + "." + col
		switch f.Op {
		case query.OpEq:
			conds = append(conds, col+" = "+c.bind(f.Value))
		case query.OpNeq:
			conds = append(conds, col+" <> "+c.bind(f.Value))
		case query.OpGt:
			conds = append(conds, col+" > "+c.bind(f.Value))
		case query.OpGte:
			conds = append(conds, col+" >= "+c.bind(f.Value))
		case query.OpLt:
			conds = append(conds, col+" < "+c.bind(f.Value))
		case query.OpLte:
			conds = append(conds, col+" <= "+c.bind(f.Value))
		case query.OpIs:
			switch f.Value {
			case nil:
				conds = append(conds, col+" IS NULL")
			case true:
				conds = append(conds, col+" IS TRUE")
			case false:
				conds = append(conds, col+" IS FALSE")
			default:
				return "", fmt.Errorf("postgres: is expects null or a boolean, got %T", f.Value)
			}
		case query.OpIn:
			list, _ := f.Value.([]any)
			if len(list) == 0 {
				conds = append(conds, "FALSE")
				continue
			}
			ph := make([]string, 0, len(list))
			for _, v := range list {
				ph = append(ph, c.bind(v))
			}
			conds = append(conds, fmt.Sprintf("%s IN (%s)", col, strings.Join(ph, ", ")))
		default:
			return "", fmt.Errorf("postgres: unknown operator %q", f.Op)
		}
	}
	return " WHERE " + strings.Join(conds, " AND "), nil
}

// CompileInsert compiles a multi-row insert returning the stored rows as
// one JSON array. Columns missing from a row take their default.
func CompileInsert(table string, rows []map[string]any) (string, []any, error) {
	t, err := ident(table)
	if err != nil {
		return "", nil, err
	}
	if len(rows) == 0 {
		return "", nil, fmt.Errorf("postgres: insert into %s without rows", table)
	}

	seen := map[string]bool{}
	var keys []string
	for _, r := range rows {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)

	cols := make([]string, 0, len(keys))
	for _, k := range keys {
		col, err := ident(k)
		if err != nil {
			return "", nil, err
		}
		cols = append(cols, col)
	}

	c := &compiler{}
	values := make([]string, 0, len(rows))
	for _, r := range rows {
		vals := make([]string, 0, len(keys))
		for _, k := range keys {
			v, ok := r[k]
			if !ok {
				vals = append(vals, "DEFAULT")
				continue
			}
			vals = append(vals, c.bind(v))
		}
		values = append(values, "("+strings.Join(vals, ", ")+")")
	}

	var stmt string
	if len(cols) == 0 {
		stmt = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING *", t)
	} else {
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES %s RETURNING *", t, strings.Join(cols, ", "), strings.Join(values, ", "))
	}
	return fmt.Sprintf("WITH w AS (%s) SELECT coalesce(json_agg(w), '[]'::json) FROM w", stmt), c.args, nil
}

// CompileUpdate compiles an update of the rows matched by q's filters.
func CompileUpdate(q query.Query, patch map[string]any) (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	if len(patch) == 0 {
		return "", nil, fmt.Errorf("postgres: empty patch for %s", q.Table)
	}
	t, err := ident(q.Table)
	if err != nil {
		return "", nil, err
	}

	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	c := &compiler{}
	sets := make([]string, 0, len(keys))
	for _, k := range keys {
		col, err := ident(k)
		if err != nil {
			return "", nil, err
		}
		sets = append(sets, col+" = "+c.bind(patch[k]))
	}
	where, err := c.where(q.Table, q.Filters)
	if err != nil {
		return "", nil, err
	}

	stmt := fmt.Sprintf("UPDATE %s SET %s%s RETURNING *", t, strings.Join(sets, ", "), where)
	return fmt.Sprintf("WITH w AS (%s) SELECT coalesce(json_agg(w), '[]'::json) FROM w", stmt), c.args, nil
}

// CompileCall compiles a procedure call with named arguments.
func CompileCall(procedure string, args map[string]any) (string, []any, error) {
	fn, err := ident(procedure)
	if err != nil {
		return "", nil, err
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	c := &compiler{}
	named := make([]string, 0, len(keys))
	for _, k := range keys {
		name, err := ident(k)
		if err != nil {
			return "", nil, err
		}
		named = append(named, name+" => "+c.bind(args[k]))
	}
	return fmt.Sprintf("SELECT to_json(%s(%s))", fn, strings.Join(named, ", ")), c.args, nil
}
