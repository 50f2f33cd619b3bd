package fakebackend

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kuppel/kuppel.go/internal/codec"
	"github.com/kuppel/kuppel.go/pkg/connection"
	"github.com/kuppel/kuppel.go/pkg/query"
	"github.com/lxzan/gws"
)

// Seed appends rows to table as they are, without notifications.
// Rows without an id get one.
func (s *Server) Seed(table string, rows ...map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		row := cloneRow(r)
		if _, ok := row["id"]; !ok {
			row["id"] = uuid.NewString()
		}
		s.tables[table] = append(s.tables[table], row)
	}
}

// Rows returns a copy of every row of table.
func (s *Server) Rows(table string) []map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]map[string]any, 0, len(s.tables[table]))
	for _, r := range s.tables[table] {
		out = append(out, cloneRow(r))
	}
	return out
}

func (h *Handler) handleSelect(socket *gws.Conn, req *connection.RPCRequest) {
	q, err := h.decodeQuery(req.Params, 0)
	if err != nil {
		h.sendError(socket, req.ID, codeInvalidParams, err.Error())
		return
	}

	h.server.mu.RLock()
	rows, err := h.server.selectRows(q)
	h.server.mu.RUnlock()
	if err != nil {
		h.sendError(socket, req.ID, codeInvalidParams, err.Error())
		return
	}

	h.sendResponse(socket, req.ID, rows)
}

func (h *Handler) handleInsert(socket *gws.Conn, req *connection.RPCRequest) {
	if len(req.Params) != 2 {
		h.sendError(socket, req.ID, codeInvalidParams, "insert expects [table, data]")
		return
	}
	table, ok := req.Params[0].(string)
	if !ok || table == "" {
		h.sendError(socket, req.ID, codeInvalidParams, "insert: table must be a string")
		return
	}

	var data []map[string]any
	switch v := req.Params[1].(type) {
	case map[string]any:
		data = []map[string]any{v}
	case []any:
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				h.sendError(socket, req.ID, codeInvalidParams, "insert: rows must be objects")
				return
			}
			data = append(data, m)
		}
	default:
		h.sendError(socket, req.ID, codeInvalidParams, fmt.Sprintf("insert: unexpected data %T", v))
		return
	}

	now := h.server.now().UTC().Format(time.RFC3339Nano)
	inserted := make([]map[string]any, 0, len(data))

	h.server.mu.Lock()
	for _, d := range data {
		row := cloneRow(d)
		if _, ok := row["id"]; !ok {
			row["id"] = uuid.NewString()
		}
		if _, ok := row["created_at"]; !ok {
			row["created_at"] = now
		}
		h.server.tables[table] = append(h.server.tables[table], row)
		inserted = append(inserted, cloneRow(row))
	}
	h.server.mu.Unlock()

	h.sendResponse(socket, req.ID, inserted)

	for _, row := range inserted {
		h.server.notify(table, connection.InsertAction, row, nil)
	}
}

func (h *Handler) handleUpdate(socket *gws.Conn, req *connection.RPCRequest) {
	if len(req.Params) != 2 {
		h.sendError(socket, req.ID, codeInvalidParams, "update expects [query, patch]")
		return
	}
	q, err := h.decodeQuery(req.Params, 0)
	if err != nil {
		h.sendError(socket, req.ID, codeInvalidParams, err.Error())
		return
	}
	patch, ok := req.Params[1].(map[string]any)
	if !ok {
		h.sendError(socket, req.ID, codeInvalidParams, "update: patch must be an object")
		return
	}

	type change struct{ before, after map[string]any }
	var changes []change

	h.server.mu.Lock()
	for _, row := range h.server.tables[q.Table] {
		match, err := matches(row, q.Filters)
		if err != nil {
			h.server.mu.Unlock()
			h.sendError(socket, req.ID, codeInvalidParams, err.Error())
			return
		}
		if !match {
			continue
		}
		before := cloneRow(row)
		for k, v := range patch {
			row[k] = v
		}
		changes = append(changes, change{before: before, after: cloneRow(row)})
	}
	h.server.mu.Unlock()

	updated := make([]map[string]any, 0, len(changes))
	for _, c := range changes {
		updated = append(updated, c.after)
	}
	h.sendResponse(socket, req.ID, updated)

	for _, c := range changes {
		h.server.notify(q.Table, connection.UpdateAction, c.after, c.before)
	}
}

func (h *Handler) decodeQuery(params []any, i int) (query.Query, error) {
	var q query.Query
	if len(params) <= i {
		return q, fmt.Errorf("missing query parameter")
	}
	if err := codec.Convert(h.server.codec, params[i], &q); err != nil {
		return q, fmt.Errorf("invalid query: %w", err)
	}
	if err := q.Validate(); err != nil {
		return q, err
	}
	return q, nil
}

// selectRows evaluates q against the tables. The caller holds s.mu.
func (s *Server) selectRows(q query.Query) ([]map[string]any, error) {
	fields := q.Fields
	if fields == "" {
		fields = "*"
	}
	sel, err := query.ParseFields(fields)
	if err != nil {
		return nil, err
	}

	var rows []map[string]any
	for _, row := range s.tables[q.Table] {
		ok, err := matches(row, q.Filters)
		if err != nil {
			return nil, err
		}
		if ok {
			rows = append(rows, row)
		}
	}

	if len(q.Orders) > 0 {
		sort.SliceStable(rows, func(i, j int) bool {
			for _, o := range q.Orders {
				c := compare(rows[i][o.Field], rows[j][o.Field])
				if c == 0 {
					continue
				}
				if o.Direction == query.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}

	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		out = append(out, s.project(q.Table, row, sel))
	}
	return out, nil
}

// project applies a field selection. Relations resolve through foreign keys
// named after the singular table: orders(*) -> order_items.order_id.
func (s *Server) project(table string, row map[string]any, sel []query.Selection) map[string]any {
	out := make(map[string]any)
	for _, f := range sel {
		switch {
		case f.Name == "*":
			for k, v := range row {
				out[k] = v
			}
		case f.IsRelation():
			out[f.Name] = s.related(table, row, f)
		default:
			out[f.Name] = row[f.Name]
		}
	}
	return out
}

func (s *Server) related(table string, row map[string]any, f query.Selection) any {
	fk := singular(table) + "_id"
	children := []map[string]any{}
	for _, child := range s.tables[f.Name] {
		if v, ok := child[fk]; ok && compare(v, row["id"]) == 0 {
			children = append(children, s.project(f.Name, child, f.Children))
		}
	}
	if len(children) > 0 {
		return children
	}

	// to-one: the parent row carries <singular child>_id
	if id, ok := row[singular(f.Name)+"_id"]; ok && id != nil {
		for _, target := range s.tables[f.Name] {
			if compare(target["id"], id) == 0 {
				return s.project(f.Name, target, f.Children)
			}
		}
		return nil
	}
	return children
}

func singular(table string) string {
	return strings.TrimSuffix(table, "s")
}

func matches(row map[string]any, filters []query.Filter) (bool, error) {
	for _, f := range filters {
		v := row[f.Field]
		var ok bool
		switch f.Op {
		case query.OpEq:
			ok = compare(v, f.Value) == 0
		case query.OpNeq:
			ok = compare(v, f.Value) != 0
		case query.OpGt:
			ok = v != nil && compare(v, f.Value) > 0
		case query.OpGte:
			ok = v != nil && compare(v, f.Value) >= 0
		case query.OpLt:
			ok = v != nil && compare(v, f.Value) < 0
		case query.OpLte:
			ok = v != nil && compare(v, f.Value) <= 0
		case query.OpIs:
			ok = v == f.Value || (f.Value == nil && v == nil)
		case query.OpIn:
			list, isList := f.Value.([]any)
			if !isList {
				return false, fmt.Errorf("in on %s expects a list", f.Field)
			}
			for _, item := range list {
				if compare(v, item) == 0 {
					ok = true
					break
				}
			}
		default:
			return false, fmt.Errorf("unknown operator %q", f.Op)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// compare orders two scalar values. Numbers compare numerically, strings
// that both parse as RFC 3339 timestamps compare as instants, other
// strings lexically. nil sorts first.
func compare(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}

	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}

	sa, aok := a.(string)
	sb, bok := b.(string)
	if aok && bok {
		ta, errA := time.Parse(time.RFC3339Nano, sa)
		tb, errB := time.Parse(time.RFC3339Nano, sb)
		if errA == nil && errB == nil {
			return ta.Compare(tb)
		}
		return strings.Compare(sa, sb)
	}

	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0
			case !ba:
				return -1
			}
			return 1
		}
	}

	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func cloneRow(r map[string]any) map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
