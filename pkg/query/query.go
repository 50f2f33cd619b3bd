// Package query builds the table reads and filtered writes sent to the backend.
//
// A Query names a collection, the fields to return, a conjunction of
// filters, an ordering and an optional limit. Related rows are selected
// with nested field selections, e.g. "*, order_items(*)".
package query

import (
	"fmt"
	"strings"
)

type Op string

const (
	OpEq  Op = "eq"
	OpNeq Op = "neq"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	OpIn  Op = "in"
	// OpIs compares against null or a boolean.
	OpIs Op = "is"
)

type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

type Filter struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value any    `json:"value"`
}

type Order struct {
	Field     string    `json:"field"`
	Direction Direction `json:"direction"`
}

type Query struct {
	Table   string   `json:"table"`
	Fields  string   `json:"fields,omitempty"`
	Filters []Filter `json:"filters,omitempty"`
	Orders  []Order  `json:"orders,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// Builder accumulates a Query. The zero value is not usable; start with From.
type Builder struct {
	q Query
}

func From(table string) *Builder {
	return &Builder{q: Query{Table: table, Fields: "*"}}
}

func (b *Builder) Select(fields string) *Builder {
	b.q.Fields = fields
	return b
}

func (b *Builder) Where(field string, op Op, value any) *Builder {
	b.q.Filters = append(b.q.Filters, Filter{Field: field, Op: op, Value: value})
	return b
}

func (b *Builder) Eq(field string, value any) *Builder  { return b.Where(field, OpEq, value) }
func (b *Builder) Neq(field string, value any) *Builder { return b.Where(field, OpNeq, value) }
func (b *Builder) Gt(field string, value any) *Builder  { return b.Where(field, OpGt, value) }
func (b *Builder) Gte(field string, value any) *Builder { return b.Where(field, OpGte, value) }
func (b *Builder) Lt(field string, value any) *Builder  { return b.Where(field, OpLt, value) }
func (b *Builder) Lte(field string, value any) *Builder { return b.Where(field, OpLte, value) }
func (b *Builder) Is(field string, value any) *Builder  { return b.Where(field, OpIs, value) }

// In matches any of values. Values are copied into a []any so every
// engine sees the same shape.
func In[T any](b *Builder, field string, values ...T) *Builder {
	vs := make([]any, 0, len(values))
	for _, v := range values {
		vs = append(vs, v)
	}
	return b.Where(field, OpIn, vs)
}

func (b *Builder) Order(field string, dir Direction) *Builder {
	b.q.Orders = append(b.q.Orders, Order{Field: field, Direction: dir})
	return b
}

func (b *Builder) Limit(n int) *Builder {
	b.q.Limit = n
	return b
}

func (b *Builder) Build() Query {
	q := b.q
	q.Filters = append([]Filter(nil), b.q.Filters...)
	q.Orders = append([]Order(nil), b.q.Orders...)
	return q
}

// Validate reports the first structural problem of q.
func (q Query) Validate() error {
	if q.Table == "" {
		return fmt.Errorf("query: table is required")
	}
	for _, f := range q.Filters {
		if f.Field == "" {
			return fmt.Errorf("query: filter on %s has no field", q.Table)
		}
		switch f.Op {
		case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpIs:
		case OpIn:
			if _, ok := f.Value.([]any); !ok {
				return fmt.Errorf("query: %s in expects a list, got %T", f.Field, f.Value)
			}
		default:
			return fmt.Errorf("query: unknown operator %q", f.Op)
		}
	}
	for _, o := range q.Orders {
		if o.Direction != Asc && o.Direction != Desc {
			return fmt.Errorf("query: unknown direction %q", o.Direction)
		}
	}
	if q.Limit < 0 {
		return fmt.Errorf("query: negative limit")
	}
	return nil
}

// Selection is one entry of a field selection: either a column or a
// nested relation with its own selection.
type Selection struct {
	Name     string
	Children []Selection
}

func (s Selection) IsRelation() bool {
	return s.Children != nil
}

// ParseFields parses a selection such as "id, total, order_items(product_id, total)".
func ParseFields(fields string) ([]Selection, error) {
	p := &fieldParser{src: fields}
	sel, err := p.list()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("query: unexpected %q at %d in %q", p.src[p.pos], p.pos, fields)
	}
	return sel, nil
}

type fieldParser struct {
	src string
	pos int
}

func (p *fieldParser) skipSpace() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func (p *fieldParser) list() ([]Selection, error) {
	var out []Selection
	for {
		p.skipSpace()
		start := p.pos
		for p.pos < len(p.src) && !strings.ContainsRune(",() ", rune(p.src[p.pos])) {
			p.pos++
		}
		name := p.src[start:p.pos]
		if name == "" {
			return nil, fmt.Errorf("query: empty field at %d in %q", start, p.src)
		}
		sel := Selection{Name: name}
		p.skipSpace()
		if p.pos < len(p.src) && p.src[p.pos] == '(' {
			p.pos++
			children, err := p.list()
			if err != nil {
				return nil, err
			}
			p.skipSpace()
			if p.pos >= len(p.src) || p.src[p.pos] != ')' {
				return nil, fmt.Errorf("query: unclosed selection for %s in %q", name, p.src)
			}
			p.pos++
			sel.Children = children
		}
		out = append(out, sel)
		p.skipSpace()
		if p.pos < len(p.src) && p.src[p.pos] == ',' {
			p.pos++
			continue
		}
		return out, nil
	}
}
