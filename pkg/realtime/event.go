package realtime

import "github.com/kuppel/kuppel.go/pkg/models"

// Event is one of OrderInserted, TableStatusChanged or TableCreated.
// The set is closed: no other package can add variants.
type Event interface {
	event()
}

// OrderInserted is a new row in orders.
type OrderInserted struct {
	Order models.Order
}

// TableStatusChanged is an update of a table whose status differs from
// the previous one. Previous is empty when the backend did not send the
// old row.
type TableStatusChanged struct {
	Table    models.Table
	Previous models.TableStatus
}

// TableCreated is a new row in tables.
type TableCreated struct {
	Table models.Table
}

func (OrderInserted) event()      {}
func (TableStatusChanged) event() {}
func (TableCreated) event()       {}

// Handlers receives events. Nil handlers ignore their variant.
type Handlers struct {
	OrderInserted      func(OrderInserted)
	TableStatusChanged func(TableStatusChanged)
	TableCreated       func(TableCreated)
}

// Dispatch calls the handler matching the variant of e.
func (h Handlers) Dispatch(e Event) {
	switch e := e.(type) {
	case OrderInserted:
		if h.OrderInserted != nil {
			h.OrderInserted(e)
		}
	case TableStatusChanged:
		if h.TableStatusChanged != nil {
			h.TableStatusChanged(e)
		}
	case TableCreated:
		if h.TableCreated != nil {
			h.TableCreated(e)
		}
	}
}
