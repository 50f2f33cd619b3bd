package connection

import "github.com/fxamacker/cbor/v2"

// Notification is one row-level change pushed on a live query.
// Before is the previous row for updates, when the backend sends it.
type Notification struct {
	ID     string          `json:"id"`
	Action Action          `json:"action"`
	Table  string          `json:"table"`
	Result cbor.RawMessage `json:"result"`
	Before cbor.RawMessage `json:"before,omitempty"`
}

type Action string

const (
	InsertAction Action = "INSERT"
	UpdateAction Action = "UPDATE"
	DeleteAction Action = "DELETE"
)
