package models

type TableStatus string

const (
	TableAvailable TableStatus = "available"
	TableOccupied  TableStatus = "occupied"
	TableReserved  TableStatus = "reserved"
	TableCleaning  TableStatus = "cleaning"
)

// Table is a dining table of a branch.
type Table struct {
	ID       string      `json:"id"`
	BranchID string      `json:"branch_id,omitempty"`
	Number   int         `json:"number"`
	Name     string      `json:"name,omitempty"`
	Capacity int         `json:"capacity,omitempty"`
	Status   TableStatus `json:"status"`
}
