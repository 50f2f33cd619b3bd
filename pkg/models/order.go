package models

import "time"

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPreparing OrderStatus = "preparing"
	OrderServed    OrderStatus = "served"
	OrderPaid      OrderStatus = "paid"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
)

// SettledOrderStatuses are the statuses that count as a sale.
var SettledOrderStatuses = []OrderStatus{OrderPaid, OrderCompleted}

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentTransfer PaymentMethod = "transfer"
	PaymentNequi    PaymentMethod = "nequi"
	PaymentOther    PaymentMethod = "other"
)

type Order struct {
	ID             string        `json:"id"`
	CompanyID      string        `json:"company_id"`
	BranchID       string        `json:"branch_id,omitempty"`
	TableID        *string       `json:"table_id,omitempty"`
	CustomerID     *string       `json:"customer_id,omitempty"`
	CashRegisterID *string       `json:"cash_register_id,omitempty"`
	Status         OrderStatus   `json:"status"`
	PaymentMethod  PaymentMethod `json:"payment_method,omitempty"`
	Total          Money         `json:"total"`
	Items          []OrderItem   `json:"order_items,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

type OrderItem struct {
	ID          string `json:"id,omitempty"`
	OrderID     string `json:"order_id,omitempty"`
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   Money  `json:"unit_price"`
	Total       Money  `json:"total"`
}
