package models

import "time"

type RegisterStatus string

const (
	RegisterOpen   RegisterStatus = "open"
	RegisterClosed RegisterStatus = "closed"
)

type CashRegister struct {
	ID            string         `json:"id"`
	CompanyID     string         `json:"company_id"`
	BranchID      string         `json:"branch_id"`
	CashierID     string         `json:"cashier_id"`
	Status        RegisterStatus `json:"status"`
	OpeningAmount Money          `json:"opening_amount"`
	ClosingAmount *Money         `json:"closing_amount,omitempty"`
	OpenedAt      time.Time      `json:"opened_at"`
	ClosedAt      *time.Time     `json:"closed_at,omitempty"`
}

type Expense struct {
	ID             string    `json:"id,omitempty"`
	CompanyID      string    `json:"company_id"`
	BranchID       string    `json:"branch_id"`
	CashRegisterID string    `json:"cash_register_id,omitempty"`
	Category       string    `json:"category"`
	Description    string    `json:"description,omitempty"`
	Amount         Money     `json:"amount"`
	CreatedBy      string    `json:"created_by,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}
