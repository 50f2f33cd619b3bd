package models

import "time"

type User struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	FullName      string `json:"full_name,omitempty"`
	CompanyID     string `json:"company_id,omitempty"`
	Role          string `json:"role,omitempty"`
	TourCompleted bool   `json:"tour_completed"`
}

type Company struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	NIT    string  `json:"nit,omitempty"`
	PlanID *string `json:"plan_id,omitempty"`
}

type VariantType struct {
	ID        string    `json:"id,omitempty"`
	CompanyID string    `json:"company_id"`
	Name      string    `json:"name"`
	Options   []string  `json:"options"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type Vote struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	VoteType  string    `json:"vote_type"`
	CreatedAt time.Time `json:"created_at"`
}
