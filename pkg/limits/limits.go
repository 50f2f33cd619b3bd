// Package limits reads the plan usage of a company. The backend decides
// whether a dimension is near or over its limit; nothing here recomputes
// thresholds.
package limits

import (
	"context"
	"fmt"
	"time"

	"github.com/kuppel/kuppel.go"
	"github.com/kuppel/kuppel.go/pkg/constants"
	"github.com/kuppel/kuppel.go/pkg/querycache"
)

const (
	Procedure = "check_company_limits"
	StaleTime = 5 * time.Minute
)

type Status string

const (
	StatusOK        Status = "ok"
	StatusNearLimit Status = "near_limit"
	StatusOverLimit Status = "over_limit"
	StatusNoLimit   Status = "no_limit"
	StatusNoPlan    Status = "no_plan"
)

// Dimension keys accepted by Limits.Dimension.
const (
	Users     = "users"
	Branches  = "branches"
	Documents = "documents"
)

type Dimension struct {
	Status     Status   `json:"status"`
	Used       int      `json:"used"`
	Limit      *int     `json:"limit"`
	Percentage *float64 `json:"percentage"`
}

// Blocked reports whether the backend considers the dimension exhausted.
func (d Dimension) Blocked() bool {
	return d.Status == StatusOverLimit
}

type Limits struct {
	Users     Dimension `json:"users"`
	Branches  Dimension `json:"branches"`
	Documents Dimension `json:"documents"`
}

// Dimension returns the named dimension, or nil for an unknown key.
func (l *Limits) Dimension(key string) *Dimension {
	if l == nil {
		return nil
	}
	switch key {
	case Users:
		return &l.Users
	case Branches:
		return &l.Branches
	case Documents:
		return &l.Documents
	default:
		return nil
	}
}

type Gate struct {
	db    *kuppel.DB
	cache *querycache.Cache
}

func NewGate(db *kuppel.DB, cache *querycache.Cache) *Gate {
	return &Gate{db: db, cache: cache}
}

// Check calls the limits procedure for the company.
func (g *Gate) Check(ctx context.Context, companyID string) (*Limits, error) {
	if companyID == "" {
		return nil, fmt.Errorf("limits: company id is required")
	}
	l, err := kuppel.Call[Limits](ctx, g.db, Procedure, map[string]any{"company_id": companyID})
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, fmt.Errorf("%w: %s returned nothing", constants.InvalidResponse, Procedure)
	}
	return l, nil
}

// Query caches Check for StaleTime. Callers Refetch after mutations that
// change the counts; nothing invalidates it automatically. The data is
// nil until a check succeeds.
func (g *Gate) Query(companyID string) *querycache.Query[*Limits] {
	key := querycache.Key(querycache.FamilyLimits, companyID)
	return querycache.NewQuery(g.cache, key, StaleTime, nil, func(ctx context.Context) (*Limits, error) {
		return g.Check(ctx, companyID)
	})
}
