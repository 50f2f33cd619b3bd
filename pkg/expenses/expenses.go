// Package expenses records money taken out of a register during a cash
// session.
package expenses

import (
	"context"
	"time"

	"github.com/kuppel/kuppel.go"
	"github.com/kuppel/kuppel.go/pkg/constants"
	"github.com/kuppel/kuppel.go/pkg/logger"
	"github.com/kuppel/kuppel.go/pkg/models"
	"github.com/kuppel/kuppel.go/pkg/notify"
	"github.com/kuppel/kuppel.go/pkg/query"
	"github.com/kuppel/kuppel.go/pkg/querycache"
	"github.com/kuppel/kuppel.go/pkg/validation"
)

const (
	DescriptionMaxLength = 255
	StaleTime            = 30 * time.Second
)

// Categories are the expense categories offered at the register.
var Categories = []string{"supplies", "services", "payroll", "maintenance", "transport", "other"}

type NewExpense struct {
	CompanyID      string
	BranchID       string
	CashRegisterID string
	Category       string
	Description    string
	Amount         models.Money
	CreatedBy      string
}

func (n NewExpense) Validate() validation.Result {
	return validation.First(
		validation.Required("company", n.CompanyID),
		validation.Required("branch", n.BranchID),
		validation.Required("category", n.Category),
		validation.OneOf("category", n.Category, Categories...),
		validation.PositiveAmount("amount", n.Amount),
		validation.MaxLength("description", n.Description, DescriptionMaxLength),
	)
}

type expenseRow struct {
	CompanyID      string       `json:"company_id"`
	BranchID       string       `json:"branch_id"`
	CashRegisterID *string      `json:"cash_register_id,omitempty"`
	Category       string       `json:"category"`
	Description    string       `json:"description,omitempty"`
	Amount         models.Money `json:"amount"`
	CreatedBy      *string      `json:"created_by,omitempty"`
}

type Service struct {
	db       *kuppel.DB
	cache    *querycache.Cache
	notifier notify.Notifier
	catalog  notify.Catalog
	logger   logger.Logger
}

type Option func(s *Service)

func WithNotifier(n notify.Notifier, c notify.Catalog) Option {
	return func(s *Service) { s.notifier, s.catalog = n, c }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(db *kuppel.DB, cache *querycache.Cache, opts ...Option) *Service {
	s := &Service{
		db:       db,
		cache:    cache,
		notifier: notify.Discard,
		catalog:  notify.NewCatalog(notify.DefaultLocale),
		logger:   logger.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create validates and stores the expense. On success the cash session and
// daily stats are invalidated and a confirmation toast is sent; on failure
// a destructive toast names the action.
func (s *Service) Create(ctx context.Context, n NewExpense) (*models.Expense, error) {
	if err := n.Validate().Err(); err != nil {
		s.notifier.Notify(notify.Failure(s.catalog, notify.KeyExpenseCreateFailed, err))
		return nil, err
	}

	row := expenseRow{
		CompanyID:   n.CompanyID,
		BranchID:    n.BranchID,
		Category:    n.Category,
		Description: n.Description,
		Amount:      n.Amount,
	}
	if n.CashRegisterID != "" {
		row.CashRegisterID = &n.CashRegisterID
	}
	if n.CreatedBy != "" {
		row.CreatedBy = &n.CreatedBy
	}

	rows, err := kuppel.Insert[models.Expense](ctx, s.db, constants.TableExpenses, row)
	if err == nil && len(rows) == 0 {
		err = constants.InvalidResponse
	}
	if err != nil {
		s.notifier.Notify(notify.Failure(s.catalog, notify.KeyExpenseCreateFailed, err))
		return nil, err
	}

	if err := s.cache.Invalidate(ctx, querycache.FamilyExpenses, querycache.FamilyCashSession, querycache.FamilyDailyStats); err != nil {
		s.logger.Warn("cache invalidation failed", "error", err)
	}
	s.notifier.Notify(notify.Success(s.catalog, notify.KeyExpenseCreated))
	return &rows[0], nil
}

// List returns the expenses of a register, newest first.
func (s *Service) List(ctx context.Context, registerID string) ([]models.Expense, error) {
	return kuppel.Select[models.Expense](ctx, s.db,
		query.From(constants.TableExpenses).
			Eq("cash_register_id", registerID).
			Order("created_at", query.Desc).
			Build())
}

// ListQuery caches List; reads fail into an empty list.
func (s *Service) ListQuery(registerID string) *querycache.Query[[]models.Expense] {
	key := querycache.Key(querycache.FamilyExpenses, registerID)
	return querycache.NewQuery(s.cache, key, StaleTime, []models.Expense{}, func(ctx context.Context) ([]models.Expense, error) {
		return s.List(ctx, registerID)
	})
}
