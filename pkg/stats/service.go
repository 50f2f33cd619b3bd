// Package stats derives the dashboard figures from raw orders: the daily
// summary and the running cash session of a register.
//
// Aggregation is local and exact: amounts are integer minor units, so the
// grouped totals always add up to the ungrouped total. A day without
// orders or a branch without an open register yields a zero-valued
// placeholder, never an error.
package stats

import (
	"context"
	"errors"
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
	DailyStaleTime       = 30 * time.Second
	CashSessionStaleTime = 30 * time.Second
)

type Service struct {
	db       *kuppel.DB
	cache    *querycache.Cache
	loc      *time.Location
	notifier notify.Notifier
	catalog  notify.Catalog
	logger   logger.Logger
	now      func() time.Time
}

type Option func(s *Service)

// WithLocation sets the zone that defines a business day.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

func WithNotifier(n notify.Notifier, c notify.Catalog) Option {
	return func(s *Service) { s.notifier, s.catalog = n, c }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(db *kuppel.DB, cache *querycache.Cache, opts ...Option) *Service {
	s := &Service{
		db:       db,
		cache:    cache,
		loc:      time.Local,
		notifier: notify.Discard,
		catalog:  notify.NewCatalog(notify.DefaultLocale),
		logger:   logger.Nop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// DayBounds returns [00:00, 24:00) of day's date in loc.
func DayBounds(day time.Time, loc *time.Location) (time.Time, time.Time) {
	d := day.In(loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// Daily fetches the paid and completed orders of the company for the
// local day and aggregates them.
func (s *Service) Daily(ctx context.Context, companyID string, day time.Time) (DailyStats, error) {
	start, end := DayBounds(day, s.loc)

	b := query.From(constants.TableOrders).
		Select("*, order_items(*)").
		Eq("company_id", companyID)
	q := query.In(b, "status", models.SettledOrderStatuses...).
		Gte("created_at", start).
		Lt("created_at", end).
		Order("created_at", query.Asc).
		Build()

	orders, err := kuppel.Select[models.Order](ctx, s.db, q)
	if err != nil {
		return EmptyDailyStats(start), err
	}
	return Aggregate(start, orders, s.loc), nil
}

// DailyQuery caches Daily for DailyStaleTime.
func (s *Service) DailyQuery(companyID string, day time.Time) *querycache.Query[DailyStats] {
	start, _ := DayBounds(day, s.loc)
	key := querycache.Key(querycache.FamilyDailyStats, companyID, start.Format(time.DateOnly))
	return querycache.NewQuery(s.cache, key, DailyStaleTime, EmptyDailyStats(start), func(ctx context.Context) (DailyStats, error) {
		return s.Daily(ctx, companyID, start)
	})
}

// Today is DailyQuery for the current local day.
func (s *Service) Today(companyID string) *querycache.Query[DailyStats] {
	return s.DailyQuery(companyID, s.now())
}

// CashSession loads the open register of the branch with its sales and
// expenses since it opened.
func (s *Service) CashSession(ctx context.Context, branchID string) (CashSession, error) {
	register, err := kuppel.SelectOne[models.CashRegister](ctx, s.db,
		query.From(constants.TableCashRegisters).
			Eq("branch_id", branchID).
			Eq("status", models.RegisterOpen).
			Order("opened_at", query.Desc).
			Build())
	if errors.Is(err, constants.ErrNoRow) {
		return EmptyCashSession(), nil
	}
	if err != nil {
		return EmptyCashSession(), err
	}

	b := query.From(constants.TableOrders).Eq("branch_id", branchID)
	orders, err := kuppel.Select[models.Order](ctx, s.db,
		query.In(b, "status", models.SettledOrderStatuses...).
			Gte("created_at", register.OpenedAt).
			Build())
	if err != nil {
		return EmptyCashSession(), err
	}

	expenses, err := kuppel.Select[models.Expense](ctx, s.db,
		query.From(constants.TableExpenses).Eq("cash_register_id", register.ID).Build())
	if err != nil {
		return EmptyCashSession(), err
	}

	return Reconcile(*register, orders, expenses), nil
}

// CashSessionQuery caches CashSession for CashSessionStaleTime.
func (s *Service) CashSessionQuery(branchID string) *querycache.Query[CashSession] {
	key := querycache.Key(querycache.FamilyCashSession, branchID)
	return querycache.NewQuery(s.cache, key, CashSessionStaleTime, EmptyCashSession(), func(ctx context.Context) (CashSession, error) {
		return s.CashSession(ctx, branchID)
	})
}

type NewRegister struct {
	CompanyID     string
	BranchID      string
	CashierID     string
	OpeningAmount models.Money
}

func (n NewRegister) Validate() validation.Result {
	return validation.First(
		validation.Required("company", n.CompanyID),
		validation.Required("branch", n.BranchID),
		validation.Required("cashier", n.CashierID),
		validation.NonNegativeAmount("opening amount", n.OpeningAmount),
	)
}

type registerRow struct {
	CompanyID     string                `json:"company_id"`
	BranchID      string                `json:"branch_id"`
	CashierID     string                `json:"cashier_id"`
	Status        models.RegisterStatus `json:"status"`
	OpeningAmount models.Money          `json:"opening_amount"`
	OpenedAt      time.Time             `json:"opened_at"`
}

// OpenRegister opens a register for the branch and invalidates the cash
// session.
func (s *Service) OpenRegister(ctx context.Context, n NewRegister) (*models.CashRegister, error) {
	if err := n.Validate().Err(); err != nil {
		s.notifier.Notify(notify.Failure(s.catalog, notify.KeyRegisterOpenFailed, err))
		return nil, err
	}

	rows, err := kuppel.Insert[models.CashRegister](ctx, s.db, constants.TableCashRegisters, registerRow{
		CompanyID:     n.CompanyID,
		BranchID:      n.BranchID,
		CashierID:     n.CashierID,
		Status:        models.RegisterOpen,
		OpeningAmount: n.OpeningAmount,
		OpenedAt:      s.now(),
	})
	if err == nil && len(rows) == 0 {
		err = constants.InvalidResponse
	}
	if err != nil {
		s.notifier.Notify(notify.Failure(s.catalog, notify.KeyRegisterOpenFailed, err))
		return nil, err
	}

	s.invalidate(ctx, querycache.FamilyCashSession)
	return &rows[0], nil
}

// CloseRegister records the counted closing amount and invalidates the
// cash session and daily stats.
func (s *Service) CloseRegister(ctx context.Context, registerID string, closing models.Money) (*models.CashRegister, error) {
	if err := validation.First(
		validation.Required("register", registerID),
		validation.NonNegativeAmount("closing amount", closing),
	).Err(); err != nil {
		s.notifier.Notify(notify.Failure(s.catalog, notify.KeyRegisterCloseFailed, err))
		return nil, err
	}

	rows, err := kuppel.Update[models.CashRegister](ctx, s.db,
		query.From(constants.TableCashRegisters).
			Eq("id", registerID).
			Eq("status", models.RegisterOpen).
			Build(),
		map[string]any{
			"status":         models.RegisterClosed,
			"closing_amount": closing,
			"closed_at":      s.now(),
		})
	if err == nil && len(rows) == 0 {
		err = constants.ErrNoRow
	}
	if err != nil {
		s.notifier.Notify(notify.Failure(s.catalog, notify.KeyRegisterCloseFailed, err))
		return nil, err
	}

	s.invalidate(ctx, querycache.FamilyCashSession, querycache.FamilyDailyStats)
	return &rows[0], nil
}

func (s *Service) invalidate(ctx context.Context, families ...string) {
	if err := s.cache.Invalidate(ctx, families...); err != nil {
		s.logger.Warn("cache invalidation failed", "families", families, "error", err)
	}
}
