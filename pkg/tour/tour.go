// Package tour tracks whether a user finished the onboarding walkthrough.
package tour

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
)

const StaleTime = 5 * time.Minute

type Service struct {
	db       *kuppel.DB
	cache    *querycache.Cache
	notifier notify.Notifier
	catalog  notify.Catalog
	logger   logger.Logger
}

type Option func(s *Service)

func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(db *kuppel.DB, cache *querycache.Cache, n notify.Notifier, c notify.Catalog, opts ...Option) *Service {
	if n == nil {
		n = notify.Discard
	}
	s := &Service{db: db, cache: cache, notifier: n, catalog: c, logger: logger.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Status reports whether the user completed the tour. Unknown users have
// not.
func (s *Service) Status(ctx context.Context, userID string) (bool, error) {
	users, err := kuppel.Select[models.User](ctx, s.db,
		query.From(constants.TableUsers).Select("id, tour_completed").Eq("id", userID).Limit(1).Build())
	if err != nil || len(users) == 0 {
		return false, err
	}
	return users[0].TourCompleted, nil
}

func (s *Service) StatusQuery(userID string) *querycache.Query[bool] {
	return querycache.NewQuery(s.cache, querycache.Key(querycache.FamilyTour, userID), StaleTime, false, func(ctx context.Context) (bool, error) {
		return s.Status(ctx, userID)
	})
}

// Complete marks the tour as done for the user.
func (s *Service) Complete(ctx context.Context, userID string) error {
	rows, err := kuppel.Update[models.User](ctx, s.db,
		query.From(constants.TableUsers).Eq("id", userID).Build(),
		map[string]any{"tour_completed": true})
	if err == nil && len(rows) == 0 {
		err = constants.ErrNoRow
	}
	if err != nil {
		s.notifier.Notify(notify.Failure(s.catalog, notify.KeyTourFailed, err))
		return err
	}
	if err := s.cache.Invalidate(ctx, querycache.FamilyTour); err != nil {
		s.logger.Warn("cache invalidation failed", "families", []string{querycache.FamilyTour}, "error", err)
	}
	return nil
}
