// Package votes lets users vote for upcoming features and reads the
// running tally.
package votes

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
	CountsProcedure = "get_vote_counts"
	CastProcedure   = "cast_vote"
	StaleTime       = time.Minute
	TypeMaxLength   = 50
)

// Counts maps a vote type to its number of votes.
type Counts map[string]int

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

func (s *Service) Counts(ctx context.Context) (Counts, error) {
	c, err := kuppel.Call[Counts](ctx, s.db, CountsProcedure, nil)
	if err != nil {
		return Counts{}, err
	}
	if c == nil || *c == nil {
		return Counts{}, nil
	}
	return *c, nil
}

// CountsQuery caches Counts for StaleTime.
func (s *Service) CountsQuery() *querycache.Query[Counts] {
	return querycache.NewQuery(s.cache, querycache.FamilyVotes, StaleTime, Counts{}, s.Counts)
}

// Cast records the current user's vote. The procedure decides what a
// repeated vote means.
func (s *Service) Cast(ctx context.Context, voteType string) error {
	if err := validation.First(
		validation.Required("vote type", voteType),
		validation.MaxLength("vote type", voteType, TypeMaxLength),
	).Err(); err != nil {
		s.notifier.Notify(notify.Failure(s.catalog, notify.KeyVoteFailed, err))
		return err
	}

	if _, err := kuppel.Call[any](ctx, s.db, CastProcedure, map[string]any{"vote_type": voteType}); err != nil {
		s.notifier.Notify(notify.Failure(s.catalog, notify.KeyVoteFailed, err))
		return err
	}

	if err := s.cache.Invalidate(ctx, querycache.FamilyVotes); err != nil {
		s.logger.Warn("cache invalidation failed", "error", err)
	}
	return nil
}

// Mine returns the user's latest vote, or nil when they have not voted.
func (s *Service) Mine(ctx context.Context, userID string) (*models.Vote, error) {
	v, err := kuppel.SelectOne[models.Vote](ctx, s.db,
		query.From(constants.TableVotes).
			Eq("user_id", userID).
			Order("created_at", query.Desc).
			Build())
	if errors.Is(err, constants.ErrNoRow) {
		return nil, nil
	}
	return v, err
}
