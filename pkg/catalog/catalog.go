// Package catalog manages the product variant types of a company (sizes,
// milk options and the like).
package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/kuppel/kuppel.go"
	"github.com/kuppel/kuppel.go/pkg/constants"
	"github.com/kuppel/kuppel.go/pkg/models"
	"github.com/kuppel/kuppel.go/pkg/notify"
	"github.com/kuppel/kuppel.go/pkg/query"
	"github.com/kuppel/kuppel.go/pkg/querycache"
	"github.com/kuppel/kuppel.go/pkg/validation"
)

const (
	NameMaxLength = 60
	StaleTime     = 5 * time.Minute
)

type NewVariantType struct {
	CompanyID string
	Name      string
	Options   []string
}

// normalized trims the name and options and drops empty or repeated
// options, keeping their order.
func (n NewVariantType) normalized() NewVariantType {
	out := NewVariantType{CompanyID: n.CompanyID, Name: strings.TrimSpace(n.Name), Options: []string{}}
	seen := map[string]bool{}
	for _, o := range n.Options {
		o = strings.TrimSpace(o)
		key := strings.ToLower(o)
		if o == "" || seen[key] {
			continue
		}
		seen[key] = true
		out.Options = append(out.Options, o)
	}
	return out
}

func (n NewVariantType) Validate() validation.Result {
	n = n.normalized()
	r := validation.First(
		validation.Required("company", n.CompanyID),
		validation.Required("name", n.Name),
		validation.MaxLength("name", n.Name, NameMaxLength),
	)
	if r.IsValid && len(n.Options) == 0 {
		return validation.Invalid("at least one option is required")
	}
	return r
}

type variantTypeRow struct {
	CompanyID string   `json:"company_id"`
	Name      string   `json:"name"`
	Options   []string `json:"options"`
}

type Service struct {
	db       *kuppel.DB
	cache    *querycache.Cache
	notifier notify.Notifier
	catalog  notify.Catalog
}

func NewService(db *kuppel.DB, cache *querycache.Cache, n notify.Notifier, c notify.Catalog) *Service {
	if n == nil {
		n = notify.Discard
	}
	return &Service{db: db, cache: cache, notifier: n, catalog: c}
}

func (s *Service) VariantTypes(ctx context.Context, companyID string) ([]models.VariantType, error) {
	return kuppel.Select[models.VariantType](ctx, s.db,
		query.From(constants.TableVariantTypes).
			Eq("company_id", companyID).
			Order("name", query.Asc).
			Build())
}

func (s *Service) VariantTypesQuery(companyID string) *querycache.Query[[]models.VariantType] {
	key := querycache.Key(querycache.FamilyVariantTypes, companyID)
	return querycache.NewQuery(s.cache, key, StaleTime, []models.VariantType{}, func(ctx context.Context) ([]models.VariantType, error) {
		return s.VariantTypes(ctx, companyID)
	})
}

func (s *Service) CreateVariantType(ctx context.Context, n NewVariantType) (*models.VariantType, error) {
	if err := n.Validate().Err(); err != nil {
		s.notifier.Notify(notify.Failure(s.catalog, notify.KeyVariantCreateFailed, err))
		return nil, err
	}
	n = n.normalized()

	rows, err := kuppel.Insert[models.VariantType](ctx, s.db, constants.TableVariantTypes,
		variantTypeRow{CompanyID: n.CompanyID, Name: n.Name, Options: n.Options})
	if err == nil && len(rows) == 0 {
		err = constants.InvalidResponse
	}
	if err != nil {
		s.notifier.Notify(notify.Failure(s.catalog, notify.KeyVariantCreateFailed, err))
		return nil, err
	}

	if err := s.cache.Invalidate(ctx, querycache.FamilyVariantTypes); err != nil {
		return &rows[0], err
	}
	return &rows[0], nil
}
