package stats

import (
	"sort"
	"time"

	"github.com/kuppel/kuppel.go/pkg/models"
)

// TopProductsLimit is the length of DailyStats.TopProducts.
const TopProductsLimit = 5

type HourBucket struct {
	Hour         int          `json:"hour"`
	Sales        models.Money `json:"sales"`
	Transactions int          `json:"transactions"`
}

type PaymentMethodTotal struct {
	Method models.PaymentMethod `json:"method"`
	Total  models.Money         `json:"total"`
	Count  int                  `json:"count"`
}

type ProductTotal struct {
	ProductID string       `json:"product_id"`
	Name      string       `json:"name"`
	Quantity  int          `json:"quantity"`
	Total     models.Money `json:"total"`
}

// DailyStats summarizes the settled orders of one local day.
type DailyStats struct {
	Day               string               `json:"day"`
	TotalSales        models.Money         `json:"total_sales"`
	TotalTransactions int                  `json:"total_transactions"`
	AverageTicket     models.Money         `json:"average_ticket"`
	UniqueCustomers   int                  `json:"unique_customers"`
	Hourly            [24]HourBucket       `json:"hourly"`
	PaymentMethods    []PaymentMethodTotal `json:"payment_methods"`
	TopProducts       []ProductTotal       `json:"top_products"`
}

// EmptyDailyStats is the placeholder for a day without orders: every
// number zero, 24 zero buckets and empty lists.
func EmptyDailyStats(day time.Time) DailyStats {
	s := DailyStats{
		Day:            day.Format(time.DateOnly),
		PaymentMethods: []PaymentMethodTotal{},
		TopProducts:    []ProductTotal{},
	}
	for h := range s.Hourly {
		s.Hourly[h].Hour = h
	}
	return s
}

// Aggregate reduces the orders of a day. Hours are taken in loc.
func Aggregate(day time.Time, orders []models.Order, loc *time.Location) DailyStats {
	s := EmptyDailyStats(day)
	if len(orders) == 0 {
		return s
	}

	customers := map[string]struct{}{}
	methods := map[models.PaymentMethod]*PaymentMethodTotal{}
	products := map[string]*ProductTotal{}

	for _, o := range orders {
		s.TotalSales += o.Total
		s.TotalTransactions++

		h := o.CreatedAt.In(loc).Hour()
		s.Hourly[h].Sales += o.Total
		s.Hourly[h].Transactions++

		if o.CustomerID != nil && *o.CustomerID != "" {
			customers[*o.CustomerID] = struct{}{}
		}

		method := o.PaymentMethod
		if method == "" {
			method = models.PaymentOther
		}
		pm, ok := methods[method]
		if !ok {
			pm = &PaymentMethodTotal{Method: method}
			methods[method] = pm
		}
		pm.Total += o.Total
		pm.Count++

		for _, it := range o.Items {
			key := it.ProductID
			if key == "" {
				key = it.ProductName
			}
			p, ok := products[key]
			if !ok {
				p = &ProductTotal{ProductID: it.ProductID, Name: it.ProductName}
				products[key] = p
			}
			p.Quantity += it.Quantity
			p.Total += it.Total
		}
	}

	s.AverageTicket = s.TotalSales.DivRound(s.TotalTransactions)
	s.UniqueCustomers = len(customers)

	for _, pm := range methods {
		s.PaymentMethods = append(s.PaymentMethods, *pm)
	}
	sort.Slice(s.PaymentMethods, func(i, j int) bool {
		return s.PaymentMethods[i].Method < s.PaymentMethods[j].Method
	})

	for _, p := range products {
		s.TopProducts = append(s.TopProducts, *p)
	}
	sort.Slice(s.TopProducts, func(i, j int) bool {
		a, b := s.TopProducts[i], s.TopProducts[j]
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		return a.Name < b.Name
	})
	if len(s.TopProducts) > TopProductsLimit {
		s.TopProducts = s.TopProducts[:TopProductsLimit]
	}

	return s
}
