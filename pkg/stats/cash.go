package stats

import (
	"sort"

	"github.com/kuppel/kuppel.go/pkg/models"
)

// CashSession is the running state of the open register of a branch.
type CashSession struct {
	Register      *models.CashRegister `json:"register"`
	SalesTotal    models.Money         `json:"sales_total"`
	SalesByMethod []PaymentMethodTotal `json:"sales_by_method"`
	ExpensesTotal models.Money         `json:"expenses_total"`
	OrderCount    int                  `json:"order_count"`
	ExpectedCash  models.Money         `json:"expected_cash"`
}

// EmptyCashSession is the placeholder when no register is open.
func EmptyCashSession() CashSession {
	return CashSession{SalesByMethod: []PaymentMethodTotal{}}
}

// Reconcile computes the session totals. Only cash sales add to the
// drawer: ExpectedCash = opening amount + cash sales - expenses.
func Reconcile(register models.CashRegister, orders []models.Order, expenses []models.Expense) CashSession {
	s := EmptyCashSession()
	s.Register = &register

	methods := map[models.PaymentMethod]*PaymentMethodTotal{}
	var order []models.PaymentMethod
	var cash models.Money
	for _, o := range orders {
		s.SalesTotal += o.Total
		s.OrderCount++

		method := o.PaymentMethod
		if method == "" {
			method = models.PaymentOther
		}
		if method == models.PaymentCash {
			cash += o.Total
		}
		pm, ok := methods[method]
		if !ok {
			pm = &PaymentMethodTotal{Method: method}
			methods[method] = pm
			order = append(order, method)
		}
		pm.Total += o.Total
		pm.Count++
	}
	for _, e := range expenses {
		s.ExpensesTotal += e.Amount
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	for _, m := range order {
		s.SalesByMethod = append(s.SalesByMethod, *methods[m])
	}

	s.ExpectedCash = register.OpeningAmount + cash - s.ExpensesTotal
	return s
}
