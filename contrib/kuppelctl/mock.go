package kuppelctl

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kuppel/kuppel.go/internal/fakebackend"
	"github.com/kuppel/kuppel.go/pkg/connection"
	"github.com/kuppel/kuppel.go/pkg/constants"
	"github.com/kuppel/kuppel.go/pkg/invoice"
	"github.com/kuppel/kuppel.go/pkg/limits"
	"github.com/kuppel/kuppel.go/pkg/votes"
)

const (
	DemoCompany  = "demo-company"
	DemoBranch   = "demo-branch"
	DemoRegister = "demo-register"
	DemoEmail    = "cajero@kuppel.demo"
	DemoPassword = "demo1234"
)

type demoItem struct {
	name     string
	price    float64
	quantity int
}

type demoOrder struct {
	id       string
	status   string
	method   string
	customer string
	at       time.Duration
	items    []demoItem
}

var demoOrders = []demoOrder{
	{"o-1001", "paid", "cash", "cu-1", 8*time.Hour + 5*time.Minute, []demoItem{{"Tinto", 2500, 2}, {"Pandebono", 3000, 2}}},
	{"o-1002", "completed", "card", "", 9*time.Hour + 40*time.Minute, []demoItem{{"Capuchino", 6500, 2}}},
	{"o-1003", "paid", "nequi", "cu-2", 12*time.Hour + 15*time.Minute, []demoItem{{"Almuerzo ejecutivo", 18000, 2}, {"Jugo natural", 7000, 2}}},
	{"o-1004", "paid", "cash", "cu-1", 13*time.Hour + 30*time.Minute, []demoItem{{"Almuerzo ejecutivo", 18000, 1}, {"Tinto", 2500, 1}}},
	{"o-1005", "pending", "cash", "", 14*time.Hour + 10*time.Minute, []demoItem{{"Capuchino", 6500, 1}}},
	{"o-1006", "paid", "transfer", "", 16*time.Hour + 45*time.Minute, []demoItem{{"Pandebono", 3000, 3}, {"Capuchino", 6500, 1}}},
}

// startMock runs a fake backend holding one demo day: orders, an open
// register with an expense, tables, the limit and vote procedures and the
// invoicing function.
func startMock(day time.Time) (*fakebackend.Server, error) {
	s := fakebackend.NewServer("127.0.0.1:0")
	seedDemo(s, day)

	if err := s.Start(); err != nil {
		return nil, err
	}
	if err := s.StartFunctions(); err != nil {
		_ = s.Stop()
		return nil, err
	}
	return s, nil
}

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func seedDemo(s *fakebackend.Server, now time.Time) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	s.AddUser(fakebackend.User{
		ID:       "demo-user",
		Email:    DemoEmail,
		Password: DemoPassword,
		Claims:   map[string]any{"role": "cashier", "company_id": DemoCompany},
	})
	s.Seed(constants.TableUsers, map[string]any{"id": "demo-user", "email": DemoEmail, "tour_completed": false})
	s.Seed(constants.TableCompanies, map[string]any{"id": DemoCompany, "name": "Café La Kuppel", "nit": "900123456-7"})

	products := map[string]string{}
	for _, o := range demoOrders {
		total := 0.0
		for i, it := range o.items {
			pid, ok := products[it.name]
			if !ok {
				pid = fmt.Sprintf("p-%d", len(products)+1)
				products[it.name] = pid
			}
			line := it.price * float64(it.quantity)
			total += line
			s.Seed(constants.TableOrderItems, map[string]any{
				"id":           fmt.Sprintf("%s-%d", o.id, i+1),
				"order_id":     o.id,
				"product_id":   pid,
				"product_name": it.name,
				"quantity":     it.quantity,
				"unit_price":   it.price,
				"total":        line,
			})
		}
		row := map[string]any{
			"id":               o.id,
			"company_id":       DemoCompany,
			"branch_id":        DemoBranch,
			"cash_register_id": DemoRegister,
			"status":           o.status,
			"payment_method":   o.method,
			"total":            total,
			"created_at":       stamp(day.Add(o.at)),
		}
		if o.customer != "" {
			row["customer_id"] = o.customer
		}
		s.Seed(constants.TableOrders, row)
	}

	s.Seed(constants.TableCashRegisters, map[string]any{
		"id":             DemoRegister,
		"company_id":     DemoCompany,
		"branch_id":      DemoBranch,
		"cashier_id":     "demo-user",
		"status":         "open",
		"opening_amount": 200000.0,
		"opened_at":      stamp(day.Add(7 * time.Hour)),
	})
	s.Seed(constants.TableExpenses, map[string]any{
		"id":               "e-1",
		"company_id":       DemoCompany,
		"branch_id":        DemoBranch,
		"cash_register_id": DemoRegister,
		"category":         "supplies",
		"description":      "Hielo y servilletas",
		"amount":           12000.0,
		"created_at":       stamp(day.Add(10 * time.Hour)),
	})

	for i, status := range []string{"available", "occupied", "reserved", "cleaning"} {
		s.Seed(constants.TableTables, map[string]any{
			"id":        fmt.Sprintf("t-%d", i+1),
			"branch_id": DemoBranch,
			"number":    i + 1,
			"capacity":  4,
			"status":    status,
		})
	}

	s.HandleRPC(limits.Procedure, func(map[string]any) (any, *connection.RPCError) {
		return map[string]any{
			"users":     map[string]any{"status": "near_limit", "used": 4, "limit": 5, "percentage": 80.0},
			"branches":  map[string]any{"status": "ok", "used": 1, "limit": 3, "percentage": 33.33},
			"documents": map[string]any{"status": "no_limit", "used": 152, "limit": nil, "percentage": nil},
		}, nil
	})

	tally := &voteTally{counts: map[string]int{"inventory": 12, "delivery": 7, "kitchen-display": 4}}
	s.HandleRPC(votes.CountsProcedure, tally.snapshot)
	s.HandleRPC(votes.CastProcedure, tally.cast)

	s.HandleFunction(invoice.Function, demoInvoice)
}

type voteTally struct {
	mu     sync.Mutex
	counts map[string]int
}

func (v *voteTally) snapshot(map[string]any) (any, *connection.RPCError) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]any, len(v.counts))
	for k, n := range v.counts {
		out[k] = n
	}
	return out, nil
}

func (v *voteTally) cast(args map[string]any) (any, *connection.RPCError) {
	vt, _ := args["vote_type"].(string)
	if vt == "" {
		return nil, &connection.RPCError{Code: 400, Message: "vote_type is required"}
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.counts[vt]++
	return map[string]any{"vote_type": vt, "count": v.counts[vt]}, nil
}

func demoInvoice(req fakebackend.FunctionRequest) (int, any) {
	id, _ := req.Body["invoice_id"].(string)
	if id == "" {
		return http.StatusBadRequest, map[string]any{"error": "invoice_id is required"}
	}
	if strings.HasPrefix(id, "reject") {
		return http.StatusOK, map[string]any{
			"success": false,
			"message": "El NIT del adquiriente no es válido",
		}
	}
	return http.StatusOK, map[string]any{
		"success": true,
		"message": "Factura validada por la DIAN",
		"uuid":    "uuid-" + id,
		"cufe":    "cufe-" + id,
		"pdf_url": "https://files.kuppel.demo/" + id + ".pdf",
		"xml_url": "https://files.kuppel.demo/" + id + ".xml",
	}
}

// simulate pushes a short burst of changes for the watch command.
func simulate(s *fakebackend.Server, now time.Time) {
	s.Push(constants.TableOrders, connection.InsertAction, map[string]any{
		"id":             "o-2001",
		"company_id":     DemoCompany,
		"branch_id":      DemoBranch,
		"status":         "pending",
		"payment_method": "cash",
		"total":          9000.0,
		"created_at":     stamp(now),
	}, nil)
	s.Push(constants.TableTables, connection.UpdateAction,
		map[string]any{"id": "t-1", "number": 1, "status": "occupied"},
		map[string]any{"id": "t-1", "number": 1, "status": "available"})
	s.Push(constants.TableTables, connection.UpdateAction,
		map[string]any{"id": "t-2", "number": 2, "status": "occupied", "capacity": 6},
		map[string]any{"id": "t-2", "number": 2, "status": "occupied", "capacity": 4})
	s.Push(constants.TableTables, connection.InsertAction,
		map[string]any{"id": "t-5", "number": 5, "status": "available"}, nil)
}
