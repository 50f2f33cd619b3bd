package kuppelctl

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/kuppel/kuppel.go/pkg/invoice"
	"github.com/kuppel/kuppel.go/pkg/limits"
	"github.com/kuppel/kuppel.go/pkg/realtime"
	"github.com/kuppel/kuppel.go/pkg/stats"
	"github.com/kuppel/kuppel.go/pkg/votes"
)

func table(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func renderDaily(w io.Writer, s stats.DailyStats) {
	fmt.Fprintf(w, "Daily stats %s\n", s.Day)
	tw := table(w)
	fmt.Fprintf(tw, "  total sales\t%s\n", s.TotalSales)
	fmt.Fprintf(tw, "  transactions\t%d\n", s.TotalTransactions)
	fmt.Fprintf(tw, "  average ticket\t%s\n", s.AverageTicket)
	fmt.Fprintf(tw, "  unique customers\t%d\n", s.UniqueCustomers)
	tw.Flush()

	if len(s.PaymentMethods) > 0 {
		fmt.Fprintln(w, "\nPayment methods")
		tw = table(w)
		for _, pm := range s.PaymentMethods {
			fmt.Fprintf(tw, "  %s\t%s\t%d orders\n", pm.Method, pm.Total, pm.Count)
		}
		tw.Flush()
	}

	if len(s.TopProducts) > 0 {
		fmt.Fprintln(w, "\nTop products")
		tw = table(w)
		for i, p := range s.TopProducts {
			fmt.Fprintf(tw, "  %d. %s\t%d\t%s\n", i+1, p.Name, p.Quantity, p.Total)
		}
		tw.Flush()
	}

	fmt.Fprintln(w, "\nBy hour")
	tw = table(w)
	empty := true
	for _, h := range s.Hourly {
		if h.Transactions == 0 {
			continue
		}
		empty = false
		fmt.Fprintf(tw, "  %02d:00\t%s\t%d\n", h.Hour, h.Sales, h.Transactions)
	}
	if empty {
		fmt.Fprintln(tw, "  no sales")
	}
	tw.Flush()
}

func renderCash(w io.Writer, s stats.CashSession) {
	if s.Register == nil {
		fmt.Fprintln(w, "No open register")
		return
	}
	r := s.Register
	fmt.Fprintf(w, "Register %s (%s)\n", r.ID, r.Status)
	tw := table(w)
	fmt.Fprintf(tw, "  opened\t%s\n", r.OpenedAt.UTC().Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(tw, "  opening amount\t%s\n", r.OpeningAmount)
	fmt.Fprintf(tw, "  orders\t%d\n", s.OrderCount)
	fmt.Fprintf(tw, "  sales\t%s\n", s.SalesTotal)
	for _, pm := range s.SalesByMethod {
		fmt.Fprintf(tw, "    %s\t%s\n", pm.Method, pm.Total)
	}
	fmt.Fprintf(tw, "  expenses\t%s\n", s.ExpensesTotal)
	fmt.Fprintf(tw, "  expected cash\t%s\n", s.ExpectedCash)
	tw.Flush()
}

func renderLimits(w io.Writer, l *limits.Limits, only string) {
	tw := table(w)
	fmt.Fprintln(tw, "DIMENSION\tSTATUS\tUSED\tLIMIT\tUSAGE")
	for _, key := range []string{limits.Users, limits.Branches, limits.Documents} {
		if only != "" && key != only {
			continue
		}
		d := l.Dimension(key)
		limit, usage := "-", "-"
		if d.Limit != nil {
			limit = fmt.Sprint(*d.Limit)
		}
		if d.Percentage != nil {
			usage = fmt.Sprintf("%.1f%%", *d.Percentage)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", key, d.Status, d.Used, limit, usage)
	}
	tw.Flush()
}

func renderInvoice(w io.Writer, id string, r *invoice.Result) {
	if !r.Success {
		fmt.Fprintf(w, "Invoice %s rejected: %s\n", id, r.Message)
		return
	}
	fmt.Fprintf(w, "Invoice %s processed: %s\n", id, r.Message)
	tw := table(w)
	fmt.Fprintf(tw, "  uuid\t%s\n", r.UUID)
	fmt.Fprintf(tw, "  cufe\t%s\n", r.CUFE)
	fmt.Fprintf(tw, "  pdf\t%s\n", r.PDFURL)
	fmt.Fprintf(tw, "  xml\t%s\n", r.XMLURL)
	tw.Flush()
}

func renderVotes(w io.Writer, c votes.Counts) {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if c[keys[i]] != c[keys[j]] {
			return c[keys[i]] > c[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) == 0 {
		fmt.Fprintln(w, "No votes yet")
		return
	}
	tw := table(w)
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%d\n", k, c[k])
	}
	tw.Flush()
}

// eventView is the JSON shape of a realtime event.
type eventView struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Status   string `json:"status,omitempty"`
	Previous string `json:"previous,omitempty"`
	Total    string `json:"total,omitempty"`
}

func viewEvent(e realtime.Event) eventView {
	var v eventView
	realtime.Handlers{
		OrderInserted: func(e realtime.OrderInserted) {
			v = eventView{Type: "order_inserted", ID: e.Order.ID, Status: string(e.Order.Status), Total: e.Order.Total.String()}
		},
		TableStatusChanged: func(e realtime.TableStatusChanged) {
			v = eventView{Type: "table_status_changed", ID: e.Table.ID, Status: string(e.Table.Status), Previous: string(e.Previous)}
		},
		TableCreated: func(e realtime.TableCreated) {
			v = eventView{Type: "table_created", ID: e.Table.ID, Status: string(e.Table.Status)}
		},
	}.Dispatch(e)
	return v
}

func renderEvent(w io.Writer, v eventView) {
	switch v.Type {
	case "order_inserted":
		fmt.Fprintf(w, "order %s inserted (%s, total %s)\n", v.ID, v.Status, v.Total)
	case "table_status_changed":
		prev := v.Previous
		if prev == "" {
			prev = "?"
		}
		fmt.Fprintf(w, "table %s: %s -> %s\n", v.ID, prev, v.Status)
	case "table_created":
		fmt.Fprintf(w, "table %s created (%s)\n", v.ID, v.Status)
	}
}
