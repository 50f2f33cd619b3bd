package kuppelctl

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/kuppel/kuppel.go/pkg/invoice"
	"github.com/kuppel/kuppel.go/pkg/limits"
	"github.com/kuppel/kuppel.go/pkg/realtime"
	"github.com/kuppel/kuppel.go/pkg/settings"
	"github.com/kuppel/kuppel.go/pkg/stats"
	"github.com/kuppel/kuppel.go/pkg/votes"
	"github.com/spf13/cobra"
)

func newWatchCommand(r *runner) *cobra.Command {
	var count int
	var simulateChanges bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print new orders and table status changes as they happen",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many events (0 runs until interrupted)")
	cmd.Flags().BoolVar(&simulateChanges, "simulate", true, "in mock mode, push a few demo changes")

	cmd.RunE = r.with(func(ctx context.Context, a *App, out Output, cmd *cobra.Command, args []string) error {
		w := realtime.New(a.DB, realtime.WithLogger(a.Logger))
		if err := w.Enable(ctx); err != nil {
			return err
		}
		defer func() {
			if err := w.Close(context.Background()); err != nil {
				a.Logger.Warn("failed to release realtime channels", "error", err)
			}
		}()

		if mock := a.Mock(); mock != nil && simulateChanges {
			go simulate(mock, a.Now())
		}

		seen := 0
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-w.Events():
				if !ok {
					return nil
				}
				v := viewEvent(e)
				if err := out.Print(v, func(w io.Writer) { renderEvent(w, v) }); err != nil {
					return err
				}
				seen++
				if count > 0 && seen >= count {
					return nil
				}
			}
		}
	})
	return cmd
}

func statsService(a *App) *stats.Service {
	return stats.NewService(a.DB, a.Cache,
		stats.WithLocation(a.Config.Location()),
		stats.WithNotifier(a.Notifier, a.Catalog),
		stats.WithLogger(a.Logger),
		stats.WithClock(a.Now))
}

func newStatsCommand(r *runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Dashboard figures",
	}

	var date string
	daily := &cobra.Command{
		Use:   "daily",
		Short: "Sales summary of one day",
		Args:  cobra.NoArgs,
	}
	daily.Flags().StringVar(&date, "date", "", "day as YYYY-MM-DD (defaults to today)")
	daily.RunE = r.with(func(ctx context.Context, a *App, out Output, cmd *cobra.Command, args []string) error {
		company, err := a.company(r.opts.company)
		if err != nil {
			return &ExitError{Code: ExitCommandError, Message: "stats daily", Err: err}
		}
		day := a.Now()
		if date != "" {
			day, err = time.ParseInLocation(time.DateOnly, date, a.Config.Location())
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "invalid --date", Err: err}
			}
		}

		snap := statsService(a).DailyQuery(company, day).Fetch(ctx)
		if err := out.Print(snap.Data, func(w io.Writer) { renderDaily(w, snap.Data) }); err != nil {
			return err
		}
		if snap.Err != nil {
			return &ExitError{Code: ExitFailure, Message: "daily stats unavailable", Err: snap.Err}
		}
		return nil
	})

	cash := &cobra.Command{
		Use:   "cash",
		Short: "Running cash session of the open register",
		Args:  cobra.NoArgs,
	}
	cash.RunE = r.with(func(ctx context.Context, a *App, out Output, cmd *cobra.Command, args []string) error {
		branch, err := a.branch(r.opts.branch)
		if err != nil {
			return &ExitError{Code: ExitCommandError, Message: "stats cash", Err: err}
		}
		snap := statsService(a).CashSessionQuery(branch).Fetch(ctx)
		if err := out.Print(snap.Data, func(w io.Writer) { renderCash(w, snap.Data) }); err != nil {
			return err
		}
		if snap.Err != nil {
			return &ExitError{Code: ExitFailure, Message: "cash session unavailable", Err: snap.Err}
		}
		return nil
	})

	cmd.AddCommand(daily, cash)
	return cmd
}

func newLimitsCommand(r *runner) *cobra.Command {
	var dimension string
	cmd := &cobra.Command{
		Use:   "limits",
		Short: "Plan usage of the company",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().StringVar(&dimension, "dimension", "", "only show users, branches or documents")

	cmd.RunE = r.with(func(ctx context.Context, a *App, out Output, cmd *cobra.Command, args []string) error {
		company, err := a.company(r.opts.company)
		if err != nil {
			return &ExitError{Code: ExitCommandError, Message: "limits", Err: err}
		}
		l, err := limits.NewGate(a.DB, a.Cache).Check(ctx, company)
		if err != nil {
			return err
		}
		if dimension == "" {
			return out.Print(l, func(w io.Writer) { renderLimits(w, l, "") })
		}
		d := l.Dimension(dimension)
		if d == nil {
			return &ExitError{Code: ExitCommandError, Message: fmt.Sprintf("unknown dimension %q", dimension)}
		}
		return out.Print(d, func(w io.Writer) { renderLimits(w, l, dimension) })
	})
	return cmd
}

func newInvoiceCommand(r *runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoice",
		Short: "Electronic invoicing",
	}

	var sendEmail bool
	process := &cobra.Command{
		Use:   "process <invoice-id>",
		Short: "Submit an invoice to the invoicing authority",
		Args:  cobra.ExactArgs(1),
	}
	process.Flags().BoolVar(&sendEmail, "send-email", false, "email the document to the customer")
	process.RunE = r.with(func(ctx context.Context, a *App, out Output, cmd *cobra.Command, args []string) error {
		p := invoice.NewProcessor(a.DB, invoice.WithNotifier(a.Notifier, a.Catalog), invoice.WithLogger(a.Logger))
		res, err := p.Process(ctx, args[0], sendEmail)
		if res != nil {
			if perr := out.Print(res, func(w io.Writer) { renderInvoice(w, args[0], res) }); perr != nil {
				return perr
			}
		}
		if err != nil {
			return &ExitError{Code: ExitFailure, Message: "invoice not processed", Err: err}
		}
		return nil
	})

	cmd.AddCommand(process)
	return cmd
}

func newSettingsCommand(r *runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Local terminal preferences",
	}

	get := &cobra.Command{
		Use:       "get [key]",
		Short:     "Print one setting, or all of them",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: settings.Keys,
	}
	get.RunE = r.with(func(ctx context.Context, a *App, out Output, cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			snap := a.Settings.Snapshot()
			return out.Print(snap, func(w io.Writer) {
				for _, k := range settings.Keys {
					raw, _ := a.Settings.Raw(k)
					fmt.Fprintf(w, "%s = %s\n", k, raw)
				}
			})
		}
		raw, err := a.Settings.Raw(args[0])
		if err != nil {
			return &ExitError{Code: ExitCommandError, Message: "settings get", Err: err}
		}
		return out.Print(rawJSON(raw), func(w io.Writer) { fmt.Fprintf(w, "%s\n", raw) })
	})

	set := &cobra.Command{
		Use:   "set <key> <json>",
		Short: "Save a setting; layout blobs may be partial",
		Args:  cobra.ExactArgs(2),
	}
	set.RunE = r.with(func(ctx context.Context, a *App, out Output, cmd *cobra.Command, args []string) error {
		if err := a.Settings.SetRaw(ctx, args[0], []byte(args[1])); err != nil {
			return &ExitError{Code: ExitCommandError, Message: "settings set", Err: err}
		}
		raw, err := a.Settings.Raw(args[0])
		if err != nil {
			return err
		}
		return out.Print(rawJSON(raw), func(w io.Writer) { fmt.Fprintf(w, "%s = %s\n", args[0], raw) })
	})

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Forget every setting",
		Args:  cobra.NoArgs,
	}
	reset.RunE = r.with(func(ctx context.Context, a *App, out Output, cmd *cobra.Command, args []string) error {
		if err := a.Settings.Reset(ctx); err != nil {
			return err
		}
		return out.Print(a.Settings.Snapshot(), func(w io.Writer) { fmt.Fprintln(w, "settings reset") })
	})

	cmd.AddCommand(get, set, reset)
	return cmd
}

func newVotesCommand(r *runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "votes",
		Short: "Feature vote tally",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = r.with(func(ctx context.Context, a *App, out Output, cmd *cobra.Command, args []string) error {
		svc := votes.NewService(a.DB, a.Cache, votes.WithNotifier(a.Notifier, a.Catalog), votes.WithLogger(a.Logger))
		snap := svc.CountsQuery().Fetch(ctx)
		if err := out.Print(snap.Data, func(w io.Writer) { renderVotes(w, snap.Data) }); err != nil {
			return err
		}
		if snap.Err != nil {
			return &ExitError{Code: ExitFailure, Message: "votes unavailable", Err: snap.Err}
		}
		return nil
	})

	cast := &cobra.Command{
		Use:   "cast <vote-type>",
		Short: "Vote for a feature",
		Args:  cobra.ExactArgs(1),
	}
	cast.RunE = r.with(func(ctx context.Context, a *App, out Output, cmd *cobra.Command, args []string) error {
		svc := votes.NewService(a.DB, a.Cache, votes.WithNotifier(a.Notifier, a.Catalog), votes.WithLogger(a.Logger))
		if err := svc.Cast(ctx, args[0]); err != nil {
			return &ExitError{Code: ExitFailure, Message: "vote not recorded", Err: err}
		}
		snap := svc.CountsQuery().Fetch(ctx)
		return out.Print(snap.Data, func(w io.Writer) { renderVotes(w, snap.Data) })
	})

	cmd.AddCommand(cast)
	return cmd
}

// rawJSON embeds already encoded JSON in the output envelope.
type rawJSON []byte

func (r rawJSON) MarshalJSON() ([]byte, error) { return r, nil }
