// Package kuppelctl is the operator CLI of the kuppel SDK: it watches the
// realtime channels, prints the dashboard figures and drives invoicing
// and local settings from a terminal.
package kuppelctl

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/kuppel/kuppel.go"
	"github.com/kuppel/kuppel.go/pkg/config"
	"github.com/kuppel/kuppel.go/pkg/monitoring"
	"github.com/kuppel/kuppel.go/pkg/notify"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	format     string
	configFile string
	company    string
	branch     string
	email      string
	password   string
}

// runner builds the App for one command and tears it down afterwards.
type runner struct {
	env  Env
	opts *rootOptions
	app  *App
}

func (r *runner) output() Output {
	return Output{Format: r.opts.format, Writer: r.env.Out}
}

func (r *runner) monitor() *monitoring.Monitor {
	if r.app == nil {
		return nil
	}
	return r.app.Monitor
}

func (r *runner) catalog() notify.Catalog {
	if r.app == nil {
		return notify.NewCatalog(notify.DefaultLocale)
	}
	return r.app.Catalog
}

func (r *runner) loadConfig() (config.Config, error) {
	if r.env.Config != nil {
		return r.env.Config()
	}
	opts := []config.Option{config.WithEnvFiles(".env")}
	if r.opts.configFile != "" {
		opts = append(opts, config.WithYAML(r.opts.configFile))
	}
	return config.Load(opts...)
}

// with wraps a command body: config, app, panic guard and cleanup.
func (r *runner) with(body func(ctx context.Context, a *App, out Output, cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return guard(r.monitor, r.catalog, r.output, func(cmd *cobra.Command, args []string) error {
		cfg, err := r.loadConfig()
		if err != nil {
			return &ExitError{Code: ExitCommandError, Message: "invalid configuration", Err: err}
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		app, err := open(ctx, r.env, cfg, kuppel.Auth{Email: r.opts.email, Password: r.opts.password})
		if err != nil {
			return &ExitError{Code: ExitFailure, Message: "startup failed", Err: err}
		}
		r.app = app
		defer app.Close(context.Background())

		return body(ctx, app, r.output(), cmd, args)
	})
}

// NewRootCommand builds the kuppelctl command tree.
func NewRootCommand(env Env) *cobra.Command {
	if env.Out == nil {
		env.Out = os.Stdout
	}
	if env.Err == nil {
		env.Err = os.Stderr
	}
	opts := &rootOptions{}
	r := &runner{env: env, opts: opts}

	cmd := &cobra.Command{
		Use:           "kuppelctl",
		Short:         "Operate a Kuppel point of sale from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.format) {
				return &ExitError{Code: ExitCommandError, Message: fmt.Sprintf("invalid format %q: must be one of %v", opts.format, ValidFormats)}
			}
			return nil
		},
	}
	cmd.SetOut(env.Out)
	cmd.SetErr(env.Err)

	f := cmd.PersistentFlags()
	f.StringVar(&opts.format, "format", FormatText, "output format (text|json)")
	f.StringVar(&opts.configFile, "config", "", "YAML configuration file")
	f.StringVar(&opts.company, "company", "", "company id (defaults to the selected company)")
	f.StringVar(&opts.branch, "branch", "", "branch id (defaults to the selected branch)")
	f.StringVar(&opts.email, "email", os.Getenv("KUPPEL_EMAIL"), "sign in with this email")
	f.StringVar(&opts.password, "password", os.Getenv("KUPPEL_PASSWORD"), "password for --email")

	cmd.AddCommand(
		newWatchCommand(r),
		newStatsCommand(r),
		newLimitsCommand(r),
		newInvoiceCommand(r),
		newSettingsCommand(r),
		newVotesCommand(r),
	)
	return cmd
}

// Main runs the CLI and returns the process exit code.
func Main(ctx context.Context, args []string, env Env) int {
	cmd := NewRootCommand(env)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		w := env.Err
		if w == nil {
			w = os.Stderr
		}
		fmt.Fprintln(w, "Error:", err)
	}
	return ExitCode(err)
}
