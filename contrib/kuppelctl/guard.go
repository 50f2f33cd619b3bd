package kuppelctl

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/kuppel/kuppel.go/pkg/monitoring"
	"github.com/kuppel/kuppel.go/pkg/notify"
	"github.com/spf13/cobra"
)

// guard turns a panic inside a command into a report to monitoring and a
// recovery message that tells the operator how to retry.
func guard(monitor func() *monitoring.Monitor, catalog func() notify.Catalog, out func() Output, run func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			perr := fmt.Errorf("panic: %v", r)
			m := monitor()
			if m == nil {
				m = monitoring.New()
			}
			m.AddBreadcrumb("cli", "command panicked", monitoring.LevelError, map[string]any{
				"command": cmd.CommandPath(),
				"stack":   string(debug.Stack()),
			})
			m.CaptureError(context.Background(), perr, map[string]string{"command": cmd.CommandPath()})

			hint := fmt.Sprintf("retry: %s", cmd.CommandPath())
			_ = out().Fail(catalog().T(notify.KeyUnexpected), hint)
			err = &ExitError{Code: ExitFailure, Message: "command aborted", Err: perr}
		}()
		return run(cmd, args)
	}
}
