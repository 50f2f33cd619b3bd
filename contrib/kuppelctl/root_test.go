package kuppelctl

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/kuppel/kuppel.go/pkg/config"
	"github.com/kuppel/kuppel.go/pkg/monitoring"
	"github.com/kuppel/kuppel.go/pkg/notify"
	"github.com/sebdah/goldie/v2"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	stdout string
	stderr string
	code   int
}

// mockEnv runs against the demo backend on a fixed afternoon.
func mockEnv(t *testing.T, settingsPath string, stdout, stderr *bytes.Buffer) Env {
	t.Helper()
	bogota, err := time.LoadLocation("America/Bogota")
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 18, 0, 0, 0, bogota)

	return Env{
		Out: stdout,
		Err: stderr,
		Now: func() time.Time { return now },
		Config: func() (config.Config, error) {
			return config.Load(config.WithEnv(map[string]string{
				config.EnvUseMockData:  "true",
				config.EnvSettingsPath: settingsPath,
				config.EnvLogLevel:     "error",
				config.EnvLocale:       "en",
			}))
		},
	}
}

func runCLI(t *testing.T, settingsPath string, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	code := Main(ctx, args, mockEnv(t, settingsPath, &stdout, &stderr))
	return result{stdout: stdout.String(), stderr: stderr.String(), code: code}
}

func tempSettings(t *testing.T, name string) string {
	return filepath.Join(t.TempDir(), name)
}

func TestGolden(t *testing.T) {
	g := goldie.New(t, goldie.WithFixtureDir("testdata"))

	cases := []struct {
		golden string
		args   []string
	}{
		{"stats_daily", []string{"stats", "daily"}},
		{"stats_cash", []string{"stats", "cash"}},
		{"limits", []string{"limits"}},
		{"votes", []string{"votes"}},
	}
	for _, tc := range cases {
		t.Run(tc.golden, func(t *testing.T) {
			res := runCLI(t, tempSettings(t, "settings.json"), tc.args...)
			require.Equal(t, ExitSuccess, res.code, res.stderr)
			g.Assert(t, tc.golden, []byte(res.stdout))
		})
	}
}

func TestStatsDailyOtherDayIsEmpty(t *testing.T) {
	res := runCLI(t, tempSettings(t, "settings.json"), "stats", "daily", "--date", "2026-02-28")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Daily stats 2026-02-28")
	assert.Contains(t, res.stdout, "no sales")
	assert.NotContains(t, res.stdout, "Top products")
}

func TestStatsDailyRejectsBadDate(t *testing.T) {
	res := runCLI(t, tempSettings(t, "settings.json"), "stats", "daily", "--date", "01/03/2026")
	assert.Equal(t, ExitCommandError, res.code)
	assert.Contains(t, res.stderr, "invalid --date")
}

func TestJSONEnvelope(t *testing.T) {
	res := runCLI(t, tempSettings(t, "settings.json"), "--format", "json", "limits")
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	var env struct {
		Status string `json:"status"`
		Data   struct {
			Users struct {
				Status     string   `json:"status"`
				Used       int      `json:"used"`
				Limit      *int     `json:"limit"`
				Percentage *float64 `json:"percentage"`
			} `json:"users"`
			Documents struct {
				Limit *int `json:"limit"`
			} `json:"documents"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &env))
	assert.Equal(t, "ok", env.Status)
	assert.Equal(t, "near_limit", env.Data.Users.Status)
	assert.Equal(t, 4, env.Data.Users.Used)
	require.NotNil(t, env.Data.Users.Limit)
	assert.Equal(t, 5, *env.Data.Users.Limit)
	assert.Nil(t, env.Data.Documents.Limit)
}

func TestLimitsDimension(t *testing.T) {
	res := runCLI(t, tempSettings(t, "settings.json"), "limits", "--dimension", "branches")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "branches")
	assert.NotContains(t, res.stdout, "users")

	res = runCLI(t, tempSettings(t, "settings.json"), "limits", "--dimension", "tables")
	assert.Equal(t, ExitCommandError, res.code)
	assert.Contains(t, res.stderr, `unknown dimension "tables"`)
}

func TestInvalidFormat(t *testing.T) {
	res := runCLI(t, tempSettings(t, "settings.json"), "--format", "yaml", "limits")
	assert.Equal(t, ExitCommandError, res.code)
	assert.Contains(t, res.stderr, `invalid format "yaml"`)
	assert.Empty(t, res.stdout)
}

func TestInvoiceProcess(t *testing.T) {
	res := runCLI(t, tempSettings(t, "settings.json"), "invoice", "process", "inv-7", "--send-email")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Invoice inv-7 processed: Factura validada por la DIAN")
	assert.Contains(t, res.stdout, "cufe-inv-7")
	assert.Contains(t, res.stderr, "Invoice inv-7 processed")

	res = runCLI(t, tempSettings(t, "settings.json"), "invoice", "process", "reject-1")
	assert.Equal(t, ExitFailure, res.code)
	assert.Contains(t, res.stderr, "Could not process the invoice")
}

func TestVotesCast(t *testing.T) {
	res := runCLI(t, tempSettings(t, "settings.json"), "votes", "cast", "kitchen-display")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "kitchen-display  5")
}

func TestSettingsRoundTrip(t *testing.T) {
	for _, name := range []string{"settings.json", "settings.db"} {
		t.Run(name, func(t *testing.T) {
			path := tempSettings(t, name)

			res := runCLI(t, path, "settings", "set", "kuppel-layout-config", `{"tablesEnabled":false}`)
			require.Equal(t, ExitSuccess, res.code, res.stderr)

			res = runCLI(t, path, "--format", "json", "settings", "get", "kuppel-layout-config")
			require.Equal(t, ExitSuccess, res.code, res.stderr)
			var env struct {
				Data map[string]any `json:"data"`
			}
			require.NoError(t, json.Unmarshal([]byte(res.stdout), &env))
			assert.Equal(t, false, env.Data["tablesEnabled"])
			assert.Equal(t, "grid", env.Data["defaultView"])
			assert.Equal(t, true, env.Data["showProductImages"])

			res = runCLI(t, path, "settings", "set", "kuppel-layout-settings", `{"buttonSize":"huge"}`)
			assert.Equal(t, ExitCommandError, res.code)

			res = runCLI(t, path, "settings", "reset")
			require.Equal(t, ExitSuccess, res.code, res.stderr)
			res = runCLI(t, path, "settings", "get")
			require.Equal(t, ExitSuccess, res.code, res.stderr)
			assert.Contains(t, res.stdout, `kuppel-layout-config = {"tablesEnabled":true`)
		})
	}
}

func TestSelectedCompanyIsUsed(t *testing.T) {
	path := tempSettings(t, "settings.json")
	res := runCLI(t, path, "settings", "set", "kuppel_selected_company", `"other-company"`)
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	res = runCLI(t, path, "stats", "daily")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "no sales")
}

func TestWatchPrintsSimulatedChanges(t *testing.T) {
	res := runCLI(t, tempSettings(t, "settings.json"), "watch", "--count", "3")
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
	assert.ElementsMatch(t, []string{
		"order o-2001 inserted (pending, total 9000.00)",
		"table t-1: available -> occupied",
		"table t-5 created (available)",
	}, lines)
}

func TestGuardRecoversPanics(t *testing.T) {
	var buf bytes.Buffer
	reporter := &captureReporter{}
	m := monitoring.New(monitoring.WithReporter(reporter))

	run := guard(
		func() *monitoring.Monitor { return m },
		func() notify.Catalog { return notify.NewCatalog("en") },
		func() Output { return Output{Format: FormatJSON, Writer: &buf} },
		func(cmd *cobra.Command, args []string) error { panic("nil register") },
	)

	root := &cobra.Command{Use: "kuppelctl"}
	child := &cobra.Command{Use: "stats"}
	root.AddCommand(child)

	err := run(child, nil)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, ExitCode(err))

	var env struct {
		Status string `json:"status"`
		Error  struct {
			Message string `json:"message"`
			Hint    string `json:"hint"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &env))
	assert.Equal(t, "error", env.Status)
	assert.Equal(t, "Something went wrong. Retry or reload the application", env.Error.Message)
	assert.Equal(t, "retry: kuppelctl stats", env.Error.Hint)

	require.Len(t, reporter.reports, 1)
	assert.Equal(t, "panic: nil register", reporter.reports[0].Message)
	assert.Equal(t, "kuppelctl stats", reporter.reports[0].Tags["command"])
	require.NotEmpty(t, reporter.reports[0].Breadcrumbs)
	assert.Equal(t, "command panicked", reporter.reports[0].Breadcrumbs[0].Message)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, ExitCode(nil))
	assert.Equal(t, ExitFailure, ExitCode(errors.New("boom")))
	assert.Equal(t, ExitCommandError, ExitCode(&ExitError{Code: ExitCommandError, Message: "bad"}))
}

type captureReporter struct {
	reports []monitoring.Report
}

func (c *captureReporter) Report(_ context.Context, r monitoring.Report) error {
	c.reports = append(c.reports, r)
	return nil
}
