package monitoring

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	reports []Report
}

func (c *captured) Report(_ context.Context, r Report) error {
	c.reports = append(c.reports, r)
	return nil
}

func TestScrub(t *testing.T) {
	in := map[string]any{
		"email":         "ana@bar.co",
		"password":      "hunter2",
		"accessToken":   "abc",
		"Authorization": "Bearer abc",
		"nested":        map[string]any{"api_key": "k", "ok": 1},
		"note":          "sent Bearer abc.def to server",
	}
	out := Scrub(in)

	assert.Equal(t, "ana@bar.co", out["email"])
	assert.Equal(t, filtered, out["password"])
	assert.Equal(t, filtered, out["accessToken"])
	assert.Equal(t, filtered, out["Authorization"])
	assert.Equal(t, map[string]any{"api_key": filtered, "ok": 1}, out["nested"])
	assert.Equal(t, "sent Bearer [Filtered] to server", out["note"])
	assert.Equal(t, "hunter2", in["password"])
	assert.Nil(t, Scrub(nil))
}

func TestScrubStringMasksJWT(t *testing.T) {
	s := ScrubString("token eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiJ1MSJ9.c2ln rejected")
	assert.Equal(t, "token [Filtered] rejected", s)
}

func TestBreadcrumbsAreBounded(t *testing.T) {
	m := New(WithMaxBreadcrumbs(3))
	for i := 0; i < 5; i++ {
		m.AddBreadcrumb("auth", fmt.Sprintf("step %d", i), LevelInfo, nil)
	}
	crumbs := m.Breadcrumbs()
	require.Len(t, crumbs, 3)
	assert.Equal(t, "step 2", crumbs[0].Message)
	assert.Equal(t, "step 4", crumbs[2].Message)
}

func TestCaptureErrorCarriesTrail(t *testing.T) {
	rep := &captured{}
	m := New(WithReporter(rep))
	m.AddBreadcrumb("auth", "login attempt", LevelInfo, map[string]any{"email": "ana@bar.co", "password": "x"})

	m.CaptureError(context.Background(), errors.New("signin failed for Bearer abc"), map[string]string{"flow": "login"})
	m.CaptureError(context.Background(), nil, nil)

	require.Len(t, rep.reports, 1)
	r := rep.reports[0]
	assert.Equal(t, "signin failed for Bearer [Filtered]", r.Message)
	assert.Equal(t, "login", r.Tags["flow"])
	require.Len(t, r.Breadcrumbs, 1)
	assert.Equal(t, filtered, r.Breadcrumbs[0].Data["password"])
}

func TestEmptyTrailEncodesAsList(t *testing.T) {
	rep := &captured{}
	m := New(WithReporter(rep))
	m.CaptureError(context.Background(), errors.New("boom"), nil)

	require.Len(t, rep.reports, 1)
	body, err := json.Marshal(rep.reports[0])
	require.NoError(t, err)
	assert.Contains(t, string(body), `"breadcrumbs":[]`)
}

func TestFromDSNWithoutDSNLogs(t *testing.T) {
	m, err := FromDSN("")
	require.NoError(t, err)
	_, ok := m.reporter.(LogReporter)
	assert.True(t, ok)

	_, err = FromDSN("not a dsn")
	assert.Error(t, err)
}

type sentryRequest struct {
	path string
	auth string
	body string
}

func TestSentryReporter(t *testing.T) {
	got := make(chan sentryRequest, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- sentryRequest{path: r.URL.Path, auth: r.Header.Get("X-Sentry-Auth"), body: string(body)}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dsn := strings.Replace(srv.URL, "http://", "http://publickey@", 1) + "/42"
	m, err := FromDSN(dsn)
	require.NoError(t, err)

	m.AddBreadcrumb("auth", "login attempt", LevelInfo, map[string]any{"email": "ana@bar.co", "password": "hunter2"})
	m.CaptureError(context.Background(), errors.New("boom with Bearer abc"), map[string]string{"flow": "login"})

	select {
	case req := <-got:
		assert.True(t, strings.HasPrefix(req.path, "/api/42/"), req.path)
		assert.Contains(t, req.auth, "sentry_key=publickey")
		assert.Contains(t, req.body, "boom with Bearer [Filtered]")
		assert.Contains(t, req.body, "login attempt")
		assert.Contains(t, req.body, `"flow":"login"`)
		assert.NotContains(t, req.body, "hunter2")
	case <-time.After(5 * time.Second):
		t.Fatal("no event reached the sentry endpoint")
	}
}

func TestScrubEvent(t *testing.T) {
	event := &sentry.Event{
		Message:   "rejected eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiJ1MSJ9.c2ln",
		Exception: []sentry.Exception{{Value: "Bearer abc"}},
		Breadcrumbs: []*sentry.Breadcrumb{
			{Message: "signin", Data: map[string]any{"token": "t"}},
		},
		Extra: map[string]any{"secret": "s", "branch": "b1"},
	}

	out := scrubEvent(event, nil)
	assert.Equal(t, "rejected [Filtered]", out.Message)
	assert.Equal(t, "Bearer [Filtered]", out.Exception[0].Value)
	assert.Equal(t, filtered, out.Breadcrumbs[0].Data["token"])
	assert.Equal(t, filtered, out.Extra["secret"])
	assert.Equal(t, "b1", out.Extra["branch"])
}
