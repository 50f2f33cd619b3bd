// Package monitoring keeps a bounded trail of breadcrumbs and reports
// errors together with it. Sensitive fields are scrubbed before anything
// is stored.
package monitoring

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/kuppel/kuppel.go/pkg/logger"
)

// DefaultMaxBreadcrumbs bounds the trail.
const DefaultMaxBreadcrumbs = 50

const filtered = "[Filtered]"

var sensitiveKeys = []string{"password", "token", "secret", "authorization", "cookie", "apikey", "api_key", "api-key"}

var (
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+\S+`)
	jwtPattern    = regexp.MustCompile(`eyJ[\w-]+\.[\w-]+\.[\w-]*`)
)

type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

type Breadcrumb struct {
	Category string         `json:"category"`
	Message  string         `json:"message"`
	Level    Level          `json:"level"`
	Data     map[string]any `json:"data,omitempty"`
	At       time.Time      `json:"timestamp"`
}

type Report struct {
	Message     string            `json:"message"`
	Tags        map[string]string `json:"tags,omitempty"`
	Breadcrumbs []Breadcrumb      `json:"breadcrumbs"`
	At          time.Time         `json:"timestamp"`
}

// Reporter ships reports somewhere.
type Reporter interface {
	Report(ctx context.Context, r Report) error
}

type Monitor struct {
	mu          sync.Mutex
	breadcrumbs []Breadcrumb
	max         int
	reporter    Reporter
	logger      logger.Logger
	now         func() time.Time
}

type Option func(m *Monitor)

func WithReporter(r Reporter) Option {
	return func(m *Monitor) { m.reporter = r }
}

func WithMaxBreadcrumbs(n int) Option {
	return func(m *Monitor) { m.max = n }
}

func WithLogger(l logger.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New returns a monitor. Without a reporter, reports go to the logger.
func New(opts ...Option) *Monitor {
	m := &Monitor{max: DefaultMaxBreadcrumbs, logger: logger.Nop(), now: time.Now}
	for _, o := range opts {
		o(m)
	}
	if m.reporter == nil {
		m.reporter = LogReporter{Logger: m.logger}
	}
	return m
}

// FromDSN reports to the Sentry project behind dsn, or to the logger when
// dsn is empty.
func FromDSN(dsn string, opts ...Option) (*Monitor, error) {
	if dsn != "" {
		rep, err := NewSentryReporter(SentryOptions{DSN: dsn})
		if err != nil {
			return nil, err
		}
		opts = append([]Option{WithReporter(rep)}, opts...)
	}
	return New(opts...), nil
}

// AddBreadcrumb appends to the trail, dropping the oldest entry when full.
func (m *Monitor) AddBreadcrumb(category, message string, level Level, data map[string]any) {
	b := Breadcrumb{
		Category: category,
		Message:  ScrubString(message),
		Level:    level,
		Data:     Scrub(data),
		At:       m.now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.breadcrumbs = append(m.breadcrumbs, b)
	if len(m.breadcrumbs) > m.max {
		m.breadcrumbs = append([]Breadcrumb(nil), m.breadcrumbs[len(m.breadcrumbs)-m.max:]...)
	}
}

func (m *Monitor) Breadcrumbs() []Breadcrumb {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Breadcrumb, len(m.breadcrumbs))
	copy(out, m.breadcrumbs)
	return out
}

// CaptureError reports err with the current trail.
func (m *Monitor) CaptureError(ctx context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}
	r := Report{
		Message:     ScrubString(err.Error()),
		Tags:        tags,
		Breadcrumbs: m.Breadcrumbs(),
		At:          m.now(),
	}
	if rerr := m.reporter.Report(ctx, r); rerr != nil {
		m.logger.Warn("failed to send report", "error", rerr)
	}
}

// Scrub copies data, replacing the values of sensitive keys at any depth.
func Scrub(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if isSensitive(k) {
			out[k] = filtered
			continue
		}
		switch vv := v.(type) {
		case map[string]any:
			out[k] = Scrub(vv)
		case string:
			out[k] = ScrubString(vv)
		default:
			out[k] = v
		}
	}
	return out
}

// ScrubString masks bearer credentials and JWTs inside free text.
func ScrubString(s string) string {
	s = bearerPattern.ReplaceAllString(s, "Bearer "+filtered)
	return jwtPattern.ReplaceAllString(s, filtered)
}

func isSensitive(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// LogReporter writes reports to a logger.
type LogReporter struct {
	Logger logger.Logger
}

func (l LogReporter) Report(_ context.Context, r Report) error {
	l.Logger.Error(r.Message, "breadcrumbs", len(r.Breadcrumbs), "tags", r.Tags)
	return nil
}
