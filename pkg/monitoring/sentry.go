package monitoring

import (
	"context"
	"errors"
	"time"

	"github.com/getsentry/sentry-go"
)

// DefaultFlushTimeout bounds the wait for a report to leave the process.
const DefaultFlushTimeout = 5 * time.Second

type SentryOptions struct {
	DSN          string
	Environment  string
	Release      string
	FlushTimeout time.Duration
	// Transport overrides the HTTP transport; nil uses a synchronous one
	// so a CLI exiting right after CaptureError does not lose the event.
	Transport sentry.Transport
}

// SentryReporter ships reports to Sentry. Every event and breadcrumb
// passes through Scrub on its way out.
type SentryReporter struct {
	hub   *sentry.Hub
	flush time.Duration
}

func NewSentryReporter(o SentryOptions) (*SentryReporter, error) {
	transport := o.Transport
	if transport == nil {
		transport = sentry.NewHTTPSyncTransport()
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              o.DSN,
		Environment:      o.Environment,
		Release:          o.Release,
		Transport:        transport,
		MaxBreadcrumbs:   DefaultMaxBreadcrumbs,
		BeforeSend:       scrubEvent,
		BeforeBreadcrumb: scrubBreadcrumb,
	})
	if err != nil {
		return nil, err
	}
	flush := o.FlushTimeout
	if flush <= 0 {
		flush = DefaultFlushTimeout
	}
	return &SentryReporter{hub: sentry.NewHub(client, sentry.NewScope()), flush: flush}, nil
}

var errEventDropped = errors.New("monitoring: event dropped")

func (s *SentryReporter) Report(ctx context.Context, r Report) error {
	var id *sentry.EventID
	s.hub.WithScope(func(scope *sentry.Scope) {
		for k, v := range r.Tags {
			scope.SetTag(k, v)
		}
		for _, b := range r.Breadcrumbs {
			scope.AddBreadcrumb(&sentry.Breadcrumb{
				Category:  b.Category,
				Message:   b.Message,
				Level:     sentry.Level(b.Level),
				Data:      b.Data,
				Timestamp: b.At,
			}, DefaultMaxBreadcrumbs)
		}
		id = s.hub.CaptureMessage(r.Message)
	})
	if id == nil {
		return errEventDropped
	}

	timeout := s.flush
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if !s.hub.Flush(timeout) {
		return errors.New("monitoring: flush timed out")
	}
	return nil
}

// scrubEvent is the BeforeSend hook. Breadcrumbs attached to a scope skip
// BeforeBreadcrumb, so they are scrubbed again here.
func scrubEvent(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	event.Message = ScrubString(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = ScrubString(event.Exception[i].Value)
	}
	for _, b := range event.Breadcrumbs {
		scrubBreadcrumb(b, nil)
	}
	event.Extra = Scrub(event.Extra)
	if event.Request != nil {
		event.Request.Cookies = ""
		for k := range event.Request.Headers {
			if isSensitive(k) {
				event.Request.Headers[k] = filtered
			}
		}
	}
	return event
}

func scrubBreadcrumb(b *sentry.Breadcrumb, _ *sentry.BreadcrumbHint) *sentry.Breadcrumb {
	b.Message = ScrubString(b.Message)
	b.Data = Scrub(b.Data)
	return b
}
