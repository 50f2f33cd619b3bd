// Package security keeps the failed-login counter behind the login form.
//
// The Monitor is advisory: it drives warnings and a local lockout screen
// but enforces nothing. Anyone can bypass it by restarting the process;
// real lockout belongs to the authentication backend.
package security

import (
	"sync"
	"time"

	"github.com/kuppel/kuppel.go/pkg/logger"
)

const (
	WarnThreshold    = 3
	LockoutThreshold = 5
	DecayAfter       = 15 * time.Minute
)

type State string

const (
	StateNormal State = "normal"
	StateWarned State = "warned"
	StateLocked State = "locked"
)

// StateFor maps a consecutive failure count to a state.
func StateFor(failures int) State {
	switch {
	case failures >= LockoutThreshold:
		return StateLocked
	case failures >= WarnThreshold:
		return StateWarned
	default:
		return StateNormal
	}
}

type EventType string

const (
	EventFailedLogin EventType = "failed_login"
	EventLockout     EventType = "lockout"
)

type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Event struct {
	Type       EventType `json:"type"`
	Severity   Severity  `json:"severity"`
	Attempts   int       `json:"attempts"`
	Identifier string    `json:"identifier,omitempty"`
	At         time.Time `json:"at"`
}

// Monitor is safe for concurrent use. Its zero value is not usable; call
// NewMonitor.
type Monitor struct {
	clock  Clock
	logger logger.Logger
	sink   func(Event)

	mu          sync.Mutex
	failures    int
	lastAttempt time.Time
	generation  uint64
	timer       Timer
}

type Option func(m *Monitor)

func WithClock(c Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

func WithLogger(l logger.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithSink receives every emitted event. It is called without the
// monitor's lock held.
func WithSink(f func(Event)) Option {
	return func(m *Monitor) { m.sink = f }
}

func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		clock:  realClock{},
		logger: logger.Nop(),
		sink:   func(Event) {},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// RecordFailure counts a failed attempt, re-arms the decay timer and
// returns the emitted events: a failed_login event, followed by a lockout
// event when this attempt reaches the lockout threshold.
func (m *Monitor) RecordFailure(identifier string) []Event {
	m.mu.Lock()
	m.failures++
	m.generation++
	now := m.clock.Now()
	m.lastAttempt = now
	attempts := m.failures
	m.arm(m.generation)
	m.mu.Unlock()

	severity := SeverityMedium
	if attempts >= WarnThreshold {
		severity = SeverityHigh
	}
	events := []Event{{
		Type:       EventFailedLogin,
		Severity:   severity,
		Attempts:   attempts,
		Identifier: identifier,
		At:         now,
	}}
	if attempts == LockoutThreshold {
		events = append(events, Event{
			Type:       EventLockout,
			Severity:   SeverityHigh,
			Attempts:   attempts,
			Identifier: identifier,
			At:         now,
		})
	}

	for _, e := range events {
		m.logger.Warn("security event", "type", e.Type, "severity", e.Severity, "attempts", e.Attempts)
		m.sink(e)
	}
	return events
}

// RecordSuccess resets the counter. No event is emitted.
func (m *Monitor) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
}

// Reset is RecordSuccess for callers that are not reporting a login.
func (m *Monitor) Reset() {
	m.RecordSuccess()
}

func (m *Monitor) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

func (m *Monitor) State() State {
	return StateFor(m.Failures())
}

func (m *Monitor) Locked() bool {
	return m.State() == StateLocked
}

// RemainingAttempts is the number of failures left before lockout.
func (m *Monitor) RemainingAttempts() int {
	n := LockoutThreshold - m.Failures()
	if n < 0 {
		return 0
	}
	return n
}

// UnlocksAt is when the counter decays if no further attempt is made. It
// is zero when there are no failures.
func (m *Monitor) UnlocksAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures == 0 {
		return time.Time{}
	}
	return m.lastAttempt.Add(DecayAfter)
}

// arm must be called with mu held.
func (m *Monitor) arm(gen uint64) {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = m.clock.AfterFunc(DecayAfter, func() { m.decay(gen) })
}

func (m *Monitor) decay(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation || m.failures == 0 {
		return
	}
	if m.clock.Now().Sub(m.lastAttempt) < DecayAfter {
		return
	}
	m.logger.Debug("failed login counter decayed", "failures", m.failures)
	m.reset()
}

// reset must be called with mu held.
func (m *Monitor) reset() {
	m.failures = 0
	m.lastAttempt = time.Time{}
	m.generation++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
