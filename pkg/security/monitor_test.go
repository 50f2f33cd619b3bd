package security_test

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/kuppel/kuppel.go/pkg/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newMonitor() (*security.Monitor, *security.FakeClock) {
	clock := security.NewFakeClock(start)
	return security.NewMonitor(security.WithClock(clock)), clock
}

func TestStateFor(t *testing.T) {
	want := []security.State{
		security.StateNormal, security.StateNormal, security.StateNormal,
		security.StateWarned, security.StateWarned,
		security.StateLocked, security.StateLocked,
	}
	for n, s := range want {
		assert.Equal(t, s, security.StateFor(n), "failures=%d", n)
	}
}

func TestSeverityAndLockoutEvents(t *testing.T) {
	m, _ := newMonitor()

	for i := 1; i <= 6; i++ {
		events := m.RecordFailure("ana@example.com")
		require.NotEmpty(t, events)
		e := events[0]
		assert.Equal(t, security.EventFailedLogin, e.Type)
		assert.Equal(t, i, e.Attempts)
		assert.Equal(t, "ana@example.com", e.Identifier)
		assert.Equal(t, start, e.At)
		if i < 3 {
			assert.Equal(t, security.SeverityMedium, e.Severity, "attempt %d", i)
		} else {
			assert.Equal(t, security.SeverityHigh, e.Severity, "attempt %d", i)
		}

		if i == 5 {
			require.Len(t, events, 2)
			assert.Equal(t, security.EventLockout, events[1].Type)
		} else {
			assert.Len(t, events, 1)
		}
	}
	assert.True(t, m.Locked())
	assert.Equal(t, 0, m.RemainingAttempts())
}

func TestSuccessResetsWithoutEvent(t *testing.T) {
	var mu sync.Mutex
	var seen []security.Event
	clock := security.NewFakeClock(start)
	m := security.NewMonitor(security.WithClock(clock), security.WithSink(func(e security.Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e)
	}))

	for i := 0; i < 5; i++ {
		m.RecordFailure("x")
	}
	require.True(t, m.Locked())
	require.Len(t, seen, 6)

	m.RecordSuccess()
	assert.Equal(t, 0, m.Failures())
	assert.Equal(t, security.StateNormal, m.State())
	assert.Len(t, seen, 6)
	assert.True(t, m.UnlocksAt().IsZero())
	assert.Equal(t, 0, clock.Pending())
}

func TestDecayAfterQuietPeriod(t *testing.T) {
	m, clock := newMonitor()

	m.RecordFailure("x")
	m.RecordFailure("x")
	assert.Equal(t, start.Add(security.DecayAfter), m.UnlocksAt())

	clock.Advance(security.DecayAfter - time.Second)
	assert.Equal(t, 2, m.Failures())

	clock.Advance(time.Second)
	assert.Equal(t, 0, m.Failures())
}

func TestNewAttemptRearmsDecay(t *testing.T) {
	m, clock := newMonitor()

	for i := 0; i < 5; i++ {
		m.RecordFailure("x")
	}
	clock.Advance(10 * time.Minute)
	m.RecordFailure("x")
	assert.Equal(t, 1, clock.Pending())

	// 15 minutes after the first burst, but only 5 after the last attempt.
	clock.Advance(5 * time.Minute)
	assert.Equal(t, 6, m.Failures())
	assert.True(t, m.Locked())

	clock.Advance(10 * time.Minute)
	assert.Equal(t, 0, m.Failures())
	assert.False(t, m.Locked())
}

// The lock holds exactly when the run of failures since the last success
// or decay has reached the threshold.
func TestLockoutMatchesConsecutiveFailures(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for run := 0; run < 200; run++ {
		m, clock := newMonitor()
		consecutive := 0
		for step := 0; step < 30; step++ {
			switch r.Intn(10) {
			case 0, 1:
				m.RecordSuccess()
				consecutive = 0
			case 2:
				clock.Advance(security.DecayAfter)
				consecutive = 0
			default:
				clock.Advance(time.Duration(r.Intn(60)) * time.Second)
				m.RecordFailure("x")
				consecutive++
			}
			require.Equal(t, consecutive, m.Failures(), "run %d step %d", run, step)
			require.Equal(t, consecutive >= security.LockoutThreshold, m.Locked(), "run %d step %d", run, step)
		}
	}
}
