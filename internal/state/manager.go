package state

import (
	"sync"
	"time"

	"github.com/eytandecker/flightgear-telemetry/pkg/types"
)

// Manager holds a concurrent-safe cache of the latest flight state of one
// simulator, plus the outcome of the most recent poll.
type Manager struct {
	mu             sync.RWMutex
	state          types.FlightState
	lastUpdated    time.Time
	lastErr        error
	failures       int
	staleThreshold time.Duration
	now            func() time.Time
	subs           map[chan types.FlightState]struct{}
}

// NewManager creates a Manager with the given stale threshold.
// A zero threshold disables staleness checking.
func NewManager(staleThreshold time.Duration) *Manager {
	return &Manager{
		staleThreshold: staleThreshold,
		now:            time.Now,
		subs:           make(map[chan types.FlightState]struct{}),
	}
}

// Update stores a new state, records the current time and resets the
// failure streak. A subscriber that is not keeping up gets only the newest
// state.
func (m *Manager) Update(s types.FlightState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
	m.lastUpdated = m.now()
	m.lastErr = nil
	m.failures = 0
	for ch := range m.subs {
		// Only Update sends, under m.mu, so after the drain the send cannot block.
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

// RecordFailure notes a failed poll. The cached state is left untouched.
func (m *Manager) RecordFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = err
	m.failures++
}

// Latest returns the most recent successfully decoded state regardless of
// age, and false if no poll has succeeded yet.
func (m *Manager) Latest() (types.FlightState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, !m.lastUpdated.IsZero()
}

// Current returns the cached state, ErrNoData if nothing has been received
// yet, or ErrStale if the data age exceeds the stale threshold.
func (m *Manager) Current() (types.FlightState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.lastUpdated.IsZero() {
		return types.FlightState{}, ErrNoData
	}
	if m.staleThreshold > 0 && m.now().Sub(m.lastUpdated) > m.staleThreshold {
		return types.FlightState{}, ErrStale
	}
	return m.state, nil
}

// LastUpdated returns the time of the most recent Update, or zero if never updated.
func (m *Manager) LastUpdated() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastUpdated
}

// LastError returns the error of the most recent poll if it failed.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Failures returns the number of consecutive failed polls.
func (m *Manager) Failures() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failures
}

// Subscribe returns a channel that receives every new state and a function
// that ends the subscription.
func (m *Manager) Subscribe() (<-chan types.FlightState, func()) {
	ch := make(chan types.FlightState, 1)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, ch)
			m.mu.Unlock()
		})
	}
}
