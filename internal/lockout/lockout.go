// Package lockout tracks failed authentication attempts on the client side
// and locks the login affordance after repeated failures. It is advisory
// only: a user can wipe the underlying storage, so the server-side rate
// limiter remains the actual security boundary. This tracker exists to give
// interactive clients an honest countdown instead of a wall of 429s.
package lockout

import (
	"time"
)

const (
	// DefaultMaxAttempts is the failed-attempt threshold that triggers a lock
	DefaultMaxAttempts = 3
	// DefaultWindow is both the attempt-counting window and the lock duration
	DefaultWindow = 15 * time.Minute
)

// State is the persisted lockout state
type State struct {
	Count          int       `json:"count"`
	FirstAttemptAt time.Time `json:"firstAttemptAt"`
	LockedAt       time.Time `json:"lockedAt"`
}

// Store persists lockout state between client invocations. Implementations
// must tolerate a missing state (fresh client).
type Store interface {
	Load() (State, bool, error)
	Save(State) error
	Clear() error
}

// Tracker maintains the lockout state machine over an injected Store
type Tracker struct {
	store       Store
	maxAttempts int
	window      time.Duration
	now         func() time.Time
}

// Option configures a Tracker
type Option func(*Tracker)

// WithMaxAttempts overrides the failed-attempt threshold
func WithMaxAttempts(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.maxAttempts = n
		}
	}
}

// WithWindow overrides the attempt window and lock duration
func WithWindow(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.window = d
		}
	}
}

// WithClock overrides the clock. Test hook.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a Tracker over the given store
func NewTracker(store Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:       store,
		maxAttempts: DefaultMaxAttempts,
		window:      DefaultWindow,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RegisterFailedAttempt records one failed authentication attempt. If the
// window has elapsed since the first recorded attempt, the whole state resets
// and this attempt counts as the first of a new window. Reaching the
// threshold sets the lock.
func (t *Tracker) RegisterFailedAttempt() error {
	now := t.now()

	state, ok, err := t.store.Load()
	if err != nil {
		return err
	}

	if !ok || now.Sub(state.FirstAttemptAt) >= t.window {
		state = State{Count: 0, FirstAttemptAt: now}
	}

	state.Count++
	if state.Count >= t.maxAttempts && state.LockedAt.IsZero() {
		state.LockedAt = now
	}

	return t.store.Save(state)
}

// RegisterSuccess clears all lockout state
func (t *Tracker) RegisterSuccess() error {
	return t.store.Clear()
}

// IsLocked reports whether the client is currently locked out
func (t *Tracker) IsLocked() (bool, error) {
	state, ok, err := t.store.Load()
	if err != nil {
		return false, err
	}
	if !ok || state.LockedAt.IsZero() {
		return false, nil
	}
	return t.now().Sub(state.LockedAt) < t.window, nil
}

// LockedFor returns the remaining lock duration, zero when unlocked. Clients
// use it to render the countdown.
func (t *Tracker) LockedFor() (time.Duration, error) {
	state, ok, err := t.store.Load()
	if err != nil {
		return 0, err
	}
	if !ok || state.LockedAt.IsZero() {
		return 0, nil
	}
	remaining := t.window - t.now().Sub(state.LockedAt)
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

// Attempts returns the failed-attempt count inside the current window
func (t *Tracker) Attempts() (int, error) {
	state, ok, err := t.store.Load()
	if err != nil {
		return 0, err
	}
	if !ok || t.now().Sub(state.FirstAttemptAt) >= t.window {
		return 0, nil
	}
	return state.Count, nil
}
