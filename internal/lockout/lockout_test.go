package lockout

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func newTestTracker(t *testing.T, now *time.Time) *Tracker {
	t.Helper()
	return NewTracker(NewMemoryStore(),
		WithMaxAttempts(3),
		WithWindow(15*time.Minute),
		WithClock(func() time.Time { return *now }),
	)
}

func TestTrackerLocksAfterMaxAttempts(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker := newTestTracker(t, &now)

	for i := 0; i < 2; i++ {
		if err := tracker.RegisterFailedAttempt(); err != nil {
			t.Fatalf("register attempt %d: %v", i+1, err)
		}
		locked, err := tracker.IsLocked()
		if err != nil {
			t.Fatalf("IsLocked: %v", err)
		}
		if locked {
			t.Fatalf("locked after %d attempts, want unlocked", i+1)
		}
	}

	if err := tracker.RegisterFailedAttempt(); err != nil {
		t.Fatalf("register third attempt: %v", err)
	}
	locked, err := tracker.IsLocked()
	if err != nil {
		t.Fatalf("IsLocked: %v", err)
	}
	if !locked {
		t.Fatal("not locked after 3 attempts within window")
	}

	remaining, err := tracker.LockedFor()
	if err != nil {
		t.Fatalf("LockedFor: %v", err)
	}
	if remaining != 15*time.Minute {
		t.Fatalf("LockedFor = %s, want 15m", remaining)
	}
}

func TestTrackerLockExpires(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker := newTestTracker(t, &now)

	for i := 0; i < 3; i++ {
		if err := tracker.RegisterFailedAttempt(); err != nil {
			t.Fatalf("register attempt: %v", err)
		}
	}

	now = now.Add(14 * time.Minute)
	locked, _ := tracker.IsLocked()
	if !locked {
		t.Fatal("lock released before window elapsed")
	}

	now = now.Add(time.Minute + time.Second)
	locked, _ = tracker.IsLocked()
	if locked {
		t.Fatal("still locked after window elapsed")
	}
}

func TestTrackerWindowResetsCount(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker := newTestTracker(t, &now)

	for i := 0; i < 2; i++ {
		if err := tracker.RegisterFailedAttempt(); err != nil {
			t.Fatalf("register attempt: %v", err)
		}
	}

	// Third failure outside the window starts a fresh count instead of
	// triggering a lock.
	now = now.Add(16 * time.Minute)
	if err := tracker.RegisterFailedAttempt(); err != nil {
		t.Fatalf("register attempt: %v", err)
	}

	locked, _ := tracker.IsLocked()
	if locked {
		t.Fatal("locked by stale attempts outside the window")
	}
	count, err := tracker.Attempts()
	if err != nil {
		t.Fatalf("Attempts: %v", err)
	}
	if count != 1 {
		t.Fatalf("Attempts = %d after window reset, want 1", count)
	}
}

func TestTrackerSuccessClearsState(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker := newTestTracker(t, &now)

	for i := 0; i < 3; i++ {
		if err := tracker.RegisterFailedAttempt(); err != nil {
			t.Fatalf("register attempt: %v", err)
		}
	}
	if err := tracker.RegisterSuccess(); err != nil {
		t.Fatalf("RegisterSuccess: %v", err)
	}

	locked, _ := tracker.IsLocked()
	if locked {
		t.Fatal("locked after successful login cleared state")
	}
	count, _ := tracker.Attempts()
	if count != 0 {
		t.Fatalf("Attempts = %d after success, want 0", count)
	}
}

func TestTrackerFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "lockout.json")
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	tracker := NewTracker(NewFileStore(path), WithClock(clock))
	for i := 0; i < 3; i++ {
		if err := tracker.RegisterFailedAttempt(); err != nil {
			t.Fatalf("register attempt: %v", err)
		}
	}

	// A fresh tracker over the same file sees the persisted lock.
	reopened := NewTracker(NewFileStore(path), WithClock(clock))
	locked, err := reopened.IsLocked()
	if err != nil {
		t.Fatalf("IsLocked: %v", err)
	}
	if !locked {
		t.Fatal("lock not visible after reopening the file store")
	}

	if err := reopened.RegisterSuccess(); err != nil {
		t.Fatalf("RegisterSuccess: %v", err)
	}
	locked, _ = tracker.IsLocked()
	if locked {
		t.Fatal("lock survived a Clear through another tracker")
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lockout.json")
	store := NewFileStore(path)
	if err := store.Save(State{Count: 2}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("corrupt file: %v", err)
	}

	_, ok, err := store.Load()
	if err != nil {
		t.Fatalf("Load on corrupt file: %v", err)
	}
	if ok {
		t.Fatal("corrupt file reported as valid state")
	}
}

// TestTrackerNeverLocksUnderThreshold drives random sequences of failures,
// successes and clock jumps, checking that a lock only ever exists when at
// least maxAttempts failures landed inside a single window.
func TestTrackerNeverLocksUnderThreshold(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		tracker := NewTracker(NewMemoryStore(),
			WithMaxAttempts(3),
			WithWindow(15*time.Minute),
			WithClock(func() time.Time { return now }),
		)

		inWindow := 0
		windowStart := time.Time{}
		steps := rapid.IntRange(1, 40).Draw(t, "steps")

		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0: // failure
				if inWindow == 0 || now.Sub(windowStart) >= 15*time.Minute {
					windowStart = now
					inWindow = 0
				}
				inWindow++
				if err := tracker.RegisterFailedAttempt(); err != nil {
					t.Fatalf("RegisterFailedAttempt: %v", err)
				}
			case 1: // success
				inWindow = 0
				if err := tracker.RegisterSuccess(); err != nil {
					t.Fatalf("RegisterSuccess: %v", err)
				}
			case 2: // time passes
				now = now.Add(time.Duration(rapid.Int64Range(1, 20*60).Draw(t, "seconds")) * time.Second)
			}

			locked, err := tracker.IsLocked()
			if err != nil {
				t.Fatalf("IsLocked: %v", err)
			}
			if locked && inWindow < 3 {
				t.Fatalf("locked with only %d failures in the current window", inWindow)
			}
		}
	})
}
