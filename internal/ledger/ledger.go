// Package ledger tracks failed login attempts per remote identity and
// decides whether the next attempt is permitted.
package ledger

import (
	"log/slog"
	"sync"
	"time"
)

// DecisionKind classifies the outcome of a Check call.
type DecisionKind int

const (
	// Allow permits the attempt.
	Allow DecisionKind = iota
	// Delay requires the caller to wait before the next attempt.
	Delay
	// LockedOut refuses attempts until the lockout expires.
	LockedOut
)

// Decision is the ledger's verdict for a remote identity. Wait carries the
// remaining delay (Delay) or the remaining lockout (LockedOut).
type Decision struct {
	Kind DecisionKind
	Wait time.Duration
}

type record struct {
	failures     []time.Time
	lockoutUntil time.Time
	userAgents   map[string]struct{}
}

// Ledger is an in-process table of recent verification failures keyed by
// normalized remote address. All operations on a single record are
// serialized; the ledger holds no global ordering across identities.
type Ledger struct {
	mu          sync.Mutex
	records     map[string]*record
	maxAttempts int
	window      time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a ledger that locks an identity out for window after
// maxAttempts failures inside the window.
func New(maxAttempts int, window time.Duration, logger *slog.Logger) *Ledger {
	return &Ledger{
		records:     make(map[string]*record),
		maxAttempts: maxAttempts,
		window:      window,
		logger:      logger.With("component", "ledger"),
		now:         time.Now,
	}
}

// progressiveDelay is the wait imposed after n live failures, before
// lockout engages.
func progressiveDelay(n int) time.Duration {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 2 * time.Second
	case n == 3:
		return 5 * time.Second
	case n == 4:
		return 10 * time.Second
	default:
		return 30 * time.Second
	}
}

// ObserveFailure appends a failure for remoteID and engages lockout when
// the live failure count reaches the configured maximum. Failures during
// an active lockout never extend it.
func (l *Ledger) ObserveFailure(remoteID, userAgent string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rec, ok := l.records[remoteID]
	if !ok {
		rec = &record{userAgents: make(map[string]struct{})}
		l.records[remoteID] = rec
	}
	if now.Before(rec.lockoutUntil) {
		return
	}

	rec.failures = prune(rec.failures, now.Add(-l.window))
	rec.failures = append(rec.failures, now)
	if userAgent != "" {
		rec.userAgents[userAgent] = struct{}{}
	}

	if len(rec.failures) >= l.maxAttempts {
		rec.lockoutUntil = now.Add(l.window)
		// A burst of failures from many distinct user agents is a soft
		// signal of scripted credential guessing.
		l.logger.Warn("lockout engaged",
			"remote_id", remoteID,
			"failures", len(rec.failures),
			"distinct_user_agents", len(rec.userAgents),
			"lockout_seconds", int(l.window.Seconds()))
	}
}

// Check returns the decision for the next attempt from remoteID. A lockout
// that has elapsed clears the whole failure history before deciding.
func (l *Ledger) Check(remoteID string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rec, ok := l.records[remoteID]
	if !ok {
		return Decision{Kind: Allow}
	}

	if !rec.lockoutUntil.IsZero() {
		if now.Before(rec.lockoutUntil) {
			return Decision{Kind: LockedOut, Wait: rec.lockoutUntil.Sub(now)}
		}
		// Lockout served in full: the identity starts clean.
		delete(l.records, remoteID)
		return Decision{Kind: Allow}
	}

	rec.failures = prune(rec.failures, now.Add(-l.window))
	n := len(rec.failures)
	if n == 0 {
		delete(l.records, remoteID)
		return Decision{Kind: Allow}
	}

	wait := progressiveDelay(n)
	if wait > 0 {
		since := now.Sub(rec.failures[n-1])
		if since < wait {
			return Decision{Kind: Delay, Wait: wait - since}
		}
	}
	return Decision{Kind: Allow}
}

// Remaining returns how many attempts are left before lockout for remoteID.
func (l *Ledger) Remaining(remoteID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[remoteID]
	if !ok {
		return l.maxAttempts
	}
	live := len(prune(rec.failures, l.now().Add(-l.window)))
	if live >= l.maxAttempts {
		return 0
	}
	return l.maxAttempts - live
}

// Clear removes the record for remoteID. Called on successful login.
func (l *Ledger) Clear(remoteID string) {
	l.mu.Lock()
	delete(l.records, remoteID)
	l.mu.Unlock()
}

// Sweep drops records with no live failures and no active lockout. The
// background sweeper calls this periodically.
func (l *Ledger) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	for id, rec := range l.records {
		if now.Before(rec.lockoutUntil) {
			continue
		}
		if len(prune(rec.failures, cutoff)) == 0 || !rec.lockoutUntil.IsZero() {
			delete(l.records, id)
		}
	}
}

// prune drops timestamps at or before cutoff. Timestamps are appended in
// real-time order, so the live suffix is contiguous.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	start := 0
	for start < len(ts) && !ts[start].After(cutoff) {
		start++
	}
	return ts[start:]
}
