// Package session owns the server-side session records. Everyone else
// holds only the opaque session identifier.
package session

import (
	"errors"
	"time"

	"github.com/waymark-app/waymark/internal/util"
)

// tokenBytes is the entropy of session identifiers and CSRF tokens.
const tokenBytes = 32

// ErrNotFound is returned by operations that require an existing record.
var ErrNotFound = errors.New("session not found")

// ErrTimeout marks a storage operation that exceeded its deadline. It is a
// transient failure: the caller may well be authenticated, so it must map
// to a 500, never a 401.
var ErrTimeout = errors.New("session storage deadline exceeded")

// Record is the authoritative state for a logged-in client.
type Record struct {
	ID            string    `json:"session_id"`
	Authenticated bool      `json:"authenticated"`
	CreatedAt     time.Time `json:"created_at"`
	LastSeenAt    time.Time `json:"last_seen_at"`
	Remember      bool      `json:"remember"`
	CSRFToken     string    `json:"csrf_token"`
	CSRFIssuedAt  time.Time `json:"csrf_issued_at"`
}

// Lifetime returns the idle window this record is held for.
func (r *Record) Lifetime(idle, remember time.Duration) time.Duration {
	if r.Remember {
		return remember
	}
	return idle
}

// ExpiresAt returns the moment the record lapses if it is not touched.
func (r *Record) ExpiresAt(idle, remember time.Duration) time.Time {
	return r.LastSeenAt.Add(r.Lifetime(idle, remember))
}

func (r *Record) expired(now time.Time, idle, remember time.Duration) bool {
	return now.After(r.ExpiresAt(idle, remember))
}

// Store is the session persistence abstraction. Load returns (nil, nil)
// for missing, tamper-invalid, or expired records; an error return is a
// transient storage failure.
type Store interface {
	// Create produces a fresh authenticated record with random session and
	// CSRF tokens.
	Create(remember bool) (*Record, error)
	// Load resolves an identifier. Expired records are destroyed on read.
	Load(id string) (*Record, error)
	// Touch advances LastSeenAt; false when the record no longer exists.
	Touch(id string) bool
	// Destroy removes a record. Idempotent.
	Destroy(id string) error
	// DestroyAll removes every record. Used only on password change.
	DestroyAll() error
	// RotateCSRF issues and persists a new CSRF token for the session.
	RotateCSRF(id string) (string, error)
	// Sweep reclaims expired records.
	Sweep()
}

func newRecord(remember bool, now time.Time) (*Record, error) {
	id, err := util.RandomToken(tokenBytes)
	if err != nil {
		return nil, err
	}
	csrf, err := util.RandomToken(tokenBytes)
	if err != nil {
		return nil, err
	}
	return &Record{
		ID:            id,
		Authenticated: true,
		CreatedAt:     now,
		LastSeenAt:    now,
		Remember:      remember,
		CSRFToken:     csrf,
		CSRFIssuedAt:  now,
	}, nil
}
