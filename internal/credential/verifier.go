// Package credential holds the shared admin password verifier and answers
// match questions in constant observable time.
package credential

import (
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/bcrypt"

	"github.com/waymark-app/waymark/internal/util"
)

// Verifier wraps a bcrypt verifier string. The string is kept in a memguard
// enclave between verifications so the hash is not resident in plain heap
// memory for the life of the process.
type Verifier struct {
	mu      sync.RWMutex
	enclave *memguard.Enclave
	cost    int
}

// dummyVerifier is compared against when the stored verifier cannot be
// parsed, so a broken verifier costs the same wall-clock time as a mismatch.
var dummyVerifier = []byte("$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW")

// New creates a Verifier from a bcrypt verifier string. cost is the work
// factor used for rehashing, not for verification — verification always
// replays the cost embedded in the stored string.
func New(verifier string, cost int) (*Verifier, error) {
	if _, err := bcrypt.Cost([]byte(verifier)); err != nil {
		return nil, fmt.Errorf("invalid password verifier: %w", err)
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("invalid hash cost %d", cost)
	}
	return &Verifier{
		enclave: memguard.NewEnclave([]byte(verifier)),
		cost:    cost,
	}, nil
}

// Verify reports whether candidate matches the stored verifier. The full
// bcrypt computation runs on every call regardless of outcome, and any
// internal error is reported as a mismatch rather than surfaced.
func (v *Verifier) Verify(candidate string) bool {
	normalized := []byte(util.Normalize(candidate))
	defer util.WipeBytes(normalized)

	v.mu.RLock()
	enclave := v.enclave
	v.mu.RUnlock()

	buf, err := enclave.Open()
	if err != nil {
		// Burn the work factor anyway so the failure mode is not observable
		// from response timing.
		_ = bcrypt.CompareHashAndPassword(dummyVerifier, normalized)
		return false
	}
	defer buf.Destroy()

	return bcrypt.CompareHashAndPassword(buf.Bytes(), normalized) == nil
}

// Rehash produces a new verifier string for plaintext at the configured
// cost. The returned string embeds algorithm and cost so it can be
// validated on next startup.
func (v *Verifier) Rehash(plaintext string) (string, error) {
	normalized := []byte(util.Normalize(plaintext))
	defer util.WipeBytes(normalized)

	hash, err := bcrypt.GenerateFromPassword(normalized, v.cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// Hash produces a verifier string for plaintext at the given cost. It is
// the standalone form of Rehash for callers that hold no Verifier yet,
// such as first-time setup tooling.
func Hash(plaintext string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return "", fmt.Errorf("invalid hash cost %d", cost)
	}
	normalized := []byte(util.Normalize(plaintext))
	defer util.WipeBytes(normalized)

	hash, err := bcrypt.GenerateFromPassword(normalized, cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// Rotate atomically swaps in a new verifier string. Concurrent Verify calls
// see either the old or the new verifier, never an intermediate state.
func (v *Verifier) Rotate(verifier string) error {
	if _, err := bcrypt.Cost([]byte(verifier)); err != nil {
		return fmt.Errorf("invalid password verifier: %w", err)
	}
	v.mu.Lock()
	v.enclave = memguard.NewEnclave([]byte(verifier))
	v.mu.Unlock()
	return nil
}
