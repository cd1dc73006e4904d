// Package idempotency replays the stored response when a mutating request is retried
// with the same Idempotency-Key, and rejects a key reused for a different request.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"
)

// DefaultTTL bounds how long a key is remembered when the config does not say.
const DefaultTTL = 24 * time.Hour

// ErrKeyReused reports a key presented again with a different method, path, caller or body.
var ErrKeyReused = errors.New("idempotency: key already used for a different request")

// Outcome is the result of reserving a key.
type Outcome int

const (
	// OutcomeReserved means the caller owns the key and must Complete or Release it.
	OutcomeReserved Outcome = iota
	// OutcomeReplay means a completed response is stored for the key.
	OutcomeReplay
	// OutcomeInFlight means another request holds the key.
	OutcomeInFlight
)

// Entry is the persisted state of one key.
type Entry struct {
	Key         string
	Fingerprint string
	Completed   bool
	Status      int
	Header      map[string][]string
	Body        []byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Store persists key reservations and completed responses.
type Store interface {
	// Reserve claims key for fingerprint unless a live entry exists. An expired entry is replaced.
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Entry, error)
	// Complete stores the response on a reserved key.
	Complete(ctx context.Context, entry Entry) error
	// Release forgets the key so a retry runs the handler again.
	Release(ctx context.Context, key string) error
	// Purge deletes up to limit entries that expired before now.
	Purge(ctx context.Context, now time.Time, limit int) (int, error)
}

func documentID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// replayedHeaders are the response headers worth storing for a replay.
var replayedHeaders = []string{"Content-Type", "Location", "X-Guest-Session"}

func storableHeader(h http.Header) map[string][]string {
	out := make(map[string][]string)
	for _, name := range replayedHeaders {
		if values := h.Values(name); len(values) > 0 {
			out[name] = append([]string(nil), values...)
		}
	}
	return out
}

func newEntry(key, fingerprint string, now time.Time, ttl time.Duration) Entry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return Entry{Key: key, Fingerprint: fingerprint, CreatedAt: now, ExpiresAt: now.Add(ttl)}
}

// reserve is the shared decision used by every store against the current entry, if any.
func reserve(current *Entry, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Entry, bool, error) {
	if current == nil || current.expired(now) {
		return OutcomeReserved, newEntry(key, fingerprint, now, ttl), true, nil
	}
	if current.Fingerprint != fingerprint {
		return 0, Entry{}, false, ErrKeyReused
	}
	if current.Completed {
		return OutcomeReplay, *current, false, nil
	}
	return OutcomeInFlight, *current, false, nil
}
