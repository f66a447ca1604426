package ports

import (
	"context"
	"errors"
	"time"
)

// ErrIdempotencyConflict indicates the key was already used for a different transition.
var ErrIdempotencyConflict = errors.New("idempotency key reused for a different transition")

// IdempotencyRecord ties a caller's transition id to the order version it produced.
type IdempotencyRecord struct {
	Key           string
	RequestHash   string
	OrderID       int64
	ResultVersion int64
	CreatedAt     time.Time
}

// IdempotencyStore remembers committed transitions so a retried request replays the
// first outcome instead of failing its version precondition.
type IdempotencyStore interface {
	// Get returns the stored record for the key, or nil when unknown.
	Get(ctx context.Context, key string) (*IdempotencyRecord, error)
	// Save stores the record. An existing record with the same hash and order is
	// returned as is; a different one is returned with ErrIdempotencyConflict.
	Save(ctx context.Context, record IdempotencyRecord) (*IdempotencyRecord, error)
	// PurgeBefore drops records created before cutoff.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
