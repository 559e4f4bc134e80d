// Package pending holds unmatched slip candidates awaiting bank confirmation.
//
// A deposit ID has at most one active candidate. The store offers a
// conditional compare-and-delete so that two concurrent reconciliations of
// the same notification cannot both claim one candidate.
package pending

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// TTL is how long a candidate may wait for a bank notification.
const TTL = 24 * time.Hour

var (
	// ErrNotFound is returned when no candidate exists for a deposit ID.
	ErrNotFound = errors.New("candidate not found")
	// ErrDuplicate is returned when a deposit already has an active candidate.
	ErrDuplicate = errors.New("candidate already exists for deposit")
)

// Status is the candidate lifecycle state.
type Status string

// A matched candidate is deleted from the pool rather than kept in a
// terminal state; the confirmation lives in the security ledger.
const (
	StatusPending            Status = "pending"
	StatusExpired            Status = "expired"
	StatusVerificationFailed Status = "verification_failed"
)

// Candidate is a pending, OCR-extracted slip record awaiting confirmation.
type Candidate struct {
	DepositID     string          `json:"deposit_id"`
	UserID        string          `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	Bank          string          `json:"bank,omitempty"`
	Account       string          `json:"account,omitempty"`
	ExtractedDate time.Time       `json:"extracted_date"`
	Confidence    float64         `json:"confidence"`
	Language      string          `json:"language"`
	Status        Status          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	FailureNote   string          `json:"failure_note,omitempty"`
}

// Expired reports whether the candidate has outlived its TTL.
func (c Candidate) Expired(now time.Time) bool {
	return now.Sub(c.CreatedAt) >= TTL
}

// Store is the pending-candidate pool.
type Store interface {
	// Put stores a new candidate. ErrDuplicate if the deposit already has
	// an active one.
	Put(ctx context.Context, c Candidate) error

	// Get retrieves a candidate by deposit ID.
	Get(ctx context.Context, depositID string) (Candidate, error)

	// Pending returns all candidates currently in StatusPending, in
	// insertion order.
	Pending(ctx context.Context) ([]Candidate, error)

	// CompareAndDelete removes the candidate only if it is still pending.
	// Returns false when another caller already claimed or removed it;
	// the caller must then treat the notification as a duplicate delivery.
	CompareAndDelete(ctx context.Context, depositID string) (bool, error)

	// MarkFailed transitions a candidate to verification_failed with a note.
	MarkFailed(ctx context.Context, depositID, note string) error

	// ExpireStale transitions pending candidates past their TTL to expired
	// and returns the deposit IDs affected.
	ExpireStale(ctx context.Context, now time.Time) ([]string, error)
}
