// Package security provides the append-only security event ledger, the
// incident lifecycle, and temporary IP/user block bookkeeping.
package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

// Severity grades a security event or incident.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Well-known event types appended by the matcher and the scorer.
const (
	EventSlipVerificationFailed    = "slip_verification_failed"
	EventDepositVerifiedViaEmail   = "deposit_verified_via_email"
	EventDepositConfirmationFailed = "deposit_confirmation_failed"
	EventSlipSubmitted             = "slip_submitted"
	EventCandidateExpired          = "candidate_expired"
	EventNotificationUnmatched     = "notification_unmatched"
	EventRiskAssessment            = "risk_assessment"
	EventBruteForceDetected        = "brute_force_detected"
	EventIPBlocked                 = "ip_blocked"
	EventIPUnblocked               = "ip_unblocked"
	EventUserBlocked               = "user_blocked"
	EventIncidentCreated           = "incident_created"
	EventAuthFailure               = "auth_failure"
)

// Event is one append-only security ledger record. Events are hash-chained:
// each entry's hash covers its canonical JSON plus the previous hash.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Severity  Severity       `json:"severity"`
	SubjectID string         `json:"subject_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Hash      string         `json:"hash,omitempty"`
	PrevHash  string         `json:"prev_hash,omitempty"`
}

// Filter narrows a ledger query. Zero values mean "any".
type Filter struct {
	SubjectID string
	Type      string
	Since     time.Time
	Until     time.Time
	Limit     int
}

// MaxQueryLimit bounds the ledger query page size.
const MaxQueryLimit = 200

// ErrInvalidTransition is returned for backwards incident status moves.
var ErrInvalidTransition = errors.New("invalid incident status transition")

// ErrIncidentNotFound is returned for unknown incident IDs.
var ErrIncidentNotFound = errors.New("incident not found")

// IncidentStatus is the incident lifecycle state.
type IncidentStatus string

const (
	IncidentOpen          IncidentStatus = "open"
	IncidentInvestigating IncidentStatus = "investigating"
	IncidentResolved      IncidentStatus = "resolved"
)

// statusRank orders statuses; transitions must be strictly forward.
var statusRank = map[IncidentStatus]int{
	IncidentOpen:          0,
	IncidentInvestigating: 1,
	IncidentResolved:      2,
}

// CanTransition reports whether from → to is a legal forward move.
func CanTransition(from, to IncidentStatus) bool {
	fromRank, ok1 := statusRank[from]
	toRank, ok2 := statusRank[to]
	return ok1 && ok2 && toRank > fromRank
}

// Incident is a tracked security event requiring investigation.
type Incident struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Severity    Severity       `json:"severity"`
	SubjectID   string         `json:"subject_id,omitempty"`
	Description string         `json:"description"`
	Status      IncidentStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Ledger is the append-only security event store.
type Ledger interface {
	// Append persists the event, assigning a time-ordered ID and chaining
	// its hash to the previous entry. Returns the stored event.
	Append(ctx context.Context, e Event) (Event, error)

	// Query returns matching events, most recent first. Limit is clamped
	// to MaxQueryLimit.
	Query(ctx context.Context, f Filter) ([]Event, error)
}

// Incidents manages the incident lifecycle.
type Incidents interface {
	// Create opens a new incident. Severity critical triggers the
	// configured automated response hook.
	Create(ctx context.Context, inc Incident) (Incident, error)

	// UpdateStatus moves an incident strictly forward.
	UpdateStatus(ctx context.Context, id string, to IncidentStatus) (Incident, error)

	// Get retrieves an incident by ID.
	Get(ctx context.Context, id string) (Incident, error)
}

// newEventID produces a time-ordered identifier: nanosecond timestamp plus a
// short random suffix to break ties.
func newEventID(at time.Time) string {
	return fmt.Sprintf("%020d-%s", at.UnixNano(), uuid.New().String()[:8])
}

// chainHash computes the canonical-JSON hash of the event chained onto prev.
func chainHash(e Event, prev string) (string, error) {
	e.Hash = ""
	e.PrevHash = ""
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize event: %w", err)
	}
	sum := sha256.Sum256(append(canonical, []byte(prev)...))
	return hex.EncodeToString(sum[:]), nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}

func matches(e Event, f Filter) bool {
	if f.SubjectID != "" && e.SubjectID != f.SubjectID {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.CreatedAt.After(f.Until) {
		return false
	}
	return true
}
