package recon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/extract"
	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/notify"
	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/pending"
	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/security"
)

// amountTolerance is the maximum amount difference for a match.
var amountTolerance = decimal.NewFromFloat(0.01)

// MatchResult describes the best candidate picked for a notification.
// Produced transiently to resolve ties; not persisted.
type MatchResult struct {
	DepositID     string
	UserID        string
	TimeDiffHours float64
	AmountDelta   decimal.Decimal
}

// Outcome reports what Reconcile did with a notification.
type Outcome string

const (
	OutcomeConfirmed   Outcome = "confirmed"
	OutcomeUnmatched   Outcome = "unmatched"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeFailed      Outcome = "confirmation_failed"
	OutcomeLeftPending Outcome = "left_pending"
)

// Matcher reconciles bank notifications against the pending candidate pool.
type Matcher struct {
	pool      pending.Store
	unmatched notify.UnmatchedStore
	ledger    security.Ledger
	confirmer Confirmer
	logger    *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewMatcher wires the matcher's collaborators.
func NewMatcher(pool pending.Store, unmatched notify.UnmatchedStore, ledger security.Ledger, confirmer Confirmer, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{
		pool:      pool,
		unmatched: unmatched,
		ledger:    ledger,
		confirmer: confirmer,
		logger:    logger,
		now:       time.Now,
	}
}

// SubmitCandidate validates an extraction result into the pending pool.
// Invalid extractions short-circuit to verification_failed and never enter
// the pool; the returned candidate still carries the audit trail data.
func (m *Matcher) SubmitCandidate(ctx context.Context, userID, depositID string, res extract.Result) (pending.Candidate, error) {
	c := pending.Candidate{
		DepositID:     depositID,
		UserID:        userID,
		Amount:        res.Amount,
		Bank:          res.Bank,
		Account:       res.Account,
		ExtractedDate: res.Date,
		Confidence:    res.Confidence,
		Language:      string(res.Language),
		CreatedAt:     m.now(),
	}

	if !res.Valid {
		c.Status = pending.StatusVerificationFailed
		c.FailureNote = fmt.Sprintf("extraction invalid: confidence %.2f, missing %v", res.Confidence, res.Missing)

		if _, err := m.ledger.Append(ctx, security.Event{
			Type:      security.EventSlipVerificationFailed,
			Severity:  security.SeverityLow,
			SubjectID: userID,
			Details: map[string]any{
				"deposit_id": depositID,
				"confidence": res.Confidence,
				"missing":    res.Missing,
				"unreadable": res.Unreadable,
			},
		}); err != nil {
			return c, err
		}
		return c, nil
	}

	c.Status = pending.StatusPending
	if err := m.pool.Put(ctx, c); err != nil {
		return c, err
	}

	if _, err := m.ledger.Append(ctx, security.Event{
		Type:      security.EventSlipSubmitted,
		Severity:  security.SeverityInfo,
		SubjectID: userID,
		Details: map[string]any{
			"deposit_id": depositID,
			"amount":     res.Amount.String(),
			"confidence": res.Confidence,
			"bank":       res.Bank,
		},
	}); err != nil {
		return c, err
	}
	return c, nil
}

// Reconcile scans the pool for the notification's best match and drives
// confirmation. Absence of a match is an expected outcome, not a fault.
func (m *Matcher) Reconcile(ctx context.Context, n notify.Notification) (Outcome, *MatchResult, error) {
	m.expireStale(ctx)

	best, ok, err := m.pickCandidate(ctx, n)
	if err != nil {
		return "", nil, err
	}
	if !ok {
		if err := m.unmatched.Archive(ctx, n); err != nil {
			return "", nil, fmt.Errorf("archive unmatched notification: %w", err)
		}
		if _, err := m.ledger.Append(ctx, security.Event{
			Type:     security.EventNotificationUnmatched,
			Severity: security.SeverityInfo,
			Details: map[string]any{
				"amount":    n.Amount.String(),
				"reference": n.Reference,
			},
		}); err != nil {
			return "", nil, err
		}
		return OutcomeUnmatched, nil, nil
	}

	result := &MatchResult{
		DepositID:     best.DepositID,
		UserID:        best.UserID,
		TimeDiffHours: absDuration(n.Timestamp.Sub(best.CreatedAt)).Hours(),
		AmountDelta:   n.Amount.Sub(best.Amount).Abs(),
	}

	confirmErr := m.confirmer.ConfirmDeposit(ctx, ConfirmRequest{
		UserID:    best.UserID,
		DepositID: best.DepositID,
		Amount:    best.Amount,
		Source:    "bank_email",
	})

	switch {
	case confirmErr == nil:
		claimed, err := m.pool.CompareAndDelete(ctx, best.DepositID)
		if err != nil {
			return "", result, err
		}
		if !claimed {
			// A concurrent reconciliation already took this candidate.
			// The external call is idempotent, so nothing was double-credited.
			m.logger.InfoContext(ctx, "duplicate reconciliation ignored",
				"deposit_id", best.DepositID)
			return OutcomeDuplicate, result, nil
		}
		if _, err := m.ledger.Append(ctx, security.Event{
			Type:      security.EventDepositVerifiedViaEmail,
			Severity:  security.SeverityInfo,
			SubjectID: best.UserID,
			Details: map[string]any{
				"deposit_id":      best.DepositID,
				"amount":          best.Amount.String(),
				"time_diff_hours": result.TimeDiffHours,
				"reference":       n.Reference,
			},
		}); err != nil {
			return "", result, err
		}
		return OutcomeConfirmed, result, nil

	case errors.Is(confirmErr, ErrConfirmTimeout):
		// Leave the candidate pending: the bank redelivers, and the ledger
		// call is idempotent, so a retry can still succeed.
		m.logger.WarnContext(ctx, "deposit confirmation timed out, candidate left pending",
			"deposit_id", best.DepositID, "error", confirmErr)
		return OutcomeLeftPending, result, nil

	default:
		note := confirmErr.Error()
		if err := m.pool.MarkFailed(ctx, best.DepositID, note); err != nil && !errors.Is(err, pending.ErrNotFound) {
			return "", result, err
		}
		if _, err := m.ledger.Append(ctx, security.Event{
			Type:      security.EventDepositConfirmationFailed,
			Severity:  security.SeverityHigh,
			SubjectID: best.UserID,
			Details: map[string]any{
				"deposit_id": best.DepositID,
				"amount":     best.Amount.String(),
				"note":       note,
			},
		}); err != nil {
			return "", result, err
		}
		// Not retried automatically; requires operator or next-webhook action.
		return OutcomeFailed, result, nil
	}
}

// pickCandidate filters pending candidates by amount tolerance and age, then
// picks the smallest creation-to-notification time difference. Ties resolve
// to the earliest-created candidate because Pending returns insertion order
// and only strictly smaller differences replace the current best.
func (m *Matcher) pickCandidate(ctx context.Context, n notify.Notification) (pending.Candidate, bool, error) {
	candidates, err := m.pool.Pending(ctx)
	if err != nil {
		return pending.Candidate{}, false, fmt.Errorf("scan pending pool: %w", err)
	}

	now := m.now()
	var (
		best     pending.Candidate
		bestDiff time.Duration
		found    bool
	)
	for _, c := range candidates {
		if c.Amount.Sub(n.Amount).Abs().GreaterThanOrEqual(amountTolerance) {
			continue
		}
		if c.Expired(now) {
			continue
		}
		diff := absDuration(n.Timestamp.Sub(c.CreatedAt))
		if !found || diff < bestDiff {
			best = c
			bestDiff = diff
			found = true
		}
	}
	return best, found, nil
}

// expireStale sweeps TTL-expired candidates into the terminal expired state.
// Runs synchronously at reconcile time; there is no background scheduler.
func (m *Matcher) expireStale(ctx context.Context) {
	expired, err := m.pool.ExpireStale(ctx, m.now())
	if err != nil {
		m.logger.WarnContext(ctx, "candidate expiry sweep failed", "error", err)
		return
	}
	for _, depositID := range expired {
		if _, err := m.ledger.Append(ctx, security.Event{
			Type:     security.EventCandidateExpired,
			Severity: security.SeverityInfo,
			Details:  map[string]any{"deposit_id": depositID},
		}); err != nil {
			m.logger.WarnContext(ctx, "failed to log candidate expiry", "error", err)
		}
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
