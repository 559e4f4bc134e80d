package recon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/extract"
	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/notify"
	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/pending"
	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/security"
)

var baseTime = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

// confirmFunc adapts a function to the Confirmer interface.
type confirmFunc func(ctx context.Context, req ConfirmRequest) error

func (f confirmFunc) ConfirmDeposit(ctx context.Context, req ConfirmRequest) error {
	return f(ctx, req)
}

type fixture struct {
	pool      *pending.MemoryStore
	unmatched *notify.MemoryUnmatchedStore
	ledger    *security.MemoryLedger
	matcher   *Matcher
	confirms  []ConfirmRequest
}

func newFixture(t *testing.T, confirm confirmFunc) *fixture {
	t.Helper()
	f := &fixture{
		pool:      pending.NewMemoryStore(),
		unmatched: notify.NewMemoryUnmatchedStore(),
		ledger:    security.NewMemoryLedger(),
	}
	wrapped := confirmFunc(func(ctx context.Context, req ConfirmRequest) error {
		f.confirms = append(f.confirms, req)
		if confirm == nil {
			return nil
		}
		return confirm(ctx, req)
	})
	f.matcher = NewMatcher(f.pool, f.unmatched, f.ledger, wrapped, slog.Default())
	f.matcher.now = func() time.Time { return baseTime }
	return f
}

func validResult(amount float64) extract.Result {
	return extract.Result{
		Amount:      decimal.NewFromFloat(amount),
		AmountFound: true,
		Bank:        "kbank",
		Account:     "1234567890",
		Date:        baseTime,
		DateFound:   true,
		Language:    extract.LangThai,
		Confidence:  0.85,
		Valid:       true,
	}
}

func notification(amount float64, at time.Time) notify.Notification {
	return notify.Notification{
		Amount:    decimal.NewFromFloat(amount),
		Timestamp: at,
		Reference: "REF-1",
	}
}

func eventsOfType(t *testing.T, ledger *security.MemoryLedger, eventType string) []security.Event {
	t.Helper()
	events, err := ledger.Query(context.Background(), security.Filter{Type: eventType})
	require.NoError(t, err)
	return events
}

func TestSubmitCandidateValid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	c, err := f.matcher.SubmitCandidate(ctx, "user-1", "dep-1", validResult(1500))
	require.NoError(t, err)
	assert.Equal(t, pending.StatusPending, c.Status)

	stored, err := f.pool.Get(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", stored.UserID)

	assert.Len(t, eventsOfType(t, f.ledger, security.EventSlipSubmitted), 1)
}

func TestSubmitCandidateInvalidNeverEntersPool(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	res := extract.Result{Confidence: 0.25, Missing: []string{extract.FieldAmount}}
	c, err := f.matcher.SubmitCandidate(ctx, "user-1", "dep-1", res)
	require.NoError(t, err)

	assert.Equal(t, pending.StatusVerificationFailed, c.Status)
	assert.Contains(t, c.FailureNote, "0.25")

	_, err = f.pool.Get(ctx, "dep-1")
	assert.ErrorIs(t, err, pending.ErrNotFound)

	assert.Len(t, eventsOfType(t, f.ledger, security.EventSlipVerificationFailed), 1)
	assert.Empty(t, eventsOfType(t, f.ledger, security.EventSlipSubmitted))
}

func TestReconcileConfirmsMatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.matcher.SubmitCandidate(ctx, "user-1", "dep-1", validResult(1500))
	require.NoError(t, err)

	outcome, result, err := f.matcher.Reconcile(ctx, notification(1500, baseTime.Add(time.Hour)))
	require.NoError(t, err)

	assert.Equal(t, OutcomeConfirmed, outcome)
	require.NotNil(t, result)
	assert.Equal(t, "dep-1", result.DepositID)
	assert.InDelta(t, 1.0, result.TimeDiffHours, 0.001)

	require.Len(t, f.confirms, 1)
	assert.Equal(t, "dep-1", f.confirms[0].DepositID)
	assert.Equal(t, "bank_email", f.confirms[0].Source)

	// Candidate consumed.
	_, err = f.pool.Get(ctx, "dep-1")
	assert.ErrorIs(t, err, pending.ErrNotFound)

	assert.Len(t, eventsOfType(t, f.ledger, security.EventDepositVerifiedViaEmail), 1)
}

func TestReconcilePicksClosestInTime(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	f.matcher.now = func() time.Time { return baseTime.Add(-20 * time.Hour) }
	_, err := f.matcher.SubmitCandidate(ctx, "user-1", "dep-old", validResult(1500))
	require.NoError(t, err)

	f.matcher.now = func() time.Time { return baseTime }
	_, err = f.matcher.SubmitCandidate(ctx, "user-2", "dep-new", validResult(1500))
	require.NoError(t, err)

	outcome, result, err := f.matcher.Reconcile(ctx, notification(1500, baseTime.Add(2*time.Hour)))
	require.NoError(t, err)

	assert.Equal(t, OutcomeConfirmed, outcome)
	assert.Equal(t, "dep-new", result.DepositID)

	// The older candidate stays pending for its own notification.
	older, err := f.pool.Get(ctx, "dep-old")
	require.NoError(t, err)
	assert.Equal(t, pending.StatusPending, older.Status)
}

func TestReconcileTieGoesToEarliestSubmission(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.matcher.SubmitCandidate(ctx, "user-1", "dep-first", validResult(1500))
	require.NoError(t, err)
	_, err = f.matcher.SubmitCandidate(ctx, "user-2", "dep-second", validResult(1500))
	require.NoError(t, err)

	outcome, result, err := f.matcher.Reconcile(ctx, notification(1500, baseTime))
	require.NoError(t, err)

	assert.Equal(t, OutcomeConfirmed, outcome)
	assert.Equal(t, "dep-first", result.DepositID)
}

func TestReconcileRespectsAmountTolerance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.matcher.SubmitCandidate(ctx, "user-1", "dep-1", validResult(1500.00))
	require.NoError(t, err)

	outcome, result, err := f.matcher.Reconcile(ctx, notification(1500.05, baseTime))
	require.NoError(t, err)

	assert.Equal(t, OutcomeUnmatched, outcome)
	assert.Nil(t, result)
	assert.Empty(t, f.confirms)

	archived, err := f.unmatched.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, archived, 1)
	assert.Len(t, eventsOfType(t, f.ledger, security.EventNotificationUnmatched), 1)
}

func TestReconcileUnmatchedWhenPoolEmpty(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	outcome, result, err := f.matcher.Reconcile(ctx, notification(999, baseTime))
	require.NoError(t, err)

	assert.Equal(t, OutcomeUnmatched, outcome)
	assert.Nil(t, result)

	archived, err := f.unmatched.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, "REF-1", archived[0].Reference)
}

func TestReconcileExpiresStaleBeforeMatching(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	f.matcher.now = func() time.Time { return baseTime.Add(-pending.TTL - time.Hour) }
	_, err := f.matcher.SubmitCandidate(ctx, "user-1", "dep-stale", validResult(1500))
	require.NoError(t, err)

	f.matcher.now = func() time.Time { return baseTime }
	outcome, _, err := f.matcher.Reconcile(ctx, notification(1500, baseTime))
	require.NoError(t, err)

	assert.Equal(t, OutcomeUnmatched, outcome)
	assert.Empty(t, f.confirms, "expired candidates must never be confirmed")
	assert.Len(t, eventsOfType(t, f.ledger, security.EventCandidateExpired), 1)

	stale, err := f.pool.Get(ctx, "dep-stale")
	require.NoError(t, err)
	assert.Equal(t, pending.StatusExpired, stale.Status)
}

func TestReconcileDuplicateDeliveryConfirmsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.matcher.SubmitCandidate(ctx, "user-1", "dep-1", validResult(1500))
	require.NoError(t, err)

	n := notification(1500, baseTime)
	outcome, _, err := f.matcher.Reconcile(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, outcome)

	// Redelivery of the same notification finds no candidate left.
	outcome, _, err = f.matcher.Reconcile(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnmatched, outcome)

	assert.Len(t, f.confirms, 1)
	assert.Len(t, eventsOfType(t, f.ledger, security.EventDepositVerifiedViaEmail), 1)
}

func TestReconcileLosingRaceReportsDuplicate(t *testing.T) {
	ctx := context.Background()

	var f *fixture
	f = newFixture(t, func(ctx context.Context, req ConfirmRequest) error {
		// Simulate a concurrent reconciliation claiming the candidate while
		// this confirmation is in flight.
		claimed, err := f.pool.CompareAndDelete(ctx, req.DepositID)
		require.NoError(t, err)
		require.True(t, claimed)
		return nil
	})

	_, err := f.matcher.SubmitCandidate(ctx, "user-1", "dep-1", validResult(1500))
	require.NoError(t, err)

	outcome, _, err := f.matcher.Reconcile(ctx, notification(1500, baseTime))
	require.NoError(t, err)

	assert.Equal(t, OutcomeDuplicate, outcome)
	// The losing path records no verification event.
	assert.Empty(t, eventsOfType(t, f.ledger, security.EventDepositVerifiedViaEmail))
}

func TestReconcileConfirmationFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(ctx context.Context, req ConfirmRequest) error {
		return errors.New("ledger returned 422")
	})

	_, err := f.matcher.SubmitCandidate(ctx, "user-1", "dep-1", validResult(1500))
	require.NoError(t, err)

	outcome, _, err := f.matcher.Reconcile(ctx, notification(1500, baseTime))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	c, err := f.pool.Get(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, pending.StatusVerificationFailed, c.Status)
	assert.Contains(t, c.FailureNote, "422")

	events := eventsOfType(t, f.ledger, security.EventDepositConfirmationFailed)
	require.Len(t, events, 1)
	assert.Equal(t, security.SeverityHigh, events[0].Severity)
}

func TestReconcileTimeoutLeavesCandidatePending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(ctx context.Context, req ConfirmRequest) error {
		return fmt.Errorf("%w: context deadline exceeded", ErrConfirmTimeout)
	})

	_, err := f.matcher.SubmitCandidate(ctx, "user-1", "dep-1", validResult(1500))
	require.NoError(t, err)

	outcome, _, err := f.matcher.Reconcile(ctx, notification(1500, baseTime))
	require.NoError(t, err)
	assert.Equal(t, OutcomeLeftPending, outcome)

	c, err := f.pool.Get(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, pending.StatusPending, c.Status, "timeout must not consume the candidate")

	// A retry after the ledger recovers still succeeds.
	f.matcher.confirmer = confirmFunc(func(ctx context.Context, req ConfirmRequest) error { return nil })
	outcome, _, err = f.matcher.Reconcile(ctx, notification(1500, baseTime))
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, outcome)
}
