package security

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLedgerAppendAssignsAndChains(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	first, err := ledger.Append(ctx, Event{Type: EventSlipSubmitted, SubjectID: "user-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, SeverityInfo, first.Severity, "severity defaults to info")
	assert.NotEmpty(t, first.Hash)
	assert.Empty(t, first.PrevHash, "genesis event has no predecessor")

	second, err := ledger.Append(ctx, Event{Type: EventIPBlocked, SubjectID: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, first.Hash, second.PrevHash)
	assert.NotEqual(t, first.Hash, second.Hash)
}

func TestChainHashDeterministic(t *testing.T) {
	at := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	e := Event{
		ID:        "evt-1",
		Type:      EventRiskAssessment,
		Severity:  SeverityHigh,
		SubjectID: "user-1",
		Details:   map[string]any{"score": 85, "kind": "transaction"},
		CreatedAt: at,
	}

	h1, err := chainHash(e, "prev")
	require.NoError(t, err)
	h2, err := chainHash(e, "prev")
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "canonicalization makes the hash key-order independent")

	h3, err := chainHash(e, "other")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestMemoryLedgerQueryFilters(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	base := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		subject := "user-a"
		if i%2 == 1 {
			subject = "user-b"
		}
		_, err := ledger.Append(ctx, Event{
			ID:        fmt.Sprintf("evt-%d", i),
			Type:      EventSlipSubmitted,
			SubjectID: subject,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	bySubject, err := ledger.Query(ctx, Filter{SubjectID: "user-a"})
	require.NoError(t, err)
	assert.Len(t, bySubject, 3)

	since, err := ledger.Query(ctx, Filter{Since: base.Add(3 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, since, 2)

	limited, err := ledger.Query(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "evt-4", limited[0].ID, "newest first")

	byType, err := ledger.Query(ctx, Filter{Type: EventIPBlocked})
	require.NoError(t, err)
	assert.Empty(t, byType)
}

func TestMemoryLedgerQueryClampsLimit(t *testing.T) {
	assert.Equal(t, MaxQueryLimit, clampLimit(0))
	assert.Equal(t, MaxQueryLimit, clampLimit(-1))
	assert.Equal(t, MaxQueryLimit, clampLimit(MaxQueryLimit+1))
	assert.Equal(t, 10, clampLimit(10))
}

func TestIncidentLifecycle(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	inc, err := ledger.Create(ctx, Incident{
		Type:        "manual_review",
		Severity:    SeverityMedium,
		SubjectID:   "user-1",
		Description: "operator flagged account",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, inc.ID)
	assert.Equal(t, IncidentOpen, inc.Status)

	created, err := ledger.Query(ctx, Filter{Type: EventIncidentCreated})
	require.NoError(t, err)
	assert.Len(t, created, 1)

	inc, err = ledger.UpdateStatus(ctx, inc.ID, IncidentInvestigating)
	require.NoError(t, err)
	assert.Equal(t, IncidentInvestigating, inc.Status)

	inc, err = ledger.UpdateStatus(ctx, inc.ID, IncidentResolved)
	require.NoError(t, err)
	assert.Equal(t, IncidentResolved, inc.Status)
}

func TestIncidentStatusOnlyMovesForward(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	inc, err := ledger.Create(ctx, Incident{Type: "x", Severity: SeverityLow, Description: "d"})
	require.NoError(t, err)

	_, err = ledger.UpdateStatus(ctx, inc.ID, IncidentResolved)
	require.NoError(t, err)

	_, err = ledger.UpdateStatus(ctx, inc.ID, IncidentInvestigating)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = ledger.UpdateStatus(ctx, inc.ID, IncidentResolved)
	assert.ErrorIs(t, err, ErrInvalidTransition, "self-transition is not forward")

	_, err = ledger.UpdateStatus(ctx, "missing", IncidentResolved)
	assert.ErrorIs(t, err, ErrIncidentNotFound)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(IncidentOpen, IncidentInvestigating))
	assert.True(t, CanTransition(IncidentOpen, IncidentResolved))
	assert.True(t, CanTransition(IncidentInvestigating, IncidentResolved))
	assert.False(t, CanTransition(IncidentResolved, IncidentOpen))
	assert.False(t, CanTransition(IncidentOpen, IncidentOpen))
	assert.False(t, CanTransition(IncidentOpen, IncidentStatus("bogus")))
}

func TestCriticalIncidentFiresHook(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	var hooked []Incident
	ledger.SetCriticalHook(func(_ context.Context, inc Incident) {
		hooked = append(hooked, inc)
	})

	_, err := ledger.Create(ctx, Incident{Type: "x", Severity: SeverityMedium, Description: "d"})
	require.NoError(t, err)
	assert.Empty(t, hooked, "non-critical incidents do not trigger the hook")

	inc, err := ledger.Create(ctx, Incident{Type: "y", Severity: SeverityCritical, SubjectID: "10.0.0.1", Description: "d"})
	require.NoError(t, err)
	require.Len(t, hooked, 1)
	assert.Equal(t, inc.ID, hooked[0].ID)
}

func TestMemoryBlockStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryBlockStore()

	_, err := store.Block(ctx, BlockIP, "10.0.0.1", "test", -time.Minute)
	require.NoError(t, err)
	blocked, err := store.IsBlocked(ctx, BlockIP, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, blocked, "non-positive duration falls back to the default window")

	b, err := store.Block(ctx, BlockUser, "user-1", "fraud", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "fraud", b.Reason)

	blocked, err = store.IsBlocked(ctx, BlockUser, "user-1")
	require.NoError(t, err)
	assert.True(t, blocked)

	// Kinds are independent namespaces.
	blocked, err = store.IsBlocked(ctx, BlockIP, "user-1")
	require.NoError(t, err)
	assert.False(t, blocked)

	require.NoError(t, store.Unblock(ctx, BlockUser, "user-1"))
	blocked, err = store.IsBlocked(ctx, BlockUser, "user-1")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestMemoryFailureCounterWindow(t *testing.T) {
	ctx := context.Background()
	counter := NewMemoryFailureCounter()

	for want := int64(1); want <= 3; want++ {
		n, err := counter.Incr(ctx, "k1", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	// Separate keys count independently.
	n, err := counter.Incr(ctx, "k2", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// An elapsed window resets the count.
	n, err = counter.Incr(ctx, "k3", -time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = counter.Incr(ctx, "k3", -time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
