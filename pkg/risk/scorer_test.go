package risk

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/security"
)

var dayTime = time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)

type riskFixture struct {
	ledger *security.MemoryLedger
	blocks *security.MemoryBlockStore
	scorer *Scorer
}

func newRiskFixture(t *testing.T, opts ...Option) *riskFixture {
	t.Helper()
	f := &riskFixture{
		ledger: security.NewMemoryLedger(),
		blocks: security.NewMemoryBlockStore(),
	}
	f.scorer = NewScorer(f.ledger, f.ledger, f.blocks, security.NewMemoryFailureCounter(), slog.Default(), opts...)
	f.scorer.now = func() time.Time { return dayTime }
	return f
}

func (f *riskFixture) events(t *testing.T, eventType string) []security.Event {
	t.Helper()
	events, err := f.ledger.Query(context.Background(), security.Filter{Type: eventType})
	require.NoError(t, err)
	return events
}

func TestAssessTransactionLargeTransfer(t *testing.T) {
	ctx := context.Background()
	f := newRiskFixture(t)

	a, err := f.scorer.AssessTransaction(ctx, Transaction{
		UserID:    "user-1",
		Class:     TxTransfer,
		Amount:    decimal.NewFromInt(150_000),
		Timestamp: dayTime,
	})
	require.NoError(t, err)

	assert.Equal(t, 30, a.Score)
	assert.Contains(t, a.Factors, "large_transfer")
	assert.Equal(t, LevelLow, a.Level)
	assert.Equal(t, ActionAllow, a.RecommendedAction)
}

func TestAssessTransactionVeryLargeOffHours(t *testing.T) {
	ctx := context.Background()
	f := newRiskFixture(t)

	a, err := f.scorer.AssessTransaction(ctx, Transaction{
		UserID:        "user-1",
		Class:         TxTransfer,
		Amount:        decimal.NewFromInt(600_000),
		Timestamp:     time.Date(2025, 6, 15, 23, 30, 0, 0, time.UTC),
		PriorHighRisk: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 85, a.Score)
	assert.ElementsMatch(t, []string{"very_large_transfer", "off_hours", "prior_high_risk"}, a.Factors)
	assert.Equal(t, LevelHigh, a.Level)
	assert.Equal(t, ActionBlock, a.RecommendedAction)
}

func TestAssessTransactionDepositFrequency(t *testing.T) {
	ctx := context.Background()
	f := newRiskFixture(t)

	a, err := f.scorer.AssessTransaction(ctx, Transaction{
		UserID:          "user-1",
		Class:           TxFiatDeposit,
		Amount:          decimal.NewFromInt(250_000),
		Timestamp:       dayTime,
		DepositsLast24h: 7,
	})
	require.NoError(t, err)

	assert.Equal(t, 45, a.Score)
	assert.ElementsMatch(t, []string{"large_deposit", "deposit_frequency"}, a.Factors)
	assert.Equal(t, LevelMedium, a.Level)
}

func TestAssessTransactionCriticalOpensIncident(t *testing.T) {
	ctx := context.Background()
	f := newRiskFixture(t, WithFlaggedAddresses([]string{"0xbad"}))

	a, err := f.scorer.AssessTransaction(ctx, Transaction{
		UserID:        "user-1",
		Class:         TxCryptoWithdrawal,
		Amount:        decimal.NewFromInt(150_000),
		Timestamp:     time.Date(2025, 6, 15, 2, 0, 0, 0, time.UTC),
		ToAddress:     "0xbad",
		PriorHighRisk: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 100, a.Score, "score clamps at 100")
	assert.Equal(t, LevelCritical, a.Level)
	assert.Equal(t, ActionBlock, a.RecommendedAction)

	incidents := f.events(t, security.EventIncidentCreated)
	require.Len(t, incidents, 1)
	assert.Equal(t, "critical_risk_score", incidents[0].Details["incident_type"])
}

func TestAssessTransactionCustomRules(t *testing.T) {
	ctx := context.Background()

	rules, err := NewRuleSet([]Rule{
		{Name: "midsize_transfer", Expr: `class == "transfer" && amount > 50000.0`, Weight: 10},
		{Name: "never_fires", Expr: `deposits_24h > 100`, Weight: 99},
	}, slog.Default())
	require.NoError(t, err)

	f := newRiskFixture(t, WithRules(rules))

	a, err := f.scorer.AssessTransaction(ctx, Transaction{
		UserID:    "user-1",
		Class:     TxTransfer,
		Amount:    decimal.NewFromInt(60_000),
		Timestamp: dayTime,
	})
	require.NoError(t, err)

	assert.Equal(t, 10, a.Score)
	assert.Equal(t, []string{"midsize_transfer"}, a.Factors)
}

func TestNewRuleSetRejectsBadExpression(t *testing.T) {
	_, err := NewRuleSet([]Rule{{Name: "broken", Expr: "amount >>> 5", Weight: 1}}, slog.Default())
	assert.Error(t, err)
}

func TestAssessLoginFactors(t *testing.T) {
	ctx := context.Background()
	f := newRiskFixture(t,
		WithHighRiskCountries([]string{"XX"}),
		WithReputation(StaticReputation{"10.0.0.9": 80}),
	)

	a, err := f.scorer.AssessLogin(ctx, Login{
		UserID:          "user-1",
		IP:              "10.0.0.9",
		UserAgent:       "python-requests/2.31",
		Country:         "XX",
		RecentCountries: []string{"TH", "TH"},
		Success:         true,
		Timestamp:       dayTime,
	})
	require.NoError(t, err)

	assert.ElementsMatch(t,
		[]string{"suspicious_user_agent", "geo_anomaly", "high_risk_country", "bad_ip_reputation"},
		a.Factors)
	assert.Equal(t, 100, a.Score)
	assert.Equal(t, LevelCritical, a.Level)
}

func TestAssessLoginBruteForceBlocksIP(t *testing.T) {
	ctx := context.Background()
	f := newRiskFixture(t)

	login := Login{
		UserID:    "user-1",
		IP:        "10.0.0.5",
		UserAgent: "Mozilla/5.0",
		Success:   false,
		Timestamp: dayTime,
	}

	for i := 0; i < BruteForceLimit-1; i++ {
		a, err := f.scorer.AssessLogin(ctx, login)
		require.NoError(t, err)
		assert.NotContains(t, a.Factors, "brute_force")
	}

	a, err := f.scorer.AssessLogin(ctx, login)
	require.NoError(t, err)
	assert.Contains(t, a.Factors, "brute_force")

	blocked, err := f.blocks.IsBlocked(ctx, security.BlockIP, "10.0.0.5")
	require.NoError(t, err)
	assert.True(t, blocked)

	assert.Len(t, f.events(t, security.EventBruteForceDetected), 1)
	incidents := f.events(t, security.EventIncidentCreated)
	require.Len(t, incidents, 1)
	assert.Equal(t, "brute_force_login", incidents[0].Details["incident_type"])
}

func TestAssessLoginCountsFailuresPerUserAcrossIPs(t *testing.T) {
	ctx := context.Background()
	f := newRiskFixture(t)

	for i := 0; i < BruteForceLimit; i++ {
		login := Login{
			UserID:    "user-1",
			IP:        "10.0.0." + string(rune('1'+i)),
			UserAgent: "Mozilla/5.0",
			Success:   false,
			Timestamp: dayTime,
		}
		a, err := f.scorer.AssessLogin(ctx, login)
		require.NoError(t, err)
		if i == BruteForceLimit-1 {
			assert.Contains(t, a.Factors, "brute_force", "rotating IPs must not evade the per-user counter")
		}
	}
}

func TestAssessTrafficAutoBlock(t *testing.T) {
	ctx := context.Background()
	f := newRiskFixture(t)

	intervals := make([]time.Duration, 8)
	for i := range intervals {
		intervals[i] = 800 * time.Millisecond
	}

	a, err := f.scorer.AssessTraffic(ctx, Traffic{
		IP:                "10.0.0.7",
		UserAgent:         "python-requests/2.31",
		Intervals:         intervals,
		RequestsPerMinute: 200,
	})
	require.NoError(t, err)

	assert.Equal(t, 95, a.Score)
	assert.Equal(t, ActionBlock, a.RecommendedAction)
	assert.ElementsMatch(t, []string{"bot_user_agent", "regular_timing", "request_rate"}, a.Factors)

	blocked, err := f.blocks.IsBlocked(ctx, security.BlockIP, "10.0.0.7")
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.Len(t, f.events(t, security.EventIPBlocked), 1)
}

func TestAssessTrafficChallengeRange(t *testing.T) {
	ctx := context.Background()
	f := newRiskFixture(t)

	intervals := make([]time.Duration, 8)
	for i := range intervals {
		intervals[i] = 800 * time.Millisecond
	}

	a, err := f.scorer.AssessTraffic(ctx, Traffic{
		IP:                "10.0.0.8",
		UserAgent:         "curl/8.0",
		Intervals:         intervals,
		RequestsPerMinute: 30,
	})
	require.NoError(t, err)

	assert.Equal(t, 70, a.Score)
	assert.Equal(t, ActionChallenge, a.RecommendedAction)

	blocked, err := f.blocks.IsBlocked(ctx, security.BlockIP, "10.0.0.8")
	require.NoError(t, err)
	assert.False(t, blocked, "scores at or below 90 never auto-block")
}

func TestAssessTrafficAllowRange(t *testing.T) {
	ctx := context.Background()
	f := newRiskFixture(t)

	a, err := f.scorer.AssessTraffic(ctx, Traffic{
		IP:                "10.0.0.9",
		UserAgent:         "Mozilla/5.0 (Macintosh)",
		Intervals:         []time.Duration{3 * time.Second, 12 * time.Second, time.Second, 40 * time.Second, 7 * time.Second},
		RequestsPerMinute: 200,
	})
	require.NoError(t, err)

	assert.Equal(t, 25, a.Score)
	assert.Equal(t, ActionAllow, a.RecommendedAction)
}

func TestRegularTiming(t *testing.T) {
	steady := []time.Duration{800 * time.Millisecond, 810 * time.Millisecond, 790 * time.Millisecond, 805 * time.Millisecond, 795 * time.Millisecond}
	assert.True(t, regularTiming(steady))

	human := []time.Duration{2 * time.Second, 15 * time.Second, 500 * time.Millisecond, 45 * time.Second, 8 * time.Second}
	assert.False(t, regularTiming(human))

	assert.False(t, regularTiming(steady[:4]), "too few samples to judge")

	slowSteady := []time.Duration{30 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second}
	assert.False(t, regularTiming(slowSteady), "slow polling is not bot-like")
}
