package risk

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/security"
)

// TxClass differentiates transaction scoring rules.
type TxClass string

const (
	TxTransfer         TxClass = "transfer"
	TxFiatDeposit      TxClass = "fiat_deposit"
	TxCryptoWithdrawal TxClass = "crypto_withdrawal"
)

// Transaction carries the data needed to score one transaction.
type Transaction struct {
	UserID          string
	Class           TxClass
	Amount          decimal.Decimal
	Timestamp       time.Time
	ToAddress       string
	DepositsLast24h int
	PriorHighRisk   bool
}

// Per-class amount thresholds (THB).
var (
	largeTransfer     = decimal.NewFromInt(100_000)
	veryLargeTransfer = decimal.NewFromInt(500_000)
	largeDeposit      = decimal.NewFromInt(200_000)
	largeWithdrawal   = decimal.NewFromInt(100_000)
	maxDepositsPerDay = 5
	offHoursStart     = 23 // 23:00 local
	offHoursEnd       = 6  // 06:00 local
)

// Reputation looks up an IP's badness score in [0,100].
type Reputation interface {
	Score(ctx context.Context, ip string) (int, error)
}

// StaticReputation is a fixed-table Reputation for configuration-driven lists.
type StaticReputation map[string]int

func (r StaticReputation) Score(_ context.Context, ip string) (int, error) {
	return r[ip], nil
}

// Scorer evaluates risk and applies the mandated side effects.
type Scorer struct {
	ledger     security.Ledger
	incidents  security.Incidents
	blocks     security.BlockStore
	failures   security.FailureCounter
	reputation Reputation
	rules      *RuleSet
	logger     *slog.Logger

	flaggedAddresses  map[string]bool
	highRiskCountries map[string]bool

	now func() time.Time
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithRules installs operator-defined CEL rules.
func WithRules(rules *RuleSet) Option {
	return func(s *Scorer) { s.rules = rules }
}

// WithReputation installs an IP reputation source.
func WithReputation(r Reputation) Option {
	return func(s *Scorer) { s.reputation = r }
}

// WithFlaggedAddresses installs the flagged withdrawal address list.
func WithFlaggedAddresses(addrs []string) Option {
	return func(s *Scorer) {
		for _, a := range addrs {
			s.flaggedAddresses[a] = true
		}
	}
}

// WithHighRiskCountries installs the flagged country list.
func WithHighRiskCountries(countries []string) Option {
	return func(s *Scorer) {
		for _, c := range countries {
			s.highRiskCountries[c] = true
		}
	}
}

// NewScorer wires a scorer with its side-effect collaborators.
func NewScorer(ledger security.Ledger, incidents security.Incidents, blocks security.BlockStore, failures security.FailureCounter, logger *slog.Logger, opts ...Option) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scorer{
		ledger:            ledger,
		incidents:         incidents,
		blocks:            blocks,
		failures:          failures,
		logger:            logger,
		flaggedAddresses:  make(map[string]bool),
		highRiskCountries: make(map[string]bool),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AssessTransaction scores a transaction event.
func (s *Scorer) AssessTransaction(ctx context.Context, tx Transaction) (Assessment, error) {
	score := 0
	var factors []string

	add := func(points int, factor string) {
		score += points
		factors = append(factors, factor)
	}

	switch tx.Class {
	case TxTransfer:
		if tx.Amount.GreaterThan(veryLargeTransfer) {
			add(50, "very_large_transfer")
		} else if tx.Amount.GreaterThan(largeTransfer) {
			add(30, "large_transfer")
		}
	case TxFiatDeposit:
		if tx.Amount.GreaterThan(largeDeposit) {
			add(25, "large_deposit")
		}
		if tx.DepositsLast24h > maxDepositsPerDay {
			add(20, "deposit_frequency")
		}
	case TxCryptoWithdrawal:
		if tx.Amount.GreaterThan(largeWithdrawal) {
			add(30, "large_withdrawal")
		}
		if s.flaggedAddresses[tx.ToAddress] {
			add(40, "flagged_address")
		}
	}

	if offHours(tx.Timestamp) {
		add(15, "off_hours")
	}
	if tx.PriorHighRisk {
		add(20, "prior_high_risk")
	}

	if s.rules != nil {
		for _, hit := range s.rules.EvalTransaction(ctx, tx) {
			add(hit.Weight, hit.Name)
		}
	}

	assessment := finalize(tx.UserID, score, factors, s.now())
	return assessment, s.recordAssessment(ctx, assessment, "transaction")
}

// offHours reports activity outside 06:00–23:00 local time.
func offHours(t time.Time) bool {
	hour := t.Hour()
	return hour >= offHoursStart || hour < offHoursEnd
}

// recordAssessment appends the assessment to the ledger and raises an
// incident when the critical threshold is crossed.
func (s *Scorer) recordAssessment(ctx context.Context, a Assessment, kind string) error {
	severity := security.SeverityInfo
	switch a.Level {
	case LevelMedium:
		severity = security.SeverityMedium
	case LevelHigh:
		severity = security.SeverityHigh
	case LevelCritical:
		severity = security.SeverityCritical
	}

	if _, err := s.ledger.Append(ctx, security.Event{
		Type:      security.EventRiskAssessment,
		Severity:  severity,
		SubjectID: a.SubjectID,
		Details: map[string]any{
			"kind":    kind,
			"score":   a.Score,
			"level":   string(a.Level),
			"action":  string(a.RecommendedAction),
			"factors": a.Factors,
		},
	}); err != nil {
		return err
	}

	if a.Level == LevelCritical {
		if _, err := s.incidents.Create(ctx, security.Incident{
			Type:        "critical_risk_score",
			Severity:    security.SeverityCritical,
			SubjectID:   a.SubjectID,
			Description: "risk score crossed critical threshold",
		}); err != nil {
			return err
		}
	}
	return nil
}
