package risk

import (
	"context"
	"math"
	"time"

	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/security"
)

// Traffic carries an API-usage sample for bot scoring.
type Traffic struct {
	IP                string
	UserAgent         string
	Intervals         []time.Duration // inter-request gaps, most recent window
	RequestsPerMinute float64
}

// Timing regularity thresholds: short, machine-steady request gaps.
const (
	regularMeanMax   = 2 * time.Second
	regularVariation = 0.2 // coefficient of variation below this is "too regular"
	highRPM          = 120
)

// AssessTraffic scores an API traffic pattern for bot likelihood. Scores
// above 90 trigger an automatic temporary IP block without human
// intervention.
func (s *Scorer) AssessTraffic(ctx context.Context, t Traffic) (Assessment, error) {
	score := 0
	var factors []string

	add := func(points int, factor string) {
		score += points
		factors = append(factors, factor)
	}

	if suspiciousAgent(t.UserAgent) {
		add(35, "bot_user_agent")
	}
	if t.UserAgent == "" {
		add(15, "missing_user_agent")
	}
	if regularTiming(t.Intervals) {
		add(35, "regular_timing")
	}
	if t.RequestsPerMinute > highRPM {
		add(25, "request_rate")
	}

	assessment := finalize(t.IP, score, factors, s.now())
	assessment.RecommendedAction = botActionFor(assessment.Score)
	if err := s.recordAssessment(ctx, assessment, "bot"); err != nil {
		return Assessment{}, err
	}

	if assessment.Score > botAutoBlockScore {
		if _, err := s.blocks.Block(ctx, security.BlockIP, t.IP, "automated bot traffic", security.DefaultBlockDuration); err != nil {
			return assessment, err
		}
		if _, err := s.ledger.Append(ctx, security.Event{
			Type:      security.EventIPBlocked,
			Severity:  security.SeverityHigh,
			SubjectID: t.IP,
			Details: map[string]any{
				"reason": "bot score auto-block",
				"score":  assessment.Score,
			},
		}); err != nil {
			return assessment, err
		}
	}
	return assessment, nil
}

// regularTiming detects low-variance inter-request intervals under a short
// mean: humans do not click every 800ms ± 50ms.
func regularTiming(intervals []time.Duration) bool {
	if len(intervals) < 5 {
		return false
	}

	var sum float64
	for _, d := range intervals {
		sum += d.Seconds()
	}
	mean := sum / float64(len(intervals))
	if mean <= 0 || mean > regularMeanMax.Seconds() {
		return false
	}

	var variance float64
	for _, d := range intervals {
		diff := d.Seconds() - mean
		variance += diff * diff
	}
	variance /= float64(len(intervals))

	return math.Sqrt(variance)/mean < regularVariation
}
