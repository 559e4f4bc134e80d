// Package risk computes weighted fraud/bot/abuse scores for transactions,
// logins and traffic patterns, and drives auto-block decisions.
//
// Scoring itself is pure: independently weighted factors summed and clamped
// to [0,100]. Side effects (ledger append, incident creation, temporary
// blocks) happen around the pure computation.
package risk

import "time"

// Level buckets a score for reporting.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Action is the gate recommendation attached to an assessment.
type Action string

const (
	ActionAllow     Action = "allow"
	ActionChallenge Action = "challenge"
	ActionBlock     Action = "block"
)

// Assessment is one risk evaluation. Produced fresh per call and appended to
// the security ledger for trend analysis; never mutated after creation.
type Assessment struct {
	SubjectID         string    `json:"subject_id"`
	Score             int       `json:"score"`
	Factors           []string  `json:"factors"`
	Level             Level     `json:"level"`
	RecommendedAction Action    `json:"recommended_action"`
	AssessedAt        time.Time `json:"assessed_at"`
}

// Score thresholds.
const (
	mediumThreshold    = 40
	highThreshold      = 70
	criticalThreshold  = 90
	challengeThreshold = 60
	blockThreshold     = 80
	// botAutoBlockScore is the hard auto-block line for bot assessments.
	botAutoBlockScore = 90
)

// BruteForceLimit is the failed-login count within BruteForceWindow that
// triggers a temporary block.
const (
	BruteForceLimit  = 5
	BruteForceWindow = time.Hour
)

func levelFor(score int) Level {
	switch {
	case score >= criticalThreshold:
		return LevelCritical
	case score >= highThreshold:
		return LevelHigh
	case score >= mediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

func actionFor(score int) Action {
	switch {
	case score > blockThreshold:
		return ActionBlock
	case score >= challengeThreshold:
		return ActionChallenge
	default:
		return ActionAllow
	}
}

// botActionFor maps bot scores to actions: blocked only past the auto-block
// line, challenged anywhere above the challenge threshold.
func botActionFor(score int) Action {
	switch {
	case score > botAutoBlockScore:
		return ActionBlock
	case score > challengeThreshold:
		return ActionChallenge
	default:
		return ActionAllow
	}
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// finalize builds an immutable Assessment from accumulated factors.
func finalize(subjectID string, score int, factors []string, at time.Time) Assessment {
	score = clampScore(score)
	return Assessment{
		SubjectID:         subjectID,
		Score:             score,
		Factors:           factors,
		Level:             levelFor(score),
		RecommendedAction: actionFor(score),
		AssessedAt:        at,
	}
}
