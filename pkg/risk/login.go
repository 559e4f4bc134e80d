package risk

import (
	"context"
	"strings"
	"time"

	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/security"
)

// Login carries one login attempt for scoring.
type Login struct {
	UserID          string
	IP              string
	UserAgent       string
	Country         string
	RecentCountries []string
	Success         bool
	TOTPFailed      bool
	Timestamp       time.Time
}

// badAgentVocabulary flags automation tooling posing as a login client.
var badAgentVocabulary = []string{
	"bot", "crawler", "spider", "scraper", "curl", "wget", "python-requests",
	"go-http-client", "httpclient", "headless",
}

func suspiciousAgent(ua string) bool {
	lower := strings.ToLower(ua)
	for _, bad := range badAgentVocabulary {
		if strings.Contains(lower, bad) {
			return true
		}
	}
	return false
}

// AssessLogin scores a login attempt. Failed attempts feed the brute-force
// counters; five failures within an hour for the same IP or username trigger
// a temporary IP block and an incident.
func (s *Scorer) AssessLogin(ctx context.Context, login Login) (Assessment, error) {
	score := 0
	var factors []string

	add := func(points int, factor string) {
		score += points
		factors = append(factors, factor)
	}

	if suspiciousAgent(login.UserAgent) {
		add(25, "suspicious_user_agent")
	}
	if login.UserAgent == "" {
		add(10, "missing_user_agent")
	}
	if login.TOTPFailed {
		add(15, "totp_failure")
	}
	if geoAnomaly(login.Country, login.RecentCountries) {
		add(30, "geo_anomaly")
	}
	if s.highRiskCountries[login.Country] {
		add(20, "high_risk_country")
	}

	if s.reputation != nil && login.IP != "" {
		rep, err := s.reputation.Score(ctx, login.IP)
		if err != nil {
			s.logger.WarnContext(ctx, "ip reputation lookup failed", "ip", login.IP, "error", err)
		} else if rep > 50 {
			add(25, "bad_ip_reputation")
		}
	}

	if !login.Success {
		brute, err := s.trackFailure(ctx, login)
		if err != nil {
			return Assessment{}, err
		}
		if brute {
			add(40, "brute_force")
		}
	}

	subject := login.UserID
	if subject == "" {
		subject = login.IP
	}
	assessment := finalize(subject, score, factors, s.now())
	return assessment, s.recordAssessment(ctx, assessment, "login")
}

// geoAnomaly reports a sudden country change absent from recent logins.
func geoAnomaly(country string, recent []string) bool {
	if country == "" || len(recent) == 0 {
		return false
	}
	for _, c := range recent {
		if strings.EqualFold(c, country) {
			return false
		}
	}
	return true
}

// trackFailure increments both the IP and username failure counters and, on
// crossing the brute-force limit, blocks the IP and opens an incident.
func (s *Scorer) trackFailure(ctx context.Context, login Login) (bool, error) {
	var worst int64
	for _, key := range []string{"login_fail:ip:" + login.IP, "login_fail:user:" + login.UserID} {
		if strings.HasSuffix(key, ":") {
			continue
		}
		n, err := s.failures.Incr(ctx, key, BruteForceWindow)
		if err != nil {
			return false, err
		}
		if n > worst {
			worst = n
		}
	}

	if worst < BruteForceLimit {
		return false, nil
	}

	if _, err := s.blocks.Block(ctx, security.BlockIP, login.IP, "brute force login pattern", security.DefaultBlockDuration); err != nil {
		return true, err
	}
	if _, err := s.ledger.Append(ctx, security.Event{
		Type:      security.EventBruteForceDetected,
		Severity:  security.SeverityHigh,
		SubjectID: login.IP,
		Details: map[string]any{
			"user_id":  login.UserID,
			"failures": worst,
		},
	}); err != nil {
		return true, err
	}
	if _, err := s.incidents.Create(ctx, security.Incident{
		Type:        "brute_force_login",
		Severity:    security.SeverityHigh,
		SubjectID:   login.IP,
		Description: "repeated login failures within one hour",
	}); err != nil {
		return true, err
	}
	return true, nil
}
