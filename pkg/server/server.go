// Package server wires the HTTP surface of the verification and risk engine.
// Transport concerns live here; business logic stays in recon, risk and
// security.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/api"
	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/config"
	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/notify"
	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/recon"
	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/risk"
	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/security"
)

// Server holds the request-scoped collaborators behind the HTTP handlers.
type Server struct {
	cfg       *config.Config
	matcher   *recon.Matcher
	scorer    *risk.Scorer
	ledger    security.Ledger
	incidents security.Incidents
	blocks    security.BlockStore
	unmatched notify.UnmatchedStore
	idem      *api.IdempotencyStore
	limiter   *api.RateLimiter
	logger    *slog.Logger
}

// New assembles a server. All dependencies are injected; nothing global.
func New(cfg *config.Config, matcher *recon.Matcher, scorer *risk.Scorer, ledger security.Ledger, incidents security.Incidents, blocks security.BlockStore, unmatched notify.UnmatchedStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		matcher:   matcher,
		scorer:    scorer,
		ledger:    ledger,
		incidents: incidents,
		blocks:    blocks,
		unmatched: unmatched,
		idem:      api.NewIdempotencyStore(24 * time.Hour),
		limiter:   api.NewRateLimiter(10, 30),
		logger:    logger,
	}
}

// Handler builds the route table. Each path maps to one typed request
// variant; no string-path dispatch inside handlers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	internal := api.InternalAuthMiddleware(s.cfg.InternalAPISecret)
	rateLimited := api.RateLimitMiddleware(s.limiter)
	idempotent := api.IdempotencyMiddleware(s.idem)

	mux.Handle("POST /verification/submit-slip", internal(idempotent(http.HandlerFunc(s.handleSubmitSlip))))
	mux.Handle("POST /webhook/bank-email", http.HandlerFunc(s.handleBankEmailWebhook))

	mux.Handle("POST /monitor/login-attempt", internal(rateLimited(http.HandlerFunc(s.handleLoginAttempt))))
	mux.Handle("POST /monitor/transaction", internal(rateLimited(http.HandlerFunc(s.handleTransaction))))
	mux.Handle("POST /monitor/api-usage", internal(rateLimited(http.HandlerFunc(s.handleAPIUsage))))
	mux.Handle("POST /detect/fraud", internal(rateLimited(http.HandlerFunc(s.handleTransaction))))
	mux.Handle("POST /detect/anomaly", internal(rateLimited(http.HandlerFunc(s.handleLoginAttempt))))
	mux.Handle("POST /detect/bot-activity", internal(rateLimited(http.HandlerFunc(s.handleAPIUsage))))

	mux.Handle("POST /security/block-ip", s.management(s.handleBlockIP))
	mux.Handle("POST /security/unblock-ip", s.management(s.handleUnblockIP))
	mux.Handle("POST /security/block-user", s.management(s.handleBlockUser))
	mux.Handle("POST /security/incident", s.management(s.handleIncident))
	mux.Handle("GET /security/events", s.management(s.handleQueryEvents))
	mux.Handle("GET /security/unmatched", s.management(s.handleUnmatched))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return api.RequestIDMiddleware(mux)
}

// management accepts either the internal shared secret or an operator JWT.
func (s *Server) management(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if api.CheckInternalSecret(r, s.cfg.InternalAPISecret) {
			h(w, r)
			return
		}
		if _, err := api.CheckOperatorToken(r, s.cfg.OperatorJWTSecret); err == nil {
			h(w, r)
			return
		}
		s.logAuthFailure(r, "management endpoint")
		api.WriteUnauthorized(w, "", s.cfg.DefaultLanguage)
	})
}

// logAuthFailure durably records a rejected authentication before the
// response is written.
func (s *Server) logAuthFailure(r *http.Request, surface string) {
	if _, err := s.ledger.Append(r.Context(), security.Event{
		Type:      security.EventAuthFailure,
		Severity:  security.SeverityMedium,
		SubjectID: api.ClientIP(r),
		Details: map[string]any{
			"surface": surface,
			"path":    r.URL.Path,
		},
	}); err != nil {
		s.logger.ErrorContext(r.Context(), "failed to log auth failure", "error", err)
	}
}
