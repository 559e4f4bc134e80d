package server

import (
	"net/http"
	"time"

	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/api"
	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/notify"
	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/recon"
	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/security"
)

type webhookResponse struct {
	Success bool   `json:"success"`
	Note    string `json:"note"`
}

// handleBankEmailWebhook ingests bank transfer notifications. Webhook
// semantics: after authentication, the response is always HTTP 200. The
// sender cannot usefully react to a 5xx, and signalling failure only causes
// infinite upstream retries. Internal errors are logged and audited instead.
func (s *Server) handleBankEmailWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := api.ReadBody(r)
	if err != nil {
		api.WriteBadRequest(w, "unreadable request body")
		return
	}

	if !s.authenticateWebhook(r, body) {
		s.logAuthFailure(r, "bank-email webhook")
		api.WriteUnauthorized(w, "", s.cfg.DefaultLanguage)
		return
	}

	n, err := notify.Parse(body, time.Now())
	if err != nil {
		// Malformed notifications are an expected hazard of email-derived
		// payloads; acknowledge and keep a trace for manual review.
		s.logger.WarnContext(r.Context(), "unparseable bank notification", "error", err)
		api.WriteJSON(w, http.StatusOK, webhookResponse{Success: false, Note: "notification not parseable"})
		return
	}

	outcome, result, err := s.matcher.Reconcile(r.Context(), n)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "reconciliation failed", "error", err)
		s.auditWebhookError(r, err)
		api.WriteJSON(w, http.StatusOK, webhookResponse{Success: false, Note: "internal error during reconciliation"})
		return
	}

	note := string(outcome)
	if result != nil {
		s.logger.InfoContext(r.Context(), "notification reconciled",
			"outcome", outcome, "deposit_id", result.DepositID)
	}
	api.WriteJSON(w, http.StatusOK, webhookResponse{
		Success: outcome == recon.OutcomeConfirmed,
		Note:    note,
	})
}

// authenticateWebhook accepts either the internal shared secret or an
// HMAC-SHA256 signature over "timestamp.body" within the replay window.
func (s *Server) authenticateWebhook(r *http.Request, body []byte) bool {
	if api.CheckInternalSecret(r, s.cfg.InternalAPISecret) {
		return true
	}
	err := api.VerifyWebhookSignature(
		s.cfg.WebhookHMACSecret,
		body,
		r.Header.Get(api.HeaderSignatureTimestamp),
		r.Header.Get(api.HeaderSignature),
		time.Now(),
	)
	return err == nil
}

func (s *Server) auditWebhookError(r *http.Request, cause error) {
	if _, err := s.ledger.Append(r.Context(), security.Event{
		Type:     "webhook_processing_error",
		Severity: security.SeverityMedium,
		Details: map[string]any{
			"path":  r.URL.Path,
			"error": cause.Error(),
		},
	}); err != nil {
		s.logger.ErrorContext(r.Context(), "failed to audit webhook error", "error", err)
	}
}
