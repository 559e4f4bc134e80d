package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/api"
	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/extract"
	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/i18n"
	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/pending"
	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/security"
)

type submitSlipRequest struct {
	UserID        string `json:"userId"`
	DepositID     string `json:"depositId"`
	SlipImageData string `json:"slipImageData"`
	Lang          string `json:"lang"`
}

type submitSlipResponse struct {
	Success        bool           `json:"success"`
	Message        string         `json:"message"`
	VerificationID string         `json:"verification_id,omitempty"`
	ExtractedData  *extractedData `json:"extracted_data,omitempty"`
}

type extractedData struct {
	Amount          string  `json:"amount"`
	ConfidenceScore float64 `json:"confidence_score"`
}

func (s *Server) handleSubmitSlip(w http.ResponseWriter, r *http.Request) {
	body, err := api.ReadBody(r)
	if err != nil {
		api.WriteBadRequest(w, "unreadable request body")
		return
	}

	var req submitSlipRequest
	// Parse leniently first so the error message can be localized.
	_ = json.Unmarshal(body, &req)
	lang := i18n.Resolve(req.Lang)

	if err := api.ValidateBody(api.SubmitSlipSchema, body); err != nil {
		api.WriteLocalizedError(w, http.StatusBadRequest, "Bad Request", "missing_fields", lang)
		return
	}

	res, err := extract.Extract(extract.Input{Payload: req.SlipImageData, LangHint: req.Lang})
	switch {
	case errors.Is(err, extract.ErrTooLarge):
		s.auditExtractionFailure(r, req, "too_large")
		api.WriteLocalizedError(w, http.StatusBadRequest, "Bad Request", "slip_too_large", lang)
		return
	case errors.Is(err, extract.ErrEmpty):
		s.auditExtractionFailure(r, req, "empty")
		api.WriteLocalizedError(w, http.StatusBadRequest, "Bad Request", "slip_empty", lang)
		return
	case err != nil:
		s.logger.ErrorContext(r.Context(), "slip extraction failed", "error", err)
		api.WriteInternalError(w, lang)
		return
	}

	candidate, err := s.matcher.SubmitCandidate(r.Context(), req.UserID, req.DepositID, res)
	if err != nil {
		if errors.Is(err, pending.ErrDuplicate) {
			api.WriteError(w, http.StatusConflict, "Conflict", "deposit already has a pending slip")
			return
		}
		s.logger.ErrorContext(r.Context(), "candidate submission failed", "error", err,
			"deposit_id", req.DepositID)
		api.WriteInternalError(w, lang)
		return
	}

	resp := submitSlipResponse{
		Success:        candidate.Status == pending.StatusPending,
		VerificationID: candidate.DepositID,
		ExtractedData: &extractedData{
			Amount:          res.Amount.StringFixed(2),
			ConfidenceScore: res.Confidence,
		},
	}
	if resp.Success {
		resp.Message = i18n.T("slip_received", lang)
	} else {
		resp.Message = i18n.T("slip_invalid", lang)
	}
	api.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) auditExtractionFailure(r *http.Request, req submitSlipRequest, reason string) {
	if _, err := s.ledger.Append(r.Context(), security.Event{
		Type:      security.EventSlipVerificationFailed,
		Severity:  security.SeverityLow,
		SubjectID: req.UserID,
		Details: map[string]any{
			"deposit_id": req.DepositID,
			"reason":     reason,
		},
	}); err != nil {
		s.logger.ErrorContext(r.Context(), "failed to audit extraction failure", "error", err)
	}
}
