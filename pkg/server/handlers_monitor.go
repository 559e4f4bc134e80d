package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/api"
	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/risk"
	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/totp"
)

type transactionRequest struct {
	UserID          string      `json:"userId"`
	Type            string      `json:"type"`
	Amount          json.Number `json:"amount"`
	ToAddress       string      `json:"toAddress"`
	DepositsLast24h int         `json:"depositsLast24h"`
	PriorHighRisk   bool        `json:"priorHighRisk"`
	Timestamp       string      `json:"timestamp"`
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	body, err := api.ReadBody(r)
	if err != nil {
		api.WriteBadRequest(w, "unreadable request body")
		return
	}
	if err := api.ValidateBody(api.MonitorTxSchema, body); err != nil {
		api.WriteBadRequest(w, err.Error())
		return
	}

	var req transactionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		api.WriteBadRequest(w, "invalid JSON body")
		return
	}

	amount, err := decimal.NewFromString(req.Amount.String())
	if err != nil {
		api.WriteBadRequest(w, "invalid amount")
		return
	}

	ts := time.Now()
	if req.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, req.Timestamp); err == nil {
			ts = parsed
		}
	}

	assessment, err := s.scorer.AssessTransaction(r.Context(), risk.Transaction{
		UserID:          req.UserID,
		Class:           risk.TxClass(req.Type),
		Amount:          amount,
		Timestamp:       ts,
		ToAddress:       req.ToAddress,
		DepositsLast24h: req.DepositsLast24h,
		PriorHighRisk:   req.PriorHighRisk,
	})
	if err != nil {
		s.logger.ErrorContext(r.Context(), "transaction assessment failed", "error", err)
		api.WriteInternalError(w, s.cfg.DefaultLanguage)
		return
	}
	api.WriteJSON(w, http.StatusOK, assessment)
}

type loginAttemptRequest struct {
	UserID          string   `json:"userId"`
	IP              string   `json:"ip"`
	UserAgent       string   `json:"userAgent"`
	Country         string   `json:"country"`
	RecentCountries []string `json:"recentCountries"`
	Success         bool     `json:"success"`
	TOTPFailed      bool     `json:"totpFailed"`
	TOTPCode        string   `json:"totpCode"`
	TOTPSecret      string   `json:"totpSecret"`
}

func (s *Server) handleLoginAttempt(w http.ResponseWriter, r *http.Request) {
	body, err := api.ReadBody(r)
	if err != nil {
		api.WriteBadRequest(w, "unreadable request body")
		return
	}
	if err := api.ValidateBody(api.LoginEventSchema, body); err != nil {
		api.WriteBadRequest(w, err.Error())
		return
	}

	var req loginAttemptRequest
	if err := json.Unmarshal(body, &req); err != nil {
		api.WriteBadRequest(w, "invalid JSON body")
		return
	}

	// Callers may report the 2FA outcome directly, or hand over the code
	// they received and let us check it.
	totpFailed := req.TOTPFailed
	if req.TOTPCode != "" {
		totpFailed = !totp.Verify(req.TOTPSecret, req.TOTPCode, time.Now())
	}

	assessment, err := s.scorer.AssessLogin(r.Context(), risk.Login{
		UserID:          req.UserID,
		IP:              req.IP,
		UserAgent:       req.UserAgent,
		Country:         req.Country,
		RecentCountries: req.RecentCountries,
		Success:         req.Success,
		TOTPFailed:      totpFailed,
		Timestamp:       time.Now(),
	})
	if err != nil {
		s.logger.ErrorContext(r.Context(), "login assessment failed", "error", err)
		api.WriteInternalError(w, s.cfg.DefaultLanguage)
		return
	}
	api.WriteJSON(w, http.StatusOK, assessment)
}

type apiUsageRequest struct {
	IP                string    `json:"ip"`
	UserAgent         string    `json:"userAgent"`
	IntervalsMillis   []float64 `json:"intervalsMillis"`
	RequestsPerMinute float64   `json:"requestsPerMinute"`
}

func (s *Server) handleAPIUsage(w http.ResponseWriter, r *http.Request) {
	body, err := api.ReadBody(r)
	if err != nil {
		api.WriteBadRequest(w, "unreadable request body")
		return
	}

	if err := api.ValidateBody(api.APIUsageSchema, body); err != nil {
		api.WriteBadRequest(w, err.Error())
		return
	}

	var req apiUsageRequest
	if err := json.Unmarshal(body, &req); err != nil {
		api.WriteBadRequest(w, "invalid JSON body")
		return
	}

	intervals := make([]time.Duration, 0, len(req.IntervalsMillis))
	for _, ms := range req.IntervalsMillis {
		intervals = append(intervals, time.Duration(ms*float64(time.Millisecond)))
	}

	assessment, err := s.scorer.AssessTraffic(r.Context(), risk.Traffic{
		IP:                req.IP,
		UserAgent:         req.UserAgent,
		Intervals:         intervals,
		RequestsPerMinute: req.RequestsPerMinute,
	})
	if err != nil {
		s.logger.ErrorContext(r.Context(), "traffic assessment failed", "error", err)
		api.WriteInternalError(w, s.cfg.DefaultLanguage)
		return
	}
	api.WriteJSON(w, http.StatusOK, assessment)
}
