package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/api"
	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/security"
)

type blockRequest struct {
	Target          string `json:"target"`
	Reason          string `json:"reason"`
	DurationMinutes int    `json:"durationMinutes"`
}

func (s *Server) handleBlockIP(w http.ResponseWriter, r *http.Request) {
	s.handleBlock(w, r, security.BlockIP, security.EventIPBlocked)
}

func (s *Server) handleBlockUser(w http.ResponseWriter, r *http.Request) {
	s.handleBlock(w, r, security.BlockUser, security.EventUserBlocked)
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request, kind security.BlockKind, eventType string) {
	body, err := api.ReadBody(r)
	if err != nil {
		api.WriteBadRequest(w, "unreadable request body")
		return
	}
	if err := api.ValidateBody(api.BlockTargetSchema, body); err != nil {
		api.WriteBadRequest(w, err.Error())
		return
	}

	var req blockRequest
	if err := json.Unmarshal(body, &req); err != nil {
		api.WriteBadRequest(w, "invalid JSON body")
		return
	}

	duration := time.Duration(req.DurationMinutes) * time.Minute
	block, err := s.blocks.Block(r.Context(), kind, req.Target, req.Reason, duration)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "block failed", "error", err, "target", req.Target)
		api.WriteInternalError(w, s.cfg.DefaultLanguage)
		return
	}

	if _, err := s.ledger.Append(r.Context(), security.Event{
		Type:      eventType,
		Severity:  security.SeverityMedium,
		SubjectID: req.Target,
		Details: map[string]any{
			"reason":     req.Reason,
			"expires_at": block.ExpiresAt,
			"operator":   true,
		},
	}); err != nil {
		s.logger.ErrorContext(r.Context(), "failed to audit block", "error", err)
		api.WriteInternalError(w, s.cfg.DefaultLanguage)
		return
	}
	api.WriteJSON(w, http.StatusOK, block)
}

func (s *Server) handleUnblockIP(w http.ResponseWriter, r *http.Request) {
	body, err := api.ReadBody(r)
	if err != nil {
		api.WriteBadRequest(w, "unreadable request body")
		return
	}

	var req blockRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Target == "" {
		api.WriteBadRequest(w, "target is required")
		return
	}

	if err := s.blocks.Unblock(r.Context(), security.BlockIP, req.Target); err != nil {
		s.logger.ErrorContext(r.Context(), "unblock failed", "error", err, "target", req.Target)
		api.WriteInternalError(w, s.cfg.DefaultLanguage)
		return
	}

	if _, err := s.ledger.Append(r.Context(), security.Event{
		Type:      security.EventIPUnblocked,
		Severity:  security.SeverityInfo,
		SubjectID: req.Target,
	}); err != nil {
		s.logger.ErrorContext(r.Context(), "failed to audit unblock", "error", err)
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"target": req.Target, "unblocked": true})
}

type incidentRequest struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	SubjectID   string `json:"subjectId"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// handleIncident creates an incident, or advances an existing one's status
// when the body carries id+status.
func (s *Server) handleIncident(w http.ResponseWriter, r *http.Request) {
	body, err := api.ReadBody(r)
	if err != nil {
		api.WriteBadRequest(w, "unreadable request body")
		return
	}

	var req incidentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		api.WriteBadRequest(w, "invalid JSON body")
		return
	}

	if req.ID != "" && req.Status != "" {
		inc, err := s.incidents.UpdateStatus(r.Context(), req.ID, security.IncidentStatus(req.Status))
		switch {
		case errors.Is(err, security.ErrIncidentNotFound):
			api.WriteNotFound(w, "incident not found")
		case errors.Is(err, security.ErrInvalidTransition):
			api.WriteBadRequest(w, "incident status may only move forward")
		case err != nil:
			s.logger.ErrorContext(r.Context(), "incident update failed", "error", err)
			api.WriteInternalError(w, s.cfg.DefaultLanguage)
		default:
			api.WriteJSON(w, http.StatusOK, inc)
		}
		return
	}

	if req.Type == "" || req.Severity == "" || req.Description == "" {
		api.WriteBadRequest(w, "type, severity and description are required")
		return
	}

	inc, err := s.incidents.Create(r.Context(), security.Incident{
		Type:        req.Type,
		Severity:    security.Severity(req.Severity),
		SubjectID:   req.SubjectID,
		Description: req.Description,
	})
	if err != nil {
		s.logger.ErrorContext(r.Context(), "incident creation failed", "error", err)
		api.WriteInternalError(w, s.cfg.DefaultLanguage)
		return
	}
	api.WriteJSON(w, http.StatusCreated, inc)
}

func (s *Server) handleQueryEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := security.Filter{
		SubjectID: q.Get("subject"),
		Type:      q.Get("type"),
	}
	if raw := q.Get("since"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.Since = t
		}
	}
	if raw := q.Get("until"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.Until = t
		}
	}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Limit = n
		}
	}

	events, err := s.ledger.Query(r.Context(), filter)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "event query failed", "error", err)
		api.WriteInternalError(w, s.cfg.DefaultLanguage)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (s *Server) handleUnmatched(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	notifications, err := s.unmatched.Recent(r.Context(), limit)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "unmatched query failed", "error", err)
		api.WriteInternalError(w, s.cfg.DefaultLanguage)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"notifications": notifications, "count": len(notifications)})
}
