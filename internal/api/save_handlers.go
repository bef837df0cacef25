package api

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/savecodenow/internal/middleware"
	"github.com/JakeFAU/savecodenow/internal/savecode"
	"github.com/JakeFAU/savecodenow/internal/webhook"
)

// userHeader names the authenticated user, set by the fronting proxy.
const userHeader = "X-Remote-User"

type forbiddenResponse struct {
	Error   string               `json:"error"`
	Request savecode.SaveRequest `json:"request"`
}

type webhookResponse struct {
	Status  string                `json:"status"`
	Request *savecode.SaveRequest `json:"request,omitempty"`
}

func (s *Server) visitTypes(w http.ResponseWriter, r *http.Request) {
	types, err := s.service.SavableVisitTypes(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types)
}

func (s *Server) createForOrigin(w http.ResponseWriter, r *http.Request) {
	originURL, ok := originFromPath(w, r)
	if !ok {
		return
	}
	sub := savecode.Submitter{
		UserID:     strings.TrimSpace(r.Header.Get(userHeader)),
		Privileged: middleware.IsPrivileged(r),
	}
	req, err := s.service.Create(r.Context(), chi.URLParam(r, "visit_type"), originURL, sub)
	if errors.Is(err, savecode.ErrForbiddenOrigin) {
		writeJSON(w, http.StatusForbidden, forbiddenResponse{Error: err.Error(), Request: req})
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) listForOrigin(w http.ResponseWriter, r *http.Request) {
	originURL, ok := originFromPath(w, r)
	if !ok {
		return
	}
	reqs, err := s.service.ListForOrigin(r.Context(), chi.URLParam(r, "visit_type"), originURL)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if len(reqs) == 0 {
		writeError(w, http.StatusNotFound, "no save requests found for origin")
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (s *Server) getRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := requestIDParam(w, r)
	if !ok {
		return
	}
	req, err := s.service.Refresh(r.Context(), id)
	if errors.Is(err, savecode.ErrSchedulerUnavailable) {
		s.logger.Warn("serving stored save request, refresh failed", zap.Int64("request_id", id), zap.Error(err))
		req, err = s.service.Get(r.Context(), id)
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) listRequests(w http.ResponseWriter, r *http.Request) {
	filter, page, err := parseListQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reqs, err := s.service.List(r.Context(), filter, page)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requests": reqs,
		"limit":    page.Limit,
		"offset":   page.Offset,
	})
}

func (s *Server) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	if s.webhooks == nil {
		writeError(w, http.StatusNotFound, "webhooks are disabled")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "webhook body too large")
		return
	}
	res, err := s.webhooks.Ingest(r.Context(), chi.URLParam(r, "adapter"), r.Header, body)
	switch {
	case errors.Is(err, webhook.ErrIgnoredEvent):
		writeJSON(w, http.StatusOK, webhookResponse{Status: "ignored"})
	case errors.Is(err, savecode.ErrForbiddenOrigin):
		writeJSON(w, http.StatusForbidden, forbiddenResponse{Error: err.Error(), Request: res.Request})
	case err != nil:
		s.writeServiceError(w, r, err)
	case res.Reused:
		writeJSON(w, http.StatusOK, webhookResponse{Status: "cooldown", Request: &res.Request})
	default:
		writeJSON(w, http.StatusCreated, webhookResponse{Status: "created", Request: &res.Request})
	}
}

func originFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || strings.TrimSpace(raw) == "" {
		writeError(w, http.StatusBadRequest, "origin url required")
		return "", false
	}
	return raw, true
}

func requestIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "request_id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return 0, false
	}
	return id, true
}

func parseListQuery(q url.Values) (savecode.ListFilter, savecode.Page, error) {
	filter := savecode.ListFilter{
		Status:    savecode.RequestStatus(q.Get("status")),
		VisitType: q.Get("visit_type"),
		Query:     strings.TrimSpace(q.Get("q")),
	}
	switch filter.Status {
	case "", savecode.RequestAccepted, savecode.RequestRejected, savecode.RequestPending:
	default:
		return filter, savecode.Page{}, errors.New("invalid status")
	}
	if raw := q.Get("load_task_status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				filter.LoadingTaskStatuses = append(filter.LoadingTaskStatuses, savecode.TaskStatus(part))
			}
		}
	}
	page := savecode.Page{Limit: defaultListLimit}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return filter, page, errors.New("invalid limit")
		}
		page.Limit = min(n, maxListLimit)
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, page, errors.New("invalid offset")
		}
		page.Offset = n
	}
	return filter, page, nil
}
