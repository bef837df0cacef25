package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/savecodenow/internal/savecode"
)

type moderationRequest struct {
	Note string `json:"note"`
}

type originRequest struct {
	URL string `json:"url"`
}

type moderateFunc func(ctx context.Context, id int64, note string) (savecode.SaveRequest, error)

func (s *Server) acceptRequest(w http.ResponseWriter, r *http.Request) {
	s.moderate(w, r, s.service.Accept)
}

func (s *Server) rejectRequest(w http.ResponseWriter, r *http.Request) {
	s.moderate(w, r, s.service.Reject)
}

func (s *Server) moderate(w http.ResponseWriter, r *http.Request, action moderateFunc) {
	id, ok := requestIDParam(w, r)
	if !ok {
		return
	}
	var body moderationRequest
	if !decodeOptionalJSON(w, r, &body) {
		return
	}
	req, err := action(r.Context(), id, strings.TrimSpace(body.Note))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) deleteRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := requestIDParam(w, r)
	if !ok {
		return
	}
	if err := s.service.Delete(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) refreshPending(w http.ResponseWriter, r *http.Request) {
	refreshed, err := s.service.RefreshPending(r.Context())
	if err != nil {
		s.logger.Warn("admin refresh incomplete", zap.Int("refreshed", len(refreshed)), zap.Error(err))
		writeJSON(w, statusFor(err), map[string]any{
			"refreshed": len(refreshed),
			"error":     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"refreshed": len(refreshed)})
}

func (s *Server) listOrigins(kind savecode.OriginListKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prefixes, err := s.service.ListOrigins(r.Context(), kind)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, prefixes)
	}
}

func (s *Server) addOrigin(kind savecode.OriginListKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prefix, ok := originPrefix(w, r)
		if !ok {
			return
		}
		if err := s.service.AddOrigin(r.Context(), kind, prefix); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"url": prefix, "list": string(kind)})
	}
}

func (s *Server) removeOrigin(kind savecode.OriginListKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prefix, ok := originPrefix(w, r)
		if !ok {
			return
		}
		if err := s.service.RemoveOrigin(r.Context(), kind, prefix); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// originPrefix reads the prefix from ?url= or a JSON body {"url": ...}.
func originPrefix(w http.ResponseWriter, r *http.Request) (string, bool) {
	prefix := strings.TrimSpace(r.URL.Query().Get("url"))
	if prefix == "" {
		var body originRequest
		if !decodeOptionalJSON(w, r, &body) {
			return "", false
		}
		prefix = strings.TrimSpace(body.URL)
	}
	if prefix == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return "", false
	}
	return prefix, true
}

// decodeOptionalJSON decodes the body into dst; an empty body is fine.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		return true
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid JSON")
	return false
}
