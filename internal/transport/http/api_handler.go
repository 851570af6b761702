package http

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"classpace-sync-service/internal/app"
	"classpace-sync-service/internal/domain"
)

// APIHandler is the thin REST control surface: every endpoint translates
// into the same event dispatch the websocket path uses; no extra logic
// lives here.
type APIHandler struct {
	service *app.SyncService
}

func NewAPIHandler(service *app.SyncService) *APIHandler {
	return &APIHandler{service: service}
}

// Register mounts the control endpoints on the mux.
func (h *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", h.createSession)
	mux.HandleFunc("GET /api/sessions/{id}", h.getSession)
	mux.HandleFunc("POST /api/sessions/{id}/start", h.eventEndpoint(func(json.RawMessage) (domain.ClientEvent, error) {
		return &domain.StartPresentationEvent{}, nil
	}))
	mux.HandleFunc("DELETE /api/sessions/{id}", h.eventEndpoint(func(json.RawMessage) (domain.ClientEvent, error) {
		return &domain.EndSessionEvent{}, nil
	}))
	mux.HandleFunc("POST /api/sessions/{id}/mode", h.eventEndpoint(func(body json.RawMessage) (domain.ClientEvent, error) {
		return domain.ParseClientEvent(domain.EventSetMode, body)
	}))
	mux.HandleFunc("POST /api/sessions/{id}/checkpoints", h.eventEndpoint(func(body json.RawMessage) (domain.ClientEvent, error) {
		return domain.ParseClientEvent(domain.EventSetCheckpoints, body)
	}))
	mux.HandleFunc("POST /api/sessions/{id}/lock", h.eventEndpoint(func(body json.RawMessage) (domain.ClientEvent, error) {
		return domain.ParseClientEvent(domain.EventSetLock, body)
	}))
	mux.HandleFunc("POST /api/sessions/{id}/navigate", h.eventEndpoint(func(body json.RawMessage) (domain.ClientEvent, error) {
		return domain.ParseClientEvent(domain.EventNavigate, body)
	}))
	mux.HandleFunc("GET /api/sessions/{id}/dashboard", h.getDashboard)
	mux.HandleFunc("GET /api/sessions/{id}/leaderboard", h.getLeaderboard)
}

type createSessionRequest struct {
	DeckID    string      `json:"deckId"`
	TeacherID string      `json:"teacherId"`
	Mode      domain.Mode `json:"mode,omitempty"`
}

func (h *APIHandler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeckID == "" || req.TeacherID == "" {
		writeError(w, domain.ErrInvalidPayload)
		return
	}
	info, err := h.service.StartSession(r.Context(), req.DeckID, req.TeacherID, req.Mode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (h *APIHandler) getSession(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.SessionInfo(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// eventEndpoint adapts a teacher control call into an event dispatch. The
// acting teacher is the session owner; auth mechanics are out of scope.
func (h *APIHandler) eventEndpoint(parse func(json.RawMessage) (domain.ClientEvent, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		info, err := h.service.SessionInfo(sessionID)
		if err != nil {
			writeError(w, err)
			return
		}
		var body json.RawMessage
		if r.Body != nil {
			// An empty body is fine (start/end take none); a malformed one
			// must be rejected before anything is dispatched.
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
				writeError(w, domain.ErrInvalidPayload)
				return
			}
		}
		evt, err := parse(body)
		if err != nil {
			writeError(w, err)
			return
		}
		actor := domain.Actor{Role: domain.RoleTeacher, StudentID: info.TeacherID}
		if _, err := h.service.Dispatch(r.Context(), sessionID, nil, actor, evt); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (h *APIHandler) getDashboard(w http.ResponseWriter, r *http.Request) {
	refresh := r.URL.Query().Get("refresh") == "1"
	dash, err := h.service.Dashboard(r.PathValue("id"), refresh)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dash)
}

func (h *APIHandler) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	lb, err := h.service.Leaderboard(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrDeckNotFound), errors.Is(err, domain.ErrSessionEnded):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrNotPermitted):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidPayload), errors.Is(err, domain.ErrItemNotFound), errors.Is(err, domain.ErrOptionNotFound):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrParticipantNotFound):
		status = http.StatusNotFound
	}
	writeJSON(w, status, domain.ErrorPayload{Code: domain.ErrorCode(err), Message: err.Error()})
}
