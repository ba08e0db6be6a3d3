package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/warmtransfer/internal/domain"
	"github.com/ashureev/warmtransfer/internal/identity"
	"github.com/ashureev/warmtransfer/internal/session"
)

const (
	maxRequestBody     = 64 << 10
	defaultJoinTimeout = 30 * time.Second
)

// SessionHandler serves the tab's call session endpoints.
type SessionHandler struct {
	*Handler
	joinTimeout time.Duration
}

// NewSessionHandler creates a session handler. joinTimeout bounds a join independently
// of the request, so a tab that navigates mid-join still gets a clean failure.
func NewSessionHandler(base *Handler, joinTimeout time.Duration) *SessionHandler {
	if joinTimeout <= 0 {
		joinTimeout = defaultJoinTimeout
	}
	return &SessionHandler{Handler: base, joinTimeout: joinTimeout}
}

// RegisterRoutes registers session and room routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Route("/session", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Post("/join", h.Join)
			r.Post("/audio/toggle", h.ToggleAudio)
			r.Post("/video/toggle", h.ToggleVideo)
			r.Post("/transcript", h.AppendTranscript)
			r.Post("/transfer", h.InitiateTransfer)
			r.Post("/transfer/complete", h.CompleteTransfer)
			r.Post("/leave", h.Leave)
			r.Post("/close", h.CloseTab)
		})
		r.Get("/rooms/{room}/history", h.RoomHistory)
	})
}

func ownerFromRequest(r *http.Request) session.Owner {
	caller, _ := identity.FromContext(r.Context())
	return caller.Owner()
}

// GetMe returns the caller's anonymous identity.
func (h *SessionHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.FromContext(r.Context())
	if !ok || caller.UserID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":    caller.UserID,
		"username":   caller.Username,
		"session_id": caller.TabID,
	})
}

// GetSession returns the tab's current session snapshot.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.registry.Get(ownerFromRequest(r))
	if !ok {
		writeSessionError(w, session.ErrNoActiveSession)
		return
	}
	respond(w, ctrl.Snapshot)
}

type joinRequest struct {
	RoomName        string `json:"room_name"`
	ParticipantType string `json:"participant_type"`
}

// Join connects the tab to a room with the requested role.
func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !decodeBody(w, r, &req) {
		return
	}
	role, ok := domain.ParseRole(req.ParticipantType)
	if !ok {
		writeSessionError(w, session.ErrInvalidRole)
		return
	}

	owner := ownerFromRequest(r)
	ctrl := h.registry.Acquire(owner)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.joinTimeout)
	defer cancel()

	snap, err := ctrl.JoinRoom(ctx, req.RoomName, role)
	if err != nil {
		slog.Warn("Join failed", "user_id", owner.UserID, "session_id", owner.TabID, "room_name", req.RoomName, "error", err)
		writeSessionError(w, err)
		return
	}
	JSON(w, http.StatusOK, snap)
}

// ToggleAudio flips the local microphone.
func (h *SessionHandler) ToggleAudio(w http.ResponseWriter, r *http.Request) {
	h.withController(w, r, func(ctrl *session.Controller) (domain.Snapshot, error) {
		return ctrl.ToggleLocalAudio(r.Context())
	})
}

// ToggleVideo flips the local camera.
func (h *SessionHandler) ToggleVideo(w http.ResponseWriter, r *http.Request) {
	h.withController(w, r, func(ctrl *session.Controller) (domain.Snapshot, error) {
		return ctrl.ToggleLocalVideo(r.Context())
	})
}

type transcriptRequest struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// AppendTranscript records an utterance for the transfer summary.
func (h *SessionHandler) AppendTranscript(w http.ResponseWriter, r *http.Request) {
	var req transcriptRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.withController(w, r, func(ctrl *session.Controller) (domain.Snapshot, error) {
		return ctrl.AppendTranscript(r.Context(), req.Speaker, req.Text)
	})
}

// InitiateTransfer starts the warm transfer and returns the summary.
func (h *SessionHandler) InitiateTransfer(w http.ResponseWriter, r *http.Request) {
	h.withController(w, r, func(ctrl *session.Controller) (domain.Snapshot, error) {
		return ctrl.InitiateTransfer(r.Context())
	})
}

// CompleteTransfer hands the call over and leaves the room.
func (h *SessionHandler) CompleteTransfer(w http.ResponseWriter, r *http.Request) {
	h.withController(w, r, func(ctrl *session.Controller) (domain.Snapshot, error) {
		return ctrl.CompleteTransfer(r.Context())
	})
}

// Leave disconnects the tab from its room.
func (h *SessionHandler) Leave(w http.ResponseWriter, r *http.Request) {
	h.withController(w, r, func(ctrl *session.Controller) (domain.Snapshot, error) {
		return ctrl.LeaveCall(r.Context())
	})
}

// CloseTab forgets the tab and tears its session down without a leave notification.
// The page sends it when it unloads.
func (h *SessionHandler) CloseTab(w http.ResponseWriter, r *http.Request) {
	h.registry.Remove(ownerFromRequest(r))
	w.WriteHeader(http.StatusNoContent)
}

// roomHistoryEntry is one recorded transfer with the call it came from.
type roomHistoryEntry struct {
	domain.SummaryRecord
	Call       *domain.CallRecord       `json:"call,omitempty"`
	Transcript []domain.TranscriptEntry `json:"transcript"`
}

// RoomHistory lists recorded transfer summaries for a room with each call's transcript.
func (h *SessionHandler) RoomHistory(w http.ResponseWriter, r *http.Request) {
	room := strings.TrimSpace(chi.URLParam(r, "room"))
	if room == "" {
		Error(w, http.StatusBadRequest, session.ErrEmptyRoomName.Error())
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	summaries, err := h.repo.ListRoomSummaries(r.Context(), room, limit)
	if err != nil {
		slog.Error("Failed to list room summaries", "room_name", room, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load room history")
		return
	}
	entries := make([]roomHistoryEntry, 0, len(summaries))
	for _, summary := range summaries {
		entry := roomHistoryEntry{SummaryRecord: summary, Transcript: []domain.TranscriptEntry{}}
		call, err := h.repo.GetCall(r.Context(), summary.CallID)
		if err != nil {
			slog.Error("Failed to load call", "call_id", summary.CallID, "error", err)
			Error(w, http.StatusInternalServerError, "failed to load room history")
			return
		}
		entry.Call = call
		transcript, err := h.repo.ListTranscript(r.Context(), summary.CallID)
		if err != nil {
			slog.Error("Failed to load transcript", "call_id", summary.CallID, "error", err)
			Error(w, http.StatusInternalServerError, "failed to load room history")
			return
		}
		if transcript != nil {
			entry.Transcript = transcript
		}
		entries = append(entries, entry)
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"room_name": room,
		"summaries": entries,
	})
}

func (h *SessionHandler) withController(w http.ResponseWriter, r *http.Request, op func(*session.Controller) (domain.Snapshot, error)) {
	ctrl, ok := h.registry.Get(ownerFromRequest(r))
	if !ok {
		writeSessionError(w, session.ErrNoActiveSession)
		return
	}
	respond(w, func() (domain.Snapshot, error) { return op(ctrl) })
}

func respond(w http.ResponseWriter, op func() (domain.Snapshot, error)) {
	snap, err := op()
	if err != nil {
		writeSessionError(w, err)
		return
	}
	JSON(w, http.StatusOK, snap)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeSessionError maps controller errors onto HTTP status codes.
func writeSessionError(w http.ResponseWriter, err error) {
	var initErr *session.SessionInitError
	var permErr *session.PermissionError

	switch {
	case errors.As(err, &initErr):
		Error(w, http.StatusBadGateway, initErr.Error())
	case errors.As(err, &permErr):
		Error(w, http.StatusForbidden, permErr.Error())
	case errors.Is(err, session.ErrEmptyRoomName),
		errors.Is(err, session.ErrInvalidRole),
		errors.Is(err, session.ErrEmptyUtterance):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrNoActiveSession):
		Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrTransferNotReady),
		errors.Is(err, session.ErrStaleSession):
		Error(w, http.StatusConflict, err.Error())
	default:
		slog.Error("Unexpected session error", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
