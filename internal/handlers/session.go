package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/developers-live/live-session/internal/models"
	"github.com/developers-live/live-session/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type SessionHandler struct {
	svc *service.SessionService
	log *zap.Logger
}

func NewSessionHandler(s *service.SessionService, log *zap.Logger) *SessionHandler {
	return &SessionHandler{svc: s, log: log}
}

type enterRequest struct {
	ScheduleID int64  `json:"scheduleId"`
	UserID     int64  `json:"userId"`
	UserName   string `json:"userName"`
	RoomName   string `json:"roomName"`
	Time       int64  `json:"time"` // membership expiry in minutes
}

func (r enterRequest) validate() error {
	if err := validateID("scheduleId", r.ScheduleID); err != nil {
		return err
	}
	if err := validateID("userId", r.UserID); err != nil {
		return err
	}
	if err := validateUserName(r.UserName); err != nil {
		return err
	}
	if err := validateRoomName(r.RoomName); err != nil {
		return err
	}
	if r.Time <= 0 || r.Time > service.MaxExpiryMinutes {
		return fmt.Errorf("time must be between 1 and %d minutes", service.MaxExpiryMinutes)
	}
	return nil
}

type enterResponse struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	RoomName   string `json:"roomName"`
	UserName   string `json:"userName"`
	RoomURL    string `json:"roomUrl"`
}

type removeRequest struct {
	ScheduleID int64  `json:"scheduleId"`
	UserID     int64  `json:"userId"`
	RoomUUID   string `json:"roomUuid"` // provider-side room name
}

func (r removeRequest) validate() error {
	if err := validateID("scheduleId", r.ScheduleID); err != nil {
		return err
	}
	if err := validateID("userId", r.UserID); err != nil {
		return err
	}
	if normalizeName(r.RoomUUID) == "" {
		return fmt.Errorf("roomUuid required")
	}
	return nil
}

type removeResponse struct {
	StatusCode     int    `json:"statusCode"`
	Message        string `json:"message"`
	DeletionResult int64  `json:"deletionResult"`
}

// partialRemoveResponse is the failure body of a remove whose registry part succeeded.
type partialRemoveResponse struct {
	errorResponse
	DeletionResult int64 `json:"deletionResult"`
}

type listResponse struct {
	StatusCode     int                 `json:"statusCode"`
	Message        string              `json:"message"`
	RoomURLsByName map[string]string   `json:"roomUrlsByName"`
	MembersByName  map[string][]string `json:"membersByName"`
}

func (h *SessionHandler) Enter(w http.ResponseWriter, r *http.Request) {
	var in enterRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		respondError(w, http.StatusBadRequest, codeInvalidArgument, err.Error())
		return
	}

	res, err := h.svc.Enter(r.Context(), models.EnterRequest{
		ScheduleID:    in.ScheduleID,
		UserID:        in.UserID,
		UserName:      normalizeName(in.UserName),
		RoomName:      normalizeName(in.RoomName),
		ExpiryMinutes: in.Time,
	})
	if err != nil {
		h.writeServiceError(w, "enter", err)
		return
	}
	respondJSON(w, http.StatusOK, enterResponse{
		StatusCode: http.StatusOK,
		Message:    fmt.Sprintf("%s entered room %s", res.UserName, res.RoomName),
		RoomName:   res.RoomName,
		UserName:   res.UserName,
		RoomURL:    res.RoomURL,
	})
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.List(r.Context())
	if err != nil {
		h.writeServiceError(w, "list", err)
		return
	}
	respondJSON(w, http.StatusOK, listResponse{
		StatusCode:     http.StatusOK,
		Message:        fmt.Sprintf("%d active sessions", len(snap.Rooms)),
		RoomURLsByName: snap.URLs(),
		MembersByName:  snap.Members(),
	})
}

func (h *SessionHandler) Remove(w http.ResponseWriter, r *http.Request) {
	roomName := normalizeName(chi.URLParam(r, "roomName"))
	if err := validateRoomName(roomName); err != nil {
		respondError(w, http.StatusBadRequest, codeInvalidArgument, err.Error())
		return
	}
	var in removeRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		respondError(w, http.StatusBadRequest, codeInvalidArgument, err.Error())
		return
	}

	res, err := h.svc.Remove(r.Context(), models.RemoveRequest{
		ScheduleID:     in.ScheduleID,
		UserID:         in.UserID,
		RoomName:       roomName,
		ExternalRoomID: normalizeName(in.RoomUUID),
	})
	if errors.Is(err, service.ErrExternalProviderFailed) {
		// the registry entry is already gone; report what was deleted alongside the failure
		h.log.Error("Session request failed", zap.String("op", "remove"), zap.Error(err))
		respondJSON(w, http.StatusBadGateway, partialRemoveResponse{
			errorResponse:  errorResponse{StatusCode: http.StatusBadGateway, Code: service.Code(err), Message: err.Error()},
			DeletionResult: res.MembersDeleted,
		})
		return
	}
	if err != nil {
		h.writeServiceError(w, "remove", err)
		return
	}
	respondJSON(w, http.StatusOK, removeResponse{
		StatusCode:     http.StatusOK,
		Message:        fmt.Sprintf("room %s removed", res.RoomName),
		DeletionResult: res.MembersDeleted,
	})
}

var statusByKind = []struct {
	err    error
	status int
}{
	{service.ErrInvalidArgument, http.StatusBadRequest},
	{service.ErrScheduleNotFound, http.StatusNotFound},
	{service.ErrUnauthorized, http.StatusForbidden},
	{service.ErrRoomNotReady, http.StatusConflict},
	{service.ErrRoomCreationFailed, http.StatusBadGateway},
	{service.ErrRoomNotFound, http.StatusNotFound},
	{service.ErrNoActiveSessions, http.StatusNotFound},
	{service.ErrStoreUnavailable, http.StatusServiceUnavailable},
	{service.ErrExternalProviderFailed, http.StatusBadGateway},
}

func (h *SessionHandler) writeServiceError(w http.ResponseWriter, op string, err error) {
	for _, k := range statusByKind {
		if errors.Is(err, k.err) {
			if k.status >= http.StatusInternalServerError {
				h.log.Error("Session request failed", zap.String("op", op), zap.Error(err))
			}
			respondError(w, k.status, service.Code(err), err.Error())
			return
		}
	}
	h.log.Error("Unexpected session error", zap.String("op", op), zap.Error(err))
	respondError(w, http.StatusInternalServerError, service.Code(err), "internal error")
}
