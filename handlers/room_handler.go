package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pongarena/match-system/services"
)

type RoomHandler struct {
	rooms  services.RoomService
	logger *slog.Logger
}

func NewRoomHandler(rooms services.RoomService, logger *slog.Logger) *RoomHandler {
	return &RoomHandler{rooms: rooms, logger: logger}
}

type createRoomRequest struct {
	Name           string `json:"name"`
	ParticipantIDs []int  `json:"participant_ids"`
}

func (h *RoomHandler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := readJSON(w, r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" {
		errorResponse(w, http.StatusBadRequest, "room name is required")
		return
	}

	room, err := h.rooms.CreateRoom(r.Context(), req.Name, req.ParticipantIDs)
	if err != nil {
		mapServiceErrorToHTTP(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

type createAIRoomRequest struct {
	UserID int `json:"user_id"`
}

func (h *RoomHandler) CreateAIRoom(w http.ResponseWriter, r *http.Request) {
	var req createAIRoomRequest
	if err := readJSON(w, r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserID == 0 {
		errorResponse(w, http.StatusBadRequest, "user_id is required")
		return
	}

	room, err := h.rooms.CreateAIRoom(r.Context(), req.UserID)
	if err != nil {
		mapServiceErrorToHTTP(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (h *RoomHandler) GetRoomState(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		errorResponse(w, http.StatusBadRequest, "room name is required")
		return
	}

	room, err := h.rooms.RoomStateByName(r.Context(), name)
	if err != nil {
		mapServiceErrorToHTTP(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *RoomHandler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		errorResponse(w, http.StatusBadRequest, "room name is required")
		return
	}

	if err := h.rooms.ClearRoom(r.Context(), name); err != nil {
		mapServiceErrorToHTTP(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
