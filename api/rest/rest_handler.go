package rest

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/sgarate/canvaslive/models"
	"github.com/sgarate/canvaslive/service"
)

type Handler struct {
	Service *service.Service
}

func NewHandler(svc *service.Service) *Handler {
	return &Handler{Service: svc}
}

type createRoomResponse struct {
	RoomId  string `json:"roomId"`
	OwnerId string `json:"ownerId"`
}

func (h *Handler) HandleCreateRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	res, err := h.Service.CreateRoom(r.Context())
	if err != nil {
		log.Printf("Create room failed: %v", err)
		http.Error(w, "failed to create room", http.StatusInternalServerError)
		return
	}

	h.sendResponse(w, createRoomResponse{
		RoomId:  res.RoomId,
		OwnerId: res.OwnerId,
	})
}

type inviteRequest struct {
	OwnerId string `json:"ownerId"`
	Role    string `json:"role"`
}

type inviteResponse struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

// HandleRooms routes /api/rooms/{roomId}/invite. Room ids are opaque path
// segments, so the path is split by hand.
func (h *Handler) HandleRooms(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "invite" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.handleGenerateInvite(w, r, parts[0])
}

func (h *Handler) handleGenerateInvite(w http.ResponseWriter, r *http.Request, roomId string) {
	var req inviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	role, err := models.ParseRole(req.Role)
	if err != nil {
		http.Error(w, "invalid role", http.StatusBadRequest)
		return
	}

	res, err := h.Service.GenerateInvite(r.Context(), roomId, req.OwnerId, role)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRoomNotFound):
			http.Error(w, "room not found", http.StatusNotFound)
		case errors.Is(err, service.ErrNotOwner):
			http.Error(w, "not authorized", http.StatusUnauthorized)
		case errors.Is(err, service.ErrInvalidRole):
			http.Error(w, "invalid role", http.StatusBadRequest)
		default:
			log.Printf("Generate invite failed: %v", err)
			http.Error(w, "failed to generate invite", http.StatusInternalServerError)
		}
		return
	}

	h.sendResponse(w, inviteResponse{
		URL:   res.URL,
		Token: res.Token,
	})
}

func (h *Handler) sendResponse(w http.ResponseWriter, resp any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
