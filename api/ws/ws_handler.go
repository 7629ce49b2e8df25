package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"github.com/sgarate/canvaslive/models"
	"github.com/sgarate/canvaslive/service"
)

type Handler struct {
	Service *service.Service
	Hub     *Hub
}

func NewHandler(svc *service.Service, hub *Hub) *Handler {
	return &Handler{
		Service: svc,
		Hub:     hub,
	}
}

func (h *Handler) NewWsUpgrader(requiredOrigin string) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if requiredOrigin == "" {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == requiredOrigin
		},
	}
}

// ServeWS handles websocket requests from the peer. No credential is needed
// to open the channel; authorization happens in-band on join-room.
func (h *Handler) ServeWS(wsUpgrader websocket.Upgrader, w http.ResponseWriter, r *http.Request, shutdownCtx context.Context) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade ws connection: %v", err)
		return
	}

	connUUID, err := uuid.NewV4()
	if err != nil {
		log.Printf("Failed to generate connection id: %v", err)
		conn.Close()
		return
	}

	client := NewClient(h.Hub, conn, connUUID.String(), h.HandleWsMessage)

	// Start pumps
	go client.ReadPump()
	go client.WritePump(shutdownCtx)
}

// Websocket message structs
type message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type joinRoomMessage struct {
	RoomId       string `json:"roomId"`
	OwnerId      string `json:"ownerId"`
	InviteToken  string `json:"inviteToken"`
	SessionToken string `json:"sessionToken"`
}

type canvasUpdateMessage struct {
	RoomId   string            `json:"roomId"`
	Elements []json.RawMessage `json:"elements"`
}

type elementUpdateMessage struct {
	Element json.RawMessage `json:"element"`
	Action  string          `json:"action"`
}

type changePermissionMessage struct {
	TargetConnectionId string `json:"targetConnectionId"`
	NewRole            string `json:"newRole"`
}

type canvasStateData struct {
	Elements     []json.RawMessage `json:"elements"`
	Role         models.Role       `json:"role"`
	SessionToken string            `json:"sessionToken,omitempty"`
}

type responseMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type errorData struct {
	Message string `json:"message"`
}

func (h *Handler) HandleWsMessage(client *Client, messageType int, messageBytes []byte) {
	var msg message
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		log.Printf("Invalid JSON from %s: %v", client.connId, err)
		return
	}

	switch msg.Type {
	case "join-room":
		var joinMsg joinRoomMessage
		if err := json.Unmarshal(msg.Data, &joinMsg); err != nil {
			h.sendError(client, "invalid join-room data")
			return
		}
		h.handleJoinRoom(client, joinMsg)

	case "canvas-update":
		var updateMsg canvasUpdateMessage
		if err := json.Unmarshal(msg.Data, &updateMsg); err != nil {
			h.sendError(client, "invalid canvas-update data")
			return
		}
		h.handleCanvasUpdate(client, updateMsg)

	case "element-update":
		var elementMsg elementUpdateMessage
		if err := json.Unmarshal(msg.Data, &elementMsg); err != nil {
			h.sendError(client, "invalid element-update data")
			return
		}
		h.handleElementUpdate(client, elementMsg)

	case "change-permission":
		var permMsg changePermissionMessage
		if err := json.Unmarshal(msg.Data, &permMsg); err != nil {
			h.sendError(client, "invalid change-permission data")
			return
		}
		h.handleChangePermission(client, permMsg)

	default:
		log.Printf("Unknown message type: %v", msg.Type)
	}
}

func (h *Handler) handleJoinRoom(client *Client, joinMsg joinRoomMessage) {
	if client.joinedRoom != "" {
		h.sendError(client, "already joined a room")
		return
	}

	res, err := h.Service.JoinRoom(context.Background(), service.JoinParams{
		RoomId:       joinMsg.RoomId,
		ConnectionId: client.connId,
		OwnerId:      joinMsg.OwnerId,
		InviteToken:  joinMsg.InviteToken,
		SessionToken: joinMsg.SessionToken,
	})
	if err != nil {
		h.sendError(client, err.Error())
		return
	}

	client.joinedRoom = joinMsg.RoomId

	// The snapshot must reach the joiner before any relayed traffic; it is
	// queued on the send channel ahead of the hub attach.
	h.send(client, responseMessage{
		Type: "canvas-state",
		Data: canvasStateData{
			Elements:     res.Elements,
			Role:         res.Role,
			SessionToken: res.SessionToken,
		},
	})

	h.Hub.Attach(client, joinMsg.RoomId)
}

func (h *Handler) handleCanvasUpdate(client *Client, updateMsg canvasUpdateMessage) {
	if client.joinedRoom == "" {
		h.sendError(client, "join a room first")
		return
	}
	if updateMsg.RoomId != "" && updateMsg.RoomId != client.joinedRoom {
		h.sendError(client, "room mismatch")
		return
	}

	err := h.Service.BroadcastCanvas(context.Background(), client.joinedRoom, client.connId, updateMsg.Elements)
	if err != nil {
		h.sendError(client, err.Error())
	}
}

func (h *Handler) handleElementUpdate(client *Client, elementMsg elementUpdateMessage) {
	if client.joinedRoom == "" {
		h.sendError(client, "join a room first")
		return
	}

	action, err := models.ParseElementAction(elementMsg.Action)
	if err != nil {
		h.sendError(client, err.Error())
		return
	}

	err = h.Service.ApplyElement(context.Background(), client.joinedRoom, client.connId, elementMsg.Element, action)
	if err != nil {
		h.sendError(client, err.Error())
	}
}

func (h *Handler) handleChangePermission(client *Client, permMsg changePermissionMessage) {
	if client.joinedRoom == "" {
		h.sendError(client, "join a room first")
		return
	}

	newRole, err := models.ParseRole(permMsg.NewRole)
	if err != nil {
		h.sendError(client, err.Error())
		return
	}

	err = h.Service.ChangePermission(context.Background(), client.joinedRoom, client.connId, permMsg.TargetConnectionId, newRole)
	if err != nil {
		h.sendError(client, err.Error())
	}
}

func (h *Handler) send(client *Client, resp responseMessage) {
	respBytes, err := json.Marshal(resp)
	if err != nil {
		log.Printf("Error marshaling response JSON: %v", err)
		return
	}
	client.Send <- respBytes
}

func (h *Handler) sendError(client *Client, message string) {
	h.send(client, responseMessage{
		Type: "error",
		Data: errorData{Message: message},
	})
}
