package service

import (
	"context"
	"encoding/json"
	"log"

	"github.com/sgarate/canvaslive/models"
)

// Envelope is the frame carried over the broker between the service and the
// websocket hub. Payload is the client-facing message; SenderConn excludes
// the originating connection from fanout, TargetConn restricts delivery to
// one connection.
type Envelope struct {
	SenderConn string          `json:"senderConn,omitempty"`
	TargetConn string          `json:"targetConn,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// RoomChannel names the broker channel for a room's broadcasts.
func RoomChannel(roomId string) string {
	return "room:" + roomId
}

// Broadcast payload shapes, shared with the websocket handler and the Go
// client adapter.
type CanvasUpdateData struct {
	Elements []json.RawMessage `json:"elements"`
}

type ElementUpdateData struct {
	Element json.RawMessage      `json:"element"`
	Action  models.ElementAction `json:"action"`
}

type RoleChangedData struct {
	NewRole models.Role `json:"newRole"`
}

type UserListData struct {
	Users []models.Participant `json:"users"`
}

type outMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// BroadcastCanvas replaces the room's cached snapshot with the sender's full
// element set and relays it to every other participant. Last write wins at
// message granularity; there is no merge or transform step.
func (s *Service) BroadcastCanvas(ctx context.Context, roomId, connId string, elements []json.RawMessage) error {
	s.mu.Lock()
	r, ok := s.rooms[roomId]
	if !ok {
		s.mu.Unlock()
		return ErrRoomNotFound
	}

	p := r.participant(connId)
	if p == nil {
		s.mu.Unlock()
		return ErrNotParticipant
	}
	if !p.Role.CanEdit() {
		s.mu.Unlock()
		return ErrViewerForbidden
	}

	r.elements = elements
	s.mu.Unlock()

	s.publish(ctx, roomId, connId, "", "canvas-update", CanvasUpdateData{Elements: elements})
	return nil
}

// ApplyElement applies a targeted add/update/delete to the cached snapshot
// and relays the operation. Updates and deletes that reference an unknown
// element leave the cache untouched but are still relayed, mirroring how
// clients apply them.
func (s *Service) ApplyElement(ctx context.Context, roomId, connId string, element json.RawMessage, action models.ElementAction) error {
	elementId, err := models.ElementID(element)
	if err != nil {
		return err
	}

	s.mu.Lock()
	r, ok := s.rooms[roomId]
	if !ok {
		s.mu.Unlock()
		return ErrRoomNotFound
	}

	p := r.participant(connId)
	if p == nil {
		s.mu.Unlock()
		return ErrNotParticipant
	}
	if !p.Role.CanEdit() {
		s.mu.Unlock()
		return ErrViewerForbidden
	}

	switch action {
	case models.ElementAdd:
		r.elements = append(r.elements, element)
	case models.ElementUpdate:
		for i, existing := range r.elements {
			if id, err := models.ElementID(existing); err == nil && id == elementId {
				r.elements[i] = element
				break
			}
		}
	case models.ElementDelete:
		for i, existing := range r.elements {
			if id, err := models.ElementID(existing); err == nil && id == elementId {
				r.elements = append(r.elements[:i], r.elements[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	s.publish(ctx, roomId, connId, "", "element-update", ElementUpdateData{Element: element, Action: action})
	return nil
}

// publish wraps a client-facing message in an Envelope and hands it to the
// broker. Broker failures are logged, never propagated: a failed broadcast
// must not fail the originating operation.
func (s *Service) publish(ctx context.Context, roomId, senderConn, targetConn, msgType string, data any) {
	payload, err := json.Marshal(outMessage{Type: msgType, Data: data})
	if err != nil {
		log.Printf("Failed to marshal %s payload: %v", msgType, err)
		return
	}

	env := Envelope{
		SenderConn: senderConn,
		TargetConn: targetConn,
		Payload:    payload,
	}
	envBytes, err := json.Marshal(env)
	if err != nil {
		log.Printf("Failed to marshal envelope: %v", err)
		return
	}

	if err := s.Broker.Publish(ctx, RoomChannel(roomId), envBytes); err != nil {
		log.Printf("Failed to publish %s to room %s: %v", msgType, roomId, err)
	}
}
