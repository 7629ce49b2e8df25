package models

import (
	"encoding/json"
	"errors"
	"time"
)

// Role is a participant's permission level within a room.
type Role string

const (
	RoleOwner        Role = "owner"
	RoleCollaborator Role = "collaborator"
	RoleViewer       Role = "viewer"
)

var ErrUnknownRole = errors.New("unknown role")

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleOwner, RoleCollaborator, RoleViewer:
		return Role(s), nil
	}
	return "", ErrUnknownRole
}

// CanEdit reports whether the role may mutate the shared canvas.
func (r Role) CanEdit() bool {
	return r == RoleOwner || r == RoleCollaborator
}

// Participant is one active connection's membership in a room.
// ConnectionId is minted by the transport per connection and changes on
// reconnect; the role grant survives reconnects via session tokens, not via
// the connection.
type Participant struct {
	ConnectionId string    `json:"connectionId"`
	Role         Role      `json:"role"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// ElementAction is the operation carried by an element-update message.
type ElementAction string

const (
	ElementAdd    ElementAction = "add"
	ElementUpdate ElementAction = "update"
	ElementDelete ElementAction = "delete"
)

func ParseElementAction(s string) (ElementAction, error) {
	switch ElementAction(s) {
	case ElementAdd, ElementUpdate, ElementDelete:
		return ElementAction(s), nil
	}
	return "", errors.New("unknown element action")
}

var ErrMissingElementId = errors.New("element has no id")

// ElementID extracts the id of an otherwise opaque canvas element.
// The server never interprets element geometry or styling; the id is the only
// field needed to apply targeted add/update/delete operations to the cached
// snapshot.
func ElementID(element json.RawMessage) (string, error) {
	var ref struct {
		Id string `json:"id"`
	}
	if err := json.Unmarshal(element, &ref); err != nil {
		return "", err
	}
	if ref.Id == "" {
		return "", ErrMissingElementId
	}
	return ref.Id, nil
}
