package service

import "errors"

// Room-scoped errors are reported to the requesting connection only and
// never affect other participants.
var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrJoinUnauthorized = errors.New("not authorized to join this room")
	ErrNotParticipant   = errors.New("connection is not a participant of this room")
	ErrNotOwner         = errors.New("only the room owner may perform this action")
	ErrTargetNotFound   = errors.New("target participant not found")
	ErrOwnerImmutable   = errors.New("the owner role cannot be reassigned")
	ErrViewerForbidden  = errors.New("viewers cannot modify the canvas")
	ErrInvalidRole      = errors.New("role must be collaborator or viewer")
)
