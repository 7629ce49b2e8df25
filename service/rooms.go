package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/sgarate/canvaslive/models"
)

// room is the in-memory record behind a roomId. participants keeps join
// order, which is the order the user-list message reports. elements is the
// latest canvas snapshot, relayed to new joiners; the authoritative copy
// lives with whichever client last broadcast it.
type room struct {
	ownerId      string
	createdAt    time.Time
	participants []*models.Participant
	invites      map[string]models.Role
	sessions     map[string]models.Role
	elements     []json.RawMessage
}

func (r *room) participant(connId string) *models.Participant {
	for _, p := range r.participants {
		if p.ConnectionId == connId {
			return p
		}
	}
	return nil
}

func (r *room) participantList() []models.Participant {
	users := make([]models.Participant, len(r.participants))
	for i, p := range r.participants {
		users[i] = *p
	}
	return users
}

type CreateRoomResult struct {
	RoomId  string `json:"roomId"`
	OwnerId string `json:"ownerId"`
}

// CreateRoom registers an empty room and mints its owner identity. The owner
// id is returned only to the creating client and is never broadcast.
func (s *Service) CreateRoom(ctx context.Context) (CreateRoomResult, error) {
	roomUUID, err := uuid.NewV4()
	if err != nil {
		return CreateRoomResult{}, err
	}
	ownerUUID, err := uuid.NewV4()
	if err != nil {
		return CreateRoomResult{}, err
	}

	roomId := roomUUID.String()
	ownerId := ownerUUID.String()

	s.mu.Lock()
	s.rooms[roomId] = &room{
		ownerId:   ownerId,
		createdAt: time.Now(),
		invites:   make(map[string]models.Role),
		sessions:  make(map[string]models.Role),
	}
	s.mu.Unlock()

	return CreateRoomResult{RoomId: roomId, OwnerId: ownerId}, nil
}

type JoinParams struct {
	RoomId       string
	ConnectionId string
	OwnerId      string
	InviteToken  string
	SessionToken string
}

type JoinResult struct {
	Role models.Role
	// Elements is the cached canvas snapshot, possibly empty.
	Elements []json.RawMessage
	// SessionToken is set only when a fresh invite was consumed.
	SessionToken string
}

// JoinRoom validates exactly one credential and registers the connection as
// a participant. Credential precedence: owner identity, then session token,
// then invite token. Invite consumption is first-consumer-wins; a racing
// second join with the same token fails with ErrJoinUnauthorized.
func (s *Service) JoinRoom(ctx context.Context, params JoinParams) (JoinResult, error) {
	// Parse outside the lock; the signature check needs no room state.
	var sessionRoomId, sessionJTI string
	if params.SessionToken != "" {
		sessionRoomId, sessionJTI, _ = s.parseSessionToken(params.SessionToken)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[params.RoomId]
	if !ok {
		return JoinResult{}, ErrRoomNotFound
	}

	var role models.Role
	var mintedToken string

	switch {
	case params.OwnerId != "" && params.OwnerId == r.ownerId:
		role = models.RoleOwner

	case sessionJTI != "" && sessionRoomId == params.RoomId && r.sessions[sessionJTI] != "":
		role = r.sessions[sessionJTI]

	case params.InviteToken != "" && r.invites[params.InviteToken] != "":
		role = r.invites[params.InviteToken]
		delete(r.invites, params.InviteToken)

		token, jti, err := s.mintSessionToken(params.RoomId, role)
		if err != nil {
			return JoinResult{}, err
		}
		r.sessions[jti] = role
		mintedToken = token

	default:
		return JoinResult{}, ErrJoinUnauthorized
	}

	r.participants = append(r.participants, &models.Participant{
		ConnectionId: params.ConnectionId,
		Role:         role,
		JoinedAt:     time.Now(),
	})

	elements := make([]json.RawMessage, len(r.elements))
	copy(elements, r.elements)

	return JoinResult{
		Role:         role,
		Elements:     elements,
		SessionToken: mintedToken,
	}, nil
}

// Disconnect removes the participant record for a dropped connection and
// notifies the room. Session tokens stay valid: reconnecting with the same
// token restores the same role.
func (s *Service) Disconnect(ctx context.Context, roomId string, connId string) {
	s.mu.Lock()
	r, ok := s.rooms[roomId]
	if !ok {
		s.mu.Unlock()
		return
	}

	removed := false
	for i, p := range r.participants {
		if p.ConnectionId == connId {
			r.participants = append(r.participants[:i], r.participants[i+1:]...)
			removed = true
			break
		}
	}
	users := r.participantList()
	s.mu.Unlock()

	if removed {
		s.publish(ctx, roomId, "", "", "user-list", UserListData{Users: users})
	}
}

// ChangePermission reassigns a non-owner participant's role. Owner only; the
// owner role itself is not reassignable. The target connection is notified
// directly, then the whole room gets the refreshed participant list.
func (s *Service) ChangePermission(ctx context.Context, roomId, requesterConn, targetConn string, newRole models.Role) error {
	if newRole != models.RoleCollaborator && newRole != models.RoleViewer {
		return ErrInvalidRole
	}

	s.mu.Lock()
	r, ok := s.rooms[roomId]
	if !ok {
		s.mu.Unlock()
		return ErrRoomNotFound
	}

	requester := r.participant(requesterConn)
	if requester == nil || requester.Role != models.RoleOwner {
		s.mu.Unlock()
		return ErrNotOwner
	}

	target := r.participant(targetConn)
	if target == nil {
		s.mu.Unlock()
		return ErrTargetNotFound
	}
	if target.Role == models.RoleOwner {
		s.mu.Unlock()
		return ErrOwnerImmutable
	}

	target.Role = newRole
	users := r.participantList()
	s.mu.Unlock()

	s.publish(ctx, roomId, "", targetConn, "role-changed", RoleChangedData{NewRole: newRole})
	s.publish(ctx, roomId, "", "", "user-list", UserListData{Users: users})
	return nil
}

// PublishUserList broadcasts the current ordered participant list to the
// room. Called by the hub once a joining connection is attached, so the
// joiner itself receives the list that includes it.
func (s *Service) PublishUserList(ctx context.Context, roomId string) {
	s.mu.Lock()
	r, ok := s.rooms[roomId]
	if !ok {
		s.mu.Unlock()
		return
	}
	users := r.participantList()
	s.mu.Unlock()

	s.publish(ctx, roomId, "", "", "user-list", UserListData{Users: users})
}

// Stats reports process-wide room and participant counts.
func (s *Service) Stats() (rooms int, participants int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms = len(s.rooms)
	for _, r := range s.rooms {
		participants += len(r.participants)
	}
	return rooms, participants
}
