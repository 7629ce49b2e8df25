package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"

	"github.com/sgarate/canvaslive/models"
)

type InviteResult struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

// GenerateInvite mints a single-use, role-scoped invite token for a room and
// returns it with a ready-to-share join URL. Owner only. The token stays
// unconsumed server-side until exactly one join redeems it.
func (s *Service) GenerateInvite(ctx context.Context, roomId, ownerId string, role models.Role) (InviteResult, error) {
	if role != models.RoleCollaborator && role != models.RoleViewer {
		return InviteResult{}, ErrInvalidRole
	}

	token, err := newInviteToken()
	if err != nil {
		return InviteResult{}, err
	}

	s.mu.Lock()
	r, ok := s.rooms[roomId]
	if !ok {
		s.mu.Unlock()
		return InviteResult{}, ErrRoomNotFound
	}
	if ownerId != r.ownerId {
		s.mu.Unlock()
		return InviteResult{}, ErrNotOwner
	}
	r.invites[token] = role
	s.mu.Unlock()

	query := url.Values{}
	query.Set("room", roomId)
	query.Set("invite", token)
	joinURL := fmt.Sprintf("%s/real-time-canvas-app?%s", s.AppOrigin, query.Encode())

	return InviteResult{Token: token, URL: joinURL}, nil
}

func newInviteToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
