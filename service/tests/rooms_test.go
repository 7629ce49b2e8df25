package service_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sgarate/canvaslive/models"
	pubsubmocks "github.com/sgarate/canvaslive/pubsub/mocks"
	"github.com/sgarate/canvaslive/service"
)

// Helper to setup the service with a mock broker
func setupService(t *testing.T) (*service.Service, *pubsubmocks.MockBroker) {
	mockBroker := new(pubsubmocks.MockBroker)

	svc, err := service.NewService(mockBroker, []byte("test-secret"), "http://localhost:3000")
	require.NoError(t, err)

	return svc, mockBroker
}

// Helper that records every published envelope for later inspection
func capturePublishes(mockBroker *pubsubmocks.MockBroker) func() []service.Envelope {
	var mu sync.Mutex
	var envelopes []service.Envelope

	mockBroker.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		var env service.Envelope
		if err := json.Unmarshal(args.Get(2).([]byte), &env); err == nil {
			mu.Lock()
			envelopes = append(envelopes, env)
			mu.Unlock()
		}
	})

	return func() []service.Envelope {
		mu.Lock()
		defer mu.Unlock()
		out := make([]service.Envelope, len(envelopes))
		copy(out, envelopes)
		return out
	}
}

func payloadType(t *testing.T, env service.Envelope) string {
	var msg struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &msg))
	return msg.Type
}

func TestCreateRoomAndJoinAsOwner(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	created, err := svc.CreateRoom(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, created.RoomId)
	assert.NotEmpty(t, created.OwnerId)

	res, err := svc.JoinRoom(ctx, service.JoinParams{
		RoomId:       created.RoomId,
		ConnectionId: "conn-1",
		OwnerId:      created.OwnerId,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleOwner, res.Role)
	assert.Empty(t, res.Elements)
	assert.Empty(t, res.SessionToken, "owner joins never mint a session token")
}

func TestJoinUnknownRoom(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.JoinRoom(context.Background(), service.JoinParams{
		RoomId:       "no-such-room",
		ConnectionId: "conn-1",
		OwnerId:      "whatever",
	})
	assert.ErrorIs(t, err, service.ErrRoomNotFound)
}

func TestJoinWithoutCredentials(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	created, err := svc.CreateRoom(ctx)
	require.NoError(t, err)

	_, err = svc.JoinRoom(ctx, service.JoinParams{
		RoomId:       created.RoomId,
		ConnectionId: "conn-1",
	})
	assert.ErrorIs(t, err, service.ErrJoinUnauthorized)
}

func TestJoinWithWrongOwnerId(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	created, err := svc.CreateRoom(ctx)
	require.NoError(t, err)

	_, err = svc.JoinRoom(ctx, service.JoinParams{
		RoomId:       created.RoomId,
		ConnectionId: "conn-1",
		OwnerId:      "not-the-owner",
	})
	assert.ErrorIs(t, err, service.ErrJoinUnauthorized)
}

func TestOwnerJoinsTwice(t *testing.T) {
	// Two browser tabs present the same owner identity; both resolve to
	// owner without consuming any invite.
	svc, _ := setupService(t)
	ctx := context.Background()

	created, err := svc.CreateRoom(ctx)
	require.NoError(t, err)

	for _, connId := range []string{"tab-1", "tab-2"} {
		res, err := svc.JoinRoom(ctx, service.JoinParams{
			RoomId:       created.RoomId,
			ConnectionId: connId,
			OwnerId:      created.OwnerId,
		})
		require.NoError(t, err)
		assert.Equal(t, models.RoleOwner, res.Role)
	}
}

func TestInviteLifecycle(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	created, err := svc.CreateRoom(ctx)
	require.NoError(t, err)

	invite, err := svc.GenerateInvite(ctx, created.RoomId, created.OwnerId, models.RoleCollaborator)
	require.NoError(t, err)
	require.NotEmpty(t, invite.Token)

	resA, err := svc.JoinRoom(ctx, service.JoinParams{
		RoomId:       created.RoomId,
		ConnectionId: "conn-a",
		InviteToken:  invite.Token,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleCollaborator, resA.Role)
	assert.NotEmpty(t, resA.SessionToken, "fresh invite join mints a session token")

	// The invite is single use: the second redemption fails.
	_, err = svc.JoinRoom(ctx, service.JoinParams{
		RoomId:       created.RoomId,
		ConnectionId: "conn-b",
		InviteToken:  invite.Token,
	})
	assert.ErrorIs(t, err, service.ErrJoinUnauthorized)
}

func TestInviteRaceAdmitsExactlyOne(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	created, err := svc.CreateRoom(ctx)
	require.NoError(t, err)

	invite, err := svc.GenerateInvite(ctx, created.RoomId, created.OwnerId, models.RoleViewer)
	require.NoError(t, err)

	const racers = 16
	var wg sync.WaitGroup
	successes := make(chan struct{}, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.JoinRoom(ctx, service.JoinParams{
				RoomId:       created.RoomId,
				ConnectionId: string(rune('a' + i)),
				InviteToken:  invite.Token,
			})
			if err == nil {
				successes <- struct{}{}
			}
		}(i)
	}
	wg.Wait()
	close(successes)

	count := 0
	for range successes {
		count++
	}
	assert.Equal(t, 1, count, "exactly one racer may consume the invite")
}

func TestSessionTokenReconnect(t *testing.T) {
	svc, mockBroker := setupService(t)
	ctx := context.Background()
	mockBroker.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	created, err := svc.CreateRoom(ctx)
	require.NoError(t, err)

	invite, err := svc.GenerateInvite(ctx, created.RoomId, created.OwnerId, models.RoleCollaborator)
	require.NoError(t, err)

	first, err := svc.JoinRoom(ctx, service.JoinParams{
		RoomId:       created.RoomId,
		ConnectionId: "conn-1",
		InviteToken:  invite.Token,
	})
	require.NoError(t, err)

	// Full disconnect does not revoke the grant.
	svc.Disconnect(ctx, created.RoomId, "conn-1")

	second, err := svc.JoinRoom(ctx, service.JoinParams{
		RoomId:       created.RoomId,
		ConnectionId: "conn-2",
		SessionToken: first.SessionToken,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleCollaborator, second.Role)
	assert.Empty(t, second.SessionToken, "reconnect must not mint a new token")
}

func TestSessionTokenWrongRoom(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	roomOne, err := svc.CreateRoom(ctx)
	require.NoError(t, err)
	roomTwo, err := svc.CreateRoom(ctx)
	require.NoError(t, err)

	invite, err := svc.GenerateInvite(ctx, roomOne.RoomId, roomOne.OwnerId, models.RoleCollaborator)
	require.NoError(t, err)

	res, err := svc.JoinRoom(ctx, service.JoinParams{
		RoomId:       roomOne.RoomId,
		ConnectionId: "conn-1",
		InviteToken:  invite.Token,
	})
	require.NoError(t, err)

	_, err = svc.JoinRoom(ctx, service.JoinParams{
		RoomId:       roomTwo.RoomId,
		ConnectionId: "conn-2",
		SessionToken: res.SessionToken,
	})
	assert.ErrorIs(t, err, service.ErrJoinUnauthorized)
}

func TestSessionTokenTampered(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	created, err := svc.CreateRoom(ctx)
	require.NoError(t, err)

	invite, err := svc.GenerateInvite(ctx, created.RoomId, created.OwnerId, models.RoleViewer)
	require.NoError(t, err)

	res, err := svc.JoinRoom(ctx, service.JoinParams{
		RoomId:       created.RoomId,
		ConnectionId: "conn-1",
		InviteToken:  invite.Token,
	})
	require.NoError(t, err)

	tampered := res.SessionToken[:len(res.SessionToken)-2] + "xx"
	_, err = svc.JoinRoom(ctx, service.JoinParams{
		RoomId:       created.RoomId,
		ConnectionId: "conn-2",
		SessionToken: tampered,
	})
	assert.ErrorIs(t, err, service.ErrJoinUnauthorized)
}

func TestChangePermission(t *testing.T) {
	svc, mockBroker := setupService(t)
	ctx := context.Background()
	getEnvelopes := capturePublishes(mockBroker)

	created, err := svc.CreateRoom(ctx)
	require.NoError(t, err)

	_, err = svc.JoinRoom(ctx, service.JoinParams{
		RoomId:       created.RoomId,
		ConnectionId: "owner-conn",
		OwnerId:      created.OwnerId,
	})
	require.NoError(t, err)

	invite, err := svc.GenerateInvite(ctx, created.RoomId, created.OwnerId, models.RoleCollaborator)
	require.NoError(t, err)
	_, err = svc.JoinRoom(ctx, service.JoinParams{
		RoomId:       created.RoomId,
		ConnectionId: "collab-conn",
		InviteToken:  invite.Token,
	})
	require.NoError(t, err)

	err = svc.ChangePermission(ctx, created.RoomId, "owner-conn", "collab-conn", models.RoleViewer)
	require.NoError(t, err)

	// role-changed goes to the target only; user-list goes to the room.
	envelopes := getEnvelopes()
	require.Len(t, envelopes, 2)
	assert.Equal(t, "role-changed", payloadType(t, envelopes[0]))
	assert.Equal(t, "collab-conn", envelopes[0].TargetConn)
	assert.Equal(t, "user-list", payloadType(t, envelopes[1]))
	assert.Empty(t, envelopes[1].TargetConn)

	// The demoted connection can no longer mutate the canvas.
	err = svc.BroadcastCanvas(ctx, created.RoomId, "collab-conn", []json.RawMessage{})
	assert.ErrorIs(t, err, service.ErrViewerForbidden)
	assert.Len(t, getEnvelopes(), 2, "rejected update must not publish")
}

func TestChangePermissionRequiresOwner(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	created, err := svc.CreateRoom(ctx)
	require.NoError(t, err)

	invite, err := svc.GenerateInvite(ctx, created.RoomId, created.OwnerId, models.RoleCollaborator)
	require.NoError(t, err)
	_, err = svc.JoinRoom(ctx, service.JoinParams{
		RoomId:       created.RoomId,
		ConnectionId: "collab-conn",
		InviteToken:  invite.Token,
	})
	require.NoError(t, err)

	err = svc.ChangePermission(ctx, created.RoomId, "collab-conn", "collab-conn", models.RoleViewer)
	assert.ErrorIs(t, err, service.ErrNotOwner)
}

func TestChangePermissionCannotTargetOwner(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	created, err := svc.CreateRoom(ctx)
	require.NoError(t, err)

	for _, connId := range []string{"owner-1", "owner-2"} {
		_, err = svc.JoinRoom(ctx, service.JoinParams{
			RoomId:       created.RoomId,
			ConnectionId: connId,
			OwnerId:      created.OwnerId,
		})
		require.NoError(t, err)
	}

	err = svc.ChangePermission(ctx, created.RoomId, "owner-1", "owner-2", models.RoleViewer)
	assert.ErrorIs(t, err, service.ErrOwnerImmutable)
}

func TestChangePermissionTargetMissing(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	created, err := svc.CreateRoom(ctx)
	require.NoError(t, err)

	_, err = svc.JoinRoom(ctx, service.JoinParams{
		RoomId:       created.RoomId,
		ConnectionId: "owner-conn",
		OwnerId:      created.OwnerId,
	})
	require.NoError(t, err)

	err = svc.ChangePermission(ctx, created.RoomId, "owner-conn", "ghost-conn", models.RoleViewer)
	assert.ErrorIs(t, err, service.ErrTargetNotFound)
}

func TestChangePermissionRejectsOwnerRole(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	created, err := svc.CreateRoom(ctx)
	require.NoError(t, err)

	err = svc.ChangePermission(ctx, created.RoomId, "owner-conn", "other-conn", models.RoleOwner)
	assert.ErrorIs(t, err, service.ErrInvalidRole)
}
