// Package client is the collaboration adapter for the canvaslive realtime
// protocol. It bridges a locally edited canvas document to the server:
// joining a room, applying remote state, and forwarding local changes when
// the granted role permits. Applying remote state suppresses the local
// change detector for a short guard window so relayed updates are never
// re-broadcast as if they were local edits.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sgarate/canvaslive/models"
	"github.com/sgarate/canvaslive/service"
)

const (
	defaultGuardWindow      = 100 * time.Millisecond
	defaultHandshakeTimeout = 10 * time.Second
)

var ErrViewerForbidden = errors.New("viewers cannot modify the canvas")

// Handlers are the application callbacks. All of them are optional and are
// invoked from the adapter's read goroutine.
type Handlers struct {
	// OnElements delivers the full element set after remote state is applied.
	OnElements func(elements []json.RawMessage)
	// OnUserList delivers the room's ordered participant list.
	OnUserList func(users []models.Participant)
	// OnRoleChanged fires when the owner reassigns this connection's role.
	OnRoleChanged func(newRole models.Role)
	// OnSessionToken delivers a newly minted session token. Callers should
	// persist it keyed by room id and re-present it on reconnect.
	OnSessionToken func(token string)
	// OnError delivers server-reported, non-fatal errors.
	OnError func(message string)
	// OnDisconnect fires once when the connection drops.
	OnDisconnect func(err error)
}

type Options struct {
	// URL of the websocket endpoint, e.g. ws://localhost:3002/ws.
	URL    string
	RoomId string

	// Exactly one credential is honored, in this precedence: OwnerId,
	// SessionToken, InviteToken. All may be empty only for a room that
	// cannot be joined.
	OwnerId      string
	SessionToken string
	InviteToken  string

	Handlers Handlers

	// GuardWindow overrides the remote-apply suppression window.
	GuardWindow time.Duration

	// HandshakeTimeout bounds the join exchange. A deadline on the Dial
	// context takes precedence when it is sooner.
	HandshakeTimeout time.Duration
}

type Client struct {
	conn *websocket.Conn
	opts Options

	mu         sync.Mutex
	role       models.Role
	elements   []json.RawMessage
	lastKnown  []byte // JSON encoding of elements at last broadcast/apply
	guardUntil time.Time
	closed     bool
}

type frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type inFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type joinRoomData struct {
	RoomId       string `json:"roomId"`
	OwnerId      string `json:"ownerId,omitempty"`
	InviteToken  string `json:"inviteToken,omitempty"`
	SessionToken string `json:"sessionToken,omitempty"`
}

type canvasStateData struct {
	Elements     []json.RawMessage `json:"elements"`
	Role         models.Role       `json:"role"`
	SessionToken string            `json:"sessionToken"`
}

type errorData struct {
	Message string `json:"message"`
}

// Dial connects, joins the room and waits for the canvas-state snapshot.
// The returned client has already applied the snapshot; a join rejected by
// the server surfaces as an error here, not via Handlers.OnError.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.GuardWindow == 0 {
		opts.GuardWindow = defaultGuardWindow
	}
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		return nil, err
	}

	c := &Client{conn: conn, opts: opts}

	join := frame{
		Type: "join-room",
		Data: joinRoomData{
			RoomId:       opts.RoomId,
			OwnerId:      opts.OwnerId,
			InviteToken:  opts.InviteToken,
			SessionToken: opts.SessionToken,
		},
	}
	if err := conn.WriteJSON(join); err != nil {
		conn.Close()
		return nil, err
	}

	// The join response is the first frame: canvas-state on success, error
	// on a rejected credential.
	var resp inFrame
	deadline := time.Now().Add(opts.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)
	if err := conn.ReadJSON(&resp); err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetReadDeadline(time.Time{})

	switch resp.Type {
	case "canvas-state":
		var state canvasStateData
		if err := json.Unmarshal(resp.Data, &state); err != nil {
			conn.Close()
			return nil, err
		}
		c.role = state.Role
		c.setElementsLocked(state.Elements)
		if state.SessionToken != "" && opts.Handlers.OnSessionToken != nil {
			opts.Handlers.OnSessionToken(state.SessionToken)
		}
		if opts.Handlers.OnElements != nil {
			opts.Handlers.OnElements(state.Elements)
		}

	case "error":
		var errMsg errorData
		if err := json.Unmarshal(resp.Data, &errMsg); err == nil && errMsg.Message != "" {
			conn.Close()
			return nil, fmt.Errorf("join rejected: %s", errMsg.Message)
		}
		conn.Close()
		return nil, errors.New("join rejected")

	default:
		conn.Close()
		return nil, fmt.Errorf("unexpected join response: %s", resp.Type)
	}

	go c.readLoop()

	return c, nil
}

// Role returns the currently granted role; it changes only when the owner
// reassigns it.
func (c *Client) Role() models.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Elements returns a copy of the adapter's view of the shared document.
func (c *Client) Elements() []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]json.RawMessage, len(c.elements))
	copy(out, c.elements)
	return out
}

func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

// SyncElements is the local change detector. It compares the document
// against the last broadcast/applied value and emits a canvas-update only
// when they differ, the role permits editing, and no remote apply happened
// within the guard window. Suppressed calls return nil: the change stays
// local and a later call outside the window picks it up.
func (c *Client) SyncElements(elements []json.RawMessage) error {
	encoded, err := json.Marshal(elements)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.role == models.RoleViewer {
		return nil
	}
	if time.Now().Before(c.guardUntil) {
		return nil
	}
	if bytes.Equal(encoded, c.lastKnown) {
		return nil
	}

	c.elements = elements
	c.lastKnown = encoded

	return c.writeLocked(frame{
		Type: "canvas-update",
		Data: service.CanvasUpdateData{Elements: elements},
	})
}

// SendElementUpdate forwards a targeted add/update/delete. The operation is
// applied to the adapter's own view first so a following SyncElements call
// does not re-broadcast it as a full update.
func (c *Client) SendElementUpdate(element json.RawMessage, action models.ElementAction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.role == models.RoleViewer {
		return ErrViewerForbidden
	}

	c.setElementsLocked(applyElement(c.elements, element, action))

	return c.writeLocked(frame{
		Type: "element-update",
		Data: service.ElementUpdateData{Element: element, Action: action},
	})
}

// ChangePermission asks the server to reassign another participant's role.
// The server enforces that only the owner may do this.
func (c *Client) ChangePermission(targetConnectionId string, newRole models.Role) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.writeLocked(frame{
		Type: "change-permission",
		Data: map[string]string{
			"targetConnectionId": targetConnectionId,
			"newRole":            string(newRole),
		},
	})
}

func (c *Client) readLoop() {
	for {
		var msg inFrame
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed && c.opts.Handlers.OnDisconnect != nil {
				c.opts.Handlers.OnDisconnect(err)
			}
			return
		}

		switch msg.Type {
		case "canvas-update":
			var data service.CanvasUpdateData
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				continue
			}
			c.applyRemote(data.Elements)

		case "element-update":
			var data service.ElementUpdateData
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				continue
			}
			c.mu.Lock()
			updated := applyElement(c.elements, data.Element, data.Action)
			c.setElementsLocked(updated)
			c.guardUntil = time.Now().Add(c.opts.GuardWindow)
			c.mu.Unlock()
			if c.opts.Handlers.OnElements != nil {
				c.opts.Handlers.OnElements(updated)
			}

		case "user-list":
			var data service.UserListData
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				continue
			}
			if c.opts.Handlers.OnUserList != nil {
				c.opts.Handlers.OnUserList(data.Users)
			}

		case "role-changed":
			var data service.RoleChangedData
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				continue
			}
			c.mu.Lock()
			c.role = data.NewRole
			c.mu.Unlock()
			if c.opts.Handlers.OnRoleChanged != nil {
				c.opts.Handlers.OnRoleChanged(data.NewRole)
			}

		case "error":
			var data errorData
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				continue
			}
			if c.opts.Handlers.OnError != nil {
				c.opts.Handlers.OnError(data.Message)
			}
		}
	}
}

func (c *Client) applyRemote(elements []json.RawMessage) {
	c.mu.Lock()
	c.setElementsLocked(elements)
	c.guardUntil = time.Now().Add(c.opts.GuardWindow)
	c.mu.Unlock()
	if c.opts.Handlers.OnElements != nil {
		c.opts.Handlers.OnElements(elements)
	}
}

func (c *Client) setElementsLocked(elements []json.RawMessage) {
	c.elements = elements
	if encoded, err := json.Marshal(elements); err == nil {
		c.lastKnown = encoded
	}
}

// writeLocked serializes outbound frames; the read loop is the only other
// goroutine touching the connection, which gorilla/websocket permits.
func (c *Client) writeLocked(f frame) error {
	return c.conn.WriteJSON(f)
}

func applyElement(elements []json.RawMessage, element json.RawMessage, action models.ElementAction) []json.RawMessage {
	elementId, err := models.ElementID(element)
	if err != nil {
		return elements
	}

	switch action {
	case models.ElementAdd:
		return append(elements, element)

	case models.ElementUpdate:
		updated := make([]json.RawMessage, len(elements))
		for i, existing := range elements {
			if id, err := models.ElementID(existing); err == nil && id == elementId {
				updated[i] = element
			} else {
				updated[i] = existing
			}
		}
		return updated

	case models.ElementDelete:
		updated := make([]json.RawMessage, 0, len(elements))
		for _, existing := range elements {
			if id, err := models.ElementID(existing); err == nil && id == elementId {
				continue
			}
			updated = append(updated, existing)
		}
		return updated
	}

	return elements
}
