package ws

import (
	"context"
	"encoding/json"
	"log"

	"github.com/sgarate/canvaslive/pubsub"
	"github.com/sgarate/canvaslive/service"
)

type attach struct {
	client *Client
	roomId string
}

type delivery struct {
	roomId string
	env    service.Envelope
}

// Hub fans room broadcasts out to the local websocket connections. It runs
// as a single goroutine: attach, detach and delivery are processed
// sequentially from channels, so the room maps have one writer. Broadcasts
// arrive through the broker, which also carries them to any other server
// instance holding connections for the same room.
type Hub struct {
	svc    *service.Service
	broker pubsub.Broker

	JoinCh  chan attach
	CloseCh chan *Client

	deliverCh     chan delivery
	roomToClients map[string]map[*Client]struct{}
	roomSubCancel map[string]context.CancelFunc

	// detached holds clients whose close was processed before their attach;
	// the pending attach must not register a dead connection.
	detached map[*Client]struct{}
}

func NewHub(svc *service.Service, broker pubsub.Broker) *Hub {
	return &Hub{
		svc:           svc,
		broker:        broker,
		JoinCh:        make(chan attach, 256),
		CloseCh:       make(chan *Client, 256),
		deliverCh:     make(chan delivery, 1024),
		roomToClients: make(map[string]map[*Client]struct{}),
		roomSubCancel: make(map[string]context.CancelFunc),
		detached:      make(map[*Client]struct{}),
	}
}

// Attach registers a joined client for room fanout.
func (h *Hub) Attach(client *Client, roomId string) {
	h.JoinCh <- attach{client: client, roomId: roomId}
}

func (h *Hub) Run() {
	for {
		select {
		case a := <-h.JoinCh:
			if _, ok := h.detached[a.client]; ok {
				delete(h.detached, a.client)
				continue
			}

			if _, ok := h.roomToClients[a.roomId]; !ok {
				ctx, cancel := context.WithCancel(context.Background())
				roomId := a.roomId

				err := h.broker.Subscribe(ctx, service.RoomChannel(roomId), func(messageBytes []byte) {
					var env service.Envelope
					if err := json.Unmarshal(messageBytes, &env); err != nil {
						log.Printf("Failed to unmarshal envelope for room %s: %v", roomId, err)
						return
					}
					h.deliverCh <- delivery{roomId: roomId, env: env}
				})
				if err != nil {
					log.Printf("Failed to subscribe to room %s: %v", roomId, err)
					cancel()
					continue
				}

				h.roomToClients[roomId] = make(map[*Client]struct{})
				h.roomSubCancel[roomId] = cancel
			}
			h.roomToClients[a.roomId][a.client] = struct{}{}

			// Published after the attach so the joiner sees the list that
			// includes itself.
			h.svc.PublishUserList(context.Background(), a.roomId)

		case client := <-h.CloseCh:
			roomId := client.joinedRoom
			if roomId == "" {
				continue
			}
			clients, ok := h.roomToClients[roomId]
			if _, attached := clients[client]; ok && attached {
				delete(clients, client)
				if len(clients) == 0 {
					if cancel, ok := h.roomSubCancel[roomId]; ok {
						cancel()
						delete(h.roomSubCancel, roomId)
					}
					delete(h.roomToClients, roomId)
				}
			} else {
				// The close overtook the attach; mark it so the attach is
				// dropped when it arrives.
				h.detached[client] = struct{}{}
			}
			h.svc.Disconnect(context.Background(), roomId, client.connId)

		case d := <-h.deliverCh:
			for client := range h.roomToClients[d.roomId] {
				if d.env.TargetConn != "" && client.connId != d.env.TargetConn {
					continue
				}
				if d.env.SenderConn != "" && client.connId == d.env.SenderConn {
					continue
				}
				select {
				case client.Send <- []byte(d.env.Payload):
				default:
					log.Printf("Dropping message to slow connection %s", client.connId)
				}
			}
		}
	}
}
