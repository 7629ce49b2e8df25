package pubsub

import "context"

// Broker is the broadcast backplane between the room service and the
// websocket hub. Published messages reach every subscriber of the channel,
// in per-publisher order. The broker carries only transient broadcast
// frames; room state itself stays in process memory.
type Broker interface {
	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string, handler func(message []byte)) error
}
