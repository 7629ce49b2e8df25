package redis

import (
	"context"
	"crypto/tls"
	"log"

	"github.com/redis/go-redis/v9"
)

type RedisBroker struct {
	client redis.UniversalClient
}

func NewRedisBroker(ctx context.Context, devMode bool, redisEndpoint string) (*RedisBroker, error) {
	var client redis.UniversalClient
	if devMode {
		client = redis.NewClient(&redis.Options{
			Addr: redisEndpoint,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr: redisEndpoint,
			// AWS elasticache endpoints require TLS
			TLSConfig: &tls.Config{},
		})
	}

	err := client.Ping(ctx).Err()
	if err != nil {
		return nil, err
	}

	return &RedisBroker{client: client}, nil
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, message []byte) error {
	if err := b.client.Publish(ctx, channel, message).Err(); err != nil {
		return err
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	pubsub := b.client.Subscribe(ctx, channel)
	// Ensure subscription is established before returning
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		log.Printf("Pubsub channel closed: %s", channel)
		return err
	}

	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()

	return nil
}
