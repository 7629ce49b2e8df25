package service

import (
	"errors"
	"sync"

	"github.com/sgarate/canvaslive/pubsub"
)

// Service owns all room state: participants, invite tokens, session grants
// and the cached canvas snapshot per room. Every mutation goes through its
// methods under one mutex, so handlers never touch shared state directly.
// State lives only in process memory; rooms disappear on restart.
type Service struct {
	Broker        pubsub.Broker
	SessionSecret []byte
	AppOrigin     string

	mu    sync.Mutex
	rooms map[string]*room
}

func NewService(broker pubsub.Broker, sessionSecret []byte, appOrigin string) (*Service, error) {
	if broker == nil {
		return nil, errors.New("broker is required")
	}
	if len(sessionSecret) == 0 {
		return nil, errors.New("session secret is required")
	}

	return &Service{
		Broker:        broker,
		SessionSecret: sessionSecret,
		AppOrigin:     appOrigin,
		rooms:         make(map[string]*room),
	}, nil
}
