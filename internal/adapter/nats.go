package adapter

import (
	"github.com/nats-io/nats.go"
)

// NatsConn defines an interface for NATS connection operations to enable mocking
//
//go:generate mockgen -source=nats.go -destination=../mocks/nats.go -package=mocks -mock_names=NatsConn=MockNatsConn
type NatsConn interface {
	Subscribe(subject string, handler nats.MsgHandler) (Subscription, error)
	IsConnected() bool
	ConnectedUrl() string
	Drain() error
	Close()
}

// Subscription defines an interface for NATS subscriptions to enable mocking
type Subscription interface {
	Unsubscribe() error
}

// Nats defines an interface for creating NATS connections
type Nats interface {
	Connect(url string, options ...nats.Option) (NatsConn, error)
}

// RealNats implements Nats using the standard nats package
type RealNats struct{}

// NewNats creates a new real NATS connector
func NewNats() Nats {
	return &RealNats{}
}

func (n *RealNats) Connect(url string, options ...nats.Option) (NatsConn, error) {
	nc, err := nats.Connect(url, options...)
	if err != nil {
		return nil, err
	}
	return &natsConnAdapter{nc: nc}, nil
}

// natsConnAdapter adapts *nats.Conn to the NatsConn interface.
// The adapter is necessary because Subscribe returns our Subscription
// interface rather than *nats.Subscription.
type natsConnAdapter struct {
	nc *nats.Conn
}

func (a *natsConnAdapter) Subscribe(subject string, handler nats.MsgHandler) (Subscription, error) {
	return a.nc.Subscribe(subject, handler)
}

func (a *natsConnAdapter) IsConnected() bool {
	return a.nc.IsConnected()
}

func (a *natsConnAdapter) ConnectedUrl() string {
	return a.nc.ConnectedUrl()
}

func (a *natsConnAdapter) Drain() error {
	return a.nc.Drain()
}

func (a *natsConnAdapter) Close() {
	a.nc.Close()
}
