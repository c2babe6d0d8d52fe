package messaging

import (
	"context"
)

// TransportDelivery represents one message delivery from the transport.
// The handle stays live after the delivery handler returns: an envelope
// parked in the store carries it until a claimant settles it.
type TransportDelivery interface {
	// Body returns the raw message body
	Body() []byte

	// Acknowledge marks the message as successfully processed
	Acknowledge() error

	// Reject rejects the message with optional requeue
	Reject(requeue bool) error

	// Headers returns message headers
	Headers() map[string]interface{}
}

// DeliveryHandler is invoked once per inbound delivery with its raw
// payload handle. A returned error is logged by the transport; the
// handler remains responsible for settling the delivery.
type DeliveryHandler func(ctx context.Context, delivery TransportDelivery) error

// ProvisionedQueue describes a queue a transport declared and bound
type ProvisionedQueue struct {
	Name        string
	BindPattern string
	Exchange    string
}

// Transport is the broker abstraction the engine runs on. Provision
// must register the handler before consumption starts so that early
// deliveries cannot be dropped, and implementations must not share
// broker connections between transports.
type Transport interface {
	// Provision declares the shared exchange (idempotently), declares
	// the queue described by config, binds it, and attaches handler
	Provision(ctx context.Context, config QueueConfig, handler DeliveryHandler) (*ProvisionedQueue, error)

	// Publish sends a JSON body to the shared exchange under routingKey
	Publish(ctx context.Context, routingKey string, body []byte) error

	// Close releases the transport's broker resources
	Close() error
}
