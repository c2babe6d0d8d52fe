package messaging

import (
	"errors"
	"fmt"
	"time"

	"github.com/glimte/edcmate-go/routing"
)

var (
	// ErrInvalidQueueConfig signals a queue configuration that cannot be provisioned
	ErrInvalidQueueConfig = errors.New("messaging: invalid queue configuration")
)

// QueueConfig describes the queue a consumer facade needs. TTLs are
// expressed as durations and translated to the broker's millisecond
// arguments by the transport. An exclusive queue is private to one
// connection and removed when it drops; a non-auto-delete queue without
// TTLs will outlive its consumer, so long-lived facades should set
// QueueTTL instead of relying on out-of-band cleanup.
type QueueConfig struct {
	Name          string
	BindPattern   string
	Kind          routing.Kind
	Durable       bool
	AutoDelete    bool
	Exclusive     bool
	MessageTTL    time.Duration
	QueueTTL      time.Duration
	AutoAck       bool
	PrefetchCount int
}

// Validate reports whether the configuration is provisionable
func (c QueueConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: queue name is empty", ErrInvalidQueueConfig)
	}
	if c.BindPattern == "" {
		return fmt.Errorf("%w: bind pattern is empty", ErrInvalidQueueConfig)
	}
	if c.Kind != routing.KindPull && c.Kind != routing.KindPush {
		return fmt.Errorf("%w: unknown operation kind %q", ErrInvalidQueueConfig, string(c.Kind))
	}
	if c.MessageTTL < 0 || c.QueueTTL < 0 {
		return fmt.Errorf("%w: negative TTL", ErrInvalidQueueConfig)
	}
	return nil
}

// QueueName derives the facade queue name from the operation kind and
// the consumer's identity. Distinct consumer ids never collide on queue
// identity.
func QueueName(kind routing.Kind, consumerID string) string {
	return kind.String() + "-" + consumerID
}
