package rabbitmq

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// TopologyManager declares exchanges, queues, and bindings
type TopologyManager struct {
	pool *ChannelPool
}

// ExchangeDeclaration defines an exchange to be declared
type ExchangeDeclaration struct {
	Name       string
	Type       string
	Durable    bool
	AutoDelete bool
	Arguments  amqp.Table
}

// QueueDeclaration defines a queue to be declared
type QueueDeclaration struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Arguments  amqp.Table
}

// Binding defines a queue-to-exchange binding
type Binding struct {
	Queue      string
	Exchange   string
	RoutingKey string
	Arguments  amqp.Table
}

// TopicExchange returns the declaration for a durable topic exchange
func TopicExchange(name string) ExchangeDeclaration {
	return ExchangeDeclaration{
		Name:    name,
		Type:    "topic",
		Durable: true,
	}
}

// QueueArguments builds the queue argument table for the given expiry
// policy. RabbitMQ expects both TTLs in milliseconds: x-message-ttl drops
// individual messages, x-expires drops the unused queue itself. Returns
// nil when neither is set.
func QueueArguments(messageTTL, queueTTL time.Duration) amqp.Table {
	if messageTTL <= 0 && queueTTL <= 0 {
		return nil
	}

	args := amqp.Table{}
	if messageTTL > 0 {
		args["x-message-ttl"] = messageTTL.Milliseconds()
	}
	if queueTTL > 0 {
		args["x-expires"] = queueTTL.Milliseconds()
	}
	return args
}

// NewTopologyManager creates a new topology manager
func NewTopologyManager(pool *ChannelPool) *TopologyManager {
	return &TopologyManager{
		pool: pool,
	}
}

// DeclareExchange declares a single exchange. Declaring an existing
// exchange with identical parameters is a no-op on the broker, so this
// is safe to call repeatedly.
func (tm *TopologyManager) DeclareExchange(ctx context.Context, exchange ExchangeDeclaration) error {
	err := tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		return ch.ExchangeDeclare(
			exchange.Name,
			exchange.Type,
			exchange.Durable,
			exchange.AutoDelete,
			false, // internal
			false, // no-wait
			exchange.Arguments,
		)
	})
	if err != nil {
		return &TopologyError{
			Component: "exchange",
			Name:      exchange.Name,
			Op:        "declare",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	return nil
}

// DeclareQueue declares a single queue
func (tm *TopologyManager) DeclareQueue(ctx context.Context, queue QueueDeclaration) (amqp.Queue, error) {
	var q amqp.Queue
	err := tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		var err error
		q, err = ch.QueueDeclare(
			queue.Name,
			queue.Durable,
			queue.AutoDelete,
			queue.Exclusive,
			false, // no-wait
			queue.Arguments,
		)
		return err
	})
	if err != nil {
		return q, &TopologyError{
			Component: "queue",
			Name:      queue.Name,
			Op:        "declare",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	return q, nil
}

// BindQueue creates a queue binding
func (tm *TopologyManager) BindQueue(ctx context.Context, binding Binding) error {
	err := tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		return ch.QueueBind(
			binding.Queue,
			binding.RoutingKey,
			binding.Exchange,
			false, // no-wait
			binding.Arguments,
		)
	})
	if err != nil {
		return &TopologyError{
			Component: "binding",
			Name:      binding.Queue + " -> " + binding.Exchange,
			Op:        "bind",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	return nil
}

// DeleteQueue deletes a queue
func (tm *TopologyManager) DeleteQueue(ctx context.Context, name string, ifUnused, ifEmpty bool) error {
	err := tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		_, err := ch.QueueDelete(name, ifUnused, ifEmpty, false)
		return err
	})
	if err != nil {
		return &TopologyError{
			Component: "queue",
			Name:      name,
			Op:        "delete",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	return nil
}
