package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageHandler processes one inbound delivery. When the consumer is not
// in auto-ack mode the handler (or whoever it hands the delivery to) owns
// the acknowledgment: the consumer never acks or rejects on its behalf,
// because a delivery may be parked in a pending store long after the
// handler returns.
type MessageHandler func(ctx context.Context, delivery amqp.Delivery) error

// Consumer manages message consumption from RabbitMQ
type Consumer struct {
	pool            *ChannelPool
	prefetchCount   int
	prefetchSize    int
	autoAck         bool
	exclusive       bool
	consumerTag     string
	logger          *slog.Logger
	activeConsumers sync.Map
}

// ConsumerOption configures the consumer
type ConsumerOption func(*Consumer)

// WithPrefetchCount sets the prefetch count
func WithPrefetchCount(count int) ConsumerOption {
	return func(c *Consumer) {
		c.prefetchCount = count
	}
}

// WithAutoAck enables automatic acknowledgment on the broker side
func WithAutoAck(autoAck bool) ConsumerOption {
	return func(c *Consumer) {
		c.autoAck = autoAck
	}
}

// WithExclusive sets exclusive consumer mode
func WithExclusive(exclusive bool) ConsumerOption {
	return func(c *Consumer) {
		c.exclusive = exclusive
	}
}

// WithConsumerTag sets the consumer tag
func WithConsumerTag(tag string) ConsumerOption {
	return func(c *Consumer) {
		c.consumerTag = tag
	}
}

// WithConsumerLogger sets the logger
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// NewConsumer creates a new consumer
func NewConsumer(pool *ChannelPool, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		pool:          pool,
		prefetchCount: 10,
		prefetchSize:  0,
		autoAck:       false,
		exclusive:     false,
		consumerTag:   "",
		logger:        slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// ConsumerInfo tracks an active consumer
type ConsumerInfo struct {
	Queue       string
	ConsumerTag string
	Channel     *PooledChannel
	Cancel      context.CancelFunc
	Done        chan struct{}
}

// Subscribe starts consuming messages from a queue. The handler must be
// fully wired before Subscribe is called: deliveries can arrive on the
// internal channel the moment the broker registers the consumer.
func (c *Consumer) Subscribe(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.pool.Get(ctx)
	if err != nil {
		return &ConsumerError{
			Queue:       queue,
			ConsumerTag: c.consumerTag,
			Op:          "subscribe",
			Err:         err,
			Timestamp:   time.Now(),
		}
	}

	if !c.autoAck {
		if err := ch.Qos(c.prefetchCount, c.prefetchSize, false); err != nil {
			c.pool.Put(ch)
			return &ConsumerError{
				Queue:       queue,
				ConsumerTag: c.consumerTag,
				Op:          "set qos",
				Err:         err,
				Timestamp:   time.Now(),
			}
		}
	}

	// An explicit tag lets processMessages cancel the broker-side consumer
	// before the channel goes back to the pool.
	tag := c.consumerTag
	if tag == "" {
		tag = "edcmate-" + ch.ID()
	}

	deliveries, err := ch.Consume(
		queue,
		tag,
		c.autoAck,
		c.exclusive,
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		c.pool.Put(ch)
		return &ConsumerError{
			Queue:       queue,
			ConsumerTag: tag,
			Op:          "consume",
			Err:         err,
			Timestamp:   time.Now(),
		}
	}

	consumerCtx, cancel := context.WithCancel(ctx)

	info := &ConsumerInfo{
		Queue:       queue,
		ConsumerTag: tag,
		Channel:     ch,
		Cancel:      cancel,
		Done:        make(chan struct{}),
	}

	c.activeConsumers.Store(queue, info)

	go c.processMessages(consumerCtx, info, deliveries, handler)

	c.logger.Info("subscribed to queue",
		"queue", queue,
		"consumerTag", tag,
		"autoAck", c.autoAck,
	)

	return nil
}

// processMessages pumps deliveries into the handler until the context is
// cancelled or the delivery channel closes
func (c *Consumer) processMessages(ctx context.Context, info *ConsumerInfo, deliveries <-chan amqp.Delivery, handler MessageHandler) {
	defer func() {
		if !info.Channel.IsClosed() {
			if err := info.Channel.Cancel(info.ConsumerTag, false); err != nil {
				c.logger.Warn("failed to cancel consumer",
					"queue", info.Queue,
					"consumerTag", info.ConsumerTag,
					"error", err)
			}
		}
		c.pool.Put(info.Channel)
		c.activeConsumers.Delete(info.Queue)
		close(info.Done)
		c.logger.Info("consumer stopped", "queue", info.Queue)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("delivery channel closed", "queue", info.Queue)
				return
			}

			if err := handler(ctx, delivery); err != nil {
				c.logger.Error("failed to handle message",
					"error", err,
					"queue", info.Queue,
					"messageId", delivery.MessageId,
				)
			}
		}
	}
}

// Unsubscribe stops consuming from a queue and waits for the pump to exit
func (c *Consumer) Unsubscribe(queue string) error {
	value, ok := c.activeConsumers.Load(queue)
	if !ok {
		return fmt.Errorf("no active consumer for queue: %s", queue)
	}

	info := value.(*ConsumerInfo)
	info.Cancel()
	<-info.Done

	return nil
}

// UnsubscribeAll stops all active consumers
func (c *Consumer) UnsubscribeAll() error {
	var wg sync.WaitGroup

	c.activeConsumers.Range(func(key, value interface{}) bool {
		wg.Add(1)
		go func(queue string) {
			defer wg.Done()
			if err := c.Unsubscribe(queue); err != nil {
				c.logger.Error("failed to unsubscribe", "queue", queue, "error", err)
			}
		}(key.(string))
		return true
	})

	wg.Wait()
	return nil
}

// ActiveQueues returns the queues with a running consumer
func (c *Consumer) ActiveQueues() []string {
	var queues []string
	c.activeConsumers.Range(func(key, value interface{}) bool {
		queues = append(queues, key.(string))
		return true
	})
	return queues
}
