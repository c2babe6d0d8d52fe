// Package rabbitmq implements messaging.Transport on top of a RabbitMQ
// broker. Every Transport owns a dedicated connection: facades that need
// isolated consumption each construct their own transport instead of
// sharing channels.
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/edcmate-go/internal/rabbitmq"
	"github.com/glimte/edcmate-go/messaging"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is the shared topic exchange all pull and push traffic
// flows through
const DefaultExchange = "edcmate-topic-exchange"

// Transport implements messaging.Transport for RabbitMQ
type Transport struct {
	manager         *rabbitmq.ConnectionManager
	pool            *rabbitmq.ChannelPool
	topology        *rabbitmq.TopologyManager
	publisher       *rabbitmq.Publisher
	consumerOptions []rabbitmq.ConsumerOption
	exchange        string
	logger          *slog.Logger

	mu        sync.Mutex
	consumers map[string]*rabbitmq.Consumer

	closeOnce sync.Once
}

// TransportConfig holds configuration for the transport
type TransportConfig struct {
	Exchange          string
	Logger            *slog.Logger
	ConnectionOptions []rabbitmq.ConnectionOption
	PoolOptions       []rabbitmq.ChannelPoolOption
	PublisherOptions  []rabbitmq.PublisherOption
	ConsumerOptions   []rabbitmq.ConsumerOption
}

// TransportOption configures the transport
type TransportOption func(*TransportConfig)

// WithExchange overrides the topic exchange the transport declares and
// routes through
func WithExchange(name string) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.Exchange = name
	}
}

// WithTransportLogger sets the logger
func WithTransportLogger(logger *slog.Logger) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.Logger = logger
	}
}

// WithConnectionOptions sets connection options
func WithConnectionOptions(opts ...rabbitmq.ConnectionOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.ConnectionOptions = append(cfg.ConnectionOptions, opts...)
	}
}

// WithChannelPoolOptions sets channel pool options
func WithChannelPoolOptions(opts ...rabbitmq.ChannelPoolOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.PoolOptions = append(cfg.PoolOptions, opts...)
	}
}

// WithPublisherOptions sets publisher options
func WithPublisherOptions(opts ...rabbitmq.PublisherOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.PublisherOptions = append(cfg.PublisherOptions, opts...)
	}
}

// WithConsumerOptions sets extra options applied to every consumer the
// transport creates
func WithConsumerOptions(opts ...rabbitmq.ConsumerOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.ConsumerOptions = append(cfg.ConsumerOptions, opts...)
	}
}

// NewTransport connects to the broker and declares the shared topic
// exchange. Declaration is idempotent, so any number of transports can
// race on startup without conflict.
func NewTransport(ctx context.Context, connectionString string, options ...TransportOption) (*Transport, error) {
	cfg := &TransportConfig{
		Exchange: DefaultExchange,
		Logger:   slog.Default(),
	}

	for _, opt := range options {
		opt(cfg)
	}

	manager := rabbitmq.NewConnectionManager(connectionString, cfg.ConnectionOptions...)
	manager.AddStateListener(&connectionLogger{logger: cfg.Logger})

	if err := manager.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	pool, err := rabbitmq.NewChannelPool(manager, cfg.PoolOptions...)
	if err != nil {
		manager.Close()
		return nil, fmt.Errorf("failed to create channel pool: %w", err)
	}

	transport := &Transport{
		manager:         manager,
		pool:            pool,
		topology:        rabbitmq.NewTopologyManager(pool),
		publisher:       rabbitmq.NewPublisher(pool, cfg.PublisherOptions...),
		consumerOptions: cfg.ConsumerOptions,
		exchange:        cfg.Exchange,
		logger:          cfg.Logger,
		consumers:       make(map[string]*rabbitmq.Consumer),
	}

	if err := transport.topology.DeclareExchange(ctx, rabbitmq.TopicExchange(cfg.Exchange)); err != nil {
		pool.Close()
		manager.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", cfg.Exchange, err)
	}

	return transport, nil
}

// Provision declares the queue described by config, binds it to the
// shared exchange, and starts consuming into handler. The handler is
// registered before consumption starts, so a delivery arriving in the
// same instant the broker registers the consumer still lands in it.
func (t *Transport) Provision(ctx context.Context, config messaging.QueueConfig, handler messaging.DeliveryHandler) (*messaging.ProvisionedQueue, error) {
	if handler == nil {
		return nil, fmt.Errorf("%w: delivery handler is nil", messaging.ErrInvalidQueueConfig)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	declaration := rabbitmq.QueueDeclaration{
		Name:       config.Name,
		Durable:    config.Durable,
		AutoDelete: config.AutoDelete,
		Exclusive:  config.Exclusive,
		Arguments:  rabbitmq.QueueArguments(config.MessageTTL, config.QueueTTL),
	}
	if _, err := t.topology.DeclareQueue(ctx, declaration); err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", config.Name, err)
	}

	binding := rabbitmq.Binding{
		Queue:      config.Name,
		Exchange:   t.exchange,
		RoutingKey: config.BindPattern,
	}
	if err := t.topology.BindQueue(ctx, binding); err != nil {
		return nil, fmt.Errorf("failed to bind queue %s to exchange %s: %w", config.Name, t.exchange, err)
	}

	consumer := t.newConsumer(config)

	wrapped := func(ctx context.Context, delivery amqp.Delivery) error {
		return handler(ctx, &deliveryAdapter{delivery: delivery, autoAck: config.AutoAck})
	}
	if err := consumer.Subscribe(ctx, config.Name, wrapped); err != nil {
		return nil, fmt.Errorf("failed to start consuming from queue %s: %w", config.Name, err)
	}

	t.mu.Lock()
	t.consumers[config.Name] = consumer
	t.mu.Unlock()

	t.logger.Info("provisioned queue",
		"queue", config.Name,
		"bindPattern", config.BindPattern,
		"exchange", t.exchange,
	)

	return &messaging.ProvisionedQueue{
		Name:        config.Name,
		BindPattern: config.BindPattern,
		Exchange:    t.exchange,
	}, nil
}

// newConsumer builds the dedicated consumer for one provisioned queue.
// A prefetch of zero keeps the internal default rather than requesting
// an unbounded window from the broker.
func (t *Transport) newConsumer(config messaging.QueueConfig) *rabbitmq.Consumer {
	options := []rabbitmq.ConsumerOption{
		rabbitmq.WithAutoAck(config.AutoAck),
		rabbitmq.WithExclusive(config.Exclusive),
		rabbitmq.WithConsumerLogger(t.logger),
	}
	if config.PrefetchCount > 0 {
		options = append(options, rabbitmq.WithPrefetchCount(config.PrefetchCount))
	}
	options = append(options, t.consumerOptions...)

	return rabbitmq.NewConsumer(t.pool, options...)
}

// Publish sends a JSON body to the shared topic exchange under
// routingKey and waits for the broker's confirm
func (t *Transport) Publish(ctx context.Context, routingKey string, body []byte) error {
	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
	}

	return t.publisher.Publish(ctx, t.exchange, routingKey, msg)
}

// IsConnected returns connection status
func (t *Transport) IsConnected() bool {
	return t.manager.IsConnected()
}

// Close stops all consumers and releases the connection. Teardown is
// best effort: failures are logged and never propagated, so shutting a
// facade down cannot fail on broker cleanup.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		consumers := make(map[string]*rabbitmq.Consumer, len(t.consumers))
		for queue, consumer := range t.consumers {
			consumers[queue] = consumer
		}
		t.mu.Unlock()

		for queue, consumer := range consumers {
			t.logger.Info("stopping consumer", "queue", queue)
			if err := consumer.UnsubscribeAll(); err != nil {
				t.logger.Warn("failed to stop consumer", "queue", queue, "error", err)
			}
		}

		if err := t.pool.Close(); err != nil {
			t.logger.Warn("failed to close channel pool", "error", err)
		}
		if err := t.manager.Close(); err != nil {
			t.logger.Warn("failed to close connection", "error", err)
		}
	})

	return nil
}

// connectionLogger surfaces connection state transitions in the
// transport's log
type connectionLogger struct {
	logger *slog.Logger
}

func (l *connectionLogger) OnConnected() {
	l.logger.Info("broker connection established")
}

func (l *connectionLogger) OnDisconnected(err error) {
	l.logger.Warn("broker connection lost", "error", err)
}

func (l *connectionLogger) OnReconnecting(attempt int) {
	l.logger.Info("reconnecting to broker", "attempt", attempt)
}

// deliveryAdapter adapts amqp.Delivery to messaging.TransportDelivery
type deliveryAdapter struct {
	delivery amqp.Delivery
	autoAck  bool
}

// Body implements TransportDelivery
func (d *deliveryAdapter) Body() []byte {
	return d.delivery.Body
}

// Acknowledge implements TransportDelivery. Auto-acked deliveries have
// nothing left to settle, so the call is a no-op for them.
func (d *deliveryAdapter) Acknowledge() error {
	if d.autoAck {
		return nil
	}
	return d.delivery.Ack(false)
}

// Reject implements TransportDelivery
func (d *deliveryAdapter) Reject(requeue bool) error {
	if d.autoAck {
		return nil
	}
	return d.delivery.Nack(false, requeue)
}

// Headers implements TransportDelivery
func (d *deliveryAdapter) Headers() map[string]interface{} {
	headers := make(map[string]interface{})
	for k, v := range d.delivery.Headers {
		headers[k] = v
	}
	return headers
}
