package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/edcmate-go/messages"
	"github.com/glimte/edcmate-go/routing"
)

// DefaultWaitTimeout applies when a wait is invoked without a positive
// timeout and the facade was not configured with its own default
const DefaultWaitTimeout = 60 * time.Second

// consumerOptions collects the facade tuning knobs
type consumerOptions struct {
	providerHost      string
	transferProcessID string
	pathSegments      []string
	durable           bool
	autoDelete        bool
	exclusive         bool
	messageTTL        time.Duration
	queueTTL          time.Duration
	autoAck           bool
	prefetchCount     int
	defaultTimeout    time.Duration
	pollInterval      time.Duration
	logger            *slog.Logger
}

// ConsumerOption configures a queue consumer
type ConsumerOption func(*consumerOptions)

// WithProviderHost scopes a pull consumer's binding to one provider host
func WithProviderHost(host string) ConsumerOption {
	return func(o *consumerOptions) {
		o.providerHost = host
	}
}

// WithTransferProcess narrows a pull consumer's binding to a single
// transfer process. Requires a provider host scope; without one the
// binding stays unscoped because the routing key's host token cannot be
// wildcarded on its own.
func WithTransferProcess(id string) ConsumerOption {
	return func(o *consumerOptions) {
		o.transferProcessID = id
	}
}

// WithRoutingPath scopes a push consumer's binding to the given path segments
func WithRoutingPath(segments ...string) ConsumerOption {
	return func(o *consumerOptions) {
		o.pathSegments = segments
	}
}

// WithDurableQueue declares the queue durable
func WithDurableQueue(durable bool) ConsumerOption {
	return func(o *consumerOptions) {
		o.durable = durable
	}
}

// WithAutoDeleteQueue removes the queue when its last consumer disconnects
func WithAutoDeleteQueue(autoDelete bool) ConsumerOption {
	return func(o *consumerOptions) {
		o.autoDelete = autoDelete
	}
}

// WithExclusiveQueue makes the queue private to this facade's connection
func WithExclusiveQueue(exclusive bool) ConsumerOption {
	return func(o *consumerOptions) {
		o.exclusive = exclusive
	}
}

// WithMessageTTL drops messages older than ttl
func WithMessageTTL(ttl time.Duration) ConsumerOption {
	return func(o *consumerOptions) {
		o.messageTTL = ttl
	}
}

// WithQueueTTL removes the queue after ttl without consumers
func WithQueueTTL(ttl time.Duration) ConsumerOption {
	return func(o *consumerOptions) {
		o.queueTTL = ttl
	}
}

// WithAutoAck lets the broker settle deliveries on receipt; waits then
// skip acknowledgment entirely
func WithAutoAck(autoAck bool) ConsumerOption {
	return func(o *consumerOptions) {
		o.autoAck = autoAck
	}
}

// WithPrefetch sets the consumer prefetch count
func WithPrefetch(count int) ConsumerOption {
	return func(o *consumerOptions) {
		o.prefetchCount = count
	}
}

// WithDefaultTimeout sets the wait timeout used when callers pass zero
func WithDefaultTimeout(timeout time.Duration) ConsumerOption {
	return func(o *consumerOptions) {
		o.defaultTimeout = timeout
	}
}

// WithConsumerPollInterval tunes the correlator rescan interval
func WithConsumerPollInterval(interval time.Duration) ConsumerOption {
	return func(o *consumerOptions) {
		o.pollInterval = interval
	}
}

// WithConsumerLogger sets the logger
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(o *consumerOptions) {
		o.logger = logger
	}
}

// QueueConsumer is the consumer facade: one provisioned queue feeding
// one pending store, exposing one-shot correlated waits. Construction
// provisions everything up front; a provisioning failure yields no
// facade at all.
type QueueConsumer struct {
	transport      Transport
	store          *Store
	session        *deliverySession
	queue          *ProvisionedQueue
	kind           routing.Kind
	defaultTimeout time.Duration
	logger         *slog.Logger
	closeOnce      sync.Once
}

// NewQueueConsumer provisions a queue named <kind>-<consumerID> bound
// per the scope options and returns the facade consuming it. The
// delivery handler is attached during provisioning, before consumption
// starts, so deliveries racing construction are stored rather than lost.
func NewQueueConsumer(ctx context.Context, transport Transport, kind routing.Kind, consumerID string, options ...ConsumerOption) (*QueueConsumer, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: transport is nil", ErrInvalidQueueConfig)
	}
	if consumerID == "" {
		return nil, fmt.Errorf("%w: consumer id is empty", ErrInvalidQueueConfig)
	}

	opts := consumerOptions{
		autoDelete:     true,
		defaultTimeout: DefaultWaitTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range options {
		opt(&opts)
	}

	var bindPattern string
	switch kind {
	case routing.KindPush:
		bindPattern = routing.PushBinding(opts.pathSegments...)
	default:
		bindPattern = routing.PullBinding(opts.providerHost, opts.transferProcessID)
	}

	config := QueueConfig{
		Name:          QueueName(kind, consumerID),
		BindPattern:   bindPattern,
		Kind:          kind,
		Durable:       opts.durable,
		AutoDelete:    opts.autoDelete,
		Exclusive:     opts.exclusive,
		MessageTTL:    opts.messageTTL,
		QueueTTL:      opts.queueTTL,
		AutoAck:       opts.autoAck,
		PrefetchCount: opts.prefetchCount,
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	storeOpts := []StoreOption{WithStoreLogger(opts.logger)}
	if opts.pollInterval > 0 {
		storeOpts = append(storeOpts, WithPollInterval(opts.pollInterval))
	}
	store := NewStore(DecoderFor(kind), storeOpts...)

	handler := func(ctx context.Context, delivery TransportDelivery) error {
		return store.Ingest(ctx, delivery.Body(), delivery)
	}

	queue, err := transport.Provision(ctx, config, handler)
	if err != nil {
		return nil, fmt.Errorf("provision queue %s: %w", config.Name, err)
	}

	opts.logger.Info("consumer ready",
		"queue", queue.Name,
		"bindPattern", queue.BindPattern,
		"kind", kind.String(),
	)

	return &QueueConsumer{
		transport:      transport,
		store:          store,
		session:        &deliverySession{store: store, autoAck: opts.autoAck, logger: opts.logger},
		queue:          queue,
		kind:           kind,
		defaultTimeout: opts.defaultTimeout,
		logger:         opts.logger,
	}, nil
}

// Queue returns the provisioned queue description
func (c *QueueConsumer) Queue() ProvisionedQueue {
	return *c.queue
}

// Kind returns the operation kind this facade consumes
func (c *QueueConsumer) Kind() routing.Kind {
	return c.kind
}

// resolveTimeout substitutes the facade default for non-positive timeouts
func (c *QueueConsumer) resolveTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return c.defaultTimeout
	}
	return timeout
}

// ProcessNext waits for the next message in arrival order and runs fn
// against it. fn's verdict settles the delivery: nil acknowledges, an
// error rejects without requeue and comes back wrapped in a
// ProcessingError.
func (c *QueueConsumer) ProcessNext(ctx context.Context, timeout time.Duration, fn func(msg messages.Message) error) error {
	return c.session.withMessage(ctx, Any(), c.resolveTimeout(timeout), fn)
}

// ProcessMatch is ProcessNext narrowed to one transfer process id
func (c *QueueConsumer) ProcessMatch(ctx context.Context, transferProcessID string, timeout time.Duration, fn func(msg messages.Message) error) error {
	return c.session.withMessage(ctx, WithTransferProcessID(transferProcessID), c.resolveTimeout(timeout), fn)
}

// WaitForNext returns the next message in arrival order, acknowledging
// its delivery. Times out with ErrWaitTimeout.
func (c *QueueConsumer) WaitForNext(ctx context.Context, timeout time.Duration) (messages.Message, error) {
	var out messages.Message
	err := c.ProcessNext(ctx, timeout, func(msg messages.Message) error {
		out = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WaitFor returns the message correlated to transferProcessID,
// acknowledging its delivery. Times out with ErrWaitTimeout.
func (c *QueueConsumer) WaitFor(ctx context.Context, transferProcessID string, timeout time.Duration) (messages.Message, error) {
	var out messages.Message
	err := c.ProcessMatch(ctx, transferProcessID, timeout, func(msg messages.Message) error {
		out = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Pending reports the number of delivered-but-unclaimed messages
func (c *QueueConsumer) Pending() int {
	return c.store.Pending()
}

// Close tears down the facade's transport. Best-effort: failures are
// logged and swallowed, closing is cleanup rather than a correctness
// path. Safe to call more than once.
func (c *QueueConsumer) Close() error {
	c.closeOnce.Do(func() {
		if err := c.transport.Close(); err != nil {
			c.logger.Warn("failed to close consumer transport",
				"queue", c.queue.Name,
				"error", err)
		}
	})
	return nil
}
