// Package edcmate is the entry point for consuming dataspace transfer
// messages over RabbitMQ. A Client carries the consumer identity and
// broker settings; every consumer facade and publisher it opens gets a
// dedicated broker connection, so teardown of one never disturbs
// another. There is no ambient singleton: call sites receive the client
// or one of its facades explicitly.
package edcmate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/glimte/edcmate-go/messaging"
	"github.com/glimte/edcmate-go/routing"
	"github.com/glimte/edcmate-go/stream"
	rabbitmqTransport "github.com/glimte/edcmate-go/transports/rabbitmq"
)

// ErrNoBrokerURL is returned by NewClient when no broker URL was
// configured, neither via WithBrokerURL nor the EDC_RABBIT_URL
// environment variable.
var ErrNoBrokerURL = errors.New("edcmate: no broker URL configured")

// Client opens consumer facades and publishers against one broker.
type Client struct {
	consumerID     string
	brokerURL      string
	exchange       string
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// clientConfig holds client configuration
type clientConfig struct {
	brokerURL      string
	exchange       string
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithBrokerURL sets the broker connection string, overriding
// EDC_RABBIT_URL
func WithBrokerURL(url string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.brokerURL = url
	}
}

// WithExchange overrides the shared topic exchange name
func WithExchange(name string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.exchange = name
	}
}

// WithDefaultTimeout sets the wait timeout facades apply when callers
// pass zero
func WithDefaultTimeout(timeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.defaultTimeout = timeout
	}
}

// WithLogger sets the logger for the client and everything it opens
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// NewClient creates a client identified by consumerID. The identity
// seeds queue names, so two clients sharing an id would contend for the
// same queues; give each logical consumer its own.
func NewClient(consumerID string, options ...ClientOption) (*Client, error) {
	if consumerID == "" {
		return nil, errors.New("edcmate: consumer id is empty")
	}

	cfg := clientConfig{
		brokerURL:      os.Getenv("EDC_RABBIT_URL"),
		exchange:       rabbitmqTransport.DefaultExchange,
		defaultTimeout: messaging.DefaultWaitTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range options {
		opt(&cfg)
	}

	if cfg.brokerURL == "" {
		return nil, ErrNoBrokerURL
	}

	return &Client{
		consumerID:     consumerID,
		brokerURL:      cfg.brokerURL,
		exchange:       cfg.exchange,
		defaultTimeout: cfg.defaultTimeout,
		logger:         cfg.logger,
	}, nil
}

// ConsumerID returns the client's consumer identity
func (c *Client) ConsumerID() string {
	return c.consumerID
}

// Exchange returns the topic exchange the client publishes and binds on
func (c *Client) Exchange() string {
	return c.exchange
}

// newTransport dials a fresh connection for one facade or publisher
func (c *Client) newTransport(ctx context.Context) (*rabbitmqTransport.Transport, error) {
	return rabbitmqTransport.NewTransport(ctx, c.brokerURL,
		rabbitmqTransport.WithExchange(c.exchange),
		rabbitmqTransport.WithTransportLogger(c.logger),
	)
}

// newConsumer provisions a facade on its own transport. The transport
// belongs to the facade afterwards; QueueConsumer.Close releases it.
func (c *Client) newConsumer(ctx context.Context, kind routing.Kind, consumerID string, options ...messaging.ConsumerOption) (*messaging.QueueConsumer, error) {
	transport, err := c.newTransport(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect %s consumer: %w", kind, err)
	}

	opts := append([]messaging.ConsumerOption{
		messaging.WithConsumerLogger(c.logger),
		messaging.WithDefaultTimeout(c.defaultTimeout),
	}, options...)

	consumer, err := messaging.NewQueueConsumer(ctx, transport, kind, consumerID, opts...)
	if err != nil {
		if cerr := transport.Close(); cerr != nil {
			c.logger.Warn("failed to close transport after provisioning failure", "error", cerr)
		}
		return nil, err
	}
	return consumer, nil
}

// PullConsumer opens a facade receiving HTTP pull credentials. Scope it
// with messaging.WithProviderHost / messaging.WithTransferProcess;
// unscoped it receives every pull credential on the exchange.
func (c *Client) PullConsumer(ctx context.Context, options ...messaging.ConsumerOption) (*messaging.QueueConsumer, error) {
	return c.newConsumer(ctx, routing.KindPull, c.consumerID, options...)
}

// PushConsumer opens a facade receiving HTTP push payloads, optionally
// scoped with messaging.WithRoutingPath.
func (c *Client) PushConsumer(ctx context.Context, options ...messaging.ConsumerOption) (*messaging.QueueConsumer, error) {
	return c.newConsumer(ctx, routing.KindPush, c.consumerID, options...)
}

// Publisher is a MessagePublisher that owns its transport
type Publisher struct {
	*messaging.MessagePublisher
	transport *rabbitmqTransport.Transport
	logger    *slog.Logger
}

// Close releases the publisher's broker connection
func (p *Publisher) Close() error {
	if err := p.transport.Close(); err != nil {
		p.logger.Warn("failed to close publisher transport", "error", err)
	}
	return nil
}

// IsConnected reports whether the publisher's broker connection is up
func (p *Publisher) IsConnected() bool {
	return p.transport.IsConnected()
}

// Publisher opens a message publisher on its own transport.
func (c *Client) Publisher(ctx context.Context) (*Publisher, error) {
	transport, err := c.newTransport(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect publisher: %w", err)
	}

	return &Publisher{
		MessagePublisher: messaging.NewMessagePublisher(transport, messaging.WithPublisherLogger(c.logger)),
		transport:        transport,
		logger:           c.logger,
	}, nil
}

// PullStreamFactory adapts the client for the SSE pull endpoint: each
// stream request gets a private, self-cleaning queue scoped to its
// transfer process when a provider host is known.
func (c *Client) PullStreamFactory() stream.PullConsumerFactory {
	return func(ctx context.Context, consumerID, providerHost, transferProcessID string) (stream.Consumer, error) {
		opts := []messaging.ConsumerOption{
			messaging.WithExclusiveQueue(true),
			messaging.WithAutoDeleteQueue(true),
		}
		if providerHost != "" {
			opts = append(opts,
				messaging.WithProviderHost(providerHost),
				messaging.WithTransferProcess(transferProcessID),
			)
		}
		return c.newConsumer(ctx, routing.KindPull, consumerID, opts...)
	}
}

// PushStreamFactory adapts the client for the SSE push endpoint.
func (c *Client) PushStreamFactory() stream.PushConsumerFactory {
	return func(ctx context.Context, consumerID string, segments ...string) (stream.Consumer, error) {
		return c.newConsumer(ctx, routing.KindPush, consumerID,
			messaging.WithExclusiveQueue(true),
			messaging.WithAutoDeleteQueue(true),
			messaging.WithRoutingPath(segments...),
		)
	}
}
