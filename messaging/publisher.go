package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/glimte/edcmate-go/messages"
	"github.com/glimte/edcmate-go/routing"
)

// ErrUnroutableMessage signals a message whose routing key cannot be
// derived (missing transfer process id or provider host)
var ErrUnroutableMessage = errors.New("messaging: cannot derive routing key for message")

// MessagePublisher publishes typed messages to the shared topic
// exchange, deriving each routing key from message content so that
// scoped consumer bindings match exactly the traffic they asked for.
type MessagePublisher struct {
	transport Transport
	logger    *slog.Logger
}

// PublisherOption configures the publisher
type PublisherOption func(*MessagePublisher)

// WithPublisherLogger sets the logger
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *MessagePublisher) {
		p.logger = logger
	}
}

// NewMessagePublisher creates a publisher on transport
func NewMessagePublisher(transport Transport, options ...PublisherOption) *MessagePublisher {
	p := &MessagePublisher{
		transport: transport,
		logger:    slog.Default(),
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// PublishPull publishes a pull credential message under
// http.pull.<provider-host>.<transfer-process-id>
func (p *MessagePublisher) PublishPull(ctx context.Context, msg *messages.HttpPullMessage) error {
	if msg.ID == "" {
		return fmt.Errorf("%w: %v", ErrUnroutableMessage, messages.ErrMissingID)
	}
	host := msg.ProviderHost()
	if host == "" {
		return fmt.Errorf("%w: no provider host in endpoint %q", ErrUnroutableMessage, msg.Endpoint)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode pull message: %w", err)
	}

	key := routing.PullKey(host, msg.ID)
	if err := p.transport.Publish(ctx, key, body); err != nil {
		return err
	}

	p.logger.Info("published pull credential",
		"routingKey", key,
		"transferProcessId", msg.ID,
		"providerHost", host,
	)
	return nil
}

// PublishPush publishes a push payload under http.push, with one
// slugified token appended per non-empty path segment
func (p *MessagePublisher) PublishPush(ctx context.Context, body interface{}, segments ...string) error {
	raw, err := json.Marshal(&messages.HttpPushMessage{Body: body})
	if err != nil {
		return fmt.Errorf("encode push message: %w", err)
	}

	key := routing.PushKey(segments...)
	if err := p.transport.Publish(ctx, key, raw); err != nil {
		return err
	}

	p.logger.Info("published push payload", "routingKey", key)
	return nil
}
