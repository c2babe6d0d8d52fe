package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes messages with broker confirmation
type Publisher struct {
	pool           *ChannelPool
	confirmTimeout time.Duration
	publishTimeout time.Duration
	maxRetries     int
	logger         *slog.Logger
}

// PublisherOption configures the publisher
type PublisherOption func(*Publisher)

// WithConfirmTimeout sets the confirmation timeout
func WithConfirmTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.confirmTimeout = timeout
	}
}

// WithPublishTimeout sets the overall publish timeout
func WithPublishTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.publishTimeout = timeout
	}
}

// WithPublishRetries sets the maximum number of publish retries
func WithPublishRetries(retries int) PublisherOption {
	return func(p *Publisher) {
		p.maxRetries = retries
	}
}

// WithPublisherLogger sets the logger
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher creates a new publisher
func NewPublisher(pool *ChannelPool, options ...PublisherOption) *Publisher {
	p := &Publisher{
		pool:           pool,
		confirmTimeout: 5 * time.Second,
		publishTimeout: 10 * time.Second,
		maxRetries:     3,
		logger:         slog.Default(),
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// Publish publishes a message and waits for the broker's confirm,
// retrying transient failures
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.publishTimeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Warn("retrying publish",
				"exchange", exchange,
				"routingKey", routingKey,
				"attempt", attempt,
				"error", lastErr)
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := p.publishWithConfirm(ctx, exchange, routingKey, msg)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("failed to publish after %d attempts: %w", p.maxRetries+1, lastErr)
}

// publishWithConfirm publishes a single message and waits for its confirm
func (p *Publisher) publishWithConfirm(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	ch, err := p.pool.Get(ctx)
	if err != nil {
		return &PublishError{
			Exchange:   exchange,
			RoutingKey: routingKey,
			Err:        err,
			Timestamp:  time.Now(),
		}
	}
	defer p.pool.Put(ch)

	if err := ch.Confirm(false); err != nil {
		return &PublishError{
			Exchange:   exchange,
			RoutingKey: routingKey,
			Err:        fmt.Errorf("failed to enable confirms: %w", err),
			Timestamp:  time.Now(),
		}
	}

	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	returns := ch.NotifyReturn(make(chan amqp.Return, 1))

	if err := ch.PublishWithContext(
		ctx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		msg,
	); err != nil {
		return &PublishError{
			Exchange:   exchange,
			RoutingKey: routingKey,
			Err:        err,
			Timestamp:  time.Now(),
		}
	}

	select {
	case confirm := <-confirms:
		if !confirm.Ack {
			return &PublishError{
				Exchange:   exchange,
				RoutingKey: routingKey,
				Err:        ErrPublishNotConfirmed,
				Timestamp:  time.Now(),
			}
		}
		return nil

	case ret := <-returns:
		return &PublishError{
			Exchange:   exchange,
			RoutingKey: routingKey,
			Err:        fmt.Errorf("message returned: %s", ret.ReplyText),
			Timestamp:  time.Now(),
		}

	case <-time.After(p.confirmTimeout):
		return &PublishError{
			Exchange:   exchange,
			RoutingKey: routingKey,
			Err:        ErrPublishTimeout,
			Timestamp:  time.Now(),
		}

	case <-ctx.Done():
		return ctx.Err()
	}
}
