package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/edcmate-go/messages"
)

// ProcessingError wraps an error returned by a caller's message function.
// The matched envelope was rejected (no requeue) and pruned; the cause is
// reachable through Unwrap.
type ProcessingError struct {
	Err error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("messaging: message processing failed: %v", e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// deliverySession scopes one matched envelope to one caller and settles
// its delivery with exactly one terminal outcome per exit path.
type deliverySession struct {
	store   *Store
	autoAck bool
	logger  *slog.Logger
}

// withMessage waits for a matching envelope, hands its message to fn,
// and settles the delivery:
//
//   - fn returns nil  -> acknowledge, claim
//   - fn returns err  -> reject (no requeue), claim, return ProcessingError
//   - no match        -> ErrWaitTimeout (or ctx error), nothing settled
//
// In auto-ack mode the broker already settled the delivery, so neither
// ack nor reject is issued; the claim still prunes the envelope.
// Settlement failures are logged, never propagated: the message was
// already processed (or already failed) and the outcome stands.
func (s *deliverySession) withMessage(ctx context.Context, match Predicate, timeout time.Duration, fn func(msg messages.Message) error) error {
	env, err := s.store.AwaitMatch(ctx, match, timeout)
	if err != nil {
		return err
	}

	if err := fn(env.Message()); err != nil {
		if !s.autoAck {
			if rejectErr := env.delivery.Reject(false); rejectErr != nil {
				s.logger.Warn("failed to reject delivery", "error", rejectErr)
			}
		}
		s.store.Claim(env)
		return &ProcessingError{Err: err}
	}

	if !s.autoAck {
		if ackErr := env.delivery.Acknowledge(); ackErr != nil {
			s.logger.Warn("failed to acknowledge delivery", "error", ackErr)
		}
	}
	s.store.Claim(env)
	return nil
}
