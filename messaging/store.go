package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/edcmate-go/messages"
	"github.com/glimte/edcmate-go/routing"
)

var (
	// ErrWaitTimeout is returned when no matching message arrives within
	// the wait window. Distinguishable from a processing failure via
	// errors.Is.
	ErrWaitTimeout = errors.New("messaging: timed out waiting for a matching message")

	// ErrMalformedDelivery is returned by Ingest for payloads that do not
	// decode into the store's message kind. The delivery is rejected
	// without requeue and never stored.
	ErrMalformedDelivery = errors.New("messaging: malformed delivery")
)

// defaultPollInterval is the correlator's rescan cadence
const defaultPollInterval = 100 * time.Millisecond

// Decoder turns a raw payload into a typed message
type Decoder func(raw []byte) (messages.Message, error)

// DecoderFor returns the payload decoder for an operation kind
func DecoderFor(kind routing.Kind) Decoder {
	switch kind {
	case routing.KindPush:
		return func(raw []byte) (messages.Message, error) {
			return messages.DecodePush(raw)
		}
	default:
		return func(raw []byte) (messages.Message, error) {
			return messages.DecodePull(raw)
		}
	}
}

// Predicate selects envelopes during a wait
type Predicate func(msg messages.Message) bool

// Any matches every message
func Any() Predicate {
	return func(messages.Message) bool { return true }
}

// WithTransferProcessID matches messages whose correlation id equals id.
// Messages without a correlation id never match.
func WithTransferProcessID(id string) Predicate {
	return func(msg messages.Message) bool {
		got, ok := msg.CorrelationID()
		return ok && got == id
	}
}

// Envelope pairs a decoded message with its live delivery handle.
// An envelope is pending until exactly one claimant consumes it.
type Envelope struct {
	msg      messages.Message
	delivery TransportDelivery
	consumed bool
}

// Message returns the decoded message
func (e *Envelope) Message() messages.Message {
	return e.msg
}

// Store holds pending envelopes in arrival order and correlates waits
// against them by periodic rescan. All mutation happens under the
// store's own mutex; waits never block ingestion.
type Store struct {
	mu           sync.Mutex
	envelopes    []*Envelope
	decode       Decoder
	pollInterval time.Duration
	logger       *slog.Logger
}

// StoreOption configures the store
type StoreOption func(*Store)

// WithPollInterval sets the correlator's rescan interval
func WithPollInterval(interval time.Duration) StoreOption {
	return func(s *Store) {
		if interval > 0 {
			s.pollInterval = interval
		}
	}
}

// WithStoreLogger sets the logger
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a pending store decoding payloads with decode
func NewStore(decode Decoder, options ...StoreOption) *Store {
	s := &Store{
		decode:       decode,
		pollInterval: defaultPollInterval,
		logger:       slog.Default(),
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// Ingest decodes one inbound delivery and parks it as a pending
// envelope. A payload that fails to decode is rejected without requeue
// and never stored; the reject is issued exactly once, here.
func (s *Store) Ingest(ctx context.Context, raw []byte, delivery TransportDelivery) error {
	msg, err := s.decode(raw)
	if err != nil {
		s.logger.Error("discarding malformed delivery",
			"error", err,
			"bytes", len(raw))
		if rejectErr := delivery.Reject(false); rejectErr != nil {
			s.logger.Warn("failed to reject malformed delivery", "error", rejectErr)
		}
		return fmt.Errorf("%w: %v", ErrMalformedDelivery, err)
	}

	s.mu.Lock()
	s.envelopes = append(s.envelopes, &Envelope{msg: msg, delivery: delivery})
	pending := len(s.envelopes)
	s.mu.Unlock()

	s.logger.Debug("delivery stored", "pending", pending)
	return nil
}

// AwaitMatch blocks until a pending envelope satisfies match, the
// timeout elapses (ErrWaitTimeout), or ctx is cancelled. Unfiltered
// waits see envelopes in arrival order. The envelope is returned still
// pending; claiming it is the caller's step.
func (s *Store) AwaitMatch(ctx context.Context, match Predicate, timeout time.Duration) (*Envelope, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if env := s.findPending(match); env != nil {
			return env, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrWaitTimeout
		case <-ticker.C:
		}
	}
}

// findPending returns the first pending envelope matching match
func (s *Store) findPending(match Predicate) *Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, env := range s.envelopes {
		if !env.consumed && match(env.msg) {
			return env
		}
	}
	return nil
}

// Claim marks env consumed and prunes consumed envelopes, so the store
// never grows beyond delivered-but-unclaimed messages
func (s *Store) Claim(env *Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env.consumed = true

	kept := s.envelopes[:0]
	for _, e := range s.envelopes {
		if !e.consumed {
			kept = append(kept, e)
		}
	}
	// Drop the tail references so pruned envelopes can be collected
	for i := len(kept); i < len(s.envelopes); i++ {
		s.envelopes[i] = nil
	}
	s.envelopes = kept
}

// Pending returns the number of unclaimed envelopes
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.envelopes {
		if !e.consumed {
			n++
		}
	}
	return n
}
