package messaging

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/edcmate-go/messages"
)

func newSession(store *Store, autoAck bool) *deliverySession {
	return &deliverySession{store: store, autoAck: autoAck, logger: slog.Default()}
}

func TestSessionWithMessage(t *testing.T) {
	t.Run("successful processing acknowledges and prunes", func(t *testing.T) {
		store := newPullStore()
		session := newSession(store, false)
		delivery := &fakeDelivery{body: pullPayload("tx-1")}
		require.NoError(t, store.Ingest(context.Background(), delivery.Body(), delivery))

		var seen string
		err := session.withMessage(context.Background(), Any(), time.Second, func(msg messages.Message) error {
			seen = msg.(*messages.HttpPullMessage).ID
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, "tx-1", seen)
		assert.Equal(t, 1, delivery.ackCount())
		assert.Equal(t, 0, delivery.rejectCount())
		assert.Equal(t, 0, store.Pending())
	})

	t.Run("processing failure rejects without requeue and wraps the cause", func(t *testing.T) {
		store := newPullStore()
		session := newSession(store, false)
		delivery := &fakeDelivery{body: pullPayload("tx-1")}
		require.NoError(t, store.Ingest(context.Background(), delivery.Body(), delivery))

		cause := errors.New("downstream exploded")
		err := session.withMessage(context.Background(), Any(), time.Second, func(messages.Message) error {
			return cause
		})

		require.Error(t, err)
		var procErr *ProcessingError
		require.ErrorAs(t, err, &procErr)
		assert.ErrorIs(t, err, cause)
		assert.NotErrorIs(t, err, ErrWaitTimeout)

		assert.Equal(t, 0, delivery.ackCount())
		require.Equal(t, 1, delivery.rejectCount())
		assert.Equal(t, []bool{false}, delivery.requeues)
		// Failed envelopes are pruned, not retried blindly.
		assert.Equal(t, 0, store.Pending())
	})

	t.Run("timeout settles nothing", func(t *testing.T) {
		store := newPullStore(WithPollInterval(10 * time.Millisecond))
		session := newSession(store, false)

		err := session.withMessage(context.Background(), Any(), 50*time.Millisecond, func(messages.Message) error {
			t.Fatal("fn must not run without a match")
			return nil
		})

		assert.ErrorIs(t, err, ErrWaitTimeout)
	})

	t.Run("auto-ack skips broker settlement but still claims", func(t *testing.T) {
		store := newPullStore()
		session := newSession(store, true)
		delivery := &fakeDelivery{body: pullPayload("tx-1")}
		require.NoError(t, store.Ingest(context.Background(), delivery.Body(), delivery))

		err := session.withMessage(context.Background(), Any(), time.Second, func(messages.Message) error {
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 0, delivery.ackCount())
		assert.Equal(t, 0, delivery.rejectCount())
		assert.Equal(t, 0, store.Pending())
	})

	t.Run("auto-ack failure path issues no reject either", func(t *testing.T) {
		store := newPullStore()
		session := newSession(store, true)
		delivery := &fakeDelivery{body: pullPayload("tx-1")}
		require.NoError(t, store.Ingest(context.Background(), delivery.Body(), delivery))

		err := session.withMessage(context.Background(), Any(), time.Second, func(messages.Message) error {
			return errors.New("nope")
		})

		var procErr *ProcessingError
		assert.ErrorAs(t, err, &procErr)
		assert.Equal(t, 0, delivery.ackCount())
		assert.Equal(t, 0, delivery.rejectCount())
		assert.Equal(t, 0, store.Pending())
	})

	t.Run("acknowledgment failure is swallowed", func(t *testing.T) {
		store := newPullStore()
		session := newSession(store, false)
		delivery := &fakeDelivery{
			body:   pullPayload("tx-1"),
			ackErr: errors.New("channel closed"),
		}
		require.NoError(t, store.Ingest(context.Background(), delivery.Body(), delivery))

		err := session.withMessage(context.Background(), Any(), time.Second, func(messages.Message) error {
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 0, store.Pending())
	})

	t.Run("reject failure does not mask the processing error", func(t *testing.T) {
		store := newPullStore()
		session := newSession(store, false)
		delivery := &fakeDelivery{
			body:      pullPayload("tx-1"),
			rejectErr: errors.New("channel closed"),
		}
		require.NoError(t, store.Ingest(context.Background(), delivery.Body(), delivery))

		cause := errors.New("handler failed")
		err := session.withMessage(context.Background(), Any(), time.Second, func(messages.Message) error {
			return cause
		})

		assert.ErrorIs(t, err, cause)
	})
}
