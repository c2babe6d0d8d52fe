package messaging

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/edcmate-go/messages"
	"github.com/glimte/edcmate-go/routing"
)

// fakeDelivery counts settlement calls so tests can assert the
// exactly-one-terminal-outcome contract
type fakeDelivery struct {
	mu        sync.Mutex
	body      []byte
	acks      int
	rejects   int
	requeues  []bool
	ackErr    error
	rejectErr error
}

func (d *fakeDelivery) Body() []byte {
	return d.body
}

func (d *fakeDelivery) Acknowledge() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acks++
	return d.ackErr
}

func (d *fakeDelivery) Reject(requeue bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rejects++
	d.requeues = append(d.requeues, requeue)
	return d.rejectErr
}

func (d *fakeDelivery) Headers() map[string]interface{} {
	return nil
}

func (d *fakeDelivery) ackCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acks
}

func (d *fakeDelivery) rejectCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rejects
}

func pullPayload(id string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"endpoint": "http://provider.example.com:19291/public",
		"auth_key": "Authorization",
		"auth_code": "token",
		"contract_id": "contract-1"
	}`, id))
}

func pushPayload() []byte {
	return []byte(`{"body": {"greeting": "hello"}}`)
}

func newPullStore(opts ...StoreOption) *Store {
	return NewStore(DecoderFor(routing.KindPull), opts...)
}

func TestDecoderFor(t *testing.T) {
	t.Run("pull decoder yields pull messages", func(t *testing.T) {
		msg, err := DecoderFor(routing.KindPull)(pullPayload("tx-1"))
		require.NoError(t, err)

		pull, ok := msg.(*messages.HttpPullMessage)
		require.True(t, ok)
		assert.Equal(t, "tx-1", pull.ID)
	})

	t.Run("push decoder yields push messages", func(t *testing.T) {
		msg, err := DecoderFor(routing.KindPush)(pushPayload())
		require.NoError(t, err)

		_, ok := msg.(*messages.HttpPushMessage)
		assert.True(t, ok)
	})
}

func TestStoreIngest(t *testing.T) {
	t.Run("valid delivery is stored pending", func(t *testing.T) {
		store := newPullStore()
		delivery := &fakeDelivery{body: pullPayload("tx-1")}

		err := store.Ingest(context.Background(), delivery.Body(), delivery)

		require.NoError(t, err)
		assert.Equal(t, 1, store.Pending())
		assert.Equal(t, 0, delivery.rejectCount())
		assert.Equal(t, 0, delivery.ackCount())
	})

	t.Run("malformed delivery is rejected once and never stored", func(t *testing.T) {
		store := newPullStore()
		delivery := &fakeDelivery{body: []byte("not json at all")}

		err := store.Ingest(context.Background(), delivery.Body(), delivery)

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMalformedDelivery)
		assert.Equal(t, 0, store.Pending())
		require.Equal(t, 1, delivery.rejectCount())
		assert.Equal(t, []bool{false}, delivery.requeues)
	})

	t.Run("structurally wrong payload is also poison", func(t *testing.T) {
		store := newPullStore()
		delivery := &fakeDelivery{body: []byte(`{"endpoint": "http://x"}`)} // no id

		err := store.Ingest(context.Background(), delivery.Body(), delivery)

		assert.ErrorIs(t, err, ErrMalformedDelivery)
		assert.Equal(t, 0, store.Pending())
		assert.Equal(t, 1, delivery.rejectCount())
	})

	t.Run("reject failure is logged not propagated differently", func(t *testing.T) {
		store := newPullStore()
		delivery := &fakeDelivery{
			body:      []byte("garbage"),
			rejectErr: fmt.Errorf("channel gone"),
		}

		err := store.Ingest(context.Background(), delivery.Body(), delivery)

		assert.ErrorIs(t, err, ErrMalformedDelivery)
		assert.Equal(t, 0, store.Pending())
	})
}

func TestAwaitMatch(t *testing.T) {
	t.Run("returns an already pending envelope immediately", func(t *testing.T) {
		store := newPullStore()
		delivery := &fakeDelivery{body: pullPayload("tx-1")}
		require.NoError(t, store.Ingest(context.Background(), delivery.Body(), delivery))

		start := time.Now()
		env, err := store.AwaitMatch(context.Background(), Any(), time.Second)

		require.NoError(t, err)
		assert.Less(t, time.Since(start), 100*time.Millisecond)
		pull := env.Message().(*messages.HttpPullMessage)
		assert.Equal(t, "tx-1", pull.ID)
	})

	t.Run("matches a message ingested during the wait", func(t *testing.T) {
		store := newPullStore(WithPollInterval(10 * time.Millisecond))
		delivery := &fakeDelivery{body: pullPayload("tx-2")}

		go func() {
			time.Sleep(30 * time.Millisecond)
			_ = store.Ingest(context.Background(), delivery.Body(), delivery)
		}()

		env, err := store.AwaitMatch(context.Background(), WithTransferProcessID("tx-2"), 2*time.Second)

		require.NoError(t, err)
		pull := env.Message().(*messages.HttpPullMessage)
		assert.Equal(t, "tx-2", pull.ID)
	})

	t.Run("times out with ErrWaitTimeout", func(t *testing.T) {
		store := newPullStore(WithPollInterval(10 * time.Millisecond))

		start := time.Now()
		_, err := store.AwaitMatch(context.Background(), Any(), 60*time.Millisecond)

		assert.ErrorIs(t, err, ErrWaitTimeout)
		assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	})

	t.Run("honors context cancellation", func(t *testing.T) {
		store := newPullStore(WithPollInterval(10 * time.Millisecond))
		ctx, cancel := context.WithCancel(context.Background())

		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		_, err := store.AwaitMatch(ctx, Any(), 5*time.Second)

		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("unfiltered wait sees arrival order", func(t *testing.T) {
		store := newPullStore()
		first := &fakeDelivery{body: pullPayload("tx-first")}
		second := &fakeDelivery{body: pullPayload("tx-second")}
		require.NoError(t, store.Ingest(context.Background(), first.Body(), first))
		require.NoError(t, store.Ingest(context.Background(), second.Body(), second))

		env, err := store.AwaitMatch(context.Background(), Any(), time.Second)

		require.NoError(t, err)
		pull := env.Message().(*messages.HttpPullMessage)
		assert.Equal(t, "tx-first", pull.ID)
	})

	t.Run("id filter matches out of arrival order", func(t *testing.T) {
		store := newPullStore()
		first := &fakeDelivery{body: pullPayload("tx-first")}
		second := &fakeDelivery{body: pullPayload("tx-second")}
		require.NoError(t, store.Ingest(context.Background(), first.Body(), first))
		require.NoError(t, store.Ingest(context.Background(), second.Body(), second))

		env, err := store.AwaitMatch(context.Background(), WithTransferProcessID("tx-second"), time.Second)

		require.NoError(t, err)
		pull := env.Message().(*messages.HttpPullMessage)
		assert.Equal(t, "tx-second", pull.ID)
		// The unrelated envelope is untouched.
		assert.Equal(t, 2, store.Pending())
	})

	t.Run("claimed envelopes are not rematched", func(t *testing.T) {
		store := newPullStore(WithPollInterval(10 * time.Millisecond))
		delivery := &fakeDelivery{body: pullPayload("tx-1")}
		require.NoError(t, store.Ingest(context.Background(), delivery.Body(), delivery))

		env, err := store.AwaitMatch(context.Background(), Any(), time.Second)
		require.NoError(t, err)
		store.Claim(env)

		_, err = store.AwaitMatch(context.Background(), Any(), 50*time.Millisecond)
		assert.ErrorIs(t, err, ErrWaitTimeout)
	})
}

func TestClaim(t *testing.T) {
	t.Run("claim prunes the envelope", func(t *testing.T) {
		store := newPullStore()
		delivery := &fakeDelivery{body: pullPayload("tx-1")}
		require.NoError(t, store.Ingest(context.Background(), delivery.Body(), delivery))

		env, err := store.AwaitMatch(context.Background(), Any(), time.Second)
		require.NoError(t, err)

		store.Claim(env)
		assert.Equal(t, 0, store.Pending())
	})

	t.Run("claiming one envelope leaves others pending", func(t *testing.T) {
		store := newPullStore()
		first := &fakeDelivery{body: pullPayload("tx-1")}
		second := &fakeDelivery{body: pullPayload("tx-2")}
		require.NoError(t, store.Ingest(context.Background(), first.Body(), first))
		require.NoError(t, store.Ingest(context.Background(), second.Body(), second))

		env, err := store.AwaitMatch(context.Background(), WithTransferProcessID("tx-1"), time.Second)
		require.NoError(t, err)
		store.Claim(env)

		assert.Equal(t, 1, store.Pending())

		remaining, err := store.AwaitMatch(context.Background(), Any(), time.Second)
		require.NoError(t, err)
		pull := remaining.Message().(*messages.HttpPullMessage)
		assert.Equal(t, "tx-2", pull.ID)
	})
}

func TestPredicates(t *testing.T) {
	t.Run("Any matches both kinds", func(t *testing.T) {
		pull, err := messages.DecodePull(pullPayload("tx-1"))
		require.NoError(t, err)
		push, err := messages.DecodePush(pushPayload())
		require.NoError(t, err)

		assert.True(t, Any()(pull))
		assert.True(t, Any()(push))
	})

	t.Run("id predicate requires exact equality", func(t *testing.T) {
		pull, err := messages.DecodePull(pullPayload("tx-1"))
		require.NoError(t, err)

		assert.True(t, WithTransferProcessID("tx-1")(pull))
		assert.False(t, WithTransferProcessID("tx-10")(pull))
	})

	t.Run("id predicate never matches id-less messages", func(t *testing.T) {
		push, err := messages.DecodePush(pushPayload())
		require.NoError(t, err)

		assert.False(t, WithTransferProcessID("tx-1")(push))
		assert.False(t, WithTransferProcessID("")(push))
	})
}
