package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ChannelPool manages a pool of AMQP channels on one connection
type ChannelPool struct {
	manager     *ConnectionManager
	channels    chan *PooledChannel
	maxSize     int
	minSize     int
	idleTimeout time.Duration
	waitTimeout time.Duration
	mu          sync.Mutex
	closed      bool
	activeCount int
}

// PooledChannel wraps an AMQP channel with pool metadata
type PooledChannel struct {
	*amqp.Channel
	pool     *ChannelPool
	lastUsed time.Time
	id       string
}

// ID returns the pool-assigned channel identifier
func (pc *PooledChannel) ID() string {
	return pc.id
}

// ChannelPoolOption configures the channel pool
type ChannelPoolOption func(*ChannelPool)

// WithMaxSize sets the maximum pool size
func WithMaxSize(size int) ChannelPoolOption {
	return func(cp *ChannelPool) {
		cp.maxSize = size
	}
}

// WithMinSize sets the number of channels opened eagerly
func WithMinSize(size int) ChannelPoolOption {
	return func(cp *ChannelPool) {
		cp.minSize = size
	}
}

// WithIdleTimeout sets the idle timeout for pooled channels
func WithIdleTimeout(timeout time.Duration) ChannelPoolOption {
	return func(cp *ChannelPool) {
		cp.idleTimeout = timeout
	}
}

// WithWaitTimeout sets how long Get blocks on an exhausted pool
func WithWaitTimeout(timeout time.Duration) ChannelPoolOption {
	return func(cp *ChannelPool) {
		cp.waitTimeout = timeout
	}
}

// NewChannelPool creates a new channel pool
func NewChannelPool(manager *ConnectionManager, options ...ChannelPoolOption) (*ChannelPool, error) {
	if manager == nil {
		return nil, ErrInvalidConfiguration
	}

	pool := &ChannelPool{
		manager:     manager,
		maxSize:     10,
		minSize:     2,
		idleTimeout: 5 * time.Minute,
		waitTimeout: 5 * time.Second,
	}

	for _, opt := range options {
		opt(pool)
	}

	if pool.maxSize < 1 {
		return nil, fmt.Errorf("%w: max size must be at least 1", ErrInvalidConfiguration)
	}
	if pool.minSize < 0 || pool.minSize > pool.maxSize {
		return nil, fmt.Errorf("%w: min size must be between 0 and max size", ErrInvalidConfiguration)
	}

	pool.channels = make(chan *PooledChannel, pool.maxSize)

	var created []*PooledChannel
	for i := 0; i < pool.minSize; i++ {
		ch, err := pool.createChannel()
		if err != nil {
			for _, c := range created {
				c.Channel.Close()
			}
			return nil, &ChannelError{
				Op:        "pool initialization",
				ChannelID: fmt.Sprintf("init-%d", i),
				Err:       err,
				Timestamp: time.Now(),
			}
		}
		created = append(created, ch)
	}

	for _, ch := range created {
		pool.channels <- ch
	}

	go pool.cleanupIdle()

	return pool, nil
}

// Get retrieves a channel from the pool, opening a new one when the pool
// is empty and under capacity
func (cp *ChannelPool) Get(ctx context.Context) (*PooledChannel, error) {
	cp.mu.Lock()
	if cp.closed {
		cp.mu.Unlock()
		return nil, ErrChannelPoolClosed
	}
	cp.mu.Unlock()

	select {
	case ch := <-cp.channels:
		return cp.freshen(ctx, ch)
	default:
	}

	cp.mu.Lock()
	if cp.activeCount < cp.maxSize {
		cp.mu.Unlock()
		return cp.createAndGet(ctx)
	}
	cp.mu.Unlock()

	// At capacity: wait for a channel to come back
	select {
	case ch := <-cp.channels:
		return cp.freshen(ctx, ch)

	case <-ctx.Done():
		return nil, &ChannelError{
			Op:        "get channel",
			ChannelID: "pool",
			Err:       ctx.Err(),
			Timestamp: time.Now(),
		}

	case <-time.After(cp.waitTimeout):
		return nil, &ChannelError{
			Op:        "get channel",
			ChannelID: "pool",
			Err:       ErrChannelPoolExhausted,
			Timestamp: time.Now(),
		}
	}
}

// freshen validates a channel taken from the pool, replacing it when the
// broker closed it behind our back
func (cp *ChannelPool) freshen(ctx context.Context, ch *PooledChannel) (*PooledChannel, error) {
	if ch.Channel.IsClosed() {
		cp.mu.Lock()
		cp.activeCount--
		cp.mu.Unlock()
		return cp.createAndGet(ctx)
	}
	ch.lastUsed = time.Now()
	return ch, nil
}

// Put returns a channel to the pool
func (cp *ChannelPool) Put(ch *PooledChannel) {
	if ch == nil {
		return
	}

	cp.mu.Lock()
	if cp.closed {
		cp.mu.Unlock()
		ch.Channel.Close()
		return
	}
	cp.mu.Unlock()

	if ch.Channel.IsClosed() {
		cp.mu.Lock()
		cp.activeCount--
		cp.mu.Unlock()
		return
	}

	ch.lastUsed = time.Now()

	select {
	case cp.channels <- ch:
	default:
		// Pool is full
		ch.Channel.Close()
		cp.mu.Lock()
		cp.activeCount--
		cp.mu.Unlock()
	}
}

// Close closes all channels in the pool
func (cp *ChannelPool) Close() error {
	cp.mu.Lock()
	if cp.closed {
		cp.mu.Unlock()
		return nil
	}
	cp.closed = true
	cp.mu.Unlock()

	close(cp.channels)

	for ch := range cp.channels {
		if ch != nil && !ch.Channel.IsClosed() {
			ch.Channel.Close()
		}
	}

	return nil
}

func (cp *ChannelPool) createChannel() (*PooledChannel, error) {
	conn, err := cp.manager.GetConnection()
	if err != nil {
		return nil, &ChannelError{
			Op:        "create channel",
			ChannelID: "new",
			Err:       err,
			Timestamp: time.Now(),
		}
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, &ChannelError{
			Op:        "create channel",
			ChannelID: "new",
			Err:       fmt.Errorf("%w: %v", ErrChannelCreationFailed, err),
			Timestamp: time.Now(),
		}
	}

	pooled := &PooledChannel{
		Channel:  ch,
		pool:     cp,
		lastUsed: time.Now(),
		id:       uuid.New().String(),
	}

	cp.mu.Lock()
	cp.activeCount++
	cp.mu.Unlock()

	return pooled, nil
}

func (cp *ChannelPool) createAndGet(ctx context.Context) (*PooledChannel, error) {
	select {
	case <-ctx.Done():
		return nil, &ChannelError{
			Op:        "create channel",
			ChannelID: "new",
			Err:       ctx.Err(),
			Timestamp: time.Now(),
		}
	default:
	}

	return cp.createChannel()
}

// cleanupIdle closes channels idle past the timeout, keeping minSize alive
func (cp *ChannelPool) cleanupIdle() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		cp.mu.Lock()
		if cp.closed {
			cp.mu.Unlock()
			return
		}
		cp.mu.Unlock()

		cutoff := time.Now().Add(-cp.idleTimeout)

		var keep []*PooledChannel
	drain:
		for {
			select {
			case ch := <-cp.channels:
				if ch.lastUsed.Before(cutoff) && cp.Size() > cp.minSize {
					ch.Channel.Close()
					cp.mu.Lock()
					cp.activeCount--
					cp.mu.Unlock()
				} else {
					keep = append(keep, ch)
				}
			default:
				break drain
			}
		}

		for _, ch := range keep {
			select {
			case cp.channels <- ch:
			default:
				ch.Channel.Close()
				cp.mu.Lock()
				cp.activeCount--
				cp.mu.Unlock()
			}
		}
	}
}

// Size returns the number of channels currently managed by the pool
func (cp *ChannelPool) Size() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.activeCount
}

// Execute runs fn with a channel from the pool, returning it afterwards
func (cp *ChannelPool) Execute(ctx context.Context, fn func(*amqp.Channel) error) error {
	ch, err := cp.Get(ctx)
	if err != nil {
		return err
	}
	defer cp.Put(ch)

	var execErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				execErr = fmt.Errorf("panic in channel execution: %v", r)
			}
		}()
		execErr = fn(ch.Channel)
	}()

	return execErr
}
