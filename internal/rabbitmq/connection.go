package rabbitmq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ConnectionStateListener receives connection state change notifications
type ConnectionStateListener interface {
	OnConnected()
	OnDisconnected(err error)
	OnReconnecting(attempt int)
}

// ConnectionManager manages a RabbitMQ connection with automatic reconnection.
// Consumers that survive a reconnect must be re-established by a listener;
// the manager only restores the connection itself.
type ConnectionManager struct {
	url            string
	conn           *amqp.Connection
	mu             sync.RWMutex
	connectTimeout time.Duration
	reconnectDelay time.Duration
	maxRetries     int
	logger         *slog.Logger
	notifyClose    chan *amqp.Error
	isConnected    bool
	done           chan struct{}
	stateListeners []ConnectionStateListener
	listenersMu    sync.RWMutex
}

// ConnectionOption configures the ConnectionManager
type ConnectionOption func(*ConnectionManager)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.logger = logger
	}
}

// WithConnectTimeout sets how long a single dial attempt may take
func WithConnectTimeout(timeout time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.connectTimeout = timeout
	}
}

// WithReconnectDelay sets the base reconnection delay
func WithReconnectDelay(delay time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.reconnectDelay = delay
	}
}

// WithMaxRetries sets the maximum number of reconnection attempts.
// A negative value retries forever.
func WithMaxRetries(retries int) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.maxRetries = retries
	}
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(url string, options ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		url:            url,
		connectTimeout: 30 * time.Second,
		reconnectDelay: 5 * time.Second,
		maxRetries:     -1,
		logger:         slog.Default(),
		done:           make(chan struct{}),
	}

	for _, opt := range options {
		opt(cm)
	}

	return cm
}

// Connect establishes the initial connection
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.isConnected {
		return nil
	}

	conn, err := cm.dial(ctx)
	if err != nil {
		return &ConnectionError{
			Op:        "connect",
			URL:       SanitizeURL(cm.url),
			Err:       err,
			Timestamp: time.Now(),
			Attempts:  1,
		}
	}

	cm.adopt(conn)

	cm.logger.Info("connected to RabbitMQ",
		"url", SanitizeURL(cm.url))

	cm.notifyConnected()

	go cm.handleReconnect()

	return nil
}

// dial attempts a single connection within the configured timeout.
// amqp.Dial has no context support, so the attempt runs in a goroutine
// and may be abandoned (not cancelled) when the timeout fires.
func (cm *ConnectionManager) dial(ctx context.Context) (*amqp.Connection, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cm.connectTimeout)
	defer cancel()

	connChan := make(chan *amqp.Connection, 1)
	errChan := make(chan error, 1)

	go func() {
		conn, err := amqp.Dial(cm.url)
		if err != nil {
			errChan <- err
			return
		}
		select {
		case connChan <- conn:
		default:
			conn.Close()
		}
	}()

	select {
	case conn := <-connChan:
		return conn, nil
	case err := <-errChan:
		return nil, err
	case <-dialCtx.Done():
		return nil, ErrConnectionTimeout
	}
}

// adopt installs a freshly dialed connection. Caller must hold cm.mu.
func (cm *ConnectionManager) adopt(conn *amqp.Connection) {
	cm.conn = conn
	cm.isConnected = true
	cm.notifyClose = make(chan *amqp.Error)
	cm.conn.NotifyClose(cm.notifyClose)
}

// GetConnection returns the current connection
func (cm *ConnectionManager) GetConnection() (*amqp.Connection, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if !cm.isConnected || cm.conn == nil {
		return nil, ErrConnectionNotReady
	}

	if cm.conn.IsClosed() {
		return nil, ErrConnectionClosed
	}

	return cm.conn, nil
}

// IsConnected returns the connection status
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.isConnected && cm.conn != nil && !cm.conn.IsClosed()
}

// Close closes the connection and stops the reconnection handler
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	select {
	case <-cm.done:
		return nil
	default:
	}

	close(cm.done)
	cm.isConnected = false

	if cm.conn != nil {
		err := cm.conn.Close()
		cm.conn = nil
		return err
	}

	return nil
}

// handleReconnect monitors the connection and reconnects when it drops
func (cm *ConnectionManager) handleReconnect() {
	for {
		select {
		case err := <-cm.notifyClose:
			if err != nil {
				cm.logger.Error("connection closed", "error", err)
			}

			cm.mu.Lock()
			cm.isConnected = false
			cm.conn = nil
			cm.mu.Unlock()

			cm.notifyDisconnected(err)

			if !cm.reconnect() {
				return
			}

		case <-cm.done:
			cm.logger.Info("connection manager shutting down")
			return
		}
	}
}

// reconnect attempts to restore the connection. Returns false when the
// manager shut down or the retry budget ran out.
func (cm *ConnectionManager) reconnect() bool {
	retries := 0
	startTime := time.Now()

	for {
		select {
		case <-cm.done:
			return false
		default:
		}

		if cm.maxRetries >= 0 && retries >= cm.maxRetries {
			cm.logger.Error("max reconnection attempts reached",
				"attempts", retries,
				"duration", time.Since(startTime))

			cm.notifyDisconnected(&ConnectionError{
				Op:        "reconnect",
				URL:       SanitizeURL(cm.url),
				Err:       ErrMaxRetriesExceeded,
				Timestamp: time.Now(),
				Attempts:  retries,
			})
			return false
		}

		cm.notifyReconnecting(retries + 1)

		delay := cm.calculateBackoff(retries)
		if retries > 0 {
			select {
			case <-time.After(delay):
			case <-cm.done:
				return false
			}
		}

		cm.logger.Info("attempting to reconnect",
			"attempt", retries+1,
			"maxRetries", cm.maxRetries)

		conn, err := cm.dial(context.Background())
		if err != nil {
			cm.logger.Error("reconnection failed",
				"error", err,
				"attempt", retries+1,
				"nextRetryIn", delay)
			retries++
			continue
		}

		cm.mu.Lock()
		cm.adopt(conn)
		cm.mu.Unlock()

		cm.logger.Info("reconnected to RabbitMQ",
			"attempts", retries+1,
			"duration", time.Since(startTime))

		cm.notifyConnected()
		return true
	}
}

// AddStateListener adds a connection state listener
func (cm *ConnectionManager) AddStateListener(listener ConnectionStateListener) {
	cm.listenersMu.Lock()
	defer cm.listenersMu.Unlock()
	cm.stateListeners = append(cm.stateListeners, listener)
}

// RemoveStateListener removes a connection state listener
func (cm *ConnectionManager) RemoveStateListener(listener ConnectionStateListener) {
	cm.listenersMu.Lock()
	defer cm.listenersMu.Unlock()

	for i, l := range cm.stateListeners {
		if l == listener {
			cm.stateListeners = append(cm.stateListeners[:i], cm.stateListeners[i+1:]...)
			break
		}
	}
}

func (cm *ConnectionManager) notifyConnected() {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()

	for _, listener := range cm.stateListeners {
		go listener.OnConnected()
	}
}

func (cm *ConnectionManager) notifyDisconnected(err error) {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()

	for _, listener := range cm.stateListeners {
		go listener.OnDisconnected(err)
	}
}

func (cm *ConnectionManager) notifyReconnecting(attempt int) {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()

	for _, listener := range cm.stateListeners {
		go listener.OnReconnecting(attempt)
	}
}

// calculateBackoff returns an exponential delay with jitter, capped at 5 minutes
func (cm *ConnectionManager) calculateBackoff(attempt int) time.Duration {
	base := cm.reconnectDelay
	if base <= 0 {
		base = 5 * time.Second
	}

	maxDelay := 5 * time.Minute

	delay := base * time.Duration(1<<uint(attempt))
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}

	// ±25% jitter
	jitter := time.Duration(float64(delay) * 0.25)
	if jitter > 0 {
		delay = delay - jitter/2 + time.Duration(time.Now().UnixNano()%int64(jitter))
	}

	return delay
}
