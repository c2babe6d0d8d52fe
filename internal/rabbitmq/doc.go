// Package rabbitmq provides the broker plumbing for the edcmate messaging layer.
//
// This package includes:
//   - ConnectionManager: Manages a RabbitMQ connection with automatic reconnection
//   - ChannelPool: Provides channel pooling with idle timeout
//   - Publisher: Publishes messages with broker confirmation
//   - Consumer: Consumes queues and hands deliveries to a registered handler
//   - TopologyManager: Declares exchanges, queues, and bindings
//
// Each consumer facade owns its own ConnectionManager and pool; connection
// objects are never shared across facades, so tearing one down cannot affect
// another's deliveries. Acknowledgment is deliberately left to the handler
// when auto-ack is disabled: a delivery may be parked in a pending store long
// after the handler returns, and only its eventual claimant decides between
// ack and reject.
package rabbitmq
