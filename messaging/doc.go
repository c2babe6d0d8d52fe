// Package messaging implements the correlated delivery engine: queue
// consumers that park inbound broker deliveries in a pending store until
// a caller claims them by correlation id (or takes the next one), and a
// publisher that feeds the other side of the exchange.
//
// The central pieces:
//   - Transport: the broker abstraction (provision a bound queue with a
//     delivery handler, publish, close); transports/rabbitmq provides
//     the production implementation
//   - Store: mutex-guarded pending store with a polling correlator
//   - QueueConsumer: one provisioned queue + one store, exposing
//     one-shot waits with scoped acknowledgment semantics
//   - MessagePublisher: publishes pull credentials and push payloads
//     with routing keys derived from message content
//
// Every QueueConsumer owns its transport outright. Acknowledgment is
// deferred until a wait claims the matched envelope: success acks,
// processing failure rejects without requeue, and a malformed delivery
// is rejected at ingest without ever entering the store.
package messaging
