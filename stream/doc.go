// Package stream re-exposes the asynchronous broker deliveries as
// Server-Sent Event endpoints.
//
// Each request provisions a private consumer facade (exclusive,
// auto-deleted queue), waits for exactly one correlated message within
// a wall-clock timeout, serializes it as a single SSE data frame and
// tears the facade down again. Once the event-stream response is
// committed, failures render as error frames rather than HTTP status
// codes. Access is guarded by a shared bearer token checked before any
// queue is provisioned.
package stream
