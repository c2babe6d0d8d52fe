// Package backend exposes the publisher-side HTTP surface of the
// engine: the endpoints a dataspace connector calls back with pull
// credentials and push payloads.
//
// Incoming bodies are validated, auth codes decoded (see
// AuthCodeDecoder), and the resulting typed messages handed to a
// publisher that fans them out over the shared topic exchange. The
// HTTP layer stays thin: every endpoint answers with a small JSON
// document and all broker interaction goes through the Publisher
// interface, so the handlers can be tested without a running broker.
package backend
