package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/glimte/edcmate-go/messages"
	"github.com/glimte/edcmate-go/messaging"
)

// maxRequestBody bounds connector callback bodies.
const maxRequestBody = 4 << 20

// Error codes returned in the JSON error envelope.
const (
	codeBadRequest      = "BAD_REQUEST"
	codeBadGateway      = "BAD_GATEWAY"
	codeRequestTooLarge = "REQUEST_TOO_LARGE"
)

// APIError is the JSON error envelope for all backend endpoints.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EndpointDataReference is the credential document a connector posts
// to the pull endpoint, using the connector-facing field names.
type EndpointDataReference struct {
	ID         string                 `json:"id"`
	Endpoint   string                 `json:"endpoint"`
	AuthKey    string                 `json:"authKey"`
	AuthCode   string                 `json:"authCode"`
	Properties map[string]interface{} `json:"properties"`
	ContractID string                 `json:"contractId"`
}

// Validate reports the required fields the reference is missing.
func (e *EndpointDataReference) Validate() error {
	var missing []string
	if e.ID == "" {
		missing = append(missing, "id")
	}
	if e.Endpoint == "" {
		missing = append(missing, "endpoint")
	}
	if e.AuthCode == "" {
		missing = append(missing, "authCode")
	}
	if len(missing) > 0 {
		return fmt.Errorf("incomplete endpoint data reference: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Publisher fans typed messages out to the broker.
// *messaging.MessagePublisher satisfies it.
type Publisher interface {
	PublishPull(ctx context.Context, msg *messages.HttpPullMessage) error
	PublishPush(ctx context.Context, body interface{}, segments ...string) error
}

// Pinger reports broker connectivity for the health endpoint.
type Pinger interface {
	IsConnected() bool
}

// publishReceipt tells the caller where its message went.
type publishReceipt struct {
	Broker   string `json:"broker"`
	Exchange string `json:"exchange"`
}

type healthStatus struct {
	Status string `json:"status"`
	Broker string `json:"broker,omitempty"`
}

// Handler serves the connector-facing backend endpoints.
type Handler struct {
	publisher Publisher
	decoder   *AuthCodeDecoder
	pinger    Pinger
	broker    string
	exchange  string
	logger    *slog.Logger
}

// HandlerOption configures the handler
type HandlerOption func(*Handler)

// WithBroker sets the broker URL reported in publish receipts.
// Credentials are redacted before the URL is ever written out.
func WithBroker(rawURL string) HandlerOption {
	return func(h *Handler) {
		h.broker = redactBrokerURL(rawURL)
	}
}

// WithExchange sets the exchange name reported in publish receipts
func WithExchange(exchange string) HandlerOption {
	return func(h *Handler) {
		h.exchange = exchange
	}
}

// WithPinger wires broker connectivity into the health endpoint
func WithPinger(pinger Pinger) HandlerOption {
	return func(h *Handler) {
		h.pinger = pinger
	}
}

// WithHandlerLogger sets the logger
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler creates a backend handler publishing through publisher
// and decoding auth codes with decoder.
func NewHandler(publisher Publisher, decoder *AuthCodeDecoder, options ...HandlerOption) *Handler {
	h := &Handler{
		publisher: publisher,
		decoder:   decoder,
		logger:    slog.Default(),
	}

	for _, opt := range options {
		opt(h)
	}

	return h
}

// RegisterRoutes mounts the backend endpoints on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /pull", h.logRequest(h.maxBodySize(h.handlePull)))
	mux.HandleFunc("POST /push", h.logRequest(h.maxBodySize(h.handlePush)))
	mux.HandleFunc("POST /push/{path...}", h.logRequest(h.maxBodySize(h.handlePushPath)))
	mux.HandleFunc("GET /health", h.logRequest(h.handleHealth))
}

// handlePull receives an endpoint data reference from the connector,
// decodes its auth code and publishes the pull credential.
func (h *Handler) handlePull(w http.ResponseWriter, r *http.Request) {
	var edr EndpointDataReference
	if err := json.NewDecoder(r.Body).Decode(&edr); err != nil {
		writeBodyError(w, err)
		return
	}
	if err := edr.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	decoded, err := h.decoder.Decode(edr.AuthCode)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, fmt.Sprintf("failed to decode auth code: %v", err))
		return
	}

	msg := &messages.HttpPullMessage{
		AuthCodeDecoded: decoded,
		AuthCode:        edr.AuthCode,
		AuthKey:         edr.AuthKey,
		Endpoint:        edr.Endpoint,
		ID:              edr.ID,
		Properties:      edr.Properties,
		ContractID:      edr.ContractID,
	}

	if err := h.publisher.PublishPull(r.Context(), msg); err != nil {
		if errors.Is(err, messaging.ErrUnroutableMessage) {
			writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to publish pull credential",
			"transferProcessId", edr.ID,
			"error", err,
		)
		writeError(w, http.StatusBadGateway, codeBadGateway, "failed to publish message")
		return
	}

	writeJSON(w, http.StatusOK, publishReceipt{Broker: h.broker, Exchange: h.exchange})
}

// handlePush publishes an arbitrary JSON payload under the base push
// routing key.
func (h *Handler) handlePush(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeBodyError(w, err)
		return
	}

	var body interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "request body is not valid JSON")
		return
	}

	h.publishPush(w, r, body)
}

// handlePushPath routes the payload by the request path. Non-JSON
// bodies are forwarded as raw strings so plain-text producers can
// still publish.
func (h *Handler) handlePushPath(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeBodyError(w, err)
		return
	}

	var body interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		body = string(raw)
	}

	h.publishPush(w, r, body, splitPath(r.PathValue("path"))...)
}

func (h *Handler) publishPush(w http.ResponseWriter, r *http.Request, body interface{}, segments ...string) {
	if err := h.publisher.PublishPush(r.Context(), body, segments...); err != nil {
		h.logger.Error("failed to publish push payload",
			"path", strings.Join(segments, "/"),
			"error", err,
		)
		writeError(w, http.StatusBadGateway, codeBadGateway, "failed to publish message")
		return
	}

	writeJSON(w, http.StatusOK, publishReceipt{Broker: h.broker, Exchange: h.exchange})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.pinger == nil {
		writeJSON(w, http.StatusOK, healthStatus{Status: "ok"})
		return
	}
	if h.pinger.IsConnected() {
		writeJSON(w, http.StatusOK, healthStatus{Status: "ok", Broker: "connected"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, healthStatus{Status: "degraded", Broker: "disconnected"})
}

// logRequest logs method, path, status and duration of each request.
func (h *Handler) logRequest(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next(rec, r)

		h.logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// maxBodySize caps the request body at maxRequestBody bytes.
func (h *Handler) maxBodySize(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		next(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// writeBodyError distinguishes an oversized body from a malformed one.
func writeBodyError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, http.StatusRequestEntityTooLarge, codeRequestTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
		return
	}
	writeError(w, http.StatusBadRequest, codeBadRequest, fmt.Sprintf("invalid request body: %v", err))
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIError{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// redactBrokerURL strips the password from a broker URL so receipts
// never echo credentials.
func redactBrokerURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Redacted()
}

func splitPath(path string) []string {
	var segments []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	return segments
}
