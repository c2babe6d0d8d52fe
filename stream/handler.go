package stream

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/schema"

	"github.com/glimte/edcmate-go/messages"
	"github.com/glimte/edcmate-go/routing"
)

// Timeout bounds for a single stream request, in seconds.
const (
	defaultTimeoutSeconds = 300
	minTimeoutSeconds     = 1
	maxTimeoutSeconds     = 7200
)

const (
	codeBadRequest   = "BAD_REQUEST"
	codeUnauthorized = "UNAUTHORIZED"
	codeForbidden    = "FORBIDDEN"
	codeInternal     = "INTERNAL_ERROR"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Consumer is the one-shot wait surface of a consumer facade.
// *messaging.QueueConsumer satisfies it.
type Consumer interface {
	WaitFor(ctx context.Context, transferProcessID string, timeout time.Duration) (messages.Message, error)
	WaitForNext(ctx context.Context, timeout time.Duration) (messages.Message, error)
	Close() error
}

// PullConsumerFactory opens a consumer facade for one pull stream
// request, scoped to the transfer process and optional provider host.
type PullConsumerFactory func(ctx context.Context, consumerID, providerHost, transferProcessID string) (Consumer, error)

// PushConsumerFactory opens a consumer facade for one push stream
// request, scoped to the given path segments.
type PushConsumerFactory func(ctx context.Context, consumerID string, segments ...string) (Consumer, error)

// streamParams are the query parameters every stream endpoint accepts.
type streamParams struct {
	Timeout      int    `schema:"timeout"`
	ProviderHost string `schema:"provider_host"`
}

// Handler serves the SSE endpoints.
type Handler struct {
	pullFactory PullConsumerFactory
	pushFactory PushConsumerFactory
	apiKey      string
	logger      *slog.Logger
}

// HandlerOption configures the handler
type HandlerOption func(*Handler)

// WithAPIKey sets the bearer token streams must present. Without a key
// every stream request is refused.
func WithAPIKey(key string) HandlerOption {
	return func(h *Handler) {
		h.apiKey = key
	}
}

// WithStreamLogger sets the logger
func WithStreamLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler creates a stream handler opening facades through the two
// factories.
func NewHandler(pullFactory PullConsumerFactory, pushFactory PushConsumerFactory, options ...HandlerOption) *Handler {
	h := &Handler{
		pullFactory: pullFactory,
		pushFactory: pushFactory,
		logger:      slog.Default(),
	}

	for _, opt := range options {
		opt(h)
	}

	return h
}

// RegisterRoutes mounts the stream endpoints on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /pull/stream/{transferProcessId}", h.requireAuth(h.handlePullStream))
	mux.HandleFunc("GET /push/stream", h.requireAuth(h.handlePushStream))
	mux.HandleFunc("GET /push/stream/{path...}", h.requireAuth(h.handlePushStream))
}

// requireAuth enforces the shared bearer token before anything is
// provisioned on the broker.
func (h *Handler) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.apiKey == "" {
			writeError(w, http.StatusForbidden, codeForbidden, "streaming access is not configured")
			return
		}

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			writeError(w, http.StatusForbidden, codeForbidden, "missing bearer token")
			return
		}
		if token != h.apiKey {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "invalid bearer token")
			return
		}

		next(w, r)
	}
}

// handlePullStream waits for the credential correlated to the transfer
// process id in the path and streams it as one frame.
func (h *Handler) handlePullStream(w http.ResponseWriter, r *http.Request) {
	transferProcessID := r.PathValue("transferProcessId")

	params, err := parseParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	sse, err := openStream(w, h.logger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}

	consumerID := streamConsumerID("sse-pull", transferProcessID)
	consumer, err := h.pullFactory(r.Context(), consumerID, params.ProviderHost, transferProcessID)
	if err != nil {
		h.logger.Error("failed to open pull stream",
			"transferProcessId", transferProcessID,
			"error", err,
		)
		sse.writeFrame(errorFrame{
			Type:              frameError,
			Message:           "failed to provision stream queue",
			TransferProcessID: transferProcessID,
		})
		return
	}
	defer consumer.Close()

	start := time.Now()
	h.logger.Info("pull stream open",
		"transferProcessId", transferProcessID,
		"consumerId", consumerID,
		"timeout_s", params.Timeout,
	)

	msg, err := consumer.WaitFor(r.Context(), transferProcessID, time.Duration(params.Timeout)*time.Second)
	if err != nil {
		sse.writeFrame(newWaitErrorFrame(err, transferProcessID, ""))
		return
	}

	pull, ok := msg.(*messages.HttpPullMessage)
	if !ok {
		sse.writeFrame(errorFrame{
			Type:              frameError,
			Message:           "unexpected message type on pull stream",
			TransferProcessID: transferProcessID,
		})
		return
	}

	frame, err := newPullFrame(pull)
	if err != nil {
		h.logger.Warn("pull credential carries no usable request args",
			"transferProcessId", transferProcessID,
			"error", err,
		)
	}
	sse.writeFrame(frame)

	h.logger.Info("pull stream served",
		"transferProcessId", transferProcessID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// handlePushStream waits for the next payload pushed under the request
// path and streams it as one frame.
func (h *Handler) handlePushStream(w http.ResponseWriter, r *http.Request) {
	rawPath := r.PathValue("path")
	segments := splitPath(rawPath)
	routingPath := strings.Join(segments, "/")

	params, err := parseParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	sse, err := openStream(w, h.logger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}

	consumerID := streamConsumerID("sse-push", rawPath)
	consumer, err := h.pushFactory(r.Context(), consumerID, segments...)
	if err != nil {
		h.logger.Error("failed to open push stream",
			"path", routingPath,
			"error", err,
		)
		sse.writeFrame(errorFrame{
			Type:        frameError,
			Message:     "failed to provision stream queue",
			RoutingPath: routingPath,
		})
		return
	}
	defer consumer.Close()

	start := time.Now()
	h.logger.Info("push stream open",
		"path", routingPath,
		"consumerId", consumerID,
		"timeout_s", params.Timeout,
	)

	msg, err := consumer.WaitForNext(r.Context(), time.Duration(params.Timeout)*time.Second)
	if err != nil {
		sse.writeFrame(newWaitErrorFrame(err, "", routingPath))
		return
	}

	push, ok := msg.(*messages.HttpPushMessage)
	if !ok {
		sse.writeFrame(errorFrame{
			Type:        frameError,
			Message:     "unexpected message type on push stream",
			RoutingPath: routingPath,
		})
		return
	}

	sse.writeFrame(newPushFrame(push, routingPath))

	h.logger.Info("push stream served",
		"path", routingPath,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// parseParams decodes and bounds the stream query parameters.
func parseParams(r *http.Request) (streamParams, error) {
	params := streamParams{Timeout: defaultTimeoutSeconds}

	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)
	if err := decoder.Decode(&params, r.URL.Query()); err != nil {
		return params, fmt.Errorf("invalid query parameters: %v", err)
	}

	if params.Timeout < minTimeoutSeconds || params.Timeout > maxTimeoutSeconds {
		return params, fmt.Errorf("timeout must be between %d and %d seconds", minTimeoutSeconds, maxTimeoutSeconds)
	}
	return params, nil
}

// streamConsumerID builds a per-request consumer id: prefix, slugified
// scope and a short random suffix so concurrent streams never collide
// on queue names.
func streamConsumerID(prefix, scope string) string {
	uid := uuid.New()
	suffix := hex.EncodeToString(uid[:4])
	if slug := routing.Slugify(scope); slug != "" {
		return prefix + "-" + slug + "-" + suffix
	}
	return prefix + "-" + suffix
}

// sseWriter writes data frames on a committed event-stream response.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	logger  *slog.Logger
}

// openStream commits the SSE response: headers, status 200 and an
// initial flush. From here on errors go out as frames.
func openStream(w http.ResponseWriter, logger *slog.Logger) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support streaming")
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseWriter{w: w, flusher: flusher, logger: logger}, nil
}

func (s *sseWriter) writeFrame(frame interface{}) {
	raw, err := json.Marshal(frame)
	if err != nil {
		s.logger.Warn("failed to encode stream frame", "error", err)
		return
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", raw); err != nil {
		s.logger.Warn("failed to write stream frame", "error", err)
		return
	}
	s.flusher.Flush()
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(apiError{Code: code, Message: message}); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
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
