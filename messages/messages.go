package messages

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

var (
	// ErrNoHTTPMethod is returned when a pull message's decoded auth
	// code does not carry an HTTP method for the provider request.
	ErrNoHTTPMethod = errors.New("messages: could not find HTTP method in auth code")

	// ErrMissingID is returned when a pull payload carries neither an
	// id nor a transfer_process_id field.
	ErrMissingID = errors.New("messages: pull message missing id")

	// ErrMissingEndpoint is returned when a pull payload carries no
	// provider endpoint.
	ErrMissingEndpoint = errors.New("messages: pull message missing endpoint")

	// ErrMissingBody is returned when a push payload carries no body field.
	ErrMissingBody = errors.New("messages: push message missing body")
)

// Message is the closed set of payloads delivered over the exchange.
type Message interface {
	// CorrelationID returns the transfer process id the message
	// correlates to. Messages without an id report ok == false and
	// never match an id-filtered wait.
	CorrelationID() (id string, ok bool)
}

// HttpPullMessage carries the credentials a consumer needs to make its
// own request against a provider's data endpoint.
type HttpPullMessage struct {
	AuthCodeDecoded map[string]interface{} `json:"auth_code_decoded"`
	AuthCode        string                 `json:"auth_code"`
	AuthKey         string                 `json:"auth_key"`
	Endpoint        string                 `json:"endpoint"`
	ID              string                 `json:"id"`
	Properties      map[string]interface{} `json:"properties"`
	ContractID      string                 `json:"contract_id"`
}

// RequestArgs describes the provider request a pull message authorizes.
type RequestArgs struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Params  map[string]string `json:"params"`
}

// CorrelationID implements Message. The transfer process id doubles as
// the correlation id.
func (m *HttpPullMessage) CorrelationID() (string, bool) {
	return m.ID, m.ID != ""
}

// TransferProcessID returns the transfer process id of the operation
// this message belongs to.
func (m *HttpPullMessage) TransferProcessID() string {
	return m.ID
}

// ProviderHost returns the hostname of the provider endpoint with any
// port stripped, or the empty string when the endpoint cannot be parsed.
func (m *HttpPullMessage) ProviderHost() string {
	u, err := url.Parse(m.Endpoint)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// HTTPMethod extracts the HTTP method for the provider request from the
// decoded auth code: the first value under dad.properties whose key
// ends in "method".
func (m *HttpPullMessage) HTTPMethod() (string, error) {
	dad, ok := m.AuthCodeDecoded["dad"].(map[string]interface{})
	if !ok {
		return "", ErrNoHTTPMethod
	}
	props, ok := dad["properties"].(map[string]interface{})
	if !ok {
		return "", ErrNoHTTPMethod
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		if strings.HasSuffix(k, "method") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		if method, ok := props[k].(string); ok && method != "" {
			return method, nil
		}
	}
	return "", ErrNoHTTPMethod
}

// RequestArgs assembles the arguments for the provider request: method
// from the decoded auth code, the endpoint URL, the auth header, and
// the contract id as a query parameter.
func (m *HttpPullMessage) RequestArgs() (RequestArgs, error) {
	method, err := m.HTTPMethod()
	if err != nil {
		return RequestArgs{}, err
	}
	return RequestArgs{
		Method:  method,
		URL:     m.Endpoint,
		Headers: map[string]string{m.AuthKey: m.AuthCode},
		Params:  map[string]string{"contractId": m.ContractID},
	}, nil
}

// HttpPushMessage wraps a payload a counterparty pushed to the consumer
// backend. The body is opaque to the engine.
type HttpPushMessage struct {
	Body interface{} `json:"body"`
}

// CorrelationID implements Message. Push messages carry no id.
func (m *HttpPushMessage) CorrelationID() (string, bool) {
	return "", false
}

// DecodePull parses raw bytes into an HttpPullMessage. The id may
// arrive under either the id or the transfer_process_id field; a
// payload with neither, or without an endpoint, is malformed.
func DecodePull(raw []byte) (*HttpPullMessage, error) {
	var wire struct {
		HttpPullMessage
		TransferProcessID string `json:"transfer_process_id"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("messages: decode pull message: %w", err)
	}

	msg := wire.HttpPullMessage
	if msg.ID == "" {
		msg.ID = wire.TransferProcessID
	}
	if msg.ID == "" {
		return nil, ErrMissingID
	}
	if msg.Endpoint == "" {
		return nil, ErrMissingEndpoint
	}
	return &msg, nil
}

// DecodePush parses raw bytes into an HttpPushMessage. A payload
// without a body field is malformed.
func DecodePush(raw []byte) (*HttpPushMessage, error) {
	var wire struct {
		Body json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("messages: decode push message: %w", err)
	}
	if len(wire.Body) == 0 {
		return nil, ErrMissingBody
	}

	var body interface{}
	if err := json.Unmarshal(wire.Body, &body); err != nil {
		return nil, fmt.Errorf("messages: decode push body: %w", err)
	}
	return &HttpPushMessage{Body: body}, nil
}
