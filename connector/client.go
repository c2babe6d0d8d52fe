// Package connector is the HTTP client for a dataspace connector's
// Management API: provider-side provisioning (data planes, assets,
// policies, contract definitions) and the consumer-side negotiation
// and transfer flows whose asynchronous results the messaging engine
// later correlates.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/glimte/edcmate-go/config"
	"github.com/glimte/edcmate-go/internal/retry"
)

// DefaultRequestTimeout bounds each individual management API request.
const DefaultRequestTimeout = 60 * time.Second

// DefaultPollInterval is the delay between state polls while awaiting
// negotiations and transfers.
const DefaultPollInterval = time.Second

// Negotiation and transfer states the awaits resolve on.
const (
	stateFinalized = "FINALIZED"
	stateVerified  = "VERIFIED"
	stateCompleted = "COMPLETED"
)

// ManagementError reports a non-2xx management API response.
type ManagementError struct {
	Method string
	URL    string
	Status int
	Body   string
}

// Error implements error
func (e *ManagementError) Error() string {
	return fmt.Sprintf("management API %s %s: status %d", e.Method, e.URL, e.Status)
}

// Client talks to one connector's Management API.
type Client struct {
	httpClient    *http.Client
	managementURL string
	apiKey        string
	apiKeyHeader  string
	pollPolicy    retry.Policy
	logger        *slog.Logger
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithManagementURL overrides the management URL derived from the
// connector configuration
func WithManagementURL(url string) ClientOption {
	return func(c *Client) {
		c.managementURL = strings.TrimSuffix(url, "/")
	}
}

// WithPollPolicy replaces the await polling policy
func WithPollPolicy(policy retry.Policy) ClientOption {
	return func(c *Client) {
		c.pollPolicy = policy
	}
}

// WithClientLogger sets the logger
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a management client for the configured connector.
// The API key header is attached to every request when the
// configuration carries a key.
func NewClient(cfg config.Connector, options ...ClientOption) *Client {
	c := &Client{
		httpClient:    &http.Client{Timeout: DefaultRequestTimeout},
		managementURL: cfg.ManagementURL(),
		apiKey:        cfg.APIKey,
		apiKeyHeader:  cfg.APIKeyHeader,
		pollPolicy:    retry.FixedInterval{Interval: DefaultPollInterval},
		logger:        slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// idResponse picks the id out of a management API response document.
type idResponse struct {
	ID string `json:"@id"`
}

type negotiationStatus struct {
	State               string `json:"state"`
	ContractAgreementID string `json:"contractAgreementId"`
}

type transferStatus struct {
	State string `json:"state"`
}

// RegisterDataPlane registers a data plane instance.
func (c *Client) RegisterDataPlane(ctx context.Context, req DataPlaneRequest) error {
	return c.do(ctx, http.MethodPost, "v2/dataplanes", req, nil)
}

// CreateAsset creates an asset and returns its id.
func (c *Client) CreateAsset(ctx context.Context, req AssetRequest) (string, error) {
	var out idResponse
	if err := c.do(ctx, http.MethodPost, "v3/assets", req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// CreatePolicyDefinition creates a policy definition and returns its id.
func (c *Client) CreatePolicyDefinition(ctx context.Context, req PolicyDefinitionRequest) (string, error) {
	var out idResponse
	if err := c.do(ctx, http.MethodPost, "v2/policydefinitions", req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// CreateContractDefinition creates a contract definition and returns its id.
func (c *Client) CreateContractDefinition(ctx context.Context, req ContractDefinitionRequest) (string, error) {
	var out idResponse
	if err := c.do(ctx, http.MethodPost, "v2/contractdefinitions", req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// FetchCatalog requests the counterparty's catalog through this
// connector. A positive limit caps the number of datasets.
func (c *Client) FetchCatalog(ctx context.Context, counterPartyProtocolURL string, limit int) (*CatalogContent, error) {
	var data map[string]interface{}
	req := NewCatalogRequest(counterPartyProtocolURL, limit)
	if err := c.do(ctx, http.MethodPost, "v2/catalog/request", req, &data); err != nil {
		return nil, err
	}
	return &CatalogContent{Data: data}, nil
}

// CreateContractNegotiation starts a negotiation and returns its id.
func (c *Client) CreateContractNegotiation(ctx context.Context, req ContractNegotiationRequest) (string, error) {
	var out idResponse
	if err := c.do(ctx, http.MethodPost, "v2/contractnegotiations", req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// AwaitContractAgreement polls the negotiation until it is finalized
// or verified and carries an agreement id, and returns that id. The
// caller's context bounds the wait; request failures are retried like
// pending states.
func (c *Client) AwaitContractAgreement(ctx context.Context, negotiationID string) (string, error) {
	endpoint := "v2/contractnegotiations/" + negotiationID

	var agreementID string
	err := retry.Do(ctx, c.pollPolicy, func() error {
		var status negotiationStatus
		if err := c.do(ctx, http.MethodGet, endpoint, nil, &status); err != nil {
			return err
		}

		if (status.State == stateFinalized || status.State == stateVerified) && status.ContractAgreementID != "" {
			agreementID = status.ContractAgreementID
			return nil
		}

		c.logger.Debug("waiting for contract agreement",
			"negotiationId", negotiationID,
			"state", status.State,
		)
		return fmt.Errorf("negotiation %s in state %s", negotiationID, status.State)
	})
	if err != nil {
		return "", fmt.Errorf("await contract agreement: %w", err)
	}
	return agreementID, nil
}

// CreateTransferProcess starts a transfer process and returns its id:
// the transfer process id the delivery engine later correlates on.
func (c *Client) CreateTransferProcess(ctx context.Context, req TransferProcessRequest) (string, error) {
	var out idResponse
	if err := c.do(ctx, http.MethodPost, "v2/transferprocesses", req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// AwaitTransferCompletion polls the transfer process until it reaches
// COMPLETED. The caller's context bounds the wait.
func (c *Client) AwaitTransferCompletion(ctx context.Context, transferProcessID string) error {
	endpoint := "v2/transferprocesses/" + transferProcessID

	err := retry.Do(ctx, c.pollPolicy, func() error {
		var status transferStatus
		if err := c.do(ctx, http.MethodGet, endpoint, nil, &status); err != nil {
			return err
		}
		if status.State == stateCompleted {
			return nil
		}

		c.logger.Debug("waiting for transfer process",
			"transferProcessId", transferProcessID,
			"state", status.State,
		)
		return fmt.Errorf("transfer process %s in state %s", transferProcessID, status.State)
	})
	if err != nil {
		return fmt.Errorf("await transfer completion: %w", err)
	}
	return nil
}

// do runs one management API request: JSON in, JSON out, API key
// header attached, non-2xx mapped to ManagementError.
func (c *Client) do(ctx context.Context, method, endpoint string, payload, out interface{}) error {
	url := c.managementURL + "/" + endpoint

	var bodyReader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode management request: %w", err)
		}
		bodyReader = bytes.NewReader(raw)
		c.logger.Debug("management request", "method", method, "url", url, "body", string(raw))
	} else {
		c.logger.Debug("management request", "method", method, "url", url)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set(c.apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("management API request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read management API response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &ManagementError{Method: method, URL: url, Status: resp.StatusCode, Body: string(raw)}
	}

	c.logger.Debug("management response",
		"method", method,
		"url", url,
		"status", resp.StatusCode,
		"body", string(raw),
	)

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode management API response: %w", err)
		}
	}
	return nil
}
