package connector

import (
	"strings"

	"github.com/google/uuid"
)

const (
	edcNamespace      = "https://w3id.org/edc/v0.0.1/ns/"
	odrlNamespace     = "http://www.w3.org/ns/odrl/2/"
	odrlContext       = "http://www.w3.org/ns/odrl.jsonld"
	dataspaceProtocol = "dataspace-protocol-http"
)

func vocabContext() map[string]interface{} {
	return map[string]interface{}{"@vocab": edcNamespace}
}

// ODRLPolicy is the policy document shared by policy definitions and
// contract negotiation offers.
type ODRLPolicy struct {
	Context     string        `json:"@context"`
	ID          string        `json:"@id,omitempty"`
	Type        string        `json:"@type"`
	Permission  []interface{} `json:"permission"`
	Prohibition []interface{} `json:"prohibition"`
	Obligation  []interface{} `json:"obligation"`
	Target      string        `json:"target,omitempty"`
}

func emptyPolicy() ODRLPolicy {
	return ODRLPolicy{
		Context:     odrlContext,
		Type:        "Set",
		Permission:  []interface{}{},
		Prohibition: []interface{}{},
		Obligation:  []interface{}{},
	}
}

// AssetRequest creates an HttpData asset on the provider.
type AssetRequest struct {
	Context     map[string]interface{} `json:"@context"`
	ID          string                 `json:"@id"`
	Properties  AssetProperties        `json:"properties"`
	DataAddress map[string]string      `json:"dataAddress"`
}

// AssetProperties describe the asset to counterparties.
type AssetProperties struct {
	Name        string `json:"name"`
	ContentType string `json:"contenttype"`
}

type assetConfig struct {
	id               string
	method           string
	contentType      string
	proxyBody        bool
	proxyPath        bool
	proxyQueryParams bool
	proxyMethod      bool
}

// AssetOption configures an asset request
type AssetOption func(*assetConfig)

// WithAssetID overrides the generated asset id
func WithAssetID(id string) AssetOption {
	return func(c *assetConfig) {
		c.id = id
	}
}

// WithSourceMethod sets the method the data plane uses against the source
func WithSourceMethod(method string) AssetOption {
	return func(c *assetConfig) {
		c.method = method
	}
}

// WithSourceContentType sets the advertised content type
func WithSourceContentType(contentType string) AssetOption {
	return func(c *assetConfig) {
		c.contentType = contentType
	}
}

// WithProxying sets which request parts the provider data plane proxies
// through to the source. All four default to on.
func WithProxying(body, path, queryParams, method bool) AssetOption {
	return func(c *assetConfig) {
		c.proxyBody = body
		c.proxyPath = path
		c.proxyQueryParams = queryParams
		c.proxyMethod = method
	}
}

// NewAssetRequest builds an HttpData asset backed by sourceBaseURL.
// Proxy flags are serialized as the string "true" because the
// management API stores data address properties as strings.
func NewAssetRequest(sourceBaseURL string, options ...AssetOption) AssetRequest {
	cfg := assetConfig{
		id:               "asset-" + uuid.NewString(),
		method:           "GET",
		contentType:      "application/json",
		proxyBody:        true,
		proxyPath:        true,
		proxyQueryParams: true,
		proxyMethod:      true,
	}
	for _, opt := range options {
		opt(&cfg)
	}

	addr := map[string]string{
		"type":    "HttpData",
		"name":    "Data address of asset " + cfg.id,
		"baseUrl": sourceBaseURL,
		"method":  cfg.method,
	}
	if cfg.proxyBody {
		addr["proxyBody"] = "true"
	}
	if cfg.proxyPath {
		addr["proxyPath"] = "true"
	}
	if cfg.proxyQueryParams {
		addr["proxyQueryParams"] = "true"
	}
	if cfg.proxyMethod {
		addr["proxyMethod"] = "true"
	}

	return AssetRequest{
		Context: vocabContext(),
		ID:      cfg.id,
		Properties: AssetProperties{
			Name:        "Name of asset " + cfg.id,
			ContentType: cfg.contentType,
		},
		DataAddress: addr,
	}
}

// PolicyDefinitionRequest creates an empty ODRL Set policy.
type PolicyDefinitionRequest struct {
	Context map[string]interface{} `json:"@context"`
	ID      string                 `json:"@id"`
	Policy  ODRLPolicy             `json:"policy"`
}

// NewPolicyDefinitionRequest builds a policy definition. An empty id
// gets a generated policy-def-<uuid> id.
func NewPolicyDefinitionRequest(id string) PolicyDefinitionRequest {
	if id == "" {
		id = "policy-def-" + uuid.NewString()
	}
	return PolicyDefinitionRequest{
		Context: map[string]interface{}{
			"@vocab": edcNamespace,
			"odrl":   odrlNamespace,
		},
		ID:     id,
		Policy: emptyPolicy(),
	}
}

// ContractDefinitionRequest offers assets under a policy.
type ContractDefinitionRequest struct {
	Context          map[string]interface{} `json:"@context"`
	ID               string                 `json:"@id"`
	AccessPolicyID   string                 `json:"accessPolicyId"`
	ContractPolicyID string                 `json:"contractPolicyId"`
	AssetsSelector   []interface{}          `json:"assetsSelector"`
}

// NewContractDefinitionRequest builds a contract definition using one
// policy for both access and contract. An empty id gets a generated
// contract-def-<uuid> id. An empty selector offers every asset.
func NewContractDefinitionRequest(policyDefinitionID, id string) ContractDefinitionRequest {
	if id == "" {
		id = "contract-def-" + uuid.NewString()
	}
	return ContractDefinitionRequest{
		Context:          map[string]interface{}{"edc": edcNamespace},
		ID:               id,
		AccessPolicyID:   policyDefinitionID,
		ContractPolicyID: policyDefinitionID,
		AssetsSelector:   []interface{}{},
	}
}

// DataPlaneRequest registers a data plane instance.
type DataPlaneRequest struct {
	Context            map[string]interface{} `json:"@context"`
	ID                 string                 `json:"@id"`
	URL                string                 `json:"url"`
	AllowedSourceTypes []string               `json:"allowedSourceTypes"`
	AllowedDestTypes   []string               `json:"allowedDestTypes"`
	Properties         map[string]string      `json:"properties"`
}

// NewDataPlaneRequest builds a data plane registration for the control
// and public endpoints of the connector.
func NewDataPlaneRequest(controlURL, publicAPIURL string) DataPlaneRequest {
	return DataPlaneRequest{
		Context:            vocabContext(),
		ID:                 "dplane-" + uuid.NewString(),
		URL:                strings.TrimSuffix(controlURL, "/") + "/transfer",
		AllowedSourceTypes: []string{"HttpData"},
		AllowedDestTypes:   []string{"HttpProxy", "HttpData"},
		Properties:         map[string]string{edcNamespace + "publicApiUrl": publicAPIURL},
	}
}

// NegotiationParams identify the offer a negotiation is started for.
type NegotiationParams struct {
	CounterPartyConnectorID string
	CounterPartyProtocolURL string
	ConsumerID              string
	ProviderID              string
	OfferID                 string
	AssetID                 string
}

// ContractNegotiationRequest initiates a contract negotiation.
type ContractNegotiationRequest struct {
	Context             map[string]interface{} `json:"@context"`
	Type                string                 `json:"@type"`
	ConnectorID         string                 `json:"connectorId"`
	CounterPartyAddress string                 `json:"counterPartyAddress"`
	ConsumerID          string                 `json:"consumerId"`
	ProviderID          string                 `json:"providerId"`
	Protocol            string                 `json:"protocol"`
	Policy              ODRLPolicy             `json:"policy"`
}

// NewContractNegotiationRequest builds a negotiation for one catalog
// offer: the policy carries the offer id and targets the asset.
func NewContractNegotiationRequest(params NegotiationParams) ContractNegotiationRequest {
	policy := emptyPolicy()
	policy.ID = params.OfferID
	policy.Target = params.AssetID

	return ContractNegotiationRequest{
		Context:             vocabContext(),
		Type:                "NegotiationInitiateRequestDto",
		ConnectorID:         params.CounterPartyConnectorID,
		CounterPartyAddress: params.CounterPartyProtocolURL,
		ConsumerID:          params.ConsumerID,
		ProviderID:          params.ProviderID,
		Protocol:            dataspaceProtocol,
		Policy:              policy,
	}
}

// TransferParams identify the agreed transfer a process is started for.
type TransferParams struct {
	CounterPartyConnectorID string
	CounterPartyProtocolURL string
	ContractAgreementID     string
	AssetID                 string
}

// PushSink describes the HTTP sink a provider-push transfer delivers to.
type PushSink struct {
	BaseURL     string
	Path        string
	Method      string
	ContentType string
}

// TransferProcessRequest initiates a transfer process.
type TransferProcessRequest struct {
	Context             map[string]interface{} `json:"@context"`
	Type                string                 `json:"@type"`
	ConnectorID         string                 `json:"connectorId"`
	CounterPartyAddress string                 `json:"counterPartyAddress"`
	ContractID          string                 `json:"contractId"`
	AssetID             string                 `json:"assetId"`
	Protocol            string                 `json:"protocol"`
	DataDestination     map[string]string      `json:"dataDestination"`
}

func newTransferRequest(params TransferParams, destination map[string]string) TransferProcessRequest {
	return TransferProcessRequest{
		Context:             vocabContext(),
		Type:                "TransferRequestDto",
		ConnectorID:         params.CounterPartyConnectorID,
		CounterPartyAddress: params.CounterPartyProtocolURL,
		ContractID:          params.ContractAgreementID,
		AssetID:             params.AssetID,
		Protocol:            dataspaceProtocol,
		DataDestination:     destination,
	}
}

// NewPullTransferRequest builds a consumer-pull transfer: the data
// plane proxies the provider source, and the credential arrives
// through the consumer backend.
func NewPullTransferRequest(params TransferParams) TransferProcessRequest {
	return newTransferRequest(params, map[string]string{"type": "HttpProxy"})
}

// NewPushTransferRequest builds a provider-push transfer delivering
// into sink. Method defaults to POST and content type to
// application/json.
func NewPushTransferRequest(params TransferParams, sink PushSink) TransferProcessRequest {
	method := sink.Method
	if method == "" {
		method = "POST"
	}
	contentType := sink.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	return newTransferRequest(params, map[string]string{
		"type":        "HttpData",
		"baseUrl":     sink.BaseURL,
		"path":        sink.Path,
		"method":      method,
		"contentType": contentType,
	})
}

// CatalogRequest asks the connector to fetch a counterparty catalog.
type CatalogRequest struct {
	Context             map[string]interface{} `json:"@context"`
	CounterPartyAddress string                 `json:"counterPartyAddress"`
	Protocol            string                 `json:"protocol"`
	QuerySpec           *QuerySpec             `json:"querySpec,omitempty"`
}

// QuerySpec limits a catalog request.
type QuerySpec struct {
	Type             string        `json:"@type"`
	Offset           int           `json:"offset"`
	Limit            int           `json:"limit"`
	FilterExpression []interface{} `json:"filterExpression"`
}

// NewCatalogRequest builds a catalog request against the counterparty
// protocol endpoint. A positive limit adds a QuerySpec.
func NewCatalogRequest(counterPartyProtocolURL string, limit int) CatalogRequest {
	req := CatalogRequest{
		Context:             vocabContext(),
		CounterPartyAddress: counterPartyProtocolURL,
		Protocol:            dataspaceProtocol,
	}
	if limit > 0 {
		req.QuerySpec = &QuerySpec{
			Type:             "QuerySpec",
			Offset:           0,
			Limit:            limit,
			FilterExpression: []interface{}{},
		}
	}
	return req
}
