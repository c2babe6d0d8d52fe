package connector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/glimte/edcmate-go/config"
)

// TransferDetails carries the identifiers a negotiated transfer needs.
type TransferDetails struct {
	AssetID                 string
	ContractAgreementID     string
	CounterPartyProtocolURL string
	CounterPartyConnectorID string
}

// NegotiationSpec describes the counterparty offer to negotiate for.
// An empty AssetQuery selects the first catalog dataset; CatalogLimit
// zero fetches the full catalog.
type NegotiationSpec struct {
	CounterPartyProtocolURL string
	CounterPartyConnectorID string
	AssetQuery              string
	CatalogLimit            int
}

// Controller drives the consumer-side flows: negotiate an agreement,
// then start the transfer whose result arrives through the messaging
// engine.
type Controller struct {
	client *Client
	cfg    config.Connector
	logger *slog.Logger
}

// ControllerOption configures the controller
type ControllerOption func(*Controller)

// WithControllerLogger sets the logger
func WithControllerLogger(logger *slog.Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = logger
	}
}

// NewController creates a controller operating client on behalf of the
// configured participant.
func NewController(client *Client, cfg config.Connector, options ...ControllerOption) *Controller {
	c := &Controller{
		client: client,
		cfg:    cfg,
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// NegotiateContract runs the negotiation flow: fetch the counterparty
// catalog, pick the dataset matching the query, start a negotiation
// for its default offer and wait for the agreement id.
func (c *Controller) NegotiateContract(ctx context.Context, spec NegotiationSpec) (TransferDetails, error) {
	catalog, err := c.client.FetchCatalog(ctx, spec.CounterPartyProtocolURL, spec.CatalogLimit)
	if err != nil {
		return TransferDetails{}, fmt.Errorf("fetch catalog: %w", err)
	}

	dataset, err := catalog.FindOneDataset(spec.AssetQuery)
	if err != nil {
		return TransferDetails{}, err
	}

	assetID := dataset.DefaultAssetID()
	c.logger.Info("negotiating contract",
		"assetId", assetID,
		"offerId", dataset.DefaultContractOfferID(),
		"counterParty", spec.CounterPartyConnectorID,
	)

	negotiationID, err := c.client.CreateContractNegotiation(ctx, NewContractNegotiationRequest(NegotiationParams{
		CounterPartyConnectorID: spec.CounterPartyConnectorID,
		CounterPartyProtocolURL: spec.CounterPartyProtocolURL,
		ConsumerID:              c.cfg.ParticipantID,
		ProviderID:              spec.CounterPartyConnectorID,
		OfferID:                 dataset.DefaultContractOfferID(),
		AssetID:                 assetID,
	}))
	if err != nil {
		return TransferDetails{}, fmt.Errorf("create contract negotiation: %w", err)
	}

	agreementID, err := c.client.AwaitContractAgreement(ctx, negotiationID)
	if err != nil {
		return TransferDetails{}, err
	}

	c.logger.Info("contract agreed",
		"assetId", assetID,
		"agreementId", agreementID,
	)

	return TransferDetails{
		AssetID:                 assetID,
		ContractAgreementID:     agreementID,
		CounterPartyProtocolURL: spec.CounterPartyProtocolURL,
		CounterPartyConnectorID: spec.CounterPartyConnectorID,
	}, nil
}

// StartPullTransfer starts a consumer-pull transfer and returns the
// transfer process id to correlate the incoming credential on.
func (c *Controller) StartPullTransfer(ctx context.Context, details TransferDetails) (string, error) {
	id, err := c.client.CreateTransferProcess(ctx, NewPullTransferRequest(transferParams(details)))
	if err != nil {
		return "", fmt.Errorf("create pull transfer: %w", err)
	}

	c.logger.Info("pull transfer started", "transferProcessId", id, "assetId", details.AssetID)
	return id, nil
}

// StartPushTransfer starts a provider-push transfer delivering into
// sink and returns the transfer process id.
func (c *Controller) StartPushTransfer(ctx context.Context, details TransferDetails, sink PushSink) (string, error) {
	id, err := c.client.CreateTransferProcess(ctx, NewPushTransferRequest(transferParams(details), sink))
	if err != nil {
		return "", fmt.Errorf("create push transfer: %w", err)
	}

	c.logger.Info("push transfer started", "transferProcessId", id, "assetId", details.AssetID)
	return id, nil
}

// AwaitTransferCompletion waits until the transfer process completes.
func (c *Controller) AwaitTransferCompletion(ctx context.Context, transferProcessID string) error {
	return c.client.AwaitTransferCompletion(ctx, transferProcessID)
}

func transferParams(details TransferDetails) TransferParams {
	return TransferParams{
		CounterPartyConnectorID: details.CounterPartyConnectorID,
		CounterPartyProtocolURL: details.CounterPartyProtocolURL,
		ContractAgreementID:     details.ContractAgreementID,
		AssetID:                 details.AssetID,
	}
}
