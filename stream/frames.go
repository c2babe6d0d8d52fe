package stream

import (
	"context"
	"errors"

	"github.com/glimte/edcmate-go/messages"
	"github.com/glimte/edcmate-go/messaging"
)

// Frame type discriminators.
const (
	framePull  = "pull_message"
	framePush  = "push_message"
	frameError = "error"
)

// pullFrame carries a pull credential to the subscriber.
type pullFrame struct {
	Type              string                 `json:"type"`
	TransferProcessID string                 `json:"transfer_process_id"`
	Endpoint          string                 `json:"endpoint"`
	AuthKey           string                 `json:"auth_key,omitempty"`
	AuthCode          string                 `json:"auth_code,omitempty"`
	AuthCodeDecoded   map[string]interface{} `json:"auth_code_decoded,omitempty"`
	Properties        map[string]interface{} `json:"properties,omitempty"`
	ContractID        string                 `json:"contract_id,omitempty"`
	RequestArgs       *messages.RequestArgs  `json:"request_args,omitempty"`
}

// pushFrame carries a pushed payload to the subscriber.
type pushFrame struct {
	Type        string      `json:"type"`
	RoutingPath string      `json:"routing_path"`
	Body        interface{} `json:"body"`
}

// errorFrame tells the subscriber why no message frame will follow.
type errorFrame struct {
	Type              string `json:"type"`
	Message           string `json:"message"`
	TransferProcessID string `json:"transfer_process_id,omitempty"`
	RoutingPath       string `json:"routing_path,omitempty"`
}

// newPullFrame builds the frame for a pull credential. The returned
// error only reports that no request args could be assembled; the
// frame itself is always usable.
func newPullFrame(msg *messages.HttpPullMessage) (pullFrame, error) {
	frame := pullFrame{
		Type:              framePull,
		TransferProcessID: msg.TransferProcessID(),
		Endpoint:          msg.Endpoint,
		AuthKey:           msg.AuthKey,
		AuthCode:          msg.AuthCode,
		AuthCodeDecoded:   msg.AuthCodeDecoded,
		Properties:        msg.Properties,
		ContractID:        msg.ContractID,
	}

	args, err := msg.RequestArgs()
	if err != nil {
		return frame, err
	}
	frame.RequestArgs = &args
	return frame, nil
}

func newPushFrame(msg *messages.HttpPushMessage, routingPath string) pushFrame {
	return pushFrame{
		Type:        framePush,
		RoutingPath: routingPath,
		Body:        msg.Body,
	}
}

// newWaitErrorFrame translates a wait failure into a subscriber-facing
// error frame.
func newWaitErrorFrame(err error, transferProcessID, routingPath string) errorFrame {
	frame := errorFrame{
		Type:              frameError,
		TransferProcessID: transferProcessID,
		RoutingPath:       routingPath,
	}

	switch {
	case errors.Is(err, messaging.ErrWaitTimeout):
		frame.Message = "timed out waiting for message"
	case errors.Is(err, context.Canceled):
		frame.Message = "client disconnected"
	default:
		frame.Message = err.Error()
	}
	return frame
}
