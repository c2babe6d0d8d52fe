package messages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pullFixture() *HttpPullMessage {
	return &HttpPullMessage{
		AuthCodeDecoded: map[string]interface{}{
			"dad": map[string]interface{}{
				"properties": map[string]interface{}{"method": "GET"},
			},
		},
		AuthCode:   "test-auth-code",
		AuthKey:    "Authorization",
		Endpoint:   "https://provider.example.com/api/data",
		ID:         "test-id",
		Properties: map[string]interface{}{"key": "value"},
		ContractID: "contract-123",
	}
}

func TestHttpPullMessage(t *testing.T) {
	t.Run("correlation id is the transfer process id", func(t *testing.T) {
		msg := pullFixture()
		id, ok := msg.CorrelationID()
		assert.True(t, ok)
		assert.Equal(t, "test-id", id)
		assert.Equal(t, "test-id", msg.TransferProcessID())
	})

	t.Run("extracts HTTP method from decoded auth code", func(t *testing.T) {
		msg := pullFixture()
		method, err := msg.HTTPMethod()
		require.NoError(t, err)
		assert.Equal(t, "GET", method)
	})

	t.Run("method key may carry a namespace prefix", func(t *testing.T) {
		msg := pullFixture()
		msg.AuthCodeDecoded = map[string]interface{}{
			"dad": map[string]interface{}{
				"properties": map[string]interface{}{
					"https://w3id.org/edc/v0.0.1/ns/method": "POST",
				},
			},
		}
		method, err := msg.HTTPMethod()
		require.NoError(t, err)
		assert.Equal(t, "POST", method)
	})

	t.Run("missing method is an error", func(t *testing.T) {
		msg := pullFixture()
		msg.AuthCodeDecoded = map[string]interface{}{
			"dad": map[string]interface{}{"properties": map[string]interface{}{}},
		}
		_, err := msg.HTTPMethod()
		assert.ErrorIs(t, err, ErrNoHTTPMethod)
	})

	t.Run("missing dad claim is an error", func(t *testing.T) {
		msg := pullFixture()
		msg.AuthCodeDecoded = map[string]interface{}{}
		_, err := msg.HTTPMethod()
		assert.ErrorIs(t, err, ErrNoHTTPMethod)
	})

	t.Run("provider host strips the port", func(t *testing.T) {
		msg := pullFixture()
		assert.Equal(t, "provider.example.com", msg.ProviderHost())

		msg.Endpoint = "https://provider.example.com:8443/api/data"
		assert.Equal(t, "provider.example.com", msg.ProviderHost())
	})

	t.Run("request args", func(t *testing.T) {
		msg := pullFixture()
		args, err := msg.RequestArgs()
		require.NoError(t, err)
		assert.Equal(t, "GET", args.Method)
		assert.Equal(t, "https://provider.example.com/api/data", args.URL)
		assert.Equal(t, "test-auth-code", args.Headers["Authorization"])
		assert.Equal(t, "contract-123", args.Params["contractId"])
	})

	t.Run("request args surface the missing method error", func(t *testing.T) {
		msg := pullFixture()
		msg.AuthCodeDecoded = nil
		_, err := msg.RequestArgs()
		assert.ErrorIs(t, err, ErrNoHTTPMethod)
	})
}

func TestHttpPushMessage(t *testing.T) {
	t.Run("push messages carry no correlation id", func(t *testing.T) {
		msg := &HttpPushMessage{Body: map[string]interface{}{"data": "x"}}
		id, ok := msg.CorrelationID()
		assert.False(t, ok)
		assert.Empty(t, id)
	})
}

func TestDecodePull(t *testing.T) {
	t.Run("decodes a full payload", func(t *testing.T) {
		raw := []byte(`{
			"auth_code_decoded": {"dad": {"properties": {"method": "GET"}}},
			"auth_code": "jwt-token",
			"auth_key": "Authorization",
			"endpoint": "https://provider.example.com/data",
			"id": "tx-1",
			"properties": {"k": "v"},
			"contract_id": "contract-1"
		}`)

		msg, err := DecodePull(raw)
		require.NoError(t, err)
		assert.Equal(t, "tx-1", msg.ID)
		assert.Equal(t, "jwt-token", msg.AuthCode)
		assert.Equal(t, "contract-1", msg.ContractID)
	})

	t.Run("falls back to transfer_process_id", func(t *testing.T) {
		raw := []byte(`{"transfer_process_id": "tx-2", "endpoint": "https://p.example.com/d"}`)
		msg, err := DecodePull(raw)
		require.NoError(t, err)
		assert.Equal(t, "tx-2", msg.ID)
	})

	t.Run("id field wins over transfer_process_id", func(t *testing.T) {
		raw := []byte(`{"id": "tx-a", "transfer_process_id": "tx-b", "endpoint": "https://p.example.com/d"}`)
		msg, err := DecodePull(raw)
		require.NoError(t, err)
		assert.Equal(t, "tx-a", msg.ID)
	})

	t.Run("rejects non-JSON", func(t *testing.T) {
		_, err := DecodePull([]byte("not json"))
		assert.Error(t, err)
	})

	t.Run("rejects missing id", func(t *testing.T) {
		_, err := DecodePull([]byte(`{"endpoint": "https://p.example.com/d"}`))
		assert.ErrorIs(t, err, ErrMissingID)
	})

	t.Run("rejects missing endpoint", func(t *testing.T) {
		_, err := DecodePull([]byte(`{"id": "tx-1"}`))
		assert.ErrorIs(t, err, ErrMissingEndpoint)
	})
}

func TestDecodePush(t *testing.T) {
	t.Run("decodes an object body", func(t *testing.T) {
		msg, err := DecodePush([]byte(`{"body": {"data": "test", "n": 1}}`))
		require.NoError(t, err)
		body, ok := msg.Body.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "test", body["data"])
	})

	t.Run("decodes a string body", func(t *testing.T) {
		msg, err := DecodePush([]byte(`{"body": "plain text"}`))
		require.NoError(t, err)
		assert.Equal(t, "plain text", msg.Body)
	})

	t.Run("rejects a payload without body", func(t *testing.T) {
		_, err := DecodePush([]byte(`{"other": 1}`))
		assert.ErrorIs(t, err, ErrMissingBody)
	})

	t.Run("rejects non-JSON", func(t *testing.T) {
		_, err := DecodePush([]byte("\x00\x01"))
		assert.Error(t, err)
	})
}
