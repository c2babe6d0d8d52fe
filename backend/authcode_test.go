package backend

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func writeCert(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "connector"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "cert.pem")
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	require.NoError(t, os.WriteFile(path, pemBytes, 0o600))
	return path
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

func dataAddress(t *testing.T) string {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{
		"properties": map[string]interface{}{
			"method":  "GET",
			"baseUrl": "http://provider.example.com/api",
		},
	})
	require.NoError(t, err)
	return string(raw)
}

func TestAuthCodeDecoder(t *testing.T) {
	t.Run("verifies against the connector certificate", func(t *testing.T) {
		key := generateKey(t)
		decoder := NewAuthCodeDecoder(writeCert(t, key), nil)

		token := signToken(t, key, jwt.MapClaims{
			"cid": "contract-1",
			"dad": dataAddress(t),
		})

		claims, err := decoder.Decode(token)
		require.NoError(t, err)
		assert.Equal(t, "contract-1", claims["cid"])
	})

	t.Run("falls back to unverified parsing on a signature mismatch", func(t *testing.T) {
		signingKey := generateKey(t)
		otherKey := generateKey(t)
		decoder := NewAuthCodeDecoder(writeCert(t, otherKey), nil)

		token := signToken(t, signingKey, jwt.MapClaims{"cid": "contract-2"})

		claims, err := decoder.Decode(token)
		require.NoError(t, err)
		assert.Equal(t, "contract-2", claims["cid"])
	})

	t.Run("decodes without a certificate", func(t *testing.T) {
		decoder := NewAuthCodeDecoder("", nil)

		token := signToken(t, generateKey(t), jwt.MapClaims{"cid": "contract-3"})

		claims, err := decoder.Decode(token)
		require.NoError(t, err)
		assert.Equal(t, "contract-3", claims["cid"])
	})

	t.Run("decodes with an unreadable certificate", func(t *testing.T) {
		decoder := NewAuthCodeDecoder(filepath.Join(t.TempDir(), "missing.pem"), nil)

		token := signToken(t, generateKey(t), jwt.MapClaims{"cid": "contract-4"})

		claims, err := decoder.Decode(token)
		require.NoError(t, err)
		assert.Equal(t, "contract-4", claims["cid"])
	})

	t.Run("decodes the data address claim in place", func(t *testing.T) {
		key := generateKey(t)
		decoder := NewAuthCodeDecoder(writeCert(t, key), nil)

		token := signToken(t, key, jwt.MapClaims{"dad": dataAddress(t)})

		claims, err := decoder.Decode(token)
		require.NoError(t, err)

		dad, ok := claims["dad"].(map[string]interface{})
		require.True(t, ok, "dad claim should be decoded into a map")
		props, ok := dad["properties"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "GET", props["method"])
	})

	t.Run("rejects a malformed data address", func(t *testing.T) {
		decoder := NewAuthCodeDecoder("", nil)

		token := signToken(t, generateKey(t), jwt.MapClaims{"dad": "{not json"})

		_, err := decoder.Decode(token)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "data address")
	})

	t.Run("leaves a structured data address untouched", func(t *testing.T) {
		decoder := NewAuthCodeDecoder("", nil)

		token := signToken(t, generateKey(t), jwt.MapClaims{
			"dad": map[string]interface{}{"properties": map[string]interface{}{"method": "POST"}},
		})

		claims, err := decoder.Decode(token)
		require.NoError(t, err)
		_, ok := claims["dad"].(map[string]interface{})
		assert.True(t, ok)
	})

	t.Run("rejects a token that is not a JWT", func(t *testing.T) {
		decoder := NewAuthCodeDecoder("", nil)

		_, err := decoder.Decode("not-a-jwt")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode auth code")
	})
}
