package envelope

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-envelope-secret"

func TestNewCrypto_EmptySecret(t *testing.T) {
	_, err := NewCrypto("")
	assert.Error(t, err)
}

func TestCrypto_EncryptDecryptRoundTrip(t *testing.T) {
	c, err := NewCrypto(testSecret)
	require.NoError(t, err)

	payloads := []interface{}{
		"ticket-42",
		"",
		float64(12345),
		map[string]interface{}{"ticketId": "7", "status": "pending"},
		[]interface{}{"a", "b", "c"},
		nil,
	}

	for _, payload := range payloads {
		ciphertext, iv, err := c.Encrypt(payload)
		require.NoError(t, err)

		decrypted, err := c.Decrypt(ciphertext, iv)
		require.NoError(t, err)
		assert.Equal(t, payload, decrypted)
	}
}

func TestCrypto_EnvelopeRoundTrip(t *testing.T) {
	c, err := NewCrypto(testSecret)
	require.NoError(t, err)

	env, err := c.EncryptEnvelope("ticket", map[string]interface{}{"id": "42"})
	require.NoError(t, err)
	assert.Equal(t, "ticket", env.Event)
	assert.NotEmpty(t, env.Encrypted)
	assert.NotEmpty(t, env.IV)

	event, payload, err := c.DecryptEnvelope(env)
	require.NoError(t, err)
	assert.Equal(t, "ticket", event)
	assert.Equal(t, map[string]interface{}{"id": "42"}, payload)
}

func TestCrypto_DecryptRejectsMalformedInput(t *testing.T) {
	c, err := NewCrypto(testSecret)
	require.NoError(t, err)

	ciphertext, iv, err := c.Encrypt("payload")
	require.NoError(t, err)

	tests := []struct {
		name       string
		ciphertext string
		iv         string
	}{
		{"non-hex iv", ciphertext, "zzzz"},
		{"short iv", ciphertext, "0011223344"},
		{"empty iv", ciphertext, ""},
		{"non-hex ciphertext", "not-hex!", iv},
		{"empty ciphertext", "", iv},
		{"partial block ciphertext", ciphertext[:10], iv},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decrypt(tt.ciphertext, tt.iv)
			assert.ErrorIs(t, err, ErrDecrypt)
		})
	}
}

func TestCrypto_DecryptRejectsWrongKey(t *testing.T) {
	sender, err := NewCrypto(testSecret)
	require.NoError(t, err)
	receiver, err := NewCrypto("a-completely-different-secret")
	require.NoError(t, err)

	ciphertext, iv, err := sender.Encrypt("payload")
	require.NoError(t, err)

	_, err = receiver.Decrypt(ciphertext, iv)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestCrypto_DecryptRejectsCorruptedCiphertext(t *testing.T) {
	c, err := NewCrypto(testSecret)
	require.NoError(t, err)

	ciphertext, iv, err := c.Encrypt("payload")
	require.NoError(t, err)

	raw, err := hex.DecodeString(ciphertext)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff

	_, err = c.Decrypt(hex.EncodeToString(raw), iv)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestCrypto_IVIsFreshPerEncrypt(t *testing.T) {
	c, err := NewCrypto(testSecret)
	require.NoError(t, err)

	_, iv1, err := c.Encrypt("same payload")
	require.NoError(t, err)
	_, iv2, err := c.Encrypt("same payload")
	require.NoError(t, err)

	assert.NotEqual(t, iv1, iv2)
}

func TestPlainEventName(t *testing.T) {
	assert.Equal(t, "ticket", PlainEventName("encrypted:ticket"))
	assert.Equal(t, "ticket", PlainEventName("ticket"))
}

func TestIsEncryptedEvent(t *testing.T) {
	assert.True(t, IsEncryptedEvent("encrypted:ticket"))
	assert.False(t, IsEncryptedEvent("ticket"))
	assert.False(t, IsEncryptedEvent(""))
}

func TestPKCS7PadUnpad(t *testing.T) {
	for length := 0; length < 48; length++ {
		data := make([]byte, length)
		for i := range data {
			data[i] = byte(i)
		}

		padded := pkcs7Pad(data, 16)
		assert.Equal(t, 0, len(padded)%16)

		unpadded, err := pkcs7Unpad(padded, 16)
		require.NoError(t, err)
		assert.Equal(t, data, unpadded)
	}
}

func TestPKCS7Unpad_RejectsInvalidPadding(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"partial block", make([]byte, 10)},
		{"zero padding byte", append(make([]byte, 15), 0)},
		{"padding longer than block", append(make([]byte, 15), 17)},
		{"inconsistent padding bytes", append([]byte{1, 2, 3}, []byte{13, 13, 13, 13, 13, 13, 13, 13, 13, 13, 13, 13, 12}...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pkcs7Unpad(tt.data, 16)
			assert.Error(t, err)
		})
	}
}
