package envelope

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

// Property: for any payload, encrypt followed by decrypt yields the payload
// back, through the JSON type system (strings stay strings).
func TestProperty_EncryptDecryptRoundTrip(t *testing.T) {
	c, err := NewCrypto(testSecret)
	require.NoError(t, err)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("round trip preserves string payloads", prop.ForAll(
		func(payload string) bool {
			ciphertext, iv, err := c.Encrypt(payload)
			if err != nil {
				t.Logf("encrypt failed for %q: %v", payload, err)
				return false
			}

			decrypted, err := c.Decrypt(ciphertext, iv)
			if err != nil {
				t.Logf("decrypt failed for %q: %v", payload, err)
				return false
			}

			s, ok := decrypted.(string)
			return ok && s == payload
		},
		gen.AnyString(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

// Property: repeated encryptions of the same payload under the same key use
// pairwise-distinct initialization vectors. A reused iv under CBC leaks
// shared plaintext prefixes, so uniqueness is a hard requirement.
func TestProperty_IVsArePairwiseDistinct(t *testing.T) {
	c, err := NewCrypto(testSecret)
	require.NoError(t, err)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("n encryptions produce n distinct ivs", prop.ForAll(
		func(payload string, n uint8) bool {
			count := int(n%32) + 2

			seen := make(map[string]struct{}, count)
			for i := 0; i < count; i++ {
				_, iv, err := c.Encrypt(payload)
				if err != nil {
					t.Logf("encrypt failed: %v", err)
					return false
				}
				if _, dup := seen[iv]; dup {
					t.Logf("iv %s reused within %d encryptions of the same payload", iv, count)
					return false
				}
				seen[iv] = struct{}{}
			}
			return true
		},
		gen.AnyString(),
		gen.UInt8(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
