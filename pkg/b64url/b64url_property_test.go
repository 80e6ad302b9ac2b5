//go:build property

package b64url

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_DecodeEncodeRoundTrip checks the protocol's core codec
// law: for any byte slice, Decode(Encode(b)) == b.
func TestProperty_DecodeEncodeRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("decode(encode(b)) == b", prop.ForAll(
		func(b []byte) bool {
			if len(b) == 0 {
				// Encode([]) is "" and Decode rejects the empty string;
				// the protocol never puts an empty segment on the wire.
				return true
			}
			decoded, err := Decode(Encode(b))
			if err != nil {
				return false
			}
			if len(decoded) != len(b) {
				return false
			}
			for i := range b {
				if decoded[i] != b[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.UInt8Range(0, 255)),
	))

	properties.TestingRun(t)
}

// TestProperty_RejectsForeignAlphabet asserts that any string containing
// a standard (non-URL) Base64 character is never accepted.
func TestProperty_RejectsForeignAlphabet(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("strings with '+' are always rejected", prop.ForAll(
		func(prefix, suffix string) bool {
			_, err := Decode(prefix + "+" + suffix)
			return err != nil
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
