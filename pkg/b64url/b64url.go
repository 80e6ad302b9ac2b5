// Package b64url implements the strict, round-trip-checked Base64URL
// codec SDLP uses for every wire segment (link parts, JWS fields). It
// deliberately rejects any input a forgiving decoder would accept but
// that does not re-encode to itself, closing off canonicalisation
// attacks where two distinct strings decode to the same bytes.
package b64url

import (
	"encoding/base64"
	"fmt"
)

// alphabet is the URL-safe Base64 character set; padding is handled
// separately by Decode.
const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

var alphabetSet [256]bool

func init() {
	for i := 0; i < len(alphabet); i++ {
		alphabetSet[alphabet[i]] = true
	}
}

// Encode emits unpadded Base64URL, the only form SDLP ever produces.
func Encode(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// Decode parses an unpadded Base64URL string ('=' is outside the
// alphabet, so padded input is rejected) and enforces:
//  1. every byte is in the Base64URL alphabet;
//  2. padding is restored to a multiple of four before standard
//     decoding;
//  3. the decoded bytes, re-encoded, reproduce the padded input exactly.
//
// A failure at any step is reported as a single invalid-format error;
// SDLP callers fold this into E_INVALID_STRUCTURE.
func Decode(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("b64url: empty string")
	}

	for i := 0; i < len(s); i++ {
		if !alphabetSet[s[i]] {
			return nil, fmt.Errorf("b64url: invalid character %q at offset %d", s[i], i)
		}
	}

	padded := s
	if rem := len(s) % 4; rem != 0 {
		padded = s + padPad(4-rem)
	}

	decoded, err := base64.URLEncoding.DecodeString(padded)
	if err != nil {
		return nil, fmt.Errorf("b64url: decode failed: %w", err)
	}

	if base64.URLEncoding.EncodeToString(decoded) != padded {
		return nil, fmt.Errorf("b64url: round-trip mismatch, input is not canonical Base64URL")
	}

	return decoded, nil
}

func padPad(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = '='
	}
	return string(b)
}
