// Package jws implements the JWS Flattened JSON Serialization SDLP
// signs every link with: a three-field object (protected, payload,
// signature) holding one EdDSA signature over
// b64url(protected) || "." || b64url(payload). Header and payload JSON
// are canonicalised with RFC 8785 JCS before encoding, so the bytes a
// verifier hashes are byte-identical to the bytes a signer produced
// regardless of map key ordering.
package jws

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gowebpki/jcs"

	"github.com/sdlp-org/sdlp-sub000/pkg/b64url"
)

// Algorithm is the only signature algorithm this package signs or
// verifies with. SDLP's allow-list (checked by callers) may still name
// others; this package itself only ever produces or consumes EdDSA.
const Algorithm = "EdDSA"

// method is the golang-jwt low-level signer/verifier EdDSA routes
// through; it works directly on a signing-input string rather than
// requiring jwt.Claims, which suits JWS Flattened's custom header and
// payload shapes.
var method = jwt.SigningMethodEdDSA

// Flattened is the JWS Flattened JSON Serialization object carried as
// the first "." part of an SDLP link, after being Base64URL-encoded as
// a whole.
type Flattened struct {
	Protected string `json:"protected"`
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

// Valid reports whether all three fields are present and non-empty, the
// minimum structural requirement before any decoding is attempted.
func (f Flattened) Valid() bool {
	return f.Protected != "" && f.Payload != "" && f.Signature != ""
}

// canonicalize runs v through RFC 8785 JSON Canonicalization via the
// real ecosystem implementation, not a hand-rolled encoder: map keys
// sorted, no insignificant whitespace, number formatting normalised.
func canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jws: marshal failed: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("jws: canonicalization failed: %w", err)
	}
	return canon, nil
}

// Sign canonicalises header and payload, Base64URL-encodes each, and
// signs the concatenation with EdDSA under priv, returning a complete
// Flattened envelope.
func Sign(header, payload any, priv ed25519.PrivateKey) (*Flattened, error) {
	headerJSON, err := canonicalize(header)
	if err != nil {
		return nil, fmt.Errorf("jws: header: %w", err)
	}
	payloadJSON, err := canonicalize(payload)
	if err != nil {
		return nil, fmt.Errorf("jws: payload: %w", err)
	}

	protectedB64 := b64url.Encode(headerJSON)
	payloadB64 := b64url.Encode(payloadJSON)
	signingInput := protectedB64 + "." + payloadB64

	sig, err := method.Sign(signingInput, priv)
	if err != nil {
		return nil, fmt.Errorf("jws: signing failed: %w", err)
	}

	return &Flattened{
		Protected: protectedB64,
		Payload:   payloadB64,
		Signature: b64url.Encode(sig),
	}, nil
}

// Verify checks f's EdDSA signature against pub. It returns nil only
// when the signature is cryptographically valid over the exact bytes
// carried in Protected and Payload; it does not decode or interpret
// either field.
func Verify(f Flattened, pub ed25519.PublicKey) error {
	sig, err := b64url.Decode(f.Signature)
	if err != nil {
		return fmt.Errorf("jws: invalid signature encoding: %w", err)
	}

	signingInput := f.Protected + "." + f.Payload
	if err := method.Verify(signingInput, sig, pub); err != nil {
		return fmt.Errorf("jws: signature verification failed: %w", err)
	}
	return nil
}

// DecodeHeader Base64URL-decodes f.Protected and unmarshals it into
// out. Unknown fields are tolerated: out should be a struct without
// DisallowUnknownFields semantics, matching the protocol's
// forward-compatibility rule.
func DecodeHeader(f Flattened, out any) error {
	raw, err := b64url.Decode(f.Protected)
	if err != nil {
		return fmt.Errorf("jws: invalid protected header encoding: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("jws: protected header is not valid JSON: %w", err)
	}
	return nil
}

// DecodePayload Base64URL-decodes f.Payload and unmarshals it into out.
func DecodePayload(f Flattened, out any) error {
	raw, err := b64url.Decode(f.Payload)
	if err != nil {
		return fmt.Errorf("jws: invalid payload encoding: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("jws: payload is not valid JSON: %w", err)
	}
	return nil
}

// Marshal encodes f as the single Base64URL string carried as the
// first "." part of an SDLP link.
func Marshal(f Flattened) (string, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("jws: marshal failed: %w", err)
	}
	return b64url.Encode(raw), nil
}

// Unmarshal reverses Marshal: Base64URL-decodes s and parses the JWS
// Flattened JSON object, requiring all three fields to be present and
// non-empty strings.
func Unmarshal(s string) (Flattened, error) {
	raw, err := b64url.Decode(s)
	if err != nil {
		return Flattened{}, fmt.Errorf("jws: invalid JWS encoding: %w", err)
	}

	var f Flattened
	if err := json.Unmarshal(raw, &f); err != nil {
		return Flattened{}, fmt.Errorf("jws: not a valid JWS JSON object: %w", err)
	}
	if !f.Valid() {
		return Flattened{}, fmt.Errorf("jws: missing one of protected/payload/signature")
	}
	return f, nil
}
