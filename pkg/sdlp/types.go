// Package sdlp implements the Secure Deep Link Protocol: create_link
// and verify_link, the protocol version these links carry, the typed
// metadata and header records that get signed, and the tagged
// VerificationResult returned by verification. Everything else in this
// module (b64url, compress, jws, jwk, diddoc, sdlperr) is a leaf
// dependency of this package.
package sdlp

import "github.com/sdlp-org/sdlp-sub000/pkg/diddoc"

// ProtocolVersion is the only core-metadata version this package signs
// or accepts. A link carrying any other value fails verification with
// InvalidStructure and context.version set to the offending string.
const ProtocolVersion = "SDL-1.0"

// DefaultScheme is the URI scheme this package produces and expects,
// absent an explicit WithVerifyScheme/WithCreateScheme override.
const DefaultScheme = "sdlp"

// ProtectedHeader is the JWS Flattened protected header: the signed,
// non-secret metadata about the signature itself.
type ProtectedHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
}

// CoreMetadata is the JWS payload: the signed protocol metadata
// describing the link's sender, payload shape, and validity window.
type CoreMetadata struct {
	V    string `json:"v"`
	Sid  string `json:"sid"`
	Type string `json:"type"`
	Comp string `json:"comp"`
	Chk  string `json:"chk"`
	Exp  *int64 `json:"exp,omitempty"`
	Nbf  *int64 `json:"nbf,omitempty"`
}

// VerificationResult is the tagged union verify_link returns. Valid
// discriminates which side is populated: on success Sender, Payload,
// and Metadata are set and Err is nil; on failure only Err is set.
type VerificationResult struct {
	Valid bool

	// Sender is the verified sender DID (CoreMetadata.Sid), present
	// only when Valid.
	Sender string

	// Payload is the original, decompressed payload bytes, present
	// only when Valid.
	Payload []byte

	// Metadata is the signed core metadata record, present only when
	// Valid.
	Metadata *CoreMetadata

	// Jti is the optional replay-detection claim read out of the
	// payload's forward-compatible extension fields (never part of
	// CoreMetadata's closed schema), present when Valid and the
	// payload carried one. A host with no configured ReplayCache can
	// still read this and apply its own replay policy.
	Jti string

	// Document is the resolved DID Document, when resolution ran and
	// succeeded. May be nil even on a Valid result if a resolver
	// chooses not to populate it.
	Document *diddoc.Document

	// Err is the typed failure, present only when !Valid.
	Err error
}
