// Package didkey resolves did:key identifiers entirely offline: the
// DID itself encodes the public key, so resolution is a pure decode,
// never a network call, and is therefore deterministic by
// construction.
package didkey

import (
	"context"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/sdlp-org/sdlp-sub000/pkg/b64url"
	"github.com/sdlp-org/sdlp-sub000/pkg/diddoc"
)

// ed25519MulticodecPrefix is the two-byte multicodec tag for an
// Ed25519 public key (varint-encoded 0xed01) as defined by the
// multicodec table did:key relies on.
var ed25519MulticodecPrefix = []byte{0xed, 0x01}

const methodPrefix = "did:key:"

// Resolver implements diddoc.Resolver for the did:key method. The zero
// value is ready to use.
type Resolver struct{}

// Resolve decodes did's multibase/multicodec suffix into an Ed25519
// public key and synthesises a minimal DID Document around it. It
// never performs I/O and never fails differently for the same input.
func (Resolver) Resolve(ctx context.Context, did string) (diddoc.Result, error) {
	pub, suffix, err := decode(did)
	if err != nil {
		return diddoc.Result{
			ResolutionMetadata: diddoc.ResolutionMetadata{Error: err.Error()},
		}, err
	}

	vmID := did + "#" + suffix
	doc := &diddoc.Document{
		ID: did,
		VerificationMethod: []diddoc.VerificationMethod{
			{
				ID:         vmID,
				Type:       "Ed25519VerificationKey2020",
				Controller: did,
				PublicKeyJwk: map[string]any{
					"kty": "OKP",
					"crv": "Ed25519",
					"x":   b64url.Encode(pub),
				},
			},
		},
	}

	return diddoc.Result{
		Document:           doc,
		ResolutionMetadata:  diddoc.ResolutionMetadata{ContentType: "application/did+json"},
	}, nil
}

// Encode builds the did:key identifier for an Ed25519 public key,
// the inverse of decode. Test fixtures and callers minting new
// identities use this rather than hand-assembling the multibase
// string.
func Encode(pub []byte) (string, error) {
	if len(pub) != 32 {
		return "", fmt.Errorf("didkey: Ed25519 public key must be 32 bytes, got %d", len(pub))
	}
	tagged := append(append([]byte{}, ed25519MulticodecPrefix...), pub...)
	return methodPrefix + "z" + base58.Encode(tagged), nil
}

// decode extracts the 32-byte Ed25519 public key and the raw multibase
// suffix (the part after "did:key:") from a did:key identifier.
func decode(did string) (pub []byte, suffix string, err error) {
	if !strings.HasPrefix(did, methodPrefix) {
		return nil, "", fmt.Errorf("didkey: %q is not a did:key identifier", did)
	}
	suffix = strings.TrimPrefix(did, methodPrefix)

	if len(suffix) == 0 || suffix[0] != 'z' {
		return nil, "", fmt.Errorf("didkey: %q is missing the base58btc multibase prefix 'z'", did)
	}

	decoded, err := base58.Decode(suffix[1:])
	if err != nil {
		return nil, "", fmt.Errorf("didkey: base58 decode failed: %w", err)
	}

	if len(decoded) != len(ed25519MulticodecPrefix)+32 {
		return nil, "", fmt.Errorf("didkey: unexpected decoded length %d", len(decoded))
	}
	if decoded[0] != ed25519MulticodecPrefix[0] || decoded[1] != ed25519MulticodecPrefix[1] {
		return nil, "", fmt.Errorf("didkey: unsupported key type, only Ed25519 (multicodec 0xed01) is accepted")
	}

	return decoded[2:], suffix, nil
}
