// Package jwk models the signing-key shape SDLP accepts from callers:
// a DID-URL key identifier plus JWK-equivalent Ed25519 private key
// material. It never persists or transports keys; it only validates
// their shape and exposes the standard library key type signing needs.
package jwk

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/sdlp-org/sdlp-sub000/pkg/b64url"
)

// kidPattern is the DID-URL shape required of every signing key's kid:
// did:<method>:<method-specific-id>#<fragment>.
var kidPattern = regexp.MustCompile(`^did:[a-z0-9]+:[A-Za-z0-9._-]+#[A-Za-z0-9._-]+$`)

// ValidKid reports whether kid matches the DID-URL shape every signing
// and verification key identifier must carry.
func ValidKid(kid string) bool {
	return kidPattern.MatchString(kid)
}

// SigningKey is the caller-supplied material create_link signs with.
// The zero value is never valid; construct one with NewSigningKey.
type SigningKey struct {
	// Kid is the full DID URL identifying this key, e.g.
	// "did:key:z6Mkh...#z6Mkh...".
	Kid string

	// Kty, Crv mirror the JWK fields the protocol expects: constant
	// "OKP" and "Ed25519" respectively for every key this package
	// accepts.
	Kty string
	Crv string

	// X is the base64url-encoded public key, D the base64url-encoded
	// private seed -- both JWK-equivalent fields, never logged.
	X string
	D string
}

// NewSigningKey validates kid against the DID-URL regex and wraps an
// Ed25519 key pair as a SigningKey. It returns an error rather than
// panicking so callers at any boundary can convert it into the shared
// error taxonomy.
func NewSigningKey(kid string, priv ed25519.PrivateKey) (SigningKey, error) {
	if !kidPattern.MatchString(kid) {
		return SigningKey{}, fmt.Errorf("jwk: kid %q does not match DID-URL shape", kid)
	}
	if len(priv) != ed25519.PrivateKeySize {
		return SigningKey{}, fmt.Errorf("jwk: private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
	}

	pub := priv.Public().(ed25519.PublicKey)
	return SigningKey{
		Kid: kid,
		Kty: "OKP",
		Crv: "Ed25519",
		X:   b64url.Encode(pub),
		D:   b64url.Encode(priv.Seed()),
	}, nil
}

// Sid is the sender DID: kid with its trailing "#fragment" removed.
func (k SigningKey) Sid() string {
	if i := strings.IndexByte(k.Kid, '#'); i >= 0 {
		return k.Kid[:i]
	}
	return k.Kid
}

// PrivateKey reconstructs the standard ed25519.PrivateKey from the
// JWK-equivalent "d" field.
func (k SigningKey) PrivateKey() (ed25519.PrivateKey, error) {
	seed, err := b64url.Decode(k.D)
	if err != nil {
		return nil, fmt.Errorf("jwk: invalid private key material: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("jwk: private seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// PublicKey reconstructs the standard ed25519.PublicKey from the
// JWK-equivalent "x" field.
func (k SigningKey) PublicKey() (ed25519.PublicKey, error) {
	pub, err := b64url.Decode(k.X)
	if err != nil {
		return nil, fmt.Errorf("jwk: invalid public key material: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("jwk: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}
	return ed25519.PublicKey(pub), nil
}

// Validate re-checks the kid shape and key material sizes without
// constructing a new value; useful when a SigningKey is built directly
// as a struct literal (e.g. decoded from caller configuration) rather
// than via NewSigningKey.
func (k SigningKey) Validate() error {
	if !kidPattern.MatchString(k.Kid) {
		return fmt.Errorf("jwk: kid %q does not match DID-URL shape", k.Kid)
	}
	if k.Kty != "OKP" || k.Crv != "Ed25519" {
		return fmt.Errorf("jwk: unsupported key type %s/%s, only OKP/Ed25519 is accepted", k.Kty, k.Crv)
	}
	if _, err := k.PublicKey(); err != nil {
		return err
	}
	if _, err := k.PrivateKey(); err != nil {
		return err
	}
	return nil
}

// hkdfInfoPrefix namespaces SDLP's HKDF derivation so it can never
// collide with another subsystem deriving from the same master seed.
const hkdfInfoPrefix = "sdlp-subkey-kdf"

// DeriveSigningKey deterministically derives a tenant- or
// purpose-scoped signing key from a master key's private seed using
// HKDF-SHA256, the same construction the host platform uses to scope
// per-tenant keyrings from a single root secret. info distinguishes
// independent derivations from the same master (e.g. a tenant or
// device identifier); kid is the DID URL the derived key should carry.
func DeriveSigningKey(master SigningKey, info string, kid string) (SigningKey, error) {
	if info == "" {
		return SigningKey{}, fmt.Errorf("jwk: derivation info must not be empty")
	}

	masterPriv, err := master.PrivateKey()
	if err != nil {
		return SigningKey{}, fmt.Errorf("jwk: cannot derive from invalid master key: %w", err)
	}

	reader := hkdf.New(sha256.New, masterPriv.Seed(), []byte(hkdfInfoPrefix), []byte(info))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(reader, seed); err != nil {
		return SigningKey{}, fmt.Errorf("jwk: HKDF derivation failed: %w", err)
	}

	return NewSigningKey(kid, ed25519.NewKeyFromSeed(seed))
}
