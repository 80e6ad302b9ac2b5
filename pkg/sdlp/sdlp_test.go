package sdlp

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdlp-org/sdlp-sub000/pkg/b64url"
	"github.com/sdlp-org/sdlp-sub000/pkg/compress"
	"github.com/sdlp-org/sdlp-sub000/pkg/diddoc"
	"github.com/sdlp-org/sdlp-sub000/pkg/diddoc/didkey"
	"github.com/sdlp-org/sdlp-sub000/pkg/jwk"
	"github.com/sdlp-org/sdlp-sub000/pkg/jws"
	"github.com/sdlp-org/sdlp-sub000/pkg/sdlperr"
)

func newFixtureSigner(t *testing.T) jwk.SigningKey {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	did, err := didkey.Encode(pub)
	require.NoError(t, err)

	suffix := strings.TrimPrefix(did, "did:key:")
	signer, err := jwk.NewSigningKey(did+"#"+suffix, priv)
	require.NoError(t, err)
	return signer
}

// S1: happy path, did:key, no compression.
func TestCreateVerify_HappyPath_DidKey(t *testing.T) {
	signer := newFixtureSigner(t)
	payload := []byte("Hello, World!")

	link, err := CreateLink(context.Background(), payload, "text/plain", signer)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link, "sdlp://"))

	result, err := VerifyLink(context.Background(), link)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, payload, result.Payload)
	assert.Equal(t, signer.Sid(), result.Sender)
}

// S2-equivalent: happy path over a did:web resolver double.
func TestCreateVerify_HappyPath_DidWeb(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	did := "did:web:acme.test"
	kid := did + "#key-1"
	signer, err := jwk.NewSigningKey(kid, priv)
	require.NoError(t, err)

	doc := &diddoc.Document{
		ID: did,
		VerificationMethod: []diddoc.VerificationMethod{
			{
				ID:         kid,
				Type:       "Ed25519VerificationKey2020",
				Controller: did,
				PublicKeyJwk: map[string]any{
					"kty": "OKP",
					"crv": "Ed25519",
					"x":   encodeX(pub),
				},
			},
		},
	}

	mux := diddoc.NewMultiplexer()
	mux.Register("web", stubResolver{result: diddoc.Result{Document: doc}})

	payload := []byte("Hello from ACME Corp!")
	link, err := CreateLink(context.Background(), payload, "text/plain", signer)
	require.NoError(t, err)

	result, err := VerifyLink(context.Background(), link, WithResolver(mux))
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, payload, result.Payload)
}

// S3: signature tamper.
func TestVerify_SignatureTamper(t *testing.T) {
	signer := newFixtureSigner(t)
	link, err := CreateLink(context.Background(), []byte("Hello, World!"), "text/plain", signer)
	require.NoError(t, err)

	tampered := flipLastJWSChar(t, link)
	result, err := VerifyLink(context.Background(), tampered)
	require.Error(t, err)
	assert.False(t, result.Valid)
	assertErrorCode(t, err, "E_SIGNATURE_VERIFICATION_FAILED")
}

// S4: payload tamper.
func TestVerify_PayloadTamper(t *testing.T) {
	signer := newFixtureSigner(t)
	link, err := CreateLink(context.Background(), []byte("Hello, World!"), "text/plain", signer)
	require.NoError(t, err)

	idx := strings.LastIndex(link, ".")
	require.Greater(t, idx, -1)
	tampered := link[:idx+1] + "VGFtcGVyZWQgcGF5bG9hZA"

	result, err := VerifyLink(context.Background(), tampered)
	require.Error(t, err)
	assert.False(t, result.Valid)
	assertErrorCode(t, err, "E_PAYLOAD_INTEGRITY_FAILED")
}

// S5: expired link.
func TestVerify_ExpiredLink(t *testing.T) {
	signer := newFixtureSigner(t)
	link, err := CreateLink(context.Background(), []byte("hi"), "text/plain", signer, WithExpiresIn(-time.Hour))
	require.NoError(t, err)

	result, err := VerifyLink(context.Background(), link)
	require.Error(t, err)
	assert.False(t, result.Valid)
	assertErrorCode(t, err, "E_TIME_BOUNDS_VIOLATED")
}

// S6: trailing-data attack.
func TestVerify_TrailingData(t *testing.T) {
	signer := newFixtureSigner(t)
	link, err := CreateLink(context.Background(), []byte("hi"), "text/plain", signer)
	require.NoError(t, err)

	result, err := VerifyLink(context.Background(), link+".extradata")
	require.Error(t, err)
	assert.False(t, result.Valid)
	assertErrorCode(t, err, "E_INVALID_STRUCTURE")
}

func TestCreateVerify_Compression_Brotli(t *testing.T) {
	signer := newFixtureSigner(t)
	payload := []byte(strings.Repeat("deep link payload ", 128))

	link, err := CreateLink(context.Background(), payload, "text/plain", signer, WithCompression(compress.Brotli))
	require.NoError(t, err)

	result, err := VerifyLink(context.Background(), link)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, payload, result.Payload)
}

func TestVerify_AlgorithmNotAllowed(t *testing.T) {
	signer := newFixtureSigner(t)
	link, err := CreateLink(context.Background(), []byte("hi"), "text/plain", signer)
	require.NoError(t, err)

	result, err := VerifyLink(context.Background(), link, WithAllowedAlgorithms([]string{"none"}))
	require.Error(t, err)
	assert.False(t, result.Valid)
	assertErrorCode(t, err, "E_SIGNATURE_VERIFICATION_FAILED")
}

func TestVerify_UnknownDidMethod(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	kid := "did:example:1234#key-1"
	signer, err := jwk.NewSigningKey(kid, priv)
	require.NoError(t, err)
	_ = pub

	link, err := CreateLink(context.Background(), []byte("hi"), "text/plain", signer)
	require.NoError(t, err)

	result, err := VerifyLink(context.Background(), link)
	require.Error(t, err)
	assert.False(t, result.Valid)
	assertErrorCode(t, err, "E_DID_RESOLUTION_FAILED")
}

// A did:web document using the legacy Ed25519VerificationKey2018
// publicKeyBase58 shape (rather than publicKeyJwk) must still resolve
// to a usable key.
func TestCreateVerify_HappyPath_PublicKeyBase58(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	did := "did:web:legacy.test"
	kid := did + "#key-1"
	signer, err := jwk.NewSigningKey(kid, priv)
	require.NoError(t, err)

	doc := &diddoc.Document{
		ID: did,
		VerificationMethod: []diddoc.VerificationMethod{
			{
				ID:              kid,
				Type:            "Ed25519VerificationKey2018",
				Controller:      did,
				PublicKeyBase58: base58.Encode(pub),
			},
		},
	}

	mux := diddoc.NewMultiplexer()
	mux.Register("web", stubResolver{result: diddoc.Result{Document: doc}})

	payload := []byte("Hello from a legacy verification method!")
	link, err := CreateLink(context.Background(), payload, "text/plain", signer)
	require.NoError(t, err)

	result, err := VerifyLink(context.Background(), link, WithResolver(mux))
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, payload, result.Payload)
}

// A second presentation of a link whose metadata carries a jti must be
// rejected once a ReplayCache has recorded the first, successful one.
func TestVerify_ReplayDetection_EndToEnd(t *testing.T) {
	signer := newFixtureSigner(t)
	link := buildLinkWithJti(t, signer, []byte("one-time payload"), "jti-12345")

	cache := newMemReplayCache()

	first, err := VerifyLink(context.Background(), link, WithReplayCache(cache))
	require.NoError(t, err)
	assert.True(t, first.Valid)
	assert.Equal(t, "jti-12345", first.Jti)

	second, err := VerifyLink(context.Background(), link, WithReplayCache(cache))
	require.Error(t, err)
	assert.False(t, second.Valid)
	assertErrorCode(t, err, "E_REPLAY_DETECTED")
}

// buildLinkWithJti signs core metadata carrying an extension "jti"
// field, which CreateLink's closed CoreMetadata struct has no option
// for -- verify_link reads jti out of the forward-compatible untyped
// decode, so a conformant producer can add it without a schema change.
func buildLinkWithJti(t *testing.T, signer jwk.SigningKey, payload []byte, jti string) string {
	t.Helper()
	priv, err := signer.PrivateKey()
	require.NoError(t, err)

	sum := sha256.Sum256(payload)
	metadata := map[string]any{
		"v":    ProtocolVersion,
		"sid":  signer.Sid(),
		"type": "text/plain",
		"comp": "none",
		"chk":  hex.EncodeToString(sum[:]),
		"jti":  jti,
	}
	header := ProtectedHeader{Alg: jws.Algorithm, Kid: signer.Kid}

	flattened, err := jws.Sign(header, metadata, priv)
	require.NoError(t, err)
	jwsPart, err := jws.Marshal(*flattened)
	require.NoError(t, err)

	return DefaultScheme + "://" + jwsPart + "." + b64url.Encode(payload)
}

type memReplayCache struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newMemReplayCache() *memReplayCache {
	return &memReplayCache{seen: make(map[string]struct{})}
}

func (c *memReplayCache) SeenBefore(ctx context.Context, jti string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.seen[jti]
	return ok, nil
}

func (c *memReplayCache) Record(ctx context.Context, jti string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[jti] = struct{}{}
	return nil
}

func TestVerify_MaxPayloadSizeExceeded(t *testing.T) {
	signer := newFixtureSigner(t)
	payload := make([]byte, 1024)
	link, err := CreateLink(context.Background(), payload, "application/octet-stream", signer)
	require.NoError(t, err)

	result, err := VerifyLink(context.Background(), link, WithMaxPayloadSize(100))
	require.Error(t, err)
	assert.False(t, result.Valid)
}

// An empty payload would put an empty payload part on the wire, which
// the link shape forbids; create must refuse it up front.
func TestCreate_RejectsEmptyPayload(t *testing.T) {
	signer := newFixtureSigner(t)
	_, err := CreateLink(context.Background(), nil, "text/plain", signer)
	assert.Error(t, err)
}

func TestVerify_LinkLengthCap(t *testing.T) {
	signer := newFixtureSigner(t)
	link, err := CreateLink(context.Background(), []byte("hi"), "text/plain", signer)
	require.NoError(t, err)

	result, err := VerifyLink(context.Background(), link, WithMaxLinkLength(32))
	require.Error(t, err)
	assert.False(t, result.Valid)
	assertErrorCode(t, err, "E_INVALID_STRUCTURE")
}

// Caller-contract violations (empty allow-list, non-positive or
// over-ceiling caps) must come back as InvalidStructure, never a panic
// or a bare error.
func TestVerify_OptionContractViolations(t *testing.T) {
	signer := newFixtureSigner(t)
	link, err := CreateLink(context.Background(), []byte("hi"), "text/plain", signer)
	require.NoError(t, err)

	cases := []struct {
		name string
		opt  VerifyOption
	}{
		{"empty allow-list", WithAllowedAlgorithms(nil)},
		{"zero max payload size", WithMaxPayloadSize(0)},
		{"negative max payload size", WithMaxPayloadSize(-1)},
		{"over-ceiling max payload size", WithMaxPayloadSize(200 << 20)},
		{"zero max link length", WithMaxLinkLength(0)},
		{"over-ceiling max link length", WithMaxLinkLength(200 << 20)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := VerifyLink(context.Background(), link, tc.opt)
			require.Error(t, err)
			assert.False(t, result.Valid)
			assertErrorCode(t, err, "E_INVALID_STRUCTURE")
		})
	}
}

// A protected header whose kid does not match the DID-URL shape is
// rejected before any resolution or crypto runs.
func TestVerify_MalformedKidInHeader(t *testing.T) {
	signer := newFixtureSigner(t)
	priv, err := signer.PrivateKey()
	require.NoError(t, err)

	payload := []byte("hi")
	sum := sha256.Sum256(payload)
	metadata := CoreMetadata{
		V:    ProtocolVersion,
		Sid:  signer.Sid(),
		Type: "text/plain",
		Comp: "none",
		Chk:  hex.EncodeToString(sum[:]),
	}
	header := ProtectedHeader{Alg: jws.Algorithm, Kid: signer.Sid()} // no #fragment

	flattened, err := jws.Sign(header, metadata, priv)
	require.NoError(t, err)
	jwsPart, err := jws.Marshal(*flattened)
	require.NoError(t, err)
	link := DefaultScheme + "://" + jwsPart + "." + b64url.Encode(payload)

	result, err := VerifyLink(context.Background(), link)
	require.Error(t, err)
	assert.False(t, result.Valid)
	assertErrorCode(t, err, "E_INVALID_STRUCTURE")
}

// nbf in the future must fail time bounds with context.notBefore set.
func TestVerify_NotYetValid(t *testing.T) {
	signer := newFixtureSigner(t)
	priv, err := signer.PrivateKey()
	require.NoError(t, err)

	payload := []byte("hi")
	sum := sha256.Sum256(payload)
	metadata := map[string]any{
		"v":    ProtocolVersion,
		"sid":  signer.Sid(),
		"type": "text/plain",
		"comp": "none",
		"chk":  hex.EncodeToString(sum[:]),
		"nbf":  time.Now().Add(time.Hour).Unix(),
	}
	header := ProtectedHeader{Alg: jws.Algorithm, Kid: signer.Kid}

	flattened, err := jws.Sign(header, metadata, priv)
	require.NoError(t, err)
	jwsPart, err := jws.Marshal(*flattened)
	require.NoError(t, err)
	link := DefaultScheme + "://" + jwsPart + "." + b64url.Encode(payload)

	result, err := VerifyLink(context.Background(), link)
	require.Error(t, err)
	assert.False(t, result.Valid)
	assertErrorCode(t, err, "E_TIME_BOUNDS_VIOLATED")

	var sdlpErr *sdlperr.Error
	require.ErrorAs(t, err, &sdlpErr)
	assert.Contains(t, sdlpErr.Context(), "notBefore")
}

type stubResolver struct {
	result diddoc.Result
	err    error
}

func (s stubResolver) Resolve(ctx context.Context, did string) (diddoc.Result, error) {
	return s.result, s.err
}

func encodeX(pub ed25519.PublicKey) string {
	return b64url.Encode(pub)
}

func flipLastJWSChar(t *testing.T, link string) string {
	t.Helper()
	idx := strings.Index(link, ".")
	require.Greater(t, idx, -1)
	jwsPart := link[len("sdlp://"):idx]

	flattened, err := jws.Unmarshal(jwsPart)
	require.NoError(t, err)
	flattened.Signature = flipBase64URLChar(flattened.Signature)

	reencoded, err := jws.Marshal(flattened)
	require.NoError(t, err)

	return "sdlp://" + reencoded + link[idx:]
}

func flipBase64URLChar(s string) string {
	alphabet := "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
	last := s[len(s)-1]
	for _, c := range alphabet {
		if byte(c) != last {
			return s[:len(s)-1] + string(c)
		}
	}
	return s
}

func assertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	assert.Contains(t, err.Error(), code, fmt.Sprintf("expected error code %s in %q", code, err.Error()))
}
