package sdlp

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mr-tron/base58"

	"github.com/sdlp-org/sdlp-sub000/pkg/b64url"
	"github.com/sdlp-org/sdlp-sub000/pkg/compress"
	"github.com/sdlp-org/sdlp-sub000/pkg/diddoc"
	"github.com/sdlp-org/sdlp-sub000/pkg/jwk"
	"github.com/sdlp-org/sdlp-sub000/pkg/jws"
	"github.com/sdlp-org/sdlp-sub000/pkg/sdlperr"
)

// VerifyLink runs the normative verify_link state machine: PARSE,
// DECODE_JWS, CHECK_ALG, CHECK_TIME, CHECK_BINDING, RESOLVE_DID,
// SELECT_KEY, DECODE_PAYLOAD, DECOMPRESS, SIZE_GATE, INTEGRITY,
// SIGNATURE. The check order is normative: integrity is verified
// before the cryptographic signature so payload tampering is reported
// as PayloadIntegrityFailed rather than SignatureVerificationFailed.
//
// The returned error is non-nil exactly when the result is not Valid,
// and is the same value as result.Err -- callers may branch on either.
func VerifyLink(ctx context.Context, link string, opts ...VerifyOption) (*VerificationResult, error) {
	o := DefaultVerifyOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.now == nil {
		o.now = time.Now
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Caller-contract violations surface as InvalidStructure so the
	// user-visible result shape stays uniform.
	if err := o.validate(); err != nil {
		return fail(ctx, logger, "OPTIONS", err)
	}

	// PARSE
	if len(link) > o.MaxLinkLength {
		return fail(ctx, logger, "PARSE", sdlperr.New(sdlperr.InvalidStructure, "link exceeds maximum length").
			WithContext("length", len(link)).WithContext("max", o.MaxLinkLength))
	}
	jwsPart, payloadPart, err := parseLink(link, o.Scheme)
	if err != nil {
		return fail(ctx, logger, "PARSE", sdlperr.New(sdlperr.InvalidStructure, err.Error()))
	}

	// DECODE_JWS
	flattened, err := jws.Unmarshal(jwsPart)
	if err != nil {
		return fail(ctx, logger, "DECODE_JWS", sdlperr.New(sdlperr.InvalidStructure, err.Error()))
	}

	var header ProtectedHeader
	if err := jws.DecodeHeader(flattened, &header); err != nil {
		return fail(ctx, logger, "DECODE_JWS", sdlperr.New(sdlperr.InvalidStructure, err.Error()))
	}

	if !jwk.ValidKid(header.Kid) {
		return fail(ctx, logger, "DECODE_JWS", sdlperr.New(sdlperr.InvalidStructure, "kid is not a valid DID URL").
			WithContext("kid", header.Kid))
	}

	var metadata CoreMetadata
	if err := jws.DecodePayload(flattened, &metadata); err != nil {
		return fail(ctx, logger, "DECODE_JWS", sdlperr.New(sdlperr.InvalidStructure, err.Error()))
	}

	// A second, untyped decode preserves forward-compatible extension
	// fields (e.g. a host-defined "jti" claim) that CoreMetadata's
	// closed schema does not declare and therefore would otherwise
	// drop on the typed decode above.
	var rawMetadata map[string]any
	_ = jws.DecodePayload(flattened, &rawMetadata)

	if metadata.V != ProtocolVersion {
		return fail(ctx, logger, "DECODE_JWS", sdlperr.New(sdlperr.InvalidStructure, "unsupported protocol version").
			WithContext("version", metadata.V))
	}

	// CHECK_ALG
	if !contains(o.AllowedAlgorithms, header.Alg) {
		return fail(ctx, logger, "CHECK_ALG", sdlperr.New(sdlperr.SignatureVerificationFailed, "algorithm not in allow-list").
			WithContext("alg", header.Alg))
	}

	// CHECK_TIME
	now := o.now()
	if metadata.Exp != nil {
		if now.Unix() > *metadata.Exp+int64(o.ClockSkew.Seconds()) {
			return fail(ctx, logger, "CHECK_TIME", sdlperr.New(sdlperr.TimeBoundsViolated, "link has expired").
				WithContext("expiration", *metadata.Exp).WithContext("now", now.Unix()))
		}
	}
	if metadata.Nbf != nil {
		if now.Unix() < *metadata.Nbf-int64(o.ClockSkew.Seconds()) {
			return fail(ctx, logger, "CHECK_TIME", sdlperr.New(sdlperr.TimeBoundsViolated, "link is not yet valid").
				WithContext("notBefore", *metadata.Nbf).WithContext("now", now.Unix()))
		}
	}

	// CHECK_BINDING
	kidBase := baseOf(header.Kid)
	if kidBase != metadata.Sid {
		return fail(ctx, logger, "CHECK_BINDING", sdlperr.New(sdlperr.DidMismatch, "kid base does not match sid").
			WithContext("kidBase", kidBase).WithContext("sid", metadata.Sid))
	}

	// RESOLVE_DID
	if o.Resolver == nil {
		return fail(ctx, logger, "RESOLVE_DID", sdlperr.New(sdlperr.DidResolutionFailed, "no resolver configured"))
	}
	resolution, err := o.Resolver.Resolve(ctx, metadata.Sid)
	if err != nil || resolution.Document == nil {
		sdlpErr := sdlperr.New(sdlperr.DidResolutionFailed, "DID resolution failed").
			WithContext("sid", metadata.Sid)
		if err != nil {
			sdlpErr = sdlpErr.WithCause(err)
		} else if resolution.ResolutionMetadata.Error != "" {
			sdlpErr = sdlpErr.WithContext("reason", resolution.ResolutionMetadata.Error)
		}
		return fail(ctx, logger, "RESOLVE_DID", sdlpErr)
	}

	// SELECT_KEY
	vm, err := diddoc.FindVerificationMethod(resolution.Document, header.Kid)
	if err != nil {
		return fail(ctx, logger, "SELECT_KEY", sdlperr.New(sdlperr.KeyNotFound, err.Error()).
			WithContext("kid", header.Kid))
	}
	pub, err := publicKeyFromVerificationMethod(vm)
	if err != nil {
		return fail(ctx, logger, "SELECT_KEY", sdlperr.New(sdlperr.KeyNotFound, err.Error()).
			WithContext("kid", header.Kid))
	}

	// REPLAY (optional, before integrity per §4.9)
	jti := jtiOf(rawMetadata)
	if o.ReplayCache != nil && jti != "" {
		seen, err := o.ReplayCache.SeenBefore(ctx, jti)
		if err != nil {
			return fail(ctx, logger, "REPLAY", sdlperr.New(sdlperr.ReplayDetected, "replay cache check failed").WithCause(err))
		}
		if seen {
			return fail(ctx, logger, "REPLAY", sdlperr.New(sdlperr.ReplayDetected, "message replay detected").
				WithContext("jti", jti))
		}
	}

	// DECODE_PAYLOAD
	compressedPayload, err := b64url.Decode(payloadPart)
	if err != nil {
		return fail(ctx, logger, "DECODE_PAYLOAD", sdlperr.New(sdlperr.InvalidStructure, err.Error()))
	}

	// DECOMPRESS
	codec, err := compress.New(compress.Algorithm(metadata.Comp))
	if err != nil {
		return fail(ctx, logger, "DECOMPRESS", sdlperr.New(sdlperr.PayloadDecompressionFailed, err.Error()).
			WithContext("comp", metadata.Comp))
	}
	payload, err := codec.Decompress(compressedPayload, o.MaxPayloadSize)
	if err != nil {
		return fail(ctx, logger, "DECOMPRESS", sdlperr.New(sdlperr.PayloadDecompressionFailed, err.Error()).
			WithContext("comp", metadata.Comp))
	}

	// SIZE_GATE
	if o.MaxPayloadSize > 0 && len(payload) > o.MaxPayloadSize {
		return fail(ctx, logger, "SIZE_GATE", sdlperr.New(sdlperr.InvalidStructure, "decompressed payload exceeds max size").
			WithContext("size", len(payload)).WithContext("max", o.MaxPayloadSize))
	}

	// INTEGRITY
	sum := sha256.Sum256(payload)
	gotChk := hex.EncodeToString(sum[:])
	if gotChk != metadata.Chk {
		return fail(ctx, logger, "INTEGRITY", sdlperr.New(sdlperr.PayloadIntegrityFailed, "checksum mismatch").
			WithContext("expected", metadata.Chk).WithContext("actual", gotChk))
	}

	// SIGNATURE
	if err := jws.Verify(flattened, pub); err != nil {
		return fail(ctx, logger, "SIGNATURE", sdlperr.New(sdlperr.SignatureVerificationFailed, err.Error()))
	}

	// Record happens only once a presentation has fully verified, so an
	// attacker can't poison the cache against a jti by replaying a
	// link that never actually checks out.
	if o.ReplayCache != nil && jti != "" {
		ttl := defaultReplayTTL
		if metadata.Exp != nil {
			if remaining := time.Unix(*metadata.Exp, 0).Sub(now); remaining > 0 {
				ttl = remaining
			}
		}
		if err := o.ReplayCache.Record(ctx, jti, ttl); err != nil {
			return fail(ctx, logger, "REPLAY", sdlperr.New(sdlperr.ReplayDetected, "replay cache record failed").WithCause(err))
		}
	}

	logger.DebugContext(ctx, "sdlp: verification succeeded", "sid", metadata.Sid)

	return &VerificationResult{
		Valid:    true,
		Sender:   metadata.Sid,
		Payload:  payload,
		Metadata: &metadata,
		Document: resolution.Document,
		Jti:      jti,
	}, nil
}

// defaultReplayTTL bounds how long a jti is remembered when its link
// carries no "exp" claim to derive a tighter retention window from.
const defaultReplayTTL = 24 * time.Hour

func fail(ctx context.Context, logger *slog.Logger, state string, err *sdlperr.Error) (*VerificationResult, error) {
	logger.DebugContext(ctx, "sdlp: verification failed", "state", state, "code", err.Code())
	return &VerificationResult{Valid: false, Err: err}, err
}

// parseLink splits a link into its JWS and payload parts, enforcing
// the exactly-two-parts, non-empty, payload-alphabet shape rules.
func parseLink(link, scheme string) (jwsPart, payloadPart string, err error) {
	prefix := scheme + "://"
	if !strings.HasPrefix(link, prefix) {
		return "", "", fmt.Errorf("sdlp: link does not start with %q", prefix)
	}
	rest := strings.TrimPrefix(link, prefix)

	parts := strings.Split(rest, ".")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("sdlp: link must have exactly two '.'-separated parts, got %d", len(parts))
	}
	jwsPart, payloadPart = parts[0], parts[1]
	if jwsPart == "" || payloadPart == "" {
		return "", "", fmt.Errorf("sdlp: link parts must be non-empty")
	}
	for i := 0; i < len(payloadPart); i++ {
		c := payloadPart[i]
		if !(c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_' || c == '-') {
			return "", "", fmt.Errorf("sdlp: payload part contains a non-Base64URL character")
		}
	}
	return jwsPart, payloadPart, nil
}

func baseOf(kid string) string {
	if i := strings.IndexByte(kid, '#'); i >= 0 {
		return kid[:i]
	}
	return kid
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// jtiOf reads an optional "jti" claim out of the core metadata's
// forward-compatible unknown-field space. CoreMetadata does not
// declare a Jti field because the normative §3 schema does not define
// one; hosts that mint jti claims do so as an additional metadata key.
func jtiOf(rawMetadata map[string]any) string {
	jti, _ := rawMetadata["jti"].(string)
	return jti
}

func publicKeyFromVerificationMethod(vm *diddoc.VerificationMethod) ([]byte, error) {
	if vm.PublicKeyJwk != nil {
		crv, _ := vm.PublicKeyJwk["crv"].(string)
		if crv != "Ed25519" {
			return nil, fmt.Errorf("sdlp: unsupported JWK crv %q", crv)
		}
		x, _ := vm.PublicKeyJwk["x"].(string)
		return b64url.Decode(x)
	}
	if vm.PublicKeyBase58 != "" {
		pub, err := base58.Decode(vm.PublicKeyBase58)
		if err != nil {
			return nil, fmt.Errorf("sdlp: invalid publicKeyBase58 encoding: %w", err)
		}
		if len(pub) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("sdlp: publicKeyBase58 must decode to %d bytes, got %d", ed25519.PublicKeySize, len(pub))
		}
		return pub, nil
	}
	return nil, fmt.Errorf("sdlp: verification method carries no usable public key material")
}
