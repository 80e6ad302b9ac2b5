package sdlp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/sdlp-org/sdlp-sub000/pkg/b64url"
	"github.com/sdlp-org/sdlp-sub000/pkg/compress"
	"github.com/sdlp-org/sdlp-sub000/pkg/jwk"
	"github.com/sdlp-org/sdlp-sub000/pkg/jws"
	"github.com/sdlp-org/sdlp-sub000/pkg/sdlperr"
)

// CreateLink serialises payload under payloadType, signs it with
// signer, and returns the complete "<scheme>://<jws>.<payload>" link
// string. It performs the ten-step algorithm: checksum, compress,
// encode, build metadata and header, sign, encode the JWS, concatenate.
func CreateLink(ctx context.Context, payload []byte, payloadType string, signer jwk.SigningKey, opts ...CreateOption) (string, error) {
	cfg := newCreateConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if err := signer.Validate(); err != nil {
		return "", sdlperr.New(sdlperr.InvalidStructure, "invalid signer").WithCause(err)
	}
	priv, err := signer.PrivateKey()
	if err != nil {
		return "", sdlperr.New(sdlperr.InvalidStructure, "invalid signer").WithCause(err)
	}

	sum := sha256.Sum256(payload)
	chk := hex.EncodeToString(sum[:])

	codec, err := compress.New(cfg.compression)
	if err != nil {
		return "", sdlperr.New(sdlperr.InvalidStructure, "unsupported compression algorithm").
			WithContext("comp", string(cfg.compression)).WithCause(err)
	}
	compressed, err := codec.Compress(payload)
	if err != nil {
		return "", sdlperr.New(sdlperr.InvalidStructure, "compression failed").WithCause(err)
	}
	payloadPart := b64url.Encode(compressed)
	if payloadPart == "" {
		return "", sdlperr.New(sdlperr.InvalidStructure, "payload must not be empty")
	}

	sid := signer.Sid()

	metadata := CoreMetadata{
		V:    ProtocolVersion,
		Sid:  sid,
		Type: payloadType,
		Comp: string(cfg.compression),
		Chk:  chk,
	}
	if metadata.Comp == "" {
		metadata.Comp = string(compress.None)
	}
	if cfg.expiresIn != nil {
		exp := cfg.now().Add(*cfg.expiresIn).Unix()
		metadata.Exp = &exp
	}

	header := ProtectedHeader{Alg: jws.Algorithm, Kid: signer.Kid}

	flattened, err := jws.Sign(header, metadata, priv)
	if err != nil {
		return "", sdlperr.New(sdlperr.SignatureVerificationFailed, "signing failed").WithCause(err)
	}

	jwsPart, err := jws.Marshal(*flattened)
	if err != nil {
		return "", sdlperr.New(sdlperr.InvalidStructure, "encoding JWS failed").WithCause(err)
	}

	link := cfg.scheme + "://" + jwsPart + "." + payloadPart

	cfg.logger.DebugContext(ctx, "sdlp: link created",
		"sid", sid,
		"comp", metadata.Comp,
		"hasExpiry", metadata.Exp != nil,
		"linkLength", len(link),
	)

	return link, nil
}
