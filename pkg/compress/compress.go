// Package compress implements the pluggable payload compression
// abstraction named by the "comp" field of an SDLP link's signed core
// metadata. Every codec is symmetric (Compress undoes Decompress) and
// every Decompress implementation is bounded: it refuses to expand
// compressed input past a caller-supplied ceiling, closing off
// decompression-bomb links.
package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

// Algorithm is the wire identifier carried in the "comp" metadata field.
type Algorithm string

const (
	None   Algorithm = "none"
	Brotli Algorithm = "br"
)

// Codec compresses and decompresses a single algorithm's payload
// representation.
type Codec interface {
	// Algorithm returns this codec's wire identifier.
	Algorithm() Algorithm

	// Compress returns data transformed under this codec.
	Compress(data []byte) ([]byte, error)

	// Decompress reverses Compress. maxOutputBytes bounds the size of
	// the returned buffer; once exceeded, Decompress aborts and
	// returns an error rather than continuing to inflate.
	Decompress(data []byte, maxOutputBytes int) ([]byte, error)
}

// ErrOutputTooLarge is wrapped into the error returned by Decompress
// when decompression would exceed the caller's ceiling.
var ErrOutputTooLarge = fmt.Errorf("compress: decompressed output exceeds size limit")

// noneCodec is the identity codec used when a link's payload is carried
// uncompressed.
type noneCodec struct{}

func (noneCodec) Algorithm() Algorithm { return None }

func (noneCodec) Compress(data []byte) ([]byte, error) {
	return data, nil
}

func (noneCodec) Decompress(data []byte, maxOutputBytes int) ([]byte, error) {
	if maxOutputBytes >= 0 && len(data) > maxOutputBytes {
		return nil, fmt.Errorf("%w: %d bytes > limit %d", ErrOutputTooLarge, len(data), maxOutputBytes)
	}
	return data, nil
}

// brotliCodec wraps andybalholm/brotli, the only real compression
// backend SDLP ships.
type brotliCodec struct {
	level int
}

func (brotliCodec) Algorithm() Algorithm { return Brotli }

func (c brotliCodec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, c.level)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compress: brotli write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress: brotli close failed: %w", err)
	}
	return buf.Bytes(), nil
}

func (brotliCodec) Decompress(data []byte, maxOutputBytes int) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(data))

	if maxOutputBytes < 0 {
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("compress: brotli read failed: %w", err)
		}
		return out, nil
	}

	limited := io.LimitReader(r, int64(maxOutputBytes)+1)
	out, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("compress: brotli read failed: %w", err)
	}
	if len(out) > maxOutputBytes {
		return nil, fmt.Errorf("%w: exceeded %d bytes", ErrOutputTooLarge, maxOutputBytes)
	}
	return out, nil
}

// New resolves the codec registered for alg, or an error if alg is
// unrecognised; the empty string is read as None. Callers turn the
// error into a typed failure (CreateLink: InvalidStructure; VerifyLink:
// PayloadDecompressionFailed), never a panic.
func New(alg Algorithm) (Codec, error) {
	switch alg {
	case None, "":
		return noneCodec{}, nil
	case Brotli:
		return brotliCodec{level: brotli.BestCompression}, nil
	default:
		return nil, fmt.Errorf("compress: unsupported algorithm %q", alg)
	}
}
