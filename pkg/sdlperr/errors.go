// Package sdlperr defines the closed error taxonomy for the Secure Deep
// Link Protocol. The protocol entry points (sdlp.CreateLink and
// sdlp.VerifyLink) return either a *Error or a nil error; the leaf
// packages they call return plain errors, which these two wrap.
package sdlperr

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind is one of the nine discriminated failure variants the protocol
// recognises. The set is closed: callers may safely switch over it
// without a default case becoming a correctness hazard.
type Kind string

const (
	InvalidStructure             Kind = "InvalidStructure"
	SignatureVerificationFailed  Kind = "SignatureVerificationFailed"
	KeyNotFound                  Kind = "KeyNotFound"
	DidResolutionFailed          Kind = "DidResolutionFailed"
	DidMismatch                  Kind = "DidMismatch"
	PayloadDecompressionFailed   Kind = "PayloadDecompressionFailed"
	PayloadIntegrityFailed       Kind = "PayloadIntegrityFailed"
	TimeBoundsViolated           Kind = "TimeBoundsViolated"
	ReplayDetected               Kind = "ReplayDetected"
)

// codes maps each Kind to its stable, wire-stable machine code.
var codes = map[Kind]string{
	InvalidStructure:            "E_INVALID_STRUCTURE",
	SignatureVerificationFailed: "E_SIGNATURE_VERIFICATION_FAILED",
	KeyNotFound:                 "E_KEY_NOT_FOUND",
	DidResolutionFailed:         "E_DID_RESOLUTION_FAILED",
	DidMismatch:                 "E_DID_MISMATCH",
	PayloadDecompressionFailed:  "E_PAYLOAD_DECOMPRESSION_FAILED",
	PayloadIntegrityFailed:      "E_PAYLOAD_INTEGRITY_FAILED",
	TimeBoundsViolated:          "E_TIME_BOUNDS_VIOLATED",
	ReplayDetected:              "E_REPLAY_DETECTED",
}

// Code returns the stable machine code for a Kind, or "" if the Kind is
// not a member of the closed taxonomy.
func (k Kind) Code() string {
	return codes[k]
}

// Error is the error type CreateLink and VerifyLink return. Its builder
// methods (WithContext, WithCause) modify the receiver in place and
// return it.
type Error struct {
	id      string
	kind    Kind
	message string
	at      time.Time
	context map[string]any
	cause   error
}

// New starts building an Error of the given Kind with a human message.
func New(kind Kind, message string) *Error {
	return &Error{
		id:      uuid.NewString(),
		kind:    kind,
		message: message,
		at:      time.Now().UTC(),
	}
}

// WithContext attaches a best-effort debug value. context is never used
// for control flow — only Kind and Code are load-bearing.
func (e *Error) WithContext(key string, value any) *Error {
	if e.context == nil {
		e.context = make(map[string]any, 4)
	}
	e.context[key] = value
	return e
}

// WithCause records the underlying collaborator error (resolver
// transport, decompressor) that triggered this Error. The cause is
// available via Unwrap but its text is never required to classify the
// failure — Kind and Code are.
func (e *Error) WithCause(cause error) *Error {
	e.cause = cause
	return e
}

// ID is a per-occurrence correlation identifier, useful for tying a log
// line to the value returned from a public API.
func (e *Error) ID() string { return e.id }

// Kind returns the discriminated failure variant.
func (e *Error) Kind() Kind { return e.kind }

// Code returns the stable machine code for this error's Kind.
func (e *Error) Code() string { return e.kind.Code() }

// At returns when this Error was constructed.
func (e *Error) At() time.Time { return e.at }

// Context returns the best-effort debug context map. Never contains
// private key material.
func (e *Error) Context() map[string]any {
	if e.context == nil {
		return nil
	}
	cp := make(map[string]any, len(e.context))
	for k, v := range e.context {
		cp[k] = v
	}
	return cp
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code(), e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code(), e.message)
}

// Unwrap exposes the wrapped collaborator error, if any, to errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// Is reports whether err is an *Error of the given Kind. It is the
// idiomatic replacement for a closed-union switch when only one Kind
// needs checking.
func Is(err error, kind Kind) bool {
	var sdlpErr *Error
	if !errors.As(err, &sdlpErr) {
		return false
	}
	return sdlpErr.kind == kind
}
