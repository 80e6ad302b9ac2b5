// Package diddoc models W3C-style DID Documents and the resolver
// contract SDLP's verify pipeline uses to turn a sender DID into a
// verifiable public key. It ships a Multiplexer that dispatches to
// method-specific resolvers (did:key, did:web) by inspecting the DID's
// method segment, and a JSON-Schema gate that any document fetched over
// the network must pass before any of its fields are trusted.
package diddoc

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// VerificationMethod is one signing key entry in a DID Document.
type VerificationMethod struct {
	ID                 string         `json:"id"`
	Type               string         `json:"type"`
	Controller         string         `json:"controller"`
	PublicKeyJwk       map[string]any `json:"publicKeyJwk,omitempty"`
	PublicKeyBase58    string         `json:"publicKeyBase58,omitempty"`
	PublicKeyMultibase string         `json:"publicKeyMultibase,omitempty"`
}

// Document is a W3C DID Document, trimmed to the fields SDLP reads.
// Unrecognised fields decode harmlessly and are never inspected.
type Document struct {
	Context             any                   `json:"@context,omitempty"`
	ID                  string                `json:"id"`
	Controller          any                   `json:"controller,omitempty"`
	VerificationMethod  []VerificationMethod  `json:"verificationMethod,omitempty"`
}

// ResolutionMetadata mirrors the Universal Resolver's
// didResolutionMetadata object: transport-level facts about the
// resolution attempt itself, independent of the document's content.
type ResolutionMetadata struct {
	// AttemptID correlates a single resolution attempt across logs. The
	// Multiplexer sets it on the failure results it builds itself
	// (malformed DID, unregistered method); the did:key and did:web
	// resolvers leave it empty.
	AttemptID   string `json:"attemptId"`
	ContentType string `json:"contentType,omitempty"`
	Error       string `json:"error,omitempty"`
}

// DocumentMetadata mirrors didDocumentMetadata; SDLP does not populate
// it beyond the zero value today, but callers may extend a Result.
type DocumentMetadata struct {
	Deactivated bool `json:"deactivated,omitempty"`
}

// Result is what a Resolver returns: a document on success, or a nil
// document with ResolutionMetadata.Error set on failure.
type Result struct {
	Document            *Document
	ResolutionMetadata   ResolutionMetadata
	DocumentMetadata     DocumentMetadata
}

// Resolver resolves a single DID to a Result. Implementations must not
// retry internally; verify_link treats a failed Resolve as terminal for
// that verification attempt.
type Resolver interface {
	Resolve(ctx context.Context, did string) (Result, error)
}

// newAttemptResult seeds a Result's ResolutionMetadata with a fresh
// correlation ID, the way the teacher stamps a PackID/ResultID on every
// constructed record.
func newAttemptResult() Result {
	return Result{ResolutionMetadata: ResolutionMetadata{AttemptID: uuid.NewString()}}
}

// FindVerificationMethod locates the verification method in doc whose
// ID equals kid (the full DID URL requested by the JWS header). It
// returns an error if doc is nil or no method matches.
func FindVerificationMethod(doc *Document, kid string) (*VerificationMethod, error) {
	if doc == nil {
		return nil, fmt.Errorf("diddoc: nil document")
	}
	for i := range doc.VerificationMethod {
		if doc.VerificationMethod[i].ID == kid {
			return &doc.VerificationMethod[i], nil
		}
	}
	return nil, fmt.Errorf("diddoc: no verification method %q in document %q", kid, doc.ID)
}

// Multiplexer dispatches Resolve calls to a registered Resolver by the
// DID's method segment ("did:<method>:..."). Construct one with
// NewMultiplexer, which starts with no registered methods; the zero
// value's registry is nil and Register cannot write to it.
// DefaultVerifyOptions registers did:key and did:web on its own.
type Multiplexer struct {
	resolvers map[string]Resolver
}

// NewMultiplexer builds an empty Multiplexer. Callers register methods
// with Register.
func NewMultiplexer() *Multiplexer {
	return &Multiplexer{resolvers: make(map[string]Resolver)}
}

// Register associates method (e.g. "key", "web") with a Resolver.
func (m *Multiplexer) Register(method string, r Resolver) {
	m.resolvers[method] = r
}

// Resolve extracts the method segment from did and dispatches to the
// registered Resolver, or returns a failure Result if the method is
// unregistered.
func (m *Multiplexer) Resolve(ctx context.Context, did string) (Result, error) {
	method, err := methodOf(did)
	if err != nil {
		res := newAttemptResult()
		res.ResolutionMetadata.Error = err.Error()
		return res, err
	}

	r, ok := m.resolvers[method]
	if !ok {
		res := newAttemptResult()
		res.ResolutionMetadata.Error = fmt.Sprintf("unsupported DID method %q", method)
		return res, fmt.Errorf("diddoc: unsupported DID method %q", method)
	}
	return r.Resolve(ctx, did)
}

// methodOf extracts the method segment from a DID of shape
// "did:<method>:<method-specific-id>".
func methodOf(did string) (string, error) {
	parts := strings.SplitN(did, ":", 3)
	if len(parts) < 3 || parts[0] != "did" || parts[1] == "" {
		return "", fmt.Errorf("diddoc: %q is not a well-formed DID", did)
	}
	return parts[1], nil
}
