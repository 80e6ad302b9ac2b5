// Package didweb resolves did:web identifiers over HTTPS under a
// hardened policy: no redirects, a 10-second deadline, and a hard
// refusal to resolve the reserved "example" TLD used throughout test
// fixtures and documentation.
package didweb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sdlp-org/sdlp-sub000/pkg/diddoc"
)

const (
	methodPrefix  = "did:web:"
	fetchTimeout  = 10 * time.Second
	reservedTLD   = "example"
)

// Resolver implements diddoc.Resolver for the did:web method.
type Resolver struct {
	// Client, when nil, defaults to a client configured per this
	// package's hardened policy (no redirects, 10s timeout).
	Client *http.Client
}

func (r Resolver) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return &http.Client{
		Timeout: fetchTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Resolve transforms did into its well-known document URL, fetches it
// over HTTPS with zero redirects and a 10-second deadline, schema-gates
// the result, and checks that the document's own "id" matches did.
func (r Resolver) Resolve(ctx context.Context, did string) (diddoc.Result, error) {
	url, err := documentURL(did)
	if err != nil {
		return fail(err)
	}
	if domain := strings.Split(strings.TrimPrefix(did, methodPrefix), ":")[0]; isExampleTLD(domain) {
		return fail(fmt.Errorf("didweb: domain %q uses the reserved 'example' TLD and is never resolvable", domain))
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fail(fmt.Errorf("didweb: building request failed: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client().Do(req)
	if err != nil {
		return fail(fmt.Errorf("didweb: fetch failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		return fail(fmt.Errorf("didweb: redirect refused (status %d)", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return fail(fmt.Errorf("didweb: unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(fmt.Errorf("didweb: reading response failed: %w", err))
	}

	if err := diddoc.ValidateFetchedDocument(body); err != nil {
		return fail(fmt.Errorf("didweb: %w", err))
	}

	var doc diddoc.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return fail(fmt.Errorf("didweb: document did not decode: %w", err))
	}
	if doc.ID != did {
		return fail(fmt.Errorf("didweb: document id %q does not match requested DID %q", doc.ID, did))
	}

	return diddoc.Result{
		Document:           &doc,
		ResolutionMetadata: diddoc.ResolutionMetadata{ContentType: "application/did+json"},
	}, nil
}

func fail(err error) (diddoc.Result, error) {
	return diddoc.Result{ResolutionMetadata: diddoc.ResolutionMetadata{Error: err.Error()}}, err
}

// documentURL converts "did:web:<domain>[:path...]" into
// "https://<domain>/[path/.../]did.json".
func documentURL(did string) (string, error) {
	if !strings.HasPrefix(did, methodPrefix) {
		return "", fmt.Errorf("didweb: %q is not a did:web identifier", did)
	}
	rest := strings.TrimPrefix(did, methodPrefix)
	if rest == "" {
		return "", fmt.Errorf("didweb: %q has an empty method-specific id", did)
	}

	segments := strings.Split(rest, ":")
	domain := segments[0]

	if len(segments) == 1 {
		return fmt.Sprintf("https://%s/.well-known/did.json", domain), nil
	}
	path := strings.Join(segments[1:], "/")
	return fmt.Sprintf("https://%s/%s/did.json", domain, path), nil
}

func isExampleTLD(domain string) bool {
	labels := strings.Split(domain, ".")
	return labels[len(labels)-1] == reservedTLD
}
