package didweb

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentURL_NoPath(t *testing.T) {
	url, err := documentURL("did:web:acme.example")
	require.NoError(t, err)
	assert.Equal(t, "https://acme.example/.well-known/did.json", url)
}

func TestDocumentURL_WithPath(t *testing.T) {
	url, err := documentURL("did:web:acme.test:users:alice")
	require.NoError(t, err)
	assert.Equal(t, "https://acme.test/users/alice/did.json", url)
}

func TestResolve_RefusesExampleTLD(t *testing.T) {
	_, err := Resolver{}.Resolve(context.Background(), "did:web:acme.example")
	assert.Error(t, err)
}

// testDID is the portless did:web identifier the TLS test servers answer
// for. A ':' after the domain starts a path segment in did:web, so the
// server's port cannot be part of the DID; serverClient routes the
// resulting https://127.0.0.1/... request to the server instead.
const testDID = "did:web:127.0.0.1"

// serverClient returns a client that trusts srv's certificate and dials
// srv's listener for every request, whatever host and port the URL names.
func serverClient(srv *httptest.Server) *http.Client {
	transport := srv.Client().Transport.(*http.Transport).Clone()
	addr := srv.Listener.Addr().String()
	transport.DialContext = func(ctx context.Context, network, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, network, addr)
	}
	return &http.Client{Transport: transport}
}

func TestResolve_FetchesAndValidatesDocument(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "did:web:` + req.Host + `",
			"verificationMethod": [
				{"id": "did:web:` + req.Host + `#key-1", "type": "Ed25519VerificationKey2020", "controller": "did:web:` + req.Host + `"}
			]
		}`))
	}))
	defer srv.Close()

	did := testDID

	r := Resolver{Client: serverClient(srv)}
	res, err := r.Resolve(context.Background(), did)
	require.NoError(t, err)
	require.NotNil(t, res.Document)
	assert.Equal(t, did, res.Document.ID)
	assert.Len(t, res.Document.VerificationMethod, 1)
}

func TestResolve_RejectsDocumentIDMismatch(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"id": "did:web:someone-else.test"}`))
	}))
	defer srv.Close()

	r := Resolver{Client: serverClient(srv)}
	_, err := r.Resolve(context.Background(), testDID)
	assert.Error(t, err)
}

func TestResolve_RefusesRedirect(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "https://attacker.test/did.json", http.StatusFound)
	}))
	defer srv.Close()

	client := serverClient(srv)
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	r := Resolver{Client: client}
	_, err := r.Resolve(context.Background(), testDID)
	assert.Error(t, err)
}

func TestResolve_RejectsMalformedDocument(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"verificationMethod": []}`))
	}))
	defer srv.Close()

	r := Resolver{Client: serverClient(srv)}
	_, err := r.Resolve(context.Background(), testDID)
	assert.Error(t, err)
}
