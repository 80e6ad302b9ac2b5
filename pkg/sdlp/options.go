package sdlp

import (
	"log/slog"
	"time"

	"github.com/sdlp-org/sdlp-sub000/pkg/compress"
	"github.com/sdlp-org/sdlp-sub000/pkg/diddoc"
	"github.com/sdlp-org/sdlp-sub000/pkg/diddoc/didkey"
	"github.com/sdlp-org/sdlp-sub000/pkg/diddoc/didweb"
	"github.com/sdlp-org/sdlp-sub000/pkg/replaycache"
	"github.com/sdlp-org/sdlp-sub000/pkg/sdlperr"
)

// Hard ceilings the caller-configured caps may never exceed, whatever
// options are supplied.
const (
	maxPayloadSizeCeiling = 100 << 20
	maxLinkLengthCeiling  = 100 << 20
)

// createConfig collects CreateLink's optional parameters. The zero
// value is never used directly -- newCreateConfig seeds the documented
// defaults (none compression, sdlp scheme, no expiry).
type createConfig struct {
	compression compress.Algorithm
	scheme      string
	expiresIn   *time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

func newCreateConfig() *createConfig {
	return &createConfig{
		compression: compress.None,
		scheme:      DefaultScheme,
		logger:      slog.Default(),
		now:         time.Now,
	}
}

// CreateOption configures a single CreateLink call.
type CreateOption func(*createConfig)

// WithCompression selects the payload compression algorithm. Default
// is compress.None.
func WithCompression(alg compress.Algorithm) CreateOption {
	return func(c *createConfig) { c.compression = alg }
}

// WithCreateScheme overrides the URI scheme the produced link carries.
// Default is DefaultScheme ("sdlp").
func WithCreateScheme(scheme string) CreateOption {
	return func(c *createConfig) { c.scheme = scheme }
}

// WithExpiresIn sets the metadata's "exp" claim to now + d. Omit to
// produce a link with no expiration.
func WithExpiresIn(d time.Duration) CreateOption {
	return func(c *createConfig) { c.expiresIn = &d }
}

// WithCreateLogger overrides the *slog.Logger CreateLink emits
// structured events to. Default is slog.Default().
func WithCreateLogger(logger *slog.Logger) CreateOption {
	return func(c *createConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// VerifyOptions collects verify_link's tunables. Always construct via
// DefaultVerifyOptions(); the zero value has an empty algorithm
// allow-list and zero size caps, which VerifyLink rejects as
// InvalidStructure, and a nil Resolver, which fails as
// DidResolutionFailed.
type VerifyOptions struct {
	// Resolver resolves sender DIDs to documents. Defaults to a
	// Multiplexer registering did:key and did:web.
	Resolver diddoc.Resolver

	// AllowedAlgorithms gates the JWS "alg" header. Must be non-empty.
	// Default {"EdDSA"}.
	AllowedAlgorithms []string

	// MaxPayloadSize bounds the decompressed payload size. Must be
	// positive and at most 100 MiB. Default 10 MiB.
	MaxPayloadSize int

	// MaxLinkLength bounds the whole link string before any parsing.
	// Must be positive and at most 100 MiB. Default 64 KiB.
	MaxLinkLength int

	// ClockSkew is added as slack on both sides of the exp/nbf window.
	// Default 0, per the protocol's stated default (§9 design note):
	// policy belongs to the caller, never hardcoded wider.
	ClockSkew time.Duration

	// ReplayCache, when non-nil, is consulted for a "jti" claim before
	// the integrity check. The core never constructs one implicitly.
	ReplayCache replaycache.Cache

	// Scheme is the URI scheme verify_link requires the link to use.
	// Default DefaultScheme ("sdlp").
	Scheme string

	// Logger receives one debug event per VerifyLink call: on failure it
	// names the failing state and error code, on success the sender.
	// Default slog.Default().
	Logger *slog.Logger

	// now, when set, replaces time.Now for CHECK_TIME -- test-only
	// hook, never part of the public option surface.
	now func() time.Time
}

// DefaultVerifyOptions returns the options verify_link uses absent any
// VerifyOption overrides: EdDSA only, 10 MiB payload cap, 64 KiB link
// cap, zero clock skew, no replay cache, and a resolver multiplexer
// over did:key and did:web.
func DefaultVerifyOptions() VerifyOptions {
	mux := diddoc.NewMultiplexer()
	mux.Register("key", didkey.Resolver{})
	mux.Register("web", didweb.Resolver{})

	return VerifyOptions{
		Resolver:          mux,
		AllowedAlgorithms: []string{"EdDSA"},
		MaxPayloadSize:    10 << 20,
		MaxLinkLength:     64 << 10,
		ClockSkew:         0,
		Scheme:            DefaultScheme,
		Logger:            slog.Default(),
		now:               time.Now,
	}
}

// validate enforces the caller contract on the assembled options:
// a non-empty algorithm allow-list and positive, ceiling-bounded size
// caps. Violations are reported as InvalidStructure.
func (o VerifyOptions) validate() *sdlperr.Error {
	if len(o.AllowedAlgorithms) == 0 {
		return sdlperr.New(sdlperr.InvalidStructure, "allowed algorithms list must be non-empty")
	}
	if o.MaxPayloadSize <= 0 || o.MaxPayloadSize > maxPayloadSizeCeiling {
		return sdlperr.New(sdlperr.InvalidStructure, "max payload size must be positive and at most 100 MiB").
			WithContext("maxPayloadSize", o.MaxPayloadSize)
	}
	if o.MaxLinkLength <= 0 || o.MaxLinkLength > maxLinkLengthCeiling {
		return sdlperr.New(sdlperr.InvalidStructure, "max link length must be positive and at most 100 MiB").
			WithContext("maxLinkLength", o.MaxLinkLength)
	}
	return nil
}

// VerifyOption configures a single VerifyLink call.
type VerifyOption func(*VerifyOptions)

// WithResolver overrides the DID resolver.
func WithResolver(r diddoc.Resolver) VerifyOption {
	return func(o *VerifyOptions) { o.Resolver = r }
}

// WithAllowedAlgorithms overrides the "alg" allow-list.
func WithAllowedAlgorithms(algs []string) VerifyOption {
	return func(o *VerifyOptions) { o.AllowedAlgorithms = algs }
}

// WithMaxPayloadSize overrides the decompressed payload size cap.
func WithMaxPayloadSize(n int) VerifyOption {
	return func(o *VerifyOptions) { o.MaxPayloadSize = n }
}

// WithMaxLinkLength overrides the whole-link length cap.
func WithMaxLinkLength(n int) VerifyOption {
	return func(o *VerifyOptions) { o.MaxLinkLength = n }
}

// WithClockSkew adds slack to the exp/nbf checks.
func WithClockSkew(d time.Duration) VerifyOption {
	return func(o *VerifyOptions) { o.ClockSkew = d }
}

// WithReplayCache opts in to replay detection via the given cache.
func WithReplayCache(c replaycache.Cache) VerifyOption {
	return func(o *VerifyOptions) { o.ReplayCache = c }
}

// WithVerifyScheme overrides the required URI scheme.
func WithVerifyScheme(scheme string) VerifyOption {
	return func(o *VerifyOptions) { o.Scheme = scheme }
}

// WithVerifyLogger overrides the structured logger.
func WithVerifyLogger(logger *slog.Logger) VerifyOption {
	return func(o *VerifyOptions) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// withNow is a test-only hook letting vector/property tests freeze
// "now" instead of racing wall-clock time in exp/nbf fixtures.
func withNow(now func() time.Time) VerifyOption {
	return func(o *VerifyOptions) { o.now = now }
}

// withCreateNow is withNow's CreateLink-side counterpart, used by the
// same fixture-generation tests to produce deterministic "exp" values.
func withCreateNow(now func() time.Time) CreateOption {
	return func(c *createConfig) { c.now = now }
}
