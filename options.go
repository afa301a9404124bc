package liveblocks

import "time"

const (
	minThrottle = 80 * time.Millisecond
	maxThrottle = 1000 * time.Millisecond
	defaultThrottle = 100 * time.Millisecond

	defaultLiveblocksServer = "wss://liveblocks.internal/v7"
	defaultAuthorizeEndpoint = "https://liveblocks.internal/api/v1/authorize"
)

// heartbeatInterval and heartbeatTimeout are vars, not consts, solely
// so tests can shrink them instead of waiting out the real 30s/60s.
var (
	heartbeatInterval = 30 * time.Second
	heartbeatTimeout  = 60 * time.Second
)

// AuthEndpoint is either a URL string POSTed with { room } (spec.md
// §6.1 "authEndpoint (string)") or a callback invoked with the room
// name that returns a token directly (§6.1 "authEndpoint (callback)").
type AuthEndpoint struct {
	URL      string
	Callback func(room string) (token string, err error)
}

func (a *AuthEndpoint) isSet() bool {
	return a != nil && (a.URL != "" || a.Callback != nil)
}

// ClientOptions configures a Client (spec.md §6.1). Exactly one of
// PublicApiKey or AuthEndpoint must be set.
type ClientOptions struct {
	PublicApiKey string
	AuthEndpoint *AuthEndpoint

	// Throttle is the outbound coalescer delay; zero means
	// defaultThrottle. Must fall in [80ms, 1000ms] if set.
	Throttle time.Duration

	LiveblocksServer        string
	PublicAuthorizeEndpoint string

	// WebSocketFactory and HTTPClient are the injectable polyfills of
	// spec.md §6.1 ("required in non-browser hosts" — here every host
	// is non-browser, so a default backed by gorilla/websocket and
	// net/http is always supplied, but callers may override for tests
	// or alternate transports).
	WebSocketFactory WebSocketFactory
	HTTPClient       HTTPClient

	// Environment overrides the default online/visibility signal
	// source (design note §9: "tests inject deterministic sources").
	Environment Environment

	// Logger receives LogEvents in place of the library calling a
	// logging package directly.
	Logger func(LogEvent)
}

func (o *ClientOptions) validate() error {
	hasKey := o.PublicApiKey != ""
	hasEndpoint := o.AuthEndpoint.isSet()
	if hasKey == hasEndpoint {
		return &ConfigurationError{Message: "exactly one of publicApiKey or authEndpoint must be provided — see https://liveblocks.io/docs/api-reference/liveblocks-client#createClient"}
	}
	if o.Throttle != 0 && (o.Throttle < minThrottle || o.Throttle > maxThrottle) {
		return &ConfigurationError{Message: "throttle should be a number between 80 and 1000"}
	}
	return nil
}

func (o *ClientOptions) throttle() time.Duration {
	if o.Throttle == 0 {
		return defaultThrottle
	}
	return o.Throttle
}

func (o *ClientOptions) server() string {
	if o.LiveblocksServer != "" {
		return o.LiveblocksServer
	}
	return defaultLiveblocksServer
}

func (o *ClientOptions) authorizeEndpoint() string {
	if o.PublicAuthorizeEndpoint != "" {
		return o.PublicAuthorizeEndpoint
	}
	return defaultAuthorizeEndpoint
}

// RoomOptions configures a single Client.Enter call.
type RoomOptions struct {
	// WithoutConnecting mounts the room without initiating networking
	// (spec.md §4.6, "let server-side rendering mount without
	// networking").
	WithoutConnecting bool
}
