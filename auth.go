package liveblocks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type authRequest struct {
	Room string `json:"room"`
}

type authResponse struct {
	Token string `json:"token"`
}

// sessionClaims is the subset of the token's JWT claims this client
// cares about (SPEC_FULL.md "Session token expiry tracking"): nothing
// here is validated against a signing key — signature verification is
// the relay's and the server's job, not a client embedded in
// arbitrary host applications. Only `exp` is read, to know when to
// pre-emptively re-authenticate.
type sessionClaims struct {
	jwt.RegisteredClaims
	Room string `json:"room"`
}

// authenticate performs the §6.2 "Auth exchange": with a publicApiKey,
// `{room}` is POSTed to the public authorize endpoint (the key itself
// is not sent), an authEndpoint URL is POSTed `{room}`, and an
// authEndpoint callback is invoked directly. It returns the raw token
// plus its parsed expiry, or an *AuthenticationError: Permanent for
// 401/403, any other non-200 status and a malformed response body;
// not Permanent for 5xx, network errors and callback errors.
func authenticate(ctx context.Context, opts *ClientOptions, room string) (token string, expiresAt time.Time, err error) {
	if cb := opts.AuthEndpoint; cb != nil && cb.Callback != nil {
		token, err = cb.Callback(room)
		if err != nil {
			return "", time.Time{}, &AuthenticationError{Message: err.Error(), Permanent: false}
		}
		return finishAuth(token)
	}

	url := opts.authorizeEndpoint()
	body := authRequest{Room: room}
	if opts.AuthEndpoint != nil && opts.AuthEndpoint.URL != "" {
		url = opts.AuthEndpoint.URL
	}

	client := opts.HTTPClient
	if client == nil {
		client = defaultHTTPClient()
	}

	status, raw, err := client.PostJSON(ctx, url, body)
	if err != nil {
		return "", time.Time{}, &AuthenticationError{Message: err.Error(), Permanent: false}
	}
	switch {
	case status == 401 || status == 403:
		return "", time.Time{}, &AuthenticationError{Message: "authentication rejected by server", Permanent: true}
	case status >= 500:
		return "", time.Time{}, &AuthenticationError{Message: "authentication server error", Permanent: false}
	case status != 200:
		return "", time.Time{}, &AuthenticationError{Message: "unexpected authentication response", Permanent: true}
	}

	var parsed authResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", time.Time{}, &AuthenticationError{Message: "malformed authentication response: " + err.Error(), Permanent: true}
	}
	return finishAuth(parsed.Token)
}

func finishAuth(token string) (string, time.Time, error) {
	exp, err := decodeExpiry(token)
	if err != nil {
		// A token whose exp can't be parsed is still usable; the relay
		// is the actual authority. Treat missing expiry as "never
		// pre-emptively refresh".
		return token, time.Time{}, nil
	}
	return token, exp, nil
}

// decodeExpiry reads the `exp` claim without verifying the signature
// — this client has no signing key, only the relay and the auth
// server do.
func decodeExpiry(token string) (time.Time, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := &sessionClaims{}
	_, _, err := parser.ParseUnverified(token, claims)
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return claims.ExpiresAt.Time, nil
}
