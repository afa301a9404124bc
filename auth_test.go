package liveblocks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/golang-jwt/jwt/v5"
)

type fakeHTTPClient struct {
	status int
	body   any
	err    error
	gotURL string
	gotBody any
}

func (f *fakeHTTPClient) PostJSON(ctx context.Context, url string, body any) (int, []byte, error) {
	f.gotURL = url
	f.gotBody = body
	if f.err != nil {
		return 0, nil, f.err
	}
	raw, _ := json.Marshal(f.body)
	return f.status, raw, nil
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := sessionClaims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)}}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte("irrelevant-in-a-client-with-no-signing-key"))
	assert.Equal(t, err, nil)
	return signed
}

func TestAuthenticateCallbackPath(t *testing.T) {
	called := ""
	opts := &ClientOptions{
		AuthEndpoint: &AuthEndpoint{Callback: func(room string) (string, error) {
			called = room
			return signedToken(t, time.Now().Add(time.Hour)), nil
		}},
	}
	token, exp, err := authenticate(context.Background(), opts, "room-a")
	assert.Equal(t, err, nil)
	assert.Equal(t, called, "room-a")
	assert.NotEqual(t, token, "")
	assert.Equal(t, exp.After(time.Now()), true)
}

func TestAuthenticateCallbackErrorIsTransient(t *testing.T) {
	opts := &ClientOptions{
		AuthEndpoint: &AuthEndpoint{Callback: func(room string) (string, error) {
			return "", assertErr("network down")
		}},
	}
	_, _, err := authenticate(context.Background(), opts, "room-a")
	authErr, ok := err.(*AuthenticationError)
	assert.Equal(t, ok, true)
	assert.Equal(t, authErr.Permanent, false)
}

func TestAuthenticatePublicApiKeyUsesDefaultEndpoint(t *testing.T) {
	fake := &fakeHTTPClient{status: 200, body: authResponse{Token: signedToken(t, time.Now().Add(time.Hour))}}
	opts := &ClientOptions{PublicApiKey: "pk_test", HTTPClient: fake}
	_, _, err := authenticate(context.Background(), opts, "room-b")
	assert.Equal(t, err, nil)
	assert.Equal(t, fake.gotURL, defaultAuthorizeEndpoint)
}

func TestAuthenticateURLEndpointOverridesDefault(t *testing.T) {
	fake := &fakeHTTPClient{status: 200, body: authResponse{Token: signedToken(t, time.Now().Add(time.Hour))}}
	opts := &ClientOptions{AuthEndpoint: &AuthEndpoint{URL: "https://example.test/auth"}, HTTPClient: fake}
	_, _, err := authenticate(context.Background(), opts, "room-c")
	assert.Equal(t, err, nil)
	assert.Equal(t, fake.gotURL, "https://example.test/auth")
}

func TestAuthenticate401IsPermanent(t *testing.T) {
	fake := &fakeHTTPClient{status: 401, body: map[string]string{}}
	opts := &ClientOptions{PublicApiKey: "pk_test", HTTPClient: fake}
	_, _, err := authenticate(context.Background(), opts, "room-d")
	authErr, ok := err.(*AuthenticationError)
	assert.Equal(t, ok, true)
	assert.Equal(t, authErr.Permanent, true)
}

func TestAuthenticate500IsTransient(t *testing.T) {
	fake := &fakeHTTPClient{status: 502, body: map[string]string{}}
	opts := &ClientOptions{PublicApiKey: "pk_test", HTTPClient: fake}
	_, _, err := authenticate(context.Background(), opts, "room-e")
	authErr, ok := err.(*AuthenticationError)
	assert.Equal(t, ok, true)
	assert.Equal(t, authErr.Permanent, false)
}

func TestAuthenticateMalformedResponseIsPermanent(t *testing.T) {
	fake := &fakeHTTPClient{status: 200, body: 12345} // marshals to a bare number, not {"token": ...}
	opts := &ClientOptions{PublicApiKey: "pk_test", HTTPClient: fake}
	_, _, err := authenticate(context.Background(), opts, "room-f")
	authErr, ok := err.(*AuthenticationError)
	assert.Equal(t, ok, true)
	assert.Equal(t, authErr.Permanent, true)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
