package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// sessionClaims mirrors the shape the client decodes (see auth.go at
// the module root's sessionClaims) — the two are structurally
// identical but kept as separate types since the client must never
// import the relay package (the core library has no server-side
// knowledge, spec.md §1).
type sessionClaims struct {
	jwt.RegisteredClaims
	Room string `json:"room"`
}

type authRequest struct {
	Room string `json:"room"`
}

type authResponse struct {
	Token string `json:"token"`
}

// Authenticator mints session tokens for rooms (spec.md §6.2's "Auth
// exchange" from the server side). A real deployment would check the
// requester's publicApiKey/cookie/etc. before minting; this reference
// relay trusts any POST, since access-control policy is explicitly a
// client-core non-goal (spec.md §1) and this relay exists only to
// exercise the protocol end to end.
type Authenticator struct {
	signingKey []byte
	ttl        time.Duration
}

// NewAuthenticator builds an Authenticator signing HS256 tokens with
// signingKey, valid for ttl (defaulting to one hour).
func NewAuthenticator(signingKey []byte, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Authenticator{signingKey: signingKey, ttl: ttl}
}

func (a *Authenticator) mint(room string) (string, error) {
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(a.ttl))},
		Room:             room,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(a.signingKey)
}

// verify checks a token's signature and returns its room claim,
// used by http.go to authorize the subsequent /ws upgrade.
func (a *Authenticator) verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &sessionClaims{}, func(*jwt.Token) (any, error) {
		return a.signingKey, nil
	})
	if err != nil || !parsed.Valid {
		return "", err
	}
	claims := parsed.Claims.(*sessionClaims)
	return claims.Room, nil
}

// ServeHTTP handles POST /auth: {"room": "..."} -> {"token": "..."}.
func (a *Authenticator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Room == "" {
		http.Error(w, "room is required", http.StatusBadRequest)
		return
	}
	token, err := a.mint(req.Room)
	if err != nil {
		http.Error(w, "could not mint token", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(authResponse{Token: token})
}
