// Package auth verifies the access tokens presented on the websocket
// handshake. Tokens are issued elsewhere; this package only checks them.
package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrAuthRejected is returned for missing, malformed, expired or forged
// tokens.
var ErrAuthRejected = errors.New("auth rejected")

// Verifier resolves a raw token to a user id.
type Verifier interface {
	Verify(token string) (string, error)
}

// subject accepts the user id claim as a JSON string or number; user ids
// are integer primary keys in the user store.
type subject string

func (s *subject) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = subject(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = subject(n.String())
	return nil
}

// Claims is the payload of an access token.
type Claims struct {
	UserID subject `json:"userId"`
	Email  string  `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier checks HS256 signed access tokens.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTVerifier creates a verifier for tokens signed with secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Verify returns the user id carried by token.
func (v *JWTVerifier) Verify(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: token required", ErrAuthRejected)
	}

	claims := &Claims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthRejected, err)
	}
	if !parsed.Valid {
		return "", fmt.Errorf("%w: invalid token", ErrAuthRejected)
	}
	if claims.UserID == "" {
		return "", fmt.Errorf("%w: token carries no userId", ErrAuthRejected)
	}
	return string(claims.UserID), nil
}

// TokenFromRequest extracts the bearer token from the Authorization header,
// falling back to the token query parameter that browsers use because they
// cannot set headers on websocket requests.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
