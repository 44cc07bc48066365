package convex

import (
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// claims of a deployment auth token, read without signature verification.
// the backend verifies the token; the client only needs the subject and
// expiry for logging and refresh decisions.
type AuthClaims struct {
	Subject string
	Issuer  string
	Expiry  time.Time
}

func (self *AuthClaims) HasExpiry() bool {
	return !self.Expiry.IsZero()
}

func ParseAuthClaimsUnverified(token string) (*AuthClaims, error) {
	parser := gojwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}
	claims := parsed.Claims.(gojwt.MapClaims)

	authClaims := &AuthClaims{}
	if subject, err := claims.GetSubject(); err == nil {
		authClaims.Subject = subject
	}
	if issuer, err := claims.GetIssuer(); err == nil {
		authClaims.Issuer = issuer
	}
	if expiry, err := claims.GetExpirationTime(); err == nil && expiry != nil {
		authClaims.Expiry = expiry.Time
	}
	return authClaims, nil
}
