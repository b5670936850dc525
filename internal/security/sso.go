package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSSOSecret is returned when the SSO shared secret is empty.
var ErrNoSSOSecret = errors.New("sso: shared secret is required")

// SSOClaims is the claim set the external platform's JWT login accepts. The JSON names are
// fixed by the verifier; the embedded registered claims only ever carry iat and exp.
type SSOClaims struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	jwt.RegisteredClaims
}

// SSOSigner issues and verifies HS256 SSO tokens with a shared secret.
type SSOSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSSOSigner returns a signer for secret. ttl must be positive.
func NewSSOSigner(secret string, ttl time.Duration) (*SSOSigner, error) {
	if secret == "" {
		return nil, ErrNoSSOSecret
	}
	if ttl <= 0 {
		return nil, errors.New("sso: ttl must be positive")
	}
	return &SSOSigner{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// TTL returns the token lifetime.
func (s *SSOSigner) TTL() time.Duration { return s.ttl }

// Issue signs a token for the given identity fields.
func (s *SSOSigner) Issue(username, email, firstName, lastName string) (token string, expiresAt time.Time, err error) {
	now := s.now().UTC().Truncate(time.Second)
	expiresAt = now.Add(s.ttl)
	claims := SSOClaims{
		Username:  username,
		Email:     email,
		FirstName: firstName,
		LastName:  lastName,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	return token, expiresAt, err
}

// Verify checks signature and expiry and returns the claims. Only HS256 is accepted.
func (s *SSOSigner) Verify(tokenString string) (*SSOClaims, error) {
	claims := &SSOClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
